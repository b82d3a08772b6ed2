package handlers

// Error codes carried in ErrorResponse.Code.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"
	ErrCodeUnavailable      = "service_unavailable"

	// Written by middleware, which cannot import this package; keep in sync.
	ErrCodeRateLimited       = "too_many_requests"
	ErrCodeBadIdempotencyKey = "bad_idempotency_key"

	// Link outcomes.
	ErrCodeLinkDisabled        = "link_disabled"
	ErrCodeLinkExpired         = "link_expired"
	ErrCodeAllocationExhausted = "allocation_exhausted"
)
