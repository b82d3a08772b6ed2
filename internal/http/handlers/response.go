// Package handlers implements the HTTP handlers: link creation and lookup,
// the /:id redirect, the operator endpoints under /admin and the probes.
//
// Every failure leaves through fail or failErr as an ErrorResponse with a
// stable code, so clients branch on "link_disabled" rather than on wording.
// Redirects are the exception on success: they carry no body at all.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-shortlink-backend/internal/http/middleware"
	"github.com/tbourn/go-shortlink-backend/internal/services"
)

// retryAfterSeconds is advertised when id allocation is exhausted.
const retryAfterSeconds = "1"

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`
}

// fail aborts with the envelope. 5xx responses are logged on the
// request-scoped logger; 4xx are the client's business and are not.
func fail(c *gin.Context, status int, code, msg string) {
	reqID := middleware.RequestIDFrom(c)
	resp := ErrorResponse{
		RequestID: reqID,
		Code:      code,
		Message:   msg,
	}

	// Log 5xx (server-side) with request-scoped logger
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is fail for callers outside the package (the router fallbacks).
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// failErr maps a service error onto the error envelope.
//
//   - *services.ParamError          → 400 bad_request
//   - services.ErrNotFound          → 404 not_found
//   - services.ErrDisabled          → 410 link_disabled
//   - services.ErrExpired           → 410 link_expired
//   - services.ErrAllocationExhausted → 503 allocation_exhausted + Retry-After
//   - anything else                 → 500 internal_error (logged)
func failErr(c *gin.Context, err error) {
	var pe *services.ParamError
	switch {
	case errors.As(err, &pe):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, pe.Error())
	case errors.Is(err, services.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "link not found")
	case errors.Is(err, services.ErrDisabled):
		fail(c, http.StatusGone, ErrCodeLinkDisabled, "link has been disabled")
	case errors.Is(err, services.ErrExpired):
		fail(c, http.StatusGone, ErrCodeLinkExpired, "link has expired")
	case errors.Is(err, services.ErrAllocationExhausted):
		c.Header("Retry-After", retryAfterSeconds)
		middleware.LoggerFrom(c).Warn().Err(err).Msg("id allocation exhausted")
		fail(c, http.StatusServiceUnavailable, ErrCodeAllocationExhausted, "could not allocate an id, retry later")
	default:
		middleware.LoggerFrom(c).Error().Err(err).Msg("request failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
