// Link HTTP handlers.
//
// This file exposes the public REST endpoints for short links:
//   - POST /shorten      (create; alias POST /links)
//   - GET  /links/{id}   (lookup)
//
// Handlers are transport-thin: they bind input, call the link service and map
// the result (or a service error) onto the response envelope.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-shortlink-backend/internal/domain"
	"github.com/tbourn/go-shortlink-backend/internal/http/middleware"
	"github.com/tbourn/go-shortlink-backend/internal/services"
	"github.com/tbourn/go-shortlink-backend/internal/store"
)

//
// Service contracts (context-aware)
//

// LinkService is the application surface consumed by the HTTP layer.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type LinkService interface {
	// Create stores a link; created is false when the id already existed.
	Create(ctx context.Context, req services.CreateRequest) (*domain.ShortLink, bool, error)
	// FindByID returns the link for a (raw) id or services.ErrNotFound.
	FindByID(ctx context.Context, rawID string) (*domain.ShortLink, error)
	// Resolve looks up a link for redirection and records the access.
	Resolve(ctx context.Context, rawID string, meta services.RequestMeta) (*domain.ShortLink, error)
	// AdminList returns a recency-ordered page enriched with state.
	AdminList(ctx context.Context, limit int, cursor []byte) (services.AdminPage, error)
	// AdminDetail returns one link with its ledger records.
	AdminDetail(ctx context.Context, rawID string, logs int) (*services.LinkDetail, error)
	// SetEnabled disables or restores a link.
	SetEnabled(ctx context.Context, rawID string, enabled bool) error
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

//
// Handler wiring
//

// Options carries transport-level settings.
type Options struct {
	// BaseURL prefixes short_url, e.g. "https://sho.rt".
	BaseURL string
	// RedirectStatus is the status used by GET /{id}; defaults to 302.
	RedirectStatus int
	// IdempotencyTTL bounds how long an Idempotency-Key replays its result.
	IdempotencyTTL time.Duration
}

// Handlers groups the HTTP endpoints. It depends on abstract services to keep
// transport concerns separate from the link protocols.
type Handlers struct {
	links LinkService
	idem  store.IdempotencyStore
	ready Pinger
	opts  Options
	now   func() time.Time
}

// New constructs a Handlers instance. idem and ready may be nil, which
// disables idempotent replays and makes /readyz always succeed.
func New(links LinkService, idem store.IdempotencyStore, ready Pinger, opts Options) *Handlers {
	if opts.RedirectStatus == 0 {
		opts.RedirectStatus = http.StatusFound
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Handlers{links: links, idem: idem, ready: ready, opts: opts, now: time.Now}
}

// requestMeta collects the caller details recorded in the ledger.
func requestMeta(c *gin.Context) services.RequestMeta {
	return services.RequestMeta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		RequestID: middleware.RequestIDFrom(c),
	}
}

//
// DTOs
//

// CreateLinkRequest is the JSON payload for creating a short link.
type CreateLinkRequest struct {
	// URL is the absolute http(s) target.
	URL string `json:"url" binding:"required" example:"https://example.com/some/long/path"`
	// CustomID optionally picks the short code; confusable characters are folded.
	CustomID string `json:"custom_id,omitempty" example:"launch-2025"`
	// ExpiresAt optionally stops redirects after the given instant (RFC 3339).
	ExpiresAt *time.Time `json:"expires_at,omitempty" example:"2030-01-01T00:00:00Z"`
}

// LinkResponse is the public representation of a short link.
type LinkResponse struct {
	ID        string     `json:"id" example:"bDe4k"`
	ShortURL  string     `json:"short_url" example:"https://sho.rt/bDe4k"`
	TargetURL string     `json:"target_url" example:"https://example.com/some/long/path"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (h *Handlers) toLinkResponse(l *domain.ShortLink) LinkResponse {
	return LinkResponse{
		ID:        l.ID,
		ShortURL:  h.opts.BaseURL + "/" + l.ID,
		TargetURL: l.TargetURL,
		CreatedAt: l.CreatedAt,
		ExpiresAt: l.ExpiresAt,
	}
}

//
// Handlers
//

// CreateLink godoc
// @ID          createLink
// @Summary     Shorten a URL
// @Description Creates a short link. With custom_id, a second create for the same id returns the stored link with 200 instead of 201.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Links
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.CreateLinkRequest  true  "Create link payload"
//
// @Success     201  {object}  handlers.LinkResponse   "Created"
// @Success     200  {object}  handlers.LinkResponse   "Id already existed (or idempotent replay)"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Failure     503  {object}  handlers.ErrorResponse  "Id allocation exhausted"
// @Router      /shorten [post]
func (h *Handlers) CreateLink(c *gin.Context) {
	ctx := c.Request.Context()

	// Idempotency (replay path): the key maps to a previously created link.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if rp, found := h.replay(c, idemKey); found {
		if prev, err := h.links.FindByID(ctx, rp.LinkID); err == nil {
			c.Header("Idempotency-Replayed", "true")
			ok(c, rp.Status, h.toLinkResponse(prev))
			return
		}
	}

	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	link, created, err := h.links.Create(ctx, services.CreateRequest{
		URL:       req.URL,
		CustomID:  req.CustomID,
		ExpiresAt: req.ExpiresAt,
		Meta:      requestMeta(c),
	})
	if err != nil {
		failErr(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" && h.idem != nil {
		now := h.now().UTC()
		if _, err := h.idem.SaveIdempotencyIfAbsent(ctx, domain.Idempotency{
			Key:       idemKey,
			LinkID:    link.ID,
			Status:    status,
			CreatedAt: now,
			ExpiresAt: now.Add(h.opts.IdempotencyTTL),
		}); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Str("link_id", link.ID).Msg("idempotency record not saved")
		}
	}

	ok(c, status, h.toLinkResponse(link))
}

// replay returns the earlier outcome for key: the record IdempotencyValidator
// found, or a direct lookup when the middleware is not installed.
func (h *Handlers) replay(c *gin.Context, key string) (*middleware.Replay, bool) {
	if rp, found := middleware.ReplayFrom(c); found {
		return rp, true
	}
	if key == "" || h.idem == nil {
		return nil, false
	}
	rec, err := h.idem.GetIdempotency(c.Request.Context(), key, h.now().UTC())
	if err != nil || rec == nil {
		return nil, false
	}
	return &middleware.Replay{LinkID: rec.LinkID, Status: rec.Status}, true
}

// GetLink godoc
// @ID          getLink
// @Summary     Get a short link
// @Description Returns the stored link. The id is normalized, so confusable spellings find the same link.
// @Tags        Links
// @Produce     json
// @Param       id   path      string  true  "Short id"
// @Success     200  {object}  handlers.LinkResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /links/{id} [get]
func (h *Handlers) GetLink(c *gin.Context) {
	l, err := h.links.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, h.toLinkResponse(l))
}
