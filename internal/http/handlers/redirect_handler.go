package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Redirect godoc
// @ID          redirect
// @Summary     Follow a short link
// @Description Redirects to the target URL. Disabled and expired links answer 410.
// @Tags        Redirect
// @Param       id   path  string  true  "Short id"
// @Success     302  "Redirect to the target URL"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     410  {object}  handlers.ErrorResponse  "Disabled or expired"
// @Router      /{id} [get]
func (h *Handlers) Redirect(c *gin.Context) {
	l, err := h.links.Resolve(c.Request.Context(), c.Param("id"), requestMeta(c))
	if err != nil {
		failErr(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=0")
	c.Redirect(h.opts.RedirectStatus, l.TargetURL)
}

// Livez godoc
// @ID          livez
// @Summary     Liveness probe
// @Tags        Health
// @Produce     json
// @Success     200  {object}  map[string]string
// @Router      /livez [get]
func (h *Handlers) Livez(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}

// Readyz godoc
// @ID          readyz
// @Summary     Readiness probe
// @Description Succeeds when the store answers a ping.
// @Tags        Health
// @Produce     json
// @Success     200  {object}  map[string]string
// @Failure     503  {object}  handlers.ErrorResponse  "Store unreachable"
// @Router      /readyz [get]
func (h *Handlers) Readyz(c *gin.Context) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready.Ping(ctx); err != nil {
			fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "store unavailable")
			return
		}
	}
	ok(c, http.StatusOK, gin.H{"status": "ready"})
}
