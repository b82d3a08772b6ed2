// Admin HTTP handlers.
//
// Operator endpoints under /admin:
//   - GET  /admin/links               (recency-ordered list, cursor paginated)
//   - GET  /admin/links/{id}          (detail with ledger records)
//   - POST /admin/links/{id}/disable  (stop redirecting)
//   - POST /admin/links/{id}/restore  (resume redirecting)
//
// These routes are not authenticated; deploy them behind a trusted network
// boundary or a gateway that enforces access control.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-shortlink-backend/internal/domain"
	"github.com/tbourn/go-shortlink-backend/internal/services"
	"github.com/tbourn/go-shortlink-backend/internal/utils"
)

//
// DTOs
//

// AdminLinkItem is one row of the admin listing.
type AdminLinkItem struct {
	ID             string     `json:"id" example:"bDe4k"`
	OriginalURL    string     `json:"original_url" example:"https://example.com/some/long/path"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at"`
	Enabled        bool       `json:"enabled" example:"true"`
	DisabledAt     *time.Time `json:"disabled_at"`
	LastAccessAt   *time.Time `json:"last_access_at"`
	LastStatusCode *int       `json:"last_status_code" example:"302"`
}

// ListLinksResponse is a page of links plus the cursor for the next one.
type ListLinksResponse struct {
	Items []AdminLinkItem `json:"items"`
	// NextCursor is empty on the last page.
	NextCursor string `json:"next_cursor" example:"AQAYMz7p0iLgAGJEZTRr"`
}

// CreateMetaResponse describes the request that created a link.
type CreateMetaResponse struct {
	CreatedAt time.Time `json:"created_at"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	RequestID string    `json:"request_id"`
}

// CreateLogItem is one recorded create request for the id, won or lost.
type CreateLogItem struct {
	Timestamp time.Time `json:"ts"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	RequestID string    `json:"request_id"`
	TargetURL string    `json:"target_url" example:"https://example.com/some/long/path"`
}

// AccessLogItem is one recorded redirect.
type AccessLogItem struct {
	Timestamp  time.Time `json:"ts"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
	RequestID  string    `json:"request_id"`
	StatusCode int       `json:"status_code" example:"302"`
}

// LinkDetailResponse is the admin view of a single link.
type LinkDetailResponse struct {
	AdminLinkItem
	CreateMeta *CreateMetaResponse `json:"create_meta"`
	CreateLogs []CreateLogItem     `json:"create_logs"`
	AccessLogs []AccessLogItem     `json:"access_logs"`
}

func toAdminItem(al services.AdminLink) AdminLinkItem {
	item := AdminLinkItem{
		ID:          al.ID,
		OriginalURL: al.TargetURL,
		CreatedAt:   al.CreatedAt,
		ExpiresAt:   al.ExpiresAt,
		Enabled:     al.Enabled,
		DisabledAt:  al.DisabledAt,
	}
	if la := al.LastAccess; la != nil {
		at, code := la.LastAccessAt, la.LastStatusCode
		item.LastAccessAt = &at
		item.LastStatusCode = &code
	}
	return item
}

func toCreateLogs(in []domain.CreateAuditEntry) []CreateLogItem {
	out := make([]CreateLogItem, 0, len(in))
	for _, e := range in {
		out = append(out, CreateLogItem{
			Timestamp: e.Timestamp,
			IP:        e.IP,
			UserAgent: e.UserAgent,
			RequestID: e.RequestID,
			TargetURL: e.TargetURL,
		})
	}
	return out
}

func toAccessLogs(in []domain.AccessAuditEntry) []AccessLogItem {
	out := make([]AccessLogItem, 0, len(in))
	for _, e := range in {
		out = append(out, AccessLogItem{
			Timestamp:  e.Timestamp,
			IP:         e.IP,
			UserAgent:  e.UserAgent,
			RequestID:  e.RequestID,
			StatusCode: e.StatusCode,
		})
	}
	return out
}

//
// Helpers
//

// clampLimit parses the limit query param. Values outside [1,100] are left
// for the service to default or cap.
func clampLimit(c *gin.Context) int {
	const defaultLimit = 20
	return utils.AtoiDefault(c.Query("limit"), defaultLimit)
}

//
// Handlers
//

// ListLinks godoc
// @ID          listLinks
// @Summary     List links (newest first)
// @Description Returns a page of links ordered by creation time, newest first, with their state and last access.
// @Description Pass next_cursor back as cursor to fetch the following page.
// @Tags        Admin
// @Produce     json
// @Param       limit   query     int     false  "Page size (1..100)"  default(20)
// @Param       cursor  query     string  false  "Opaque cursor from a previous page"
// @Success     200  {object}  handlers.ListLinksResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid cursor"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/links [get]
func (h *Handlers) ListLinks(c *gin.Context) {
	cursor, err := utils.DecodeCursor(c.Query("cursor"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cursor: invalid cursor")
		return
	}
	page, err := h.links.AdminList(c.Request.Context(), clampLimit(c), cursor)
	if err != nil {
		failErr(c, err)
		return
	}
	resp := ListLinksResponse{
		Items:      make([]AdminLinkItem, 0, len(page.Items)),
		NextCursor: utils.EncodeCursor(page.NextCursor),
	}
	for _, al := range page.Items {
		resp.Items = append(resp.Items, toAdminItem(al))
	}
	ok(c, http.StatusOK, resp)
}

// GetLinkDetail godoc
// @ID          getLinkDetail
// @Summary     Link detail
// @Description Returns a link with its state, last access, creator metadata and recent create and access log entries.
// @Tags        Admin
// @Produce     json
// @Param       id    path      string  true   "Short id"
// @Param       logs  query     int     false  "Number of entries per log (1..500)"  default(50)
// @Success     200  {object}  handlers.LinkDetailResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/links/{id} [get]
func (h *Handlers) GetLinkDetail(c *gin.Context) {
	d, err := h.links.AdminDetail(c.Request.Context(), c.Param("id"), utils.AtoiDefault(c.Query("logs"), 0))
	if err != nil {
		failErr(c, err)
		return
	}
	resp := LinkDetailResponse{
		AdminLinkItem: toAdminItem(d.AdminLink),
		CreateLogs:    toCreateLogs(d.CreateLogs),
		AccessLogs:    toAccessLogs(d.AccessLogs),
	}
	if m := d.CreateMeta; m != nil {
		resp.CreateMeta = &CreateMetaResponse{
			CreatedAt: m.CreatedAt,
			IP:        m.IP,
			UserAgent: m.UserAgent,
			RequestID: m.RequestID,
		}
	}
	ok(c, http.StatusOK, resp)
}

// DisableLink godoc
// @ID          disableLink
// @Summary     Disable a link
// @Description Redirects for a disabled link answer 410 until it is restored.
// @Tags        Admin
// @Param       id   path  string  true  "Short id"
// @Success     204  "Disabled"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/links/{id}/disable [post]
func (h *Handlers) DisableLink(c *gin.Context) { h.setEnabled(c, false) }

// RestoreLink godoc
// @ID          restoreLink
// @Summary     Restore a disabled link
// @Tags        Admin
// @Param       id   path  string  true  "Short id"
// @Success     204  "Restored"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/links/{id}/restore [post]
func (h *Handlers) RestoreLink(c *gin.Context) { h.setEnabled(c, true) }

func (h *Handlers) setEnabled(c *gin.Context, enabled bool) {
	if err := h.links.SetEnabled(c.Request.Context(), c.Param("id"), enabled); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
