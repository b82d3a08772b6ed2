package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-shortlink-backend/internal/domain"
	"github.com/tbourn/go-shortlink-backend/internal/http/middleware"
	"github.com/tbourn/go-shortlink-backend/internal/ident"
	"github.com/tbourn/go-shortlink-backend/internal/repo"
	"github.com/tbourn/go-shortlink-backend/internal/services"
)

// ---------- test DB + real services ----------

func newLinkDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:link_handlers_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// One connection keeps the shared in-memory database alive and serializes
	// background ledger writes.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type linkEnv struct {
	store  *repo.Store
	svc    *services.LinkService
	ledger *services.Ledger
	h      *Handlers
	r      *gin.Engine
	now    time.Time
}

// newLinkEnv wires real services over SQLite and mounts the handlers the way
// the router does (API routes under /api/v1, redirect at the root).
func newLinkEnv(t *testing.T) *linkEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := repo.NewStore(newLinkDB(t))
	env := &linkEnv{store: st, now: time.Now().UTC()}

	env.ledger = services.NewLedger(st)
	env.svc = services.NewLinkService(st, ident.MustCodec(), env.ledger)
	env.svc.Now = func() time.Time { return env.now }
	env.h = New(env.svc, st, st, Options{BaseURL: "https://sho.rt/"})

	// Registered after the DB cleanup, so it runs first.
	t.Cleanup(func() { env.drain(t) })

	r := gin.New()
	r.Use(middleware.RequestID())
	api := r.Group("/api/v1")
	api.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	api.POST("/shorten", env.h.CreateLink)
	api.POST("/links", env.h.CreateLink)
	api.GET("/links/:id", env.h.GetLink)
	admin := api.Group("/admin")
	admin.GET("/links", env.h.ListLinks)
	admin.GET("/links/:id", env.h.GetLinkDetail)
	admin.POST("/links/:id/disable", env.h.DisableLink)
	admin.POST("/links/:id/restore", env.h.RestoreLink)
	r.GET("/livez", env.h.Livez)
	r.GET("/readyz", env.h.Readyz)
	r.GET("/:id", env.h.Redirect)
	env.r = r
	return env
}

// drain waits for fire-and-forget ledger writes.
func (e *linkEnv) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.ledger.Wait(ctx); err != nil {
		t.Fatalf("ledger wait: %v", err)
	}
}

func (e *linkEnv) do(t *testing.T, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

// create posts to /shorten and decodes the response, failing on an
// unexpected status.
func (e *linkEnv) create(t *testing.T, body map[string]any, want int) LinkResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/shorten", body, nil)
	if w.Code != want {
		t.Fatalf("create status=%d want=%d body=%s", w.Code, want, w.Body.String())
	}
	var resp LinkResponse
	decode(t, w, &resp)
	return resp
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("json: %v (body=%s)", err, w.Body.String())
	}
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var er ErrorResponse
	decode(t, w, &er)
	return er.Code
}

// ---------- flexible service stub for error mapping ----------

type stubLinkSvc struct {
	create      func(context.Context, services.CreateRequest) (*domain.ShortLink, bool, error)
	findByID    func(context.Context, string) (*domain.ShortLink, error)
	resolve     func(context.Context, string, services.RequestMeta) (*domain.ShortLink, error)
	adminList   func(context.Context, int, []byte) (services.AdminPage, error)
	adminDetail func(context.Context, string, int) (*services.LinkDetail, error)
	setEnabled  func(context.Context, string, bool) error
}

func (s stubLinkSvc) Create(ctx context.Context, req services.CreateRequest) (*domain.ShortLink, bool, error) {
	if s.create != nil {
		return s.create(ctx, req)
	}
	return &domain.ShortLink{ID: "stub", TargetURL: req.URL}, true, nil
}

func (s stubLinkSvc) FindByID(ctx context.Context, id string) (*domain.ShortLink, error) {
	if s.findByID != nil {
		return s.findByID(ctx, id)
	}
	return nil, services.ErrNotFound
}

func (s stubLinkSvc) Resolve(ctx context.Context, id string, m services.RequestMeta) (*domain.ShortLink, error) {
	if s.resolve != nil {
		return s.resolve(ctx, id, m)
	}
	return nil, services.ErrNotFound
}

func (s stubLinkSvc) AdminList(ctx context.Context, limit int, cursor []byte) (services.AdminPage, error) {
	if s.adminList != nil {
		return s.adminList(ctx, limit, cursor)
	}
	return services.AdminPage{}, nil
}

func (s stubLinkSvc) AdminDetail(ctx context.Context, id string, logs int) (*services.LinkDetail, error) {
	if s.adminDetail != nil {
		return s.adminDetail(ctx, id, logs)
	}
	return nil, services.ErrNotFound
}

func (s stubLinkSvc) SetEnabled(ctx context.Context, id string, enabled bool) error {
	if s.setEnabled != nil {
		return s.setEnabled(ctx, id, enabled)
	}
	return nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }
