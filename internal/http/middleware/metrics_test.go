package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func metricsRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics(MetricsOptions{SkipRoutes: []string{"/metrics", "/livez"}}))
	r.GET("/metrics", func(c *gin.Context) { c.String(http.StatusOK, "# metrics") })
	r.GET("/livez", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/links/:id", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"id": c.Param("id")}) })
	r.GET("/:id", func(c *gin.Context) {
		if c.Param("id") == "gone" {
			c.Status(http.StatusGone)
			return
		}
		c.Redirect(http.StatusFound, "https://example.com/")
	})
	return r
}

func hit(r http.Handler, method, path string) int {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w.Code
}

func TestMetrics_RedirectsShareOneSeries(t *testing.T) {
	r := metricsRouter()

	base302 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/:id", "302"))
	base410 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/:id", "410"))

	for _, id := range []string{"a1", "b2", "c3"} {
		if code := hit(r, http.MethodGet, "/"+id); code != http.StatusFound {
			t.Fatalf("GET /%s -> %d", id, code)
		}
	}
	if code := hit(r, http.MethodGet, "/gone"); code != http.StatusGone {
		t.Fatalf("GET /gone -> %d", code)
	}

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/:id", "302")); got != base302+3 {
		t.Fatalf("302 counter = %v; want %v", got, base302+3)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/:id", "410")); got != base410+1 {
		t.Fatalf("410 counter = %v; want %v", got, base410+1)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("inflight = %v; want 0", inFlight)
	}
}

func TestMetrics_UnmatchedAndSkipped(t *testing.T) {
	r := metricsRouter()

	baseUnmatched := testutil.ToFloat64(httpReqs.WithLabelValues("POST", UnmatchedRoute, "404"))
	baseMetrics := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/metrics", "200"))
	baseLivez := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/livez", "200"))
	baseLink := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/api/v1/links/:id", "200"))

	if code := hit(r, http.MethodPost, "/no/such/thing"); code != http.StatusNotFound {
		t.Fatalf("POST unmatched -> %d", code)
	}
	hit(r, http.MethodGet, "/metrics")
	hit(r, http.MethodGet, "/livez")
	hit(r, http.MethodGet, "/api/v1/links/promo")

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("POST", UnmatchedRoute, "404")); got != baseUnmatched+1 {
		t.Fatalf("unmatched counter = %v; want %v", got, baseUnmatched+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/metrics", "200")); got != baseMetrics {
		t.Fatalf("/metrics should be skipped, counter moved to %v", got)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/livez", "200")); got != baseLivez {
		t.Fatalf("/livez should be skipped, counter moved to %v", got)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/api/v1/links/:id", "200")); got != baseLink+1 {
		t.Fatalf("link lookup counter = %v; want %v", got, baseLink+1)
	}
}
