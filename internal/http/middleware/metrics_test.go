package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountsByRouteCodeAndApp(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/v1/claims/:token", func(c *gin.Context) { c.String(http.StatusOK, "claim") })
	authed := r.Group("/api/v1", SharedSecretAuth("s3cret"))
	authed.GET("/access/check", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	claim := httpReqs.WithLabelValues("GET", "/api/v1/claims/:token", "200", "")
	check := httpReqs.WithLabelValues("GET", "/api/v1/access/check", "204", "notes")
	missing := httpReqs.WithLabelValues("GET", unmatchedRoute, "404", "")
	baseClaim, baseCheck, baseMissing := testutil.ToFloat64(claim), testutil.ToFloat64(check), testutil.ToFloat64(missing)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/claims/tok-a", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/claims/tok-b", nil))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/access/check", nil)
	req.Header.Set(HeaderSharedSecret, "s3cret")
	req.Header.Set(HeaderSourceApp, "notes")
	r.ServeHTTP(httptest.NewRecorder(), req)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	if got := testutil.ToFloat64(claim); got != baseClaim+2 {
		t.Fatalf("claim route counter = %v; want %v (tokens must share one series)", got, baseClaim+2)
	}
	if got := testutil.ToFloat64(check); got != baseCheck+1 {
		t.Fatalf("authed counter = %v; want %v", got, baseCheck+1)
	}
	if got := testutil.ToFloat64(missing); got != baseMissing+1 {
		t.Fatalf("unmatched counter = %v; want %v", got, baseMissing+1)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("inflight = %v; want 0", inFlight)
	}
}
