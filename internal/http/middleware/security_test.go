package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func securedRouter(opt SecurityOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeaders(opt))
	ok := func(c *gin.Context) { c.String(http.StatusOK, "ok") }
	r.GET("/api/v1/claims/:token", ok)
	r.GET("/api/v1/audit", ok)
	r.GET("/swagger/*any", ok)
	r.GET("/health", ok)
	return r
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	r := securedRouter(SecurityOptions{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	h := w.Header()
	if h.Get("X-Content-Type-Options") != "nosniff" || h.Get("X-Frame-Options") != "DENY" || h.Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("missing baseline headers: %#v", h)
	}
	if h.Get("Content-Security-Policy") != apiCSP {
		t.Fatalf("CSP = %q", h.Get("Content-Security-Policy"))
	}
	for _, k := range []string{"Permissions-Policy", "Cache-Control", "Strict-Transport-Security"} {
		if h.Get(k) != "" {
			t.Fatalf("%s should be unset, got %q", k, h.Get(k))
		}
	}
}

func TestSecurityHeaders_NoStorePrefixesAndDocs(t *testing.T) {
	r := securedRouter(SecurityOptions{
		NoStorePrefixes: []string{"/api/v1/claims", "", "/api/v1/access"},
		DocsPrefix:      "/swagger/",
		EnablePolicy:    true,
	})

	cases := []struct {
		path    string
		noStore bool
		csp     bool
	}{
		{"/api/v1/claims/tok", true, true},
		{"/api/v1/audit", false, true},
		{"/swagger/index.html", false, false},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
		h := w.Header()

		if got := h.Get("Cache-Control") == "no-store" && h.Get("Pragma") == "no-cache" && h.Get("Expires") == "0"; got != tc.noStore {
			t.Fatalf("%s: no-store=%v; want %v", tc.path, got, tc.noStore)
		}
		if got := h.Get("Content-Security-Policy") != ""; got != tc.csp {
			t.Fatalf("%s: csp=%v; want %v", tc.path, got, tc.csp)
		}
		if h.Get("Permissions-Policy") != permissionsPolicy || h.Get("X-Permitted-Cross-Domain-Policies") != "none" {
			t.Fatalf("%s: missing policy headers", tc.path)
		}
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	r := securedRouter(SecurityOptions{EnableHSTS: true, HSTSMaxAge: 24 * time.Hour})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("HSTS on plain HTTP: %q", got)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Forwarded-Proto", "HTTPS")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=86400; includeSubDomains; preload" {
		t.Fatalf("HSTS = %q", got)
	}

	r = securedRouter(SecurityOptions{EnableHSTS: true})
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.TLS = &tls.ConnectionState{}
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=15552000; includeSubDomains; preload" {
		t.Fatalf("default HSTS = %q", got)
	}
}

func Test_isHTTPS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if isHTTPS(req) {
		t.Fatalf("plain HTTP should not be https")
	}
	req.TLS = &tls.ConnectionState{}
	if !isHTTPS(req) {
		t.Fatalf("TLS request should be https")
	}
}
