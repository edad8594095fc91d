// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SharedSecretAuth, which guards the product-facing API
// (access checks, external-subscription reports, audit reads) behind a
// single shared secret that every integrated product carries.
//
// Callers send the secret in X-Shared-Secret (or as an Authorization bearer
// token) and may name themselves in X-Source-App. The app name is stored in
// the Gin context so rate limiting, idempotency and request logs can key on
// it.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderSharedSecret carries the secret shared by all integrated products.
	HeaderSharedSecret = "X-Shared-Secret"
	// HeaderSourceApp optionally names the calling product.
	HeaderSourceApp = "X-Source-App"

	ctxKeyCallerApp = "auth.app"
	maxAppNameLen   = 64
)

// SharedSecretAuth rejects requests that do not present the configured secret.
//
// The comparison is constant-time. An empty configured secret rejects every
// request. Failures answer 401 with the standard error envelope and never
// reach the handler.
func SharedSecretAuth(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		got := presentedSecret(c.Request)
		if len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "missing or invalid shared secret",
			})
			return
		}

		if app := strings.TrimSpace(c.GetHeader(HeaderSourceApp)); app != "" && len(app) <= maxAppNameLen {
			c.Set(ctxKeyCallerApp, app)
		}
		c.Next()
	}
}

// CallerApp returns the product name the authenticated caller supplied, or "".
func CallerApp(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyCallerApp); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func presentedSecret(r *http.Request) string {
	if v := r.Header.Get(HeaderSharedSecret); v != "" {
		return v
	}
	const prefix = "bearer "
	if h := r.Header.Get("Authorization"); len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
