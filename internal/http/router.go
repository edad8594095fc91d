// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, shared-secret auth, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-entitlements/docs"
	"github.com/tbourn/go-entitlements/internal/config"
	"github.com/tbourn/go-entitlements/internal/dispatch"
	"github.com/tbourn/go-entitlements/internal/domain"
	"github.com/tbourn/go-entitlements/internal/gateway"
	"github.com/tbourn/go-entitlements/internal/http/handlers"
	"github.com/tbourn/go-entitlements/internal/http/middleware"
	"github.com/tbourn/go-entitlements/internal/notify"
	"github.com/tbourn/go-entitlements/internal/repo"
	"github.com/tbourn/go-entitlements/internal/services"
)

// Deps carries the outbound collaborators of the services. Nil members are
// replaced with defaults built from cfg: a dispatcher for Sync, a logging
// notifier for Notifier and a signature verifier for Verifier. A nil Prices
// disables checkout line-item lookups.
type Deps struct {
	Sync     services.Syncer
	Notifier services.Notifier
	Prices   gateway.PriceResolver
	Verifier handlers.EventVerifier
}

// allowHeaders lists the request headers browsers may send cross-origin.
var allowHeaders = []string{
	"Origin", "Content-Type", "Accept", "Authorization",
	middleware.HeaderSharedSecret, middleware.HeaderSourceApp, middleware.HeaderIdempotencyKey,
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), CORS and security
// headers, health and metrics endpoints, the payment webhook, and then mounts
// the versioned API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RequestLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. gzip, CORS and Security headers
//
// Product-facing routes then add, in order: shared-secret auth (so the
// caller is known), the idempotency validator (so replays can bypass the
// limiter), and the rate limiter (per calling app or IP).
func RegisterRoutes(r *gin.Engine, db *gorm.DB, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RequestLogger(middleware.RedactOptions{
		MaskHeaders: []string{middleware.HeaderIdempotencyKey},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Compression, CORS posture and security headers
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	useCORS(r, cfg.CORS.AllowedOrigins)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{
			joinPath(cfg.APIBasePath, "/claims"),
			joinPath(cfg.APIBasePath, "/audit"),
		},
		DocsPrefix:   "/swagger/",
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(buildServices(db, deps, cfg))

	// Payment gateway webhook; authenticated by its signature.
	r.POST("/webhooks/stripe", h.StripeWebhook)

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByAppOrIP())

	base := groupWithPrefix(r, cfg.APIBasePath) // e.g. "/api/v1"

	// Claim portal; the token is the credential.
	claims := base.Group("/claims", rl.Handler())
	{
		claims.GET("/:token", h.GetClaim)
		claims.POST("/:token/activate", h.ActivateClaim)
	}

	// Product-facing API
	api := base.Group("",
		middleware.SharedSecretAuth(cfg.SharedSecret),
		middleware.IdempotencyValidator(
			middleware.IdempotencyOptions{MaxLen: 200},
			reportKeyLookup(db, cfg.IdempotencyTTL),
		),
		rl.Handler(),
	)
	{
		api.GET("/access/check", h.CheckAccess)
		api.GET("/access/entitlements", h.ListEntitlements)
		api.POST("/report", h.Report)
		api.POST("/revoke", h.Revoke)
		api.POST("/entitlements/:id/revoke", h.RevokeEntitlement)
		api.GET("/audit", h.ListAudit)
	}
}

// buildServices performs the dependency injection: services ← repo/db/deps.
func buildServices(db *gorm.DB, deps Deps, cfg config.Config) handlers.Services {
	if deps.Sync == nil {
		deps.Sync = dispatch.New(cfg.SharedSecret, cfg.SyncTimeout)
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.New(nil, cfg.EmailFrom)
	}
	if deps.Verifier == nil {
		deps.Verifier = gateway.Verifier{Secret: cfg.StripeWebhookSecret}
	}

	ids := services.NewIdentityService(db)
	ledger := services.NewLedgerService(db, ids, deps.Sync)
	claims := services.NewClaimService(db, ids, ledger, cfg.ClaimBaseURL)
	if cfg.ClaimTTL > 0 {
		claims.TTL = cfg.ClaimTTL
	}

	return handlers.Services{
		Access:    services.NewAccessService(db, ids, ledger),
		Report:    services.NewReportService(db, ids, ledger),
		Revoke:    ledger,
		Claims:    claims,
		Purchases: services.NewPurchaseService(db, ids, ledger, claims, deps.Notifier, deps.Prices),
		Audit:     services.NewAuditService(db),
		Verifier:  deps.Verifier,
	}
}

// reportKeyLookup reports whether app already completed a report under key
// within ttl. ReportService keeps its own record of the key, scoped by the
// same caller app; this only lets the middleware flag the replay early so it
// is not rate limited.
func reportKeyLookup(db *gorm.DB, ttl time.Duration) middleware.IdempotencyLookup {
	return func(ctx context.Context, app, key string, now time.Time) (bool, error) {
		rec, err := repo.GetWebhookEvent(ctx, db, services.ReportIdempotencyKey(app, key))
		if err != nil || rec == nil {
			return false, nil
		}
		if rec.Status != domain.WebhookProcessed || rec.CreatedAt.Before(now.Add(-ttl)) {
			return false, nil
		}
		return true, nil
	}
}

// useCORS installs the CORS posture (safe defaults: allow all if none configured).
func useCORS(r *gin.Engine, origins []string) {
	if len(origins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
		return
	}

	// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	})
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     allowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// joinPath appends p to the API base path, treating "/" (or empty) as root.
func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
