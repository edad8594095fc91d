// Command server runs the entitlements HTTP API: payment webhooks, the claim
// portal and the product-facing access/report endpoints.
//
// @title                       Entitlements API
// @version                     1.0
// @description                 Cross-product entitlement ledger: purchase webhooks, claim portal, app reports and access checks.
// @BasePath                    /api/v1
//
// @securityDefinitions.apikey  SharedSecret
// @in                          header
// @name                        X-Shared-Secret
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-entitlements/internal/catalog"
	"github.com/tbourn/go-entitlements/internal/config"
	"github.com/tbourn/go-entitlements/internal/dispatch"
	"github.com/tbourn/go-entitlements/internal/gateway"
	httpapi "github.com/tbourn/go-entitlements/internal/http"
	"github.com/tbourn/go-entitlements/internal/notify"
	"github.com/tbourn/go-entitlements/internal/observability"
	"github.com/tbourn/go-entitlements/internal/repo"
	"github.com/tbourn/go-entitlements/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetupLogging(os.Stdout, cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}

	db, err := repo.Open(cfg.DBDriver, sysutil.DatabaseDSN(cfg.DBDriver, cfg.DBPath, cfg.DatabaseURL))
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	if cfg.CatalogPath != "" {
		cat, err := catalog.Load(cfg.CatalogPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Warn().Str("path", cfg.CatalogPath).Msg("catalog file not found; using stored catalog")
		case err != nil:
			return err
		default:
			if err := cat.Apply(ctx, db); err != nil {
				return err
			}
			log.Info().Int("products", len(cat.Products)).Int("bundles", len(cat.Bundles)).Msg("catalog applied")
		}
	}

	var sender notify.Sender
	if cfg.PostmarkToken != "" {
		sender = notify.NewPostmarkSender(cfg.PostmarkToken)
	} else {
		log.Warn().Msg("POSTMARK_TOKEN not set; emails will be logged")
	}
	if cfg.StripeWebhookSecret == "" {
		log.Warn().Msg("STRIPE_WEBHOOK_SECRET not set; webhook signatures are not checked")
	}

	dispatcher := dispatch.New(cfg.SharedSecret, cfg.SyncTimeout)
	deps := httpapi.Deps{
		Sync:     dispatcher,
		Notifier: notify.New(sender, cfg.EmailFrom),
	}
	if cfg.StripeAPIKey != "" {
		deps.Prices = gateway.NewLineItemResolver(cfg.StripeAPIKey)
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, db, deps, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// Let in-flight sync pushes finish before the process exits.
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("sync pushes still pending at shutdown")
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}
