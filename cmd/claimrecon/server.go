package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/claimrecon/claimrecon/internal/config"
	"github.com/claimrecon/claimrecon/internal/domain/billing"
	"github.com/claimrecon/claimrecon/internal/domain/reconciliation"
	"github.com/claimrecon/claimrecon/internal/domain/reporting"
	"github.com/claimrecon/claimrecon/internal/platform/auth"
	"github.com/claimrecon/claimrecon/internal/platform/db"
	"github.com/claimrecon/claimrecon/internal/platform/middleware"
	"github.com/claimrecon/claimrecon/internal/platform/telemetry"
)

// serverDeps are the pieces newServer wires together. tenancy and dbHealth
// are nil when no database is attached.
type serverDeps struct {
	cfg      *config.Config
	logger   zerolog.Logger
	store    billing.Store
	tel      *telemetry.Provider
	tenancy  echo.MiddlewareFunc
	dbHealth echo.HandlerFunc
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	var verify echo.MiddlewareFunc
	if cfg.AuthSigningKey != "" || cfg.AuthIssuer != "" || cfg.AuthJWKSURL != "" {
		verify = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		})
	}
	if cfg.ResolvedAuthMode() == "development" {
		return auth.DevAuthMiddleware(cfg.DevUserID, verify)
	}
	return verify
}

func newServer(d serverDeps) *echo.Echo {
	cfg := d.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(d.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(d.logger))
	e.Use(d.tel.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
		ExposeHeaders: []string{"X-Request-ID", "X-Report-Generated-At", "Retry-After"},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))

	if mw := authMiddleware(cfg); mw != nil {
		e.Use(mw)
	}
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	if d.tenancy != nil {
		e.Use(d.tenancy)
	}
	// Inside tenancy: the handler has returned before the tenant connection is released.
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	if d.dbHealth != nil {
		e.GET("/health/db", d.dbHealth)
	}
	e.GET("/metrics", d.tel.PrometheusHandler())

	apiV1 := e.Group("/api/v1")

	recSvc := reconciliation.NewService(d.store, d.logger, reconciliation.NewMetrics(d.tel.Registerer()))
	reconciliation.NewHandler(recSvc).RegisterRoutes(apiV1)

	engine := reporting.NewEngine(d.store, d.logger, d.tel.Registerer())
	reporting.NewHandler(engine).RegisterRoutes(apiV1)

	return e
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	tel := telemetry.NewProvider(telemetry.Config{
		ServiceVersion: version,
		Environment:    cfg.Env,
		RuntimeMetrics: true,
	})
	tel.RegisterPool(pool)

	e := newServer(serverDeps{
		cfg:    cfg,
		logger: logger,
		store:  billing.NewStorePG(pool, cfg.StoreTimeout),
		tel:    tel,
		tenancy: db.TenantMiddleware(pool, cfg.DefaultTenant, func(c echo.Context) bool {
			return auth.IsPublicPath(c.Path())
		}),
		dbHealth: db.HealthHandler(pool, cfg.StoreTimeout),
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
