// Command gateway runs the fleet platform API gateway: the single public
// entry point that applies CORS, rate limiting and JWT authentication before
// proxying requests to the auth, workshop, fleet, parts, delivery and
// smartcar services.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/fleet-gateway/internal/auth"
	"github.com/tbourn/fleet-gateway/internal/config"
	httpapi "github.com/tbourn/fleet-gateway/internal/http"
	"github.com/tbourn/fleet-gateway/internal/http/docs"
	"github.com/tbourn/fleet-gateway/internal/http/middleware"
	"github.com/tbourn/fleet-gateway/internal/observability"
	"github.com/tbourn/fleet-gateway/internal/proxy"
	"github.com/tbourn/fleet-gateway/internal/ratelimit"
	"github.com/tbourn/fleet-gateway/internal/repo"
	"github.com/tbourn/fleet-gateway/internal/routing"
	"github.com/tbourn/fleet-gateway/internal/services"
	"github.com/tbourn/fleet-gateway/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// @title       Fleet Gateway API
// @version     1.0
// @description Gateway-owned endpoints. Every other path is proxied to the fleet platform services.
// @BasePath    /
func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.ConfigureLogger(cfg.LogLevel, cfg.LogFormat, nil)
	docs.SwaggerInfo.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version, cfg.Env)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(c)
	}()

	table, err := routing.Load(cfg.RoutesFile)
	if err != nil {
		return fmt.Errorf("routes: %w", err)
	}
	endpoints, err := cfg.Endpoints()
	if err != nil {
		return fmt.Errorf("endpoints: %w", err)
	}
	for _, svc := range table.Services() {
		if _, ok := endpoints[svc]; !ok {
			return fmt.Errorf("route table uses service %q without a configured URL", svc)
		}
	}

	store, closeStore := newStore(ctx, cfg)
	defer closeStore()
	limiter := ratelimit.New(store, cfg.RateLimit)

	verifier, err := auth.NewVerifier(cfg.JWT.Secret, cfg.JWT.Issuer)
	if err != nil {
		return fmt.Errorf("jwt: %w", err)
	}

	px, err := proxy.New(endpoints, proxy.Options{
		Timeout:         cfg.Proxy.Timeout,
		BreakerFailures: cfg.Proxy.BreakerFailures,
		BreakerOpenFor:  cfg.Proxy.BreakerOpenFor,
	})
	if err != nil {
		return fmt.Errorf("proxy: %w", err)
	}

	var audit middleware.AuditSink
	if cfg.AuditDBPath != "" {
		db, err := repo.OpenSQLite(cfg.AuditDBPath)
		if err != nil {
			return fmt.Errorf("audit db: %w", err)
		}
		if err := repo.AutoMigrate(db); err != nil {
			return fmt.Errorf("audit migrate: %w", err)
		}
		rec := services.NewAuditRecorder(db, services.AuditOptions{Retention: cfg.AuditRetention})
		audit = rec
		defer func() {
			c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := rec.Close(c); err != nil {
				log.Warn().Err(err).Msg("audit recorder did not drain")
			}
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}()
	}

	gin.SetMode(cfg.GinMode())
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Config:    cfg,
		Routes:    table,
		Policy:    routing.DefaultPolicy(),
		Limiter:   limiter,
		Store:     store,
		Auth:      verifier,
		Forwarder: px,
		Audit:     audit,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("env", cfg.Env).
			Str("version", version).
			Str("ratelimit_store", cfg.RateLimit.Store).
			Int("routes", len(table.Rules())).
			Msg("gateway listening")
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

	log.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newStore picks the limiter store. A Redis that is down at startup is not
// fatal; the limiter's failure mode decides what happens to traffic.
func newStore(ctx context.Context, cfg config.Config) (ratelimit.Store, func()) {
	if cfg.RateLimit.Store != "redis" {
		return ratelimit.NewMemoryStore(), func() {}
	}
	rdb := ratelimit.NewRedisClient(ratelimit.RedisOptions{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := ratelimit.NewRedisStore(rdb)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr()).Bool("fail_open", cfg.RateLimit.FailOpen).
			Msg("redis unreachable at startup")
	}
	return store, func() { _ = rdb.Close() }
}
