// dentflow-authz is the authorization service for the DentFlow CRM. It
// serves the role/permission admin API and the effective-access endpoint,
// backed by Postgres with a process-local cache invalidated over Redis.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dentflow/dentflow/pkg/audit"
	"github.com/dentflow/dentflow/pkg/config"
	"github.com/dentflow/dentflow/pkg/httputil"
	"github.com/dentflow/dentflow/pkg/middleware"
	"github.com/dentflow/dentflow/pkg/observability"
	"github.com/dentflow/dentflow/pkg/rbac"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dentflow-authz: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"port":        cfg.Server.Port,
		"health_port": cfg.Server.HealthPort,
		"cache_ttl":   cfg.Cache.TTL.String(),
	}).Info("Starting dentflow-authz")

	ctx := context.Background()

	// Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if err := rbac.RunMigrations(ctx, db, logger.Slog()); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	store := rbac.NewStore(db)
	if err := rbac.SeedCatalog(ctx, store, logger.Slog()); err != nil {
		return fmt.Errorf("catalog seed failed: %w", err)
	}

	// Cache and resolution
	cache := rbac.NewAccessCache(cfg.Cache.Size, cfg.Cache.TTL)
	resolver := rbac.NewResolver(store, cache)
	guard := rbac.NewGuard(resolver)

	// Metrics
	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
		resolver.SetMetrics(metrics)
		guard.SetMetrics(metrics)
	}

	// Redis pub/sub keeps peer caches coherent after admin mutations. The
	// service still works without it; invalidation is then local-only.
	var redisClient *redis.Client
	var broadcaster *rbac.Broadcaster
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		broadcaster = rbac.NewBroadcaster(redisClient, cache, logger.Slog())
		if metrics != nil {
			broadcaster.SetMetrics(metrics)
		}
	} else {
		logger.Warn("Redis not configured, cache invalidation is local-only")
	}

	// Audit log
	var auditLog audit.Logger = audit.NopLogger{}
	if cfg.Audit.Enabled {
		fileLog, err := audit.NewFileLogger(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		auditLog = fileLog
	}

	// Tracing
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	manager := rbac.NewManager(store, resolver, invalidator(broadcaster), auditLog, logger.Slog())
	handler := rbac.NewHandler(manager, resolver)
	guardMW := rbac.NewGuardMiddleware(guard, auditLog)

	// API router
	router := mux.NewRouter()
	api := router.PathPrefix("/").Subrouter()
	api.Use(mux.MiddlewareFunc(middleware.Identity))
	handler.RegisterRoutes(api, guardMW)

	chain := httputil.Chain(
		httputil.RequestID,
		observability.RequestLogger(logger),
		httputil.Logging(logger.Slog()),
		httputil.Recovery(logger.Slog()),
		httputil.MaxBytes(1<<20),
	)
	var apiHandler http.Handler = chain(router)
	if cfg.Observability.MetricsEnabled {
		apiHandler = observability.HTTPMetricsMiddleware(metrics)(apiHandler)
	}
	if cfg.Observability.OTelEnabled {
		apiHandler = otelhttp.NewHandler(apiHandler, "dentflow-authz")
	}

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate listener so probes stay reachable
	// when the API is saturated.
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	// Background jobs
	listenCtx, cancelListen := context.WithCancel(ctx)
	defer cancelListen()
	if broadcaster != nil {
		go func() {
			if err := broadcaster.Listen(listenCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("Invalidation listener stopped")
			}
		}()
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Observability.ReconcileSchedule, func() {
		if err := rbac.ReconcileCatalog(context.Background(), store, resolver, invalidator(broadcaster), logger.Slog()); err != nil {
			logger.WithError(err).Error("Catalog reconciliation failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", cfg.Observability.ReconcileSchedule, err)
	}
	if cfg.Observability.MetricsEnabled {
		if _, err := scheduler.AddFunc("@every 15s", func() {
			metrics.ObserveDBStats(db)
			metrics.CacheEntries.Set(float64(cache.Len()))
		}); err != nil {
			return fmt.Errorf("failed to schedule stats collection: %w", err)
		}
	}
	scheduler.Start()

	// Shutdown wiring
	sm := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	sm.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
		return healthServer.Shutdown(shutdownCtx)
	})
	sm.RegisterShutdownFunc(func(context.Context) error {
		cancelListen()
		scheduler.Stop()
		return nil
	})
	sm.RegisterShutdownFunc(func(context.Context) error {
		return auditLog.Close()
	})
	if redisClient != nil {
		sm.RegisterShutdownFunc(func(context.Context) error {
			return redisClient.Close()
		})
	}
	sm.RegisterShutdownFunc(func(context.Context) error {
		return db.Close()
	})
	sm.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
		return observability.ShutdownOTel(shutdownCtx, otelProviders, logger)
	})

	go func() {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()
	go func() {
		logger.Infof("API server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("API server failed")
			os.Exit(1)
		}
	}()

	return sm.WaitForShutdown()
}

// invalidator converts a possibly-nil *Broadcaster into the manager's
// Invalidator dependency without boxing a typed nil into the interface.
func invalidator(b *rbac.Broadcaster) rbac.Invalidator {
	if b == nil {
		return nil
	}
	return b
}
