package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/arborhq/arbor/pkg/authz"
	"github.com/arborhq/arbor/pkg/config"
	"github.com/arborhq/arbor/pkg/groups"
	"github.com/arborhq/arbor/pkg/hierarchy"
	"github.com/arborhq/arbor/pkg/middleware"
	"github.com/arborhq/arbor/pkg/observability"
	"github.com/arborhq/arbor/pkg/workspace"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "arbor: %v\n", err)
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
	}).Info("starting arbor")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := runMigrations(ctx, db); err != nil {
		return err
	}
	logger.Info("migrations applied")

	metrics := observability.NewMetrics(nil)

	nodeStore := hierarchy.NewStore(db)
	groupStore := groups.NewStore(db)
	workspaceStore := workspace.NewStore(db)
	grantStore := authz.NewStore(db)
	resolver := authz.NewResolver(db)
	cache := authz.NewCache(cfg.Cache.MaxEntries, cfg.Cache.TTL, metrics)
	service := authz.NewService(grantStore, resolver, cache, nodeStore, workspaceStore, metrics)

	var limiter *middleware.RateLimiter
	if cfg.Redis.Enabled {
		limiter = middleware.NewRateLimiter(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), nil)
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(injectLogger(logger))
	if cfg.Observability.MetricsEnabled {
		router.Use(instrumentHTTP(metrics))
	}
	router.Use(middleware.Authenticate(workspaceStore))
	if limiter != nil {
		router.Use(limiter.Handler)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	hierarchy.NewHandlers(nodeStore, cache).RegisterRoutes(api)
	groups.NewHandlers(groupStore, cache).RegisterRoutes(api)
	workspace.NewHandlers(workspaceStore, cache).RegisterRoutes(api)
	authz.NewHandlers(service).RegisterRoutes(api)

	health := observability.NewHealthChecker(5 * time.Second)
	health.Register("postgres", db.PingContext)
	if limiter != nil {
		health.Register("redis", limiter.HealthCheck)
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.LivenessHandler())
	healthMux.HandleFunc("/readyz", health.ReadinessHandler())
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	var sweeper *cron.Cron
	if cfg.Consistency.Enabled {
		sweeper = cron.New()
		_, err := sweeper.AddFunc(cfg.Consistency.Schedule, func() {
			runConsistencySweep(context.Background(), logger, metrics, nodeStore, groupStore)
		})
		if err != nil {
			return fmt.Errorf("invalid consistency sweep schedule %q: %w", cfg.Consistency.Schedule, err)
		}
		sweeper.Start()
		logger.WithField("schedule", cfg.Consistency.Schedule).Info("consistency sweep scheduled")
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("api server listening")
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		reportDBStats(groupCtx, db, metrics)
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")

		if sweeper != nil {
			sweeper.Stop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("api server shutdown failed")
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("health server shutdown failed")
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// runMigrations applies each package's migrations. Order matters: grants
// reference nodes, so the hierarchy schema must exist first.
func runMigrations(ctx context.Context, db *sql.DB) error {
	steps := []func(context.Context, *sql.DB) error{
		workspace.RunMigrations,
		hierarchy.RunMigrations,
		groups.RunMigrations,
		authz.RunMigrations,
	}
	for _, step := range steps {
		if err := step(ctx, db); err != nil {
			return err
		}
	}
	return nil
}

// runConsistencySweep verifies the materialized indexes against their
// source-of-truth tables. A failure means drift, not transient trouble;
// it is surfaced through metrics and logs for operator attention.
func runConsistencySweep(ctx context.Context, logger *observability.Logger, metrics *observability.Metrics, nodes *hierarchy.Store, groupStore *groups.Store) {
	start := time.Now()
	metrics.SweepRunsTotal.Inc()

	sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	failed := false
	if err := nodes.VerifyClosure(sweepCtx); err != nil {
		failed = true
		logger.WithError(err).Error("node closure verification failed")
	}
	if err := groupStore.VerifyIndexes(sweepCtx); err != nil {
		failed = true
		logger.WithError(err).Error("group index verification failed")
	}

	if failed {
		metrics.SweepFailuresTotal.Inc()
	}
	metrics.SweepDurationSecond.Observe(time.Since(start).Seconds())
	logger.WithFields(map[string]interface{}{
		"duration": time.Since(start).String(),
		"failed":   failed,
	}).Info("consistency sweep finished")
}

// reportDBStats publishes connection pool gauges until the context ends
func reportDBStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			metrics.DBConnectionsActive.Set(float64(stats.InUse))
			metrics.DBConnectionsIdle.Set(float64(stats.Idle))
		}
	}
}

// injectLogger makes the process logger available to request-scoped code
func injectLogger(logger *observability.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(observability.WithLogger(r.Context(), logger)))
		})
	}
}

// instrumentHTTP records request metrics labeled by route template to keep
// cardinality bounded
func instrumentHTTP(metrics *observability.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if template, err := route.GetPathTemplate(); err == nil {
					path = template
				}
			}
			metrics.InstrumentHandler(path, next).ServeHTTP(w, r)
		})
	}
}
