package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/epts-reports/internal/calculation"
	"github.com/jwalitptl/epts-reports/internal/config"
	"github.com/jwalitptl/epts-reports/internal/handler/health"
	promhandler "github.com/jwalitptl/epts-reports/internal/handler/prometheus"
	reportHandler "github.com/jwalitptl/epts-reports/internal/handler/report"
	"github.com/jwalitptl/epts-reports/internal/metadata"
	"github.com/jwalitptl/epts-reports/internal/middleware"
	"github.com/jwalitptl/epts-reports/internal/repository/postgres"
	"github.com/jwalitptl/epts-reports/internal/router"
	reportService "github.com/jwalitptl/epts-reports/internal/service/report"
	"github.com/jwalitptl/epts-reports/pkg/logger"
	"github.com/jwalitptl/epts-reports/pkg/messaging"
	"github.com/jwalitptl/epts-reports/pkg/messaging/redis"
	"github.com/jwalitptl/epts-reports/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.NewLogger(nil).Fatal(err, "failed to load configuration")
	}

	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		JSON:       cfg.Log.JSON,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry, "epts", "reports")

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	meta, err := metadata.Load(ctx, cfg.Metadata, postgres.NewMetadataRepository(db, m))
	if err != nil {
		log.Fatal(err, "failed to resolve metadata")
	}

	bounds := calculation.Bounds(cfg.Calculation.Bounds)
	calculations := calculation.Standard(postgres.NewClinicalDataRepository(db, m), meta, bounds, cfg.Calculation.Workers)

	var publisher messaging.Publisher = messaging.NopPublisher{}
	if cfg.Redis.URL != "" {
		broker, err := redis.NewRedisBroker(ctx, redis.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			RetryBackoff: cfg.Redis.RetryBackoff,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, log.ZL)
		if err != nil {
			log.Fatal(err, "failed to connect to Redis")
		}
		publisher = broker
	}
	defer publisher.Close()

	reports := reportService.NewService(
		calculations,
		postgres.NewPatientRepository(db, m),
		publisher,
		m,
		log,
		reportService.Config{
			Bounds:          bounds,
			Channel:         cfg.Redis.Channel,
			CacheTTL:        cfg.Cache.TTL,
			CleanupInterval: cfg.Cache.CleanupInterval,
		},
	)

	routerConfig := router.RouterConfig{RequestTimeout: cfg.Server.RequestTimeout}
	if cfg.RateLimit.Enabled {
		routerConfig.RateLimit = &middleware.RateLimiterConfig{
			Rate:  rate.Limit(cfg.RateLimit.Rate),
			Burst: cfg.RateLimit.Burst,
		}
	}
	if cfg.Auth.Enabled {
		routerConfig.Auth = middleware.NewAuthMiddleware(middleware.AuthConfig{
			Secret: []byte(cfg.Auth.JWTSecret),
			Issuer: cfg.Auth.Issuer,
		})
	}

	gin.SetMode(gin.ReleaseMode)
	r := router.NewRouter(
		log,
		health.NewHandler(db),
		reportHandler.NewHandler(reports),
		promhandler.New(registry),
		routerConfig,
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("starting server", "port", cfg.Server.Port, "calculations", len(calculations.List()))
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			log.Error(err, "server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "server forced to shutdown")
		os.Exit(1)
	}

	log.Info("server exited properly")
}
