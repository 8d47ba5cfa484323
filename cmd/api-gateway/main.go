package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/assessment-stats-api/internal/middleware"
	"github.com/noah-isme/assessment-stats-api/internal/repository"
	"github.com/noah-isme/assessment-stats-api/internal/service"
	"github.com/noah-isme/assessment-stats-api/pkg/cache"
	"github.com/noah-isme/assessment-stats-api/pkg/config"
	"github.com/noah-isme/assessment-stats-api/pkg/database"
	"github.com/noah-isme/assessment-stats-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/assessment-stats-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/assessment-stats-api/pkg/middleware/requestid"
)

// @title Assessment Statistics API
// @version 1.0.0
// @description Aggregates assessment scores into regional and per-school statistics documents.
// @BasePath /api/v1
// @schemes http

const shutdownTimeout = 15 * time.Second

type services struct {
	metrics      *service.MetricsService
	aggregations *service.AggregationService
	rankings     *service.RankingService
	batches      *service.BatchService
	exports      *service.ExportService
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("database unavailable", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	cacheRepo, closeCache, err := newCacheRepository(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("cache unavailable", zap.Error(err))
	}
	defer closeCache()

	svcs := buildServices(cfg, db, cacheRepo, logr)
	svcs.batches.Start(ctx)
	defer svcs.batches.Stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(svcs.metrics, "/metrics", "/health"))
	registerRoutes(r, cfg, svcs, db)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown", zap.Error(err))
	}
	logr.Info("server stopped")
}

func newCacheRepository(ctx context.Context, cfg *config.Config, logr *zap.Logger) (service.CacheRepository, func(), error) {
	if cfg.Aggregation.CacheBackend != config.CacheBackendRedis {
		return repository.NewMemoryCacheRepository(cfg.Aggregation.CacheMaxEntries), func() {}, nil
	}
	client, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	repo := repository.NewRedisCacheRepository(client, logr)
	return repo, func() { closeRedis(client, logr) }, nil
}

func closeRedis(client *redis.Client, logr *zap.Logger) {
	if err := client.Close(); err != nil {
		logr.Warn("close redis", zap.Error(err))
	}
}

func buildServices(cfg *config.Config, db *sqlx.DB, cacheRepo service.CacheRepository, logr *zap.Logger) *services {
	validate := validator.New()
	metrics := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Aggregation.CacheTTL, logr, cfg.Aggregation.CacheEnabled)

	scores := repository.NewScoreRepository(db)
	store := repository.NewAggregationRepository(db)

	subjects := service.NewSubjectService(scores, validate, metrics, logr, service.SubjectServiceConfig{
		ScaleLevel: cfg.Aggregation.ScaleLevel,
		MinSample:  cfg.Aggregation.DiscriminationMinSampleSize,
	})
	rankings := service.NewRankingService(scores, metrics, logr)
	aggregations := service.NewAggregationService(subjects, rankings, scores, store, cacheSvc, metrics, validate, logr, service.AggregationServiceConfig{
		SchemaVersion: cfg.Aggregation.SchemaVersion,
		CacheTTL:      cfg.Aggregation.CacheTTL,
	})
	batches := service.NewBatchService(aggregations, scores, logr, service.BatchServiceConfig{
		Concurrency: cfg.Batch.WorkerConcurrency,
		QueueSize:   cfg.Batch.QueueSize,
		MaxRetries:  cfg.Batch.QueueRetries,
	})
	exports := service.NewExportService(aggregations, cfg.Exports.Enabled, logr, nil, nil)

	return &services{
		metrics:      metrics,
		aggregations: aggregations,
		rankings:     rankings,
		batches:      batches,
		exports:      exports,
	}
}
