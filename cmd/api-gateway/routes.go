package main

import (
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/assessment-stats-api/api/swagger"
	"github.com/noah-isme/assessment-stats-api/internal/handler"
	"github.com/noah-isme/assessment-stats-api/pkg/config"
)

func registerRoutes(r *gin.Engine, cfg *config.Config, svcs *services, db *sqlx.DB) {
	metricsHandler := handler.NewMetricsHandler(svcs.metrics, db)
	aggregationHandler := handler.NewAggregationHandler(svcs.aggregations)
	batchHandler := handler.NewBatchHandler(svcs.aggregations, svcs.rankings, svcs.batches)
	exportHandler := handler.NewExportHandler(svcs.exports)

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.GET("/metrics/summary", metricsHandler.Summary)

	aggregations := api.Group("/aggregations/:batch")
	aggregations.GET("", aggregationHandler.ListRecords)
	aggregations.POST("/regional", aggregationHandler.AggregateRegional)
	aggregations.GET("/regional", aggregationHandler.RegionalResult)
	aggregations.POST("/schools/:school", aggregationHandler.AggregateSchool)
	aggregations.GET("/schools/:school", aggregationHandler.SchoolResult)
	aggregations.GET("/export", exportHandler.Export)

	batches := api.Group("/batches/:batch")
	batches.GET("/overview", batchHandler.Overview)
	batches.GET("/rankings", batchHandler.Rankings)
	batches.POST("/recalculate", batchHandler.Recalculate)

	api.GET("/jobs/:id", batchHandler.JobStatus)
}
