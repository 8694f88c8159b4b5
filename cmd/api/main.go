package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/Schnee09/BHEDU-sub003/api/swagger"
	"github.com/Schnee09/BHEDU-sub003/internal/dto"
	"github.com/Schnee09/BHEDU-sub003/internal/handler"
	"github.com/Schnee09/BHEDU-sub003/internal/middleware"
	"github.com/Schnee09/BHEDU-sub003/internal/repository"
	"github.com/Schnee09/BHEDU-sub003/internal/service"
	"github.com/Schnee09/BHEDU-sub003/pkg/cache"
	"github.com/Schnee09/BHEDU-sub003/pkg/config"
	"github.com/Schnee09/BHEDU-sub003/pkg/database"
	"github.com/Schnee09/BHEDU-sub003/pkg/jobs"
	"github.com/Schnee09/BHEDU-sub003/pkg/logger"
	corsmiddleware "github.com/Schnee09/BHEDU-sub003/pkg/middleware/cors"
	reqidmiddleware "github.com/Schnee09/BHEDU-sub003/pkg/middleware/requestid"
	"github.com/Schnee09/BHEDU-sub003/pkg/storage"
)

// @title BHEDU Reports API
// @version 1.0.0
// @description Attendance reporting with asynchronous CSV export
// @BasePath /
// @schemes http

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, filter resolution cache disabled", "error", err)
		redisClient = nil
	}

	attendanceRepo := repository.NewAttendanceRepository(db)
	classRepo := repository.NewClassRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	jobRepo := repository.NewExportJobRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init export storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	metricsSvc := service.NewMetricsService()

	exportSvc := service.NewExportService(attendanceRepo, studentRepo, classRepo, store, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Exports.ResultTTL,
	}, logr, nil)

	worker := service.NewExportWorker(jobRepo, exportSvc, cfg.Exports.WorkerRetries, logr)
	queue := jobs.NewQueue("report-exports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Exports.WorkerConcurrency,
		MaxRetries: cfg.Exports.WorkerRetries,
		Logger:     logr,
	})

	ctx := context.Background()
	queue.Start(ctx)
	defer queue.Stop()

	reportSvc := service.NewReportService(attendanceRepo, classRepo, studentRepo, jobRepo, queue, cacheRepo, exportSvc, metricsSvc, logr, service.ReportServiceConfig{
		InlineThreshold:    cfg.Exports.InlineThreshold,
		ResolutionCacheTTL: cfg.Exports.ResolutionCacheTTL,
		ResultTTL:          cfg.Exports.ResultTTL,
		CleanupInterval:    cfg.Exports.CleanupInterval,
	})
	reportSvc.RecoverPendingJobs(ctx)
	reportSvc.StartCleanup(ctx)

	dto.RegisterValidations()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	reportHandler := handler.NewReportHandler(reportSvc)

	api := r.Group(cfg.APIPrefix)
	// Download auth is the signed token itself.
	api.GET("/export/:token", reportHandler.DownloadExport)

	authed := api.Group("")
	authed.Use(middleware.JWT(cfg.JWT.Secret))
	authed.GET("/reports/attendance", reportHandler.AttendanceReport)
	authed.GET("/reports/jobs/:id", reportHandler.ExportJobStatus)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
