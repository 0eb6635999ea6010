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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/event-approval-api/api/swagger"
	"github.com/noah-isme/event-approval-api/internal/approval"
	"github.com/noah-isme/event-approval-api/internal/handler"
	internalmiddleware "github.com/noah-isme/event-approval-api/internal/middleware"
	"github.com/noah-isme/event-approval-api/internal/repository"
	"github.com/noah-isme/event-approval-api/internal/service"
	"github.com/noah-isme/event-approval-api/pkg/cache"
	"github.com/noah-isme/event-approval-api/pkg/config"
	"github.com/noah-isme/event-approval-api/pkg/database"
	"github.com/noah-isme/event-approval-api/pkg/export"
	"github.com/noah-isme/event-approval-api/pkg/jobs"
	"github.com/noah-isme/event-approval-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/event-approval-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/event-approval-api/pkg/middleware/requestid"
	"github.com/noah-isme/event-approval-api/pkg/storage"
)

// @title Event Approval API
// @version 1.0.0
// @description Event drafting and multi-role approval portal
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	validate := validator.New()

	hierarchy, err := approval.NewHierarchy(cfg.Approvals.Hierarchy)
	if err != nil {
		logr.Fatal("invalid approval hierarchy", zap.Error(err))
	}
	policy := approval.NewPolicy(hierarchy)

	var cacheRepo service.CacheRepository
	readiness := map[string]handler.ReadinessCheck{"postgres": db.PingContext}
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, read cache disabled", zap.Error(err))
		} else {
			redisRepo := repository.NewCacheRepository(client, cfg.Redis.KeyPrefix, logr)
			defer redisRepo.Close() //nolint:errcheck
			cacheRepo = redisRepo
			readiness["redis"] = redisRepo.Ping
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	eventRepo := repository.NewEventRepository(db)
	exportJobRepo := repository.NewExportJobRepository(db)

	authSvc := service.NewAuthService(userRepo, auditRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(userRepo, auditRepo, validate, logr)
	eventSvc := service.NewEventService(eventRepo, auditRepo, auditRepo, policy, cacheSvc, metrics, validate, logr,
		service.EventServiceConfig{MaxWriteRetries: cfg.Approvals.MaxWriteRetries})
	approvalSvc := service.NewApprovalService(eventRepo, auditRepo, policy, cacheSvc, metrics, validate, logr,
		service.ApprovalServiceConfig{MaxWriteRetries: cfg.Approvals.MaxWriteRetries})

	files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare export storage", zap.Error(err))
	}
	exportSvc := service.NewExportService(eventRepo, files,
		storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL),
		export.NewRegistry(), policy, auditRepo, metrics,
		service.ExportConfig{APIPrefix: cfg.APIPrefix, ResultTTL: cfg.Exports.SignedURLTTL}, logr)

	var exportJobs *service.ExportJobService
	if cfg.Exports.Enabled {
		worker := service.NewExportWorker(exportJobRepo, exportSvc, metrics, cfg.Exports.WorkerRetries, logr)
		exportQueue := jobs.NewQueue("exports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			RetryDelay: cfg.Exports.WorkerRetryDelay,
			Logger:     logr,
		})
		if err := metrics.RegisterQueueDepth("exports", exportQueue.Pending); err != nil {
			logr.Warn("failed to register queue depth gauge", zap.Error(err))
		}
		exportQueue.Start(ctx)
		defer exportQueue.Stop()

		exportJobs = service.NewExportJobService(exportJobRepo, exportQueue, exportSvc, auditRepo, logr, service.ExportJobServiceConfig{
			ResultTTL:       cfg.Exports.SignedURLTTL,
			CleanupInterval: cfg.Exports.CleanupInterval,
		})
		exportJobs.RecoverPendingJobs(ctx)
		exportJobs.StartCleanup(ctx)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics, "/metrics", "/health"))

	routes := handler.Routes{
		Auth:       handler.NewAuthHandler(authSvc),
		Users:      handler.NewUserHandler(userSvc),
		Events:     handler.NewEventHandler(eventSvc),
		Approvals:  handler.NewApprovalHandler(approvalSvc),
		Metrics:    handler.NewMetricsHandler(metrics, readiness),
		Tokens:     authSvc,
		Audit:      auditRepo,
		AdminRoles: cfg.Users.AdminRoles,
		Logger:     logr,
	}
	if exportJobs != nil {
		routes.Exports = handler.NewExportHandler(exportSvc, exportJobs)
	} else {
		routes.Exports = handler.NewExportHandler(exportSvc, nil)
	}
	routes.Register(r, cfg.APIPrefix)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

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
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
