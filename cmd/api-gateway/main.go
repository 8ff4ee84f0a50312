package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/school-portal-api/api/swagger"
	"github.com/noah-isme/school-portal-api/internal/handler"
	"github.com/noah-isme/school-portal-api/internal/middleware"
	"github.com/noah-isme/school-portal-api/internal/models"
	"github.com/noah-isme/school-portal-api/internal/repository"
	"github.com/noah-isme/school-portal-api/internal/service"
	"github.com/noah-isme/school-portal-api/pkg/cache"
	"github.com/noah-isme/school-portal-api/pkg/config"
	"github.com/noah-isme/school-portal-api/pkg/database"
	"github.com/noah-isme/school-portal-api/pkg/jobs"
	"github.com/noah-isme/school-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/school-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/school-portal-api/pkg/middleware/requestid"
	"github.com/noah-isme/school-portal-api/pkg/storage"
)

// @title School Portal API
// @version 1.0.0
// @description Role-based communication portal for school announcements, messages, boards, reminders and newsletters
// @BasePath /api/v1
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	userRepo := repository.NewUserRepository(db)
	commRepo := repository.NewCommunicationRepository(db)
	replyRepo := repository.NewReplyRepository(db)

	var cacheRepo *repository.CacheRepository
	if cfg.Communications.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, continuing without listing cache", "error", err)
		} else {
			cacheRepo = repository.NewCacheRepository(redisClient, logr)
			defer cacheRepo.Close() //nolint:errcheck
		}
	}
	var listingCache service.ListingCache
	if cacheRepo != nil {
		listingCache = cacheRepo
	}

	validate := service.NewValidator()
	authz := service.NewAuthzService()
	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	commSvc := service.NewCommunicationService(commRepo, listingCache, userRepo, authz, validate, logr, cfg.Communications.CacheTTL)
	bulkSvc := service.NewBulkService(commRepo, listingCache, userRepo, authz, validate, logr, cfg.Communications.MaxBulkIDs)
	replySvc := service.NewReplyService(replyRepo, commRepo, authz, validate, logr)

	var exportJobSvc *service.ExportJobService
	if cfg.Exports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportRepo := repository.NewExportRepository(db)
		exporter := service.NewExportService(commRepo, store, signer, service.ExportConfig{
			APIPrefix: cfg.APIPrefix,
			ResultTTL: cfg.Exports.SignedURLTTL,
		}, logr, nil, nil)
		worker := service.NewExportWorker(exportRepo, exporter, cfg.Exports.WorkerRetries, logr)
		queue := jobs.NewQueue("exports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     logr,
		})
		queue.Start(ctx)
		defer queue.Stop()

		exportJobSvc = service.NewExportJobService(exportRepo, queue, exporter, authz, logr, service.ExportJobServiceConfig{
			ResultTTL:       cfg.Exports.SignedURLTTL,
			CleanupInterval: cfg.Exports.CleanupInterval,
			MaxRetries:      cfg.Exports.WorkerRetries,
		})
		exportJobSvc.RecoverPendingJobs(ctx)
		exportJobSvc.StartCleanup(ctx)
	}

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	commHandler := handler.NewCommunicationHandler(commSvc, bulkSvc, metricsSvc)
	replyHandler := handler.NewReplyHandler(replySvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)

		authed := auth.Group("", middleware.JWT(authSvc))
		authed.POST("/logout", authHandler.Logout)
		authed.POST("/change-password", authHandler.ChangePassword)
		authed.GET("/me", authHandler.Me)
	}

	users := api.Group("/users", middleware.JWT(authSvc))
	{
		users.GET("", middleware.RequirePrivileged(), userHandler.List)
		users.GET("/:id", middleware.RBAC(string(models.RoleAdmin), string(models.RoleOfficeMember), "SELF"), userHandler.Get)
		users.POST("", middleware.RequireRoles(models.RoleAdmin), userHandler.Create)
		users.POST("/:id/approve", middleware.RequireRoles(models.RoleAdmin), userHandler.Approve)
		users.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Update)
		users.POST("/:id/roles", middleware.RequireRoles(models.RoleAdmin), userHandler.AssignRole)
		users.DELETE("/:id/roles/:role", middleware.RequireRoles(models.RoleAdmin), userHandler.RemoveRole)
		users.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Deactivate)
	}

	comms := api.Group("/communications", middleware.JWT(authSvc))
	{
		comms.GET("", commHandler.List)
		comms.GET("/:id", commHandler.Get)
		comms.POST("", commHandler.Create)
		comms.PUT("/:id", commHandler.Update)
		comms.PATCH("/:id/status", commHandler.Transition)
		comms.DELETE("/:id", commHandler.Delete)
		comms.POST("/bulk", middleware.RequirePrivileged(), commHandler.Bulk)

		comms.GET("/:id/replies", replyHandler.List)
		comms.POST("/:id/replies", replyHandler.Create)
		comms.DELETE("/:id/replies/:replyId", replyHandler.Delete)
	}

	admin := api.Group("/admin", middleware.JWT(authSvc), middleware.RequirePrivileged())
	admin.GET("/metrics", metricsHandler.Snapshot)

	if exportJobSvc != nil {
		exportHandler := handler.NewExportHandler(exportJobSvc)
		exports := api.Group("/exports")
		// Download authenticates via signed token, not JWT.
		exports.GET("/download/:token", exportHandler.Download)

		gated := exports.Group("", middleware.JWT(authSvc), middleware.RequirePrivileged())
		gated.POST("", middleware.Audit(userRepo, "EXPORT_REQUEST", "exports"), exportHandler.Create)
		gated.GET("/:id", exportHandler.Status)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
}
