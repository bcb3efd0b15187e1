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
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/esg-compliance-api/api/swagger"
	"github.com/noah-isme/esg-compliance-api/internal/bootstrap"
	"github.com/noah-isme/esg-compliance-api/internal/handler"
	"github.com/noah-isme/esg-compliance-api/internal/repository"
	"github.com/noah-isme/esg-compliance-api/internal/service"
	"github.com/noah-isme/esg-compliance-api/migrations"
	"github.com/noah-isme/esg-compliance-api/pkg/cache"
	"github.com/noah-isme/esg-compliance-api/pkg/config"
	"github.com/noah-isme/esg-compliance-api/pkg/database"
	"github.com/noah-isme/esg-compliance-api/pkg/jobs"
	"github.com/noah-isme/esg-compliance-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/esg-compliance-api/pkg/middleware/cors"
	"github.com/noah-isme/esg-compliance-api/pkg/queue/natsqueue"
	"github.com/noah-isme/esg-compliance-api/pkg/storage"
)

const (
	shutdownTimeout    = 15 * time.Second
	memoryQueueRetries = 2
)

// @title ESG Compliance API
// @version 1.0.0
// @description Evidence uploads, AI-assisted ESG scoring, review workflow, notifications and audit trail.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg, "api-gateway")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("api gateway stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database, "esg-api-gateway")
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db, migrations.FS, logr.Named("migrate")); err != nil {
			return err
		}
	}

	// A nil client disables caching and token revocation.
	var redisClient redis.UniversalClient
	if client, err := cache.NewRedis(ctx, cfg.Redis, "esg-api-gateway"); err != nil {
		logr.Warn("redis unavailable, checklist cache and token revocation disabled", zap.Error(err))
	} else {
		redisClient = client
		defer client.Close()
	}

	metrics := service.NewMetricsService()
	validate := validator.New()
	tx := database.NewTxManager(db)

	userRepo := repository.NewUserRepository(db)
	checklistRepo := repository.NewChecklistRepository(db)
	fileRepo := repository.NewFileRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)

	auditSvc := service.NewAuditService(repository.NewAuditRepository(db), logr.Named("audit"), service.AuditConfig{
		DefaultLimit: cfg.Audit.DefaultLimit,
		MaxLimit:     cfg.Audit.MaxLimit,
	})
	authSvc := service.NewAuthService(userRepo, auditSvc, repository.NewTokenRevocationRepository(redisClient), tx, validate, logr.Named("auth"), service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		SingleSession:      cfg.JWT.SingleSession,
	})
	userSvc := service.NewUserService(userRepo, auditSvc, tx, validate, logr.Named("users"))

	store, err := bootstrap.Storage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	dispatcher := bootstrap.Dispatcher(cfg, db, metrics, logr)

	checks := map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
		"redis":    cacheRepo.Ping,
	}

	g, gctx := errgroup.WithContext(ctx)

	var publisher service.ScoringPublisher
	if cfg.Scoring.Enabled {
		switch cfg.Scoring.Transport {
		case config.TransportNATS:
			broker, err := natsqueue.Connect(cfg.NATS, "esg-api-gateway", bootstrap.Executor(cfg.Scoring, logr.Named("nats")), logr.Named("nats"))
			if err != nil {
				return err
			}
			defer broker.Close()
			publisher = service.NewBrokerPublisher(broker)
			checks["nats"] = func(context.Context) error { return broker.Ping() }
		default:
			worker, err := bootstrap.ScoringWorker(ctx, cfg, bootstrap.ScoringDeps{
				DB:         db,
				Store:      store,
				Audit:      auditSvc,
				Dispatcher: dispatcher,
				Metrics:    metrics,
				Logger:     logr,
			})
			if err != nil {
				return err
			}
			queue := jobs.NewQueue("scoring", worker.HandleJob, jobs.QueueConfig{
				Workers:    cfg.Scoring.Workers,
				BufferSize: cfg.Scoring.QueueBuffer,
				MaxRetries: memoryQueueRetries,
				RetryDelay: cfg.Scoring.InitialBackoff,
				MaxDelay:   cfg.Scoring.MaxBackoff,
				Logger:     logr.Named("jobs"),
			})
			queue.Start(gctx)
			defer queue.Stop()
			publisher = service.NewMemoryPublisher(queue)
		}
	}

	fileSvc := service.NewFileService(service.FileServiceDeps{
		Files:      fileRepo,
		Comments:   repository.NewCommentRepository(db),
		Results:    repository.NewAIResultRepository(db),
		Checklists: checklistRepo,
		Audit:      auditSvc,
		Dispatcher: dispatcher,
		Publisher:  publisher,
		Store:      store,
		Signer:     storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL),
		Tx:         tx,
	}, validate, logr.Named("files"), service.FileConfig{
		MaxFileSizeBytes: cfg.Uploads.MaxFileSizeBytes,
		AllowedMIMEs:     cfg.Uploads.AllowedMIMEs,
		DownloadPath:     cfg.APIPrefix + "/files/download",
		ClaimLease:       cfg.Scoring.ClaimLease,
	})

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Checklists.CacheTTL, logr.Named("cache"))
	checklistSvc := service.NewChecklistService(checklistRepo, fileRepo, fileSvc, cacheSvc, auditSvc, tx, validate, logr.Named("checklists"), service.ChecklistConfig{
		CacheTTL:           cfg.Checklists.CacheTTL,
		RescoreConcurrency: cfg.Scoring.RescoreConcurrency,
	})
	notificationSvc := service.NewNotificationService(repository.NewNotificationRepository(db), logr.Named("notifications"))

	router := handler.NewRouter(handler.RouterConfig{
		APIPrefix: cfg.APIPrefix,
		Auth:      authSvc,
		Metrics:   metrics,
		Logger:    logr,
		CORS: corsmiddleware.Config{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			MaxAge:         cfg.CORS.MaxAge,
		},
	}, handler.Handlers{
		Auth:          handler.NewAuthHandler(authSvc),
		Users:         handler.NewUserHandler(userSvc),
		Checklists:    handler.NewChecklistHandler(checklistSvc),
		Files:         handler.NewFileHandler(fileSvc, cfg.Uploads.MaxFileSizeBytes),
		Notifications: handler.NewNotificationHandler(notificationSvc),
		Audit:         handler.NewAuditHandler(auditSvc),
		Metrics:       handler.NewMetricsHandler(metrics, checks),
	})

	if cfg.Env != config.EnvProduction {
		router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logr.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Env),
			zap.String("scoring_transport", cfg.Scoring.Transport),
			zap.String("storage", cfg.Storage.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logr.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
