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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/esg-compliance-api/internal/bootstrap"
	"github.com/noah-isme/esg-compliance-api/internal/repository"
	"github.com/noah-isme/esg-compliance-api/internal/service"
	"github.com/noah-isme/esg-compliance-api/pkg/config"
	"github.com/noah-isme/esg-compliance-api/pkg/database"
	"github.com/noah-isme/esg-compliance-api/pkg/logger"
	"github.com/noah-isme/esg-compliance-api/pkg/queue/natsqueue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg, "scoring-worker")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("scoring worker stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	if cfg.Scoring.Transport != config.TransportNATS {
		return fmt.Errorf("scoring worker requires SCORING_TRANSPORT=%s, got %q", config.TransportNATS, cfg.Scoring.Transport)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database, "esg-scoring-worker")
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	store, err := bootstrap.Storage(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	metrics := service.NewMetricsService()
	auditSvc := service.NewAuditService(repository.NewAuditRepository(db), logr.Named("audit"), service.AuditConfig{
		DefaultLimit: cfg.Audit.DefaultLimit,
		MaxLimit:     cfg.Audit.MaxLimit,
	})

	worker, err := bootstrap.ScoringWorker(ctx, cfg, bootstrap.ScoringDeps{
		DB:         db,
		Store:      store,
		Audit:      auditSvc,
		Dispatcher: bootstrap.Dispatcher(cfg, db, metrics, logr),
		Metrics:    metrics,
		Logger:     logr,
	})
	if err != nil {
		return err
	}

	broker, err := natsqueue.Connect(cfg.NATS, "esg-scoring-worker", nil, logr.Named("nats"))
	if err != nil {
		return err
	}
	defer broker.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := broker.Ping(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Scoring.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logr.Info("scoring worker consuming",
			zap.String("subject", cfg.NATS.Subject),
			zap.String("group", cfg.NATS.QueueGroup),
		)
		return broker.Subscribe(gctx, worker.HandleMessage)
	})

	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
