// Package bootstrap assembles the components shared by the API gateway and the
// standalone scoring worker.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/esg-compliance-api/internal/prompt"
	"github.com/noah-isme/esg-compliance-api/internal/repository"
	"github.com/noah-isme/esg-compliance-api/internal/scoring"
	"github.com/noah-isme/esg-compliance-api/internal/service"
	"github.com/noah-isme/esg-compliance-api/pkg/config"
	"github.com/noah-isme/esg-compliance-api/pkg/database"
	"github.com/noah-isme/esg-compliance-api/pkg/llm/provider"
	"github.com/noah-isme/esg-compliance-api/pkg/mailer"
	"github.com/noah-isme/esg-compliance-api/pkg/resilience"
	"github.com/noah-isme/esg-compliance-api/pkg/storage"
	"github.com/noah-isme/esg-compliance-api/pkg/textextract"
)

// Storage opens the configured evidence store.
func Storage(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStore, error) {
	switch cfg.Driver {
	case config.StorageDriverMinio:
		store, err := storage.NewMinioStorage(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init minio storage: %w", err)
		}
		return store, nil
	case config.StorageDriverLocal, "":
		store, err := storage.NewLocalStorage(cfg.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Executor builds the retry and circuit breaker policy for upstream calls.
func Executor(cfg config.ScoringConfig, logger *zap.Logger) *resilience.Executor {
	policy := resilience.DefaultConfig()
	policy.RetryMaxAttempts = cfg.MaxUpstreamAttempts
	policy.RetryInitialBackoff = cfg.InitialBackoff
	policy.RetryMaxBackoff = cfg.MaxBackoff
	policy.BreakerEnabled = cfg.BreakerEnabled
	if cfg.BreakerOpenTimeout > 0 {
		policy.BreakerOpenTimeout = cfg.BreakerOpenTimeout
	}
	return resilience.NewExecutor(policy, resilience.WithLogger(logger))
}

// Dispatcher wires notification persistence, recipients and email delivery.
func Dispatcher(cfg *config.Config, db *sqlx.DB, metrics *service.MetricsService, logger *zap.Logger) *service.NotificationDispatcher {
	return service.NewNotificationDispatcher(
		repository.NewNotificationRepository(db),
		repository.NewUserRepository(db),
		mailer.New(cfg.SMTP),
		metrics,
		logger.Named("notifications"),
		cfg.Notifications.FrontendBaseURL,
	)
}

// ScoringDeps are the process-level collaborators of a scoring worker.
type ScoringDeps struct {
	DB         *sqlx.DB
	Store      storage.ObjectStore
	Audit      *service.AuditService
	Dispatcher *service.NotificationDispatcher
	Metrics    *service.MetricsService
	Logger     *zap.Logger
}

// ScoringWorker assembles the completion client, prompt catalog and
// orchestrator behind a ScoringWorker.
func ScoringWorker(ctx context.Context, cfg *config.Config, deps ScoringDeps) (*service.ScoringWorker, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := provider.New(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("init llm client: %w", err)
	}

	var promptOpts []prompt.Option
	if cfg.Scoring.MaxExcerptRunes > 0 {
		promptOpts = append(promptOpts, prompt.WithMaxExcerptRunes(cfg.Scoring.MaxExcerptRunes))
	}
	templates, err := prompt.LoadRegistryFile(cfg.Scoring.PromptCatalogPath, promptOpts...)
	if err != nil {
		return nil, fmt.Errorf("load prompt catalog: %w", err)
	}

	orchestrator := scoring.NewOrchestrator(
		templates,
		client,
		Executor(cfg.Scoring, logger.Named("llm")),
		scoring.Config{
			Model:             cfg.LLM.Model,
			MaxTokens:         cfg.LLM.MaxTokens,
			Temperature:       cfg.LLM.Temperature,
			CallTimeout:       cfg.LLM.CallTimeout,
			MaxFormatAttempts: cfg.Scoring.MaxFormatAttempts,
		},
		scoring.WithLogger(logger.Named("orchestrator")),
		scoring.WithObserver(deps.Metrics),
	)

	worker := service.NewScoringWorker(service.ScoringWorkerDeps{
		Files:      repository.NewFileRepository(deps.DB),
		Checklists: repository.NewChecklistRepository(deps.DB),
		Results:    repository.NewAIResultRepository(deps.DB),
		Store:      deps.Store,
		Extractor:  textextract.New(cfg.Uploads.MaxFileSizeBytes),
		Scorer:     orchestrator,
		Audit:      deps.Audit,
		Dispatcher: deps.Dispatcher,
		Metrics:    deps.Metrics,
		Tx:         database.NewTxManager(deps.DB),
	}, logger.Named("scoring"), service.ScoringWorkerConfig{ClaimLease: cfg.Scoring.ClaimLease})

	logger.Info("scoring pipeline ready",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model),
		zap.Int("max_format_attempts", cfg.Scoring.MaxFormatAttempts),
	)
	return worker, nil
}
