package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	"github.com/noah-isme/esg-compliance-api/internal/prompt"
	"github.com/noah-isme/esg-compliance-api/internal/scoring"
	"github.com/noah-isme/esg-compliance-api/pkg/jobs"
)

// Scoring run outcomes.
const (
	ScoringOutcomeSuccess             = "success"
	ScoringOutcomeFormatExhausted     = "format_exhausted"
	ScoringOutcomeUpstreamUnavailable = "upstream_unavailable"
	ScoringOutcomeFailed              = "failed"
)

const (
	defaultClaimLease      = 15 * time.Minute
	defaultDiagnosticRunes = 2000
	releaseTimeout         = 5 * time.Second
)

type scoringFileStore interface {
	Claim(ctx context.Context, id string, lease time.Duration, now time.Time) (bool, error)
	FindByID(ctx context.Context, id string) (*models.FileUpload, error)
	MarkCompleted(ctx context.Context, id string, claimedAt, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, reason string, claimedAt, now time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, id string, claimedAt, now time.Time) (bool, error)
}

// errClaimLost aborts a completion transaction when another worker has
// reclaimed the upload.
var errClaimLost = errors.New("scoring claim lost")

type scoringChecklistStore interface {
	FindByID(ctx context.Context, id string) (*models.Checklist, error)
	ListItems(ctx context.Context, checklistID string) ([]models.ChecklistItem, error)
}

type resultWriter interface {
	Create(ctx context.Context, result *models.AIResult) error
}

type objectOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type textExtractor interface {
	Extract(ctx context.Context, r io.Reader, mimeType string) (string, error)
}

type itemScorer interface {
	ScoreRequest(ctx context.Context, req scoring.Request) (*models.AnalysisResult, error)
}

type scoringRunMetrics interface {
	ObserveScoringRun(outcome string, duration time.Duration)
}

// ScoringWorkerDeps groups ScoringWorker collaborators.
type ScoringWorkerDeps struct {
	Files      scoringFileStore
	Checklists scoringChecklistStore
	Results    resultWriter
	Store      objectOpener
	Extractor  textExtractor
	Scorer     itemScorer
	Audit      auditAppender
	Dispatcher eventDispatcher
	Metrics    scoringRunMetrics
	Tx         txRunner
}

// ScoringWorkerConfig tunes claims and failure diagnostics.
type ScoringWorkerConfig struct {
	ClaimLease      time.Duration
	DiagnosticRunes int
}

// ScoringWorker runs the scoring pipeline for one upload at a time. The
// completion calls happen outside any transaction.
type ScoringWorker struct {
	deps   ScoringWorkerDeps
	tx     txRunner
	cfg    ScoringWorkerConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewScoringWorker constructs a ScoringWorker.
func NewScoringWorker(deps ScoringWorkerDeps, logger *zap.Logger, cfg ScoringWorkerConfig) *ScoringWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = defaultClaimLease
	}
	if cfg.DiagnosticRunes <= 0 {
		cfg.DiagnosticRunes = defaultDiagnosticRunes
	}
	tx := deps.Tx
	if tx == nil {
		tx = directTx{}
	}
	return &ScoringWorker{deps: deps, tx: tx, cfg: cfg, logger: logger, now: time.Now}
}

// HandleJob adapts the worker to the in-process queue.
func (w *ScoringWorker) HandleJob(ctx context.Context, job jobs.Job) error {
	return w.HandleMessage(ctx, job.Payload)
}

// HandleMessage adapts the worker to broker payloads.
func (w *ScoringWorker) HandleMessage(ctx context.Context, payload []byte) error {
	job, err := DecodeScoringJob(payload)
	if err != nil {
		w.logger.Warn("dropping malformed scoring job", zap.Error(err))
		return nil
	}
	return w.Process(ctx, job.FileID)
}

// Process scores one upload. It returns an error only for infrastructure
// failures worth retrying; scoring failures are persisted on the upload.
// Whenever an error is returned the claim has been released, so a redelivery
// can claim the upload again.
func (w *ScoringWorker) Process(ctx context.Context, fileID string) error {
	start := w.now()
	// Postgres keeps microseconds; the ownership checks compare for equality.
	claimedAt := start.UTC().Truncate(time.Microsecond)
	claimed, err := w.deps.Files.Claim(ctx, fileID, w.cfg.ClaimLease, claimedAt)
	if err != nil {
		return fmt.Errorf("claim %s: %w", fileID, err)
	}
	if !claimed {
		w.logger.Debug("scoring claim skipped", zap.String("file_id", fileID))
		return nil
	}
	run := scoringRun{claimedAt: claimedAt, start: start}

	file, err := w.deps.Files.FindByID(ctx, fileID)
	if err != nil {
		w.release(ctx, w.logger, fileID, claimedAt)
		return fmt.Errorf("load file %s: %w", fileID, err)
	}
	logger := w.logger.With(zap.String("file_id", file.ID), zap.String("checklist_id", file.ChecklistID))

	result, err := w.score(ctx, file)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("scoring interrupted", zap.Error(err))
			w.release(ctx, logger, file.ID, claimedAt)
			return ctx.Err()
		}
		return w.fail(ctx, logger, file, run, err)
	}
	return w.complete(ctx, logger, file, run, result)
}

type scoringRun struct {
	claimedAt time.Time
	start     time.Time
}

// release hands the upload back as pending. It runs detached from ctx so a
// cancelled delivery still releases. A failed release leaves the claim to
// expire, after which a rescore can reset it.
func (w *ScoringWorker) release(ctx context.Context, logger *zap.Logger, fileID string, claimedAt time.Time) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	released, err := w.deps.Files.ReleaseClaim(ctx, fileID, claimedAt, w.now().UTC())
	switch {
	case err != nil:
		logger.Error("failed to release scoring claim", zap.String("file_id", fileID), zap.Error(err))
	case !released:
		logger.Warn("scoring claim already gone", zap.String("file_id", fileID))
	}
}

func (w *ScoringWorker) score(ctx context.Context, file *models.FileUpload) (*models.AIResult, error) {
	checklist, err := w.deps.Checklists.FindByID(ctx, file.ChecklistID)
	if err != nil {
		return nil, fmt.Errorf("load checklist: %w", err)
	}
	items, err := w.deps.Checklists.ListItems(ctx, file.ChecklistID)
	if err != nil {
		return nil, fmt.Errorf("load checklist items: %w", err)
	}
	if len(items) == 0 {
		return nil, errors.New("checklist has no items to score")
	}

	text, err := w.documentText(ctx, file)
	if err != nil {
		return nil, err
	}

	results := make([]models.ItemResult, 0, len(items))
	var weighted, totalWeight float64
	var modelVersion string
	var elapsedMS int64
	for _, item := range items {
		domain := prompt.DomainForCategory(item.CategoryValue())
		analysis, err := w.deps.Scorer.ScoreRequest(ctx, scoring.Request{
			Item:           item,
			ChecklistTitle: checklist.Title,
			DocumentText:   text,
			Domain:         domain,
		})
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", item.ID, err)
		}
		results = append(results, models.ItemResult{
			ChecklistItemID: item.ID,
			ItemVersion:     item.Version,
			Domain:          string(domain),
			Weight:          item.Weight,
			Analysis:        *analysis,
		})
		weighted += analysis.Score * item.Weight
		totalWeight += item.Weight
		elapsedMS += analysis.ProcessingTimeMS
		if modelVersion == "" {
			modelVersion = analysis.AIModelVersion
		}
	}

	payload, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("encode item results: %w", err)
	}
	overall := 0.0
	if totalWeight > 0 {
		overall = weighted / totalWeight
	}
	return &models.AIResult{
		ID:               uuid.NewString(),
		FileUploadID:     file.ID,
		OverallScore:     overall,
		ItemResults:      payload,
		AIModelVersion:   strPtr(modelVersion),
		ProcessingTimeMS: elapsedMS,
	}, nil
}

func (w *ScoringWorker) documentText(ctx context.Context, file *models.FileUpload) (string, error) {
	rc, err := w.deps.Store.Open(ctx, file.StorageKey)
	if err != nil {
		return "", fmt.Errorf("open stored file: %w", err)
	}
	defer rc.Close()

	text, err := w.deps.Extractor.Extract(ctx, rc, file.MimeType)
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return text, nil
}

func (w *ScoringWorker) complete(ctx context.Context, logger *zap.Logger, file *models.FileUpload, run scoringRun, result *models.AIResult) error {
	var transitionID string
	err := w.tx.WithinTx(ctx, func(ctx context.Context) error {
		owned, err := w.deps.Files.MarkCompleted(ctx, file.ID, run.claimedAt, w.now().UTC())
		if err != nil {
			return err
		}
		if !owned {
			return errClaimLost
		}
		if err := w.deps.Results.Create(ctx, result); err != nil {
			return err
		}
		transitionID, err = w.deps.Audit.Append(ctx, AuditEntry{
			Action:       models.AuditActionScoringDone,
			ResourceType: models.ResourceFile,
			ResourceID:   &file.ID,
			Details:      strPtr(fmt.Sprintf("score=%s result=%s", formatScore(result.OverallScore), result.ID)),
		})
		return err
	})
	if errors.Is(err, errClaimLost) {
		logger.Warn("scoring result discarded; upload reclaimed by another run")
		return nil
	}
	if err != nil {
		w.release(ctx, logger, file.ID, run.claimedAt)
		return fmt.Errorf("persist scoring result: %w", err)
	}

	w.observe(ScoringOutcomeSuccess, run.start)
	logger.Info("scoring completed", zap.Float64("score", result.OverallScore), zap.Duration("elapsed", w.now().Sub(run.start)))
	file.ProcessingStatus = models.ProcessingCompleted
	w.deps.Dispatcher.Dispatch(ctx, ScoringFinished{File: *file, Succeeded: true, Score: result.OverallScore, TransitionID: transitionID})
	return nil
}

func (w *ScoringWorker) fail(ctx context.Context, logger *zap.Logger, file *models.FileUpload, run scoringRun, cause error) error {
	outcome := ScoringOutcomeFailed
	reason := cause.Error()
	var scoringErr *scoring.ScoringError
	if errors.As(cause, &scoringErr) {
		reason = scoringErr.Diagnostic(w.cfg.DiagnosticRunes)
		switch scoringErr.Kind {
		case scoring.FormatExhausted:
			outcome = ScoringOutcomeFormatExhausted
		case scoring.UpstreamUnavailable:
			outcome = ScoringOutcomeUpstreamUnavailable
		}
	}

	var transitionID string
	err := w.tx.WithinTx(ctx, func(ctx context.Context) error {
		owned, err := w.deps.Files.MarkFailed(ctx, file.ID, reason, run.claimedAt, w.now().UTC())
		if err != nil {
			return err
		}
		if !owned {
			return errClaimLost
		}
		transitionID, err = w.deps.Audit.Append(ctx, AuditEntry{
			Action:       models.AuditActionScoringFailed,
			ResourceType: models.ResourceFile,
			ResourceID:   &file.ID,
			Details:      strPtr(outcome + ": " + cause.Error()),
		})
		return err
	})
	if errors.Is(err, errClaimLost) {
		logger.Warn("scoring failure discarded; upload reclaimed by another run", zap.Error(cause))
		return nil
	}
	if err != nil {
		w.release(ctx, logger, file.ID, run.claimedAt)
		return fmt.Errorf("persist scoring failure: %w", err)
	}

	w.observe(outcome, run.start)
	logger.Error("scoring failed", zap.String("outcome", outcome), zap.Error(cause))
	file.ProcessingStatus = models.ProcessingFailed
	w.deps.Dispatcher.Dispatch(ctx, ScoringFinished{File: *file, Succeeded: false, TransitionID: transitionID})
	return nil
}

func (w *ScoringWorker) observe(outcome string, start time.Time) {
	if w.deps.Metrics != nil {
		w.deps.Metrics.ObserveScoringRun(outcome, w.now().Sub(start))
	}
}
