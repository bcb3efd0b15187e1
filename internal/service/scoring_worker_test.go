package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	"github.com/noah-isme/esg-compliance-api/internal/prompt"
	"github.com/noah-isme/esg-compliance-api/internal/scoring"
	"github.com/noah-isme/esg-compliance-api/pkg/jobs"
)

type scoringFilesStub struct {
	mu        sync.Mutex
	file      models.FileUpload
	claimErr  error
	completed int
	failed    int
	released  int
	reason    string
}

func (s *scoringFilesStub) Claim(ctx context.Context, id string, lease time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return false, s.claimErr
	}
	switch s.file.ProcessingStatus {
	case models.ProcessingInProgress:
		if s.file.ClaimedAt != nil && !s.file.ClaimedAt.Before(now.Add(-lease)) {
			return false, nil
		}
	case models.ProcessingPending, models.ProcessingFailed:
	default:
		return false, nil
	}
	s.file.ProcessingStatus = models.ProcessingInProgress
	claimedAt := now
	s.file.ClaimedAt = &claimedAt
	return true, nil
}

func (s *scoringFilesStub) FindByID(ctx context.Context, id string) (*models.FileUpload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := s.file
	return &copy, nil
}

func (s *scoringFilesStub) ownedLocked(claimedAt time.Time) bool {
	return s.file.ProcessingStatus == models.ProcessingInProgress && s.file.ClaimedAt != nil && s.file.ClaimedAt.Equal(claimedAt)
}

func (s *scoringFilesStub) MarkCompleted(ctx context.Context, id string, claimedAt, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ownedLocked(claimedAt) {
		return false, nil
	}
	s.completed++
	s.file.ProcessingStatus = models.ProcessingCompleted
	return true, nil
}

func (s *scoringFilesStub) MarkFailed(ctx context.Context, id, reason string, claimedAt, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ownedLocked(claimedAt) {
		return false, nil
	}
	s.failed++
	s.reason = reason
	s.file.ProcessingStatus = models.ProcessingFailed
	return true, nil
}

func (s *scoringFilesStub) ReleaseClaim(ctx context.Context, id string, claimedAt, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ownedLocked(claimedAt) {
		return false, nil
	}
	s.released++
	s.file.ProcessingStatus = models.ProcessingPending
	s.file.ClaimedAt = nil
	return true, nil
}

// rollbackTx restores the upload row when the unit of work fails.
type rollbackTx struct {
	files *scoringFilesStub
}

func (r rollbackTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.files.mu.Lock()
	saved, completed, failed := r.files.file, r.files.completed, r.files.failed
	r.files.mu.Unlock()
	if err := fn(ctx); err != nil {
		r.files.mu.Lock()
		r.files.file, r.files.completed, r.files.failed = saved, completed, failed
		r.files.mu.Unlock()
		return err
	}
	return nil
}

type scoringChecklistStub struct {
	items []models.ChecklistItem
}

func (s scoringChecklistStub) FindByID(ctx context.Context, id string) (*models.Checklist, error) {
	return &models.Checklist{ID: id, Title: "GRI 2021"}, nil
}

func (s scoringChecklistStub) ListItems(ctx context.Context, checklistID string) ([]models.ChecklistItem, error) {
	return s.items, nil
}

type resultsSpy struct {
	created []*models.AIResult
	errs    []error
}

func (r *resultsSpy) Create(ctx context.Context, result *models.AIResult) error {
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return err
	}
	r.created = append(r.created, result)
	return nil
}

type extractorFunc func(ctx context.Context, r io.Reader, mimeType string) (string, error)

func (f extractorFunc) Extract(ctx context.Context, r io.Reader, mimeType string) (string, error) {
	return f(ctx, r, mimeType)
}

type scorerStub struct {
	mu      sync.Mutex
	scores  map[string]float64
	err     error
	domains []prompt.Domain
	texts   []string
}

func (s *scorerStub) ScoreRequest(ctx context.Context, req scoring.Request) (*models.AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domains = append(s.domains, req.Domain)
	s.texts = append(s.texts, req.DocumentText)
	if s.err != nil {
		return nil, s.err
	}
	return &models.AnalysisResult{Score: s.scores[req.Item.ID], AIModelVersion: "gpt-4o-2024-08-06", ProcessingTimeMS: 40}, nil
}

type runMetricsSpy struct {
	outcomes []string
}

func (m *runMetricsSpy) ObserveScoringRun(outcome string, duration time.Duration) {
	m.outcomes = append(m.outcomes, outcome)
}

type workerFixture struct {
	worker     *ScoringWorker
	files      *scoringFilesStub
	results    *resultsSpy
	scorer     *scorerStub
	audit      *auditSpy
	dispatcher *dispatcherSpy
	metrics    *runMetricsSpy
}

func newWorkerFixture() *workerFixture {
	env := "Environmental"
	gov := "Governance"
	fx := &workerFixture{
		files: &scoringFilesStub{file: models.FileUpload{
			ID: "f1", UserID: "owner", ChecklistID: "c1", StorageKey: "c1/f1.txt", MimeType: "text/plain",
			ProcessingStatus: models.ProcessingPending,
		}},
		results:    &resultsSpy{},
		scorer:     &scorerStub{scores: map[string]float64{"i1": 0.9, "i2": 0.3}},
		audit:      &auditSpy{},
		dispatcher: &dispatcherSpy{},
		metrics:    &runMetricsSpy{},
	}
	store := &memoryObjectStore{objects: map[string][]byte{"c1/f1.txt": []byte("We cut scope 1 emissions by 12%.")}}
	fx.worker = NewScoringWorker(ScoringWorkerDeps{
		Files: fx.files,
		Checklists: scoringChecklistStub{items: []models.ChecklistItem{
			{ID: "i1", Question: "Emissions disclosed?", Category: &env, Weight: 2, Version: 1},
			{ID: "i2", Question: "Board oversight?", Category: &gov, Weight: 1, Version: 4},
		}},
		Results: fx.results,
		Store:   store,
		Extractor: extractorFunc(func(ctx context.Context, r io.Reader, mimeType string) (string, error) {
			raw, err := io.ReadAll(r)
			return string(raw), err
		}),
		Scorer:     fx.scorer,
		Audit:      fx.audit,
		Dispatcher: fx.dispatcher,
		Metrics:    fx.metrics,
		Tx:         rollbackTx{files: fx.files},
	}, zap.NewNop(), ScoringWorkerConfig{DiagnosticRunes: 10})
	return fx
}

func TestScoringWorkerCompletes(t *testing.T) {
	fx := newWorkerFixture()

	require.NoError(t, fx.worker.Process(context.Background(), "f1"))

	require.Len(t, fx.results.created, 1)
	result := fx.results.created[0]
	assert.InDelta(t, 0.7, result.OverallScore, 1e-9)
	assert.Equal(t, "gpt-4o-2024-08-06", *result.AIModelVersion)
	assert.Equal(t, int64(80), result.ProcessingTimeMS)

	var items []models.ItemResult
	require.NoError(t, json.Unmarshal(result.ItemResults, &items))
	require.Len(t, items, 2)
	assert.Equal(t, 4, items[1].ItemVersion)
	assert.Equal(t, []prompt.Domain{prompt.DomainEnvironmental, prompt.DomainGovernance}, fx.scorer.domains)
	assert.Equal(t, "We cut scope 1 emissions by 12%.", fx.scorer.texts[0])

	assert.Equal(t, 1, fx.files.completed)
	assert.Equal(t, []string{models.AuditActionScoringDone}, fx.audit.actions())
	assert.Equal(t, []string{ScoringOutcomeSuccess}, fx.metrics.outcomes)

	require.Len(t, fx.dispatcher.events, 1)
	event := fx.dispatcher.events[0].(ScoringFinished)
	assert.True(t, event.Succeeded)
	assert.Equal(t, "audit-"+models.AuditActionScoringDone, event.TransitionID)
}

func TestScoringWorkerRecordsFormatFailure(t *testing.T) {
	fx := newWorkerFixture()
	fx.scorer.err = &scoring.ScoringError{Kind: scoring.FormatExhausted, Attempts: 3, LastRaw: "Overall Score: maybe good, hard to say"}

	require.NoError(t, fx.worker.Process(context.Background(), "f1"))

	assert.Empty(t, fx.results.created)
	assert.Equal(t, 1, fx.files.failed)
	assert.Contains(t, fx.files.reason, "format_exhausted after 3 attempts")
	assert.True(t, strings.HasSuffix(fx.files.reason, "Overall Sc..."))
	assert.Equal(t, []string{models.AuditActionScoringFailed}, fx.audit.actions())
	assert.Equal(t, []string{ScoringOutcomeFormatExhausted}, fx.metrics.outcomes)

	event := fx.dispatcher.events[0].(ScoringFinished)
	assert.False(t, event.Succeeded)
}

func TestScoringWorkerSkipsUnclaimable(t *testing.T) {
	fx := newWorkerFixture()
	fx.files.file.ProcessingStatus = models.ProcessingCompleted

	require.NoError(t, fx.worker.Process(context.Background(), "f1"))
	assert.Empty(t, fx.scorer.domains)
	assert.Empty(t, fx.audit.entries)
	assert.Empty(t, fx.metrics.outcomes)
}

func TestScoringWorkerClaimErrorIsRetryable(t *testing.T) {
	fx := newWorkerFixture()
	fx.files.claimErr = errors.New("connection refused")

	err := fx.worker.Process(context.Background(), "f1")
	require.Error(t, err)
	assert.Empty(t, fx.audit.entries)
}

func TestScoringWorkerReleasesClaimOnCancellation(t *testing.T) {
	fx := newWorkerFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fx.scorer.err = context.Canceled

	err := fx.worker.Process(ctx, "f1")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fx.files.failed)
	assert.Equal(t, 1, fx.files.released)
	assert.Equal(t, models.ProcessingPending, fx.files.file.ProcessingStatus)
}

func TestScoringWorkerRetriesAfterPersistFailure(t *testing.T) {
	fx := newWorkerFixture()
	fx.results.errs = []error{errors.New("connection reset")}

	err := fx.worker.Process(context.Background(), "f1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist scoring result")
	assert.Equal(t, models.ProcessingPending, fx.files.file.ProcessingStatus)
	assert.Empty(t, fx.dispatcher.events)

	require.NoError(t, fx.worker.Process(context.Background(), "f1"))
	assert.Equal(t, models.ProcessingCompleted, fx.files.file.ProcessingStatus)
	assert.Equal(t, 1, fx.files.completed)
	assert.Len(t, fx.results.created, 1)
	assert.Equal(t, []string{models.AuditActionScoringDone}, fx.audit.actions())
	assert.Len(t, fx.scorer.domains, 4)
}

func TestScoringWorkerDiscardsResultAfterReclaim(t *testing.T) {
	fx := newWorkerFixture()
	// Another run takes over the upload while scoring is in flight.
	fx.worker.deps.Scorer = itemScorerFunc(func(ctx context.Context, req scoring.Request) (*models.AnalysisResult, error) {
		fx.files.mu.Lock()
		reclaimed := fx.files.file.ClaimedAt.Add(time.Hour)
		fx.files.file.ClaimedAt = &reclaimed
		fx.files.mu.Unlock()
		return &models.AnalysisResult{Score: 0.5}, nil
	})

	require.NoError(t, fx.worker.Process(context.Background(), "f1"))
	assert.Empty(t, fx.results.created)
	assert.Equal(t, 0, fx.files.completed)
	assert.Empty(t, fx.audit.entries)
	assert.Empty(t, fx.dispatcher.events)
	assert.Empty(t, fx.metrics.outcomes)
	assert.Equal(t, models.ProcessingInProgress, fx.files.file.ProcessingStatus)
}

func TestScoringWorkerTakesOverExpiredClaim(t *testing.T) {
	fx := newWorkerFixture()
	stale := time.Now().UTC().Add(-time.Hour)
	fx.files.file.ProcessingStatus = models.ProcessingInProgress
	fx.files.file.ClaimedAt = &stale

	require.NoError(t, fx.worker.Process(context.Background(), "f1"))
	assert.Equal(t, 1, fx.files.completed)
	assert.Len(t, fx.results.created, 1)
}

type itemScorerFunc func(ctx context.Context, req scoring.Request) (*models.AnalysisResult, error)

func (f itemScorerFunc) ScoreRequest(ctx context.Context, req scoring.Request) (*models.AnalysisResult, error) {
	return f(ctx, req)
}

func TestScoringWorkerDropsMalformedMessage(t *testing.T) {
	fx := newWorkerFixture()

	require.NoError(t, fx.worker.HandleMessage(context.Background(), []byte(`{"nope":true}`)))
	assert.Empty(t, fx.scorer.domains)
}

func TestScoringWorkerThroughMemoryQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	fx := newWorkerFixture()
	done := make(chan error, 1)
	queue := jobs.NewQueue("scoring", fx.worker.HandleJob, jobs.QueueConfig{
		Workers: 1,
		OnDone:  func(_ jobs.Job, err error) { done <- err },
	})
	queue.Start(context.Background())

	require.NoError(t, NewMemoryPublisher(queue).PublishScoring(context.Background(), "f1"))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scoring job did not finish")
	}
	queue.Stop()

	assert.Equal(t, 1, fx.files.completed)
	assert.Len(t, fx.results.created, 1)
}
