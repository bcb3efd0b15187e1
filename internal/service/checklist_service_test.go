package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	"github.com/noah-isme/esg-compliance-api/pkg/cache"
	appErrors "github.com/noah-isme/esg-compliance-api/pkg/errors"
)

type checklistStoreStub struct {
	checklists map[string]*models.Checklist
	items      map[string]*models.ChecklistItem
	hasUploads bool
	scores     []float64
	findCalls  int
	itemCalls  int
	deleted    []string
}

func newChecklistStoreStub() *checklistStoreStub {
	return &checklistStoreStub{
		checklists: map[string]*models.Checklist{"c1": {ID: "c1", Title: "GRI", IsActive: true}},
		items: map[string]*models.ChecklistItem{
			"i1": {ID: "i1", ChecklistID: "c1", Question: "Emissions disclosed?", Weight: 2, Version: 1},
			"i2": {ID: "i2", ChecklistID: "c1", Question: "Board diversity?", Weight: 1, Version: 3, OrderIndex: 1},
		},
	}
}

func (s *checklistStoreStub) List(ctx context.Context, filter models.ChecklistFilter) ([]models.Checklist, int, error) {
	return nil, 0, nil
}

func (s *checklistStoreStub) FindByID(ctx context.Context, id string) (*models.Checklist, error) {
	s.findCalls++
	c, ok := s.checklists[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *c
	return &copy, nil
}

func (s *checklistStoreStub) Create(ctx context.Context, checklist *models.Checklist) error {
	checklist.ID = "new"
	s.checklists[checklist.ID] = checklist
	return nil
}

func (s *checklistStoreStub) Update(ctx context.Context, checklist *models.Checklist) error {
	copy := *checklist
	s.checklists[checklist.ID] = &copy
	return nil
}

func (s *checklistStoreStub) Delete(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	delete(s.checklists, id)
	return nil
}

func (s *checklistStoreStub) HasUploads(ctx context.Context, checklistID string) (bool, error) {
	return s.hasUploads, nil
}

func (s *checklistStoreStub) ListItems(ctx context.Context, checklistID string) ([]models.ChecklistItem, error) {
	s.itemCalls++
	var out []models.ChecklistItem
	for _, id := range []string{"i1", "i2", "i3"} {
		if item, ok := s.items[id]; ok && item.ChecklistID == checklistID {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (s *checklistStoreStub) FindItem(ctx context.Context, checklistID, itemID string) (*models.ChecklistItem, error) {
	item, ok := s.items[itemID]
	if !ok || item.ChecklistID != checklistID {
		return nil, sql.ErrNoRows
	}
	copy := *item
	return &copy, nil
}

func (s *checklistStoreStub) CreateItem(ctx context.Context, item *models.ChecklistItem) error {
	if item.ID == "" {
		item.ID = "i3"
	}
	item.Version = 1
	copy := *item
	s.items[item.ID] = &copy
	return nil
}

func (s *checklistStoreStub) UpdateItem(ctx context.Context, item *models.ChecklistItem, expectedVersion int) (bool, error) {
	stored := s.items[item.ID]
	if stored.Version != expectedVersion {
		return false, nil
	}
	item.Version = expectedVersion + 1
	copy := *item
	s.items[item.ID] = &copy
	return true, nil
}

func (s *checklistStoreStub) DeleteItem(ctx context.Context, checklistID, itemID string) (bool, error) {
	if _, ok := s.items[itemID]; !ok {
		return false, nil
	}
	delete(s.items, itemID)
	return true, nil
}

func (s *checklistStoreStub) LatestScores(ctx context.Context, checklistID string) ([]float64, error) {
	return s.scores, nil
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.entries[key]
	if !ok {
		return cache.ErrMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if m.entries == nil {
		m.entries = make(map[string][]byte)
	}
	m.entries[key] = raw
	return nil
}

func (m *memoryCache) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

type cacheMetricsSpy struct {
	hits, misses int
}

func (c *cacheMetricsSpy) RecordCacheOperation(hit bool) {
	if hit {
		c.hits++
		return
	}
	c.misses++
}

type fileListerStub []string

func (f fileListerStub) ListIDsByChecklist(ctx context.Context, checklistID string) ([]string, error) {
	return f, nil
}

type rescorerStub struct {
	mu       sync.Mutex
	busy     map[string]bool
	rescored []string
}

func (r *rescorerStub) Rescore(ctx context.Context, actor Actor, fileID string) (*models.FileUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy[fileID] {
		return nil, appErrors.ErrScoringInProgress
	}
	r.rescored = append(r.rescored, fileID)
	return &models.FileUpload{ID: fileID}, nil
}

type checklistFixture struct {
	svc      *ChecklistService
	repo     *checklistStoreStub
	audit    *auditSpy
	metrics  *cacheMetricsSpy
	rescorer *rescorerStub
}

func newChecklistFixture(fileIDs ...string) *checklistFixture {
	fx := &checklistFixture{
		repo:     newChecklistStoreStub(),
		audit:    &auditSpy{},
		metrics:  &cacheMetricsSpy{},
		rescorer: &rescorerStub{busy: map[string]bool{}},
	}
	cacheSvc := NewCacheService(&memoryCache{}, fx.metrics, time.Minute, zap.NewNop())
	fx.svc = NewChecklistService(fx.repo, fileListerStub(fileIDs), fx.rescorer, cacheSvc, fx.audit, nil, validator.New(), zap.NewNop(), ChecklistConfig{RescoreConcurrency: 2})
	return fx
}

var adminUser = Actor{ID: "admin", Role: models.RoleAdmin}

func TestChecklistServiceGetUsesCache(t *testing.T) {
	fx := newChecklistFixture()

	first, err := fx.svc.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, first.Items, 2)

	second, err := fx.svc.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, first.Items[1].Question, second.Items[1].Question)
	assert.Equal(t, 1, fx.repo.findCalls)
	assert.Equal(t, 1, fx.metrics.hits)
	assert.Equal(t, 1, fx.metrics.misses)
}

func TestChecklistServiceMutationInvalidatesCache(t *testing.T) {
	fx := newChecklistFixture()
	_, err := fx.svc.Get(context.Background(), "c1")
	require.NoError(t, err)

	_, err = fx.svc.AddItem(context.Background(), adminUser, "c1", models.CreateChecklistItemRequest{Question: "Water use?"})
	require.NoError(t, err)

	checklist, err := fx.svc.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, checklist.Items, 3)
	assert.Equal(t, 1.0, checklist.Items[2].Weight)
	assert.Equal(t, 2, checklist.Items[2].OrderIndex)
	assert.Equal(t, []string{models.AuditActionItemCreate}, fx.audit.actions())
}

func TestChecklistServiceCreate(t *testing.T) {
	fx := newChecklistFixture()
	weight := 3.0

	checklist, err := fx.svc.Create(context.Background(), adminUser, models.CreateChecklistRequest{
		Title: " CSRD baseline ",
		Items: []models.CreateChecklistItemRequest{{Question: "Scope 1 reported?", Weight: &weight}},
	})
	require.NoError(t, err)
	assert.Equal(t, "CSRD baseline", checklist.Title)
	assert.True(t, checklist.IsActive)
	require.Len(t, checklist.Items, 1)
	assert.Equal(t, 3.0, checklist.Items[0].Weight)
	assert.Equal(t, []string{models.AuditActionChecklistCreate}, fx.audit.actions())

	zero := 0.0
	_, err = fx.svc.Create(context.Background(), adminUser, models.CreateChecklistRequest{
		Title: "bad",
		Items: []models.CreateChecklistItemRequest{{Question: "q", Weight: &zero}},
	})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestChecklistServiceUpdateItemVersioning(t *testing.T) {
	fx := newChecklistFixture()
	fx.repo.hasUploads = true
	req := models.UpdateChecklistItemRequest{Question: "Board diversity disclosed?", Weight: 1.5, OrderIndex: 1}

	_, err := fx.svc.UpdateItem(context.Background(), adminUser, "c1", "i2", req)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)

	stale := 2
	req.Version = &stale
	_, err = fx.svc.UpdateItem(context.Background(), adminUser, "c1", "i2", req)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	current := 3
	req.Version = &current
	item, err := fx.svc.UpdateItem(context.Background(), adminUser, "c1", "i2", req)
	require.NoError(t, err)
	assert.Equal(t, 4, item.Version)
	assert.Equal(t, 1.5, fx.repo.items["i2"].Weight)
	assert.Equal(t, []string{models.AuditActionItemUpdate}, fx.audit.actions())
}

func TestChecklistServiceUpdateItemWithoutUploads(t *testing.T) {
	fx := newChecklistFixture()

	item, err := fx.svc.UpdateItem(context.Background(), adminUser, "c1", "i1", models.UpdateChecklistItemRequest{Question: "Emissions?", Weight: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, item.Version)

	_, err = fx.svc.UpdateItem(context.Background(), adminUser, "c1", "missing", models.UpdateChecklistItemRequest{Question: "x", Weight: 1})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestChecklistServiceDeleteGuardsUploads(t *testing.T) {
	fx := newChecklistFixture()
	fx.repo.hasUploads = true

	err := fx.svc.Delete(context.Background(), adminUser, "c1")
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	err = fx.svc.DeleteItem(context.Background(), adminUser, "c1", "i1")
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	fx.repo.hasUploads = false
	require.NoError(t, fx.svc.Delete(context.Background(), adminUser, "c1"))
	assert.Equal(t, []string{"c1"}, fx.repo.deleted)
}

func TestChecklistServiceSummary(t *testing.T) {
	fx := newChecklistFixture()

	summary, err := fx.svc.Summary(context.Background(), "c1")
	require.NoError(t, err)
	assert.Nil(t, summary.WeightedScore)
	assert.Equal(t, 3.0, summary.TotalWeight)

	fx.repo.scores = []float64{0.6, 0.9}
	summary, err = fx.svc.Summary(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, summary.WeightedScore)
	assert.InDelta(t, 0.75, *summary.WeightedScore, 1e-9)
	assert.Equal(t, 2, summary.ScoredFiles)
}

func TestChecklistServiceRescoreAll(t *testing.T) {
	fx := newChecklistFixture("f1", "f2", "f3", "f4")
	fx.rescorer.busy["f3"] = true

	report, err := fx.svc.RescoreAll(context.Background(), adminUser, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Queued)
	assert.Equal(t, 1, report.Skipped)
	assert.ElementsMatch(t, []string{"f1", "f2", "f4"}, fx.rescorer.rescored)

	_, err = fx.svc.RescoreAll(context.Background(), adminUser, "missing")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
