package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	appErrors "github.com/noah-isme/esg-compliance-api/pkg/errors"
)

const (
	checklistCachePrefix      = "checklists:"
	defaultRescoreConcurrency = 4
)

type checklistStore interface {
	List(ctx context.Context, filter models.ChecklistFilter) ([]models.Checklist, int, error)
	FindByID(ctx context.Context, id string) (*models.Checklist, error)
	Create(ctx context.Context, checklist *models.Checklist) error
	Update(ctx context.Context, checklist *models.Checklist) error
	Delete(ctx context.Context, id string) error
	HasUploads(ctx context.Context, checklistID string) (bool, error)
	ListItems(ctx context.Context, checklistID string) ([]models.ChecklistItem, error)
	FindItem(ctx context.Context, checklistID, itemID string) (*models.ChecklistItem, error)
	CreateItem(ctx context.Context, item *models.ChecklistItem) error
	UpdateItem(ctx context.Context, item *models.ChecklistItem, expectedVersion int) (bool, error)
	DeleteItem(ctx context.Context, checklistID, itemID string) (bool, error)
	LatestScores(ctx context.Context, checklistID string) ([]float64, error)
}

type checklistFileLister interface {
	ListIDsByChecklist(ctx context.Context, checklistID string) ([]string, error)
}

type fileRescorer interface {
	Rescore(ctx context.Context, actor Actor, fileID string) (*models.FileUpload, error)
}

// RescoreReport summarises a checklist-wide rescore.
type RescoreReport struct {
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}

// ChecklistConfig tunes caching and rescore fan-out.
type ChecklistConfig struct {
	CacheTTL           time.Duration
	RescoreConcurrency int
}

// ChecklistService manages checklists, their versioned items and aggregates.
type ChecklistService struct {
	repo      checklistStore
	files     checklistFileLister
	rescorer  fileRescorer
	cache     *CacheService
	audit     auditRecorder
	tx        txRunner
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ChecklistConfig
}

// NewChecklistService constructs a ChecklistService. cache may be nil.
func NewChecklistService(repo checklistStore, files checklistFileLister, rescorer fileRescorer, cache *CacheService, audit auditRecorder, tx txRunner, validate *validator.Validate, logger *zap.Logger, cfg ChecklistConfig) *ChecklistService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if tx == nil {
		tx = directTx{}
	}
	if cfg.RescoreConcurrency <= 0 {
		cfg.RescoreConcurrency = defaultRescoreConcurrency
	}
	return &ChecklistService{
		repo:      repo,
		files:     files,
		rescorer:  rescorer,
		cache:     cache,
		audit:     audit,
		tx:        tx,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// List returns checklists without items.
func (s *ChecklistService) List(ctx context.Context, filter models.ChecklistFilter) ([]models.Checklist, *models.Pagination, error) {
	checklists, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list checklists")
	}
	return checklists, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a checklist with its items, served from cache when possible.
func (s *ChecklistService) Get(ctx context.Context, id string) (*models.Checklist, error) {
	var cached models.Checklist
	if s.cache.Get(ctx, checklistCachePrefix+id, &cached) {
		return &cached, nil
	}

	checklist, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListItems(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load checklist items")
	}
	checklist.Items = items

	s.cache.Set(ctx, checklistCachePrefix+id, checklist, s.cfg.CacheTTL)
	return checklist, nil
}

// Create stores a checklist with its initial items.
func (s *ChecklistService) Create(ctx context.Context, actor Actor, req models.CreateChecklistRequest) (*models.Checklist, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid checklist payload")
	}

	checklist := &models.Checklist{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		IsActive:    true,
		CreatedBy:   strPtr(actor.ID),
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, checklist); err != nil {
			return err
		}
		for i, itemReq := range req.Items {
			item := newChecklistItem(checklist.ID, itemReq, i)
			if err := s.repo.CreateItem(ctx, &item); err != nil {
				return err
			}
			checklist.Items = append(checklist.Items, item)
		}
		return s.audit.Record(ctx, s.entry(actor, models.AuditActionChecklistCreate, models.ResourceChecklist, checklist.ID,
			fmt.Sprintf("items=%d", len(checklist.Items))))
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create checklist")
	}
	return checklist, nil
}

// Update changes checklist metadata.
func (s *ChecklistService) Update(ctx context.Context, actor Actor, id string, req models.UpdateChecklistRequest) (*models.Checklist, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid checklist payload")
	}
	checklist, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	checklist.Title = strings.TrimSpace(req.Title)
	checklist.Description = req.Description
	if req.IsActive != nil {
		checklist.IsActive = *req.IsActive
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, checklist); err != nil {
			return err
		}
		return s.audit.Record(ctx, s.entry(actor, models.AuditActionChecklistUpdate, models.ResourceChecklist, id,
			fmt.Sprintf("active=%t", checklist.IsActive)))
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update checklist")
	}
	s.cache.Invalidate(ctx, checklistCachePrefix+id)
	return checklist, nil
}

// Delete removes a checklist that has no uploads.
func (s *ChecklistService) Delete(ctx context.Context, actor Actor, id string) error {
	if _, err := s.load(ctx, id); err != nil {
		return err
	}
	if err := s.requireNoUploads(ctx, id, "checklist has uploads; deactivate it instead"); err != nil {
		return err
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		return s.audit.Record(ctx, s.entry(actor, models.AuditActionChecklistDelete, models.ResourceChecklist, id, ""))
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete checklist")
	}
	s.cache.Invalidate(ctx, checklistCachePrefix+id)
	return nil
}

// AddItem appends an item to a checklist.
func (s *ChecklistService) AddItem(ctx context.Context, actor Actor, checklistID string, req models.CreateChecklistItemRequest) (*models.ChecklistItem, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid item payload")
	}
	if _, err := s.load(ctx, checklistID); err != nil {
		return nil, err
	}

	item := newChecklistItem(checklistID, req, 0)
	if req.OrderIndex == nil {
		existing, err := s.repo.ListItems(ctx, checklistID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load checklist items")
		}
		item.OrderIndex = len(existing)
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateItem(ctx, &item); err != nil {
			return err
		}
		return s.audit.Record(ctx, s.entry(actor, models.AuditActionItemCreate, models.ResourceItem, item.ID, "checklist="+checklistID))
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create checklist item")
	}
	s.cache.Invalidate(ctx, checklistCachePrefix+checklistID)
	return &item, nil
}

// UpdateItem edits an item. Once the checklist has uploads the caller must
// send the version it read; a stale version is a conflict.
func (s *ChecklistService) UpdateItem(ctx context.Context, actor Actor, checklistID, itemID string, req models.UpdateChecklistItemRequest) (*models.ChecklistItem, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid item payload")
	}
	item, err := s.repo.FindItem(ctx, checklistID, itemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "checklist item not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load checklist item")
	}

	expected := item.Version
	if req.Version != nil {
		expected = *req.Version
	} else {
		hasUploads, err := s.repo.HasUploads(ctx, checklistID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check uploads")
		}
		if hasUploads {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "version is required once files were uploaded")
		}
	}
	if expected != item.Version {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("item is at version %d", item.Version))
	}

	item.Question = strings.TrimSpace(req.Question)
	item.Description = req.Description
	item.Category = req.Category
	item.Weight = req.Weight
	item.IsRequired = req.IsRequired
	item.OrderIndex = req.OrderIndex

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		updated, err := s.repo.UpdateItem(ctx, item, expected)
		if err != nil {
			return err
		}
		if !updated {
			return appErrors.Clone(appErrors.ErrConflict, "item was modified concurrently")
		}
		return s.audit.Record(ctx, s.entry(actor, models.AuditActionItemUpdate, models.ResourceItem, item.ID,
			fmt.Sprintf("version=%d", item.Version)))
	})
	if err != nil {
		if appErrors.HasCode(err, appErrors.ErrConflict.Code) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update checklist item")
	}
	s.cache.Invalidate(ctx, checklistCachePrefix+checklistID)
	return item, nil
}

// DeleteItem removes an item from a checklist without uploads.
func (s *ChecklistService) DeleteItem(ctx context.Context, actor Actor, checklistID, itemID string) error {
	if err := s.requireNoUploads(ctx, checklistID, "items of a checklist with uploads cannot be deleted"); err != nil {
		return err
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		deleted, err := s.repo.DeleteItem(ctx, checklistID, itemID)
		if err != nil {
			return err
		}
		if !deleted {
			return appErrors.Clone(appErrors.ErrNotFound, "checklist item not found")
		}
		return s.audit.Record(ctx, s.entry(actor, models.AuditActionItemDelete, models.ResourceItem, itemID, "checklist="+checklistID))
	})
	if err != nil {
		if appErrors.HasCode(err, appErrors.ErrNotFound.Code) {
			return err
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete checklist item")
	}
	s.cache.Invalidate(ctx, checklistCachePrefix+checklistID)
	return nil
}

// Summary aggregates the latest score of every scored upload.
func (s *ChecklistService) Summary(ctx context.Context, id string) (*models.ChecklistSummary, error) {
	checklist, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	scores, err := s.repo.LatestScores(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scores")
	}

	summary := &models.ChecklistSummary{ChecklistID: id, ScoredFiles: len(scores)}
	for _, item := range checklist.Items {
		summary.TotalWeight += item.Weight
	}
	if len(scores) > 0 {
		var sum float64
		for _, score := range scores {
			sum += score
		}
		mean := sum / float64(len(scores))
		summary.WeightedScore = &mean
	}
	return summary, nil
}

// RescoreAll requeues every upload of a checklist. Uploads that are mid-run
// are skipped.
func (s *ChecklistService) RescoreAll(ctx context.Context, actor Actor, id string) (*RescoreReport, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	ids, err := s.files.ListIDsByChecklist(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list checklist files")
	}

	var queued, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.RescoreConcurrency)
	for _, fileID := range ids {
		g.Go(func() error {
			if _, err := s.rescorer.Rescore(gctx, actor, fileID); err != nil {
				if appErrors.HasCode(err, appErrors.ErrScoringInProgress.Code) {
					skipped.Add(1)
					return nil
				}
				return err
			}
			queued.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Info("checklist rescore queued",
		zap.String("checklist_id", id),
		zap.Int64("queued", queued.Load()),
		zap.Int64("skipped", skipped.Load()),
	)
	return &RescoreReport{Queued: int(queued.Load()), Skipped: int(skipped.Load())}, nil
}

func (s *ChecklistService) load(ctx context.Context, id string) (*models.Checklist, error) {
	checklist, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "checklist not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load checklist")
	}
	return checklist, nil
}

func (s *ChecklistService) requireNoUploads(ctx context.Context, checklistID, msg string) error {
	hasUploads, err := s.repo.HasUploads(ctx, checklistID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check uploads")
	}
	if hasUploads {
		return appErrors.Clone(appErrors.ErrConflict, msg)
	}
	return nil
}

func (s *ChecklistService) entry(actor Actor, action, resourceType, resourceID, details string) AuditEntry {
	return AuditEntry{
		ActorID:      strPtr(actor.ID),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   strPtr(resourceID),
		Details:      strPtr(details),
		IP:           strPtr(actor.Meta.IP),
		UserAgent:    strPtr(actor.Meta.UserAgent),
	}
}

func newChecklistItem(checklistID string, req models.CreateChecklistItemRequest, position int) models.ChecklistItem {
	item := models.ChecklistItem{
		ChecklistID: checklistID,
		Question:    strings.TrimSpace(req.Question),
		Description: req.Description,
		Category:    req.Category,
		Weight:      1.0,
		OrderIndex:  position,
	}
	if req.Weight != nil {
		item.Weight = *req.Weight
	}
	if req.IsRequired != nil {
		item.IsRequired = *req.IsRequired
	}
	if req.OrderIndex != nil {
		item.OrderIndex = *req.OrderIndex
	}
	return item
}
