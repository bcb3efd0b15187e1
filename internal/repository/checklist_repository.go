package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	"github.com/noah-isme/esg-compliance-api/pkg/database"
)

const (
	checklistColumns     = "id, title, description, is_active, created_by, created_at, updated_at"
	checklistItemColumns = "id, checklist_id, question, description, category, weight, is_required, order_index, version, created_at, updated_at"
)

// ChecklistRepository manages checklists and their items.
type ChecklistRepository struct {
	db *sqlx.DB
}

// NewChecklistRepository creates a new checklist repository.
func NewChecklistRepository(db *sqlx.DB) *ChecklistRepository {
	return &ChecklistRepository{db: db}
}

// List returns checklists matching the filter ordered by title.
func (r *ChecklistRepository) List(ctx context.Context, filter models.ChecklistFilter) ([]models.Checklist, int, error) {
	where := squirrel.And{}
	if filter.Active != nil {
		where = append(where, squirrel.Eq{"is_active": *filter.Active})
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		where = append(where, squirrel.ILike{"title": "%" + s + "%"})
	}
	limit, offset := pageBounds(filter.Page, filter.PageSize)

	query, args, err := whereAll(psql.Select(checklistColumns).From("checklists"), where).
		OrderBy("title ASC", "id ASC").Limit(limit).Offset(offset).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list checklists: %w", err)
	}
	conn := database.Conn(ctx, r.db)
	var checklists []models.Checklist
	if err := sqlx.SelectContext(ctx, conn, &checklists, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list checklists: %w", err)
	}

	countQuery, countArgs, err := whereAll(psql.Select("COUNT(*)").From("checklists"), where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count checklists: %w", err)
	}
	var total int
	if err := sqlx.GetContext(ctx, conn, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count checklists: %w", err)
	}
	return checklists, total, nil
}

// FindByID returns a checklist without its items.
func (r *ChecklistRepository) FindByID(ctx context.Context, id string) (*models.Checklist, error) {
	query := `SELECT ` + checklistColumns + ` FROM checklists WHERE id = $1`
	var checklist models.Checklist
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &checklist, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find checklist: %w", err)
	}
	return &checklist, nil
}

// Create inserts a checklist.
func (r *ChecklistRepository) Create(ctx context.Context, checklist *models.Checklist) error {
	if checklist.ID == "" {
		checklist.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	checklist.CreatedAt = now
	checklist.UpdatedAt = now

	const query = `INSERT INTO checklists (id, title, description, is_active, created_by, created_at, updated_at) VALUES (:id, :title, :description, :is_active, :created_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, database.Conn(ctx, r.db), query, checklist); err != nil {
		return fmt.Errorf("create checklist: %w", err)
	}
	return nil
}

// Update changes checklist metadata.
func (r *ChecklistRepository) Update(ctx context.Context, checklist *models.Checklist) error {
	checklist.UpdatedAt = time.Now().UTC()
	const query = `UPDATE checklists SET title = :title, description = :description, is_active = :is_active, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, database.Conn(ctx, r.db), query, checklist); err != nil {
		return fmt.Errorf("update checklist: %w", err)
	}
	return nil
}

// Delete removes a checklist and its items.
func (r *ChecklistRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM checklists WHERE id = $1`
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete checklist: %w", err)
	}
	return nil
}

// HasUploads reports whether any file was uploaded against the checklist.
func (r *ChecklistRepository) HasUploads(ctx context.Context, checklistID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM file_uploads WHERE checklist_id = $1)`
	var exists bool
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &exists, query, checklistID); err != nil {
		return false, fmt.Errorf("check checklist uploads: %w", err)
	}
	return exists, nil
}

// ListItems returns the items of a checklist in scoring order.
func (r *ChecklistRepository) ListItems(ctx context.Context, checklistID string) ([]models.ChecklistItem, error) {
	query := `SELECT ` + checklistItemColumns + ` FROM checklist_items WHERE checklist_id = $1 ORDER BY order_index ASC, created_at ASC`
	var items []models.ChecklistItem
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &items, query, checklistID); err != nil {
		return nil, fmt.Errorf("list checklist items: %w", err)
	}
	return items, nil
}

// FindItem returns an item scoped to its checklist.
func (r *ChecklistRepository) FindItem(ctx context.Context, checklistID, itemID string) (*models.ChecklistItem, error) {
	query := `SELECT ` + checklistItemColumns + ` FROM checklist_items WHERE checklist_id = $1 AND id = $2`
	var item models.ChecklistItem
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &item, query, checklistID, itemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find checklist item: %w", err)
	}
	return &item, nil
}

// CreateItem inserts an item at version 1.
func (r *ChecklistRepository) CreateItem(ctx context.Context, item *models.ChecklistItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	item.Version = 1

	const query = `INSERT INTO checklist_items (id, checklist_id, question, description, category, weight, is_required, order_index, version, created_at, updated_at) VALUES (:id, :checklist_id, :question, :description, :category, :weight, :is_required, :order_index, :version, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, database.Conn(ctx, r.db), query, item); err != nil {
		return fmt.Errorf("create checklist item: %w", err)
	}
	return nil
}

// UpdateItem writes item when the stored version still equals
// expectedVersion, bumping the version. It reports whether a row changed.
func (r *ChecklistRepository) UpdateItem(ctx context.Context, item *models.ChecklistItem, expectedVersion int) (bool, error) {
	now := time.Now().UTC()
	const query = `UPDATE checklist_items SET question = $1, description = $2, category = $3, weight = $4, is_required = $5, order_index = $6, version = version + 1, updated_at = $7 WHERE id = $8 AND checklist_id = $9 AND version = $10`
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query,
		item.Question, item.Description, item.Category, item.Weight, item.IsRequired, item.OrderIndex, now,
		item.ID, item.ChecklistID, expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("update checklist item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update checklist item rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	item.Version = expectedVersion + 1
	item.UpdatedAt = now
	return true, nil
}

// DeleteItem removes an item and reports whether it existed.
func (r *ChecklistRepository) DeleteItem(ctx context.Context, checklistID, itemID string) (bool, error) {
	const query = `DELETE FROM checklist_items WHERE checklist_id = $1 AND id = $2`
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, checklistID, itemID)
	if err != nil {
		return false, fmt.Errorf("delete checklist item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete checklist item rows: %w", err)
	}
	return affected > 0, nil
}

// LatestScores returns the newest overall score of every scored file of a checklist.
func (r *ChecklistRepository) LatestScores(ctx context.Context, checklistID string) ([]float64, error) {
	const query = `SELECT DISTINCT ON (ar.file_upload_id) ar.overall_score
FROM ai_results ar
JOIN file_uploads fu ON fu.id = ar.file_upload_id
WHERE fu.checklist_id = $1
ORDER BY ar.file_upload_id, ar.created_at DESC`
	var scores []float64
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &scores, query, checklistID); err != nil {
		return nil, fmt.Errorf("latest checklist scores: %w", err)
	}
	return scores, nil
}
