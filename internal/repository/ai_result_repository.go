package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	"github.com/noah-isme/esg-compliance-api/pkg/database"
)

// AIResultRepository stores scoring results. Rows are never updated; a rescore adds a new row.
type AIResultRepository struct {
	db *sqlx.DB
}

// NewAIResultRepository creates a new AI result repository.
func NewAIResultRepository(db *sqlx.DB) *AIResultRepository {
	return &AIResultRepository{db: db}
}

// Create inserts a scoring result.
func (r *AIResultRepository) Create(ctx context.Context, result *models.AIResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO ai_results (id, file_upload_id, overall_score, item_results, ai_model_version, processing_time_ms, created_at) VALUES (:id, :file_upload_id, :overall_score, :item_results, :ai_model_version, :processing_time_ms, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, database.Conn(ctx, r.db), query, result); err != nil {
		return fmt.Errorf("create ai result: %w", err)
	}
	return nil
}

// LatestByFile returns the newest result for an upload.
func (r *AIResultRepository) LatestByFile(ctx context.Context, fileID string) (*models.AIResult, error) {
	const query = `SELECT id, file_upload_id, overall_score, item_results, ai_model_version, processing_time_ms, created_at FROM ai_results WHERE file_upload_id = $1 ORDER BY created_at DESC LIMIT 1`
	var result models.AIResult
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &result, query, fileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("latest ai result: %w", err)
	}
	return &result, nil
}
