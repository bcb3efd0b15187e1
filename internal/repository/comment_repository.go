package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	"github.com/noah-isme/esg-compliance-api/pkg/database"
)

// CommentRepository stores append-only comments on uploads.
type CommentRepository struct {
	db *sqlx.DB
}

// NewCommentRepository creates a new comment repository.
func NewCommentRepository(db *sqlx.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

// Create inserts a comment.
func (r *CommentRepository) Create(ctx context.Context, comment *models.Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO comments (id, file_upload_id, user_id, content, created_at) VALUES (:id, :file_upload_id, :user_id, :content, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, database.Conn(ctx, r.db), query, comment); err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

// ListByFile returns the comments of an upload oldest first.
func (r *CommentRepository) ListByFile(ctx context.Context, fileID string) ([]models.Comment, error) {
	const query = `SELECT id, file_upload_id, user_id, content, created_at FROM comments WHERE file_upload_id = $1 ORDER BY created_at ASC, id ASC`
	var comments []models.Comment
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &comments, query, fileID); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}
