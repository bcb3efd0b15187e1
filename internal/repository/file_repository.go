package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	"github.com/noah-isme/esg-compliance-api/pkg/database"
)

const fileColumns = "id, user_id, checklist_id, filename, original_filename, storage_key, file_size, mime_type, status, processing_status, processing_error, claimed_at, created_at, updated_at"

// FileRepository persists uploads and their processing state.
type FileRepository struct {
	db *sqlx.DB
}

// NewFileRepository creates a new file repository.
func NewFileRepository(db *sqlx.DB) *FileRepository {
	return &FileRepository{db: db}
}

// Create inserts the upload metadata.
func (r *FileRepository) Create(ctx context.Context, file *models.FileUpload) error {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	file.CreatedAt = now
	file.UpdatedAt = now
	if file.Status == "" {
		file.Status = models.FileStatusPending
	}
	if file.ProcessingStatus == "" {
		file.ProcessingStatus = models.ProcessingPending
	}

	const query = `INSERT INTO file_uploads (id, user_id, checklist_id, filename, original_filename, storage_key, file_size, mime_type, status, processing_status, created_at, updated_at) VALUES (:id, :user_id, :checklist_id, :filename, :original_filename, :storage_key, :file_size, :mime_type, :status, :processing_status, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, database.Conn(ctx, r.db), query, file); err != nil {
		return fmt.Errorf("create file upload: %w", err)
	}
	return nil
}

// FindByID returns an upload by id.
func (r *FileRepository) FindByID(ctx context.Context, id string) (*models.FileUpload, error) {
	query := `SELECT ` + fileColumns + ` FROM file_uploads WHERE id = $1`
	var file models.FileUpload
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &file, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find file upload: %w", err)
	}
	return &file, nil
}

// List returns uploads newest first.
func (r *FileRepository) List(ctx context.Context, filter models.FileFilter) ([]models.FileUpload, int, error) {
	where := squirrel.And{}
	if filter.OwnerID != "" {
		where = append(where, squirrel.Eq{"user_id": filter.OwnerID})
	}
	if filter.ChecklistID != "" {
		where = append(where, squirrel.Eq{"checklist_id": filter.ChecklistID})
	}
	if filter.Status != "" {
		where = append(where, squirrel.Eq{"status": string(filter.Status)})
	}
	if filter.ProcessingStatus != "" {
		where = append(where, squirrel.Eq{"processing_status": string(filter.ProcessingStatus)})
	}
	limit, offset := pageBounds(filter.Page, filter.PageSize)

	query, args, err := whereAll(psql.Select(fileColumns).From("file_uploads"), where).
		OrderBy("created_at DESC", "id DESC").Limit(limit).Offset(offset).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list files: %w", err)
	}
	conn := database.Conn(ctx, r.db)
	var files []models.FileUpload
	if err := sqlx.SelectContext(ctx, conn, &files, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list files: %w", err)
	}

	countQuery, countArgs, err := whereAll(psql.Select("COUNT(*)").From("file_uploads"), where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count files: %w", err)
	}
	var total int
	if err := sqlx.GetContext(ctx, conn, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count files: %w", err)
	}
	return files, total, nil
}

// ListIDsByChecklist returns the ids of every upload against a checklist.
func (r *FileRepository) ListIDsByChecklist(ctx context.Context, checklistID string) ([]string, error) {
	const query = `SELECT id FROM file_uploads WHERE checklist_id = $1 ORDER BY created_at ASC`
	var ids []string
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &ids, query, checklistID); err != nil {
		return nil, fmt.Errorf("list checklist file ids: %w", err)
	}
	return ids, nil
}

// Claim moves an upload into processing. Pending and failed uploads can be
// claimed, as can processing uploads whose claim is older than lease. Exactly
// one concurrent caller wins.
func (r *FileRepository) Claim(ctx context.Context, id string, lease time.Duration, now time.Time) (bool, error) {
	const query = `UPDATE file_uploads SET processing_status = 'processing', processing_error = NULL, claimed_at = $2, updated_at = $2
WHERE id = $1 AND (processing_status IN ('pending', 'failed') OR (processing_status = 'processing' AND claimed_at < $3))`
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, id, now, now.Add(-lease))
	if err != nil {
		return false, fmt.Errorf("claim file upload: %w", err)
	}
	return rowsChanged(res, "claim file upload")
}

// MarkCompleted finishes a processing upload. It reports false when the
// claim taken at claimedAt is no longer held.
func (r *FileRepository) MarkCompleted(ctx context.Context, id string, claimedAt, now time.Time) (bool, error) {
	const query = `UPDATE file_uploads SET processing_status = 'completed', processing_error = NULL, updated_at = $3
WHERE id = $1 AND processing_status = 'processing' AND claimed_at = $2`
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, id, claimedAt, now)
	if err != nil {
		return false, fmt.Errorf("mark file completed: %w", err)
	}
	return rowsChanged(res, "mark file completed")
}

// MarkFailed records a scoring failure under the same ownership rule as
// MarkCompleted.
func (r *FileRepository) MarkFailed(ctx context.Context, id, reason string, claimedAt, now time.Time) (bool, error) {
	const query = `UPDATE file_uploads SET processing_status = 'failed', processing_error = $2, updated_at = $4
WHERE id = $1 AND processing_status = 'processing' AND claimed_at = $3`
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, id, reason, claimedAt, now)
	if err != nil {
		return false, fmt.Errorf("mark file failed: %w", err)
	}
	return rowsChanged(res, "mark file failed")
}

// ReleaseClaim returns a claimed upload to pending so the next delivery can
// claim it straight away.
func (r *FileRepository) ReleaseClaim(ctx context.Context, id string, claimedAt, now time.Time) (bool, error) {
	const query = `UPDATE file_uploads SET processing_status = 'pending', claimed_at = NULL, updated_at = $3
WHERE id = $1 AND processing_status = 'processing' AND claimed_at = $2`
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, id, claimedAt, now)
	if err != nil {
		return false, fmt.Errorf("release file claim: %w", err)
	}
	return rowsChanged(res, "release file claim")
}

// ResetForRescore puts a finished upload, or one whose claim outlived lease,
// back into the pending state.
func (r *FileRepository) ResetForRescore(ctx context.Context, id string, lease time.Duration, now time.Time) (bool, error) {
	const query = `UPDATE file_uploads SET processing_status = 'pending', processing_error = NULL, claimed_at = NULL, updated_at = $2
WHERE id = $1 AND (processing_status IN ('completed', 'failed') OR (processing_status = 'processing' AND (claimed_at IS NULL OR claimed_at < $3)))`
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, id, now, now.Add(-lease))
	if err != nil {
		return false, fmt.Errorf("reset file for rescore: %w", err)
	}
	return rowsChanged(res, "reset file for rescore")
}

// UpdateStatus changes the review status only when it still equals from.
// Approval additionally requires completed processing.
func (r *FileRepository) UpdateStatus(ctx context.Context, id string, from, to models.FileStatus, now time.Time) (bool, error) {
	query := `UPDATE file_uploads SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	if to == models.FileStatusApproved {
		query += ` AND processing_status = 'completed'`
	}
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, id, string(from), string(to), now)
	if err != nil {
		return false, fmt.Errorf("update file status: %w", err)
	}
	return rowsChanged(res, "update file status")
}

func rowsChanged(res sql.Result, op string) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows: %w", op, err)
	}
	return affected > 0, nil
}
