package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	"github.com/noah-isme/esg-compliance-api/pkg/database"
)

// AuditRepository appends to and reads the audit trail. It offers no update
// or delete.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create appends an entry, joining the transaction carried by ctx if any.
func (r *AuditRepository) Create(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource_type, resource_id, details, ip_address, user_agent, "timestamp") VALUES (:id, :user_id, :action, :resource_type, :resource_id, :details, :ip_address, :user_agent, :timestamp)`
	if _, err := sqlx.NamedExecContext(ctx, database.Conn(ctx, r.db), query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// Query returns matching entries newest first, at most limit rows.
func (r *AuditRepository) Query(ctx context.Context, filter models.AuditFilter, limit int) ([]models.AuditLog, error) {
	where := squirrel.And{}
	if filter.UserID != "" {
		where = append(where, squirrel.Eq{"user_id": filter.UserID})
	}
	if filter.Action != "" {
		where = append(where, squirrel.Eq{"action": filter.Action})
	}
	if filter.ResourceType != "" {
		where = append(where, squirrel.Eq{"resource_type": filter.ResourceType})
	}
	if filter.ResourceID != "" {
		where = append(where, squirrel.Eq{"resource_id": filter.ResourceID})
	}
	if filter.From != nil {
		where = append(where, squirrel.GtOrEq{`"timestamp"`: *filter.From})
	}
	if filter.To != nil {
		where = append(where, squirrel.LtOrEq{`"timestamp"`: *filter.To})
	}

	query, args, err := whereAll(psql.Select(`id, user_id, action, resource_type, resource_id, details, ip_address, user_agent, "timestamp"`).From("audit_logs"), where).
		OrderBy(`"timestamp" DESC`, "id DESC").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit query: %w", err)
	}

	var logs []models.AuditLog
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &logs, query, args...); err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	return logs, nil
}
