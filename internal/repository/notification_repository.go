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

const notificationColumns = "id, user_id, title, message, link, notification_type, related_entity_type, related_entity_id, dedupe_key, read, created_at"

// NotificationRepository stores in-app notifications.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Insert stores n unless a notification with the same dedupe key exists. It
// reports whether a row was written.
func (r *NotificationRepository) Insert(ctx context.Context, n *models.Notification) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, user_id, title, message, link, notification_type, related_entity_type, related_entity_id, dedupe_key, read, created_at) VALUES (:id, :user_id, :title, :message, :link, :notification_type, :related_entity_type, :related_entity_id, :dedupe_key, :read, :created_at) ON CONFLICT (dedupe_key) DO NOTHING`
	res, err := sqlx.NamedExecContext(ctx, database.Conn(ctx, r.db), query, n)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return rowsChanged(res, "insert notification")
}

// List returns a user's notifications newest first.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	where := squirrel.And{squirrel.Eq{"user_id": filter.UserID}}
	if filter.UnreadOnly {
		where = append(where, squirrel.Eq{"read": false})
	}
	limit, offset := pageBounds(filter.Page, filter.PageSize)

	query, args, err := psql.Select(notificationColumns).From("notifications").Where(where).
		OrderBy("created_at DESC", "id DESC").Limit(limit).Offset(offset).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list notifications: %w", err)
	}
	conn := database.Conn(ctx, r.db)
	var items []models.Notification
	if err := sqlx.SelectContext(ctx, conn, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("notifications").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count notifications: %w", err)
	}
	var total int
	if err := sqlx.GetContext(ctx, conn, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return items, total, nil
}

// CountUnread returns the number of unread notifications of a user.
func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = FALSE`
	var count int
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &count, query, userID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead flags one of the user's notifications as read. It reports whether
// the notification exists for that user.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string) (bool, error) {
	const query = `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, id, userID)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return rowsChanged(res, "mark notification read")
}

// MarkAllRead flags every unread notification of the user and returns how many changed.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	const query = `UPDATE notifications SET read = TRUE WHERE user_id = $1 AND read = FALSE`
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read rows: %w", err)
	}
	return affected, nil
}
