package models

import "time"

// NotificationType drives client side styling.
type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
)

// Notification is an in-app message to one user. Only Read ever changes.
type Notification struct {
	ID                string           `db:"id" json:"id"`
	UserID            string           `db:"user_id" json:"user_id"`
	Title             string           `db:"title" json:"title"`
	Message           string           `db:"message" json:"message"`
	Link              *string          `db:"link" json:"link,omitempty"`
	Type              NotificationType `db:"notification_type" json:"type"`
	RelatedEntityType *string          `db:"related_entity_type" json:"related_entity_type,omitempty"`
	RelatedEntityID   *string          `db:"related_entity_id" json:"related_entity_id,omitempty"`
	DedupeKey         *string          `db:"dedupe_key" json:"-"`
	Read              bool             `db:"read" json:"read"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
}

// NotificationFilter narrows a user's notification listing.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool `form:"unread_only"`
	Page       int  `form:"page"`
	PageSize   int  `form:"page_size"`
}
