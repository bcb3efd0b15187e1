package models

import "time"

// Audit actions.
const (
	AuditActionRegister        = "register"
	AuditActionLogin           = "login"
	AuditActionLoginFailed     = "login_failed"
	AuditActionTokenRefresh    = "token_refresh"
	AuditActionLogout          = "logout"
	AuditActionPasswordChange  = "password_change"
	AuditActionUserUpdate      = "user_update"
	AuditActionUserDeactivate  = "user_deactivate"
	AuditActionChecklistCreate = "checklist_create"
	AuditActionChecklistUpdate = "checklist_update"
	AuditActionChecklistDelete = "checklist_delete"
	AuditActionItemCreate      = "checklist_item_create"
	AuditActionItemUpdate      = "checklist_item_update"
	AuditActionItemDelete      = "checklist_item_delete"
	AuditActionFileUpload      = "file_upload"
	AuditActionStatusChange    = "status_change"
	AuditActionCommentAdded    = "comment_added"
	AuditActionRescore         = "rescore_requested"
	AuditActionScoringDone     = "ai_scoring_completed"
	AuditActionScoringFailed   = "ai_scoring_failed"
	AuditActionExport          = "audit_export"
)

// Audit resource types.
const (
	ResourceAuth      = "auth"
	ResourceUser      = "user"
	ResourceChecklist = "checklist"
	ResourceItem      = "checklist_item"
	ResourceFile      = "file"
	ResourceComment   = "comment"
	ResourceAuditLog  = "audit_log"
)

// AuditLog represents an append-only audit trail record.
type AuditLog struct {
	ID           string    `db:"id" json:"id"`
	UserID       *string   `db:"user_id" json:"user_id,omitempty"`
	Action       string    `db:"action" json:"action"`
	ResourceType string    `db:"resource_type" json:"resource_type"`
	ResourceID   *string   `db:"resource_id" json:"resource_id,omitempty"`
	Details      *string   `db:"details" json:"details,omitempty"`
	IPAddress    *string   `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent    *string   `db:"user_agent" json:"user_agent,omitempty"`
	Timestamp    time.Time `db:"timestamp" json:"timestamp"`
}

// AuditFilter narrows audit queries. Zero values do not filter.
type AuditFilter struct {
	UserID       string     `form:"user_id"`
	Action       string     `form:"action"`
	ResourceType string     `form:"resource_type"`
	ResourceID   string     `form:"resource_id"`
	From         *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To           *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}
