package models

import "time"

// FileStatus is the review state of an upload.
type FileStatus string

const (
	FileStatusPending  FileStatus = "pending"
	FileStatusApproved FileStatus = "approved"
	FileStatusRejected FileStatus = "rejected"
)

// Valid reports whether s is a known review state.
func (s FileStatus) Valid() bool {
	switch s {
	case FileStatusPending, FileStatusApproved, FileStatusRejected:
		return true
	}
	return false
}

// ProcessingStatus is the scoring pipeline state of an upload.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingInProgress ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// FileUpload is evidence submitted against a checklist.
type FileUpload struct {
	ID               string           `db:"id" json:"id"`
	UserID           string           `db:"user_id" json:"user_id"`
	ChecklistID      string           `db:"checklist_id" json:"checklist_id"`
	Filename         string           `db:"filename" json:"filename"`
	OriginalFilename string           `db:"original_filename" json:"original_filename"`
	StorageKey       string           `db:"storage_key" json:"-"`
	FileSize         int64            `db:"file_size" json:"file_size"`
	MimeType         string           `db:"mime_type" json:"mime_type"`
	Status           FileStatus       `db:"status" json:"status"`
	ProcessingStatus ProcessingStatus `db:"processing_status" json:"processing_status"`
	ProcessingError  *string          `db:"processing_error" json:"processing_error,omitempty"`
	ClaimedAt        *time.Time       `db:"claimed_at" json:"-"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// ClaimExpired reports whether a processing claim has outlived lease. A
// processing upload without a claim time counts as expired.
func (f FileUpload) ClaimExpired(now time.Time, lease time.Duration) bool {
	return f.ClaimedAt == nil || now.After(f.ClaimedAt.Add(lease))
}

// DisplayName is the name shown to users.
func (f FileUpload) DisplayName() string {
	if f.OriginalFilename != "" {
		return f.OriginalFilename
	}
	return f.Filename
}

// FileFilter narrows file listings. OwnerID is forced for non-reviewers.
type FileFilter struct {
	OwnerID          string
	ChecklistID      string           `form:"checklist_id"`
	Status           FileStatus       `form:"status"`
	ProcessingStatus ProcessingStatus `form:"processing_status"`
	Page             int              `form:"page"`
	PageSize         int              `form:"page_size"`
}

// UpdateFileStatusRequest changes the review status.
type UpdateFileStatusRequest struct {
	Status FileStatus `json:"status" validate:"required,oneof=pending approved rejected"`
}

// DownloadLink is a short lived signed download URL.
type DownloadLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Comment is an append-only reviewer remark on an upload.
type Comment struct {
	ID           string    `db:"id" json:"id"`
	FileUploadID string    `db:"file_upload_id" json:"file_upload_id"`
	UserID       string    `db:"user_id" json:"user_id"`
	Content      string    `db:"content" json:"content"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// CreateCommentRequest adds a comment.
type CreateCommentRequest struct {
	Content string `json:"content" validate:"required,max=5000"`
}
