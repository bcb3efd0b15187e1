package models

import "time"

// Checklist is a named set of weighted compliance criteria.
type Checklist struct {
	ID          string          `db:"id" json:"id"`
	Title       string          `db:"title" json:"title"`
	Description *string         `db:"description" json:"description,omitempty"`
	IsActive    bool            `db:"is_active" json:"is_active"`
	CreatedBy   *string         `db:"created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
	Items       []ChecklistItem `db:"-" json:"items,omitempty"`
}

// ChecklistItem is one criterion. Version increases on every edit.
type ChecklistItem struct {
	ID          string    `db:"id" json:"id"`
	ChecklistID string    `db:"checklist_id" json:"checklist_id"`
	Question    string    `db:"question" json:"question"`
	Description *string   `db:"description" json:"description,omitempty"`
	Category    *string   `db:"category" json:"category,omitempty"`
	Weight      float64   `db:"weight" json:"weight"`
	IsRequired  bool      `db:"is_required" json:"is_required"`
	OrderIndex  int       `db:"order_index" json:"order_index"`
	Version     int       `db:"version" json:"version"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CategoryValue returns the category or an empty string.
func (i ChecklistItem) CategoryValue() string {
	if i.Category == nil {
		return ""
	}
	return *i.Category
}

// DescriptionValue returns the description or an empty string.
func (i ChecklistItem) DescriptionValue() string {
	if i.Description == nil {
		return ""
	}
	return *i.Description
}

// ChecklistFilter narrows checklist listings.
type ChecklistFilter struct {
	Active   *bool
	Search   string
	Page     int
	PageSize int
}

// CreateChecklistRequest creates a checklist with optional initial items.
type CreateChecklistRequest struct {
	Title       string                       `json:"title" validate:"required,max=255"`
	Description *string                      `json:"description"`
	Items       []CreateChecklistItemRequest `json:"items" validate:"omitempty,dive"`
}

// UpdateChecklistRequest updates checklist metadata.
type UpdateChecklistRequest struct {
	Title       string  `json:"title" validate:"required,max=255"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

// CreateChecklistItemRequest adds an item. Weight defaults to 1.0.
type CreateChecklistItemRequest struct {
	Question    string   `json:"question" validate:"required"`
	Description *string  `json:"description"`
	Category    *string  `json:"category" validate:"omitempty,max=100"`
	Weight      *float64 `json:"weight" validate:"omitempty,gt=0"`
	IsRequired  *bool    `json:"is_required"`
	OrderIndex  *int     `json:"order_index" validate:"omitempty,min=0"`
}

// UpdateChecklistItemRequest edits an item. Version must match the stored
// version when the checklist already has uploads.
type UpdateChecklistItemRequest struct {
	Question    string  `json:"question" validate:"required"`
	Description *string `json:"description"`
	Category    *string `json:"category" validate:"omitempty,max=100"`
	Weight      float64 `json:"weight" validate:"gt=0"`
	IsRequired  bool    `json:"is_required"`
	OrderIndex  int     `json:"order_index" validate:"min=0"`
	Version     *int    `json:"version" validate:"omitempty,min=1"`
}

// ChecklistSummary is the weighted aggregate of the latest scored uploads.
type ChecklistSummary struct {
	ChecklistID   string   `json:"checklist_id"`
	ScoredFiles   int      `json:"scored_files"`
	WeightedScore *float64 `json:"weighted_score,omitempty"`
	TotalWeight   float64  `json:"total_weight"`
}
