package models

import (
	"encoding/json"
	"time"
)

// Findings holds the per-pillar assessment text.
type Findings struct {
	Summary       string `json:"summary,omitempty"`
	Environmental string `json:"environmental"`
	Social        string `json:"social"`
	Governance    string `json:"governance"`
}

// Recommendation is one remediation action.
type Recommendation struct {
	Label    string `json:"label"`
	Action   string `json:"action"`
	Outcome  string `json:"outcome"`
	Timeline string `json:"timeline"`
	Cost     string `json:"cost"`
}

// RiskLevel grades a compliance gap.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Gap is one identified compliance shortfall.
type Gap struct {
	Category    string    `json:"category"`
	Description string    `json:"description"`
	RiskLevel   RiskLevel `json:"risk_level"`
	Citation    string    `json:"citation"`
	Exposure    string    `json:"exposure"`
}

// AnalysisResult is the validated assessment of a document against one criterion.
type AnalysisResult struct {
	Score            float64          `json:"score"`
	Findings         Findings         `json:"findings"`
	Recommendations  []Recommendation `json:"recommendations"`
	Gaps             []Gap            `json:"gaps"`
	AIModelVersion   string           `json:"ai_model_version"`
	PromptVersion    string           `json:"prompt_version,omitempty"`
	ProcessingTimeMS int64            `json:"processing_time_ms"`
}

// ItemResult ties an analysis to the checklist item it scored.
type ItemResult struct {
	ChecklistItemID string         `json:"checklist_item_id"`
	ItemVersion     int            `json:"item_version"`
	Domain          string         `json:"domain"`
	Weight          float64        `json:"weight"`
	Analysis        AnalysisResult `json:"analysis"`
}

// AIResult is the persisted outcome of one successful scoring run.
type AIResult struct {
	ID               string          `db:"id" json:"id"`
	FileUploadID     string          `db:"file_upload_id" json:"file_upload_id"`
	OverallScore     float64         `db:"overall_score" json:"overall_score"`
	ItemResults      json.RawMessage `db:"item_results" json:"item_results"`
	AIModelVersion   *string         `db:"ai_model_version" json:"ai_model_version,omitempty"`
	ProcessingTimeMS int64           `db:"processing_time_ms" json:"processing_time_ms"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}
