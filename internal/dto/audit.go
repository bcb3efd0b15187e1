package dto

import (
	"strings"
	"time"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	appErrors "github.com/noah-isme/esg-compliance-api/pkg/errors"
)

// AuditQuery captures GET /audit-logs and /audit-logs/export query parameters.
// From and To are RFC3339 timestamps.
type AuditQuery struct {
	UserID       string `form:"user_id"`
	Action       string `form:"action"`
	ResourceType string `form:"resource_type"`
	ResourceID   string `form:"resource_id"`
	From         string `form:"from"`
	To           string `form:"to"`
	Limit        int    `form:"limit"`
	Format       string `form:"format"`
}

// Filter converts the query into a repository filter.
func (q AuditQuery) Filter() (models.AuditFilter, error) {
	filter := models.AuditFilter{
		UserID:       strings.TrimSpace(q.UserID),
		Action:       strings.TrimSpace(q.Action),
		ResourceType: strings.TrimSpace(q.ResourceType),
		ResourceID:   strings.TrimSpace(q.ResourceID),
	}
	var err error
	if filter.From, err = parseTimestamp("from", q.From); err != nil {
		return filter, err
	}
	if filter.To, err = parseTimestamp("to", q.To); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseTimestamp(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, field+" must be an RFC3339 timestamp")
	}
	ts = ts.UTC()
	return &ts, nil
}
