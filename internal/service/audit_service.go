package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	appErrors "github.com/noah-isme/esg-compliance-api/pkg/errors"
	"github.com/noah-isme/esg-compliance-api/pkg/export"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// Export formats.
const (
	ExportFormatCSV   = "csv"
	ExportFormatExcel = "excel"
	ExportFormatPDF   = "pdf"
)

// AuditExportHeader is the fixed column order of audit exports.
var AuditExportHeader = []string{"id", "user_id", "action", "resource_type", "resource_id", "details", "ip_address", "user_agent", "timestamp"}

type auditStore interface {
	Create(ctx context.Context, log *models.AuditLog) error
	Query(ctx context.Context, filter models.AuditFilter, limit int) ([]models.AuditLog, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type titledRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// AuditEntry describes one security-relevant action.
type AuditEntry struct {
	ActorID      *string
	Action       string
	ResourceType string
	ResourceID   *string
	Details      *string
	IP           *string
	UserAgent    *string
}

// AuditExport is a rendered audit extract.
type AuditExport struct {
	Filename    string
	ContentType string
	Data        []byte
	Rows        int
}

// AuditConfig bounds query sizes.
type AuditConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// AuditService records and reads the append-only audit trail.
type AuditService struct {
	repo   auditStore
	logger *zap.Logger
	cfg    AuditConfig
	csv    csvRenderer
	xlsx   titledRenderer
	pdf    titledRenderer
	now    func() time.Time
}

// NewAuditService constructs an AuditService.
func NewAuditService(repo auditStore, logger *zap.Logger, cfg AuditConfig) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = maxAuditLimit
	}
	if cfg.DefaultLimit <= 0 || cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = defaultAuditLimit
	}
	return &AuditService{
		repo:   repo,
		logger: logger,
		cfg:    cfg,
		csv:    export.NewCSVExporter(),
		xlsx:   export.NewXLSXExporter(),
		pdf:    export.NewPDFExporter(),
		now:    time.Now,
	}
}

// Record appends an entry. Storage failures are returned to the caller.
func (s *AuditService) Record(ctx context.Context, entry AuditEntry) error {
	_, err := s.Append(ctx, entry)
	return err
}

// Append is Record returning the id of the stored entry.
func (s *AuditService) Append(ctx context.Context, entry AuditEntry) (string, error) {
	if strings.TrimSpace(entry.Action) == "" || strings.TrimSpace(entry.ResourceType) == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "audit action and resource type are required")
	}
	log := &models.AuditLog{
		ID:           uuid.NewString(),
		UserID:       entry.ActorID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Details:      entry.Details,
		IPAddress:    entry.IP,
		UserAgent:    entry.UserAgent,
		Timestamp:    s.now().UTC(),
	}
	if err := s.repo.Create(ctx, log); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record audit entry")
	}
	return log.ID, nil
}

// Query returns entries newest first.
func (s *AuditService) Query(ctx context.Context, filter models.AuditFilter, limit int) ([]models.AuditLog, error) {
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}
	logs, err := s.repo.Query(ctx, filter, s.clampLimit(limit))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to query audit logs")
	}
	return logs, nil
}

// Export renders matching entries. The export is itself audited.
func (s *AuditService) Export(ctx context.Context, filter models.AuditFilter, format string, limit int, actor Actor) (*AuditExport, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	if format == "xlsx" {
		format = ExportFormatExcel
	}
	if format != ExportFormatCSV && format != ExportFormatExcel && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	logs, err := s.Query(ctx, filter, limit)
	if err != nil {
		return nil, err
	}

	dataset := auditDataset(logs)
	stamp := s.now().UTC().Format("20060102_150405")
	out := &AuditExport{Rows: len(logs)}
	switch format {
	case ExportFormatCSV:
		out.Data, err = s.csv.Render(dataset)
		out.Filename = "audit_logs_" + stamp + ".csv"
		out.ContentType = "text/csv"
	case ExportFormatExcel:
		out.Data, err = s.xlsx.Render(dataset, "Audit Logs")
		out.Filename = "audit_logs_" + stamp + ".xlsx"
		out.ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ExportFormatPDF:
		out.Data, err = s.pdf.Render(dataset, "Audit Log Export")
		out.Filename = "audit_logs_" + stamp + ".pdf"
		out.ContentType = "application/pdf"
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render audit export")
	}

	details := fmt.Sprintf("format=%s rows=%d", format, len(logs))
	if err := s.Record(ctx, AuditEntry{
		ActorID:      strPtr(actor.ID),
		Action:       models.AuditActionExport,
		ResourceType: models.ResourceAuditLog,
		Details:      &details,
		IP:           strPtr(actor.Meta.IP),
		UserAgent:    strPtr(actor.Meta.UserAgent),
	}); err != nil {
		return nil, err
	}

	return out, nil
}

func (s *AuditService) clampLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		return s.cfg.MaxLimit
	}
	return limit
}

func auditDataset(logs []models.AuditLog) export.Dataset {
	rows := make([][]string, 0, len(logs))
	for _, log := range logs {
		rows = append(rows, []string{
			log.ID,
			deref(log.UserID),
			log.Action,
			log.ResourceType,
			deref(log.ResourceID),
			deref(log.Details),
			deref(log.IPAddress),
			deref(log.UserAgent),
			log.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return export.Dataset{Headers: AuditExportHeader, Rows: rows}
}

// formatScore renders a score for audit details.
func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 4, 64)
}
