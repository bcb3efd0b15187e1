package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/esg-compliance-api/internal/dto"
	"github.com/noah-isme/esg-compliance-api/internal/models"
	"github.com/noah-isme/esg-compliance-api/internal/service"
	appErrors "github.com/noah-isme/esg-compliance-api/pkg/errors"
	"github.com/noah-isme/esg-compliance-api/pkg/response"
)

type auditService interface {
	Query(ctx context.Context, filter models.AuditFilter, limit int) ([]models.AuditLog, error)
	Export(ctx context.Context, filter models.AuditFilter, format string, limit int, actor service.Actor) (*service.AuditExport, error)
}

// AuditHandler exposes the audit trail to administrators.
type AuditHandler struct {
	service auditService
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(svc auditService) *AuditHandler {
	return &AuditHandler{service: svc}
}

// List godoc
// @Summary Query audit logs
// @Description Newest first. limit defaults to 100 and is capped at 1000
// @Tags Audit
// @Produce json
// @Security BearerAuth
// @Param user_id query string false "Actor"
// @Param action query string false "Action"
// @Param resource_type query string false "Resource type"
// @Param resource_id query string false "Resource ID"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param limit query int false "Maximum rows"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /audit-logs [get]
func (h *AuditHandler) List(c *gin.Context) {
	query, filter, ok := bindAuditQuery(c)
	if !ok {
		return
	}
	logs, err := h.service.Query(c.Request.Context(), filter, query.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil, map[string]interface{}{"count": len(logs)})
}

// Export godoc
// @Summary Export audit logs
// @Tags Audit
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv, excel or pdf"
// @Param user_id query string false "Actor"
// @Param action query string false "Action"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param limit query int false "Maximum rows"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Router /audit-logs/export [get]
func (h *AuditHandler) Export(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	query, filter, ok := bindAuditQuery(c)
	if !ok {
		return
	}
	out, err := h.service.Export(c.Request.Context(), filter, query.Format, query.Limit, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, out.Filename, out.ContentType, out.Data)
}

func bindAuditQuery(c *gin.Context) (dto.AuditQuery, models.AuditFilter, bool) {
	var query dto.AuditQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query"))
		return query, models.AuditFilter{}, false
	}
	filter, err := query.Filter()
	if err != nil {
		response.Error(c, err)
		return query, models.AuditFilter{}, false
	}
	return query, filter, true
}
