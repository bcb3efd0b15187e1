package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	"github.com/noah-isme/esg-compliance-api/internal/service"
)

type auditServiceStub struct {
	filter models.AuditFilter
	limit  int
	format string
	actor  service.Actor
}

func (s *auditServiceStub) Query(_ context.Context, filter models.AuditFilter, limit int) ([]models.AuditLog, error) {
	s.filter = filter
	s.limit = limit
	return []models.AuditLog{{ID: "a2", Action: "login"}, {ID: "a1", Action: "login"}}, nil
}

func (s *auditServiceStub) Export(_ context.Context, filter models.AuditFilter, format string, limit int, actor service.Actor) (*service.AuditExport, error) {
	s.filter = filter
	s.format = format
	s.limit = limit
	s.actor = actor
	return &service.AuditExport{Filename: "audit_logs_20240501_093000.csv", ContentType: "text/csv", Data: []byte("id,user_id\n"), Rows: 0}, nil
}

func TestAuditHandlerList(t *testing.T) {
	svc := &auditServiceStub{}
	h := NewAuditHandler(svc)

	c, rec := newJSONContext(http.MethodGet, "/api/v1/audit-logs?action=login&from=2024-05-01T00:00:00Z&limit=5", nil)
	withClaims(c, "admin-1", models.RoleAdmin)
	h.List(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "login", svc.filter.Action)
	require.NotNil(t, svc.filter.From)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), *svc.filter.From)
	assert.Equal(t, 5, svc.limit)
	assert.EqualValues(t, 2, decodeEnvelope(t, rec).Meta["count"])
}

func TestAuditHandlerListRejectsBadRange(t *testing.T) {
	h := NewAuditHandler(&auditServiceStub{})

	c, rec := newJSONContext(http.MethodGet, "/api/v1/audit-logs?to=last-week", nil)
	withClaims(c, "admin-1", models.RoleAdmin)
	h.List(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditHandlerExport(t *testing.T) {
	svc := &auditServiceStub{}
	h := NewAuditHandler(svc)

	c, rec := newJSONContext(http.MethodGet, "/api/v1/audit-logs/export?format=csv&user_id=u1", nil)
	withClaims(c, "admin-1", models.RoleAdmin)
	h.Export(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "csv", svc.format)
	assert.Equal(t, "u1", svc.filter.UserID)
	assert.Equal(t, "admin-1", svc.actor.ID)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "audit_logs_20240501_093000.csv")
	assert.Equal(t, "id,user_id\n", rec.Body.String())
}
