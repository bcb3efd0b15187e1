package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	appErrors "github.com/noah-isme/esg-compliance-api/pkg/errors"
)

type routerAuthStub struct{}

func (routerAuthStub) ValidateToken(token string) (*models.JWTClaims, error) {
	switch token {
	case "admin":
		return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}, nil
	case "user":
		return &models.JWTClaims{UserID: "u1", Role: models.RoleUser}, nil
	}
	return nil, appErrors.ErrUnauthorized
}

func (routerAuthStub) IsRevoked(context.Context, string) (bool, error) { return false, nil }

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(RouterConfig{Auth: routerAuthStub{}}, Handlers{
		Auth:          NewAuthHandler(&authServiceStub{}),
		Users:         NewUserHandler(&userServiceStub{}),
		Checklists:    NewChecklistHandler(&checklistServiceStub{}),
		Files:         NewFileHandler(&fileServiceStub{}, 1024),
		Notifications: NewNotificationHandler(&notificationServiceStub{}),
		Audit:         NewAuditHandler(&auditServiceStub{}),
		Metrics:       NewMetricsHandler(nil, nil),
	})
}

func TestRouterAccessControl(t *testing.T) {
	router := newTestRouter()

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{name: "health is public", method: http.MethodGet, path: "/health", status: http.StatusOK},
		{name: "ready without checks", method: http.MethodGet, path: "/ready", status: http.StatusOK},
		{name: "checklists need a token", method: http.MethodGet, path: "/api/v1/checklists", status: http.StatusUnauthorized},
		{name: "checklists for any user", method: http.MethodGet, path: "/api/v1/checklists", token: "user", status: http.StatusOK},
		{name: "checklist create is admin only", method: http.MethodPost, path: "/api/v1/checklists", token: "user", status: http.StatusForbidden},
		{name: "users are admin only", method: http.MethodGet, path: "/api/v1/users", token: "user", status: http.StatusForbidden},
		{name: "admin lists users", method: http.MethodGet, path: "/api/v1/users", token: "admin", status: http.StatusOK},
		{name: "audit is admin only", method: http.MethodGet, path: "/api/v1/audit-logs", token: "user", status: http.StatusForbidden},
		{name: "status change needs reviewer", method: http.MethodPatch, path: "/api/v1/files/f1/status", token: "user", status: http.StatusForbidden},
		{name: "signed download is public", method: http.MethodGet, path: "/api/v1/files/download/tok", status: http.StatusOK},
		{name: "file detail routes by id", method: http.MethodGet, path: "/api/v1/files/f1", token: "user", status: http.StatusForbidden},
		{name: "unread count", method: http.MethodGet, path: "/api/v1/notifications/unread-count", token: "user", status: http.StatusOK},
		{name: "bad token", method: http.MethodGet, path: "/api/v1/auth/me", token: "forged", status: http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}
