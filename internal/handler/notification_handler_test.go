package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	appErrors "github.com/noah-isme/esg-compliance-api/pkg/errors"
)

type notificationServiceStub struct {
	userID string
	filter models.NotificationFilter
}

func (s *notificationServiceStub) List(_ context.Context, userID string, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error) {
	s.userID = userID
	s.filter = filter
	return []models.Notification{{ID: "n1", UserID: userID}}, models.NewPagination(1, 20, 1), nil
}

func (s *notificationServiceStub) UnreadCount(_ context.Context, userID string) (int, error) {
	s.userID = userID
	return 4, nil
}

func (s *notificationServiceStub) MarkRead(_ context.Context, userID, id string) error {
	s.userID = userID
	if id != "n1" {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	return nil
}

func (s *notificationServiceStub) MarkAllRead(_ context.Context, userID string) (int64, error) {
	s.userID = userID
	return 2, nil
}

func TestNotificationHandlerListUsesCaller(t *testing.T) {
	svc := &notificationServiceStub{}
	h := NewNotificationHandler(svc)

	c, rec := newJSONContext(http.MethodGet, "/api/v1/notifications?unread_only=true&page=2", nil)
	withClaims(c, "u1", models.RoleUser)
	h.List(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", svc.userID)
	assert.True(t, svc.filter.UnreadOnly)
	assert.Equal(t, 2, svc.filter.Page)
}

func TestNotificationHandlerUnreadCount(t *testing.T) {
	h := NewNotificationHandler(&notificationServiceStub{})

	c, rec := newJSONContext(http.MethodGet, "/api/v1/notifications/unread-count", nil)
	withClaims(c, "u1", models.RoleUser)
	h.UnreadCount(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &body))
	assert.Equal(t, 4, body["unread"])
}

func TestNotificationHandlerMarkRead(t *testing.T) {
	h := NewNotificationHandler(&notificationServiceStub{})

	c, rec := newJSONContext(http.MethodPost, "/api/v1/notifications/n1/read", nil)
	c.Params = gin.Params{{Key: "id", Value: "n1"}}
	withClaims(c, "u1", models.RoleUser)
	h.MarkRead(c)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	c, rec = newJSONContext(http.MethodPost, "/api/v1/notifications/n2/read", nil)
	c.Params = gin.Params{{Key: "id", Value: "n2"}}
	withClaims(c, "u1", models.RoleUser)
	h.MarkRead(c)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
