package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	"github.com/noah-isme/esg-compliance-api/internal/service"
	appErrors "github.com/noah-isme/esg-compliance-api/pkg/errors"
)

type userServiceStub struct {
	filter models.UserFilter
	update *service.UpdateUserRequest
	actor  service.Actor
}

func (s *userServiceStub) List(_ context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	s.filter = filter
	return []models.User{}, models.NewPagination(filter.Page, filter.PageSize, 0), nil
}

func (s *userServiceStub) Get(_ context.Context, id string) (*models.User, error) {
	return &models.User{ID: id}, nil
}

func (s *userServiceStub) Update(_ context.Context, id string, req service.UpdateUserRequest, actor service.Actor) (*models.User, error) {
	s.update = &req
	s.actor = actor
	if id == actor.ID && req.Role != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot change your own role")
	}
	return &models.User{ID: id}, nil
}

func (s *userServiceStub) Deactivate(_ context.Context, _ string, actor service.Actor) error {
	s.actor = actor
	return nil
}

func TestUserHandlerListFilters(t *testing.T) {
	svc := &userServiceStub{}
	h := NewUserHandler(svc)

	c, rec := newJSONContext(http.MethodGet, "/api/v1/users?role=REVIEWER&active=false&page=3&page_size=10", nil)
	h.List(c)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.filter.Role)
	assert.Equal(t, models.RoleReviewer, *svc.filter.Role)
	require.NotNil(t, svc.filter.Active)
	assert.False(t, *svc.filter.Active)
	assert.Equal(t, 3, svc.filter.Page)
	assert.Equal(t, 10, svc.filter.PageSize)
}

func TestUserHandlerUpdateSelfRole(t *testing.T) {
	svc := &userServiceStub{}
	h := NewUserHandler(svc)

	role := models.RoleUser
	c, rec := newJSONContext(http.MethodPatch, "/api/v1/users/admin-1", service.UpdateUserRequest{Role: &role})
	c.Params = gin.Params{{Key: "id", Value: "admin-1"}}
	withClaims(c, "admin-1", models.RoleAdmin)
	h.Update(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "handler-test", svc.actor.Meta.UserAgent)
}

func TestUserHandlerDeactivate(t *testing.T) {
	svc := &userServiceStub{}
	h := NewUserHandler(svc)

	c, rec := newJSONContext(http.MethodDelete, "/api/v1/users/u2", nil)
	c.Params = gin.Params{{Key: "id", Value: "u2"}}
	withClaims(c, "admin-1", models.RoleAdmin)
	h.Deactivate(c)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, models.RoleAdmin, svc.actor.Role)
}
