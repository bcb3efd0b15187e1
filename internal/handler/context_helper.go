package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/esg-compliance-api/internal/middleware"
	"github.com/noah-isme/esg-compliance-api/internal/models"
	"github.com/noah-isme/esg-compliance-api/internal/service"
	appErrors "github.com/noah-isme/esg-compliance-api/pkg/errors"
	"github.com/noah-isme/esg-compliance-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		return nil
	}
	return claims
}

func requestMeta(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

// actorOrAbort resolves the caller and writes a 401 when no claims are present.
func actorOrAbort(c *gin.Context) (service.Actor, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return service.Actor{}, false
	}
	return service.Actor{ID: claims.UserID, Role: claims.Role, Meta: requestMeta(c)}, true
}

func bindJSON(c *gin.Context, dest interface{}, msg string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, msg))
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil {
		return v
	}
	return fallback
}

func queryBool(c *gin.Context, key string) *bool {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}
