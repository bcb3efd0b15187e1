package service

import (
	"strings"

	"github.com/noah-isme/esg-compliance-api/internal/models"
)

func strPtr(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID   string
	Role models.UserRole
	Meta models.RequestMeta
}
