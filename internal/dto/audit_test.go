package dto

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/esg-compliance-api/pkg/errors"
)

func TestAuditQueryFilter(t *testing.T) {
	q := AuditQuery{UserID: " u1 ", Action: "login", From: "2024-05-01T10:00:00+02:00"}

	filter, err := q.Filter()
	require.NoError(t, err)
	assert.Equal(t, "u1", filter.UserID)
	assert.Equal(t, "login", filter.Action)
	require.NotNil(t, filter.From)
	assert.Equal(t, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), *filter.From)
	assert.Nil(t, filter.To)
}

func TestAuditQueryFilterRejectsBadTimestamp(t *testing.T) {
	_, err := AuditQuery{To: "yesterday"}.Filter()
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, http.StatusBadRequest, appErr.Status)
	assert.Contains(t, appErr.Message, "to must be")
}
