package errors

import (
	"database/sql"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromErrorKeepsTypedErrors(t *testing.T) {
	err := fmt.Errorf("handler: %w", Clone(ErrPreconditionFailed, "file must finish processing"))

	appErr := FromError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, http.StatusPreconditionFailed, appErr.Status)
	assert.Equal(t, "file must finish processing", appErr.Message)
	assert.True(t, HasCode(err, ErrPreconditionFailed.Code))
}

func TestFromErrorWrapsUnknownErrors(t *testing.T) {
	appErr := FromError(sql.ErrConnDone)
	require.NotNil(t, appErr)
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.ErrorIs(t, appErr, sql.ErrConnDone)
	assert.Nil(t, FromError(nil))
}

func TestCloneDoesNotMutateOriginal(t *testing.T) {
	clone := Clone(ErrNotFound, "checklist not found")
	assert.Equal(t, "checklist not found", clone.Message)
	assert.Equal(t, "resource not found", ErrNotFound.Message)
}

func TestWorkflowErrorsAreDistinguishable(t *testing.T) {
	err := fmt.Errorf("rescore f1: %w", ErrScoringInProgress)

	assert.True(t, HasCode(err, ErrScoringInProgress.Code))
	assert.False(t, HasCode(err, ErrConflict.Code))
	assert.Equal(t, http.StatusConflict, FromError(err).Status)
	assert.Equal(t, http.StatusPreconditionFailed, ErrScoringIncomplete.Status)
	assert.Equal(t, http.StatusForbidden, ErrDownloadLinkExpired.Status)
}

func TestIsMatchesClonesByCode(t *testing.T) {
	err := fmt.Errorf("download: %w", Clone(ErrDownloadLinkInvalid, "token signature mismatch"))

	assert.ErrorIs(t, err, ErrDownloadLinkInvalid)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.False(t, HasCode(sql.ErrNoRows, ErrNotFound.Code))
}
