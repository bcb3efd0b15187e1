package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/esg-compliance-api/pkg/errors"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, rec
}

func TestErrorHidesInternalCause(t *testing.T) {
	c, rec := newContext()

	Error(c, errors.New("pq: relation \"file_uploads\" does not exist"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.NotContains(t, rec.Body.String(), "file_uploads")
	require.Len(t, c.Errors, 1)
	assert.Contains(t, c.Errors.String(), "file_uploads")

	var body Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, appErrors.ErrInternal.Code, body.Error.Code)
}

func TestErrorClientErrorsAreNotAttached(t *testing.T) {
	c, rec := newContext()

	Error(c, appErrors.ErrScoringInProgress)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, c.Errors)
	assert.Contains(t, rec.Body.String(), "SCORING_IN_PROGRESS")
}

func TestContentDisposition(t *testing.T) {
	assert.Equal(t, "attachment; filename=audit_logs.csv", ContentDisposition("audit_logs.csv"))
	assert.Equal(t, `attachment; filename="ESG report 2024.pdf"`, ContentDisposition("ESG report 2024.pdf"))
	assert.Equal(t, "attachment; filename*=utf-8''Nachhaltigkeitsbericht_%C3%BCbersicht.pdf", ContentDisposition("Nachhaltigkeitsbericht_übersicht.pdf"))
}

func TestNoContent(t *testing.T) {
	c, rec := newContext()

	NoContent(c)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}
