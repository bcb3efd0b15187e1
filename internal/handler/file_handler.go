package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	"github.com/noah-isme/esg-compliance-api/internal/service"
	appErrors "github.com/noah-isme/esg-compliance-api/pkg/errors"
	"github.com/noah-isme/esg-compliance-api/pkg/response"
)

// multipartOverhead leaves room for form boundaries and the checklist field.
const multipartOverhead = 1 << 20

type fileService interface {
	Upload(ctx context.Context, actor service.Actor, in service.UploadInput) (*models.FileUpload, error)
	List(ctx context.Context, actor service.Actor, filter models.FileFilter) ([]models.FileUpload, *models.Pagination, error)
	Get(ctx context.Context, actor service.Actor, id string) (*models.FileUpload, error)
	DownloadLink(ctx context.Context, actor service.Actor, id string) (*models.DownloadLink, error)
	OpenDownload(ctx context.Context, token string) (*models.FileUpload, io.ReadCloser, error)
	UpdateStatus(ctx context.Context, actor service.Actor, id string, req models.UpdateFileStatusRequest) (*models.FileUpload, error)
	AddComment(ctx context.Context, actor service.Actor, fileID string, req models.CreateCommentRequest) (*models.Comment, error)
	ListComments(ctx context.Context, actor service.Actor, fileID string) ([]models.Comment, error)
	LatestAnalysis(ctx context.Context, actor service.Actor, fileID string) (*models.AIResult, error)
	Rescore(ctx context.Context, actor service.Actor, fileID string) (*models.FileUpload, error)
}

// FileHandler exposes evidence upload, review and scoring endpoints.
type FileHandler struct {
	service  fileService
	maxBytes int64
}

// NewFileHandler constructs the handler. maxBytes caps the request body.
func NewFileHandler(svc fileService, maxBytes int64) *FileHandler {
	return &FileHandler{service: svc, maxBytes: maxBytes}
}

// Upload godoc
// @Summary Upload evidence
// @Description Stores the file, records it as pending and queues AI scoring
// @Tags Files
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param checklist_id formData string true "Checklist ID"
// @Param file formData file true "Evidence document"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 415 {object} response.Envelope
// @Router /files [post]
func (h *FileHandler) Upload(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErrors.ErrPayloadTooLarge)
			return
		}
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "file is required"))
		return
	}

	body, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unreadable upload"))
		return
	}
	defer body.Close()

	file, err := h.service.Upload(c.Request.Context(), actor, service.UploadInput{
		ChecklistID: strings.TrimSpace(c.PostForm("checklist_id")),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        body,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, file)
}

// List godoc
// @Summary List uploads
// @Description Owners see their own uploads; reviewers and admins see all
// @Tags Files
// @Produce json
// @Security BearerAuth
// @Param checklist_id query string false "Checklist ID"
// @Param status query string false "Review status"
// @Param processing_status query string false "Scoring status"
// @Param owner_id query string false "Uploader (reviewers only)"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /files [get]
func (h *FileHandler) List(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var filter models.FileFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query"))
		return
	}
	filter.OwnerID = strings.TrimSpace(c.Query("owner_id"))

	files, pagination, err := h.service.List(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, files, pagination)
}

// Get godoc
// @Summary Get upload
// @Tags Files
// @Produce json
// @Security BearerAuth
// @Param id path string true "File ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /files/{id} [get]
func (h *FileHandler) Get(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	file, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, file, nil)
}

// DownloadLink godoc
// @Summary Signed download URL
// @Tags Files
// @Produce json
// @Security BearerAuth
// @Param id path string true "File ID"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/download-link [get]
func (h *FileHandler) DownloadLink(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	link, err := h.service.DownloadLink(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Download godoc
// @Summary Download by signed token
// @Tags Files
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /files/download/{token} [get]
func (h *FileHandler) Download(c *gin.Context) {
	file, body, err := h.service.OpenDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer body.Close()

	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, file.FileSize, file.MimeType, body, map[string]string{
		"Content-Disposition": response.ContentDisposition(file.DisplayName()),
	})
}

// UpdateStatus godoc
// @Summary Change review status
// @Description Approval requires completed scoring; the owner is notified
// @Tags Files
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "File ID"
// @Param payload body models.UpdateFileStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /files/{id}/status [patch]
func (h *FileHandler) UpdateStatus(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req models.UpdateFileStatusRequest
	if !bindJSON(c, &req, "invalid status payload") {
		return
	}
	file, err := h.service.UpdateStatus(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, file, nil)
}

// AddComment godoc
// @Summary Comment on an upload
// @Tags Files
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "File ID"
// @Param payload body models.CreateCommentRequest true "Comment payload"
// @Success 201 {object} response.Envelope
// @Router /files/{id}/comments [post]
func (h *FileHandler) AddComment(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req models.CreateCommentRequest
	if !bindJSON(c, &req, "invalid comment payload") {
		return
	}
	comment, err := h.service.AddComment(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, comment)
}

// ListComments godoc
// @Summary List comments of an upload
// @Tags Files
// @Produce json
// @Security BearerAuth
// @Param id path string true "File ID"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/comments [get]
func (h *FileHandler) ListComments(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	comments, err := h.service.ListComments(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, comments, nil)
}

// Analysis godoc
// @Summary Latest AI analysis of an upload
// @Tags Files
// @Produce json
// @Security BearerAuth
// @Param id path string true "File ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /files/{id}/analysis [get]
func (h *FileHandler) Analysis(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	result, err := h.service.LatestAnalysis(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Rescore godoc
// @Summary Queue the upload for scoring again
// @Tags Files
// @Produce json
// @Security BearerAuth
// @Param id path string true "File ID"
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /files/{id}/rescore [post]
func (h *FileHandler) Rescore(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	file, err := h.service.Rescore(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, file)
}
