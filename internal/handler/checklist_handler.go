package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	"github.com/noah-isme/esg-compliance-api/internal/service"
	"github.com/noah-isme/esg-compliance-api/pkg/response"
)

type checklistService interface {
	List(ctx context.Context, filter models.ChecklistFilter) ([]models.Checklist, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Checklist, error)
	Create(ctx context.Context, actor service.Actor, req models.CreateChecklistRequest) (*models.Checklist, error)
	Update(ctx context.Context, actor service.Actor, id string, req models.UpdateChecklistRequest) (*models.Checklist, error)
	Delete(ctx context.Context, actor service.Actor, id string) error
	AddItem(ctx context.Context, actor service.Actor, checklistID string, req models.CreateChecklistItemRequest) (*models.ChecklistItem, error)
	UpdateItem(ctx context.Context, actor service.Actor, checklistID, itemID string, req models.UpdateChecklistItemRequest) (*models.ChecklistItem, error)
	DeleteItem(ctx context.Context, actor service.Actor, checklistID, itemID string) error
	Summary(ctx context.Context, id string) (*models.ChecklistSummary, error)
	RescoreAll(ctx context.Context, actor service.Actor, id string) (*service.RescoreReport, error)
}

// ChecklistHandler exposes checklist and item management.
type ChecklistHandler struct {
	service checklistService
}

// NewChecklistHandler constructs the handler.
func NewChecklistHandler(svc checklistService) *ChecklistHandler {
	return &ChecklistHandler{service: svc}
}

// List godoc
// @Summary List checklists
// @Tags Checklists
// @Produce json
// @Security BearerAuth
// @Param active query bool false "Active filter"
// @Param search query string false "Title search"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /checklists [get]
func (h *ChecklistHandler) List(c *gin.Context) {
	filter := models.ChecklistFilter{
		Active:   queryBool(c, "active"),
		Search:   strings.TrimSpace(c.Query("search")),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	items, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get checklist with items
// @Tags Checklists
// @Produce json
// @Security BearerAuth
// @Param id path string true "Checklist ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /checklists/{id} [get]
func (h *ChecklistHandler) Get(c *gin.Context) {
	checklist, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, checklist, nil)
}

// Create godoc
// @Summary Create checklist
// @Tags Checklists
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.CreateChecklistRequest true "Checklist payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /checklists [post]
func (h *ChecklistHandler) Create(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req models.CreateChecklistRequest
	if !bindJSON(c, &req, "invalid checklist payload") {
		return
	}
	checklist, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, checklist)
}

// Update godoc
// @Summary Update checklist
// @Tags Checklists
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Checklist ID"
// @Param payload body models.UpdateChecklistRequest true "Checklist payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /checklists/{id} [put]
func (h *ChecklistHandler) Update(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req models.UpdateChecklistRequest
	if !bindJSON(c, &req, "invalid checklist payload") {
		return
	}
	checklist, err := h.service.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, checklist, nil)
}

// Delete godoc
// @Summary Delete checklist
// @Description Refused once evidence has been uploaded against it
// @Tags Checklists
// @Security BearerAuth
// @Param id path string true "Checklist ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /checklists/{id} [delete]
func (h *ChecklistHandler) Delete(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AddItem godoc
// @Summary Add checklist item
// @Tags Checklists
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Checklist ID"
// @Param payload body models.CreateChecklistItemRequest true "Item payload"
// @Success 201 {object} response.Envelope
// @Router /checklists/{id}/items [post]
func (h *ChecklistHandler) AddItem(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req models.CreateChecklistItemRequest
	if !bindJSON(c, &req, "invalid item payload") {
		return
	}
	item, err := h.service.AddItem(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// UpdateItem godoc
// @Summary Update checklist item
// @Description Items of a checklist with uploads require the current version
// @Tags Checklists
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Checklist ID"
// @Param itemId path string true "Item ID"
// @Param payload body models.UpdateChecklistItemRequest true "Item payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /checklists/{id}/items/{itemId} [put]
func (h *ChecklistHandler) UpdateItem(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req models.UpdateChecklistItemRequest
	if !bindJSON(c, &req, "invalid item payload") {
		return
	}
	item, err := h.service.UpdateItem(c.Request.Context(), actor, c.Param("id"), c.Param("itemId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// DeleteItem godoc
// @Summary Delete checklist item
// @Tags Checklists
// @Security BearerAuth
// @Param id path string true "Checklist ID"
// @Param itemId path string true "Item ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /checklists/{id}/items/{itemId} [delete]
func (h *ChecklistHandler) DeleteItem(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	if err := h.service.DeleteItem(c.Request.Context(), actor, c.Param("id"), c.Param("itemId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Summary godoc
// @Summary Weighted checklist score
// @Description Mean of the latest score of every scored upload
// @Tags Checklists
// @Produce json
// @Security BearerAuth
// @Param id path string true "Checklist ID"
// @Success 200 {object} response.Envelope
// @Router /checklists/{id}/summary [get]
func (h *ChecklistHandler) Summary(c *gin.Context) {
	summary, err := h.service.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// RescoreAll godoc
// @Summary Rescore every upload of a checklist
// @Tags Checklists
// @Produce json
// @Security BearerAuth
// @Param id path string true "Checklist ID"
// @Success 202 {object} response.Envelope
// @Router /checklists/{id}/rescore [post]
func (h *ChecklistHandler) RescoreAll(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	report, err := h.service.RescoreAll(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, report)
}
