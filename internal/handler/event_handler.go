package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/event-approval-api/internal/dto"
	"github.com/noah-isme/event-approval-api/internal/models"
	"github.com/noah-isme/event-approval-api/pkg/response"
)

type eventService interface {
	Create(ctx context.Context, actor models.Actor, req dto.CreateEventRequest, meta models.RequestMeta) (*dto.EventDetail, error)
	Get(ctx context.Context, id string, actor models.Actor) (*dto.EventDetail, error)
	UpdateSection(ctx context.Context, id, section string, payload json.RawMessage, actor models.Actor, meta models.RequestMeta) (*dto.EventDetail, error)
	Delete(ctx context.Context, id string, actor models.Actor, meta models.RequestMeta) error
	List(ctx context.Context, query dto.EventListQuery, actor models.Actor) ([]dto.EventListItem, *models.Pagination, error)
	Summary(ctx context.Context, actor models.Actor) (*dto.EventSummary, error)
	History(ctx context.Context, id string, actor models.Actor) ([]dto.EventHistoryEntry, error)
}

// EventHandler exposes event drafting endpoints.
type EventHandler struct {
	service eventService
}

// NewEventHandler constructs the handler.
func NewEventHandler(svc eventService) *EventHandler {
	return &EventHandler{service: svc}
}

// Create godoc
// @Summary Create event draft
// @Description Creates a draft owned by the caller. Every tab is optional.
// @Tags Events
// @Accept json
// @Produce json
// @Param payload body dto.CreateEventRequest true "Initial tabs"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /events [post]
func (h *EventHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	var req dto.CreateEventRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, bindError(err, "invalid event payload"))
			return
		}
	}

	detail, err := h.service.Create(c.Request.Context(), actor, req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, detail)
}

// List godoc
// @Summary List events
// @Tags Events
// @Produce json
// @Param scope query string false "mine, inbox or approved"
// @Param label query string false "Display label filter"
// @Param decision query string false "Caller role decision filter"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /events [get]
func (h *EventHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	var query dto.EventListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid query parameters"))
		return
	}

	items, pagination, err := h.service.List(c.Request.Context(), query, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, items, pagination, withMeta(c))
}

// Summary godoc
// @Summary Event counts per label
// @Tags Events
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /events/summary [get]
func (h *EventHandler) Summary(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	summary, err := h.service.Summary(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, summary, nil, withMeta(c))
}

// Get godoc
// @Summary Event detail
// @Description Returns the event with its label, tab completeness and the caller's actions.
// @Tags Events
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /events/{id} [get]
func (h *EventHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	detail, err := h.service.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, detail, nil, withMeta(c))
}

// UpdateSection godoc
// @Summary Edit one tab
// @Description Replaces one tab of the event form. Allowed for the creator while the event is editable.
// @Tags Events
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param section path string true "event_info, agenda, financial_plan, food_travel or checklist"
// @Param payload body object true "Tab content"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /events/{id}/sections/{section} [put]
func (h *EventHandler) UpdateSection(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	var payload json.RawMessage
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, bindError(err, "invalid section payload"))
		return
	}

	detail, err := h.service.UpdateSection(c.Request.Context(), c.Param("id"), c.Param("section"), payload, actor, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, detail, nil)
}

// Delete godoc
// @Summary Delete event
// @Tags Events
// @Param id path string true "Event ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /events/{id} [delete]
func (h *EventHandler) Delete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), c.Param("id"), actor, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// History godoc
// @Summary Event audit trail
// @Tags Events
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /events/{id}/history [get]
func (h *EventHandler) History(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	entries, err := h.service.History(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, entries, nil)
}
