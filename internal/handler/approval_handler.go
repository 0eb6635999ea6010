package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/event-approval-api/internal/dto"
	"github.com/noah-isme/event-approval-api/internal/models"
	"github.com/noah-isme/event-approval-api/pkg/response"
)

type approvalService interface {
	RequestApproval(ctx context.Context, id string, req dto.RequestApprovalRequest, actor models.Actor, meta models.RequestMeta) (*dto.EventDetail, error)
	CancelApproval(ctx context.Context, id string, actor models.Actor, meta models.RequestMeta) (*dto.EventDetail, error)
	RecordDecision(ctx context.Context, id string, req dto.DecisionRequest, actor models.Actor, meta models.RequestMeta) (*dto.EventDetail, error)
	SendReview(ctx context.Context, id string, req dto.ReviewRequest, actor models.Actor, meta models.RequestMeta) (*dto.EventDetail, error)
	Approvers(ctx context.Context, id string, actor models.Actor) (*dto.ApproversResponse, error)
	Actions(ctx context.Context, id string, actor models.Actor) (*dto.ActionsResponse, error)
}

// ApprovalHandler exposes the approval workflow transitions.
type ApprovalHandler struct {
	service approvalService
}

// NewApprovalHandler constructs the handler.
func NewApprovalHandler(svc approvalService) *ApprovalHandler {
	return &ApprovalHandler{service: svc}
}

// Approvers godoc
// @Summary Eligible approver roles
// @Tags Approvals
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /events/{id}/approvers [get]
func (h *ApprovalHandler) Approvers(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	res, err := h.service.Approvers(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Actions godoc
// @Summary Allowed actions for the caller
// @Tags Approvals
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /events/{id}/actions [get]
func (h *ApprovalHandler) Actions(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	res, err := h.service.Actions(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Request godoc
// @Summary Request approval
// @Description Submits the event to the selected approver roles.
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param payload body dto.RequestApprovalRequest true "Approver roles"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /events/{id}/approval [post]
func (h *ApprovalHandler) Request(c *gin.Context) {
	var req dto.RequestApprovalRequest
	actor, ok := bindWithActor(c, &req, "invalid approval payload")
	if !ok {
		return
	}
	detail, err := h.service.RequestApproval(c.Request.Context(), c.Param("id"), req, actor, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Cancel godoc
// @Summary Cancel approval request
// @Description Returns a submitted event to draft and clears all decisions.
// @Tags Approvals
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /events/{id}/approval [delete]
func (h *ApprovalHandler) Cancel(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	detail, err := h.service.CancelApproval(c.Request.Context(), c.Param("id"), actor, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Decide godoc
// @Summary Record a decision
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param payload body dto.DecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /events/{id}/decision [post]
func (h *ApprovalHandler) Decide(c *gin.Context) {
	var req dto.DecisionRequest
	actor, ok := bindWithActor(c, &req, "invalid decision payload")
	if !ok {
		return
	}
	detail, err := h.service.RecordDecision(c.Request.Context(), c.Param("id"), req, actor, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Review godoc
// @Summary Send review comments
// @Description Attaches a review to the caller's slot and reopens its decision.
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param payload body dto.ReviewRequest true "Review"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /events/{id}/review [post]
func (h *ApprovalHandler) Review(c *gin.Context) {
	var req dto.ReviewRequest
	actor, ok := bindWithActor(c, &req, "invalid review payload")
	if !ok {
		return
	}
	detail, err := h.service.SendReview(c.Request.Context(), c.Param("id"), req, actor, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}
