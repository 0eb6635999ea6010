package dto

import "github.com/noah-isme/event-approval-api/internal/models"

// RequestApprovalRequest captures POST /events/:id/approval.
type RequestApprovalRequest struct {
	Roles []string `json:"roles"`
}

// DecisionRequest captures POST /events/:id/decision. Comment is only
// stored for rejections.
type DecisionRequest struct {
	Decision string `json:"decision" validate:"required"`
	Comment  string `json:"comment"`
}

// ReviewRequest captures POST /events/:id/review.
type ReviewRequest struct {
	Comment string `json:"comment"`
}

// ApproversResponse lists who may be asked to approve an event.
type ApproversResponse struct {
	CreatorRole models.UserRole   `json:"creator_role"`
	Eligible    []models.UserRole `json:"eligible"`
	Requested   []models.UserRole `json:"requested"`
}

// ActionsResponse lists what the caller may do with an event.
type ActionsResponse struct {
	Label   models.DisplayLabel `json:"label"`
	Actions []models.Action     `json:"actions"`
}
