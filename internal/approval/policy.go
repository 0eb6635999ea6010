package approval

import (
	"fmt"
	"strings"

	"github.com/noah-isme/event-approval-api/internal/models"
	appErrors "github.com/noah-isme/event-approval-api/pkg/errors"
)

// Policy applies workflow transitions against a fixed hierarchy.
// Every transition takes the event by value, validates fully, and returns a
// new event whose maps share nothing with the input.
type Policy struct {
	hierarchy Hierarchy
}

// NewPolicy builds a policy over h.
func NewPolicy(h Hierarchy) *Policy {
	return &Policy{hierarchy: h}
}

// Hierarchy exposes the authority ordering.
func (p *Policy) Hierarchy() Hierarchy {
	return p.hierarchy
}

// RequestApproval submits a draft to the given approver roles.
func (p *Policy) RequestApproval(e models.Event, roles []string) (models.Event, error) {
	if e.Status == models.EventStatusSubmitted {
		return e, appErrors.Clone(appErrors.ErrInvalidTransition, "approval has already been requested")
	}
	if len(roles) == 0 {
		return e, appErrors.ErrEmptySelection
	}

	selected := make([]models.UserRole, 0, len(roles))
	seen := make(map[models.UserRole]struct{}, len(roles))
	for _, raw := range roles {
		role, ok := p.hierarchy.ParseRole(raw)
		if !ok {
			return e, appErrors.Clone(appErrors.ErrUnknownRole, fmt.Sprintf("unknown role %q", raw))
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		selected = append(selected, role)
	}
	for _, role := range selected {
		if !p.hierarchy.CanApprove(e.CreatorRole, role) {
			return e, appErrors.Clone(appErrors.ErrIneligibleApprover,
				fmt.Sprintf("%s cannot approve an event created by %s", role.Upper(), e.CreatorRole.Upper()))
		}
	}
	if !e.FormComplete {
		return e, appErrors.ErrFormIncomplete
	}

	next := e
	next.Status = models.EventStatusSubmitted
	next.Approvals = make(models.Approvals, len(selected))
	next.Reviews = make(models.Reviews, len(selected))
	for _, role := range selected {
		next.Approvals[role] = models.DecisionPending
		next.Reviews[role] = nil
	}
	return next, nil
}

// CancelApproval returns a submitted event to draft and discards every decision and review.
func (p *Policy) CancelApproval(e models.Event) (models.Event, error) {
	if e.Status != models.EventStatusSubmitted {
		return e, appErrors.Clone(appErrors.ErrInvalidTransition, "only submitted events can be cancelled")
	}
	next := e
	next.Status = models.EventStatusDraft
	next.Approvals = models.Approvals{}
	next.Reviews = models.Reviews{}
	return next, nil
}

// RecordDecision sets role's slot to approved or rejected. Only pending slots accept a decision.
func (p *Policy) RecordDecision(e models.Event, role models.UserRole, decision models.Decision, comment string) (models.Event, error) {
	if e.Status != models.EventStatusSubmitted {
		return e, appErrors.Clone(appErrors.ErrInvalidTransition, "event is not awaiting approval")
	}
	current, ok := e.Approvals[role]
	if !ok {
		return e, appErrors.Clone(appErrors.ErrUnknownRole, fmt.Sprintf("%s is not an approver of this event", role.Upper()))
	}
	if decision != models.DecisionApproved && decision != models.DecisionRejected {
		return e, appErrors.Clone(appErrors.ErrValidation, "decision must be approved or rejected")
	}
	if current != models.DecisionPending {
		return e, appErrors.Clone(appErrors.ErrAlreadyDecided, fmt.Sprintf("%s has already %s this event", role.Upper(), current))
	}

	next := e
	next.Approvals = e.Approvals.Clone()
	next.Reviews = e.Reviews.Clone()
	next.Approvals[role] = decision

	// An approval leaves the review slot as it was.
	if decision == models.DecisionRejected {
		comment = strings.TrimSpace(comment)
		if comment == "" {
			comment = "Rejected by " + role.Upper()
		}
		next.Reviews[role] = &comment
	}
	return next, nil
}

// SendReview leaves a comment for the creator and reopens role's slot.
func (p *Policy) SendReview(e models.Event, role models.UserRole, comment string) (models.Event, error) {
	if e.Status != models.EventStatusSubmitted {
		return e, appErrors.Clone(appErrors.ErrInvalidTransition, "event is not awaiting approval")
	}
	if _, ok := e.Approvals[role]; !ok {
		return e, appErrors.Clone(appErrors.ErrUnknownRole, fmt.Sprintf("%s is not an approver of this event", role.Upper()))
	}
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return e, appErrors.ErrEmptyComment
	}

	next := e
	next.Approvals = e.Approvals.Clone()
	next.Reviews = e.Reviews.Clone()
	next.Approvals[role] = models.DecisionPending
	next.Reviews[role] = &comment
	return next, nil
}

// CheckInvariants verifies the structural rules every stored event must satisfy.
func (p *Policy) CheckInvariants(e models.Event) error {
	if len(e.Approvals) != len(e.Reviews) {
		return fmt.Errorf("event %s: approvals and reviews have different roles", e.ID)
	}
	for role := range e.Approvals {
		if _, ok := e.Reviews[role]; !ok {
			return fmt.Errorf("event %s: review slot missing for %s", e.ID, role)
		}
	}
	switch e.Status {
	case models.EventStatusDraft:
		if len(e.Approvals) != 0 {
			return fmt.Errorf("event %s: draft event carries approvals", e.ID)
		}
	case models.EventStatusSubmitted:
		for role, decision := range e.Approvals {
			switch decision {
			case models.DecisionPending, models.DecisionApproved, models.DecisionRejected:
			default:
				return fmt.Errorf("event %s: invalid decision %q for %s", e.ID, decision, role)
			}
		}
	default:
		return fmt.Errorf("event %s: invalid status %q", e.ID, e.Status)
	}
	for role := range e.Approvals {
		if !p.hierarchy.CanApprove(e.CreatorRole, role) {
			return fmt.Errorf("event %s: %s cannot approve an event created by %s", e.ID, role, e.CreatorRole)
		}
	}
	return nil
}
