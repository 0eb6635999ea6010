package approval

import "github.com/noah-isme/event-approval-api/internal/models"

// AllowedActions lists what actor may do with e right now.
func (p *Policy) AllowedActions(e models.Event, actor models.Actor) []models.Action {
	actions := make([]models.Action, 0, 4)
	isCreator := actor.UserID != "" && actor.UserID == e.CreatedBy

	if isCreator {
		actions = append(actions, models.ActionEdit, models.ActionDelete)
		switch e.Status {
		case models.EventStatusDraft:
			if e.FormComplete && len(p.hierarchy.EligibleApprovers(e.CreatorRole)) > 0 {
				actions = append(actions, models.ActionRequestApproval)
			}
		case models.EventStatusSubmitted:
			actions = append(actions, models.ActionCancelApproval)
		}
	}

	decision, isApprover := e.Approvals[actor.Role]
	isApprover = isApprover && !isCreator
	if isApprover && e.Status == models.EventStatusSubmitted {
		if decision == models.DecisionPending {
			actions = append(actions, models.ActionApprove, models.ActionReject)
		}
		actions = append(actions, models.ActionReview)
	}

	if (isCreator || isApprover) && DisplayStatus(e) == models.LabelApproved {
		actions = append(actions, models.ActionExport)
	}
	return actions
}

// Allows reports whether action is among the actor's allowed actions.
func (p *Policy) Allows(e models.Event, actor models.Actor, action models.Action) bool {
	for _, a := range p.AllowedActions(e, actor) {
		if a == action {
			return true
		}
	}
	return false
}

// CanView reports whether actor may read e: its creator or a listed approver.
func CanView(e models.Event, actor models.Actor) bool {
	if actor.UserID != "" && actor.UserID == e.CreatedBy {
		return true
	}
	_, ok := e.Approvals[actor.Role]
	return ok
}
