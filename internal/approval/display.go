package approval

import "github.com/noah-isme/event-approval-api/internal/models"

// DisplayStatus derives the label shown for e. Form completeness wins over
// everything else. A submitted event with any rejected slot still reads
// "Approval Sent"; there is no aggregate rejected label.
func DisplayStatus(e models.Event) models.DisplayLabel {
	if !e.FormComplete {
		return models.LabelDraft
	}
	if e.Status != models.EventStatusSubmitted {
		return models.LabelPendingApproval
	}
	if len(e.Approvals) == 0 {
		return models.LabelApprovalSent
	}
	for _, decision := range e.Approvals {
		if decision != models.DecisionApproved {
			return models.LabelApprovalSent
		}
	}
	return models.LabelApproved
}

// Tally counts slots per decision.
func Tally(approvals models.Approvals) map[models.Decision]int {
	out := map[models.Decision]int{
		models.DecisionPending:  0,
		models.DecisionApproved: 0,
		models.DecisionRejected: 0,
	}
	for _, decision := range approvals {
		out[decision]++
	}
	return out
}
