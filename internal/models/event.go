package models

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
	"time"
)

// EventStatus is the persisted workflow status.
type EventStatus string

const (
	EventStatusDraft     EventStatus = "draft"
	EventStatusSubmitted EventStatus = "submitted"
)

// Decision is an approver's verdict on one event.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ParseDecision accepts pending, approved or rejected in any case.
func ParseDecision(raw string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(raw))); d {
	case DecisionPending, DecisionApproved, DecisionRejected:
		return d, nil
	default:
		return "", fmt.Errorf("unknown decision %q", raw)
	}
}

// DisplayLabel is the derived, human-facing status of an event.
type DisplayLabel string

const (
	LabelDraft           DisplayLabel = "Draft"
	LabelPendingApproval DisplayLabel = "Pending Approval"
	LabelApprovalSent    DisplayLabel = "Approval Sent"
	LabelApproved        DisplayLabel = "Approved"
)

// DisplayLabels lists labels in lifecycle order.
var DisplayLabels = []DisplayLabel{LabelDraft, LabelPendingApproval, LabelApprovalSent, LabelApproved}

// ParseDisplayLabel accepts either the label text or its snake_case form.
func ParseDisplayLabel(raw string) (DisplayLabel, error) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	for _, label := range DisplayLabels {
		if label.Key() == norm {
			return label, nil
		}
	}
	return "", fmt.Errorf("unknown label %q", raw)
}

// Key returns the snake_case form used in query strings and metrics.
func (l DisplayLabel) Key() string {
	return strings.ReplaceAll(strings.ToLower(string(l)), " ", "_")
}

// Approvals maps approver role to its decision. Persisted as JSONB.
type Approvals map[UserRole]Decision

// Clone returns an independent copy. A nil map clones to an empty one.
func (a Approvals) Clone() Approvals {
	out := make(Approvals, len(a))
	for role, decision := range a {
		out[role] = decision
	}
	return out
}

// Roles returns the keys in stable order.
func (a Approvals) Roles() []UserRole {
	roles := make([]UserRole, 0, len(a))
	for role := range a {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Value marshals approvals to JSON for persistence.
func (a Approvals) Value() (driver.Value, error) {
	if a == nil {
		a = Approvals{}
	}
	return jsonValue(map[UserRole]Decision(a), "approvals")
}

// Scan unmarshals a JSONB object into approvals.
func (a *Approvals) Scan(value interface{}) error {
	out := Approvals{}
	if err := scanJSON(value, (*map[UserRole]Decision)(&out), "approvals"); err != nil {
		return err
	}
	if out == nil {
		out = Approvals{}
	}
	*a = out
	return nil
}

// Reviews maps approver role to an optional comment. Persisted as JSONB.
type Reviews map[UserRole]*string

// Clone returns an independent copy, including the comment strings.
func (r Reviews) Clone() Reviews {
	out := make(Reviews, len(r))
	for role, comment := range r {
		if comment == nil {
			out[role] = nil
			continue
		}
		c := *comment
		out[role] = &c
	}
	return out
}

// Value marshals reviews to JSON for persistence.
func (r Reviews) Value() (driver.Value, error) {
	if r == nil {
		r = Reviews{}
	}
	return jsonValue(map[UserRole]*string(r), "reviews")
}

// Scan unmarshals a JSONB object into reviews.
func (r *Reviews) Scan(value interface{}) error {
	out := Reviews{}
	if err := scanJSON(value, (*map[UserRole]*string)(&out), "reviews"); err != nil {
		return err
	}
	if out == nil {
		out = Reviews{}
	}
	*r = out
	return nil
}

// Event is the unit of workflow.
type Event struct {
	ID            string         `db:"id" json:"id"`
	CreatedBy     string         `db:"created_by" json:"created_by"`
	CreatorRole   UserRole       `db:"creator_role" json:"creator_role"`
	EventInfo     *EventInfo     `db:"event_info" json:"event_info,omitempty"`
	Agenda        *Agenda        `db:"agenda" json:"agenda,omitempty"`
	FinancialPlan *FinancialPlan `db:"financial_plan" json:"financial_plan,omitempty"`
	FoodTravel    *FoodTravel    `db:"food_travel" json:"food_travel,omitempty"`
	Checklist     *Checklist     `db:"checklist" json:"checklist,omitempty"`
	FormComplete  bool           `db:"form_complete" json:"form_complete"`
	Status        EventStatus    `db:"status" json:"status"`
	Approvals     Approvals      `db:"approvals" json:"approvals"`
	Reviews       Reviews        `db:"reviews" json:"reviews"`
	Version       int            `db:"version" json:"version"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// Title returns the event title or an empty string when the info tab is unset.
func (e Event) Title() string {
	if e.EventInfo == nil {
		return ""
	}
	return e.EventInfo.Title
}

// EventScope selects which events a listing returns for the caller.
type EventScope string

const (
	ScopeMine     EventScope = "mine"
	ScopeInbox    EventScope = "inbox"
	ScopeApproved EventScope = "approved"
)

// ParseEventScope defaults to mine.
func ParseEventScope(raw string) (EventScope, error) {
	switch s := EventScope(strings.ToLower(strings.TrimSpace(raw))); s {
	case "":
		return ScopeMine, nil
	case ScopeMine, ScopeInbox, ScopeApproved:
		return s, nil
	default:
		return "", fmt.Errorf("unknown scope %q", raw)
	}
}

// EventFilter constrains repository listing queries.
type EventFilter struct {
	CreatedBy    string
	ApproverRole *UserRole
	Status       *EventStatus
	Decision     *Decision
	Label        *DisplayLabel
	// VisibleTo matches events created by the user or listing the role as approver.
	VisibleTo *Actor
	Page      int
	PageSize  int
}

// LabelCounts holds the number of events per display label.
type LabelCounts map[DisplayLabel]int

// Actor is the verified caller identity supplied by authentication.
type Actor struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
}

// Action is an operation a caller may perform on an event.
type Action string

const (
	ActionEdit            Action = "edit"
	ActionDelete          Action = "delete"
	ActionRequestApproval Action = "request_approval"
	ActionCancelApproval  Action = "cancel_approval"
	ActionApprove         Action = "approve"
	ActionReject          Action = "reject"
	ActionReview          Action = "review"
	ActionExport          Action = "export"
)
