package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/event-approval-api/internal/models"
)

// CreateEventRequest captures POST /events. Every tab is optional; a new event
// starts as a draft whatever is supplied.
type CreateEventRequest struct {
	EventInfo     *models.EventInfo     `json:"event_info,omitempty"`
	Agenda        *models.Agenda        `json:"agenda,omitempty"`
	FinancialPlan *models.FinancialPlan `json:"financial_plan,omitempty"`
	FoodTravel    *models.FoodTravel    `json:"food_travel,omitempty"`
	Checklist     *models.Checklist     `json:"checklist,omitempty"`
}

// EventListQuery captures GET /events query parameters.
type EventListQuery struct {
	Scope    string `form:"scope"`
	Label    string `form:"label"`
	Decision string `form:"decision"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

// SectionState reports whether one tab is filled in.
type SectionState struct {
	Section  models.Section `json:"section"`
	Present  bool           `json:"present"`
	Complete bool           `json:"complete"`
	Missing  []string       `json:"missing,omitempty"`
}

// EventDetail is the full read model of one event for a given caller.
type EventDetail struct {
	models.Event
	Label    models.DisplayLabel `json:"label"`
	Sections []SectionState      `json:"sections"`
	Actions  []models.Action     `json:"actions"`
}

// EventListItem is one row of an event listing.
type EventListItem struct {
	ID           string              `json:"id"`
	Title        string              `json:"title"`
	CreatedBy    string              `json:"created_by"`
	CreatorRole  models.UserRole     `json:"creator_role"`
	Status       models.EventStatus  `json:"status"`
	Label        models.DisplayLabel `json:"label"`
	FormComplete bool                `json:"form_complete"`
	Approvals    models.Approvals    `json:"approvals"`
	StartDate    *time.Time          `json:"start_date,omitempty"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// EventSummary counts the caller's own events per label and the submissions
// currently waiting on the caller's role.
type EventSummary struct {
	Counts           map[string]int `json:"counts"`
	Total            int            `json:"total"`
	AwaitingDecision int            `json:"awaiting_decision"`
}

// EventHistoryEntry is one audit record of an event.
type EventHistoryEntry struct {
	Action    string          `json:"action"`
	ActorID   *string         `json:"actor_id,omitempty"`
	OldValues json.RawMessage `json:"old_values,omitempty"`
	NewValues json.RawMessage `json:"new_values,omitempty"`
	At        time.Time       `json:"at"`
}
