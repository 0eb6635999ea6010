package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// Section names one tab of the event form.
type Section string

const (
	SectionEventInfo     Section = "event_info"
	SectionAgenda        Section = "agenda"
	SectionFinancialPlan Section = "financial_plan"
	SectionFoodTravel    Section = "food_travel"
	SectionChecklist     Section = "checklist"
)

// Sections lists every form tab in display order.
var Sections = []Section{SectionEventInfo, SectionAgenda, SectionFinancialPlan, SectionFoodTravel, SectionChecklist}

// ParseSection matches raw case-insensitively; dashes are accepted for underscores.
func ParseSection(raw string) (Section, error) {
	candidate := Section(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	for _, s := range Sections {
		if s == candidate {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown section %q", raw)
}

// EventInfo is the general information tab.
type EventInfo struct {
	Title                string    `json:"title" validate:"required,max=200"`
	Department           string    `json:"department" validate:"required"`
	Venue                string    `json:"venue" validate:"required"`
	Coordinator          string    `json:"coordinator" validate:"required"`
	StartDate            time.Time `json:"start_date" validate:"required"`
	EndDate              time.Time `json:"end_date" validate:"required,gtefield=StartDate"`
	ExpectedParticipants int       `json:"expected_participants" validate:"gte=1"`
	Description          string    `json:"description,omitempty"`
}

// AgendaItem is one scheduled activity.
type AgendaItem struct {
	Time     string `json:"time" validate:"required"`
	Activity string `json:"activity" validate:"required"`
	Speaker  string `json:"speaker,omitempty"`
}

// Agenda is the schedule tab.
type Agenda struct {
	Items []AgendaItem `json:"items" validate:"required,min=1,dive"`
}

// BudgetLine is one costed item.
type BudgetLine struct {
	Item   string  `json:"item" validate:"required"`
	Amount float64 `json:"amount" validate:"gt=0"`
}

// FinancialPlan is the budget tab.
type FinancialPlan struct {
	FundingSource string       `json:"funding_source" validate:"required"`
	Lines         []BudgetLine `json:"lines" validate:"required,min=1,dive"`
}

// Total sums every budget line.
func (f FinancialPlan) Total() float64 {
	var total float64
	for _, line := range f.Lines {
		total += line.Amount
	}
	return total
}

// FoodTravel is the logistics tab. "none" is a valid arrangement.
type FoodTravel struct {
	Catering string `json:"catering" validate:"required"`
	Travel   string `json:"travel" validate:"required"`
	Notes    string `json:"notes,omitempty"`
}

// ChecklistItem is one preparation task.
type ChecklistItem struct {
	Task string `json:"task" validate:"required"`
	Done bool   `json:"done"`
}

// Checklist is the preparation tab.
type Checklist struct {
	Items []ChecklistItem `json:"items" validate:"required,min=1,dive"`
}

// Value marshals the section for its JSONB column.
func (s EventInfo) Value() (driver.Value, error) {
	return jsonValue(s, "event info")
}

// Scan decodes the section from its JSONB column.
func (s *EventInfo) Scan(value interface{}) error {
	return scanJSON(value, s, "event info")
}

// Value marshals the section for its JSONB column.
func (s Agenda) Value() (driver.Value, error) {
	return jsonValue(s, "agenda")
}

// Scan decodes the section from its JSONB column.
func (s *Agenda) Scan(value interface{}) error {
	return scanJSON(value, s, "agenda")
}

// Value marshals the section for its JSONB column.
func (s FinancialPlan) Value() (driver.Value, error) {
	return jsonValue(s, "financial plan")
}

// Scan decodes the section from its JSONB column.
func (s *FinancialPlan) Scan(value interface{}) error {
	return scanJSON(value, s, "financial plan")
}

// Value marshals the section for its JSONB column.
func (s FoodTravel) Value() (driver.Value, error) {
	return jsonValue(s, "food travel")
}

// Scan decodes the section from its JSONB column.
func (s *FoodTravel) Scan(value interface{}) error {
	return scanJSON(value, s, "food travel")
}

// Value marshals the section for its JSONB column.
func (s Checklist) Value() (driver.Value, error) {
	return jsonValue(s, "checklist")
}

// Scan decodes the section from its JSONB column.
func (s *Checklist) Scan(value interface{}) error {
	return scanJSON(value, s, "checklist")
}
