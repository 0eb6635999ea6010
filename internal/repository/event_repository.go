package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/event-approval-api/internal/models"
)

const eventColumns = `id, created_by, creator_role, event_info, agenda, financial_plan, food_travel, checklist,
       form_complete, status, approvals, reviews, version, created_at, updated_at`

// hasOpenSlot is true when some approval slot is not approved.
const hasOpenSlot = `EXISTS (SELECT 1 FROM jsonb_each_text(approvals) a WHERE a.value <> 'approved')`

// labelExpr mirrors approval.DisplayStatus in SQL so labels can be filtered and counted in the database.
var labelExpr = fmt.Sprintf(`CASE
	WHEN NOT form_complete THEN '%s'
	WHEN status <> 'submitted' THEN '%s'
	WHEN approvals = '{}'::jsonb OR %s THEN '%s'
	ELSE '%s' END`,
	models.LabelDraft, models.LabelPendingApproval, hasOpenSlot, models.LabelApprovalSent, models.LabelApproved)

// EventRepository persists events and their approval state.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository constructs the repository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts a new draft event at version 1.
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Status == "" {
		event.Status = models.EventStatusDraft
	}
	if event.Approvals == nil {
		event.Approvals = models.Approvals{}
	}
	if event.Reviews == nil {
		event.Reviews = models.Reviews{}
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now
	event.Version = 1

	const query = `INSERT INTO events
	(id, created_by, creator_role, event_info, agenda, financial_plan, food_travel, checklist, form_complete, status, approvals, reviews, version, created_at, updated_at)
	VALUES (:id, :created_by, :creator_role, :event_info, :agenda, :financial_plan, :food_travel, :checklist, :form_complete, :status, :approvals, :reviews, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// GetByID fetches an event. Missing rows surface as sql.ErrNoRows.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	var event models.Event
	if err := r.db.GetContext(ctx, &event, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &event, nil
}

// List returns a page of events matching the filter, newest first, with the total count.
func (r *EventRepository) List(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error) {
	where, args := buildEventConditions(filter)

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s FROM events%s ORDER BY updated_at DESC LIMIT %d OFFSET %d", eventColumns, where, pageSize, offset)
	var events []models.Event
	if err := r.db.SelectContext(ctx, &events, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM events"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}
	return events, total, nil
}

// CountByLabel groups the events created by createdBy by display label.
// Every label is present in the result, zero when absent.
func (r *EventRepository) CountByLabel(ctx context.Context, createdBy string) (models.LabelCounts, error) {
	query := fmt.Sprintf("SELECT %s AS label, COUNT(*) AS total FROM events WHERE created_by = $1 GROUP BY 1", labelExpr)
	var rows []struct {
		Label models.DisplayLabel `db:"label"`
		Total int                 `db:"total"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, createdBy); err != nil {
		return nil, fmt.Errorf("count events by label: %w", err)
	}
	counts := make(models.LabelCounts, len(models.DisplayLabels))
	for _, label := range models.DisplayLabels {
		counts[label] = 0
	}
	for _, row := range rows {
		counts[row.Label] = row.Total
	}
	return counts, nil
}

// CountAwaiting returns how many submitted events have a pending slot for role.
func (r *EventRepository) CountAwaiting(ctx context.Context, role models.UserRole) (int, error) {
	const query = `SELECT COUNT(*) FROM events WHERE status = 'submitted' AND approvals ->> $1 = 'pending'`
	var total int
	if err := r.db.GetContext(ctx, &total, query, string(role)); err != nil {
		return 0, fmt.Errorf("count awaiting events: %w", err)
	}
	return total, nil
}

// UpdateSections persists the form tabs and completeness flag when the stored
// version still equals expectedVersion. A lost race returns sql.ErrNoRows.
func (r *EventRepository) UpdateSections(ctx context.Context, event *models.Event, expectedVersion int) error {
	const query = `UPDATE events SET event_info = :event_info, agenda = :agenda, financial_plan = :financial_plan,
	food_travel = :food_travel, checklist = :checklist, form_complete = :form_complete,
	version = version + 1, updated_at = :updated_at
	WHERE id = :id AND version = :expected_version`
	return r.versionedUpdate(ctx, "update event sections", query, event, expectedVersion, map[string]interface{}{
		"event_info":     event.EventInfo,
		"agenda":         event.Agenda,
		"financial_plan": event.FinancialPlan,
		"food_travel":    event.FoodTravel,
		"checklist":      event.Checklist,
		"form_complete":  event.FormComplete,
	})
}

// UpdateWorkflow persists status, approvals and reviews under the same version check as UpdateSections.
func (r *EventRepository) UpdateWorkflow(ctx context.Context, event *models.Event, expectedVersion int) error {
	const query = `UPDATE events SET status = :status, approvals = :approvals, reviews = :reviews,
	version = version + 1, updated_at = :updated_at
	WHERE id = :id AND version = :expected_version`
	return r.versionedUpdate(ctx, "update event workflow", query, event, expectedVersion, map[string]interface{}{
		"status":    event.Status,
		"approvals": event.Approvals,
		"reviews":   event.Reviews,
	})
}

func (r *EventRepository) versionedUpdate(ctx context.Context, op, query string, event *models.Event, expectedVersion int, args map[string]interface{}) error {
	now := time.Now().UTC()
	args["id"] = event.ID
	args["expected_version"] = expectedVersion
	args["updated_at"] = now

	result, err := r.db.NamedExecContext(ctx, query, args)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s rows: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	event.Version = expectedVersion + 1
	event.UpdatedAt = now
	return nil
}

// Delete removes an event regardless of status.
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check delete event rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func buildEventConditions(filter models.EventFilter) (string, []interface{}) {
	conditions := make([]string, 0, 5)
	args := make([]interface{}, 0, 5)

	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		conditions = append(conditions, fmt.Sprintf("created_by = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ApproverRole != nil {
		args = append(args, string(*filter.ApproverRole))
		rolePos := len(args)
		if filter.Decision != nil {
			args = append(args, string(*filter.Decision))
			conditions = append(conditions, fmt.Sprintf("approvals ->> $%d = $%d", rolePos, len(args)))
		} else {
			conditions = append(conditions, fmt.Sprintf("approvals ->> $%d IS NOT NULL", rolePos))
		}
	} else if filter.Decision != nil {
		args = append(args, string(*filter.Decision))
		conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM jsonb_each_text(approvals) d WHERE d.value = $%d)", len(args)))
	}
	if filter.VisibleTo != nil {
		args = append(args, filter.VisibleTo.UserID, string(filter.VisibleTo.Role))
		conditions = append(conditions, fmt.Sprintf("(created_by = $%d OR approvals ->> $%d IS NOT NULL)", len(args)-1, len(args)))
	}
	if filter.Label != nil {
		args = append(args, string(*filter.Label))
		conditions = append(conditions, fmt.Sprintf("(%s) = $%d", labelExpr, len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
