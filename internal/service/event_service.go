package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/event-approval-api/internal/approval"
	"github.com/noah-isme/event-approval-api/internal/dto"
	"github.com/noah-isme/event-approval-api/internal/models"
	appErrors "github.com/noah-isme/event-approval-api/pkg/errors"
)

const eventHistoryLimit = 100

// EventServiceConfig tunes event form writes.
type EventServiceConfig struct {
	MaxWriteRetries int
}

// EventService owns the event form: drafts, tab edits, listings and summaries.
// Workflow fields are written only by ApprovalService.
type EventService struct {
	repo      eventRepository
	history   eventAuditReader
	audit     auditWriter
	policy    *approval.Policy
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	writer    versionedWriter
	now       func() time.Time
}

// NewEventService wires the event form service.
func NewEventService(
	repo eventRepository,
	history eventAuditReader,
	audit auditWriter,
	policy *approval.Policy,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg EventServiceConfig,
) *EventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if policy == nil {
		policy = approval.NewPolicy(approval.DefaultHierarchy())
	}
	if cfg.MaxWriteRetries <= 0 {
		cfg.MaxWriteRetries = 3
	}
	return &EventService{
		repo:      repo,
		history:   history,
		audit:     audit,
		policy:    policy,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		writer:    versionedWriter{repo: repo, metrics: metrics, maxRetries: cfg.MaxWriteRetries},
		now:       time.Now,
	}
}

// Create stores a new draft owned by the actor.
func (s *EventService) Create(ctx context.Context, actor models.Actor, req dto.CreateEventRequest, meta models.RequestMeta) (*dto.EventDetail, error) {
	if !s.policy.Hierarchy().Contains(actor.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot create events")
	}

	now := s.now().UTC()
	event := &models.Event{
		ID:            uuid.NewString(),
		CreatedBy:     actor.UserID,
		CreatorRole:   actor.Role,
		EventInfo:     req.EventInfo,
		Agenda:        req.Agenda,
		FinancialPlan: req.FinancialPlan,
		FoodTravel:    req.FoodTravel,
		Checklist:     req.Checklist,
		Status:        models.EventStatusDraft,
		Approvals:     models.Approvals{},
		Reviews:       models.Reviews{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	event.FormComplete = formComplete(s.validator, *event)

	if err := s.repo.Create(ctx, event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create event")
	}

	emitAudit(ctx, s.audit, s.logger, auditEntry{
		actorID:    actor.UserID,
		action:     models.AuditActionEventCreate,
		resource:   "events",
		resourceID: event.ID,
		newValues:  map[string]interface{}{"creator_role": event.CreatorRole, "form_complete": event.FormComplete},
		meta:       meta,
	})
	s.cache.InvalidateUserSummaries(ctx, actor.UserID)

	detail := buildEventDetail(s.policy, s.validator, *event, actor)
	return &detail, nil
}

// Get returns the event as seen by actor. Callers that are neither the creator
// nor a listed approver get NotFound.
func (s *EventService) Get(ctx context.Context, id string, actor models.Actor) (*dto.EventDetail, error) {
	event, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !approval.CanView(*event, actor) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
	}
	detail := buildEventDetail(s.policy, s.validator, *event, actor)
	return &detail, nil
}

// load reads through the detail cache.
func (s *EventService) load(ctx context.Context, id string) (*models.Event, error) {
	var cached models.Event
	if s.cache.Get(ctx, EventDetailKey(id), &cached) {
		return &cached, nil
	}
	event, err := loadEvent(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, EventDetailKey(id), event, 0)
	return event, nil
}

// UpdateSection replaces one form tab. The creator may edit in any status;
// approvals are left as they are.
func (s *EventService) UpdateSection(ctx context.Context, id, rawSection string, payload json.RawMessage, actor models.Actor, meta models.RequestMeta) (*dto.EventDetail, error) {
	section, err := models.ParseSection(rawSection)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if len(payload) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "section payload is required")
	}

	mutate := func(current models.Event) (models.Event, error) {
		if err := authorizeCreator(current, actor); err != nil {
			return current, err
		}
		next := current
		if err := setSection(&next, section, payload); err != nil {
			return current, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("invalid %s payload", section))
		}
		next.FormComplete = formComplete(s.validator, next)
		return next, nil
	}

	before, after, err := s.writer.apply(ctx, id, mutate, s.repo.UpdateSections)
	if err != nil {
		return nil, err
	}

	emitAudit(ctx, s.audit, s.logger, auditEntry{
		actorID:    actor.UserID,
		action:     models.AuditActionEventUpdate,
		resource:   "events",
		resourceID: id,
		oldValues:  map[string]interface{}{"section": section, "form_complete": before.FormComplete},
		newValues:  map[string]interface{}{"section": section, "form_complete": after.FormComplete, "payload": payload},
		meta:       meta,
	})
	s.cache.Invalidate(ctx, EventDetailKey(id))
	s.cache.InvalidateUserSummaries(ctx, after.CreatedBy)

	detail := buildEventDetail(s.policy, s.validator, after, actor)
	return &detail, nil
}

// Delete removes an event in any status. Only its creator may delete it.
func (s *EventService) Delete(ctx context.Context, id string, actor models.Actor, meta models.RequestMeta) error {
	event, err := loadEvent(ctx, s.repo, id)
	if err != nil {
		return err
	}
	if err := authorizeCreator(*event, actor); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete event")
	}

	emitAudit(ctx, s.audit, s.logger, auditEntry{
		actorID:    actor.UserID,
		action:     models.AuditActionEventDelete,
		resource:   "events",
		resourceID: id,
		oldValues:  workflowSnapshot(*event),
		meta:       meta,
	})
	s.cache.Invalidate(ctx, EventDetailKey(id))
	s.cache.InvalidateSummaries(ctx)
	return nil
}

// List returns one page of the actor's events for the requested scope.
func (s *EventService) List(ctx context.Context, query dto.EventListQuery, actor models.Actor) ([]dto.EventListItem, *models.Pagination, error) {
	filter, err := s.listFilter(query, actor)
	if err != nil {
		return nil, nil, err
	}

	events, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list events")
	}

	items := make([]dto.EventListItem, 0, len(events))
	for _, event := range events {
		items = append(items, listItem(event))
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return items, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

func (s *EventService) listFilter(query dto.EventListQuery, actor models.Actor) (models.EventFilter, error) {
	scope, err := models.ParseEventScope(query.Scope)
	if err != nil {
		return models.EventFilter{}, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	var label *models.DisplayLabel
	if strings.TrimSpace(query.Label) != "" {
		parsed, err := models.ParseDisplayLabel(query.Label)
		if err != nil {
			return models.EventFilter{}, appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
		label = &parsed
	}
	var decision *models.Decision
	if strings.TrimSpace(query.Decision) != "" {
		parsed, err := models.ParseDecision(query.Decision)
		if err != nil {
			return models.EventFilter{}, appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
		decision = &parsed
	}

	filter, err := scopedFilter(scope, label, decision, actor)
	if err != nil {
		return filter, err
	}
	filter.Page = query.Page
	filter.PageSize = query.PageSize
	return filter, nil
}

// scopedFilter translates a listing scope into repository conditions. The
// async register export builds its filter the same way.
func scopedFilter(scope models.EventScope, label *models.DisplayLabel, decision *models.Decision, actor models.Actor) (models.EventFilter, error) {
	filter := models.EventFilter{Label: label, Decision: decision}
	switch scope {
	case models.ScopeMine:
		filter.CreatedBy = actor.UserID
	case models.ScopeInbox:
		status := models.EventStatusSubmitted
		role := actor.Role
		filter.Status = &status
		filter.ApproverRole = &role
	case models.ScopeApproved:
		if label != nil && *label != models.LabelApproved {
			return filter, appErrors.Clone(appErrors.ErrValidation, "label filter conflicts with approved scope")
		}
		approved := models.LabelApproved
		filter.Label = &approved
		visible := actor
		filter.VisibleTo = &visible
	default:
		return filter, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown scope %q", scope))
	}
	return filter, nil
}

// Summary counts the actor's events by label plus the inbox entries pending on
// the actor's role.
func (s *EventService) Summary(ctx context.Context, actor models.Actor) (*dto.EventSummary, error) {
	key := EventSummaryKey(actor.UserID, actor.Role)
	var cached dto.EventSummary
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	counts, err := s.repo.CountByLabel(ctx, actor.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count events")
	}
	awaiting, err := s.repo.CountAwaiting(ctx, actor.Role)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count awaiting events")
	}

	summary := &dto.EventSummary{Counts: make(map[string]int, len(models.DisplayLabels)), AwaitingDecision: awaiting}
	for _, label := range models.DisplayLabels {
		summary.Counts[label.Key()] = counts[label]
		summary.Total += counts[label]
	}
	s.cache.Set(ctx, key, summary, 0)
	return summary, nil
}

// History lists the audit trail of an event, newest first.
func (s *EventService) History(ctx context.Context, id string, actor models.Actor) ([]dto.EventHistoryEntry, error) {
	event, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !approval.CanView(*event, actor) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
	}
	if s.history == nil {
		return []dto.EventHistoryEntry{}, nil
	}

	logs, err := s.history.ListByResource(ctx, "events", id, eventHistoryLimit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event history")
	}
	entries := make([]dto.EventHistoryEntry, 0, len(logs))
	for _, log := range logs {
		entries = append(entries, dto.EventHistoryEntry{
			Action:    log.Action,
			ActorID:   log.UserID,
			OldValues: rawJSON(log.OldValues),
			NewValues: rawJSON(log.NewValues),
			At:        log.CreatedAt,
		})
	}
	return entries, nil
}

func authorizeCreator(event models.Event, actor models.Actor) error {
	if actor.UserID != "" && actor.UserID == event.CreatedBy {
		return nil
	}
	if approval.CanView(event, actor) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the creator can change this event")
	}
	return appErrors.Clone(appErrors.ErrNotFound, "event not found")
}

func setSection(event *models.Event, section models.Section, payload json.RawMessage) error {
	switch section {
	case models.SectionEventInfo:
		var v models.EventInfo
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		event.EventInfo = &v
	case models.SectionAgenda:
		var v models.Agenda
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		event.Agenda = &v
	case models.SectionFinancialPlan:
		var v models.FinancialPlan
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		event.FinancialPlan = &v
	case models.SectionFoodTravel:
		var v models.FoodTravel
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		event.FoodTravel = &v
	case models.SectionChecklist:
		var v models.Checklist
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		event.Checklist = &v
	default:
		return fmt.Errorf("unknown section %q", section)
	}
	return nil
}

func sectionValue(event models.Event, section models.Section) interface{} {
	switch section {
	case models.SectionEventInfo:
		if event.EventInfo != nil {
			return event.EventInfo
		}
	case models.SectionAgenda:
		if event.Agenda != nil {
			return event.Agenda
		}
	case models.SectionFinancialPlan:
		if event.FinancialPlan != nil {
			return event.FinancialPlan
		}
	case models.SectionFoodTravel:
		if event.FoodTravel != nil {
			return event.FoodTravel
		}
	case models.SectionChecklist:
		if event.Checklist != nil {
			return event.Checklist
		}
	}
	return nil
}

func sectionStates(validate *validator.Validate, event models.Event) []dto.SectionState {
	states := make([]dto.SectionState, 0, len(models.Sections))
	for _, section := range models.Sections {
		state := dto.SectionState{Section: section}
		value := sectionValue(event, section)
		if value != nil {
			state.Present = true
			state.Complete = true
			if err := validate.Struct(value); err != nil {
				state.Complete = false
				var verrs validator.ValidationErrors
				if errors.As(err, &verrs) {
					for _, fe := range verrs {
						state.Missing = append(state.Missing, fe.Namespace())
					}
				}
			}
		}
		states = append(states, state)
	}
	return states
}

// formComplete is true when every tab is present and passes validation.
func formComplete(validate *validator.Validate, event models.Event) bool {
	for _, state := range sectionStates(validate, event) {
		if !state.Complete {
			return false
		}
	}
	return true
}

func buildEventDetail(policy *approval.Policy, validate *validator.Validate, event models.Event, actor models.Actor) dto.EventDetail {
	return dto.EventDetail{
		Event:    event,
		Label:    approval.DisplayStatus(event),
		Sections: sectionStates(validate, event),
		Actions:  policy.AllowedActions(event, actor),
	}
}

func listItem(event models.Event) dto.EventListItem {
	item := dto.EventListItem{
		ID:           event.ID,
		Title:        event.Title(),
		CreatedBy:    event.CreatedBy,
		CreatorRole:  event.CreatorRole,
		Status:       event.Status,
		Label:        approval.DisplayStatus(event),
		FormComplete: event.FormComplete,
		Approvals:    event.Approvals.Clone(),
		UpdatedAt:    event.UpdatedAt,
	}
	if event.EventInfo != nil && !event.EventInfo.StartDate.IsZero() {
		start := event.EventInfo.StartDate
		item.StartDate = &start
	}
	return item
}

func workflowSnapshot(event models.Event) map[string]interface{} {
	return map[string]interface{}{
		"status":    event.Status,
		"approvals": event.Approvals,
		"reviews":   event.Reviews,
		"label":     approval.DisplayStatus(event),
	}
}

func rawJSON(data []byte) json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	return json.RawMessage(data)
}
