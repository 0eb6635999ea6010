package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/event-approval-api/internal/approval"
	"github.com/noah-isme/event-approval-api/internal/dto"
	"github.com/noah-isme/event-approval-api/internal/models"
	appErrors "github.com/noah-isme/event-approval-api/pkg/errors"
)

// memoryEventRepo mimics the version check of the SQL repository.
type memoryEventRepo struct {
	mu     sync.Mutex
	events map[string]models.Event

	// interfere runs before a versioned write and may change the stored row,
	// simulating another writer winning the race.
	interfere  func(stored *models.Event)
	writes     int
	lastFilter models.EventFilter
	listResult []models.Event
	counts     models.LabelCounts
	awaiting   int
	logs       []models.AuditLog
}

func newMemoryEventRepo(events ...models.Event) *memoryEventRepo {
	repo := &memoryEventRepo{events: map[string]models.Event{}}
	for _, e := range events {
		repo.events[e.ID] = cloneEvent(e)
	}
	return repo
}

func cloneEvent(e models.Event) models.Event {
	e.Approvals = e.Approvals.Clone()
	e.Reviews = e.Reviews.Clone()
	return e
}

func (m *memoryEventRepo) Create(_ context.Context, event *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Version = 1
	m.events[event.ID] = cloneEvent(*event)
	return nil
}

func (m *memoryEventRepo) GetByID(_ context.Context, id string) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := cloneEvent(e)
	return &out, nil
}

func (m *memoryEventRepo) List(_ context.Context, filter models.EventFilter) ([]models.Event, int, error) {
	m.lastFilter = filter
	return m.listResult, len(m.listResult), nil
}

func (m *memoryEventRepo) CountByLabel(_ context.Context, _ string) (models.LabelCounts, error) {
	return m.counts, nil
}

func (m *memoryEventRepo) CountAwaiting(_ context.Context, _ models.UserRole) (int, error) {
	return m.awaiting, nil
}

func (m *memoryEventRepo) UpdateSections(ctx context.Context, event *models.Event, expectedVersion int) error {
	return m.versioned(event, expectedVersion, func(stored *models.Event) {
		stored.EventInfo = event.EventInfo
		stored.Agenda = event.Agenda
		stored.FinancialPlan = event.FinancialPlan
		stored.FoodTravel = event.FoodTravel
		stored.Checklist = event.Checklist
		stored.FormComplete = event.FormComplete
	})
}

func (m *memoryEventRepo) UpdateWorkflow(ctx context.Context, event *models.Event, expectedVersion int) error {
	return m.versioned(event, expectedVersion, func(stored *models.Event) {
		stored.Status = event.Status
		stored.Approvals = event.Approvals.Clone()
		stored.Reviews = event.Reviews.Clone()
	})
}

func (m *memoryEventRepo) versioned(event *models.Event, expectedVersion int, apply func(*models.Event)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	stored, ok := m.events[event.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if m.interfere != nil {
		m.interfere(&stored)
		m.events[event.ID] = stored
	}
	if stored.Version != expectedVersion {
		return sql.ErrNoRows
	}
	apply(&stored)
	stored.Version++
	m.events[event.ID] = stored
	event.Version = stored.Version
	return nil
}

func (m *memoryEventRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.events, id)
	return nil
}

func (m *memoryEventRepo) ListByResource(_ context.Context, resource, resourceID string, _ int) ([]models.AuditLog, error) {
	return m.logs, nil
}

func (m *memoryEventRepo) stored(id string) models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneEvent(m.events[id])
}

var (
	actorFaculty   = models.Actor{UserID: "u-faculty", Role: models.RoleFaculty}
	actorHOD       = models.Actor{UserID: "u-hod", Role: models.RoleHOD}
	actorPrincipal = models.Actor{UserID: "u-principal", Role: models.RolePrincipal}
	actorCSO       = models.Actor{UserID: "u-cso", Role: models.RoleCSO}
)

func completeSections() dto.CreateEventRequest {
	start := time.Date(2026, 11, 3, 9, 0, 0, 0, time.UTC)
	return dto.CreateEventRequest{
		EventInfo: &models.EventInfo{
			Title: "Robotics Workshop", Department: "ECE", Venue: "Hall A", Coordinator: "Dr. Rao",
			StartDate: start, EndDate: start.Add(8 * time.Hour), ExpectedParticipants: 60,
		},
		Agenda:        &models.Agenda{Items: []models.AgendaItem{{Time: "09:00", Activity: "Inauguration"}}},
		FinancialPlan: &models.FinancialPlan{FundingSource: "Department", Lines: []models.BudgetLine{{Item: "Kits", Amount: 12000}}},
		FoodTravel:    &models.FoodTravel{Catering: "Lunch", Travel: "none"},
		Checklist:     &models.Checklist{Items: []models.ChecklistItem{{Task: "Book hall", Done: true}}},
	}
}

func draftEvent(id string, creator models.Actor, complete bool) models.Event {
	sections := completeSections()
	e := models.Event{
		ID:           id,
		CreatedBy:    creator.UserID,
		CreatorRole:  creator.Role,
		Status:       models.EventStatusDraft,
		Approvals:    models.Approvals{},
		Reviews:      models.Reviews{},
		Version:      1,
		FormComplete: complete,
	}
	if complete {
		e.EventInfo, e.Agenda, e.FinancialPlan, e.FoodTravel, e.Checklist =
			sections.EventInfo, sections.Agenda, sections.FinancialPlan, sections.FoodTravel, sections.Checklist
	}
	return e
}

func newTestEventService(repo *memoryEventRepo, cache *CacheService, audit auditWriter) *EventService {
	return NewEventService(repo, repo, audit, approval.NewPolicy(approval.DefaultHierarchy()), cache, nil, validator.New(), zap.NewNop(), EventServiceConfig{MaxWriteRetries: 2})
}

func TestEventServiceCreateComputesCompleteness(t *testing.T) {
	repo := newMemoryEventRepo()
	audit := &recordingAudit{}
	svc := newTestEventService(repo, nil, audit)

	detail, err := svc.Create(context.Background(), actorFaculty, dto.CreateEventRequest{EventInfo: completeSections().EventInfo}, models.RequestMeta{})
	require.NoError(t, err)
	assert.False(t, detail.FormComplete)
	assert.Equal(t, models.LabelDraft, detail.Label)
	assert.Equal(t, models.EventStatusDraft, detail.Status)
	assert.Empty(t, detail.Approvals)
	require.Len(t, detail.Sections, len(models.Sections))
	assert.True(t, detail.Sections[0].Complete)
	assert.False(t, detail.Sections[1].Present)
	assert.NotContains(t, detail.Actions, models.ActionRequestApproval)
	assert.Equal(t, []string{models.AuditActionEventCreate}, audit.actions())

	full, err := svc.Create(context.Background(), actorFaculty, completeSections(), models.RequestMeta{})
	require.NoError(t, err)
	assert.True(t, full.FormComplete)
	assert.Equal(t, models.LabelPendingApproval, full.Label)
	assert.Contains(t, full.Actions, models.ActionRequestApproval)
}

func TestEventServiceCreateRejectsUnknownRole(t *testing.T) {
	svc := newTestEventService(newMemoryEventRepo(), nil, nil)
	_, err := svc.Create(context.Background(), models.Actor{UserID: "x", Role: "guest"}, dto.CreateEventRequest{}, models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestEventServiceGetVisibility(t *testing.T) {
	submitted := draftEvent("e1", actorFaculty, true)
	submitted.Status = models.EventStatusSubmitted
	submitted.Approvals = models.Approvals{models.RoleHOD: models.DecisionPending}
	submitted.Reviews = models.Reviews{models.RoleHOD: nil}
	repo := newMemoryEventRepo(submitted)
	svc := newTestEventService(repo, nil, nil)

	detail, err := svc.Get(context.Background(), "e1", actorHOD)
	require.NoError(t, err)
	assert.Equal(t, models.LabelApprovalSent, detail.Label)
	assert.ElementsMatch(t, []models.Action{models.ActionApprove, models.ActionReject, models.ActionReview}, detail.Actions)

	_, err = svc.Get(context.Background(), "e1", actorPrincipal)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.Get(context.Background(), "missing", actorFaculty)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEventServiceGetUsesCache(t *testing.T) {
	repo := newMemoryEventRepo(draftEvent("e1", actorFaculty, true))
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	svc := newTestEventService(repo, cache, nil)

	_, err := svc.Get(context.Background(), "e1", actorFaculty)
	require.NoError(t, err)
	require.True(t, cacheRepo.has(EventDetailKey("e1")))

	delete(repo.events, "e1")
	detail, err := svc.Get(context.Background(), "e1", actorFaculty)
	require.NoError(t, err)
	assert.Equal(t, "Robotics Workshop", detail.Title())
}

func TestEventServiceUpdateSectionCompletesForm(t *testing.T) {
	event := draftEvent("e1", actorFaculty, true)
	event.Checklist = nil
	event.FormComplete = false
	repo := newMemoryEventRepo(event)
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	cache.Set(context.Background(), EventDetailKey("e1"), event, 0)
	audit := &recordingAudit{}
	svc := newTestEventService(repo, cache, audit)

	payload := json.RawMessage(`{"items":[{"task":"Book hall","done":false}]}`)
	detail, err := svc.UpdateSection(context.Background(), "e1", "checklist", payload, actorFaculty, models.RequestMeta{})
	require.NoError(t, err)
	assert.True(t, detail.FormComplete)
	assert.Equal(t, models.LabelPendingApproval, detail.Label)
	assert.Equal(t, 2, repo.stored("e1").Version)
	assert.True(t, repo.stored("e1").FormComplete)
	assert.False(t, cacheRepo.has(EventDetailKey("e1")))
	assert.Equal(t, []string{models.AuditActionEventUpdate}, audit.actions())
}

func TestEventServiceUpdateSectionKeepsApprovals(t *testing.T) {
	event := draftEvent("e1", actorFaculty, true)
	event.Status = models.EventStatusSubmitted
	event.Approvals = models.Approvals{models.RoleHOD: models.DecisionApproved}
	event.Reviews = models.Reviews{models.RoleHOD: nil}
	repo := newMemoryEventRepo(event)
	svc := newTestEventService(repo, nil, nil)

	payload := json.RawMessage(`{"catering":"Tea","travel":"Bus"}`)
	_, err := svc.UpdateSection(context.Background(), "e1", "food-travel", payload, actorFaculty, models.RequestMeta{})
	require.NoError(t, err)
	stored := repo.stored("e1")
	assert.Equal(t, "Bus", stored.FoodTravel.Travel)
	assert.Equal(t, models.EventStatusSubmitted, stored.Status)
	assert.Equal(t, models.DecisionApproved, stored.Approvals[models.RoleHOD])
}

func TestEventServiceUpdateSectionIncompletePayload(t *testing.T) {
	repo := newMemoryEventRepo(draftEvent("e1", actorFaculty, true))
	svc := newTestEventService(repo, nil, nil)

	detail, err := svc.UpdateSection(context.Background(), "e1", "agenda", json.RawMessage(`{"items":[]}`), actorFaculty, models.RequestMeta{})
	require.NoError(t, err)
	assert.False(t, detail.FormComplete)
	assert.Equal(t, models.LabelDraft, detail.Label)
	assert.NotEmpty(t, detail.Sections[1].Missing)
}

func TestEventServiceUpdateSectionErrors(t *testing.T) {
	repo := newMemoryEventRepo(draftEvent("e1", actorFaculty, true))
	svc := newTestEventService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.UpdateSection(ctx, "e1", "budget", json.RawMessage(`{}`), actorFaculty, models.RequestMeta{})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.UpdateSection(ctx, "e1", "agenda", json.RawMessage(`{"items":`), actorFaculty, models.RequestMeta{})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.UpdateSection(ctx, "e1", "agenda", json.RawMessage(`{"items":[]}`), actorHOD, models.RequestMeta{})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, repo.writes)
}

func TestEventServiceUpdateSectionRetriesLostRace(t *testing.T) {
	repo := newMemoryEventRepo(draftEvent("e1", actorFaculty, true))
	raced := false
	repo.interfere = func(stored *models.Event) {
		if !raced {
			raced = true
			stored.Version++
		}
	}
	svc := newTestEventService(repo, nil, nil)

	_, err := svc.UpdateSection(context.Background(), "e1", "food_travel", json.RawMessage(`{"catering":"Tea","travel":"none"}`), actorFaculty, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.writes)
	assert.Equal(t, 3, repo.stored("e1").Version)
}

func TestEventServiceUpdateSectionGivesUpAfterRetries(t *testing.T) {
	repo := newMemoryEventRepo(draftEvent("e1", actorFaculty, true))
	repo.interfere = func(stored *models.Event) { stored.Version++ }
	svc := newTestEventService(repo, nil, nil)

	_, err := svc.UpdateSection(context.Background(), "e1", "food_travel", json.RawMessage(`{"catering":"Tea","travel":"none"}`), actorFaculty, models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 3, repo.writes)
}

func TestEventServiceDelete(t *testing.T) {
	submitted := draftEvent("e1", actorFaculty, true)
	submitted.Status = models.EventStatusSubmitted
	submitted.Approvals = models.Approvals{models.RoleHOD: models.DecisionPending}
	submitted.Reviews = models.Reviews{models.RoleHOD: nil}
	repo := newMemoryEventRepo(submitted)
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	cache.Set(context.Background(), EventSummaryKey(actorHOD.UserID, actorHOD.Role), dto.EventSummary{AwaitingDecision: 1}, 0)
	audit := &recordingAudit{}
	svc := newTestEventService(repo, cache, audit)

	err := svc.Delete(context.Background(), "e1", actorHOD, models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.Delete(context.Background(), "e1", actorFaculty, models.RequestMeta{}))
	_, ok := repo.events["e1"]
	assert.False(t, ok)
	assert.False(t, cacheRepo.has(EventSummaryKey(actorHOD.UserID, actorHOD.Role)))
	assert.Equal(t, []string{models.AuditActionEventDelete}, audit.actions())
}

func TestEventServiceListScopes(t *testing.T) {
	repo := newMemoryEventRepo()
	repo.listResult = []models.Event{draftEvent("e1", actorFaculty, true)}
	svc := newTestEventService(repo, nil, nil)
	ctx := context.Background()

	items, pagination, err := svc.List(ctx, dto.EventListQuery{}, actorFaculty)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Robotics Workshop", items[0].Title)
	assert.Equal(t, models.LabelPendingApproval, items[0].Label)
	assert.Equal(t, 20, pagination.PageSize)
	assert.Equal(t, actorFaculty.UserID, repo.lastFilter.CreatedBy)

	_, _, err = svc.List(ctx, dto.EventListQuery{Scope: "inbox", Decision: "pending"}, actorHOD)
	require.NoError(t, err)
	require.NotNil(t, repo.lastFilter.ApproverRole)
	assert.Equal(t, models.RoleHOD, *repo.lastFilter.ApproverRole)
	assert.Equal(t, models.EventStatusSubmitted, *repo.lastFilter.Status)
	assert.Equal(t, models.DecisionPending, *repo.lastFilter.Decision)
	assert.Empty(t, repo.lastFilter.CreatedBy)

	_, _, err = svc.List(ctx, dto.EventListQuery{Scope: "approved"}, actorCSO)
	require.NoError(t, err)
	assert.Equal(t, models.LabelApproved, *repo.lastFilter.Label)
	assert.Equal(t, actorCSO, *repo.lastFilter.VisibleTo)

	_, _, err = svc.List(ctx, dto.EventListQuery{Scope: "mine", Label: "approval_sent"}, actorFaculty)
	require.NoError(t, err)
	assert.Equal(t, models.LabelApprovalSent, *repo.lastFilter.Label)

	_, _, err = svc.List(ctx, dto.EventListQuery{Scope: "approved", Label: "draft"}, actorFaculty)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	_, _, err = svc.List(ctx, dto.EventListQuery{Scope: "everything"}, actorFaculty)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	_, _, err = svc.List(ctx, dto.EventListQuery{Decision: "maybe"}, actorFaculty)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEventServiceSummary(t *testing.T) {
	repo := newMemoryEventRepo()
	repo.counts = models.LabelCounts{models.LabelDraft: 2, models.LabelApproved: 1, models.LabelPendingApproval: 0, models.LabelApprovalSent: 3}
	repo.awaiting = 4
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	svc := newTestEventService(repo, cache, nil)

	summary, err := svc.Summary(context.Background(), actorHOD)
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Total)
	assert.Equal(t, 3, summary.Counts["approval_sent"])
	assert.Equal(t, 4, summary.AwaitingDecision)
	assert.True(t, cacheRepo.has(EventSummaryKey(actorHOD.UserID, actorHOD.Role)))

	repo.awaiting = 9
	cached, err := svc.Summary(context.Background(), actorHOD)
	require.NoError(t, err)
	assert.Equal(t, 4, cached.AwaitingDecision)
}

func TestEventServiceSummaryFollowsRoleChange(t *testing.T) {
	repo := newMemoryEventRepo()
	repo.awaiting = 4
	cache := NewCacheService(newMemoryCacheRepo(), nil, time.Minute, zap.NewNop(), true)
	svc := newTestEventService(repo, cache, nil)

	summary, err := svc.Summary(context.Background(), actorHOD)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.AwaitingDecision)

	repo.awaiting = 1
	promoted := models.Actor{UserID: actorHOD.UserID, Role: models.RolePrincipal}
	summary, err = svc.Summary(context.Background(), promoted)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AwaitingDecision)

	summary, err = svc.Summary(context.Background(), actorHOD)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.AwaitingDecision)
}

func TestEventServiceHistory(t *testing.T) {
	repo := newMemoryEventRepo(draftEvent("e1", actorFaculty, true))
	actor := "u-faculty"
	repo.logs = []models.AuditLog{{Action: models.AuditActionEventCreate, UserID: &actor, NewValues: []byte(`{"form_complete":true}`)}}
	svc := newTestEventService(repo, nil, nil)

	entries, err := svc.History(context.Background(), "e1", actorFaculty)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `{"form_complete":true}`, string(entries[0].NewValues))

	_, err = svc.History(context.Background(), "e1", actorCSO)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
