package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/event-approval-api/internal/approval"
	"github.com/noah-isme/event-approval-api/internal/dto"
	"github.com/noah-isme/event-approval-api/internal/models"
	appErrors "github.com/noah-isme/event-approval-api/pkg/errors"
)

func newTestApprovalService(repo *memoryEventRepo, cache *CacheService, audit auditWriter, metrics *MetricsService) *ApprovalService {
	return NewApprovalService(repo, audit, approval.NewPolicy(approval.DefaultHierarchy()), cache, metrics, validator.New(), zap.NewNop(), ApprovalServiceConfig{MaxWriteRetries: 2})
}

func submittedEvent(id string, creator models.Actor, approvals models.Approvals) models.Event {
	e := draftEvent(id, creator, true)
	e.Status = models.EventStatusSubmitted
	e.Approvals = approvals.Clone()
	e.Reviews = models.Reviews{}
	for role := range approvals {
		e.Reviews[role] = nil
	}
	return e
}

func TestApprovalServiceRequestAndCancel(t *testing.T) {
	repo := newMemoryEventRepo(draftEvent("e1", actorFaculty, true))
	audit := &recordingAudit{}
	metrics := NewMetricsService()
	svc := newTestApprovalService(repo, nil, audit, metrics)
	ctx := context.Background()

	detail, err := svc.RequestApproval(ctx, "e1", dto.RequestApprovalRequest{Roles: []string{"HOD", "principal", "hod"}}, actorFaculty, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.LabelApprovalSent, detail.Label)
	stored := repo.stored("e1")
	assert.Equal(t, models.EventStatusSubmitted, stored.Status)
	assert.Equal(t, models.Approvals{models.RoleHOD: models.DecisionPending, models.RolePrincipal: models.DecisionPending}, stored.Approvals)
	assert.Len(t, stored.Reviews, 2)

	_, err = svc.CancelApproval(ctx, "e1", actorFaculty, models.RequestMeta{})
	require.NoError(t, err)
	stored = repo.stored("e1")
	assert.Equal(t, models.EventStatusDraft, stored.Status)
	assert.Empty(t, stored.Approvals)
	assert.Empty(t, stored.Reviews)

	_, err = svc.CancelApproval(ctx, "e1", actorFaculty, models.RequestMeta{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))

	assert.Equal(t, []string{models.AuditActionApprovalReq, models.AuditActionApprovalCanc}, audit.actions())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.transitions.WithLabelValues(string(models.ActionCancelApproval), OutcomeRejected)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.transitions.WithLabelValues(string(models.ActionRequestApproval), OutcomeSuccess)))
}

func TestApprovalServiceRequestRejectsNonCreator(t *testing.T) {
	repo := newMemoryEventRepo(draftEvent("e1", actorFaculty, true))
	svc := newTestApprovalService(repo, nil, nil, nil)

	_, err := svc.RequestApproval(context.Background(), "e1", dto.RequestApprovalRequest{Roles: []string{"cso"}}, actorHOD, models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, repo.writes)
}

func TestApprovalServiceRequestPolicyErrors(t *testing.T) {
	repo := newMemoryEventRepo(draftEvent("e1", actorPrincipal, true), draftEvent("e2", actorFaculty, false))
	svc := newTestApprovalService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.RequestApproval(ctx, "e1", dto.RequestApprovalRequest{}, actorPrincipal, models.RequestMeta{})
	assert.True(t, errors.Is(err, appErrors.ErrEmptySelection))

	_, err = svc.RequestApproval(ctx, "e1", dto.RequestApprovalRequest{Roles: []string{"dean"}}, actorPrincipal, models.RequestMeta{})
	assert.True(t, errors.Is(err, appErrors.ErrUnknownRole))

	_, err = svc.RequestApproval(ctx, "e1", dto.RequestApprovalRequest{Roles: []string{"hod"}}, actorPrincipal, models.RequestMeta{})
	assert.True(t, errors.Is(err, appErrors.ErrIneligibleApprover))

	_, err = svc.RequestApproval(ctx, "e2", dto.RequestApprovalRequest{Roles: []string{"hod"}}, actorFaculty, models.RequestMeta{})
	assert.True(t, errors.Is(err, appErrors.ErrFormIncomplete))

	assert.Equal(t, 0, repo.writes)
}

func TestApprovalServiceDecisionsReachApproved(t *testing.T) {
	repo := newMemoryEventRepo(submittedEvent("e1", actorFaculty, models.Approvals{models.RoleHOD: models.DecisionPending, models.RoleCSO: models.DecisionPending}))
	svc := newTestApprovalService(repo, nil, nil, nil)
	ctx := context.Background()

	detail, err := svc.RecordDecision(ctx, "e1", dto.DecisionRequest{Decision: "APPROVED"}, actorHOD, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.LabelApprovalSent, detail.Label)
	assert.Contains(t, detail.Actions, models.ActionReview)
	assert.NotContains(t, detail.Actions, models.ActionApprove)

	detail, err = svc.RecordDecision(ctx, "e1", dto.DecisionRequest{Decision: "approved", Comment: "Go ahead"}, actorCSO, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.LabelApproved, detail.Label)
	assert.Contains(t, detail.Actions, models.ActionExport)
	assert.Nil(t, repo.stored("e1").Reviews[models.RoleCSO])
	assert.Nil(t, repo.stored("e1").Reviews[models.RoleHOD])

	_, err = svc.RecordDecision(ctx, "e1", dto.DecisionRequest{Decision: "rejected"}, actorHOD, models.RequestMeta{})
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyDecided))
}

func TestApprovalServiceRejectWritesGeneratedReview(t *testing.T) {
	repo := newMemoryEventRepo(submittedEvent("e1", actorFaculty, models.Approvals{models.RoleHOD: models.DecisionPending}))
	svc := newTestApprovalService(repo, nil, nil, nil)

	detail, err := svc.RecordDecision(context.Background(), "e1", dto.DecisionRequest{Decision: "rejected"}, actorHOD, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.LabelApprovalSent, detail.Label)
	assert.Equal(t, "Rejected by HOD", *repo.stored("e1").Reviews[models.RoleHOD])
}

func TestApprovalServiceDecisionAuthorization(t *testing.T) {
	repo := newMemoryEventRepo(submittedEvent("e1", actorFaculty, models.Approvals{models.RoleHOD: models.DecisionPending}))
	svc := newTestApprovalService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordDecision(ctx, "e1", dto.DecisionRequest{Decision: "approved"}, actorFaculty, models.RequestMeta{})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.RecordDecision(ctx, "e1", dto.DecisionRequest{Decision: "approved"}, actorPrincipal, models.RequestMeta{})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.False(t, errors.Is(err, appErrors.ErrUnknownRole))

	_, err = svc.SendReview(ctx, "e1", dto.ReviewRequest{Comment: "who asked me?"}, actorPrincipal, models.RequestMeta{})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.RecordDecision(ctx, "e1", dto.DecisionRequest{Decision: "maybe"}, actorHOD, models.RequestMeta{})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.RecordDecision(ctx, "e1", dto.DecisionRequest{}, actorHOD, models.RequestMeta{})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	assert.Equal(t, 0, repo.writes)
}

func TestApprovalServiceReviewReopensSlot(t *testing.T) {
	repo := newMemoryEventRepo(submittedEvent("e1", actorFaculty, models.Approvals{models.RoleHOD: models.DecisionApproved}))
	svc := newTestApprovalService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.SendReview(ctx, "e1", dto.ReviewRequest{Comment: "  "}, actorHOD, models.RequestMeta{})
	assert.True(t, errors.Is(err, appErrors.ErrEmptyComment))

	detail, err := svc.SendReview(ctx, "e1", dto.ReviewRequest{Comment: "Add the venue permit"}, actorHOD, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.LabelApprovalSent, detail.Label)
	stored := repo.stored("e1")
	assert.Equal(t, models.DecisionPending, stored.Approvals[models.RoleHOD])
	assert.Equal(t, "Add the venue permit", *stored.Reviews[models.RoleHOD])
}

func TestApprovalServiceConcurrentDecisionsDoNotClobber(t *testing.T) {
	repo := newMemoryEventRepo(submittedEvent("e1", actorFaculty, models.Approvals{models.RoleHOD: models.DecisionPending, models.RolePrincipal: models.DecisionPending}))
	raced := false
	repo.interfere = func(stored *models.Event) {
		if raced {
			return
		}
		raced = true
		stored.Approvals = stored.Approvals.Clone()
		stored.Approvals[models.RolePrincipal] = models.DecisionApproved
		stored.Version++
	}
	metrics := NewMetricsService()
	svc := newTestApprovalService(repo, nil, nil, metrics)

	detail, err := svc.RecordDecision(context.Background(), "e1", dto.DecisionRequest{Decision: "approved"}, actorHOD, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.LabelApproved, detail.Label)
	stored := repo.stored("e1")
	assert.Equal(t, models.DecisionApproved, stored.Approvals[models.RoleHOD])
	assert.Equal(t, models.DecisionApproved, stored.Approvals[models.RolePrincipal])
	assert.Equal(t, 2, repo.writes)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.writeRetries))
}

func TestApprovalServiceRetryReappliesAgainstFreshState(t *testing.T) {
	repo := newMemoryEventRepo(submittedEvent("e1", actorFaculty, models.Approvals{models.RoleHOD: models.DecisionPending}))
	raced := false
	repo.interfere = func(stored *models.Event) {
		if raced {
			return
		}
		raced = true
		stored.Status = models.EventStatusDraft
		stored.Approvals = models.Approvals{}
		stored.Reviews = models.Reviews{}
		stored.Version++
	}
	svc := newTestApprovalService(repo, nil, nil, nil)

	_, err := svc.RecordDecision(context.Background(), "e1", dto.DecisionRequest{Decision: "approved"}, actorHOD, models.RequestMeta{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
	assert.Equal(t, models.EventStatusDraft, repo.stored("e1").Status)
}

func TestApprovalServiceConflictAfterRetries(t *testing.T) {
	repo := newMemoryEventRepo(submittedEvent("e1", actorFaculty, models.Approvals{models.RoleHOD: models.DecisionPending}))
	repo.interfere = func(stored *models.Event) { stored.Version++ }
	metrics := NewMetricsService()
	svc := newTestApprovalService(repo, nil, nil, metrics)

	_, err := svc.SendReview(context.Background(), "e1", dto.ReviewRequest{Comment: "note"}, actorHOD, models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.transitions.WithLabelValues(string(models.ActionReview), OutcomeConflict)))
}

func TestApprovalServiceRejectsCorruptRow(t *testing.T) {
	corrupt := submittedEvent("e1", actorFaculty, models.Approvals{models.RoleHOD: models.DecisionPending})
	corrupt.Reviews = models.Reviews{}
	repo := newMemoryEventRepo(corrupt)
	svc := newTestApprovalService(repo, nil, nil, nil)

	_, err := svc.RecordDecision(context.Background(), "e1", dto.DecisionRequest{Decision: "approved"}, actorHOD, models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, repo.writes)
}

func TestApprovalServiceInvalidatesCache(t *testing.T) {
	repo := newMemoryEventRepo(draftEvent("e1", actorFaculty, true))
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	ctx := context.Background()
	cache.Set(ctx, EventDetailKey("e1"), repo.stored("e1"), 0)
	cache.Set(ctx, EventSummaryKey(actorHOD.UserID, actorHOD.Role), dto.EventSummary{}, 0)
	cache.Set(ctx, EventSummaryKey(actorFaculty.UserID, actorFaculty.Role), dto.EventSummary{}, 0)
	svc := newTestApprovalService(repo, cache, nil, nil)

	_, err := svc.RequestApproval(ctx, "e1", dto.RequestApprovalRequest{Roles: []string{"hod"}}, actorFaculty, models.RequestMeta{})
	require.NoError(t, err)
	assert.False(t, cacheRepo.has(EventDetailKey("e1")))
	assert.False(t, cacheRepo.has(EventSummaryKey(actorHOD.UserID, actorHOD.Role)))
	assert.False(t, cacheRepo.has(EventSummaryKey(actorFaculty.UserID, actorFaculty.Role)))
}

func TestApprovalServiceApproversAndActions(t *testing.T) {
	repo := newMemoryEventRepo(draftEvent("e1", actorHOD, true))
	svc := newTestApprovalService(repo, nil, nil, nil)
	ctx := context.Background()

	approvers, err := svc.Approvers(ctx, "e1", actorHOD)
	require.NoError(t, err)
	assert.Equal(t, []models.UserRole{models.RolePrincipal, models.RoleCSO}, approvers.Eligible)
	assert.Empty(t, approvers.Requested)

	actions, err := svc.Actions(ctx, "e1", actorHOD)
	require.NoError(t, err)
	assert.Equal(t, models.LabelPendingApproval, actions.Label)
	assert.Equal(t, []models.Action{models.ActionEdit, models.ActionDelete, models.ActionRequestApproval}, actions.Actions)

	_, err = svc.Actions(ctx, "e1", actorCSO)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestApprovalServiceAuditCarriesSnapshots(t *testing.T) {
	repo := newMemoryEventRepo(submittedEvent("e1", actorFaculty, models.Approvals{models.RoleHOD: models.DecisionPending}))
	audit := &recordingAudit{err: errors.New("audit store down")}
	svc := newTestApprovalService(repo, nil, audit, nil)

	_, err := svc.RecordDecision(context.Background(), "e1", dto.DecisionRequest{Decision: "approved"}, actorHOD, models.RequestMeta{})
	require.NoError(t, err, "audit failures must not fail the transition")

	audit.err = nil
	_, err = svc.SendReview(context.Background(), "e1", dto.ReviewRequest{Comment: "Reconsidering"}, actorHOD, models.RequestMeta{})
	require.NoError(t, err)
	require.Len(t, audit.logs, 1)
	assert.JSONEq(t, `{"status":"submitted","approvals":{"hod":"approved"},"reviews":{"hod":null},"label":"Approved"}`, string(audit.logs[0].OldValues))
	assert.JSONEq(t, `{"status":"submitted","approvals":{"hod":"pending"},"reviews":{"hod":"Reconsidering"},"label":"Approval Sent"}`, string(audit.logs[0].NewValues))
	assert.Equal(t, "events", audit.logs[0].Resource)
}
