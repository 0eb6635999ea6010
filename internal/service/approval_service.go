package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/event-approval-api/internal/approval"
	"github.com/noah-isme/event-approval-api/internal/dto"
	"github.com/noah-isme/event-approval-api/internal/models"
	appErrors "github.com/noah-isme/event-approval-api/pkg/errors"
)

// ApprovalServiceConfig tunes workflow writes.
type ApprovalServiceConfig struct {
	MaxWriteRetries int
}

// ApprovalService is the only writer of an event's status, approvals and reviews.
// Each call loads the row, authorizes the actor, applies a pure transition and
// persists it under the optimistic version check.
type ApprovalService struct {
	repo      eventRepository
	audit     auditWriter
	policy    *approval.Policy
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	writer    versionedWriter
}

// NewApprovalService wires the approval workflow.
func NewApprovalService(
	repo eventRepository,
	audit auditWriter,
	policy *approval.Policy,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg ApprovalServiceConfig,
) *ApprovalService {
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
	return &ApprovalService{
		repo:      repo,
		audit:     audit,
		policy:    policy,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		writer:    versionedWriter{repo: repo, metrics: metrics, maxRetries: cfg.MaxWriteRetries},
	}
}

// RequestApproval submits the creator's draft to the selected approver roles.
func (s *ApprovalService) RequestApproval(ctx context.Context, id string, req dto.RequestApprovalRequest, actor models.Actor, meta models.RequestMeta) (*dto.EventDetail, error) {
	return s.transition(ctx, id, string(models.ActionRequestApproval), models.AuditActionApprovalReq, actor, meta,
		func(current models.Event) (models.Event, error) {
			if err := authorizeCreator(current, actor); err != nil {
				return current, err
			}
			return s.policy.RequestApproval(current, req.Roles)
		})
}

// CancelApproval withdraws a submission. Every decision and review is discarded.
func (s *ApprovalService) CancelApproval(ctx context.Context, id string, actor models.Actor, meta models.RequestMeta) (*dto.EventDetail, error) {
	return s.transition(ctx, id, string(models.ActionCancelApproval), models.AuditActionApprovalCanc, actor, meta,
		func(current models.Event) (models.Event, error) {
			if err := authorizeCreator(current, actor); err != nil {
				return current, err
			}
			return s.policy.CancelApproval(current)
		})
}

// RecordDecision approves or rejects on behalf of the actor's role.
func (s *ApprovalService) RecordDecision(ctx context.Context, id string, req dto.DecisionRequest, actor models.Actor, meta models.RequestMeta) (*dto.EventDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}
	decision := models.Decision(strings.ToLower(strings.TrimSpace(req.Decision)))

	action := string(models.ActionApprove)
	if decision == models.DecisionRejected {
		action = string(models.ActionReject)
	}
	return s.transition(ctx, id, action, models.AuditActionDecision, actor, meta,
		func(current models.Event) (models.Event, error) {
			if err := authorizeApprover(current, actor); err != nil {
				return current, err
			}
			return s.policy.RecordDecision(current, actor.Role, decision, req.Comment)
		})
}

// SendReview leaves a comment for the creator and reopens the actor's slot.
func (s *ApprovalService) SendReview(ctx context.Context, id string, req dto.ReviewRequest, actor models.Actor, meta models.RequestMeta) (*dto.EventDetail, error) {
	return s.transition(ctx, id, string(models.ActionReview), models.AuditActionReview, actor, meta,
		func(current models.Event) (models.Event, error) {
			if err := authorizeApprover(current, actor); err != nil {
				return current, err
			}
			return s.policy.SendReview(current, actor.Role, req.Comment)
		})
}

// Approvers lists the roles the event's creator may ask for approval.
func (s *ApprovalService) Approvers(ctx context.Context, id string, actor models.Actor) (*dto.ApproversResponse, error) {
	event, err := s.loadVisible(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return &dto.ApproversResponse{
		CreatorRole: event.CreatorRole,
		Eligible:    s.policy.Hierarchy().EligibleApprovers(event.CreatorRole),
		Requested:   event.Approvals.Roles(),
	}, nil
}

// Actions lists what the actor may do with the event right now.
func (s *ApprovalService) Actions(ctx context.Context, id string, actor models.Actor) (*dto.ActionsResponse, error) {
	event, err := s.loadVisible(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return &dto.ActionsResponse{
		Label:   approval.DisplayStatus(*event),
		Actions: s.policy.AllowedActions(*event, actor),
	}, nil
}

func (s *ApprovalService) loadVisible(ctx context.Context, id string, actor models.Actor) (*models.Event, error) {
	event, err := loadEvent(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	if !approval.CanView(*event, actor) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
	}
	return event, nil
}

func (s *ApprovalService) transition(
	ctx context.Context,
	id, metricAction, auditAction string,
	actor models.Actor,
	meta models.RequestMeta,
	step mutateFunc,
) (*dto.EventDetail, error) {
	mutate := func(current models.Event) (models.Event, error) {
		if err := s.policy.CheckInvariants(current); err != nil {
			return current, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stored event is inconsistent")
		}
		next, err := step(current)
		if err != nil {
			return current, err
		}
		if err := s.policy.CheckInvariants(next); err != nil {
			return current, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "transition produced an inconsistent event")
		}
		return next, nil
	}

	before, after, err := s.writer.apply(ctx, id, mutate, s.repo.UpdateWorkflow)
	s.metrics.RecordTransition(metricAction, transitionOutcome(err))
	if err != nil {
		if appErrors.FromError(err).Status >= http.StatusInternalServerError {
			s.logger.Error("approval transition failed",
				zap.String("event_id", id),
				zap.String("action", metricAction),
				zap.String("actor_id", actor.UserID),
				zap.Error(err))
		}
		return nil, err
	}

	emitAudit(ctx, s.audit, s.logger, auditEntry{
		actorID:    actor.UserID,
		action:     auditAction,
		resource:   "events",
		resourceID: id,
		oldValues:  workflowSnapshot(before),
		newValues:  workflowSnapshot(after),
		meta:       meta,
	})
	s.cache.Invalidate(ctx, EventDetailKey(id))
	s.cache.InvalidateSummaries(ctx)

	s.logger.Info("approval transition applied",
		zap.String("event_id", id),
		zap.String("action", metricAction),
		zap.String("actor_role", string(actor.Role)),
		zap.String("label", string(approval.DisplayStatus(after))))

	detail := buildEventDetail(s.policy, s.validator, after, actor)
	return &detail, nil
}

// authorizeApprover rejects creators deciding on their own event and hides
// events the actor is not part of.
func authorizeApprover(event models.Event, actor models.Actor) error {
	if actor.UserID != "" && actor.UserID == event.CreatedBy {
		return appErrors.Clone(appErrors.ErrForbidden, "creators cannot decide on their own event")
	}
	if event.Status == models.EventStatusSubmitted && !approval.CanView(event, actor) {
		return appErrors.Clone(appErrors.ErrNotFound, "event not found")
	}
	return nil
}

func transitionOutcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	appErr := appErrors.FromError(err)
	switch {
	case errors.Is(err, appErrors.ErrConflict):
		return OutcomeConflict
	case appErr.Status >= http.StatusInternalServerError:
		return OutcomeError
	default:
		return OutcomeRejected
	}
}
