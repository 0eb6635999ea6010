package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/noah-isme/event-approval-api/internal/models"
	appErrors "github.com/noah-isme/event-approval-api/pkg/errors"
)

type eventRepository interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id string) (*models.Event, error)
	List(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error)
	CountByLabel(ctx context.Context, createdBy string) (models.LabelCounts, error)
	CountAwaiting(ctx context.Context, role models.UserRole) (int, error)
	UpdateSections(ctx context.Context, event *models.Event, expectedVersion int) error
	UpdateWorkflow(ctx context.Context, event *models.Event, expectedVersion int) error
	Delete(ctx context.Context, id string) error
}

type eventAuditReader interface {
	ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error)
}

// persistFunc writes next if the stored row is still at expectedVersion.
type persistFunc func(ctx context.Context, next *models.Event, expectedVersion int) error

// mutateFunc derives the next state from the freshly loaded one.
type mutateFunc func(current models.Event) (models.Event, error)

// versionedWriter applies mutations under the optimistic version check,
// reloading and reapplying when another writer got there first.
type versionedWriter struct {
	repo       eventRepository
	metrics    *MetricsService
	maxRetries int
}

// apply returns the state before and after the successful write.
func (w versionedWriter) apply(ctx context.Context, id string, mutate mutateFunc, persist persistFunc) (models.Event, models.Event, error) {
	for attempt := 0; ; attempt++ {
		current, err := loadEvent(ctx, w.repo, id)
		if err != nil {
			return models.Event{}, models.Event{}, err
		}

		next, err := mutate(*current)
		if err != nil {
			return *current, models.Event{}, err
		}

		err = persist(ctx, &next, current.Version)
		if err == nil {
			return *current, next, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return *current, models.Event{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save event")
		}
		if attempt >= w.maxRetries {
			return *current, models.Event{}, appErrors.Clone(appErrors.ErrConflict, "event was modified concurrently, please retry")
		}
		w.metrics.RecordWriteRetry()
	}
}

func loadEvent(ctx context.Context, repo eventRepository, id string) (*models.Event, error) {
	event, err := repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
	}
	if event.Approvals == nil {
		event.Approvals = models.Approvals{}
	}
	if event.Reviews == nil {
		event.Reviews = models.Reviews{}
	}
	return event, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
