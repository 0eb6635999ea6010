package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/event-approval-api/internal/models"
	appErrors "github.com/noah-isme/event-approval-api/pkg/errors"
)

const (
	eventDetailPrefix  = "events:detail:"
	eventSummaryPrefix = "events:summary:"
)

// EventDetailKey is the cache key of one event's detail view.
func EventDetailKey(id string) string { return eventDetailPrefix + id }

// EventSummaryKey is the cache key of a user's label summary. The inbox count
// follows the role, so a role change must not reuse the old entry.
func EventSummaryKey(userID string, role models.UserRole) string {
	return eventSummaryPrefix + userID + ":" + string(role)
}

type cacheTraceKey struct{}

// CacheTrace counts cache lookups made while serving one request.
type CacheTrace struct {
	hits   atomic.Int64
	misses atomic.Int64
}

// WithCacheTrace attaches a fresh trace to ctx.
func WithCacheTrace(ctx context.Context) (context.Context, *CacheTrace) {
	trace := &CacheTrace{}
	return context.WithValue(ctx, cacheTraceKey{}, trace), trace
}

// CacheTraceFrom returns the trace attached to ctx, if any.
func CacheTraceFrom(ctx context.Context) *CacheTrace {
	trace, _ := ctx.Value(cacheTraceKey{}).(*CacheTrace)
	return trace
}

// Hits reports lookups served from the cache.
func (t *CacheTrace) Hits() int64 { return t.hits.Load() }

// Misses reports lookups that fell through to the database.
func (t *CacheTrace) Misses() int64 { return t.misses.Load() }

// Served reports whether every lookup hit and whether any lookup happened at all.
func (t *CacheTrace) Served() (hit bool, looked bool) {
	hits, misses := t.Hits(), t.Misses()
	return hits > 0 && misses == 0, hits+misses > 0
}

func (t *CacheTrace) record(hit bool) {
	if t == nil {
		return
	}
	if hit {
		t.hits.Add(1)
		return
	}
	t.misses.Add(1)
}

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService fronts the event read cache and records hit/miss metrics.
// Failures are logged and never propagate into request handling.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get fills dest from the cache and reports whether the key was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) bool {
	if !s.Enabled() {
		return false
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	CacheTraceFrom(ctx).record(err == nil)
	if err != nil && !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}
	return err == nil
}

// Set stores value under key. A non-positive ttl uses the default.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if !s.Enabled() {
		return
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate removes the given keys.
func (s *CacheService) Invalidate(ctx context.Context, keys ...string) {
	if !s.Enabled() || len(keys) == 0 {
		return
	}
	if err := s.repo.Delete(ctx, keys...); err != nil {
		s.logger.Warn("cache invalidate failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// InvalidatePattern removes every key matching pattern.
func (s *CacheService) InvalidatePattern(ctx context.Context, pattern string) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
	}
}

// InvalidateUserSummaries drops the summaries cached for userID under any role.
func (s *CacheService) InvalidateUserSummaries(ctx context.Context, userID string) {
	s.InvalidatePattern(ctx, eventSummaryPrefix+userID+":*")
}

// InvalidateSummaries drops every cached label summary. Approver inbox counts
// depend on events the user did not create, so one write can touch many summaries.
func (s *CacheService) InvalidateSummaries(ctx context.Context) {
	s.InvalidatePattern(ctx, eventSummaryPrefix+"*")
}
