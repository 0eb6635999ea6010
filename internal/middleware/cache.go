package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/event-approval-api/internal/service"
	"github.com/noah-isme/event-approval-api/pkg/middleware/requestid"
)

const (
	requestStartKey = "request_started_at"
	cacheTraceKey   = "cache_trace"
)

// WithResponseMeta starts the per-request clock and attaches a cache trace to
// the request context so services can report whether reads were cached.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, trace := service.WithCacheTrace(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		c.Set(requestStartKey, time.Now())
		c.Set(cacheTraceKey, trace)
		c.Next()
	}
}

// ExtractMeta builds the envelope meta block for the current response.
// It returns nil outside WithResponseMeta.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	raw, ok := c.Get(requestStartKey)
	if !ok {
		return nil
	}
	meta := map[string]interface{}{}
	if start, ok := raw.(time.Time); ok {
		meta["processing_time_ms"] = time.Since(start).Milliseconds()
	}
	if trace, ok := c.Get(cacheTraceKey); ok {
		if t, ok := trace.(*service.CacheTrace); ok {
			if hit, looked := t.Served(); looked {
				meta["cache_hit"] = hit
			}
		}
	}
	if id := requestid.Value(c); id != "" {
		meta["request_id"] = id
	}
	return meta
}
