package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/noah-isme/event-approval-api/internal/models"
	"github.com/noah-isme/event-approval-api/pkg/middleware/requestid"
)

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// auditEntry describes one audit record before persistence.
type auditEntry struct {
	actorID    string
	action     string
	resource   string
	resourceID string
	oldValues  interface{}
	newValues  interface{}
	meta       models.RequestMeta
}

// emitAudit persists an audit record. Failures are logged and swallowed.
func emitAudit(ctx context.Context, writer auditWriter, logger *zap.Logger, entry auditEntry) {
	if writer == nil {
		return
	}
	log := &models.AuditLog{
		Action:    entry.action,
		Resource:  entry.resource,
		IPAddress: entry.meta.IP,
		UserAgent: entry.meta.UserAgent,
	}
	if entry.actorID != "" {
		actor := entry.actorID
		log.UserID = &actor
	}
	if entry.resourceID != "" {
		id := entry.resourceID
		log.ResourceID = &id
	}
	log.OldValues = marshalAudit(entry.oldValues)
	log.NewValues = marshalAudit(entry.newValues)

	if err := writer.CreateAuditLog(ctx, log); err != nil {
		logger.Warn("failed to record audit log",
			zap.String("action", entry.action),
			zap.String("resource_id", entry.resourceID),
			zap.String("request_id", requestid.FromContext(ctx)),
			zap.Error(err))
	}
}

func marshalAudit(v interface{}) []byte {
	if v == nil {
		return nil
	}
	if raw, ok := v.([]byte); ok {
		return raw
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
