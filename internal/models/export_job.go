package models

import (
	"database/sql/driver"
	"time"
)

// ExportStatus captures background job lifecycle states.
type ExportStatus string

const (
	ExportStatusQueued     ExportStatus = "QUEUED"
	ExportStatusProcessing ExportStatus = "PROCESSING"
	ExportStatusFinished   ExportStatus = "FINISHED"
	ExportStatusFailed     ExportStatus = "FAILED"
)

// ExportJob is a persisted approval register export request.
type ExportJob struct {
	ID           string       `db:"id" json:"id"`
	Format       string       `db:"format" json:"format"`
	Params       ExportParams `db:"params" json:"params"`
	Status       ExportStatus `db:"status" json:"status"`
	Progress     int          `db:"progress" json:"progress"`
	ResultURL    *string      `db:"result_url" json:"result_url,omitempty"`
	CreatedBy    string       `db:"created_by" json:"created_by"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	FinishedAt   *time.Time   `db:"finished_at" json:"finished_at,omitempty"`
	ErrorMessage *string      `db:"error_message" json:"error_message,omitempty"`
}

// ExportParams snapshots the listing query and the requester so the worker
// can rebuild the register without the original request.
type ExportParams struct {
	Scope    EventScope    `json:"scope"`
	Label    *DisplayLabel `json:"label,omitempty"`
	Decision *Decision     `json:"decision,omitempty"`
	Actor    Actor         `json:"actor"`
}

// Value marshals params to JSON for persistence.
func (p ExportParams) Value() (driver.Value, error) {
	return jsonValue(p, "export params")
}

// Scan unmarshals JSON payloads into the params struct.
func (p *ExportParams) Scan(value interface{}) error {
	*p = ExportParams{}
	return scanJSON(value, p, "export params")
}
