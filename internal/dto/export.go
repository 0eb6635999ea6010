package dto

import (
	"time"

	"github.com/noah-isme/event-approval-api/internal/models"
)

// ExportJobRequest captures POST /exports.
type ExportJobRequest struct {
	Format   string `json:"format"`
	Scope    string `json:"scope"`
	Label    string `json:"label,omitempty"`
	Decision string `json:"decision,omitempty"`
}

// ExportJobResponse is returned after enqueueing an export.
type ExportJobResponse struct {
	ID       string              `json:"id"`
	Status   models.ExportStatus `json:"status"`
	Progress int                 `json:"progress"`
}

// ExportStatusResponse exposes job progress metadata.
type ExportStatusResponse struct {
	ID          string              `json:"id"`
	Format      string              `json:"format"`
	Status      models.ExportStatus `json:"status"`
	Progress    int                 `json:"progress"`
	DownloadURL *string             `json:"download_url,omitempty"`
	Error       *string             `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	FinishedAt  *time.Time          `json:"finished_at,omitempty"`
}
