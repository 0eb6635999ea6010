package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/event-approval-api/internal/dto"
	"github.com/noah-isme/event-approval-api/internal/middleware"
	"github.com/noah-isme/event-approval-api/internal/models"
	"github.com/noah-isme/event-approval-api/internal/service"
	appErrors "github.com/noah-isme/event-approval-api/pkg/errors"
	"github.com/noah-isme/event-approval-api/pkg/response"
)

type eventExporter interface {
	ExportEvent(ctx context.Context, id, format string, actor models.Actor, meta models.RequestMeta) (*service.EventExport, error)
}

type exportJobService interface {
	CreateJob(ctx context.Context, req dto.ExportJobRequest, actor models.Actor, meta models.RequestMeta) (*dto.ExportJobResponse, error)
	GetStatus(ctx context.Context, id string, actor models.Actor) (*dto.ExportStatusResponse, error)
	ResolveDownload(ctx context.Context, token string) (*service.ExportDownload, error)
}

// ExportHandler serves single-event exports and the async approval register.
type ExportHandler struct {
	events eventExporter
	jobs   exportJobService
}

// NewExportHandler constructs the handler. jobs may be nil when async exports are disabled.
func NewExportHandler(events eventExporter, jobs exportJobService) *ExportHandler {
	return &ExportHandler{events: events, jobs: jobs}
}

// ExportEvent godoc
// @Summary Export an approved event
// @Tags Exports
// @Produce octet-stream
// @Param id path string true "Event ID"
// @Param format query string false "csv, pdf or xlsx"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /events/{id}/export [get]
func (h *ExportHandler) ExportEvent(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	result, err := h.events.ExportEvent(c.Request.Context(), c.Param("id"), c.Query("format"), actor, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Attachment(c, result.Filename, result.ContentType)
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}

// CreateJob godoc
// @Summary Queue an approval register export
// @Tags Exports
// @Accept json
// @Produce json
// @Param payload body dto.ExportJobRequest true "Register filters"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /exports [post]
func (h *ExportHandler) CreateJob(c *gin.Context) {
	if h.jobs == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled"))
		return
	}
	var req dto.ExportJobRequest
	actor, ok := bindWithActor(c, &req, "invalid export payload")
	if !ok {
		return
	}

	job, err := h.jobs.CreateJob(c.Request.Context(), req, actor, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, job)
}

// Status godoc
// @Summary Export job status
// @Tags Exports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /exports/{id} [get]
func (h *ExportHandler) Status(c *gin.Context) {
	if h.jobs == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	status, err := h.jobs.GetStatus(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, status, nil)
}

// Download godoc
// @Summary Download a finished export via signed token
// @Tags Exports
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /export/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	if h.jobs == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled"))
		return
	}
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}

	download, err := h.jobs.ResolveDownload(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.Content.Close() //nolint:errcheck

	if jobID, _, found := strings.Cut(token, "."); found {
		middleware.SetAuditResource(c, jobID)
	}
	response.Attachment(c, download.Filename, download.ContentType)
	http.ServeContent(c.Writer, c.Request, download.Filename, download.ModTime, download.Content)
}
