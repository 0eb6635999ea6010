package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/event-approval-api/internal/approval"
	"github.com/noah-isme/event-approval-api/internal/models"
	appErrors "github.com/noah-isme/event-approval-api/pkg/errors"
	"github.com/noah-isme/event-approval-api/pkg/export"
	"github.com/noah-isme/event-approval-api/pkg/storage"
)

const registerPageSize = 100

type exportEventSource interface {
	GetByID(ctx context.Context, id string) (*models.Event, error)
	List(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error)
}

type fileStorage interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (io.ReadSeekCloser, os.FileInfo, error)
	Delete(name string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
	MaxRows   int
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       export.Format
	Rows         int
	ExpiresAt    time.Time
}

// EventExport is a rendered single-event table ready to stream.
type EventExport struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService builds approval register datasets and persists rendered files.
type ExportService struct {
	events    exportEventSource
	storage   fileStorage
	renderers export.Registry
	signer    *storage.SignedURLSigner
	policy    *approval.Policy
	audit     auditWriter
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       ExportConfig
	now       func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(
	events exportEventSource,
	files fileStorage,
	signer *storage.SignedURLSigner,
	renderers export.Registry,
	policy *approval.Policy,
	audit auditWriter,
	metrics *MetricsService,
	cfg ExportConfig,
	logger *zap.Logger,
) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 5000
	}
	if renderers == nil {
		renderers = export.NewRegistry()
	}
	if policy == nil {
		policy = approval.NewPolicy(approval.DefaultHierarchy())
	}
	return &ExportService{
		events:    events,
		storage:   files,
		renderers: renderers,
		signer:    signer,
		policy:    policy,
		audit:     audit,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Generate builds the register for the job's scope and stores the rendered file.
func (s *ExportService) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	format, err := export.ParseFormat(job.Format)
	if err != nil {
		return nil, err
	}
	dataset, err := s.buildRegister(ctx, job.Params)
	if err != nil {
		return nil, err
	}

	payload, err := s.renderers.Render(format, dataset)
	if err != nil {
		return nil, err
	}

	relPath, err := s.storage.Save(s.buildFilename(job, format), payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/export/%s", prefix, token),
		Format:       format,
		Rows:         len(dataset.Rows),
		ExpiresAt:    expiresAt,
	}, nil
}

// ExportEvent renders one approved event as a field/value table.
func (s *ExportService) ExportEvent(ctx context.Context, id, rawFormat string, actor models.Actor, meta models.RequestMeta) (*EventExport, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
	}
	if !approval.CanView(*event, actor) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
	}
	if !s.policy.Allows(*event, actor, models.ActionExport) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only approved events can be exported")
	}

	start := s.now()
	payload, err := s.RenderEvent(*event, format)
	if err != nil {
		s.metrics.RecordExport(string(format), string(models.ExportStatusFailed), time.Since(start))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render event export")
	}
	s.metrics.RecordExport(string(format), string(models.ExportStatusFinished), time.Since(start))

	emitAudit(ctx, s.audit, s.logger, auditEntry{
		actorID:    actor.UserID,
		action:     models.AuditActionEventExport,
		resource:   "events",
		resourceID: event.ID,
		newValues:  map[string]string{"format": string(format)},
		meta:       meta,
	})

	return &EventExport{
		Filename:    fmt.Sprintf("event_%s.%s", sanitizeFilename(event.Title()), format.Extension()),
		ContentType: format.ContentType(),
		Payload:     payload,
	}, nil
}

// RenderEvent encodes a single event as a field/value table.
func (s *ExportService) RenderEvent(event models.Event, format export.Format) ([]byte, error) {
	return s.renderers.Render(format, s.eventDataset(event))
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (storage.SignedToken, error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (io.ReadSeekCloser, os.FileInfo, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ExportJob, format export.Format) string {
	timestamp := s.now().UTC().Format("20060102_150405")
	scope := sanitizeFilename(string(job.Params.Scope))
	return fmt.Sprintf("register_%s_%s_%s.%s", scope, timestamp, shortID(job.ID), format.Extension())
}

func (s *ExportService) approverRoles() []models.UserRole {
	roles := s.policy.Hierarchy().Roles()
	if len(roles) == 0 {
		return nil
	}
	return s.policy.Hierarchy().EligibleApprovers(roles[0])
}

func (s *ExportService) registerHeaders() []string {
	headers := []string{"Event ID", "Title", "Department", "Start Date", "End Date", "Creator Role", "Label"}
	for _, role := range s.approverRoles() {
		headers = append(headers, role.Upper()+" Decision", role.Upper()+" Review")
	}
	return headers
}

func (s *ExportService) buildRegister(ctx context.Context, params models.ExportParams) (export.Dataset, error) {
	filter, err := scopedFilter(params.Scope, params.Label, params.Decision, params.Actor)
	if err != nil {
		return export.Dataset{}, err
	}
	filter.PageSize = registerPageSize

	dataset := export.Dataset{
		Title:   fmt.Sprintf("Approval Register (%s)", params.Scope),
		Headers: s.registerHeaders(),
	}
	for page := 1; len(dataset.Rows) < s.cfg.MaxRows; page++ {
		filter.Page = page
		events, total, err := s.events.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, err
		}
		for _, event := range events {
			dataset.Rows = append(dataset.Rows, s.registerRow(event))
			if len(dataset.Rows) >= s.cfg.MaxRows {
				break
			}
		}
		if len(events) < registerPageSize || page*registerPageSize >= total {
			break
		}
	}
	if len(dataset.Rows) >= s.cfg.MaxRows {
		s.logger.Warn("approval register truncated", zap.Int("max_rows", s.cfg.MaxRows), zap.String("scope", string(params.Scope)))
	}
	return dataset, nil
}

func (s *ExportService) registerRow(event models.Event) map[string]string {
	row := map[string]string{
		"Event ID":     event.ID,
		"Title":        event.Title(),
		"Creator Role": event.CreatorRole.Upper(),
		"Label":        string(approval.DisplayStatus(event)),
	}
	if info := event.EventInfo; info != nil {
		row["Department"] = info.Department
		row["Start Date"] = formatDate(info.StartDate)
		row["End Date"] = formatDate(info.EndDate)
	}
	for _, role := range s.approverRoles() {
		decision, ok := event.Approvals[role]
		if !ok {
			continue
		}
		row[role.Upper()+" Decision"] = string(decision)
		if comment := event.Reviews[role]; comment != nil {
			row[role.Upper()+" Review"] = *comment
		}
	}
	return row
}

func (s *ExportService) eventDataset(event models.Event) export.Dataset {
	type field struct{ name, value string }
	fields := []field{
		{"Event ID", event.ID},
		{"Label", string(approval.DisplayStatus(event))},
		{"Creator Role", event.CreatorRole.Upper()},
	}
	if info := event.EventInfo; info != nil {
		fields = append(fields,
			field{"Title", info.Title},
			field{"Department", info.Department},
			field{"Venue", info.Venue},
			field{"Coordinator", info.Coordinator},
			field{"Start Date", formatDate(info.StartDate)},
			field{"End Date", formatDate(info.EndDate)},
			field{"Expected Participants", strconv.Itoa(info.ExpectedParticipants)},
			field{"Description", info.Description},
		)
	}
	if agenda := event.Agenda; agenda != nil {
		for i, item := range agenda.Items {
			value := item.Time + " " + item.Activity
			if item.Speaker != "" {
				value += " (" + item.Speaker + ")"
			}
			fields = append(fields, field{fmt.Sprintf("Agenda %d", i+1), value})
		}
	}
	if plan := event.FinancialPlan; plan != nil {
		fields = append(fields, field{"Funding Source", plan.FundingSource})
		for _, line := range plan.Lines {
			fields = append(fields, field{"Budget: " + line.Item, strconv.FormatFloat(line.Amount, 'f', 2, 64)})
		}
		fields = append(fields, field{"Budget Total", strconv.FormatFloat(plan.Total(), 'f', 2, 64)})
	}
	if ft := event.FoodTravel; ft != nil {
		fields = append(fields, field{"Catering", ft.Catering}, field{"Travel", ft.Travel})
		if ft.Notes != "" {
			fields = append(fields, field{"Logistics Notes", ft.Notes})
		}
	}
	if checklist := event.Checklist; checklist != nil {
		done := 0
		for _, item := range checklist.Items {
			if item.Done {
				done++
			}
		}
		fields = append(fields, field{"Checklist", fmt.Sprintf("%d of %d done", done, len(checklist.Items))})
	}
	for _, role := range event.Approvals.Roles() {
		value := string(event.Approvals[role])
		if comment := event.Reviews[role]; comment != nil {
			value += ": " + *comment
		}
		fields = append(fields, field{role.Upper(), value})
	}

	rows := make([]map[string]string, 0, len(fields))
	for _, f := range fields {
		rows = append(rows, map[string]string{"Field": f.name, "Value": f.value})
	}
	return export.Dataset{
		Title:   event.Title(),
		Headers: []string{"Field", "Value"},
		Rows:    rows,
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(strings.ToLower(raw))
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
