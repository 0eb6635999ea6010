package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/event-approval-api/internal/dto"
	"github.com/noah-isme/event-approval-api/internal/middleware"
	"github.com/noah-isme/event-approval-api/internal/models"
	"github.com/noah-isme/event-approval-api/internal/service"
	appErrors "github.com/noah-isme/event-approval-api/pkg/errors"
)

type responseEnvelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *appErrors.Error       `json:"error"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

func decodeEnvelope(rec *httptest.ResponseRecorder) responseEnvelope {
	var envelope responseEnvelope
	_ = json.Unmarshal(rec.Body.Bytes(), &envelope)
	return envelope
}

func newTestContext(method, target, body string, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(method, target, bytes.NewReader([]byte(body)))
	if body != "" {
		c.Request.Header.Set("Content-Type", "application/json")
	}
	c.Request.Header.Set("User-Agent", "handler-test")
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, rec
}

var (
	facultyClaims   = &models.JWTClaims{UserID: "u-faculty", Role: models.RoleFaculty}
	hodClaims       = &models.JWTClaims{UserID: "u-hod", Role: models.RoleHOD}
	principalClaims = &models.JWTClaims{UserID: "u-principal", Role: models.RolePrincipal}
)

type fakeEventService struct {
	detail  *dto.EventDetail
	items   []dto.EventListItem
	summary *dto.EventSummary
	history []dto.EventHistoryEntry
	err     error
	actor   models.Actor
	meta    models.RequestMeta
	query   dto.EventListQuery
	create  dto.CreateEventRequest
	section string
	payload json.RawMessage
	deleted string
}

func (f *fakeEventService) Create(_ context.Context, actor models.Actor, req dto.CreateEventRequest, meta models.RequestMeta) (*dto.EventDetail, error) {
	f.actor, f.create, f.meta = actor, req, meta
	return f.detail, f.err
}

func (f *fakeEventService) Get(_ context.Context, _ string, actor models.Actor) (*dto.EventDetail, error) {
	f.actor = actor
	return f.detail, f.err
}

func (f *fakeEventService) UpdateSection(_ context.Context, _ string, section string, payload json.RawMessage, actor models.Actor, meta models.RequestMeta) (*dto.EventDetail, error) {
	f.section, f.payload, f.actor, f.meta = section, payload, actor, meta
	return f.detail, f.err
}

func (f *fakeEventService) Delete(_ context.Context, id string, actor models.Actor, _ models.RequestMeta) error {
	f.deleted, f.actor = id, actor
	return f.err
}

func (f *fakeEventService) List(_ context.Context, query dto.EventListQuery, actor models.Actor) ([]dto.EventListItem, *models.Pagination, error) {
	f.query, f.actor = query, actor
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.items, &models.Pagination{Page: 1, PageSize: 20, TotalCount: len(f.items)}, nil
}

func (f *fakeEventService) Summary(_ context.Context, actor models.Actor) (*dto.EventSummary, error) {
	f.actor = actor
	return f.summary, f.err
}

func (f *fakeEventService) History(_ context.Context, _ string, actor models.Actor) ([]dto.EventHistoryEntry, error) {
	f.actor = actor
	return f.history, f.err
}

type fakeApprovalService struct {
	detail    *dto.EventDetail
	approvers *dto.ApproversResponse
	actions   *dto.ActionsResponse
	err       error
	calls     []string
	roles     []string
	decision  dto.DecisionRequest
	review    dto.ReviewRequest
}

func (f *fakeApprovalService) RequestApproval(_ context.Context, _ string, req dto.RequestApprovalRequest, _ models.Actor, _ models.RequestMeta) (*dto.EventDetail, error) {
	f.calls = append(f.calls, "request")
	f.roles = req.Roles
	return f.detail, f.err
}

func (f *fakeApprovalService) CancelApproval(context.Context, string, models.Actor, models.RequestMeta) (*dto.EventDetail, error) {
	f.calls = append(f.calls, "cancel")
	return f.detail, f.err
}

func (f *fakeApprovalService) RecordDecision(_ context.Context, _ string, req dto.DecisionRequest, _ models.Actor, _ models.RequestMeta) (*dto.EventDetail, error) {
	f.calls = append(f.calls, "decision")
	f.decision = req
	return f.detail, f.err
}

func (f *fakeApprovalService) SendReview(_ context.Context, _ string, req dto.ReviewRequest, _ models.Actor, _ models.RequestMeta) (*dto.EventDetail, error) {
	f.calls = append(f.calls, "review")
	f.review = req
	return f.detail, f.err
}

func (f *fakeApprovalService) Approvers(context.Context, string, models.Actor) (*dto.ApproversResponse, error) {
	f.calls = append(f.calls, "approvers")
	return f.approvers, f.err
}

func (f *fakeApprovalService) Actions(context.Context, string, models.Actor) (*dto.ActionsResponse, error) {
	f.calls = append(f.calls, "actions")
	return f.actions, f.err
}

type fakeExportService struct {
	export   *service.EventExport
	job      *dto.ExportJobResponse
	status   *dto.ExportStatusResponse
	download *service.ExportDownload
	err      error
	format   string
	request  dto.ExportJobRequest
	token    string
}

func (f *fakeExportService) ExportEvent(_ context.Context, _ string, format string, _ models.Actor, _ models.RequestMeta) (*service.EventExport, error) {
	f.format = format
	return f.export, f.err
}

func (f *fakeExportService) CreateJob(_ context.Context, req dto.ExportJobRequest, _ models.Actor, _ models.RequestMeta) (*dto.ExportJobResponse, error) {
	f.request = req
	return f.job, f.err
}

func (f *fakeExportService) GetStatus(context.Context, string, models.Actor) (*dto.ExportStatusResponse, error) {
	return f.status, f.err
}

func (f *fakeExportService) ResolveDownload(_ context.Context, token string) (*service.ExportDownload, error) {
	f.token = token
	return f.download, f.err
}

type nopReadSeekCloser struct {
	*strings.Reader
}

func (nopReadSeekCloser) Close() error { return nil }
