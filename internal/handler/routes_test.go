package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/event-approval-api/internal/dto"
	"github.com/noah-isme/event-approval-api/internal/models"
	"github.com/noah-isme/event-approval-api/internal/service"
)

type memoryAuditWriter struct {
	logs []models.AuditLog
}

func (m *memoryAuditWriter) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, *log)
	return nil
}

type routeFixture struct {
	router    *gin.Engine
	events    *fakeEventService
	approvals *fakeApprovalService
	exports   *fakeExportService
	audit     *memoryAuditWriter
}

func buildRouter(t *testing.T) routeFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	auth := &fakeAuthService{info: &models.UserInfo{ID: "u-faculty"}}
	fx := routeFixture{
		router:    gin.New(),
		events:    &fakeEventService{detail: &dto.EventDetail{Event: models.Event{ID: "e1"}}, summary: &dto.EventSummary{}},
		approvals: &fakeApprovalService{detail: &dto.EventDetail{}},
		exports: &fakeExportService{download: &service.ExportDownload{
			Content:     nopReadSeekCloser{strings.NewReader("id\n")},
			Filename:    "register.csv",
			ContentType: "text/csv",
		}},
		audit: &memoryAuditWriter{},
	}

	Routes{
		Auth:      NewAuthHandler(auth),
		Users:     NewUserHandler(&fakeUserService{}),
		Events:    NewEventHandler(fx.events),
		Approvals: NewApprovalHandler(fx.approvals),
		Exports:   NewExportHandler(fx.exports, fx.exports),
		Metrics:   NewMetricsHandler(service.NewMetricsService(), nil),
		Tokens:    auth,
		Audit:     fx.audit,
	}.Register(fx.router, "/api/v1")
	return fx
}

func (fx routeFixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func TestRoutesRequireToken(t *testing.T) {
	fx := buildRouter(t)

	assert.Equal(t, http.StatusUnauthorized, fx.do(http.MethodGet, "/api/v1/events", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, fx.do(http.MethodGet, "/api/v1/events", "forged", "").Code)
	assert.Equal(t, http.StatusOK, fx.do(http.MethodGet, "/api/v1/events", "faculty-token", "").Code)
}

func TestRoutesSummaryIsNotAnEventID(t *testing.T) {
	fx := buildRouter(t)

	rec := fx.do(http.MethodGet, "/api/v1/events/summary", "hod-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"awaiting_decision"`)
	assert.Equal(t, models.RoleHOD, fx.events.actor.Role)
}

func TestRoutesUserAdminRestricted(t *testing.T) {
	fx := buildRouter(t)

	assert.Equal(t, http.StatusForbidden, fx.do(http.MethodGet, "/api/v1/users", "hod-token", "").Code)
	assert.Equal(t, http.StatusOK, fx.do(http.MethodGet, "/api/v1/users", "principal-token", "").Code)
}

func TestRoutesApprovalFlow(t *testing.T) {
	fx := buildRouter(t)

	require.Equal(t, http.StatusOK, fx.do(http.MethodPost, "/api/v1/events/e1/approval", "faculty-token", `{"roles":["hod"]}`).Code)
	require.Equal(t, http.StatusOK, fx.do(http.MethodPost, "/api/v1/events/e1/decision", "hod-token", `{"decision":"approved"}`).Code)
	require.Equal(t, http.StatusOK, fx.do(http.MethodDelete, "/api/v1/events/e1/approval", "faculty-token", "").Code)
	assert.Equal(t, []string{"request", "decision", "cancel"}, fx.approvals.calls)
}

func TestRoutesEmptySuccessReturnsNoContent(t *testing.T) {
	fx := buildRouter(t)

	rec := fx.do(http.MethodDelete, "/api/v1/events/e1", "faculty-token", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "e1", fx.events.deleted)

	rec = fx.do(http.MethodPost, "/api/v1/auth/change-password", "hod-token", `{"old_password":"secret123","new_password":"secret456"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRoutesDownloadIsPublicAndAudited(t *testing.T) {
	fx := buildRouter(t)

	rec := fx.do(http.MethodGet, "/api/v1/export/job-9.1.cGF0aA.sig", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "id\n", rec.Body.String())
	require.Len(t, fx.audit.logs, 1)
	assert.Equal(t, models.AuditActionDownload, fx.audit.logs[0].Action)
	require.NotNil(t, fx.audit.logs[0].ResourceID)
	assert.Equal(t, "job-9", *fx.audit.logs[0].ResourceID)
	assert.Nil(t, fx.audit.logs[0].UserID)
}

func TestRoutesHealthAndMetrics(t *testing.T) {
	fx := buildRouter(t)

	assert.Equal(t, http.StatusOK, fx.do(http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, fx.do(http.MethodGet, "/ready", "", "").Code)
	fx.do(http.MethodGet, "/api/v1/events", "faculty-token", "")
	rec := fx.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
}
