package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/event-approval-api/internal/models"
	"github.com/noah-isme/event-approval-api/internal/service"
	appErrors "github.com/noah-isme/event-approval-api/pkg/errors"
)

type fakeAuthService struct {
	login    *models.LoginResponse
	info     *models.UserInfo
	err      error
	lastReq  models.LoginRequest
	changed  models.ChangePasswordRequest
	changeBy string
}

func (f *fakeAuthService) Login(_ context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	f.lastReq = req
	return f.login, f.err
}

func (f *fakeAuthService) Me(_ context.Context, _ string) (*models.UserInfo, error) {
	return f.info, f.err
}

func (f *fakeAuthService) ChangePassword(_ context.Context, userID string, req models.ChangePasswordRequest, _ models.RequestMeta) error {
	f.changeBy, f.changed = userID, req
	return f.err
}

func (f *fakeAuthService) ValidateToken(token string) (*models.JWTClaims, error) {
	switch token {
	case "faculty-token":
		return facultyClaims, nil
	case "hod-token":
		return hodClaims, nil
	case "principal-token":
		return principalClaims, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
}

type fakeUserService struct {
	users   []models.User
	err     error
	filter  models.UserFilter
	created service.CreateUserRequest
	actorID string
}

func (f *fakeUserService) List(_ context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	f.filter = filter
	return f.users, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: len(f.users)}, f.err
}

func (f *fakeUserService) Get(_ context.Context, id string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.User{ID: id}, nil
}

func (f *fakeUserService) Create(_ context.Context, req service.CreateUserRequest, actorID string, _ models.RequestMeta) (*models.User, error) {
	f.created, f.actorID = req, actorID
	if f.err != nil {
		return nil, f.err
	}
	return &models.User{ID: "u-new", Email: req.Email, Role: req.Role}, nil
}

func (f *fakeUserService) Update(_ context.Context, id string, _ service.UpdateUserRequest, actorID string, _ models.RequestMeta) (*models.User, error) {
	f.actorID = actorID
	return &models.User{ID: id}, f.err
}

func (f *fakeUserService) Delete(_ context.Context, _ string, actorID string, _ models.RequestMeta) error {
	f.actorID = actorID
	return f.err
}

func TestAuthHandlerLogin(t *testing.T) {
	svc := &fakeAuthService{login: &models.LoginResponse{AccessToken: "token", TokenType: "Bearer"}}
	handler := NewAuthHandler(svc)

	c, rec := newTestContext(http.MethodPost, "/auth/login", `{"email":"hod@college.edu","password":"secret123"}`, nil)
	handler.Login(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hod@college.edu", svc.lastReq.Email)
	assert.Equal(t, "handler-test", svc.lastReq.UserAgent)
	assert.Contains(t, rec.Body.String(), `"access_token":"token"`)
}

func TestAuthHandlerLoginInvalidCredentials(t *testing.T) {
	handler := NewAuthHandler(&fakeAuthService{err: appErrors.ErrInvalidCredentials})

	c, rec := newTestContext(http.MethodPost, "/auth/login", `{"email":"hod@college.edu","password":"nope"}`, nil)
	handler.Login(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, decodeEnvelope(rec).Error.Code)
}

func TestAuthHandlerMeAndChangePassword(t *testing.T) {
	svc := &fakeAuthService{info: &models.UserInfo{ID: "u-hod", Role: models.RoleHOD}}
	handler := NewAuthHandler(svc)

	c, rec := newTestContext(http.MethodGet, "/auth/me", "", hodClaims)
	handler.Me(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"hod"`)

	c, rec = newTestContext(http.MethodPost, "/auth/change-password", `{"old_password":"secret123","new_password":"secret456"}`, hodClaims)
	handler.ChangePassword(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u-hod", svc.changeBy)
	assert.Equal(t, "secret456", svc.changed.NewPassword)
}

func TestUserHandlerListParsesFilters(t *testing.T) {
	svc := &fakeUserService{users: []models.User{{ID: "u1"}}}
	handler := NewUserHandler(svc)

	c, rec := newTestContext(http.MethodGet, "/users?role=HOD&active=true&page=2", "", principalClaims)
	handler.List(c)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.filter.Role)
	assert.Equal(t, models.RoleHOD, *svc.filter.Role)
	require.NotNil(t, svc.filter.Active)
	assert.True(t, *svc.filter.Active)
	assert.Equal(t, 2, svc.filter.Page)
}

func TestUserHandlerListUnknownRole(t *testing.T) {
	handler := NewUserHandler(&fakeUserService{})

	c, rec := newTestContext(http.MethodGet, "/users?role=admin", "", principalClaims)
	handler.List(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserHandlerListMalformedActive(t *testing.T) {
	svc := &fakeUserService{}
	handler := NewUserHandler(svc)

	c, rec := newTestContext(http.MethodGet, "/users?active=maybe&search=+ann+", "", principalClaims)
	handler.List(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.filter.Active)
}

func TestUserHandlerCreate(t *testing.T) {
	svc := &fakeUserService{}
	handler := NewUserHandler(svc)

	c, rec := newTestContext(http.MethodPost, "/users", `{"email":"cso@college.edu","full_name":"Chief","role":"cso","password":"longenough"}`, principalClaims)
	handler.Create(c)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "u-principal", svc.actorID)
	assert.Equal(t, models.RoleCSO, svc.created.Role)
}
