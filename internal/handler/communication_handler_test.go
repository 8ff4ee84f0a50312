package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/school-portal-api/internal/middleware"
	"github.com/noah-isme/school-portal-api/internal/models"
	"github.com/noah-isme/school-portal-api/internal/service"
)

type stubCommRepo struct {
	items map[int64]*models.Communication
}

func (m *stubCommRepo) List(ctx context.Context, filter models.CommunicationFilter) ([]models.Communication, int, error) {
	return nil, 0, nil
}

func (m *stubCommRepo) GetByID(ctx context.Context, id int64) (*models.Communication, error) {
	if comm, ok := m.items[id]; ok {
		cp := *comm
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *stubCommRepo) Create(ctx context.Context, comm *models.Communication) error {
	comm.ID = 1
	return nil
}

func (m *stubCommRepo) Update(ctx context.Context, comm *models.Communication) error { return nil }

func (m *stubCommRepo) UpdateStatus(ctx context.Context, id int64, status models.Status, publishedAt *time.Time) error {
	comm, ok := m.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	comm.Status = status
	comm.PublishedAt = publishedAt
	return nil
}

func (m *stubCommRepo) UpdatePriority(ctx context.Context, id int64, priority models.Priority) error {
	if _, ok := m.items[id]; !ok {
		return sql.ErrNoRows
	}
	m.items[id].Priority = priority
	return nil
}

func (m *stubCommRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := m.items[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.items, id)
	return nil
}

func newBulkHandler(repo *stubCommRepo) *CommunicationHandler {
	comms := service.NewCommunicationService(repo, nil, nil, service.NewAuthzService(), service.NewValidator(), zap.NewNop(), 0)
	bulk := service.NewBulkService(repo, nil, nil, service.NewAuthzService(), service.NewValidator(), zap.NewNop(), 100)
	return NewCommunicationHandler(comms, bulk, service.NewMetricsService())
}

func bulkContext(t *testing.T, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/communications/bulk", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Roles: []models.RoleName{models.RoleAdmin}})
	return c, w
}

func TestBulkHandlerFullSuccessIs200(t *testing.T) {
	repo := &stubCommRepo{items: map[int64]*models.Communication{
		1: {ID: 1, Status: models.StatusDraft},
		2: {ID: 2, Status: models.StatusDraft},
	}}
	handler := newBulkHandler(repo)

	c, w := bulkContext(t, models.BulkRequest{Action: "publish", IDs: []int64{1, 2}})
	handler.Bulk(c)

	require.Equal(t, http.StatusOK, w.Code)
	var envelope struct {
		Data models.BulkResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, 2, envelope.Data.TotalSuccess)
	assert.Zero(t, envelope.Data.TotalFailed)
}

func TestBulkHandlerPartialFailureIs207(t *testing.T) {
	repo := &stubCommRepo{items: map[int64]*models.Communication{
		1: {ID: 1, Status: models.StatusDraft},
	}}
	handler := newBulkHandler(repo)

	c, w := bulkContext(t, models.BulkRequest{Action: "publish", IDs: []int64{1, 9}})
	handler.Bulk(c)

	require.Equal(t, http.StatusMultiStatus, w.Code)
	var envelope struct {
		Data models.BulkResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, 1, envelope.Data.TotalSuccess)
	assert.Equal(t, 1, envelope.Data.TotalFailed)
	require.Len(t, envelope.Data.Results.Failed, 1)
	assert.Equal(t, int64(9), envelope.Data.Results.Failed[0].ID)
}

func TestBulkHandlerFullFailureIs500WithItemizedBody(t *testing.T) {
	repo := &stubCommRepo{items: map[int64]*models.Communication{}}
	handler := newBulkHandler(repo)

	c, w := bulkContext(t, models.BulkRequest{Action: "delete", IDs: []int64{7, 8}})
	handler.Bulk(c)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var envelope struct {
		Data  models.BulkResult `json:"data"`
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, 2, envelope.Data.TotalFailed)
	require.NotNil(t, envelope.Error)
}

func TestBulkHandlerRequestLevelRejectionIs400(t *testing.T) {
	handler := newBulkHandler(&stubCommRepo{})

	c, w := bulkContext(t, models.BulkRequest{Action: "promote", IDs: []int64{1}})
	handler.Bulk(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBulkHandlerNonPrivilegedIs403(t *testing.T) {
	handler := newBulkHandler(&stubCommRepo{})

	c, w := bulkContext(t, models.BulkRequest{Action: "publish", IDs: []int64{1}})
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "t1", Roles: []models.RoleName{models.RoleTeacher}})
	handler.Bulk(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCommunicationHandlerTransition(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &stubCommRepo{items: map[int64]*models.Communication{
		1: {ID: 1, Status: models.StatusDraft, TargetAudience: models.AudienceAll, AuthorID: "admin"},
	}}
	handler := newBulkHandler(repo)

	payload, _ := json.Marshal(map[string]string{"status": "published"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPatch, "/communications/1/status", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Roles: []models.RoleName{models.RoleAdmin}})

	handler.Transition(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data models.Communication `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, models.StatusPublished, envelope.Data.Status)
	assert.NotNil(t, envelope.Data.PublishedAt)
}

func TestCommunicationHandlerBadID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newBulkHandler(&stubCommRepo{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/communications/abc", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "abc"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Roles: []models.RoleName{models.RoleAdmin}})

	handler.Get(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
