package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/school-portal-api/internal/models"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

type statusWrite struct {
	id          int64
	status      models.Status
	publishedAt *time.Time
}

type mockCommRepo struct {
	items          map[int64]*models.Communication
	nextID         int64
	listResult     []models.Communication
	listTotal      int
	listErr        error
	lastFilter     models.CommunicationFilter
	statusWrites   []statusWrite
	priorityWrites map[int64]models.Priority
	deleted        []int64
	failIDs        map[int64]error
}

func (m *mockCommRepo) List(ctx context.Context, filter models.CommunicationFilter) ([]models.Communication, int, error) {
	m.lastFilter = filter
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	return m.listResult, m.listTotal, nil
}

func (m *mockCommRepo) GetByID(ctx context.Context, id int64) (*models.Communication, error) {
	if err, ok := m.failIDs[id]; ok {
		return nil, err
	}
	if comm, ok := m.items[id]; ok {
		cp := *comm
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCommRepo) Create(ctx context.Context, comm *models.Communication) error {
	if m.items == nil {
		m.items = make(map[int64]*models.Communication)
	}
	m.nextID++
	comm.ID = m.nextID
	now := time.Now()
	comm.CreatedAt = now
	comm.UpdatedAt = now
	cp := *comm
	m.items[comm.ID] = &cp
	return nil
}

func (m *mockCommRepo) Update(ctx context.Context, comm *models.Communication) error {
	if _, ok := m.items[comm.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *comm
	m.items[comm.ID] = &cp
	return nil
}

func (m *mockCommRepo) UpdateStatus(ctx context.Context, id int64, status models.Status, publishedAt *time.Time) error {
	if err, ok := m.failIDs[id]; ok {
		return err
	}
	comm, ok := m.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	comm.Status = status
	comm.PublishedAt = publishedAt
	m.statusWrites = append(m.statusWrites, statusWrite{id: id, status: status, publishedAt: publishedAt})
	return nil
}

func (m *mockCommRepo) UpdatePriority(ctx context.Context, id int64, priority models.Priority) error {
	if err, ok := m.failIDs[id]; ok {
		return err
	}
	comm, ok := m.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	comm.Priority = priority
	if m.priorityWrites == nil {
		m.priorityWrites = make(map[int64]models.Priority)
	}
	m.priorityWrites[id] = priority
	return nil
}

func (m *mockCommRepo) Delete(ctx context.Context, id int64) error {
	if err, ok := m.failIDs[id]; ok {
		return err
	}
	if _, ok := m.items[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.items, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type mockListingCache struct {
	store      map[string][]byte
	getErr     error
	setCalls   int
	invalidate int
}

func (m *mockListingCache) Get(ctx context.Context, key string, dest interface{}) error {
	if m.getErr != nil {
		return m.getErr
	}
	return appErrors.ErrCacheMiss
}

func (m *mockListingCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.setCalls++
	return nil
}

func (m *mockListingCache) DeleteByPattern(ctx context.Context, pattern string) error {
	m.invalidate++
	return nil
}

type mockAudit struct {
	logs []*models.AuditLog
}

func (m *mockAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func newCommService(repo *mockCommRepo, audit auditRecorder) *CommunicationService {
	svc := NewCommunicationService(repo, nil, audit, NewAuthzService(), NewValidator(), zap.NewNop(), 0)
	svc.now = fixedNow
	return svc
}

func TestCommunicationCreateDraftDefaults(t *testing.T) {
	repo := &mockCommRepo{}
	audit := &mockAudit{}
	svc := newCommService(repo, audit)

	comm, err := svc.Create(context.Background(), identityWith(models.RoleAdmin), CreateCommunicationRequest{
		Type:           "announcement",
		Title:          "Term dates",
		Content:        "Term starts on Monday.",
		TargetAudience: "all",
	}, AuditMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, comm.Status)
	assert.Equal(t, models.PriorityMedium, comm.Priority)
	assert.Nil(t, comm.PublishedAt)
	assert.Equal(t, "u1", comm.AuthorID)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionCommCreate, audit.logs[0].Action)
}

func TestCommunicationCreateDirectPublishStampsPublishedAt(t *testing.T) {
	repo := &mockCommRepo{}
	svc := newCommService(repo, nil)

	comm, err := svc.Create(context.Background(), identityWith(models.RoleOfficeMember), CreateCommunicationRequest{
		Type:           "announcement",
		Title:          "Snow day",
		Content:        "School closed tomorrow.",
		TargetAudience: "all",
		Status:         "published",
	}, AuditMeta{})
	require.NoError(t, err)
	require.NotNil(t, comm.PublishedAt)
	assert.Equal(t, fixedNow(), *comm.PublishedAt)
}

func TestCommunicationCreateTypedFieldValidation(t *testing.T) {
	svc := newCommService(&mockCommRepo{}, nil)
	admin := identityWith(models.RoleAdmin)
	board := "general"
	due := fixedNow().Add(48 * time.Hour)

	tests := []struct {
		name string
		req  CreateCommunicationRequest
	}{
		{"critical announcement", CreateCommunicationRequest{
			Type: "announcement", Title: "t", Content: "c", TargetAudience: "all", Priority: "critical",
		}},
		{"critical newsletter", CreateCommunicationRequest{
			Type: "newsletter", Title: "t", Content: "c", TargetAudience: "all", Priority: "critical",
		}},
		{"board fields on announcement", CreateCommunicationRequest{
			Type: "announcement", Title: "t", Content: "c", TargetAudience: "all", BoardType: &board,
		}},
		{"reminder fields on message", CreateCommunicationRequest{
			Type: "message", Title: "t", Content: "c", TargetAudience: "all", DueDate: &due,
		}},
		{"board fields on reminder", CreateCommunicationRequest{
			Type: "reminder", Title: "t", Content: "c", TargetAudience: "all", BoardType: &board,
		}},
		{"blank title", CreateCommunicationRequest{
			Type: "announcement", Title: "   ", Content: "c", TargetAudience: "all",
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), admin, tc.req, AuditMeta{})
			require.Error(t, err)
			appErr := appErrors.FromError(err)
			assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
		})
	}
}

func TestCommunicationCreateCriticalReminderAllowed(t *testing.T) {
	svc := newCommService(&mockCommRepo{}, nil)

	comm, err := svc.Create(context.Background(), identityWith(models.RoleAdmin), CreateCommunicationRequest{
		Type:           "reminder",
		Title:          "Fire drill",
		Content:        "Evacuate at 10am.",
		TargetAudience: "all",
		Priority:       "critical",
	}, AuditMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityCritical, comm.Priority)
}

func TestCommunicationCreateBoardTypeDefaulted(t *testing.T) {
	svc := newCommService(&mockCommRepo{}, nil)

	comm, err := svc.Create(context.Background(), identityWith(models.RoleAdmin), CreateCommunicationRequest{
		Type:           "message_board",
		Title:          "Lost scarf",
		Content:        "Found a scarf in the gym.",
		TargetAudience: "all",
	}, AuditMeta{})
	require.NoError(t, err)
	require.NotNil(t, comm.BoardType)
	assert.Equal(t, models.BoardGeneral, *comm.BoardType)
}

func TestCommunicationCreateExpiryBeforePublish(t *testing.T) {
	svc := newCommService(&mockCommRepo{}, nil)
	past := fixedNow().Add(-time.Hour)

	_, err := svc.Create(context.Background(), identityWith(models.RoleAdmin), CreateCommunicationRequest{
		Type:           "announcement",
		Title:          "Old news",
		Content:        "c",
		TargetAudience: "all",
		Status:         "published",
		ExpiresAt:      &past,
	}, AuditMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCommunicationTransitionLifecycle(t *testing.T) {
	repo := &mockCommRepo{items: map[int64]*models.Communication{
		1: {ID: 1, Type: models.CommunicationAnnouncement, Title: "t", Content: "c",
			TargetAudience: models.AudienceAll, Status: models.StatusDraft, AuthorID: "u1"},
	}}
	svc := newCommService(repo, nil)
	admin := identityWith(models.RoleAdmin)
	ctx := context.Background()

	// draft -> published stamps published_at in the status write.
	comm, err := svc.Transition(ctx, admin, 1, models.StatusPublished, AuditMeta{})
	require.NoError(t, err)
	require.NotNil(t, comm.PublishedAt)
	assert.Equal(t, fixedNow(), *comm.PublishedAt)
	require.Len(t, repo.statusWrites, 1)
	assert.Equal(t, models.StatusPublished, repo.statusWrites[0].status)
	require.NotNil(t, repo.statusWrites[0].publishedAt)

	// published -> draft clears it.
	comm, err = svc.Transition(ctx, admin, 1, models.StatusDraft, AuditMeta{})
	require.NoError(t, err)
	assert.Nil(t, comm.PublishedAt)

	// republish then archive freezes the original timestamp.
	comm, err = svc.Transition(ctx, admin, 1, models.StatusPublished, AuditMeta{})
	require.NoError(t, err)
	stamped := *comm.PublishedAt
	comm, err = svc.Transition(ctx, admin, 1, models.StatusArchived, AuditMeta{})
	require.NoError(t, err)
	require.NotNil(t, comm.PublishedAt)
	assert.Equal(t, stamped, *comm.PublishedAt)

	// archived is terminal.
	for _, target := range []models.Status{models.StatusDraft, models.StatusPublished} {
		_, err := svc.Transition(ctx, admin, 1, target, AuditMeta{})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
	}
}

func TestCommunicationTransitionSelfIsInvalid(t *testing.T) {
	repo := &mockCommRepo{items: map[int64]*models.Communication{
		1: {ID: 1, Type: models.CommunicationAnnouncement, Status: models.StatusDraft, TargetAudience: models.AudienceAll, AuthorID: "u1"},
	}}
	svc := newCommService(repo, nil)

	_, err := svc.Transition(context.Background(), identityWith(models.RoleAdmin), 1, models.StatusDraft, AuditMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestCommunicationRepublishKeepsOriginalTimestamp(t *testing.T) {
	stamp := fixedNow().Add(-72 * time.Hour)
	repo := &mockCommRepo{items: map[int64]*models.Communication{
		1: {ID: 1, Type: models.CommunicationAnnouncement, Status: models.StatusDraft,
			TargetAudience: models.AudienceAll, AuthorID: "u1", PublishedAt: &stamp},
	}}
	svc := newCommService(repo, nil)

	comm, err := svc.Transition(context.Background(), identityWith(models.RoleAdmin), 1, models.StatusPublished, AuditMeta{})
	require.NoError(t, err)
	require.NotNil(t, comm.PublishedAt)
	assert.Equal(t, stamp, *comm.PublishedAt)
}

func TestCommunicationDeleteRequiresPrivilegedTier(t *testing.T) {
	repo := &mockCommRepo{items: map[int64]*models.Communication{
		1: {ID: 1, Type: models.CommunicationMessage, Status: models.StatusPublished,
			TargetAudience: models.AudienceTeachers, AuthorID: "u1"},
	}}
	svc := newCommService(repo, nil)

	err := svc.Delete(context.Background(), identityWith(models.RoleTeacher), 1, AuditMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	err = svc.Delete(context.Background(), identityWith(models.RoleOfficeMember), 1, AuditMeta{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, repo.deleted)
}

func TestCommunicationUpdateByNonAuthorDenied(t *testing.T) {
	repo := &mockCommRepo{items: map[int64]*models.Communication{
		1: {ID: 1, Type: models.CommunicationMessage, Status: models.StatusPublished,
			TargetAudience: models.AudienceTeachers, AuthorID: "someone-else"},
	}}
	svc := newCommService(repo, nil)

	_, err := svc.Update(context.Background(), identityWith(models.RoleTeacher), 1, UpdateCommunicationRequest{
		Title: "t", Content: "c", TargetAudience: "teachers",
	}, AuditMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotOwner.Code, appErrors.FromError(err).Code)
}

func TestCommunicationGetNotFound(t *testing.T) {
	svc := newCommService(&mockCommRepo{}, nil)

	_, err := svc.Get(context.Background(), identityWith(models.RoleAdmin), 99)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCommunicationListNonPrivilegedForcedView(t *testing.T) {
	repo := &mockCommRepo{listResult: []models.Communication{}, listTotal: 0}
	svc := newCommService(repo, nil)

	_, _, err := svc.List(context.Background(), identityWith(models.RoleTeacher), ListCommunicationsRequest{
		Status:         "draft",
		IncludeExpired: true,
	})
	require.NoError(t, err)
	require.NotNil(t, repo.lastFilter.Status)
	assert.Equal(t, models.StatusPublished, *repo.lastFilter.Status)
	assert.False(t, repo.lastFilter.IncludeExpired)
	assert.ElementsMatch(t, []models.Audience{models.AudienceTeachers, models.AudienceAll}, repo.lastFilter.Audiences)
}

func TestCommunicationListAudienceOutsideImpliedSetIsEmpty(t *testing.T) {
	repo := &mockCommRepo{listResult: []models.Communication{{ID: 1}}, listTotal: 1}
	svc := newCommService(repo, nil)

	rows, pagination, err := svc.List(context.Background(), identityWith(models.RoleParent), ListCommunicationsRequest{
		Audience: "teachers",
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
	require.NotNil(t, pagination)
	assert.Zero(t, pagination.TotalCount)
}

func TestCommunicationListPrivilegedKeepsFilters(t *testing.T) {
	repo := &mockCommRepo{}
	svc := newCommService(repo, nil)

	_, _, err := svc.List(context.Background(), identityWith(models.RoleAdmin), ListCommunicationsRequest{
		Status:         "draft",
		Audience:       "teachers",
		IncludeExpired: true,
	})
	require.NoError(t, err)
	require.NotNil(t, repo.lastFilter.Status)
	assert.Equal(t, models.StatusDraft, *repo.lastFilter.Status)
	assert.True(t, repo.lastFilter.IncludeExpired)
	assert.Equal(t, []models.Audience{models.AudienceTeachers}, repo.lastFilter.Audiences)
}

func TestCommunicationMutationsInvalidateListingCache(t *testing.T) {
	repo := &mockCommRepo{}
	cache := &mockListingCache{}
	svc := NewCommunicationService(repo, cache, nil, NewAuthzService(), NewValidator(), zap.NewNop(), time.Minute)
	svc.now = fixedNow

	_, err := svc.Create(context.Background(), identityWith(models.RoleAdmin), CreateCommunicationRequest{
		Type: "announcement", Title: "t", Content: "c", TargetAudience: "all",
	}, AuditMeta{})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.invalidate)
}
