package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/school-portal-api/internal/models"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

type mockUserRepo struct {
	items        map[string]*models.User
	emailIndex   map[string]string
	roles        map[string][]models.RoleName
	listResult   []models.User
	listTotal    int
	activated    map[string]bool
	revokedUsers []string
	auditLogs    []*models.AuditLog
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	return m.listResult, m.listTotal, nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.items[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if id, ok := m.emailIndex[email]; ok {
		return m.items[id], nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	if m.items == nil {
		m.items = make(map[string]*models.User)
	}
	cp := *user
	m.items[user.ID] = &cp
	return nil
}

func (m *mockUserRepo) Update(ctx context.Context, user *models.User) error {
	cp := *user
	m.items[user.ID] = &cp
	return nil
}

func (m *mockUserRepo) SetActive(ctx context.Context, id string, active bool) error {
	if m.activated == nil {
		m.activated = make(map[string]bool)
	}
	m.activated[id] = active
	if u, ok := m.items[id]; ok {
		u.Active = active
	}
	return nil
}

func (m *mockUserRepo) AssignRole(ctx context.Context, userID string, role models.RoleName) error {
	if m.roles == nil {
		m.roles = make(map[string][]models.RoleName)
	}
	m.roles[userID] = append(m.roles[userID], role)
	return nil
}

func (m *mockUserRepo) RemoveRole(ctx context.Context, userID string, role models.RoleName) error {
	current := m.roles[userID]
	for i, r := range current {
		if r == role {
			m.roles[userID] = append(current[:i], current[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockUserRepo) ListRoles(ctx context.Context, userID string) ([]models.RoleName, error) {
	return m.roles[userID], nil
}

func (m *mockUserRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revokedUsers = append(m.revokedUsers, userID)
	return nil
}

func (m *mockUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func TestUserApprove(t *testing.T) {
	repo := &mockUserRepo{items: map[string]*models.User{
		"u1": {ID: "u1", Email: "pending@example.com", Active: false},
	}}
	svc := NewUserService(repo, NewValidator(), zap.NewNop())

	user, err := svc.Approve(context.Background(), "u1", ApproveUserRequest{Role: "teacher"}, "admin-1", AuditMeta{})
	require.NoError(t, err)
	assert.True(t, user.Active)
	assert.Contains(t, user.Roles, models.RoleTeacher)
	assert.True(t, repo.activated["u1"])
	assert.Equal(t, []models.RoleName{models.RoleTeacher}, repo.roles["u1"])
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserApprove, repo.auditLogs[0].Action)
}

func TestUserApproveAlreadyActive(t *testing.T) {
	repo := &mockUserRepo{items: map[string]*models.User{
		"u1": {ID: "u1", Active: true},
	}}
	svc := NewUserService(repo, NewValidator(), zap.NewNop())

	_, err := svc.Approve(context.Background(), "u1", ApproveUserRequest{Role: "teacher"}, "admin-1", AuditMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUserCreateWithRole(t *testing.T) {
	repo := &mockUserRepo{}
	svc := NewUserService(repo, NewValidator(), zap.NewNop())

	user, err := svc.Create(context.Background(), CreateUserRequest{
		Email:    "Staff@Example.com",
		FullName: "Staff Member",
		Role:     "office_member",
		Active:   true,
		Password: "secret1",
	}, "admin-1", AuditMeta{})
	require.NoError(t, err)
	assert.Equal(t, "staff@example.com", user.Email)
	assert.Equal(t, []models.RoleName{models.RoleOfficeMember}, user.Roles)
	assert.NotEmpty(t, user.PasswordHash)
}

func TestUserCreateDuplicateEmail(t *testing.T) {
	repo := &mockUserRepo{
		items:      map[string]*models.User{"u1": {ID: "u1", Email: "x@example.com"}},
		emailIndex: map[string]string{"x@example.com": "u1"},
	}
	svc := NewUserService(repo, NewValidator(), zap.NewNop())

	_, err := svc.Create(context.Background(), CreateUserRequest{
		Email: "x@example.com", FullName: "X", Role: "viewer", Password: "secret1",
	}, "admin-1", AuditMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUserCreateUnknownRole(t *testing.T) {
	svc := NewUserService(&mockUserRepo{}, NewValidator(), zap.NewNop())

	_, err := svc.Create(context.Background(), CreateUserRequest{
		Email: "x@example.com", FullName: "X", Role: "principal", Password: "secret1",
	}, "admin-1", AuditMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserAssignAndRemoveRole(t *testing.T) {
	repo := &mockUserRepo{items: map[string]*models.User{"u1": {ID: "u1", Active: true}}}
	svc := NewUserService(repo, NewValidator(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, svc.AssignRole(ctx, "u1", models.RoleViewer, "admin-1", AuditMeta{}))
	assert.Equal(t, []models.RoleName{models.RoleViewer}, repo.roles["u1"])

	require.NoError(t, svc.RemoveRole(ctx, "u1", models.RoleViewer, "admin-1", AuditMeta{}))
	assert.Empty(t, repo.roles["u1"])

	err := svc.RemoveRole(ctx, "u1", models.RoleViewer, "admin-1", AuditMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	err = svc.AssignRole(ctx, "u1", models.RoleName("principal"), "admin-1", AuditMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserDeactivateRevokesSessions(t *testing.T) {
	repo := &mockUserRepo{items: map[string]*models.User{"u1": {ID: "u1", Active: true}}}
	svc := NewUserService(repo, NewValidator(), zap.NewNop())

	require.NoError(t, svc.Deactivate(context.Background(), "u1", "admin-1", AuditMeta{}))
	assert.False(t, repo.activated["u1"])
	assert.Equal(t, []string{"u1"}, repo.revokedUsers)
}

func TestUserGetNotFound(t *testing.T) {
	svc := NewUserService(&mockUserRepo{}, NewValidator(), zap.NewNop())

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
