package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/school-portal-api/internal/models"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

type mockAuthRepo struct {
	userByEmail      *models.User
	userByID         *models.User
	findByEmailErr   error
	created          []*models.User
	refreshTokens    map[string]*models.RefreshToken
	revokedUserIDs   []string
	auditLogs        []*models.AuditLog
	lastLoginUpdated bool
	passwordUpdated  string
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	if m.userByEmail == nil {
		return nil, sql.ErrNoRows
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.userByID != nil {
		return m.userByID, nil
	}
	if m.userByEmail != nil {
		return m.userByEmail, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) Create(ctx context.Context, user *models.User) error {
	m.created = append(m.created, user)
	return nil
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	m.passwordUpdated = passwordHash
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revokedUserIDs = append(m.revokedUserIDs, userID)
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.refreshTokens == nil {
		m.refreshTokens = make(map[string]*models.RefreshToken)
	}
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range m.refreshTokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func testAuthConfig() AuthConfig {
	return AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "school-portal",
	}
}

func TestAuthRegisterCreatesInactiveAccount(t *testing.T) {
	repo := &mockAuthRepo{}
	svc := NewAuthService(repo, NewValidator(), zap.NewNop(), testAuthConfig())

	user, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "new@example.com",
		FullName: "New User",
		Password: "secret1",
	})
	require.NoError(t, err)
	assert.False(t, user.Active)
	assert.Empty(t, user.Roles)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserRegister, repo.auditLogs[0].Action)
}

func TestAuthRegisterDuplicateEmail(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", Email: "new@example.com"}}
	svc := NewAuthService(repo, NewValidator(), zap.NewNop(), testAuthConfig())

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "new@example.com",
		FullName: "New User",
		Password: "secret1",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAuthLoginSuccess(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := &mockAuthRepo{userByEmail: &models.User{
		ID: "u1", Email: "user@example.com", PasswordHash: string(hash), Active: true,
		Roles: []models.RoleName{models.RoleTeacher},
	}}
	svc := NewAuthService(repo, NewValidator(), zap.NewNop(), testAuthConfig())

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, []models.RoleName{models.RoleTeacher}, res.User.Roles)
	assert.True(t, repo.lastLoginUpdated)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, []models.RoleName{models.RoleTeacher}, claims.Roles)
}

func TestAuthLoginInactiveAccount(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", Email: "user@example.com", PasswordHash: string(hash), Active: false}}
	svc := NewAuthService(repo, NewValidator(), zap.NewNop(), testAuthConfig())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthLoginWrongPassword(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", Email: "user@example.com", PasswordHash: string(hash), Active: true}}
	svc := NewAuthService(repo, NewValidator(), zap.NewNop(), testAuthConfig())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "nope"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthRefreshRotatesToken(t *testing.T) {
	user := &models.User{ID: "u1", Email: "user@example.com", Active: true, Roles: []models.RoleName{models.RoleAdmin}}
	repo := &mockAuthRepo{
		userByID: user,
		refreshTokens: map[string]*models.RefreshToken{
			"old-token": {ID: "rt1", UserID: "u1", Token: "old-token", ExpiresAt: time.Now().Add(time.Hour)},
		},
	}
	svc := NewAuthService(repo, NewValidator(), zap.NewNop(), testAuthConfig())

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "old-token"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, "old-token", res.RefreshToken)
	assert.True(t, repo.refreshTokens["old-token"].Revoked)
}

func TestAuthRefreshRevokedToken(t *testing.T) {
	repo := &mockAuthRepo{
		refreshTokens: map[string]*models.RefreshToken{
			"old-token": {ID: "rt1", UserID: "u1", Token: "old-token", Revoked: true, ExpiresAt: time.Now().Add(time.Hour)},
		},
	}
	svc := NewAuthService(repo, NewValidator(), zap.NewNop(), testAuthConfig())

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "old-token"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthLogoutRejectsForeignToken(t *testing.T) {
	repo := &mockAuthRepo{
		refreshTokens: map[string]*models.RefreshToken{
			"tok": {ID: "rt1", UserID: "owner", Token: "tok", ExpiresAt: time.Now().Add(time.Hour)},
		},
	}
	svc := NewAuthService(repo, NewValidator(), zap.NewNop(), testAuthConfig())

	err := svc.Logout(context.Background(), "tok", "intruder", AuditMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.Logout(context.Background(), "tok", "owner", AuditMeta{}))
	assert.True(t, repo.refreshTokens["tok"].Revoked)
}

func TestAuthChangePasswordRevokesSessions(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("oldpass"), bcrypt.DefaultCost)
	repo := &mockAuthRepo{userByID: &models.User{ID: "u1", PasswordHash: string(hash), Active: true}}
	svc := NewAuthService(repo, NewValidator(), zap.NewNop(), testAuthConfig())

	err := svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{
		OldPassword: "oldpass",
		NewPassword: "newpass",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, repo.passwordUpdated)
	assert.Equal(t, []string{"u1"}, repo.revokedUserIDs)
}

func TestAuthValidateTokenBadSignature(t *testing.T) {
	svc := NewAuthService(&mockAuthRepo{}, NewValidator(), zap.NewNop(), testAuthConfig())

	_, err := svc.ValidateToken("not-a-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
