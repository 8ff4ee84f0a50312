package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/school-portal-api/internal/models"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	SetActive(ctx context.Context, id string, active bool) error
	AssignRole(ctx context.Context, userID string, role models.RoleName) error
	RemoveRole(ctx context.Context, userID string, role models.RoleName) error
	ListRoles(ctx context.Context, userID string) ([]models.RoleName, error)
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateUserRequest represents payload for creating users directly (admin).
type CreateUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=admin office_member teacher viewer parent"`
	Active   bool   `json:"active"`
	Password string `json:"password" validate:"required,min=6"`
}

// UpdateUserRequest payload for updating users.
type UpdateUserRequest struct {
	FullName string `json:"full_name" validate:"required"`
	Active   *bool  `json:"active"`
}

// ApproveUserRequest activates a pending registration and grants its first
// role.
type ApproveUserRequest struct {
	Role string `json:"role" validate:"required,oneof=admin office_member teacher viewer parent"`
}

// UserService handles user management workflows.
type UserService struct {
	repo      userRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = NewValidator()
	}
	return &UserService{repo: repo, validator: validate, logger: logger}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	pagination := &models.Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
	}

	return users, pagination, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// Create adds a new user with an initial role, bypassing the approval flow.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest, actorID string, meta AuditMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create user payload")
	}

	if _, err := s.repo.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	role := models.RoleName(req.Role)
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(req.Email),
		FullName:     req.FullName,
		Active:       req.Active,
		PasswordHash: string(passwordHash),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}
	if err := s.repo.AssignRole(ctx, user.ID, role); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign role")
	}
	user.Roles = []models.RoleName{role}

	newPayload, _ := json.Marshal(map[string]interface{}{"id": user.ID, "email": user.Email, "roles": user.Roles})
	s.recordUserAudit(ctx, actorID, models.AuditActionUserUpdate, user.ID, nil, newPayload, meta)

	return user, nil
}

// Approve activates a pending registration and assigns its first role. The
// account can log in only after this step.
func (s *UserService) Approve(ctx context.Context, id string, req ApproveUserRequest, actorID string, meta AuditMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid approve payload")
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Active {
		return nil, appErrors.Clone(appErrors.ErrConflict, "user is already active")
	}

	if err := s.repo.SetActive(ctx, id, true); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate user")
	}
	role := models.RoleName(req.Role)
	if err := s.repo.AssignRole(ctx, id, role); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign role")
	}
	user.Active = true
	user.Roles = append(user.Roles, role)

	newPayload, _ := json.Marshal(map[string]interface{}{"active": true, "role": role})
	s.recordUserAudit(ctx, actorID, models.AuditActionUserApprove, id, nil, newPayload, meta)

	return user, nil
}

// Update modifies the user attributes.
func (s *UserService) Update(ctx context.Context, id string, req UpdateUserRequest, actorID string, meta AuditMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"full_name": user.FullName, "active": user.Active})

	user.FullName = req.FullName
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"full_name": user.FullName, "active": user.Active})
	s.recordUserAudit(ctx, actorID, models.AuditActionUserUpdate, id, oldPayload, newPayload, meta)

	return user, nil
}

// AssignRole grants an additional role to a user.
func (s *UserService) AssignRole(ctx context.Context, id string, role models.RoleName, actorID string, meta AuditMeta) error {
	if !models.ValidRole(role) {
		return appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.AssignRole(ctx, id, role); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign role")
	}
	payload, _ := json.Marshal(map[string]interface{}{"role": role})
	s.recordUserAudit(ctx, actorID, models.AuditActionRoleAssign, id, nil, payload, meta)
	return nil
}

// RemoveRole revokes a role from a user.
func (s *UserService) RemoveRole(ctx context.Context, id string, role models.RoleName, actorID string, meta AuditMeta) error {
	if !models.ValidRole(role) {
		return appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}
	if err := s.repo.RemoveRole(ctx, id, role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "role assignment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove role")
	}
	payload, _ := json.Marshal(map[string]interface{}{"role": role})
	s.recordUserAudit(ctx, actorID, models.AuditActionRoleRemove, id, payload, nil, meta)
	return nil
}

// Deactivate performs a soft delete on a user and revokes open sessions.
func (s *UserService) Deactivate(ctx context.Context, id string, actorID string, meta AuditMeta) error {
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate user")
	}
	if err := s.repo.RevokeUserRefreshTokens(ctx, id); err != nil {
		s.logger.Warn("failed to revoke refresh tokens on deactivation", zap.Error(err))
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"active": user.Active})
	newPayload, _ := json.Marshal(map[string]interface{}{"active": false})
	s.recordUserAudit(ctx, actorID, models.AuditActionUserDeactivate, id, oldPayload, newPayload, meta)

	return nil
}

func (s *UserService) recordUserAudit(ctx context.Context, actorID, action, resourceID string, oldValues, newValues []byte, meta AuditMeta) {
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "users",
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", action), zap.Error(err))
	}
}
