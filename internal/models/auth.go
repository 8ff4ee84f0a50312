package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the resolved caller handed to the authorization engine.
// It is always passed explicitly; nothing in the core reads ambient state.
type Identity struct {
	ID     string     `json:"id"`
	Email  string     `json:"email"`
	Roles  []RoleName `json:"roles"`
	Active bool       `json:"active"`
}

// HasRole reports role membership.
func (i *Identity) HasRole(name RoleName) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// IsPrivileged reports whether the identity belongs to the privileged tier.
// admin and office_member are treated as equivalent for every authorization
// check; product has not confirmed whether that equivalence is permanent.
func (i *Identity) IsPrivileged() bool {
	return i.HasRole(RoleAdmin) || i.HasRole(RoleOfficeMember)
}

// ImpliedAudiences returns the audiences a non-privileged identity may read.
// Holding the teacher role implies the teachers audience; everyone else falls
// into the parents audience. The "all" audience is visible to both groups.
func (i *Identity) ImpliedAudiences() []Audience {
	if i.HasRole(RoleTeacher) {
		return []Audience{AudienceTeachers, AudienceAll}
	}
	return []Audience{AudienceParents, AudienceAll}
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued tokens and user info.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         UserInfo  `json:"user"`
	IssuedAt     time.Time `json:"issued_at"`
}

// RefreshTokenRequest exchanges a refresh token for a new access token.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// RefreshTokenResponse returns the refreshed tokens.
type RefreshTokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// RegisterRequest creates a new (inactive) account pending admin approval.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"required"`
	Password string `json:"password" validate:"required,min=6"`
	IP       string `json:"-"`
}

// ChangePasswordRequest payload for updating password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=6"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID       string     `json:"id"`
	Email    string     `json:"email"`
	FullName string     `json:"full_name"`
	Roles    []RoleName `json:"roles"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string     `json:"user_id"`
	Roles    []RoleName `json:"roles"`
	Email    string     `json:"email"`
	FullName string     `json:"full_name"`
	jwt.RegisteredClaims
}

// Identity converts token claims into the engine's identity value.
func (c *JWTClaims) Identity() *Identity {
	if c == nil {
		return nil
	}
	return &Identity{
		ID:     c.UserID,
		Email:  c.Email,
		Roles:  append([]RoleName(nil), c.Roles...),
		Active: true,
	}
}
