package service

import (
	"github.com/noah-isme/school-portal-api/internal/models"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

// Scope states whether a granted mutation covers every record or only the
// caller's own.
type Scope string

const (
	ScopeAll Scope = "all"
	ScopeOwn Scope = "own"
)

// MutateOp enumerates single-record mutations subject to ownership rules.
type MutateOp string

const (
	OpUpdate MutateOp = "update"
	OpDelete MutateOp = "delete"
)

// Decision is the structured outcome of an authorization check. A denial is
// a value, not an error: Reason carries the kind the transport boundary maps
// to 401/403.
type Decision struct {
	Allowed bool
	Scope   Scope
	Reason  *appErrors.Error
}

func allowScoped(scope Scope) Decision {
	return Decision{Allowed: true, Scope: scope}
}

func deny(reason *appErrors.Error) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// AuthzService is the authorization engine: pure decisions over an explicit
// identity, the requested operation, and (where relevant) the record.
//
// admin and office_member form a single privileged tier and are equivalent in
// every rule below. The source system never distinguished them; treating them
// as equal is the observed-safe policy pending product confirmation.
type AuthzService struct{}

// NewAuthzService constructs the engine.
func NewAuthzService() *AuthzService {
	return &AuthzService{}
}

// CanCreate decides whether the identity may create a communication of the
// given type aimed at the given audience. The privileged tier may create any
// type; teachers are limited to message and message_board posts for the
// teachers audience (never parents or all).
func (s *AuthzService) CanCreate(identity *models.Identity, targetType models.CommunicationType, audience models.Audience) Decision {
	if identity == nil || identity.ID == "" {
		return deny(appErrors.ErrUnauthorized)
	}
	if !identity.Active {
		return deny(appErrors.Clone(appErrors.ErrForbidden, "account is inactive"))
	}
	if identity.IsPrivileged() {
		return allowScoped(ScopeAll)
	}
	if identity.HasRole(models.RoleTeacher) {
		if targetType != models.CommunicationMessage && targetType != models.CommunicationMessageBoard {
			return deny(appErrors.Clone(appErrors.ErrForbidden, "teachers may only create messages and board posts"))
		}
		if audience != models.AudienceTeachers {
			return deny(appErrors.Clone(appErrors.ErrForbiddenAudience, "teachers may only target the teachers audience"))
		}
		return allowScoped(ScopeOwn)
	}
	return deny(appErrors.Clone(appErrors.ErrForbidden, "role does not permit creating communications"))
}

// CanRead decides read access to a single record. Privileged identities see
// everything, including drafts, archived and expired records. Everyone else
// sees published records whose audience matches their implied audiences.
func (s *AuthzService) CanRead(identity *models.Identity, record *models.Communication, now nowFunc) Decision {
	if identity == nil || identity.ID == "" {
		return deny(appErrors.ErrUnauthorized)
	}
	if identity.IsPrivileged() {
		return allowScoped(ScopeAll)
	}
	if record.Status != models.StatusPublished {
		return deny(appErrors.Clone(appErrors.ErrForbidden, "record is not published"))
	}
	if record.ExpiresAt != nil && record.ExpiresAt.Before(now()) {
		return deny(appErrors.Clone(appErrors.ErrForbiddenAudience, "record is no longer available"))
	}
	for _, a := range identity.ImpliedAudiences() {
		if record.TargetAudience == a {
			return allowScoped(ScopeAll)
		}
	}
	return deny(appErrors.Clone(appErrors.ErrForbiddenAudience, "record is not visible to this audience"))
}

// CanMutate decides update/delete access. The privileged tier mutates any
// record; a non-privileged author may update (not delete) their own records.
func (s *AuthzService) CanMutate(identity *models.Identity, record *models.Communication, op MutateOp) Decision {
	if identity == nil || identity.ID == "" {
		return deny(appErrors.ErrUnauthorized)
	}
	if identity.IsPrivileged() {
		return allowScoped(ScopeAll)
	}
	if record.AuthorID == identity.ID {
		if op == OpUpdate {
			return allowScoped(ScopeOwn)
		}
		return deny(appErrors.Clone(appErrors.ErrForbidden, "only the privileged tier may delete communications"))
	}
	return deny(appErrors.Clone(appErrors.ErrNotOwner, "record belongs to another author"))
}

// CanBulk gates bulk operations. There is deliberately no own-records bulk
// path: non-privileged callers are denied regardless of ownership.
func (s *AuthzService) CanBulk(identity *models.Identity) Decision {
	if identity == nil || identity.ID == "" {
		return deny(appErrors.ErrUnauthorized)
	}
	if identity.IsPrivileged() {
		return allowScoped(ScopeAll)
	}
	return deny(appErrors.Clone(appErrors.ErrForbidden, "bulk operations require the privileged tier"))
}
