package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-portal-api/internal/models"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

func identityWith(roles ...models.RoleName) *models.Identity {
	return &models.Identity{ID: "u1", Email: "u1@example.com", Roles: roles, Active: true}
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestCanCreatePrivilegedTier(t *testing.T) {
	authz := NewAuthzService()

	// admin and office_member must be interchangeable for every type/audience.
	for _, role := range []models.RoleName{models.RoleAdmin, models.RoleOfficeMember} {
		for _, commType := range []models.CommunicationType{
			models.CommunicationAnnouncement,
			models.CommunicationMessage,
			models.CommunicationMessageBoard,
			models.CommunicationReminder,
			models.CommunicationNewsletter,
		} {
			for _, audience := range []models.Audience{models.AudienceAll, models.AudienceTeachers, models.AudienceParents} {
				decision := authz.CanCreate(identityWith(role), commType, audience)
				require.True(t, decision.Allowed, "role %s type %s audience %s", role, commType, audience)
				assert.Equal(t, ScopeAll, decision.Scope)
			}
		}
	}
}

func TestCanCreateTeacher(t *testing.T) {
	authz := NewAuthzService()
	teacher := identityWith(models.RoleTeacher)

	tests := []struct {
		name     string
		commType models.CommunicationType
		audience models.Audience
		allowed  bool
		code     string
	}{
		{"message for teachers", models.CommunicationMessage, models.AudienceTeachers, true, ""},
		{"board post for teachers", models.CommunicationMessageBoard, models.AudienceTeachers, true, ""},
		{"announcement denied", models.CommunicationAnnouncement, models.AudienceTeachers, false, appErrors.ErrForbidden.Code},
		{"reminder denied", models.CommunicationReminder, models.AudienceTeachers, false, appErrors.ErrForbidden.Code},
		{"newsletter denied", models.CommunicationNewsletter, models.AudienceTeachers, false, appErrors.ErrForbidden.Code},
		{"message for parents denied", models.CommunicationMessage, models.AudienceParents, false, appErrors.ErrForbiddenAudience.Code},
		{"message for all denied", models.CommunicationMessage, models.AudienceAll, false, appErrors.ErrForbiddenAudience.Code},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decision := authz.CanCreate(teacher, tc.commType, tc.audience)
			assert.Equal(t, tc.allowed, decision.Allowed)
			if tc.allowed {
				assert.Equal(t, ScopeOwn, decision.Scope)
			} else {
				require.NotNil(t, decision.Reason)
				assert.Equal(t, tc.code, decision.Reason.Code)
			}
		})
	}
}

func TestCanCreateViewerAndParentDenied(t *testing.T) {
	authz := NewAuthzService()
	for _, role := range []models.RoleName{models.RoleViewer, models.RoleParent} {
		decision := authz.CanCreate(identityWith(role), models.CommunicationMessage, models.AudienceTeachers)
		require.False(t, decision.Allowed)
		assert.Equal(t, appErrors.ErrForbidden.Code, decision.Reason.Code)
	}
}

func TestCanCreateAnonymousAndInactive(t *testing.T) {
	authz := NewAuthzService()

	decision := authz.CanCreate(nil, models.CommunicationAnnouncement, models.AudienceAll)
	require.False(t, decision.Allowed)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, decision.Reason.Code)

	inactive := identityWith(models.RoleAdmin)
	inactive.Active = false
	decision = authz.CanCreate(inactive, models.CommunicationAnnouncement, models.AudienceAll)
	require.False(t, decision.Allowed)
	assert.Equal(t, appErrors.ErrForbidden.Code, decision.Reason.Code)
}

func TestCanReadPrivilegedSeesEverything(t *testing.T) {
	authz := NewAuthzService()
	past := fixedNow().Add(-time.Hour)
	record := &models.Communication{
		Status:         models.StatusDraft,
		TargetAudience: models.AudienceParents,
		ExpiresAt:      &past,
	}

	for _, role := range []models.RoleName{models.RoleAdmin, models.RoleOfficeMember} {
		decision := authz.CanRead(identityWith(role), record, fixedNow)
		require.True(t, decision.Allowed, "role %s", role)
		assert.Equal(t, ScopeAll, decision.Scope)
	}
}

func TestCanReadAudienceMatching(t *testing.T) {
	authz := NewAuthzService()

	tests := []struct {
		name     string
		roles    []models.RoleName
		audience models.Audience
		allowed  bool
	}{
		{"teacher reads teachers", []models.RoleName{models.RoleTeacher}, models.AudienceTeachers, true},
		{"teacher reads all", []models.RoleName{models.RoleTeacher}, models.AudienceAll, true},
		{"teacher denied parents", []models.RoleName{models.RoleTeacher}, models.AudienceParents, false},
		{"parent reads parents", []models.RoleName{models.RoleParent}, models.AudienceParents, true},
		{"parent reads all", []models.RoleName{models.RoleParent}, models.AudienceAll, true},
		{"parent denied teachers", []models.RoleName{models.RoleParent}, models.AudienceTeachers, false},
		{"viewer reads all", []models.RoleName{models.RoleViewer}, models.AudienceAll, true},
		{"viewer denied teachers", []models.RoleName{models.RoleViewer}, models.AudienceTeachers, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			record := &models.Communication{Status: models.StatusPublished, TargetAudience: tc.audience}
			decision := authz.CanRead(identityWith(tc.roles...), record, fixedNow)
			assert.Equal(t, tc.allowed, decision.Allowed)
			if !tc.allowed {
				assert.Equal(t, appErrors.ErrForbiddenAudience.Code, decision.Reason.Code)
			}
		})
	}
}

func TestCanReadDraftAndExpired(t *testing.T) {
	authz := NewAuthzService()
	teacher := identityWith(models.RoleTeacher)

	draft := &models.Communication{Status: models.StatusDraft, TargetAudience: models.AudienceTeachers}
	decision := authz.CanRead(teacher, draft, fixedNow)
	require.False(t, decision.Allowed)
	assert.Equal(t, appErrors.ErrForbidden.Code, decision.Reason.Code)

	past := fixedNow().Add(-time.Minute)
	expired := &models.Communication{Status: models.StatusPublished, TargetAudience: models.AudienceTeachers, ExpiresAt: &past}
	decision = authz.CanRead(teacher, expired, fixedNow)
	require.False(t, decision.Allowed)
	assert.Equal(t, appErrors.ErrForbiddenAudience.Code, decision.Reason.Code)

	future := fixedNow().Add(time.Minute)
	live := &models.Communication{Status: models.StatusPublished, TargetAudience: models.AudienceTeachers, ExpiresAt: &future}
	decision = authz.CanRead(teacher, live, fixedNow)
	assert.True(t, decision.Allowed)
}

func TestCanMutateOwnership(t *testing.T) {
	authz := NewAuthzService()
	record := &models.Communication{AuthorID: "u1"}

	author := identityWith(models.RoleTeacher)
	decision := authz.CanMutate(author, record, OpUpdate)
	require.True(t, decision.Allowed)
	assert.Equal(t, ScopeOwn, decision.Scope)

	decision = authz.CanMutate(author, record, OpDelete)
	require.False(t, decision.Allowed)
	assert.Equal(t, appErrors.ErrForbidden.Code, decision.Reason.Code)

	stranger := identityWith(models.RoleTeacher)
	stranger.ID = "u2"
	decision = authz.CanMutate(stranger, record, OpUpdate)
	require.False(t, decision.Allowed)
	assert.Equal(t, appErrors.ErrNotOwner.Code, decision.Reason.Code)

	for _, role := range []models.RoleName{models.RoleAdmin, models.RoleOfficeMember} {
		admin := identityWith(role)
		admin.ID = "someone-else"
		for _, op := range []MutateOp{OpUpdate, OpDelete} {
			decision := authz.CanMutate(admin, record, op)
			require.True(t, decision.Allowed, "role %s op %s", role, op)
			assert.Equal(t, ScopeAll, decision.Scope)
		}
	}
}

func TestCanBulkPrivilegedOnly(t *testing.T) {
	authz := NewAuthzService()

	assert.True(t, authz.CanBulk(identityWith(models.RoleAdmin)).Allowed)
	assert.True(t, authz.CanBulk(identityWith(models.RoleOfficeMember)).Allowed)

	for _, role := range []models.RoleName{models.RoleTeacher, models.RoleViewer, models.RoleParent} {
		decision := authz.CanBulk(identityWith(role))
		require.False(t, decision.Allowed, "role %s", role)
		assert.Equal(t, appErrors.ErrForbidden.Code, decision.Reason.Code)
	}

	decision := authz.CanBulk(nil)
	require.False(t, decision.Allowed)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, decision.Reason.Code)
}
