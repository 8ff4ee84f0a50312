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

type mockReplyRepo struct {
	items   map[int64]*models.Reply
	nextID  int64
	listErr error
	deleted []int64
}

func (m *mockReplyRepo) ListByCommunication(ctx context.Context, communicationID int64) ([]models.Reply, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.Reply
	for _, r := range m.items {
		if r.CommunicationID == communicationID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockReplyRepo) GetByID(ctx context.Context, id int64) (*models.Reply, error) {
	if r, ok := m.items[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockReplyRepo) Create(ctx context.Context, reply *models.Reply) error {
	if m.items == nil {
		m.items = make(map[int64]*models.Reply)
	}
	m.nextID++
	reply.ID = m.nextID
	reply.CreatedAt = time.Now()
	cp := *reply
	m.items[reply.ID] = &cp
	return nil
}

func (m *mockReplyRepo) Delete(ctx context.Context, id int64, communicationID int64) error {
	if _, ok := m.items[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.items, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func newReplyService(replies *mockReplyRepo, comms *mockCommRepo) *ReplyService {
	svc := NewReplyService(replies, comms, NewAuthzService(), NewValidator(), zap.NewNop())
	svc.now = fixedNow
	return svc
}

func boardParent(id int64) *models.Communication {
	return &models.Communication{
		ID: id, Type: models.CommunicationMessageBoard, Status: models.StatusPublished,
		TargetAudience: models.AudienceTeachers, AuthorID: "author",
	}
}

func TestReplyCreate(t *testing.T) {
	comms := &mockCommRepo{items: map[int64]*models.Communication{1: boardParent(1)}}
	replies := &mockReplyRepo{}
	svc := newReplyService(replies, comms)

	reply, err := svc.Create(context.Background(), identityWith(models.RoleTeacher), 1, CreateReplyRequest{Content: "Agreed."})
	require.NoError(t, err)
	assert.Equal(t, int64(1), reply.CommunicationID)
	assert.Equal(t, "u1", reply.AuthorID)
	assert.Len(t, replies.items, 1)
}

func TestReplyCreateOnNonReplyCapableType(t *testing.T) {
	comms := &mockCommRepo{items: map[int64]*models.Communication{
		1: {ID: 1, Type: models.CommunicationAnnouncement, Status: models.StatusPublished, TargetAudience: models.AudienceAll},
	}}
	svc := newReplyService(&mockReplyRepo{}, comms)

	_, err := svc.Create(context.Background(), identityWith(models.RoleTeacher), 1, CreateReplyRequest{Content: "Nice."})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReplyCreateBlankContent(t *testing.T) {
	comms := &mockCommRepo{items: map[int64]*models.Communication{1: boardParent(1)}}
	svc := newReplyService(&mockReplyRepo{}, comms)

	_, err := svc.Create(context.Background(), identityWith(models.RoleTeacher), 1, CreateReplyRequest{Content: "   "})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReplyCreateFollowsParentVisibility(t *testing.T) {
	comms := &mockCommRepo{items: map[int64]*models.Communication{1: boardParent(1)}}
	svc := newReplyService(&mockReplyRepo{}, comms)

	// Parent targets teachers; a parent-role caller cannot post into the thread.
	_, err := svc.Create(context.Background(), identityWith(models.RoleParent), 1, CreateReplyRequest{Content: "Hello"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbiddenAudience.Code, appErrors.FromError(err).Code)
}

func TestReplyListParentNotFound(t *testing.T) {
	svc := newReplyService(&mockReplyRepo{}, &mockCommRepo{})

	_, err := svc.List(context.Background(), identityWith(models.RoleAdmin), 42)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestReplyDeleteOwnership(t *testing.T) {
	comms := &mockCommRepo{items: map[int64]*models.Communication{1: boardParent(1)}}
	replies := &mockReplyRepo{items: map[int64]*models.Reply{
		10: {ID: 10, CommunicationID: 1, AuthorID: "u1", Content: "mine"},
		11: {ID: 11, CommunicationID: 1, AuthorID: "other", Content: "theirs"},
	}}
	svc := newReplyService(replies, comms)
	ctx := context.Background()

	// Own reply: allowed.
	require.NoError(t, svc.Delete(ctx, identityWith(models.RoleTeacher), 1, 10))

	// Someone else's reply: denied.
	err := svc.Delete(ctx, identityWith(models.RoleTeacher), 1, 11)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotOwner.Code, appErrors.FromError(err).Code)

	// Privileged tier may moderate any reply.
	require.NoError(t, svc.Delete(ctx, identityWith(models.RoleOfficeMember), 1, 11))
	assert.Equal(t, []int64{10, 11}, replies.deleted)
}

func TestReplyDeleteMismatchedParent(t *testing.T) {
	replies := &mockReplyRepo{items: map[int64]*models.Reply{
		10: {ID: 10, CommunicationID: 1, AuthorID: "u1"},
	}}
	svc := newReplyService(replies, &mockCommRepo{})

	err := svc.Delete(context.Background(), identityWith(models.RoleAdmin), 2, 10)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
