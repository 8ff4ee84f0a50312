package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/school-portal-api/internal/models"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

type replyRepository interface {
	ListByCommunication(ctx context.Context, communicationID int64) ([]models.Reply, error)
	GetByID(ctx context.Context, id int64) (*models.Reply, error)
	Create(ctx context.Context, reply *models.Reply) error
	Delete(ctx context.Context, id int64, communicationID int64) error
}

// CreateReplyRequest is the reply payload.
type CreateReplyRequest struct {
	Content string `json:"content" validate:"required,max=2000"`
}

// ReplyService handles threaded replies under board and message
// communications. Reply visibility follows the parent: whoever can read the
// parent can read and write its thread.
type ReplyService struct {
	replies   replyRepository
	comms     communicationRepository
	authz     *AuthzService
	validator *validator.Validate
	logger    *zap.Logger
	now       nowFunc
}

// NewReplyService constructs the service.
func NewReplyService(replies replyRepository, comms communicationRepository, authz *AuthzService, validate *validator.Validate, logger *zap.Logger) *ReplyService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if authz == nil {
		authz = NewAuthzService()
	}
	return &ReplyService{
		replies:   replies,
		comms:     comms,
		authz:     authz,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List returns the thread under a communication, oldest first.
func (s *ReplyService) List(ctx context.Context, identity *models.Identity, communicationID int64) ([]models.Reply, error) {
	parent, err := s.loadParent(ctx, communicationID)
	if err != nil {
		return nil, err
	}
	if decision := s.authz.CanRead(identity, parent, s.now); !decision.Allowed {
		return nil, decision.Reason
	}
	replies, err := s.replies.ListByCommunication(ctx, communicationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list replies")
	}
	return replies, nil
}

// Create posts a reply under a reply-capable communication. The parent's
// reply_count is recomputed in the same transaction as the insert.
func (s *ReplyService) Create(ctx context.Context, identity *models.Identity, communicationID int64, req CreateReplyRequest) (*models.Reply, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reply payload")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "content must not be blank")
	}

	parent, err := s.loadParent(ctx, communicationID)
	if err != nil {
		return nil, err
	}
	if !replyCapable(parent.Type) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "communication does not accept replies")
	}
	if decision := s.authz.CanRead(identity, parent, s.now); !decision.Allowed {
		return nil, decision.Reason
	}

	reply := &models.Reply{
		CommunicationID: communicationID,
		AuthorID:        identity.ID,
		Content:         req.Content,
	}
	if err := s.replies.Create(ctx, reply); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create reply")
	}
	return reply, nil
}

// Delete removes a reply. The reply's own author and the privileged tier may
// delete; deleting someone else's reply is NOT_OWNER.
func (s *ReplyService) Delete(ctx context.Context, identity *models.Identity, communicationID, replyID int64) error {
	if identity == nil || identity.ID == "" {
		return appErrors.ErrUnauthorized
	}

	reply, err := s.replies.GetByID(ctx, replyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "reply not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reply")
	}
	if reply.CommunicationID != communicationID {
		return appErrors.Clone(appErrors.ErrNotFound, "reply not found")
	}
	if !identity.IsPrivileged() && reply.AuthorID != identity.ID {
		return appErrors.Clone(appErrors.ErrNotOwner, "reply belongs to another author")
	}

	if err := s.replies.Delete(ctx, replyID, communicationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "reply not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete reply")
	}
	return nil
}

func (s *ReplyService) loadParent(ctx context.Context, id int64) (*models.Communication, error) {
	parent, err := s.comms.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "communication not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load communication")
	}
	return parent, nil
}

func replyCapable(t models.CommunicationType) bool {
	return t == models.CommunicationMessage || t == models.CommunicationMessageBoard
}
