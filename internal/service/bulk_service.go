package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/school-portal-api/internal/models"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

// BulkService applies one action to many communications with per-item
// isolation: each id is processed independently and a failure never rolls
// back or skips the others.
type BulkService struct {
	repo      communicationRepository
	cache     ListingCache
	audit     auditRecorder
	authz     *AuthzService
	validator *validator.Validate
	logger    *zap.Logger
	maxIDs    int
	now       nowFunc
}

// NewBulkService constructs the service. maxIDs caps the batch size; zero or
// negative falls back to 100.
func NewBulkService(repo communicationRepository, cache ListingCache, audit auditRecorder, authz *AuthzService, validate *validator.Validate, logger *zap.Logger, maxIDs int) *BulkService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if authz == nil {
		authz = NewAuthzService()
	}
	if maxIDs <= 0 {
		maxIDs = 100
	}
	return &BulkService{
		repo:      repo,
		cache:     cache,
		audit:     audit,
		authz:     authz,
		validator: validate,
		logger:    logger,
		maxIDs:    maxIDs,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Apply runs the requested action over every id, sequentially and in input
// order. Request-level problems (bad action, empty or oversized batch,
// missing target priority, insufficient role) reject the whole call; after
// that, failures are reported per item.
func (s *BulkService) Apply(ctx context.Context, identity *models.Identity, req models.BulkRequest, meta AuditMeta) (*models.BulkResult, error) {
	action := models.BulkAction(req.Action)
	if !models.ValidBulkAction(action) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported bulk action %q", req.Action))
	}
	if len(req.IDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "ids must not be empty")
	}
	if len(req.IDs) > s.maxIDs {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("at most %d ids per request", s.maxIDs))
	}

	var targetPriority models.Priority
	if action == models.BulkUpdatePriority {
		if req.TargetPriority == nil || *req.TargetPriority == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "targetPriority is required for update_priority")
		}
		targetPriority = models.Priority(*req.TargetPriority)
		if !models.ValidPriority(targetPriority) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown priority %q", *req.TargetPriority))
		}
	}

	if decision := s.authz.CanBulk(identity); !decision.Allowed {
		return nil, decision.Reason
	}

	result := &models.BulkResult{
		Results: models.BulkOutcome{
			Success: make([]int64, 0, len(req.IDs)),
			Failed:  make([]models.BulkItemError, 0),
		},
	}
	for _, id := range req.IDs {
		if err := s.applyOne(ctx, action, id, targetPriority); err != nil {
			result.Results.Failed = append(result.Results.Failed, models.BulkItemError{ID: id, Error: itemErrorMessage(err)})
		} else {
			result.Results.Success = append(result.Results.Success, id)
		}
	}
	result.TotalProcessed = len(req.IDs)
	result.TotalSuccess = len(result.Results.Success)
	result.TotalFailed = len(result.Results.Failed)

	s.invalidate(ctx)
	s.recordAudit(ctx, identity, req, result, meta)
	return result, nil
}

func (s *BulkService) applyOne(ctx context.Context, action models.BulkAction, id int64, targetPriority models.Priority) error {
	switch action {
	case models.BulkDelete:
		return s.repo.Delete(ctx, id)
	case models.BulkUpdatePriority:
		return s.repo.UpdatePriority(ctx, id, targetPriority)
	default:
		target := bulkTargetStatus(action)
		comm, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !models.ValidTransition(comm.Status, target) {
			return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot transition from %s to %s", comm.Status, target))
		}
		publishedAt := transitionPublishedAt(comm, target, s.now)
		if target == models.StatusPublished {
			if err := checkExpiry(publishedAt, comm.ExpiresAt); err != nil {
				return err
			}
		}
		return s.repo.UpdateStatus(ctx, id, target, publishedAt)
	}
}

func bulkTargetStatus(action models.BulkAction) models.Status {
	switch action {
	case models.BulkPublish:
		return models.StatusPublished
	case models.BulkArchive:
		return models.StatusArchived
	default:
		return models.StatusDraft
	}
}

// itemErrorMessage keeps per-item errors terse and free of SQL internals.
func itemErrorMessage(err error) string {
	if err == sql.ErrNoRows {
		return "communication not found"
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "operation failed"
}

func (s *BulkService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, listingCachePattern); err != nil {
		s.logger.Warn("invalidate listing cache", zap.Error(err))
	}
}

func (s *BulkService) recordAudit(ctx context.Context, identity *models.Identity, req models.BulkRequest, result *models.BulkResult, meta AuditMeta) {
	if s.audit == nil || identity == nil {
		return
	}
	log := &models.AuditLog{
		UserID:    &identity.ID,
		Action:    models.AuditActionCommBulk,
		Resource:  "communication",
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	}
	if raw, err := json.Marshal(req); err == nil {
		log.OldValues = raw
	}
	if raw, err := json.Marshal(result); err == nil {
		log.NewValues = raw
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("audit log write failed", zap.String("action", models.AuditActionCommBulk), zap.Error(err))
	}
}
