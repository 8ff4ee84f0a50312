package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/school-portal-api/internal/models"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

type nowFunc func() time.Time

type communicationRepository interface {
	List(ctx context.Context, filter models.CommunicationFilter) ([]models.Communication, int, error)
	GetByID(ctx context.Context, id int64) (*models.Communication, error)
	Create(ctx context.Context, comm *models.Communication) error
	Update(ctx context.Context, comm *models.Communication) error
	UpdateStatus(ctx context.Context, id int64, status models.Status, publishedAt *time.Time) error
	UpdatePriority(ctx context.Context, id int64, priority models.Priority) error
	Delete(ctx context.Context, id int64) error
}

type ListingCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

const listingCachePattern = "communications:list:*"

// CommunicationService handles the unified communication workflows: CRUD,
// the status lifecycle and audience-scoped listings.
type CommunicationService struct {
	repo      communicationRepository
	cache     ListingCache
	audit     auditRecorder
	authz     *AuthzService
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration
	now       nowFunc
}

// NewCommunicationService constructs the service. cache and audit may be nil.
func NewCommunicationService(repo communicationRepository, cache ListingCache, audit auditRecorder, authz *AuthzService, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *CommunicationService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if authz == nil {
		authz = NewAuthzService()
	}
	return &CommunicationService{
		repo:      repo,
		cache:     cache,
		audit:     audit,
		authz:     authz,
		validator: validate,
		logger:    logger,
		cacheTTL:  cacheTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateCommunicationRequest describes the create payload. Extension fields
// are only accepted for the types they belong to.
type CreateCommunicationRequest struct {
	Type             string     `json:"type" validate:"required,commtype"`
	Title            string     `json:"title" validate:"required,max=255"`
	Content          string     `json:"content" validate:"required"`
	Summary          *string    `json:"summary"`
	TargetAudience   string     `json:"target_audience" validate:"required,audience"`
	Priority         string     `json:"priority" validate:"omitempty,priority"`
	Status           string     `json:"status" validate:"omitempty,oneof=draft published"`
	IsImportant      bool       `json:"is_important"`
	IsPinned         bool       `json:"is_pinned"`
	SourceGroup      *string    `json:"source_group"`
	BoardType        *string    `json:"board_type" validate:"omitempty,boardtype"`
	DueDate          *time.Time `json:"due_date"`
	IsRecurring      bool       `json:"is_recurring"`
	RecurringPattern *string    `json:"recurring_pattern"`
	ExpiresAt        *time.Time `json:"expires_at"`
}

// UpdateCommunicationRequest describes the update payload. The type is fixed
// at creation and status changes go through Transition.
type UpdateCommunicationRequest struct {
	Title            string     `json:"title" validate:"required,max=255"`
	Content          string     `json:"content" validate:"required"`
	Summary          *string    `json:"summary"`
	TargetAudience   string     `json:"target_audience" validate:"required,audience"`
	Priority         string     `json:"priority" validate:"omitempty,priority"`
	IsImportant      bool       `json:"is_important"`
	IsPinned         bool       `json:"is_pinned"`
	SourceGroup      *string    `json:"source_group"`
	BoardType        *string    `json:"board_type" validate:"omitempty,boardtype"`
	DueDate          *time.Time `json:"due_date"`
	IsRecurring      bool       `json:"is_recurring"`
	RecurringPattern *string    `json:"recurring_pattern"`
	ExpiresAt        *time.Time `json:"expires_at"`
}

// ListCommunicationsRequest describes listing criteria from the caller.
type ListCommunicationsRequest struct {
	Type           string `json:"type" validate:"omitempty,commtype"`
	Status         string `json:"status" validate:"omitempty,oneof=draft published archived"`
	Audience       string `json:"audience" validate:"omitempty,audience"`
	Priority       string `json:"priority" validate:"omitempty,priority"`
	Pinned         *bool  `json:"pinned"`
	AuthorID       string `json:"author_id"`
	Search         string `json:"search"`
	IncludeExpired bool   `json:"include_expired"`
	Page           int    `json:"page"`
	PageSize       int    `json:"page_size"`
}

type cachedListing struct {
	Items []models.Communication `json:"items"`
	Total int                    `json:"total"`
}

// List returns communications visible to the identity. Non-privileged callers
// always see the published, unexpired view scoped to their implied audiences,
// whatever filters they send.
func (s *CommunicationService) List(ctx context.Context, identity *models.Identity, req ListCommunicationsRequest) ([]models.Communication, *models.Pagination, error) {
	if identity == nil || identity.ID == "" {
		return nil, nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid listing filter")
	}

	filter := models.CommunicationFilter{
		AuthorID: req.AuthorID,
		Search:   req.Search,
		Pinned:   req.Pinned,
		Page:     req.Page,
		PageSize: req.PageSize,
	}
	if req.Type != "" {
		t := models.CommunicationType(req.Type)
		filter.Type = &t
	}
	if req.Priority != "" {
		p := models.Priority(req.Priority)
		filter.Priority = &p
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	if identity.IsPrivileged() {
		if req.Status != "" {
			st := models.Status(req.Status)
			filter.Status = &st
		}
		if req.Audience != "" {
			filter.Audiences = []models.Audience{models.Audience(req.Audience)}
		}
		filter.IncludeExpired = req.IncludeExpired
	} else {
		published := models.StatusPublished
		filter.Status = &published
		filter.Audiences = audienceIntersection(identity.ImpliedAudiences(), req.Audience)
		filter.IncludeExpired = false
		if len(filter.Audiences) == 0 {
			return []models.Communication{}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize}, nil
		}
	}

	cacheable := s.cache != nil && s.cacheTTL > 0 && !identity.IsPrivileged() && req.Search == ""
	cacheKey := listingCacheKey(filter)
	if cacheable {
		var cached cachedListing
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: cached.Total}
			return cached.Items, pagination, nil
		}
	}

	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list communications")
	}

	if cacheable {
		if err := s.cache.Set(ctx, cacheKey, cachedListing{Items: rows, Total: total}, s.cacheTTL); err != nil {
			s.logger.Warn("cache listing", zap.Error(err))
		}
	}

	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return rows, pagination, nil
}

// Get returns a single communication subject to read authorization.
func (s *CommunicationService) Get(ctx context.Context, identity *models.Identity, id int64) (*models.Communication, error) {
	comm, err := s.loadCommunication(ctx, id)
	if err != nil {
		return nil, err
	}
	if decision := s.authz.CanRead(identity, comm, s.now); !decision.Allowed {
		return nil, decision.Reason
	}
	return comm, nil
}

// Create registers a new communication. The record starts in draft unless the
// payload asks for direct publication, in which case published_at is stamped
// in the same write.
func (s *CommunicationService) Create(ctx context.Context, identity *models.Identity, req CreateCommunicationRequest, meta AuditMeta) (*models.Communication, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}

	commType := models.CommunicationType(req.Type)
	audience := models.Audience(req.TargetAudience)
	if decision := s.authz.CanCreate(identity, commType, audience); !decision.Allowed {
		return nil, decision.Reason
	}

	status := models.StatusDraft
	if req.Status != "" {
		status = models.Status(req.Status)
	}
	priority := models.PriorityMedium
	if req.Priority != "" {
		priority = models.Priority(req.Priority)
	}

	comm := &models.Communication{
		Type:           commType,
		Title:          req.Title,
		Content:        req.Content,
		Summary:        req.Summary,
		TargetAudience: audience,
		Priority:       priority,
		Status:         status,
		IsImportant:    req.IsImportant,
		IsPinned:       req.IsPinned,
		AuthorID:       identity.ID,
		ExpiresAt:      req.ExpiresAt,
	}
	comm.SourceGroup = req.SourceGroup
	if req.BoardType != nil {
		bt := models.BoardType(*req.BoardType)
		comm.BoardType = &bt
	}
	comm.DueDate = req.DueDate
	comm.IsRecurring = req.IsRecurring
	comm.RecurringPattern = req.RecurringPattern

	if status == models.StatusPublished {
		now := s.now()
		comm.PublishedAt = &now
	}
	if err := s.validateTypedFields(comm); err != nil {
		return nil, err
	}
	if err := checkExpiry(comm.PublishedAt, comm.ExpiresAt); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, comm); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create communication")
	}
	s.invalidateListings(ctx)
	s.recordAudit(ctx, identity, models.AuditActionCommCreate, comm.ID, nil, comm, meta)
	return comm, nil
}

// Update modifies an existing communication's editable fields. Status and
// type are untouchable here.
func (s *CommunicationService) Update(ctx context.Context, identity *models.Identity, id int64, req UpdateCommunicationRequest, meta AuditMeta) (*models.Communication, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}

	existing, err := s.loadCommunication(ctx, id)
	if err != nil {
		return nil, err
	}
	if decision := s.authz.CanMutate(identity, existing, OpUpdate); !decision.Allowed {
		return nil, decision.Reason
	}

	before := *existing
	existing.Title = req.Title
	existing.Content = req.Content
	existing.Summary = req.Summary
	existing.TargetAudience = models.Audience(req.TargetAudience)
	if req.Priority != "" {
		existing.Priority = models.Priority(req.Priority)
	}
	existing.IsImportant = req.IsImportant
	existing.IsPinned = req.IsPinned
	existing.SourceGroup = req.SourceGroup
	existing.BoardType = nil
	if req.BoardType != nil {
		bt := models.BoardType(*req.BoardType)
		existing.BoardType = &bt
	}
	existing.DueDate = req.DueDate
	existing.IsRecurring = req.IsRecurring
	existing.RecurringPattern = req.RecurringPattern
	existing.ExpiresAt = req.ExpiresAt

	if err := s.validateTypedFields(existing); err != nil {
		return nil, err
	}
	if err := checkExpiry(existing.PublishedAt, existing.ExpiresAt); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, existing); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "communication not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update communication")
	}
	s.invalidateListings(ctx)
	s.recordAudit(ctx, identity, models.AuditActionCommUpdate, id, &before, existing, meta)
	return existing, nil
}

// Transition moves a communication to the target lifecycle state. The status
// write and the published_at side effect land in a single statement.
func (s *CommunicationService) Transition(ctx context.Context, identity *models.Identity, id int64, target models.Status, meta AuditMeta) (*models.Communication, error) {
	if !models.ValidStatus(target) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", target))
	}

	existing, err := s.loadCommunication(ctx, id)
	if err != nil {
		return nil, err
	}
	if decision := s.authz.CanMutate(identity, existing, OpUpdate); !decision.Allowed {
		return nil, decision.Reason
	}
	if !models.ValidTransition(existing.Status, target) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot transition from %s to %s", existing.Status, target))
	}

	publishedAt := transitionPublishedAt(existing, target, s.now)
	if target == models.StatusPublished {
		if err := checkExpiry(publishedAt, existing.ExpiresAt); err != nil {
			return nil, err
		}
	}

	if err := s.repo.UpdateStatus(ctx, id, target, publishedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "communication not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update status")
	}

	before := *existing
	existing.Status = target
	existing.PublishedAt = publishedAt
	s.invalidateListings(ctx)
	s.recordAudit(ctx, identity, models.AuditActionCommUpdate, id, &before, existing, meta)
	return existing, nil
}

// Delete removes a communication. Only the privileged tier may delete; the
// author role does not suffice.
func (s *CommunicationService) Delete(ctx context.Context, identity *models.Identity, id int64, meta AuditMeta) error {
	existing, err := s.loadCommunication(ctx, id)
	if err != nil {
		return err
	}
	if decision := s.authz.CanMutate(identity, existing, OpDelete); !decision.Allowed {
		return decision.Reason
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "communication not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete communication")
	}
	s.invalidateListings(ctx)
	s.recordAudit(ctx, identity, models.AuditActionCommDelete, id, existing, nil, meta)
	return nil
}

func (s *CommunicationService) loadCommunication(ctx context.Context, id int64) (*models.Communication, error) {
	comm, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "communication not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load communication")
	}
	return comm, nil
}

// validateTypedFields enforces the per-type rules the shared schema cannot
// express: the priority cap for announcements and newsletters, board fields
// only on board-capable types, reminder fields only on reminders.
func (s *CommunicationService) validateTypedFields(comm *models.Communication) error {
	if strings.TrimSpace(comm.Title) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "title must not be blank")
	}
	if strings.TrimSpace(comm.Content) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "content must not be blank")
	}

	switch comm.Type {
	case models.CommunicationAnnouncement, models.CommunicationNewsletter:
		if comm.Priority == models.PriorityCritical {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("priority critical is not allowed for %s", comm.Type))
		}
		if comm.SourceGroup != nil || comm.BoardType != nil {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("board fields are not allowed for %s", comm.Type))
		}
		if hasReminderFields(comm) {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("reminder fields are not allowed for %s", comm.Type))
		}
	case models.CommunicationMessage, models.CommunicationMessageBoard:
		if comm.BoardType == nil {
			general := models.BoardGeneral
			comm.BoardType = &general
		}
		if hasReminderFields(comm) {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("reminder fields are not allowed for %s", comm.Type))
		}
	case models.CommunicationReminder:
		if comm.SourceGroup != nil || comm.BoardType != nil {
			return appErrors.Clone(appErrors.ErrValidation, "board fields are not allowed for reminder")
		}
	}
	return nil
}

func hasReminderFields(comm *models.Communication) bool {
	return comm.DueDate != nil || comm.IsRecurring || comm.RecurringPattern != nil
}

// transitionPublishedAt computes the published_at side effect of a status
// change: stamped on publish (kept when republishing), cleared on unpublish,
// frozen on archive.
func transitionPublishedAt(comm *models.Communication, target models.Status, now nowFunc) *time.Time {
	switch target {
	case models.StatusPublished:
		if comm.PublishedAt != nil {
			return comm.PublishedAt
		}
		ts := now()
		return &ts
	case models.StatusDraft:
		return nil
	default:
		return comm.PublishedAt
	}
}

func checkExpiry(publishedAt, expiresAt *time.Time) error {
	if publishedAt != nil && expiresAt != nil && !expiresAt.After(*publishedAt) {
		return appErrors.Clone(appErrors.ErrValidation, "expires_at must be after published_at")
	}
	return nil
}

func audienceIntersection(implied []models.Audience, requested string) []models.Audience {
	if requested == "" {
		return implied
	}
	want := models.Audience(requested)
	for _, a := range implied {
		if a == want {
			return []models.Audience{want}
		}
	}
	return nil
}

func listingCacheKey(filter models.CommunicationFilter) string {
	var b strings.Builder
	b.WriteString("communications:list:")
	if filter.Type != nil {
		b.WriteString(string(*filter.Type))
	}
	b.WriteString("|")
	if filter.Status != nil {
		b.WriteString(string(*filter.Status))
	}
	b.WriteString("|")
	for _, a := range filter.Audiences {
		b.WriteString(string(a))
		b.WriteString(",")
	}
	b.WriteString("|")
	if filter.Priority != nil {
		b.WriteString(string(*filter.Priority))
	}
	b.WriteString("|")
	if filter.Pinned != nil {
		fmt.Fprintf(&b, "%t", *filter.Pinned)
	}
	fmt.Fprintf(&b, "|%s|%d|%d", filter.AuthorID, filter.Page, filter.PageSize)
	return b.String()
}

// AuditMeta carries request metadata into best-effort audit records.
type AuditMeta struct {
	IP        string
	UserAgent string
}

func (s *CommunicationService) recordAudit(ctx context.Context, identity *models.Identity, action string, id int64, oldValue, newValue interface{}, meta AuditMeta) {
	if s.audit == nil || identity == nil {
		return
	}
	resourceID := fmt.Sprintf("%d", id)
	log := &models.AuditLog{
		UserID:     &identity.ID,
		Action:     action,
		Resource:   "communication",
		ResourceID: &resourceID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if oldValue != nil {
		if raw, err := json.Marshal(oldValue); err == nil {
			log.OldValues = raw
		}
	}
	if newValue != nil {
		if raw, err := json.Marshal(newValue); err == nil {
			log.NewValues = raw
		}
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("audit log write failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *CommunicationService) invalidateListings(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, listingCachePattern); err != nil {
		s.logger.Warn("invalidate listing cache", zap.Error(err))
	}
}
