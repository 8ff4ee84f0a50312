package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/school-portal-api/internal/models"
)

// CommunicationRepository provides persistence for the unified communication
// entity.
type CommunicationRepository struct {
	db *sqlx.DB
}

// NewCommunicationRepository creates the repository.
func NewCommunicationRepository(db *sqlx.DB) *CommunicationRepository {
	return &CommunicationRepository{db: db}
}

const communicationColumns = `id, type, title, content, summary, target_audience, priority, status, is_important, is_pinned, source_group, board_type, due_date, is_recurring, recurring_pattern, author_id, reply_count, published_at, expires_at, created_at, updated_at`

// List returns communications matching the filter with a total count.
// Unless IncludeExpired is set, records past their expires_at are omitted;
// privileged callers pass IncludeExpired to retain them.
func (r *CommunicationRepository) List(ctx context.Context, filter models.CommunicationFilter) ([]models.Communication, int, error) {
	base := "FROM communications"
	var where []string
	var args []interface{}

	if filter.Type != nil {
		where = append(where, fmt.Sprintf("type = $%d", len(args)+1))
		args = append(args, *filter.Type)
	}
	if filter.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if len(filter.Audiences) > 0 {
		values := make([]string, 0, len(filter.Audiences))
		for _, a := range filter.Audiences {
			values = append(values, string(a))
		}
		where = append(where, fmt.Sprintf("target_audience = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(values))
	}
	if filter.Priority != nil {
		where = append(where, fmt.Sprintf("priority = $%d", len(args)+1))
		args = append(args, *filter.Priority)
	}
	if filter.Pinned != nil {
		where = append(where, fmt.Sprintf("is_pinned = $%d", len(args)+1))
		args = append(args, *filter.Pinned)
	}
	if filter.AuthorID != "" {
		where = append(where, fmt.Sprintf("author_id = $%d", len(args)+1))
		args = append(args, filter.AuthorID)
	}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("(LOWER(title) LIKE $%d OR LOWER(content) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if !filter.IncludeExpired {
		where = append(where, "(expires_at IS NULL OR expires_at > NOW())")
	}

	whereClause := "1=1"
	if len(where) > 0 {
		whereClause = strings.Join(where, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s
%s WHERE %s
ORDER BY is_pinned DESC, is_important DESC,
CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END,
published_at DESC NULLS LAST, created_at DESC
LIMIT %d OFFSET %d`, communicationColumns, base, whereClause, size, offset)

	var rows []models.Communication
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list communications: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count communications: %w", err)
	}
	return rows, total, nil
}

// GetByID returns a communication by identifier.
func (r *CommunicationRepository) GetByID(ctx context.Context, id int64) (*models.Communication, error) {
	query := fmt.Sprintf(`SELECT %s FROM communications WHERE id = $1`, communicationColumns)
	var comm models.Communication
	if err := r.db.GetContext(ctx, &comm, query, id); err != nil {
		return nil, err
	}
	return &comm, nil
}

// Create inserts a new communication and fills the generated id.
func (r *CommunicationRepository) Create(ctx context.Context, comm *models.Communication) error {
	now := time.Now().UTC()
	if comm.CreatedAt.IsZero() {
		comm.CreatedAt = now
	}
	comm.UpdatedAt = now
	const query = `INSERT INTO communications (type, title, content, summary, target_audience, priority, status, is_important, is_pinned, source_group, board_type, due_date, is_recurring, recurring_pattern, author_id, reply_count, published_at, expires_at, created_at, updated_at)
VALUES (:type, :title, :content, :summary, :target_audience, :priority, :status, :is_important, :is_pinned, :source_group, :board_type, :due_date, :is_recurring, :recurring_pattern, :author_id, :reply_count, :published_at, :expires_at, :created_at, :updated_at)
RETURNING id`
	stmt, err := r.db.PrepareNamedContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare create communication: %w", err)
	}
	defer stmt.Close() //nolint:errcheck
	if err := stmt.GetContext(ctx, &comm.ID, comm); err != nil {
		return fmt.Errorf("create communication: %w", err)
	}
	return nil
}

// Update modifies an existing communication's editable fields.
func (r *CommunicationRepository) Update(ctx context.Context, comm *models.Communication) error {
	comm.UpdatedAt = time.Now().UTC()
	const query = `UPDATE communications SET title = :title, content = :content, summary = :summary, target_audience = :target_audience,
priority = :priority, is_important = :is_important, is_pinned = :is_pinned, source_group = :source_group, board_type = :board_type,
due_date = :due_date, is_recurring = :is_recurring, recurring_pattern = :recurring_pattern, expires_at = :expires_at, updated_at = :updated_at
WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, comm)
	if err != nil {
		return fmt.Errorf("update communication: %w", err)
	}
	return ensureRowAffected(res)
}

// UpdateStatus transitions the lifecycle state. The status column and the
// published_at side effect are written in a single statement so that no
// intermediate state is ever durable.
func (r *CommunicationRepository) UpdateStatus(ctx context.Context, id int64, status models.Status, publishedAt *time.Time) error {
	const query = `UPDATE communications SET status = $2, published_at = $3, updated_at = $4 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, status, publishedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update communication status: %w", err)
	}
	return ensureRowAffected(res)
}

// UpdatePriority changes the priority of a single communication.
func (r *CommunicationRepository) UpdatePriority(ctx context.Context, id int64, priority models.Priority) error {
	const query = `UPDATE communications SET priority = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, priority, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update communication priority: %w", err)
	}
	return ensureRowAffected(res)
}

// Delete removes a communication. Replies cascade via foreign key.
func (r *CommunicationRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM communications WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete communication: %w", err)
	}
	return ensureRowAffected(res)
}

// ensureRowAffected maps zero-row writes to sql.ErrNoRows so services can
// surface NOT_FOUND without an extra lookup.
func ensureRowAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
