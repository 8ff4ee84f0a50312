package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/school-portal-api/internal/models"
)

// ReplyRepository persists replies and keeps the parent's denormalized
// reply_count in step. The recount happens inside the same transaction as
// every insert or delete; the counter is a cache, never the source of truth.
type ReplyRepository struct {
	db *sqlx.DB
}

// NewReplyRepository creates the repository.
func NewReplyRepository(db *sqlx.DB) *ReplyRepository {
	return &ReplyRepository{db: db}
}

const replyColumns = `id, communication_id, author_id, content, created_at`

// ListByCommunication returns replies for a communication, oldest first.
func (r *ReplyRepository) ListByCommunication(ctx context.Context, communicationID int64) ([]models.Reply, error) {
	query := fmt.Sprintf(`SELECT %s FROM communication_replies WHERE communication_id = $1 ORDER BY created_at ASC`, replyColumns)
	var replies []models.Reply
	if err := r.db.SelectContext(ctx, &replies, query, communicationID); err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	return replies, nil
}

// GetByID returns a reply by identifier.
func (r *ReplyRepository) GetByID(ctx context.Context, id int64) (*models.Reply, error) {
	query := fmt.Sprintf(`SELECT %s FROM communication_replies WHERE id = $1`, replyColumns)
	var reply models.Reply
	if err := r.db.GetContext(ctx, &reply, query, id); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Create inserts a reply and recomputes the parent's reply_count in one
// transaction.
func (r *ReplyRepository) Create(ctx context.Context, reply *models.Reply) error {
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now().UTC()
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create reply: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insert = `INSERT INTO communication_replies (communication_id, author_id, content, created_at)
VALUES ($1, $2, $3, $4) RETURNING id`
	if err := tx.GetContext(ctx, &reply.ID, insert, reply.CommunicationID, reply.AuthorID, reply.Content, reply.CreatedAt); err != nil {
		return fmt.Errorf("create reply: %w", err)
	}
	if err := recountReplies(ctx, tx, reply.CommunicationID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create reply: %w", err)
	}
	return nil
}

// Delete removes a reply and recomputes the parent's reply_count in one
// transaction.
func (r *ReplyRepository) Delete(ctx context.Context, id int64, communicationID int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete reply: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM communication_replies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete reply: %w", err)
	}
	if err := ensureRowAffected(res); err != nil {
		return err
	}
	if err := recountReplies(ctx, tx, communicationID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete reply: %w", err)
	}
	return nil
}

func recountReplies(ctx context.Context, tx *sqlx.Tx, communicationID int64) error {
	const query = `UPDATE communications
SET reply_count = (SELECT COUNT(*) FROM communication_replies WHERE communication_id = $1), updated_at = $2
WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, communicationID, time.Now().UTC()); err != nil {
		return fmt.Errorf("recount replies: %w", err)
	}
	return nil
}
