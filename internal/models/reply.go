package models

import "time"

// Reply belongs to exactly one communication. Deleting the parent cascades to
// its replies; the parent's reply_count is recomputed in the same transaction
// as every insert or delete, never trusted independently.
type Reply struct {
	ID              int64     `db:"id" json:"id"`
	CommunicationID int64     `db:"communication_id" json:"communication_id"`
	AuthorID        string    `db:"author_id" json:"author_id"`
	Content         string    `db:"content" json:"content"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
