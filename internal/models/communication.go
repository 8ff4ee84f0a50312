package models

import "time"

// CommunicationType discriminates the unified communication entity.
type CommunicationType string

const (
	CommunicationAnnouncement CommunicationType = "announcement"
	CommunicationMessage      CommunicationType = "message"
	CommunicationMessageBoard CommunicationType = "message_board"
	CommunicationReminder     CommunicationType = "reminder"
	CommunicationNewsletter   CommunicationType = "newsletter"
)

// ValidCommunicationType reports whether t is a known discriminator.
func ValidCommunicationType(t CommunicationType) bool {
	switch t {
	case CommunicationAnnouncement, CommunicationMessage, CommunicationMessageBoard,
		CommunicationReminder, CommunicationNewsletter:
		return true
	default:
		return false
	}
}

// Audience classifies who may read a published communication.
type Audience string

const (
	AudienceTeachers Audience = "teachers"
	AudienceParents  Audience = "parents"
	AudienceAll      Audience = "all"
)

// ValidAudience reports whether a is a known audience.
func ValidAudience(a Audience) bool {
	switch a {
	case AudienceTeachers, AudienceParents, AudienceAll:
		return true
	default:
		return false
	}
}

// Priority orders communications in listings.
// critical is part of the shared schema but only the reminder and
// message_board validators accept it; announcements and newsletters cap at
// high. The asymmetry is intentional and must not be unified.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ValidPriority reports whether p is part of the shared schema.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// Status is the communication lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s Status) bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	default:
		return false
	}
}

// ValidTransition encodes the status state machine. archived is terminal.
func ValidTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusDraft:
		return to == StatusPublished || to == StatusArchived
	case StatusPublished:
		return to == StatusDraft || to == StatusArchived
	default:
		return false
	}
}

// BoardType scopes message_board communications to a board.
type BoardType string

const (
	BoardTeachers BoardType = "teachers"
	BoardParents  BoardType = "parents"
	BoardGeneral  BoardType = "general"
)

// ValidBoardType reports whether b is a known board.
func ValidBoardType(b BoardType) bool {
	switch b {
	case BoardTeachers, BoardParents, BoardGeneral:
		return true
	default:
		return false
	}
}

// BoardFields carries the message/message_board extension columns.
// SourceGroup is a free-text origin label (an office or team name); it is an
// open set and deliberately not validated against an enum.
type BoardFields struct {
	SourceGroup *string    `db:"source_group" json:"source_group,omitempty"`
	BoardType   *BoardType `db:"board_type" json:"board_type,omitempty"`
}

// ReminderFields carries the reminder extension columns. RecurringPattern is
// a human-readable recurrence description, never parsed.
type ReminderFields struct {
	DueDate          *time.Time `db:"due_date" json:"due_date,omitempty"`
	IsRecurring      bool       `db:"is_recurring" json:"is_recurring"`
	RecurringPattern *string    `db:"recurring_pattern" json:"recurring_pattern,omitempty"`
}

// Communication is the unified record behind announcements, messages, board
// posts, reminders and newsletters. The shared base payload plus the
// type-keyed extension fields replace five separate tables.
type Communication struct {
	ID             int64             `db:"id" json:"id"`
	Type           CommunicationType `db:"type" json:"type"`
	Title          string            `db:"title" json:"title"`
	Content        string            `db:"content" json:"content"`
	Summary        *string           `db:"summary" json:"summary,omitempty"`
	TargetAudience Audience          `db:"target_audience" json:"target_audience"`
	Priority       Priority          `db:"priority" json:"priority"`
	Status         Status            `db:"status" json:"status"`
	IsImportant    bool              `db:"is_important" json:"is_important"`
	IsPinned       bool              `db:"is_pinned" json:"is_pinned"`

	BoardFields
	ReminderFields

	AuthorID    string     `db:"author_id" json:"author_id"`
	ReplyCount  int        `db:"reply_count" json:"reply_count"`
	PublishedAt *time.Time `db:"published_at" json:"published_at,omitempty"`
	ExpiresAt   *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// CommunicationFilter describes listing criteria.
type CommunicationFilter struct {
	Type           *CommunicationType
	Status         *Status
	Audiences      []Audience
	Priority       *Priority
	Pinned         *bool
	AuthorID       string
	Search         string
	IncludeExpired bool
	Page           int
	PageSize       int
}
