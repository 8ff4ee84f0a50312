package models

// BulkAction enumerates operations applicable across many communications.
type BulkAction string

const (
	BulkPublish        BulkAction = "publish"
	BulkArchive        BulkAction = "archive"
	BulkDraft          BulkAction = "draft"
	BulkDelete         BulkAction = "delete"
	BulkUpdatePriority BulkAction = "update_priority"
)

// ValidBulkAction reports whether a is a supported action.
func ValidBulkAction(a BulkAction) bool {
	switch a {
	case BulkPublish, BulkArchive, BulkDraft, BulkDelete, BulkUpdatePriority:
		return true
	default:
		return false
	}
}

// BulkRequest is the wire payload for bulk operations.
type BulkRequest struct {
	Action         string  `json:"action" validate:"required"`
	IDs            []int64 `json:"ids" validate:"required,min=1"`
	TargetPriority *string `json:"targetPriority,omitempty"`
}

// BulkItemError reports a single failed id with its cause.
type BulkItemError struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

// BulkOutcome enumerates per-item results in input order.
type BulkOutcome struct {
	Success []int64         `json:"success"`
	Failed  []BulkItemError `json:"failed"`
}

// BulkResult summarises a bulk call. Items already committed stay committed
// regardless of later failures in the same batch.
type BulkResult struct {
	TotalProcessed int         `json:"totalProcessed"`
	TotalSuccess   int         `json:"totalSuccess"`
	TotalFailed    int         `json:"totalFailed"`
	Results        BulkOutcome `json:"results"`
}
