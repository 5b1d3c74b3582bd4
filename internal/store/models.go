package store

import "time"

type User struct {
	ID             int64     `json:"id"`
	ExternalUserID string    `json:"external_user_id"`
	PasswordHash   string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt      time.Time `json:"created_at"`
}

// FeedbackRecord is one vote on a generated query. Rows double as the
// durable lookup map (keyed by QueryID) and, while Synced is false, as
// entries of the pending sync queue.
type FeedbackRecord struct {
	QueryID        string    `json:"query_id"`
	FeedbackType   string    `json:"feedback_type"` // "positive" or "negative"
	OriginalText   string    `json:"original_text"`
	GeneratedQuery string    `json:"generated_query"`
	ConversationID *string   `json:"conversation_id"` // Nullable
	UserID         string    `json:"user_id"`
	Timestamp      time.Time `json:"timestamp"`
	Synced         bool      `json:"synced"`
}
