package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qconnect/qconnect/internal/backend"
	"github.com/qconnect/qconnect/internal/store"
)

const (
	FeedbackPositive = "positive"
	FeedbackNegative = "negative"
)

// FeedbackMeta is the context captured alongside a vote so it can be
// replayed to the backend later.
type FeedbackMeta struct {
	OriginalText   string
	GeneratedQuery string
	ConversationID string // empty when the vote happened outside a conversation
	UserID         string
}

// FeedbackLedger is the durable, idempotent record of votes per generated
// query, plus the pending queue of votes not yet confirmed by the backend.
// Delivery is at-least-once intent: an entry leaves the queue only after a
// confirmed remote write.
type FeedbackLedger struct {
	local   *store.SQLiteStore
	backend *backend.Client
}

func NewFeedbackLedger(local *store.SQLiteStore, b *backend.Client) *FeedbackLedger {
	return &FeedbackLedger{local: local, backend: b}
}

// Record stores a vote. The first vote per query wins; later votes are
// rejected as no-ops, never overwritten.
func (l *FeedbackLedger) Record(queryID, feedbackType string, meta FeedbackMeta) error {
	if feedbackType != FeedbackPositive && feedbackType != FeedbackNegative {
		return fmt.Errorf("invalid feedback type %q", feedbackType)
	}

	existing, err := l.local.GetFeedback(queryID)
	if err != nil {
		return fmt.Errorf("failed to check existing feedback: %w", err)
	}
	if existing != nil {
		log.Debug().Str("query_id", queryID).Str("recorded", existing.FeedbackType).Msg("Feedback already recorded, ignoring new vote")
		return nil
	}

	rec := &store.FeedbackRecord{
		QueryID:        queryID,
		FeedbackType:   feedbackType,
		OriginalText:   meta.OriginalText,
		GeneratedQuery: meta.GeneratedQuery,
		UserID:         meta.UserID,
		Timestamp:      time.Now(),
	}
	if meta.ConversationID != "" {
		rec.ConversationID = &meta.ConversationID
	}

	if err := l.local.RecordFeedback(rec); err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}
	log.Info().Str("query_id", queryID).Str("feedback_type", feedbackType).Msg("Recorded feedback")
	return nil
}

// Get returns the recorded vote for a query, or "" when none exists.
func (l *FeedbackLedger) Get(queryID string) string {
	rec, err := l.local.GetFeedback(queryID)
	if err != nil {
		log.Error().Err(err).Str("query_id", queryID).Msg("Failed to look up feedback")
		return ""
	}
	if rec == nil {
		return ""
	}
	return rec.FeedbackType
}

func (l *FeedbackLedger) PendingCount() int {
	count, err := l.local.PendingFeedbackCount()
	if err != nil {
		log.Error().Err(err).Msg("Failed to count pending feedback")
		return 0
	}
	return count
}

// SyncPending attempts one remote write for the oldest pending entry. On
// failure the queue is left untouched so the entry is retried next time.
// Sync is caller-triggered only; there is no background timer.
func (l *FeedbackLedger) SyncPending(ctx context.Context) (bool, string) {
	rec, err := l.local.OldestPending()
	if err != nil {
		return false, fmt.Sprintf("failed to read pending queue: %v", err)
	}
	if rec == nil {
		return true, "no pending feedback"
	}

	err = l.backend.SubmitFeedback(ctx, backend.FeedbackSubmission{
		QueryID:        rec.QueryID,
		UserID:         rec.UserID,
		OriginalQuery:  rec.OriginalText,
		GeneratedQuery: rec.GeneratedQuery,
		ConversationID: rec.ConversationID,
		FeedbackType:   rec.FeedbackType,
		Timestamp:      rec.Timestamp,
	})
	if err != nil {
		log.Warn().Err(err).Str("query_id", rec.QueryID).Msg("Feedback sync failed, entry stays queued")
		return false, err.Error()
	}

	if err := l.local.MarkFeedbackSynced(rec.QueryID); err != nil {
		// The remote write landed; the entry will be re-sent next sync.
		log.Error().Err(err).Str("query_id", rec.QueryID).Msg("Failed to dequeue synced feedback")
		return false, err.Error()
	}
	log.Info().Str("query_id", rec.QueryID).Msg("Synced feedback")
	return true, fmt.Sprintf("synced feedback for query %s", rec.QueryID)
}
