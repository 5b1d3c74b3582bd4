package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qconnect/qconnect/internal/backend"
)

// ErrDeleteNotConfirmed is returned when deleting a conversation with
// verified queries and the caller declined confirmation. No delete call is
// issued in that case.
var ErrDeleteNotConfirmed = errors.New("conversation deletion not confirmed")

// ConversationSummary is one row of the sidebar listing.
type ConversationSummary struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// ConversationDirectory lists, searches and deletes a user's conversations.
type ConversationDirectory struct {
	backend *backend.Client
	userID  string

	conversations []ConversationSummary
}

func NewConversationDirectory(b *backend.Client, userID string) *ConversationDirectory {
	return &ConversationDirectory{backend: b, userID: userID}
}

// ListForUser fetches the user's conversations, drops archived ones, derives
// display titles and sorts newest-first by last access (creation time when
// last access is absent). The result is cached for Search.
func (d *ConversationDirectory) ListForUser(ctx context.Context) ([]ConversationSummary, error) {
	conversations, err := d.backend.ListConversations(ctx, d.userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", d.userID).Msg("Failed to list conversations")
		return nil, err
	}

	summaries := make([]ConversationSummary, 0, len(conversations))
	for i := range conversations {
		conv := &conversations[i]
		if conv.IsArchived {
			continue
		}
		summaries = append(summaries, ConversationSummary{
			ID:             conv.ID,
			Title:          DisplayTitle(conv),
			CreatedAt:      conv.CreatedAt,
			LastAccessedAt: conv.LastAccessedAt,
		})
	}

	sortByRecency(summaries)
	d.conversations = summaries
	return summaries, nil
}

// Search filters the cached listing: case-insensitive substring match on the
// display title, or an exact id match.
func (d *ConversationDirectory) Search(term string) []ConversationSummary {
	if term == "" {
		return d.conversations
	}
	lowered := strings.ToLower(term)

	var matched []ConversationSummary
	for _, conv := range d.conversations {
		if strings.Contains(strings.ToLower(conv.Title), lowered) || conv.ID == term {
			matched = append(matched, conv)
		}
	}
	return matched
}

// Delete removes a conversation. Conversations holding verified queries
// cascade their feedback records on deletion, so those require the caller's
// confirm callback to return true first; declining leaves everything
// untouched. A confirmed delete refreshes the cached listing.
func (d *ConversationDirectory) Delete(ctx context.Context, id string, confirm func() bool) error {
	verified, err := d.backend.VerifiedConversationIDs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch verified-query index")
		return fmt.Errorf("failed to check verified queries: %w", err)
	}

	if verified[id] {
		if confirm == nil || !confirm() {
			log.Info().Str("conversation_id", id).Msg("Deletion declined for conversation with verified queries")
			return ErrDeleteNotConfirmed
		}
	}

	if err := d.backend.DeleteConversation(ctx, id); err != nil {
		log.Error().Err(err).Str("conversation_id", id).Msg("Failed to delete conversation")
		return err
	}
	log.Info().Str("conversation_id", id).Msg("Deleted conversation")

	if _, err := d.ListForUser(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to refresh conversation list after delete")
	}
	return nil
}

func sortByRecency(summaries []ConversationSummary) {
	recency := func(s ConversationSummary) time.Time {
		if !s.LastAccessedAt.IsZero() {
			return s.LastAccessedAt
		}
		return s.CreatedAt
	}
	sort.Slice(summaries, func(i, j int) bool {
		return recency(summaries[i]).After(recency(summaries[j]))
	})
}

const (
	titleTruncateAt  = 30
	titleTruncateLen = 27
)

// DisplayTitle derives the title shown for a conversation: explicit title,
// else the first user message truncated, else the creation date, else a stub
// from the id. This is the single source of truth for title derivation,
// shared by the directory listing and conversation hydration.
func DisplayTitle(conv *backend.Conversation) string {
	if conv.Title != nil && *conv.Title != "" {
		return *conv.Title
	}

	for _, msg := range conv.Messages {
		if msg.Role != "user" || msg.Content == "" {
			continue
		}
		if len(msg.Content) > titleTruncateAt {
			return msg.Content[:titleTruncateLen] + "..."
		}
		return msg.Content
	}

	if !conv.CreatedAt.IsZero() {
		return formatConversationDate(conv.CreatedAt)
	}

	id := conv.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "Conversation " + id
}

// formatConversationDate renders a timestamp the way the sidebar does: time
// of day for today, month and day within the current year, full date
// otherwise.
func formatConversationDate(t time.Time) string {
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	if t.Year() == now.Year() {
		return t.Format("Jan 2")
	}
	return t.Format("Jan 2, 2006")
}
