package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qconnect/qconnect/internal/backend"
	"github.com/qconnect/qconnect/internal/store"
)

// ConversationStore owns the identity and message history of the single
// active conversation. The active id is always the server-confirmed one,
// except during Restore where the last persisted id is used optimistically
// until Load confirms it or falls back to a fresh conversation.
type ConversationStore struct {
	backend *backend.Client
	local   *store.SQLiteStore
	userID  string

	activeID string
	title    string
	messages []Message
}

func NewConversationStore(b *backend.Client, local *store.SQLiteStore, userID string) *ConversationStore {
	return &ConversationStore{
		backend: b,
		local:   local,
		userID:  userID,
	}
}

func (c *ConversationStore) UserID() string {
	return c.userID
}

func (c *ConversationStore) ActiveID() string {
	return c.activeID
}

func (c *ConversationStore) Title() string {
	return c.title
}

// Messages returns a copy of the in-memory history, preserving insertion
// order.
func (c *ConversationStore) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *ConversationStore) MessageCount() int {
	return len(c.messages)
}

// AppendLocal appends in memory only; pushing messages to the backend is the
// session controller's job.
func (c *ConversationStore) AppendLocal(msg Message) {
	c.messages = append(c.messages, msg)
}

// Create asks the backend for a new conversation and makes it active. On
// failure the previous conversation, if any, stays active and unchanged.
func (c *ConversationStore) Create(ctx context.Context) error {
	title := fmt.Sprintf("New Conversation %s", time.Now().Format("2006-01-02 15:04:05"))
	conv, err := c.backend.CreateConversation(ctx, c.userID, title)
	if err != nil {
		log.Error().Err(err).Str("user_id", c.userID).Msg("Failed to create conversation")
		return err
	}

	c.activeID = conv.ID
	c.title = DisplayTitle(conv)
	c.messages = nil
	c.persistCurrentID(conv.ID)

	log.Info().Str("conversation_id", conv.ID).Msg("Created new conversation")
	return nil
}

// Load fetches a conversation and hydrates the message history. A 404 means
// the persisted id went stale server-side; the store self-heals by creating
// a fresh conversation instead. Any other failure leaves state unchanged.
func (c *ConversationStore) Load(ctx context.Context, id string) error {
	conv, err := c.backend.GetConversation(ctx, id)
	if err != nil {
		if backend.IsNotFound(err) {
			log.Warn().Str("conversation_id", id).Msg("Conversation not found on backend, creating a new one")
			return c.Create(ctx)
		}
		log.Error().Err(err).Str("conversation_id", id).Msg("Failed to load conversation")
		return err
	}

	messages := make([]Message, 0, len(conv.Messages))
	for _, rec := range conv.Messages {
		messages = append(messages, hydrateMessage(rec))
	}

	c.activeID = conv.ID
	c.title = DisplayTitle(conv)
	c.messages = messages
	c.persistCurrentID(conv.ID)

	log.Info().Str("conversation_id", conv.ID).Int("messages", len(messages)).Msg("Loaded conversation")
	return nil
}

// SwitchTo is a no-op when id is already active.
func (c *ConversationStore) SwitchTo(ctx context.Context, id string) error {
	if id == c.activeID {
		return nil
	}
	return c.Load(ctx, id)
}

// Restore resumes the last persisted conversation on startup, falling back
// to a fresh one when nothing was persisted.
func (c *ConversationStore) Restore(ctx context.Context) error {
	id, err := c.local.CurrentConversationID(c.userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read persisted conversation id")
		id = ""
	}
	if id == "" {
		return c.Create(ctx)
	}
	// Optimistically adopt the persisted id; Load confirms or falls back.
	c.activeID = id
	return c.Load(ctx, id)
}

func (c *ConversationStore) persistCurrentID(id string) {
	if err := c.local.SetCurrentConversationID(c.userID, id); err != nil {
		log.Error().Err(err).Str("conversation_id", id).Msg("Failed to persist current conversation id")
	}
}
