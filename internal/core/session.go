package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qconnect/qconnect/internal/backend"
)

// ErrBusy is returned when a send or retry is attempted while another one is
// still in flight. Concurrent operations are rejected, never queued.
var ErrBusy = errors.New("a request is already in flight")

const titleMaxLen = 50

// Session drives the send/retry state machine over the active conversation:
// Idle -> Sending -> (Succeeded | Failed) -> Idle. At most one operation is
// in flight at a time, enforced here rather than trusted to the UI layer.
type Session struct {
	conv    *ConversationStore
	backend *backend.Client

	model        string
	databaseType string

	mu      sync.Mutex
	sending bool
}

func NewSession(conv *ConversationStore, b *backend.Client, model, databaseType string) *Session {
	return &Session{
		conv:         conv,
		backend:      b,
		model:        model,
		databaseType: databaseType,
	}
}

func (s *Session) Conversation() *ConversationStore {
	return s.conv
}

// Sending reports whether an operation is currently in flight.
func (s *Session) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sending {
		return ErrBusy
	}
	s.sending = true
	return nil
}

func (s *Session) finish() {
	s.mu.Lock()
	s.sending = false
	s.mu.Unlock()
}

// Send runs one generation round trip. It always terminates with the
// conversation holding a user/assistant message pair and the session back at
// idle; backend failures become an inline assistant message, never an error.
func (s *Session) Send(ctx context.Context, text string) (*Message, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.finish()

	if directives := ParseDirectives(text); len(directives) > 0 {
		log.Debug().Strs("directives", directives).Msg("Directives present in message")
	}

	userMsg := NewUserMessage(text)
	s.conv.AppendLocal(userMsg)

	conversationID := s.conv.ActiveID()
	firstMessage := s.conv.MessageCount() == 1

	summary := ""
	if s.conv.MessageCount() >= 3 {
		summary = s.fetchSummary(ctx, conversationID)
	}

	if firstMessage && conversationID != "" {
		s.updateTitleAsync(conversationID, text)
	}

	result, err := s.backend.Generate(ctx, backend.GenerateRequest{
		Query:               text,
		Model:               s.model,
		DatabaseType:        s.databaseType,
		ConversationID:      conversationID,
		ConversationHistory: contextWindow(s.conv.Messages()),
		ConversationSummary: summary,
		UserID:              s.conv.UserID(),
	})
	if err != nil {
		log.Error().Err(err).Msg("Query generation failed")
		assistant := newErrorMessage(errorText(err))
		s.conv.AppendLocal(assistant)
		return &assistant, nil
	}

	assistant := newAssistantMessage(result)
	s.conv.AppendLocal(assistant)
	s.persistExchange(ctx, conversationID, userMsg, assistant)
	return &assistant, nil
}

// Retry asks the backend to improve a previous query based on user feedback.
// Unlike Send, the summary is always fetched, and a transport failure falls
// back to a locally synthesized query flagged Degraded -- a placeholder, not
// a real fix.
func (s *Session) Retry(ctx context.Context, originalText, originalQuery, feedbackText string) (*Message, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.finish()

	userMsg := NewUserMessage("Feedback on the previous query: " + feedbackText)
	s.conv.AppendLocal(userMsg)

	conversationID := s.conv.ActiveID()
	summary := s.fetchSummary(ctx, conversationID)

	result, err := s.backend.RetryGenerate(ctx, backend.RetryRequest{
		OriginalQuery:          originalText,
		OriginalGeneratedQuery: originalQuery,
		Feedback:               feedbackText,
		Model:                  s.model,
		DatabaseType:           s.databaseType,
		ConversationID:         conversationID,
		ConversationHistory:    contextWindow(s.conv.Messages()),
		ConversationSummary:    summary,
		UserID:                 s.conv.UserID(),
	})
	if err != nil {
		if backend.IsTransportError(err) {
			log.Warn().Err(err).Msg("Retry unreachable, synthesizing offline suggestion")
			assistant := Message{
				ID:        newLocalID(),
				Sender:    SenderAssistant,
				Text:      labelOfflineSuggestion,
				Query:     fallbackImprovedQuery(originalQuery),
				Degraded:  true,
				Timestamp: time.Now(),
			}
			s.conv.AppendLocal(assistant)
			return &assistant, nil
		}
		log.Error().Err(err).Msg("Query retry failed")
		assistant := newErrorMessage(errorText(err))
		s.conv.AppendLocal(assistant)
		return &assistant, nil
	}

	assistant := newAssistantMessage(result)
	s.conv.AppendLocal(assistant)
	s.persistExchange(ctx, conversationID, userMsg, assistant)
	return &assistant, nil
}

// fetchSummary is best-effort; a failure yields an empty summary and never
// aborts the main flow.
func (s *Session) fetchSummary(ctx context.Context, conversationID string) string {
	if conversationID == "" {
		return ""
	}
	summary, err := s.backend.Summary(ctx, conversationID)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("Failed to fetch conversation summary")
		return ""
	}
	return summary
}

// updateTitleAsync titles the conversation after its first message,
// fire-and-forget.
func (s *Session) updateTitleAsync(conversationID, text string) {
	title := text
	if len(title) > titleMaxLen {
		title = title[:titleMaxLen]
	}
	go func() {
		if err := s.backend.TouchConversation(context.Background(), conversationID, title); err != nil {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("Failed to update conversation title")
		}
	}()
}

// persistExchange pushes the user and assistant messages to the backend.
// Failures are logged only; the local conversation is already correct.
func (s *Session) persistExchange(ctx context.Context, conversationID string, userMsg, assistant Message) {
	if conversationID == "" {
		log.Warn().Msg("No active conversation id, skipping message persistence")
		return
	}
	records := []backend.MessageRecord{
		{ID: userMsg.ID, Role: "user", Content: userMsg.Text, Timestamp: userMsg.Timestamp},
		{ID: assistant.ID, Role: "assistant", Content: assistantContent(assistant), Timestamp: assistant.Timestamp},
	}
	for _, rec := range records {
		if err := s.backend.SaveMessage(ctx, conversationID, rec); err != nil {
			log.Warn().Err(err).Str("message_id", rec.ID).Msg("Failed to persist message")
		}
	}
}

func assistantContent(msg Message) string {
	if msg.Query != "" {
		return msg.Query
	}
	return msg.Text
}

func errorText(err error) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return err.Error()
}

// fallbackImprovedQuery is the degraded stand-in used when the retry
// endpoint is unreachable: a trivial deterministic rewrite of the original
// query, not a real improvement.
func fallbackImprovedQuery(originalQuery string) string {
	q := strings.TrimSpace(originalQuery)
	if q == "" {
		return "select from trade where date=.z.d"
	}
	if !strings.Contains(q, "where") {
		return q + " where date=.z.d"
	}
	return q
}
