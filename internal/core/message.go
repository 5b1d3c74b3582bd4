package core

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qconnect/qconnect/internal/backend"
)

const (
	SenderUser      = "user"
	SenderAssistant = "assistant"

	labelGeneratedQuery    = "Generated query"
	labelSchemaInformation = "Schema information"
	labelOfflineSuggestion = "Generated query (offline suggestion)"
)

// Message is one entry of the active conversation. For assistant messages
// the substantive content (the generated query, or a schema explanation)
// lives in Query; Text carries the display label. Messages are never
// mutated after creation.
type Message struct {
	ID          string    `json:"id"`
	Sender      string    `json:"sender"`
	Text        string    `json:"text"`
	Query       string    `json:"query,omitempty"`
	Thinking    []string  `json:"thinking,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Degraded    bool      `json:"degraded,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// newLocalID generates a message id that cannot collide across rapid
// successive calls; a bare timestamp is not enough.
func newLocalID() string {
	return "local-" + uuid.NewString()
}

func NewUserMessage(text string) Message {
	return Message{
		ID:        newLocalID(),
		Sender:    SenderUser,
		Text:      text,
		Timestamp: time.Now(),
	}
}

func newAssistantMessage(result *backend.GenerationResult) Message {
	msg := Message{
		ID:          newLocalID(),
		Sender:      SenderAssistant,
		Text:        labelGeneratedQuery,
		Query:       result.Content,
		Thinking:    result.Thinking,
		ExecutionID: result.ExecutionID,
		Timestamp:   time.Now(),
	}
	if result.Kind == backend.KindSchemaDescription {
		msg.Text = labelSchemaInformation
	}
	return msg
}

func newErrorMessage(detail string) Message {
	return Message{
		ID:        newLocalID(),
		Sender:    SenderAssistant,
		Text:      "Failed to generate a query: " + detail,
		Timestamp: time.Now(),
	}
}

// hydrateMessage maps a backend message record into the client shape.
// Anything that is not a user message is shown as an assistant message with
// a label synthesized from what the content looks like.
func hydrateMessage(rec backend.MessageRecord) Message {
	if rec.Role == "user" {
		return Message{
			ID:        rec.ID,
			Sender:    SenderUser,
			Text:      rec.Content,
			Timestamp: rec.Timestamp,
		}
	}

	label := labelSchemaInformation
	if looksLikeQuery(rec.Content) {
		label = labelGeneratedQuery
	}
	return Message{
		ID:        rec.ID,
		Sender:    SenderAssistant,
		Text:      label,
		Query:     rec.Content,
		Timestamp: rec.Timestamp,
	}
}

// looksLikeQuery distinguishes a persisted generated query from a persisted
// schema explanation. Generated queries always start with a query verb.
func looksLikeQuery(content string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(content))
	for _, verb := range []string{"select", "exec", "insert", "update", "delete", "show"} {
		if strings.HasPrefix(trimmed, verb+" ") || trimmed == verb {
			return true
		}
	}
	return false
}

// contextWindowSize bounds the conversational context sent with every
// generation and retry request.
const contextWindowSize = 5

// contextWindow keeps the last contextWindowSize messages in chronological
// order and maps them to role/content pairs. Messages without a usable
// content field (e.g. synthetic error messages) are omitted after the cut.
func contextWindow(messages []Message) []backend.HistoryEntry {
	start := 0
	if len(messages) > contextWindowSize {
		start = len(messages) - contextWindowSize
	}

	history := make([]backend.HistoryEntry, 0, contextWindowSize)
	for _, msg := range messages[start:] {
		content := msg.Text
		if msg.Sender == SenderAssistant {
			content = msg.Query
		}
		if content == "" {
			continue
		}
		history = append(history, backend.HistoryEntry{Role: msg.Sender, Content: content})
	}
	return history
}
