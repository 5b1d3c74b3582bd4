package backend

import "time"

// ResponseKind discriminates what the generation backend produced. It is
// resolved once here, at the API boundary; downstream code never inspects
// the raw response_type string again.
type ResponseKind string

const (
	KindQuery             ResponseKind = "query"
	KindSchemaDescription ResponseKind = "schema_description"
)

type Conversation struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Title          *string         `json:"title"` // Nullable
	CreatedAt      time.Time       `json:"created_at"`
	LastAccessedAt time.Time       `json:"last_accessed_at"`
	IsArchived     bool            `json:"is_archived"`
	Messages       []MessageRecord `json:"messages,omitempty"`
}

type MessageRecord struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryEntry is one turn of the bounded context window sent with each
// generation or retry request.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type GenerateRequest struct {
	Query               string         `json:"query"`
	Model               string         `json:"model"`
	DatabaseType        string         `json:"database_type"`
	ConversationID      string         `json:"conversation_id,omitempty"`
	ConversationHistory []HistoryEntry `json:"conversation_history"`
	ConversationSummary string         `json:"conversation_summary"`
	UserID              string         `json:"user_id"`
}

type RetryRequest struct {
	OriginalQuery          string         `json:"original_query"`
	OriginalGeneratedQuery string         `json:"original_generated_query"`
	Feedback               string         `json:"feedback"`
	Model                  string         `json:"model"`
	DatabaseType           string         `json:"database_type"`
	ConversationID         string         `json:"conversation_id,omitempty"`
	ConversationHistory    []HistoryEntry `json:"conversation_history"`
	ConversationSummary    string         `json:"conversation_summary"`
	UserID                 string         `json:"user_id"`
}

// GenerationResult is the resolved form of a generate/retry response.
type GenerationResult struct {
	Kind        ResponseKind
	Content     string
	Thinking    []string
	ExecutionID string
}

// generationResponse is the wire shape shared by /query and /retry.
type generationResponse struct {
	GeneratedQuery   string   `json:"generated_query"`
	GeneratedContent string   `json:"generated_content"`
	ResponseType     string   `json:"response_type"`
	Thinking         []string `json:"thinking,omitempty"`
	ExecutionID      string   `json:"execution_id,omitempty"`
}

func (r generationResponse) resolve() *GenerationResult {
	result := &GenerationResult{
		Kind:        KindQuery,
		Content:     r.GeneratedQuery,
		Thinking:    r.Thinking,
		ExecutionID: r.ExecutionID,
	}
	if r.ResponseType == "schema_description" || r.ResponseType == "schema" {
		result.Kind = KindSchemaDescription
	}
	if result.Content == "" {
		result.Content = r.GeneratedContent
	}
	return result
}

type FeedbackSubmission struct {
	QueryID        string    `json:"query_id"`
	UserID         string    `json:"user_id"`
	OriginalQuery  string    `json:"original_query"`
	GeneratedQuery string    `json:"generated_query"`
	ConversationID *string   `json:"conversation_id"`
	FeedbackType   string    `json:"feedback_type"`
	Timestamp      time.Time `json:"timestamp"`
}

type ExecuteRequest struct {
	Query       string         `json:"query"`
	ExecutionID string         `json:"execution_id"`
	Params      map[string]any `json:"params"`
}

type ExecuteResult struct {
	Results []map[string]any `json:"results"`
}
