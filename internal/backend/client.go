package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// APIError is a non-2xx response from the backend, carrying the
// human-readable detail the server provided (or "Unknown error" when the
// body was empty or malformed).
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Detail)
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsTransportError reports whether err is a network-level failure rather
// than a response the backend actually sent.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	return !errors.As(err, &apiErr)
}

// Client is a typed wrapper over the remote query-generation API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client for the API rooted at baseURL+prefix. No request
// timeout is set here; callers bound latency through their context.
func NewClient(baseURL, prefix string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + prefix,
		httpClient: &http.Client{},
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Detail: errorDetail(raw)}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}

// errorDetail extracts a human-readable message from an error body: the JSON
// "detail" field when present, the raw text otherwise, "Unknown error" when
// there is nothing usable.
func errorDetail(raw []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return "Unknown error"
}

type createConversationRequest struct {
	UserID   string         `json:"user_id"`
	Title    string         `json:"title"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (c *Client) CreateConversation(ctx context.Context, userID, title string) (*Conversation, error) {
	var conv Conversation
	err := c.doJSON(ctx, http.MethodPost, "/conversations", createConversationRequest{UserID: userID, Title: title}, &conv)
	if err != nil {
		return nil, err
	}
	if conv.UserID == "" {
		conv.UserID = userID
	}
	if conv.Title == nil {
		conv.Title = &title
	}
	return &conv, nil
}

func (c *Client) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

type touchConversationRequest struct {
	Title string `json:"title,omitempty"`
}

// TouchConversation partially updates a conversation; today only the title.
func (c *Client) TouchConversation(ctx context.Context, id, title string) error {
	return c.doJSON(ctx, http.MethodPut, "/conversations/"+url.PathEscape(id), touchConversationRequest{Title: title}, nil)
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	var conversations []Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/user/"+url.PathEscape(userID)+"/conversations", nil, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

func (c *Client) SaveMessage(ctx context.Context, conversationID string, msg MessageRecord) error {
	return c.doJSON(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/messages", msg, nil)
}

func (c *Client) Summary(ctx context.Context, conversationID string) (string, error) {
	var resp struct {
		Summary string `json:"summary"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/conversations/"+url.PathEscape(conversationID)+"/summary", nil, &resp); err != nil {
		return "", err
	}
	return resp.Summary, nil
}

// VerifiedConversationIDs returns the set of conversations containing a
// verified query. Deleting one of these cascades feedback records, so the
// directory demands confirmation first.
func (c *Client) VerifiedConversationIDs(ctx context.Context) (map[string]bool, error) {
	var resp struct {
		ConversationIDs []string `json:"conversation_ids"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/conversations/verified-info", nil, &resp); err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(resp.ConversationIDs))
	for _, id := range resp.ConversationIDs {
		ids[id] = true
	}
	return ids, nil
}

func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerationResult, error) {
	var resp generationResponse
	if err := c.doJSON(ctx, http.MethodPost, "/query", req, &resp); err != nil {
		return nil, err
	}
	return resp.resolve(), nil
}

func (c *Client) RetryGenerate(ctx context.Context, req RetryRequest) (*GenerationResult, error) {
	var resp generationResponse
	if err := c.doJSON(ctx, http.MethodPost, "/retry", req, &resp); err != nil {
		return nil, err
	}
	return resp.resolve(), nil
}

// SubmitFeedback pushes one vote to the backend. Positive votes and negative
// ones land on different endpoints, a quirk of the remote API.
func (c *Client) SubmitFeedback(ctx context.Context, sub FeedbackSubmission) error {
	endpoint := "/feedback/flexible"
	if sub.FeedbackType == "positive" {
		endpoint = "/feedback/positive"
	}
	return c.doJSON(ctx, http.MethodPost, endpoint, sub, nil)
}

// Execute runs a generated query server-side and returns the result rows.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) ([]map[string]any, error) {
	if req.Params == nil {
		req.Params = map[string]any{}
	}
	var resp ExecuteResult
	if err := c.doJSON(ctx, http.MethodPost, "/execute", req, &resp); err != nil {
		return nil, err
	}
	log.Debug().Int("rows", len(resp.Results)).Msg("Query execution returned")
	return resp.Results, nil
}
