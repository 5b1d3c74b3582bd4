package core

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/qconnect/qconnect/internal/backend"
	"github.com/qconnect/qconnect/internal/store"
)

// stubBackend is an in-process stand-in for the remote query-generation API.
type stubBackend struct {
	srv *httptest.Server

	mu            sync.Mutex
	conversations map[string]*backend.Conversation
	created       int
	getCalls      int
	deleteCalls   int
	summaryCalls  int
	titleUpdates  []string
	histories     [][]backend.HistoryEntry
	retries       []backend.RetryRequest
	submissions   []backend.FeedbackSubmission
	listing       []backend.Conversation
	verified      []string

	failGenerate bool
	failRetry    bool
	failFeedback bool
	failSummary  bool
	failCreate   bool
	genBlock     chan struct{}

	generatedQuery string
}

func newStubBackend(t *testing.T) *stubBackend {
	t.Helper()
	sb := &stubBackend{
		conversations:  make(map[string]*backend.Conversation),
		generatedQuery: "select from trade where date=.z.d",
	}

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/conversations", sb.handleCreate)
		r.Get("/conversations/verified-info", sb.handleVerified)
		r.Get("/conversations/{id}", sb.handleGet)
		r.Put("/conversations/{id}", sb.handleTouch)
		r.Delete("/conversations/{id}", sb.handleDelete)
		r.Get("/conversations/{id}/summary", sb.handleSummary)
		r.Post("/conversations/{id}/messages", sb.handleSaveMessage)
		r.Get("/user/{userID}/conversations", sb.handleList)
		r.Post("/query", sb.handleGenerate)
		r.Post("/retry", sb.handleRetry)
		r.Post("/feedback/positive", sb.handleFeedback)
		r.Post("/feedback/flexible", sb.handleFeedback)
	})

	sb.srv = httptest.NewServer(r)
	t.Cleanup(sb.srv.Close)
	return sb
}

func (sb *stubBackend) client() *backend.Client {
	return backend.NewClient(sb.srv.URL, "/api/v1")
}

func (sb *stubBackend) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Title  string `json:"title"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	sb.mu.Lock()
	if sb.failCreate {
		sb.mu.Unlock()
		writeDetail(w, http.StatusInternalServerError, "conversation service down")
		return
	}
	sb.created++
	conv := &backend.Conversation{
		ID:        fmt.Sprintf("conv-%d", sb.created),
		UserID:    req.UserID,
		Title:     &req.Title,
		CreatedAt: time.Now(),
	}
	sb.conversations[conv.ID] = conv
	sb.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(conv)
}

func (sb *stubBackend) handleGet(w http.ResponseWriter, r *http.Request) {
	sb.mu.Lock()
	sb.getCalls++
	conv, ok := sb.conversations[chi.URLParam(r, "id")]
	sb.mu.Unlock()

	if !ok {
		writeDetail(w, http.StatusNotFound, "Conversation not found")
		return
	}
	json.NewEncoder(w).Encode(conv)
}

func (sb *stubBackend) handleTouch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	sb.mu.Lock()
	sb.titleUpdates = append(sb.titleUpdates, req.Title)
	if conv, ok := sb.conversations[chi.URLParam(r, "id")]; ok {
		conv.Title = &req.Title
	}
	sb.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (sb *stubBackend) handleDelete(w http.ResponseWriter, r *http.Request) {
	sb.mu.Lock()
	sb.deleteCalls++
	delete(sb.conversations, chi.URLParam(r, "id"))
	sb.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (sb *stubBackend) handleSummary(w http.ResponseWriter, r *http.Request) {
	sb.mu.Lock()
	sb.summaryCalls++
	fail := sb.failSummary
	sb.mu.Unlock()

	if fail {
		writeDetail(w, http.StatusInternalServerError, "summarizer down")
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"summary": "recent trading questions"})
}

func (sb *stubBackend) handleSaveMessage(w http.ResponseWriter, r *http.Request) {
	var rec backend.MessageRecord
	json.NewDecoder(r.Body).Decode(&rec)

	sb.mu.Lock()
	if conv, ok := sb.conversations[chi.URLParam(r, "id")]; ok {
		conv.Messages = append(conv.Messages, rec)
	}
	sb.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (sb *stubBackend) handleList(w http.ResponseWriter, r *http.Request) {
	sb.mu.Lock()
	listing := sb.listing
	sb.mu.Unlock()
	json.NewEncoder(w).Encode(listing)
}

func (sb *stubBackend) handleVerified(w http.ResponseWriter, r *http.Request) {
	sb.mu.Lock()
	verified := sb.verified
	sb.mu.Unlock()
	json.NewEncoder(w).Encode(map[string]any{"conversation_ids": verified})
}

func (sb *stubBackend) handleGenerate(w http.ResponseWriter, r *http.Request) {
	sb.mu.Lock()
	block := sb.genBlock
	fail := sb.failGenerate
	sb.mu.Unlock()

	if block != nil {
		<-block
	}
	if fail {
		writeDetail(w, http.StatusInternalServerError, "model exploded")
		return
	}

	var req backend.GenerateRequest
	json.NewDecoder(r.Body).Decode(&req)
	sb.mu.Lock()
	sb.histories = append(sb.histories, req.ConversationHistory)
	query := sb.generatedQuery
	sb.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]any{
		"generated_query": query,
		"response_type":   "query",
		"execution_id":    "exec-1",
	})
}

func (sb *stubBackend) handleRetry(w http.ResponseWriter, r *http.Request) {
	sb.mu.Lock()
	fail := sb.failRetry
	sb.mu.Unlock()

	if fail {
		writeDetail(w, http.StatusInternalServerError, "retry model exploded")
		return
	}

	var req backend.RetryRequest
	json.NewDecoder(r.Body).Decode(&req)

	sb.mu.Lock()
	sb.retries = append(sb.retries, req)
	sb.histories = append(sb.histories, req.ConversationHistory)
	sb.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]any{
		"generated_query": "select from trade where date=.z.d, sym=`EURUSD",
		"response_type":   "query",
	})
}

func (sb *stubBackend) handleFeedback(w http.ResponseWriter, r *http.Request) {
	sb.mu.Lock()
	fail := sb.failFeedback
	sb.mu.Unlock()

	if fail {
		writeDetail(w, http.StatusServiceUnavailable, "feedback store down")
		return
	}

	var sub backend.FeedbackSubmission
	json.NewDecoder(r.Body).Decode(&sub)
	sb.mu.Lock()
	sb.submissions = append(sb.submissions, sub)
	sb.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (sb *stubBackend) setFailGenerate(v bool) {
	sb.mu.Lock()
	sb.failGenerate = v
	sb.mu.Unlock()
}

func (sb *stubBackend) blockGenerate() chan struct{} {
	block := make(chan struct{})
	sb.mu.Lock()
	sb.genBlock = block
	sb.mu.Unlock()
	return block
}

func (sb *stubBackend) savedMessages(conversationID string) []backend.MessageRecord {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	conv, ok := sb.conversations[conversationID]
	if !ok {
		return nil
	}
	out := make([]backend.MessageRecord, len(conv.Messages))
	copy(out, conv.Messages)
	return out
}

func (sb *stubBackend) lastHistory() []backend.HistoryEntry {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if len(sb.histories) == 0 {
		return nil
	}
	return sb.histories[len(sb.histories)-1]
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
