package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/qconnect/qconnect/internal/auth"
	"github.com/qconnect/qconnect/internal/backend"
	"github.com/qconnect/qconnect/internal/config"
	"github.com/qconnect/qconnect/internal/core"
	"github.com/qconnect/qconnect/internal/store"
)

// userSession bundles the per-user orchestrator state: one active
// conversation, one directory.
type userSession struct {
	session   *core.Session
	directory *core.ConversationDirectory
}

type APIHandler struct {
	local   *store.SQLiteStore
	backend *backend.Client
	ledger  *core.FeedbackLedger

	mu       sync.Mutex
	sessions map[string]*userSession
}

func NewAPIHandler(local *store.SQLiteStore, b *backend.Client, ledger *core.FeedbackLedger) *APIHandler {
	return &APIHandler{
		local:    local,
		backend:  b,
		ledger:   ledger,
		sessions: make(map[string]*userSession),
	}
}

// sessionFor lazily builds the orchestrator for a user, restoring the last
// persisted conversation on first touch.
func (h *APIHandler) sessionFor(ctx context.Context, externalUserID string) (*userSession, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if us, ok := h.sessions[externalUserID]; ok {
		return us, nil
	}

	conv := core.NewConversationStore(h.backend, h.local, externalUserID)
	if err := conv.Restore(ctx); err != nil {
		return nil, err
	}

	us := &userSession{
		session:   core.NewSession(conv, h.backend, config.AppConfig.Model, config.AppConfig.DatabaseType),
		directory: core.NewConversationDirectory(h.backend, externalUserID),
	}
	h.sessions[externalUserID] = us
	return us, nil
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		externalUserID, err := auth.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := h.local.GetUserByExternalID(externalUserID)
		if err != nil {
			log.Error().Err(err).Str("user_id", externalUserID).Msg("Failed to resolve user identity")
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "User not found", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), "externalUserID", user.ExternalUserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type SignupRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.UserID == "" || req.Password == "" {
		http.Error(w, "User ID and password are required", http.StatusBadRequest)
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("Failed to hash password")
		http.Error(w, "Failed to process password", http.StatusInternalServerError)
		return
	}

	user, err := h.local.CreateUser(req.UserID, hashedPassword)
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("Failed to create user")
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

type LoginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.UserID == "" || req.Password == "" {
		http.Error(w, "User ID and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.local.GetUserByExternalID(req.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("Failed to look up user")
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(req.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("Failed to generate JWT")
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

func externalUserID(r *http.Request) string {
	id, _ := r.Context().Value("externalUserID").(string)
	return id
}

type SendMessageRequest struct {
	Text string `json:"text"`
}

type SendMessageResponse struct {
	ConversationID string        `json:"conversation_id"`
	Message        *core.Message `json:"message"`
}

func (h *APIHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := externalUserID(r)

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "Message text cannot be empty", http.StatusBadRequest)
		return
	}

	us, err := h.sessionFor(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to prepare session")
		http.Error(w, "Failed to prepare session", http.StatusInternalServerError)
		return
	}

	msg, err := us.session.Send(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, core.ErrBusy) {
			http.Error(w, "Another request is already in flight", http.StatusConflict)
			return
		}
		log.Error().Err(err).Str("user_id", userID).Msg("Send failed")
		http.Error(w, "Failed to send message", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(SendMessageResponse{
		ConversationID: us.session.Conversation().ActiveID(),
		Message:        msg,
	})
}

type RetryMessageRequest struct {
	OriginalText  string `json:"original_text"`
	OriginalQuery string `json:"original_query"`
	Feedback      string `json:"feedback"`
}

func (h *APIHandler) RetryMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := externalUserID(r)

	var req RetryMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Feedback) == "" {
		http.Error(w, "Feedback text cannot be empty", http.StatusBadRequest)
		return
	}

	us, err := h.sessionFor(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to prepare session")
		http.Error(w, "Failed to prepare session", http.StatusInternalServerError)
		return
	}

	msg, err := us.session.Retry(r.Context(), req.OriginalText, req.OriginalQuery, req.Feedback)
	if err != nil {
		if errors.Is(err, core.ErrBusy) {
			http.Error(w, "Another request is already in flight", http.StatusConflict)
			return
		}
		log.Error().Err(err).Str("user_id", userID).Msg("Retry failed")
		http.Error(w, "Failed to retry query", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(SendMessageResponse{
		ConversationID: us.session.Conversation().ActiveID(),
		Message:        msg,
	})
}

type ConversationResponse struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Messages []core.Message `json:"messages"`
}

func (h *APIHandler) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := externalUserID(r)

	us, err := h.sessionFor(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to prepare session")
		http.Error(w, "Failed to prepare session", http.StatusInternalServerError)
		return
	}

	conv := us.session.Conversation()
	if err := conv.Create(r.Context()); err != nil {
		http.Error(w, "Failed to create conversation", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ConversationResponse{
		ID:       conv.ActiveID(),
		Title:    conv.Title(),
		Messages: conv.Messages(),
	})
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := externalUserID(r)
	conversationID := chi.URLParam(r, "conversationID")

	us, err := h.sessionFor(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to prepare session")
		http.Error(w, "Failed to prepare session", http.StatusInternalServerError)
		return
	}

	conv := us.session.Conversation()
	if err := conv.SwitchTo(r.Context(), conversationID); err != nil {
		http.Error(w, "Failed to load conversation", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(ConversationResponse{
		ID:       conv.ActiveID(),
		Title:    conv.Title(),
		Messages: conv.Messages(),
	})
}

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	userID := externalUserID(r)

	us, err := h.sessionFor(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to prepare session")
		http.Error(w, "Failed to prepare session", http.StatusInternalServerError)
		return
	}

	summaries, err := us.directory.ListForUser(r.Context())
	if err != nil {
		http.Error(w, "Failed to list conversations", http.StatusInternalServerError)
		return
	}
	if term := r.URL.Query().Get("q"); term != "" {
		summaries = us.directory.Search(term)
	}
	if summaries == nil {
		summaries = []core.ConversationSummary{}
	}
	json.NewEncoder(w).Encode(summaries)
}

func (h *APIHandler) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := externalUserID(r)
	conversationID := chi.URLParam(r, "conversationID")
	force := r.URL.Query().Get("force") == "true"

	us, err := h.sessionFor(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to prepare session")
		http.Error(w, "Failed to prepare session", http.StatusInternalServerError)
		return
	}

	err = us.directory.Delete(r.Context(), conversationID, func() bool { return force })
	if err != nil {
		if errors.Is(err, core.ErrDeleteNotConfirmed) {
			http.Error(w, "Conversation contains verified queries; deleting it removes their feedback records. Repeat with force=true to confirm.", http.StatusConflict)
			return
		}
		http.Error(w, "Failed to delete conversation", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type FeedbackRequest struct {
	FeedbackType   string `json:"feedback_type"`
	OriginalText   string `json:"original_text"`
	GeneratedQuery string `json:"generated_query"`
}

func (h *APIHandler) RecordFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	userID := externalUserID(r)
	queryID := chi.URLParam(r, "queryID")

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	us, err := h.sessionFor(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to prepare session")
		http.Error(w, "Failed to prepare session", http.StatusInternalServerError)
		return
	}

	err = h.ledger.Record(queryID, req.FeedbackType, core.FeedbackMeta{
		OriginalText:   req.OriginalText,
		GeneratedQuery: req.GeneratedQuery,
		ConversationID: us.session.Conversation().ActiveID(),
		UserID:         userID,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The stored vote may differ from the request when one already existed.
	json.NewEncoder(w).Encode(map[string]string{
		"query_id":      queryID,
		"feedback_type": h.ledger.Get(queryID),
	})
}

func (h *APIHandler) GetFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	queryID := chi.URLParam(r, "queryID")
	json.NewEncoder(w).Encode(map[string]string{
		"query_id":      queryID,
		"feedback_type": h.ledger.Get(queryID),
	})
}

func (h *APIHandler) SyncFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	ok, message := h.ledger.SyncPending(r.Context())
	json.NewEncoder(w).Encode(map[string]any{
		"success": ok,
		"message": message,
		"pending": h.ledger.PendingCount(),
	})
}

func (h *APIHandler) DirectivesHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(core.DefaultDirectives())
}

type ExecuteQueryRequest struct {
	Query       string `json:"query"`
	ExecutionID string `json:"execution_id"`
}

// ExecuteQueryHandler forwards a generated query to the backend for
// execution and relays the rows.
func (h *APIHandler) ExecuteQueryHandler(w http.ResponseWriter, r *http.Request) {
	var req ExecuteQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "Query cannot be empty", http.StatusBadRequest)
		return
	}

	results, err := h.backend.Execute(r.Context(), backend.ExecuteRequest{
		Query:       req.Query,
		ExecutionID: req.ExecutionID,
	})
	if err != nil {
		log.Error().Err(err).Msg("Query execution failed")
		http.Error(w, "Failed to execute query", http.StatusBadGateway)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"results": results})
}
