package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			// Conversation routes
			r.Post("/conversations", apiHandler.CreateConversationHandler)
			r.Get("/conversations", apiHandler.ListConversationsHandler)
			r.Get("/conversations/{conversationID}", apiHandler.GetConversationHandler)
			r.Delete("/conversations/{conversationID}", apiHandler.DeleteConversationHandler)

			// Send/retry
			r.Post("/messages", apiHandler.SendMessageHandler)
			r.Post("/retry", apiHandler.RetryMessageHandler)

			// Feedback ledger
			r.Post("/queries/{queryID}/feedback", apiHandler.RecordFeedbackHandler)
			r.Get("/queries/{queryID}/feedback", apiHandler.GetFeedbackHandler)
			r.Post("/feedback/sync", apiHandler.SyncFeedbackHandler)

			// Query execution passthrough
			r.Post("/execute", apiHandler.ExecuteQueryHandler)

			// Directive registry
			r.Get("/directives", apiHandler.DirectivesHandler)
		})
	})

	return r
}
