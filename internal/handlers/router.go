package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pliu/letschat/internal/middleware"
)

type RouterConfig struct {
	Auth           *AuthHandler
	Conversations  *ConversationHandler
	Messages       *MessageHandler
	Health         *HealthHandler
	WebSocket      http.Handler // optional, served on /ws behind auth
	Authenticator  middleware.Authenticator
	AllowedOrigins []string
	Log            *slog.Logger
}

// NewRouter wires every endpoint. Recovery, logging and CORS wrap the whole
// router so they also see unmatched routes and preflight requests.
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	requireAuth := middleware.Auth(cfg.Authenticator, cfg.Log)

	r.HandleFunc("/health", cfg.Health.Health).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/register", cfg.Auth.Register).Methods("POST")
	api.HandleFunc("/auth/login", cfg.Auth.Login).Methods("POST")

	private := api.NewRoute().Subrouter()
	private.Use(requireAuth)
	private.HandleFunc("/auth/logout", cfg.Auth.Logout).Methods("POST")
	private.HandleFunc("/auth/me", cfg.Auth.Me).Methods("GET")
	private.HandleFunc("/auth/search", cfg.Auth.SearchUsers).Methods("GET")

	private.HandleFunc("/conversations", cfg.Conversations.List).Methods("GET")
	private.HandleFunc("/conversations", cfg.Conversations.Create).Methods("POST")
	private.HandleFunc("/conversations/{id}", cfg.Conversations.Get).Methods("GET")
	private.HandleFunc("/conversations/{id}/participants", cfg.Conversations.Participants).Methods("GET")
	private.HandleFunc("/conversations/{id}/participants", cfg.Conversations.AddParticipants).Methods("POST")
	private.HandleFunc("/conversations/{id}/participants/{userId}", cfg.Conversations.RemoveParticipant).Methods("DELETE")
	private.HandleFunc("/conversations/{id}/rotate-key", cfg.Conversations.RotateKey).Methods("POST")
	private.HandleFunc("/conversations/{id}/messages", cfg.Messages.List).Methods("GET")
	private.HandleFunc("/conversations/{id}/messages", cfg.Messages.Send).Methods("POST")

	if cfg.WebSocket != nil {
		r.Handle("/ws", requireAuth(cfg.WebSocket)).Methods("GET")
	}

	var h http.Handler = r
	h = middleware.CORS(cfg.AllowedOrigins)(h)
	h = middleware.Logging(cfg.Log)(h)
	h = middleware.Recovery(cfg.Log)(h)
	return h
}
