package ws

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"github.com/gorilla/websocket"

	"github.com/pliu/letschat/internal/middleware"
)

// Handler upgrades authenticated requests to websocket clients of Hub. It
// must sit behind middleware.Auth.
type Handler struct {
	hub           *Hub
	conversations Membership
	messages      MessageSender
	upgrader      websocket.Upgrader
	log           *slog.Logger
}

func NewHandler(hub *Hub, conversations Membership, messages MessageSender, allowedOrigins []string, log *slog.Logger) *Handler {
	return &Handler{
		hub:           hub,
		conversations: conversations,
		messages:      messages,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		log: log,
	}
}

// checkOrigin accepts same-host requests, requests without an Origin header
// and any configured origin.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	allowAll := slices.Contains(allowed, "*")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll || slices.Contains(allowed, origin) {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	client := newClient(h.hub, conn, userID, h.conversations, h.messages, h.log)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}
