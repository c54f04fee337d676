package ws

import (
	"context"
	"log/slog"
	"time"

	"github.com/pliu/letschat/internal/events"
	"github.com/pliu/letschat/internal/pubsub"
)

const presenceTimeout = 5 * time.Second

// Presence records whether a user has at least one live connection.
type Presence interface {
	SetPresence(ctx context.Context, userID string, online bool) error
}

type subscription struct {
	client         *Client
	conversationID string
}

type delivery struct {
	topic   pubsub.Topic
	payload []byte
}

type reply struct {
	client  *Client
	payload []byte
}

// Hub tracks connected clients and the conversation rooms they joined. All
// of its maps are owned by the Run goroutine.
type Hub struct {
	clients map[*Client]bool
	users   map[string]map[*Client]bool
	rooms   map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	join       chan subscription
	leave      chan subscription
	deliver    chan delivery
	reply      chan reply
	done       chan struct{}

	presence Presence
	log      *slog.Logger
}

func NewHub(presence Presence, log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		users:      make(map[string]map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan subscription),
		leave:      make(chan subscription),
		deliver:    make(chan delivery, 256),
		reply:      make(chan reply, 64),
		done:       make(chan struct{}),
		presence:   presence,
		log:        log,
	}
}

// Run processes hub events until ctx is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			if h.users[c.userID] == nil {
				h.users[c.userID] = make(map[*Client]bool)
			}
			h.users[c.userID][c] = true
			if len(h.users[c.userID]) == 1 {
				h.setPresence(c.userID, true)
			}
		case c := <-h.unregister:
			h.drop(c)
		case s := <-h.join:
			if !h.clients[s.client] {
				continue
			}
			h.joinRoom(s.client, s.conversationID)
		case s := <-h.leave:
			h.leaveRoom(s.client, s.conversationID)
		case r := <-h.reply:
			if h.clients[r.client] {
				h.send(r.client, r.payload)
			}
		case d := <-h.deliver:
			h.route(d)
		}
	}
}

// Wait blocks until Run has returned and every client has been dropped.
func (h *Hub) Wait() {
	<-h.done
}

// Deliver hands a broker message to the hub. It matches pubsub.Handler.
func (h *Hub) Deliver(topic pubsub.Topic, payload []byte) {
	select {
	case h.deliver <- delivery{topic: topic, payload: payload}:
	case <-h.done:
	}
}

func (h *Hub) route(d delivery) {
	ev, err := events.Decode(d.payload)
	if err != nil {
		h.log.Warn("dropping undecodable broker message", "channel", d.topic.Channel(), "err", err)
		return
	}

	switch d.topic.Kind {
	case pubsub.KindConversation:
		removed := ev.Type == events.TypeParticipantRemoved
		for c := range h.rooms[d.topic.ID] {
			// The removed user gets its own copy on the user topic.
			if removed && c.userID == ev.UserID {
				continue
			}
			h.send(c, d.payload)
		}
		if removed {
			for c := range h.users[ev.UserID] {
				h.leaveRoom(c, d.topic.ID)
			}
		}
	case pubsub.KindUser:
		for c := range h.users[d.topic.ID] {
			h.send(c, d.payload)
			// New memberships start receiving the conversation right away.
			if h.clients[c] && (ev.Type == events.TypeConversationCreated || ev.Type == events.TypeParticipantAdded) {
				h.joinRoom(c, ev.ConversationID)
			}
		}
	}
}

func (h *Hub) joinRoom(c *Client, conversationID string) {
	if conversationID == "" {
		return
	}
	if h.rooms[conversationID] == nil {
		h.rooms[conversationID] = make(map[*Client]bool)
	}
	h.rooms[conversationID][c] = true
	c.rooms[conversationID] = true
}

func (h *Hub) leaveRoom(c *Client, conversationID string) {
	room := h.rooms[conversationID]
	if room == nil {
		return
	}
	delete(room, c)
	delete(c.rooms, conversationID)
	if len(room) == 0 {
		delete(h.rooms, conversationID)
	}
}

// send never blocks the hub: a client whose buffer is full is dropped.
func (h *Hub) send(c *Client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.log.Warn("dropping slow websocket client", "user_id", c.userID)
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	if !h.clients[c] {
		return
	}
	for id := range c.rooms {
		h.leaveRoom(c, id)
	}
	delete(h.clients, c)
	close(c.send)

	if conns := h.users[c.userID]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.users, c.userID)
			h.setPresence(c.userID, false)
		}
	}
}

func (h *Hub) setPresence(userID string, online bool) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.presence.SetPresence(ctx, userID, online); err != nil {
		h.log.Warn("failed to update presence", "user_id", userID, "online", online, "err", err)
	}
}

// The methods below are safe to call from any goroutine. They give up once
// the hub has stopped.

func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) Join(c *Client, conversationID string) {
	select {
	case h.join <- subscription{client: c, conversationID: conversationID}:
	case <-h.done:
	}
}

func (h *Hub) Leave(c *Client, conversationID string) {
	select {
	case h.leave <- subscription{client: c, conversationID: conversationID}:
	case <-h.done:
	}
}

// Reply queues a frame for one client only.
func (h *Hub) Reply(c *Client, ev *events.Event) {
	payload, err := ev.Encode()
	if err != nil {
		h.log.Error("failed to encode reply", "type", ev.Type, "err", err)
		return
	}
	select {
	case h.reply <- reply{client: c, payload: payload}:
	case <-h.done:
	}
}
