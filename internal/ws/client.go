package ws

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pliu/letschat/internal/apperr"
	"github.com/pliu/letschat/internal/events"
	"github.com/pliu/letschat/internal/logger"
	"github.com/pliu/letschat/internal/models"
	"github.com/pliu/letschat/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBuffer     = 64
	requestTimeout = 10 * time.Second
)

// Membership checks that a user may join a conversation.
type Membership interface {
	Get(ctx context.Context, conversationID, requesterID string) (*models.Conversation, error)
}

type MessageSender interface {
	SendMessage(ctx context.Context, in service.SendMessageInput, senderID string) (*events.Event, error)
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte

	// rooms is owned by the hub goroutine.
	rooms map[string]bool

	conversations Membership
	messages      MessageSender
	log           *slog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, userID string, conversations Membership, messages MessageSender, log *slog.Logger) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		userID:        userID,
		send:          make(chan []byte, sendBuffer),
		rooms:         make(map[string]bool),
		conversations: conversations,
		messages:      messages,
		log:           log.With("user_id", userID),
	}
}

// readPump handles inbound frames until the connection fails, then
// unregisters the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	defer logger.Recover(c.log, "ws.readPump")

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read failed", "err", err)
			}
			return
		}
		ev, err := events.Decode(data)
		if err != nil {
			c.hub.Reply(c, events.ErrorEvent("", apperr.InvalidArg("malformed event")))
			continue
		}
		c.handle(ev)
	}
}

func (c *Client) handle(ev *events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch ev.Type {
	case events.TypeJoinConversation:
		if _, err := c.conversations.Get(ctx, ev.ConversationID, c.userID); err != nil {
			c.hub.Reply(c, events.ErrorEvent(ev.ConversationID, err))
			return
		}
		c.hub.Join(c, ev.ConversationID)
		c.hub.Reply(c, &events.Event{Type: events.TypeJoined, ConversationID: ev.ConversationID})
	case events.TypeLeaveConversation:
		c.hub.Leave(c, ev.ConversationID)
		c.hub.Reply(c, &events.Event{Type: events.TypeLeft, ConversationID: ev.ConversationID})
	case events.TypeSendMessage:
		// The new_message frame reaches the room through the broker.
		_, err := c.messages.SendMessage(ctx, service.SendMessageInput{
			ConversationID: ev.ConversationID,
			Content:        ev.Content,
		}, c.userID)
		if err != nil {
			if apperr.CodeOf(err) == apperr.CodeInternal {
				c.log.Error("websocket send failed", "conversation_id", ev.ConversationID, "err", err)
			}
			c.hub.Reply(c, events.ErrorEvent(ev.ConversationID, err))
		}
	default:
		c.hub.Reply(c, events.ErrorEvent(ev.ConversationID, apperr.InvalidArg("unknown event type")))
	}
}

// writePump drains the send buffer and keeps the connection alive with
// pings. The hub closes send when the client is dropped.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
