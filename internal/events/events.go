// Package events defines the realtime frames exchanged over websockets and
// the broker.
package events

import (
	"encoding/json"

	"github.com/pliu/letschat/internal/apperr"
	"github.com/pliu/letschat/internal/models"
)

// Client to server.
const (
	TypeJoinConversation  = "join_conversation"
	TypeLeaveConversation = "leave_conversation"
	TypeSendMessage       = "send_message"
)

// Server to client.
const (
	TypeNewMessage          = "new_message"
	TypeJoined              = "joined"
	TypeLeft                = "left"
	TypeError               = "error"
	TypeConversationCreated = "conversation_created"
	TypeParticipantAdded    = "participant_added"
	TypeParticipantRemoved  = "participant_removed"
	TypeKeyRotated          = "key_rotated"
)

type Event struct {
	Type           string               `json:"type"`
	ConversationID string               `json:"conversation_id,omitempty"`
	Content        string               `json:"content,omitempty"`
	UserID         string               `json:"user_id,omitempty"`
	Message        *models.MessageView  `json:"message,omitempty"`
	Conversation   *models.Conversation `json:"conversation,omitempty"`
	Error          *apperr.AppError     `json:"error,omitempty"`
}

func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func Decode(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func ErrorEvent(conversationID string, err error) *Event {
	ae := apperr.From(err)
	return &Event{
		Type:           TypeError,
		ConversationID: conversationID,
		Error:          &apperr.AppError{Code: ae.Code, Message: ae.Message},
	}
}
