package service

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/pliu/letschat/internal/apperr"
	"github.com/pliu/letschat/internal/encryption"
	"github.com/pliu/letschat/internal/events"
	"github.com/pliu/letschat/internal/models"
	"github.com/pliu/letschat/internal/pubsub"
	"github.com/pliu/letschat/internal/store"
)

const (
	MaxMessageLength = 4000
	DefaultPageSize  = 50
	MaxPageSize      = 200
)

type SendMessageInput struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// ListOptions pages backwards through history. Before and BeforeID are the
// created_at and id of the oldest message already seen.
type ListOptions struct {
	Limit    int
	Before   time.Time
	BeforeID string
}

type MessageService struct {
	store   store.Store
	keyring *encryption.Keyring
	pub     Publisher
	log     *slog.Logger
	now     Clock
}

func NewMessageService(st store.Store, keyring *encryption.Keyring, pub Publisher, log *slog.Logger) *MessageService {
	return &MessageService{store: st, keyring: keyring, pub: pub, log: log, now: time.Now}
}

// SendMessage encrypts content under the conversation's current key, stores
// the ciphertext and publishes a new_message event. The returned event is the
// only place the plaintext survives.
func (s *MessageService) SendMessage(ctx context.Context, in SendMessageInput, senderID string) (*events.Event, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, apperr.ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, apperr.ErrMessageTooLong
	}

	conv, err := loadMembership(ctx, s.store, s.log, in.ConversationID, senderID)
	if err != nil {
		return nil, err
	}
	sender, err := s.store.GetUserByID(ctx, senderID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, apperr.Internal(err)
	}

	key, err := s.keyring.Get(ctx, conv.ID, conv.KeyVersion)
	if err != nil {
		s.log.Error("no usable key for conversation", "conversation_id", conv.ID, "version", conv.KeyVersion, "err", err)
		if isNotFound(err) {
			return nil, apperr.ErrMissingKey
		}
		return nil, apperr.Internal(err)
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		SenderUsername: sender.Username,
		KeyVersion:     conv.KeyVersion,
		CreatedAt:      s.now().UTC(),
	}
	sealed, err := encryption.Seal(key, []byte(content), encryption.MessageAAD(msg.ConversationID, msg.ID, msg.SenderID))
	if err != nil {
		s.log.Error("failed to encrypt message", "conversation_id", conv.ID, "err", err)
		return nil, apperr.Internal(err)
	}
	msg.EncryptedContent = sealed.Ciphertext
	msg.IV = sealed.IV
	msg.Tag = sealed.Tag

	if err := s.store.SaveMessage(ctx, msg); err != nil {
		s.log.Error("error while saving message in db", "conversation_id", conv.ID, "err", err)
		return nil, apperr.Internal(err)
	}
	if err := s.store.TouchConversation(ctx, conv.ID, msg.CreatedAt); err != nil {
		s.log.Warn("failed to touch conversation", "conversation_id", conv.ID, "err", err)
	}

	ev := &events.Event{
		Type:           events.TypeNewMessage,
		ConversationID: conv.ID,
		Message: &models.MessageView{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			SenderID:       msg.SenderID,
			SenderUsername: msg.SenderUsername,
			Content:        content,
			CreatedAt:      msg.CreatedAt,
		},
	}
	publish(ctx, s.pub, s.log, pubsub.ConversationTopic(conv.ID), ev)
	return ev, nil
}

// GetMessages returns decrypted history, oldest first. A message that fails
// to decrypt fails the whole request rather than being skipped.
func (s *MessageService) GetMessages(ctx context.Context, conversationID, requesterID string, opts ListOptions) ([]models.MessageView, error) {
	if _, err := loadMembership(ctx, s.store, s.log, conversationID, requesterID); err != nil {
		return nil, err
	}

	limit := opts.Limit
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}

	msgs, err := s.store.GetMessages(ctx, conversationID, limit, store.Cursor{CreatedAt: opts.Before, ID: opts.BeforeID})
	if err != nil {
		s.log.Error("failed to load messages", "conversation_id", conversationID, "err", err)
		return nil, apperr.Internal(err)
	}

	views := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		key, err := s.keyring.Get(ctx, m.ConversationID, m.KeyVersion)
		if err != nil {
			s.log.Error("missing key for stored message", "message_id", m.ID, "version", m.KeyVersion, "err", err)
			return nil, apperr.Internal(err)
		}
		plaintext, err := encryption.Open(key, &encryption.Sealed{
			Ciphertext: m.EncryptedContent,
			IV:         m.IV,
			Tag:        m.Tag,
		}, encryption.MessageAAD(m.ConversationID, m.ID, m.SenderID))
		if err != nil {
			s.log.Error("failed to decrypt stored message", "message_id", m.ID, "err", err)
			return nil, apperr.Internal(err)
		}
		views = append(views, models.MessageView{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			SenderUsername: m.SenderUsername,
			Content:        string(plaintext),
			CreatedAt:      m.CreatedAt,
		})
	}
	return views, nil
}
