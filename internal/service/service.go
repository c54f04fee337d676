// Package service implements the chat operations on top of the store, the
// conversation keyring and the realtime broker.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pliu/letschat/internal/apperr"
	"github.com/pliu/letschat/internal/events"
	"github.com/pliu/letschat/internal/models"
	"github.com/pliu/letschat/internal/pubsub"
	"github.com/pliu/letschat/internal/store"
)

// Publisher is the part of pubsub.Broker the services need.
type Publisher interface {
	Publish(ctx context.Context, topic pubsub.Topic, payload []byte) error
}

type Clock func() time.Time

func isNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }

func isConflict(err error) bool { return errors.Is(err, store.ErrConflict) }

// publish is best effort: realtime delivery failures never fail the write
// that caused them.
func publish(ctx context.Context, pub Publisher, log *slog.Logger, topic pubsub.Topic, ev *events.Event) {
	if pub == nil {
		return
	}
	payload, err := ev.Encode()
	if err != nil {
		log.Error("failed to encode event", "type", ev.Type, "err", err)
		return
	}
	if err := pub.Publish(ctx, topic, payload); err != nil {
		log.Warn("failed to publish event", "type", ev.Type, "channel", topic.Channel(), "err", err)
	}
}

// loadMembership returns the conversation if userID participates in it.
func loadMembership(ctx context.Context, st store.ConversationStore, log *slog.Logger, conversationID, userID string) (*models.Conversation, error) {
	conv, err := st.GetConversation(ctx, conversationID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.ErrConversationNotFound
		}
		log.Error("failed to load conversation", "conversation_id", conversationID, "err", err)
		return nil, apperr.Internal(err)
	}
	ok, err := st.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		log.Error("failed to check participant", "conversation_id", conversationID, "err", err)
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, apperr.ErrNotParticipant
	}
	return conv, nil
}
