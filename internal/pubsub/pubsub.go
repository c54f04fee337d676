// Package pubsub fans realtime events out to every server instance. Events
// are addressed to a conversation room or to a single user.
package pubsub

import (
	"context"
	"strings"
)

const channelPrefix = "chat:"

type Kind string

const (
	KindConversation Kind = "conversation"
	KindUser         Kind = "user"
)

type Topic struct {
	Kind Kind
	ID   string
}

func ConversationTopic(id string) Topic { return Topic{Kind: KindConversation, ID: id} }

func UserTopic(id string) Topic { return Topic{Kind: KindUser, ID: id} }

func (t Topic) Channel() string {
	return channelPrefix + string(t.Kind) + ":" + t.ID
}

func ParseChannel(channel string) (Topic, bool) {
	rest, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok {
		return Topic{}, false
	}
	kind, id, ok := strings.Cut(rest, ":")
	if !ok || id == "" {
		return Topic{}, false
	}
	switch Kind(kind) {
	case KindConversation, KindUser:
		return Topic{Kind: Kind(kind), ID: id}, true
	}
	return Topic{}, false
}

type Handler func(topic Topic, payload []byte)

type Broker interface {
	Publish(ctx context.Context, topic Topic, payload []byte) error
	// Subscribe delivers every event to handler until ctx is done.
	Subscribe(ctx context.Context, handler Handler) error
	Ping(ctx context.Context) error
	Close() error
}
