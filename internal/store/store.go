package store

import (
	"context"
	"errors"
	"time"

	"github.com/pliu/letschat/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	SearchUsers(ctx context.Context, prefix string, limit int) ([]models.User, error)
	SetUserStatus(ctx context.Context, userID string, status models.UserStatus, seen time.Time) error
}

type SessionStore interface {
	CreateSession(ctx context.Context, session *models.UserSession) error
	GetSession(ctx context.Context, id string) (*models.UserSession, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

type ConversationStore interface {
	// CreateConversation inserts the conversation, its participants and key
	// version 1 atomically. It rejects a conversation without a key.
	CreateConversation(ctx context.Context, conv *models.Conversation, participants []models.Participant, key models.ConversationKey) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	GetUserConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	FindDirectConversation(ctx context.Context, userA, userB string) (*models.Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
	DeleteConversation(ctx context.Context, id string) error

	AddParticipant(ctx context.Context, p models.Participant) error
	RemoveParticipant(ctx context.Context, conversationID, userID string) error
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	GetParticipantRole(ctx context.Context, conversationID, userID string) (models.Role, error)
	SetParticipantRole(ctx context.Context, conversationID, userID string, role models.Role) error
	GetParticipants(ctx context.Context, conversationID string) ([]models.Participant, error)

	// AddConversationKey stores a new key version and makes it current.
	AddConversationKey(ctx context.Context, key models.ConversationKey) error
	GetConversationKey(ctx context.Context, conversationID string, version int) (*models.ConversationKey, error)
}

// Cursor is a position in a conversation's history. Messages sort by
// CreatedAt then ID, so ID breaks ties between messages sent at the same
// instant. An empty ID matches no message at CreatedAt itself.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

func (c Cursor) IsZero() bool {
	return c.CreatedAt.IsZero()
}

type MessageStore interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
	// GetMessages returns up to limit messages strictly before the cursor
	// (zero means no bound), oldest first.
	GetMessages(ctx context.Context, conversationID string, limit int, before Cursor) ([]models.Message, error)
}

type Store interface {
	UserStore
	SessionStore
	ConversationStore
	MessageStore

	Ping(ctx context.Context) error
	Close() error
}
