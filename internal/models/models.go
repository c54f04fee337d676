package models

import "time"

type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusOffline UserStatus = "offline"
)

type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	DisplayName  string     `json:"display_name"`
	Status       UserStatus `json:"status"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type UserSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

func (t ConversationType) Valid() bool {
	return t == ConversationDirect || t == ConversationGroup
}

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type Conversation struct {
	ID         string           `json:"id"`
	Type       ConversationType `json:"type"`
	Name       string           `json:"name,omitempty"`
	CreatedBy  string           `json:"created_by"`
	KeyVersion int              `json:"key_version"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`

	// Plaintext conversation key, populated by the service layer only.
	EncryptionKey []byte `json:"-"`
}

type Participant struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	DisplayName    string    `json:"display_name"`
	Role           Role      `json:"role"`
	JoinedAt       time.Time `json:"joined_at"`
}

// ConversationKey is one version of a conversation key, sealed under the
// server master key.
type ConversationKey struct {
	ConversationID string
	Version        int
	WrappedKey     []byte
	CreatedAt      time.Time
}

// Message is the stored row. It never carries plaintext.
type Message struct {
	ID               string
	ConversationID   string
	SenderID         string
	SenderUsername   string
	EncryptedContent []byte
	IV               []byte
	Tag              []byte
	KeyVersion       int
	CreatedAt        time.Time
}

// MessageView is a decrypted message as returned to participants.
type MessageView struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderUsername string    `json:"sender_username"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}
