package encryption

import (
	"context"
	"fmt"
	"sync"

	"github.com/pliu/letschat/internal/models"
)

// KeySource loads a stored key version.
type KeySource interface {
	GetConversationKey(ctx context.Context, conversationID string, version int) (*models.ConversationKey, error)
}

type keyID struct {
	conversationID string
	version        int
}

// Keyring unwraps conversation keys on demand and caches them in memory.
type Keyring struct {
	wrapper *KeyWrapper
	source  KeySource

	mu   sync.RWMutex
	keys map[keyID][]byte
}

func NewKeyring(wrapper *KeyWrapper, source KeySource) *Keyring {
	return &Keyring{
		wrapper: wrapper,
		source:  source,
		keys:    make(map[keyID][]byte),
	}
}

// New generates a key for a conversation version and returns both the
// plaintext key and the record to persist.
func (k *Keyring) New(conversationID string, version int) ([]byte, *models.ConversationKey, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, nil, err
	}
	wrapped, err := k.wrapper.Wrap(conversationID, version, key)
	if err != nil {
		return nil, nil, err
	}
	return key, &models.ConversationKey{
		ConversationID: conversationID,
		Version:        version,
		WrappedKey:     wrapped,
	}, nil
}

// Remember caches a key once it is durably stored.
func (k *Keyring) Remember(conversationID string, version int, key []byte) {
	k.mu.Lock()
	k.keys[keyID{conversationID, version}] = key
	k.mu.Unlock()
}

func (k *Keyring) Get(ctx context.Context, conversationID string, version int) ([]byte, error) {
	id := keyID{conversationID, version}

	k.mu.RLock()
	key, ok := k.keys[id]
	k.mu.RUnlock()
	if ok {
		return key, nil
	}

	stored, err := k.source.GetConversationKey(ctx, conversationID, version)
	if err != nil {
		return nil, fmt.Errorf("failed to load key v%d for %s: %w", version, conversationID, err)
	}
	key, err = k.wrapper.Unwrap(conversationID, version, stored.WrappedKey)
	if err != nil {
		return nil, err
	}
	k.Remember(conversationID, version, key)
	return key, nil
}

// Forget drops every cached version of a conversation's key.
func (k *Keyring) Forget(conversationID string) {
	k.mu.Lock()
	for id := range k.keys {
		if id.conversationID == conversationID {
			delete(k.keys, id)
		}
	}
	k.mu.Unlock()
}
