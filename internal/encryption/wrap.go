package encryption

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const wrapInfo = "letschat conversation key wrapping v1"

var ErrUnwrap = errors.New("encryption: conversation key unwrap failed")

// KeyWrapper seals conversation keys at rest under a key derived from the
// server master secret.
type KeyWrapper struct {
	kek []byte
}

func NewKeyWrapper(masterKey []byte) (*KeyWrapper, error) {
	if len(masterKey) < KeySize {
		return nil, fmt.Errorf("encryption: master key must be at least %d bytes", KeySize)
	}
	kek := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(wrapInfo)), kek); err != nil {
		return nil, fmt.Errorf("failed to derive key encryption key: %w", err)
	}
	return &KeyWrapper{kek: kek}, nil
}

func wrapAAD(conversationID string, version int) []byte {
	return encodeAAD(conversationID, strconv.Itoa(version))
}

// Wrap returns nonce||ciphertext for key, bound to its conversation and version.
func (w *KeyWrapper) Wrap(conversationID string, version int, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	aead, err := chacha20poly1305.NewX(w.kek)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(key)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, key, wrapAAD(conversationID, version)), nil
}

func (w *KeyWrapper) Unwrap(conversationID string, version int, wrapped []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(w.kek)
	if err != nil {
		return nil, err
	}
	if len(wrapped) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrUnwrap
	}
	nonce, ciphertext := wrapped[:aead.NonceSize()], wrapped[aead.NonceSize():]
	key, err := aead.Open(nil, nonce, ciphertext, wrapAAD(conversationID, version))
	if err != nil {
		return nil, ErrUnwrap
	}
	return key, nil
}
