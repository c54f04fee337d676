// Package encryption holds the conversation-scoped message encryption: one
// symmetric key per conversation, AES-256-GCM per message, and the wrapping
// of conversation keys under the server master key.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	KeySize = 32
	IVSize  = 12
	TagSize = 16
)

var (
	ErrInvalidKey = errors.New("encryption: key must be 32 bytes")
	ErrDecrypt    = errors.New("encryption: message authentication failed")
)

// Sealed is an encrypted message body as stored: ciphertext with the GCM tag
// split off, plus the per-message IV.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
}

// GenerateKey returns a fresh random conversation key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// MessageAAD binds a ciphertext to the row it belongs to.
func MessageAAD(conversationID, messageID, senderID string) []byte {
	return encodeAAD(conversationID, messageID, senderID)
}

// encodeAAD length-prefixes each field so no two field lists share an
// encoding.
func encodeAAD(fields ...string) []byte {
	n := 0
	for _, f := range fields {
		n += 4 + len(f)
	}
	out := make([]byte, 0, n)
	for _, f := range fields {
		out = binary.BigEndian.AppendUint32(out, uint32(len(f)))
		out = append(out, f...)
	}
	return out
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext under key with a fresh random IV.
func Seal(key, plaintext, aad []byte) (*Sealed, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	out := gcm.Seal(nil, iv, plaintext, aad)
	split := len(out) - TagSize
	return &Sealed{
		Ciphertext: out[:split:split],
		IV:         iv,
		Tag:        out[split:],
	}, nil
}

// Open reverses Seal. Any mismatch in key, IV, tag, ciphertext or aad yields
// ErrDecrypt.
func Open(key []byte, sealed *Sealed, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed.IV) != IVSize || len(sealed.Tag) != TagSize {
		return nil, ErrDecrypt
	}

	buf := make([]byte, 0, len(sealed.Ciphertext)+TagSize)
	buf = append(buf, sealed.Ciphertext...)
	buf = append(buf, sealed.Tag...)

	plaintext, err := gcm.Open(nil, sealed.IV, buf, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
