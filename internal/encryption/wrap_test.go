package encryption

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pliu/letschat/internal/models"
)

func testMasterKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestWrapUnwrap(t *testing.T) {
	w, err := NewKeyWrapper(testMasterKey())
	require.NoError(t, err)
	key, _ := GenerateKey()

	wrapped, err := w.Wrap("conv-1", 1, key)
	require.NoError(t, err)
	assert.NotContains(t, string(wrapped), string(key))

	got, err := w.Unwrap("conv-1", 1, wrapped)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = w.Unwrap("conv-2", 1, wrapped)
	assert.ErrorIs(t, err, ErrUnwrap, "wrapped key must be bound to its conversation")
	_, err = w.Unwrap("conv-1", 2, wrapped)
	assert.ErrorIs(t, err, ErrUnwrap, "wrapped key must be bound to its version")
	_, err = w.Unwrap("conv-1", 1, wrapped[:10])
	assert.ErrorIs(t, err, ErrUnwrap)
}

func TestWrapWithDifferentMasterKey(t *testing.T) {
	w1, _ := NewKeyWrapper(testMasterKey())
	w2, _ := NewKeyWrapper([]byte("fedcba9876543210fedcba9876543210"))
	key, _ := GenerateKey()

	wrapped, err := w1.Wrap("conv", 1, key)
	require.NoError(t, err)
	_, err = w2.Unwrap("conv", 1, wrapped)
	assert.ErrorIs(t, err, ErrUnwrap)
}

func TestNewKeyWrapperRejectsShortMaster(t *testing.T) {
	_, err := NewKeyWrapper([]byte("too short"))
	assert.Error(t, err)
}

type fakeKeySource struct {
	keys  map[int]*models.ConversationKey
	loads int
}

func (f *fakeKeySource) GetConversationKey(ctx context.Context, conversationID string, version int) (*models.ConversationKey, error) {
	f.loads++
	k, ok := f.keys[version]
	if !ok {
		return nil, errors.New("missing")
	}
	return k, nil
}

func TestKeyringCachesUnwrappedKeys(t *testing.T) {
	w, _ := NewKeyWrapper(testMasterKey())
	src := &fakeKeySource{keys: map[int]*models.ConversationKey{}}
	ring := NewKeyring(w, src)

	key, record, err := ring.New("conv", 1)
	require.NoError(t, err)
	src.keys[1] = record

	got, err := ring.Get(context.Background(), "conv", 1)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = ring.Get(context.Background(), "conv", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, src.loads)

	ring.Forget("conv")
	_, err = ring.Get(context.Background(), "conv", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, src.loads)

	_, err = ring.Get(context.Background(), "conv", 9)
	assert.Error(t, err)
}
