package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pliu/letschat/internal/auth"
	"github.com/pliu/letschat/internal/encryption"
	"github.com/pliu/letschat/internal/events"
	"github.com/pliu/letschat/internal/logger"
	"github.com/pliu/letschat/internal/models"
	"github.com/pliu/letschat/internal/pubsub"
	"github.com/pliu/letschat/internal/store/sqlstore"
)

type published struct {
	topic pubsub.Topic
	event *events.Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(ctx context.Context, topic pubsub.Topic, payload []byte) error {
	ev, err := events.Decode(payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.events = append(p.events, published{topic: topic, event: ev})
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) ofType(typ string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.event.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	store         *sqlstore.SQLStore
	keyring       *encryption.Keyring
	pub           *recordingPublisher
	users         *UserService
	conversations *ConversationService
	messages      *MessageService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	wrapper, err := encryption.NewKeyWrapper([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	keyring := encryption.NewKeyring(wrapper, st)
	pub := &recordingPublisher{}
	log := logger.Discard()

	return &testEnv{
		store:         st,
		keyring:       keyring,
		pub:           pub,
		users:         NewUserService(st, auth.NewTokenIssuer("test-secret", "letschat-test", time.Hour), log),
		conversations: NewConversationService(st, keyring, pub, log),
		messages:      NewMessageService(st, keyring, pub, log),
	}
}

func (e *testEnv) register(t *testing.T, username string) *models.User {
	t.Helper()
	u, err := e.users.Register(context.Background(), RegisterInput{Username: username, Password: "password123"})
	require.NoError(t, err)
	return u
}

func (e *testEnv) group(t *testing.T, admin *models.User, members ...*models.User) *models.Conversation {
	t.Helper()
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	conv, created, err := e.conversations.Create(context.Background(), CreateConversationInput{
		Type:           models.ConversationGroup,
		Name:           "team",
		ParticipantIDs: ids,
	}, admin.ID)
	require.NoError(t, err)
	require.True(t, created)
	return conv
}
