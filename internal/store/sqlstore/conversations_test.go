package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pliu/letschat/internal/models"
	"github.com/pliu/letschat/internal/store"
)

func TestCreateConversation(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	alice := createTestUser(t, "alice")
	bob := createTestUser(t, "bob")
	conv := createTestConversation(t, models.ConversationDirect, alice, bob)

	got, err := testStore.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Type != models.ConversationDirect || got.KeyVersion != 1 || got.CreatedBy != alice.ID {
		t.Errorf("Unexpected conversation: %+v", got)
	}

	key, err := testStore.GetConversationKey(ctx, conv.ID, 1)
	if err != nil {
		t.Fatalf("GetConversationKey failed: %v", err)
	}
	if string(key.WrappedKey) != "wrapped" {
		t.Errorf("Unexpected wrapped key %q", key.WrappedKey)
	}

	participants, err := testStore.GetParticipants(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetParticipants failed: %v", err)
	}
	if len(participants) != 2 {
		t.Errorf("Expected 2 participants, got %d", len(participants))
	}
}

func TestCreateConversationRequiresKey(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	alice := createTestUser(t, "alice")
	now := time.Now()
	conv := &models.Conversation{ID: uuid.NewString(), Type: models.ConversationGroup, Name: "g", CreatedBy: alice.ID, CreatedAt: now, UpdatedAt: now}
	err := testStore.CreateConversation(context.Background(), conv,
		[]models.Participant{{UserID: alice.ID, Role: models.RoleAdmin, JoinedAt: now}},
		models.ConversationKey{ConversationID: conv.ID, Version: 1})
	if err == nil {
		t.Fatal("Expected error creating a conversation without key material")
	}

	if _, err := testStore.GetConversation(context.Background(), conv.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected no conversation row, got %v", err)
	}
}

func TestCreateConversationRollsBack(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	alice := createTestUser(t, "alice")
	now := time.Now()
	conv := &models.Conversation{ID: uuid.NewString(), Type: models.ConversationGroup, Name: "g", CreatedBy: alice.ID, CreatedAt: now, UpdatedAt: now}
	// Same participant twice violates the primary key.
	participants := []models.Participant{
		{UserID: alice.ID, Role: models.RoleAdmin, JoinedAt: now},
		{UserID: alice.ID, Role: models.RoleMember, JoinedAt: now},
	}
	err := testStore.CreateConversation(context.Background(), conv, participants,
		models.ConversationKey{ConversationID: conv.ID, Version: 1, WrappedKey: []byte("k"), CreatedAt: now})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}
	if _, err := testStore.GetConversation(context.Background(), conv.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected rollback, got %v", err)
	}
}

func TestFindDirectConversation(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	alice := createTestUser(t, "alice")
	bob := createTestUser(t, "bob")
	carol := createTestUser(t, "carol")
	conv := createTestConversation(t, models.ConversationDirect, alice, bob)
	createTestConversation(t, models.ConversationGroup, alice, bob, carol)

	got, err := testStore.FindDirectConversation(ctx, bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("FindDirectConversation failed: %v", err)
	}
	if got.ID != conv.ID {
		t.Errorf("Expected %s, got %s", conv.ID, got.ID)
	}

	if _, err := testStore.FindDirectConversation(ctx, alice.ID, carol.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDirectConversationIsUniquePerPair(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	alice := createTestUser(t, "alice")
	bob := createTestUser(t, "bob")
	createTestConversation(t, models.ConversationDirect, alice, bob)

	now := time.Now()
	dup := &models.Conversation{ID: uuid.NewString(), Type: models.ConversationDirect, CreatedBy: bob.ID, CreatedAt: now, UpdatedAt: now}
	participants := []models.Participant{
		{UserID: bob.ID, Role: models.RoleMember, JoinedAt: now},
		{UserID: alice.ID, Role: models.RoleMember, JoinedAt: now},
	}
	key := models.ConversationKey{ConversationID: dup.ID, Version: 1, WrappedKey: []byte("wrapped"), CreatedAt: now}
	if err := testStore.CreateConversation(ctx, dup, participants, key); !errors.Is(err, store.ErrConflict) {
		t.Errorf("Expected ErrConflict for a second direct conversation, got %v", err)
	}
	if _, err := testStore.GetConversation(ctx, dup.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected the duplicate to be rolled back, got %v", err)
	}

	// Groups with the same members are unrestricted.
	createTestConversation(t, models.ConversationGroup, alice, bob)
	createTestConversation(t, models.ConversationGroup, alice, bob)
}

func TestGetUserConversationsOrdering(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	alice := createTestUser(t, "alice")
	bob := createTestUser(t, "bob")
	first := createTestConversation(t, models.ConversationGroup, alice, bob)
	second := createTestConversation(t, models.ConversationGroup, alice)

	if err := testStore.TouchConversation(ctx, first.ID, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("TouchConversation failed: %v", err)
	}

	convs, err := testStore.GetUserConversations(ctx, alice.ID)
	if err != nil {
		t.Fatalf("GetUserConversations failed: %v", err)
	}
	if len(convs) != 2 || convs[0].ID != first.ID || convs[1].ID != second.ID {
		t.Errorf("Expected most recently updated first, got %+v", convs)
	}

	convs, _ = testStore.GetUserConversations(ctx, bob.ID)
	if len(convs) != 1 {
		t.Errorf("Expected bob to see 1 conversation, got %d", len(convs))
	}
}

func TestParticipants(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	alice := createTestUser(t, "alice")
	bob := createTestUser(t, "bob")
	conv := createTestConversation(t, models.ConversationGroup, alice)

	err := testStore.AddParticipant(ctx, models.Participant{ConversationID: conv.ID, UserID: bob.ID, Role: models.RoleMember, JoinedAt: time.Now()})
	if err != nil {
		t.Fatalf("Failed to add participant: %v", err)
	}
	err = testStore.AddParticipant(ctx, models.Participant{ConversationID: conv.ID, UserID: bob.ID, Role: models.RoleMember, JoinedAt: time.Now()})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("Expected ErrConflict for duplicate participant, got %v", err)
	}

	isParticipant, err := testStore.IsParticipant(ctx, conv.ID, bob.ID)
	if err != nil || !isParticipant {
		t.Errorf("Expected bob to be participant (%v)", err)
	}

	role, err := testStore.GetParticipantRole(ctx, conv.ID, alice.ID)
	if err != nil || role != models.RoleAdmin {
		t.Errorf("Expected alice admin, got %q (%v)", role, err)
	}

	if err := testStore.SetParticipantRole(ctx, conv.ID, bob.ID, models.RoleAdmin); err != nil {
		t.Fatalf("SetParticipantRole failed: %v", err)
	}
	role, err = testStore.GetParticipantRole(ctx, conv.ID, bob.ID)
	if err != nil || role != models.RoleAdmin {
		t.Errorf("Expected bob promoted to admin, got %q (%v)", role, err)
	}

	if err := testStore.RemoveParticipant(ctx, conv.ID, bob.ID); err != nil {
		t.Fatalf("RemoveParticipant failed: %v", err)
	}
	isParticipant, _ = testStore.IsParticipant(ctx, conv.ID, bob.ID)
	if isParticipant {
		t.Error("Expected bob to be removed")
	}
	if err := testStore.RemoveParticipant(ctx, conv.ID, bob.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound removing twice, got %v", err)
	}
	if err := testStore.SetParticipantRole(ctx, conv.ID, bob.ID, models.RoleAdmin); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound promoting a non-participant, got %v", err)
	}
}

func TestAddConversationKey(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	alice := createTestUser(t, "alice")
	conv := createTestConversation(t, models.ConversationGroup, alice)

	err := testStore.AddConversationKey(ctx, models.ConversationKey{ConversationID: conv.ID, Version: 2, WrappedKey: []byte("v2"), CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("AddConversationKey failed: %v", err)
	}
	got, _ := testStore.GetConversation(ctx, conv.ID)
	if got.KeyVersion != 2 {
		t.Errorf("Expected key version 2, got %d", got.KeyVersion)
	}

	err = testStore.AddConversationKey(ctx, models.ConversationKey{ConversationID: conv.ID, Version: 2, WrappedKey: []byte("again"), CreatedAt: time.Now()})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("Expected ErrConflict for reused version, got %v", err)
	}
}

func TestDeleteConversation(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	owner := createTestUser(t, "owner")
	conv := createTestConversation(t, models.ConversationGroup, owner)
	saveTestMessage(t, conv, owner, time.Now())

	if err := testStore.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("Failed to delete conversation: %v", err)
	}

	isParticipant, _ := testStore.IsParticipant(ctx, conv.ID, owner.ID)
	if isParticipant {
		t.Error("Expected user to not be participant after deletion")
	}

	messages, _ := testStore.GetMessages(ctx, conv.ID, 10, store.Cursor{})
	if len(messages) != 0 {
		t.Error("Expected messages to be deleted")
	}
}
