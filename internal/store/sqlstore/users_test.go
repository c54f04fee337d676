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

func TestCreateUser(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	user := createTestUser(t, "testuser")
	if user.Status != models.StatusOffline {
		t.Errorf("Expected default status offline, got %q", user.Status)
	}

	// Test duplicate user
	dup := &models.User{ID: uuid.NewString(), Username: "testuser", PasswordHash: "x", DisplayName: "x", CreatedAt: time.Now()}
	err := testStore.CreateUser(context.Background(), dup)
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("Expected ErrConflict for duplicate username, got %v", err)
	}
}

func TestGetUserByUsername(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	created := createTestUser(t, "testuser")

	user, err := testStore.GetUserByUsername(context.Background(), "testuser")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.ID != created.ID || user.PasswordHash != "hash" {
		t.Errorf("Unexpected user: %+v", user)
	}

	_, err = testStore.GetUserByUsername(context.Background(), "nonexistent")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for nonexistent user, got %v", err)
	}
}

func TestSearchUsers(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	createTestUser(t, "alice")
	createTestUser(t, "bob")
	createTestUser(t, "alex")
	createTestUser(t, "a_l")

	users, err := testStore.SearchUsers(context.Background(), "al", 10)
	if err != nil {
		t.Fatalf("SearchUsers failed: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("Expected 2 users, got %d", len(users))
	}
	if users[0].Username != "alex" || users[1].Username != "alice" {
		t.Errorf("Expected alex, alice; got %s, %s", users[0].Username, users[1].Username)
	}

	// Underscore is literal, not a wildcard.
	users, _ = testStore.SearchUsers(context.Background(), "a_", 10)
	if len(users) != 1 || users[0].Username != "a_l" {
		t.Errorf("Expected only a_l, got %+v", users)
	}

	users, _ = testStore.SearchUsers(context.Background(), "a", 1)
	if len(users) != 1 {
		t.Errorf("Expected limit to apply, got %d", len(users))
	}
}

func TestSetUserStatus(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	user := createTestUser(t, "alice")
	seen := time.Now()
	if err := testStore.SetUserStatus(context.Background(), user.ID, models.StatusOnline, seen); err != nil {
		t.Fatalf("SetUserStatus failed: %v", err)
	}

	got, _ := testStore.GetUserByID(context.Background(), user.ID)
	if got.Status != models.StatusOnline {
		t.Errorf("Expected online, got %q", got.Status)
	}
	if got.LastSeen == nil || !got.LastSeen.Equal(seen) {
		t.Errorf("Expected last_seen %v, got %v", seen, got.LastSeen)
	}

	err := testStore.SetUserStatus(context.Background(), "missing", models.StatusOnline, seen)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSessions(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	user := createTestUser(t, "alice")
	now := time.Now()
	live := &models.UserSession{ID: uuid.NewString(), UserID: user.ID, TokenHash: []byte{1, 2, 3}, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	stale := &models.UserSession{ID: uuid.NewString(), UserID: user.ID, TokenHash: []byte{4}, CreatedAt: now, ExpiresAt: now.Add(-time.Minute)}
	for _, s := range []*models.UserSession{live, stale} {
		if err := testStore.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}

	got, err := testStore.GetSession(ctx, live.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.UserID != user.ID || string(got.TokenHash) != string(live.TokenHash) {
		t.Errorf("Unexpected session: %+v", got)
	}

	n, err := testStore.DeleteExpiredSessions(ctx, now)
	if err != nil || n != 1 {
		t.Errorf("Expected 1 expired session removed, got %d (%v)", n, err)
	}

	if err := testStore.DeleteSession(ctx, live.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := testStore.GetSession(ctx, live.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}
