package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
)

type conversationJSON struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Name       string `json:"name"`
	KeyVersion int    `json:"key_version"`
}

func (s *testServer) createGroup(t *testing.T, owner loggedIn, members ...loggedIn) conversationJSON {
	t.Helper()
	ids := []string{}
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	rr, env := s.do(t, "POST", "/api/conversations", owner.Token, map[string]any{
		"type": "group", "name": "Test Chat", "participant_ids": ids,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create group: got %d %s", rr.Code, rr.Body.String())
	}
	var conv conversationJSON
	decodeData(t, env, &conv)
	return conv
}

func TestCreateConversation(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")

	conv := s.createGroup(t, alice, bob)
	if conv.Name != "Test Chat" || conv.Type != "group" || conv.KeyVersion != 1 {
		t.Errorf("unexpected conversation %+v", conv)
	}

	rr, env := s.do(t, "GET", "/api/conversations", bob.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list failed: %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "encryption_key") {
		t.Errorf("conversation key leaked on the wire: %s", rr.Body.String())
	}
	var convs []conversationJSON
	decodeData(t, env, &convs)
	if len(convs) != 1 || convs[0].ID != conv.ID {
		t.Errorf("Expected 1 chat, got %+v", convs)
	}

	rr, env = s.do(t, "POST", "/api/conversations", alice.Token, map[string]any{"type": "group", "participant_ids": []string{bob.ID}})
	if rr.Code != http.StatusBadRequest || env.Error.Code != "INVALID_ARGUMENT" {
		t.Errorf("expected 400 for nameless group, got %d", rr.Code)
	}
}

func TestCreateDirectConversationTwice(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")

	body := map[string]any{"type": "direct", "participant_ids": []string{bob.ID}}
	rr, env := s.do(t, "POST", "/api/conversations", alice.Token, body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("got %d %s", rr.Code, rr.Body.String())
	}
	var first conversationJSON
	decodeData(t, env, &first)

	rr, env = s.do(t, "POST", "/api/conversations", alice.Token, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected existing conversation with 200, got %d", rr.Code)
	}
	var second conversationJSON
	decodeData(t, env, &second)
	if first.ID != second.ID {
		t.Errorf("expected the same conversation, got %s and %s", first.ID, second.ID)
	}
}

func TestConversationForbiddenForOutsiders(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")
	mallory := s.signup(t, "mallory")
	conv := s.createGroup(t, alice, bob)

	for _, path := range []string{
		"/api/conversations/" + conv.ID,
		"/api/conversations/" + conv.ID + "/participants",
		"/api/conversations/" + conv.ID + "/messages",
	} {
		rr, env := s.do(t, "GET", path, mallory.Token, nil)
		if rr.Code != http.StatusForbidden || env.Error == nil || env.Error.Code != "PERMISSION_DENIED" {
			t.Errorf("GET %s: expected 403, got %d %s", path, rr.Code, rr.Body.String())
		}
	}

	rr, _ := s.do(t, "GET", "/api/conversations/does-not-exist", alice.Token, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestParticipantsLifecycle(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")
	carol := s.signup(t, "carol")
	conv := s.createGroup(t, alice, bob)
	base := "/api/conversations/" + conv.ID

	rr, _ := s.do(t, "POST", base+"/participants", bob.Token, map[string]any{"user_ids": []string{carol.ID}})
	if rr.Code != http.StatusForbidden {
		t.Errorf("members cannot add participants, got %d", rr.Code)
	}

	rr, _ = s.do(t, "POST", base+"/participants", alice.Token, map[string]any{"user_ids": []string{carol.ID}})
	if rr.Code != http.StatusOK {
		t.Fatalf("add participant failed: %d %s", rr.Code, rr.Body.String())
	}

	rr, env := s.do(t, "GET", base+"/participants", carol.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("carol should see participants: %d", rr.Code)
	}
	var participants []struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	decodeData(t, env, &participants)
	if len(participants) != 3 {
		t.Errorf("Expected 3 participants, got %d", len(participants))
	}

	rr, _ = s.do(t, "DELETE", base+"/participants/"+carol.ID, alice.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("remove failed: %d %s", rr.Code, rr.Body.String())
	}
	got, err := s.store.GetConversation(context.Background(), conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.KeyVersion != 2 {
		t.Errorf("expected key rotation on removal, got version %d", got.KeyVersion)
	}

	rr, _ = s.do(t, "GET", base+"/messages", carol.Token, nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("removed user should be forbidden, got %d", rr.Code)
	}
}

func TestRotateKeyEndpoint(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")
	conv := s.createGroup(t, alice, bob)

	rr, _ := s.do(t, "POST", "/api/conversations/"+conv.ID+"/rotate-key", bob.Token, nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403 for member, got %d", rr.Code)
	}

	rr, env := s.do(t, "POST", "/api/conversations/"+conv.ID+"/rotate-key", alice.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("rotate failed: %d %s", rr.Code, rr.Body.String())
	}
	var rotated conversationJSON
	decodeData(t, env, &rotated)
	if rotated.KeyVersion != 2 {
		t.Errorf("expected version 2, got %d", rotated.KeyVersion)
	}
}

func TestMessagesEndpoints(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")
	conv := s.createGroup(t, alice, bob)
	path := "/api/conversations/" + conv.ID + "/messages"

	for _, content := range []string{"first", "second", "third"} {
		rr, _ := s.do(t, "POST", path, alice.Token, map[string]string{"content": content})
		if rr.Code != http.StatusCreated {
			t.Fatalf("send %q: got %d %s", content, rr.Code, rr.Body.String())
		}
	}

	rr, _ := s.do(t, "POST", path, alice.Token, map[string]string{"content": "   "})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for blank message, got %d", rr.Code)
	}

	rr, env := s.do(t, "GET", path, bob.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list failed: %d", rr.Code)
	}
	var msgs []struct {
		ID        string    `json:"id"`
		Content   string    `json:"content"`
		SenderID  string    `json:"sender_id"`
		CreatedAt time.Time `json:"created_at"`
	}
	decodeData(t, env, &msgs)
	if len(msgs) != 3 || msgs[0].Content != "first" || msgs[2].Content != "third" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if msgs[0].SenderID != alice.ID {
		t.Errorf("unexpected sender %s", msgs[0].SenderID)
	}

	rr, env = s.do(t, "GET", path+"?limit=1", bob.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list failed: %d", rr.Code)
	}
	decodeData(t, env, &msgs)
	if len(msgs) != 1 || msgs[0].Content != "third" {
		t.Fatalf("expected only the newest message, got %+v", msgs)
	}

	cursor := "?limit=1&before=" + url.QueryEscape(msgs[0].CreatedAt.Format(time.RFC3339Nano)) + "&before_id=" + url.QueryEscape(msgs[0].ID)
	rr, env = s.do(t, "GET", path+cursor, bob.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list failed: %d", rr.Code)
	}
	decodeData(t, env, &msgs)
	if len(msgs) != 1 || msgs[0].Content != "second" {
		t.Errorf("expected the message before the cursor, got %+v", msgs)
	}

	for _, q := range []string{"?limit=abc", "?limit=0", "?before=yesterday", "?before_id=abc"} {
		rr, _ := s.do(t, "GET", path+q, bob.Token, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rr.Code)
		}
	}
}
