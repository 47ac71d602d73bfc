// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers session/agent/key CRUD, auth state blobs, and message history

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return store
}

func testSession(id, owner, name string) *Session {
	now := time.Now().UTC().Truncate(time.Second)
	return &Session{
		ID:           id,
		Owner:        owner,
		Name:         name,
		Status:       StatusIdle,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActivity: now,
	}
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestCreateAndGetSession(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	sess := testSession("sess-123", "user-1", "personal")

	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err := store.GetSession(ctx, "sess-123")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}

	if got.ID != sess.ID {
		t.Errorf("ID mismatch: got %q, want %q", got.ID, sess.ID)
	}
	if got.Owner != sess.Owner {
		t.Errorf("Owner mismatch: got %q, want %q", got.Owner, sess.Owner)
	}
	if got.Name != sess.Name {
		t.Errorf("Name mismatch: got %q, want %q", got.Name, sess.Name)
	}
	if got.Status != StatusIdle {
		t.Errorf("Status mismatch: got %q, want %q", got.Status, StatusIdle)
	}
	if got.Phone != "" {
		t.Errorf("Phone should be empty, got %q", got.Phone)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetSession(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateSession_Duplicate(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateSession(ctx, testSession("sess-1", "user-1", "work")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	err := store.CreateSession(ctx, testSession("sess-2", "user-1", "work"))
	if !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("expected ErrDuplicateSession, got %v", err)
	}

	// Same name under a different owner is fine
	if err := store.CreateSession(ctx, testSession("sess-3", "user-2", "work")); err != nil {
		t.Errorf("different owner should not conflict: %v", err)
	}
}

func TestGetSessionByName(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateSession(ctx, testSession("sess-1", "user-1", "work")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err := store.GetSessionByName(ctx, "user-1", "work")
	if err != nil {
		t.Fatalf("GetSessionByName failed: %v", err)
	}
	if got.ID != "sess-1" {
		t.Errorf("ID mismatch: got %q, want %q", got.ID, "sess-1")
	}

	if _, err := store.GetSessionByName(ctx, "user-2", "work"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for other owner, got %v", err)
	}
}

func TestListAndCountSessions(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		sess := testSession(fmt.Sprintf("sess-%d", i), "user-1", fmt.Sprintf("name%d", i))
		sess.CreatedAt = sess.CreatedAt.Add(time.Duration(i) * time.Second)
		if err := store.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}
	if err := store.CreateSession(ctx, testSession("other", "user-2", "solo")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	sessions, err := store.ListSessions(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	// Oldest first
	if sessions[0].ID != "sess-0" || sessions[2].ID != "sess-2" {
		t.Errorf("wrong ordering: %q ... %q", sessions[0].ID, sessions[2].ID)
	}

	count, err := store.CountSessions(ctx, "user-1")
	if err != nil {
		t.Fatalf("CountSessions failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected count 3, got %d", count)
	}
}

func TestUpdateSessionStatusAndPhone(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateSession(ctx, testSession("sess-1", "user-1", "work")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := store.UpdateSessionStatus(ctx, "sess-1", StatusConnected); err != nil {
		t.Fatalf("UpdateSessionStatus failed: %v", err)
	}
	if err := store.SetSessionPhone(ctx, "sess-1", "5511999998888"); err != nil {
		t.Fatalf("SetSessionPhone failed: %v", err)
	}

	got, err := store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != StatusConnected {
		t.Errorf("Status mismatch: got %q", got.Status)
	}
	if got.Phone != "5511999998888" {
		t.Errorf("Phone mismatch: got %q", got.Phone)
	}

	if err := store.UpdateSessionStatus(ctx, "missing", StatusError); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListConnectedIdleSince(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	stale := testSession("stale", "user-1", "stale")
	stale.LastActivity = now.Add(-2 * time.Hour)
	fresh := testSession("fresh", "user-1", "fresh")
	fresh.LastActivity = now
	idle := testSession("idle", "user-1", "idle")
	idle.LastActivity = now.Add(-2 * time.Hour)

	for _, sess := range []*Session{stale, fresh, idle} {
		if err := store.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}
	// Only connected sessions count, whatever their age
	if err := store.UpdateSessionStatus(ctx, "stale", StatusConnected); err != nil {
		t.Fatalf("UpdateSessionStatus failed: %v", err)
	}
	if err := store.UpdateSessionStatus(ctx, "fresh", StatusConnected); err != nil {
		t.Fatalf("UpdateSessionStatus failed: %v", err)
	}

	got, err := store.ListConnectedIdleSince(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListConnectedIdleSince failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "stale" {
		t.Fatalf("expected only stale session, got %d rows", len(got))
	}
}

func TestDeleteSession_CascadesDependents(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateSession(ctx, testSession("sess-1", "user-1", "work")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := store.SaveAuthState(ctx, "sess-1", []byte("creds")); err != nil {
		t.Fatalf("SaveAuthState failed: %v", err)
	}
	msg := &MessageRecord{
		ID:        "msg-1",
		SessionID: "sess-1",
		Direction: DirectionInbound,
		Peer:      "5511988887777",
		Body:      "hello",
		Kind:      "text",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := store.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	if err := store.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	if _, err := store.GetSession(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("session should be gone, got %v", err)
	}
	if _, err := store.GetAuthState(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("auth state should be gone, got %v", err)
	}
	msgs, err := store.ListMessages(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages should be gone, got %d", len(msgs))
	}
}

func TestAuthState_Roundtrip(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateSession(ctx, testSession("sess-1", "user-1", "work")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := store.SaveAuthState(ctx, "sess-1", []byte("v1")); err != nil {
		t.Fatalf("SaveAuthState failed: %v", err)
	}
	// Upsert replaces
	if err := store.SaveAuthState(ctx, "sess-1", []byte("v2")); err != nil {
		t.Fatalf("SaveAuthState upsert failed: %v", err)
	}

	blob, err := store.GetAuthState(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetAuthState failed: %v", err)
	}
	if string(blob) != "v2" {
		t.Errorf("blob mismatch: got %q", blob)
	}

	if err := store.DeleteAuthState(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteAuthState failed: %v", err)
	}
	if _, err := store.GetAuthState(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting again is not an error
	if err := store.DeleteAuthState(ctx, "sess-1"); err != nil {
		t.Errorf("second delete should be nil, got %v", err)
	}
}

func testAgent(id, owner, name string) *Agent {
	now := time.Now().UTC().Truncate(time.Second)
	return &Agent{
		ID:        id,
		Owner:     owner,
		Name:      name,
		Prompt:    "You are a helpful assistant.",
		Triggers:  []string{"support", "help"},
		Knowledge: []QAPair{{Question: "What are your hours?", Answer: "9 to 5."}},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateAndGetAgent(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	agent := testAgent("agent-1", "user-1", "Support Bot")
	if err := store.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	got, err := store.GetAgent(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got.Name != "Support Bot" {
		t.Errorf("Name mismatch: got %q", got.Name)
	}
	if len(got.Triggers) != 2 || got.Triggers[0] != "support" {
		t.Errorf("Triggers mismatch: got %v", got.Triggers)
	}
	if len(got.Knowledge) != 1 || got.Knowledge[0].Answer != "9 to 5." {
		t.Errorf("Knowledge mismatch: got %v", got.Knowledge)
	}
	if !got.IsActive {
		t.Error("agent should be active")
	}
	if got.UsageCount != 0 {
		t.Errorf("UsageCount should start at 0, got %d", got.UsageCount)
	}
	if got.LastUsedAt != nil {
		t.Errorf("LastUsedAt should start nil, got %v", got.LastUsedAt)
	}
}

func TestCreateAgent_Duplicate(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateAgent(ctx, testAgent("agent-1", "user-1", "Bot")); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	err := store.CreateAgent(ctx, testAgent("agent-2", "user-1", "Bot"))
	if !errors.Is(err, ErrDuplicateAgent) {
		t.Errorf("expected ErrDuplicateAgent, got %v", err)
	}
}

func TestListActiveAgents(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	active := testAgent("agent-1", "user-1", "Active")
	inactive := testAgent("agent-2", "user-1", "Inactive")
	inactive.IsActive = false
	inactive.CreatedAt = inactive.CreatedAt.Add(time.Second)

	if err := store.CreateAgent(ctx, active); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	if err := store.CreateAgent(ctx, inactive); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	all, err := store.ListAgents(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(all))
	}

	onlyActive, err := store.ListActiveAgents(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListActiveAgents failed: %v", err)
	}
	if len(onlyActive) != 1 || onlyActive[0].ID != "agent-1" {
		t.Fatalf("expected only agent-1, got %d agents", len(onlyActive))
	}
}

func TestUpdateAgent(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	agent := testAgent("agent-1", "user-1", "Bot")
	if err := store.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	agent.Name = "Renamed"
	agent.Triggers = []string{"orders"}
	agent.IsActive = false
	if err := store.UpdateAgent(ctx, agent); err != nil {
		t.Fatalf("UpdateAgent failed: %v", err)
	}

	got, err := store.GetAgent(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got.Name != "Renamed" || got.IsActive {
		t.Errorf("update not applied: name=%q active=%v", got.Name, got.IsActive)
	}
	if len(got.Triggers) != 1 || got.Triggers[0] != "orders" {
		t.Errorf("Triggers mismatch: got %v", got.Triggers)
	}
}

func TestRecordAgentUse(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateAgent(ctx, testAgent("agent-1", "user-1", "Bot")); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	at := time.Now().UTC().Truncate(time.Second)
	if err := store.RecordAgentUse(ctx, "agent-1", at); err != nil {
		t.Fatalf("RecordAgentUse failed: %v", err)
	}
	if err := store.RecordAgentUse(ctx, "agent-1", at.Add(time.Minute)); err != nil {
		t.Fatalf("RecordAgentUse failed: %v", err)
	}

	got, err := store.GetAgent(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got.UsageCount != 2 {
		t.Errorf("UsageCount mismatch: got %d, want 2", got.UsageCount)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(at.Add(time.Minute)) {
		t.Errorf("LastUsedAt mismatch: got %v", got.LastUsedAt)
	}
}

func TestAPIKey_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	key := &APIKey{
		ID:         "key-1",
		Owner:      "user-1",
		Name:       "ci",
		SecretHash: "$2a$10$fakehash",
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}

	got, err := store.GetAPIKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("GetAPIKey failed: %v", err)
	}
	if got.SecretHash != key.SecretHash {
		t.Errorf("SecretHash mismatch: got %q", got.SecretHash)
	}
	if got.LastUsedAt != nil {
		t.Errorf("LastUsedAt should start nil")
	}

	at := time.Now().UTC().Truncate(time.Second)
	if err := store.TouchAPIKey(ctx, "key-1", at); err != nil {
		t.Fatalf("TouchAPIKey failed: %v", err)
	}
	got, err = store.GetAPIKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("GetAPIKey failed: %v", err)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(at) {
		t.Errorf("LastUsedAt mismatch: got %v", got.LastUsedAt)
	}

	keys, err := store.ListAPIKeys(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListAPIKeys failed: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}

	if err := store.DeleteAPIKey(ctx, "key-1"); err != nil {
		t.Fatalf("DeleteAPIKey failed: %v", err)
	}
	if _, err := store.GetAPIKey(ctx, "key-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestAutoResponse_Upsert(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if _, err := store.GetAutoResponse(ctx, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound before save, got %v", err)
	}

	cfg := &AutoResponseConfig{
		Owner:     "user-1",
		Enabled:   true,
		Keyword:   "!bot",
		Prompt:    "Answer briefly.",
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := store.PutAutoResponse(ctx, cfg); err != nil {
		t.Fatalf("PutAutoResponse failed: %v", err)
	}

	cfg.Enabled = false
	cfg.Keyword = "!ai"
	if err := store.PutAutoResponse(ctx, cfg); err != nil {
		t.Fatalf("PutAutoResponse upsert failed: %v", err)
	}

	got, err := store.GetAutoResponse(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetAutoResponse failed: %v", err)
	}
	if got.Enabled || got.Keyword != "!ai" {
		t.Errorf("upsert not applied: enabled=%v keyword=%q", got.Enabled, got.Keyword)
	}
}

func TestListMessages_OrderAndLimit(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateSession(ctx, testSession("sess-1", "user-1", "work")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		msg := &MessageRecord{
			ID:        fmt.Sprintf("msg-%d", i),
			SessionID: "sess-1",
			Direction: DirectionInbound,
			Peer:      "5511988887777",
			Body:      fmt.Sprintf("message %d", i),
			Kind:      "text",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}

	msgs, err := store.ListMessages(ctx, "sess-1", 3)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	// Newest first
	if msgs[0].ID != "msg-4" || msgs[2].ID != "msg-2" {
		t.Errorf("wrong ordering: %q ... %q", msgs[0].ID, msgs[2].ID)
	}
}
