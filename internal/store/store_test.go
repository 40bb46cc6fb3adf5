package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// newMemStore opens an in-memory SQLite database, applies the schema, and
// returns the store. The database is discarded when the test process exits.
func newMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustUser(t *testing.T, s *Store, username string) User {
	t.Helper()
	u, err := s.InsertUser(context.Background(), username, "hash-"+username)
	if err != nil {
		t.Fatalf("InsertUser %q: %v", username, err)
	}
	return u
}

func mustRoom(t *testing.T, s *Store, name string) Room {
	t.Helper()
	r, err := s.InsertRoom(context.Background(), name)
	if err != nil {
		t.Fatalf("InsertRoom %q: %v", name, err)
	}
	return r
}

// TestSeedRows verifies the sentinel and Lobby rows exist after Open.
func TestSeedRows(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	sentinel, err := s.UserByUsername(ctx, SentinelName)
	if err != nil {
		t.Fatalf("sentinel user: %v", err)
	}
	if sentinel.ID != SentinelID {
		t.Errorf("sentinel user id = %q, want %q", sentinel.ID, SentinelID)
	}

	none, err := s.RoomByName(ctx, SentinelName)
	if err != nil {
		t.Fatalf("sentinel room: %v", err)
	}
	if none.ID != SentinelID {
		t.Errorf("sentinel room id = %q, want %q", none.ID, SentinelID)
	}

	lobby, err := s.RoomByName(ctx, LobbyName)
	if err != nil {
		t.Fatalf("lobby room: %v", err)
	}
	if lobby.ID == "" || lobby.ID == SentinelID {
		t.Errorf("lobby got unusable id %q", lobby.ID)
	}
}

// TestReopenIsIdempotent verifies reopening an existing database file does
// not duplicate seeds or lose rows.
func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conchat.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	lobby1, err := s1.RoomByName(context.Background(), LobbyName)
	if err != nil {
		t.Fatalf("lobby after first open: %v", err)
	}
	mustUser(t, s1, "alice")
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()

	lobby2, err := s2.RoomByName(context.Background(), LobbyName)
	if err != nil {
		t.Fatalf("lobby after reopen: %v", err)
	}
	if lobby1.ID != lobby2.ID {
		t.Errorf("lobby id changed across reopen: %q vs %q", lobby1.ID, lobby2.ID)
	}
	if _, err := s2.UserByUsername(context.Background(), "alice"); err != nil {
		t.Errorf("user lost across reopen: %v", err)
	}
}

// TestInsertUserUnique verifies duplicate usernames surface ErrConstraint
// and leave state unchanged.
func TestInsertUserUnique(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	first := mustUser(t, s, "alice")
	if first.ID == "" || first.CreateDate == "" {
		t.Fatalf("incomplete user row: %#v", first)
	}

	_, err := s.InsertUser(ctx, "alice", "other-hash")
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("expected ErrConstraint for duplicate username, got %v", err)
	}

	// Original row is untouched.
	u, err := s.UserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("UserByUsername: %v", err)
	}
	if u.ID != first.ID || u.Password != "hash-alice" {
		t.Errorf("row changed after failed insert: %#v", u)
	}
}

// TestUserByUsernameNotFound verifies the missing-row sentinel.
func TestUserByUsernameNotFound(t *testing.T) {
	s := newMemStore(t)
	if _, err := s.UserByUsername(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// TestInsertRoomUnique verifies room name uniqueness.
func TestInsertRoomUnique(t *testing.T) {
	s := newMemStore(t)
	mustRoom(t, s, "den")
	if _, err := s.InsertRoom(context.Background(), "den"); !errors.Is(err, ErrConstraint) {
		t.Fatalf("expected ErrConstraint for duplicate room, got %v", err)
	}
}

// TestRoomListExcludesSentinel verifies ordering and sentinel exclusion.
func TestRoomListExcludesSentinel(t *testing.T) {
	s := newMemStore(t)
	mustRoom(t, s, "zebra")
	mustRoom(t, s, "attic")

	rooms, err := s.RoomList(context.Background())
	if err != nil {
		t.Fatalf("RoomList: %v", err)
	}

	want := []string{"Lobby", "attic", "zebra"}
	if len(rooms) != len(want) {
		t.Fatalf("expected %d rooms, got %d: %#v", len(want), len(rooms), rooms)
	}
	for i, name := range want {
		if rooms[i].Name != name {
			t.Errorf("rooms[%d] = %q, want %q", i, rooms[i].Name, name)
		}
		if rooms[i].ID == SentinelID {
			t.Errorf("sentinel room leaked into list at %d", i)
		}
	}
}

// TestInsertMessageRoom verifies a room message persists and reads back
// joined with the author name.
func TestInsertMessageRoom(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	alice := mustUser(t, s, "alice")
	den := mustRoom(t, s, "den")

	m, err := s.InsertMessage(ctx, alice.ID, den.ID, "", "hello")
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if m.ID == "" || m.CreateDate == "" {
		t.Errorf("missing server-assigned fields: %#v", m)
	}
	if m.AuthorName != "alice" || m.AuthorID != alice.ID {
		t.Errorf("author not joined: %#v", m)
	}
	if m.RoomID != den.ID || m.TargetUserID != SentinelID {
		t.Errorf("unexpected routing columns: %#v", m)
	}
}

// TestInsertMessageUnknownReference verifies a message naming a missing
// room or target fails as ErrForeignKey, distinct from trigger rejections.
func TestInsertMessageUnknownReference(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	alice := mustUser(t, s, "alice")

	_, err := s.InsertMessage(ctx, alice.ID, "no-such-room", "", "hi")
	if !errors.Is(err, ErrForeignKey) {
		t.Fatalf("expected ErrForeignKey for unknown room, got %v", err)
	}
	_, err = s.InsertMessage(ctx, alice.ID, "", "no-such-user", "hi")
	if !errors.Is(err, ErrForeignKey) {
		t.Fatalf("expected ErrForeignKey for unknown target, got %v", err)
	}
	if errors.Is(err, ErrConstraint) {
		t.Error("foreign key failure should not classify as ErrConstraint")
	}
}

// TestNoneTriggerRejectsTargetlessMessage verifies
// trigger_block_none_message: a message with neither room nor target is
// refused at write time.
func TestNoneTriggerRejectsTargetlessMessage(t *testing.T) {
	s := newMemStore(t)
	alice := mustUser(t, s, "alice")

	_, err := s.InsertMessage(context.Background(), alice.ID, "", "", "void")
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("expected ErrConstraint for targetless message, got %v", err)
	}
}

// TestNoneTriggerRejectsSentinelAuthor verifies the sentinel user can never
// author a message.
func TestNoneTriggerRejectsSentinelAuthor(t *testing.T) {
	s := newMemStore(t)
	den := mustRoom(t, s, "den")

	_, err := s.InsertMessage(context.Background(), SentinelID, den.ID, "", "boo")
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("expected ErrConstraint for sentinel author, got %v", err)
	}
}

// TestBlacklistTriggerBlocksDM verifies trigger_block_message_insert: once
// the target has blocked the author, the insert aborts; unblocking lets it
// through again.
func TestBlacklistTriggerBlocksDM(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")

	// alice blocks bob → bob cannot DM alice.
	if err := s.InsertBlacklist(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("InsertBlacklist: %v", err)
	}
	_, err := s.InsertMessage(ctx, bob.ID, "", alice.ID, "hey")
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("expected ErrConstraint for blocked DM, got %v", err)
	}

	// The block is directional: alice can still DM bob.
	if _, err := s.InsertMessage(ctx, alice.ID, "", bob.ID, "final word"); err != nil {
		t.Fatalf("reverse-direction DM rejected: %v", err)
	}

	// Unblock restores delivery.
	deleted, err := s.DeleteBlacklist(ctx, alice.ID, bob.ID)
	if err != nil || !deleted {
		t.Fatalf("DeleteBlacklist: deleted=%v err=%v", deleted, err)
	}
	if _, err := s.InsertMessage(ctx, bob.ID, "", alice.ID, "hey again"); err != nil {
		t.Fatalf("DM after unblock rejected: %v", err)
	}
}

// TestBlacklistPairUnique verifies duplicate blocks surface ErrConstraint
// and deleting a non-existing pair reports false.
func TestBlacklistPairUnique(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")

	if err := s.InsertBlacklist(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("InsertBlacklist: %v", err)
	}
	if err := s.InsertBlacklist(ctx, alice.ID, bob.ID); !errors.Is(err, ErrConstraint) {
		t.Fatalf("expected ErrConstraint for duplicate pair, got %v", err)
	}

	deleted, err := s.DeleteBlacklist(ctx, bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("DeleteBlacklist: %v", err)
	}
	if deleted {
		t.Error("expected deleted=false for non-existing pair")
	}
}

// TestRoomMessagesWindow verifies the history query returns at most limit
// rows, the newest ones, ordered oldest-first.
func TestRoomMessagesWindow(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	alice := mustUser(t, s, "alice")
	den := mustRoom(t, s, "den")

	bodies := []string{"one", "two", "three", "four", "five"}
	for _, b := range bodies {
		if _, err := s.InsertMessage(ctx, alice.ID, den.ID, "", b); err != nil {
			t.Fatalf("InsertMessage %q: %v", b, err)
		}
	}

	msgs, err := s.RoomMessages(ctx, den.ID, 3)
	if err != nil {
		t.Fatalf("RoomMessages: %v", err)
	}
	want := []string{"three", "four", "five"}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, b := range want {
		if msgs[i].Body != b {
			t.Errorf("msgs[%d].Body = %q, want %q", i, msgs[i].Body, b)
		}
	}
}

// TestRoomMessagesEmptyRoom verifies an empty window is an empty slice, not
// an error.
func TestRoomMessagesEmptyRoom(t *testing.T) {
	s := newMemStore(t)
	den := mustRoom(t, s, "den")

	msgs, err := s.RoomMessages(context.Background(), den.ID, DefaultHistoryLimit)
	if err != nil {
		t.Fatalf("RoomMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}
}

// TestCounts verifies the CLI summary counts exclude sentinels.
func TestCounts(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	alice := mustUser(t, s, "alice")
	den := mustRoom(t, s, "den")
	if _, err := s.InsertMessage(ctx, alice.ID, den.ID, "", "hi"); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	users, rooms, messages, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	// rooms counts Lobby + den; users counts alice only.
	if users != 1 || rooms != 2 || messages != 1 {
		t.Errorf("Counts = (%d, %d, %d), want (1, 2, 1)", users, rooms, messages)
	}
}
