// Package store provides durable chat state backed by an embedded SQLite
// database: users, rooms, messages, and the blacklist. It owns the database
// lifecycle and enforces the write-time business rules.
//
// Two BEFORE INSERT triggers on messages are part of the semantic contract,
// not an implementation detail: one rejects messages with neither a room nor
// a target, the other rejects messages whose target has blocked the author.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
)

// Sentinel identifiers satisfying NOT NULL foreign keys on messages that
// lack a room or a target user.
const (
	SentinelID   = "NONE"
	SentinelName = "NONE"

	// LobbyName is the pinned default room every session joins on login.
	LobbyName = "Lobby"

	// DefaultHistoryLimit bounds how many recent messages a room replay
	// returns.
	DefaultHistoryLimit = 30
)

var (
	// ErrConstraint marks logical write failures: uniqueness violations
	// and trigger ABORTs. Callers map it to a verb-specific wire error.
	ErrConstraint = errors.New("constraint violation")

	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForeignKey marks writes referencing a row that does not exist.
	// Kept apart from ErrConstraint so callers can answer a bad reference
	// instead of treating it like a trigger rejection.
	ErrForeignKey = errors.New("foreign key violation")
)

// schema holds the DDL. Column names are load-bearing: the wire protocol
// exposes them verbatim.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY NOT NULL,
	username TEXT UNIQUE NOT NULL,
	password TEXT NOT NULL,
	createdate TEXT NOT NULL DEFAULT(STRFTIME('%Y-%m-%d %H:%M:%f+00:00', 'NOW'))
);

CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY NOT NULL,
	name TEXT UNIQUE NOT NULL,
	createdate TEXT NOT NULL DEFAULT(STRFTIME('%Y-%m-%d %H:%M:%f+00:00', 'NOW'))
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY NOT NULL,
	authorid TEXT NOT NULL,
	roomid TEXT NOT NULL DEFAULT 'NONE',
	target_userid TEXT NOT NULL DEFAULT 'NONE',
	message TEXT NOT NULL,
	createdate TEXT NOT NULL DEFAULT(STRFTIME('%Y-%m-%d %H:%M:%f+00:00', 'NOW')),
	FOREIGN KEY (authorid) REFERENCES users (id) ON DELETE CASCADE ON UPDATE NO ACTION,
	FOREIGN KEY (roomid) REFERENCES rooms (id) ON DELETE CASCADE ON UPDATE NO ACTION,
	FOREIGN KEY (target_userid) REFERENCES users (id) ON DELETE CASCADE ON UPDATE NO ACTION
);

CREATE TABLE IF NOT EXISTS blacklisted_users (
	userid TEXT NOT NULL,
	blocked_userid TEXT NOT NULL,
	createdate TEXT NOT NULL DEFAULT(STRFTIME('%Y-%m-%d %H:%M:%f+00:00', 'NOW')),
	UNIQUE(userid, blocked_userid),
	FOREIGN KEY (userid) REFERENCES users (id) ON DELETE CASCADE ON UPDATE NO ACTION,
	FOREIGN KEY (blocked_userid) REFERENCES users (id) ON DELETE CASCADE ON UPDATE NO ACTION
);

CREATE TRIGGER IF NOT EXISTS trigger_block_none_message
	BEFORE INSERT ON messages
BEGIN
	SELECT
		CASE
			WHEN
				NEW.authorid = 'NONE' OR
				(NEW.roomid = 'NONE' AND NEW.target_userid = 'NONE')
			THEN
				RAISE (ABORT, 'authorid can not be NONE or missing one of roomid or target_userid')
	END;
END;

CREATE TRIGGER IF NOT EXISTS trigger_block_message_insert
	BEFORE INSERT ON messages
BEGIN
	SELECT
		CASE
			WHEN EXISTS(
				SELECT *
				FROM blacklisted_users AS b
				WHERE
					NEW.authorid = b.blocked_userid AND
					NEW.target_userid = b.userid
			) THEN RAISE (ABORT, 'User has been blacklisted')
	END;
END;
`

// User is one row of the users table. Password holds the KDF blob and is
// only populated by UserByUsername.
type User struct {
	ID         string
	Username   string
	Password   string
	CreateDate string
}

// Room is one row of the rooms table.
type Room struct {
	ID         string
	Name       string
	CreateDate string
}

// Message is one persisted chat message joined with its author's username.
type Message struct {
	ID           string
	AuthorName   string
	AuthorID     string
	RoomID       string
	TargetUserID string
	Body         string
	CreateDate   string
}

// Store wraps a SQLite database and exposes chat-state operations.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and idempotently ensures the sentinel and Lobby rows. Use ":memory:" for
// ephemeral in-process storage (tests).
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Serialise writes; SQLite allows one writer at a time anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("sqlite store opened", "path", path)
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initialize(ctx context.Context) error {
	for _, pragma := range []string{
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Seed rows. INSERT OR IGNORE keeps reopening an existing file cheap.
	seeds := []struct {
		q    string
		args []any
	}{
		{`INSERT OR IGNORE INTO users (id, username, password) VALUES (?, ?, ?)`,
			[]any{SentinelID, SentinelName, SentinelName}},
		{`INSERT OR IGNORE INTO rooms (id, name) VALUES (?, ?)`,
			[]any{SentinelID, SentinelName}},
		{`INSERT OR IGNORE INTO rooms (id, name) VALUES (?, ?)`,
			[]any{uuid.NewString(), LobbyName}},
	}
	for _, seed := range seeds {
		if _, err := s.db.ExecContext(ctx, seed.q, seed.args...); err != nil {
			return fmt.Errorf("seed row: %w", err)
		}
	}

	slog.Debug("schema applied, seed rows ensured")
	return nil
}

// classify maps SQLite failures to the store's sentinels: foreign key
// violations to ErrForeignKey, other constraint failures (uniqueness,
// trigger ABORT) to ErrConstraint. Everything else passes through as
// operational.
func classify(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.Code() == 787 || // SQLITE_CONSTRAINT_FOREIGNKEY
		strings.Contains(se.Error(), "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %v", ErrForeignKey, err)
	case se.Code()&0xff == 19: // SQLITE_CONSTRAINT
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	}
	return err
}

// InsertUser creates a user with a fresh UUID and returns the stored row.
// The password blob is expected to be hashed already.
func (s *Store) InsertUser(ctx context.Context, username, password string) (User, error) {
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password) VALUES (?, ?, ?)`,
		id, username, password,
	); err != nil {
		return User{}, classify(err)
	}

	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, createdate FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &u.CreateDate)
	if err != nil {
		return User{}, fmt.Errorf("read back user: %w", err)
	}
	slog.Debug("user created", "user_id", u.ID, "username", u.Username)
	return u, nil
}

// UserByUsername returns the full user row, password hash included.
// Returns ErrNotFound when the username is unknown.
func (s *Store) UserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password, createdate FROM users WHERE username = ?`,
		username,
	).Scan(&u.ID, &u.Username, &u.Password, &u.CreateDate)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// InsertRoom creates a room with a fresh UUID and returns the stored row.
func (s *Store) InsertRoom(ctx context.Context, name string) (Room, error) {
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, name) VALUES (?, ?)`, id, name,
	); err != nil {
		return Room{}, classify(err)
	}

	var r Room
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, createdate FROM rooms WHERE id = ?`, id,
	).Scan(&r.ID, &r.Name, &r.CreateDate)
	if err != nil {
		return Room{}, fmt.Errorf("read back room: %w", err)
	}
	slog.Debug("room created", "room_id", r.ID, "name", r.Name)
	return r, nil
}

// RoomByName returns the room with the given name, or ErrNotFound.
func (s *Store) RoomByName(ctx context.Context, name string) (Room, error) {
	var r Room
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, createdate FROM rooms WHERE name = ?`, name,
	).Scan(&r.ID, &r.Name, &r.CreateDate)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrNotFound
	}
	if err != nil {
		return Room{}, fmt.Errorf("query room: %w", err)
	}
	return r, nil
}

// RoomList returns all rooms except the sentinel, sorted by name.
func (s *Store) RoomList(ctx context.Context) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, createdate FROM rooms WHERE id != ? ORDER BY name ASC`,
		SentinelID,
	)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Name, &r.CreateDate); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertMessage persists one chat message and returns the stored row joined
// with the author's username. Empty room/target ids are normalised to the
// sentinel so the triggers see the canonical form.
func (s *Store) InsertMessage(ctx context.Context, authorID, roomID, targetUserID, body string) (Message, error) {
	if roomID == "" {
		roomID = SentinelID
	}
	if targetUserID == "" {
		targetUserID = SentinelID
	}

	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, authorid, roomid, target_userid, message) VALUES (?, ?, ?, ?, ?)`,
		id, authorID, roomID, targetUserID, body,
	); err != nil {
		return Message{}, classify(err)
	}

	var m Message
	err := s.db.QueryRowContext(ctx, `
SELECT m.id, u.username, m.authorid, m.roomid, m.target_userid, m.message, m.createdate
FROM messages AS m
INNER JOIN users AS u ON m.authorid = u.id
WHERE m.id = ?`, id,
	).Scan(&m.ID, &m.AuthorName, &m.AuthorID, &m.RoomID, &m.TargetUserID, &m.Body, &m.CreateDate)
	if err != nil {
		return Message{}, fmt.Errorf("read back message: %w", err)
	}
	return m, nil
}

// RoomMessages returns the newest limit messages of a room, oldest first
// within that window. A non-positive limit falls back to
// DefaultHistoryLimit.
func (s *Store) RoomMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, fmt.Errorf("roomid is required")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT m.id, u.username, m.authorid, m.roomid, m.target_userid, m.message, m.createdate
FROM messages AS m
INNER JOIN users AS u ON m.authorid = u.id
WHERE m.roomid = ?
ORDER BY m.createdate DESC, m.rowid DESC
LIMIT ?`, roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.AuthorName, &m.AuthorID, &m.RoomID, &m.TargetUserID, &m.Body, &m.CreateDate); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// The query selects newest-first; the window is replayed oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// InsertBlacklist records that userID has blocked blockedUserID. Duplicate
// pairs surface as ErrConstraint.
func (s *Store) InsertBlacklist(ctx context.Context, userID, blockedUserID string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO blacklisted_users (userid, blocked_userid) VALUES (?, ?)`,
		userID, blockedUserID,
	); err != nil {
		return classify(err)
	}
	slog.Debug("blacklist added", "user_id", userID, "blocked_user_id", blockedUserID)
	return nil
}

// DeleteBlacklist removes a block pair. The bool reports whether a row was
// actually deleted.
func (s *Store) DeleteBlacklist(ctx context.Context, userID, blockedUserID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM blacklisted_users WHERE userid = ? AND blocked_userid = ?`,
		userID, blockedUserID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Backup copies the database to destPath via SQLite's VACUUM INTO.
func (s *Store) Backup(destPath string) error {
	_, err := s.db.Exec(`VACUUM INTO ?`, destPath)
	return err
}

// Counts returns row counts for the CLI status summary, sentinels excluded.
func (s *Store) Counts(ctx context.Context) (users, rooms, messages int, err error) {
	if err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE id != ?`, SentinelID).Scan(&users); err != nil {
		return
	}
	if err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rooms WHERE id != ?`, SentinelID).Scan(&rooms); err != nil {
		return
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&messages)
	return
}
