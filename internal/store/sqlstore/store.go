package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/pliu/letschat/internal/store"
)

type SQLStore struct {
	db         *sql.DB
	driverName string
}

var _ store.Store = (*SQLStore)(nil)

func New(driverName, dataSourceName string) (*SQLStore, error) {
	switch driverName {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driverName)
	}

	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, errors.Wrap(err, "sqlstore.New: open")
	}

	if driverName == "sqlite3" {
		// One connection keeps :memory: databases alive and avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sqlstore.New: ping")
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			display_name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'offline',
			last_seen DATETIME,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS user_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			token_hash BLOB NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL CHECK (type IN ('direct', 'group')),
			name TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL REFERENCES users(id),
			key_version INTEGER NOT NULL CHECK (key_version >= 1),
			direct_key TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		// One direct conversation per user pair. Groups leave direct_key NULL.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_direct_key
		ON conversations(direct_key)`,

		`CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			role TEXT NOT NULL DEFAULT 'member',
			joined_at DATETIME NOT NULL,
			PRIMARY KEY (conversation_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS conversation_keys (
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			version INTEGER NOT NULL,
			wrapped_key BLOB NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (conversation_id, version)
		)`,

		// No plaintext column: a message exists only as ciphertext, iv and tag.
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL REFERENCES users(id),
			encrypted_content BLOB NOT NULL,
			iv BLOB NOT NULL,
			tag BLOB NOT NULL,
			key_version INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (conversation_id, key_version) REFERENCES conversation_keys(conversation_id, version)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
		ON messages(conversation_id, created_at, id)`,

		`CREATE INDEX IF NOT EXISTS idx_participants_user
		ON conversation_participants(user_id)`,
	}

	if s.driverName == "sqlite3" {
		migrations = append([]string{"PRAGMA foreign_keys = ON"}, migrations...)
	}

	for _, m := range migrations {
		if s.driverName == "postgres" {
			m = strings.ReplaceAll(m, "DATETIME", "TIMESTAMPTZ")
			m = strings.ReplaceAll(m, "BLOB", "BYTEA")
		}
		if _, err := s.db.Exec(m); err != nil {
			return errors.Wrap(err, "sqlstore.migrate")
		}
	}
	return nil
}

// Helper to handle placeholders
func (s *SQLStore) rebind(query string) string {
	if s.driverName == "postgres" {
		// Replace ? with $1, $2, etc.
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}

// translate maps driver errors onto store sentinels and wraps everything
// else with the calling operation.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(store.ErrNotFound, op)
	}
	if isUniqueViolation(err) {
		return errors.Wrap(store.ErrConflict, op)
	}
	return errors.Wrap(err, op)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func (s *SQLStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, op+": begin")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), op+": commit")
}
