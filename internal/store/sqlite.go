package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/talkwire/talkwire-go/internal/logging"
)

// DB wraps a SQLite database connection with migration support.
type DB struct {
	sql *sql.DB
	log *logging.Logger
}

// Open opens (or creates) a SQLite database at the given path and runs
// migrations. Use ":memory:" for an in-memory database.
func Open(path string, log *logging.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	db := &DB{sql: sqlDB, log: log.Sub("store")}

	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	db.log.Debug().Str("path", path).Msg("state database opened")
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.sql.Close()
}

func (db *DB) migrate() error {
	if _, err := db.sql.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	for _, m := range migrations {
		applied, err := db.isMigrationApplied(m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		db.log.Debug().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")

		tx, err := db.sql.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (db *DB) isMigrationApplied(version int) (bool, error) {
	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking migration %d: %w", version, err)
	}
	return count > 0, nil
}

// SQLiteIdentityStore implements IdentityStore on top of a DB.
// The identity table holds a single row keyed by id=1.
type SQLiteIdentityStore struct {
	db *DB
}

// NewSQLiteIdentityStore creates an identity store using the given database.
func NewSQLiteIdentityStore(db *DB) *SQLiteIdentityStore {
	return &SQLiteIdentityStore{db: db}
}

// Load returns the persisted identity, or a zero Identity when none exists.
func (s *SQLiteIdentityStore) Load() (Identity, error) {
	var (
		id      Identity
		expires sql.NullString
	)
	err := s.db.sql.QueryRow(
		`SELECT session_id, fingerprint, visitor_id, conversation_id, conversation_expires_at, display_name
		 FROM identity WHERE id = 1`,
	).Scan(&id.SessionID, &id.Fingerprint, &id.VisitorID, &id.ConversationID, &expires, &id.DisplayName)
	if err == sql.ErrNoRows {
		return Identity{}, nil
	}
	if err != nil {
		return Identity{}, fmt.Errorf("loading identity: %w", err)
	}
	if expires.Valid && expires.String != "" {
		id.ConversationExpiresAt, _ = time.Parse(time.RFC3339, expires.String)
	}
	return id, nil
}

// Save upserts the single identity row.
func (s *SQLiteIdentityStore) Save(id Identity) error {
	var expires string
	if !id.ConversationExpiresAt.IsZero() {
		expires = id.ConversationExpiresAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.sql.Exec(
		`INSERT INTO identity (id, session_id, fingerprint, visitor_id, conversation_id, conversation_expires_at, display_name)
		 VALUES (1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   session_id = excluded.session_id,
		   fingerprint = excluded.fingerprint,
		   visitor_id = excluded.visitor_id,
		   conversation_id = excluded.conversation_id,
		   conversation_expires_at = excluded.conversation_expires_at,
		   display_name = excluded.display_name,
		   updated_at = datetime('now')`,
		id.SessionID, id.Fingerprint, id.VisitorID, id.ConversationID, expires, id.DisplayName,
	)
	if err != nil {
		return fmt.Errorf("saving identity: %w", err)
	}
	return nil
}

// ClearVisitor drops the visitor id and cached conversation, keeping the
// session id and fingerprint.
func (s *SQLiteIdentityStore) ClearVisitor() error {
	_, err := s.db.sql.Exec(
		`UPDATE identity SET visitor_id = '', conversation_id = '',
		 conversation_expires_at = '', updated_at = datetime('now') WHERE id = 1`,
	)
	if err != nil {
		return fmt.Errorf("clearing visitor: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteIdentityStore) Close() error {
	return s.db.Close()
}
