// Package sqlitestore keeps survey log messages in a SQLite database and
// serves them as a logsource.Bundle.
package sqlitestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/survey.report/internal/logsource"
	"github.com/banshee-data/survey.report/internal/monitoring"
)

// DefaultPageSize is the number of messages a cursor reads per query.
const DefaultPageSize = 500

// Store is a message log in one SQLite file.
type Store struct {
	db *sql.DB
	id string

	// PageSize bounds the rows held by a cursor at once.
	PageSize int
}

// Open opens or creates the database at path and brings its schema up to
// date. A new database is given a random identifier.
func Open(path string) (*Store, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	// Pragmas in the DSN apply to every pooled connection.
	db, err := sql.Open("sqlite", path+sep+"_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(
		`INSERT OR IGNORE INTO store_info (key, value) VALUES ('id', ?)`,
		uuid.NewString(),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise store id: %w", err)
	}
	s := &Store{db: db, PageSize: DefaultPageSize}
	if err := db.QueryRow(`SELECT value FROM store_info WHERE key = 'id'`).Scan(&s.id); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read store id: %w", err)
	}
	return s, nil
}

// ID identifies the store across reopens.
func (s *Store) ID() string { return s.id }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// SchemaVersion reports the applied migration version.
func (s *Store) SchemaVersion() (uint, error) {
	v, dirty, err := schemaVersion(s.db)
	if err != nil {
		return 0, err
	}
	if dirty {
		return v, fmt.Errorf("schema version %d is dirty", v)
	}
	return v, nil
}

// Append inserts msgs in a single transaction.
func (s *Store) Append(msgs ...*logsource.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO messages (type, timestamp_ms, source, fields, payload)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		var fields []byte
		if len(m.Fields) > 0 {
			if fields, err = json.Marshal(m.Fields); err != nil {
				return fmt.Errorf("failed to encode fields of %s at %d: %w", m.Type, m.TimestampMillis, err)
			}
		}
		if _, err := stmt.Exec(m.Type, m.TimestampMillis, m.Source, nullString(fields), m.Payload); err != nil {
			return fmt.Errorf("failed to insert %s at %d: %w", m.Type, m.TimestampMillis, err)
		}
	}
	return tx.Commit()
}

func nullString(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: b != nil}
}

// Count returns the number of messages of msgType.
func (s *Store) Count(msgType string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE type = ?`, msgType).Scan(&n)
	return n, err
}

// Bundle serves the store as a log bundle whose caches live under dir.
func (s *Store) Bundle(dir string) logsource.Bundle {
	return &bundle{store: s, dir: dir}
}

type bundle struct {
	store *Store
	dir   string
}

func (b *bundle) Iterate(msgType string) logsource.Cursor {
	return b.store.cursor(msgType)
}

func (b *bundle) Log(name string) logsource.Cursor {
	var exists bool
	err := b.store.db.QueryRow(`SELECT EXISTS (SELECT 1 FROM messages WHERE type = ?)`, name).Scan(&exists)
	if err != nil {
		monitoring.Logf("[sqlitestore] checking for %s: %v", name, err)
		return nil
	}
	if !exists {
		return nil
	}
	return b.store.cursor(name)
}

func (b *bundle) VehicleSources() []int {
	rows, err := b.store.db.Query(`SELECT DISTINCT source FROM messages ORDER BY source`)
	if err != nil {
		monitoring.Logf("[sqlitestore] listing sources: %v", err)
		return nil
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var src int
		if err := rows.Scan(&src); err != nil {
			monitoring.Logf("[sqlitestore] listing sources: %v", err)
			return out
		}
		out = append(out, src)
	}
	return out
}

func (b *bundle) Dir() string { return b.dir }
