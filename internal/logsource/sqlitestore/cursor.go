package sqlitestore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/banshee-data/survey.report/internal/logsource"
	"github.com/banshee-data/survey.report/internal/monitoring"
)

// cursor pages through one message type in (timestamp, id) order. No rows
// are held open between pages.
type cursor struct {
	store   *Store
	msgType string

	page   []*logsource.Message
	pos    int
	lastTS int64
	lastID int64
	begun  bool
	done   bool
	err    error
}

func (s *Store) cursor(msgType string) *cursor {
	return &cursor{store: s, msgType: msgType}
}

func (c *cursor) Next() (*logsource.Message, bool) {
	if c.pos >= len(c.page) {
		if c.done {
			return nil, false
		}
		if err := c.fetch(); err != nil {
			monitoring.Logf("[sqlitestore] reading %s: %v", c.msgType, err)
			c.err, c.done = err, true
			return nil, false
		}
		if len(c.page) == 0 {
			c.done = true
			return nil, false
		}
	}
	m := c.page[c.pos]
	c.pos++
	return m, true
}

func (c *cursor) fetch() error {
	size := c.store.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}

	var (
		rows *sql.Rows
		err  error
	)
	if !c.begun {
		rows, err = c.store.db.Query(`
			SELECT id, timestamp_ms, source, fields, payload FROM messages
			WHERE type = ?
			ORDER BY timestamp_ms, id LIMIT ?`, c.msgType, size)
	} else {
		rows, err = c.store.db.Query(`
			SELECT id, timestamp_ms, source, fields, payload FROM messages
			WHERE type = ? AND (timestamp_ms > ? OR (timestamp_ms = ? AND id > ?))
			ORDER BY timestamp_ms, id LIMIT ?`, c.msgType, c.lastTS, c.lastTS, c.lastID, size)
	}
	if err != nil {
		return err
	}
	defer rows.Close()

	c.page, c.pos = c.page[:0], 0
	for rows.Next() {
		var (
			id     int64
			fields sql.NullString
			m      = &logsource.Message{Type: c.msgType}
		)
		if err := rows.Scan(&id, &m.TimestampMillis, &m.Source, &fields, &m.Payload); err != nil {
			return err
		}
		if fields.Valid {
			if err := json.Unmarshal([]byte(fields.String), &m.Fields); err != nil {
				return fmt.Errorf("message %d: %w", id, err)
			}
		}
		c.page = append(c.page, m)
		c.lastTS, c.lastID, c.begun = m.TimestampMillis, id, true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	c.done = len(c.page) < size
	return nil
}

func (c *cursor) Reset() {
	c.page, c.pos = nil, 0
	c.lastTS, c.lastID = 0, 0
	c.begun, c.done, c.err = false, false, nil
}

func (c *cursor) Close() error {
	c.page = nil
	c.done = true
	return nil
}

// Err returns the error that ended iteration early, if any.
func (c *cursor) Err() error { return c.err }
