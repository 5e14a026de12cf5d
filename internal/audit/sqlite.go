package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	timestamp  TIMESTAMP NOT NULL,
	actor      TEXT,
	platform   TEXT,
	channel    TEXT,
	target     TEXT,
	context    TEXT,
	task_id    TEXT,
	detail     TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(type);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
`

// SQLiteSink stores audit events in a local database file.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens the database and ensures the schema.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(auditSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Record inserts one event.
func (s *SQLiteSink) Record(ctx context.Context, event *Event) error {
	var detail []byte
	if event.Detail != nil {
		var err error
		detail, err = json.Marshal(event.Detail)
		if err != nil {
			return fmt.Errorf("marshal audit detail: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, type, timestamp, actor, platform, channel, target, context, task_id, detail)
		VALUES (?,?,?,?,?,?,?,?,?,?)
	`,
		event.ID,
		string(event.Type),
		event.Timestamp.UTC(),
		event.Actor,
		event.Platform,
		event.Channel,
		event.Target,
		event.Context,
		event.TaskID,
		string(detail),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Query reads events matching the filter, oldest first.
func (s *SQLiteSink) Query(ctx context.Context, filter Filter) ([]*Event, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Actor != "" {
		clauses = append(clauses, "actor = ?")
		args = append(args, filter.Actor)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := "SELECT id, type, timestamp, actor, platform, channel, target, context, task_id, detail FROM audit_events"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var (
			event  Event
			typ    string
			ts     time.Time
			detail string
		)
		if err := rows.Scan(&event.ID, &typ, &ts, &event.Actor, &event.Platform, &event.Channel, &event.Target, &event.Context, &event.TaskID, &detail); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Type = EventType(typ)
		event.Timestamp = ts
		if detail != "" {
			_ = json.Unmarshal([]byte(detail), &event.Detail)
		}
		out = append(out, &event)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
