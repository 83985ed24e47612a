package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

// SQLiteLog persists audit entries in SQLite.
type SQLiteLog struct {
	db       *sql.DB
	table    string
	initOnce sync.Once
	initErr  error
}

var _ Log = (*SQLiteLog)(nil)

// NewSQLiteLog builds a log using the given DB. The table name defaults to
// audit_log.
func NewSQLiteLog(db *sql.DB, table string) *SQLiteLog {
	table = strings.TrimSpace(table)
	if table == "" {
		table = "audit_log"
	}
	return &SQLiteLog{db: db, table: table}
}

func (l *SQLiteLog) ensureSchema(ctx context.Context) error {
	l.initOnce.Do(func() {
		if l.db == nil {
			l.initErr = errors.New("sqlite audit db not configured", errors.CategoryBadInput)
			return
		}
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			action_type TEXT NOT NULL,
			target TEXT,
			details TEXT,
			created_at TEXT NOT NULL
		)`, l.table)
		if _, err := l.db.ExecContext(ctx, ddl); err != nil {
			l.initErr = err
		}
	})
	return l.initErr
}

func (l *SQLiteLog) Append(ctx context.Context, actionType, target string, details map[string]any) error {
	if err := l.ensureSchema(ctx); err != nil {
		return err
	}
	entry, err := buildEntry(actionType, target, details)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO %s (action_type, target, details, created_at) VALUES (?, ?, ?, ?)`, l.table)
	_, err = l.db.ExecContext(ctx, q,
		entry.ActionType,
		entry.Target,
		string(payload),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (l *SQLiteLog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if err := l.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	q := fmt.Sprintf(`SELECT id, action_type, target, details, created_at FROM %s ORDER BY id DESC LIMIT ?`, l.table)
	rows, err := l.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var details sql.NullString
		var createdAt string
		if err := rows.Scan(&entry.ID, &entry.ActionType, &entry.Target, &details, &createdAt); err != nil {
			return nil, err
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &entry.Details); err != nil {
				return nil, err
			}
		}
		if entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
