package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"

	steward "github.com/goliatone/go-steward"
)

// SQLiteStore persists oversight records in SQLite.
type SQLiteStore struct {
	db       *sql.DB
	table    string
	initOnce sync.Once
	initErr  error
}

var _ RecordStore = (*SQLiteStore)(nil)

// NewSQLiteStore builds a store using the given DB. The table name defaults
// to oversight_records.
func NewSQLiteStore(db *sql.DB, table string) *SQLiteStore {
	table = strings.TrimSpace(table)
	if table == "" {
		table = "oversight_records"
	}
	return &SQLiteStore{db: db, table: table}
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	s.initOnce.Do(func() {
		if s.db == nil {
			s.initErr = errors.New("sqlite store db not configured", errors.CategoryBadInput)
			return
		}
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			saga_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			decisions TEXT NOT NULL DEFAULT '[]',
			summary TEXT,
			total_dimensions INTEGER NOT NULL DEFAULT 0,
			completed_dimensions INTEGER NOT NULL DEFAULT 0,
			collapsed_dimensions INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`, s.table)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			s.initErr = err
			return
		}
		idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_saga ON %s (saga_id, id)`, s.table, s.table)
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.initErr = err
		}
	})
	return s.initErr
}

func (s *SQLiteStore) Upsert(ctx context.Context, rec steward.SagaOversightRecord) (steward.SagaOversightRecord, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return steward.SagaOversightRecord{}, err
	}
	if err := normalizeRecord(&rec); err != nil {
		return steward.SagaOversightRecord{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return steward.SagaOversightRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	latest, err := s.latest(ctx, tx, rec.SagaID)
	if err != nil {
		return steward.SagaOversightRecord{}, err
	}

	var out steward.SagaOversightRecord
	switch {
	case rec.Status == steward.StatusRunning:
		if latest != nil && latest.Status == steward.StatusRunning {
			return steward.SagaOversightRecord{}, runningConflict(rec.SagaID)
		}
		if out, err = s.insert(ctx, tx, rec); err != nil {
			return steward.SagaOversightRecord{}, err
		}
	case latest != nil && latest.Status == steward.StatusRunning:
		rec.ID = latest.ID
		rec.CreatedAt = latest.CreatedAt
		if rec.StartedAt.IsZero() {
			rec.StartedAt = latest.StartedAt
		}
		if out, err = s.update(ctx, tx, rec); err != nil {
			return steward.SagaOversightRecord{}, err
		}
	case latest != nil && latest.SamePayload(rec):
		out = *latest
	default:
		if out, err = s.insert(ctx, tx, rec); err != nil {
			return steward.SagaOversightRecord{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return steward.SagaOversightRecord{}, err
	}
	return out, nil
}

func (s *SQLiteStore) Get(ctx context.Context, sagaID string) (*steward.SagaOversightRecord, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s.latest(ctx, s.db, strings.TrimSpace(sagaID))
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]steward.SagaOversightRecord, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	q := fmt.Sprintf(`SELECT %s FROM %s ORDER BY id DESC LIMIT ?`, recordColumns, s.table)
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]steward.SagaOversightRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const recordColumns = `id, saga_id, status, started_at, completed_at, decisions, summary,
	total_dimensions, completed_dimensions, collapsed_dimensions, duration_ms, created_at, updated_at`

func (s *SQLiteStore) latest(ctx context.Context, q sqlQuerier, sagaID string) (*steward.SagaOversightRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE saga_id = ? ORDER BY id DESC LIMIT 1`, recordColumns, s.table)
	row := q.QueryRowContext(ctx, query, sagaID)
	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) insert(ctx context.Context, q sqlQuerier, rec steward.SagaOversightRecord) (steward.SagaOversightRecord, error) {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	decisions, err := json.Marshal(recDecisions(rec))
	if err != nil {
		return steward.SagaOversightRecord{}, err
	}
	query := fmt.Sprintf(`INSERT INTO %s (saga_id, status, started_at, completed_at, decisions, summary,
		total_dimensions, completed_dimensions, collapsed_dimensions, duration_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	result, err := q.ExecContext(ctx, query,
		rec.SagaID,
		string(rec.Status),
		formatTime(rec.StartedAt),
		formatNullableTime(rec.CompletedAt),
		string(decisions),
		rec.Summary,
		rec.TotalDimensions,
		rec.CompletedDimensions,
		rec.CollapsedDimensions,
		rec.DurationMs,
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return steward.SagaOversightRecord{}, err
	}
	if rec.ID, err = result.LastInsertId(); err != nil {
		return steward.SagaOversightRecord{}, err
	}
	return rec, nil
}

func (s *SQLiteStore) update(ctx context.Context, q sqlQuerier, rec steward.SagaOversightRecord) (steward.SagaOversightRecord, error) {
	rec.UpdatedAt = time.Now().UTC()
	decisions, err := json.Marshal(recDecisions(rec))
	if err != nil {
		return steward.SagaOversightRecord{}, err
	}
	query := fmt.Sprintf(`UPDATE %s SET status=?, started_at=?, completed_at=?, decisions=?, summary=?,
		total_dimensions=?, completed_dimensions=?, collapsed_dimensions=?, duration_ms=?, updated_at=?
		WHERE id=? AND status=?`, s.table)
	result, err := q.ExecContext(ctx, query,
		string(rec.Status),
		formatTime(rec.StartedAt),
		formatNullableTime(rec.CompletedAt),
		string(decisions),
		rec.Summary,
		rec.TotalDimensions,
		rec.CompletedDimensions,
		rec.CollapsedDimensions,
		rec.DurationMs,
		formatTime(rec.UpdatedAt),
		rec.ID,
		string(steward.StatusRunning),
	)
	if err != nil {
		return steward.SagaOversightRecord{}, err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return steward.SagaOversightRecord{}, steward.ErrRecordConflict.Clone().WithMetadata(map[string]any{
			"saga_id": rec.SagaID,
			"reason":  "running record vanished during terminal transition",
		})
	}
	return rec, nil
}

func scanRecord(scan func(dest ...any) error) (*steward.SagaOversightRecord, error) {
	var rec steward.SagaOversightRecord
	var status, startedAt, decisions, createdAt, updatedAt string
	var completedAt, summary sql.NullString
	if err := scan(&rec.ID, &rec.SagaID, &status, &startedAt, &completedAt, &decisions, &summary,
		&rec.TotalDimensions, &rec.CompletedDimensions, &rec.CollapsedDimensions,
		&rec.DurationMs, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.Status = steward.SagaStatus(status)
	rec.Summary = summary.String

	var err error
	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid && completedAt.String != "" {
		at, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		rec.CompletedAt = &at
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(decisions), &rec.Decisions); err != nil {
		return nil, err
	}
	return &rec, nil
}

func recDecisions(rec steward.SagaOversightRecord) []steward.DecisionEntry {
	if rec.Decisions == nil {
		return []steward.DecisionEntry{}
	}
	return rec.Decisions
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}
