package durable

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

// SQLiteJournal persists executions and events in SQLite.
type SQLiteJournal struct {
	db             *sql.DB
	executionTable string
	eventTable     string
	initOnce       sync.Once
	initErr        error
}

// NewSQLiteJournal builds a journal on the given DB. Table names default to
// workflow_executions and workflow_events.
func NewSQLiteJournal(db *sql.DB, tablePrefix string) *SQLiteJournal {
	prefix := strings.TrimSpace(tablePrefix)
	if prefix == "" {
		prefix = "workflow"
	}
	return &SQLiteJournal{
		db:             db,
		executionTable: prefix + "_executions",
		eventTable:     prefix + "_events",
	}
}

func (j *SQLiteJournal) ensureSchema(ctx context.Context) error {
	j.initOnce.Do(func() {
		if j.db == nil {
			j.initErr = errors.New("sqlite journal db not configured", errors.CategoryBadInput)
			return
		}
		ddl := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				workflow TEXT NOT NULL,
				input BLOB,
				status TEXT NOT NULL,
				result BLOB,
				error TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`, j.executionTable),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				execution_id TEXT NOT NULL,
				seq INTEGER NOT NULL,
				kind TEXT NOT NULL,
				name TEXT,
				payload BLOB,
				error TEXT,
				fire_at TEXT,
				recorded_at TEXT NOT NULL,
				PRIMARY KEY (execution_id, seq)
			)`, j.eventTable),
		}
		for _, stmt := range ddl {
			if _, err := j.db.ExecContext(ctx, stmt); err != nil {
				j.initErr = err
				return
			}
		}
	})
	return j.initErr
}

func (j *SQLiteJournal) CreateExecution(ctx context.Context, exec Execution) error {
	if err := j.ensureSchema(ctx); err != nil {
		return err
	}
	if err := validateExecution(&exec); err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, workflow, input, status, result, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, j.executionTable)
	_, err := j.db.ExecContext(ctx, q,
		exec.ID,
		exec.Workflow,
		exec.Input,
		string(exec.Status),
		exec.Result,
		exec.Error,
		formatTime(exec.CreatedAt),
		formatTime(exec.UpdatedAt),
	)
	return err
}

func (j *SQLiteJournal) UpdateExecution(ctx context.Context, exec Execution) error {
	if err := j.ensureSchema(ctx); err != nil {
		return err
	}
	if err := validateExecution(&exec); err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE %s SET status=?, result=?, error=?, updated_at=? WHERE id=?`, j.executionTable)
	result, err := j.db.ExecContext(ctx, q,
		string(exec.Status),
		exec.Result,
		exec.Error,
		formatTime(exec.UpdatedAt),
		exec.ID,
	)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.New("execution not found", errors.CategoryBadInput).
			WithMetadata(map[string]any{"execution_id": exec.ID})
	}
	return nil
}

func (j *SQLiteJournal) GetExecution(ctx context.Context, id string) (*Execution, error) {
	if err := j.ensureSchema(ctx); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT id, workflow, input, status, result, error, created_at, updated_at
		FROM %s WHERE id = ?`, j.executionTable)
	row := j.db.QueryRowContext(ctx, q, strings.TrimSpace(id))
	exec, err := scanExecution(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return exec, nil
}

func (j *SQLiteJournal) ListResumable(ctx context.Context) ([]Execution, error) {
	if err := j.ensureSchema(ctx); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT id, workflow, input, status, result, error, created_at, updated_at
		FROM %s WHERE status IN (?, ?) ORDER BY created_at ASC`, j.executionTable)
	rows, err := j.db.QueryContext(ctx, q, string(ExecutionPending), string(ExecutionRunning))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Execution, 0)
	for rows.Next() {
		exec, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *exec)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) AppendEvent(ctx context.Context, evt Event) error {
	if err := j.ensureSchema(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(evt.ExecutionID) == "" {
		return errors.New("event execution id required", errors.CategoryBadInput)
	}
	if evt.RecordedAt.IsZero() {
		evt.RecordedAt = time.Now().UTC()
	}
	fireAt := ""
	if !evt.FireAt.IsZero() {
		fireAt = formatTime(evt.FireAt)
	}
	// The (execution_id, seq) primary key rejects duplicate suspension
	// points, which keeps crash-replay appends idempotent.
	q := fmt.Sprintf(`INSERT INTO %s (execution_id, seq, kind, name, payload, error, fire_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, j.eventTable)
	_, err := j.db.ExecContext(ctx, q,
		evt.ExecutionID,
		evt.Seq,
		string(evt.Kind),
		evt.Name,
		evt.Payload,
		evt.Error,
		fireAt,
		formatTime(evt.RecordedAt),
	)
	return err
}

func (j *SQLiteJournal) LoadEvents(ctx context.Context, executionID string) ([]Event, error) {
	if err := j.ensureSchema(ctx); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT execution_id, seq, kind, name, payload, error, fire_at, recorded_at
		FROM %s WHERE execution_id = ? ORDER BY seq ASC`, j.eventTable)
	rows, err := j.db.QueryContext(ctx, q, strings.TrimSpace(executionID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var evt Event
		var kind, fireAt, recordedAt string
		if err := rows.Scan(&evt.ExecutionID, &evt.Seq, &kind, &evt.Name, &evt.Payload, &evt.Error, &fireAt, &recordedAt); err != nil {
			return nil, err
		}
		evt.Kind = EventKind(kind)
		if fireAt != "" {
			if evt.FireAt, err = parseTime(fireAt); err != nil {
				return nil, err
			}
		}
		if evt.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func scanExecution(scan func(dest ...any) error) (*Execution, error) {
	var exec Execution
	var status, createdAt, updatedAt string
	if err := scan(&exec.ID, &exec.Workflow, &exec.Input, &status, &exec.Result, &exec.Error, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	exec.Status = ExecutionStatus(status)
	var err error
	if exec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if exec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &exec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}
