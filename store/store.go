// Package store persists saga oversight records. Records are audit
// entities: created when supervision starts, transitioned running-to-terminal
// exactly once, and never deleted.
package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"

	steward "github.com/goliatone/go-steward"
)

// RecordStore is the oversight record collaborator contract.
//
// Upsert semantics: a running record inserts a new row and enforces the
// one-running-record-per-saga invariant; a terminal record transitions the
// saga's running row when one exists, is a no-op when an identical terminal
// row was already written, and otherwise falls back to inserting a fresh
// terminal row (a run that never reached its poll loop).
type RecordStore interface {
	Upsert(ctx context.Context, rec steward.SagaOversightRecord) (steward.SagaOversightRecord, error)
	// Get returns the most recent record for the saga id, or nil.
	Get(ctx context.Context, sagaID string) (*steward.SagaOversightRecord, error)
	// List returns records newest first, bounded by limit.
	List(ctx context.Context, limit int) ([]steward.SagaOversightRecord, error)
}

const defaultListLimit = 50

// InMemoryStore is a thread-safe record store for tests and ephemeral runs.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []steward.SagaOversightRecord
	nextID  int64
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nextID: 1}
}

var _ RecordStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) Upsert(_ context.Context, rec steward.SagaOversightRecord) (steward.SagaOversightRecord, error) {
	if err := normalizeRecord(&rec); err != nil {
		return steward.SagaOversightRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Status == steward.StatusRunning {
		if idx := s.latestIndex(rec.SagaID); idx >= 0 && s.records[idx].Status == steward.StatusRunning {
			return steward.SagaOversightRecord{}, runningConflict(rec.SagaID)
		}
		return s.insert(rec), nil
	}

	idx := s.latestIndex(rec.SagaID)
	if idx >= 0 && s.records[idx].Status == steward.StatusRunning {
		existing := s.records[idx]
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		if rec.StartedAt.IsZero() {
			rec.StartedAt = existing.StartedAt
		}
		rec.UpdatedAt = time.Now().UTC()
		s.records[idx] = rec.Clone()
		return rec.Clone(), nil
	}
	if idx >= 0 && s.records[idx].SamePayload(rec) {
		// Repeated terminal finalization with the same payload is a no-op.
		return s.records[idx].Clone(), nil
	}
	return s.insert(rec), nil
}

func (s *InMemoryStore) Get(_ context.Context, sagaID string) (*steward.SagaOversightRecord, error) {
	sagaID = strings.TrimSpace(sagaID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx := s.latestIndex(sagaID); idx >= 0 {
		rec := s.records[idx].Clone()
		return &rec, nil
	}
	return nil, nil
}

func (s *InMemoryStore) List(_ context.Context, limit int) ([]steward.SagaOversightRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]steward.SagaOversightRecord, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[i].Clone())
	}
	return out, nil
}

func (s *InMemoryStore) insert(rec steward.SagaOversightRecord) steward.SagaOversightRecord {
	rec.ID = s.nextID
	s.nextID++
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.records = append(s.records, rec.Clone())
	return rec.Clone()
}

func (s *InMemoryStore) latestIndex(sagaID string) int {
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].SagaID == sagaID {
			return i
		}
	}
	return -1
}

func normalizeRecord(rec *steward.SagaOversightRecord) error {
	rec.SagaID = strings.TrimSpace(rec.SagaID)
	if rec.SagaID == "" {
		return steward.ErrMissingSagaID
	}
	if rec.Status != steward.StatusRunning && !rec.Status.Terminal() {
		return errors.New("oversight record status invalid", errors.CategoryBadInput).
			WithMetadata(map[string]any{"status": string(rec.Status)})
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	if rec.Status.Terminal() && rec.CompletedAt == nil {
		at := time.Now().UTC()
		rec.CompletedAt = &at
	}
	return nil
}

func runningConflict(sagaID string) error {
	return steward.ErrRecordConflict.Clone().WithMetadata(map[string]any{
		"saga_id": sagaID,
		"reason":  "running record already exists",
	})
}
