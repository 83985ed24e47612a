// Package audit provides the append-only action log collaborator. Entries
// are immutable once written; there is no update or delete surface.
package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

// Entry is one immutable audit row.
type Entry struct {
	ID         int64          `json:"id,omitempty"`
	ActionType string         `json:"actionType"`
	Target     string         `json:"target"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Log is the append-only audit collaborator.
type Log interface {
	Append(ctx context.Context, actionType, target string, details map[string]any) error
	// Recent returns entries newest first, bounded by limit.
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// LogFunc adapts a function into a write-only Log, mostly for tests.
type LogFunc func(ctx context.Context, actionType, target string, details map[string]any) error

func (f LogFunc) Append(ctx context.Context, actionType, target string, details map[string]any) error {
	return f(ctx, actionType, target, details)
}

func (f LogFunc) Recent(context.Context, int) ([]Entry, error) {
	return nil, nil
}

const defaultRecentLimit = 100

// InMemoryLog keeps audit entries in memory.
type InMemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
	nextID  int64
}

// NewInMemoryLog constructs an empty log.
func NewInMemoryLog() *InMemoryLog {
	return &InMemoryLog{nextID: 1}
}

var _ Log = (*InMemoryLog)(nil)

func (l *InMemoryLog) Append(_ context.Context, actionType, target string, details map[string]any) error {
	entry, err := buildEntry(actionType, target, details)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.ID = l.nextID
	l.nextID++
	l.entries = append(l.entries, entry)
	return nil
}

func (l *InMemoryLog) Recent(_ context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, limit)
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneEntry(l.entries[i]))
	}
	return out, nil
}

// Entries returns every entry oldest first, for assertions.
func (l *InMemoryLog) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	for i := range l.entries {
		out[i] = cloneEntry(l.entries[i])
	}
	return out
}

func buildEntry(actionType, target string, details map[string]any) (Entry, error) {
	actionType = strings.TrimSpace(actionType)
	if actionType == "" {
		return Entry{}, errors.New("audit action type required", errors.CategoryBadInput)
	}
	cp := make(map[string]any, len(details))
	for k, v := range details {
		cp[k] = v
	}
	return Entry{
		ActionType: actionType,
		Target:     strings.TrimSpace(target),
		Details:    cp,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func cloneEntry(e Entry) Entry {
	cp := e
	cp.Details = make(map[string]any, len(e.Details))
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	return cp
}
