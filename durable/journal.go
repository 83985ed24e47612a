// Package durable drives workflow executions to completion across process
// restarts. Every activity result, timer firing, and clock observation is
// journaled; on restart a workflow function is re-invoked from the top and
// fast-forwarded through its recorded history to the first unresolved
// suspension point.
package durable

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

// EventKind enumerates the journaled suspension-point outcomes.
type EventKind string

const (
	EventActivityCompleted EventKind = "activity_completed"
	EventActivityFailed    EventKind = "activity_failed"
	EventTimerScheduled    EventKind = "timer_scheduled"
	EventTimerFired        EventKind = "timer_fired"
	EventClockObserved     EventKind = "clock_observed"
)

// Event is one journal row. Seq is dense per execution, starting at 0.
type Event struct {
	ExecutionID string    `json:"executionId"`
	Seq         int       `json:"seq"`
	Kind        EventKind `json:"kind"`
	Name        string    `json:"name,omitempty"`
	Payload     []byte    `json:"payload,omitempty"`
	Error       string    `json:"error,omitempty"`
	FireAt      time.Time `json:"fireAt,omitempty"`
	RecordedAt  time.Time `json:"recordedAt"`
}

// ExecutionStatus is the lifecycle status of one workflow execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the execution has finished.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// Execution is the bookkeeping row for one workflow run.
type Execution struct {
	ID        string          `json:"id"`
	Workflow  string          `json:"workflow"`
	Input     []byte          `json:"input,omitempty"`
	Status    ExecutionStatus `json:"status"`
	Result    []byte          `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Journal persists executions and their event histories.
type Journal interface {
	CreateExecution(ctx context.Context, exec Execution) error
	UpdateExecution(ctx context.Context, exec Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	// ListResumable returns executions that still need driving: pending ones
	// and running ones interrupted by a crash.
	ListResumable(ctx context.Context) ([]Execution, error)

	AppendEvent(ctx context.Context, evt Event) error
	LoadEvents(ctx context.Context, executionID string) ([]Event, error)
}

// InMemoryJournal is a thread-safe journal for tests and ephemeral runs.
type InMemoryJournal struct {
	mu         sync.RWMutex
	executions map[string]*Execution
	events     map[string][]Event
	order      []string
}

// NewInMemoryJournal constructs an empty journal.
func NewInMemoryJournal() *InMemoryJournal {
	return &InMemoryJournal{
		executions: make(map[string]*Execution),
		events:     make(map[string][]Event),
	}
}

func (j *InMemoryJournal) CreateExecution(_ context.Context, exec Execution) error {
	if err := validateExecution(&exec); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, exists := j.executions[exec.ID]; exists {
		return errors.New("execution already exists", errors.CategoryConflict).
			WithMetadata(map[string]any{"execution_id": exec.ID})
	}
	cp := cloneExecution(exec)
	j.executions[exec.ID] = &cp
	j.order = append(j.order, exec.ID)
	return nil
}

func (j *InMemoryJournal) UpdateExecution(_ context.Context, exec Execution) error {
	if err := validateExecution(&exec); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, exists := j.executions[exec.ID]; !exists {
		return errors.New("execution not found", errors.CategoryBadInput).
			WithMetadata(map[string]any{"execution_id": exec.ID})
	}
	cp := cloneExecution(exec)
	j.executions[exec.ID] = &cp
	return nil
}

func (j *InMemoryJournal) GetExecution(_ context.Context, id string) (*Execution, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	exec, ok := j.executions[strings.TrimSpace(id)]
	if !ok {
		return nil, nil
	}
	cp := cloneExecution(*exec)
	return &cp, nil
}

func (j *InMemoryJournal) ListResumable(_ context.Context) ([]Execution, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Execution, 0)
	for _, id := range j.order {
		exec := j.executions[id]
		if exec != nil && !exec.Status.Terminal() {
			out = append(out, cloneExecution(*exec))
		}
	}
	return out, nil
}

func (j *InMemoryJournal) AppendEvent(_ context.Context, evt Event) error {
	if strings.TrimSpace(evt.ExecutionID) == "" {
		return errors.New("event execution id required", errors.CategoryBadInput)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	history := j.events[evt.ExecutionID]
	if evt.Seq != len(history) {
		return errors.New("event sequence gap", errors.CategoryConflict).
			WithMetadata(map[string]any{
				"execution_id": evt.ExecutionID,
				"expected_seq": len(history),
				"got_seq":      evt.Seq,
			})
	}
	if evt.RecordedAt.IsZero() {
		evt.RecordedAt = time.Now().UTC()
	}
	j.events[evt.ExecutionID] = append(history, cloneEvent(evt))
	return nil
}

func (j *InMemoryJournal) LoadEvents(_ context.Context, executionID string) ([]Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	history := j.events[strings.TrimSpace(executionID)]
	out := make([]Event, len(history))
	for i := range history {
		out[i] = cloneEvent(history[i])
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Seq < out[b].Seq })
	return out, nil
}

func validateExecution(exec *Execution) error {
	if exec == nil || strings.TrimSpace(exec.ID) == "" {
		return errors.New("execution id required", errors.CategoryBadInput)
	}
	if strings.TrimSpace(exec.Workflow) == "" {
		return errors.New("execution workflow required", errors.CategoryBadInput)
	}
	if exec.Status == "" {
		exec.Status = ExecutionPending
	}
	now := time.Now().UTC()
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = now
	}
	exec.UpdatedAt = now
	return nil
}

func cloneExecution(exec Execution) Execution {
	cp := exec
	cp.Input = append([]byte(nil), exec.Input...)
	cp.Result = append([]byte(nil), exec.Result...)
	return cp
}

func cloneEvent(evt Event) Event {
	cp := evt
	cp.Payload = append([]byte(nil), evt.Payload...)
	return cp
}
