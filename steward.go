package steward

import (
	"strings"
	"time"
)

// SagaStatus is the externally reported lifecycle status of a supervised saga.
type SagaStatus string

const (
	StatusRunning   SagaStatus = "running"
	StatusComplete  SagaStatus = "complete"
	StatusFailed    SagaStatus = "failed"
	StatusCollapsed SagaStatus = "collapsed"
	StatusPartial   SagaStatus = "partial"
)

// Terminal reports whether the status ends a supervised run. Running is the
// only non-terminal value.
func (s SagaStatus) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCollapsed, StatusPartial:
		return true
	default:
		return false
	}
}

// ParseSagaStatus maps an external status string onto the closed status set.
// Unknown values return ok=false and keep the run polling.
func ParseSagaStatus(raw string) (SagaStatus, bool) {
	switch SagaStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusRunning:
		return StatusRunning, true
	case StatusComplete:
		return StatusComplete, true
	case StatusFailed:
		return StatusFailed, true
	case StatusCollapsed:
		return StatusCollapsed, true
	case StatusPartial:
		return StatusPartial, true
	default:
		return "", false
	}
}

// DimensionCounts are the last-observed dimension totals of an external saga.
type DimensionCounts struct {
	Total     int `json:"totalDimensions"`
	Completed int `json:"completedDimensions"`
	Collapsed int `json:"collapsedDimensions"`
}

// DecisionKind identifies one of the bounded automated decisions the
// supervisor can signal back to a stalled saga. The set is closed.
type DecisionKind string

const (
	// DecisionRetryCollapsed asks the saga to retry its collapsed dimensions.
	DecisionRetryCollapsed DecisionKind = "retry_collapsed"
	// DecisionSkipAndUnblock asks the saga to skip collapsed dimensions and
	// let the remaining work proceed.
	DecisionSkipAndUnblock DecisionKind = "skip_and_unblock"
)

// Decision pairs a decision kind with the reasoning behind it.
type Decision struct {
	Kind      DecisionKind `json:"decision"`
	Reasoning string       `json:"reasoning"`
}

// DecisionEntry is one immutable entry in a run's decision log.
type DecisionEntry struct {
	Decision  DecisionKind `json:"decision"`
	Reasoning string       `json:"reasoning"`
	Timestamp time.Time    `json:"timestamp"`
}
