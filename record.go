package steward

import "time"

// SagaOversightRecord is the durable audit entity for one supervised run
// attempt. A saga id may be resupervised over time, producing a new record
// per attempt; records are never deleted.
type SagaOversightRecord struct {
	// ID is assigned by the record store. Zero means not yet persisted.
	ID int64 `json:"id,omitempty"`

	SagaID      string          `json:"sagaId"`
	Status      SagaStatus      `json:"status"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Decisions   []DecisionEntry `json:"decisionsMade"`
	Summary     string          `json:"summary,omitempty"`

	TotalDimensions     int `json:"totalDimensions"`
	CompletedDimensions int `json:"completedDimensions"`
	CollapsedDimensions int `json:"collapsedDimensions"`

	DurationMs int64 `json:"durationMs"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Clone returns a deep copy so stores can hand out records without sharing
// the decisions slice.
func (r SagaOversightRecord) Clone() SagaOversightRecord {
	cp := r
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		cp.CompletedAt = &at
	}
	if len(r.Decisions) > 0 {
		cp.Decisions = append([]DecisionEntry(nil), r.Decisions...)
	}
	return cp
}

// SamePayload reports whether two records carry an identical terminal
// payload, ignoring store-assigned identity and bookkeeping timestamps.
// Stores use it to treat a repeated terminal upsert as a no-op.
func (r SagaOversightRecord) SamePayload(other SagaOversightRecord) bool {
	if r.SagaID != other.SagaID ||
		r.Status != other.Status ||
		r.Summary != other.Summary ||
		r.TotalDimensions != other.TotalDimensions ||
		r.CompletedDimensions != other.CompletedDimensions ||
		r.CollapsedDimensions != other.CollapsedDimensions ||
		r.DurationMs != other.DurationMs {
		return false
	}
	if len(r.Decisions) != len(other.Decisions) {
		return false
	}
	for i := range r.Decisions {
		if r.Decisions[i] != other.Decisions[i] {
			return false
		}
	}
	return true
}
