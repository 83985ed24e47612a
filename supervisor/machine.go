// Package supervisor drives the oversight loop for one external saga: poll
// its status, make bounded automated review decisions, and persist a durable
// record of the run. The transition logic lives in a pure function so every
// branch is testable without workers, timers, or stores.
package supervisor

import (
	"fmt"
	"time"

	steward "github.com/goliatone/go-steward"
	"github.com/goliatone/go-steward/policy"
)

// FailureCeiling is the number of consecutive failed status checks after
// which a run gives up and reports the saga as failed.
const FailureCeiling = 20

// Observation is one poll outcome, either a status snapshot or a failed
// check.
type Observation struct {
	// Failed marks a status check that errored. The remaining fields are
	// meaningless when set.
	Failed bool

	Status      steward.SagaStatus
	StatusKnown bool

	Counts           steward.DimensionCounts
	NeedsHumanReview bool
	PendingInterrupt string
}

// State is the accumulated run state between polls.
type State struct {
	Counts              steward.DimensionCounts
	ConsecutiveFailures int
	ReviewAttempts      int
	Decisions           []steward.DecisionEntry

	Final steward.SagaStatus
	Done  bool
	// FailureExhausted marks a run ended by the failure ceiling rather than
	// a terminal status report.
	FailureExhausted bool
}

// EffectKind enumerates the side effects a transition can request. The set
// is closed; the driver dispatches on it with a switch.
type EffectKind string

const (
	// EffectSignalDecision sends the decision to the saga as an
	// interrupt response.
	EffectSignalDecision EffectKind = "signal_decision"
	// EffectAuditDecision records the decision in the audit log.
	EffectAuditDecision EffectKind = "audit_decision"
	// EffectNotifyDecision notifies the configured recipient at high
	// priority.
	EffectNotifyDecision EffectKind = "notify_decision"
)

// Effect is one side effect requested by a transition.
type Effect struct {
	Kind     EffectKind
	Decision steward.Decision
}

// Config is the per-run transition configuration.
type Config struct {
	AutoHandleReviews bool
	MaxReviewAttempts int
	// CountSignalFailures folds failed decision signals into the
	// consecutive-failure count when set.
	CountSignalFailures bool

	Decide policy.Func
}

func (c Config) decide(attempt int, counts steward.DimensionCounts) steward.Decision {
	if c.Decide != nil {
		return c.Decide(attempt, counts)
	}
	return policy.Decide(attempt, counts)
}

// next applies one observation to the run state. Pure: the caller supplies
// the observation timestamp, and all side effects come back as Effect values.
func next(state State, obs Observation, cfg Config, observedAt time.Time) (State, []Effect) {
	if state.Done {
		return state, nil
	}

	if obs.Failed {
		state.ConsecutiveFailures++
		if state.ConsecutiveFailures >= FailureCeiling {
			state.Final = steward.StatusFailed
			state.Done = true
			state.FailureExhausted = true
		}
		return state, nil
	}

	state.ConsecutiveFailures = 0
	state.Counts = obs.Counts

	if obs.StatusKnown && obs.Status.Terminal() {
		state.Final = obs.Status
		state.Done = true
		return state, nil
	}

	// Unknown statuses keep polling; the review flag is honored either way.
	if !obs.NeedsHumanReview || !cfg.AutoHandleReviews {
		return state, nil
	}
	if state.ReviewAttempts >= cfg.MaxReviewAttempts {
		return state, nil
	}

	state.ReviewAttempts++
	decision := cfg.decide(state.ReviewAttempts, obs.Counts)
	state.Decisions = append(state.Decisions, steward.DecisionEntry{
		Decision:  decision.Kind,
		Reasoning: decision.Reasoning,
		Timestamp: observedAt,
	})

	return state, []Effect{
		{Kind: EffectSignalDecision, Decision: decision},
		{Kind: EffectAuditDecision, Decision: decision},
		{Kind: EffectNotifyDecision, Decision: decision},
	}
}

// noteSignalFailure folds a failed decision signal into the failure count
// when the configuration asks for it.
func noteSignalFailure(state State, cfg Config) State {
	if state.Done || !cfg.CountSignalFailures {
		return state
	}
	state.ConsecutiveFailures++
	if state.ConsecutiveFailures >= FailureCeiling {
		state.Final = steward.StatusFailed
		state.Done = true
		state.FailureExhausted = true
	}
	return state
}

// summarize renders the one-paragraph human summary of a finished run.
func summarize(sagaID string, state State, elapsedMs int64) string {
	outcome := string(state.Final)
	if state.FailureExhausted {
		outcome = fmt.Sprintf("%s after %d consecutive failed status checks", outcome, FailureCeiling)
	}
	return fmt.Sprintf(
		"Saga %s finished %s: %d/%d dimensions completed, %d collapsed, %d automated decision(s), %.1fs elapsed.",
		sagaID,
		outcome,
		state.Counts.Completed,
		state.Counts.Total,
		state.Counts.Collapsed,
		len(state.Decisions),
		float64(elapsedMs)/1000,
	)
}
