package supervisor

import (
	"context"
	"fmt"
	"time"

	steward "github.com/goliatone/go-steward"
	"github.com/goliatone/go-steward/activity"
	"github.com/goliatone/go-steward/audit"
	"github.com/goliatone/go-steward/durable"
	"github.com/goliatone/go-steward/notify"
	"github.com/goliatone/go-steward/policy"
	"github.com/goliatone/go-steward/saga"
	"github.com/goliatone/go-steward/store"
)

// WorkflowName is the registration name of the oversight workflow.
const WorkflowName = "saga.oversee"

// Default retry policies per collaborator. Status checks run a single
// attempt so each failed poll counts exactly once toward the failure
// ceiling.
var (
	defaultStartPolicy = activity.RetryPolicy{
		MaxAttempts:        3,
		InitialInterval:    time.Second,
		BackoffCoefficient: 2,
		MaxInterval:        30 * time.Second,
		StartToClose:       time.Minute,
	}
	defaultStatusPolicy = activity.RetryPolicy{
		MaxAttempts:  1,
		StartToClose: 30 * time.Second,
	}
	defaultSignalPolicy = activity.RetryPolicy{
		MaxAttempts:        3,
		InitialInterval:    time.Second,
		BackoffCoefficient: 2,
		MaxInterval:        15 * time.Second,
		StartToClose:       30 * time.Second,
	}
	defaultRecordPolicy = activity.RetryPolicy{
		MaxAttempts:        2,
		InitialInterval:    250 * time.Millisecond,
		BackoffCoefficient: 2,
		StartToClose:       10 * time.Second,
	}
	defaultNotifyPolicy = activity.RetryPolicy{
		MaxAttempts:        2,
		InitialInterval:    time.Second,
		BackoffCoefficient: 2,
		StartToClose:       30 * time.Second,
	}
)

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithNotifier sets the notification sender. Without one, notification
// steps are skipped.
func WithNotifier(sender notify.Sender) Option {
	return func(s *Supervisor) {
		s.notifier = sender
	}
}

// WithDecision replaces the default review decision policy.
func WithDecision(fn policy.Func) Option {
	return func(s *Supervisor) {
		s.decide = fn
	}
}

// WithCountSignalFailures folds failed decision signals into the
// consecutive-failure count.
func WithCountSignalFailures(v bool) Option {
	return func(s *Supervisor) {
		s.countSignalFailures = v
	}
}

// WithStatusPolicy overrides the status-check retry policy.
func WithStatusPolicy(p activity.RetryPolicy) Option {
	return func(s *Supervisor) {
		s.statusPolicy = p
	}
}

// WithStartPolicy overrides the saga-start retry policy.
func WithStartPolicy(p activity.RetryPolicy) Option {
	return func(s *Supervisor) {
		s.startPolicy = p
	}
}

// WithSignalPolicy overrides the decision-signal retry policy.
func WithSignalPolicy(p activity.RetryPolicy) Option {
	return func(s *Supervisor) {
		s.signalPolicy = p
	}
}

// Supervisor owns the oversight run for external sagas. It is safe for
// concurrent use: Run keeps all per-run state on the stack.
type Supervisor struct {
	jobs     saga.Client
	records  store.RecordStore
	auditLog audit.Log
	notifier notify.Sender
	decide   policy.Func

	countSignalFailures bool

	startPolicy  activity.RetryPolicy
	statusPolicy activity.RetryPolicy
	signalPolicy activity.RetryPolicy
	recordPolicy activity.RetryPolicy
	notifyPolicy activity.RetryPolicy
}

// New builds a Supervisor over the external job service, the record store,
// and the audit log. Records and audit may be nil for ephemeral runs.
func New(jobs saga.Client, records store.RecordStore, auditLog audit.Log, opts ...Option) *Supervisor {
	s := &Supervisor{
		jobs:         jobs,
		records:      records,
		auditLog:     auditLog,
		decide:       policy.Decide,
		startPolicy:  defaultStartPolicy,
		statusPolicy: defaultStatusPolicy,
		signalPolicy: defaultSignalPolicy,
		recordPolicy: defaultRecordPolicy,
		notifyPolicy: defaultNotifyPolicy,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Workflow adapts Run for scheduler registration.
func (s *Supervisor) Workflow() durable.WorkflowFunc {
	return durable.Workflow(s.Run)
}

// Submitter queues workflow executions. *durable.Scheduler satisfies it.
type Submitter interface {
	Submit(ctx context.Context, workflow string, input any) (string, error)
}

// Submit validates the request and queues an oversight run, returning the
// execution id. A request without a saga id is rejected here, synchronously,
// before anything reaches the journal.
func Submit(ctx context.Context, sched Submitter, req steward.SuperviseRequest) (string, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return "", err
	}
	return sched.Submit(ctx, WorkflowName, req)
}

// Run supervises one saga to a terminal outcome. It is written as a durable
// workflow: every external interaction goes through Call, every wait through
// Sleep, and every clock read through Now, so a crashed run replays to the
// point it left off.
func (s *Supervisor) Run(c *durable.Context, req steward.SuperviseRequest) (steward.SuperviseResult, error) {
	var zero steward.SuperviseResult

	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return zero, err
	}

	log := c.Logger()
	startedAt, err := c.Now()
	if err != nil {
		return zero, err
	}

	// A saga that never starts produces no oversight record.
	start, err := durable.Call(c, "saga.start", s.startPolicy, func(ctx context.Context) (saga.StartResult, error) {
		return s.jobs.Start(ctx, req.SagaID, req.Config)
	})
	if err != nil {
		return zero, err
	}
	if !c.Replaying() {
		log.Info("saga started saga_id=%s status=%s", req.SagaID, start.Status)
	}

	if err := s.initRecord(c, req, startedAt); err != nil {
		return zero, err
	}
	if err := s.notifyRun(c, "notify.started", req, notify.PriorityNormal,
		fmt.Sprintf("Supervising saga %s", req.SagaID),
		fmt.Sprintf("Oversight of saga %s started; polling every %s.", req.SagaID, req.PollInterval),
	); err != nil {
		return zero, err
	}

	cfg := Config{
		AutoHandleReviews:   req.AutoReviews(),
		MaxReviewAttempts:   req.ReviewLimit(),
		CountSignalFailures: s.countSignalFailures,
		Decide:              s.decide,
	}
	state := State{Decisions: []steward.DecisionEntry{}}

	for !state.Done {
		if err := durable.Sleep(c, req.PollInterval); err != nil {
			return zero, err
		}

		status, statusErr := durable.Call(c, "saga.status", s.statusPolicy, func(ctx context.Context) (saga.StatusResult, error) {
			return s.jobs.Status(ctx, req.SagaID)
		})
		if statusErr != nil && steward.IsCancelled(statusErr) {
			return zero, statusErr
		}

		observedAt, err := c.Now()
		if err != nil {
			return zero, err
		}

		obs := observe(status, statusErr != nil)
		var effects []Effect
		state, effects = next(state, obs, cfg, observedAt)

		if obs.Failed && !c.Replaying() {
			log.Warn("saga status check failed saga_id=%s consecutive=%d err=%v",
				req.SagaID, state.ConsecutiveFailures, statusErr)
		}

		for _, eff := range effects {
			var err error
			switch eff.Kind {
			case EffectSignalDecision:
				err = s.signalDecision(c, req.SagaID, eff.Decision)
				if err != nil && !steward.IsCancelled(err) {
					log.Warn("decision signal failed saga_id=%s decision=%s err=%v",
						req.SagaID, eff.Decision.Kind, err)
					state = noteSignalFailure(state, cfg)
					err = nil
				}
			case EffectAuditDecision:
				err = s.auditRun(c, "audit.decision", "oversight.decision", req.SagaID, map[string]any{
					"decision":      string(eff.Decision.Kind),
					"reasoning":     eff.Decision.Reasoning,
					"reviewAttempt": state.ReviewAttempts,
				})
			case EffectNotifyDecision:
				err = s.notifyRun(c, "notify.decision", req, notify.PriorityHigh,
					fmt.Sprintf("Saga %s needed review: %s", req.SagaID, eff.Decision.Kind),
					eff.Decision.Reasoning,
				)
			}
			if err != nil {
				return zero, err
			}
		}
	}

	endedAt, err := c.Now()
	if err != nil {
		return zero, err
	}
	elapsed := endedAt.Sub(startedAt).Milliseconds()
	summary := summarize(req.SagaID, state, elapsed)

	result := steward.SuperviseResult{
		SagaID:              req.SagaID,
		FinalStatus:         state.Final,
		Decisions:           state.Decisions,
		Summary:             summary,
		TotalDimensions:     state.Counts.Total,
		CompletedDimensions: state.Counts.Completed,
		CollapsedDimensions: state.Counts.Collapsed,
		DurationMs:          elapsed,
	}

	if err := s.finalizeRecord(c, req, state, startedAt, endedAt, summary, elapsed); err != nil {
		return zero, err
	}

	completionPriority := notify.PriorityHigh
	if state.Final == steward.StatusComplete {
		completionPriority = notify.PriorityNormal
	}
	if err := s.notifyRun(c, "notify.finished", req, completionPriority,
		fmt.Sprintf("Saga %s %s", req.SagaID, state.Final), summary,
	); err != nil {
		return zero, err
	}

	if err := s.auditRun(c, "audit.finalized", "oversight.finalized", req.SagaID, map[string]any{
		"finalStatus": string(state.Final),
		"decisions":   len(state.Decisions),
		"durationMs":  elapsed,
	}); err != nil {
		return zero, err
	}

	if !c.Replaying() {
		log.Info("supervised run finished saga_id=%s status=%s decisions=%d",
			req.SagaID, state.Final, len(state.Decisions))
	}
	return result, nil
}

// observe maps a status call outcome onto a machine observation.
func observe(res saga.StatusResult, failed bool) Observation {
	if failed {
		return Observation{Failed: true}
	}
	status, known := steward.ParseSagaStatus(res.Status)
	return Observation{
		Status:      status,
		StatusKnown: known,
		Counts: steward.DimensionCounts{
			Total:     res.TotalDimensions,
			Completed: res.CompletedDimensions,
			Collapsed: res.CollapsedDimensions,
		},
		NeedsHumanReview: res.NeedsHumanReview,
		PendingInterrupt: res.PendingInterrupt,
	}
}

func (s *Supervisor) signalDecision(c *durable.Context, sagaID string, d steward.Decision) error {
	_, err := durable.Call(c, "saga.signal", s.signalPolicy, func(ctx context.Context) (bool, error) {
		return true, s.jobs.Signal(ctx, sagaID, saga.SignalInterruptResponse, string(d.Kind), map[string]any{
			"reasoning": d.Reasoning,
		})
	})
	return err
}

// initRecord writes the running oversight record. A record write failure is
// logged but never aborts the run; cancellation still propagates.
func (s *Supervisor) initRecord(c *durable.Context, req steward.SuperviseRequest, startedAt time.Time) error {
	if s.records == nil {
		return nil
	}
	_, err := durable.Call(c, "record.init", s.recordPolicy, func(ctx context.Context) (steward.SagaOversightRecord, error) {
		return s.records.Upsert(ctx, steward.SagaOversightRecord{
			SagaID:    req.SagaID,
			Status:    steward.StatusRunning,
			StartedAt: startedAt,
			Decisions: []steward.DecisionEntry{},
		})
	})
	if err != nil {
		if steward.IsCancelled(err) {
			return err
		}
		c.Logger().Warn("initial oversight record write failed saga_id=%s err=%v", req.SagaID, err)
	}
	return nil
}

func (s *Supervisor) finalizeRecord(c *durable.Context, req steward.SuperviseRequest, state State, startedAt, endedAt time.Time, summary string, elapsed int64) error {
	if s.records == nil {
		return nil
	}
	completedAt := endedAt
	_, err := durable.Call(c, "record.finalize", s.recordPolicy, func(ctx context.Context) (steward.SagaOversightRecord, error) {
		return s.records.Upsert(ctx, steward.SagaOversightRecord{
			SagaID:              req.SagaID,
			Status:              state.Final,
			StartedAt:           startedAt,
			CompletedAt:         &completedAt,
			Decisions:           state.Decisions,
			Summary:             summary,
			TotalDimensions:     state.Counts.Total,
			CompletedDimensions: state.Counts.Completed,
			CollapsedDimensions: state.Counts.Collapsed,
			DurationMs:          elapsed,
		})
	})
	if err != nil {
		if steward.IsCancelled(err) {
			return err
		}
		c.Logger().Error("final oversight record write failed saga_id=%s err=%v", req.SagaID, err)
	}
	return nil
}

// auditRun appends an audit entry best effort.
func (s *Supervisor) auditRun(c *durable.Context, name, actionType, target string, details map[string]any) error {
	if s.auditLog == nil {
		return nil
	}
	_, err := durable.Call(c, name, s.recordPolicy, func(ctx context.Context) (bool, error) {
		return true, s.auditLog.Append(ctx, actionType, target, details)
	})
	if err != nil {
		if steward.IsCancelled(err) {
			return err
		}
		c.Logger().Warn("audit append failed action=%s err=%v", actionType, err)
	}
	return nil
}

// notifyRun sends a notification best effort when a target is configured.
func (s *Supervisor) notifyRun(c *durable.Context, name string, req steward.SuperviseRequest, priority notify.Priority, subject, body string) error {
	if s.notifier == nil || !req.NotifyConfigured() {
		return nil
	}
	_, err := durable.Call(c, name, s.notifyPolicy, func(ctx context.Context) (notify.Receipt, error) {
		return s.notifier.Send(ctx, notify.Notification{
			Channel:   notify.Channel(req.NotifyChannel),
			Recipient: req.NotifyRecipient,
			Subject:   subject,
			Body:      body,
			Priority:  priority,
		})
	})
	if err != nil {
		if steward.IsCancelled(err) {
			return err
		}
		c.Logger().Warn("notification failed subject=%q err=%v", subject, err)
	}
	return nil
}
