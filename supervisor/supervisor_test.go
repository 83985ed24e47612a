package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	steward "github.com/goliatone/go-steward"
	"github.com/goliatone/go-steward/activity"
	"github.com/goliatone/go-steward/audit"
	"github.com/goliatone/go-steward/durable"
	"github.com/goliatone/go-steward/notify"
	"github.com/goliatone/go-steward/saga"
	"github.com/goliatone/go-steward/store"
)

type statusStep struct {
	res saga.StatusResult
	err error
}

type signalCall struct {
	signalType string
	decision   string
}

// fakeJobs scripts the external job service: each Status call consumes the
// next step, and the last step repeats once the script runs out.
type fakeJobs struct {
	mu       sync.Mutex
	steps    []statusStep
	calls    int
	started  int
	startErr error
	signals  []signalCall
}

func (f *fakeJobs) Start(context.Context, string, map[string]any) (saga.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return saga.StartResult{}, f.startErr
	}
	f.started++
	return saga.StartResult{Status: "started"}, nil
}

func (f *fakeJobs) Status(context.Context, string) (saga.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.steps) {
		idx = len(f.steps) - 1
	}
	f.calls++
	step := f.steps[idx]
	return step.res, step.err
}

func (f *fakeJobs) Signal(_ context.Context, _ string, signalType, decision string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, signalCall{signalType: signalType, decision: decision})
	return nil
}

func (f *fakeJobs) sentSignals() []signalCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]signalCall(nil), f.signals...)
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *captureNotifier) Send(_ context.Context, msg notify.Notification) (notify.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return notify.Receipt{Success: true, MessageID: "m"}, nil
}

func (n *captureNotifier) messages() []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Notification(nil), n.sent...)
}

func running(total, completed, collapsed int, review bool) statusStep {
	return statusStep{res: saga.StatusResult{
		Status:              "running",
		TotalDimensions:     total,
		CompletedDimensions: completed,
		CollapsedDimensions: collapsed,
		NeedsHumanReview:    review,
	}}
}

func terminal(status string, total, completed, collapsed int) statusStep {
	return statusStep{res: saga.StatusResult{
		Status:              status,
		TotalDimensions:     total,
		CompletedDimensions: completed,
		CollapsedDimensions: collapsed,
	}}
}

type harness struct {
	jobs     *fakeJobs
	records  *store.InMemoryStore
	audit    *audit.InMemoryLog
	notifier *captureNotifier
	sched    *durable.Scheduler
}

func newHarness(t *testing.T, jobs *fakeJobs) *harness {
	t.Helper()
	h := &harness{
		jobs:     jobs,
		records:  store.NewInMemoryStore(),
		audit:    audit.NewInMemoryLog(),
		notifier: &captureNotifier{},
	}
	sup := New(jobs, h.records, h.audit,
		WithNotifier(h.notifier),
		WithStartPolicy(activity.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond, StartToClose: time.Second}),
		WithStatusPolicy(activity.RetryPolicy{MaxAttempts: 1, StartToClose: time.Second}),
		WithSignalPolicy(activity.RetryPolicy{MaxAttempts: 1, StartToClose: time.Second}),
	)
	h.sched = durable.NewScheduler(durable.NewInMemoryJournal())
	require.NoError(t, h.sched.Register(WorkflowName, sup.Workflow()))
	require.NoError(t, h.sched.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.sched.Stop(ctx)
	})
	return h
}

func (h *harness) supervise(t *testing.T, req steward.SuperviseRequest) steward.SuperviseResult {
	t.Helper()
	id, err := h.sched.Submit(context.Background(), WorkflowName, req)
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		exec, err := h.sched.Execution(context.Background(), id)
		require.NoError(t, err)
		if exec != nil && exec.Status.Terminal() {
			require.Equal(t, durable.ExecutionCompleted, exec.Status, "workflow error: %s", exec.Error)
			result, err := durable.ResultAs[steward.SuperviseResult](exec)
			require.NoError(t, err)
			return result
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("supervised run did not finish in time")
	return steward.SuperviseResult{}
}

func intp(v int) *int { return &v }

func fastRequest(sagaID string) steward.SuperviseRequest {
	return steward.SuperviseRequest{
		SagaID:          sagaID,
		PollInterval:    time.Millisecond,
		NotifyChannel:   "slack",
		NotifyRecipient: "#ops",
	}
}

func TestRunCleanCompletion(t *testing.T) {
	jobs := &fakeJobs{steps: []statusStep{
		running(4, 1, 0, false),
		running(4, 3, 0, false),
		terminal("complete", 4, 4, 0),
	}}
	h := newHarness(t, jobs)

	result := h.supervise(t, fastRequest("s-clean"))

	assert.Equal(t, steward.StatusComplete, result.FinalStatus)
	assert.Empty(t, result.Decisions)
	assert.Equal(t, result.TotalDimensions, result.CompletedDimensions)
	assert.NotEmpty(t, result.Summary)
	assert.Empty(t, jobs.sentSignals())

	rec, err := h.records.Get(context.Background(), "s-clean")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, steward.StatusComplete, rec.Status)
	require.NotNil(t, rec.CompletedAt)
	assert.Empty(t, rec.Decisions)

	msgs := h.notifier.messages()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, notify.PriorityNormal, last.Priority, "clean completion notifies at normal priority")
	assert.Equal(t, "#ops", last.Recipient)
}

func TestRunHandlesReviewThenCompletes(t *testing.T) {
	jobs := &fakeJobs{steps: []statusStep{
		running(5, 2, 1, false),
		running(5, 2, 1, true),
		running(5, 3, 1, false),
		terminal("complete", 5, 5, 0),
	}}
	h := newHarness(t, jobs)

	result := h.supervise(t, fastRequest("s-review"))

	assert.Equal(t, steward.StatusComplete, result.FinalStatus)
	require.Len(t, result.Decisions, 1)
	assert.Equal(t, steward.DecisionRetryCollapsed, result.Decisions[0].Decision)
	assert.NotEmpty(t, result.Decisions[0].Reasoning)

	signals := jobs.sentSignals()
	require.Len(t, signals, 1)
	assert.Equal(t, saga.SignalInterruptResponse, signals[0].signalType)
	assert.Equal(t, string(steward.DecisionRetryCollapsed), signals[0].decision)

	var decisionEntries int
	for _, entry := range h.audit.Entries() {
		if entry.ActionType == "oversight.decision" {
			decisionEntries++
			assert.Equal(t, "s-review", entry.Target)
		}
	}
	assert.Equal(t, 1, decisionEntries)

	var high, normal int
	for _, msg := range h.notifier.messages() {
		switch msg.Priority {
		case notify.PriorityHigh:
			high++
		case notify.PriorityNormal:
			normal++
		}
	}
	assert.Equal(t, 1, high, "the decision notification is the only urgent one")
	assert.GreaterOrEqual(t, normal, 2, "start and completion notifications")
}

func TestRunStopsDecidingAtAttemptLimit(t *testing.T) {
	review := running(3, 1, 2, true)
	jobs := &fakeJobs{steps: []statusStep{
		review,
		review,
		review,
		terminal("partial", 3, 2, 1),
	}}
	h := newHarness(t, jobs)

	req := fastRequest("s-limit")
	req.MaxReviewAttempts = intp(1)
	result := h.supervise(t, req)

	assert.Equal(t, steward.StatusPartial, result.FinalStatus)
	require.Len(t, result.Decisions, 1, "decisions never exceed the attempt limit")
	assert.Len(t, jobs.sentSignals(), 1)
}

func TestRunFailsAfterConsecutiveStatusFailures(t *testing.T) {
	flaky := errors.New("status endpoint down", errors.CategoryExternal)
	jobs := &fakeJobs{steps: []statusStep{{err: flaky}}}
	h := newHarness(t, jobs)

	result := h.supervise(t, fastRequest("s-down"))

	assert.Equal(t, steward.StatusFailed, result.FinalStatus)
	assert.Empty(t, result.Decisions)
	assert.Empty(t, jobs.sentSignals(), "no decision signal is ever sent on a dead saga")
	assert.Contains(t, result.Summary, "consecutive failed status checks")

	rec, err := h.records.Get(context.Background(), "s-down")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, steward.StatusFailed, rec.Status)
	require.NotNil(t, rec.CompletedAt)

	msgs := h.notifier.messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, notify.PriorityHigh, msgs[len(msgs)-1].Priority)
}

func TestRunRejectsMissingSagaID(t *testing.T) {
	jobs := &fakeJobs{steps: []statusStep{terminal("complete", 1, 1, 0)}}
	h := newHarness(t, jobs)

	id, err := h.sched.Submit(context.Background(), WorkflowName, steward.SuperviseRequest{PollInterval: time.Millisecond})
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		exec, err := h.sched.Execution(context.Background(), id)
		require.NoError(t, err)
		if exec != nil && exec.Status.Terminal() {
			assert.Equal(t, durable.ExecutionFailed, exec.Status)
			assert.Contains(t, exec.Error, "saga id required")
			assert.Zero(t, jobs.started, "validation failures never start the saga")
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("execution did not finish")
}

func TestSubmitRejectsMissingSagaIDSynchronously(t *testing.T) {
	jobs := &fakeJobs{steps: []statusStep{terminal("complete", 1, 1, 0)}}
	h := newHarness(t, jobs)

	id, err := Submit(context.Background(), h.sched, steward.SuperviseRequest{SagaID: "   "})
	require.Error(t, err)
	assert.Empty(t, id)
	assert.ErrorIs(t, err, steward.ErrMissingSagaID)
	assert.Zero(t, jobs.started, "nothing is queued for an invalid request")

	// A valid request goes through the same path and completes normally.
	id, err = Submit(context.Background(), h.sched, fastRequest("s-submit"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		exec, err := h.sched.Execution(context.Background(), id)
		require.NoError(t, err)
		if exec != nil && exec.Status.Terminal() {
			assert.Equal(t, durable.ExecutionCompleted, exec.Status, "workflow error: %s", exec.Error)
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("execution did not finish")
}

func TestRunAbortsWithoutRecordWhenStartFails(t *testing.T) {
	jobs := &fakeJobs{
		steps:    []statusStep{terminal("complete", 1, 1, 0)},
		startErr: errors.New("job service rejected start", errors.CategoryExternal),
	}
	h := newHarness(t, jobs)

	id, err := h.sched.Submit(context.Background(), WorkflowName, fastRequest("s-nostart"))
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		exec, err := h.sched.Execution(context.Background(), id)
		require.NoError(t, err)
		if exec != nil && exec.Status.Terminal() {
			assert.Equal(t, durable.ExecutionFailed, exec.Status)
			rec, err := h.records.Get(context.Background(), "s-nostart")
			require.NoError(t, err)
			assert.Nil(t, rec, "a saga that never started leaves no oversight record")
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("execution did not finish")
}
