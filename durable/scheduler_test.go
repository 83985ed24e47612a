package durable

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-steward/activity"
)

func waitForStatus(t *testing.T, s *Scheduler, id string, want ExecutionStatus) *Execution {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		exec, err := s.Execution(context.Background(), id)
		require.NoError(t, err)
		if exec != nil && exec.Status == want {
			return exec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("execution %s never reached status %s", id, want)
	return nil
}

func TestSchedulerDrivesWorkflowToCompletion(t *testing.T) {
	journal := NewInMemoryJournal()
	s := NewScheduler(journal, WithWorkers(2), WithResumeInterval(20*time.Millisecond))

	type input struct {
		Value int `json:"value"`
	}
	type output struct {
		Doubled int `json:"doubled"`
	}

	wf := Workflow(func(c *Context, in input) (output, error) {
		doubled, err := Call(c, "double", testPolicy, func(context.Context) (int, error) {
			return in.Value * 2, nil
		})
		if err != nil {
			return output{}, err
		}
		return output{Doubled: doubled}, nil
	})
	require.NoError(t, s.Register("double", wf))

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	id, err := s.Submit(context.Background(), "double", input{Value: 21})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	exec := waitForStatus(t, s, id, ExecutionCompleted)
	got, err := ResultAs[output](exec)
	require.NoError(t, err)
	assert.Equal(t, 42, got.Doubled)
}

func TestSchedulerRejectsUnknownWorkflow(t *testing.T) {
	s := NewScheduler(NewInMemoryJournal())
	_, err := s.Submit(context.Background(), "missing", nil)
	require.Error(t, err)
}

func TestSchedulerResumesPendingExecutionsOnStart(t *testing.T) {
	journal := NewInMemoryJournal()

	// Submitted by a scheduler that never starts, simulating a crash
	// between submit and drive.
	first := NewScheduler(journal)
	var ran atomic.Int32
	wf := Workflow(func(c *Context, _ struct{}) (string, error) {
		ran.Add(1)
		return "done", nil
	})
	require.NoError(t, first.Register("task", wf))
	id, err := first.Submit(context.Background(), "task", struct{}{})
	require.NoError(t, err)

	second := NewScheduler(journal, WithResumeInterval(10*time.Millisecond))
	require.NoError(t, second.Register("task", wf))
	require.NoError(t, second.Start(context.Background()))
	defer func() { _ = second.Stop(context.Background()) }()

	waitForStatus(t, second, id, ExecutionCompleted)
	assert.Equal(t, int32(1), ran.Load())
}

func TestSchedulerCancelPendingExecution(t *testing.T) {
	journal := NewInMemoryJournal()
	s := NewScheduler(journal)
	require.NoError(t, s.Register("task", Workflow(func(c *Context, _ struct{}) (string, error) {
		return "", nil
	})))

	id, err := s.Submit(context.Background(), "task", struct{}{})
	require.NoError(t, err)
	require.NoError(t, s.Cancel(context.Background(), id))

	exec, err := s.Execution(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, ExecutionCancelled, exec.Status)
}

func TestSchedulerCancelRunningExecutionAtSuspensionPoint(t *testing.T) {
	journal := NewInMemoryJournal()
	s := NewScheduler(journal, WithResumeInterval(10*time.Millisecond))

	started := make(chan struct{})
	wf := Workflow(func(c *Context, _ struct{}) (string, error) {
		if _, err := Call(c, "mark", testPolicy, func(context.Context) (bool, error) {
			close(started)
			return true, nil
		}); err != nil {
			return "", err
		}
		if err := Sleep(c, time.Hour); err != nil {
			return "", err
		}
		return "never", nil
	})
	require.NoError(t, s.Register("sleepy", wf))
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	id, err := s.Submit(context.Background(), "sleepy", struct{}{})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("workflow never started")
	}
	require.NoError(t, s.Cancel(context.Background(), id))
	waitForStatus(t, s, id, ExecutionCancelled)
}

func TestSchedulerMarksFailedWorkflow(t *testing.T) {
	journal := NewInMemoryJournal()
	s := NewScheduler(journal, WithResumeInterval(10*time.Millisecond))

	failing := activity.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond, BackoffCoefficient: 1}
	wf := Workflow(func(c *Context, _ struct{}) (string, error) {
		_, err := Call(c, "broken", failing, func(context.Context) (int, error) {
			return 0, assert.AnError
		})
		return "", err
	})
	require.NoError(t, s.Register("broken", wf))
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	id, err := s.Submit(context.Background(), "broken", struct{}{})
	require.NoError(t, err)

	exec := waitForStatus(t, s, id, ExecutionFailed)
	assert.Contains(t, exec.Error, "broken")
}
