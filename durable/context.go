package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goliatone/go-errors"

	steward "github.com/goliatone/go-steward"
	"github.com/goliatone/go-steward/activity"
)

const timerName = "timer"

// Context is the workflow-side handle to one execution. Code between
// suspension points must stay deterministic; the only legal suspension
// points are Call, Sleep, and Now, all of which journal their outcome so
// replay can fast-forward past them.
type Context struct {
	ctx       context.Context
	execution Execution
	journal   Journal
	history   []Event
	cursor    int
	logger    Logger
}

// ExecutionID identifies the running execution.
func (c *Context) ExecutionID() string { return c.execution.ID }

// Logger returns the execution-scoped logger.
func (c *Context) Logger() Logger { return normalizeLogger(c.logger) }

// Replaying reports whether unconsumed history remains. Useful to suppress
// duplicate log noise during fast-forward.
func (c *Context) Replaying() bool { return c.cursor < len(c.history) }

// Call runs a named activity through the retry policy, or returns its
// recorded outcome during replay. A recorded failure is returned as the
// same exhausted-retry error the live call produced.
func Call[T any](c *Context, name string, policy activity.RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := c.checkCancelled(); err != nil {
		return zero, err
	}

	if evt, ok := c.peek(); ok {
		switch evt.Kind {
		case EventActivityCompleted:
			if evt.Name != name {
				return zero, c.diverged(name, evt)
			}
			c.consume()
			if len(evt.Payload) == 0 {
				return zero, nil
			}
			var out T
			if err := json.Unmarshal(evt.Payload, &out); err != nil {
				return zero, errors.Wrap(err, errors.CategoryHandler,
					fmt.Sprintf("decode recorded result for activity %s", name))
			}
			return out, nil
		case EventActivityFailed:
			if evt.Name != name {
				return zero, c.diverged(name, evt)
			}
			c.consume()
			return zero, recordedFailure(name, evt.Error)
		default:
			return zero, c.diverged(name, evt)
		}
	}

	result, err := activity.Execute(c.ctx, name, policy, fn)
	if err != nil {
		if steward.IsCancelled(err) {
			// Not journaled: a resumed execution retries the call.
			return zero, err
		}
		if aerr := c.append(Event{Kind: EventActivityFailed, Name: name, Error: err.Error()}); aerr != nil {
			return zero, aerr
		}
		return zero, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return zero, errors.Wrap(err, errors.CategoryHandler,
			fmt.Sprintf("encode result for activity %s", name))
	}
	if err := c.append(Event{Kind: EventActivityCompleted, Name: name, Payload: payload}); err != nil {
		return zero, err
	}
	return result, nil
}

// Sleep suspends the workflow on a durable timer. The fire time is journaled
// when the timer is first scheduled, so a crash mid-sleep resumes with the
// remaining duration instead of restarting the full interval.
func Sleep(c *Context, d time.Duration) error {
	if err := c.checkCancelled(); err != nil {
		return err
	}

	var fireAt time.Time
	if evt, ok := c.peek(); ok {
		if evt.Kind != EventTimerScheduled {
			return c.diverged(timerName, evt)
		}
		c.consume()
		fireAt = evt.FireAt
	} else {
		fireAt = time.Now().UTC().Add(d)
		if err := c.append(Event{Kind: EventTimerScheduled, Name: timerName, FireAt: fireAt}); err != nil {
			return err
		}
	}

	if evt, ok := c.peek(); ok {
		if evt.Kind != EventTimerFired {
			return c.diverged(timerName, evt)
		}
		c.consume()
		return nil
	}

	if wait := time.Until(fireAt); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-c.ctx.Done():
			return cancelledErr(c.ctx.Err())
		}
	}
	return c.append(Event{Kind: EventTimerFired, Name: timerName})
}

// Now returns a replay-safe wall clock reading.
func (c *Context) Now() (time.Time, error) {
	if err := c.checkCancelled(); err != nil {
		return time.Time{}, err
	}
	if evt, ok := c.peek(); ok {
		if evt.Kind != EventClockObserved {
			return time.Time{}, c.diverged("clock", evt)
		}
		c.consume()
		var at time.Time
		if err := json.Unmarshal(evt.Payload, &at); err != nil {
			return time.Time{}, errors.Wrap(err, errors.CategoryHandler, "decode recorded clock")
		}
		return at, nil
	}

	now := time.Now().UTC()
	payload, err := json.Marshal(now)
	if err != nil {
		return time.Time{}, errors.Wrap(err, errors.CategoryHandler, "encode clock observation")
	}
	if err := c.append(Event{Kind: EventClockObserved, Name: "clock", Payload: payload}); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

func (c *Context) peek() (Event, bool) {
	if c.cursor < len(c.history) {
		return c.history[c.cursor], true
	}
	return Event{}, false
}

func (c *Context) consume() {
	c.cursor++
}

func (c *Context) append(evt Event) error {
	evt.ExecutionID = c.execution.ID
	evt.Seq = c.cursor
	evt.RecordedAt = time.Now().UTC()
	if err := c.journal.AppendEvent(c.ctx, evt); err != nil {
		return errors.Wrap(err, errors.CategoryHandler, "journal append failed").
			WithMetadata(map[string]any{
				"execution_id": c.execution.ID,
				"seq":          evt.Seq,
				"kind":         string(evt.Kind),
			})
	}
	c.history = append(c.history, evt)
	c.cursor++
	return nil
}

func (c *Context) checkCancelled() error {
	if err := c.ctx.Err(); err != nil {
		return cancelledErr(err)
	}
	return nil
}

func (c *Context) diverged(expected string, got Event) error {
	return steward.ErrNondeterminism.Clone().WithMetadata(map[string]any{
		"execution_id": c.execution.ID,
		"expected":     expected,
		"found_kind":   string(got.Kind),
		"found_name":   got.Name,
		"seq":          got.Seq,
	})
}

func cancelledErr(cause error) error {
	err := steward.ErrCancelled.Clone()
	err.Source = cause
	return err
}

func recordedFailure(name, message string) error {
	return errors.New(message, errors.CategoryExternal).
		WithTextCode(steward.ErrCodeRetriesExhausted).
		WithMetadata(map[string]any{"activity": name, "replayed": true})
}
