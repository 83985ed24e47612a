// Package schedule submits recurring workflow executions on cron
// expressions. It wraps robfig/cron and keeps the trigger layer dumb: all
// retry and recovery behavior lives in the durable scheduler that runs the
// submitted workflows.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	rcron "github.com/robfig/cron/v3"

	"github.com/goliatone/go-steward/durable"
)

const defaultSubmitTimeout = 10 * time.Second

// Submitter accepts workflow submissions. *durable.Scheduler satisfies it.
type Submitter interface {
	Submit(ctx context.Context, workflow string, input any) (string, error)
}

// Job binds a cron expression to one workflow submission.
type Job struct {
	// Name identifies the job in logs.
	Name       string
	Expression string
	Workflow   string
	Input      any
}

// Option customizes the scheduler.
type Option func(*Scheduler)

// WithLocation sets the timezone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger durable.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithErrorHandler receives submission errors.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.errorHandler = fn
		}
	}
}

// WithSecondsParser enables six-field cron expressions.
func WithSecondsParser() Option {
	return func(s *Scheduler) {
		s.seconds = true
	}
}

// WithSubmitTimeout bounds how long one trigger may spend submitting.
func WithSubmitTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.submitTimeout = d
		}
	}
}

// Scheduler triggers workflow submissions on cron expressions.
type Scheduler struct {
	mu   sync.Mutex
	cron *rcron.Cron

	submitter     Submitter
	logger        durable.Logger
	errorHandler  func(error)
	location      *time.Location
	seconds       bool
	submitTimeout time.Duration

	entries map[string]rcron.EntryID
}

// NewScheduler constructs a scheduler submitting into the given Submitter.
func NewScheduler(submitter Submitter, opts ...Option) *Scheduler {
	s := &Scheduler{
		submitter:     submitter,
		logger:        durable.NewFmtLogger(nil),
		location:      time.Local,
		submitTimeout: defaultSubmitTimeout,
		entries:       make(map[string]rcron.EntryID),
	}
	s.errorHandler = func(err error) {
		s.logger.Error("scheduled submission failed: %v", err)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	cronOpts := []rcron.Option{rcron.WithLocation(s.location)}
	if s.seconds {
		cronOpts = append(cronOpts, rcron.WithParser(rcron.NewParser(
			rcron.Second|rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	}
	s.cron = rcron.New(cronOpts...)
	return s
}

// Schedule registers one recurring job. The expression is validated here;
// invalid expressions never reach the cron runner.
func (s *Scheduler) Schedule(job Job) error {
	if job.Expression == "" {
		return errors.New("cron expression required", errors.CategoryBadInput).
			WithMetadata(map[string]any{"job": job.Name})
	}
	if job.Workflow == "" {
		return errors.New("workflow name required", errors.CategoryBadInput).
			WithMetadata(map[string]any{"job": job.Name})
	}
	name := job.Name
	if name == "" {
		name = job.Workflow
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[name]; exists {
		return errors.New("job already scheduled", errors.CategoryConflict).
			WithMetadata(map[string]any{"job": name})
	}

	entryID, err := s.cron.AddJob(job.Expression, rcron.FuncJob(func() {
		s.trigger(name, job)
	}))
	if err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, "invalid cron expression").
			WithMetadata(map[string]any{"job": name, "expression": job.Expression})
	}
	s.entries[name] = entryID
	return nil
}

// Remove drops a scheduled job by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[name]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, name)
	}
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	return nil
}

// Stop stops firing jobs and waits for in-flight triggers.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) trigger(name string, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.submitTimeout)
	defer cancel()

	id, err := s.submitter.Submit(ctx, job.Workflow, job.Input)
	if err != nil {
		s.errorHandler(errors.Wrap(err, errors.CategoryExternal, "submit scheduled workflow").
			WithMetadata(map[string]any{"job": name, "workflow": job.Workflow}))
		return
	}
	s.logger.Info("scheduled job submitted job=%s workflow=%s execution_id=%s", name, job.Workflow, id)
}
