package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	steward "github.com/goliatone/go-steward"
)

// WorkflowFunc is a registered workflow entry point. Input and output travel
// as JSON so executions can be re-driven from the journal after a restart.
type WorkflowFunc func(c *Context, input []byte) ([]byte, error)

// Workflow adapts a typed workflow function into a WorkflowFunc.
func Workflow[I any, O any](fn func(c *Context, input I) (O, error)) WorkflowFunc {
	return func(c *Context, raw []byte) ([]byte, error) {
		var input I
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &input); err != nil {
				return nil, errors.Wrap(err, errors.CategoryBadInput, "decode workflow input")
			}
		}
		output, err := fn(c, input)
		if err != nil {
			return nil, err
		}
		return json.Marshal(output)
	}
}

// ResultAs decodes a completed execution's result.
func ResultAs[O any](exec *Execution) (O, error) {
	var out O
	if exec == nil {
		return out, errors.New("execution required", errors.CategoryBadInput)
	}
	if exec.Status != ExecutionCompleted {
		return out, errors.New(
			fmt.Sprintf("execution %s not completed (status %s)", exec.ID, exec.Status),
			errors.CategoryBadInput,
		)
	}
	if len(exec.Result) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(exec.Result, &out); err != nil {
		return out, errors.Wrap(err, errors.CategoryHandler, "decode workflow result")
	}
	return out, nil
}

// Option customizes scheduler behavior.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger Logger) Option {
	return func(s *Scheduler) {
		s.logger = normalizeLogger(logger)
	}
}

// WithWorkers bounds the number of concurrently driven executions.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithResumeInterval controls how often the journal is rescanned for
// resumable executions.
func WithResumeInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.resumeEvery = d
		}
	}
}

// Scheduler drives registered workflows to completion. Executions run on a
// bounded worker pool; each one holds a single logical thread of control and
// is independent of every other execution.
type Scheduler struct {
	journal     Journal
	logger      Logger
	workers     int
	resumeEvery time.Duration

	mu        sync.Mutex
	workflows map[string]WorkflowFunc
	active    map[string]context.CancelFunc
	started   bool

	queue  chan string
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewScheduler constructs a scheduler over the given journal.
func NewScheduler(journal Journal, opts ...Option) *Scheduler {
	s := &Scheduler{
		journal:     journal,
		logger:      NewFmtLogger(nil),
		workers:     4,
		resumeEvery: 10 * time.Second,
		workflows:   make(map[string]WorkflowFunc),
		active:      make(map[string]context.CancelFunc),
		queue:       make(chan string, 256),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Register binds a workflow name to its entry point.
func (s *Scheduler) Register(name string, fn WorkflowFunc) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("workflow name required", errors.CategoryBadInput)
	}
	if fn == nil {
		return errors.New("workflow function required", errors.CategoryBadInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[name]; exists {
		return errors.New("workflow already registered", errors.CategoryConflict).
			WithMetadata(map[string]any{"workflow": name})
	}
	s.workflows[name] = fn
	return nil
}

// Submit creates a pending execution and returns its id immediately. The
// result is retrieved later via Execution.
func (s *Scheduler) Submit(ctx context.Context, workflow string, input any) (string, error) {
	workflow = strings.TrimSpace(workflow)
	s.mu.Lock()
	_, known := s.workflows[workflow]
	s.mu.Unlock()
	if !known {
		return "", errors.New("unknown workflow", errors.CategoryBadInput).
			WithTextCode(steward.ErrCodeUnknownWorkflow).
			WithMetadata(map[string]any{"workflow": workflow})
	}

	var payload []byte
	if input != nil {
		var err error
		if payload, err = json.Marshal(input); err != nil {
			return "", errors.Wrap(err, errors.CategoryBadInput, "encode workflow input")
		}
	}

	exec := Execution{
		ID:       uuid.NewString(),
		Workflow: workflow,
		Input:    payload,
		Status:   ExecutionPending,
	}
	if err := s.journal.CreateExecution(ctx, exec); err != nil {
		return "", err
	}
	s.enqueue(exec.ID)
	return exec.ID, nil
}

// Start launches the worker pool and the resume loop. It returns once
// workers are running; Stop waits for them to drain.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started", errors.CategoryConflict)
	}
	s.started = true
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	group, groupCtx := errgroup.WithContext(runCtx)
	s.group = group

	for i := 0; i < s.workers; i++ {
		group.Go(func() error {
			s.worker(groupCtx)
			return nil
		})
	}
	group.Go(func() error {
		s.resumeLoop(groupCtx)
		return nil
	})
	return nil
}

// Stop cancels in-flight executions cooperatively and waits for workers.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	group := s.group
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel requests cooperative cancellation of one execution. A pending
// execution is cancelled directly; a running one observes the request at
// its next suspension point.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	cancel, running := s.active[id]
	s.mu.Unlock()
	if running {
		cancel()
		return nil
	}

	exec, err := s.journal.GetExecution(ctx, id)
	if err != nil {
		return err
	}
	if exec == nil {
		return errors.New("execution not found", errors.CategoryBadInput).
			WithMetadata(map[string]any{"execution_id": id})
	}
	if exec.Status.Terminal() {
		return nil
	}
	exec.Status = ExecutionCancelled
	return s.journal.UpdateExecution(ctx, *exec)
}

// Execution returns the current bookkeeping row for an execution id.
func (s *Scheduler) Execution(ctx context.Context, id string) (*Execution, error) {
	return s.journal.GetExecution(ctx, id)
}

func (s *Scheduler) enqueue(id string) {
	select {
	case s.queue <- id:
	default:
		// Queue full: the resume loop re-scans pending executions.
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.queue:
			s.run(ctx, id)
		}
	}
}

func (s *Scheduler) resumeLoop(ctx context.Context) {
	s.scanResumable(ctx)
	ticker := time.NewTicker(s.resumeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanResumable(ctx)
		}
	}
}

func (s *Scheduler) scanResumable(ctx context.Context) {
	execs, err := s.journal.ListResumable(ctx)
	if err != nil {
		s.logger.Error("resume scan failed: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, exec := range execs {
		if _, busy := s.active[exec.ID]; busy {
			continue
		}
		select {
		case s.queue <- exec.ID:
		default:
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context, id string) {
	s.mu.Lock()
	if _, busy := s.active[id]; busy {
		s.mu.Unlock()
		return
	}
	execCtx, cancel := context.WithCancel(ctx)
	s.active[id] = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
	}()

	logger := withLoggerFields(s.logger, map[string]any{"execution_id": id})

	exec, err := s.journal.GetExecution(ctx, id)
	if err != nil {
		logger.Error("load execution failed: %v", err)
		return
	}
	if exec == nil || exec.Status.Terminal() {
		return
	}

	s.mu.Lock()
	fn := s.workflows[exec.Workflow]
	s.mu.Unlock()
	if fn == nil {
		exec.Status = ExecutionFailed
		exec.Error = "unknown workflow " + exec.Workflow
		if err := s.journal.UpdateExecution(ctx, *exec); err != nil {
			logger.Error("mark unknown workflow failed: %v", err)
		}
		return
	}

	history, err := s.journal.LoadEvents(ctx, id)
	if err != nil {
		logger.Error("load history failed: %v", err)
		return
	}

	if exec.Status == ExecutionPending {
		exec.Status = ExecutionRunning
		if err := s.journal.UpdateExecution(ctx, *exec); err != nil {
			logger.Error("mark running failed: %v", err)
			return
		}
	}

	c := &Context{
		ctx:       execCtx,
		execution: *exec,
		journal:   s.journal,
		history:   history,
		logger:    logger,
	}

	result, err := s.invoke(fn, c, exec.Input)
	switch {
	case err == nil:
		exec.Status = ExecutionCompleted
		exec.Result = result
		exec.Error = ""
		logger.Info("execution completed workflow=%s", exec.Workflow)
	case steward.IsCancelled(err):
		if ctx.Err() != nil {
			// Shutdown, not a user cancel: leave the execution running so
			// the next Start resumes it from the journal.
			logger.Info("execution interrupted workflow=%s", exec.Workflow)
			return
		}
		exec.Status = ExecutionCancelled
		exec.Error = ""
		logger.Info("execution cancelled workflow=%s", exec.Workflow)
	default:
		exec.Status = ExecutionFailed
		exec.Error = err.Error()
		logger.Error("execution failed workflow=%s err=%v", exec.Workflow, err)
	}
	if uerr := s.journal.UpdateExecution(ctx, *exec); uerr != nil {
		logger.Error("finalize execution failed: %v", uerr)
	}
}

func (s *Scheduler) invoke(fn WorkflowFunc, c *Context, input []byte) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprintf("workflow panic: %v", r), errors.CategoryHandler)
		}
	}()
	return fn(c, input)
}
