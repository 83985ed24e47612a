package reports

import (
	"context"
	"fmt"
	"time"

	steward "github.com/goliatone/go-steward"
	"github.com/goliatone/go-steward/activity"
	"github.com/goliatone/go-steward/audit"
	"github.com/goliatone/go-steward/durable"
	"github.com/goliatone/go-steward/notify"
)

// Workflow registration names.
const (
	GenerateWorkflowName = "reports.generate"
	StaleWorkflowName    = "reports.stale"
	DeliverWorkflowName  = "notify.deliver"
)

// DefaultIdleThreshold marks items stale after two weeks without activity.
const DefaultIdleThreshold = 14 * 24 * time.Hour

var defaultActivityPolicy = activity.RetryPolicy{
	MaxAttempts:        2,
	InitialInterval:    time.Second,
	BackoffCoefficient: 2,
	StartToClose:       time.Minute,
}

// GenerateRequest triggers one report batch.
type GenerateRequest struct {
	Kind Kind `json:"kind"`
	// Repos overrides ProjectSource.ActiveRepos when non-empty.
	Repos []string `json:"repos,omitempty"`

	NotifyChannel   string `json:"notifyChannel,omitempty"`
	NotifyRecipient string `json:"notifyRecipient,omitempty"`
}

// GenerateResult summarizes one report batch.
type GenerateResult struct {
	Kind      Kind     `json:"kind"`
	Generated int      `json:"generated"`
	Failures  []string `json:"failures,omitempty"`
}

// StaleRequest triggers one stale-item sweep.
type StaleRequest struct {
	Repos []string `json:"repos,omitempty"`
	// IdleDays overrides the default two-week threshold when positive.
	IdleDays int `json:"idleDays,omitempty"`

	NotifyChannel   string `json:"notifyChannel,omitempty"`
	NotifyRecipient string `json:"notifyRecipient,omitempty"`
}

// StaleResult summarizes one sweep.
type StaleResult struct {
	ReposChecked int      `json:"reposChecked"`
	StaleItems   int      `json:"staleItems"`
	Failures     []string `json:"failures,omitempty"`
	Notified     bool     `json:"notified"`
}

// DeliverRequest carries one notification to send.
type DeliverRequest struct {
	Notification notify.Notification `json:"notification"`
}

// DeliverResult reports the delivery outcome. Failures come back as data,
// not as a workflow error.
type DeliverResult struct {
	Delivered bool   `json:"delivered"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// WorkflowsOption customizes the secondary workflows.
type WorkflowsOption func(*Workflows)

// WithNotifier sets the notification sender.
func WithNotifier(sender notify.Sender) WorkflowsOption {
	return func(w *Workflows) { w.notifier = sender }
}

// WithAudit sets the audit log.
func WithAudit(log audit.Log) WorkflowsOption {
	return func(w *Workflows) { w.audit = log }
}

// WithActivityPolicy overrides the retry policy applied to workflow
// activities.
func WithActivityPolicy(p activity.RetryPolicy) WorkflowsOption {
	return func(w *Workflows) { w.policy = p }
}

// Workflows bundles the secondary workflow entry points over their
// collaborators.
type Workflows struct {
	source    ProjectSource
	generator Generator
	notifier  notify.Sender
	audit     audit.Log
	policy    activity.RetryPolicy
}

// NewWorkflows builds the secondary workflows. source and generator are
// required; notifier and audit are optional.
func NewWorkflows(source ProjectSource, generator Generator, opts ...WorkflowsOption) *Workflows {
	w := &Workflows{
		source:    source,
		generator: generator,
		policy:    defaultActivityPolicy,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Register binds all three workflows onto the scheduler.
func (w *Workflows) Register(sched *durable.Scheduler) error {
	if err := sched.Register(GenerateWorkflowName, durable.Workflow(w.GenerateReports)); err != nil {
		return err
	}
	if err := sched.Register(StaleWorkflowName, durable.Workflow(w.DetectStale)); err != nil {
		return err
	}
	return sched.Register(DeliverWorkflowName, durable.Workflow(w.Deliver))
}

// GenerateReports produces one report per repository. A repo that fails to
// generate lands in the failure list while the batch continues.
func (w *Workflows) GenerateReports(c *durable.Context, req GenerateRequest) (GenerateResult, error) {
	var zero GenerateResult
	kind, err := ParseKind(string(req.Kind))
	if err != nil {
		return zero, err
	}

	repos, err := w.resolveRepos(c, req.Repos)
	if err != nil {
		return zero, err
	}

	result := GenerateResult{Kind: kind}
	for _, repo := range repos {
		report, err := durable.Call(c, "report.generate:"+repo, w.policy, func(ctx context.Context) (Report, error) {
			return w.generator.Generate(ctx, repo, kind)
		})
		if err != nil {
			if steward.IsCancelled(err) {
				return zero, err
			}
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", repo, err))
			continue
		}
		result.Generated++

		if err := w.appendAudit(c, "audit.report:"+repo, "report.generated", repo, map[string]any{
			"kind":  string(kind),
			"title": report.Title,
		}); err != nil {
			return zero, err
		}
		if req.NotifyChannel != "" && req.NotifyRecipient != "" {
			if err := w.send(c, "notify.report:"+repo, notify.Notification{
				Channel:   notify.Channel(req.NotifyChannel),
				Recipient: req.NotifyRecipient,
				Subject:   report.Title,
				Body:      report.Body,
				Priority:  notify.PriorityNormal,
			}); err != nil {
				return zero, err
			}
		}
	}
	return result, nil
}

// DetectStale sweeps every repository for idle items and sends a single
// aggregate notification when anything is stale and a target is configured.
func (w *Workflows) DetectStale(c *durable.Context, req StaleRequest) (StaleResult, error) {
	var zero StaleResult

	idleAfter := DefaultIdleThreshold
	if req.IdleDays > 0 {
		idleAfter = time.Duration(req.IdleDays) * 24 * time.Hour
	}

	repos, err := w.resolveRepos(c, req.Repos)
	if err != nil {
		return zero, err
	}

	result := StaleResult{}
	byRepo := make(map[string]int, len(repos))
	for _, repo := range repos {
		items, err := durable.Call(c, "stale.scan:"+repo, w.policy, func(ctx context.Context) ([]StaleItem, error) {
			return w.source.StaleItems(ctx, repo, idleAfter)
		})
		if err != nil {
			if steward.IsCancelled(err) {
				return zero, err
			}
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", repo, err))
			continue
		}
		result.ReposChecked++
		result.StaleItems += len(items)
		if len(items) > 0 {
			byRepo[repo] = len(items)
		}
	}

	if err := w.appendAudit(c, "audit.stale", "stale.detected", "", map[string]any{
		"reposChecked": result.ReposChecked,
		"staleItems":   result.StaleItems,
	}); err != nil {
		return zero, err
	}

	if result.StaleItems > 0 && req.NotifyChannel != "" && req.NotifyRecipient != "" {
		body := fmt.Sprintf("%d stale item(s) across %d repositories:\n", result.StaleItems, len(byRepo))
		for _, repo := range repos {
			if n := byRepo[repo]; n > 0 {
				body += fmt.Sprintf("- %s: %d\n", repo, n)
			}
		}
		if err := w.send(c, "notify.stale", notify.Notification{
			Channel:   notify.Channel(req.NotifyChannel),
			Recipient: req.NotifyRecipient,
			Subject:   "Stale work items detected",
			Body:      body,
			Priority:  notify.PriorityNormal,
		}); err != nil {
			return zero, err
		}
		result.Notified = true
	}
	return result, nil
}

// Deliver sends one notification with retries and reports the outcome as
// data. Delivery failures never fail the workflow.
func (w *Workflows) Deliver(c *durable.Context, req DeliverRequest) (DeliverResult, error) {
	var zero DeliverResult
	if w.notifier == nil {
		return DeliverResult{Error: "no notifier configured"}, nil
	}

	receipt, err := durable.Call(c, "notify.send", w.policy, func(ctx context.Context) (notify.Receipt, error) {
		return w.notifier.Send(ctx, req.Notification)
	})

	result := DeliverResult{}
	actionType := "notification.sent"
	switch {
	case err == nil:
		result.Delivered = true
		result.MessageID = receipt.MessageID
	case steward.IsCancelled(err):
		return zero, err
	default:
		result.Error = err.Error()
		actionType = "notification.failed"
	}

	if err := w.appendAudit(c, "audit.deliver", actionType, req.Notification.Recipient, map[string]any{
		"channel":  string(req.Notification.Channel),
		"subject":  req.Notification.Subject,
		"priority": string(req.Notification.Priority),
	}); err != nil {
		return zero, err
	}
	return result, nil
}

func (w *Workflows) resolveRepos(c *durable.Context, override []string) ([]string, error) {
	if len(override) > 0 {
		return override, nil
	}
	return durable.Call(c, "repos.list", w.policy, func(ctx context.Context) ([]string, error) {
		return w.source.ActiveRepos(ctx)
	})
}

// appendAudit writes an audit entry best effort; cancellation propagates.
func (w *Workflows) appendAudit(c *durable.Context, name, actionType, target string, details map[string]any) error {
	if w.audit == nil {
		return nil
	}
	_, err := durable.Call(c, name, w.policy, func(ctx context.Context) (bool, error) {
		return true, w.audit.Append(ctx, actionType, target, details)
	})
	if err != nil {
		if steward.IsCancelled(err) {
			return err
		}
		c.Logger().Warn("audit append failed action=%s err=%v", actionType, err)
	}
	return nil
}

// send delivers one notification best effort; cancellation propagates.
func (w *Workflows) send(c *durable.Context, name string, n notify.Notification) error {
	if w.notifier == nil {
		return nil
	}
	_, err := durable.Call(c, name, w.policy, func(ctx context.Context) (notify.Receipt, error) {
		return w.notifier.Send(ctx, n)
	})
	if err != nil {
		if steward.IsCancelled(err) {
			return err
		}
		c.Logger().Warn("notification failed subject=%q err=%v", n.Subject, err)
	}
	return nil
}
