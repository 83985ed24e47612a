// Package reports holds the secondary workflows of the coordinator: periodic
// project reports, stale-item detection, and one-shot notification delivery.
// Each workflow isolates per-repository failures so one bad repo never sinks
// the batch.
package reports

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
)

// Kind selects the report window.
type Kind string

const (
	KindDaily  Kind = "daily"
	KindWeekly Kind = "weekly"
)

// ParseKind validates a report kind.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindDaily:
		return KindDaily, nil
	case KindWeekly:
		return KindWeekly, nil
	default:
		return "", errors.New("unknown report kind", errors.CategoryBadInput).
			WithMetadata(map[string]any{"kind": raw})
	}
}

// Report is one generated project report.
type Report struct {
	Repo        string    `json:"repo"`
	Kind        Kind      `json:"kind"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// StaleItem is one issue or pull request with no recent activity.
type StaleItem struct {
	Repo     string `json:"repo"`
	ItemID   string `json:"itemId"`
	Title    string `json:"title"`
	IdleDays int    `json:"idleDays"`
}

// ProjectSource answers which repositories are active and which of their
// items have gone stale.
type ProjectSource interface {
	ActiveRepos(ctx context.Context) ([]string, error)
	StaleItems(ctx context.Context, repo string, idleAfter time.Duration) ([]StaleItem, error)
}

// Generator produces the report content for one repository.
type Generator interface {
	Generate(ctx context.Context, repo string, kind Kind) (Report, error)
}

// GeneratorFunc adapts a function into a Generator.
type GeneratorFunc func(ctx context.Context, repo string, kind Kind) (Report, error)

func (f GeneratorFunc) Generate(ctx context.Context, repo string, kind Kind) (Report, error) {
	return f(ctx, repo, kind)
}

// StaticSource is a ProjectSource over a fixed repository list. Stale items
// come from the optional Items map; repos without entries report none.
type StaticSource struct {
	Repos []string
	Items map[string][]StaleItem
}

var _ ProjectSource = (*StaticSource)(nil)

func (s *StaticSource) ActiveRepos(context.Context) ([]string, error) {
	return append([]string(nil), s.Repos...), nil
}

func (s *StaticSource) StaleItems(_ context.Context, repo string, _ time.Duration) ([]StaleItem, error) {
	return append([]StaleItem(nil), s.Items[repo]...), nil
}

// SummaryGenerator renders a minimal markdown status shell per repo. Richer
// content sources plug in through the Generator interface.
type SummaryGenerator struct{}

var _ Generator = (*SummaryGenerator)(nil)

func (SummaryGenerator) Generate(_ context.Context, repo string, kind Kind) (Report, error) {
	repo = strings.TrimSpace(repo)
	if repo == "" {
		return Report{}, errors.New("repository required", errors.CategoryBadInput)
	}
	now := time.Now().UTC()
	window := string(kind)
	if window != "" {
		window = strings.ToUpper(window[:1]) + window[1:]
	}
	title := fmt.Sprintf("%s report for %s", window, repo)
	body := fmt.Sprintf("# %s\n\nGenerated %s.\n", title, now.Format("2006-01-02 15:04 UTC"))
	return Report{Repo: repo, Kind: kind, Title: title, Body: body, GeneratedAt: now}, nil
}
