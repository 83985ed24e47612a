package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	steward "github.com/goliatone/go-steward"
	"github.com/goliatone/go-steward/config"
	"github.com/goliatone/go-steward/durable"
	"github.com/goliatone/go-steward/saga"
	"github.com/goliatone/go-steward/store"
	"github.com/goliatone/go-steward/supervisor"
)

type SuperviseCmd struct {
	SagaID string `arg:"" help:"Identifier of the saga to supervise."`

	PollInterval      time.Duration `help:"Status poll interval." placeholder:"30s"`
	MaxReviewAttempts int           `help:"Automated decision ceiling." default:"-1"`
	NoAutoReviews     bool          `help:"Disable automated review handling."`
	NotifyChannel     string        `help:"Notification channel (slack, email, comment)."`
	NotifyRecipient   string        `help:"Notification recipient."`
}

// Run queues a supervised run in the shared journal. The serve daemon picks
// it up through its resume scan.
func (c *SuperviseCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	req := steward.SuperviseRequest{
		SagaID:          c.SagaID,
		PollInterval:    cfg.Supervise.PollInterval.Std(),
		NotifyChannel:   cfg.Supervise.NotifyChannel,
		NotifyRecipient: cfg.Supervise.NotifyRecipient,
	}
	if c.PollInterval > 0 {
		req.PollInterval = c.PollInterval
	}
	if c.NotifyChannel != "" {
		req.NotifyChannel = c.NotifyChannel
	}
	if c.NotifyRecipient != "" {
		req.NotifyRecipient = c.NotifyRecipient
	}
	attempts := cfg.Supervise.MaxReviewAttempts
	if c.MaxReviewAttempts >= 0 {
		attempts = c.MaxReviewAttempts
	}
	req.MaxReviewAttempts = &attempts
	if c.NoAutoReviews {
		off := false
		req.AutoHandleReviews = &off
	}

	db, err := openDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	jobs, err := saga.NewHTTPClient(cfg.JobService.BaseURL, saga.WithAuthToken(cfg.JobService.Token))
	if err != nil {
		return err
	}
	sup := supervisor.New(jobs, store.NewSQLiteStore(db, ""), nil)

	sched := durable.NewScheduler(durable.NewSQLiteJournal(db, ""))
	if err := sched.Register(supervisor.WorkflowName, sup.Workflow()); err != nil {
		return err
	}

	// Configuration errors are rejected here, before anything is queued.
	id, err := supervisor.Submit(context.Background(), sched, req)
	if err != nil {
		return err
	}
	fmt.Printf("queued supervised run for saga %s\nexecution id: %s\n", req.SagaID, id)
	return nil
}

type RecordsCmd struct {
	Limit int `help:"Maximum number of records to list." default:"20"`
}

func (c *RecordsCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	db, err := openDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := store.NewSQLiteStore(db, "").List(context.Background(), c.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no oversight records")
		return nil
	}

	for _, rec := range records {
		line := []string{
			fmt.Sprintf("#%d", rec.ID),
			rec.SagaID,
			string(rec.Status),
			fmt.Sprintf("%d/%d dims", rec.CompletedDimensions, rec.TotalDimensions),
			fmt.Sprintf("%d decision(s)", len(rec.Decisions)),
			rec.StartedAt.Format(time.RFC3339),
		}
		if rec.CompletedAt != nil {
			line = append(line, fmt.Sprintf("%.1fs", float64(rec.DurationMs)/1000))
		}
		fmt.Println(strings.Join(line, "  "))
		if rec.Summary != "" {
			fmt.Println("    " + rec.Summary)
		}
	}
	return nil
}
