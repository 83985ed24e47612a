package main

import (
	"context"
	"database/sql"
	"net/smtp"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-errors"
	_ "github.com/mattn/go-sqlite3"

	"github.com/goliatone/go-steward/audit"
	"github.com/goliatone/go-steward/config"
	"github.com/goliatone/go-steward/durable"
	"github.com/goliatone/go-steward/notify"
	"github.com/goliatone/go-steward/reports"
	"github.com/goliatone/go-steward/saga"
	"github.com/goliatone/go-steward/schedule"
	"github.com/goliatone/go-steward/store"
	"github.com/goliatone/go-steward/supervisor"
)

const shutdownTimeout = 30 * time.Second

type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	db, err := openDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	jobs, err := saga.NewHTTPClient(cfg.JobService.BaseURL, saga.WithAuthToken(cfg.JobService.Token))
	if err != nil {
		return err
	}

	registry, err := buildNotifier(cfg.Notify)
	if err != nil {
		return err
	}

	records := store.NewSQLiteStore(db, "")
	auditLog := audit.NewSQLiteLog(db, "")

	sup := supervisor.New(jobs, records, auditLog,
		supervisor.WithNotifier(registry),
		supervisor.WithCountSignalFailures(cfg.Supervise.CountSignalFailures),
	)

	sched := durable.NewScheduler(durable.NewSQLiteJournal(db, ""),
		durable.WithLogger(logger),
		durable.WithWorkers(cfg.Workers),
		durable.WithResumeInterval(cfg.ResumeInterval.Std()),
	)
	if err := sched.Register(supervisor.WorkflowName, sup.Workflow()); err != nil {
		return err
	}

	flows := reports.NewWorkflows(
		&reports.StaticSource{Repos: cfg.Reports.Repos},
		reports.SummaryGenerator{},
		reports.WithNotifier(registry),
		reports.WithAudit(auditLog),
	)
	if err := flows.Register(sched); err != nil {
		return err
	}

	crons := schedule.NewScheduler(sched, schedule.WithLogger(logger))
	if err := scheduleJobs(crons, cfg.Reports); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		return err
	}
	if err := crons.Start(ctx); err != nil {
		return err
	}
	logger.Info("steward started db=%s workers=%d", cfg.DBPath, cfg.Workers)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := crons.Stop(shutdownCtx); err != nil {
		logger.Error("cron shutdown: %v", err)
	}
	return sched.Stop(shutdownCtx)
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, "open database").
			WithMetadata(map[string]any{"path": path})
	}
	// SQLite writes are serialized; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)
	return db, nil
}

// buildNotifier wires a sender for every channel with configuration present.
func buildNotifier(cfg config.Notify) (*notify.Registry, error) {
	registry := notify.NewRegistry()

	if cfg.SlackWebhookURL != "" {
		sender, err := notify.NewSlackWebhookSender(cfg.SlackWebhookURL, nil)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(notify.ChannelSlack, sender); err != nil {
			return nil, err
		}
	}
	if cfg.SMTPAddr != "" && cfg.SMTPFrom != "" {
		var auth smtp.Auth
		sender, err := notify.NewSMTPSender(cfg.SMTPAddr, cfg.SMTPFrom, auth)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(notify.ChannelEmail, sender); err != nil {
			return nil, err
		}
	}
	if cfg.CommentEndpoint != "" {
		sender, err := notify.NewCommentSender(cfg.CommentEndpoint, cfg.CommentToken, nil)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(notify.ChannelComment, sender); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func scheduleJobs(crons *schedule.Scheduler, cfg config.Reports) error {
	if cfg.DailyCron != "" {
		if err := crons.Schedule(schedule.Job{
			Name:       "reports.daily",
			Expression: cfg.DailyCron,
			Workflow:   reports.GenerateWorkflowName,
			Input: reports.GenerateRequest{
				Kind:            reports.KindDaily,
				Repos:           cfg.Repos,
				NotifyChannel:   cfg.NotifyChannel,
				NotifyRecipient: cfg.NotifyRecipient,
			},
		}); err != nil {
			return err
		}
	}
	if cfg.WeeklyCron != "" {
		if err := crons.Schedule(schedule.Job{
			Name:       "reports.weekly",
			Expression: cfg.WeeklyCron,
			Workflow:   reports.GenerateWorkflowName,
			Input: reports.GenerateRequest{
				Kind:            reports.KindWeekly,
				Repos:           cfg.Repos,
				NotifyChannel:   cfg.NotifyChannel,
				NotifyRecipient: cfg.NotifyRecipient,
			},
		}); err != nil {
			return err
		}
	}
	if cfg.StaleCron != "" {
		if err := crons.Schedule(schedule.Job{
			Name:       "reports.stale",
			Expression: cfg.StaleCron,
			Workflow:   reports.StaleWorkflowName,
			Input: reports.StaleRequest{
				Repos:           cfg.Repos,
				IdleDays:        cfg.IdleDays,
				NotifyChannel:   cfg.NotifyChannel,
				NotifyRecipient: cfg.NotifyRecipient,
			},
		}); err != nil {
			return err
		}
	}
	return nil
}
