// Package config loads daemon configuration from a YAML file with
// environment overrides. A .env file in the working directory is honored
// when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, "invalid duration").
			WithMetadata(map[string]any{"value": raw})
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std converts to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// JobService points at the external saga orchestration API.
type JobService struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// Supervise carries defaults for supervised runs.
type Supervise struct {
	PollInterval        Duration `yaml:"poll_interval"`
	MaxReviewAttempts   int      `yaml:"max_review_attempts"`
	CountSignalFailures bool     `yaml:"count_signal_failures"`
	NotifyChannel       string   `yaml:"notify_channel"`
	NotifyRecipient     string   `yaml:"notify_recipient"`
}

// Notify configures the delivery channels.
type Notify struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	SMTPAddr        string `yaml:"smtp_addr"`
	SMTPFrom        string `yaml:"smtp_from"`
	CommentEndpoint string `yaml:"comment_endpoint"`
	CommentToken    string `yaml:"comment_token"`
}

// Reports configures the periodic report and stale-detection jobs. Empty
// cron expressions disable the corresponding job.
type Reports struct {
	Repos           []string `yaml:"repos"`
	DailyCron       string   `yaml:"daily_cron"`
	WeeklyCron      string   `yaml:"weekly_cron"`
	StaleCron       string   `yaml:"stale_cron"`
	IdleDays        int      `yaml:"idle_days"`
	NotifyChannel   string   `yaml:"notify_channel"`
	NotifyRecipient string   `yaml:"notify_recipient"`
}

// Config is the full daemon configuration.
type Config struct {
	DBPath         string   `yaml:"db_path"`
	Workers        int      `yaml:"workers"`
	ResumeInterval Duration `yaml:"resume_interval"`
	LogLevel       string   `yaml:"log_level"`

	JobService JobService `yaml:"job_service"`
	Supervise  Supervise  `yaml:"supervise"`
	Notify     Notify     `yaml:"notify"`
	Reports    Reports    `yaml:"reports"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		DBPath:         "steward.db",
		Workers:        4,
		ResumeInterval: Duration(10 * time.Second),
		LogLevel:       "info",
		Supervise: Supervise{
			PollInterval:      Duration(30 * time.Second),
			MaxReviewAttempts: 3,
		},
		Reports: Reports{
			IdleDays: 14,
		},
	}
}

// Load reads the configuration file at path, falling back to defaults when
// path is empty, then applies environment overrides. A .env file is loaded
// first when one exists.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, errors.CategoryBadInput, "read config file").
				WithMetadata(map[string]any{"path": path})
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, errors.Wrap(err, errors.CategoryBadInput, "parse config file").
				WithMetadata(map[string]any{"path": path})
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("db_path required", errors.CategoryValidation)
	}
	if c.Workers <= 0 {
		return errors.New("workers must be positive", errors.CategoryValidation)
	}
	if c.Supervise.PollInterval.Std() <= 0 {
		return errors.New("supervise.poll_interval must be positive", errors.CategoryValidation)
	}
	if c.Supervise.MaxReviewAttempts < 0 {
		return errors.New("supervise.max_review_attempts cannot be negative", errors.CategoryValidation)
	}
	return nil
}

func applyEnv(cfg *Config) {
	overrideString(&cfg.DBPath, "STEWARD_DB_PATH")
	overrideString(&cfg.LogLevel, "STEWARD_LOG_LEVEL")
	overrideInt(&cfg.Workers, "STEWARD_WORKERS")

	overrideString(&cfg.JobService.BaseURL, "STEWARD_JOB_SERVICE_URL")
	overrideString(&cfg.JobService.Token, "STEWARD_JOB_SERVICE_TOKEN")

	overrideDuration(&cfg.Supervise.PollInterval, "STEWARD_POLL_INTERVAL")
	overrideInt(&cfg.Supervise.MaxReviewAttempts, "STEWARD_MAX_REVIEW_ATTEMPTS")

	overrideString(&cfg.Notify.SlackWebhookURL, "STEWARD_SLACK_WEBHOOK_URL")
	overrideString(&cfg.Notify.SMTPAddr, "STEWARD_SMTP_ADDR")
	overrideString(&cfg.Notify.SMTPFrom, "STEWARD_SMTP_FROM")
	overrideString(&cfg.Notify.CommentEndpoint, "STEWARD_COMMENT_ENDPOINT")
	overrideString(&cfg.Notify.CommentToken, "STEWARD_COMMENT_TOKEN")
}

func overrideString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func overrideInt(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ignoring %s: %v\n", key, err)
		return
	}
	*dst = parsed
}

func overrideDuration(dst *Duration, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ignoring %s: %v\n", key, err)
		return
	}
	*dst = Duration(parsed)
}
