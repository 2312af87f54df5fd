// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Site      SiteConfig      `mapstructure:"site"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Search    SearchConfig    `mapstructure:"search"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Lock      LockConfig      `mapstructure:"lock"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Timezone  string          `mapstructure:"timezone"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SiteConfig holds the source site's endpoints.
type SiteConfig struct {
	MainBaseURL      string `mapstructure:"main_base_url"`
	CauseListBaseURL string `mapstructure:"cause_list_base_url"`
	CauseListFormURL string `mapstructure:"cause_list_form_url"`
	CaseSearchURL    string `mapstructure:"case_search_url"`
	CaseDetailsURL   string `mapstructure:"case_details_url"`
	JudgeWiseURL     string `mapstructure:"judge_wise_url"`
	SessionCookie    string `mapstructure:"session_cookie"`
	UserAgent        string `mapstructure:"user_agent"`
}

// HTTPConfig configures the outbound client and its transport retry.
type HTTPConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
	BackoffInitialMs  int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs      int     `mapstructure:"backoff_max_ms"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	MaxBodyBytes      int     `mapstructure:"max_body_bytes"`
}

// SearchConfig sizes the document search pool.
type SearchConfig struct {
	Workers    int `mapstructure:"workers"`
	MinDelayMs int `mapstructure:"min_delay_ms"`
	MaxDelayMs int `mapstructure:"max_delay_ms"`
}

// QueueConfig sets the job retry schedule.
type QueueConfig struct {
	MaxAttempts            int `mapstructure:"max_attempts"`
	FirstRetryDelaySeconds int `mapstructure:"first_retry_delay_seconds"`
	RetryDelaySeconds      int `mapstructure:"retry_delay_seconds"`
	LockPollSeconds        int `mapstructure:"lock_poll_seconds"`
}

// LockConfig points at the optional Redis-held exclusive lock.
type LockConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisKey      string `mapstructure:"redis_key"`
}

// NotifyConfig selects the notification back-ends.
type NotifyConfig struct {
	Recipients []string      `mapstructure:"recipients"`
	Log        bool          `mapstructure:"log"`
	PubSub     PubSubConfig  `mapstructure:"pubsub"`
	Archive    ArchiveConfig `mapstructure:"archive"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ArchiveConfig writes reports as JSON objects to a blob store.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// ScheduleConfig drives the recurring search.
type ScheduleConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Cron        string   `mapstructure:"cron"`
	SearchTerms []string `mapstructure:"search_terms"`
}

// TelemetryConfig controls the OpenTelemetry tracer provider.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CAUSELIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Notify.Recipients = splitList(cfg.Notify.Recipients)
	cfg.Schedule.SearchTerms = splitList(cfg.Schedule.SearchTerms)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("site.main_base_url", "https://highcourtchd.gov.in")
	v.SetDefault("site.cause_list_base_url", "https://highcourtchd.gov.in/")
	v.SetDefault("site.cause_list_form_url", "https://highcourtchd.gov.in/view_causeList.php")
	v.SetDefault("site.case_search_url", "https://highcourtchd.gov.in/case_status/search.php")
	v.SetDefault("site.case_details_url", "https://highcourtchd.gov.in/case_status/enq_caseno.php")
	v.SetDefault("site.judge_wise_url", "https://highcourtchd.gov.in/cl_judge_wise_regular.php")
	v.SetDefault("site.session_cookie", "PHPSESSID")
	v.SetDefault("site.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) "+
			"Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("http.timeout_seconds", 60)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 8000)
	v.SetDefault("http.requests_per_second", 4)
	v.SetDefault("http.burst", 4)
	v.SetDefault("http.max_body_bytes", 0)
	v.SetDefault("search.workers", 4)
	v.SetDefault("search.min_delay_ms", 500)
	v.SetDefault("search.max_delay_ms", 1000)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.first_retry_delay_seconds", 45)
	v.SetDefault("queue.retry_delay_seconds", 15)
	v.SetDefault("queue.lock_poll_seconds", 15)
	v.SetDefault("lock.redis_key", "causelist:exclusive")
	v.SetDefault("notify.log", true)
	v.SetDefault("notify.archive.prefix", "reports")
	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.cron", "0 18 * * *")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "causelist-crawler")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("timezone", "Asia/Kolkata")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	for key, raw := range map[string]string{
		"site.main_base_url":       c.Site.MainBaseURL,
		"site.cause_list_base_url": c.Site.CauseListBaseURL,
		"site.cause_list_form_url": c.Site.CauseListFormURL,
		"site.case_search_url":     c.Site.CaseSearchURL,
		"site.case_details_url":    c.Site.CaseDetailsURL,
		"site.judge_wise_url":      c.Site.JudgeWiseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("%s must be an absolute URL", key)
		}
	}
	if c.Site.SessionCookie == "" {
		return fmt.Errorf("site.session_cookie must be set")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Search.Workers <= 0 {
		return fmt.Errorf("search.workers must be > 0")
	}
	if c.Search.MinDelayMs < 0 || c.Search.MaxDelayMs < c.Search.MinDelayMs {
		return fmt.Errorf("search delay bounds must satisfy 0 <= min_delay_ms <= max_delay_ms")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be > 0")
	}
	if c.Queue.FirstRetryDelaySeconds < 0 || c.Queue.RetryDelaySeconds < 0 || c.Queue.LockPollSeconds <= 0 {
		return fmt.Errorf("queue delays must be >= 0 and lock_poll_seconds > 0")
	}
	switch c.Notify.Archive.Backend {
	case "":
	case "gcs":
		if c.Notify.Archive.GCSBucket == "" {
			return fmt.Errorf("notify.archive.gcs_bucket must be set for the gcs backend")
		}
	case "local":
		if c.Notify.Archive.LocalDir == "" {
			return fmt.Errorf("notify.archive.local_dir must be set for the local backend")
		}
	default:
		return fmt.Errorf("unknown notify.archive.backend %q", c.Notify.Archive.Backend)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	if c.Schedule.Enabled && len(c.Schedule.SearchTerms) == 0 {
		return fmt.Errorf("schedule.search_terms must be set when the schedule is enabled")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the configured time zone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RequestTimeout converts the HTTP timeout to a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// FirstRetryDelay is the wait before a job's second attempt.
func (c Config) FirstRetryDelay() time.Duration {
	return time.Duration(c.Queue.FirstRetryDelaySeconds) * time.Second
}

// RetryDelay is the wait before every attempt after the second.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Queue.RetryDelaySeconds) * time.Second
}

// LockPollInterval is how often the worker re-checks a held exclusive lock.
func (c Config) LockPollInterval() time.Duration {
	return time.Duration(c.Queue.LockPollSeconds) * time.Second
}

// splitList accepts both YAML lists and comma-separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
