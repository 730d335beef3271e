// Package config loads the service configuration from an optional YAML
// file, .env files and environment variables. Environment always wins.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	BackendHubSpot = "hubspot"
	BackendSQLite  = "sqlite"
)

const (
	defaultAddr         = ":8000"
	defaultMaxJobs      = 1000
	defaultCooldown     = 30 * time.Minute
	defaultWorkers      = 8
	defaultSQLitePath   = "leadflow.db"
	defaultHubSpotRPS   = 9
	defaultHubSpotBurst = 5
	defaultBatchSize    = 1
	defaultBatchDelay   = 500 * time.Millisecond
	defaultPollInterval = 5 * time.Second
	defaultPollTimeout  = 5 * time.Minute
	defaultHTTPTimeout  = 30 * time.Second
	defaultShutdown     = 30 * time.Second
	defaultLogLevel     = "info"
	defaultLogFormat    = "json"
)

type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Jobs        JobsConfig       `yaml:"jobs"`
	CRM         CRMConfig        `yaml:"crm"`
	Google      KeyConfig        `yaml:"google_places"`
	TripAdvisor KeyConfig        `yaml:"tripadvisor"`
	Perplexity  KeyConfig        `yaml:"perplexity"`
	Anthropic   AnthropicConfig  `yaml:"anthropic"`
	ElevenLabs  ElevenLabsConfig `yaml:"elevenlabs"`
	Enrichment  EnrichmentConfig `yaml:"enrichment"`
	Qualify     QualifyConfig    `yaml:"qualify"`
	Sweep       SweepConfig      `yaml:"sweep"`
	HTTP        HTTPClientConfig `yaml:"http"`
	Logging     LoggingConfig    `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `env:"LEADFLOW_ADDR"  yaml:"addr"`
	Debug           bool          `env:"LEADFLOW_DEBUG" yaml:"debug"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type JobsConfig struct {
	MaxJobs  int           `env:"JOBS_MAX"      yaml:"max_jobs"`
	Cooldown time.Duration `env:"JOBS_COOLDOWN" yaml:"cooldown"`
	Workers  int           `env:"JOBS_WORKERS"  yaml:"workers"`
}

type CRMConfig struct {
	Backend      string  `env:"CRM_BACKEND"          yaml:"backend"`
	HubSpotToken string  `env:"HUBSPOT_ACCESS_TOKEN" yaml:"hubspot_token"`
	SQLitePath   string  `env:"CRM_SQLITE_PATH"      yaml:"sqlite_path"`
	RPS          float64 `env:"HUBSPOT_RPS"          yaml:"rps"`
	Burst        int     `yaml:"burst"`
}

type KeyConfig struct {
	APIKey string `yaml:"api_key"`
}

type AnthropicConfig struct {
	APIKey string `env:"ANTHROPIC_API_KEY" yaml:"api_key"`
	Model  string `env:"ANTHROPIC_MODEL"   yaml:"model"`
}

type ElevenLabsConfig struct {
	APIKey        string        `env:"ELEVENLABS_API_KEY"         yaml:"api_key"`
	AgentID       string        `env:"ELEVENLABS_AGENT_ID"        yaml:"agent_id"`
	PhoneNumberID string        `env:"ELEVENLABS_PHONE_NUMBER_ID" yaml:"phone_number_id"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	PollTimeout   time.Duration `env:"ELEVENLABS_POLL_TIMEOUT"    yaml:"poll_timeout"`
}

// Configured reports whether outbound calls can be placed.
func (c ElevenLabsConfig) Configured() bool {
	return c.APIKey != "" && c.AgentID != "" && c.PhoneNumberID != ""
}

type EnrichmentConfig struct {
	Overwrite       bool          `env:"OVERWRITE_EXISTING"      yaml:"overwrite"`
	BatchSize       int           `env:"ENRICHMENT_BATCH_SIZE"   yaml:"batch_size"`
	BatchDelay      time.Duration `yaml:"batch_delay"`
	DisableFollowUp bool          `env:"ENRICHMENT_NO_FOLLOW_UP" yaml:"disable_follow_up"`
}

type QualifyConfig struct {
	NoFitStage string `env:"QUALIFY_NO_FIT_STAGE" yaml:"no_fit_stage"`
}

type SweepConfig struct {
	// Cron is a standard five-field expression; empty disables the timer.
	Cron string `env:"SWEEP_CRON" yaml:"cron"`
}

type HTTPClientConfig struct {
	Timeout time.Duration `env:"HTTP_TIMEOUT" yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL"  yaml:"level"`
	Format string `env:"LOG_FORMAT" yaml:"format"`
}

// Load reads path (a missing file is fine), applies defaults, then env
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load environment files: %w", err)
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	setDefaults(cfg)
	applyEnvOverrides(cfg)
	// Keys whose variables do not fit the env tag naming.
	envString(&cfg.Google.APIKey, "GOOGLE_PLACES_API_KEY")
	envString(&cfg.TripAdvisor.APIKey, "TRIPADVISOR_API_KEY")
	envString(&cfg.Perplexity.APIKey, "PERPLEXITY_API_KEY")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func envString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func setDefaults(c *Config) {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaultShutdown
	}
	if c.Jobs.MaxJobs == 0 {
		c.Jobs.MaxJobs = defaultMaxJobs
	}
	if c.Jobs.Cooldown == 0 {
		c.Jobs.Cooldown = defaultCooldown
	}
	if c.Jobs.Workers == 0 {
		c.Jobs.Workers = defaultWorkers
	}
	if c.CRM.Backend == "" {
		c.CRM.Backend = BackendSQLite
	}
	if c.CRM.SQLitePath == "" {
		c.CRM.SQLitePath = defaultSQLitePath
	}
	if c.CRM.RPS == 0 {
		c.CRM.RPS = defaultHubSpotRPS
	}
	if c.CRM.Burst == 0 {
		c.CRM.Burst = defaultHubSpotBurst
	}
	if c.ElevenLabs.PollInterval == 0 {
		c.ElevenLabs.PollInterval = defaultPollInterval
	}
	if c.ElevenLabs.PollTimeout == 0 {
		c.ElevenLabs.PollTimeout = defaultPollTimeout
	}
	if c.Enrichment.BatchSize == 0 {
		c.Enrichment.BatchSize = defaultBatchSize
	}
	if c.Enrichment.BatchDelay == 0 {
		c.Enrichment.BatchDelay = defaultBatchDelay
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = defaultHTTPTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}

// ValidationError names the offending key.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() error {
	var errs []error
	invalid := func(field, msg string) {
		errs = append(errs, &ValidationError{Field: field, Message: msg})
	}

	if c.Jobs.MaxJobs <= 0 {
		invalid("jobs.max_jobs", "must be positive")
	}
	if c.Jobs.Workers <= 0 {
		invalid("jobs.workers", "must be positive")
	}
	if c.Jobs.Cooldown < 0 {
		invalid("jobs.cooldown", "must not be negative")
	}
	switch c.CRM.Backend {
	case BackendHubSpot:
		if c.CRM.HubSpotToken == "" {
			invalid("crm.hubspot_token", "is required for the hubspot backend")
		}
	case BackendSQLite:
	default:
		invalid("crm.backend", "must be one of: hubspot, sqlite")
	}
	if c.Enrichment.BatchSize < 1 {
		invalid("enrichment.batch_size", "must be at least 1")
	}
	if c.ElevenLabs.PollInterval <= 0 || c.ElevenLabs.PollTimeout < c.ElevenLabs.PollInterval {
		invalid("elevenlabs.poll_timeout", "must be at least the poll interval")
	}
	if c.HTTP.Timeout <= 0 {
		invalid("http.timeout", "must be positive")
	}
	if c.Sweep.Cron != "" {
		if _, err := cron.ParseStandard(c.Sweep.Cron); err != nil {
			invalid("sweep.cron", err.Error())
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		invalid("log.level", "must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		invalid("log.format", "must be one of: json, console")
	}
	return errors.Join(errs...)
}
