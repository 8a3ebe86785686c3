// Package config provides configuration management for uom using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort          = 8080
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultMaxOpenConns        = 25
	defaultMaxIdleConns        = 10
	defaultConnMaxIdleTime     = 30 * time.Minute
	defaultMaxConcurrentJobs   = 50
	defaultJobTimeout          = 5 * time.Minute
	defaultSandboxTimeout      = 2 * time.Minute
	defaultJanitorInterval     = 60 * time.Second
	defaultHeartbeatInterval   = 30 * time.Second
	defaultScanPollInterval    = 2 * time.Second
	defaultAnalyzePollInterval = 5 * time.Second
	defaultAnalyzePollTimeout  = 5 * time.Minute
	defaultServiceTimeout      = 3 * time.Minute
	defaultFailureThreshold    = 3
	defaultSuccessThreshold    = 2
	defaultOpenTimeout         = 30 * time.Second
	defaultMinPatternSuccess   = 0.80
	defaultMinPatternSamples   = 3
	defaultPatternSweep        = "0 * * * *" // hourly
	defaultMaxArchiveEntries   = 100
	defaultMaxFileSizeBytes    = 500 * 1024 * 1024
)

// Config holds all configuration for the application.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Services     ServicesConfig     `mapstructure:"services"`
	Decision     DecisionConfig     `mapstructure:"decision"`
	Gate         GateConfig         `mapstructure:"gate"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// Address returns the listen address in host:port form.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database connection configuration for the pattern store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// OrchestratorConfig bounds concurrent pipeline execution.
type OrchestratorConfig struct {
	// MaxConcurrentJobs caps the number of simultaneously active jobs.
	// When exceeded, Process returns ErrTooManyJobs rather than dropping work.
	MaxConcurrentJobs int `mapstructure:"max_concurrent_jobs"`

	// JobTimeout is the wall-clock cap for an entire job.
	JobTimeout time.Duration `mapstructure:"job_timeout"`

	// SandboxTimeout bounds the sandbox analysis stage.
	SandboxTimeout time.Duration `mapstructure:"sandbox_timeout"`

	// JanitorInterval is how often stuck non-terminal jobs are evicted.
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`

	// HeartbeatInterval is the SSE heartbeat period.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// ServiceConfig describes one downstream analysis service endpoint.
type ServiceConfig struct {
	URL          string        `mapstructure:"url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Breaker tuning for this service.
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
}

// ServicesConfig holds per-service endpoints and the shared internal API key.
type ServicesConfig struct {
	InternalAPIKey string `mapstructure:"internal_api_key"`

	CyberAgent    ServiceConfig `mapstructure:"cyberagent"`
	VideoAgent    ServiceConfig `mapstructure:"videoagent"`
	GeoAgent      ServiceConfig `mapstructure:"geoagent"`
	GitHubManager ServiceConfig `mapstructure:"github_manager"`
	MageAgent     ServiceConfig `mapstructure:"mageagent"`
	FileProcess   ServiceConfig `mapstructure:"fileprocess"`
	Qdrant        ServiceConfig `mapstructure:"qdrant"`
	GraphRAG      ServiceConfig `mapstructure:"graphrag"`

	// MageAgentFallback, when its URL is set, serves as the secondary LLM
	// backend for decisions after a primary failure.
	MageAgentFallback ServiceConfig `mapstructure:"mageagent_fallback"`
}

// DecisionConfig tunes the decision engine and pattern learner.
type DecisionConfig struct {
	// MinPatternSuccessRate is the floor below which cached patterns are not served.
	MinPatternSuccessRate float64 `mapstructure:"min_pattern_success_rate"`

	// MinPatternSamples is the minimum execution count before a pattern's
	// success rate is trusted for cache hits and retirement.
	MinPatternSamples int `mapstructure:"min_pattern_samples"`

	// PatternSweepSchedule is a cron expression for the retirement sweep.
	PatternSweepSchedule string `mapstructure:"pattern_sweep_schedule"`

	// LLMTimeout bounds a single decision-engine backend call.
	LLMTimeout time.Duration `mapstructure:"llm_timeout"`
}

// GateConfig tunes the pre-queue dispatch gate.
type GateConfig struct {
	// MaxArchiveEntries bounds archive fan-out.
	MaxArchiveEntries int `mapstructure:"max_archive_entries"`

	// MaxFileSizeBytes rejects oversized uploads before any routing decision.
	MaxFileSizeBytes int64 `mapstructure:"max_file_size_bytes"`
}

// Load reads configuration from the given file path (optional), environment
// variables, and defaults, returning a validated Config.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(".uom")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		v.AddConfigPath("/etc/uom")
	}

	v.SetEnvPrefix("UOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Missing config file is fine; defaults and env apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults registers default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "uom.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("orchestrator.max_concurrent_jobs", defaultMaxConcurrentJobs)
	v.SetDefault("orchestrator.job_timeout", defaultJobTimeout)
	v.SetDefault("orchestrator.sandbox_timeout", defaultSandboxTimeout)
	v.SetDefault("orchestrator.janitor_interval", defaultJanitorInterval)
	v.SetDefault("orchestrator.heartbeat_interval", defaultHeartbeatInterval)

	for name, url := range map[string]string{
		"cyberagent":     "http://cyberagent:8100",
		"videoagent":     "http://videoagent:8200",
		"geoagent":       "http://geoagent:8300",
		"github_manager": "http://github-manager:8400",
		"mageagent":      "http://mageagent:8500",
		"fileprocess":    "http://fileprocess:8600",
		"qdrant":         "http://qdrant:6333",
		"graphrag":       "http://graphrag:8700",
	} {
		v.SetDefault("services."+name+".url", url)
		v.SetDefault("services."+name+".timeout", defaultServiceTimeout)
		v.SetDefault("services."+name+".poll_interval", defaultScanPollInterval)
		v.SetDefault("services."+name+".failure_threshold", defaultFailureThreshold)
		v.SetDefault("services."+name+".success_threshold", defaultSuccessThreshold)
		v.SetDefault("services."+name+".open_timeout", defaultOpenTimeout)
	}
	// Video and repo ingestion run long; give them the slower poll budget.
	v.SetDefault("services.videoagent.timeout", 10*time.Minute)
	v.SetDefault("services.github_manager.timeout", 10*time.Minute)
	v.SetDefault("services.mageagent.poll_interval", defaultAnalyzePollInterval)
	v.SetDefault("services.mageagent.timeout", defaultAnalyzePollTimeout)
	// Critical-path services hold the circuit open longer.
	v.SetDefault("services.cyberagent.open_timeout", 60*time.Second)

	// The fallback LLM endpoint is opt-in; it only needs a URL to activate.
	v.SetDefault("services.mageagent_fallback.url", "")
	v.SetDefault("services.mageagent_fallback.timeout", defaultAnalyzePollTimeout)
	v.SetDefault("services.mageagent_fallback.poll_interval", defaultAnalyzePollInterval)
	v.SetDefault("services.mageagent_fallback.failure_threshold", defaultFailureThreshold)
	v.SetDefault("services.mageagent_fallback.success_threshold", defaultSuccessThreshold)
	v.SetDefault("services.mageagent_fallback.open_timeout", defaultOpenTimeout)

	v.SetDefault("decision.min_pattern_success_rate", defaultMinPatternSuccess)
	v.SetDefault("decision.min_pattern_samples", defaultMinPatternSamples)
	v.SetDefault("decision.pattern_sweep_schedule", defaultPatternSweep)
	v.SetDefault("decision.llm_timeout", 30*time.Second)

	v.SetDefault("gate.max_archive_entries", defaultMaxArchiveEntries)
	v.SetDefault("gate.max_file_size_bytes", defaultMaxFileSizeBytes)
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver must be sqlite, postgres, or mysql, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}

	if c.Orchestrator.MaxConcurrentJobs < 1 {
		return fmt.Errorf("orchestrator.max_concurrent_jobs must be positive, got %d", c.Orchestrator.MaxConcurrentJobs)
	}
	if c.Orchestrator.JobTimeout <= 0 {
		return errors.New("orchestrator.job_timeout must be positive")
	}
	if c.Orchestrator.SandboxTimeout <= 0 {
		return errors.New("orchestrator.sandbox_timeout must be positive")
	}

	if c.Decision.MinPatternSuccessRate < 0 || c.Decision.MinPatternSuccessRate > 1 {
		return fmt.Errorf("decision.min_pattern_success_rate must be in [0,1], got %f", c.Decision.MinPatternSuccessRate)
	}
	if c.Decision.MinPatternSamples < 1 {
		return fmt.Errorf("decision.min_pattern_samples must be positive, got %d", c.Decision.MinPatternSamples)
	}

	if c.Gate.MaxArchiveEntries < 1 {
		return fmt.Errorf("gate.max_archive_entries must be positive, got %d", c.Gate.MaxArchiveEntries)
	}

	return nil
}
