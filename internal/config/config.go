// Package config loads the stagegate configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for stagegate.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Rules     RulesConfig     `yaml:"rules"`
	History   HistoryConfig   `yaml:"history"`
	Intercept InterceptConfig `yaml:"intercept"`
	Audit     AuditConfig     `yaml:"audit"`
	Ranking   RankingConfig   `yaml:"ranking"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
}

// StoreConfig selects and tunes the durable backend.
type StoreConfig struct {
	// Backend is "json" or "sqlite".
	Backend string `yaml:"backend"`
	// DataDir holds the JSON files and the default sqlite database.
	DataDir string `yaml:"data_dir"`
	// SQLitePath overrides the sqlite database location.
	SQLitePath string `yaml:"sqlite_path"`

	Retry RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxRetries       int           `yaml:"max_retries"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

type RulesConfig struct {
	AutoApprove AutoApproveConfig `yaml:"auto_approve"`
	Expiration  ExpirationConfig  `yaml:"expiration"`
}

type AutoApproveConfig struct {
	Enabled bool `yaml:"enabled"`
	// Start and End are clock times, "HH:MM" or "HH:MM:SS". Start >= End
	// denotes a window crossing midnight.
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type ExpirationConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Duration time.Duration `yaml:"duration"`
}

type HistoryConfig struct {
	Cap int `yaml:"cap"`
}

type InterceptConfig struct {
	// CriticalCommands lists command names requiring review. Empty uses the
	// built-in defaults.
	CriticalCommands []string `yaml:"critical_commands"`
	// Bypass lists principal names exempt from review.
	Bypass []string `yaml:"bypass"`
}

type AuditConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Level         string        `yaml:"level"`
	Format        string        `yaml:"format"`
	Output        string        `yaml:"output"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type RankingConfig struct {
	Enabled bool `yaml:"enabled"`
	// ResetPeriod is "weekly", "monthly", or "never".
	ResetPeriod string `yaml:"reset_period"`
	// Path is the leaderboard file; empty derives it from the data dir.
	Path string `yaml:"path"`
}

type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
	// PruneSpec is the cron spec for the expiration sweep.
	PruneSpec string `yaml:"prune_spec"`
	// Commands run on their own cron specs, staged as the system actor.
	Commands []ScheduledCommand `yaml:"commands"`
}

type ScheduledCommand struct {
	Spec    string `yaml:"spec"`
	Command string `yaml:"command"`
	// Direct skips review and dispatches immediately.
	Direct bool `yaml:"direct"`
}

type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9090"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "json"
	}
	if cfg.Store.DataDir == "" {
		cfg.Store.DataDir = "data"
	}
	if cfg.Store.Retry.MaxRetries == 0 {
		cfg.Store.Retry.MaxRetries = 3
	}
	if cfg.Store.Retry.BaseDelay == 0 {
		cfg.Store.Retry.BaseDelay = 100 * time.Millisecond
	}
	if cfg.Store.Retry.MaxDelay == 0 {
		cfg.Store.Retry.MaxDelay = 5 * time.Second
	}
	if cfg.Store.Retry.FailureThreshold == 0 {
		cfg.Store.Retry.FailureThreshold = 5
	}
	if cfg.Store.Retry.Cooldown == 0 {
		cfg.Store.Retry.Cooldown = 30 * time.Second
	}
	if cfg.Rules.AutoApprove.Start == "" {
		cfg.Rules.AutoApprove.Start = "22:00"
	}
	if cfg.Rules.AutoApprove.End == "" {
		cfg.Rules.AutoApprove.End = "06:00"
	}
	if cfg.Rules.Expiration.Duration == 0 {
		cfg.Rules.Expiration.Duration = 24 * time.Hour
	}
	if cfg.History.Cap == 0 {
		cfg.History.Cap = 50
	}
	if cfg.Audit.Level == "" {
		cfg.Audit.Level = "info"
	}
	if cfg.Audit.Format == "" {
		cfg.Audit.Format = "json"
	}
	if cfg.Audit.Output == "" {
		cfg.Audit.Output = "stdout"
	}
	if cfg.Ranking.ResetPeriod == "" {
		cfg.Ranking.ResetPeriod = "never"
	}
	if cfg.Scheduler.PruneSpec == "" {
		cfg.Scheduler.PruneSpec = "@every 1m"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("unsupported store backend %q (want json or sqlite)", c.Store.Backend)
	}
	switch c.Ranking.ResetPeriod {
	case "weekly", "monthly", "never":
	default:
		return fmt.Errorf("unsupported ranking reset period %q (want weekly, monthly or never)", c.Ranking.ResetPeriod)
	}
	if c.History.Cap < 1 {
		return fmt.Errorf("history cap must be at least 1, got %d", c.History.Cap)
	}
	for _, sc := range c.Scheduler.Commands {
		if sc.Spec == "" || sc.Command == "" {
			return fmt.Errorf("scheduled command needs both spec and command")
		}
	}
	return nil
}
