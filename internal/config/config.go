// Package config loads and validates the application configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/oddswatch/oddswatch/internal/models"
)

// Config represents the complete application configuration. It is constructed
// once at startup and passed into each component; nothing reads it ambiently.
type Config struct {
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Staking  StakingConfig  `mapstructure:"staking"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// MonitorConfig holds movement classification thresholds.
type MonitorConfig struct {
	TargetRange                models.TargetRange `mapstructure:"target_range"`
	MinChangeThreshold         float64            `mapstructure:"min_change_threshold"`
	SignificantChangeThreshold float64            `mapstructure:"significant_change_threshold"`
	CriticalChangeThreshold    float64            `mapstructure:"critical_change_threshold"`
	HistoryLimit               int                `mapstructure:"history_limit"`
}

// StakingConfig holds stake sizing parameters.
type StakingConfig struct {
	Bankroll      float64 `mapstructure:"bankroll"`
	KellyFraction float64 `mapstructure:"kelly_fraction"`
	MaxStakePct   float64 `mapstructure:"max_stake_pct"`
}

// AlertsConfig holds rate limiting and eligibility thresholds.
type AlertsConfig struct {
	MaxDailyAlerts         int     `mapstructure:"max_daily_alerts"`
	MaxAlertsPerInstrument int     `mapstructure:"max_alerts_per_instrument"`
	CooldownSeconds        int     `mapstructure:"cooldown_seconds"`
	MinEdge                float64 `mapstructure:"min_edge"`
	MaxLeadHours           int     `mapstructure:"max_lead_hours"`
}

// Cooldown returns the per-instrument cooldown as a duration.
func (a AlertsConfig) Cooldown() time.Duration {
	return time.Duration(a.CooldownSeconds) * time.Second
}

// MaxLead returns the maximum time-to-event for an alert as a duration.
func (a AlertsConfig) MaxLead() time.Duration {
	return time.Duration(a.MaxLeadHours) * time.Hour
}

// ProviderConfig describes one upstream odds provider endpoint.
type ProviderConfig struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
}

// IngestConfig holds the polling schedule and provider setup.
type IngestConfig struct {
	PollIntervalSeconds     int                 `mapstructure:"poll_interval_seconds"`
	FetchTimeoutSeconds     int                 `mapstructure:"fetch_timeout_seconds"`
	MaxConcurrentFetches    int                 `mapstructure:"max_concurrent_fetches"`
	LookbackHours           int                 `mapstructure:"lookback_hours"`
	LookaheadHours          int                 `mapstructure:"lookahead_hours"`
	Groups                  []string            `mapstructure:"groups"`
	GroupTiers              map[string]int      `mapstructure:"group_tiers"`
	Providers               []ProviderConfig    `mapstructure:"providers"`
	FieldPriority           map[string][]string `mapstructure:"field_priority"`
	FailureBackoffThreshold int                 `mapstructure:"failure_backoff_threshold"`
}

// PollInterval returns the cycle interval as a duration.
func (i IngestConfig) PollInterval() time.Duration {
	return time.Duration(i.PollIntervalSeconds) * time.Second
}

// FetchTimeout returns the per-fetch timeout as a duration.
func (i IngestConfig) FetchTimeout() time.Duration {
	return time.Duration(i.FetchTimeoutSeconds) * time.Second
}

// Lookback returns how far into the past fixtures are still tracked.
func (i IngestConfig) Lookback() time.Duration {
	return time.Duration(i.LookbackHours) * time.Hour
}

// Lookahead returns how far into the future fixtures are tracked.
func (i IngestConfig) Lookahead() time.Duration {
	return time.Duration(i.LookaheadHours) * time.Hour
}

// StorageConfig holds durable store configuration.
type StorageConfig struct {
	DBPath        string `mapstructure:"db_path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("ODDSWATCH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("monitor.target_range.min", 1.30)
	v.SetDefault("monitor.target_range.max", 1.80)
	v.SetDefault("monitor.min_change_threshold", 0.02)
	v.SetDefault("monitor.significant_change_threshold", 0.10)
	v.SetDefault("monitor.critical_change_threshold", 0.25)
	v.SetDefault("monitor.history_limit", 100)

	v.SetDefault("staking.bankroll", 1000.0)
	v.SetDefault("staking.kelly_fraction", 0.25)
	v.SetDefault("staking.max_stake_pct", 0.05)

	v.SetDefault("alerts.max_daily_alerts", 50)
	v.SetDefault("alerts.max_alerts_per_instrument", 3)
	v.SetDefault("alerts.cooldown_seconds", 300)
	v.SetDefault("alerts.min_edge", 0.02)
	v.SetDefault("alerts.max_lead_hours", 48)

	v.SetDefault("ingest.poll_interval_seconds", 120)
	v.SetDefault("ingest.fetch_timeout_seconds", 25)
	v.SetDefault("ingest.max_concurrent_fetches", 4)
	v.SetDefault("ingest.lookback_hours", 4)
	v.SetDefault("ingest.lookahead_hours", 48)
	v.SetDefault("ingest.failure_backoff_threshold", 3)

	v.SetDefault("storage.db_path", "./data/oddswatch.db")
	v.SetDefault("storage.retention_days", 30)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid. Any error returned
// here is fatal at startup.
func (c *Config) Validate() error {
	m := c.Monitor
	if m.TargetRange.Min <= 1.0 {
		return fmt.Errorf("monitor.target_range.min must be greater than 1.0 (decimal odds)")
	}
	if m.TargetRange.Max <= m.TargetRange.Min {
		return fmt.Errorf("monitor.target_range.max must be greater than min")
	}
	if m.MinChangeThreshold <= 0 {
		return fmt.Errorf("monitor.min_change_threshold must be positive")
	}
	if m.SignificantChangeThreshold < m.MinChangeThreshold {
		return fmt.Errorf("monitor.significant_change_threshold must be >= min_change_threshold")
	}
	if m.CriticalChangeThreshold < m.SignificantChangeThreshold {
		return fmt.Errorf("monitor.critical_change_threshold must be >= significant_change_threshold")
	}
	if m.HistoryLimit < 10 {
		return fmt.Errorf("monitor.history_limit must be at least 10")
	}

	if c.Staking.Bankroll <= 0 {
		return fmt.Errorf("staking.bankroll must be positive")
	}
	if c.Staking.KellyFraction <= 0 || c.Staking.KellyFraction > 1 {
		return fmt.Errorf("staking.kelly_fraction must be in (0, 1]")
	}
	if c.Staking.MaxStakePct <= 0 || c.Staking.MaxStakePct > 1 {
		return fmt.Errorf("staking.max_stake_pct must be in (0, 1]")
	}

	a := c.Alerts
	if a.MaxDailyAlerts < 1 {
		return fmt.Errorf("alerts.max_daily_alerts must be at least 1")
	}
	if a.MaxAlertsPerInstrument < 1 {
		return fmt.Errorf("alerts.max_alerts_per_instrument must be at least 1")
	}
	if a.CooldownSeconds < 0 {
		return fmt.Errorf("alerts.cooldown_seconds must not be negative")
	}
	if a.MinEdge < 0 {
		return fmt.Errorf("alerts.min_edge must not be negative")
	}
	if a.MaxLeadHours < 1 {
		return fmt.Errorf("alerts.max_lead_hours must be at least 1")
	}

	i := c.Ingest
	if i.PollIntervalSeconds < 5 {
		return fmt.Errorf("ingest.poll_interval_seconds must be at least 5")
	}
	if i.FetchTimeoutSeconds < 1 {
		return fmt.Errorf("ingest.fetch_timeout_seconds must be at least 1")
	}
	if i.MaxConcurrentFetches < 1 {
		return fmt.Errorf("ingest.max_concurrent_fetches must be at least 1")
	}
	if i.LookbackHours < 0 || i.LookaheadHours < 1 {
		return fmt.Errorf("ingest lookback/lookahead window is invalid")
	}
	if len(i.Groups) == 0 {
		return fmt.Errorf("ingest.groups must contain at least one group")
	}
	for g, tier := range i.GroupTiers {
		if tier < 1 || tier > 3 {
			return fmt.Errorf("ingest.group_tiers[%s] must be 1, 2, or 3", g)
		}
	}
	if i.FailureBackoffThreshold < 1 {
		return fmt.Errorf("ingest.failure_backoff_threshold must be at least 1")
	}

	if c.Storage.RetentionDays < 1 {
		return fmt.Errorf("storage.retention_days must be at least 1")
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, console")
	}

	return nil
}
