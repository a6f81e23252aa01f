package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Monitor struct {
		IntervalSeconds     int `yaml:"interval_seconds"`
		RangeStart          int `yaml:"range_start"`
		RangeEnd            int `yaml:"range_end"`
		MaxRetries          int `yaml:"max_retries"`
		RetryBackoffSeconds int `yaml:"retry_backoff_seconds"`
	} `yaml:"monitor"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Server struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"server"`
	Provider struct {
		BaseURL string `yaml:"base_url"`
		Market  string `yaml:"market"`
	} `yaml:"provider"`
	Retention struct {
		Cron       string `yaml:"cron"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"retention"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v, ok := envInt("MONITOR_INTERVAL_SECONDS"); ok {
		cfg.Monitor.IntervalSeconds = v
	}
	if v, ok := envInt("MONITOR_RANGE_START"); ok {
		cfg.Monitor.RangeStart = v
	}
	if v, ok := envInt("MONITOR_RANGE_END"); ok {
		cfg.Monitor.RangeEnd = v
	}
	if v, ok := envInt("MONITOR_MAX_RETRIES"); ok {
		cfg.Monitor.MaxRetries = v
	}
	if v, ok := envInt("MONITOR_RETRY_BACKOFF_SECONDS"); ok {
		cfg.Monitor.RetryBackoffSeconds = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("PROVIDER_MARKET"); v != "" {
		cfg.Provider.Market = v
	}
	if v, ok := envInt("RETENTION_MAX_AGE_DAYS"); ok {
		cfg.Retention.MaxAgeDays = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}

	// Defaults. Zero max_retries / backoff are valid values, so only
	// default them when nothing was set explicitly.
	if cfg.Monitor.IntervalSeconds == 0 {
		cfg.Monitor.IntervalSeconds = 600
	}
	if cfg.Monitor.RangeEnd == 0 {
		cfg.Monitor.RangeEnd = 150
	}
	if cfg.Monitor.MaxRetries == 0 && os.Getenv("MONITOR_MAX_RETRIES") == "" {
		cfg.Monitor.MaxRetries = 3
	}
	if cfg.Monitor.RetryBackoffSeconds == 0 && os.Getenv("MONITOR_RETRY_BACKOFF_SECONDS") == "" {
		cfg.Monitor.RetryBackoffSeconds = 30
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/monitor.db"
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Provider.Market == "" {
		cfg.Provider.Market = "america"
	}
	if cfg.Retention.Cron == "" {
		cfg.Retention.Cron = "0 0 3 * * *"
	}

	return cfg, nil
}

// Validate checks that the configuration satisfies the engine's contract.
func (c *Config) Validate() error {
	if c.Monitor.IntervalSeconds < 60 {
		return fmt.Errorf("monitor.interval_seconds must be >= 60, got %d", c.Monitor.IntervalSeconds)
	}
	if c.Monitor.RangeStart < 0 {
		return fmt.Errorf("monitor.range_start must be >= 0, got %d", c.Monitor.RangeStart)
	}
	if c.Monitor.RangeEnd <= c.Monitor.RangeStart {
		return fmt.Errorf("monitor.range_end must be greater than range_start (%d <= %d)",
			c.Monitor.RangeEnd, c.Monitor.RangeStart)
	}
	if c.Monitor.MaxRetries < 0 {
		return fmt.Errorf("monitor.max_retries must be >= 0, got %d", c.Monitor.MaxRetries)
	}
	if c.Monitor.RetryBackoffSeconds < 0 {
		return fmt.Errorf("monitor.retry_backoff_seconds must be >= 0, got %d", c.Monitor.RetryBackoffSeconds)
	}
	if c.Database.SQLitePath == "" {
		return fmt.Errorf("database.sqlite_path is required")
	}
	if c.Retention.MaxAgeDays < 0 {
		return fmt.Errorf("retention.max_age_days must be >= 0, got %d", c.Retention.MaxAgeDays)
	}
	return nil
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
