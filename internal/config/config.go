package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		AdminID  int64  `yaml:"admin_id"`
	} `yaml:"telegram"`
	Database struct {
		SQLitePath  string `yaml:"sqlite_path"`
		HistoryPath string `yaml:"history_path"`
	} `yaml:"database"`
	Schedule struct {
		AccrualCron string `yaml:"accrual_cron"`
		DigestCron  string `yaml:"digest_cron"`
	} `yaml:"schedule"`
	Mining struct {
		ClaimMinimum  float64 `yaml:"claim_minimum"`
		WelcomeCredit float64 `yaml:"welcome_credit"`
		Valuation     float64 `yaml:"valuation"`
	} `yaml:"mining"`
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
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_ADMIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.AdminID = id
		}
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("HISTORY_PATH"); v != "" {
		cfg.Database.HistoryPath = v
	}
	if v := os.Getenv("CRON_ACCRUAL"); v != "" {
		cfg.Schedule.AccrualCron = v
	}
	if v := os.Getenv("CLAIM_MINIMUM"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Mining.ClaimMinimum = f
		}
	}
	if v := os.Getenv("WELCOME_CREDIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Mining.WelcomeCredit = f
		}
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}

	// Defaults
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/tonminer.db"
	}
	if cfg.Database.HistoryPath == "" {
		cfg.Database.HistoryPath = "data/history.db"
	}
	if cfg.Schedule.AccrualCron == "" {
		cfg.Schedule.AccrualCron = "*/30 * * * * *"
	}
	if cfg.Schedule.DigestCron == "" {
		cfg.Schedule.DigestCron = "0 0 9 * * *"
	}
	if cfg.Mining.ClaimMinimum == 0 {
		cfg.Mining.ClaimMinimum = 0.01
	}
	if cfg.Mining.WelcomeCredit == 0 {
		cfg.Mining.WelcomeCredit = 100
	}
	if cfg.Mining.Valuation == 0 {
		cfg.Mining.Valuation = 1.0
	}

	return cfg, nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.Telegram.AdminID == 0 {
		return fmt.Errorf("telegram.admin_id is required")
	}
	if c.Mining.ClaimMinimum < 0 {
		return fmt.Errorf("mining.claim_minimum must not be negative")
	}
	return nil
}
