// Package config provides YAML-based configuration loading for Parley.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Parley configuration, loaded from parley.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Relay  RelayConfig  `yaml:"relay"`
}

// ServerConfig holds settings for the support API server.
type ServerConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
	// AdminToken authorizes decision, operator-message, and full-listing
	// calls. With an empty token admin operations fail closed unless
	// AllowAnonymousAdmin is set (non-production only).
	AdminToken          string `yaml:"admin_token"`
	AllowAnonymousAdmin bool   `yaml:"allow_anonymous_admin"`
	MaxBodyBytes        int64  `yaml:"max_body_bytes"`
}

// RelayConfig holds settings for the operator relay daemon.
type RelayConfig struct {
	Platform        string        `yaml:"platform"` // "discord" or "slack"
	Channel         string        `yaml:"channel"`  // default operator channel
	APIBase         string        `yaml:"api_base"`
	AdminToken      string        `yaml:"admin_token"` // defaults to server.admin_token
	PollIntervalSec int           `yaml:"poll_interval_sec"`
	Discord         DiscordConfig `yaml:"discord"`
	Slack           SlackConfig   `yaml:"slack"`
	StateDB         StateDBConfig `yaml:"state_db"`
	Digest          DigestConfig  `yaml:"digest"`
}

// DiscordConfig holds Discord adapter credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// StateDBConfig selects where the relay keeps its sessions and delivery
// cursors: a local sqlite file (default) or a shared mysql database when
// several relay instances need one view of the cursor state.
type StateDBConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

// DigestConfig schedules the periodic pending-queue summary.
type DigestConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"` // 5-field cron expression
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Secrets set in the
// environment override the file so tokens can stay out of it entirely.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays secret values from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("PARLEY_ADMIN_TOKEN"); v != "" {
		c.Server.AdminToken = strings.TrimSpace(v)
	}
	if v := os.Getenv("PARLEY_DISCORD_TOKEN"); v != "" {
		c.Relay.Discord.BotToken = strings.TrimSpace(v)
	}
	if v := os.Getenv("PARLEY_SLACK_APP_TOKEN"); v != "" {
		c.Relay.Slack.AppToken = strings.TrimSpace(v)
	}
	if v := os.Getenv("PARLEY_SLACK_BOT_TOKEN"); v != "" {
		c.Relay.Slack.BotToken = strings.TrimSpace(v)
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3001
	}
	if c.Server.DataDir == "" {
		c.Server.DataDir = "data"
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 2_000_000
	}
	if c.Relay.APIBase == "" {
		c.Relay.APIBase = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.Relay.AdminToken == "" {
		c.Relay.AdminToken = c.Server.AdminToken
	}
	if c.Relay.PollIntervalSec == 0 {
		c.Relay.PollIntervalSec = 4
	}
	if c.Relay.StateDB.Driver == "" {
		c.Relay.StateDB.Driver = "sqlite"
	}
	if c.Relay.StateDB.Driver == "sqlite" && c.Relay.StateDB.Path == "" {
		c.Relay.StateDB.Path = "parley-relay.db"
	}
	if c.Relay.StateDB.Driver == "mysql" {
		if c.Relay.StateDB.Host == "" {
			c.Relay.StateDB.Host = "127.0.0.1"
		}
		if c.Relay.StateDB.Port == 0 {
			c.Relay.StateDB.Port = 3306
		}
	}
	if c.Relay.Digest.Enabled && c.Relay.Digest.Cron == "" {
		c.Relay.Digest.Cron = "0 9 * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, "server.port is out of range")
	}
	switch c.Relay.Platform {
	case "", "discord", "slack":
	default:
		errs = append(errs, fmt.Sprintf("relay.platform %q is not supported (discord, slack)", c.Relay.Platform))
	}
	if c.Relay.Platform == "discord" && c.Relay.Discord.BotToken == "" {
		errs = append(errs, "relay.discord.bot_token is required for the discord platform")
	}
	if c.Relay.Platform == "slack" {
		if c.Relay.Slack.AppToken == "" {
			errs = append(errs, "relay.slack.app_token is required for the slack platform")
		}
		if c.Relay.Slack.BotToken == "" {
			errs = append(errs, "relay.slack.bot_token is required for the slack platform")
		}
	}
	switch c.Relay.StateDB.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("relay.state_db.driver %q is not supported (sqlite, mysql)", c.Relay.StateDB.Driver))
	}
	if c.Relay.StateDB.Driver == "mysql" && c.Relay.StateDB.Database == "" {
		errs = append(errs, "relay.state_db.database is required for the mysql driver")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
