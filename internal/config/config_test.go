package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Port != 3001 {
		t.Fatalf("expected default port 3001, got %d", cfg.Server.Port)
	}
	if cfg.Server.DataDir != "data" {
		t.Fatalf("expected default data dir, got %q", cfg.Server.DataDir)
	}
	if cfg.Relay.APIBase != "http://localhost:3001" {
		t.Fatalf("expected api base derived from port, got %q", cfg.Relay.APIBase)
	}
	if cfg.Relay.PollIntervalSec != 4 {
		t.Fatalf("expected default poll interval, got %d", cfg.Relay.PollIntervalSec)
	}
	if cfg.Relay.StateDB.Driver != "sqlite" || cfg.Relay.StateDB.Path == "" {
		t.Fatalf("expected sqlite state db default, got %+v", cfg.Relay.StateDB)
	}
}

func TestParse_FullConfig(t *testing.T) {
	yaml := `
server:
  port: 8080
  admin_token: sekrit
relay:
  platform: slack
  channel: C123
  poll_interval_sec: 2
  slack:
    app_token: xapp-1
    bot_token: xoxb-1
  digest:
    enabled: true
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Relay.APIBase != "http://localhost:8080" {
		t.Fatalf("api base should follow the port, got %q", cfg.Relay.APIBase)
	}
	if cfg.Relay.AdminToken != "sekrit" {
		t.Fatalf("relay token should default to the server token, got %q", cfg.Relay.AdminToken)
	}
	if cfg.Relay.Digest.Cron != "0 9 * * *" {
		t.Fatalf("expected default digest cron, got %q", cfg.Relay.Digest.Cron)
	}
}

func TestParse_EnvOverridesTokens(t *testing.T) {
	t.Setenv("PARLEY_ADMIN_TOKEN", "env-admin")
	t.Setenv("PARLEY_DISCORD_TOKEN", "env-discord")

	yaml := `
server:
  admin_token: file-admin
relay:
  platform: discord
  discord:
    bot_token: file-discord
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.AdminToken != "env-admin" {
		t.Fatalf("expected env admin token, got %q", cfg.Server.AdminToken)
	}
	if cfg.Relay.Discord.BotToken != "env-discord" {
		t.Fatalf("expected env discord token, got %q", cfg.Relay.Discord.BotToken)
	}
}

func TestParse_UnsupportedPlatform(t *testing.T) {
	_, err := Parse([]byte("relay:\n  platform: telegram\n"))
	if err == nil || !strings.Contains(err.Error(), "platform") {
		t.Fatalf("expected platform validation error, got %v", err)
	}
}

func TestParse_DiscordRequiresToken(t *testing.T) {
	_, err := Parse([]byte("relay:\n  platform: discord\n"))
	if err == nil || !strings.Contains(err.Error(), "bot_token") {
		t.Fatalf("expected bot token validation error, got %v", err)
	}
}

func TestParse_SlackRequiresBothTokens(t *testing.T) {
	yaml := `
relay:
  platform: slack
  slack:
    bot_token: xoxb-1
`
	_, err := Parse([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "app_token") {
		t.Fatalf("expected app token validation error, got %v", err)
	}
}

func TestParse_MysqlRequiresDatabase(t *testing.T) {
	yaml := `
relay:
  state_db:
    driver: mysql
`
	_, err := Parse([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "database") {
		t.Fatalf("expected database validation error, got %v", err)
	}
}

func TestParse_MysqlDefaults(t *testing.T) {
	yaml := `
relay:
  state_db:
    driver: mysql
    database: parley
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Relay.StateDB.Host != "127.0.0.1" || cfg.Relay.StateDB.Port != 3306 {
		t.Fatalf("expected mysql host/port defaults, got %+v", cfg.Relay.StateDB)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 4000\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Fatalf("expected port 4000, got %d", cfg.Server.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: ["))
	if err == nil {
		t.Fatal("expected parse error")
	}
}
