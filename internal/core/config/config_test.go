package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable Load consults so host settings do not leak
// into the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, l := range legacyEnv {
		t.Setenv(l.name, "")
	}
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, EnvPrefix) {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":5000" {
		t.Errorf("Expected Server.Addr ':5000', got %q", cfg.Server.Addr)
	}
	if cfg.Stale.Days != 14 {
		t.Errorf("Expected Stale.Days 14, got %d", cfg.Stale.Days)
	}
	if cfg.Stale.CloseDays != 7 {
		t.Errorf("Expected Stale.CloseDays 7, got %d", cfg.Stale.CloseDays)
	}
	if cfg.Stale.Label != "stale" || cfg.Stale.ExemptLabel != "pinned" {
		t.Errorf("Unexpected labels: %q / %q", cfg.Stale.Label, cfg.Stale.ExemptLabel)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Errorf("Expected memory driver, got %q", cfg.Store.Driver)
	}
	if cfg.Scheduler.Mode != SchedulerLocal {
		t.Errorf("Expected local scheduler, got %q", cfg.Scheduler.Mode)
	}
	if cfg.Scheduler.Hour != 9 {
		t.Errorf("Expected Scheduler.Hour 9, got %d", cfg.Scheduler.Hour)
	}
	if cfg.Scheduler.Timeout != 30*time.Minute {
		t.Errorf("Expected 30m timeout, got %v", cfg.Scheduler.Timeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "triagebot.yaml")
	content := `
server:
  addr: ":8080"
database:
  url: "postgres://bot@localhost/triage"
stale:
  days: 30
  close_days: 10
scheduler:
  timeout: 5m
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("TRIAGEBOT_STALE__CLOSE_DAYS", "3")
	t.Setenv("TRIAGEBOT_GITHUB__WEBHOOK_SECRET", "s3cret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Expected file addr, got %q", cfg.Server.Addr)
	}
	if cfg.Stale.Days != 30 {
		t.Errorf("Expected Stale.Days 30, got %d", cfg.Stale.Days)
	}
	if cfg.Stale.CloseDays != 3 {
		t.Errorf("Expected env to override close_days to 3, got %d", cfg.Stale.CloseDays)
	}
	if cfg.GitHub.WebhookSecret != "s3cret" {
		t.Errorf("Expected webhook secret from env, got %q", cfg.GitHub.WebhookSecret)
	}
	if cfg.Store.Driver != DriverPostgres {
		t.Errorf("Expected postgres driver from database url, got %q", cfg.Store.Driver)
	}
	if cfg.Scheduler.Mode != SchedulerRiver {
		t.Errorf("Expected river scheduler, got %q", cfg.Scheduler.Mode)
	}
	if cfg.Scheduler.Timeout != 5*time.Minute {
		t.Errorf("Expected 5m timeout, got %v", cfg.Scheduler.Timeout)
	}
}

func TestLoadLegacyEnv(t *testing.T) {
	clearEnv(t)

	t.Setenv("GH_WEBHOOK_SECRET", "legacy-secret")
	t.Setenv("GITHUB_TOKEN", "ghp_fallback")
	t.Setenv("GH_APP_TOKEN", "ghs_app")
	t.Setenv("STALE_DAYS", "21")
	t.Setenv("DATABASE_URL", "sqlite:///triage.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.GitHub.WebhookSecret != "legacy-secret" {
		t.Errorf("Expected legacy secret, got %q", cfg.GitHub.WebhookSecret)
	}
	if cfg.GitHub.Token != "ghs_app" {
		t.Errorf("Expected GH_APP_TOKEN to win over GITHUB_TOKEN, got %q", cfg.GitHub.Token)
	}
	if cfg.Stale.Days != 21 {
		t.Errorf("Expected Stale.Days 21, got %d", cfg.Stale.Days)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Errorf("Expected non-postgres url to keep memory driver, got %q", cfg.Store.Driver)
	}
}

func TestPrefixedEnvBeatsLegacy(t *testing.T) {
	clearEnv(t)

	t.Setenv("STALE_DAYS", "21")
	t.Setenv("TRIAGEBOT_STALE__DAYS", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Stale.Days != 5 {
		t.Errorf("Expected 5, got %d", cfg.Stale.Days)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{
			Stale:     StaleConfig{Days: 14, CloseDays: 7, Label: "stale"},
			Scheduler: SchedulerConfig{Hour: 9},
		}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero stale days", func(c *Config) { c.Stale.Days = 0 }, true},
		{"negative close days", func(c *Config) { c.Stale.CloseDays = -1 }, true},
		{"empty label", func(c *Config) { c.Stale.Label = " " }, true},
		{"hour out of range", func(c *Config) { c.Scheduler.Hour = 24 }, true},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, true},
		{"postgres without url", func(c *Config) { c.Store.Driver = DriverPostgres }, true},
		{"river on memory", func(c *Config) { c.Scheduler.Mode = SchedulerRiver }, true},
		{"scheduler off", func(c *Config) { c.Scheduler.Mode = SchedulerOff }, false},
		{"unknown mode", func(c *Config) { c.Scheduler.Mode = "cron" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr && err == nil {
				t.Errorf("Expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestFindConfigPathExplicitMissing(t *testing.T) {
	if got := FindConfigPath(filepath.Join(t.TempDir(), "nope.yaml")); got != "" {
		t.Errorf("Expected empty path, got %q", got)
	}
}
