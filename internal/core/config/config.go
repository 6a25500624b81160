// Package config loads triagebot configuration from defaults, an optional
// YAML file, and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides. Nested keys are
// separated by a double underscore, e.g. TRIAGEBOT_STALE__CLOSE_DAYS.
const EnvPrefix = "TRIAGEBOT_"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Scheduler modes.
const (
	SchedulerRiver = "river"
	SchedulerLocal = "local"
	SchedulerOff   = "off"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	GitHub    GitHubConfig    `koanf:"github"`
	Store     StoreConfig     `koanf:"store"`
	Database  DatabaseConfig  `koanf:"database"`
	Rules     RulesConfig     `koanf:"rules"`
	Stale     StaleConfig     `koanf:"stale"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Log       LogConfig       `koanf:"log"`
}

// ServerConfig holds the webhook listener settings.
type ServerConfig struct {
	Addr         string `koanf:"addr"`
	MaxBodyBytes int64  `koanf:"max_body_bytes"`
}

// GitHubConfig holds tracker credentials and client tuning.
type GitHubConfig struct {
	Token             string  `koanf:"token"`
	WebhookSecret     string  `koanf:"webhook_secret"`
	BaseURL           string  `koanf:"base_url"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	MaxRetries        int     `koanf:"max_retries"`
}

// StoreConfig selects the ledger backend. An empty driver is resolved
// from the database URL.
type StoreConfig struct {
	Driver string `koanf:"driver"`
}

// DatabaseConfig holds the Postgres connection string.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// RulesConfig points at the label/owner rule file.
type RulesConfig struct {
	Path string `koanf:"path"`
}

// StaleConfig holds the stale sweep thresholds.
type StaleConfig struct {
	Days        int    `koanf:"days"`
	CloseDays   int    `koanf:"close_days"`
	Label       string `koanf:"label"`
	ExemptLabel string `koanf:"exempt_label"`
	DryRun      bool   `koanf:"dry_run"`
}

// SchedulerConfig controls when sweeps run.
type SchedulerConfig struct {
	Mode    string        `koanf:"mode"`
	Hour    int           `koanf:"hour"`
	Timeout time.Duration `koanf:"timeout"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.addr":                ":5000",
		"server.max_body_bytes":      25 << 20,
		"github.requests_per_second": 10.0,
		"github.max_retries":         3,
		"rules.path":                 "rules/rules.yaml",
		"stale.days":                 14,
		"stale.close_days":           7,
		"stale.label":                "stale",
		"stale.exempt_label":         "pinned",
		"scheduler.hour":             9,
		"scheduler.timeout":          "30m",
		"log.level":                  "info",
		"log.format":                 "json",
	}
}

// legacyEnv maps variables used by earlier deployments onto config keys.
// Earlier entries win when two map to the same key.
var legacyEnv = []struct{ name, key string }{
	{"GH_WEBHOOK_SECRET", "github.webhook_secret"},
	{"GH_APP_TOKEN", "github.token"},
	{"GITHUB_TOKEN", "github.token"},
	{"DATABASE_URL", "database.url"},
	{"STALE_DAYS", "stale.days"},
	{"STALE_CLOSE_DAYS", "stale.close_days"},
}

// Load builds a Config. path may be empty, in which case only defaults and
// the environment apply.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if legacy := legacyValues(); len(legacy) > 0 {
		if err := k.Load(confmap.Provider(legacy, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load legacy environment: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func legacyValues() map[string]interface{} {
	values := make(map[string]interface{})
	for _, l := range legacyEnv {
		if _, taken := values[l.key]; taken {
			continue
		}
		if v := strings.TrimSpace(os.Getenv(l.name)); v != "" {
			values[l.key] = v
		}
	}
	return values
}

// FindConfigPath searches for a config file in standard locations.
func FindConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	candidates := []string{
		"triagebot.yaml",
		"triagebot.yml",
		".github/triagebot.yaml",
		".github/triagebot.yml",
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			abs, _ := filepath.Abs(c)
			return abs
		}
	}

	return ""
}

// applyDefaults resolves the fields whose default depends on other fields.
func (c *Config) applyDefaults() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		if isPostgresURL(c.Database.URL) {
			c.Store.Driver = DriverPostgres
		} else {
			c.Store.Driver = DriverMemory
		}
	}

	c.Scheduler.Mode = strings.ToLower(strings.TrimSpace(c.Scheduler.Mode))
	if c.Scheduler.Mode == "" {
		if c.Store.Driver == DriverPostgres {
			c.Scheduler.Mode = SchedulerRiver
		} else {
			c.Scheduler.Mode = SchedulerLocal
		}
	}

	if c.Scheduler.Timeout <= 0 {
		c.Scheduler.Timeout = 30 * time.Minute
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Stale.Days <= 0 {
		return fmt.Errorf("stale.days must be positive, got %d", c.Stale.Days)
	}
	if c.Stale.CloseDays <= 0 {
		return fmt.Errorf("stale.close_days must be positive, got %d", c.Stale.CloseDays)
	}
	if strings.TrimSpace(c.Stale.Label) == "" {
		return fmt.Errorf("stale.label cannot be empty")
	}
	if c.Scheduler.Hour < 0 || c.Scheduler.Hour > 23 {
		return fmt.Errorf("scheduler.hour must be between 0 and 23, got %d", c.Scheduler.Hour)
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Scheduler.Mode {
	case SchedulerLocal, SchedulerOff:
	case SchedulerRiver:
		if c.Store.Driver != DriverPostgres {
			return fmt.Errorf("scheduler.mode river requires the postgres store")
		}
	default:
		return fmt.Errorf("unknown scheduler mode %q", c.Scheduler.Mode)
	}

	return nil
}

func isPostgresURL(url string) bool {
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}
