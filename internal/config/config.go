// Package config resolves runtime settings from an optional YAML file,
// a .env file and PERMGUARD_* environment variables, in increasing order
// of precedence. Command-line flags override the result.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/permguard/internal/alert"
)

// EnvPrefix is the environment variable prefix.
const EnvPrefix = "PERMGUARD"

// DefaultListen is the metrics listen address.
const DefaultListen = "127.0.0.1:9464"

// Config holds runtime settings.
type Config struct {
	Rules     string `yaml:"rules" envconfig:"RULES"`
	AuditDB   string `yaml:"audit_db" envconfig:"AUDIT_DB"`
	Listen    string `yaml:"listen" envconfig:"LISTEN"`
	LogLevel  string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" envconfig:"LOG_FORMAT"` // text or json
	Watch     bool   `yaml:"watch" envconfig:"WATCH"`
	WorkDir   string `yaml:"workdir" envconfig:"WORKDIR"`

	// Alerts are webhook destinations for permission decisions. File only.
	Alerts []alert.Config `yaml:"alerts" ignored:"true"`
}

// Dir returns the per-user state directory (~/.permguard).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".permguard"
	}
	return filepath.Join(home, ".permguard")
}

// Load reads path (or ~/.permguard/config.yaml when path is empty and the
// file exists), then applies .env and environment overrides and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	if path == "" {
		if p := filepath.Join(Dir(), "config.yaml"); fileExists(p) {
			path = p
		}
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process env vars: %w", err)
	}

	cfg.applyDefaults()
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	if f := strings.ToLower(cfg.LogFormat); f != "text" && f != "json" {
		return nil, fmt.Errorf("invalid log format %q (want text or json)", cfg.LogFormat)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Rules == "" {
		c.Rules = filepath.Join(Dir(), "rules.yaml")
	}
	if c.AuditDB == "" {
		c.AuditDB = filepath.Join(Dir(), "audit.db")
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	c.Rules = expandHome(c.Rules)
	c.AuditDB = expandHome(c.AuditDB)
	c.WorkDir = expandHome(c.WorkDir)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// NewLogger builds the process logger writing to w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.LogFormat) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
