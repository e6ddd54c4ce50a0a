package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the run configuration lives unless --config says
// otherwise.
const DefaultPath = "/etc/hostguard/config.yaml"

// RuleConfig holds the per-rule switches an operator can flip.
type RuleConfig struct {
	// Enabled overrides the profile's default for whether fix may run.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// Config is created once per run and handed read-only to the engine, the
// rules and the editors they build.
type Config struct {
	LedgerPath string                `yaml:"ledger_path" validate:"required"`
	ArchiveDir string                `yaml:"archive_dir" validate:"required"`
	ProfileDir string                `yaml:"profile_dir" validate:"required"`
	ReportDir  string                `yaml:"report_dir"`
	LogLevel   string                `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	Listen     string                `yaml:"listen" validate:"omitempty,hostname_port"`
	Rules      map[uint16]RuleConfig `yaml:"rules,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		LedgerPath: "/var/db/hostguard/events.db",
		ArchiveDir: "/var/db/hostguard/archive",
		ProfileDir: "/etc/hostguard/profiles",
		ReportDir:  "/var/db/hostguard/reports",
		LogLevel:   "info",
		Listen:     "127.0.0.1:8080",
		Rules:      make(map[uint16]RuleConfig),
	}
}

var validate = validator.New()

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadConfig reads path, falling back to defaults when it does not exist.
// Fields left out of the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Rules == nil {
		cfg.Rules = make(map[uint16]RuleConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to path, creating its directory.
func SaveConfig(path string, cfg *Config) error {
	if path == "" {
		path = DefaultPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Enabled resolves whether fix may run for rule. An explicit per-rule setting
// wins over fallback, which comes from the rule's profile.
func (c *Config) Enabled(rule uint16, fallback bool) bool {
	if rc, ok := c.Rules[rule]; ok && rc.Enabled != nil {
		return *rc.Enabled
	}
	return fallback
}

// SetEnabled records an explicit per-rule setting.
func (c *Config) SetEnabled(rule uint16, on bool) {
	if c.Rules == nil {
		c.Rules = make(map[uint16]RuleConfig)
	}
	rc := c.Rules[rule]
	rc.Enabled = &on
	c.Rules[rule] = rc
}

// ClearEnabled drops the per-rule setting so the profile default applies.
func (c *Config) ClearEnabled(rule uint16) {
	delete(c.Rules, rule)
}
