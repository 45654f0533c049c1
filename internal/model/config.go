package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// WorkingHours bounds the schedulable part of a day, as "HH:MM" strings in
// the configured timezone.
type WorkingHours struct {
	Start string `mapstructure:"start" yaml:"start" json:"start"`
	End   string `mapstructure:"end" yaml:"end" json:"end"`
}

// BufferRule is the protected time placed immediately before/after a task
// of a given type. Buffers are blocked time, not schedulable.
type BufferRule struct {
	BeforeMinutes int `mapstructure:"before_minutes" yaml:"before_minutes" json:"before_minutes"`
	AfterMinutes  int `mapstructure:"after_minutes" yaml:"after_minutes" json:"after_minutes"`
}

// ProtectedSlot is a recurring daily range always treated as busy
// regardless of calendar data (e.g. lunch).
type ProtectedSlot struct {
	Label string `mapstructure:"label" yaml:"label" json:"label"`
	Start string `mapstructure:"start" yaml:"start" json:"start"` // "HH:MM"
	End   string `mapstructure:"end" yaml:"end" json:"end"`       // "HH:MM"
}

// KeepFreePolicy reserves one slot per day for ad-hoc calls, subtracted
// before task assignment runs.
type KeepFreePolicy struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	DurationMinutes int    `mapstructure:"duration_minutes" yaml:"duration_minutes" json:"duration_minutes"`
	PreferredStart  string `mapstructure:"preferred_start" yaml:"preferred_start" json:"preferred_start"` // "HH:MM"
}

// SchedulingConfig holds everything the scheduling engine needs beyond the
// tasks and windows themselves.
type SchedulingConfig struct {
	Timezone       string                `mapstructure:"timezone" yaml:"timezone" json:"timezone"`
	WorkingHours   WorkingHours          `mapstructure:"working_hours" yaml:"working_hours" json:"working_hours"`
	Buffers        map[string]BufferRule `mapstructure:"buffers" yaml:"buffers" json:"buffers"`
	ProtectedSlots []ProtectedSlot       `mapstructure:"protected_slots" yaml:"protected_slots" json:"protected_slots"`
	KeepFree       KeepFreePolicy        `mapstructure:"keep_free" yaml:"keep_free" json:"keep_free"`

	// HorizonDays bounds the forward search for free slots.
	HorizonDays int `mapstructure:"horizon_days" yaml:"horizon_days" json:"horizon_days"`
}

// BufferFor returns the buffer rule for a task type, or the zero rule when
// none is configured.
func (c SchedulingConfig) BufferFor(taskType string) BufferRule {
	if r, ok := c.Buffers[taskType]; ok {
		return r
	}
	return BufferRule{}
}

// ProviderConfig points at the calendar provider API.
type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// WebhookURL is the public address the provider delivers push
	// notifications to.
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`

	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// AppConfig is the top-level daemon configuration.
type AppConfig struct {
	Listen       string `mapstructure:"listen" yaml:"listen"`
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	// DefaultUserID is the user attributed to API calls that do not name
	// one; this is a single-user app by default.
	DefaultUserID string `mapstructure:"default_user_id" yaml:"default_user_id"`

	Provider   ProviderConfig   `mapstructure:"provider" yaml:"provider"`
	Scheduling SchedulingConfig `mapstructure:"scheduling" yaml:"scheduling"`

	// RenewalCron drives the watch-channel renewal sweep.
	RenewalCron           string `mapstructure:"renewal_cron" yaml:"renewal_cron"`
	RenewalThresholdHours int    `mapstructure:"renewal_threshold_hours" yaml:"renewal_threshold_hours"`
}

// DefaultConfigPath returns ~/.config/braindumper/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "braindumper", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Listen:        "127.0.0.1:8787",
		DatabasePath:  filepath.Join(".", "braindumper.db"),
		DefaultUserID: "local",
		Provider: ProviderConfig{
			TimeoutSec: 30,
		},
		Scheduling: SchedulingConfig{
			Timezone:     "Local",
			WorkingHours: WorkingHours{Start: "09:00", End: "17:30"},
			Buffers:      map[string]BufferRule{},
			KeepFree: KeepFreePolicy{
				DurationMinutes: 30,
				PreferredStart:  "14:00",
			},
			HorizonDays: 7,
		},
		RenewalCron:           "0 * * * *",
		RenewalThresholdHours: 24,
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns the default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("listen", "127.0.0.1:8787")
	v.SetDefault("database_path", "braindumper.db")
	v.SetDefault("default_user_id", "local")
	v.SetDefault("provider.timeout_sec", 30)
	v.SetDefault("scheduling.timezone", "Local")
	v.SetDefault("scheduling.working_hours.start", "09:00")
	v.SetDefault("scheduling.working_hours.end", "17:30")
	v.SetDefault("scheduling.keep_free.duration_minutes", 30)
	v.SetDefault("scheduling.keep_free.preferred_start", "14:00")
	v.SetDefault("scheduling.horizon_days", 7)
	v.SetDefault("renewal_cron", "0 * * * *")
	v.SetDefault("renewal_threshold_hours", 24)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Scheduling.Buffers == nil {
		cfg.Scheduling.Buffers = map[string]BufferRule{}
	}
	if cfg.Scheduling.HorizonDays <= 0 {
		cfg.Scheduling.HorizonDays = 7
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a YAML file at path, creating
// parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("listen", cfg.Listen)
	v.Set("database_path", cfg.DatabasePath)
	v.Set("default_user_id", cfg.DefaultUserID)
	v.Set("provider", cfg.Provider)
	v.Set("scheduling", cfg.Scheduling)
	v.Set("renewal_cron", cfg.RenewalCron)
	v.Set("renewal_threshold_hours", cfg.RenewalThresholdHours)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
