package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is SafeClaw's full runtime configuration, sourced entirely from
// the environment (§6 Configuration). Unlike the teacher's layered
// YAML-plus-env scheme, a single-owner gateway has no per-project config
// tree to merge — everything that matters is a handful of env vars, so
// viper here is used purely as a typed env-binding/defaulting layer.
type Config struct {
	OwnerID                  int64         `mapstructure:"owner_id"`
	BotToken                 string        `mapstructure:"bot_token"`
	InactivityTimeoutMinutes int           `mapstructure:"inactivity_timeout_minutes"`
	ApprovalTimeoutMinutes   int           `mapstructure:"approval_timeout_minutes"`
	StorageDir               string        `mapstructure:"storage_dir"`
	WorkspaceDir             string        `mapstructure:"workspace_dir"`
	Log                      LogConfig     `mapstructure:",squash"`
}

// LogConfig controls the zap logger built from this configuration.
type LogConfig struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// InactivityTimeout returns the configured inactivity window as a Duration.
func (c *Config) InactivityTimeout() time.Duration {
	return time.Duration(c.InactivityTimeoutMinutes) * time.Minute
}

// ApprovalTimeout returns the configured approval ticket lifetime.
func (c *Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.ApprovalTimeoutMinutes) * time.Minute
}

// Load reads configuration from the environment, applying §6's defaults,
// and fails fast if OWNER_ID or BOT_TOKEN is missing (configuration-fatal,
// §7).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	for _, key := range []string{
		"owner_id", "bot_token", "inactivity_timeout_minutes",
		"approval_timeout_minutes", "storage_dir", "workspace_dir",
		"log_level", "log_format",
	} {
		_ = v.BindEnv(key, envName(key))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.OwnerID == 0 {
		return nil, fmt.Errorf("OWNER_ID is required")
	}
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is required")
	}

	if cfg.StorageDir != "" {
		expanded, err := expandHome(cfg.StorageDir)
		if err != nil {
			return nil, fmt.Errorf("resolving STORAGE_DIR: %w", err)
		}
		cfg.StorageDir = expanded
	}

	return &cfg, nil
}

func envName(key string) string {
	out := make([]byte, 0, len(key))
	for _, r := range key {
		if r >= 'a' && r <= 'z' {
			out = append(out, byte(r-'a'+'A'))
		} else {
			out = append(out, byte(r))
		}
	}
	return string(out)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("inactivity_timeout_minutes", 30)
	v.SetDefault("approval_timeout_minutes", 5)
	v.SetDefault("storage_dir", "~/.safeclaw")
	v.SetDefault("workspace_dir", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}
