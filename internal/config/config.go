package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/nozo-moto/pingzilla/internal/history"
	"github.com/nozo-moto/pingzilla/pkg/types"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTarget                  = "8.8.8.8"
	DefaultPingIntervalSecs        = 10
	MinPingIntervalSecs            = 5
	MaxPingIntervalSecs            = 120
	DefaultNotificationThresholdMs = 200
	DefaultIdentityCacheTTLSecs    = 300
	DefaultVPNCheckIntervalSecs    = 60
	DefaultLogLevel                = "info"

	StorageFile   = "file"
	StorageSQLite = "sqlite"

	envPrefix = "PINGZILLA_"
)

// Config is the startup configuration. Values the user changes at runtime
// are persisted separately and take precedence on the next start.
type Config struct {
	Targets                 []string                  `yaml:"targets"`
	PrimaryTarget           string                    `yaml:"primary_target"`
	PingIntervalSecs        uint32                    `yaml:"ping_interval_secs"`
	NotificationThresholdMs uint32                    `yaml:"notification_threshold_ms"`
	DisplayMode             types.DisplayMode         `yaml:"display_mode"`
	HistoryCapacity         int                       `yaml:"history_capacity"`
	DataDir                 string                    `yaml:"data_dir"`
	Storage                 string                    `yaml:"storage"`
	IdentityURLs            []string                  `yaml:"identity_urls,omitempty"`
	STUNServers             []string                  `yaml:"stun_servers,omitempty"`
	IdentityCacheTTLSecs    int                       `yaml:"identity_cache_ttl_secs"`
	SiteMonitors            []types.SiteMonitorConfig `yaml:"site_monitors,omitempty"`
	VPN                     *types.VPNSettings        `yaml:"vpn,omitempty"`
	LogLevel                string                    `yaml:"log_level"`
	// MetricsListen enables the Prometheus endpoint when non-empty.
	MetricsListen string `yaml:"metrics_listen"`
}

func Default() Config {
	cfg := Config{}
	ApplyDefaults(&cfg)
	return cfg
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when path is
// empty or the file does not exist.
func LoadOrDefault(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks the values ApplyDefaults cannot repair.
func Validate(cfg Config) error {
	if len(cfg.Targets) == 0 {
		return fmt.Errorf("targets must not be empty")
	}
	if cfg.PingIntervalSecs < MinPingIntervalSecs || cfg.PingIntervalSecs > MaxPingIntervalSecs {
		return fmt.Errorf("ping_interval_secs must be between %d and %d", MinPingIntervalSecs, MaxPingIntervalSecs)
	}
	if !cfg.DisplayMode.Valid() {
		return fmt.Errorf("display_mode %q is not one of IconOnly, PingOnly, IconAndPing", cfg.DisplayMode)
	}
	if cfg.Storage != StorageFile && cfg.Storage != StorageSQLite {
		return fmt.Errorf("storage must be %q or %q", StorageFile, StorageSQLite)
	}
	if cfg.HistoryCapacity <= 0 {
		return fmt.Errorf("history_capacity must be positive")
	}
	if cfg.PrimaryTarget != "" && !contains(cfg.Targets, cfg.PrimaryTarget) {
		return fmt.Errorf("primary_target %q is not in targets", cfg.PrimaryTarget)
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if len(cfg.Targets) == 0 {
		cfg.Targets = []string{DefaultTarget}
	}
	if cfg.PrimaryTarget == "" {
		cfg.PrimaryTarget = cfg.Targets[0]
	}
	if cfg.PingIntervalSecs == 0 {
		cfg.PingIntervalSecs = DefaultPingIntervalSecs
	}
	if cfg.NotificationThresholdMs == 0 {
		cfg.NotificationThresholdMs = DefaultNotificationThresholdMs
	}
	if cfg.DisplayMode == "" {
		cfg.DisplayMode = types.DisplayIconAndPing
	}
	if cfg.HistoryCapacity == 0 {
		cfg.HistoryCapacity = history.DefaultCapacity
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if cfg.Storage == "" {
		cfg.Storage = StorageFile
	}
	if cfg.IdentityCacheTTLSecs == 0 {
		cfg.IdentityCacheTTLSecs = DefaultIdentityCacheTTLSecs
	}
	if cfg.VPN == nil {
		cfg.VPN = &types.VPNSettings{
			Enabled:              true,
			CheckIntervalSecs:    DefaultVPNCheckIntervalSecs,
			AlertOnCountryChange: true,
			AlertOnIPChange:      true,
		}
	}
	if cfg.VPN.CheckIntervalSecs == 0 {
		cfg.VPN.CheckIntervalSecs = DefaultVPNCheckIntervalSecs
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "pingzilla")
	}
	return ".pingzilla"
}

// LoadEnv reads an optional .env file from the working directory and then
// applies PINGZILLA_* overrides to cfg.
func LoadEnv(cfg *Config) error {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return ApplyEnv(cfg, os.Getenv)
}

// ApplyEnv applies PINGZILLA_* overrides read through getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv(envPrefix + "DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv(envPrefix + "STORAGE"); v != "" {
		cfg.Storage = strings.ToLower(v)
	}
	if v := getenv(envPrefix + "METRICS_LISTEN"); v != "" {
		cfg.MetricsListen = v
	}
	if v := getenv(envPrefix + "PING_INTERVAL_SECS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%sPING_INTERVAL_SECS: %w", envPrefix, err)
		}
		cfg.PingIntervalSecs = uint32(n)
	}
	if v := getenv(envPrefix + "TARGETS"); v != "" {
		var targets []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				targets = append(targets, t)
			}
		}
		if len(targets) > 0 {
			cfg.Targets = targets
			if !contains(targets, cfg.PrimaryTarget) {
				cfg.PrimaryTarget = targets[0]
			}
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
