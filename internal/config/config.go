package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// FileName is the TOML config file for user preferences
const FileName = "config.toml"

// EnvDataDir overrides the data directory (mainly for tests and packaging)
const EnvDataDir = "MARLAPPS_DIR"

// Config represents user-facing configuration in TOML format
type Config struct {
	// Theme sets the shell color scheme: "dark" (default), "light",
	// "futuristic", "amalfi", or "system"
	Theme string `toml:"theme"`

	// Search defines fuzzy search tuning
	Search SearchSettings `toml:"search"`

	// Updates defines auto-update settings
	Updates UpdateSettings `toml:"updates"`

	// Server defines the web server listen settings
	Server ServerSettings `toml:"server"`

	// Cache defines the offline cache settings
	Cache CacheSettings `toml:"cache"`

	// Logs defines log rotation settings
	Logs LogSettings `toml:"logs"`
}

// SearchSettings defines fuzzy search tuning
type SearchSettings struct {
	// Threshold is the maximum normalized edit distance for a result to
	// appear at all. Lower is stricter. Default: 0.4
	Threshold float64 `toml:"threshold"`

	// MaxResults caps the result list; 0 means unlimited
	MaxResults int `toml:"max_results"`
}

// UpdateSettings defines auto-update configuration
type UpdateSettings struct {
	// CheckEnabled enables the startup update check (default: true)
	CheckEnabled bool `toml:"check_enabled"`

	// CheckIntervalHours is hours between periodic checks (default: 24)
	CheckIntervalHours int `toml:"check_interval_hours"`

	// StartupDelaySeconds delays the first check after boot so it does not
	// compete with initial load (default: 5)
	StartupDelaySeconds int `toml:"startup_delay_seconds"`

	// SourceURL is the base URL the shell updates itself from.
	// version.json and the shell manifest resources are resolved against it.
	SourceURL string `toml:"source_url"`
}

// ServerSettings defines the web server listen settings
type ServerSettings struct {
	// Host to bind (default: 127.0.0.1)
	Host string `toml:"host"`

	// Port to listen on (default: 8420)
	Port int `toml:"port"`
}

// CacheSettings defines the offline cache settings
type CacheSettings struct {
	// Dir overrides the cache directory (default: <data dir>/cache)
	Dir string `toml:"dir"`
}

// LogSettings defines log rotation settings
type LogSettings struct {
	// Level is "debug", "info", "warn", or "error" (default: info)
	Level string `toml:"level"`

	// MaxSizeMB is the max log size in MB before rotation (default: 10)
	MaxSizeMB int `toml:"max_size_mb"`
}

var defaultConfig = Config{
	Theme: "dark",
	Search: SearchSettings{
		Threshold: 0.4,
	},
	Updates: UpdateSettings{
		CheckEnabled:        true,
		CheckIntervalHours:  24,
		StartupDelaySeconds: 5,
	},
	Server: ServerSettings{
		Host: "127.0.0.1",
		Port: 8420,
	},
	Logs: LogSettings{
		Level:     "info",
		MaxSizeMB: 10,
	},
}

var (
	cache   *Config
	cacheMu sync.RWMutex
)

// DataDir returns the base marlapps directory (~/.marlapps).
// The MARLAPPS_DIR environment variable overrides it.
func DataDir() (string, error) {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".marlapps"), nil
}

// Path returns the path to the user config file
func Path() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load loads the user configuration from the TOML file.
// Returns cached config after first load.
func Load() (*Config, error) {
	cacheMu.RLock()
	if cache != nil {
		defer cacheMu.RUnlock()
		return cache, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()

	// Double-check after acquiring write lock
	if cache != nil {
		return cache, nil
	}

	configPath, err := Path()
	if err != nil {
		c := defaultConfig
		cache = &c
		return cache, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		c := defaultConfig
		cache = &c
		return cache, nil
	}

	cfg := defaultConfig
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		// Cache the default anyway so a broken file does not trigger
		// repeated parse attempts.
		c := defaultConfig
		cache = &c
		return cache, fmt.Errorf("config: parse %s: %w", FileName, err)
	}
	applyDefaults(&cfg)

	cache = &cfg
	return cache, nil
}

// Reload forces a fresh read of the config file
func Reload() (*Config, error) {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
	return Load()
}

// ClearCache drops the cached config so the next Load reads from disk
func ClearCache() {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
}

// Save writes the config to config.toml using an atomic write pattern
// and clears the cache so the next Load reads fresh values.
func Save(cfg *Config) error {
	configPath, err := Path()
	if err != nil {
		return fmt.Errorf("config: resolve path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("config: create data directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# MarlApps configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	// Write temp file, fsync, then rename so a crash mid-save never
	// leaves a truncated config behind.
	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := syncFile(tmpPath); err != nil {
		_ = err
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("config: finalize save: %w", err)
	}

	ClearCache()
	return nil
}

func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

func applyDefaults(cfg *Config) {
	if cfg.Theme == "" {
		cfg.Theme = "dark"
	}
	if cfg.Search.Threshold <= 0 {
		cfg.Search.Threshold = 0.4
	}
	if cfg.Updates.CheckIntervalHours <= 0 {
		cfg.Updates.CheckIntervalHours = 24
	}
	if cfg.Updates.StartupDelaySeconds <= 0 {
		cfg.Updates.StartupDelaySeconds = 5
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8420
	}
	if cfg.Logs.Level == "" {
		cfg.Logs.Level = "info"
	}
	if cfg.Logs.MaxSizeMB <= 0 {
		cfg.Logs.MaxSizeMB = 10
	}
}

// GetTheme returns the configured theme, falling back to "dark" on any
// unknown value.
func GetTheme() string {
	cfg, err := Load()
	if err != nil || cfg == nil {
		return "dark"
	}
	switch cfg.Theme {
	case "dark", "light", "futuristic", "amalfi", "system":
		return cfg.Theme
	default:
		return "dark"
	}
}

// GetSearchSettings returns search settings with defaults applied
func GetSearchSettings() SearchSettings {
	cfg, err := Load()
	if err != nil || cfg == nil {
		return defaultConfig.Search
	}
	s := cfg.Search
	if s.Threshold <= 0 {
		s.Threshold = 0.4
	}
	return s
}

// GetUpdateSettings returns update settings with defaults applied
func GetUpdateSettings() UpdateSettings {
	cfg, err := Load()
	if err != nil || cfg == nil {
		return defaultConfig.Updates
	}
	s := cfg.Updates
	if s.CheckIntervalHours <= 0 {
		s.CheckIntervalHours = 24
	}
	if s.StartupDelaySeconds <= 0 {
		s.StartupDelaySeconds = 5
	}
	return s
}

// CacheDir returns the cache directory, creating nothing
func CacheDir() (string, error) {
	cfg, err := Load()
	if err == nil && cfg != nil && cfg.Cache.Dir != "" {
		return cfg.Cache.Dir, nil
	}
	dir, derr := DataDir()
	if derr != nil {
		return "", derr
	}
	return filepath.Join(dir, "cache"), nil
}
