// Package config loads the station configuration from an optional TOML file
// with SCANNER_* environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Realtime holds the message relay connection settings.
type Realtime struct {
	Host   string `toml:"host"`
	Port   int    `toml:"port"`
	Key    string `toml:"key"`
	Secret string `toml:"secret"`
	AppID  string `toml:"app_id"`
	UseTLS bool   `toml:"use_tls"`
}

// Config lists the tunable parameters for the scanner station.
type Config struct {
	ServerURL      string   `toml:"server_url"`
	StationCode    string   `toml:"station_code"`
	Channel        string   `toml:"channel"`
	HTTPPort       int      `toml:"http_port"`
	DatabasePath   string   `toml:"database_path"`
	LogLevel       string   `toml:"log_level"`
	CooldownMS     int      `toml:"cooldown_ms"`
	SubmitTimeout  int      `toml:"submit_timeout_ms"`
	IdleTimeoutMin int      `toml:"idle_timeout_minutes"`
	FramesDir      string   `toml:"frames_dir"`
	MDNSEnabled    bool     `toml:"mdns_enabled"`
	Realtime       Realtime `toml:"realtime"`
}

const (
	defaultChannel      = "attendance"
	defaultHTTPPort     = 8080
	defaultDatabasePath = "data/scanner.db"
	defaultLogLevel     = "info"
	defaultCooldownMS   = 2000
	defaultSubmitMS     = 10000
	defaultIdleMinutes  = 5
	defaultRelayPort    = 6001
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Channel:        defaultChannel,
		HTTPPort:       defaultHTTPPort,
		DatabasePath:   defaultDatabasePath,
		LogLevel:       defaultLogLevel,
		CooldownMS:     defaultCooldownMS,
		SubmitTimeout:  defaultSubmitMS,
		IdleTimeoutMin: defaultIdleMinutes,
		MDNSEnabled:    true,
		Realtime: Realtime{
			Host: "localhost",
			Port: defaultRelayPort,
		},
	}
}

// Load reads the TOML file at path (when non-empty and present), then applies
// environment overrides, then validates. A .env file in the working directory
// is honored when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		} else if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Cooldown returns the gate debounce as a duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownMS) * time.Millisecond
}

// SubmitTimeoutDuration returns the submission HTTP timeout.
func (c Config) SubmitTimeoutDuration() time.Duration {
	return time.Duration(c.SubmitTimeout) * time.Millisecond
}

// IdleTimeout returns the inactivity auto-stop interval; zero disables it.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMin) * time.Minute
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.CooldownMS < 0 {
		return fmt.Errorf("cooldown_ms must not be negative, got %d", c.CooldownMS)
	}
	if c.IdleTimeoutMin < 0 {
		return fmt.Errorf("idle_timeout_minutes must not be negative, got %d", c.IdleTimeoutMin)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if c.Channel == "" {
		return fmt.Errorf("channel must not be empty")
	}
	if c.Realtime.Host != "" {
		if c.Realtime.Port < 1 || c.Realtime.Port > 65535 {
			return fmt.Errorf("realtime port must be between 1 and 65535, got %d", c.Realtime.Port)
		}
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("SCANNER_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("SCANNER_STATION_CODE"); v != "" {
		cfg.StationCode = v
	}
	if v := os.Getenv("SCANNER_CHANNEL"); v != "" {
		cfg.Channel = v
	}
	if v := os.Getenv("SCANNER_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SCANNER_HTTP_PORT: %w", err)
		}
		cfg.HTTPPort = port
	}
	if v := os.Getenv("SCANNER_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("SCANNER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SCANNER_COOLDOWN_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SCANNER_COOLDOWN_MS: %w", err)
		}
		cfg.CooldownMS = ms
	}
	if v := os.Getenv("SCANNER_FRAMES_DIR"); v != "" {
		cfg.FramesDir = v
	}
	if v := os.Getenv("SCANNER_REALTIME_HOST"); v != "" {
		cfg.Realtime.Host = v
	}
	if v := os.Getenv("SCANNER_REALTIME_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SCANNER_REALTIME_PORT: %w", err)
		}
		cfg.Realtime.Port = port
	}
	if v := os.Getenv("SCANNER_REALTIME_KEY"); v != "" {
		cfg.Realtime.Key = v
	}
	if v := os.Getenv("SCANNER_REALTIME_SECRET"); v != "" {
		cfg.Realtime.Secret = v
	}
	if v := os.Getenv("SCANNER_REALTIME_APP_ID"); v != "" {
		cfg.Realtime.AppID = v
	}
	if v := os.Getenv("SCANNER_REALTIME_TLS"); v != "" {
		useTLS, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SCANNER_REALTIME_TLS: %w", err)
		}
		cfg.Realtime.UseTLS = useTLS
	}
	return nil
}
