package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Duration wraps time.Duration so TOML files can carry values like "1.5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents the global ~/.goalchat/config.toml.
type Config struct {
	DefaultSession string   `toml:"default_session"`
	APIURL         string   `toml:"api_url"`
	ChatURL        string   `toml:"chat_url"`
	RequestTimeout Duration `toml:"request_timeout"`
	TypingDebounce Duration `toml:"typing_debounce"`
	PresenceGrace  Duration `toml:"presence_grace"`
	OutboxCapacity int      `toml:"outbox_capacity"`
	ReconnectMin   Duration `toml:"reconnect_min"`
	ReconnectMax   Duration `toml:"reconnect_max"`
	PingInterval   Duration `toml:"ping_interval"`
	RecordCommand  []string `toml:"record_command"`
	MetricsAddr    string   `toml:"metrics_addr"`
	OtelEndpoint   string   `toml:"otel_endpoint"`
	LogLevel       string   `toml:"log_level"`

	// Token is only ever taken from the environment, never written to disk.
	Token string `toml:"-"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		APIURL:         "http://localhost:8080",
		ChatURL:        "ws://localhost:8080/ws/chat",
		RequestTimeout: Duration{15 * time.Second},
		TypingDebounce: Duration{1500 * time.Millisecond},
		PresenceGrace:  Duration{3 * time.Second},
		OutboxCapacity: 100,
		ReconnectMin:   Duration{500 * time.Millisecond},
		ReconnectMax:   Duration{30 * time.Second},
		PingInterval:   Duration{30 * time.Second},
		RecordCommand:  []string{"arecord", "-q", "-f", "cd", "-t", "wav"},
		LogLevel:       "info",
	}
}

// Load reads config from the given path on top of Default. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.fillZero()
	return cfg, nil
}

// LoadOrDefault is Load that treats a missing file as the default config.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// fillZero restores defaults for fields an explicit file set to zero.
func (c *Config) fillZero() {
	d := Default()
	if c.RequestTimeout.Duration <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.TypingDebounce.Duration <= 0 {
		c.TypingDebounce = d.TypingDebounce
	}
	if c.PresenceGrace.Duration <= 0 {
		c.PresenceGrace = d.PresenceGrace
	}
	if c.OutboxCapacity <= 0 {
		c.OutboxCapacity = d.OutboxCapacity
	}
	if c.ReconnectMin.Duration <= 0 {
		c.ReconnectMin = d.ReconnectMin
	}
	if c.ReconnectMax.Duration < c.ReconnectMin.Duration {
		c.ReconnectMax = Duration{max(d.ReconnectMax.Duration, c.ReconnectMin.Duration)}
	}
	if c.PingInterval.Duration <= 0 {
		c.PingInterval = d.PingInterval
	}
}

// Environment variables that override file values.
const (
	EnvAPIURL         = "GOALCHAT_API_URL"
	EnvChatURL        = "GOALCHAT_CHAT_URL"
	EnvToken          = "GOALCHAT_TOKEN"
	EnvSession        = "GOALCHAT_SESSION"
	EnvOutboxCapacity = "GOALCHAT_OUTBOX_CAPACITY"
	EnvLogLevel       = "GOALCHAT_LOG_LEVEL"
)

// ApplyEnv loads the optional dotenv files (existing variables win) and then
// overlays GOALCHAT_* variables onto cfg.
func ApplyEnv(cfg *Config, dotenvFiles ...string) error {
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv(EnvChatURL); v != "" {
		cfg.ChatURL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv(EnvSession); v != "" {
		cfg.DefaultSession = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvOutboxCapacity); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s: invalid capacity %q", EnvOutboxCapacity, v)
		}
		cfg.OutboxCapacity = n
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
