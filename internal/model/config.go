package model

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/retry"
)

// ServerConfig describes where the storefront backend lives.
type ServerConfig struct {
	// Host is the backend host (and optional port) used for the socket.
	Host string `mapstructure:"host" yaml:"host"`

	// TLS selects wss:// and https:// over ws:// and http://.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// APIBaseURL overrides the REST base URL derived from Host and TLS.
	APIBaseURL string `mapstructure:"api_base_url" yaml:"api_base_url"`
}

// RealtimeConfig holds the persistent connection settings.
type RealtimeConfig struct {
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	ReconnectBase     time.Duration `mapstructure:"reconnect_base" yaml:"reconnect_base"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`

	// MaxReconnectDelay clamps the backoff. Zero leaves it unclamped.
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay" yaml:"max_reconnect_delay"`
}

// SyncConfig holds the periodic REST snapshot settings.
type SyncConfig struct {
	IntervalSec int            `mapstructure:"interval_sec" yaml:"interval_sec"`
	PageLimit   int            `mapstructure:"page_limit" yaml:"page_limit"`
	Retry       retry.Strategy `mapstructure:"retry" yaml:"retry"`
}

// StoreConfig holds the local cache settings.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Realtime RealtimeConfig `mapstructure:"realtime" yaml:"realtime"`
	Sync     SyncConfig     `mapstructure:"sync" yaml:"sync"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
}

// configDir returns ~/.config/storefront-notify, falling back to the
// working directory when the home directory cannot be resolved.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "storefront-notify")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/storefront-notify/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultAppConfig returns a sensible default configuration.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Host: "localhost:8000",
		},
		Realtime: RealtimeConfig{
			HandshakeTimeout:  10 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			ReconnectBase:     3 * time.Second,
			MaxRetries:        5,
			MaxReconnectDelay: 60 * time.Second,
		},
		Sync: SyncConfig{
			IntervalSec: 300,
			PageLimit:   50,
			Retry: retry.Strategy{
				Attempts: 3,
				Delay:    500 * time.Millisecond,
				Backoff:  2,
			},
		},
		Store: StoreConfig{
			Path: filepath.Join(configDir(), "notifications.db"),
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration. Any key
// can be overridden with a NOTIFY_ prefixed environment variable, e.g.
// NOTIFY_SERVER_HOST.
func LoadConfig(path string) (*AppConfig, error) {
	def := DefaultAppConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NOTIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.tls", def.Server.TLS)
	v.SetDefault("server.api_base_url", "")
	v.SetDefault("realtime.handshake_timeout", def.Realtime.HandshakeTimeout)
	v.SetDefault("realtime.heartbeat_interval", def.Realtime.HeartbeatInterval)
	v.SetDefault("realtime.reconnect_base", def.Realtime.ReconnectBase)
	v.SetDefault("realtime.max_retries", def.Realtime.MaxRetries)
	v.SetDefault("realtime.max_reconnect_delay", def.Realtime.MaxReconnectDelay)
	v.SetDefault("sync.interval_sec", def.Sync.IntervalSec)
	v.SetDefault("sync.page_limit", def.Sync.PageLimit)
	v.SetDefault("sync.retry.attempts", def.Sync.Retry.Attempts)
	v.SetDefault("sync.retry.delay", def.Sync.Retry.Delay)
	v.SetDefault("sync.retry.backoff", def.Sync.Retry.Backoff)
	v.SetDefault("store.path", def.Store.Path)

	if err := v.ReadInConfig(); err != nil {
		_, isPathErr := err.(*os.PathError)
		_, isNotFound := err.(viper.ConfigFileNotFoundError)
		if !isPathErr && !isNotFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := DefaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Realtime.MaxRetries < 0 {
		cfg.Realtime.MaxRetries = 0
	}
	if cfg.Sync.IntervalSec <= 0 {
		cfg.Sync.IntervalSec = def.Sync.IntervalSec
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server", cfg.Server)
	v.Set("realtime", cfg.Realtime)
	v.Set("sync", cfg.Sync)
	v.Set("store", cfg.Store)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

// SocketURL returns the notification socket endpoint carrying token as
// the bearer credential.
func (s ServerConfig) SocketURL(token string) string {
	scheme := "ws"
	if s.TLS {
		scheme = "wss"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     s.Host,
		Path:     "/ws/notifications/",
		RawQuery: url.Values{"token": {token}}.Encode(),
	}
	return u.String()
}

// APIURL returns the REST base URL.
func (s ServerConfig) APIURL() string {
	if s.APIBaseURL != "" {
		return strings.TrimRight(s.APIBaseURL, "/")
	}
	scheme := "http"
	if s.TLS {
		scheme = "https"
	}
	return scheme + "://" + s.Host
}
