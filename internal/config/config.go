// File: internal/config/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package config loads relayd settings from defaults, an optional YAML file,
// RELAY_* environment variables and command-line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-relay/internal/logging"
	"github.com/momentics/hioload-relay/server"
)

// EnvPrefix prefixes every environment override, e.g. RELAY_LOG_LEVEL.
const EnvPrefix = "RELAY"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// TLSConfig enables TLS on the WebSocket listener when both files are set.
type TLSConfig struct {
	CertFile string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file"`
}

// Config is the root relayd configuration.
type Config struct {
	Host            string         `mapstructure:"host" yaml:"host"`
	Port            int            `mapstructure:"port" yaml:"port"`
	MetricsAddr     string         `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	TLS             TLSConfig      `mapstructure:"tls" yaml:"tls"`
	MaxMessageBytes int64          `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	WriteQueueLimit int            `mapstructure:"write_queue_limit" yaml:"write_queue_limit"`
	MessageRate     float64        `mapstructure:"message_rate" yaml:"message_rate"`
	MessageBurst    int            `mapstructure:"message_burst" yaml:"message_burst"`
	PingInterval    time.Duration  `mapstructure:"ping_interval" yaml:"-"`
	ShutdownTimeout time.Duration  `mapstructure:"shutdown_timeout" yaml:"-"`
	Log             logging.Config `mapstructure:"log" yaml:"log"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Host:            "0.0.0.0",
		Port:            6788,
		MaxMessageBytes: 32 << 20,
		WriteQueueLimit: 1024,
		MessageRate:     0,
		MessageBurst:    20,
		PingInterval:    30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		Log: logging.Config{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: logging.Rotation{
				Filename:   "logs/relayd.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"host":              "host",
	"port":              "port",
	"metrics-addr":      "metrics_addr",
	"tls-cert":          "tls.cert_file",
	"tls-key":           "tls.key_file",
	"max-message-bytes": "max_message_bytes",
	"write-queue-limit": "write_queue_limit",
	"message-rate":      "message_rate",
	"message-burst":     "message_burst",
	"ping-interval":     "ping_interval",
	"shutdown-timeout":  "shutdown_timeout",
	"log-level":         "log.level",
	"log-format":        "log.format",
}

// RegisterFlags adds the overridable settings to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("host", d.Host, "listen host")
	fs.Int("port", d.Port, "listen port")
	fs.String("metrics-addr", d.MetricsAddr, "serve /metrics and /debug/state on this address")
	fs.String("tls-cert", "", "TLS certificate file")
	fs.String("tls-key", "", "TLS private key file")
	fs.Int64("max-message-bytes", d.MaxMessageBytes, "largest inbound message")
	fs.Int("write-queue-limit", d.WriteQueueLimit, "queued outbound frames per connection (0 = unlimited)")
	fs.Float64("message-rate", d.MessageRate, "inbound messages per second per session (0 = unlimited)")
	fs.Int("message-burst", d.MessageBurst, "burst allowance for --message-rate")
	fs.Duration("ping-interval", d.PingInterval, "keepalive ping period (0 = off)")
	fs.Duration("shutdown-timeout", d.ShutdownTimeout, "graceful shutdown bound")
	fs.String("log-level", d.Log.Level, "debug, info, warn or error")
	fs.String("log-format", d.Log.Format, "console or json")
}

// Load builds the effective configuration. path may be empty; fs may be nil
// or a set prepared with RegisterFlags and already parsed.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("host", cfg.Host)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("tls.cert_file", cfg.TLS.CertFile)
	v.SetDefault("tls.key_file", cfg.TLS.KeyFile)
	v.SetDefault("max_message_bytes", cfg.MaxMessageBytes)
	v.SetDefault("write_queue_limit", cfg.WriteQueueLimit)
	v.SetDefault("message_rate", cfg.MessageRate)
	v.SetDefault("message_burst", cfg.MessageBurst)
	v.SetDefault("ping_interval", cfg.PingInterval)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and normalizes the log section.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalid, c.Port)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("%w: max_message_bytes must be positive", ErrInvalid)
	}
	if c.WriteQueueLimit < 0 {
		return fmt.Errorf("%w: write_queue_limit must not be negative", ErrInvalid)
	}
	if c.PingInterval < 0 {
		return fmt.Errorf("%w: ping_interval must not be negative", ErrInvalid)
	}
	if c.MessageRate < 0 {
		return fmt.Errorf("%w: message_rate must not be negative", ErrInvalid)
	}
	if c.MessageRate > 0 && c.MessageBurst <= 0 {
		return fmt.Errorf("%w: message_burst must be positive when message_rate is set", ErrInvalid)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("%w: tls.cert_file and tls.key_file go together", ErrInvalid)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	return nil
}

// ListenAddr joins host and port.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ServerConfig maps the file-level settings onto server.Config.
func (c *Config) ServerConfig() *server.Config {
	sc := server.DefaultConfig()
	sc.ListenAddr = c.ListenAddr()
	sc.MetricsAddr = c.MetricsAddr
	sc.TLSCertFile = c.TLS.CertFile
	sc.TLSKeyFile = c.TLS.KeyFile
	sc.MaxMessageBytes = c.MaxMessageBytes
	sc.WriteQueueLimit = c.WriteQueueLimit
	sc.MessageRate = c.MessageRate
	sc.MessageBurst = c.MessageBurst
	sc.PingInterval = c.PingInterval
	sc.ShutdownTimeout = c.ShutdownTimeout
	return sc
}

// MarshalYAML renders durations in their string form.
func (c Config) MarshalYAML() (any, error) {
	type plain Config
	return struct {
		plain           `yaml:",inline"`
		PingInterval    string `yaml:"ping_interval"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	}{plain(c), c.PingInterval.String(), c.ShutdownTimeout.String()}, nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
