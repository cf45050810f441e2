// Package config handles CLI parsing, optional TOML configuration and validation.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"

	"http-forward-go/internal/descriptor"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/http-forward/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Listen      string           `kong:"short='L',required,help='Listen descriptor, scheme://[host][:port].',env='LISTEN'"`
	Forward     string           `kong:"short='F',required,help='Forward descriptor, scheme://[host][:port].',env='FORWARD'"`
	Config      string           `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	LogLevel    string           `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	LogFormat   string           `kong:"help='Log format: json|text|console (overrides config).'"`
	MetricsAddr string           `kong:"help='Admin listen address for /metrics; enables metrics (overrides config).'"`
	Version     kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Forward ForwardConfig `toml:"forward"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	// Listen and Backend are parsed from the CLI descriptors.
	Listen  descriptor.Descriptor `toml:"-"`
	Backend descriptor.Descriptor `toml:"-"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds inbound HTTP server settings.
type ServerConfig struct {
	BodyMaxBytes             int64           `toml:"body_max_bytes"` // 0 means unlimited
	ReadHeaderTimeoutSeconds int             `toml:"read_header_timeout_seconds"`
	IdleTimeoutSeconds       int             `toml:"idle_timeout_seconds"`
	RateLimit                RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ForwardConfig holds outbound hop settings.
type ForwardConfig struct {
	DialTimeoutSeconds int  `toml:"dial_timeout_seconds"`
	IOTimeoutSeconds   int  `toml:"io_timeout_seconds"`
	StripHopByHop      bool `toml:"strip_hop_by_hop"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level            string `toml:"level"`
	Format           string `toml:"format"`
	BodyPreviewBytes int    `toml:"body_preview_bytes"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Path    string `toml:"path"`
}

// Load reads the optional TOML config file, applies CLI overrides and parses
// the listen and forward descriptors.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/http-forward/config.toml then configs/config.toml. A missing file is
// not an error; defaults apply.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	var err error
	if cfg.Listen, err = descriptor.Parse(cli.Listen); err != nil {
		return nil, fmt.Errorf("config: listen: %w", err)
	}
	if cfg.Backend, err = descriptor.Parse(cli.Forward); err != nil {
		return nil, fmt.Errorf("config: forward: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		c.Log.Format = cli.LogFormat
	}
	if cli.MetricsAddr != "" {
		c.Metrics.Enabled = true
		c.Metrics.Addr = cli.MetricsAddr
	}
}

func (c *Config) validate() error {
	// The backend is spoken to over HTTP/1.1 only; any other scheme cannot
	// form a target URL.
	switch c.Backend.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("forward scheme must be http or https; got %q", c.Backend.Scheme)
	}

	// Numeric bounds.
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.ReadHeaderTimeoutSeconds < 0 {
		return fmt.Errorf("server.read_header_timeout_seconds must be non-negative; got %d", c.Server.ReadHeaderTimeoutSeconds)
	}
	if c.Server.IdleTimeoutSeconds < 0 {
		return fmt.Errorf("server.idle_timeout_seconds must be non-negative; got %d", c.Server.IdleTimeoutSeconds)
	}
	if c.Forward.DialTimeoutSeconds < 0 {
		return fmt.Errorf("forward.dial_timeout_seconds must be non-negative; got %d", c.Forward.DialTimeoutSeconds)
	}
	if c.Forward.IOTimeoutSeconds < 0 {
		return fmt.Errorf("forward.io_timeout_seconds must be non-negative; got %d", c.Forward.IOTimeoutSeconds)
	}
	if c.Log.BodyPreviewBytes < 0 {
		return fmt.Errorf("log.body_preview_bytes must be non-negative; got %d", c.Log.BodyPreviewBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "console", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text, console; got %q", c.Log.Format)
	}

	// Metrics fields (only when metrics are enabled).
	if c.Metrics.Enabled {
		if c.Metrics.Path != "" && c.Metrics.Path[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", c.Metrics.Path)
		}
		for _, reserved := range []string{"/healthz", "/proxy/status"} {
			if c.Metrics.Path == reserved {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", c.Metrics.Path, reserved)
			}
		}
		if c.Metrics.Addr != "" {
			if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
				return fmt.Errorf("metrics.addr must be host:port; got %q", c.Metrics.Addr)
			}
			if c.Metrics.Addr == c.Listen.Addr() {
				return fmt.Errorf("metrics.addr %q conflicts with the listen address", c.Metrics.Addr)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// Zero means "unset" for the timeout fields because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.ReadHeaderTimeoutSeconds == 0 {
		c.Server.ReadHeaderTimeoutSeconds = 10
	}
	if c.Server.IdleTimeoutSeconds == 0 {
		c.Server.IdleTimeoutSeconds = 120
	}
	if c.Forward.DialTimeoutSeconds == 0 {
		c.Forward.DialTimeoutSeconds = 30
	}
	if c.Forward.IOTimeoutSeconds == 0 {
		c.Forward.IOTimeoutSeconds = 120
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.BodyPreviewBytes == 0 {
		c.Log.BodyPreviewBytes = 1024
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = "127.0.0.1:9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// DialTimeout returns the outbound connect timeout.
func (c *ForwardConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}

// IOTimeout returns the deadline applied to one outbound exchange.
func (c *ForwardConfig) IOTimeout() time.Duration {
	return time.Duration(c.IOTimeoutSeconds) * time.Second
}

// FilePath returns the config file that was loaded, or empty string.
func (c *Config) FilePath() string {
	return c.filePath
}

// LogSummary logs the resolved endpoints the way operators expect to see them at startup.
func (c *Config) LogSummary(logger *slog.Logger) {
	logger.Info("listen endpoint", "descriptor", c.Listen.String())
	logger.Info("forward endpoint", "descriptor", c.Backend.String(), "base_url", c.Backend.BaseURL())
	if c.Backend.Transport == descriptor.Secure {
		logger.Warn("forward descriptor selects a secure transport; TLS is not performed, plain HTTP is sent",
			"scheme", c.Backend.Scheme,
		)
	}
	if c.filePath != "" {
		logger.Info("config file loaded", "path", c.filePath)
	}
}
