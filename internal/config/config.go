// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/adrg/xdg"
	toml "github.com/pelletier/go-toml/v2"

	"anon-relay/internal/network"
)

// appConfigFile is the config path relative to the XDG config directories.
const appConfigFile = "anon-relay/config.toml"

// configSearchPaths lists paths checked in order after the XDG lookup when no explicit config is given.
var configSearchPaths = []string{
	"/etc/anon-relay/config.toml",
	"configs/config.toml",
}

// Environment names accepted by node.environment.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config       string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host         string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port         int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	EnableAnyone bool   `kong:"help='Start the anonymizing transport (overrides config).',env='ENABLE_ANYONE'"`
	SocksPort    int    `kong:"help='Local SOCKS port for the anonymizing transport (overrides config).',env='SOCKS_PORT'"`
	Fingerprint  string `kong:"help='Node fingerprint (overrides config).',env='FINGERPRINT'"`
	Environment  string `kong:"help='Runtime environment: development|production (overrides config).',env='NODE_ENV'"`
	LogLevel     string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Transport TransportConfig `toml:"transport"`
	Relay     RelayConfig     `toml:"relay"`
	Node      NodeConfig      `toml:"node"`
	Network   NetworkConfig   `toml:"network"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (7777); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	CORSOrigins  []string        `toml:"cors_origins"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// TransportConfig holds the anonymizing transport settings.
type TransportConfig struct {
	Enabled               bool `toml:"enabled"`
	SocksPort             int  `toml:"socks_port"`
	StartupTimeoutSeconds int  `toml:"startup_timeout_seconds"`
}

// RelayConfig holds outbound relay call settings.
type RelayConfig struct {
	TimeoutSeconds   int   `toml:"timeout_seconds"`
	MaxResponseBytes int64 `toml:"max_response_bytes"`
	IdleConnections  int   `toml:"idle_connections"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	Fingerprint string `toml:"fingerprint"`
	Nickname    string `toml:"nickname"`
	Environment string `toml:"environment"`
}

// NetworkConfig holds peer network subsystem settings.
type NetworkConfig struct {
	BootstrapNodes              []string `toml:"bootstrap_nodes"`
	PublicAddress               string   `toml:"public_address"`
	PeerLogIntervalSeconds      int      `toml:"peer_log_interval_seconds"`
	StatusReportIntervalSeconds int      `toml:"status_report_interval_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// the XDG config directories, /etc/anon-relay/config.toml, then
// configs/config.toml. If none exist, defaults are used.
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

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.EnableAnyone {
		c.Transport.Enabled = true
	}
	if cli.SocksPort != 0 {
		c.Transport.SocksPort = cli.SocksPort
	}
	if cli.Fingerprint != "" {
		c.Node.Fingerprint = cli.Fingerprint
	}
	if cli.Environment != "" {
		c.Node.Environment = cli.Environment
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	// Production nodes always relay through the overlay.
	if strings.EqualFold(c.Node.Environment, EnvProduction) {
		c.Transport.Enabled = true
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Transport.SocksPort < 0 || c.Transport.SocksPort > 65535 {
		return fmt.Errorf("transport.socks_port must be 0–65535; got %d", c.Transport.SocksPort)
	}
	if c.Transport.Enabled && c.Transport.SocksPort != 0 && c.Transport.SocksPort == c.Server.Port {
		return fmt.Errorf("transport.socks_port %d conflicts with server.port", c.Transport.SocksPort)
	}
	if c.Transport.StartupTimeoutSeconds < 0 {
		return fmt.Errorf("transport.startup_timeout_seconds must be non-negative; got %d", c.Transport.StartupTimeoutSeconds)
	}
	if c.Relay.TimeoutSeconds < 0 {
		return fmt.Errorf("relay.timeout_seconds must be non-negative; got %d", c.Relay.TimeoutSeconds)
	}
	if c.Relay.MaxResponseBytes < 0 {
		return fmt.Errorf("relay.max_response_bytes must be non-negative; got %d", c.Relay.MaxResponseBytes)
	}
	if c.Relay.IdleConnections < 0 {
		return fmt.Errorf("relay.idle_connections must be non-negative; got %d", c.Relay.IdleConnections)
	}
	if c.Network.PeerLogIntervalSeconds < 0 {
		return fmt.Errorf("network.peer_log_interval_seconds must be non-negative; got %d", c.Network.PeerLogIntervalSeconds)
	}
	if c.Network.StatusReportIntervalSeconds < 0 {
		return fmt.Errorf("network.status_report_interval_seconds must be non-negative; got %d", c.Network.StatusReportIntervalSeconds)
	}

	switch strings.ToLower(c.Node.Environment) {
	case EnvDevelopment, EnvProduction, "":
		// valid
	default:
		return fmt.Errorf("node.environment must be one of: development, production; got %q", c.Node.Environment)
	}

	if c.Network.PublicAddress != "" {
		u, err := url.Parse(c.Network.PublicAddress)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("network.public_address must be an absolute URL; got %q", c.Network.PublicAddress)
		}
	}
	for _, node := range c.Network.BootstrapNodes {
		if strings.TrimSpace(node) == "" {
			return fmt.Errorf("network.bootstrap_nodes must not contain empty entries")
		}
		if _, err := network.ParsePeer(node); err != nil {
			return fmt.Errorf("network.bootstrap_nodes: %w", err)
		}
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// reservedRoutes are path prefixes served by the relay itself.
var reservedRoutes = []string{"/api", "/health"}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, SocksPort, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 7777
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Server.CORSOrigins == nil {
		c.Server.CORSOrigins = []string{"http://localhost:4001"}
	}
	if c.Transport.SocksPort == 0 {
		c.Transport.SocksPort = 9060
	}
	if c.Transport.StartupTimeoutSeconds == 0 {
		c.Transport.StartupTimeoutSeconds = 180
	}
	if c.Relay.TimeoutSeconds == 0 {
		c.Relay.TimeoutSeconds = 60
	}
	if c.Relay.MaxResponseBytes == 0 {
		c.Relay.MaxResponseBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Relay.IdleConnections == 0 {
		c.Relay.IdleConnections = 10
	}
	if c.Node.Fingerprint == "" {
		c.Node.Fingerprint = "default-fingerprint"
	}
	if c.Node.Environment == "" {
		c.Node.Environment = EnvDevelopment
	}
	c.Node.Environment = strings.ToLower(c.Node.Environment)
	if c.Network.PublicAddress == "" {
		c.Network.PublicAddress = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.Network.PeerLogIntervalSeconds == 0 {
		c.Network.PeerLogIntervalSeconds = 60
	}
	if c.Network.StatusReportIntervalSeconds == 0 {
		c.Network.StatusReportIntervalSeconds = 600
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	if p, err := xdg.SearchConfigFile(appConfigFile); err == nil {
		return p
	}
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

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StartupTimeout returns the transport bootstrap limit.
func (c *TransportConfig) StartupTimeout() time.Duration {
	return time.Duration(c.StartupTimeoutSeconds) * time.Second
}

// Timeout returns the per-call relay timeout.
func (c *RelayConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IsProduction reports whether the node runs in production mode.
func (c *NodeConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
