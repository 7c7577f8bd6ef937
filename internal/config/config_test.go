package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/adrg/xdg"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880
cors_origins = ["http://localhost:3000"]

[transport]
enabled = true
socks_port = 9150
startup_timeout_seconds = 90

[relay]
timeout_seconds = 15
max_response_bytes = 1024
idle_connections = 4

[node]
fingerprint = "node-abc"
nickname = "alpha"
environment = "development"

[network]
bootstrap_nodes = ["peer-1@http://10.0.0.1:7777"]
public_address = "http://relay.example.test:9000"
peer_log_interval_seconds = 30
status_report_interval_seconds = 120

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "http://localhost:3000" {
		t.Errorf("Server.CORSOrigins = %v, want [http://localhost:3000]", cfg.Server.CORSOrigins)
	}
	if !cfg.Transport.Enabled {
		t.Error("Transport.Enabled = false, want true")
	}
	if cfg.Transport.SocksPort != 9150 {
		t.Errorf("Transport.SocksPort = %d, want %d", cfg.Transport.SocksPort, 9150)
	}
	if cfg.Transport.StartupTimeoutSeconds != 90 {
		t.Errorf("Transport.StartupTimeoutSeconds = %d, want %d", cfg.Transport.StartupTimeoutSeconds, 90)
	}
	if cfg.Relay.TimeoutSeconds != 15 {
		t.Errorf("Relay.TimeoutSeconds = %d, want %d", cfg.Relay.TimeoutSeconds, 15)
	}
	if cfg.Relay.MaxResponseBytes != 1024 {
		t.Errorf("Relay.MaxResponseBytes = %d, want %d", cfg.Relay.MaxResponseBytes, 1024)
	}
	if cfg.Node.Fingerprint != "node-abc" {
		t.Errorf("Node.Fingerprint = %q, want %q", cfg.Node.Fingerprint, "node-abc")
	}
	if len(cfg.Network.BootstrapNodes) != 1 {
		t.Errorf("Network.BootstrapNodes = %v, want one entry", cfg.Network.BootstrapNodes)
	}
	if cfg.Network.PublicAddress != "http://relay.example.test:9000" {
		t.Errorf("Network.PublicAddress = %q", cfg.Network.PublicAddress)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "# empty\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 7777)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Transport.Enabled {
		t.Error("Transport.Enabled = true, want false by default")
	}
	if cfg.Transport.SocksPort != 9060 {
		t.Errorf("Transport.SocksPort = %d, want %d", cfg.Transport.SocksPort, 9060)
	}
	if cfg.Transport.StartupTimeoutSeconds != 180 {
		t.Errorf("Transport.StartupTimeoutSeconds = %d, want %d", cfg.Transport.StartupTimeoutSeconds, 180)
	}
	if cfg.Relay.TimeoutSeconds != 60 {
		t.Errorf("Relay.TimeoutSeconds = %d, want %d", cfg.Relay.TimeoutSeconds, 60)
	}
	if cfg.Node.Fingerprint != "default-fingerprint" {
		t.Errorf("Node.Fingerprint = %q, want %q", cfg.Node.Fingerprint, "default-fingerprint")
	}
	if cfg.Node.Environment != EnvDevelopment {
		t.Errorf("Node.Environment = %q, want %q", cfg.Node.Environment, EnvDevelopment)
	}
	if cfg.Network.PublicAddress != "http://localhost:7777" {
		t.Errorf("Network.PublicAddress = %q, want %q", cfg.Network.PublicAddress, "http://localhost:7777")
	}
	if cfg.Network.PeerLogIntervalSeconds != 60 {
		t.Errorf("Network.PeerLogIntervalSeconds = %d, want %d", cfg.Network.PeerLogIntervalSeconds, 60)
	}
	if cfg.Network.StatusReportIntervalSeconds != 600 {
		t.Errorf("Network.StatusReportIntervalSeconds = %d, want %d", cfg.Network.StatusReportIntervalSeconds, 600)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000

[node]
fingerprint = "from-file"

[log]
level = "info"
`)

	cli := &CLI{
		Config:       path,
		Host:         "0.0.0.0",
		Port:         3000,
		EnableAnyone: true,
		SocksPort:    9999,
		Fingerprint:  "from-cli",
		LogLevel:     "error",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if !cfg.Transport.Enabled {
		t.Error("Transport.Enabled = false, want true (CLI override)")
	}
	if cfg.Transport.SocksPort != 9999 {
		t.Errorf("Transport.SocksPort = %d, want %d (CLI override)", cfg.Transport.SocksPort, 9999)
	}
	if cfg.Node.Fingerprint != "from-cli" {
		t.Errorf("Node.Fingerprint = %q, want %q (CLI override)", cfg.Node.Fingerprint, "from-cli")
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "error")
	}
}

func TestLoad_ProductionForcesTransport(t *testing.T) {
	path := writeConfig(t, `
[transport]
enabled = false
`)

	cfg, err := Load(&CLI{Config: path, Environment: "Production"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Transport.Enabled {
		t.Error("Transport.Enabled = false, want true in production")
	}
	if !cfg.Node.IsProduction() {
		t.Errorf("Node.Environment = %q, want production", cfg.Node.Environment)
	}
}

func TestLoad_NoConfigFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Cleanup(xdg.Reload)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_DIRS", t.TempDir())
	xdg.Reload()

	orig := configSearchPaths
	configSearchPaths = []string{"/nonexistent/anon-relay/config.toml"}
	t.Cleanup(func() { configSearchPaths = orig })

	cfg, err := Load(&CLI{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 7777)
	}
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing explicit config, got nil")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeConfig(t, "this is not [valid toml")

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid TOML, got nil")
	}
	if !strings.Contains(err.Error(), "parse") {
		t.Errorf("error = %q, want mention of parse", err)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"negative port", "[server]\nport = -1\n", "server.port"},
		{"port too large", "[server]\nport = 70000\n", "server.port"},
		{"negative body max", "[server]\nbody_max_bytes = -1\n", "server.body_max_bytes"},
		{"rate limit without rps", "[server.rate_limit]\nenabled = true\n", "requests_per_second"},
		{"socks port too large", "[transport]\nsocks_port = 70000\n", "transport.socks_port"},
		{"socks port clashes with server", "[server]\nport = 9060\n[transport]\nenabled = true\nsocks_port = 9060\n", "conflicts"},
		{"negative startup timeout", "[transport]\nstartup_timeout_seconds = -5\n", "startup_timeout_seconds"},
		{"negative relay timeout", "[relay]\ntimeout_seconds = -1\n", "relay.timeout_seconds"},
		{"negative max response", "[relay]\nmax_response_bytes = -1\n", "relay.max_response_bytes"},
		{"negative idle connections", "[relay]\nidle_connections = -1\n", "relay.idle_connections"},
		{"negative peer interval", "[network]\npeer_log_interval_seconds = -1\n", "peer_log_interval_seconds"},
		{"negative report interval", "[network]\nstatus_report_interval_seconds = -1\n", "status_report_interval_seconds"},
		{"bad environment", "[node]\nenvironment = \"staging\"\n", "node.environment"},
		{"relative public address", "[network]\npublic_address = \"relay:7777\"\n", "public_address"},
		{"empty bootstrap entry", "[network]\nbootstrap_nodes = [\" \"]\n", "bootstrap_nodes"},
		{"bootstrap entry without address", "[network]\nbootstrap_nodes = [\"BADFP@\"]\n", "missing address"},
		{"bootstrap entry without fingerprint", "[network]\nbootstrap_nodes = [\"@http://10.0.0.1:7777\"]\n", "empty fingerprint"},
		{"bootstrap entry with bad URL", "[network]\nbootstrap_nodes = [\"fp@http://\"]\n", "invalid address"},
		{"bad log level", "[log]\nlevel = \"verbose\"\n", "log.level"},
		{"bad log format", "[log]\nformat = \"xml\"\n", "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.data)

			_, err := Load(cliWithPath(path))
			if err == nil {
				t.Fatalf("Load() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = true
path = "metrics"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("error = %q, want mention of metrics.path", err)
	}
}

func TestLoad_MetricsPathConflictsWithAPIRoute(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"api exact", "/api"},
		{"api sub", "/api/metrics"},
		{"health", "/health"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, `
[metrics]
enabled = true
path = "`+tt.path+`"
`)

			_, err := Load(cliWithPath(cfgPath))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with route, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = false
path = "bad-no-slash"
`)

	_, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")
	if err := os.Chmod(path, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths(t *testing.T) {
	first := writeConfig(t, "# a")
	second := writeConfig(t, "# b")

	if got := findConfigInPaths([]string{"/nonexistent/a.toml", second}); got != second {
		t.Errorf("findConfigInPaths() = %q, want %q", got, second)
	}
	if got := findConfigInPaths([]string{first, second}); got != first {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, first)
	}
	if got := findConfigInPaths([]string{"/nonexistent/a.toml"}); got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestDurations(t *testing.T) {
	tc := TransportConfig{StartupTimeoutSeconds: 3}
	if got := tc.StartupTimeout().Seconds(); got != 3 {
		t.Errorf("StartupTimeout() = %vs, want 3s", got)
	}
	rc := RelayConfig{TimeoutSeconds: 7}
	if got := rc.Timeout().Seconds(); got != 7 {
		t.Errorf("Timeout() = %vs, want 7s", got)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
