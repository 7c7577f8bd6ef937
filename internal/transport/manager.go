package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"anon-relay/internal/metrics"
)

// ErrStartFailure is returned when the anonymizing client cannot be brought up.
// It is fatal at boot.
var ErrStartFailure = errors.New("anonymizing transport failed to start")

// proxyHost is where the overlay client listens for SOCKS connections.
const proxyHost = "127.0.0.1"

// Options controls Initialize.
type Options struct {
	Enabled        bool
	SocksPort      int
	StartupTimeout time.Duration
}

// Handle is the live binding to the anonymizing client. A disabled handle has
// no client; relay calls against it must short-circuit. Handles are shared by
// pointer and are safe for concurrent reads.
type Handle struct {
	socksPort int
	enabled   atomic.Bool

	mu     sync.Mutex
	client Client
}

// Enabled reports whether relay traffic may use this handle. It is false for
// nil and disabled handles and after Shutdown.
func (h *Handle) Enabled() bool {
	return h != nil && h.enabled.Load()
}

// SocksPort returns the local SOCKS port fixed at initialization, or 0.
func (h *Handle) SocksPort() int {
	if h == nil {
		return 0
	}
	return h.socksPort
}

// SocksURL returns the socks5h proxy URL for this handle. The 5h scheme makes
// the proxy resolve target hostnames, so lookups never leave the overlay.
func (h *Handle) SocksURL() string {
	return "socks5h://" + net.JoinHostPort(proxyHost, strconv.Itoa(h.SocksPort()))
}

// Manager starts and stops the anonymizing client.
type Manager struct {
	newClient ClientFactory
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewManager creates a Manager that builds clients with factory.
// The metrics parameter is optional; pass nil to disable the transport gauge.
func NewManager(factory ClientFactory, logger *slog.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		newClient: factory,
		logger:    logger.With("component", "transport"),
		metrics:   m,
	}
}

// Initialize brings up the transport described by opts.
//
// When opts.Enabled is false it returns a disabled handle immediately and
// starts nothing. Otherwise it blocks until the client reports ready, bounded
// by ctx and opts.StartupTimeout. A failed start is wrapped in
// ErrStartFailure; the attempted client is stopped and discarded.
func (m *Manager) Initialize(ctx context.Context, opts Options) (*Handle, error) {
	if !opts.Enabled {
		m.logger.Info("anonymizing transport disabled")
		m.setUp(false)
		return &Handle{}, nil
	}

	if opts.StartupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.StartupTimeout)
		defer cancel()
	}

	m.logger.Info("starting anonymizing transport", "socks_port", opts.SocksPort)
	start := time.Now()

	client := m.newClient(opts.SocksPort, opts.StartupTimeout)
	if err := client.Start(ctx); err != nil {
		_ = client.Stop() //nolint:errcheck // the attempted client is discarded
		return nil, fmt.Errorf("%w: %w", ErrStartFailure, err)
	}

	port, err := portOf(client.SocksAddr())
	if err != nil {
		_ = client.Stop() //nolint:errcheck // the attempted client is discarded
		return nil, fmt.Errorf("%w: %w", ErrStartFailure, err)
	}

	h := &Handle{socksPort: port, client: client}
	h.enabled.Store(true)
	m.setUp(true)

	m.logger.Info("anonymizing transport ready",
		"socks_port", port,
		"bootstrap_ms", time.Since(start).Milliseconds(),
	)
	return h, nil
}

// Shutdown stops the client behind h and disables the handle. It is a no-op
// for nil, disabled and already stopped handles.
func (m *Manager) Shutdown(h *Handle) error {
	if h == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.enabled.Store(false)
	if h.client == nil {
		return nil
	}

	m.logger.Info("stopping anonymizing transport", "socks_port", h.socksPort)
	err := h.client.Stop()
	h.client = nil
	m.setUp(false)
	if err != nil {
		return fmt.Errorf("stop anonymizing transport: %w", err)
	}
	m.logger.Info("anonymizing transport stopped")
	return nil
}

func (m *Manager) setUp(up bool) {
	if m.metrics == nil {
		return
	}
	if up {
		m.metrics.TransportUp.Set(1)
	} else {
		m.metrics.TransportUp.Set(0)
	}
}

// portOf extracts the port from a host:port SOCKS address.
func portOf(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse socks address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid socks port in %q", addr)
	}
	return port, nil
}
