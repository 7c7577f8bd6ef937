// Package client provides the HTTP client that reaches origins through the
// anonymizing transport's SOCKS endpoint.
package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"anon-relay/internal/config"
	"anon-relay/internal/metrics"
	"anon-relay/internal/transport"
)

// ErrNoTransport is returned by Do when the client was built for a disabled handle.
var ErrNoTransport = errors.New("no anonymizing transport")

// OverlayClient sends requests through the transport's socks5h endpoint.
// One client, and so one connection pool, is shared by all relay calls.
type OverlayClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewOverlayClient creates an OverlayClient bound to h. For a disabled handle
// it returns a client whose Do always fails with ErrNoTransport.
// The metrics parameter is optional; pass nil to disable relay metrics recording.
func NewOverlayClient(h *transport.Handle, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*OverlayClient, error) {
	c := &OverlayClient{
		logger:  logger.With("component", "overlay_client"),
		metrics: m,
	}
	if !h.Enabled() {
		return c, nil
	}

	proxyURL, err := url.Parse(h.SocksURL())
	if err != nil {
		return nil, fmt.Errorf("parse socks url: %w", err)
	}
	// The socks5h scheme hands hostnames to the proxy unresolved.
	dialer, err := proxy.FromURL(proxyURL, &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("socks dialer: %w", err)
	}
	contextDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks dialer for %s does not support contexts", proxyURL.Redacted())
	}

	tr := &http.Transport{
		// Never consult HTTP_PROXY and friends; every byte goes through the overlay.
		Proxy:       nil,
		DialContext: contextDialer.DialContext,
		// Each connection holds an overlay circuit, so the pool stays small.
		MaxIdleConns:        cfg.Relay.IdleConnections,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 30 * time.Second,
		ForceAttemptHTTP2:   true,
		// No Accept-Encoding is injected; callers choose their own.
		DisableCompression: true,
	}

	c.httpClient = &http.Client{
		Transport: tr,
		Timeout:   cfg.Relay.Timeout(),
	}
	return c, nil
}

// Do executes exactly one HTTP exchange through the overlay. Nothing is retried.
// The caller is responsible for closing the response body.
func (c *OverlayClient) Do(req *http.Request) (*http.Response, error) {
	if c.httpClient == nil {
		return nil, ErrNoTransport
	}

	c.logger.Debug("overlay request",
		"method", req.Method,
		"host", req.URL.Host,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller
	duration := time.Since(start).Seconds()
	method := metrics.NormalizeMethod(req.Method)

	if c.metrics != nil {
		c.metrics.RelayDuration.WithLabelValues(method).Observe(duration)
	}
	if err != nil {
		return nil, fmt.Errorf("overlay request: %w", err)
	}
	if c.metrics != nil {
		c.metrics.RelayResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}
	return resp, nil
}

// Close releases idle pooled connections.
func (c *OverlayClient) Close() {
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
	}
}
