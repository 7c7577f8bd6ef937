// Package transport owns the anonymizing overlay client: it starts the client,
// exposes its local SOCKS endpoint as a Handle, and tears it down once.
package transport

import (
	"context"
	"time"
)

// Client is an anonymizing overlay client exposing a local SOCKS listener.
// Any implementation with this shape can back a Handle.
type Client interface {
	// Start launches the client and blocks until it is ready for traffic.
	Start(ctx context.Context) error
	// Stop shuts the client down. It is safe to call on a stopped client.
	Stop() error
	// SocksAddr returns the SOCKS listener as host:port, or "" when not running.
	SocksAddr() string
	// Running reports whether the client is accepting traffic.
	Running() bool
}

// ClientFactory builds a client bound to the given local SOCKS port.
type ClientFactory func(socksPort int, startupTimeout time.Duration) Client
