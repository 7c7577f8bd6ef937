package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"anon-relay/internal/transport"
)

// stubClient is a transport.Client that is already listening at addr.
type stubClient struct {
	addr string
}

func (s *stubClient) Start(context.Context) error { return nil }
func (s *stubClient) Stop() error                 { return nil }
func (s *stubClient) SocksAddr() string           { return s.addr }
func (s *stubClient) Running() bool               { return true }

// Logger returns a logger that discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// EnabledHandle returns a live transport handle whose SOCKS endpoint is
// socksAddr, typically a SOCKSServer. The handle is shut down when the test ends.
func EnabledHandle(t *testing.T, socksAddr string) *transport.Handle {
	t.Helper()

	m := transport.NewManager(func(int, time.Duration) transport.Client {
		return &stubClient{addr: socksAddr}
	}, Logger(), nil)

	h, err := m.Initialize(context.Background(), transport.Options{Enabled: true})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { _ = m.Shutdown(h) })
	return h
}

// DisabledHandle returns the handle produced by a disabled transport.
func DisabledHandle(t *testing.T) *transport.Handle {
	t.Helper()

	m := transport.NewManager(func(int, time.Duration) transport.Client {
		t.Fatal("disabled transport must not build a client")
		return nil
	}, Logger(), nil)

	h, err := m.Initialize(context.Background(), transport.Options{Enabled: false})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return h
}
