package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nao1215/tornago"
)

// TorClient runs an embedded Tor daemon through tornago.
//
// Bootstrapping downloads directory information and builds the first
// circuits, so Start routinely takes tens of seconds and can take minutes.
type TorClient struct {
	socksListen    string
	startupTimeout time.Duration

	mu        sync.Mutex
	process   *tornago.TorProcess
	socksAddr string
}

// NewTorClient returns a TorClient that will listen for SOCKS on
// 127.0.0.1:socksPort. It satisfies ClientFactory.
func NewTorClient(socksPort int, startupTimeout time.Duration) Client {
	return &TorClient{
		socksListen:    fmt.Sprintf("127.0.0.1:%d", socksPort),
		startupTimeout: startupTimeout,
	}
}

// Start launches the Tor daemon and waits for it to bootstrap. If ctx ends
// first, Start returns ctx.Err() and the daemon is stopped once it comes up.
func (c *TorClient) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.process != nil {
		return nil
	}

	launchCfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(c.socksListen),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(c.startupTimeout),
	)
	if err != nil {
		return fmt.Errorf("tor launch config: %w", err)
	}

	type result struct {
		process *tornago.TorProcess
		err     error
	}
	done := make(chan result, 1)
	go func() {
		p, err := tornago.StartTorDaemon(launchCfg)
		done <- result{process: p, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("start tor daemon: %w", r.err)
		}
		c.process = r.process
		c.socksAddr = r.process.SocksAddr()
		return nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.process != nil {
				_ = r.process.Stop() //nolint:errcheck // best effort cleanup of an abandoned start
			}
		}()
		return ctx.Err()
	}
}

// Stop terminates the daemon. Calling it on a stopped or unstarted client is a no-op.
func (c *TorClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.process == nil {
		return nil
	}
	err := c.process.Stop()
	c.process = nil
	c.socksAddr = ""
	if err != nil {
		return fmt.Errorf("stop tor daemon: %w", err)
	}
	return nil
}

// SocksAddr returns the daemon's SOCKS address, e.g. "127.0.0.1:9060".
func (c *TorClient) SocksAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socksAddr
}

// Running reports whether the daemon is up.
func (c *TorClient) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.process != nil
}
