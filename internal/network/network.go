// Package network provides the peer network subsystem the relay reports on.
// Peer discovery internals live behind the Subsystem interface.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrNotRunning is returned by Init when called on a stopped subsystem.
var ErrNotRunning = errors.New("network subsystem stopped")

// Peer describes one known peer node.
type Peer struct {
	Fingerprint string    `json:"fingerprint"`
	Address     string    `json:"address"`
	Load        *int      `json:"load,omitempty"` // percent; nil when unreported
	LastSeen    time.Time `json:"lastSeen"`
}

// Subsystem is the opaque network/database layer started after the transport
// and stopped before it.
type Subsystem interface {
	Init(ctx context.Context) error
	Stop(ctx context.Context) error
	Peers() []Peer
}

// Static is a Subsystem whose peers are a fixed seed list.
type Static struct {
	seeds  []Peer
	logger *slog.Logger

	mu      sync.RWMutex
	running bool
	stopped bool
	peers   []Peer
}

// NewStatic parses bootstrap entries of the form "fingerprint@address" or a
// bare address. Bare addresses use the address itself as the fingerprint.
func NewStatic(bootstrap []string, logger *slog.Logger) (*Static, error) {
	seeds := make([]Peer, 0, len(bootstrap))
	seen := make(map[string]bool, len(bootstrap))
	for _, entry := range bootstrap {
		p, err := ParsePeer(entry)
		if err != nil {
			return nil, err
		}
		if seen[p.Fingerprint] {
			continue
		}
		seen[p.Fingerprint] = true
		seeds = append(seeds, p)
	}
	return &Static{
		seeds:  seeds,
		logger: logger.With("component", "network"),
	}, nil
}

// ParsePeer parses one bootstrap entry, "fingerprint@address" or a bare address.
func ParsePeer(entry string) (Peer, error) {
	entry = strings.TrimSpace(entry)
	fingerprint, addr, found := strings.Cut(entry, "@")
	if !found {
		addr = entry
		fingerprint = ""
	}
	if addr == "" {
		return Peer{}, fmt.Errorf("bootstrap node %q: missing address", entry)
	}
	if found && fingerprint == "" {
		return Peer{}, fmt.Errorf("bootstrap node %q: empty fingerprint", entry)
	}
	if strings.Contains(addr, "://") {
		u, err := url.Parse(addr)
		if err != nil || u.Host == "" {
			return Peer{}, fmt.Errorf("bootstrap node %q: invalid address", entry)
		}
	}
	if fingerprint == "" {
		fingerprint = addr
	}
	return Peer{Fingerprint: fingerprint, Address: addr}, nil
}

// Init marks the seed peers as connected. Calling it again is a no-op.
func (s *Static) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrNotRunning
	}
	if s.running {
		return nil
	}

	now := time.Now()
	s.peers = make([]Peer, len(s.seeds))
	for i, p := range s.seeds {
		p.LastSeen = now
		s.peers[i] = p
	}
	s.running = true

	s.logger.Info("network subsystem started", "peers", len(s.peers))
	return nil
}

// Stop drops all peers. It is idempotent.
func (s *Static) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.stopped = true
		return nil
	}
	s.running = false
	s.stopped = true
	s.peers = nil

	s.logger.Info("network subsystem stopped")
	return nil
}

// Peers returns a copy of the connected peers, empty unless running.
func (s *Static) Peers() []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Peer, len(s.peers))
	copy(out, s.peers)
	return out
}
