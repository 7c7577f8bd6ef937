// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/txthinking/socks5"
)

// SOCKSServer is a no-auth SOCKS5 CONNECT server standing in for the overlay
// client's local listener. It records every requested destination exactly as
// the client sent it, so tests can tell hostnames from pre-resolved IPs.
type SOCKSServer struct {
	ln    net.Listener
	hosts map[string]string

	mu       sync.Mutex
	closed   bool
	accepted int
	requests []string
	conns    map[net.Conn]struct{}

	wg sync.WaitGroup
}

// StartSOCKSServer listens on 127.0.0.1:0. hosts maps requested hostnames to
// the host actually dialed, playing the role of the overlay's remote resolver.
// The server is closed when the test ends.
func StartSOCKSServer(t *testing.T, hosts map[string]string) *SOCKSServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &SOCKSServer{
		ln:    ln,
		hosts: hosts,
		conns: make(map[net.Conn]struct{}),
	}

	s.wg.Go(s.serve)
	t.Cleanup(s.Close)
	return s
}

// Addr returns the listener address as host:port.
func (s *SOCKSServer) Addr() string {
	return s.ln.Addr().String()
}

// Port returns the listener port.
func (s *SOCKSServer) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Accepted returns how many client connections reached the server.
func (s *SOCKSServer) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Requests returns the CONNECT destinations received so far.
func (s *SOCKSServer) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Close stops the listener and drops open connections.
func (s *SOCKSServer) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *SOCKSServer) serve() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = c.Close()
			return
		}
		s.accepted++
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Go(func() {
			defer s.forget(c)
			_ = s.handle(c)
		})
	}
}

func (s *SOCKSServer) forget(c net.Conn) {
	_ = c.Close()
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *SOCKSServer) handle(c net.Conn) error {
	if _, err := socks5.NewNegotiationRequestFrom(c); err != nil {
		return err
	}
	if _, err := socks5.NewNegotiationReply(socks5.MethodNone).WriteTo(c); err != nil {
		return err
	}

	req, err := socks5.NewRequestFrom(c)
	if err != nil {
		return err
	}
	if req.Cmd != socks5.CmdConnect {
		_, _ = socks5.NewReply(socks5.RepCommandNotSupported, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c)
		return nil
	}

	requested := req.Address()
	s.mu.Lock()
	s.requests = append(s.requests, requested)
	s.mu.Unlock()

	host, port, err := net.SplitHostPort(requested)
	if err != nil {
		return err
	}
	if mapped, ok := s.hosts[host]; ok {
		host = mapped
	}

	dst, err := net.Dial("tcp", net.JoinHostPort(host, port))
	if err != nil {
		_, _ = socks5.NewReply(socks5.RepHostUnreachable, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c)
		return nil
	}
	defer dst.Close()

	a, addr, bport, err := socks5.ParseAddress(dst.LocalAddr().String())
	if err != nil {
		return err
	}
	if a == socks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := socks5.NewReply(socks5.RepSuccess, a, addr, bport).WriteTo(c); err != nil {
		return err
	}

	go func() {
		_, _ = io.Copy(dst, c)
		_ = dst.Close()
	}()
	_, _ = io.Copy(c, dst)
	return nil
}

// HostPort splits an httptest server URL host into host and numeric port.
func HostPort(t *testing.T, hostport string) (string, int) {
	t.Helper()
	host, p, err := net.SplitHostPort(hostport)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}
