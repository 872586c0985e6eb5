// Package socks5test provides an in-process SOCKS5 proxy for tests.
//
// The server implements the no-authentication CONNECT subset Tor exposes on
// its SocksPort and relays traffic directly to the requested address, so a
// test can stand in for a Tor backend without a Tor daemon.
package socks5test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	socksVersion    = 0x05
	authNone        = 0x00
	cmdConnect      = 0x01
	addrIPv4        = 0x01
	addrDomain      = 0x03
	addrIPv6        = 0x04
	replySucceeded  = 0x00
	replyFailure    = 0x01
	replyHostUnrch  = 0x04
	replyCmdNotSupp = 0x07

	dialTimeout = 5 * time.Second
)

// Server is a SOCKS5 proxy listening on 127.0.0.1.
type Server struct {
	ln net.Listener

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	connects []string
	closed   bool

	wg sync.WaitGroup
}

// NewServer starts a server on an ephemeral port. It is closed by tb.Cleanup.
func NewServer(tb testing.TB) *Server {
	tb.Helper()

	s, err := Listen("127.0.0.1:0")
	if err != nil {
		tb.Fatalf("socks5test: failed to listen: %v", err)
	}
	tb.Cleanup(func() { _ = s.Close() })
	return s
}

// Listen starts a server on addr.
func Listen(addr string) (*Server, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:    ln,
		conns: make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// Addr returns the "host:port" the server listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr()) //nolint:errcheck // listener address is always host:port
	n, _ := strconv.Atoi(port)                //nolint:errcheck // see above
	return n
}

// Connects returns the destination of every CONNECT request received so far.
func (s *Server) Connects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.connects))
	copy(out, s.connects)
	return out
}

// Close stops the listener, drops open connections and waits for handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handle(conn)
		}()
	}
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	_ = c.Close()
}

func (s *Server) handle(conn net.Conn) {
	target, err := s.handshake(conn)
	if err != nil {
		return
	}

	// Onion services are never reachable from a plain relay.
	if host, _, _ := net.SplitHostPort(target); strings.HasSuffix(host, ".onion") {
		_ = writeReply(conn, replyHostUnrch)
		return
	}

	var d net.Dialer
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	upstream, err := d.DialContext(ctx, "tcp", target)
	cancel()
	if err != nil {
		_ = writeReply(conn, replyHostUnrch)
		return
	}
	if !s.track(upstream) {
		_ = upstream.Close()
		return
	}
	defer s.untrack(upstream)

	if err := writeReply(conn, replySucceeded); err != nil {
		return
	}

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(upstream, conn)
		closeWrite(upstream)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(conn, upstream)
		closeWrite(conn)
		done <- struct{}{}
	}()
	<-done
	<-done
}

// handshake performs method negotiation and reads the CONNECT request.
func (s *Server) handshake(conn net.Conn) (string, error) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		return "", err
	}
	if header[0] != socksVersion {
		return "", errors.New("unsupported SOCKS version")
	}
	methods := make([]byte, header[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return "", err
	}
	if _, err := conn.Write([]byte{socksVersion, authNone}); err != nil {
		return "", err
	}

	req := make([]byte, 4)
	if _, err := io.ReadFull(conn, req); err != nil {
		return "", err
	}
	if req[1] != cmdConnect {
		_ = writeReply(conn, replyCmdNotSupp)
		return "", errors.New("unsupported command")
	}

	var host string
	switch req[3] {
	case addrIPv4:
		ip := make([]byte, net.IPv4len)
		if _, err := io.ReadFull(conn, ip); err != nil {
			return "", err
		}
		host = net.IP(ip).String()
	case addrIPv6:
		ip := make([]byte, net.IPv6len)
		if _, err := io.ReadFull(conn, ip); err != nil {
			return "", err
		}
		host = net.IP(ip).String()
	case addrDomain:
		n := make([]byte, 1)
		if _, err := io.ReadFull(conn, n); err != nil {
			return "", err
		}
		name := make([]byte, n[0])
		if _, err := io.ReadFull(conn, name); err != nil {
			return "", err
		}
		host = string(name)
	default:
		_ = writeReply(conn, replyFailure)
		return "", errors.New("unsupported address type")
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(conn, portBuf); err != nil {
		return "", err
	}
	target := net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(portBuf))))

	s.mu.Lock()
	s.connects = append(s.connects, target)
	s.mu.Unlock()

	return target, nil
}

func writeReply(conn net.Conn, code byte) error {
	_, err := conn.Write([]byte{socksVersion, code, 0x00, addrIPv4, 0, 0, 0, 0, 0, 0})
	return err
}

func closeWrite(c net.Conn) {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
		return
	}
	_ = c.Close()
}
