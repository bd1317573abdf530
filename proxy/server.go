// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corral-foundation/corral/lib/netutil"
	"github.com/corral-foundation/corral/policy"
	"github.com/corral-foundation/corral/violation"
)

// DefaultAskTimeout bounds how long a connection waits for the ask
// callback before treating the answer as deny.
const DefaultAskTimeout = 30 * time.Second

// dialTimeout bounds upstream connection establishment.
const dialTimeout = 10 * time.Second

// AskFunc is the caller-supplied permission predicate, consulted only
// when the matcher would deny. It may block (prompting a human); the
// proxy calls it off the accept path so other connections proceed.
type AskFunc func(ctx context.Context, host string, port int) (bool, error)

// Config holds configuration for creating a new Server.
type Config struct {
	// Policy is the initial snapshot. Required; must carry a network
	// restriction (the manager never starts the proxy otherwise).
	Policy *policy.Snapshot

	// Violations receives a record for every deny. Optional.
	Violations *violation.Store

	// Ask is the optional permission callback.
	Ask AskFunc

	// AskTimeout overrides DefaultAskTimeout when positive.
	AskTimeout time.Duration

	// ListenAddress overrides the default "127.0.0.1:0".
	ListenAddress string

	// Logger receives structured log output; slog.Default() when nil.
	Logger *slog.Logger
}

// Server is the filtering proxy. Create with NewServer, bind with
// Start, replace policy with UpdatePolicy, tear down with Close.
type Server struct {
	listenAddress string
	violations    *violation.Store
	ask           AskFunc
	askTimeout    time.Duration
	logger        *slog.Logger

	snapshot    atomic.Pointer[policy.Snapshot]
	networkHash [32]byte

	listener        net.Listener
	done            chan struct{}
	connections     sync.WaitGroup
	connectionCount atomic.Int64
}

// NewServer creates a proxy server. Start must be called to bind.
func NewServer(config Config) (*Server, error) {
	if config.Policy == nil {
		return nil, fmt.Errorf("proxy: policy snapshot is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	askTimeout := config.AskTimeout
	if askTimeout <= 0 {
		askTimeout = DefaultAskTimeout
	}
	listenAddress := config.ListenAddress
	if listenAddress == "" {
		listenAddress = "127.0.0.1:0"
	}

	server := &Server{
		listenAddress: listenAddress,
		violations:    config.Violations,
		ask:           config.Ask,
		askTimeout:    askTimeout,
		logger:        logger,
	}
	server.snapshot.Store(config.Policy)
	server.networkHash = config.Policy.NetworkHash()
	return server, nil
}

// Start binds the listener and begins accepting connections. The port
// is stable until Close.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.listenAddress)
	if err != nil {
		return fmt.Errorf("proxy: listen on %s: %w", s.listenAddress, err)
	}
	s.listener = listener
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.acceptLoop()
	}()

	s.logger.Info("filtering proxy started", "addr", listener.Addr().String())
	return nil
}

// Port returns the bound TCP port, or zero before Start.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	address, ok := s.listener.Addr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return address.Port
}

// UpdatePolicy atomically replaces the policy snapshot. Decisions made
// after this returns see the new snapshot. When the network fields are
// unchanged the swap is skipped entirely — the old snapshot already
// decides identically.
func (s *Server) UpdatePolicy(snapshot *policy.Snapshot) {
	if snapshot == nil {
		return
	}
	newHash := snapshot.NetworkHash()
	if newHash == s.networkHash {
		return
	}
	s.networkHash = newHash
	s.snapshot.Store(snapshot)
	s.logger.Info("proxy policy updated")
}

// Close stops the listener and severs in-flight connections. There is
// no graceful drain; sandboxed peers see a connection reset.
func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
	if s.done != nil {
		<-s.done
	}
}

// acceptLoop accepts until the listener closes, then waits for
// in-flight connection handlers so Close observes full quiescence.
func (s *Server) acceptLoop() {
	for {
		connection, err := s.listener.Accept()
		if err != nil {
			s.connections.Wait()
			return
		}
		connectionID := s.connectionCount.Add(1)
		s.connections.Add(1)
		go func() {
			defer s.connections.Done()
			s.handleConnection(connection, connectionID)
		}()
	}
}

// handleConnection serves one client connection start to finish. Per
// connection faults never propagate; the proxy outlives all of them.
func (s *Server) handleConnection(clientConnection net.Conn, connectionID int64) {
	defer clientConnection.Close()

	logger := s.logger.With("connection_id", connectionID)
	reader := bufio.NewReader(clientConnection)

	parsed, err := readRequest(reader)
	if err != nil {
		logger.Debug("request parse failed", "error", err)
		writeSimpleResponse(clientConnection, "400 Bad Request", "malformed proxy request")
		return
	}

	logger = logger.With("host", parsed.host, "port", parsed.port, "method", parsed.method)

	if !s.decide(parsed.host, parsed.port) {
		s.recordDeny(parsed.host, parsed.port, clientConnection)
		logger.Info("connection denied")
		writeSimpleResponse(clientConnection, "403 Forbidden", "blocked by network allowlist")
		return
	}

	upstreamAddress := net.JoinHostPort(parsed.host, fmt.Sprintf("%d", parsed.port))
	upstreamConnection, err := net.DialTimeout("tcp", upstreamAddress, dialTimeout)
	if err != nil {
		logger.Debug("upstream dial failed", "error", err)
		writeSimpleResponse(clientConnection, "502 Bad Gateway", "upstream unreachable")
		return
	}
	defer upstreamConnection.Close()

	if parsed.method == "CONNECT" {
		// Tunnel: acknowledge, then splice raw bytes. Whatever the
		// client pipelined after the blank line is still buffered in
		// the reader and must flow first.
		if _, err := io.WriteString(clientConnection, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
			return
		}
		logger.Debug("tunnel established")
		netutil.SpliceReaders(clientConnection, reader, upstreamConnection, upstreamConnection)
		return
	}

	// Plain HTTP: replay the head verbatim, then splice the rest in
	// both directions (request body upstream, response back).
	if _, err := upstreamConnection.Write(parsed.head); err != nil {
		writeSimpleResponse(clientConnection, "502 Bad Gateway", "upstream write failed")
		return
	}
	logger.Debug("request forwarded")
	netutil.SpliceReaders(clientConnection, reader, upstreamConnection, upstreamConnection)
}

// decide evaluates the current snapshot for (host, port), consulting
// the ask callback only where the matcher denies.
func (s *Server) decide(host string, port int) bool {
	snapshot := s.snapshot.Load()
	if snapshot.UnrestrictedNetwork {
		return true
	}
	if snapshot.Network.Decide(host, port) == policy.Allow {
		return true
	}
	if s.ask == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.askTimeout)
	defer cancel()
	allowed, err := s.ask(ctx, host, port)
	if err != nil {
		s.logger.Debug("ask callback failed", "host", host, "error", err)
		return false
	}
	return allowed
}

// recordDeny appends a network violation for the host.
func (s *Server) recordDeny(host string, port int, clientConnection net.Conn) {
	if s.violations == nil {
		return
	}
	snapshot := s.snapshot.Load()
	record := violation.Record{
		Kind:        violation.KindNetwork,
		Target:      host,
		MatchedRule: snapshot.Network.MatchedDenyRule(host, port),
	}
	if remote := clientConnection.RemoteAddr(); remote != nil {
		record.ProcessHint = remote.String()
	}
	s.violations.Append(record)
}

// writeSimpleResponse writes a minimal HTTP/1.1 response with a plain
// text body and closes nothing — the caller owns the connection.
func writeSimpleResponse(connection net.Conn, status, body string) {
	var response bytes.Buffer
	fmt.Fprintf(&response, "HTTP/1.1 %s\r\n", status)
	fmt.Fprintf(&response, "Content-Type: text/plain\r\n")
	fmt.Fprintf(&response, "Content-Length: %d\r\n", len(body))
	fmt.Fprintf(&response, "Connection: close\r\n\r\n")
	response.WriteString(body)
	connection.Write(response.Bytes())
}
