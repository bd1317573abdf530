// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/corral-foundation/corral/lib/netutil"
)

// dialTimeout bounds the connection to the proxy's TCP listener.
const dialTimeout = 5 * time.Second

// Bridge forwards UNIX-socket connections to a TCP address.
type Bridge struct {
	// SocketPath is the UNIX socket to listen on. A stale socket file
	// is removed on Start.
	SocketPath string

	// TargetAddr is the TCP address connections are forwarded to,
	// normally the filtering proxy's loopback listener.
	TargetAddr string

	// Logger receives structured log output. If nil, slog.Default()
	// is used. Per-connection events are logged at Debug level.
	Logger *slog.Logger

	listener    net.Listener
	done        chan struct{}
	connections sync.WaitGroup
}

func (b *Bridge) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// Start binds the socket and begins forwarding. It returns once the
// listener is accepting; the bridge runs until Stop.
func (b *Bridge) Start() error {
	if b.SocketPath == "" {
		return fmt.Errorf("bridge: SocketPath is required")
	}
	if b.TargetAddr == "" {
		return fmt.Errorf("bridge: TargetAddr is required")
	}

	// Validate the target before accepting anything.
	probeConnection, err := net.DialTimeout("tcp", b.TargetAddr, dialTimeout)
	if err != nil {
		return fmt.Errorf("bridge: target %s not reachable: %w", b.TargetAddr, err)
	}
	probeConnection.Close()

	os.Remove(b.SocketPath)
	listener, err := net.Listen("unix", b.SocketPath)
	if err != nil {
		return fmt.Errorf("bridge: failed to listen on %s: %w", b.SocketPath, err)
	}
	b.listener = listener
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		b.acceptLoop()
	}()

	b.logger().Info("proxy socket bridge started",
		"socket_path", b.SocketPath,
		"target_addr", b.TargetAddr,
	)
	return nil
}

// Stop closes the listener, severs forwarded connections, and removes
// the socket file.
func (b *Bridge) Stop() {
	if b.listener != nil {
		b.listener.Close()
	}
	if b.done != nil {
		<-b.done
	}
	os.Remove(b.SocketPath)
}

// acceptLoop accepts until the listener closes, waiting for in-flight
// forwards so Stop observes full quiescence.
func (b *Bridge) acceptLoop() {
	var connectionCount int64
	for {
		connection, err := b.listener.Accept()
		if err != nil {
			b.connections.Wait()
			return
		}
		connectionCount++
		connectionID := connectionCount
		b.connections.Add(1)
		go func() {
			defer b.connections.Done()
			b.forward(connection, connectionID)
		}()
	}
}

func (b *Bridge) forward(socketConnection net.Conn, connectionID int64) {
	defer socketConnection.Close()

	logger := b.logger().With("connection_id", connectionID)
	targetConnection, err := net.DialTimeout("tcp", b.TargetAddr, dialTimeout)
	if err != nil {
		logger.Error("failed to reach proxy target", "error", err)
		return
	}

	logger.Debug("forwarding connection")
	if err := netutil.Splice(socketConnection, targetConnection); err != nil {
		logger.Debug("forward ended with error", "error", err)
	}
}
