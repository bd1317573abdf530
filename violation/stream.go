// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package violation

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Streamer serves violation records to external observers over a Unix
// socket. Each accepted connection first receives the retained ring
// contents, then live records as they arrive, all CBOR-encoded.
type Streamer struct {
	store      *Store
	socketPath string
	logger     *slog.Logger

	listener    net.Listener
	connections sync.WaitGroup
	done        chan struct{}
	stop        chan struct{}
}

// NewStreamer creates a streamer for the store. Start must be called
// before observers can connect.
func NewStreamer(store *Store, socketPath string, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{store: store, socketPath: socketPath, logger: logger}
}

// Start binds the Unix socket and begins accepting observers. A stale
// socket file from a previous run is removed first.
func (s *Streamer) Start() error {
	if s.socketPath == "" {
		return fmt.Errorf("streamer: socket path is required")
	}
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("streamer: listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener
	s.done = make(chan struct{})
	s.stop = make(chan struct{})

	go func() {
		defer close(s.done)
		s.acceptLoop()
	}()

	s.logger.Info("violation streamer started", "socket_path", s.socketPath)
	return nil
}

// Stop closes the listener and all observer connections.
func (s *Streamer) Stop() {
	if s.stop != nil {
		close(s.stop)
	}
	if s.listener != nil {
		s.listener.Close()
	}
	if s.done != nil {
		<-s.done
	}
	os.Remove(s.socketPath)
}

func (s *Streamer) acceptLoop() {
	for {
		connection, err := s.listener.Accept()
		if err != nil {
			s.connections.Wait()
			return
		}
		s.connections.Add(1)
		go func() {
			defer s.connections.Done()
			s.serveObserver(connection)
		}()
	}
}

// serveObserver replays the retained ring, then streams live records
// until the observer disconnects or the streamer stops.
func (s *Streamer) serveObserver(connection net.Conn) {
	defer connection.Close()

	encoder := cbor.NewEncoder(connection)
	for _, record := range s.store.Recent(0) {
		if err := encoder.Encode(record); err != nil {
			return
		}
	}

	live, cancel := s.store.Subscribe()
	defer cancel()
	for {
		select {
		case record, ok := <-live:
			if !ok {
				return
			}
			if err := encoder.Encode(record); err != nil {
				return
			}
		case <-s.stop:
			return
		}
	}
}
