// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package violation

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the default ring capacity.
const DefaultCapacity = 1024

// Kind classifies a violation.
type Kind string

const (
	KindNetwork Kind = "network"
	KindRead    Kind = "read"
	KindWrite   Kind = "write"
)

// Record is a single deny event.
type Record struct {
	// ID uniquely identifies the record across the manager's lifetime.
	ID string `json:"id" cbor:"1,keyasint"`

	// Time is when the deny was decided.
	Time time.Time `json:"time" cbor:"2,keyasint"`

	// Kind is the class of the denied operation.
	Kind Kind `json:"kind" cbor:"3,keyasint"`

	// Target is the denied host (network) or path (read/write).
	Target string `json:"target" cbor:"4,keyasint"`

	// MatchedRule is the policy pattern that caused the deny, when one
	// matched explicitly (a default deny leaves it empty).
	MatchedRule string `json:"matched_rule,omitempty" cbor:"5,keyasint,omitempty"`

	// ProcessHint names the peer when known (e.g. the proxy records
	// the client's remote address).
	ProcessHint string `json:"process_hint,omitempty" cbor:"6,keyasint,omitempty"`
}

// Store is a bounded ring of recent deny events with subscription.
// All methods are safe for concurrent use.
type Store struct {
	mutex       sync.Mutex
	records     []Record
	capacity    int
	start       int // index of the oldest record
	count       int
	subscribers map[int]chan Record
	nextSubID   int
	logFile     *os.File
	logPath     string
}

// NewStore creates a store with the given ring capacity. A capacity of
// zero or less uses DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		records:     make([]Record, capacity),
		capacity:    capacity,
		subscribers: make(map[int]chan Record),
	}
}

// SetLogPath enables the ephemeral JSONL log. The file is created
// immediately and truncated if it exists; Close removes it.
func (s *Store) SetLogPath(path string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.logFile != nil {
		s.logFile.Close()
		os.Remove(s.logPath)
		s.logFile = nil
	}
	if path == "" {
		s.logPath = ""
		return nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	s.logFile = file
	s.logPath = path
	return nil
}

// Append records a deny event, assigning it an ID and timestamp if the
// caller left them empty. Overflow drops the oldest record. Subscribers
// with full channels lose their oldest pending event, never blocking
// the producer.
func (s *Store) Append(record Record) Record {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Time.IsZero() {
		record.Time = time.Now().UTC()
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	index := (s.start + s.count) % s.capacity
	if s.count == s.capacity {
		s.start = (s.start + 1) % s.capacity
	} else {
		s.count++
	}
	s.records[index] = record

	if s.logFile != nil {
		if line, err := json.Marshal(record); err == nil {
			s.logFile.Write(append(line, '\n'))
		}
	}

	for _, subscriber := range s.subscribers {
		select {
		case subscriber <- record:
		default:
			// Drop the subscriber's oldest pending event to make room.
			select {
			case <-subscriber:
			default:
			}
			select {
			case subscriber <- record:
			default:
			}
		}
	}
	return record
}

// Recent returns up to limit most-recent records, oldest first. A limit
// of zero or less returns everything retained.
func (s *Store) Recent(limit int) []Record {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if limit <= 0 || limit > s.count {
		limit = s.count
	}
	result := make([]Record, 0, limit)
	for i := s.count - limit; i < s.count; i++ {
		result = append(result, s.records[(s.start+i)%s.capacity])
	}
	return result
}

// Len returns the number of retained records.
func (s *Store) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.count
}

// Subscribe returns a channel receiving future records and a cancel
// function. The channel is buffered; slow consumers lose their oldest
// pending events.
func (s *Store) Subscribe() (<-chan Record, func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	channel := make(chan Record, 64)
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = channel

	cancel := func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		if _, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(channel)
		}
	}
	return channel, cancel
}

// Close drops all subscribers, clears the ring, and removes the
// ephemeral log file.
func (s *Store) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for id, subscriber := range s.subscribers {
		delete(s.subscribers, id)
		close(subscriber)
	}
	s.start, s.count = 0, 0
	if s.logFile != nil {
		s.logFile.Close()
		os.Remove(s.logPath)
		s.logFile = nil
		s.logPath = ""
	}
}
