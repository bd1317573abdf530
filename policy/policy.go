// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// ReadMode selects the semantics of a read restriction.
type ReadMode int

const (
	// ReadDenyOnly is maximally permissive: everything is readable
	// except the deny patterns. An empty deny set means no restriction.
	ReadDenyOnly ReadMode = iota

	// ReadAllowOnly is maximally restrictive: only the allow patterns
	// (plus the implicit system paths appended at compile time) are
	// readable. An empty allow set leaves only the implicit paths.
	ReadAllowOnly
)

// String returns the string representation of a ReadMode.
func (m ReadMode) String() string {
	switch m {
	case ReadDenyOnly:
		return "deny-only"
	case ReadAllowOnly:
		return "allow-only"
	default:
		return "unknown"
	}
}

// ReadRestriction describes which paths the sandboxed process may read.
type ReadRestriction struct {
	Mode ReadMode

	// Deny lists patterns denied in DenyOnly mode. Order is preserved
	// from the input; duplicates are dropped.
	Deny []string

	// Allow lists patterns readable in AllowOnly mode.
	Allow []string

	// DenyWithinAllow carves denied patterns out of Allow. Meaningful
	// only in AllowOnly mode.
	DenyWithinAllow []string
}

// WriteRestriction describes which paths the sandboxed process may
// write. Writes are always allow-only: an empty Allow means nothing is
// writable. A nil WriteRestriction on the snapshot means no restriction.
type WriteRestriction struct {
	Allow           []string
	DenyWithinAllow []string
}

// NetworkRestriction describes which hosts the sandboxed process may
// reach through the proxy. Allow-only: a nil or empty AllowedHosts
// denies everything. A literal "*" in AllowedHosts allows any host that
// no denied pattern matches.
type NetworkRestriction struct {
	AllowedHosts []string
	DeniedHosts  []string
}

// Snapshot is an immutable normalized policy. Construct via
// [Input.Normalize] or the New* helpers; never mutate the field slices
// after construction.
type Snapshot struct {
	Read    *ReadRestriction
	Write   *WriteRestriction
	Network *NetworkRestriction

	// UnrestrictedNetwork bypasses network proxying entirely while
	// leaving filesystem rules in force.
	UnrestrictedNetwork bool
}

// NewDenyOnlyRead constructs a DenyOnly read restriction.
func NewDenyOnlyRead(deny []string) *ReadRestriction {
	return &ReadRestriction{Mode: ReadDenyOnly, Deny: dedupe(deny)}
}

// NewAllowOnlyRead constructs an AllowOnly read restriction. Both the
// allow set and the deny-within-allow set must be supplied (either may
// be empty, but the caller has to say so explicitly).
func NewAllowOnlyRead(allow, denyWithinAllow []string) *ReadRestriction {
	return &ReadRestriction{
		Mode:            ReadAllowOnly,
		Allow:           dedupe(allow),
		DenyWithinAllow: dedupe(denyWithinAllow),
	}
}

// Validate checks structural invariants of the restriction.
func (r *ReadRestriction) Validate() error {
	switch r.Mode {
	case ReadDenyOnly:
		if len(r.Allow) > 0 || len(r.DenyWithinAllow) > 0 {
			return fmt.Errorf("deny-only read restriction must not carry allow sets")
		}
	case ReadAllowOnly:
		if len(r.Deny) > 0 {
			return fmt.Errorf("allow-only read restriction must not carry a deny set")
		}
	default:
		return fmt.Errorf("unknown read mode %d", r.Mode)
	}
	return nil
}

// Equal reports structural equality of two snapshots.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.Hash() == other.Hash()
}

// Hash returns a blake3 content hash of the whole snapshot. Two
// snapshots with identical fields hash identically regardless of how
// they were constructed.
func (s *Snapshot) Hash() [32]byte {
	hasher := blake3.New()
	s.writeCanonical(hasher, true)
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}

// NetworkHash returns a blake3 hash covering only the network fields.
// The proxy compares this across updates to skip recomputing matcher
// state when only filesystem rules changed.
func (s *Snapshot) NetworkHash() [32]byte {
	hasher := blake3.New()
	s.writeCanonical(hasher, false)
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}

// writeCanonical serializes the snapshot into the hasher with
// unambiguous field framing. Section tags keep an empty set in one
// field from colliding with an empty set in another.
func (s *Snapshot) writeCanonical(hasher *blake3.Hasher, includeFilesystem bool) {
	writeSection := func(tag string, values []string) {
		hasher.WriteString(tag)
		hasher.WriteString(fmt.Sprintf("#%d;", len(values)))
		for _, value := range values {
			hasher.WriteString(fmt.Sprintf("%d:", len(value)))
			hasher.WriteString(value)
		}
	}

	if includeFilesystem {
		if s.Read != nil {
			hasher.WriteString("read/" + s.Read.Mode.String() + ";")
			writeSection("deny", s.Read.Deny)
			writeSection("allow", s.Read.Allow)
			writeSection("deny-within", s.Read.DenyWithinAllow)
		}
		if s.Write != nil {
			hasher.WriteString("write;")
			writeSection("allow", s.Write.Allow)
			writeSection("deny-within", s.Write.DenyWithinAllow)
		}
	}
	if s.Network != nil {
		hasher.WriteString("network;")
		writeSection("allowed", s.Network.AllowedHosts)
		writeSection("denied", s.Network.DeniedHosts)
	}
	if s.UnrestrictedNetwork {
		hasher.WriteString("unrestricted;")
	}
}

// NetworkRestricted reports whether the snapshot requires the filtering
// proxy: a network restriction is present and the unrestricted bypass
// is not set. An empty allow list still counts as restricted — the
// proxy must run (denying everything) so a later update can open
// access without re-wrapping commands.
func (s *Snapshot) NetworkRestricted() bool {
	return s.Network != nil && !s.UnrestrictedNetwork
}

// dedupe returns a copy of values with duplicates removed, preserving
// first-occurrence order.
func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}

// normalizeHost lowercases a host pattern and trims surrounding space.
func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}
