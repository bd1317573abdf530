// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"strconv"
	"strings"
)

// Decision is the outcome of matching a host against the network
// restriction.
type Decision int

const (
	// Deny blocks the connection.
	Deny Decision = iota

	// Allow permits the connection.
	Allow
)

// String returns the string representation of a Decision.
func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Decide evaluates (host, port) against the restriction:
//
//  1. any denied pattern matching the host denies,
//  2. a literal "*" in the allow list allows,
//  3. any allowed pattern matching the host allows,
//  4. otherwise deny.
//
// The ask callback, when configured, is consulted by the proxy only
// when step 4 would deny; it is not part of this matcher.
func (n *NetworkRestriction) Decide(host string, port int) Decision {
	if n == nil {
		return Deny
	}
	host = normalizeHost(host)

	for _, pattern := range n.DeniedHosts {
		if MatchHost(pattern, host, port) {
			return Deny
		}
	}
	for _, pattern := range n.AllowedHosts {
		if pattern == "*" {
			return Allow
		}
	}
	for _, pattern := range n.AllowedHosts {
		if MatchHost(pattern, host, port) {
			return Allow
		}
	}
	return Deny
}

// MatchedDenyRule returns the first denied pattern matching the host,
// for violation reporting. Empty string when none matches.
func (n *NetworkRestriction) MatchedDenyRule(host string, port int) string {
	if n == nil {
		return ""
	}
	host = normalizeHost(host)
	for _, pattern := range n.DeniedHosts {
		if MatchHost(pattern, host, port) {
			return pattern
		}
	}
	return ""
}

// MatchHost reports whether a host pattern matches the host. Patterns
// are lowercased hosts, optionally carrying a ":port" suffix that is
// compared only when present:
//
//	*             any host
//	*.suffix      hosts with at least one label before suffix; the
//	              bare suffix itself does NOT match, and neither does
//	              "evil-suffix" (the boundary is the dot)
//	exact         exact string match
//
// Subdomain depth is unbounded: "*.github.com" matches
// "a.b.c.github.com".
func MatchHost(pattern, host string, port int) bool {
	pattern = normalizeHost(pattern)
	if pattern == "" {
		return false
	}

	patternHost, patternPort, hasPort := splitHostPort(pattern)
	if hasPort && port != 0 && patternPort != port {
		return false
	}

	if patternHost == "*" {
		return true
	}
	if suffix, ok := strings.CutPrefix(patternHost, "*."); ok {
		// At least one label must precede the suffix; the bare suffix
		// does not match.
		return strings.HasSuffix(host, "."+suffix)
	}
	return host == patternHost
}

// splitHostPort splits an optional ":port" suffix off a host pattern.
// Returns hasPort false when no valid numeric port is present, which
// also covers IPv6 literals and bare hosts.
func splitHostPort(pattern string) (host string, port int, hasPort bool) {
	index := strings.LastIndexByte(pattern, ':')
	if index < 0 || strings.Contains(pattern[index+1:], "]") {
		return pattern, 0, false
	}
	parsed, err := strconv.Atoi(pattern[index+1:])
	if err != nil || parsed < 1 || parsed > 65535 {
		return pattern, 0, false
	}
	return pattern[:index], parsed, true
}
