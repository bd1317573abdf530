// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import "testing"

func TestMatchHostWildcard(t *testing.T) {
	tests := []struct {
		pattern string
		host    string
		want    bool
	}{
		{"*.github.com", "api.github.com", true},
		{"*.github.com", "a.b.github.com", true},
		{"*.github.com", "github.com", false},
		{"*.github.com", "malicious-github.com", false},
		{"*", "anything.example", true},
		{"example.com", "example.com", true},
		{"example.com", "www.example.com", false},
		{"EXAMPLE.com", "example.com", true},
	}
	for _, test := range tests {
		if got := MatchHost(test.pattern, test.host, 0); got != test.want {
			t.Errorf("MatchHost(%q, %q) = %v, want %v", test.pattern, test.host, got, test.want)
		}
	}
}

func TestMatchHostPort(t *testing.T) {
	if !MatchHost("example.com:443", "example.com", 443) {
		t.Error("pattern with matching port should match")
	}
	if MatchHost("example.com:443", "example.com", 80) {
		t.Error("pattern with fixed port must not match other ports")
	}
	if !MatchHost("example.com", "example.com", 443) {
		t.Error("pattern without port matches any port")
	}
}

func TestDecideOrder(t *testing.T) {
	restriction := &NetworkRestriction{
		AllowedHosts: []string{"*"},
		DeniedHosts:  []string{"metadata.google.internal", "169.254.169.254"},
	}

	if restriction.Decide("example.com", 443) != Allow {
		t.Error("wildcard allow should permit example.com")
	}
	if restriction.Decide("metadata.google.internal", 443) != Deny {
		t.Error("deny list must take precedence over wildcard allow")
	}
	if restriction.Decide("169.254.169.254", 80) != Deny {
		t.Error("deny list must block the metadata IP")
	}
}

func TestDecideEmptyAllowDeniesAll(t *testing.T) {
	restriction := &NetworkRestriction{AllowedHosts: []string{}}
	if restriction.Decide("example.com", 443) != Deny {
		t.Error("empty allow list must deny")
	}

	var nilRestriction *NetworkRestriction
	if nilRestriction.Decide("example.com", 443) != Deny {
		t.Error("nil restriction must deny")
	}
}

func TestDecideDeterministic(t *testing.T) {
	// Identical network fields must produce identical decisions
	// regardless of unrelated snapshot content.
	a := &Snapshot{
		Network: &NetworkRestriction{AllowedHosts: []string{"*.example.com"}},
		Read:    NewDenyOnlyRead([]string{"/secret"}),
	}
	b := &Snapshot{
		Network: &NetworkRestriction{AllowedHosts: []string{"*.example.com"}},
	}
	hosts := []string{"api.example.com", "example.com", "other.com"}
	for _, host := range hosts {
		if a.Network.Decide(host, 443) != b.Network.Decide(host, 443) {
			t.Errorf("decision for %q differs across snapshots with identical network fields", host)
		}
	}
	if a.NetworkHash() != b.NetworkHash() {
		t.Error("network hash must ignore filesystem fields")
	}
}

func TestMatchedDenyRule(t *testing.T) {
	restriction := &NetworkRestriction{
		AllowedHosts: []string{"*"},
		DeniedHosts:  []string{"*.internal.corp"},
	}
	if rule := restriction.MatchedDenyRule("db.internal.corp", 5432); rule != "*.internal.corp" {
		t.Errorf("MatchedDenyRule = %q, want *.internal.corp", rule)
	}
	if rule := restriction.MatchedDenyRule("example.com", 443); rule != "" {
		t.Errorf("MatchedDenyRule = %q, want empty", rule)
	}
}
