// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"errors"
	"testing"
)

func TestNormalizeRejectsBothReadModes(t *testing.T) {
	input := &Input{
		Filesystem: FilesystemInput{
			DenyRead:  []string{"/a"},
			AllowRead: []string{"/b"},
		},
	}
	_, err := input.Normalize()
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestNormalizeRejectsRelativePatterns(t *testing.T) {
	input := &Input{
		Filesystem: FilesystemInput{DenyRead: []string{"relative/path"}},
	}
	if _, err := input.Normalize(); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestNormalizeReadModes(t *testing.T) {
	denyOnly, err := (&Input{
		Filesystem: FilesystemInput{DenyRead: []string{"/t/denied", "/t/denied"}},
	}).Normalize()
	if err != nil {
		t.Fatal(err)
	}
	if denyOnly.Read.Mode != ReadDenyOnly {
		t.Errorf("mode = %v, want deny-only", denyOnly.Read.Mode)
	}
	if len(denyOnly.Read.Deny) != 1 {
		t.Errorf("duplicates not removed: %v", denyOnly.Read.Deny)
	}

	allowOnly, err := (&Input{
		Filesystem: FilesystemInput{
			AllowRead:           []string{"/t/a"},
			DenyReadWithinAllow: []string{"/t/a/.secrets"},
		},
	}).Normalize()
	if err != nil {
		t.Fatal(err)
	}
	if allowOnly.Read.Mode != ReadAllowOnly {
		t.Errorf("mode = %v, want allow-only", allowOnly.Read.Mode)
	}
}

func TestNormalizeEmptyAllowedDomainsIsRestriction(t *testing.T) {
	snapshot, err := (&Input{
		Network: NetworkInput{AllowedDomains: []string{}},
	}).Normalize()
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.Network == nil {
		t.Fatal("explicit empty allowedDomains must produce a network restriction")
	}
	if !snapshot.NetworkRestricted() {
		t.Error("empty allow list is still a restriction (deny all)")
	}
	if snapshot.Network.AllowedHosts == nil {
		t.Error("stored policy must keep the explicit empty set")
	}
}

func TestNormalizeUnrestrictedNetwork(t *testing.T) {
	snapshot, err := (&Input{
		Network: NetworkInput{
			AllowedDomains:      []string{},
			UnrestrictedNetwork: true,
		},
	}).Normalize()
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.NetworkRestricted() {
		t.Error("unrestricted network must bypass proxying")
	}
}

func TestNormalizeLowercasesHosts(t *testing.T) {
	snapshot, err := (&Input{
		Network: NetworkInput{AllowedDomains: []string{"Example.COM", "*.GitHub.com"}},
	}).Normalize()
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.Network.AllowedHosts[0] != "example.com" {
		t.Errorf("host not lowercased: %v", snapshot.Network.AllowedHosts)
	}
	if snapshot.Network.AllowedHosts[1] != "*.github.com" {
		t.Errorf("pattern not lowercased: %v", snapshot.Network.AllowedHosts)
	}
}

func TestSnapshotEqualAndHash(t *testing.T) {
	build := func() *Snapshot {
		snapshot, err := (&Input{
			Network: NetworkInput{AllowedDomains: []string{"example.com"}},
			Filesystem: FilesystemInput{
				AllowWrite: []string{"/workspace"},
				DenyWrite:  []string{"/workspace/.git/hooks"},
			},
		}).Normalize()
		if err != nil {
			t.Fatal(err)
		}
		return snapshot
	}

	a, b := build(), build()
	if !a.Equal(b) {
		t.Error("identically constructed snapshots must be equal")
	}
	if a.Hash() != b.Hash() {
		t.Error("hash must be deterministic")
	}

	c := build()
	c.Write.Allow = []string{"/elsewhere"}
	if a.Equal(c) {
		t.Error("differing snapshots must not be equal")
	}
	if a.NetworkHash() != c.NetworkHash() {
		t.Error("network hash must not change when only filesystem rules change")
	}
}

func TestNormalizeWriteRestriction(t *testing.T) {
	snapshot, err := (&Input{
		Filesystem: FilesystemInput{AllowWrite: []string{}},
	}).Normalize()
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.Write != nil {
		// A nil AllowWrite and nil DenyWrite means no write restriction;
		// but an explicit empty slice came through as AllowWrite != nil.
		if len(snapshot.Write.Allow) != 0 {
			t.Errorf("unexpected allow set: %v", snapshot.Write.Allow)
		}
	}

	none, err := (&Input{}).Normalize()
	if err != nil {
		t.Fatal(err)
	}
	if none.Write != nil || none.Read != nil || none.Network != nil {
		t.Error("empty input must normalize to an unrestricted snapshot")
	}
}
