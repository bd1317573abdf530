// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy defines the normalized sandbox policy and the host
// matcher consulted by the filtering proxy.
//
// A [Snapshot] is an immutable value describing read, write, and network
// restrictions. Snapshots are produced by [Input.Normalize] from the
// declarative configuration shape and are replaced wholesale on every
// update: a wrapper emitted at time t reflects the snapshot at t, a
// proxy decision at time t' reflects the snapshot at t'. Nothing mutates
// a snapshot after construction.
//
// The stored snapshot keeps explicit empty sets (an empty network allow
// list means "deny all", which callers must be able to distinguish from
// "no restriction"); the getter-normalization rule that surfaces empty
// collections as absent lives in the sandbox manager, not here.
//
// [Snapshot.Hash] and [Snapshot.NetworkHash] expose cheap blake3 content
// hashes so the proxy can skip re-resolution when an update did not
// change the network fields.
package policy
