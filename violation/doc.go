// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

// Package violation records policy deny events.
//
// [Store] is a bounded in-memory ring (default 1024 records) with a
// single-producer broadcast to subscribers; when a subscriber falls
// behind its channel drops the oldest pending event rather than
// blocking the producer. The ring itself drops its oldest record on
// overflow. Nothing is persisted beyond an optional ephemeral JSONL
// log file that is removed on reset.
//
// [Streamer] exposes the store over a Unix socket, writing
// CBOR-encoded records to each connected observer.
package violation
