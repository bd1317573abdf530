// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

// Package proxy implements the filtering HTTP/HTTPS proxy that is the
// sole egress path for sandboxed processes under network restriction.
//
// [Server] listens on a loopback TCP port. Each accepted connection is
// handled independently: the request head is read with a bounded
// buffer, the target host is extracted (the CONNECT request line for
// TLS tunnels, the Host header for plain HTTP), and the current policy
// snapshot decides allow or deny. Allowed CONNECTs get a
// "200 Connection Established" reply and a bidirectional byte splice;
// allowed plain requests are forwarded verbatim, headers and body
// untouched. Denied requests get a 403 whose body carries the literal
// phrase "blocked by network allowlist" and a violation record.
//
// The snapshot lives behind an atomic pointer: reads in the connection
// hot path are wait-free, and [Server.UpdatePolicy] replaces it without
// blocking in-flight decisions. Decisions made after UpdatePolicy
// returns see the new policy; decisions racing with it may see either.
//
// An ask callback, when configured, is consulted only where the
// matcher would deny; its answer (within a 30 second default timeout)
// becomes the decision. Callback errors and timeouts deny. One
// connection awaiting the callback never blocks another.
package proxy
