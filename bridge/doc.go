// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge exposes the filtering proxy's TCP listener on a
// UNIX-domain socket.
//
// Some jails cannot reach loopback TCP (tooling restricted to local
// sockets, seccomp variants without AF_INET) but can open a socket file
// bind-mounted into the mount namespace. [Bridge] listens on such a
// socket and forwards each connection byte-for-byte to the proxy's TCP
// port; the proxy remains the single decision point.
package bridge
