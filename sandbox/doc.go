// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox compiles declarative policy into OS enforcement and
// wraps shell commands to run under it.
//
// The central type is [Manager], a process-wide singleton that owns the
// policy snapshot, the filtering proxy, and the violation store. A
// caller configures it once ([Manager.Initialize]), then asks it to
// wrap arbitrary shell commands ([Manager.WrapWithSandbox]); the
// returned string, executed by the caller, runs the command under the
// platform's enforcement. [Manager.UpdateConfig] replaces the policy
// snapshot atomically: future wrappers and in-flight proxy decisions
// pick up the new policy without restarting sandboxed processes.
//
// Enforcement is platform-dispatched ([Platform]):
//
//   - macOS: a Seatbelt SBPL profile ([ProfileBuilder]) consumed by
//     sandbox-exec. The profile denies by default and allows
//     selectively; for every read-denied path it also denies
//     file-write-unlink on the path and every ancestor up to /, since
//     Seatbelt's file-read* class does not cover rename(2) and a
//     single mv of an ancestor would otherwise expose the protected
//     file at a readable location.
//   - Linux: a bubblewrap invocation ([JailBuilder]) building a fresh
//     mount namespace with / bound read-only, write-allow paths bound
//     read-write, deny-within-allow paths rebound read-only on top,
//     and a pre-compiled seccomp BPF filter ([SeccompResolver])
//     attached via fd redirect. The network namespace is kept when
//     network restriction is active so the loopback proxy stays
//     reachable.
//
// When network restriction is active the wrapper exports HTTP_PROXY
// and HTTPS_PROXY pointing at the manager's proxy even when the allow
// list is empty, so a later UpdateConfig can open access without
// re-wrapping the command.
//
// [Validator] performs pre-flight checks, [Capabilities] probes what
// the host can enforce, and [EscapeTestRunner] verifies containment by
// running a battery of escape attempts through a wrapped shell.
package sandbox
