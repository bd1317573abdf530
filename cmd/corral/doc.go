// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

// corral wraps shell commands in a policy-driven process sandbox.
//
// Usage:
//
//	corral run [flags] -- <command>
//	corral wrap [flags] -- <command>
//	corral check [flags]
//	corral test [flags]
//	corral violations [flags]
package main
