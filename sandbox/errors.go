// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"os/exec"
)

var (
	// ErrPlatformUnsupported is returned when no sandbox mechanism
	// exists for the current host.
	ErrPlatformUnsupported = errors.New("sandbox: platform unsupported")

	// ErrAlreadyInitialized is returned when Initialize is called a
	// second time with a different policy and no intervening Reset.
	ErrAlreadyInitialized = errors.New("sandbox: manager already initialized")

	// ErrNotInitialized is returned by operations that require a
	// configured manager.
	ErrNotInitialized = errors.New("sandbox: manager not initialized")

	// ErrProxyBindFailed wraps a listener bind failure during
	// Initialize or UpdateConfig.
	ErrProxyBindFailed = errors.New("sandbox: proxy bind failed")

	// ErrSeccompBlobMissing is returned on the first Linux wrap when
	// no BPF artifact matches the host ABI.
	ErrSeccompBlobMissing = errors.New("sandbox: seccomp filter artifact missing")
)

// IsExitError extracts the exit code when err wraps a process exit
// status. The wrapped command's own exit code propagates to the caller
// unchanged.
func IsExitError(err error) (int, bool) {
	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return exitError.ExitCode(), true
	}
	return 0, false
}
