// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"os/exec"
)

// Capabilities describes what the current host can enforce.
type Capabilities struct {
	// Platform is the detected enforcement platform.
	Platform Platform

	// FileReadDeny means read-denial rules are enforceable.
	FileReadDeny bool

	// FileWriteAllow means writes can be confined to allowed paths.
	FileWriteAllow bool

	// NetworkProxy means egress can be forced through the filtering
	// proxy.
	NetworkProxy bool

	// SyscallFilter means a seccomp filter can be attached.
	SyscallFilter bool

	// RenameDefense means rename-based read bypass is blocked
	// (file-write-unlink denies on macOS, mount pinning on Linux).
	RenameDefense bool
}

// ProbeCapabilities inspects the host and reports what the platform
// can enforce. A probe never fails; missing tooling simply clears the
// corresponding capability bits.
func ProbeCapabilities() Capabilities {
	platform := DetectPlatform()
	capabilities := Capabilities{Platform: platform}

	switch platform {
	case PlatformMacos:
		if _, err := os.Stat("/usr/bin/sandbox-exec"); err == nil {
			capabilities.FileReadDeny = true
			capabilities.FileWriteAllow = true
			capabilities.NetworkProxy = true
			capabilities.RenameDefense = true
		}

	case PlatformLinux, PlatformWSL:
		bwrapPresent := false
		if _, err := exec.LookPath("bwrap"); err == nil {
			bwrapPresent = true
		}
		if bwrapPresent && userNamespacesEnabled() {
			// Deny-only read mode on Linux relies on mount pinning and
			// the syscall filter rather than true read denial; only
			// allow-only mode hides content outright.
			capabilities.FileWriteAllow = true
			capabilities.NetworkProxy = true
			capabilities.RenameDefense = true
			capabilities.FileReadDeny = true
			capabilities.SyscallFilter = seccompArtifactPresent()
		}
	}
	return capabilities
}

// userNamespacesEnabled mirrors the validator's check without
// recording a result.
func userNamespacesEnabled() bool {
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err != nil {
		return true
	}
	return len(data) > 0 && data[0] == '1'
}

// seccompArtifactPresent reports whether a default-variant BPF blob
// exists for the host ABI.
func seccompArtifactPresent() bool {
	abi, err := hostABI()
	if err != nil {
		return false
	}
	resolver := NewSeccompResolver("", nil)
	_, _, err = resolver.locate(abi, SeccompDefault)
	return err == nil
}
