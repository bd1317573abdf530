// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"runtime"
	"strings"
)

// Platform identifies the enforcement mechanism for the current host.
type Platform int

const (
	// PlatformOther is any host without a supported sandbox mechanism.
	PlatformOther Platform = iota

	// PlatformMacos uses Seatbelt via sandbox-exec.
	PlatformMacos

	// PlatformLinux uses bubblewrap namespaces plus seccomp.
	PlatformLinux

	// PlatformWSL is Windows Subsystem for Linux; enforcement follows
	// the Linux path but capability probing differs (user namespaces
	// are frequently disabled).
	PlatformWSL
)

// String returns the string representation of a Platform.
func (p Platform) String() string {
	switch p {
	case PlatformMacos:
		return "macos"
	case PlatformLinux:
		return "linux"
	case PlatformWSL:
		return "wsl"
	default:
		return "other"
	}
}

// Supported reports whether the platform has a sandbox mechanism.
func (p Platform) Supported() bool {
	return p == PlatformMacos || p == PlatformLinux || p == PlatformWSL
}

// detectPlatformFn is swappable in tests.
var detectPlatformFn = detectPlatform

// DetectPlatform reports the platform of the current host.
func DetectPlatform() Platform {
	return detectPlatformFn()
}

func detectPlatform() Platform {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacos
	case "linux":
		if isWSL() {
			return PlatformWSL
		}
		return PlatformLinux
	default:
		return PlatformOther
	}
}

// isWSL checks the kernel banner for the Microsoft signature.
func isWSL() bool {
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	banner := strings.ToLower(string(data))
	return strings.Contains(banner, "microsoft") || strings.Contains(banner, "wsl")
}
