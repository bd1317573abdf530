// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package sandbox

import "fmt"

// hostABI is only meaningful on Linux, where the seccomp filter is
// attached. Other platforms never resolve a BPF artifact.
func hostABI() (string, error) {
	return "", fmt.Errorf("seccomp filters are linux-only")
}
