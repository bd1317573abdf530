// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package sandbox

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// hostABI returns the CPU ABI string used in seccomp artifact names,
// taken from the kernel's machine field (e.g. "x86_64", "aarch64").
func hostABI() (string, error) {
	var name unix.Utsname
	if err := unix.Uname(&name); err != nil {
		return "", fmt.Errorf("uname: %w", err)
	}
	machine := name.Machine[:]
	end := 0
	for end < len(machine) && machine[end] != 0 {
		end++
	}
	abi := string(machine[:end])
	if abi == "" {
		return "", fmt.Errorf("uname reported empty machine field")
	}
	return abi, nil
}
