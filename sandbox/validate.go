// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"
)

// ValidationResult holds the result of one pre-flight check.
type ValidationResult struct {
	Name    string
	Passed  bool
	Message string
	Warning bool // true when the finding degrades but does not block
}

// Validator performs pre-flight validation before wrapping commands.
type Validator struct {
	results []ValidationResult
	errors  int
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{results: make([]ValidationResult, 0)}
}

// Results returns all validation results in check order.
func (v *Validator) Results() []ValidationResult {
	return v.results
}

// HasErrors reports whether any check failed.
func (v *Validator) HasErrors() bool {
	return v.errors > 0
}

func (v *Validator) pass(name, message string) {
	v.results = append(v.results, ValidationResult{Name: name, Passed: true, Message: message})
}

func (v *Validator) warn(name, message string) {
	v.results = append(v.results, ValidationResult{Name: name, Passed: true, Message: message, Warning: true})
}

func (v *Validator) fail(name, message string) {
	v.results = append(v.results, ValidationResult{Name: name, Passed: false, Message: message})
	v.errors++
}

// ValidateAll runs every check relevant to the platform. The manager
// is consulted for proxy reachability when it has one running.
func (v *Validator) ValidateAll(manager *Manager, shell string) {
	platform := manager.Platform()

	switch platform {
	case PlatformMacos:
		v.ValidateSandboxExec()
	case PlatformLinux, PlatformWSL:
		v.ValidateBwrap()
		v.ValidateUserNamespaces()
		v.ValidateSeccompArtifact(manager)
	default:
		v.fail("platform", fmt.Sprintf("no sandbox mechanism for platform %q", platform))
	}

	v.ValidateShell(shell)
	v.ValidateProxy(manager)
}

// ValidateSandboxExec checks that the Seatbelt wrapper binary exists.
func (v *Validator) ValidateSandboxExec() {
	if _, err := os.Stat("/usr/bin/sandbox-exec"); err != nil {
		v.fail("sandbox-exec", "/usr/bin/sandbox-exec not found")
		return
	}
	v.pass("sandbox-exec", "/usr/bin/sandbox-exec")
}

// ValidateBwrap checks that bubblewrap is installed.
func (v *Validator) ValidateBwrap() {
	path, err := exec.LookPath("bwrap")
	if err != nil {
		for _, candidate := range []string{"/usr/bin/bwrap", "/usr/local/bin/bwrap", "/bin/bwrap"} {
			if _, statErr := os.Stat(candidate); statErr == nil {
				v.pass("bwrap", candidate)
				return
			}
		}
		v.fail("bwrap", "bwrap not found in PATH or standard locations")
		return
	}
	v.pass("bwrap", path)
}

// ValidateUserNamespaces checks that unprivileged user namespaces are
// enabled; without them bwrap cannot construct the jail.
func (v *Validator) ValidateUserNamespaces() {
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err != nil {
		// Knob absent on most distributions means namespaces are
		// compiled in and unrestricted.
		v.pass("user-namespaces", "no unprivileged_userns_clone knob, assuming enabled")
		return
	}
	if len(data) > 0 && data[0] == '1' {
		v.pass("user-namespaces", "unprivileged user namespaces enabled")
		return
	}
	v.fail("user-namespaces", "unprivileged user namespaces disabled (kernel.unprivileged_userns_clone=0)")
}

// ValidateSeccompArtifact checks that a BPF artifact exists for the
// host ABI without staging it.
func (v *Validator) ValidateSeccompArtifact(manager *Manager) {
	abi, err := hostABI()
	if err != nil {
		v.fail("seccomp-artifact", err.Error())
		return
	}
	resolver := manager.seccomp
	if _, _, err := resolver.locate(abi, SeccompDefault); err != nil {
		v.fail("seccomp-artifact", err.Error())
		return
	}
	v.pass("seccomp-artifact", fmt.Sprintf("filter available for %s", abi))
}

// ValidateShell checks that the shell exists. Bare names are resolved
// through PATH; absolute paths are honored as given.
func (v *Validator) ValidateShell(shell string) {
	if shell == "" {
		shell = "bash"
	}
	if shell[0] == '/' {
		if _, err := os.Stat(shell); err != nil {
			v.fail("shell", fmt.Sprintf("shell %s not found", shell))
			return
		}
		v.pass("shell", shell)
		return
	}
	path, err := exec.LookPath(shell)
	if err != nil {
		v.fail("shell", fmt.Sprintf("shell %q not in PATH", shell))
		return
	}
	v.pass("shell", path)
}

// ValidateProxy probes the manager's proxy port when one is running.
func (v *Validator) ValidateProxy(manager *Manager) {
	port := manager.ProxyPort()
	if port == 0 {
		v.warn("proxy", "no filtering proxy running (network unrestricted or not configured)")
		return
	}
	address := fmt.Sprintf("127.0.0.1:%d", port)
	connection, err := net.DialTimeout("tcp", address, 2*time.Second)
	if err != nil {
		v.fail("proxy", fmt.Sprintf("proxy port %d not reachable: %v", port, err))
		return
	}
	connection.Close()
	v.pass("proxy", address)
}
