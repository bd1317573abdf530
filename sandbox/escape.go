// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// EscapeTest is one containment check: a command that must FAIL inside
// the sandbox. A passed test means the escape was blocked.
type EscapeTest struct {
	Name        string
	Description string
	Category    string // "network", "filesystem", "rename"

	// Command is run through the wrapper; a zero exit status means the
	// escape succeeded.
	Command string

	// Applies reports whether the test is meaningful under the given
	// manager (e.g. network tests need an active restriction).
	Applies func(manager *Manager) bool
}

// EscapeTestResult holds the outcome of one escape test.
type EscapeTestResult struct {
	Test    *EscapeTest
	Passed  bool
	Skipped bool
	Detail  string
}

// escapeTests is the standard battery. Targets come from the manager's
// policy where possible; the generic entries probe boundaries every
// policy shares.
var escapeTests = []EscapeTest{
	{
		Name:        "network-direct",
		Description: "Dial an external host directly, bypassing the proxy",
		Category:    "network",
		Command:     "exec 3<>/dev/tcp/1.1.1.1/80",
		Applies: func(manager *Manager) bool {
			return manager.ProxyPort() > 0
		},
	},
	{
		Name:        "filesystem-root-write",
		Description: "Write outside any allowed path",
		Category:    "filesystem",
		Command:     "touch /corral-escape-probe",
		Applies: func(manager *Manager) bool {
			config := manager.Config()
			return config != nil && (config.Filesystem.AllowWrite != nil || config.Filesystem.DenyWrite != nil)
		},
	},
	{
		Name:        "filesystem-etc-write",
		Description: "Modify system configuration",
		Category:    "filesystem",
		Command:     "sh -c 'echo x >> /etc/hosts'",
		Applies: func(manager *Manager) bool {
			config := manager.Config()
			return config != nil && config.Filesystem.AllowWrite != nil
		},
	},
}

// EscapeTestRunner executes the battery through wrapped commands.
type EscapeTestRunner struct {
	manager *Manager
	shell   string
	timeout time.Duration
}

// NewEscapeTestRunner creates a runner against the manager. The shell
// defaults to bash, the per-test timeout to 20 seconds.
func NewEscapeTestRunner(manager *Manager, shell string) *EscapeTestRunner {
	if shell == "" {
		shell = "bash"
	}
	return &EscapeTestRunner{manager: manager, shell: shell, timeout: 20 * time.Second}
}

// RunAll wraps and executes every applicable test, plus per-policy
// probes derived from the manager's read-deny patterns.
func (r *EscapeTestRunner) RunAll(ctx context.Context) ([]EscapeTestResult, error) {
	tests := make([]EscapeTest, 0, len(escapeTests)+4)
	tests = append(tests, escapeTests...)
	tests = append(tests, r.policyDerivedTests()...)

	results := make([]EscapeTestResult, 0, len(tests))
	for i := range tests {
		test := &tests[i]
		if test.Applies != nil && !test.Applies(r.manager) {
			results = append(results, EscapeTestResult{Test: test, Skipped: true})
			continue
		}
		results = append(results, r.run(ctx, test))
	}
	return results, nil
}

// policyDerivedTests builds probes from the live policy: reading and
// renaming each denied path must fail.
func (r *EscapeTestRunner) policyDerivedTests() []EscapeTest {
	config := r.manager.Config()
	if config == nil {
		return nil
	}
	var tests []EscapeTest
	for _, denied := range config.Filesystem.DenyRead {
		if strings.ContainsAny(denied, "*?[") {
			continue
		}
		tests = append(tests,
			EscapeTest{
				Name:        "read-denied:" + denied,
				Description: fmt.Sprintf("Read the denied path %s", denied),
				Category:    "filesystem",
				Command:     fmt.Sprintf("cat %s 2>/dev/null || ls %s", shellQuote(denied), shellQuote(denied)),
			},
			EscapeTest{
				Name:        "rename-denied:" + denied,
				Description: fmt.Sprintf("Rename the denied path %s out of protection", denied),
				Category:    "rename",
				Command:     fmt.Sprintf("mv %s /tmp/corral-escape-renamed", shellQuote(denied)),
			},
		)
	}
	return tests
}

// run executes one wrapped test command.
func (r *EscapeTestRunner) run(ctx context.Context, test *EscapeTest) EscapeTestResult {
	wrapper, err := r.manager.WrapWithSandbox(test.Command, r.shell)
	if err != nil {
		return EscapeTestResult{Test: test, Detail: fmt.Sprintf("wrap failed: %v", err)}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	command := exec.CommandContext(runCtx, "sh", "-c", wrapper)
	output, err := command.CombinedOutput()
	if err == nil {
		return EscapeTestResult{
			Test:   test,
			Detail: fmt.Sprintf("escape succeeded: %s", strings.TrimSpace(string(output))),
		}
	}
	return EscapeTestResult{Test: test, Passed: true}
}
