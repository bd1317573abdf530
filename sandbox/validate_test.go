// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatorAccumulation(t *testing.T) {
	validator := NewValidator()
	if validator.HasErrors() {
		t.Error("fresh validator must have no errors")
	}
	if len(validator.Results()) != 0 {
		t.Error("fresh validator must have no results")
	}

	validator.pass("first", "ok")
	validator.warn("second", "degraded")
	validator.fail("third", "broken")
	validator.fail("fourth", "also broken")

	results := validator.Results()
	if len(results) != 4 {
		t.Fatalf("results = %d, want 4", len(results))
	}
	// Check order preservation and per-kind flags.
	if results[0].Name != "first" || !results[0].Passed || results[0].Warning {
		t.Errorf("pass result malformed: %+v", results[0])
	}
	if results[1].Name != "second" || !results[1].Passed || !results[1].Warning {
		t.Errorf("warn result malformed: %+v", results[1])
	}
	if results[2].Name != "third" || results[2].Passed {
		t.Errorf("fail result malformed: %+v", results[2])
	}
	if !validator.HasErrors() {
		t.Error("validator with failures must report errors")
	}
	if validator.errors != 2 {
		t.Errorf("error count = %d, want 2", validator.errors)
	}
}

func TestValidatorWarningsAreNotErrors(t *testing.T) {
	validator := NewValidator()
	validator.pass("a", "ok")
	validator.warn("b", "degraded")
	if validator.HasErrors() {
		t.Error("passes and warnings must not count as errors")
	}
}

func TestValidateShellFromPath(t *testing.T) {
	validator := NewValidator()
	validator.ValidateShell("sh")
	if validator.HasErrors() {
		t.Errorf("sh should resolve via PATH: %+v", validator.Results())
	}
	result := validator.Results()[0]
	if result.Name != "shell" || !strings.HasSuffix(result.Message, "/sh") {
		t.Errorf("shell check should report the resolved path: %+v", result)
	}
}

func TestValidateShellDefault(t *testing.T) {
	// Empty shell falls back to bash; the result must name the shell
	// check either way.
	validator := NewValidator()
	validator.ValidateShell("")
	if len(validator.Results()) != 1 || validator.Results()[0].Name != "shell" {
		t.Errorf("missing shell result: %+v", validator.Results())
	}
}

func TestValidateShellAbsolutePath(t *testing.T) {
	shell := filepath.Join(t.TempDir(), "myshell")
	if err := os.WriteFile(shell, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	validator := NewValidator()
	validator.ValidateShell(shell)
	if validator.HasErrors() {
		t.Errorf("existing absolute shell must pass: %+v", validator.Results())
	}

	validator = NewValidator()
	validator.ValidateShell("/nonexistent/shell-binary")
	if !validator.HasErrors() {
		t.Error("missing absolute shell must fail validation")
	}
}

func TestValidateShellMissingFromPath(t *testing.T) {
	validator := NewValidator()
	validator.ValidateShell("corral-no-such-shell")
	if !validator.HasErrors() {
		t.Error("unresolvable shell name must fail validation")
	}
}

func TestValidateProxyNotRunning(t *testing.T) {
	manager := newTestManager(t, Config{})

	validator := NewValidator()
	validator.ValidateProxy(manager)
	if validator.HasErrors() {
		t.Error("absent proxy is a warning, not an error")
	}
	result := validator.Results()[0]
	if !result.Warning {
		t.Errorf("absent proxy must warn: %+v", result)
	}
}

func TestValidateProxyReachable(t *testing.T) {
	manager := newTestManager(t, Config{})
	if err := manager.Initialize(restrictedInput("example.com")); err != nil {
		t.Fatal(err)
	}

	validator := NewValidator()
	validator.ValidateProxy(manager)
	if validator.HasErrors() {
		t.Errorf("running proxy must validate: %+v", validator.Results())
	}
	result := validator.Results()[0]
	if result.Warning || !result.Passed {
		t.Errorf("reachable proxy must pass cleanly: %+v", result)
	}
}

func TestValidateAllUnsupportedPlatform(t *testing.T) {
	manager := newTestManager(t, Config{})
	manager.platform = PlatformOther

	validator := NewValidator()
	validator.ValidateAll(manager, "sh")
	if !validator.HasErrors() {
		t.Error("unsupported platform must fail pre-flight")
	}
	found := false
	for _, result := range validator.Results() {
		if result.Name == "platform" && !result.Passed {
			found = true
		}
	}
	if !found {
		t.Errorf("missing platform failure: %+v", validator.Results())
	}
}

func TestValidateAllMacos(t *testing.T) {
	manager := newTestManager(t, Config{})

	validator := NewValidator()
	validator.ValidateAll(manager, "sh")

	// The exact outcomes depend on the host; the check set must at
	// least cover the seatbelt binary, the shell, and the proxy.
	names := make(map[string]bool)
	for _, result := range validator.Results() {
		names[result.Name] = true
	}
	for _, expected := range []string{"sandbox-exec", "shell", "proxy"} {
		if !names[expected] {
			t.Errorf("missing %q check in: %v", expected, names)
		}
	}
}
