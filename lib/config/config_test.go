// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/corral-foundation/corral/policy"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "policy.yaml", `
network:
  allowedDomains:
    - "*.github.com"
  deniedDomains:
    - metadata.google.internal
filesystem:
  denyRead:
    - /home/user/.ssh
  allowWrite:
    - /workspace
`)
	input, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(input.Network.AllowedDomains) != 1 || input.Network.AllowedDomains[0] != "*.github.com" {
		t.Errorf("allowedDomains = %v", input.Network.AllowedDomains)
	}
	if len(input.Filesystem.DenyRead) != 1 {
		t.Errorf("denyRead = %v", input.Filesystem.DenyRead)
	}

	if _, err := input.Normalize(); err != nil {
		t.Errorf("loaded policy must normalize: %v", err)
	}
}

func TestLoadJSONC(t *testing.T) {
	path := writeFile(t, "policy.jsonc", `{
  // agents may reach the package registries only
  "network": {
    "allowedDomains": ["registry.npmjs.org", "pypi.org"],
    "deniedDomains": [],
  },
  "filesystem": {
    "allowWrite": ["/workspace"],
    "denyWrite": []
  }
}`)
	input, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(input.Network.AllowedDomains) != 2 {
		t.Errorf("allowedDomains = %v", input.Network.AllowedDomains)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file must error")
	}
}

func TestLoadEnvFallback(t *testing.T) {
	path := writeFile(t, "policy.yaml", "network:\n  allowedDomains: []\n")
	t.Setenv(EnvVar, path)
	input, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if input.Network.AllowedDomains == nil {
		t.Error("explicit empty allow list must survive loading")
	}
}

func TestWatchReloads(t *testing.T) {
	path := writeFile(t, "policy.yaml", "network:\n  allowedDomains: [\"a.example\"]\n")

	changed := make(chan []string, 4)
	stop, err := Watch(path, func(input *policy.Input) {
		changed <- input.Network.AllowedDomains
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	if err := os.WriteFile(path, []byte("network:\n  allowedDomains: [\"b.example\"]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case domains := <-changed:
		if len(domains) != 1 || domains[0] != "b.example" {
			t.Errorf("reloaded domains = %v", domains)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watch never fired")
	}
}
