// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/klauspost/compress/zstd"
)

// testFilterPayload stands in for a real BPF program; the resolver
// treats blobs as opaque.
var testFilterPayload = []byte("\x20\x00\x00\x00\x04\x00\x00\x00corral-test-filter")

// stageTestArtifacts writes compressed filter artifacts for the host
// ABI into a temp directory and returns it.
func stageTestArtifacts(t *testing.T) string {
	t.Helper()
	abi, err := hostABI()
	if err != nil {
		t.Skipf("no host ABI: %v", err)
	}

	dir := t.TempDir()
	for _, name := range []string{
		fmt.Sprintf("corral-seccomp-%s.bpf.zst", abi),
		fmt.Sprintf("corral-seccomp-%s-allow-unix.bpf.zst", abi),
	} {
		file, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		encoder, err := zstd.NewWriter(file)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := encoder.Write(testFilterPayload); err != nil {
			t.Fatal(err)
		}
		if err := encoder.Close(); err != nil {
			t.Fatal(err)
		}
		if err := file.Close(); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestResolveStagesDecompressedBlob(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("seccomp resolution is linux only")
	}
	resolver := NewSeccompResolver(stageTestArtifacts(t), nil)
	t.Cleanup(resolver.Close)

	staged, err := resolver.Resolve(SeccompDefault)
	if err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(staged)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != string(testFilterPayload) {
		t.Error("staged blob does not match the artifact payload")
	}

	// Second resolve hits the cache.
	again, err := resolver.Resolve(SeccompDefault)
	if err != nil {
		t.Fatal(err)
	}
	if again != staged {
		t.Errorf("resolve not cached: %s != %s", again, staged)
	}

	// The relaxed variant stages a separate file.
	relaxed, err := resolver.Resolve(SeccompAllowUnix)
	if err != nil {
		t.Fatal(err)
	}
	if relaxed == staged {
		t.Error("variants must stage independently")
	}
}

func TestResolveMissingArtifact(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("seccomp resolution is linux only")
	}
	resolver := NewSeccompResolver(t.TempDir(), nil)
	_, err := resolver.Resolve(SeccompDefault)
	if !errors.Is(err, ErrSeccompBlobMissing) {
		t.Errorf("expected ErrSeccompBlobMissing, got %v", err)
	}
}

func TestCloseRemovesStagedFiles(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("seccomp resolution is linux only")
	}
	resolver := NewSeccompResolver(stageTestArtifacts(t), nil)
	staged, err := resolver.Resolve(SeccompDefault)
	if err != nil {
		t.Fatal(err)
	}
	resolver.Close()
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Error("close must remove staged filter files")
	}
}

func TestUncompressedArtifactFallback(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("seccomp resolution is linux only")
	}
	abi, err := hostABI()
	if err != nil {
		t.Skip(err)
	}
	dir := t.TempDir()
	raw := filepath.Join(dir, fmt.Sprintf("corral-seccomp-%s.bpf", abi))
	if err := os.WriteFile(raw, testFilterPayload, 0o600); err != nil {
		t.Fatal(err)
	}

	resolver := NewSeccompResolver(dir, nil)
	t.Cleanup(resolver.Close)
	staged, err := resolver.Resolve(SeccompDefault)
	if err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(staged)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != string(testFilterPayload) {
		t.Error("uncompressed artifact must stage verbatim")
	}
}
