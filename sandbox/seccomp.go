// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// seccompDirEnv overrides the artifact directory search.
const seccompDirEnv = "CORRAL_SECCOMP_DIR"

// SeccompVariant selects which pre-compiled filter to attach.
type SeccompVariant string

const (
	// SeccompDefault blocks socket creation for address families other
	// than AF_UNIX and loopback AF_INET, plus mknod, bpf, ptrace,
	// mount-family syscalls, module loading, and obsolete I/O.
	SeccompDefault SeccompVariant = "default"

	// SeccompAllowUnix is the variant that leaves AF_UNIX unrestricted.
	// Escape hatch for tooling that multiplexes over local sockets.
	SeccompAllowUnix SeccompVariant = "allow-unix"
)

// SeccompResolver locates the pre-compiled BPF filter matching the host
// ABI and stages it where the jailer can attach it. The vendored
// artifacts are zstd-compressed; staging decompresses to a short-lived
// temp file, cached for the resolver's lifetime.
//
// The blobs are opaque assets with a known layout; the resolver never
// inspects their contents.
type SeccompResolver struct {
	artifactDir string
	logger      *slog.Logger

	mutex  sync.Mutex
	staged map[SeccompVariant]string
}

// NewSeccompResolver creates a resolver over the artifact directory.
// An empty dir uses the CORRAL_SECCOMP_DIR environment variable or the
// standard install locations.
func NewSeccompResolver(artifactDir string, logger *slog.Logger) *SeccompResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SeccompResolver{
		artifactDir: artifactDir,
		logger:      logger,
		staged:      make(map[SeccompVariant]string),
	}
}

// Resolve returns a filesystem path to the staged BPF filter for the
// host ABI. The first call stages the blob (filesystem read +
// decompress); subsequent calls return the cached path.
func (r *SeccompResolver) Resolve(variant SeccompVariant) (string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if path, ok := r.staged[variant]; ok {
		return path, nil
	}

	abi, err := hostABI()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSeccompBlobMissing, err)
	}

	source, compressed, err := r.locate(abi, variant)
	if err != nil {
		return "", err
	}

	staged, err := r.stage(source, compressed, abi, variant)
	if err != nil {
		return "", err
	}
	r.staged[variant] = staged
	r.logger.Debug("seccomp filter staged",
		"abi", abi,
		"variant", string(variant),
		"path", staged,
	)
	return staged, nil
}

// Close removes all staged filter files.
func (r *SeccompResolver) Close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for variant, path := range r.staged {
		os.Remove(path)
		delete(r.staged, variant)
	}
}

// locate finds the artifact file for (abi, variant), preferring the
// compressed form.
func (r *SeccompResolver) locate(abi string, variant SeccompVariant) (path string, compressed bool, err error) {
	name := fmt.Sprintf("corral-seccomp-%s", abi)
	if variant == SeccompAllowUnix {
		name += "-allow-unix"
	}

	for _, dir := range r.searchDirs() {
		candidate := filepath.Join(dir, name+".bpf.zst")
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate, true, nil
		}
		candidate = filepath.Join(dir, name+".bpf")
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate, false, nil
		}
	}
	return "", false, fmt.Errorf("%w: no %s artifact for abi %s in %v",
		ErrSeccompBlobMissing, name, abi, r.searchDirs())
}

// searchDirs returns the artifact directories in priority order.
func (r *SeccompResolver) searchDirs() []string {
	if r.artifactDir != "" {
		return []string{r.artifactDir}
	}
	var dirs []string
	if env := os.Getenv(seccompDirEnv); env != "" {
		dirs = append(dirs, env)
	}
	if executable, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Join(filepath.Dir(executable), "..", "share", "corral", "seccomp"))
	}
	dirs = append(dirs,
		"/usr/local/share/corral/seccomp",
		"/usr/share/corral/seccomp",
	)
	return dirs
}

// stage copies (and if needed decompresses) the artifact into a private
// temp file the jailer can open.
func (r *SeccompResolver) stage(source string, compressed bool, abi string, variant SeccompVariant) (string, error) {
	input, err := os.Open(source)
	if err != nil {
		return "", fmt.Errorf("open seccomp artifact %s: %w", source, err)
	}
	defer input.Close()

	var reader io.Reader = input
	if compressed {
		decoder, err := zstd.NewReader(input)
		if err != nil {
			return "", fmt.Errorf("decompress seccomp artifact %s: %w", source, err)
		}
		defer decoder.Close()
		reader = decoder
	}

	output, err := os.CreateTemp("", fmt.Sprintf("corral-seccomp-%s-%s-*.bpf", abi, variant))
	if err != nil {
		return "", fmt.Errorf("stage seccomp filter: %w", err)
	}
	if err := output.Chmod(0o600); err != nil {
		output.Close()
		os.Remove(output.Name())
		return "", fmt.Errorf("stage seccomp filter: %w", err)
	}
	if _, err := io.Copy(output, reader); err != nil {
		output.Close()
		os.Remove(output.Name())
		return "", fmt.Errorf("stage seccomp filter: %w", err)
	}
	if err := output.Close(); err != nil {
		os.Remove(output.Name())
		return "", fmt.Errorf("stage seccomp filter: %w", err)
	}
	return output.Name(), nil
}
