// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/corral-foundation/corral/lib/pathglob"
	"github.com/corral-foundation/corral/policy"
)

// SeccompFD is the file descriptor number the wrapper string redirects
// the staged BPF filter onto. High enough to never collide with a
// shell's own descriptors.
const SeccompFD = 200

// linuxImplicitReadRoots are bound read-only into the allow-only
// skeleton so a shell and the common language runtimes start.
var linuxImplicitReadRoots = []string{
	"/bin",
	"/sbin",
	"/usr",
	"/lib",
	"/lib64",
	"/etc",
	"/opt",
	"/run/current-system",
	"/nix",
}

// JailOptions carries the non-policy inputs to jail construction.
type JailOptions struct {
	// ProxyPort is the loopback port of the filtering proxy. Zero when
	// no proxy is running.
	ProxyPort int

	// ProxySocket, when set, is a UNIX-domain proxy socket bound into
	// the jail at /run/corral/proxy.sock for tooling that speaks HTTP
	// over local sockets.
	ProxySocket string

	// WorkingDirectory becomes the jail's working directory and is
	// included in the allow-only read skeleton.
	WorkingDirectory string

	// SeccompFilterPath is the staged BPF blob; empty disables the
	// --seccomp attachment (capability probing, tests).
	SeccompFilterPath string
}

// JailBuilder constructs the bubblewrap argument vector for a policy
// snapshot. The caller prepends "bwrap" and appends the command after
// the "--" separator that Build leaves in place.
type JailBuilder struct {
	args []string
	env  map[string]string
}

// NewJailBuilder returns an empty builder.
func NewJailBuilder() *JailBuilder {
	return &JailBuilder{}
}

// Build constructs the jail arguments, ending with "--". The returned
// slice is owned by the caller.
func (b *JailBuilder) Build(snapshot *policy.Snapshot, opts JailOptions) ([]string, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("snapshot is required")
	}
	b.args = []string{}
	b.env = make(map[string]string)

	b.addNamespaces()
	b.addRootMounts(snapshot, opts)
	if err := b.addWriteMounts(snapshot); err != nil {
		return nil, err
	}
	b.addReadDenyMounts(snapshot)
	b.addProxyPlumbing(snapshot, opts)

	if opts.SeccompFilterPath != "" {
		b.args = append(b.args, "--seccomp", fmt.Sprintf("%d", SeccompFD))
	}
	if opts.WorkingDirectory != "" {
		b.args = append(b.args, "--chdir", opts.WorkingDirectory)
	}

	// Deterministic env ordering.
	keys := make([]string, 0, len(b.env))
	for key := range b.env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		b.args = append(b.args, "--setenv", key, b.env[key])
	}

	b.args = append(b.args, "--")
	return b.args, nil
}

// addNamespaces unshares everything except the network namespace.
// The network namespace is deliberately kept whenever a restriction is
// active: the loopback proxy lives in the host namespace, and the
// seccomp filter confines sockets to AF_UNIX plus loopback AF_INET, so
// the proxy remains the only egress. Unsharing the network here would
// strand the proxy env vars that a later UpdateConfig relies on.
func (b *JailBuilder) addNamespaces() {
	b.args = append(b.args,
		"--unshare-pid",
		"--unshare-ipc",
		"--unshare-uts",
		"--unshare-cgroup",
	)
	// --cap-drop ALL and PR_SET_NO_NEW_PRIVS are implicit in bwrap.
	b.args = append(b.args, "--die-with-parent")
}

// addRootMounts lays down the root filesystem view.
func (b *JailBuilder) addRootMounts(snapshot *policy.Snapshot, opts JailOptions) {
	allowOnly := snapshot.Read != nil && snapshot.Read.Mode == policy.ReadAllowOnly

	if allowOnly {
		// Skeleton root: nothing visible except the allow set and the
		// implicit system paths.
		b.args = append(b.args, "--tmpfs", "/")
	} else {
		b.args = append(b.args, "--ro-bind", "/", "/")
	}

	b.args = append(b.args, "--proc", "/proc")
	b.args = append(b.args, "--dev", "/dev")
	b.args = append(b.args, "--tmpfs", "/tmp")

	if allowOnly {
		// Bound after the fresh /tmp so allowed paths below it stay
		// visible.
		for _, root := range linuxImplicitReadRoots {
			if pathglob.Exists(root) {
				b.args = append(b.args, "--ro-bind", root, root)
			}
		}
		if opts.WorkingDirectory != "" && pathglob.Exists(opts.WorkingDirectory) {
			b.args = append(b.args, "--ro-bind", opts.WorkingDirectory, opts.WorkingDirectory)
		}
		for _, pattern := range snapshot.Read.Allow {
			b.bindPattern(pattern, "--ro-bind", snapshot.Read.DenyWithinAllow)
		}
	}
}

// addWriteMounts binds each write-allow pattern read-write, then
// rebinds deny-within-allow patterns read-only on top. An allow target
// that itself falls inside a deny-within-allow pattern is never bound
// writable at all rather than bound and remasked.
func (b *JailBuilder) addWriteMounts(snapshot *policy.Snapshot) error {
	write := snapshot.Write
	if write == nil {
		return nil
	}
	for _, pattern := range write.Allow {
		if err := b.bindPattern(pattern, "--bind", write.DenyWithinAllow); err != nil {
			return err
		}
	}
	for _, pattern := range write.DenyWithinAllow {
		if err := b.bindPattern(pattern, "--ro-bind", nil); err != nil {
			return err
		}
	}
	return nil
}

// addReadDenyMounts pins denied read paths after the write binds.
//
// In deny-only mode a read-only bind over the denied path serves the
// rename defense: the mount point cannot itself be renamed (EBUSY),
// which also pins every ancestor, since a directory containing a mount
// point cannot be renamed either. In allow-only mode deny-within-allow
// paths are masked with a tmpfs so their contents are not even
// enumerable.
func (b *JailBuilder) addReadDenyMounts(snapshot *policy.Snapshot) {
	read := snapshot.Read
	if read == nil {
		return
	}
	switch read.Mode {
	case policy.ReadDenyOnly:
		for _, pattern := range read.Deny {
			target := pattern
			if pathglob.IsGlob(pattern) {
				target = pathglob.LiteralPrefix(pattern)
			}
			if pathglob.Exists(target) {
				b.args = append(b.args, "--ro-bind", target, target)
			}
		}
	case policy.ReadAllowOnly:
		for _, pattern := range read.DenyWithinAllow {
			target := pattern
			if pathglob.IsGlob(pattern) {
				target = pathglob.LiteralPrefix(pattern)
			}
			b.args = append(b.args, "--tmpfs", target)
		}
	}
}

// addProxyPlumbing exports the proxy environment. The variables are set
// even when the allow list is empty so a later UpdateConfig can open
// access without re-wrapping the command.
func (b *JailBuilder) addProxyPlumbing(snapshot *policy.Snapshot, opts JailOptions) {
	if !snapshot.NetworkRestricted() {
		return
	}
	if opts.ProxyPort > 0 {
		address := fmt.Sprintf("http://127.0.0.1:%d", opts.ProxyPort)
		b.env["HTTP_PROXY"] = address
		b.env["HTTPS_PROXY"] = address
		b.env["http_proxy"] = address
		b.env["https_proxy"] = address
	}
	if opts.ProxySocket != "" {
		const jailSocket = "/run/corral/proxy.sock"
		b.args = append(b.args, "--ro-bind", opts.ProxySocket, jailSocket)
		b.env["CORRAL_PROXY_SOCKET"] = jailSocket
	}
}

// bindPattern emits a bind for one pattern. Literals bind directly;
// globs expand against the live filesystem, binding each match. Bind
// targets matching any deniedWithin pattern are dropped from the plan
// instead of being bound and remasked.
func (b *JailBuilder) bindPattern(pattern, bindFlag string, deniedWithin []string) error {
	if !pathglob.IsGlob(pattern) {
		if pathglob.Exists(pattern) && !pathglob.MatchAny(deniedWithin, pattern) {
			b.args = append(b.args, bindFlag, pattern, pattern)
		}
		return nil
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}
	for _, match := range matches {
		if pathglob.MatchAny(deniedWithin, match) {
			continue
		}
		b.args = append(b.args, bindFlag, match, match)
	}
	return nil
}
