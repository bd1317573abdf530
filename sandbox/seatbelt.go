// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/corral-foundation/corral/lib/pathglob"
	"github.com/corral-foundation/corral/policy"
)

// implicitReadRoots are the system paths a usable shell needs readable
// in allow-only mode: the base toolchain, dynamic linker paths, and the
// standard locations of common language runtimes. The working directory
// is appended at build time.
var implicitReadRoots = []string{
	"/bin",
	"/sbin",
	"/usr",
	"/etc",
	"/dev",
	"/opt",
	"/private/etc",
	"/private/var/select",
	"/private/var/db/timezone",
	"/Library/Preferences/Logging",
	"/System",
	"/var/select",
}

// ProfileOptions carries the non-policy inputs to profile generation.
type ProfileOptions struct {
	// ProxyPort is the loopback port of the filtering proxy. Zero when
	// no proxy is running.
	ProxyPort int

	// WorkingDirectory is appended to the implicit read allowance in
	// allow-only mode.
	WorkingDirectory string

	// AllowAllUnixSockets permits every UNIX-domain socket instead of
	// only those under /private/var/run. Escape hatch for tooling that
	// multiplexes over local sockets.
	AllowAllUnixSockets bool
}

// ProfileBuilder emits a Seatbelt SBPL profile from a policy snapshot.
// SBPL is Scheme-like: the profile opens with (version 1)(deny default)
// and then allows selectively.
type ProfileBuilder struct {
	buf strings.Builder
}

// NewProfileBuilder returns an empty builder. Build may be called
// repeatedly; each call resets the buffer.
func NewProfileBuilder() *ProfileBuilder {
	return &ProfileBuilder{}
}

// Build generates the profile text for the snapshot.
func (b *ProfileBuilder) Build(snapshot *policy.Snapshot, opts ProfileOptions) string {
	b.buf.Reset()

	b.writeBase()
	b.writeNetwork(snapshot, opts)
	b.writeReads(snapshot, opts)
	b.writeWrites(snapshot)
	b.writeRenameDefense(snapshot)
	b.writePTY()

	return b.buf.String()
}

// writeBase emits the header and the process/IPC allowances a
// functioning shell needs under (deny default).
func (b *ProfileBuilder) writeBase() {
	b.line("(version 1)")
	b.line("(deny default)")
	b.blank()
	b.comment("Process lifecycle and self-inspection")
	b.line("(allow process-fork)")
	b.line("(allow process-exec)")
	b.line("(allow process-info* (target same-sandbox))")
	b.line("(allow signal (target self))")
	b.blank()
	b.comment("sysctl reads; kern.proc.all lets tooling enumerate PIDs")
	b.line("(allow sysctl-read")
	b.line(`  (sysctl-name-prefix "hw.")`)
	b.line(`  (sysctl-name-prefix "kern.proc.all")`)
	b.line(`  (sysctl-name-prefix "kern.proc.pid.")`)
	b.line(`  (sysctl-name-prefix "kern.proc.pgrp.")`)
	b.line(`  (sysctl-name-prefix "machdep.cpu.")`)
	b.line(`  (sysctl-name "kern.argmax")`)
	b.line(`  (sysctl-name "kern.hostname")`)
	b.line(`  (sysctl-name "kern.maxfilesperproc")`)
	b.line(`  (sysctl-name "kern.osproductversion")`)
	b.line(`  (sysctl-name "kern.osrelease")`)
	b.line(`  (sysctl-name "kern.ostype")`)
	b.line(`  (sysctl-name "kern.osversion")`)
	b.line(`  (sysctl-name "kern.usrstack64")`)
	b.line(`  (sysctl-name "kern.version")`)
	b.line(`  (sysctl-name "sysctl.proc_cputype")`)
	b.line(`  (sysctl-name "vm.loadavg")`)
	b.line(")")
	b.blank()
	b.comment("POSIX IPC and the mach services libc touches")
	b.line("(allow ipc-posix-shm)")
	b.line("(allow ipc-posix-sem)")
	b.line("(allow mach-lookup")
	b.line(`  (global-name "com.apple.system.logger")`)
	b.line(`  (global-name "com.apple.system.notification_center")`)
	b.line(`  (global-name "com.apple.system.opendirectoryd.libinfo")`)
	b.line(`  (global-name "com.apple.system.opendirectoryd.membership")`)
	b.line(`  (global-name "com.apple.bsd.dirhelper")`)
	b.line(`  (global-name "com.apple.coreservices.launchservicesd")`)
	b.line(`  (global-name "com.apple.lsd.mapdb")`)
	b.line(`  (global-name "com.apple.logd")`)
	b.line(")")
	b.blank()
}

// writeNetwork emits the network section. With restriction active, the
// only permitted egress is the loopback proxy; the mach services TLS
// clients consult stay reachable so HTTPS through the proxy works.
func (b *ProfileBuilder) writeNetwork(snapshot *policy.Snapshot, opts ProfileOptions) {
	if snapshot.UnrestrictedNetwork || snapshot.Network == nil {
		b.comment("Network unrestricted")
		b.line("(allow network*)")
		b.blank()
		return
	}

	b.comment("Network restricted: proxy is the sole egress")
	b.line("(deny network-outbound)")
	b.line("(deny network-inbound)")
	b.line("(deny network-bind)")
	if opts.ProxyPort > 0 {
		b.linef(`(allow network-outbound (remote tcp "localhost:%d"))`, opts.ProxyPort)
	}
	if opts.AllowAllUnixSockets {
		b.line(`(allow network-outbound (remote unix-socket (subpath "/")))`)
		b.line(`(allow network-inbound (local unix-socket (subpath "/")))`)
	} else {
		b.line(`(allow network-outbound (remote unix-socket (subpath "/private/var/run")))`)
	}
	b.comment("TLS clients resolve trust through these services")
	b.line("(allow mach-lookup")
	b.line(`  (global-name "com.apple.SecurityServer")`)
	b.line(`  (global-name "com.apple.securityd.xpc")`)
	b.line(`  (global-name "com.apple.trustd.agent")`)
	b.line(`  (global-name "com.apple.networkd")`)
	b.line(")")
	b.blank()
}

// writeReads emits the file-read section in one of the two modes.
func (b *ProfileBuilder) writeReads(snapshot *policy.Snapshot, opts ProfileOptions) {
	read := snapshot.Read
	if read == nil {
		b.comment("Reads unrestricted")
		b.line("(allow file-read*)")
		b.blank()
		return
	}

	switch read.Mode {
	case policy.ReadDenyOnly:
		b.comment("Reads: allow all, deny listed patterns")
		b.line("(allow file-read*)")
		for _, pattern := range read.Deny {
			b.denyRule("file-read*", pattern)
		}

	case policy.ReadAllowOnly:
		b.comment("Reads: deny all, allow listed patterns plus system paths")
		b.line("(deny file-read*)")
		for _, pattern := range read.Allow {
			b.allowRule("file-read*", pattern)
		}
		for _, root := range implicitAllowedReads(opts.WorkingDirectory) {
			b.linef(`(allow file-read* (subpath "%s"))`, pathglob.EscapeSBPL(root))
		}
		for _, pattern := range read.DenyWithinAllow {
			b.denyRule("file-read*", pattern)
		}
	}
	b.blank()
}

// writeWrites emits the file-write section: deny everything, then allow
// the write-allow set, then carve the deny-within-allow set back out.
func (b *ProfileBuilder) writeWrites(snapshot *policy.Snapshot) {
	write := snapshot.Write
	if write == nil {
		b.comment("Writes unrestricted")
		b.line("(allow file-write*)")
		b.blank()
		return
	}

	b.comment("Writes: deny all, allow listed patterns")
	b.line("(deny file-write*)")

	// Temp locations every shell session touches.
	for _, dir := range tempWriteRoots() {
		b.linef(`(allow file-write* (subpath "%s"))`, pathglob.EscapeSBPL(dir))
	}
	for _, pattern := range write.Allow {
		b.allowRule("file-write*", pattern)
	}
	for _, pattern := range write.DenyWithinAllow {
		b.denyRule("file-write*", pattern)
	}
	b.blank()
}

// writeRenameDefense denies file-write-unlink for every read-denied and
// write-carved pattern and for every ancestor directory up to /.
// Seatbelt's file-read* class does not cover rename(2): without these
// rules `mv /protected /elsewhere` — or a mv of any ancestor — would
// re-home the protected file at a readable path. For glob patterns the
// ancestor chain starts at the deepest literal prefix.
func (b *ProfileBuilder) writeRenameDefense(snapshot *policy.Snapshot) {
	var protected []string
	if snapshot.Read != nil {
		protected = append(protected, snapshot.Read.Deny...)
		protected = append(protected, snapshot.Read.DenyWithinAllow...)
	}
	if snapshot.Write != nil {
		protected = append(protected, snapshot.Write.DenyWithinAllow...)
	}
	if len(protected) == 0 {
		return
	}

	b.comment("Rename defense: file-read* does not cover rename(2)")
	seen := make(map[string]bool)
	for _, pattern := range protected {
		if pathglob.IsGlob(pattern) {
			b.linef(`(deny file-write-unlink (regex #"%s"))`, pathglob.ToRegex(pattern))
			prefix := pathglob.LiteralPrefix(pattern)
			b.linef(`(deny file-write-unlink (subpath "%s"))`, pathglob.EscapeSBPL(prefix))
			b.ancestorUnlinkRules(pathglob.Ancestors(prefix)[1:], seen)
		} else {
			b.linef(`(deny file-write-unlink (subpath "%s"))`, pathglob.EscapeSBPL(pattern))
			b.ancestorUnlinkRules(pathglob.Ancestors(pattern)[1:], seen)
		}
	}
	b.blank()
}

// ancestorUnlinkRules emits literal deny rules for each ancestor,
// deduplicated across patterns.
func (b *ProfileBuilder) ancestorUnlinkRules(ancestors []string, seen map[string]bool) {
	for _, ancestor := range ancestors {
		if seen[ancestor] {
			continue
		}
		seen[ancestor] = true
		b.linef(`(deny file-write-unlink (literal "%s"))`, pathglob.EscapeSBPL(ancestor))
	}
}

// writePTY keeps interactive shells working without a blanket /dev
// allowance that would override read denies under /dev.
func (b *ProfileBuilder) writePTY() {
	b.comment("PTY and null devices for interactive shells")
	b.line(`(allow file-read* (regex #"^/dev/(ttys|pty|null|zero|random|urandom|fd)"))`)
	b.line(`(allow file-write* (regex #"^/dev/ttys[0-9]+$"))`)
	b.line(`(allow file-write* (literal "/dev/null"))`)
	b.line(`(allow file-write* (literal "/dev/zero"))`)
	b.line(`(allow file-write* (literal "/dev/urandom"))`)
	b.line(`(allow file-ioctl (regex #"^/dev/(ttys|pty)"))`)
	b.blank()
}

// allowRule emits an allow for one pattern, using a subpath predicate
// for literals and a translated regex for globs.
func (b *ProfileBuilder) allowRule(operation, pattern string) {
	if pathglob.IsGlob(pattern) {
		b.linef(`(allow %s (regex #"%s"))`, operation, pathglob.ToRegex(pattern))
	} else {
		b.linef(`(allow %s (subpath "%s"))`, operation, pathglob.EscapeSBPL(pattern))
	}
}

// denyRule emits a deny for one pattern.
func (b *ProfileBuilder) denyRule(operation, pattern string) {
	if pathglob.IsGlob(pattern) {
		b.linef(`(deny %s (regex #"%s"))`, operation, pathglob.ToRegex(pattern))
	} else {
		b.linef(`(deny %s (subpath "%s"))`, operation, pathglob.EscapeSBPL(pattern))
	}
}

// implicitAllowedReads returns the system roots plus the working
// directory, deduplicated and sorted for stable output.
func implicitAllowedReads(workingDirectory string) []string {
	roots := make(map[string]struct{}, len(implicitReadRoots)+1)
	for _, root := range implicitReadRoots {
		roots[root] = struct{}{}
	}
	if workingDirectory != "" {
		roots[pathglob.Canonicalize(workingDirectory)] = struct{}{}
	}
	result := make([]string, 0, len(roots))
	for root := range roots {
		result = append(result, root)
	}
	sort.Strings(result)
	return result
}

// tempWriteRoots returns the canonical macOS temp locations plus the
// caller's TMPDIR.
func tempWriteRoots() []string {
	roots := map[string]struct{}{
		"/private/tmp":         {},
		"/private/var/folders": {},
	}
	if tmpdir := os.Getenv("TMPDIR"); tmpdir != "" {
		roots[pathglob.Canonicalize(tmpdir)] = struct{}{}
	}
	result := make([]string, 0, len(roots))
	for root := range roots {
		result = append(result, root)
	}
	sort.Strings(result)
	return result
}

func (b *ProfileBuilder) line(s string) {
	b.buf.WriteString(s)
	b.buf.WriteByte('\n')
}

func (b *ProfileBuilder) linef(format string, args ...any) {
	fmt.Fprintf(&b.buf, format, args...)
	b.buf.WriteByte('\n')
}

func (b *ProfileBuilder) comment(s string) {
	b.buf.WriteString("; ")
	b.buf.WriteString(s)
	b.buf.WriteByte('\n')
}

func (b *ProfileBuilder) blank() {
	b.buf.WriteByte('\n')
}
