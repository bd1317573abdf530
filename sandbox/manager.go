// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/corral-foundation/corral/bridge"
	"github.com/corral-foundation/corral/policy"
	"github.com/corral-foundation/corral/proxy"
	"github.com/corral-foundation/corral/violation"
)

// State is the manager lifecycle position.
type State int

const (
	// StateUninitialized holds no policy and no proxy.
	StateUninitialized State = iota

	// StateConfigured holds a policy but runs no proxy.
	StateConfigured

	// StateActive holds a policy and a running proxy.
	StateActive
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateActive:
		return "active"
	default:
		return "uninitialized"
	}
}

// Config holds configuration for creating a Manager.
type Config struct {
	// Logger receives structured log output; slog.Default() when nil.
	Logger *slog.Logger

	// Ask is the optional permission callback forwarded to the proxy.
	Ask proxy.AskFunc

	// SeccompArtifactDir overrides the BPF artifact search path.
	SeccompArtifactDir string

	// ProxySocketPath, when set, additionally exposes the filtering
	// proxy on a UNIX socket at this path (bind-mounted into Linux
	// jails) for tooling that cannot reach loopback TCP.
	ProxySocketPath string

	// AllowAllUnixSockets selects the relaxed seccomp variant and the
	// matching Seatbelt allowance. Escape hatch for tooling that needs
	// arbitrary local sockets.
	AllowAllUnixSockets bool

	// ViolationLogPath enables the ephemeral JSONL violation log.
	ViolationLogPath string

	// ViolationSocketPath exposes the violation stream on a UNIX
	// socket for external observers (CBOR-encoded records).
	ViolationSocketPath string

	// ViolationCapacity overrides the violation ring size.
	ViolationCapacity int

	// Platform overrides detection; zero value detects.
	Platform Platform
}

// Manager is the process-wide sandbox orchestrator. It owns the policy
// snapshot, the filtering proxy, the violation store, and the staged
// seccomp artifacts, and synthesizes wrapper command strings.
//
// All methods are safe for concurrent use. The policy snapshot the
// proxy consults is replaced by atomic pointer swap, so proxy decisions
// never contend with manager state changes.
type Manager struct {
	mutex      sync.Mutex
	state      State
	snapshot   *policy.Snapshot
	pending    *policy.Snapshot
	proxy      *proxy.Server
	bridge     *bridge.Bridge
	violations *violation.Store
	streamer   *violation.Streamer
	seccomp    *SeccompResolver
	platform   Platform
	config     Config
	logger     *slog.Logger
}

var (
	defaultManager     *Manager
	defaultManagerOnce sync.Once
)

// Default returns the process-wide manager, created on first use with
// a zero Config. Callers that need a custom Config use NewManager and
// thread the handle themselves.
func Default() *Manager {
	defaultManagerOnce.Do(func() {
		defaultManager = NewManager(Config{})
	})
	return defaultManager
}

// NewManager creates a manager. No proxy starts until Initialize sees
// a policy with an active network restriction.
func NewManager(config Config) *Manager {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	platform := config.Platform
	if platform == 0 {
		platform = DetectPlatform()
	}
	return &Manager{
		config:   config,
		platform: platform,
		logger:   logger,
		seccomp:  NewSeccompResolver(config.SeccompArtifactDir, logger),
	}
}

// Platform returns the enforcement platform in use.
func (m *Manager) Platform() Platform {
	return m.platform
}

// Initialize installs the first policy. Idempotent when called again
// with an equal policy; a different policy without an intervening
// Reset returns ErrAlreadyInitialized. A policy stored by an earlier
// UpdateConfig call replaces the initial one.
func (m *Manager) Initialize(input *policy.Input) error {
	snapshot, err := input.Normalize()
	if err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.state != StateUninitialized {
		if snapshot.Equal(m.snapshot) {
			return nil
		}
		return ErrAlreadyInitialized
	}

	if m.pending != nil {
		// UpdateConfig ran before Initialize; the stored policy is the
		// newer intent and wins.
		snapshot = m.pending
		m.pending = nil
	}

	m.violations = violation.NewStore(m.config.ViolationCapacity)
	if m.config.ViolationLogPath != "" {
		if err := m.violations.SetLogPath(m.config.ViolationLogPath); err != nil {
			m.logger.Warn("violation log unavailable", "path", m.config.ViolationLogPath, "error", err)
		}
	}
	if m.config.ViolationSocketPath != "" {
		streamer := violation.NewStreamer(m.violations, m.config.ViolationSocketPath, m.logger)
		if err := streamer.Start(); err != nil {
			m.logger.Warn("violation streamer unavailable", "error", err)
		} else {
			m.streamer = streamer
		}
	}

	if err := m.applySnapshotLocked(snapshot); err != nil {
		if m.streamer != nil {
			m.streamer.Stop()
			m.streamer = nil
		}
		m.violations.Close()
		m.violations = nil
		return err
	}
	m.logger.Info("sandbox manager initialized",
		"platform", m.platform.String(),
		"state", m.state.String(),
	)
	return nil
}

// UpdateConfig replaces the policy. Before Initialize it stores the
// policy for later; after, it atomically swaps the live snapshot,
// starting or stopping the proxy only when the presence of a network
// restriction changed — the port is preserved otherwise.
func (m *Manager) UpdateConfig(input *policy.Input) error {
	snapshot, err := input.Normalize()
	if err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.state == StateUninitialized {
		m.pending = snapshot
		return nil
	}
	return m.applySnapshotLocked(snapshot)
}

// applySnapshotLocked installs a snapshot and reconciles the proxy.
// Caller holds m.mutex.
func (m *Manager) applySnapshotLocked(snapshot *policy.Snapshot) error {
	wasRestricted := m.proxy != nil
	nowRestricted := snapshot.NetworkRestricted()

	switch {
	case nowRestricted && !wasRestricted:
		server, err := proxy.NewServer(proxy.Config{
			Policy:     snapshot,
			Violations: m.violations,
			Ask:        m.config.Ask,
			Logger:     m.logger,
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProxyBindFailed, err)
		}
		if err := server.Start(); err != nil {
			return fmt.Errorf("%w: %v", ErrProxyBindFailed, err)
		}
		m.proxy = server
		if m.config.ProxySocketPath != "" {
			socketBridge := &bridge.Bridge{
				SocketPath: m.config.ProxySocketPath,
				TargetAddr: fmt.Sprintf("127.0.0.1:%d", server.Port()),
				Logger:     m.logger,
			}
			if err := socketBridge.Start(); err != nil {
				m.logger.Warn("proxy socket bridge unavailable", "error", err)
			} else {
				m.bridge = socketBridge
			}
		}

	case nowRestricted && wasRestricted:
		m.proxy.UpdatePolicy(snapshot)

	case !nowRestricted && wasRestricted:
		if m.bridge != nil {
			m.bridge.Stop()
			m.bridge = nil
		}
		m.proxy.Close()
		m.proxy = nil
	}

	m.snapshot = snapshot
	if m.proxy != nil {
		m.state = StateActive
	} else {
		m.state = StateConfigured
	}
	return nil
}

// Reset stops the proxy, releases the violation ring and staged
// seccomp artifacts, and returns to the uninitialized state. In-flight
// proxy connections are severed; there is no graceful drain.
func (m *Manager) Reset() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.bridge != nil {
		m.bridge.Stop()
		m.bridge = nil
	}
	if m.proxy != nil {
		m.proxy.Close()
		m.proxy = nil
	}
	if m.streamer != nil {
		m.streamer.Stop()
		m.streamer = nil
	}
	if m.violations != nil {
		m.violations.Close()
		m.violations = nil
	}
	m.seccomp.Close()
	m.snapshot = nil
	m.pending = nil
	m.state = StateUninitialized
	m.logger.Info("sandbox manager reset")
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state
}

// ProxyPort returns the filtering proxy's loopback port, or zero when
// no proxy is running. The port is stable until Reset.
func (m *Manager) ProxyPort() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.proxy == nil {
		return 0
	}
	return m.proxy.Port()
}

// Violations returns the violation store, or nil before Initialize.
func (m *Manager) Violations() *violation.Store {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.violations
}

// Config returns the current policy re-expressed in the input shape,
// or nil when uninitialized. Empty collections surface as absent: an
// empty network allow list means "deny all", and callers must be able
// to tell that apart from "no restriction", which only the presence of
// the network section conveys. The stored snapshot keeps the explicit
// empty sets.
func (m *Manager) Config() *policy.Input {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.snapshot == nil {
		return nil
	}

	input := &policy.Input{}
	if read := m.snapshot.Read; read != nil {
		switch read.Mode {
		case policy.ReadDenyOnly:
			input.Filesystem.DenyRead = presentOrNil(read.Deny)
		case policy.ReadAllowOnly:
			input.Filesystem.AllowRead = presentOrNil(read.Allow)
			input.Filesystem.DenyReadWithinAllow = presentOrNil(read.DenyWithinAllow)
		}
	}
	if write := m.snapshot.Write; write != nil {
		input.Filesystem.AllowWrite = presentOrNil(write.Allow)
		input.Filesystem.DenyWrite = presentOrNil(write.DenyWithinAllow)
	}
	if network := m.networkRestrictionLocked(); network != nil {
		input.Network = *network
	}
	return input
}

// NetworkRestrictionConfig returns the derived network shape, or nil
// when no network restriction exists. Empty collections surface as
// absent per the getter normalization rule.
func (m *Manager) NetworkRestrictionConfig() *policy.NetworkInput {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.networkRestrictionLocked()
}

func (m *Manager) networkRestrictionLocked() *policy.NetworkInput {
	if m.snapshot == nil || m.snapshot.Network == nil {
		return nil
	}
	return &policy.NetworkInput{
		AllowedDomains:      presentOrNil(m.snapshot.Network.AllowedHosts),
		DeniedDomains:       presentOrNil(m.snapshot.Network.DeniedHosts),
		UnrestrictedNetwork: m.snapshot.UnrestrictedNetwork,
		Restrict:            true,
	}
}

// WrapWithSandbox synthesizes the platform-appropriate shell string
// that runs command under the current policy. The shell defaults to
// bash; an absolute shell path is honored as given. The returned
// string reflects the snapshot at the time of the call.
func (m *Manager) WrapWithSandbox(command string, shell string) (string, error) {
	m.mutex.Lock()
	snapshot := m.snapshot
	state := m.state
	proxyPort := 0
	if m.proxy != nil {
		proxyPort = m.proxy.Port()
	}
	m.mutex.Unlock()

	if state == StateUninitialized {
		return "", ErrNotInitialized
	}
	if shell == "" {
		shell = "bash"
	}

	switch m.platform {
	case PlatformMacos:
		return m.wrapSeatbelt(snapshot, command, shell, proxyPort)
	case PlatformLinux, PlatformWSL:
		return m.wrapJail(snapshot, command, shell, proxyPort)
	default:
		return "", ErrPlatformUnsupported
	}
}

// wrapSeatbelt writes the SBPL profile to a temp file and composes the
// sandbox-exec invocation.
func (m *Manager) wrapSeatbelt(snapshot *policy.Snapshot, command, shell string, proxyPort int) (string, error) {
	workingDirectory, _ := os.Getwd()
	profile := NewProfileBuilder().Build(snapshot, ProfileOptions{
		ProxyPort:           proxyPort,
		WorkingDirectory:    workingDirectory,
		AllowAllUnixSockets: m.config.AllowAllUnixSockets,
	})

	profileFile, err := os.CreateTemp("", "corral-profile-*.sb")
	if err != nil {
		return "", fmt.Errorf("write seatbelt profile: %w", err)
	}
	if _, err := profileFile.WriteString(profile); err != nil {
		profileFile.Close()
		os.Remove(profileFile.Name())
		return "", fmt.Errorf("write seatbelt profile: %w", err)
	}
	if err := profileFile.Close(); err != nil {
		os.Remove(profileFile.Name())
		return "", fmt.Errorf("write seatbelt profile: %w", err)
	}

	var wrapper strings.Builder
	if snapshot.NetworkRestricted() && proxyPort > 0 {
		address := fmt.Sprintf("http://127.0.0.1:%d", proxyPort)
		fmt.Fprintf(&wrapper, "HTTP_PROXY=%s HTTPS_PROXY=%s http_proxy=%s https_proxy=%s ",
			address, address, address, address)
	}
	fmt.Fprintf(&wrapper, "sandbox-exec -f %s %s -c %s",
		shellQuote(profileFile.Name()), shell, shellQuote(command))
	return wrapper.String(), nil
}

// wrapJail stages the seccomp filter and composes the bwrap
// invocation. The filter file is attached through a high-numbered fd
// redirect appended to the wrapper string.
func (m *Manager) wrapJail(snapshot *policy.Snapshot, command, shell string, proxyPort int) (string, error) {
	variant := SeccompDefault
	if m.config.AllowAllUnixSockets {
		variant = SeccompAllowUnix
	}
	filterPath, err := m.seccomp.Resolve(variant)
	if err != nil {
		return "", err
	}

	proxySocket := ""
	m.mutex.Lock()
	if m.bridge != nil {
		proxySocket = m.config.ProxySocketPath
	}
	m.mutex.Unlock()

	workingDirectory, _ := os.Getwd()
	args, err := NewJailBuilder().Build(snapshot, JailOptions{
		ProxyPort:         proxyPort,
		ProxySocket:       proxySocket,
		WorkingDirectory:  workingDirectory,
		SeccompFilterPath: filterPath,
	})
	if err != nil {
		return "", err
	}

	var wrapper strings.Builder
	wrapper.WriteString("bwrap")
	for _, arg := range args {
		wrapper.WriteByte(' ')
		wrapper.WriteString(shellQuote(arg))
	}
	fmt.Fprintf(&wrapper, " %s -c %s %d<%s",
		shell, shellQuote(command), SeccompFD, shellQuote(filterPath))
	return wrapper.String(), nil
}

// shellQuote single-quotes a string for POSIX shells. Safe for any
// byte content; embedded single quotes are closed, escaped, reopened.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$&|;<>()*?[]#~%!{}`") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// presentOrNil converts an empty collection to nil for getter output.
func presentOrNil(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	return values
}
