// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/corral-foundation/corral/lib/config"
	"github.com/corral-foundation/corral/policy"
	"github.com/corral-foundation/corral/sandbox"
	"github.com/corral-foundation/corral/violation"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if os.Getenv("CORRAL_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "run":
		err = runCmd(args, logger)
	case "wrap":
		err = wrapCmd(args, logger)
	case "check":
		err = checkCmd(args, logger)
	case "test":
		err = testCmd(args, logger)
	case "violations":
		err = violationsCmd(args)
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if code, ok := sandbox.IsExitError(err); ok {
			os.Exit(code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`corral - run commands under policy-driven sandboxing

USAGE
    corral <command> [flags] [-- <command string>]

COMMANDS
    run           Run a command under the sandbox (starts the proxy,
                  propagates the exit code)
    wrap          Print the wrapper string without executing it
    check         Pre-flight validation of the host and policy
    test          Run the containment self-test battery
    violations    Stream violation records from a manager socket

FLAGS (run, wrap, check, test)
    --policy <file>     Policy file (YAML/JSON/JSONC); CORRAL_POLICY
                        is consulted when the flag is absent
    --shell <shell>     Shell for the wrapped command (default bash)
    --watch             (run) reload the policy file on change
    --allow-unix        Select the relaxed seccomp/unix-socket variant
    --violations-socket <path>
                        Stream violation records on this unix socket

ENVIRONMENT
    CORRAL_POLICY       Default policy file path
    CORRAL_SECCOMP_DIR  Seccomp BPF artifact directory
    CORRAL_DEBUG        Enable debug logging when non-empty
`)
}

// managerFlags are shared by run/wrap/test.
type managerFlags struct {
	policyPath       string
	shell            string
	watch            bool
	allowUnix        bool
	violationsSocket string
}

func parseManagerFlags(name string, args []string) (*managerFlags, []string, error) {
	flags := &managerFlags{}
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.StringVar(&flags.policyPath, "policy", "", "policy file path")
	flagSet.StringVar(&flags.shell, "shell", "", "shell for the wrapped command")
	flagSet.BoolVar(&flags.watch, "watch", false, "reload the policy file on change")
	flagSet.BoolVar(&flags.allowUnix, "allow-unix", false, "relaxed unix-socket variant")
	flagSet.StringVar(&flags.violationsSocket, "violations-socket", "", "expose the violation stream on this unix socket")
	if err := flagSet.Parse(args); err != nil {
		return nil, nil, err
	}
	return flags, flagSet.Args(), nil
}

// setupManager loads the policy and initializes a manager.
func setupManager(flags *managerFlags, logger *slog.Logger) (*sandbox.Manager, error) {
	input, err := config.Load(flags.policyPath)
	if err != nil {
		return nil, err
	}
	manager := sandbox.NewManager(sandbox.Config{
		Logger:              logger,
		AllowAllUnixSockets: flags.allowUnix,
		ViolationSocketPath: flags.violationsSocket,
	})
	if err := manager.Initialize(input); err != nil {
		return nil, err
	}
	return manager, nil
}

func runCmd(args []string, logger *slog.Logger) error {
	flags, rest, err := parseManagerFlags("run", args)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return fmt.Errorf("run: no command given (use -- <command>)")
	}
	commandString := strings.Join(rest, " ")

	manager, err := setupManager(flags, logger)
	if err != nil {
		return err
	}
	defer manager.Reset()

	if flags.watch && flags.policyPath != "" {
		stop, watchErr := config.Watch(flags.policyPath,
			func(input *policy.Input) {
				if updateErr := manager.UpdateConfig(input); updateErr != nil {
					logger.Error("policy update rejected", "error", updateErr)
					return
				}
				logger.Info("policy reloaded", "path", flags.policyPath)
			},
			func(watchErr error) {
				logger.Error("policy watch", "error", watchErr)
			},
		)
		if watchErr != nil {
			return watchErr
		}
		defer stop()
	}

	wrapper, err := manager.WrapWithSandbox(commandString, flags.shell)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	child := exec.CommandContext(ctx, "sh", "-c", wrapper)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	return child.Run()
}

func wrapCmd(args []string, logger *slog.Logger) error {
	flags, rest, err := parseManagerFlags("wrap", args)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return fmt.Errorf("wrap: no command given (use -- <command>)")
	}

	manager, err := setupManager(flags, logger)
	if err != nil {
		return err
	}
	defer manager.Reset()

	wrapper, err := manager.WrapWithSandbox(strings.Join(rest, " "), flags.shell)
	if err != nil {
		return err
	}
	fmt.Println(wrapper)
	if port := manager.ProxyPort(); port > 0 {
		// The proxy dies with this process; the printed wrapper is
		// only executable while a manager is running.
		logger.Warn("wrapper references this process's proxy", "port", port)
	}
	return nil
}

func testCmd(args []string, logger *slog.Logger) error {
	flags, _, err := parseManagerFlags("test", args)
	if err != nil {
		return err
	}
	manager, err := setupManager(flags, logger)
	if err != nil {
		return err
	}
	defer manager.Reset()

	runner := sandbox.NewEscapeTestRunner(manager, flags.shell)
	results, err := runner.RunAll(context.Background())
	if err != nil {
		return err
	}

	styles := newStyles()
	failed := 0
	for _, result := range results {
		switch {
		case result.Skipped:
			fmt.Printf("%s %s\n", styles.skip.Render("SKIP"), result.Test.Name)
		case result.Passed:
			fmt.Printf("%s %s\n", styles.pass.Render("PASS"), result.Test.Name)
		default:
			failed++
			fmt.Printf("%s %s: %s\n", styles.fail.Render("FAIL"), result.Test.Name, result.Detail)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d containment test(s) failed", failed)
	}
	return nil
}

func checkCmd(args []string, logger *slog.Logger) error {
	flags, _, err := parseManagerFlags("check", args)
	if err != nil {
		return err
	}

	manager := sandbox.NewManager(sandbox.Config{Logger: logger})
	defer manager.Reset()
	if flags.policyPath != "" || os.Getenv(config.EnvVar) != "" {
		input, loadErr := config.Load(flags.policyPath)
		if loadErr != nil {
			return loadErr
		}
		if initErr := manager.Initialize(input); initErr != nil {
			return initErr
		}
	}

	validator := sandbox.NewValidator()
	validator.ValidateAll(manager, flags.shell)

	styles := newStyles()
	for _, result := range validator.Results() {
		switch {
		case !result.Passed:
			fmt.Printf("%s %-18s %s\n", styles.fail.Render("FAIL"), result.Name, result.Message)
		case result.Warning:
			fmt.Printf("%s %-18s %s\n", styles.skip.Render("WARN"), result.Name, result.Message)
		default:
			fmt.Printf("%s %-18s %s\n", styles.pass.Render(" OK "), result.Name, result.Message)
		}
	}

	capabilities := sandbox.ProbeCapabilities()
	fmt.Printf("\nplatform %s: read-deny=%v write-allow=%v proxy=%v seccomp=%v rename-defense=%v\n",
		capabilities.Platform,
		capabilities.FileReadDeny,
		capabilities.FileWriteAllow,
		capabilities.NetworkProxy,
		capabilities.SyscallFilter,
		capabilities.RenameDefense,
	)

	if validator.HasErrors() {
		return fmt.Errorf("pre-flight validation failed")
	}
	return nil
}

func violationsCmd(args []string) error {
	var socketPath string
	flagSet := pflag.NewFlagSet("violations", pflag.ContinueOnError)
	flagSet.StringVar(&socketPath, "socket", "", "violation stream socket path")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if socketPath == "" {
		return fmt.Errorf("violations: --socket is required")
	}

	connection, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer connection.Close()

	decoder := cbor.NewDecoder(connection)
	for {
		var record violation.Record
		if err := decoder.Decode(&record); err != nil {
			return nil
		}
		fmt.Printf("%s %-8s %s", record.Time.Format("15:04:05"), record.Kind, record.Target)
		if record.MatchedRule != "" {
			fmt.Printf(" (rule: %s)", record.MatchedRule)
		}
		fmt.Println()
	}
}

// styles holds the check/test output styling, disabled off-terminal.
type styles struct {
	pass, fail, skip lipgloss.Style
}

func newStyles() styles {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		plain := lipgloss.NewStyle()
		return styles{pass: plain, fail: plain, skip: plain}
	}
	return styles{
		pass: lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		fail: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		skip: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	}
}
