// run.go implements the 'locktrace run' command.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kolkov/locktrace/internal/config"
)

// traceFlags maps the run command's own long flags to config keys. They
// must appear before the first source file.
var traceFlags = map[string]string{
	"output":       config.KeyOutput,
	"identity":     config.KeyIdentity,
	"metrics-file": config.KeyMetricsFile,
	"log-level":    config.KeyLogLevel,
	"disable":      config.KeyDisable,
}

// newRunCmd returns the 'locktrace run' command.
//
// This command instruments Go source files, builds them temporarily,
// and immediately executes the resulting binary with tracing enabled.
// It acts as a drop-in replacement for 'go run'.
//
// Flow:
//  1. Split off trace flags and merge them over LOCKTRACE_* settings
//  2. Parse arguments (source files + program arguments)
//  3. Build instrumented binary to temp location
//  4. Execute binary with program arguments and LOCKTRACE_* environment
//  5. Return program's exit code
//
// Example:
//
//	locktrace run main.go
//	locktrace run main.go arg1 arg2
//	locktrace run --output trace.log --identity goroutine main.go
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [trace flags] [build flags] files... [arguments...]",
		Short: "Run a Go program with mutex tracing",
		Long: `Run instruments, builds and runs a Go program like 'go run'.

Trace flags (before the first source file):
  --output stdout|stderr|PATH   trace destination (default stdout)
  --identity os|goroutine       thread identity (default os)
  --metrics-file PATH           write Prometheus metrics at exit
  --log-level LEVEL             diagnostic log level (default warn)
  --disable                     build and run without tracing`,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if isHelp(args) {
				return cmd.Help()
			}
			traceCfg, rest, err := extractTraceFlags(args)
			if err != nil {
				return err
			}
			buildCfg, programArgs, err := parseRunArgs(rest)
			if err != nil {
				return err
			}

			tempBinary, err := buildTemporary(buildCfg)
			if err != nil {
				return err
			}
			defer func() { _ = os.Remove(tempBinary) }() // Best effort cleanup

			env := append(os.Environ(), traceCfg.Environ()...)
			if code := executeBinary(tempBinary, programArgs, env); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
}

// extractTraceFlags removes the leading trace flags from args and merges
// them over the configuration loaded from the environment.
//
// Scanning stops at the first argument that is not a flag, so flags meant
// for the traced program are left alone. Go build flags are kept, with
// their values.
func extractTraceFlags(args []string) (*config.Config, []string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid LOCKTRACE configuration: %w", err)
	}

	var rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			rest = append(rest, args[i:]...)
			break
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		key, ok := traceFlags[name]
		if !strings.HasPrefix(arg, "--") || !ok {
			rest = append(rest, arg)
			if (arg == "-o" || needsValue(arg)) && i+1 < len(args) {
				i++
				rest = append(rest, args[i])
			}
			continue
		}

		if key == config.KeyDisable {
			cfg.Disable = !hasValue || value == "true" || value == "1"
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, nil, fmt.Errorf("--%s flag requires an argument", name)
			}
			i++
			value = args[i]
		}
		switch key {
		case config.KeyOutput:
			cfg.Output = absOutput(value)
		case config.KeyIdentity:
			cfg.Identity = value
		case config.KeyMetricsFile:
			cfg.MetricsFile = value
		case config.KeyLogLevel:
			cfg.LogLevel = value
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, rest, nil
}

// absOutput makes a trace file path absolute; the standard streams are kept.
func absOutput(value string) string {
	switch value {
	case "stdout", "stderr", "-":
		return value
	}
	if abs, err := filepath.Abs(value); err == nil {
		return abs
	}
	return value
}

// parseRunArgs separates source files from program arguments.
//
// The 'go run' command format is:
//
//	go run [build flags] [-exec xprog] package [arguments...]
//
// We support:
//
//	locktrace run file.go [arguments...]
//	locktrace run file1.go file2.go [arguments...]
//
// Build flags (if any) come before source files.
// Everything after source files are program arguments.
func parseRunArgs(args []string) (*buildConfig, []string, error) {
	if len(args) == 0 {
		return nil, nil, fmt.Errorf("no source files specified")
	}

	var sourceFiles []string
	var programArgs []string
	var buildFlags []string

	sawGoFile := false
	inProgramArgs := false

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if inProgramArgs {
			programArgs = append(programArgs, arg)
			continue
		}

		// Build flags come before source files
		if !sawGoFile && (arg == "-o" || needsValue(arg)) {
			buildFlags = append(buildFlags, arg)
			if i+1 < len(args) {
				i++
				buildFlags = append(buildFlags, args[i])
			}
			continue
		}

		if filepath.Ext(arg) == ".go" {
			sourceFiles = append(sourceFiles, arg)
			sawGoFile = true
			continue
		}

		// Not a .go file and we've seen .go files → program args start here
		if sawGoFile {
			inProgramArgs = true
			programArgs = append(programArgs, arg)
			continue
		}

		buildFlags = append(buildFlags, arg)
	}

	if len(sourceFiles) == 0 {
		return nil, nil, fmt.Errorf("no Go source files specified")
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	config := &buildConfig{
		sourceFiles: sourceFiles,
		buildFlags:  buildFlags,
		workDir:     cwd,
	}

	return config, programArgs, nil
}

// buildTemporary builds the instrumented code to a temporary binary that
// the caller removes after the run.
func buildTemporary(config *buildConfig) (string, error) {
	tempBinary, err := os.CreateTemp("", "locktrace-run-*.exe")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempBinary.Name()
	_ = tempBinary.Close() // Ignore close error on temp file

	config.outputFile = tempPath
	if err := buildBinary(config, os.Stderr); err != nil {
		_ = os.Remove(tempPath) // Cleanup on error, ignore removal errors
		return "", err
	}
	return tempPath, nil
}

// executeBinary runs the instrumented binary with the given arguments and
// environment, forwarding the standard streams, and returns its exit code.
func executeBinary(binaryPath string, args, env []string) int {
	cmd := exec.Command(binaryPath, args...)
	cmd.Env = env

	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "Error executing binary: %v\n", err)
		return 1
	}

	return 0
}
