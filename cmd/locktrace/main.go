// Package main implements the locktrace CLI tool.
//
// The locktrace tool traces mutex lock and unlock calls of Go programs
// without CGO or LD_PRELOAD. It works by:
//
//  1. Parsing Go source files using go/ast
//  2. Rewriting sync.Mutex to locktrace.Mutex
//  3. Injecting an init function that preloads the tracing shim
//  4. Building/running the rewritten code
//
// Usage:
//
//	locktrace build main.go                   # Build with tracing
//	locktrace run main.go                     # Run with tracing
//	locktrace run --output trace.log main.go  # Trace to a file
//	locktrace instrument main.go              # Print the rewritten source
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kolkov/locktrace/locktrace"
)

// exitError carries the exit status of a traced program.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "locktrace",
		Short: "Trace mutex lock and unlock calls of Go programs",
		Long: `locktrace rewrites sync.Mutex to locktrace.Mutex and preloads a shim that
prints one line per lock and unlock:

    thread: 4242 - pthread_mutex_lock(0xc000012345)
    thread: 4242 - pthread_mutex_unlock(0xc000012345)

Lock lines are written after the lock is acquired; unlock lines before the
mutex is released. Instrumented binaries read LOCKTRACE_OUTPUT,
LOCKTRACE_IDENTITY, LOCKTRACE_DISABLE, LOCKTRACE_METRICS_FILE and
LOCKTRACE_LOG_LEVEL at startup.`,
		Example: `  # Build a traced binary
  locktrace build -o myapp main.go

  # Run a program, tracing to a file with goroutine ids
  locktrace run --output trace.log --identity goroutine main.go --flag=value

  # Show what the rewrite does
  locktrace instrument main.go`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newBuildCmd(),
		newRunCmd(),
		newInstrumentCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := locktrace.GetInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "locktrace version %s\n", info.Version)
			fmt.Fprintf(cmd.OutOrStdout(), "intercepts: %v\n", info.Symbols)
		},
	}
}
