// instrument.go implements the 'locktrace instrument' command.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kolkov/locktrace/cmd/locktrace/instrument"
)

// newInstrumentCmd returns the 'locktrace instrument' command, which
// prints or writes the rewritten sources without building them.
//
// Example:
//
//	locktrace instrument main.go
//	locktrace instrument -d out/ ./cmd/server
func newInstrumentCmd() *cobra.Command {
	var (
		outDir  string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "instrument [flags] files or directories...",
		Short: "Print Go sources rewritten for mutex tracing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
			goFiles, err := collectGoFiles(args, cwd)
			if err != nil {
				return err
			}
			if len(goFiles) == 0 {
				return fmt.Errorf("no Go source files found")
			}
			if outDir != "" {
				if err := os.MkdirAll(outDir, 0755); err != nil {
					return fmt.Errorf("failed to create %s: %w", outDir, err)
				}
			}
			for _, path := range goFiles {
				if err := instrumentOne(cmd.OutOrStdout(), cmd.ErrOrStderr(), path, outDir, verbose); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "dir", "d", "", "write rewritten files to this directory instead of stdout")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print rewrite statistics to stderr")
	return cmd
}

func instrumentOne(stdout, stderr io.Writer, path, outDir string, verbose bool) error {
	result, err := instrument.InstrumentFile(path, nil)
	if err != nil {
		return fmt.Errorf("failed to instrument %s: %w", path, err)
	}
	if verbose {
		fmt.Fprintf(stderr, "Instrumented: %s\n", path)
		printStats(stderr, result.Stats)
	}

	if outDir == "" {
		_, err := io.WriteString(stdout, result.Code)
		return err
	}
	outPath := filepath.Join(outDir, filepath.Base(path))
	if err := os.WriteFile(outPath, []byte(result.Code), 0644); err != nil {
		return fmt.Errorf("failed to write instrumented file %s: %w", outPath, err)
	}
	return nil
}
