// build.go implements the 'locktrace build' command.
package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kolkov/locktrace/cmd/locktrace/instrument"
	"github.com/kolkov/locktrace/cmd/locktrace/runtime"
)

// newBuildCmd returns the 'locktrace build' command.
//
// This command rewrites Go source files and builds them with the tracing
// shim linked in. It acts as a drop-in replacement for 'go build',
// supporting all standard flags, so cobra flag parsing is disabled.
//
// Flow:
//  1. Parse arguments (source files + go build flags)
//  2. Create temporary workspace
//  3. Instrument source files (sync.Mutex -> locktrace.Mutex)
//  4. Setup runtime linking (go.mod overlay)
//  5. Call 'go build' with instrumented code
//  6. Cleanup temporary files
//
// Example:
//
//	locktrace build main.go
//	locktrace build -o myapp main.go helper.go
//	locktrace build -ldflags="-s -w" .
func newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "build [build flags] [files or directories]",
		Short:              "Build a Go program with mutex tracing",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if isHelp(args) {
				return cmd.Help()
			}
			config, err := parseBuildArgs(args)
			if err != nil {
				return err
			}
			if err := buildBinary(config, cmd.OutOrStdout()); err != nil {
				return err
			}
			if config.outputFile != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Built successfully: %s\n", config.outputFile)
			}
			return nil
		},
	}
}

// isHelp reports whether args ask for help. Flag parsing is disabled, so
// cobra does not handle -h itself.
func isHelp(args []string) bool {
	return len(args) == 1 && (args[0] == "-h" || args[0] == "--help" || args[0] == "help")
}

// buildBinary runs the full instrument-and-build pipeline for config.
func buildBinary(config *buildConfig, out io.Writer) error {
	if err := runtime.ValidateRuntimeAvailable(); err != nil {
		return fmt.Errorf("locktrace runtime not available: %w", err)
	}

	workspace, err := createWorkspace()
	if err != nil {
		return fmt.Errorf("error creating workspace: %w", err)
	}
	defer workspace.cleanup()

	if err := instrumentSources(config, workspace, out); err != nil {
		return fmt.Errorf("error instrumenting sources: %w", err)
	}

	if err := workspace.setupRuntimeLinking(config.sourceDir()); err != nil {
		return fmt.Errorf("error setting up runtime: %w", err)
	}

	if err := workspace.build(config); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	return nil
}

// buildConfig holds configuration for the build command.
type buildConfig struct {
	// Source files to instrument and build
	sourceFiles []string

	// Output binary name (from -o flag)
	outputFile string

	// Additional go build flags
	buildFlags []string

	// Working directory for build
	workDir string

	// Verbose output flag (-v)
	verbose bool
}

// sourceDir returns the directory of the first source, used to find the
// user's go.mod.
func (c *buildConfig) sourceDir() string {
	if len(c.sourceFiles) == 0 {
		return c.workDir
	}
	src := c.sourceFiles[0]
	if !filepath.IsAbs(src) {
		src = filepath.Join(c.workDir, src)
	}
	if info, err := os.Stat(src); err == nil && info.IsDir() {
		return src
	}
	return filepath.Dir(src)
}

// parseBuildArgs parses command-line arguments for 'locktrace build'.
//
// It separates:
//   - Source files (.go files or directories)
//   - Output file (-o flag)
//   - Go build flags (everything else)
func parseBuildArgs(args []string) (*buildConfig, error) {
	config := &buildConfig{
		sourceFiles: []string{},
		buildFlags:  []string{},
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	config.workDir = cwd

	expectingValue := false
	for i := 0; i < len(args); i++ {
		arg := args[i]

		// The previous flag takes this argument as its value, even if it
		// starts with a dash: -ldflags "-s -w"
		if expectingValue {
			config.buildFlags = append(config.buildFlags, arg)
			expectingValue = false
			continue
		}

		if arg == "-o" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("-o flag requires an argument")
			}
			i++
			config.outputFile = args[i]
			continue
		}

		if strings.HasPrefix(arg, "-o=") {
			config.outputFile = strings.TrimPrefix(arg, "-o=")
			continue
		}

		if arg == "-v" {
			config.verbose = true
			continue
		}

		if strings.HasPrefix(arg, "-") {
			config.buildFlags = append(config.buildFlags, arg)
			expectingValue = needsValue(arg)
			continue
		}

		// No dash prefix: a .go file, directory or package path.
		config.sourceFiles = append(config.sourceFiles, arg)
	}

	if len(config.sourceFiles) == 0 {
		config.sourceFiles = []string{"."}
	}

	return config, nil
}

// needsValue returns true if the flag expects a following value.
func needsValue(flag string) bool {
	valueFlags := []string{
		"-ldflags", "-gcflags", "-asmflags", "-gccgoflags",
		"-tags", "-installsuffix", "-buildmode", "-mod",
		"-modfile", "-overlay", "-pkgdir", "-toolexec",
	}

	for _, vf := range valueFlags {
		// Already has = format (e.g., -ldflags=-s)
		if strings.HasPrefix(flag, vf+"=") {
			return false
		}
		if flag == vf {
			return true
		}
	}

	return false
}

// workspace represents a temporary workspace for instrumented code.
type workspace struct {
	// Root directory of workspace
	dir string

	// Source directory (where instrumented .go files go)
	srcDir string
}

// createWorkspace creates a temporary workspace for building instrumented code.
func createWorkspace() (*workspace, error) {
	dir, err := os.MkdirTemp("", "locktrace-build-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	srcDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcDir, 0755); err != nil {
		_ = os.RemoveAll(dir) // Cleanup on error, ignore removal errors
		return nil, fmt.Errorf("failed to create src directory: %w", err)
	}

	return &workspace{
		dir:    dir,
		srcDir: srcDir,
	}, nil
}

// cleanup removes the temporary workspace.
func (w *workspace) cleanup() {
	if w.dir != "" {
		_ = os.RemoveAll(w.dir) // Best effort cleanup, ignore errors
	}
}

// setupRuntimeLinking writes the workspace go.mod and tidies it.
func (w *workspace) setupRuntimeLinking(sourceDir string) error {
	overlayPath, err := runtime.ModFileOverlay(w.dir, sourceDir)
	if err != nil {
		return fmt.Errorf("failed to create go.mod overlay: %w", err)
	}

	goModPath := filepath.Join(w.dir, "go.mod")
	if err := os.Rename(overlayPath, goModPath); err != nil {
		return fmt.Errorf("failed to setup go.mod: %w", err)
	}

	tidyCmd := exec.Command("go", "mod", "tidy")
	tidyCmd.Dir = w.dir // go.mod is in workspace root, not src/
	tidyCmd.Stdout = os.Stdout
	tidyCmd.Stderr = os.Stderr
	if err := tidyCmd.Run(); err != nil {
		return fmt.Errorf("failed to tidy go.mod: %w", err)
	}
	return nil
}

// build runs 'go build' on the instrumented code in the workspace.
func (w *workspace) build(config *buildConfig) error {
	args := []string{"build"}

	if config.outputFile != "" {
		outputPath := config.outputFile
		if !filepath.IsAbs(outputPath) {
			outputPath = filepath.Join(config.workDir, outputPath)
		}
		args = append(args, "-o", outputPath)
	}

	args = append(args, config.buildFlags...)
	args = append(args, runtime.BuildFlags()...)
	args = append(args, ".")

	cmd := exec.Command("go", args...)
	cmd.Dir = w.srcDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}

// instrumentSources instruments all source files and writes them to workspace.
func instrumentSources(config *buildConfig, workspace *workspace, out io.Writer) error {
	goFiles, err := collectGoFiles(config.sourceFiles, config.workDir)
	if err != nil {
		return fmt.Errorf("failed to collect source files: %w", err)
	}

	if len(goFiles) == 0 {
		return fmt.Errorf("no Go source files found")
	}

	for _, srcPath := range goFiles {
		result, err := instrument.InstrumentFile(srcPath, nil)
		if err != nil {
			return fmt.Errorf("failed to instrument %s: %w", srcPath, err)
		}

		// Flatten into one package directory.
		outPath := filepath.Join(workspace.srcDir, filepath.Base(srcPath))
		if err := os.WriteFile(outPath, []byte(result.Code), 0644); err != nil {
			return fmt.Errorf("failed to write instrumented file %s: %w", outPath, err)
		}

		if config.verbose {
			fmt.Fprintf(out, "Instrumented: %s -> %s\n", srcPath, outPath)
			printStats(out, result.Stats)
		}
	}

	return nil
}

func printStats(out io.Writer, stats instrument.InstrumentStats) {
	fmt.Fprintf(out, "  - %d mutex references rewritten\n", stats.MutexesRewritten)
	if stats.PreloadInjected {
		fmt.Fprintf(out, "  - preload hook injected (%s)\n", runtime.GetRuntimePackagePath())
	}
	if stats.SyncRemoved {
		fmt.Fprintln(out, "  - unused sync import removed")
	}
}

// collectGoFiles finds all .go files from the given sources.
//
// Sources can be:
//   - .go files directly
//   - directories (scans for .go files, excluding tests)
//   - "." for current directory
func collectGoFiles(sources []string, workDir string) ([]string, error) {
	var goFiles []string

	for _, src := range sources {
		srcPath := src
		if !filepath.IsAbs(srcPath) {
			srcPath = filepath.Join(workDir, src)
		}

		info, err := os.Stat(srcPath)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", src, err)
		}

		if !info.IsDir() {
			if strings.HasSuffix(srcPath, ".go") {
				goFiles = append(goFiles, srcPath)
			}
			continue
		}

		entries, err := os.ReadDir(srcPath)
		if err != nil {
			return nil, fmt.Errorf("cannot read directory %s: %w", srcPath, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go") {
				goFiles = append(goFiles, filepath.Join(srcPath, name))
			}
		}
	}

	return goFiles, nil
}
