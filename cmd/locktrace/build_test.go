// build_test.go tests the 'locktrace build' command.
package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestParseBuildArgs tests source, output and go build flag separation.
func TestParseBuildArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		sources []string
		output  string
		flags   []string
		verbose bool
	}{
		{
			name:    "single file",
			args:    []string{"main.go"},
			sources: []string{"main.go"},
			flags:   []string{},
		},
		{
			name:    "multiple files",
			args:    []string{"main.go", "helper.go", "utils.go"},
			sources: []string{"main.go", "helper.go", "utils.go"},
			flags:   []string{},
		},
		{
			name:    "dash o space",
			args:    []string{"-o", "myapp", "main.go"},
			sources: []string{"main.go"},
			output:  "myapp",
			flags:   []string{},
		},
		{
			name:    "dash o equals",
			args:    []string{"-o=myapp", "main.go"},
			sources: []string{"main.go"},
			output:  "myapp",
			flags:   []string{},
		},
		{
			name:    "flag values starting with dash",
			args:    []string{"-ldflags", "-s -w", "-tags", "production", "main.go"},
			sources: []string{"main.go"},
			flags:   []string{"-ldflags", "-s -w", "-tags", "production"},
		},
		{
			name:    "no args defaults to current directory",
			args:    []string{},
			sources: []string{"."},
			flags:   []string{},
		},
		{
			name: "complex command",
			args: []string{
				"-o", "myapp",
				"-v",
				"-ldflags", "-s -w",
				"-gcflags=-N -l",
				"-trimpath",
				"main.go", "server.go",
			},
			sources: []string{"main.go", "server.go"},
			output:  "myapp",
			flags:   []string{"-ldflags", "-s -w", "-gcflags=-N -l", "-trimpath"},
			verbose: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := parseBuildArgs(tt.args)
			if err != nil {
				t.Fatalf("parseBuildArgs() error: %v", err)
			}
			if diff := cmp.Diff(tt.sources, config.sourceFiles); diff != "" {
				t.Errorf("sources mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.flags, config.buildFlags); diff != "" {
				t.Errorf("build flags mismatch (-want +got):\n%s", diff)
			}
			if config.outputFile != tt.output {
				t.Errorf("output = %q, want %q", config.outputFile, tt.output)
			}
			if config.verbose != tt.verbose {
				t.Errorf("verbose = %v, want %v", config.verbose, tt.verbose)
			}
		})
	}
}

// TestParseBuildArgs_MissingOutput tests -o without a value.
func TestParseBuildArgs_MissingOutput(t *testing.T) {
	if _, err := parseBuildArgs([]string{"main.go", "-o"}); err == nil {
		t.Error("Expected error for -o without argument, got nil")
	}
}

// TestBuildConfig_SourceDir tests go.mod lookup directory selection.
func TestBuildConfig_SourceDir(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "cmd")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	tests := map[string]*buildConfig{
		dir: {workDir: dir, sourceFiles: []string{"main.go"}},
		sub: {workDir: dir, sourceFiles: []string{"cmd"}},
	}
	for want, config := range tests {
		if got := config.sourceDir(); got != want {
			t.Errorf("sourceDir(%v) = %q, want %q", config.sourceFiles, got, want)
		}
	}
}

// TestCreateWorkspace tests workspace creation and cleanup.
func TestCreateWorkspace(t *testing.T) {
	ws, err := createWorkspace()
	if err != nil {
		t.Fatalf("createWorkspace() error: %v", err)
	}

	if _, err := os.Stat(ws.srcDir); err != nil {
		t.Errorf("Workspace src directory %s: %v", ws.srcDir, err)
	}
	if !strings.Contains(ws.dir, "locktrace-build-") {
		t.Errorf("Workspace directory name doesn't match pattern: %s", ws.dir)
	}

	ws.cleanup()
	if _, err := os.Stat(ws.dir); !os.IsNotExist(err) {
		t.Errorf("Workspace directory %s still exists after cleanup", ws.dir)
	}
}

// TestCollectGoFiles tests Go file collection from a directory.
func TestCollectGoFiles(t *testing.T) {
	tempDir := t.TempDir()

	testFiles := []string{
		"main.go",
		"server.go",
		"utils.go",
		"main_test.go", // Excluded in build
		"README.md",    // Not a .go file
	}
	for _, name := range testFiles {
		path := filepath.Join(tempDir, name)
		if err := os.WriteFile(path, []byte("package main"), 0644); err != nil {
			t.Fatalf("Failed to create test file %s: %v", name, err)
		}
	}

	files, err := collectGoFiles([]string{tempDir}, "")
	if err != nil {
		t.Fatalf("collectGoFiles() error: %v", err)
	}

	want := []string{
		filepath.Join(tempDir, "main.go"),
		filepath.Join(tempDir, "server.go"),
		filepath.Join(tempDir, "utils.go"),
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
}

// TestCollectGoFiles_SingleFile tests collecting a single relative file.
func TestCollectGoFiles_SingleFile(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "main.go")
	if err := os.WriteFile(testFile, []byte("package main"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	files, err := collectGoFiles([]string{"main.go"}, tempDir)
	if err != nil {
		t.Fatalf("collectGoFiles() error: %v", err)
	}
	if len(files) != 1 || files[0] != testFile {
		t.Errorf("Expected [%s], got %v", testFile, files)
	}
}

// TestCollectGoFiles_NonExistent tests non-existent path handling.
func TestCollectGoFiles_NonExistent(t *testing.T) {
	_, err := collectGoFiles([]string{"/nonexistent/path/file.go"}, "")
	if err == nil {
		t.Error("Expected error for non-existent path, got nil")
	}
}

// TestNeedsValue tests flag value detection.
func TestNeedsValue(t *testing.T) {
	tests := []struct {
		flag     string
		expected bool
	}{
		{"-ldflags", true},
		{"-gcflags", true},
		{"-tags", true},
		{"-modfile", true},
		{"-o", false}, // Handled separately
		{"-v", false},
		{"-ldflags=-s -w", false}, // Already has =
		{"-race", false},
	}

	for _, tt := range tests {
		if got := needsValue(tt.flag); got != tt.expected {
			t.Errorf("needsValue(%q) = %v, want %v", tt.flag, got, tt.expected)
		}
	}
}

// TestInstrumentSources tests that sources are rewritten into the workspace.
func TestInstrumentSources(t *testing.T) {
	tempDir := t.TempDir()
	src := `package main

import "sync"

var mu sync.Mutex

func main() {
	mu.Lock()
	mu.Unlock()
}
`
	if err := os.WriteFile(filepath.Join(tempDir, "main.go"), []byte(src), 0644); err != nil {
		t.Fatal(err)
	}

	ws, err := createWorkspace()
	if err != nil {
		t.Fatalf("createWorkspace() error: %v", err)
	}
	defer ws.cleanup()

	config := &buildConfig{sourceFiles: []string{"main.go"}, workDir: tempDir, verbose: true}
	var out bytes.Buffer
	if err := instrumentSources(config, ws, &out); err != nil {
		t.Fatalf("instrumentSources() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(ws.srcDir, "main.go"))
	if err != nil {
		t.Fatalf("instrumented file missing: %v", err)
	}
	if !strings.Contains(string(data), "locktrace.Mutex") {
		t.Errorf("workspace file not rewritten:\n%s", data)
	}
	if !strings.Contains(out.String(), "1 mutex references rewritten") {
		t.Errorf("verbose output missing stats:\n%s", out.String())
	}
}

// TestInstrumentSources_NoFiles tests an empty source directory.
func TestInstrumentSources_NoFiles(t *testing.T) {
	ws, err := createWorkspace()
	if err != nil {
		t.Fatalf("createWorkspace() error: %v", err)
	}
	defer ws.cleanup()

	config := &buildConfig{sourceFiles: []string{t.TempDir()}}
	err = instrumentSources(config, ws, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "no Go source files") {
		t.Errorf("instrumentSources() = %v, want 'no Go source files'", err)
	}
}

// BenchmarkParseBuildArgs benchmarks argument parsing.
func BenchmarkParseBuildArgs(b *testing.B) {
	args := []string{"-o", "myapp", "-ldflags", "-s -w", "main.go", "server.go"}

	for i := 0; i < b.N; i++ {
		_, _ = parseBuildArgs(args)
	}
}
