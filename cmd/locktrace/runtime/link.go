// Package runtime links the locktrace runtime into instrumented programs.
//
// Instrumented sources import github.com/kolkov/locktrace/locktrace. When
// the tool runs from a locktrace checkout, the generated go.mod replaces the
// module with that checkout; otherwise it requires the published version.
package runtime

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
)

const (
	// ModulePath is the module that provides the runtime package.
	ModulePath = "github.com/kolkov/locktrace"

	// ModuleVersion is required when no local checkout is found.
	ModuleVersion = "v0.1.0"

	// goVersion is written to generated go.mod files.
	goVersion = "1.24"
)

// ErrNoProjectRoot is returned when no locktrace checkout can be found.
var ErrNoProjectRoot = errors.New("could not find locktrace project root")

// GetRuntimePackagePath returns the import path instrumented code uses.
//
// Returns: "github.com/kolkov/locktrace/locktrace"
func GetRuntimePackagePath() string {
	return ModulePath + "/locktrace"
}

// ValidateRuntimeAvailable checks that instrumented code can be built: the
// go command must be on PATH. Without a local checkout the runtime module
// is fetched by go mod tidy.
func ValidateRuntimeAvailable() error {
	if _, err := exec.LookPath("go"); err != nil {
		return fmt.Errorf("go command not found: %w", err)
	}
	return nil
}

// findProjectRoot finds the root directory of a locktrace checkout.
//
// It walks up from the working directory and then tries the directories
// around the executable, accepting the first directory whose go.mod
// declares ModulePath. Any other go.mod belongs to the user's project.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for dir := cwd; ; {
		if isProjectRoot(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		candidates := []string{
			exeDir,                             // locktrace in project root
			filepath.Dir(exeDir),               // locktrace in bin/
			filepath.Dir(filepath.Dir(exeDir)), // deeper nesting
		}
		for _, candidate := range candidates {
			if isProjectRoot(candidate) {
				return candidate, nil
			}
		}
	}

	return "", ErrNoProjectRoot
}

// isProjectRoot reports whether dir holds the go.mod of ModulePath.
func isProjectRoot(dir string) bool {
	data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	if err != nil {
		return false
	}
	return modfile.ModulePath(data) == ModulePath
}

// findOriginalGoMod finds the go.mod of the project being instrumented by
// walking up from startDir. It returns "" when there is none.
func findOriginalGoMod(startDir string) string {
	dir := startDir
	for {
		modPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(modPath); err == nil {
			return modPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// BuildFlags returns additional flags needed for building instrumented code.
// The trace runtime needs none; CGO stays optional.
func BuildFlags() []string {
	return []string{}
}

// ModFileOverlay writes the go.mod for instrumented code to
// tempDir/go.mod.overlay and returns its path.
//
// The overlay requires the locktrace module, replaces it with the local
// checkout when one is found, and carries over the replace directives of the
// go.mod enclosing sourceDir with relative paths made absolute.
func ModFileOverlay(tempDir, sourceDir string) (string, error) {
	projectRoot, err := findProjectRoot()
	if err != nil {
		projectRoot = ""
	}
	return writeOverlay(tempDir, sourceDir, projectRoot)
}

func writeOverlay(tempDir, sourceDir, projectRoot string) (string, error) {
	f := new(modfile.File)
	if err := f.AddModuleStmt("instrumented"); err != nil {
		return "", err
	}
	if err := f.AddGoStmt(goVersion); err != nil {
		return "", err
	}
	if err := f.AddRequire(ModulePath, ModuleVersion); err != nil {
		return "", err
	}
	if projectRoot != "" {
		if err := f.AddReplace(ModulePath, "", projectRoot, ""); err != nil {
			return "", err
		}
	}

	if sourceDir != "" {
		if originalGoMod := findOriginalGoMod(sourceDir); originalGoMod != "" {
			for _, rep := range extractReplaceDirectives(originalGoMod) {
				if rep.Old.Path == ModulePath {
					continue
				}
				if err := f.AddReplace(rep.Old.Path, rep.Old.Version, rep.New.Path, rep.New.Version); err != nil {
					return "", fmt.Errorf("copy replace %s: %w", rep.Old.Path, err)
				}
			}
		}
	}

	data, err := f.Format()
	if err != nil {
		return "", fmt.Errorf("failed to format go.mod overlay: %w", err)
	}
	overlayPath := filepath.Join(tempDir, "go.mod.overlay")
	if err := os.WriteFile(overlayPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to create go.mod overlay: %w", err)
	}
	return overlayPath, nil
}

// extractReplaceDirectives reads the replace directives of a go.mod file,
// converting local relative paths to absolute ones.
func extractReplaceDirectives(goModPath string) []*modfile.Replace {
	data, err := os.ReadFile(goModPath)
	if err != nil {
		return nil
	}

	modFile, err := modfile.Parse(goModPath, data, nil)
	if err != nil {
		return nil
	}

	goModDir := filepath.Dir(goModPath)
	for _, rep := range modFile.Replace {
		if rep.New.Version == "" && isLocalPath(rep.New.Path) && !filepath.IsAbs(rep.New.Path) {
			if absPath, err := filepath.Abs(filepath.Join(goModDir, rep.New.Path)); err == nil {
				rep.New.Path = absPath
			}
		}
	}
	return modFile.Replace
}

// isLocalPath checks if a path is a local filesystem path (not a module path).
//
// Local paths start with ./, ../, /, or a drive letter on Windows.
func isLocalPath(path string) bool {
	if strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") {
		return true
	}
	if filepath.IsAbs(path) {
		return true
	}
	// Windows drive letter check (e.g., C:\)
	if len(path) >= 2 && path[1] == ':' {
		return true
	}
	// Paths like "subdir/module" contain a separator but no dots.
	if strings.ContainsAny(path, `/\`) && !strings.Contains(path, ".") {
		return true
	}
	return false
}
