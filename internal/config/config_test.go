// Copyright 2025 The locktrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/kolkov/locktrace/internal/tid"
)

// isolate runs the test in an empty directory with no LOCKTRACE_* variables.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, EnvPrefix+"_") {
			name, _, _ := strings.Cut(kv, "=")
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), c); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Environment(t *testing.T) {
	isolate(t)
	t.Setenv("LOCKTRACE_OUTPUT", "stderr")
	t.Setenv("LOCKTRACE_IDENTITY", "goroutine")
	t.Setenv("LOCKTRACE_DISABLE", "true")
	t.Setenv("LOCKTRACE_METRICS_FILE", "/tmp/m.prom")
	t.Setenv("LOCKTRACE_LOG_LEVEL", "debug")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := &Config{
		Output:      "stderr",
		Identity:    "goroutine",
		Disable:     true,
		MetricsFile: "/tmp/m.prom",
		LogLevel:    "debug",
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if _, ok := c.Source().(tid.Goroutine); !ok {
		t.Errorf("Source() = %T, want tid.Goroutine", c.Source())
	}
	if c.Logger().GetLevel() != logrus.DebugLevel {
		t.Errorf("Logger level = %v, want debug", c.Logger().GetLevel())
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LOCKTRACE_IDENTITY=goroutine\n"), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Identity != "goroutine" {
		t.Errorf("Identity = %q, want goroutine from .env", c.Identity)
	}
	if v, ok := os.LookupEnv("LOCKTRACE_IDENTITY"); ok {
		t.Errorf("Load exported LOCKTRACE_IDENTITY=%q to the process", v)
	}
}

// TestLoad_DotEnvLeavesHostEnvironment checks that keys the traced program
// reads from its own .env are not injected into its environment.
func TestLoad_DotEnvLeavesHostEnvironment(t *testing.T) {
	dir := isolate(t)
	body := "APP_DATABASE_URL=postgres://app\nLOCKTRACE_LOG_LEVEL=error\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("APP_DATABASE_URL", "")
	os.Unsetenv("APP_DATABASE_URL")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error from .env", c.LogLevel)
	}
	if v, ok := os.LookupEnv("APP_DATABASE_URL"); ok {
		t.Errorf("Load set APP_DATABASE_URL=%q, want it unset", v)
	}
}

func TestLoad_DotEnvPrecedence(t *testing.T) {
	dir := isolate(t)
	files := map[string]string{
		".env":       "LOCKTRACE_IDENTITY=goroutine\nLOCKTRACE_OUTPUT=base.log\nLOCKTRACE_LOG_LEVEL=debug\n",
		".env.local": "LOCKTRACE_OUTPUT=local.log\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv("LOCKTRACE_LOG_LEVEL", "info")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := &Config{Output: "local.log", Identity: "goroutine", LogLevel: "info"}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := isolate(t)
	file := filepath.Join(dir, "locktrace.yaml")
	body := "output: trace.log\nidentity: goroutine\nlog-level: error\n"
	if err := os.WriteFile(file, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOCKTRACE_CONFIG", file)
	// Environment wins over the file.
	t.Setenv("LOCKTRACE_LOG_LEVEL", "info")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Output != "trace.log" || c.Identity != "goroutine" || c.LogLevel != "info" {
		t.Errorf("Load() = %+v, want output=trace.log identity=goroutine log-level=info", c)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"LOCKTRACE_IDENTITY":  "pid",
		"LOCKTRACE_LOG_LEVEL": "loud",
		"LOCKTRACE_CONFIG":    "/nonexistent/locktrace.yaml",
	}
	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			isolate(t)
			t.Setenv(name, value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%s succeeded, want error", name, value)
			}
		})
	}
}

func TestValidate_EmptyOutput(t *testing.T) {
	c := Default()
	c.Output = " "
	if err := c.Validate(); err == nil {
		t.Error("Validate() accepted an empty output")
	}
}

func TestOpenOutput(t *testing.T) {
	c := Default()
	w, closeFn, err := c.OpenOutput()
	if err != nil {
		t.Fatalf("OpenOutput(stdout): %v", err)
	}
	if w != os.Stdout {
		t.Errorf("OpenOutput(stdout) = %v, want os.Stdout", w)
	}
	if err := closeFn(); err != nil {
		t.Errorf("close stdout: %v", err)
	}

	c.Output = filepath.Join(t.TempDir(), "trace.log")
	w, closeFn, err = c.OpenOutput()
	if err != nil {
		t.Fatalf("OpenOutput(file): %v", err)
	}
	if _, err := w.Write([]byte("thread: 1 - pthread_mutex_lock(0x1)\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(c.Output)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "thread: 1 - pthread_mutex_lock(0x1)\n" {
		t.Errorf("file contents = %q", data)
	}
}

func TestEnviron(t *testing.T) {
	c := &Config{
		Output:      "trace.log",
		Identity:    "goroutine",
		Disable:     true,
		MetricsFile: "m.prom",
		LogLevel:    "info",
	}
	want := []string{
		"LOCKTRACE_OUTPUT=trace.log",
		"LOCKTRACE_IDENTITY=goroutine",
		"LOCKTRACE_LOG_LEVEL=info",
		"LOCKTRACE_DISABLE=true",
		"LOCKTRACE_METRICS_FILE=m.prom",
	}
	if diff := cmp.Diff(want, c.Environ()); diff != "" {
		t.Errorf("Environ mismatch (-want +got):\n%s", diff)
	}
}

// TestEnviron_DisableFalse checks that an enabled config overrides an
// inherited LOCKTRACE_DISABLE=true.
func TestEnviron_DisableFalse(t *testing.T) {
	env := Default().Environ()
	found := false
	for _, kv := range env {
		if kv == "LOCKTRACE_DISABLE=false" {
			found = true
		}
	}
	if !found {
		t.Errorf("Environ() = %v, want LOCKTRACE_DISABLE=false", env)
	}
}
