// Copyright 2025 The locktrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads locktrace settings from the environment.
//
// Sources, lowest precedence first:
//
//   - built-in defaults
//   - an optional config file named by LOCKTRACE_CONFIG (any format viper reads)
//   - LOCKTRACE_* entries of .env, then .env.local, in the working directory
//   - LOCKTRACE_<KEY> environment variables, with '-' in keys mapped to '_'
//     (e.g. LOCKTRACE_METRICS_FILE)
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/kolkov/locktrace/internal/tid"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "LOCKTRACE"

// Configuration keys.
const (
	KeyOutput      = "output"
	KeyIdentity    = "identity"
	KeyDisable     = "disable"
	KeyMetricsFile = "metrics-file"
	KeyLogLevel    = "log-level"
	KeyConfig      = "config"
)

var keys = []string{KeyOutput, KeyIdentity, KeyDisable, KeyMetricsFile, KeyLogLevel, KeyConfig}

// Config holds the runtime settings of the shim.
type Config struct {
	// Output is "stdout", "stderr" or a file path trace lines are appended to.
	Output string
	// Identity selects the thread identity source: "os" or "goroutine".
	Identity string
	// Disable leaves the shim unloaded.
	Disable bool
	// MetricsFile, if set, receives Prometheus text metrics at Fini.
	MetricsFile string
	// LogLevel is the logrus level for diagnostics.
	LogLevel string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Output:   "stdout",
		Identity: "os",
		LogLevel: "warn",
	}
}

// Load reads the configuration from the environment into a fresh viper
// instance.
//
// Dotenv files never modify the process environment, and only their
// LOCKTRACE_* entries are used.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	dotenv := readDotEnv(".env", ".env.local")
	for _, key := range keys {
		name := envName(key)
		if os.Getenv(name) != "" {
			continue
		}
		if value, ok := dotenv[name]; ok {
			v.Set(key, value)
		}
	}
	return FromViper(v)
}

// readDotEnv merges the LOCKTRACE_* entries of files, later files winning.
// Missing or unreadable files are skipped.
func readDotEnv(files ...string) map[string]string {
	env := make(map[string]string)
	for _, file := range files {
		m, err := godotenv.Read(file)
		if err != nil {
			continue
		}
		for name, value := range m {
			if strings.HasPrefix(name, EnvPrefix+"_") {
				env[name] = value
			}
		}
	}
	return env
}

// FromViper builds a Config from v, applying defaults and reading the file
// named by the "config" key if present.
func FromViper(v *viper.Viper) (*Config, error) {
	def := Default()
	v.SetDefault(KeyOutput, def.Output)
	v.SetDefault(KeyIdentity, def.Identity)
	v.SetDefault(KeyDisable, def.Disable)
	v.SetDefault(KeyMetricsFile, def.MetricsFile)
	v.SetDefault(KeyLogLevel, def.LogLevel)

	if file := v.GetString(KeyConfig); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	c := &Config{
		Output:      v.GetString(KeyOutput),
		Identity:    v.GetString(KeyIdentity),
		Disable:     v.GetBool(KeyDisable),
		MetricsFile: v.GetString(KeyMetricsFile),
		LogLevel:    v.GetString(KeyLogLevel),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that every field holds a usable value.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Output) == "" {
		return fmt.Errorf("%s must not be empty", KeyOutput)
	}
	if _, err := tid.Parse(c.Identity); err != nil {
		return fmt.Errorf("%s: %w", KeyIdentity, err)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%s: %w", KeyLogLevel, err)
	}
	return nil
}

// Source returns the configured thread identity source.
func (c *Config) Source() tid.Source {
	src, err := tid.Parse(c.Identity)
	if err != nil {
		return tid.OS{}
	}
	return src
}

// Logger returns a stderr logger at the configured level.
func (c *Config) Logger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	return log
}

// OpenOutput opens the trace destination. The returned close function is a
// no-op for the standard streams.
func (c *Config) OpenOutput() (io.Writer, func() error, error) {
	noop := func() error { return nil }
	switch c.Output {
	case "stdout", "-":
		return os.Stdout, noop, nil
	case "stderr":
		return os.Stderr, noop, nil
	}
	f, err := os.OpenFile(c.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open trace output: %w", err)
	}
	return f, f.Close, nil
}

// Environ renders c as LOCKTRACE_* assignments for a child process.
func (c *Config) Environ() []string {
	env := []string{
		envName(KeyOutput) + "=" + c.Output,
		envName(KeyIdentity) + "=" + c.Identity,
		envName(KeyLogLevel) + "=" + c.LogLevel,
		envName(KeyDisable) + "=" + strconv.FormatBool(c.Disable),
	}
	if c.MetricsFile != "" {
		env = append(env, envName(KeyMetricsFile)+"="+c.MetricsFile)
	}
	return env
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}
