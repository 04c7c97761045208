// Copyright 2025 The locktrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tid reports the identity of the calling thread.
//
// Two sources are provided:
//
//   - OS: the kernel thread id (gettid(2) on Linux). Goroutines migrate
//     between threads, so consecutive calls from one goroutine may report
//     different ids.
//   - Goroutine: the runtime goroutine id, stable for the goroutine's life.
//
// Identities label trace records only; nothing depends on them for
// correctness.
package tid

import (
	"fmt"
	"strings"
)

// Source returns the identity of the calling thread.
type Source interface {
	Current() int64
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func() int64

// Current calls f.
func (f SourceFunc) Current() int64 {
	return f()
}

// OS reports kernel thread ids.
type OS struct{}

// Current returns the calling OS thread id.
func (OS) Current() int64 {
	return gettid()
}

// Goroutine reports goroutine ids.
type Goroutine struct{}

// Current returns the calling goroutine id.
func (Goroutine) Current() int64 {
	return GoroutineID()
}

// Parse maps a configuration name to a Source: "os" or "goroutine".
func Parse(name string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "os", "thread":
		return OS{}, nil
	case "goroutine", "g":
		return Goroutine{}, nil
	default:
		return nil, fmt.Errorf("unknown thread identity %q (want os or goroutine)", name)
	}
}
