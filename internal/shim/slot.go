// Copyright 2025 The locktrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package shim

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/kolkov/locktrace/internal/pthread"
	"github.com/kolkov/locktrace/internal/symbol"
)

// ErrSignature is returned when a resolved symbol is not a pthread.Func.
var ErrSignature = errors.New("symbol has unexpected signature")

// slot caches the real definition of one intercepted primitive.
//
// The cached pointer goes from nil to resolved exactly once and is never
// cleared. Racing first callers may all resolve; the first CompareAndSwap
// wins and the others adopt its value, so every caller invokes the same
// entry point.
type slot struct {
	name string
	fn   atomic.Pointer[pthread.Func]
}

// load returns the cached definition, or nil if unresolved.
func (s *slot) load() *pthread.Func {
	return s.fn.Load()
}

// resolve returns the cached definition, resolving it through r on first
// use. The second result reports whether this call performed a lookup.
func (s *slot) resolve(r symbol.Resolver) (pthread.Func, bool, error) {
	if p := s.fn.Load(); p != nil {
		return *p, false, nil
	}

	sym, err := r.Resolve(s.name)
	if err != nil {
		return nil, true, err
	}
	fn, ok := sym.(pthread.Func)
	if !ok || fn == nil {
		return nil, true, fmt.Errorf("resolve %q: got %T: %w", s.name, sym, ErrSignature)
	}

	s.fn.CompareAndSwap(nil, &fn)
	return *s.fn.Load(), true, nil
}
