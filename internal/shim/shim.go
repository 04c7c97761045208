// Copyright 2025 The locktrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package shim implements the lock/unlock interposer.
//
// A Shim exports replacements for pthread_mutex_lock and
// pthread_mutex_unlock with the exact signature of the real primitives.
// Once its Library is preloaded into a symbol.Chain, every call dispatched
// through the chain reaches the shim, which:
//
//	Lock:   resolve real lock   -> call it    -> emit "lock" record  -> return status
//	Unlock: resolve real unlock -> emit "unlock" record -> call it   -> return status
//
// The lock record is written only after the real lock returns, so it
// reflects an acquisition that happened. The unlock record is written before
// the real unlock runs, so it is ordered before the release in program
// order. Both orderings are part of the trace contract.
//
// Statuses from the real primitives are returned unchanged. A primitive
// that cannot be resolved is fatal: the process logs the error and exits.
package shim

import (
	"github.com/VictoriaMetrics/metrics"
	"github.com/sirupsen/logrus"

	"github.com/kolkov/locktrace/internal/pthread"
	"github.com/kolkov/locktrace/internal/symbol"
	"github.com/kolkov/locktrace/internal/tid"
	"github.com/kolkov/locktrace/internal/trace"
)

// LibraryName is the name of the library returned by Shim.Library.
const LibraryName = "liblocktrace"

// Shim intercepts mutex lock and unlock calls.
type Shim struct {
	lib      *symbol.Library
	chain    *symbol.Chain
	resolver symbol.Resolver
	identity tid.Source
	emitter  *trace.Emitter
	log      *logrus.Logger

	lock   slot
	unlock slot

	set         *metrics.Set
	resolutions map[string]*metrics.Counter
}

// Option configures a Shim.
type Option func(*Shim)

// WithChain sets the chain the shim resolves the real primitives from.
// Default: symbol.Default.
func WithChain(c *symbol.Chain) Option {
	return func(s *Shim) {
		s.chain = c
	}
}

// WithResolver replaces chain lookup with r. The shim library is then not
// consulted when resolving.
func WithResolver(r symbol.Resolver) Option {
	return func(s *Shim) {
		s.resolver = r
	}
}

// WithIdentity sets the thread identity source. Default: tid.OS{}.
func WithIdentity(src tid.Source) Option {
	return func(s *Shim) {
		s.identity = src
	}
}

// WithEmitter sets the trace emitter. Default: an emitter on stdout.
func WithEmitter(e *trace.Emitter) Option {
	return func(s *Shim) {
		s.emitter = e
	}
}

// WithLogger sets the diagnostic logger. Default: logrus.StandardLogger().
func WithLogger(log *logrus.Logger) Option {
	return func(s *Shim) {
		s.log = log
	}
}

// New returns a shim. It resolves nothing until the first intercepted call.
func New(opts ...Option) *Shim {
	s := &Shim{
		chain:    symbol.Default,
		identity: tid.OS{},
		log:      logrus.StandardLogger(),
		lock:     slot{name: pthread.SymLock},
		unlock:   slot{name: pthread.SymUnlock},
		set:      metrics.NewSet(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.emitter == nil {
		s.emitter = trace.NewEmitter(stdout(), s.log)
	}

	s.lib = symbol.NewLibrary(LibraryName).
		Export(pthread.SymLock, pthread.Func(s.Lock)).
		Export(pthread.SymUnlock, pthread.Func(s.Unlock))
	if s.resolver == nil {
		s.resolver = s.chain.After(s.lib)
	}

	s.resolutions = map[string]*metrics.Counter{
		pthread.SymLock:   s.set.NewCounter(`locktrace_resolutions_total{symbol="` + pthread.SymLock + `"}`),
		pthread.SymUnlock: s.set.NewCounter(`locktrace_resolutions_total{symbol="` + pthread.SymUnlock + `"}`),
	}
	return s
}

// Library returns the library exporting the shim's replacements. Preload it
// into the shim's chain to activate interception.
func (s *Shim) Library() *symbol.Library {
	return s.lib
}

// Emitter returns the shim's trace emitter.
func (s *Shim) Emitter() *trace.Emitter {
	return s.emitter
}

// Metrics returns the shim's resolution counters.
func (s *Shim) Metrics() *metrics.Set {
	return s.set
}

// Lock acquires m through the real pthread_mutex_lock and records the
// acquisition after it returns.
func (s *Shim) Lock(m *pthread.Mutex) int {
	next := s.resolve(&s.lock)
	rc := next(m)
	s.emit(m, trace.OpLock)
	return rc
}

// Unlock records the release and then calls the real
// pthread_mutex_unlock.
func (s *Shim) Unlock(m *pthread.Mutex) int {
	next := s.resolve(&s.unlock)
	s.emit(m, trace.OpUnlock)
	return next(m)
}

func (s *Shim) emit(m *pthread.Mutex, op trace.Op) {
	s.emitter.Emit(trace.Record{
		Thread: s.identity.Current(),
		Handle: handle(m),
		Op:     op,
	})
}

// resolve returns the real definition for sl, terminating the process if
// it cannot be found.
func (s *Shim) resolve(sl *slot) pthread.Func {
	fn, looked, err := sl.resolve(s.resolver)
	if looked {
		s.resolutions[sl.name].Inc()
	}
	if err != nil {
		s.log.WithError(err).Fatalf("locktrace: cannot resolve real %s", sl.name)
		// Fatalf only returns when the logger's ExitFunc does not exit.
		panic(err)
	}
	return fn
}
