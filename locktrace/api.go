package locktrace

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/kolkov/locktrace/internal/config"
	"github.com/kolkov/locktrace/internal/shim"
	"github.com/kolkov/locktrace/internal/symbol"
	"github.com/kolkov/locktrace/internal/tid"
	"github.com/kolkov/locktrace/internal/trace"
)

// session is one preloaded shim and the resources it owns.
type session struct {
	shim        *shim.Shim
	prev        *session
	closeOut    func() error
	metricsFile string
	log         *logrus.Logger
	done        atomic.Bool
}

var (
	current     atomic.Pointer[session]
	preloadOnce sync.Once
)

func active() *session {
	return current.Load()
}

// Option configures Activate.
type Option func(*options)

type options struct {
	identity    tid.Source
	log         *logrus.Logger
	metricsFile string
}

// WithGoroutineIDs reports goroutine ids instead of kernel thread ids.
func WithGoroutineIDs() Option {
	return func(o *options) {
		o.identity = tid.Goroutine{}
	}
}

// WithIdentity sets a custom thread identity function.
func WithIdentity(fn func() int64) Option {
	return func(o *options) {
		o.identity = tid.SourceFunc(fn)
	}
}

// WithLogger sets the logger for diagnostics such as dropped records and
// fatal resolution failures.
func WithLogger(log *logrus.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithMetricsFile makes Fini write Prometheus text metrics to path.
func WithMetricsFile(path string) Option {
	return func(o *options) {
		o.metricsFile = path
	}
}

// Preload activates tracing as configured by the LOCKTRACE_* environment.
//
// The locktrace tool inserts a call to Preload in an init function of
// every instrumented main package. Preload is safe to call multiple times;
// only the first call has an effect. An invalid configuration is logged
// and leaves tracing off.
func Preload() {
	preloadOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			logrus.WithError(err).Warn("locktrace: invalid configuration, tracing disabled")
			return
		}
		if cfg.Disable {
			return
		}
		log := cfg.Logger()
		w, closeOut, err := cfg.OpenOutput()
		if err != nil {
			log.WithError(err).Warn("locktrace: tracing disabled")
			return
		}
		activate(w, closeOut, &options{
			identity:    cfg.Source(),
			log:         log,
			metricsFile: cfg.MetricsFile,
		})
		log.WithFields(logrus.Fields{
			"output":   cfg.Output,
			"identity": cfg.Identity,
		}).Debug("locktrace: shim preloaded")
	})
}

// Activate preloads a shim that writes trace lines to w and returns a
// function that unloads it again.
//
// Activations nest: a shim activated while another is active is searched
// first, and its calls reach the real primitives through the earlier shim.
// The inner shim keeps that binding for its whole life, so stop nested
// activations in reverse order. Stopping an outer activation first still
// unloads it and closes its output, but the inner shim continues to call
// it, and those records go to an output that may already be closed.
//
// Example:
//
//	var buf bytes.Buffer
//	stop := locktrace.Activate(&buf)
//	mu.Lock()
//	mu.Unlock()
//	stop()
func Activate(w io.Writer, opts ...Option) func() {
	o := &options{identity: tid.OS{}}
	for _, opt := range opts {
		opt(o)
	}
	s := activate(w, nil, o)
	var once sync.Once
	return func() {
		once.Do(func() { deactivate(s) })
	}
}

func activate(w io.Writer, closeOut func() error, o *options) *session {
	log := o.log
	if log == nil {
		log = logrus.StandardLogger()
	}
	sh := shim.New(
		shim.WithChain(symbol.Default),
		shim.WithIdentity(o.identity),
		shim.WithLogger(log),
		shim.WithEmitter(trace.NewEmitter(w, log)),
	)
	s := &session{
		shim:        sh,
		closeOut:    closeOut,
		metricsFile: o.metricsFile,
		log:         log,
	}
	for {
		prev := current.Load()
		s.prev = prev
		if current.CompareAndSwap(prev, s) {
			break
		}
	}
	symbol.Default.Preload(sh.Library())
	return s
}

// deactivate unloads s and writes its metrics. Only the first call for a
// session has an effect. A session deactivated out of order stays on the
// stack until every newer session is gone.
func deactivate(s *session) {
	if !s.done.CompareAndSwap(false, true) {
		return
	}
	symbol.Default.Unload(s.shim.Library())
	pop()
	if err := s.finish(); err != nil {
		s.log.WithError(err).Warn("locktrace: finalization failed")
	}
}

// pop removes deactivated sessions from the top of the stack.
func pop() {
	for {
		top := current.Load()
		next := top
		for next != nil && next.done.Load() {
			next = next.prev
		}
		if next == top || current.CompareAndSwap(top, next) {
			return
		}
	}
}

// Fini unloads the shim installed by Preload or the most recent Activate,
// writes the metrics file if configured and closes the trace output.
//
// Mutex calls after Fini go straight to the real primitives.
func Fini() {
	if s := active(); s != nil {
		deactivate(s)
	}
}

func (s *session) finish() error {
	var errs []error
	if s.metricsFile != "" {
		var buf bytes.Buffer
		s.shim.Metrics().WritePrometheus(&buf)
		s.shim.Emitter().Metrics().WritePrometheus(&buf)
		if err := os.WriteFile(s.metricsFile, buf.Bytes(), 0644); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if s.closeOut != nil {
		if err := s.closeOut(); err != nil {
			errs = append(errs, fmt.Errorf("close trace output: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Stats reports the records written and dropped by the active shim.
type Stats struct {
	Locks   uint64
	Unlocks uint64
	Dropped uint64
}

// GetStats returns the counters of the active shim, or zero Stats when
// tracing is off.
func GetStats() Stats {
	s := active()
	if s == nil {
		return Stats{}
	}
	st := s.shim.Emitter().Stats()
	return Stats{Locks: st.Locks, Unlocks: st.Unlocks, Dropped: st.Errors}
}
