// Copyright 2025 The locktrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trace

import (
	"fmt"
	"io"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/sirupsen/logrus"
)

// flusher is implemented by buffered writers such as *bufio.Writer.
type flusher interface {
	Flush() error
}

// Emitter serializes records to a shared writer.
//
// Each record is formatted and written with one Write call while holding
// the emitter's mutex, then flushed if the writer buffers. Concurrent
// emitters therefore never split a line. The mutex covers only the format
// and write, never the traced primitive.
//
// Write failures are counted and logged; Emit never reports them.
type Emitter struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte

	log    *logrus.Logger
	failed bool // a write error has already been logged at Warn

	set     *metrics.Set
	locks   *metrics.Counter
	unlocks *metrics.Counter
	errors  *metrics.Counter
}

// NewEmitter returns an emitter writing to w. Diagnostics go to log; a nil
// log uses logrus.StandardLogger().
func NewEmitter(w io.Writer, log *logrus.Logger) *Emitter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	set := metrics.NewSet()
	return &Emitter{
		w:       w,
		buf:     make([]byte, 0, 96),
		log:     log,
		set:     set,
		locks:   set.NewCounter(`locktrace_records_total{op="lock"}`),
		unlocks: set.NewCounter(`locktrace_records_total{op="unlock"}`),
		errors:  set.NewCounter(`locktrace_emit_errors_total`),
	}
}

// Emit writes r as one line and flushes it.
func (e *Emitter) Emit(r Record) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.buf = r.AppendTo(e.buf[:0])
	n, err := e.w.Write(e.buf)
	if err == nil && n < len(e.buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		e.fail(r, err)
		return
	}
	if f, ok := e.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			e.fail(r, err)
			return
		}
	}

	switch r.Op {
	case OpLock:
		e.locks.Inc()
	case OpUnlock:
		e.unlocks.Inc()
	}
}

// fail records a dropped record. Called with e.mu held.
func (e *Emitter) fail(r Record, err error) {
	e.errors.Inc()
	entry := e.log.WithError(err).WithField("record", r.String())
	if !e.failed {
		e.failed = true
		entry.Warn("locktrace: dropping trace record")
		return
	}
	entry.Debug("locktrace: dropping trace record")
}

// Stats is a snapshot of the emitter counters.
type Stats struct {
	Locks   uint64
	Unlocks uint64
	Errors  uint64
}

// Stats returns the number of records written and dropped so far.
func (e *Emitter) Stats() Stats {
	return Stats{
		Locks:   e.locks.Get(),
		Unlocks: e.unlocks.Get(),
		Errors:  e.errors.Get(),
	}
}

// Metrics returns the emitter's metric set.
func (e *Emitter) Metrics() *metrics.Set {
	return e.set
}

// String implements fmt.Stringer for diagnostics.
func (e *Emitter) String() string {
	s := e.Stats()
	return fmt.Sprintf("emitter{locks=%d unlocks=%d errors=%d}", s.Locks, s.Unlocks, s.Errors)
}
