// Copyright 2025 The locktrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package trace formats and writes lock trace records.
//
// One record is written per intercepted call, as a single line:
//
//	thread: <thread-id> - <operation>(<lock-handle>)
//
// for example
//
//	thread: 4242 - pthread_mutex_lock(0xc000012345)
package trace

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// Op is the traced operation.
type Op uint8

const (
	// OpLock records a completed lock acquisition.
	OpLock Op = iota + 1
	// OpUnlock records an intent to release, before the real unlock runs.
	OpUnlock
)

// String returns the name of the intercepted symbol.
func (o Op) String() string {
	switch o {
	case OpLock:
		return "pthread_mutex_lock"
	case OpUnlock:
		return "pthread_mutex_unlock"
	default:
		return "op(" + strconv.Itoa(int(o)) + ")"
	}
}

// Record is one traced call.
type Record struct {
	Thread int64   // identity of the calling thread
	Handle uintptr // address of the lock
	Op     Op
}

const linePrefix = "thread: "

// AppendTo appends the formatted line, including the trailing newline.
func (r Record) AppendTo(b []byte) []byte {
	b = append(b, linePrefix...)
	b = strconv.AppendInt(b, r.Thread, 10)
	b = append(b, " - "...)
	b = append(b, r.Op.String()...)
	b = append(b, "(0x"...)
	b = strconv.AppendUint(b, uint64(r.Handle), 16)
	b = append(b, ")\n"...)
	return b
}

// String returns the formatted line without the trailing newline.
func (r Record) String() string {
	b := r.AppendTo(nil)
	return string(b[:len(b)-1])
}

// ErrMalformed is returned by ParseLine for lines that are not trace records.
var ErrMalformed = errors.New("malformed trace line")

// ParseLine parses a line produced by Record.AppendTo. A trailing newline
// is accepted.
func ParseLine(line []byte) (Record, error) {
	line = bytes.TrimSuffix(line, []byte("\n"))
	orig := line

	malformed := func(what string) (Record, error) {
		return Record{}, fmt.Errorf("%w: %s in %q", ErrMalformed, what, orig)
	}

	if !bytes.HasPrefix(line, []byte(linePrefix)) {
		return malformed("missing thread prefix")
	}
	line = line[len(linePrefix):]

	sep := bytes.Index(line, []byte(" - "))
	if sep < 0 {
		return malformed("missing separator")
	}
	thread, err := strconv.ParseInt(string(line[:sep]), 10, 64)
	if err != nil {
		return malformed("bad thread id")
	}
	line = line[sep+3:]

	open := bytes.IndexByte(line, '(')
	if open < 0 || line[len(line)-1] != ')' {
		return malformed("missing handle")
	}
	var op Op
	switch string(line[:open]) {
	case OpLock.String():
		op = OpLock
	case OpUnlock.String():
		op = OpUnlock
	default:
		return malformed("unknown operation")
	}

	handle := line[open+1 : len(line)-1]
	if !bytes.HasPrefix(handle, []byte("0x")) {
		return malformed("handle is not hex")
	}
	h, err := strconv.ParseUint(string(handle[2:]), 16, 64)
	if err != nil {
		return malformed("bad handle")
	}

	return Record{Thread: thread, Handle: uintptr(h), Op: op}, nil
}
