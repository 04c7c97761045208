// Copyright 2025 The locktrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pthread provides the real mutex primitives that the shim
// interposes on.
//
// The primitives follow the pthread calling convention: each takes a mutex
// handle and returns an integer status, 0 on success or an errno value.
// They are exported through the "libpthread" symbol library, which is
// loaded into symbol.Default when this package is initialized.
package pthread

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/kolkov/locktrace/internal/symbol"
	"github.com/kolkov/locktrace/internal/tid"
)

// Symbol names exported by Library.
const (
	SymLock    = "pthread_mutex_lock"
	SymUnlock  = "pthread_mutex_unlock"
	SymTryLock = "pthread_mutex_trylock"
)

// Func is the signature shared by every mutex primitive.
type Func func(m *Mutex) int

// Kind selects the error checking performed by a Mutex.
type Kind int32

const (
	// Normal performs no ownership checks. Relocking from the owner
	// deadlocks, like sync.Mutex, and any goroutine may unlock.
	Normal Kind = iota

	// ErrorCheck rejects relocking by the owner with EDEADLK and unlocking
	// by a non-owner with EPERM.
	ErrorCheck
)

// Mutex is a mutual exclusion lock. The zero value is an unlocked Normal
// mutex. A Mutex must not be copied after first use.
type Mutex struct {
	mu     sync.Mutex
	locked atomic.Bool
	owner  atomic.Int64 // goroutine id, ErrorCheck only
	kind   Kind
}

// Init sets the kind of an unlocked mutex. It returns EBUSY if m is held.
func Init(m *Mutex, kind Kind) int {
	if m == nil {
		return int(unix.EINVAL)
	}
	if m.locked.Load() {
		return int(unix.EBUSY)
	}
	m.kind = kind
	return 0
}

// Kind returns the kind of m.
func (m *Mutex) Kind() Kind {
	return m.kind
}

// Lock blocks until m is acquired.
func Lock(m *Mutex) int {
	if m == nil {
		return int(unix.EINVAL)
	}
	if m.kind == ErrorCheck {
		gid := tid.GoroutineID()
		if m.locked.Load() && m.owner.Load() == gid {
			return int(unix.EDEADLK)
		}
		m.mu.Lock()
		m.owner.Store(gid)
		m.locked.Store(true)
		return 0
	}
	m.mu.Lock()
	m.locked.Store(true)
	return 0
}

// TryLock acquires m without blocking. It returns EBUSY if m is held.
func TryLock(m *Mutex) int {
	if m == nil {
		return int(unix.EINVAL)
	}
	if !m.mu.TryLock() {
		return int(unix.EBUSY)
	}
	if m.kind == ErrorCheck {
		m.owner.Store(tid.GoroutineID())
	}
	m.locked.Store(true)
	return 0
}

// Unlock releases m. It returns EPERM if m is not locked or, for an
// ErrorCheck mutex, not owned by the caller.
func Unlock(m *Mutex) int {
	if m == nil {
		return int(unix.EINVAL)
	}
	if m.kind == ErrorCheck && m.owner.Load() != tid.GoroutineID() {
		return int(unix.EPERM)
	}
	// Only one unlocker may win the transition; the losers must not reach
	// the inner Unlock.
	if !m.locked.CompareAndSwap(true, false) {
		return int(unix.EPERM)
	}
	if m.kind == ErrorCheck {
		m.owner.Store(0)
	}
	m.mu.Unlock()
	return 0
}

// Library returns a library exporting the primitives under their pthread
// names.
func Library() *symbol.Library {
	return symbol.NewLibrary("libpthread").
		Export(SymLock, Func(Lock)).
		Export(SymUnlock, Func(Unlock)).
		Export(SymTryLock, Func(TryLock))
}

func init() {
	symbol.Default.Load(Library())
}
