package locktrace

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/kolkov/locktrace/internal/pthread"
	"github.com/kolkov/locktrace/internal/symbol"
)

// Kind selects the error checking performed by a Mutex.
type Kind int

const (
	// Normal behaves like sync.Mutex.
	Normal Kind = iota
	// ErrorCheck fails relocking by the owner and unlocking by another
	// goroutine instead of deadlocking or succeeding.
	ErrorCheck
)

// Mutex is a drop-in replacement for sync.Mutex whose operations are
// visible to the locktrace shim.
//
// The zero value is an unlocked Normal mutex. A Mutex must not be copied
// after first use.
type Mutex struct {
	m pthread.Mutex
}

// StatusError reports a failed mutex operation.
type StatusError struct {
	Op     string // intercepted symbol, e.g. "pthread_mutex_unlock"
	Status int    // errno value returned by the primitive
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("locktrace: %s: %v", e.Op, unix.Errno(e.Status))
}

// Is reports whether target is the errno carried by e.
func (e *StatusError) Is(target error) bool {
	errno, ok := target.(unix.Errno)
	return ok && int(errno) == e.Status
}

// SetKind changes the kind of an unlocked mutex.
func (m *Mutex) SetKind(k Kind) error {
	kind := pthread.Normal
	if k == ErrorCheck {
		kind = pthread.ErrorCheck
	}
	if rc := pthread.Init(&m.m, kind); rc != 0 {
		return &StatusError{Op: "pthread_mutex_init", Status: rc}
	}
	return nil
}

// Lock locks m. If the lock is already in use, the calling goroutine blocks
// until the mutex is available.
func (m *Mutex) Lock() {
	if rc := dispatch(pthread.SymLock)(&m.m); rc != 0 {
		panic(&StatusError{Op: pthread.SymLock, Status: rc})
	}
}

// TryLock tries to lock m and reports whether it succeeded.
func (m *Mutex) TryLock() bool {
	rc := dispatch(pthread.SymTryLock)(&m.m)
	switch rc {
	case 0:
		return true
	case int(unix.EBUSY):
		return false
	}
	panic(&StatusError{Op: pthread.SymTryLock, Status: rc})
}

// Unlock unlocks m. It panics with a *StatusError if m is not locked.
func (m *Mutex) Unlock() {
	if rc := dispatch(pthread.SymUnlock)(&m.m); rc != 0 {
		panic(&StatusError{Op: pthread.SymUnlock, Status: rc})
	}
}

// dispatch looks name up in the default chain on every call so that a
// shim preloaded at any time sees subsequent calls.
func dispatch(name string) pthread.Func {
	sym, err := symbol.Default.Lookup(name)
	if err != nil {
		// libpthread is loaded by package initialization; losing it is
		// unrecoverable.
		panic(err)
	}
	fn, ok := sym.(pthread.Func)
	if !ok {
		panic(fmt.Sprintf("locktrace: %s has type %T", name, sym))
	}
	return fn
}
