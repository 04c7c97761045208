// Package locktrace traces mutex lock and unlock calls without CGO or
// LD_PRELOAD.
//
// Programs use [Mutex] in place of sync.Mutex. Every Lock and Unlock is
// dispatched through a process-wide symbol chain, the same way a C program
// calls pthread_mutex_lock through its dynamic loader. When the locktrace
// shim is preloaded into that chain it intercepts each call, writes one
// trace line and forwards to the real primitive:
//
//	thread: 4242 - pthread_mutex_lock(0xc000012345)
//	thread: 4242 - pthread_mutex_unlock(0xc000012345)
//
// # Quick Start
//
// The locktrace tool rewrites sync.Mutex to locktrace.Mutex and preloads the
// shim automatically:
//
//	$ locktrace run main.go
//	$ locktrace build -o myapp ./cmd/myapp && LOCKTRACE_OUTPUT=trace.log ./myapp
//
// For manual instrumentation:
//
//	package main
//
//	import "github.com/kolkov/locktrace/locktrace"
//
//	var mu locktrace.Mutex
//
//	func main() {
//		locktrace.Preload()
//		defer locktrace.Fini()
//
//		mu.Lock()
//		mu.Unlock()
//	}
//
// # Trace Semantics
//
// A lock line is written after the real lock returns, so it reports an
// acquisition that actually happened. An unlock line is written before the
// real unlock runs, so it is ordered before the release. For a single
// goroutine the lines follow program order; lines from different goroutines
// never interleave within a line but are otherwise ordered only by when they
// were written.
//
// # Configuration
//
// [Preload] reads LOCKTRACE_* environment variables (and .env files):
//
//	LOCKTRACE_OUTPUT        stdout (default), stderr or a file path
//	LOCKTRACE_IDENTITY      os (kernel thread id, default) or goroutine
//	LOCKTRACE_DISABLE       true to leave the shim unloaded
//	LOCKTRACE_METRICS_FILE  Prometheus text metrics written by Fini
//	LOCKTRACE_LOG_LEVEL     diagnostic log level (default warn)
//	LOCKTRACE_CONFIG        optional config file with the same keys
//
// # Errors
//
// The real primitives return pthread-style statuses. [Mutex] panics with a
// *[StatusError] on any failure (for example unlocking an unlocked mutex),
// mirroring the fatal error sync.Mutex raises. If the shim cannot resolve a
// real primitive the process exits with status 1.
package locktrace
