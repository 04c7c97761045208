// Copyright 2025 The locktrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package shim

import (
	"io"
	"os"
	"unsafe"

	"github.com/kolkov/locktrace/internal/pthread"
)

// handle returns the address used to identify m in trace records.
func handle(m *pthread.Mutex) uintptr {
	return uintptr(unsafe.Pointer(m))
}

func stdout() io.Writer {
	return os.Stdout
}
