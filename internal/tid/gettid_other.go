// Copyright 2025 The locktrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package tid

// gettid falls back to the goroutine id where the kernel thread id is not
// exposed by golang.org/x/sys.
func gettid() int64 {
	return GoroutineID()
}
