// Copyright 2025 The locktrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package tid

import "golang.org/x/sys/unix"

func gettid() int64 {
	return int64(unix.Gettid())
}
