// Copyright 2025 The locktrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package symbol implements a process-wide symbol chain, the in-process
// analogue of the dynamic loader's library search order.
//
// A Library exports named entry points. A Chain holds libraries in load
// order: Load appends a library (it is searched after everything already
// loaded), Preload prepends it (it shadows every later definition of the
// same name). Lookups mirror dlsym:
//
//	Chain.Lookup(name)      // RTLD_DEFAULT: first definition in the chain
//	Chain.Next(self, name)  // RTLD_NEXT: first definition after self
//
// Callers that dispatch through Lookup on every call (the way a program
// calls through its PLT) pick up a preloaded library as soon as it is
// installed. Interposers use Next to find the definition they shadow.
//
// Lookups never block: the library list is an immutable snapshot replaced
// atomically by Load, Preload and Unload.
package symbol
