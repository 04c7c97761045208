// Copyright 2025 The locktrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package symbol

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrNotFound is returned when no library in the searched part of the
	// chain exports the requested symbol.
	ErrNotFound = errors.New("symbol not found")

	// ErrNotLoaded is returned by Next when the calling library is not part
	// of the chain.
	ErrNotLoaded = errors.New("library not loaded")
)

// Default is the process-wide chain that locktrace.Mutex dispatches through.
var Default = NewChain()

// Chain is an ordered list of libraries searched front to back.
//
// Reads (Lookup, Next, Libraries) are lock-free. Writers serialize on mu and
// publish a fresh slice, so a reader always sees a complete load order.
type Chain struct {
	mu   sync.Mutex // serializes writers
	libs atomic.Pointer[[]*Library]
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	c := &Chain{}
	empty := []*Library{}
	c.libs.Store(&empty)
	return c
}

func (c *Chain) snapshot() []*Library {
	return *c.libs.Load()
}

// Load appends lib to the end of the load order. Loading a library that is
// already present is a no-op.
func (c *Chain) Load(lib *Library) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.snapshot()
	if indexOf(cur, lib) >= 0 {
		return
	}
	next := make([]*Library, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, lib)
	c.libs.Store(&next)
}

// Preload places lib at the front of the load order so that its exports
// shadow every other definition. If lib is already loaded it is moved to
// the front.
func (c *Chain) Preload(lib *Library) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.snapshot()
	next := make([]*Library, 0, len(cur)+1)
	next = append(next, lib)
	for _, l := range cur {
		if l != lib {
			next = append(next, l)
		}
	}
	c.libs.Store(&next)
}

// Unload removes lib from the chain. It reports whether lib was loaded.
//
// Entry points already resolved from lib by other callers stay valid; only
// later lookups are affected.
func (c *Chain) Unload(lib *Library) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.snapshot()
	i := indexOf(cur, lib)
	if i < 0 {
		return false
	}
	next := make([]*Library, 0, len(cur)-1)
	next = append(next, cur[:i]...)
	next = append(next, cur[i+1:]...)
	c.libs.Store(&next)
	return true
}

// Libraries returns the current load order.
func (c *Chain) Libraries() []*Library {
	cur := c.snapshot()
	out := make([]*Library, len(cur))
	copy(out, cur)
	return out
}

// Lookup returns the first definition of name in load order.
func (c *Chain) Lookup(name string) (any, error) {
	return search(c.snapshot(), name, "")
}

// Next returns the first definition of name in a library loaded after self.
// It never returns self's own export.
func (c *Chain) Next(self *Library, name string) (any, error) {
	cur := c.snapshot()
	i := indexOf(cur, self)
	if i < 0 {
		return nil, fmt.Errorf("resolve %q after %s: %w", name, self.Name(), ErrNotLoaded)
	}
	return search(cur[i+1:], name, self.Name())
}

// After returns a Resolver that looks symbols up after self in c.
func (c *Chain) After(self *Library) Resolver {
	return nextResolver{chain: c, self: self}
}

// Resolver locates the definition of a named symbol.
type Resolver interface {
	Resolve(name string) (any, error)
}

type nextResolver struct {
	chain *Chain
	self  *Library
}

func (r nextResolver) Resolve(name string) (any, error) {
	return r.chain.Next(r.self, name)
}

func search(libs []*Library, name, after string) (any, error) {
	for _, l := range libs {
		if fn, ok := l.Lookup(name); ok {
			return fn, nil
		}
	}
	if after == "" {
		return nil, fmt.Errorf("resolve %q: %w", name, ErrNotFound)
	}
	return nil, fmt.Errorf("resolve %q after %s: %w", name, after, ErrNotFound)
}

func indexOf(libs []*Library, lib *Library) int {
	for i, l := range libs {
		if l == lib {
			return i
		}
	}
	return -1
}
