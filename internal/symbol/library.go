// Copyright 2025 The locktrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package symbol

import "github.com/puzpuzpuz/xsync/v3"

// Library is a named set of exported entry points.
//
// Entry points are stored as untyped values; callers assert the concrete
// function type they expect. A Library may be shared between chains.
type Library struct {
	name    string
	symbols *xsync.MapOf[string, any]
}

// NewLibrary returns an empty library called name.
func NewLibrary(name string) *Library {
	return &Library{
		name:    name,
		symbols: xsync.NewMapOf[string, any](),
	}
}

// Name returns the library name used in diagnostics.
func (l *Library) Name() string {
	return l.name
}

// Export registers fn under name, replacing any earlier export with the
// same name. It returns l so exports can be chained.
func (l *Library) Export(name string, fn any) *Library {
	l.symbols.Store(name, fn)
	return l
}

// Lookup returns the entry point exported under name, if any.
func (l *Library) Lookup(name string) (any, bool) {
	return l.symbols.Load(name)
}

// Symbols returns the number of exported entry points.
func (l *Library) Symbols() int {
	return l.symbols.Size()
}
