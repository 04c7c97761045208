// Package instrument - sync.Mutex rewriting and preload injection.
package instrument

import (
	"go/ast"
	"go/token"
	"strconv"

	"golang.org/x/tools/go/ast/astutil"
)

// rewriter holds the state of one file rewrite.
type rewriter struct {
	fset *token.FileSet
	file *ast.File

	// syncName is the local name of the sync import ("" when absent).
	syncName string
	// runtimeName is the local name the locktrace import will use.
	runtimeName string

	stats InstrumentStats
}

func newRewriter(fset *token.FileSet, file *ast.File) (*rewriter, error) {
	rw := &rewriter{fset: fset, file: file}
	taken := make(map[string]bool)
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		name := importName(imp, path)
		taken[name] = true
		if path != "sync" {
			continue
		}
		switch name {
		case ".":
			return nil, NewInstrumentationErrorWithSuggestion(fset, imp.Pos(),
				"dot import of sync cannot be rewritten",
				"Import sync by name and refer to sync.Mutex")
		case "_":
			continue
		}
		rw.syncName = name
	}

	rw.runtimeName = RuntimePackageName
	for taken[rw.runtimeName] || file.Scope.Lookup(rw.runtimeName) != nil {
		rw.runtimeName += "_"
	}
	return rw, nil
}

// importName returns the local name of imp. Only "sync" is resolved by
// path; other unnamed imports use their last path element, which is good
// enough for collision checks.
func importName(imp *ast.ImportSpec, path string) string {
	if imp.Name != nil {
		return imp.Name.Name
	}
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// rewriteMutexes replaces sync.Mutex with locktrace.Mutex.
//
// Identifiers bound to a local object (a variable or parameter named like
// the sync import) are left alone.
func (rw *rewriter) rewriteMutexes() {
	if rw.syncName == "" {
		return
	}
	astutil.Apply(rw.file, nil, func(c *astutil.Cursor) bool {
		sel, ok := c.Node().(*ast.SelectorExpr)
		if !ok || sel.Sel.Name != "Mutex" {
			return true
		}
		pkg, ok := sel.X.(*ast.Ident)
		if !ok || pkg.Name != rw.syncName || pkg.Obj != nil {
			return true
		}
		c.Replace(&ast.SelectorExpr{
			X:   &ast.Ident{Name: rw.runtimeName, NamePos: pkg.NamePos},
			Sel: &ast.Ident{Name: "Mutex", NamePos: sel.Sel.NamePos},
		})
		rw.stats.MutexesRewritten++
		return true
	})
}

// injectPreload adds the init hook and the deferred Fini to the file that
// declares func main.
func (rw *rewriter) injectPreload() {
	mainFn, ok := hasMainFunc(rw.file)
	if !ok {
		return
	}

	call := func(fn string) *ast.CallExpr {
		return &ast.CallExpr{
			Fun: &ast.SelectorExpr{
				X:   ast.NewIdent(rw.runtimeName),
				Sel: ast.NewIdent(fn),
			},
		}
	}

	mainFn.Body.List = append([]ast.Stmt{
		&ast.DeferStmt{Call: call("Fini")},
	}, mainFn.Body.List...)

	rw.file.Decls = append(rw.file.Decls, &ast.FuncDecl{
		Name: ast.NewIdent("init"),
		Type: &ast.FuncType{Params: &ast.FieldList{}},
		Body: &ast.BlockStmt{
			List: []ast.Stmt{&ast.ExprStmt{X: call("Preload")}},
		},
	})
	rw.stats.PreloadInjected = true
}

// fixImports adds the locktrace import when the file now refers to it and
// removes sync when no references remain.
func (rw *rewriter) fixImports() {
	if !rw.stats.Changed() {
		return
	}

	name := ""
	if rw.runtimeName != RuntimePackageName {
		name = rw.runtimeName
	}
	rw.stats.ImportAdded = astutil.AddNamedImport(rw.fset, rw.file, name, RuntimeImportPath)

	if rw.syncName != "" && !astutil.UsesImport(rw.file, "sync") {
		removed := false
		if rw.syncName == "sync" {
			removed = astutil.DeleteImport(rw.fset, rw.file, "sync")
		}
		if !removed {
			removed = astutil.DeleteNamedImport(rw.fset, rw.file, rw.syncName, "sync")
		}
		rw.stats.SyncRemoved = removed
	}
}
