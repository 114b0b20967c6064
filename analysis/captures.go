package analysis

import (
	"sort"

	"github.com/chazu/metal0/pyast"
)

// AnnotateCaptures fills CapturedVars on every function and lambda nested
// inside another function of mod. A captured name is read by the nested
// function (or by something nested in it) and bound by an enclosing
// function. A function's own name is never one of its captures. Class
// bodies do not form an enclosing scope, so methods capture nothing.
func AnnotateCaptures(mod *pyast.Module) {
	annotateBody(mod.Body)
}

// annotateBody handles module and class bodies.
func annotateBody(body []pyast.Stmt) {
	for _, st := range body {
		switch x := st.(type) {
		case *pyast.FunctionDef:
			annotateFunc(x.Name, x.Params, x.Body, nil)
		case *pyast.ClassDef:
			annotateBody(x.Body)
		default:
			// Top-level statements can hold lambdas and blocks with
			// definitions; neither sees a function scope.
			pyast.Inspect(st, func(n pyast.Node) bool {
				switch y := n.(type) {
				case *pyast.FunctionDef:
					annotateFunc(y.Name, y.Params, y.Body, nil)
					return false
				case *pyast.ClassDef:
					annotateBody(y.Body)
					return false
				case *pyast.Lambda:
					return false
				}
				return true
			})
		}
	}
}

// annotateFunc annotates the functions nested in body and returns the
// names the function reads from its enclosing scopes.
func annotateFunc(self string, params []pyast.Param, body []pyast.Stmt, enclosing []map[string]bool) map[string]bool {
	bound := make(map[string]bool)
	for _, p := range params {
		bound[p.Name] = true
	}
	for _, name := range LocalNames(body) {
		bound[name] = true
	}
	for _, name := range nonLocalDecls(body) {
		delete(bound, name)
	}

	inner := append(append([]map[string]bool(nil), enclosing...), bound)
	needed := LoadedNames(body, false)

	pyast.InspectStmts(body, func(n pyast.Node) bool {
		switch x := n.(type) {
		case *pyast.FunctionDef:
			free := annotateFunc(x.Name, x.Params, x.Body, inner)
			x.CapturedVars = sortedNames(free, x.Name)
			for name := range free {
				needed[name] = true
			}
			return false
		case *pyast.Lambda:
			free := annotateLambda(x, inner)
			for name := range free {
				needed[name] = true
			}
			return false
		case *pyast.ClassDef:
			annotateBody(x.Body)
			return false
		}
		return true
	})

	free := make(map[string]bool)
	for name := range needed {
		if bound[name] || name == self {
			continue
		}
		if boundIn(enclosing, name) {
			free[name] = true
		}
	}
	return free
}

func annotateLambda(l *pyast.Lambda, enclosing []map[string]bool) map[string]bool {
	body := []pyast.Stmt{&pyast.Return{Value: l.Body}}
	free := annotateFunc("", l.Params, body, enclosing)
	l.CapturedVars = sortedNames(free, "")
	return free
}

func boundIn(scopes []map[string]bool, name string) bool {
	for _, s := range scopes {
		if s[name] {
			return true
		}
	}
	return false
}

func nonLocalDecls(body []pyast.Stmt) []string {
	var out []string
	pyast.InspectStmts(body, func(n pyast.Node) bool {
		switch x := n.(type) {
		case *pyast.Global:
			out = append(out, x.Names...)
		case *pyast.Nonlocal:
			out = append(out, x.Names...)
		case *pyast.FunctionDef, *pyast.ClassDef, *pyast.Lambda:
			return false
		}
		return true
	})
	return out
}

func sortedNames(set map[string]bool, exclude string) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		if name != exclude {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// IsRecursive reports whether fn calls itself by name. The scan covers
// call arguments, branches and loops but stops at nested functions and
// lambdas.
func IsRecursive(fn *pyast.FunctionDef) bool {
	found := false
	pyast.InspectStmts(fn.Body, func(n pyast.Node) bool {
		if found {
			return false
		}
		switch x := n.(type) {
		case *pyast.Call:
			if pyast.IsName(x.Func, fn.Name) {
				found = true
			}
		case *pyast.FunctionDef, *pyast.Lambda, *pyast.ClassDef:
			return false
		}
		return true
	})
	return found
}

// ClosureShape is the lowering strategy chosen for a nested function.
type ClosureShape int

const (
	ShapeZero ClosureShape = iota
	ShapeSimple
	ShapeRecursive
)

func (s ClosureShape) String() string {
	switch s {
	case ShapeZero:
		return "zero"
	case ShapeSimple:
		return "simple"
	case ShapeRecursive:
		return "recursive"
	}
	return "unknown"
}

// SelectShape picks exactly one closure shape from the capture count and
// the presence of a self-call. A capture-free function is always zero
// shaped, recursive or not.
func SelectShape(fn *pyast.FunctionDef) ClosureShape {
	switch {
	case len(fn.CapturedVars) == 0:
		return ShapeZero
	case IsRecursive(fn):
		return ShapeRecursive
	}
	return ShapeSimple
}
