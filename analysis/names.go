// Package analysis holds the side-effect-free AST predicates the code
// generator consults before emitting a function: allocator and fallibility
// analysis, receiver and parameter usage, scope escape, and closure capture.
package analysis

import "github.com/chazu/metal0/pyast"

// ---------------------------------------------------------------------------
// Name loads and stores
// ---------------------------------------------------------------------------

// loadWalker visits every Name that is read (not purely assigned). Names
// bound by a nested function's parameters or a comprehension's targets are
// hidden inside that construct.
type loadWalker struct {
	visit  func(*pyast.Name)
	nested bool // descend into nested function and lambda bodies
}

func (w *loadWalker) stmts(body []pyast.Stmt, shadow map[string]bool) {
	for _, s := range body {
		w.node(s, shadow)
	}
}

func (w *loadWalker) node(n pyast.Node, shadow map[string]bool) {
	pyast.Inspect(n, func(c pyast.Node) bool {
		switch x := c.(type) {
		case *pyast.Name:
			if !shadow[x.ID] {
				w.visit(x)
			}
		case *pyast.Assign:
			for _, t := range x.Targets {
				w.target(t, shadow)
			}
			w.expr(x.Value, shadow)
			return false
		case *pyast.AnnAssign:
			w.target(x.Target, shadow)
			w.expr(x.Value, shadow)
			return false
		case *pyast.For:
			w.target(x.Target, shadow)
			w.expr(x.Iter, shadow)
			w.stmts(x.Body, shadow)
			w.stmts(x.OrElse, shadow)
			return false
		case *pyast.With:
			for _, item := range x.Items {
				w.expr(item.ContextExpr, shadow)
				w.target(item.OptionalVars, shadow)
			}
			w.stmts(x.Body, shadow)
			return false
		case *pyast.FunctionDef:
			for _, p := range x.Params {
				w.expr(p.Default, shadow)
			}
			for _, d := range x.Decorators {
				w.expr(d, shadow)
			}
			if w.nested {
				w.stmts(x.Body, withShadow(shadow, paramNames(x.Params)))
			}
			return false
		case *pyast.Lambda:
			for _, p := range x.Params {
				w.expr(p.Default, shadow)
			}
			if w.nested {
				w.expr(x.Body, withShadow(shadow, paramNames(x.Params)))
			}
			return false
		case *pyast.ListComp:
			w.comprehension(x.Generators, shadow, x.Elt)
			return false
		case *pyast.SetComp:
			w.comprehension(x.Generators, shadow, x.Elt)
			return false
		case *pyast.GeneratorExp:
			w.comprehension(x.Generators, shadow, x.Elt)
			return false
		case *pyast.DictComp:
			w.comprehension(x.Generators, shadow, x.Key, x.Value)
			return false
		}
		return true
	})
}

func (w *loadWalker) expr(e pyast.Expr, shadow map[string]bool) {
	if e != nil {
		w.node(e, shadow)
	}
}

// target visits the loads inside an assignment target: attribute and
// subscript bases are read, bare names are not.
func (w *loadWalker) target(t pyast.Expr, shadow map[string]bool) {
	switch x := t.(type) {
	case nil, *pyast.Name:
	case *pyast.Tuple:
		for _, el := range x.Elts {
			w.target(el, shadow)
		}
	case *pyast.List:
		for _, el := range x.Elts {
			w.target(el, shadow)
		}
	case *pyast.Starred:
		w.target(x.Value, shadow)
	default:
		w.expr(t, shadow)
	}
}

func (w *loadWalker) comprehension(gens []pyast.Comprehension, shadow map[string]bool, elts ...pyast.Expr) {
	inner := shadow
	for _, g := range gens {
		w.expr(g.Iter, inner)
		inner = withShadow(inner, TargetNames(g.Target))
		for _, cond := range g.Ifs {
			w.expr(cond, inner)
		}
	}
	for _, e := range elts {
		w.expr(e, inner)
	}
}

func withShadow(shadow map[string]bool, names []string) map[string]bool {
	if len(names) == 0 {
		return shadow
	}
	out := make(map[string]bool, len(shadow)+len(names))
	for k := range shadow {
		out[k] = true
	}
	for _, n := range names {
		out[n] = true
	}
	return out
}

func paramNames(params []pyast.Param) []string {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	return names
}

// IsNameUsed reports whether body reads name anywhere, including inside
// nested functions that do not rebind it.
func IsNameUsed(body []pyast.Stmt, name string) bool {
	found := false
	w := &loadWalker{nested: true, visit: func(n *pyast.Name) {
		if n.ID == name {
			found = true
		}
	}}
	w.stmts(body, nil)
	return found
}

// IsNameUsedInExpr is IsNameUsed for a single expression.
func IsNameUsedInExpr(e pyast.Expr, name string) bool {
	found := false
	w := &loadWalker{nested: true, visit: func(n *pyast.Name) {
		if n.ID == name {
			found = true
		}
	}}
	w.expr(e, nil)
	return found
}

// LoadedNames returns the set of names read in body. When nested is true,
// reads inside nested functions are included.
func LoadedNames(body []pyast.Stmt, nested bool) map[string]bool {
	out := make(map[string]bool)
	w := &loadWalker{nested: nested, visit: func(n *pyast.Name) { out[n.ID] = true }}
	w.stmts(body, nil)
	return out
}

// TargetNames returns the names bound by an assignment target.
func TargetNames(t pyast.Expr) []string {
	switch x := t.(type) {
	case *pyast.Name:
		return []string{x.ID}
	case *pyast.Tuple:
		var out []string
		for _, el := range x.Elts {
			out = append(out, TargetNames(el)...)
		}
		return out
	case *pyast.List:
		var out []string
		for _, el := range x.Elts {
			out = append(out, TargetNames(el)...)
		}
		return out
	case *pyast.Starred:
		return TargetNames(x.Value)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Local bindings
// ---------------------------------------------------------------------------

// forEachBinding calls bind for every name bound by a statement of body,
// descending through compound statements but not into nested functions or
// classes, whose own names are reported as single bindings.
func forEachBinding(body []pyast.Stmt, bind func(name string, weight int)) {
	for _, s := range body {
		switch x := s.(type) {
		case *pyast.Assign:
			for _, t := range x.Targets {
				for _, n := range TargetNames(t) {
					bind(n, 1)
				}
			}
		case *pyast.AnnAssign:
			if x.Value != nil {
				for _, n := range TargetNames(x.Target) {
					bind(n, 1)
				}
			}
		case *pyast.AugAssign:
			for _, n := range TargetNames(x.Target) {
				bind(n, 2)
			}
		case *pyast.For:
			for _, n := range TargetNames(x.Target) {
				bind(n, 2)
			}
			forEachBinding(x.Body, bind)
			forEachBinding(x.OrElse, bind)
		case *pyast.While:
			forEachBinding(x.Body, bind)
			forEachBinding(x.OrElse, bind)
		case *pyast.If:
			forEachBinding(x.Body, bind)
			forEachBinding(x.OrElse, bind)
		case *pyast.With:
			for _, item := range x.Items {
				for _, n := range TargetNames(item.OptionalVars) {
					bind(n, 1)
				}
			}
			forEachBinding(x.Body, bind)
		case *pyast.Try:
			forEachBinding(x.Body, bind)
			for _, h := range x.Handlers {
				if h.Name != "" {
					bind(h.Name, 1)
				}
				forEachBinding(h.Body, bind)
			}
			forEachBinding(x.OrElse, bind)
			forEachBinding(x.FinalBody, bind)
		case *pyast.FunctionDef:
			bind(x.Name, 1)
		case *pyast.ClassDef:
			bind(x.Name, 1)
		case *pyast.Import:
			for _, a := range x.Names {
				bind(importBinding(a), 1)
			}
		case *pyast.ImportFrom:
			for _, a := range x.Names {
				bind(importBinding(a), 1)
			}
		}
	}
}

func importBinding(a pyast.Alias) string {
	if a.AsName != "" {
		return a.AsName
	}
	for i := 0; i < len(a.Name); i++ {
		if a.Name[i] == '.' {
			return a.Name[:i]
		}
	}
	return a.Name
}

// LocalNames returns the names bound anywhere in body (not inside nested
// functions), in first-binding order.
func LocalNames(body []pyast.Stmt) []string {
	seen := make(map[string]bool)
	var out []string
	forEachBinding(body, func(name string, _ int) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	})
	return out
}

// MutatedNames returns the names that are bound more than once in body,
// augmented, or used as loop targets. Those need a mutable declaration.
func MutatedNames(body []pyast.Stmt) map[string]bool {
	counts := make(map[string]int)
	forEachBinding(body, func(name string, weight int) {
		counts[name] += weight
	})
	out := make(map[string]bool)
	for name, n := range counts {
		if n > 1 {
			out[name] = true
		}
	}
	return out
}
