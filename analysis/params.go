package analysis

import "github.com/chazu/metal0/pyast"

// IsParameterUsedAsFunction reports whether name is called, or returned
// verbatim, in body. Such parameters carry arbitrary callables and are
// emitted with a generic type.
func IsParameterUsedAsFunction(body []pyast.Stmt, name string) bool {
	found := false
	pyast.InspectStmts(body, func(n pyast.Node) bool {
		if found {
			return false
		}
		switch x := n.(type) {
		case *pyast.Call:
			if pyast.IsName(x.Func, name) {
				found = true
			}
		case *pyast.Return:
			if pyast.IsName(x.Value, name) {
				found = true
			}
		case *pyast.FunctionDef:
			if shadows(x.Params, name) {
				return false
			}
		case *pyast.Lambda:
			if shadows(x.Params, name) {
				return false
			}
		}
		return true
	})
	return found
}

// IsParameterUsedAsIterator reports whether name is the iterable of a for
// loop or comprehension in body.
func IsParameterUsedAsIterator(body []pyast.Stmt, name string) bool {
	found := false
	checkGens := func(gens []pyast.Comprehension) {
		for _, g := range gens {
			if iterates(g.Iter, name) {
				found = true
			}
		}
	}
	pyast.InspectStmts(body, func(n pyast.Node) bool {
		if found {
			return false
		}
		switch x := n.(type) {
		case *pyast.For:
			if iterates(x.Iter, name) {
				found = true
			}
		case *pyast.ListComp:
			checkGens(x.Generators)
		case *pyast.SetComp:
			checkGens(x.Generators)
		case *pyast.DictComp:
			checkGens(x.Generators)
		case *pyast.GeneratorExp:
			checkGens(x.Generators)
		}
		return true
	})
	return found
}

// iterates matches `name` and the wrappers `enumerate(name)`,
// `reversed(name)` and `sorted(name)`.
func iterates(iter pyast.Expr, name string) bool {
	if pyast.IsName(iter, name) {
		return true
	}
	if c, ok := iter.(*pyast.Call); ok && len(c.Args) > 0 {
		if id, ok := pyast.NameID(c.Func); ok {
			switch id {
			case "enumerate", "reversed", "sorted":
				return pyast.IsName(c.Args[0], name)
			}
		}
	}
	return false
}

// IsParameterUsedInNestedFunction reports whether a function or lambda
// nested in body reads name without rebinding it.
func IsParameterUsedInNestedFunction(body []pyast.Stmt, name string) bool {
	found := false
	pyast.InspectStmts(body, func(n pyast.Node) bool {
		if found {
			return false
		}
		switch x := n.(type) {
		case *pyast.FunctionDef:
			if !shadows(x.Params, name) && IsNameUsed(x.Body, name) {
				found = true
			}
			return false
		case *pyast.Lambda:
			if !shadows(x.Params, name) && IsNameUsedInExpr(x.Body, name) {
				found = true
			}
			return false
		}
		return true
	})
	return found
}

// UnusedParams returns the parameter names that body never reads.
func UnusedParams(params []pyast.Param, body []pyast.Stmt) map[string]bool {
	loaded := LoadedNames(body, true)
	out := make(map[string]bool)
	for _, p := range params {
		if !loaded[p.Name] {
			out[p.Name] = true
		}
	}
	return out
}

// ReassignedParams returns the parameters that body assigns to. Zig
// parameters are immutable, so these are copied into locals.
func ReassignedParams(params []pyast.Param, body []pyast.Stmt) map[string]bool {
	bound := make(map[string]bool)
	forEachBinding(body, func(name string, _ int) { bound[name] = true })
	out := make(map[string]bool)
	for _, p := range params {
		if bound[p.Name] {
			out[p.Name] = true
		}
	}
	return out
}
