package analysis

import "github.com/chazu/metal0/pyast"

// EscapeSource names the construct that declared an escaping variable.
type EscapeSource string

const (
	EscapeWith  EscapeSource = "with_stmt"
	EscapeTry   EscapeSource = "try_except"
	EscapeFor   EscapeSource = "for_loop"
	EscapeIf    EscapeSource = "if_stmt"
	EscapeWhile EscapeSource = "while_loop"
)

// EscapedVar is a variable declared inside a nested block and read after
// that block ends. It must be declared before the block in the target.
type EscapedVar struct {
	Name string
	// Init is the first initializer seen. It is nil for loop targets and
	// exception bindings.
	Init pyast.Expr
	// Annotation is set when the first declaration was annotated.
	Annotation pyast.Expr
	// Iter is the iterable when the first declaration was a for target.
	Iter pyast.Expr
	// Alternatives are the initializers of later declarations in other
	// blocks, in source order.
	Alternatives []pyast.Expr
	Source       EscapeSource
	Line         int
}

// AnalyzeScopes returns the variables declared inside a compound statement
// of body and read by a later statement of the same body. Names bound by a
// plain statement of body before the block are already visible and are
// not reported. Each name appears at most once, in first-declaration order;
// the first declaration's metadata wins.
func AnalyzeScopes(body []pyast.Stmt) []EscapedVar {
	var out []EscapedVar
	index := make(map[string]int)
	outer := make(map[string]bool)

	for i, st := range body {
		if !isBlock(st) {
			forEachBinding([]pyast.Stmt{st}, func(name string, _ int) { outer[name] = true })
			continue
		}
		var later map[string]bool
		decls := blockDeclarations(st)
		for _, d := range decls {
			if outer[d.Name] {
				continue
			}
			if at, ok := index[d.Name]; ok {
				if d.Init != nil {
					out[at].Alternatives = append(out[at].Alternatives, d.Init)
				}
				continue
			}
			if later == nil {
				later = LoadedNames(body[i+1:], true)
			}
			if !later[d.Name] {
				continue
			}
			index[d.Name] = len(out)
			out = append(out, d)
		}
	}
	return out
}

func isBlock(st pyast.Stmt) bool {
	switch st.(type) {
	case *pyast.If, *pyast.For, *pyast.While, *pyast.Try, *pyast.With:
		return true
	}
	return false
}

// blockDeclarations lists every binding inside a compound statement,
// tagged with its innermost declaring construct. Nested function and class
// bodies are not entered.
func blockDeclarations(st pyast.Stmt) []EscapedVar {
	var out []EscapedVar
	var walk func(body []pyast.Stmt, src EscapeSource)
	var visit func(st pyast.Stmt, src EscapeSource)

	declare := func(target pyast.Expr, init, ann pyast.Expr, src EscapeSource, line int) {
		names := TargetNames(target)
		for _, name := range names {
			v := EscapedVar{Name: name, Source: src, Line: line, Annotation: ann}
			if len(names) == 1 {
				v.Init = init
			}
			out = append(out, v)
		}
	}

	visit = func(st pyast.Stmt, src EscapeSource) {
		line := pyast.Line(st)
		switch x := st.(type) {
		case *pyast.Assign:
			for _, t := range x.Targets {
				declare(t, x.Value, nil, src, line)
			}
		case *pyast.AnnAssign:
			declare(x.Target, x.Value, x.Annotation, src, line)
		case *pyast.AugAssign:
			declare(x.Target, nil, nil, src, line)
		case *pyast.If:
			walk(x.Body, EscapeIf)
			walk(x.OrElse, EscapeIf)
		case *pyast.For:
			for _, name := range TargetNames(x.Target) {
				out = append(out, EscapedVar{Name: name, Source: EscapeFor, Iter: x.Iter, Line: line})
			}
			walk(x.Body, EscapeFor)
			walk(x.OrElse, EscapeFor)
		case *pyast.While:
			walk(x.Body, EscapeWhile)
			walk(x.OrElse, EscapeWhile)
		case *pyast.With:
			for _, item := range x.Items {
				declare(item.OptionalVars, item.ContextExpr, nil, EscapeWith, line)
			}
			walk(x.Body, EscapeWith)
		case *pyast.Try:
			walk(x.Body, EscapeTry)
			for _, h := range x.Handlers {
				if h.Name != "" {
					out = append(out, EscapedVar{Name: h.Name, Source: EscapeTry, Line: pyast.Line(h)})
				}
				walk(h.Body, EscapeTry)
			}
			walk(x.OrElse, EscapeTry)
			walk(x.FinalBody, EscapeTry)
		}
	}
	walk = func(body []pyast.Stmt, src EscapeSource) {
		for _, s := range body {
			visit(s, src)
		}
	}

	visit(st, "")
	return out
}

// IsEscapeHoisted is a convenience lookup over an AnalyzeScopes result.
func IsEscapeHoisted(vars []EscapedVar, name string) bool {
	for _, v := range vars {
		if v.Name == name {
			return true
		}
	}
	return false
}
