package pyast

// Inspect traverses the tree rooted at node in depth-first order, calling f
// for each node. If f returns false, the children of that node are skipped.
// Nested function and class bodies are visited like any other child.
func Inspect(node Node, f func(Node) bool) {
	if node == nil || !f(node) {
		return
	}
	switch n := node.(type) {
	case *FunctionDef:
		inspectParams(n.Params, f)
		inspectExprs(n.Decorators, f)
		inspectExpr(n.Returns, f)
		InspectStmts(n.Body, f)
	case *ClassDef:
		inspectExprs(n.Bases, f)
		inspectExprs(n.Decorators, f)
		InspectStmts(n.Body, f)
	case *Return:
		inspectExpr(n.Value, f)
	case *Assign:
		inspectExprs(n.Targets, f)
		inspectExpr(n.Value, f)
	case *AugAssign:
		inspectExpr(n.Target, f)
		inspectExpr(n.Value, f)
	case *AnnAssign:
		inspectExpr(n.Target, f)
		inspectExpr(n.Annotation, f)
		inspectExpr(n.Value, f)
	case *For:
		inspectExpr(n.Target, f)
		inspectExpr(n.Iter, f)
		InspectStmts(n.Body, f)
		InspectStmts(n.OrElse, f)
	case *While:
		inspectExpr(n.Test, f)
		InspectStmts(n.Body, f)
		InspectStmts(n.OrElse, f)
	case *If:
		inspectExpr(n.Test, f)
		InspectStmts(n.Body, f)
		InspectStmts(n.OrElse, f)
	case *With:
		for _, item := range n.Items {
			inspectExpr(item.ContextExpr, f)
			inspectExpr(item.OptionalVars, f)
		}
		InspectStmts(n.Body, f)
	case *Raise:
		inspectExpr(n.Exc, f)
		inspectExpr(n.Cause, f)
	case *Try:
		InspectStmts(n.Body, f)
		for _, h := range n.Handlers {
			Inspect(h, f)
		}
		InspectStmts(n.OrElse, f)
		InspectStmts(n.FinalBody, f)
	case *ExceptHandler:
		inspectExpr(n.Type, f)
		InspectStmts(n.Body, f)
	case *Assert:
		inspectExpr(n.Test, f)
		inspectExpr(n.Msg, f)
	case *ExprStmt:
		inspectExpr(n.Value, f)

	case *Attribute:
		inspectExpr(n.Value, f)
	case *Subscript:
		inspectExpr(n.Value, f)
		inspectExpr(n.Index, f)
	case *Slice:
		inspectExpr(n.Lower, f)
		inspectExpr(n.Upper, f)
		inspectExpr(n.Step, f)
	case *Starred:
		inspectExpr(n.Value, f)
	case *BinOp:
		inspectExpr(n.Left, f)
		inspectExpr(n.Right, f)
	case *BoolOp:
		inspectExprs(n.Values, f)
	case *UnaryOp:
		inspectExpr(n.Operand, f)
	case *Compare:
		inspectExpr(n.Left, f)
		inspectExprs(n.Comparators, f)
	case *Call:
		inspectExpr(n.Func, f)
		inspectExprs(n.Args, f)
		for _, kw := range n.Keywords {
			inspectExpr(kw.Value, f)
		}
	case *IfExp:
		inspectExpr(n.Test, f)
		inspectExpr(n.Body, f)
		inspectExpr(n.OrElse, f)
	case *Lambda:
		inspectParams(n.Params, f)
		inspectExpr(n.Body, f)
	case *List:
		inspectExprs(n.Elts, f)
	case *Tuple:
		inspectExprs(n.Elts, f)
	case *Set:
		inspectExprs(n.Elts, f)
	case *Dict:
		inspectExprs(n.Keys, f)
		inspectExprs(n.Values, f)
	case *ListComp:
		inspectGenerators(n.Generators, f)
		inspectExpr(n.Elt, f)
	case *SetComp:
		inspectGenerators(n.Generators, f)
		inspectExpr(n.Elt, f)
	case *GeneratorExp:
		inspectGenerators(n.Generators, f)
		inspectExpr(n.Elt, f)
	case *DictComp:
		inspectGenerators(n.Generators, f)
		inspectExpr(n.Key, f)
		inspectExpr(n.Value, f)
	case *Await:
		inspectExpr(n.Value, f)
	case *FormattedValue:
		inspectExpr(n.Value, f)
		inspectExpr(n.FormatSpec, f)
	case *FString:
		inspectExprs(n.Values, f)
	}
}

// InspectStmts calls Inspect on every statement of body in order.
func InspectStmts(body []Stmt, f func(Node) bool) {
	for _, s := range body {
		Inspect(s, f)
	}
}

func inspectExpr(e Expr, f func(Node) bool) {
	if e != nil {
		Inspect(e, f)
	}
}

func inspectExprs(es []Expr, f func(Node) bool) {
	for _, e := range es {
		inspectExpr(e, f)
	}
}

func inspectParams(params []Param, f func(Node) bool) {
	for _, p := range params {
		inspectExpr(p.Annotation, f)
		inspectExpr(p.Default, f)
	}
}

func inspectGenerators(gens []Comprehension, f func(Node) bool) {
	for _, g := range gens {
		inspectExpr(g.Iter, f)
		inspectExpr(g.Target, f)
		inspectExprs(g.Ifs, f)
	}
}

// ---------------------------------------------------------------------------
// Small shape helpers shared by analysis and codegen
// ---------------------------------------------------------------------------

// NameID returns the identifier of e when e is a bare Name.
func NameID(e Expr) (string, bool) {
	if n, ok := e.(*Name); ok {
		return n.ID, true
	}
	return "", false
}

// IsName reports whether e is the bare identifier id.
func IsName(e Expr, id string) bool {
	n, ok := e.(*Name)
	return ok && n.ID == id
}

// DottedName flattens `a.b.c` into "a.b.c". It returns false when e contains
// anything other than names and attributes.
func DottedName(e Expr) (string, bool) {
	switch x := e.(type) {
	case *Name:
		return x.ID, true
	case *Attribute:
		base, ok := DottedName(x.Value)
		if !ok {
			return "", false
		}
		return base + "." + x.Attr, true
	}
	return "", false
}

// IsSuperCall reports whether e is the call `super()`.
func IsSuperCall(e Expr) bool {
	c, ok := e.(*Call)
	return ok && IsName(c.Func, "super")
}

// StringConst returns the value of a string Constant.
func StringConst(e Expr) (string, bool) {
	c, ok := e.(*Constant)
	if !ok || c.Kind != ConstStr {
		return "", false
	}
	s, ok := c.Value.(string)
	return s, ok
}

// Line returns the 1-based start line of n, or 0 when n is nil.
func Line(n Node) int {
	if n == nil {
		return 0
	}
	return n.Span().Start.Line
}

// Docstring returns the leading string-literal statement of body, if any.
func Docstring(body []Stmt) (string, bool) {
	if len(body) == 0 {
		return "", false
	}
	es, ok := body[0].(*ExprStmt)
	if !ok {
		return "", false
	}
	return StringConst(es.Value)
}
