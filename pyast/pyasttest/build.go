// Package pyasttest provides terse constructors for building syntax trees
// in tests.
package pyasttest

import "github.com/chazu/metal0/pyast"

// N returns a Name.
func N(id string) *pyast.Name { return &pyast.Name{ID: id} }

// Int returns an integer constant.
func Int(v int64) *pyast.Constant { return &pyast.Constant{Kind: pyast.ConstInt, Value: v} }

// Float returns a float constant.
func Float(v float64) *pyast.Constant { return &pyast.Constant{Kind: pyast.ConstFloat, Value: v} }

// Str returns a string constant.
func Str(v string) *pyast.Constant { return &pyast.Constant{Kind: pyast.ConstStr, Value: v} }

// Bool returns a bool constant.
func Bool(v bool) *pyast.Constant { return &pyast.Constant{Kind: pyast.ConstBool, Value: v} }

// None returns the None constant.
func None() *pyast.Constant { return &pyast.Constant{Kind: pyast.ConstNone} }

// Attr returns value.attr.
func Attr(value pyast.Expr, attr string) *pyast.Attribute {
	return &pyast.Attribute{Value: value, Attr: attr}
}

// Self returns self.attr.
func Self(attr string) *pyast.Attribute { return Attr(N("self"), attr) }

// Call returns fn(args...).
func Call(fn pyast.Expr, args ...pyast.Expr) *pyast.Call {
	return &pyast.Call{Func: fn, Args: args}
}

// CallN returns name(args...).
func CallN(name string, args ...pyast.Expr) *pyast.Call { return Call(N(name), args...) }

// Method returns recv.method(args...).
func Method(recv pyast.Expr, method string, args ...pyast.Expr) *pyast.Call {
	return Call(Attr(recv, method), args...)
}

// Super returns super().method(args...).
func Super(method string, args ...pyast.Expr) *pyast.Call {
	return Method(CallN("super"), method, args...)
}

// Bin returns left op right.
func Bin(left pyast.Expr, op pyast.Operator, right pyast.Expr) *pyast.BinOp {
	return &pyast.BinOp{Left: left, Op: op, Right: right}
}

// Cmp returns a single comparison.
func Cmp(left pyast.Expr, op pyast.CmpOp, right pyast.Expr) *pyast.Compare {
	return &pyast.Compare{Left: left, Ops: []pyast.CmpOp{op}, Comparators: []pyast.Expr{right}}
}

// Assign returns target = value.
func Assign(target string, value pyast.Expr) *pyast.Assign {
	return &pyast.Assign{Targets: []pyast.Expr{N(target)}, Value: value}
}

// AssignTo returns target = value for an arbitrary target.
func AssignTo(target, value pyast.Expr) *pyast.Assign {
	return &pyast.Assign{Targets: []pyast.Expr{target}, Value: value}
}

// AugAssign returns target op= value.
func AugAssign(target string, op pyast.Operator, value pyast.Expr) *pyast.AugAssign {
	return &pyast.AugAssign{Target: N(target), Op: op, Value: value}
}

// Ret returns `return value`; value may be nil.
func Ret(value pyast.Expr) *pyast.Return { return &pyast.Return{Value: value} }

// Expr wraps an expression statement.
func Expr(e pyast.Expr) *pyast.ExprStmt { return &pyast.ExprStmt{Value: e} }

// If returns if test: body else: orelse.
func If(test pyast.Expr, body []pyast.Stmt, orelse ...pyast.Stmt) *pyast.If {
	return &pyast.If{Test: test, Body: body, OrElse: orelse}
}

// For returns for target in iter: body.
func For(target string, iter pyast.Expr, body ...pyast.Stmt) *pyast.For {
	return &pyast.For{Target: N(target), Iter: iter, Body: body}
}

// While returns while test: body.
func While(test pyast.Expr, body ...pyast.Stmt) *pyast.While {
	return &pyast.While{Test: test, Body: body}
}

// With returns with ctx as name: body.
func With(ctx pyast.Expr, name string, body ...pyast.Stmt) *pyast.With {
	item := pyast.WithItem{ContextExpr: ctx}
	if name != "" {
		item.OptionalVars = N(name)
	}
	return &pyast.With{Items: []pyast.WithItem{item}, Body: body}
}

// Try returns try: body with the given handlers.
func Try(body []pyast.Stmt, handlers ...*pyast.ExceptHandler) *pyast.Try {
	return &pyast.Try{Body: body, Handlers: handlers}
}

// Except returns except typ as name: body. An empty typ is a bare except.
func Except(typ, name string, body ...pyast.Stmt) *pyast.ExceptHandler {
	h := &pyast.ExceptHandler{Name: name, Body: body}
	if typ != "" {
		h.Type = N(typ)
	}
	return h
}

// Raise returns raise typ().
func Raise(typ string) *pyast.Raise { return &pyast.Raise{Exc: CallN(typ)} }

// P returns an unannotated parameter.
func P(name string) pyast.Param { return pyast.Param{Name: name} }

// PT returns a parameter annotated with a simple type name.
func PT(name, ann string) pyast.Param { return pyast.Param{Name: name, Annotation: N(ann)} }

// PD returns a parameter with a default value.
func PD(name string, def pyast.Expr) pyast.Param { return pyast.Param{Name: name, Default: def} }

// Def returns a function definition.
func Def(name string, params []pyast.Param, body ...pyast.Stmt) *pyast.FunctionDef {
	return &pyast.FunctionDef{Name: name, Params: params, Body: body}
}

// Params is shorthand for a list of unannotated parameters.
func Params(names ...string) []pyast.Param {
	out := make([]pyast.Param, len(names))
	for i, n := range names {
		out[i] = P(n)
	}
	return out
}

// Class returns a class definition with optional single base.
func Class(name, base string, body ...pyast.Stmt) *pyast.ClassDef {
	c := &pyast.ClassDef{Name: name, Body: body}
	if base != "" {
		c.Bases = []pyast.Expr{N(base)}
	}
	return c
}

// Lambda returns lambda params: body.
func Lambda(params []pyast.Param, body pyast.Expr) *pyast.Lambda {
	return &pyast.Lambda{Params: params, Body: body}
}

// List returns a list literal.
func List(elts ...pyast.Expr) *pyast.List { return &pyast.List{Elts: elts} }

// Import returns import name [as alias].
func Import(name, alias string) *pyast.Import {
	return &pyast.Import{Names: []pyast.Alias{{Name: name, AsName: alias}}}
}

// Module returns a module named "main".
func Module(body ...pyast.Stmt) *pyast.Module { return &pyast.Module{Name: "main", Body: body} }

// Body is shorthand for a statement list.
func Body(stmts ...pyast.Stmt) []pyast.Stmt { return stmts }
