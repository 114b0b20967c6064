package codegen

import (
	"strings"

	"github.com/chazu/metal0/analysis"
	"github.com/chazu/metal0/pyast"
	"github.com/chazu/metal0/types"
)

// genBlock emits body in a fresh lexical scope of the current function.
// Variables that escape a nested block are declared first.
func (g *Generator) genBlock(body []pyast.Stmt) {
	if g.fc != nil {
		g.fc.mutable = append(g.fc.mutable, analysis.MutatedNames(body))
		defer func() { g.fc.mutable = g.fc.mutable[:len(g.fc.mutable)-1] }()
	}
	g.hoistEscapes(body)
	for _, st := range body {
		if g.failed() {
			return
		}
		g.genStmt(st)
		if terminates([]pyast.Stmt{st}) {
			// Anything after is unreachable and rejected by the target.
			return
		}
	}
}

// genScopedBlock emits body inside its own declaration scope.
func (g *Generator) genScopedBlock(body []pyast.Stmt) {
	g.st.pushScope(false)
	g.genBlock(body)
	g.st.popScope()
}

// flushPre writes pending expression preludes before the current statement.
func (g *Generator) flushPre() {
	if len(g.pre) == 0 {
		return
	}
	g.b.Lines(g.pre)
	g.pre = nil
}

// takePre detaches pending preludes.
func (g *Generator) takePre() []string {
	pre := g.pre
	g.pre = nil
	return pre
}

func (g *Generator) genStmt(st pyast.Stmt) {
	switch x := st.(type) {
	case *pyast.ExprStmt:
		g.genExprStmt(x)
	case *pyast.Assign:
		g.genAssign(x)
	case *pyast.AugAssign:
		g.genAugAssign(x)
	case *pyast.AnnAssign:
		g.genAnnAssign(x)
	case *pyast.Return:
		g.genReturn(x)
	case *pyast.If:
		g.genIf(x)
	case *pyast.While:
		g.genWhile(x)
	case *pyast.For:
		g.genFor(x)
	case *pyast.Try:
		g.genTry(x)
	case *pyast.With:
		g.genWith(x)
	case *pyast.Raise:
		g.genRaise(x)
	case *pyast.Assert:
		g.genAssert(x)
	case *pyast.FunctionDef:
		g.genNestedFunction(x)
	case *pyast.ClassDef:
		g.genClassDef(x)
	case *pyast.Pass, *pyast.Global, *pyast.Nonlocal, *pyast.Import, *pyast.ImportFrom:
		// Imports are declared at container level.
	case *pyast.Break:
		g.b.Line("break;")
	case *pyast.Continue:
		g.b.Line("continue;")
	default:
		g.errorAt(st, "unsupported statement %T", st)
	}
}

// ---------------------------------------------------------------------------
// Escape hoisting
// ---------------------------------------------------------------------------

func (g *Generator) hoistEscapes(body []pyast.Stmt) {
	escaped := analysis.AnalyzeScopes(body)
	if len(escaped) == 0 {
		return
	}
	handlers := handlerNames(body)
	for _, ev := range escaped {
		if _, ok := g.st.lookupLocal(ev.Name); ok {
			continue
		}
		t := g.escapeType(ev, handlers[ev.Name])
		zig := g.zigType(t)
		emitted := g.bindLocal(ev.Name)
		g.st.declare(ev.Name, &varInfo{typ: t, zigType: zig, mutable: true})
		g.b.Linef("var %s: %s = undefined;", emitted, zig)
		log.Debugf("%s: hoisting %s (%s, line %d) as %s", g.fc.name, ev.Name, ev.Source, ev.Line, zig)
	}
}

// escapeType picks the type of a hoisted declaration from the first
// declaration and widens it with every later one.
func (g *Generator) escapeType(ev analysis.EscapedVar, isHandler bool) types.Type {
	var t types.Type
	switch {
	case ev.Annotation != nil:
		return types.FromAnnotation(ev.Annotation, g.IsClass)
	case ev.Init != nil:
		t = g.infer(ev.Init)
	case ev.Iter != nil:
		t = g.iterElem(ev.Iter)
	case isHandler:
		return types.Simple(types.Error)
	}
	for _, alt := range ev.Alternatives {
		u, ok := types.Unify(t, g.infer(alt))
		if !ok {
			log.Warningf("%s: %s is bound to %s and %s in different branches; keeping %s", g.fc.name, ev.Name, t, g.infer(alt), t)
			continue
		}
		t = u
	}
	if t.IsUnknown() {
		t = types.Simple(types.Int)
	}
	return t
}

func handlerNames(body []pyast.Stmt) map[string]bool {
	out := make(map[string]bool)
	pyast.InspectStmts(body, func(n pyast.Node) bool {
		switch x := n.(type) {
		case *pyast.Try:
			for _, h := range x.Handlers {
				if h.Name != "" {
					out[h.Name] = true
				}
			}
		case *pyast.FunctionDef, *pyast.ClassDef, *pyast.Lambda:
			return false
		}
		return true
	})
	return out
}

// ---------------------------------------------------------------------------
// Expression statements
// ---------------------------------------------------------------------------

func (g *Generator) genExprStmt(x *pyast.ExprStmt) {
	if _, ok := pyast.StringConst(x.Value); ok {
		return
	}
	v := g.expr(x.Value)
	if g.failed() || v == "" {
		return
	}
	g.flushPre()
	if g.isVoidExpr(x.Value) {
		g.b.Linef("%s;", v)
	} else {
		g.b.Linef("_ = %s;", v)
	}
}

// isVoidExpr reports whether a call statement yields no value.
func (g *Generator) isVoidExpr(e pyast.Expr) bool {
	c, ok := e.(*pyast.Call)
	if !ok {
		return false
	}
	switch fn := c.Func.(type) {
	case *pyast.Name:
		if fn.ID == "print" {
			return true
		}
		if info, ok := g.st.closures[fn.ID]; ok {
			return info.retType.Kind == types.None
		}
		if t, ok := g.st.returnTypes[fn.ID]; ok {
			return t.Kind == types.None
		}
	case *pyast.Attribute:
		if inPlaceMethods[fn.Attr] && fn.Attr != "pop" && fn.Attr != "setdefault" {
			return true
		}
		if pyast.IsName(fn.Value, "self") && analysis.TestAssertionMethods[fn.Attr] {
			return true
		}
		if t, ok := g.FunctionReturn(dottedOrEmpty(fn)); ok {
			return t.Kind == types.None
		}
		if pyast.IsSuperCall(fn.Value) && fn.Attr == "__init__" {
			return true
		}
		if pyast.IsSuperCall(fn.Value) && g.class != nil && g.class.parent != nil {
			if t, ok := g.st.returnTypes[g.class.parent.name+"."+fn.Attr]; ok {
				return t.Kind == types.None
			}
			return fn.Attr == "__init__"
		}
	}
	return false
}

func dottedOrEmpty(e pyast.Expr) string {
	s, _ := pyast.DottedName(e)
	return s
}

// ---------------------------------------------------------------------------
// Assignment
// ---------------------------------------------------------------------------

func (g *Generator) genAssign(x *pyast.Assign) {
	if len(x.Targets) == 0 {
		g.errorAt(x, "assignment without target")
		return
	}
	first := x.Targets[0]
	g.assignTo(first, x.Value, nil, x)
	// a = b = v: later targets copy from the first.
	for _, t := range x.Targets[1:] {
		g.assignTo(t, first, nil, x)
	}
}

func (g *Generator) genAnnAssign(x *pyast.AnnAssign) {
	if x.Value == nil {
		// Bare declarations become fields in classes and nothing here.
		return
	}
	g.assignTo(x.Target, x.Value, x.Annotation, x)
}

func (g *Generator) assignTo(target pyast.Expr, value pyast.Expr, ann pyast.Expr, at pyast.Node) {
	switch t := target.(type) {
	case *pyast.Name:
		g.assignName(t.ID, value, ann)
	case *pyast.Tuple:
		g.assignUnpack(t.Elts, value, at)
	case *pyast.List:
		g.assignUnpack(t.Elts, value, at)
	case *pyast.Attribute:
		v := g.exprAs(value, g.infer(target))
		recv := g.operand(t.Value)
		if g.failed() {
			return
		}
		g.flushPre()
		g.b.Linef("%s.%s = %s;", recv, Ident(t.Attr), v)
	case *pyast.Subscript:
		if tpl, ok := g.complexTemplate(t.Value, "__setitem__"); ok {
			text := tpl.apply(g.operand(t.Value), g.expr(t.Index), g.expr(value))
			g.flushPre()
			g.b.Linef("%s;", text)
			return
		}
		recv := g.operand(t.Value)
		key := g.expr(t.Index)
		v := g.expr(value)
		if g.failed() {
			return
		}
		g.flushPre()
		g.b.Linef("%s;", g.try("runtime.setItem("+g.allocExpr()+", &"+recv+", "+key+", "+v+")"))
	default:
		g.errorAt(at, "unsupported assignment target %T", target)
	}
}

// assignName binds or rebinds a local.
func (g *Generator) assignName(name string, value pyast.Expr, ann pyast.Expr) {
	if lam, ok := value.(*pyast.Lambda); ok && ann == nil {
		if _, bound := g.st.lookupLocal(name); !bound {
			g.bindLambda(name, lam)
			return
		}
	}
	if v, ok := g.st.lookupLocal(name); ok {
		val := g.exprAs(value, v.typ)
		if g.failed() {
			return
		}
		g.flushPre()
		g.b.Linef("%s = %s;", g.st.resolve(name), val)
		return
	}

	var t types.Type
	if ann != nil {
		t = types.FromAnnotation(ann, g.IsClass)
	} else {
		t = g.infer(value)
	}
	if t.Kind == types.None || (t.Kind == types.Optional && t.ElemOr().IsUnknown()) {
		t = types.OptionalOf(types.Simple(types.Int))
	}
	val := g.exprAs(value, t)
	if g.failed() {
		return
	}
	emitted := g.bindLocal(name)
	mut := g.isMutable(name) || g.mutableInstance(name, t)
	kw := "const"
	if mut {
		kw = "var"
	}
	g.flushPre()
	if g.needsAnnotation(t, value, ann, mut) {
		g.b.Linef("%s %s: %s = %s;", kw, emitted, g.zigType(t), val)
	} else {
		g.b.Linef("%s %s = %s;", kw, emitted, val)
	}
	g.st.declare(name, &varInfo{typ: t, mutable: mut})
	if g.fc != nil && !g.fc.loaded[name] && !g.fc.mutatedInPlace[name] {
		g.b.Linef("_ = %s;", emitted)
	}
}

// needsAnnotation reports whether a declaration needs an explicit type.
// Literals are comptime values in the target and must be pinned.
func (g *Generator) needsAnnotation(t types.Type, value pyast.Expr, ann pyast.Expr, mut bool) bool {
	if t.IsUnknown() {
		return false
	}
	switch t.Kind {
	case types.Int, types.Float, types.Bool, types.String, types.Bytes, types.Optional, types.Error:
		return true
	case types.Class:
		return false
	}
	return ann != nil
}

// mutableInstance reports whether name holds an instance whose methods
// mutate the receiver and are called on it.
func (g *Generator) mutableInstance(name string, t types.Type) bool {
	if t.Kind != types.Class || g.fc == nil {
		return false
	}
	ci, ok := g.st.classes[t.Name]
	if !ok {
		return false
	}
	found := false
	pyast.InspectStmts(g.fc.body, func(n pyast.Node) bool {
		if c, ok := n.(*pyast.Call); ok {
			if attr, ok := c.Func.(*pyast.Attribute); ok && pyast.IsName(attr.Value, name) {
				if ci.methodMutates(attr.Attr) {
					found = true
				}
			}
		}
		return !found
	})
	return found
}

// assignUnpack lowers `a, b = value` through a temporary.
func (g *Generator) assignUnpack(targets []pyast.Expr, value pyast.Expr, at pyast.Node) {
	if tup, ok := value.(*pyast.Tuple); ok && len(tup.Elts) == len(targets) {
		// Evaluate every element before any store so swaps work.
		tmps := make([]string, len(targets))
		for i, el := range tup.Elts {
			v := g.expr(el)
			if g.failed() {
				return
			}
			tmps[i] = g.st.synth("__tmp")
			g.st.declare(tmps[i], &varInfo{typ: g.infer(el)})
			g.flushPre()
			g.b.Linef("const %s = %s;", tmps[i], v)
		}
		for i, t := range targets {
			g.assignTo(t, &pyast.Name{ID: tmps[i]}, nil, at)
		}
		return
	}
	src := g.expr(value)
	if g.failed() {
		return
	}
	tmp := g.st.synth("__tup")
	g.flushPre()
	g.b.Linef("const %s = %s;", tmp, src)
	g.st.declare(tmp, &varInfo{typ: g.infer(value)})
	for i, t := range targets {
		elem := &pyast.Subscript{Value: &pyast.Name{ID: tmp}, Index: &pyast.Constant{Kind: pyast.ConstInt, Value: int64(i)}}
		g.assignTo(t, elem, nil, at)
	}
}

func (g *Generator) genAugAssign(x *pyast.AugAssign) {
	var target string
	switch t := x.Target.(type) {
	case *pyast.Name:
		if _, ok := g.st.lookupLocal(t.ID); !ok {
			g.errorAt(x, "augmented assignment to undeclared %s", t.ID)
			return
		}
		target = g.st.resolve(t.ID)
	case *pyast.Attribute, *pyast.Subscript:
		if sub, ok := t.(*pyast.Subscript); ok {
			// x[k] op= v reads and writes through the runtime.
			bin := &pyast.BinOp{Left: sub, Op: x.Op, Right: x.Value}
			g.assignTo(sub, bin, nil, x)
			return
		}
		target = g.expr(t)
	default:
		g.errorAt(x, "unsupported augmented assignment target %T", x.Target)
		return
	}
	lt := g.infer(x.Target)
	rt := g.infer(x.Value)
	v := g.expr(x.Value)
	if g.failed() {
		return
	}
	g.flushPre()
	if op, ok := inlineAugOps[x.Op]; ok && lt.Kind != types.String && rt.Kind != types.String {
		if x.Op == pyast.Add && lt.Kind == types.List {
			g.b.Linef("%s;", g.try(target+".extend("+g.allocExpr()+", "+v+")"))
			return
		}
		g.b.Linef("%s %s %s;", target, op, v)
		return
	}
	g.b.Linef("%s = %s;", target, g.binOpText(x.Op, target, v, lt, rt))
}

var inlineAugOps = map[pyast.Operator]string{
	pyast.Add:    "+=",
	pyast.Sub:    "-=",
	pyast.Mult:   "*=",
	pyast.BitOr:  "|=",
	pyast.BitAnd: "&=",
	pyast.BitXor: "^=",
	pyast.LShift: "<<=",
	pyast.RShift: ">>=",
}

// ---------------------------------------------------------------------------
// Return, raise, assert
// ---------------------------------------------------------------------------

func (g *Generator) genReturn(x *pyast.Return) {
	fc := g.fc
	if fc == nil || fc.isEntry {
		g.errorAt(x, "return outside function")
		return
	}
	if x.Value == nil {
		if fc.returnsValue {
			g.b.Line("return null;")
		} else {
			g.b.Line("return;")
		}
		return
	}
	if c, ok := x.Value.(*pyast.Constant); ok && c.Kind == pyast.ConstNone {
		fc.returnTypes = append(fc.returnTypes, types.Simple(types.None))
		if fc.returnsValue || (fc.hasDeclared && fc.declaredRet.Kind == types.Optional) {
			g.b.Line("return null;")
		} else {
			g.b.Line("return;")
		}
		return
	}
	if id, ok := pyast.NameID(x.Value); ok && fc.funcParams[id] {
		fc.returnsParam = id
	}
	want := fc.declaredRet
	if !fc.hasDeclared {
		want = types.Type{}
	}
	fc.returnTypes = append(fc.returnTypes, g.infer(x.Value))
	v := g.exprAs(x.Value, want)
	if g.failed() {
		return
	}
	g.flushPre()
	g.b.Linef("return %s;", v)
}

func (g *Generator) genRaise(x *pyast.Raise) {
	g.markFallible()
	if x.Exc == nil {
		if t := g.currentHandlerErr(); t != "" {
			g.b.Linef("return %s;", t)
			return
		}
		g.b.Line("return error.Exception;")
		return
	}
	name := errorName(x.Exc)
	if tc := g.currentTry(); tc != nil {
		tc.used = true
		g.b.Linef("%s = error.%s;", tc.excVar, name)
		g.b.Linef("break :%s;", tc.label)
		return
	}
	g.b.Linef("return error.%s;", name)
}

// errorName returns the error tag for a raised expression.
func errorName(e pyast.Expr) string {
	switch x := e.(type) {
	case *pyast.Call:
		return errorName(x.Func)
	case *pyast.Name:
		return SanitizeName(x.ID)
	case *pyast.Attribute:
		return SanitizeName(x.Attr)
	}
	return "Exception"
}

func (g *Generator) genAssert(x *pyast.Assert) {
	c := g.cond(x.Test)
	if g.failed() {
		return
	}
	g.flushPre()
	g.b.Linef("std.debug.assert(%s);", c)
}

// ---------------------------------------------------------------------------
// Helpers shared by statements
// ---------------------------------------------------------------------------

// iterElem returns the element type produced by iterating e.
func (g *Generator) iterElem(e pyast.Expr) types.Type {
	if c, ok := e.(*pyast.Call); ok {
		if id, ok := pyast.NameID(c.Func); ok {
			switch id {
			case "range":
				return types.Simple(types.Int)
			case "enumerate":
				if len(c.Args) > 0 {
					return types.TupleOf(types.Simple(types.Int), g.iterElem(c.Args[0]))
				}
			case "zip":
				elems := make([]types.Type, len(c.Args))
				for i, a := range c.Args {
					elems[i] = g.iterElem(a)
				}
				return types.TupleOf(elems...)
			}
		}
	}
	t := g.infer(e)
	switch t.Kind {
	case types.String:
		return t
	case types.Dict:
		if t.Key != nil {
			return *t.Key
		}
	}
	return t.ElemOr()
}

func joinArgs(args []string) string {
	return strings.Join(args, ", ")
}
