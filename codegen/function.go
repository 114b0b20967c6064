package codegen

import (
	"fmt"
	"strings"

	"github.com/chazu/metal0/analysis"
	"github.com/chazu/metal0/pyast"
	"github.com/chazu/metal0/types"
)

// funcCtx is the per-function generation state. It is pushed on entry to
// every function, method, closure and lambda body and popped on exit.
type funcCtx struct {
	name   string
	class  string
	parent *funcCtx

	isEntry       bool
	hasAllocParam bool
	// inClosure marks a nested function body. The enclosing allocator
	// parameter is not visible there.
	inClosure bool
	fallible  bool
	allocUsed bool
	// emittedTry records that the body propagates an error.
	emittedTry bool

	body           []pyast.Stmt
	loaded         map[string]bool
	mutatedInPlace map[string]bool
	// mutable is a stack of per-block rebinding sets.
	mutable []map[string]bool

	// receiver is the source name of a method's self parameter and
	// receiverType its emitted type; clsParam names a classmethod's class
	// parameter.
	receiver     string
	receiverType string
	clsParam     string

	params       map[string]pyast.Param
	funcParams   map[string]bool // parameters emitted as anytype callables
	// paramNames maps a parameter's source name to its name in the
	// emitted signature.
	paramNames   map[string]string
	declaredRet  types.Type
	hasDeclared  bool
	returnTypes  []types.Type
	returnsParam string
	returnsValue bool

	renames  []savedRename
	closures []savedRename
	tries    []*tryCtx
	// handlerErrs holds the captured error of each enclosing except
	// clause, innermost last.
	handlerErrs []string
}

func newFuncCtx(name string, params []pyast.Param, body []pyast.Stmt) *funcCtx {
	fc := &funcCtx{
		name:           name,
		body:           body,
		returnsValue:   returnsValue(body),
		loaded:         analysis.LoadedNames(body, true),
		mutatedInPlace: mutatedInPlace(body),
		params:         make(map[string]pyast.Param, len(params)),
		funcParams:     make(map[string]bool),
		paramNames:     make(map[string]string, len(params)),
	}
	for _, p := range params {
		fc.params[p.Name] = p
	}
	return fc
}

func (g *Generator) enterFunc(fc *funcCtx) *funcCtx {
	fc.parent = g.fc
	g.fc = fc
	return fc.parent
}

func (g *Generator) leaveFunc(parent *funcCtx) {
	fc := g.fc
	g.st.restoreClosures(fc.closures)
	g.st.restoreRenames(fc.renames)
	g.fc = parent
}

// allocExpr returns the allocator expression visible at the current point
// and records the use.
func (g *Generator) allocExpr() string {
	if g.fc != nil && g.fc.hasAllocParam && !g.fc.inClosure {
		g.fc.allocUsed = true
		return "allocator"
	}
	return "__global_allocator"
}

// markFallible records that the current body propagates an error.
func (g *Generator) markFallible() {
	if g.fc != nil {
		g.fc.emittedTry = true
	}
}

// isMutable reports whether a local bound now must be declared with var.
func (g *Generator) isMutable(name string) bool {
	if g.fc == nil {
		return false
	}
	if g.fc.mutatedInPlace[name] {
		return true
	}
	for i := len(g.fc.mutable) - 1; i >= 0; i-- {
		if g.fc.mutable[i][name] {
			return true
		}
	}
	return false
}

// mutatedInPlace returns the names whose value is changed without being
// rebound: subscript stores, attribute stores and mutating method calls.
func mutatedInPlace(body []pyast.Stmt) map[string]bool {
	out := make(map[string]bool)
	root := func(e pyast.Expr) {
		for {
			switch x := e.(type) {
			case *pyast.Subscript:
				e = x.Value
				continue
			case *pyast.Attribute:
				e = x.Value
				continue
			case *pyast.Name:
				out[x.ID] = true
			}
			return
		}
	}
	pyast.InspectStmts(body, func(n pyast.Node) bool {
		switch x := n.(type) {
		case *pyast.Assign:
			for _, t := range x.Targets {
				switch t.(type) {
				case *pyast.Subscript, *pyast.Attribute:
					root(t)
				}
			}
		case *pyast.AugAssign:
			switch x.Target.(type) {
			case *pyast.Subscript, *pyast.Attribute:
				root(x.Target)
			}
		case *pyast.Call:
			if attr, ok := x.Func.(*pyast.Attribute); ok && (analysis.AllocatorMethods[attr.Attr] || inPlaceMethods[attr.Attr]) {
				root(attr.Value)
			}
		case *pyast.With:
			for _, item := range x.Items {
				for _, n := range analysis.TargetNames(item.OptionalVars) {
					out[n] = true
				}
			}
		case *pyast.FunctionDef, *pyast.ClassDef, *pyast.Lambda:
			return false
		}
		return true
	})
	return out
}

var inPlaceMethods = map[string]bool{
	"append": true, "extend": true, "insert": true, "pop": true,
	"remove": true, "clear": true, "add": true, "discard": true,
	"update": true, "setdefault": true, "sort": true, "reverse": true,
	"write": true, "close": true, "seek": true,
}

// ---------------------------------------------------------------------------
// Module-level functions
// ---------------------------------------------------------------------------

// genFunctionDef emits a module-level function.
func (g *Generator) genFunctionDef(fn *pyast.FunctionDef) {
	flags, ok := g.ctx.Functions[fn.Name]
	if !ok {
		flags = analysis.Flags(fn, g.ctx)
	}
	g.registerFunc(fn.Name, fn, flags)

	fc := newFuncCtx(fn.Name, fn.Params, fn.Body)
	fc.hasAllocParam = flags.AllocParam
	fc.fallible = flags.Fallible
	if fn.Returns != nil {
		fc.declaredRet = types.FromAnnotation(fn.Returns, g.IsClass)
		fc.hasDeclared = true
	}

	fd := g.genFuncBody(fc, fn.Params, fn.Body, nil)
	if g.failed() {
		return
	}
	ret := g.returnType(fc, fn.Body)
	g.st.returnTypes[fn.Name] = ret.typ

	if fc.emittedTry && !fc.fallible {
		log.Warningf("%s propagates errors the allocator analysis did not predict; widening to an error union", fn.Name)
		fc.fallible = true
		flags.Fallible = true
		g.ctx.Functions[fn.Name] = flags
	}

	errPrefix := ""
	if fc.fallible {
		errPrefix = "!"
		if analysis.IsRecursive(fn) {
			errPrefix = "anyerror!"
		}
	}
	params := fd.params
	if fc.hasAllocParam {
		params = append([]string{allocParam(fc)}, params...)
	}
	vis := "fn"
	if g.opts.ModuleMode {
		vis = "pub fn"
	}
	g.b.Openf("%s %s(%s) %s%s", vis, Ident(fn.Name), strings.Join(params, ", "), errPrefix, ret.zig)
	g.b.Raw(fd.body)
	g.b.Close("")

	g.report.addFunction(fn.Name, fn, flags, g.st)
	for _, d := range fn.Decorators {
		g.recordDecorator(fn.Name, d)
	}
}

func allocParam(fc *funcCtx) string {
	if fc.allocUsed {
		return "allocator: std.mem.Allocator"
	}
	return "_: std.mem.Allocator"
}

// registerFunc fills the call-site tracking sets for fn.
func (g *Generator) registerFunc(name string, fn *pyast.FunctionDef, flags analysis.FuncFlags) {
	if flags.AllocParam {
		g.st.needsAllocator[name] = true
	}
	if fn.IsAsync {
		g.st.isAsync[name] = true
	}
	for _, p := range fn.Params {
		switch p.Kind {
		case pyast.ParamVarArg:
			g.st.hasVarArg[name] = true
		case pyast.ParamKwArg:
			g.st.hasKwArg[name] = true
		}
	}
}

// ---------------------------------------------------------------------------
// Bodies
// ---------------------------------------------------------------------------

// funcBody is a generated body with its rendered parameter list. The
// signature is assembled afterwards because allocator and receiver usage
// are only known once the body exists.
type funcBody struct {
	params []string
	body   string
}

// genFuncBody generates params and body for fc. prologue lines are written
// before the body statements.
func (g *Generator) genFuncBody(fc *funcCtx, params []pyast.Param, body []pyast.Stmt, prologue []string) funcBody {
	parent := g.enterFunc(fc)
	g.st.pushScope(true)

	inner := NewBuilder(g.b.Indent() + 1)
	outer := g.b
	g.b = inner
	g.b.Lines(prologue)

	if fc.receiver != "" {
		g.st.declare(fc.receiver, &varInfo{typ: types.ClassNamed(fc.class), zigType: fc.receiverType})
	}
	rendered := g.genParams(fc, params, body)

	g.genBlock(stripDocstring(body))
	if !terminates(body) && fc.returnsValue {
		g.genFallOff(fc)
	}

	g.b = outer
	g.st.popScope()
	g.leaveFunc(parent)
	return funcBody{params: rendered, body: inner.String()}
}

func stripDocstring(body []pyast.Stmt) []pyast.Stmt {
	if _, ok := pyast.Docstring(body); ok {
		return body[1:]
	}
	return body
}

// genParams declares params in the current scope and returns their
// rendered forms. Unused parameters are discarded; reassigned ones are
// copied into a mutable local.
func (g *Generator) genParams(fc *funcCtx, params []pyast.Param, body []pyast.Stmt) []string {
	unused := analysis.UnusedParams(params, body)
	reassigned := analysis.ReassignedParams(params, body)
	var out []string
	for _, p := range params {
		t, zig := g.paramType(fc, p, body)
		if unused[p.Name] {
			out = append(out, "_: "+zig)
			continue
		}
		emitted := g.bindParam(fc, p.Name)
		g.st.declare(p.Name, &varInfo{typ: t, zigType: zig})
		if reassigned[p.Name] {
			paramName := g.st.synth(SanitizeName(p.Name) + "_param")
			out = append(out, paramName+": "+zig)
			fc.paramNames[p.Name] = paramName
			g.b.Linef("var %s: %s = %s;", emitted, zig, paramName)
			g.st.declare(p.Name, &varInfo{typ: t, zigType: zig, mutable: true})
			continue
		}
		out = append(out, emitted+": "+zig)
		fc.paramNames[p.Name] = emitted
	}
	return out
}

// bindParam names a parameter. Closure parameters always get a synthetic
// name so they cannot collide with bindings of the enclosing function.
func (g *Generator) bindParam(fc *funcCtx, name string) string {
	if !fc.inClosure {
		return g.bindLocal(name)
	}
	emitted := g.st.synth(SanitizeName(name))
	fc.renames = append(fc.renames, g.st.rename(name, emitted))
	return emitted
}

// paramType resolves a parameter's type: annotation, then use as a
// callable, then the default value, then use as an iterable.
func (g *Generator) paramType(fc *funcCtx, p pyast.Param, body []pyast.Stmt) (types.Type, string) {
	elem := func() (types.Type, string) {
		switch {
		case p.Annotation != nil:
			t := types.FromAnnotation(p.Annotation, g.IsClass)
			if t.Kind == types.Callable {
				fc.funcParams[p.Name] = true
			}
			return t, g.zigType(t)
		case !fc.inClosure && analysis.IsParameterUsedAsFunction(body, p.Name):
			fc.funcParams[p.Name] = true
			return types.Simple(types.Callable), "anytype"
		case p.Default != nil:
			if t := g.infer(p.Default); !t.IsUnknown() && t.Kind != types.None {
				return t, g.zigType(t)
			}
			if c, ok := p.Default.(*pyast.Constant); ok && c.Kind == pyast.ConstNone {
				t := types.OptionalOf(types.Simple(types.Int))
				return t, g.zigType(t)
			}
		case analysis.IsParameterUsedAsIterator(body, p.Name):
			t := types.ListOf(types.Simple(types.Int))
			return t, g.zigType(t)
		}
		return types.Simple(types.Int), g.opts.DefaultInt
	}
	switch p.Kind {
	case pyast.ParamVarArg:
		t, zig := types.Simple(types.Int), g.opts.DefaultInt
		if p.Annotation != nil {
			t = types.FromAnnotation(p.Annotation, g.IsClass)
			zig = g.zigType(t)
		}
		return types.ListOf(t), "[]const " + zig
	case pyast.ParamKwArg:
		return types.Type{}, "anytype"
	}
	return elem()
}

// ---------------------------------------------------------------------------
// Return types
// ---------------------------------------------------------------------------

type retType struct {
	typ types.Type
	zig string
}

// returnType decides the emitted return type after the body is generated.
func (g *Generator) returnType(fc *funcCtx, body []pyast.Stmt) retType {
	switch {
	case fc.hasDeclared:
		return retType{fc.declaredRet, g.zigType(fc.declaredRet)}
	case !fc.returnsValue:
		return retType{types.Simple(types.None), "void"}
	case fc.returnsParam != "":
		// Parameter renames are already reverted here, so use the name
		// recorded when the signature was rendered.
		name, ok := fc.paramNames[fc.returnsParam]
		if !ok {
			name = Ident(fc.returnsParam)
		}
		return retType{types.Simple(types.Callable), "@TypeOf(" + name + ")"}
	}
	t := unifyAll(fc.returnTypes)
	if t.IsUnknown() {
		t = types.Simple(types.Int)
	}
	return retType{t, g.zigType(t)}
}

// unifyAll widens the observed types. Unknown members are ignored; an
// irreconcilable pair keeps the earlier type.
func unifyAll(ts []types.Type) types.Type {
	var out types.Type
	for _, t := range ts {
		if u, ok := types.Unify(out, t); ok {
			out = u
		}
	}
	return out
}

// genFallOff closes a value-returning body whose last statement can
// complete normally. Falling off the end returns None, which makes the
// return type optional when it is not declared.
func (g *Generator) genFallOff(fc *funcCtx) {
	if fc.hasDeclared {
		if fc.declaredRet.Kind == types.Optional || fc.declaredRet.Kind == types.None {
			g.b.Line("return null;")
		} else {
			g.b.Line("unreachable;")
		}
		return
	}
	if fc.returnsParam != "" {
		g.b.Line("unreachable;")
		return
	}
	fc.returnTypes = append(fc.returnTypes, types.Simple(types.None))
	g.b.Line("return null;")
}

// returnsValue reports whether body returns something other than None.
// Nested functions are not entered.
func returnsValue(body []pyast.Stmt) bool {
	found := false
	pyast.InspectStmts(body, func(n pyast.Node) bool {
		switch x := n.(type) {
		case *pyast.Return:
			if x.Value != nil {
				if c, ok := x.Value.(*pyast.Constant); !ok || c.Kind != pyast.ConstNone {
					found = true
				}
			}
		case *pyast.FunctionDef, *pyast.ClassDef, *pyast.Lambda:
			return false
		}
		return !found
	})
	return found
}

// terminates reports whether control can never fall off the end of body.
func terminates(body []pyast.Stmt) bool {
	if len(body) == 0 {
		return false
	}
	switch x := body[len(body)-1].(type) {
	case *pyast.Return, *pyast.Raise:
		return true
	case *pyast.If:
		return len(x.OrElse) > 0 && terminates(x.Body) && terminates(x.OrElse)
	case *pyast.While:
		if c, ok := x.Test.(*pyast.Constant); ok && c.Kind == pyast.ConstBool && c.Value == true {
			return !containsBreak(x.Body)
		}
	case *pyast.Try:
		if terminates(x.FinalBody) {
			return true
		}
		if !terminates(x.Body) && !terminates(x.OrElse) {
			return false
		}
		for _, h := range x.Handlers {
			if !terminates(h.Body) {
				return false
			}
		}
		return true
	case *pyast.With:
		return terminates(x.Body)
	}
	return false
}

// containsBreak reports whether body breaks out of the loop it belongs to.
func containsBreak(body []pyast.Stmt) bool {
	found := false
	for _, st := range body {
		pyast.Inspect(st, func(n pyast.Node) bool {
			switch n.(type) {
			case *pyast.Break:
				found = true
			case *pyast.For, *pyast.While, *pyast.FunctionDef, *pyast.ClassDef, *pyast.Lambda:
				return false
			}
			return !found
		})
	}
	return found
}

// recordDecorator registers a decorator application in the report.
func (g *Generator) recordDecorator(target string, d pyast.Expr) {
	name, ok := pyast.DottedName(d)
	if !ok {
		if c, isCall := d.(*pyast.Call); isCall {
			name, ok = pyast.DottedName(c.Func)
		}
	}
	if !ok {
		return
	}
	g.report.Decorators = append(g.report.Decorators, DecoratorReg{Function: target, Decorator: name})
	log.Debugf("decorator %s on %s", name, target)
}

func describeParams(params []pyast.Param) (required, total int) {
	for _, p := range params {
		if p.Kind != pyast.ParamPositional && p.Kind != pyast.ParamKeywordOnly {
			continue
		}
		total++
		if p.Default == nil {
			required++
		}
	}
	return required, total
}

func qualify(class, name string) string {
	if class == "" {
		return name
	}
	return fmt.Sprintf("%s.%s", class, name)
}
