package codegen

import (
	"fmt"
	"strings"

	"github.com/chazu/metal0/analysis"
	"github.com/chazu/metal0/pyast"
	"github.com/chazu/metal0/types"
)

// ---------------------------------------------------------------------------
// Closure conversion
//
// A nested function becomes a static function inside an anonymous struct
// plus a value naming it:
//
//   zero       const f = runtime.ZeroClosure(Arg, Ret, __closure_N.__impl){};
//   simple     const __Capture_N = struct { x: T };
//              const f = runtime.ClosureK(__Capture_N, Args..., Ret, __closure_N.__impl){ .captures = .{ .x = x } };
//   recursive  captures become static fields of __closure_N, initialized
//              after the declaration, and the function is __closure_N.call.
//
// Functions of more than one argument (zero shape) or more than three
// (simple shape) take their arguments as one tuple.
// ---------------------------------------------------------------------------

const maxClosureArity = 3

// closureSpec is a nested function or lambda to lower.
type closureSpec struct {
	name     string // source name, "" for an anonymous lambda
	params   []pyast.Param
	body     []pyast.Stmt
	returns  pyast.Expr
	captures []string
	shape    analysis.ClosureShape
	at       pyast.Node
}

// capture is one captured outer binding.
type capture struct {
	name    string
	zigType string
	value   string // the outer expression copied into the closure
	closure *closureInfo
}

// genNestedFunction lowers a def inside a function body.
func (g *Generator) genNestedFunction(fn *pyast.FunctionDef) {
	if g.fc == nil {
		g.errorAt(fn, "nested function %s outside a function body", fn.Name)
		return
	}
	g.flushPre()
	spec := closureSpec{
		name:     fn.Name,
		params:   fn.Params,
		body:     fn.Body,
		returns:  fn.Returns,
		captures: fn.CapturedVars,
		shape:    analysis.SelectShape(fn),
		at:       fn,
	}
	info := g.genClosure(spec)
	if info == nil {
		return
	}
	for _, d := range fn.Decorators {
		g.recordDecorator(qualify(g.fc.name, fn.Name), d)
	}
}

// genLambda lowers a lambda in expression position. The closure is
// declared in the prelude and the expression is its value.
func (g *Generator) genLambda(lam *pyast.Lambda) string {
	saved := g.takePre()
	outer := g.b
	tmp := NewBuilder(0)
	g.b = tmp
	info := g.genClosure(lambdaSpec("", lam))
	g.b = outer
	g.pre = append(saved, tmp.LinesOut(0)...)
	if info == nil {
		return ""
	}
	return info.emit
}

// bindLambda lowers `name = lambda ...` as if it were a nested def.
func (g *Generator) bindLambda(name string, lam *pyast.Lambda) {
	g.flushPre()
	g.genClosure(lambdaSpec(name, lam))
}

func lambdaSpec(name string, lam *pyast.Lambda) closureSpec {
	shape := analysis.ShapeZero
	if len(lam.CapturedVars) > 0 {
		shape = analysis.ShapeSimple
	}
	return closureSpec{
		name:     name,
		params:   lam.Params,
		body:     []pyast.Stmt{&pyast.Return{Value: lam.Body}},
		captures: lam.CapturedVars,
		shape:    shape,
		at:       lam,
	}
}

// genClosure emits the declarations for spec into the current builder,
// binds the result and registers its call convention.
func (g *Generator) genClosure(spec closureSpec) *closureInfo {
	id := g.st.next()
	structName := fmt.Sprintf("__closure_%d", id)
	caps := g.resolveCaptures(spec)

	shape := spec.shape
	if shape != analysis.ShapeZero && len(caps) == 0 {
		// Every capture is reachable without copying.
		shape = analysis.ShapeZero
	}
	label := spec.name
	if label == "" {
		label = "lambda"
	}
	log.Debugf("%s: %s lowered as %s closure with %d captures", g.fc.name, label, shape, len(caps))

	outerFlags := make(map[string]analysis.FuncFlags, len(g.st.closures))
	for name, info := range g.st.closures {
		outerFlags[name] = analysis.FuncFlags{Fallible: info.fallible}
	}
	fallible := analysis.ClosureNeedsAllocator(spec.params, spec.body, g.ctx, outerFlags)

	fc := newFuncCtx(label, spec.params, spec.body)
	fc.class = g.fc.class
	fc.inClosure = true
	fc.fallible = fallible
	if spec.returns != nil {
		fc.declaredRet = types.FromAnnotation(spec.returns, g.IsClass)
		fc.hasDeclared = true
	}

	arity := positionalArity(spec.params)
	fnName := "__impl"
	capParam := fmt.Sprintf("__cap_%d", id)
	argsParam := fmt.Sprintf("__args_%d", id)
	tupleArgs := false
	switch shape {
	case analysis.ShapeZero:
		tupleArgs = arity > 1
	case analysis.ShapeSimple:
		tupleArgs = arity > maxClosureArity
	case analysis.ShapeRecursive:
		fnName = "call"
	}

	// Captured names resolve to the closure's copy while the body is
	// generated. leaveFunc reverts every entry.
	statics := make(map[string]string)
	for _, c := range caps {
		var emitted string
		switch shape {
		case analysis.ShapeSimple:
			emitted = capParam + "." + Ident(c.name)
		case analysis.ShapeRecursive:
			emitted = fmt.Sprintf("%s_cap_%d", SanitizeName(c.name), id)
			statics[c.name] = emitted
		}
		fc.renames = append(fc.renames, g.st.rename(c.name, emitted))
		if c.closure != nil {
			cp := *c.closure
			cp.emit = emitted
			fc.closures = append(fc.closures, g.st.setClosure(c.name, &cp))
		}
	}
	if spec.name != "" {
		self := &closureInfo{emit: fnName, tupleArgs: tupleArgs, fallible: fallible, arity: arity, shape: shape.String()}
		fc.closures = append(fc.closures, g.st.setClosure(spec.name, self))
	}

	if shape == analysis.ShapeSimple {
		fields := make([]string, len(caps))
		for i, c := range caps {
			fields[i] = fmt.Sprintf("%s: %s", Ident(c.name), c.zigType)
		}
		g.b.Linef("const __Capture_%d = struct { %s };", id, strings.Join(fields, ", "))
	}

	g.b.Openf("const %s = struct", structName)
	for _, c := range caps {
		if name, ok := statics[c.name]; ok {
			g.b.Linef("var %s: %s = undefined;", name, c.zigType)
		}
	}
	fd := g.genFuncBody(fc, spec.params, spec.body, nil)
	if g.failed() {
		return nil
	}
	ret := g.returnType(fc, spec.body)
	if fc.emittedTry && !fc.fallible {
		log.Warningf("%s: closure %s propagates errors the allocator analysis did not predict; widening to an error union", g.fc.name, label)
		fc.fallible = true
	}
	retZig := ret.zig
	if fc.fallible {
		retZig = "anyerror!" + retZig
	}

	argTypes := paramTypes(fd.params)
	sig := fd.params
	var prologue []string
	if tupleArgs {
		name := argsParam
		for i, p := range fd.params {
			if n := paramName(p); n != "_" {
				prologue = append(prologue, fmt.Sprintf("const %s = %s[%d];", n, argsParam, i))
			}
		}
		if len(prologue) == 0 {
			name = "_"
		}
		sig = []string{fmt.Sprintf("%s: %s", name, tupleType(argTypes))}
	}
	if shape == analysis.ShapeSimple {
		name := capParam
		if !strings.Contains(fd.body, capParam) {
			name = "_"
		}
		sig = append([]string{fmt.Sprintf("%s: __Capture_%d", name, id)}, sig...)
	}
	g.b.Openf("fn %s(%s) %s", fnName, strings.Join(sig, ", "), retZig)
	g.b.Lines(prologue)
	g.b.Raw(fd.body)
	g.b.Close("")
	g.b.Close(";")

	info := &closureInfo{
		tupleArgs: tupleArgs,
		fallible:  fc.fallible,
		arity:     arity,
		shape:     shape.String(),
		retType:   ret.typ,
	}
	bind := spec.name
	if bind == "" {
		bind = fmt.Sprintf("__lambda_%d", id)
	}

	switch shape {
	case analysis.ShapeZero:
		argT := "void"
		switch {
		case tupleArgs:
			argT = tupleType(argTypes)
		case arity == 1:
			argT = argTypes[0]
		}
		info.zigType = fmt.Sprintf("runtime.ZeroClosure(%s, %s, %s.%s)", argT, retZig, structName, fnName)
		info.method = ".call"
		info.emit = g.bindClosureValue(bind, spec.name != "", info.zigType+"{}", info)
	case analysis.ShapeSimple:
		k := arity
		args := argTypes
		if tupleArgs {
			k = 1
			args = []string{tupleType(argTypes)}
		}
		parts := append([]string{fmt.Sprintf("__Capture_%d", id)}, args...)
		parts = append(parts, retZig, structName+"."+fnName)
		info.zigType = fmt.Sprintf("runtime.Closure%d(%s)", k, strings.Join(parts, ", "))
		inits := make([]string, len(caps))
		for i, c := range caps {
			inits[i] = fmt.Sprintf(".%s = %s", Ident(c.name), c.value)
		}
		info.method = ".call"
		value := fmt.Sprintf("%s{ .captures = .{ %s } }", info.zigType, strings.Join(inits, ", "))
		info.emit = g.bindClosureValue(bind, spec.name != "", value, info)
	case analysis.ShapeRecursive:
		for _, c := range caps {
			g.b.Linef("%s.%s = %s;", structName, statics[c.name], c.value)
		}
		info.zigType = "type"
		info.method = ".call"
		info.emit = structName
		g.fc.renames = append(g.fc.renames, g.st.rename(bind, structName))
		g.st.declare(bind, &varInfo{typ: types.Simple(types.Callable), zigType: "type"})
		g.fc.closures = append(g.fc.closures, g.st.setClosure(bind, info))
	}
	return info
}

// bindClosureValue declares the adapter value and registers the closure
// under its source name.
func (g *Generator) bindClosureValue(name string, named bool, value string, info *closureInfo) string {
	emitted := Ident(name)
	if named {
		emitted = g.bindLocal(name)
	}
	g.b.Linef("const %s = %s;", emitted, value)
	if named && !g.fc.loaded[name] {
		g.b.Linef("_ = %s;", emitted)
	}
	g.st.declare(name, &varInfo{typ: types.Simple(types.Callable), zigType: info.zigType})
	if named {
		g.fc.closures = append(g.fc.closures, g.st.setClosure(name, info))
	}
	return emitted
}

// resolveCaptures types each captured name from its declaration. Names
// with no binding in scope are dropped with a warning; classes and
// recursive closures are types and need no copy.
func (g *Generator) resolveCaptures(spec closureSpec) []capture {
	var out []capture
	for _, name := range spec.captures {
		if _, isClass := g.st.classes[name]; isClass {
			continue
		}
		if info, ok := g.st.closures[name]; ok {
			if info.zigType == "type" || info.zigType == "" {
				continue
			}
			out = append(out, capture{name: name, zigType: info.zigType, value: g.st.resolve(name), closure: info})
			continue
		}
		v, ok := g.st.lookupOuter(name)
		if !ok {
			log.Warningf("%s: dropping capture %s of %s: no binding in scope", g.fc.name, name, spec.name)
			continue
		}
		zig := v.zigType
		if zig == "" {
			zig = g.zigType(v.typ)
		}
		value := g.st.resolve(name)
		if name == "self" && g.class != nil {
			value = g.selfName()
		}
		out = append(out, capture{name: name, zigType: zig, value: value})
	}
	return out
}

func positionalArity(params []pyast.Param) int {
	n := 0
	for _, p := range params {
		if p.Kind == pyast.ParamPositional || p.Kind == pyast.ParamKeywordOnly {
			n++
		}
	}
	return n
}

// paramTypes extracts the types of rendered `name: T` parameters.
func paramTypes(rendered []string) []string {
	out := make([]string, len(rendered))
	for i, p := range rendered {
		if j := strings.Index(p, ": "); j >= 0 {
			out[i] = p[j+2:]
		} else {
			out[i] = p
		}
	}
	return out
}

func paramName(rendered string) string {
	if j := strings.Index(rendered, ": "); j >= 0 {
		return rendered[:j]
	}
	return rendered
}

func tupleType(elems []string) string {
	return "struct { " + strings.Join(elems, ", ") + " }"
}
