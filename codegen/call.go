package codegen

import (
	"fmt"
	"strings"

	"github.com/chazu/metal0/analysis"
	"github.com/chazu/metal0/pyast"
	"github.com/chazu/metal0/types"
)

// genCall renders a call according to its classification.
func (g *Generator) genCall(c *pyast.Call) string {
	switch analysis.ClassifyCall(c, g.ctx, g.st.closureNames()) {
	case analysis.CallLocal:
		return g.callLocal(c)
	case analysis.CallUser:
		return g.callUser(c)
	case analysis.CallConstructor:
		return g.callConstructor(c)
	case analysis.CallBuiltin:
		return g.callBuiltin(c)
	case analysis.CallAllocBuiltin:
		return g.callAllocBuiltin(c)
	case analysis.CallGlobalAllocBuiltin:
		return g.callGlobalAllocBuiltin(c)
	case analysis.CallAllocMethod:
		return g.callAllocMethod(c)
	case analysis.CallSelfMethod:
		return g.callSelfMethod(c)
	case analysis.CallSuper:
		return g.callSuper(c)
	case analysis.CallTestAssertion:
		attr := c.Func.(*pyast.Attribute)
		return g.try(fmt.Sprintf("runtime.unittest.%s(%s)", attr.Attr, joinArgs(g.plainArgs(c))))
	case analysis.CallInlineModule:
		attr := c.Func.(*pyast.Attribute)
		return fmt.Sprintf("%s.%s(%s)", g.operand(attr.Value), Ident(attr.Attr), joinArgs(g.plainArgs(c)))
	case analysis.CallModule:
		attr := c.Func.(*pyast.Attribute)
		args := append([]string{g.allocExpr()}, g.plainArgs(c)...)
		return g.try(fmt.Sprintf("%s.%s(%s)", g.operand(attr.Value), Ident(attr.Attr), joinArgs(args)))
	case analysis.CallMethod:
		return g.callMethod(c)
	}
	return g.callUnknown(c)
}

// plainArgs renders positional arguments followed by keyword values in
// source order.
func (g *Generator) plainArgs(c *pyast.Call) []string {
	var out []string
	for _, a := range c.Args {
		out = append(out, g.expr(a))
	}
	for _, kw := range c.Keywords {
		out = append(out, g.expr(kw.Value))
	}
	return out
}

// ---------------------------------------------------------------------------
// User functions and constructors
// ---------------------------------------------------------------------------

func (g *Generator) callUser(c *pyast.Call) string {
	name := c.Func.(*pyast.Name).ID
	flags := g.ctx.Functions[name]
	var args []string
	if fn, ok := g.st.funcs[name]; ok {
		args = g.callArgs(fn.Params, c, name)
	} else {
		args = g.plainArgs(c)
	}
	if flags.AllocParam {
		args = append([]string{g.allocExpr()}, args...)
	}
	call := fmt.Sprintf("%s(%s)", Ident(name), joinArgs(args))
	if flags.Fallible {
		return g.try(call)
	}
	return call
}

func (g *Generator) callConstructor(c *pyast.Call) string {
	name := c.Func.(*pyast.Name).ID
	ci, ok := g.st.classes[name]
	if !ok {
		return g.try(fmt.Sprintf("%s.init(%s, %s)", Ident(name), g.allocExpr(), joinArgs(g.plainArgs(c))))
	}
	args := append([]string{g.allocExpr()}, g.callArgs(ci.initParams(), c, name)...)
	return g.try(fmt.Sprintf("%s.init(%s)", ci.emitted, joinArgs(args)))
}

// callArgs binds a call's arguments to params: positional arguments fill
// slots in order, keywords fill slots by name, missing slots take their
// defaults, surplus positionals pack into *args and unknown keywords into
// **kwargs.
func (g *Generator) callArgs(params []pyast.Param, c *pyast.Call, callee string) []string {
	var slots []pyast.Param
	var vararg, kwarg *pyast.Param
	for i := range params {
		switch params[i].Kind {
		case pyast.ParamVarArg:
			vararg = &params[i]
		case pyast.ParamKwArg:
			kwarg = &params[i]
		default:
			slots = append(slots, params[i])
		}
	}
	values := make([]string, len(slots))
	filled := make([]bool, len(slots))
	var extra []string
	spread := ""

	pos := 0
	for _, a := range c.Args {
		if st, ok := a.(*pyast.Starred); ok {
			spread = g.expr(st.Value)
			continue
		}
		if pos < len(slots) && (slots[pos].Kind == pyast.ParamPositional) {
			values[pos] = g.exprAs(a, g.paramDeclType(slots[pos]))
			filled[pos] = true
			pos++
			continue
		}
		extra = append(extra, g.expr(a))
	}
	var kwargs []string
	for _, kw := range c.Keywords {
		if kw.Arg == "" {
			g.errorAt(c, "** arguments are not supported in calls to %s", callee)
			return nil
		}
		matched := false
		for i, p := range slots {
			if p.Name == kw.Arg {
				values[i] = g.exprAs(kw.Value, g.paramDeclType(p))
				filled[i] = true
				matched = true
				break
			}
		}
		if !matched {
			if kwarg == nil {
				g.errorAt(c, "%s got an unexpected keyword argument %q", callee, kw.Arg)
				return nil
			}
			kwargs = append(kwargs, fmt.Sprintf(".%s = %s", Ident(kw.Arg), g.expr(kw.Value)))
		}
	}
	for i, p := range slots {
		if filled[i] {
			continue
		}
		if p.Default == nil {
			g.errorAt(c, "%s missing required argument %q", callee, p.Name)
			return nil
		}
		values[i] = g.exprAs(p.Default, g.paramDeclType(p))
	}

	out := values
	if vararg != nil {
		elem := g.opts.DefaultInt
		if vararg.Annotation != nil {
			elem = g.zigType(types.FromAnnotation(vararg.Annotation, g.IsClass))
		}
		switch {
		case spread != "":
			out = append(out, spread+".items")
		default:
			out = append(out, fmt.Sprintf("&[_]%s{ %s }", elem, joinArgs(extra)))
		}
	} else if len(extra) > 0 {
		g.errorAt(c, "%s takes %d positional arguments but %d were given", callee, len(slots), len(c.Args))
		return nil
	}
	if kwarg != nil {
		out = append(out, ".{ "+joinArgs(kwargs)+" }")
	}
	return out
}

// paramDeclType is the declared type of a parameter as seen by callers.
func (g *Generator) paramDeclType(p pyast.Param) types.Type {
	if p.Annotation != nil {
		return types.FromAnnotation(p.Annotation, g.IsClass)
	}
	if p.Default != nil {
		return g.infer(p.Default)
	}
	return types.Type{}
}

// ---------------------------------------------------------------------------
// Closures
// ---------------------------------------------------------------------------

func (g *Generator) callLocal(c *pyast.Call) string {
	name := c.Func.(*pyast.Name).ID
	info := g.st.closures[name]
	args := g.plainArgs(c)
	var call string
	if info.tupleArgs {
		call = fmt.Sprintf("%s%s(.{ %s })", info.emit, info.method, joinArgs(args))
	} else {
		call = fmt.Sprintf("%s%s(%s)", info.emit, info.method, joinArgs(args))
	}
	if info.fallible {
		return g.try(call)
	}
	return call
}

// ---------------------------------------------------------------------------
// Builtins
// ---------------------------------------------------------------------------

func (g *Generator) callBuiltin(c *pyast.Call) string {
	name := c.Func.(*pyast.Name).ID
	args := g.plainArgs(c)
	switch name {
	case "print":
		return fmt.Sprintf("runtime.print(.{ %s })", joinArgs(args))
	case "len":
		if len(c.Args) == 1 {
			if tpl, ok := g.complexTemplate(c.Args[0], "__len__"); ok {
				return tpl.apply(args[0])
			}
		}
		return fmt.Sprintf("runtime.len(%s)", joinArgs(args))
	case "bool":
		if len(c.Args) == 1 {
			return g.cond(c.Args[0])
		}
		return "false"
	case "min", "max":
		if len(args) == 2 {
			return fmt.Sprintf("@%s(%s)", name, joinArgs(args))
		}
	case "abs":
		if len(args) == 1 && g.infer(c.Args[0]).Kind == types.Int {
			return fmt.Sprintf("@as(i64, @intCast(@abs(%s)))", args[0])
		}
	case "isinstance":
		if len(c.Args) == 2 {
			t := types.FromAnnotation(c.Args[1], g.IsClass)
			return fmt.Sprintf("runtime.isinstance(%s, %s)", g.expr(c.Args[0]), g.zigType(t))
		}
	}
	return fmt.Sprintf("runtime.%s(%s)", name, joinArgs(args))
}

func (g *Generator) callAllocBuiltin(c *pyast.Call) string {
	name := c.Func.(*pyast.Name).ID
	if len(c.Args) == 0 && len(c.Keywords) == 0 {
		t := g.infer(c)
		switch name {
		case "list", "dict", "set":
			return fmt.Sprintf("%s.init(%s)", g.zigType(t), g.allocExpr())
		}
	}
	args := append([]string{g.allocExpr()}, g.plainArgs(c)...)
	return g.try(fmt.Sprintf("runtime.%s(%s)", name, joinArgs(args)))
}

func (g *Generator) callGlobalAllocBuiltin(c *pyast.Call) string {
	name := c.Func.(*pyast.Name).ID
	args := g.plainArgs(c)
	switch name {
	case "int", "float":
		if len(c.Args) == 1 {
			switch t := g.infer(c.Args[0]); {
			case name == "int" && t.Kind == types.Int, name == "float" && t.Kind == types.Float:
				return args[0]
			case name == "float" && t.Kind == types.Int:
				return "@as(f64, @floatFromInt(" + args[0] + "))"
			case name == "int" && t.Kind == types.Float:
				return "@as(i64, @intFromFloat(" + args[0] + "))"
			}
		}
		return g.try(fmt.Sprintf("runtime.%s(%s)", name, joinArgs(args)))
	}
	args = append([]string{"__global_allocator"}, args...)
	return g.try(fmt.Sprintf("runtime.%s(%s)", name, joinArgs(args)))
}

// ---------------------------------------------------------------------------
// Methods
// ---------------------------------------------------------------------------

// callAllocMethod renders a built-in method that allocates.
func (g *Generator) callAllocMethod(c *pyast.Call) string {
	attr := c.Func.(*pyast.Attribute)
	if tpl, ok := g.complexTemplate(attr.Value, attr.Attr); ok {
		return tpl.apply(append([]string{g.operand(attr.Value)}, g.plainArgs(c)...)...)
	}
	recv := g.operand(attr.Value)
	args := g.plainArgs(c)
	alloc := g.allocExpr()
	rt := g.infer(attr.Value)
	switch {
	case rt.Kind == types.List && (attr.Attr == "append" || attr.Attr == "extend" || attr.Attr == "insert"):
		return g.try(fmt.Sprintf("%s.%s(%s)", recv, attr.Attr, joinArgs(append([]string{alloc}, args...))))
	case rt.Kind == types.Set && attr.Attr == "add":
		return g.try(fmt.Sprintf("%s.add(%s)", recv, joinArgs(append([]string{alloc}, args...))))
	case inPlaceMethods[attr.Attr]:
		recv = "&" + recv
	}
	return g.try(fmt.Sprintf("runtime.%s(%s)", attr.Attr, joinArgs(append([]string{alloc, recv}, args...))))
}

// callSelfMethod renders self.m(...) and Class.m(...).
func (g *Generator) callSelfMethod(c *pyast.Call) string {
	attr := c.Func.(*pyast.Attribute)
	recvName, _ := pyast.NameID(attr.Value)
	class := ""
	recv := ""
	switch {
	case recvName == "self" && g.class != nil:
		class = g.class.name
		recv = g.selfName()
		if tpl, ok := g.class.complexMethod(attr.Attr); ok {
			tpl.g = g
			return tpl.apply(append([]string{recv}, g.plainArgs(c)...)...)
		}
	case recvName == "self":
		recv = g.selfName()
	default:
		class = recvName
		if ci, ok := g.st.classes[recvName]; ok {
			recv = ci.emitted
		} else {
			recv = Ident(recvName)
		}
	}
	return g.methodCall(c, recv, class, attr.Attr)
}

// methodCall renders recv.method(...) for a user class method.
func (g *Generator) methodCall(c *pyast.Call, recv, class, method string) string {
	flags, owner, ok := g.ctx.LookupMethod(class, method)
	var args []string
	if ok {
		if m := g.st.classes[owner].method(method); m != nil {
			params := m.Params
			if !isStatic(m) && len(params) > 0 {
				params = params[1:]
			}
			args = g.callArgs(params, c, qualify(owner, method))
		}
	}
	if args == nil && !g.failed() {
		args = g.plainArgs(c)
	}
	if flags.AllocParam {
		args = append([]string{g.allocExpr()}, args...)
	}
	call := fmt.Sprintf("%s.%s(%s)", recv, Ident(method), joinArgs(args))
	if flags.Fallible {
		return g.try(call)
	}
	return call
}

// callSuper renders super().m(...).
func (g *Generator) callSuper(c *pyast.Call) string {
	attr := c.Func.(*pyast.Attribute)
	if g.class == nil {
		g.errorAt(c, "super() outside a method")
		return ""
	}
	parent := g.class.parent
	if attr.Attr == "__init__" {
		if parent == nil {
			if g.class.builtinBase != "" && len(c.Args) == 1 {
				return fmt.Sprintf("%s.__base_value = %s", g.selfName(), g.expr(c.Args[0]))
			}
			// object.__init__ has nothing to run.
			return ""
		}
		args := []string{g.selfName(), g.allocExpr()}
		args = append(args, g.callArgs(parent.initParams(), c, parent.name+".__init__")...)
		return g.try(fmt.Sprintf("%s.initInto(%s)", parent.emitted, joinArgs(args)))
	}
	if parent == nil {
		g.errorAt(c, "super().%s without a user base class", attr.Attr)
		return ""
	}
	name := attr.Attr
	if g.class.overrides(attr.Attr) {
		name = superPrefix + attr.Attr
		g.class.superCalls[attr.Attr] = true
	}
	flags, _, _ := g.ctx.LookupMethod(parent.name, attr.Attr)
	args := g.plainArgs(c)
	if flags.AllocParam {
		args = append([]string{g.allocExpr()}, args...)
	}
	call := fmt.Sprintf("%s.%s(%s)", g.selfName(), Ident(name), joinArgs(args))
	if flags.Fallible {
		return g.try(call)
	}
	return call
}

// callMethod renders obj.m(...) on a non-self receiver.
func (g *Generator) callMethod(c *pyast.Call) string {
	attr := c.Func.(*pyast.Attribute)
	rt := g.infer(attr.Value)
	if rt.Kind == types.Class {
		if tpl, ok := g.complexTemplate(attr.Value, attr.Attr); ok {
			return tpl.apply(append([]string{g.operand(attr.Value)}, g.plainArgs(c)...)...)
		}
		if _, _, ok := g.ctx.LookupMethod(rt.Name, attr.Attr); ok {
			return g.methodCall(c, g.operand(attr.Value), rt.Name, attr.Attr)
		}
	}
	if _, ok := g.ctx.Classes[rt.Name]; !ok && analysis.AllocatorMethods[attr.Attr] {
		return g.callAllocMethod(c)
	}
	recv := g.operand(attr.Value)
	args := g.plainArgs(c)
	if rt.IsUnknown() {
		// The receiver's class is not known here; dispatch through any
		// user method of that name.
		if _, _, ok := g.anyClassMethod(attr.Attr); ok {
			return g.methodCall(c, recv, g.anyClassWith(attr.Attr), attr.Attr)
		}
	}
	if inPlaceMethods[attr.Attr] {
		recv = "&" + recv
	}
	return fmt.Sprintf("runtime.%s(%s)", attr.Attr, joinArgs(append([]string{recv}, args...)))
}

func (g *Generator) anyClassMethod(method string) (analysis.FuncFlags, string, bool) {
	class := g.anyClassWith(method)
	if class == "" {
		return analysis.FuncFlags{}, "", false
	}
	return g.ctx.LookupMethod(class, method)
}

// anyClassWith returns the alphabetically first class defining method.
func (g *Generator) anyClassWith(method string) string {
	for _, ci := range g.sortedClasses() {
		if ci.methods[method] != nil {
			return ci.name
		}
	}
	return ""
}

// callUnknown renders calls whose callee the classifier does not know:
// callable parameters, from-imported names and unlisted builtins.
func (g *Generator) callUnknown(c *pyast.Call) string {
	args := g.plainArgs(c)
	switch fn := c.Func.(type) {
	case *pyast.Name:
		if g.fc != nil && g.fc.clsParam == fn.ID {
			args = append([]string{g.allocExpr()}, args...)
			return g.try(fmt.Sprintf("%s.init(%s)", g.st.resolve(fn.ID), joinArgs(args)))
		}
		if v, ok := g.st.lookup(fn.ID); ok && v.typ.Kind == types.Callable {
			return fmt.Sprintf("runtime.call(%s, .{ %s })", g.st.resolve(fn.ID), joinArgs(args))
		}
		if g.fc != nil && g.fc.funcParams[fn.ID] {
			return fmt.Sprintf("runtime.call(%s, .{ %s })", g.st.resolve(fn.ID), joinArgs(args))
		}
		for _, imp := range g.imports {
			if imp.alias == fn.ID && imp.member != "" {
				return fmt.Sprintf("%s(%s)", Ident(fn.ID), joinArgs(args))
			}
		}
		return fmt.Sprintf("runtime.%s(%s)", SanitizeName(fn.ID), joinArgs(args))
	}
	callee := g.expr(c.Func)
	return fmt.Sprintf("runtime.call(%s, .{ %s })", callee, joinArgs(args))
}

func isStatic(m *pyast.FunctionDef) bool {
	return hasDecorator(m, "staticmethod")
}

func hasDecorator(fn *pyast.FunctionDef, name string) bool {
	for _, d := range fn.Decorators {
		if id, ok := pyast.DottedName(d); ok && (id == name || strings.HasSuffix(id, "."+name)) {
			return true
		}
	}
	return false
}
