package codegen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/metal0/pyast"
	"github.com/chazu/metal0/types"
)

// expr renders e. Statements that must run first are queued on g.pre.
func (g *Generator) expr(e pyast.Expr) string {
	if g.failed() {
		return ""
	}
	switch x := e.(type) {
	case *pyast.Constant:
		return g.genConstant(x)
	case *pyast.Name:
		return g.genName(x)
	case *pyast.Attribute:
		return g.genAttribute(x)
	case *pyast.Subscript:
		return g.genSubscript(x)
	case *pyast.BinOp:
		return g.binOpText(x.Op, g.expr(x.Left), g.expr(x.Right), g.infer(x.Left), g.infer(x.Right))
	case *pyast.UnaryOp:
		return g.genUnary(x)
	case *pyast.BoolOp:
		return g.genBoolOp(x)
	case *pyast.Compare:
		return g.genCompare(x)
	case *pyast.IfExp:
		return fmt.Sprintf("(if (%s) %s else %s)", g.cond(x.Test), g.expr(x.Body), g.expr(x.OrElse))
	case *pyast.Call:
		return g.genCall(x)
	case *pyast.List:
		return g.genList(x)
	case *pyast.Tuple:
		parts := make([]string, len(x.Elts))
		for i, el := range x.Elts {
			parts[i] = g.expr(el)
		}
		return ".{ " + joinArgs(parts) + " }"
	case *pyast.Set:
		return g.genSet(x)
	case *pyast.Dict:
		return g.genDict(x)
	case *pyast.FString:
		return g.genFString(x)
	case *pyast.ListComp:
		return g.genComprehension(x.Generators, x.Elt, nil, "list")
	case *pyast.GeneratorExp:
		return g.genComprehension(x.Generators, x.Elt, nil, "list")
	case *pyast.SetComp:
		return g.genComprehension(x.Generators, x.Elt, nil, "set")
	case *pyast.DictComp:
		return g.genComprehension(x.Generators, x.Key, x.Value, "dict")
	case *pyast.Lambda:
		return g.genLambda(x)
	case *pyast.Await:
		return g.expr(x.Value)
	case *pyast.Starred:
		return g.expr(x.Value)
	case *pyast.Slice:
		g.errorAt(e, "slice outside subscript")
		return ""
	}
	g.errorAt(e, "unsupported expression %T", e)
	return ""
}

// exprAs renders e for a slot of type want, inserting the numeric
// conversions the target does not perform implicitly.
func (g *Generator) exprAs(e pyast.Expr, want types.Type) string {
	v := g.expr(e)
	have := g.infer(e)
	switch {
	case want.Kind == types.Float && have.Kind == types.Int:
		if c, ok := e.(*pyast.Constant); ok && c.Kind == pyast.ConstInt {
			return v + ".0"
		}
		return "@as(f64, @floatFromInt(" + v + "))"
	case want.Kind == types.List && have.Kind == types.List && have.ElemOr().IsUnknown() && !want.ElemOr().IsUnknown():
		if l, ok := e.(*pyast.List); ok && len(l.Elts) == 0 {
			return fmt.Sprintf("runtime.List(%s).init(%s)", g.zigType(want.ElemOr()), g.allocExpr())
		}
	}
	return v
}

// cond renders e as a bool.
func (g *Generator) cond(e pyast.Expr) string {
	switch x := e.(type) {
	case *pyast.Constant:
		if x.Kind == pyast.ConstBool {
			return g.genConstant(x)
		}
	case *pyast.UnaryOp:
		if x.Op == pyast.Not {
			return "!(" + g.cond(x.Operand) + ")"
		}
	case *pyast.BoolOp:
		op := " and "
		if x.Op == pyast.Or {
			op = " or "
		}
		parts := make([]string, len(x.Values))
		for i, v := range x.Values {
			parts[i] = g.cond(v)
		}
		return "(" + strings.Join(parts, op) + ")"
	}
	v := g.expr(e)
	if g.infer(e).Kind == types.Bool {
		return v
	}
	return "runtime.pyTruthy(" + v + ")"
}

// ---------------------------------------------------------------------------
// Atoms
// ---------------------------------------------------------------------------

func (g *Generator) genConstant(c *pyast.Constant) string {
	switch c.Kind {
	case pyast.ConstNone:
		return "null"
	case pyast.ConstBool:
		if b, _ := c.Value.(bool); b {
			return "true"
		}
		return "false"
	case pyast.ConstInt:
		switch v := c.Value.(type) {
		case int64:
			return strconv.FormatInt(v, 10)
		case string:
			// Out-of-range literals arrive as decimal text.
			return v
		}
	case pyast.ConstFloat:
		f, _ := c.Value.(float64)
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		if strings.Contains(s, "Inf") {
			if f < 0 {
				return "-std.math.inf(f64)"
			}
			return "std.math.inf(f64)"
		}
		return s
	case pyast.ConstStr, pyast.ConstBytes:
		s, _ := c.Value.(string)
		return StringLiteral(s)
	case pyast.ConstEllipsis:
		return "{}"
	}
	return "undefined"
}

func (g *Generator) genName(x *pyast.Name) string {
	switch x.ID {
	case "None":
		return "null"
	case "True":
		return "true"
	case "False":
		return "false"
	}
	if info, ok := g.st.closures[x.ID]; ok && info.method == "" && info.emit != "" {
		return info.emit
	}
	return g.st.resolve(x.ID)
}

func (g *Generator) genAttribute(x *pyast.Attribute) string {
	if alias, ok := pyast.NameID(x.Value); ok {
		if _, isModule := g.ctx.Modules[alias]; isModule {
			return Ident(alias) + "." + Ident(x.Attr)
		}
	}
	if pyast.IsName(x.Value, "self") && g.class != nil && g.class.builtinBase != "" && x.Attr == "__base_value" {
		return g.selfName() + ".__base_value"
	}
	if text, ok := g.propertyAccess(x); ok {
		return text
	}
	recv := g.operand(x.Value)
	if pyast.IsName(x.Value, "self") {
		recv = g.selfName()
	}
	return recv + "." + Ident(x.Attr)
}

// operand renders e as the operand of a suffix operator. A propagated
// error must be unwrapped before the field access, call or index applies.
func (g *Generator) operand(e pyast.Expr) string {
	s := g.expr(e)
	if strings.HasPrefix(s, "try ") {
		return "(" + s + ")"
	}
	return s
}

// selfName is the emitted receiver of the method being generated.
func (g *Generator) selfName() string {
	return g.st.resolve("self")
}

func (g *Generator) genSubscript(x *pyast.Subscript) string {
	if tpl, ok := g.complexTemplate(x.Value, "__getitem__"); ok {
		return tpl.apply(g.operand(x.Value), g.expr(x.Index))
	}
	recv := g.operand(x.Value)
	if sl, ok := x.Index.(*pyast.Slice); ok {
		lo, hi := "null", "null"
		if sl.Lower != nil {
			lo = g.expr(sl.Lower)
		}
		if sl.Upper != nil {
			hi = g.expr(sl.Upper)
		}
		if sl.Step != nil {
			return fmt.Sprintf("runtime.sliceStep(%s, %s, %s, %s)", recv, lo, hi, g.expr(sl.Step))
		}
		return fmt.Sprintf("runtime.slice(%s, %s, %s)", recv, lo, hi)
	}
	if g.infer(x.Value).Kind == types.Tuple {
		if c, ok := x.Index.(*pyast.Constant); ok && c.Kind == pyast.ConstInt {
			return fmt.Sprintf("%s[%s]", recv, g.genConstant(c))
		}
	}
	return fmt.Sprintf("runtime.getItem(%s, %s)", recv, g.expr(x.Index))
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

var inlineBinOps = map[pyast.Operator]string{
	pyast.Add:    "+",
	pyast.Sub:    "-",
	pyast.Mult:   "*",
	pyast.BitOr:  "|",
	pyast.BitAnd: "&",
	pyast.BitXor: "^",
	pyast.LShift: "<<",
	pyast.RShift: ">>",
}

// binOpText renders `l op r` given the operand types.
func (g *Generator) binOpText(op pyast.Operator, l, r string, lt, rt types.Type) string {
	switch op {
	case pyast.Add:
		switch {
		case lt.Kind == types.String || rt.Kind == types.String:
			return g.try(fmt.Sprintf("runtime.strConcat(%s, %s, %s)", g.allocExpr(), l, r))
		case lt.Kind == types.List:
			return g.try(fmt.Sprintf("runtime.listConcat(%s, %s, %s)", g.allocExpr(), l, r))
		}
	case pyast.Mult:
		switch {
		case lt.Kind == types.String:
			return g.try(fmt.Sprintf("runtime.strRepeat(%s, %s, %s)", g.allocExpr(), l, r))
		case rt.Kind == types.String:
			return g.try(fmt.Sprintf("runtime.strRepeat(%s, %s, %s)", g.allocExpr(), r, l))
		}
	case pyast.Div:
		return g.try(fmt.Sprintf("runtime.trueDiv(%s, %s)", l, r))
	case pyast.FloorDiv:
		return g.try(fmt.Sprintf("runtime.floorDiv(%s, %s)", l, r))
	case pyast.Mod:
		if lt.Kind == types.String {
			return g.try(fmt.Sprintf("runtime.strFormat(%s, %s, %s)", g.allocExpr(), l, r))
		}
		return g.try(fmt.Sprintf("runtime.mod(%s, %s)", l, r))
	case pyast.Pow:
		return fmt.Sprintf("runtime.pow(%s, %s)", l, r)
	case pyast.MatMult:
		return g.try(fmt.Sprintf("runtime.matmul(%s, %s, %s)", g.allocExpr(), l, r))
	}
	sym := inlineBinOps[op]
	if op == pyast.LShift || op == pyast.RShift {
		r = "@intCast(" + r + ")"
	}
	if lt.Kind == types.Float && rt.Kind == types.Int {
		r = "@as(f64, @floatFromInt(" + r + "))"
	}
	if lt.Kind == types.Int && rt.Kind == types.Float {
		l = "@as(f64, @floatFromInt(" + l + "))"
	}
	return "(" + l + " " + sym + " " + r + ")"
}

func (g *Generator) genUnary(x *pyast.UnaryOp) string {
	switch x.Op {
	case pyast.Not:
		return "!(" + g.cond(x.Operand) + ")"
	case pyast.USub:
		return "-" + g.expr(x.Operand)
	case pyast.Invert:
		return "~" + g.expr(x.Operand)
	}
	return g.expr(x.Operand)
}

// genBoolOp renders and/or. Boolean operands use the target's operators;
// otherwise Python's value-returning semantics are kept.
func (g *Generator) genBoolOp(x *pyast.BoolOp) string {
	allBool := true
	for _, v := range x.Values {
		if g.infer(v).Kind != types.Bool {
			allBool = false
		}
	}
	if allBool {
		return g.cond(x)
	}
	out := g.expr(x.Values[len(x.Values)-1])
	for i := len(x.Values) - 2; i >= 0; i-- {
		v := g.expr(x.Values[i])
		if x.Op == pyast.Or {
			out = fmt.Sprintf("(if (runtime.pyTruthy(%s)) %s else %s)", v, v, out)
		} else {
			out = fmt.Sprintf("(if (runtime.pyTruthy(%s)) %s else %s)", v, out, v)
		}
	}
	return out
}

func (g *Generator) genCompare(x *pyast.Compare) string {
	var parts []string
	left := x.Left
	for i, op := range x.Ops {
		right := x.Comparators[i]
		parts = append(parts, g.compareOne(left, op, right))
		left = right
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " and ") + ")"
}

func (g *Generator) compareOne(left pyast.Expr, op pyast.CmpOp, right pyast.Expr) string {
	l, r := g.expr(left), g.expr(right)
	lt, rt := g.infer(left), g.infer(right)
	switch op {
	case pyast.In:
		return fmt.Sprintf("runtime.contains(%s, %s)", r, l)
	case pyast.NotIn:
		return fmt.Sprintf("!runtime.contains(%s, %s)", r, l)
	case pyast.Is:
		return "(" + l + " == " + r + ")"
	case pyast.IsNot:
		return "(" + l + " != " + r + ")"
	}
	if lt.Kind == types.String || rt.Kind == types.String {
		switch op {
		case pyast.Eq:
			return fmt.Sprintf("std.mem.eql(u8, %s, %s)", l, r)
		case pyast.NotEq:
			return fmt.Sprintf("!std.mem.eql(u8, %s, %s)", l, r)
		default:
			return fmt.Sprintf("(std.mem.order(u8, %s, %s) %s)", l, r, orderOps[op])
		}
	}
	if isContainer(lt) || isContainer(rt) {
		eq := fmt.Sprintf("runtime.eql(%s, %s)", l, r)
		if op == pyast.NotEq {
			return "!" + eq
		}
		if op == pyast.Eq {
			return eq
		}
	}
	if lt.Kind == types.Float && rt.Kind == types.Int {
		r = "@as(f64, @floatFromInt(" + r + "))"
	}
	if lt.Kind == types.Int && rt.Kind == types.Float {
		l = "@as(f64, @floatFromInt(" + l + "))"
	}
	return "(" + l + " " + cmpOps[op] + " " + r + ")"
}

func isContainer(t types.Type) bool {
	switch t.Kind {
	case types.List, types.Dict, types.Set, types.Tuple:
		return true
	}
	return false
}

var cmpOps = map[pyast.CmpOp]string{
	pyast.Eq:    "==",
	pyast.NotEq: "!=",
	pyast.Lt:    "<",
	pyast.LtE:   "<=",
	pyast.Gt:    ">",
	pyast.GtE:   ">=",
}

// orderOps tests a std.math.Order for each ordering comparison.
var orderOps = map[pyast.CmpOp]string{
	pyast.Lt:  "== .lt",
	pyast.LtE: "!= .gt",
	pyast.Gt:  "== .gt",
	pyast.GtE: "!= .lt",
}

// ---------------------------------------------------------------------------
// Displays
// ---------------------------------------------------------------------------

func (g *Generator) genList(x *pyast.List) string {
	t := g.infer(x)
	elem := g.zigType(t.ElemOr())
	if len(x.Elts) == 0 {
		return fmt.Sprintf("runtime.List(%s).init(%s)", elem, g.allocExpr())
	}
	parts := make([]string, len(x.Elts))
	for i, el := range x.Elts {
		parts[i] = g.exprAs(el, t.ElemOr())
	}
	return g.try(fmt.Sprintf("runtime.List(%s).fromSlice(%s, &.{ %s })", elem, g.allocExpr(), joinArgs(parts)))
}

func (g *Generator) genSet(x *pyast.Set) string {
	t := g.infer(x)
	parts := make([]string, len(x.Elts))
	for i, el := range x.Elts {
		parts[i] = g.expr(el)
	}
	return g.try(fmt.Sprintf("runtime.Set(%s).fromSlice(%s, &.{ %s })", g.zigType(t.ElemOr()), g.allocExpr(), joinArgs(parts)))
}

func (g *Generator) genDict(x *pyast.Dict) string {
	t := g.infer(x)
	zig := g.zigType(t)
	var entries []string
	for i, k := range x.Keys {
		if k == nil {
			g.errorAt(x, "dict unpacking is not supported")
			return ""
		}
		entries = append(entries, fmt.Sprintf(".{ %s, %s }", g.expr(k), g.expr(x.Values[i])))
	}
	if len(entries) == 0 {
		return fmt.Sprintf("%s.init(%s)", zig, g.allocExpr())
	}
	return g.try(fmt.Sprintf("%s.fromEntries(%s, &.{ %s })", zig, g.allocExpr(), joinArgs(entries)))
}

// genFString renders an f-string through the runtime formatter.
func (g *Generator) genFString(x *pyast.FString) string {
	var format strings.Builder
	var args []string
	for _, part := range x.Values {
		switch p := part.(type) {
		case *pyast.Constant:
			s, _ := p.Value.(string)
			format.WriteString(formatEscape(s))
		case *pyast.FormattedValue:
			format.WriteString(g.placeholder(p))
			args = append(args, g.expr(p.Value))
		default:
			format.WriteString("{any}")
			args = append(args, g.expr(part))
		}
	}
	return g.try(fmt.Sprintf("runtime.fstring(%s, %s, .{ %s })", g.allocExpr(), StringLiteral(format.String()), joinArgs(args)))
}

// placeholder picks the format specifier for one interpolated value.
func (g *Generator) placeholder(p *pyast.FormattedValue) string {
	t := g.infer(p.Value)
	verb := "any"
	switch {
	case p.Conversion == 'r':
		verb = "any"
	case t.Kind == types.String || t.Kind == types.Bytes:
		verb = "s"
	case t.Kind == types.Int || t.Kind == types.Float:
		verb = "d"
	}
	if spec, ok := pyast.StringConst(p.FormatSpec); ok && spec != "" {
		if strings.HasPrefix(spec, ".") && strings.HasSuffix(spec, "f") {
			return "{d:" + strings.TrimSuffix(spec, "f") + "}"
		}
		if strings.HasSuffix(spec, "d") {
			return "{d:" + strings.TrimSuffix(spec, "d") + "}"
		}
	}
	return "{" + verb + "}"
}

// ---------------------------------------------------------------------------
// Comprehensions
// ---------------------------------------------------------------------------

// genComprehension builds the container in a prelude and yields its name.
// kind is "list", "set" or "dict"; value is set only for dicts.
func (g *Generator) genComprehension(gens []pyast.Comprehension, elt, value pyast.Expr, kind string) string {
	result := g.st.synth("__comp")
	saved := g.b
	g.b = NewBuilder(0)
	pre := g.takePre()

	g.st.pushScope(false)
	var renames []savedRename
	var elemType, valueType types.Type
	depth := 0
	for _, gen := range gens {
		src := g.expr(gen.Iter)
		it := g.infer(gen.Iter)
		elem := g.iterElem(gen.Iter)
		if elem.IsUnknown() {
			elem = types.Simple(types.Int)
		}
		g.b.Lines(g.takePre())
		capture := g.st.synth("__c")
		if it.Kind == types.List {
			g.b.Openf("for (%s.items) |%s|", src, capture)
		} else {
			iter := g.st.synth("__it")
			g.b.Linef("var %s = runtime.iter(%s);", iter, src)
			g.b.Openf("while (%s.next()) |%s|", iter, capture)
		}
		depth++
		if name, ok := pyast.NameID(gen.Target); ok {
			renames = append(renames, g.st.rename(name, capture))
			g.st.declare(name, &varInfo{typ: elem})
		} else {
			g.st.declare(capture, &varInfo{typ: elem})
			for i, el := range tupleElts(gen.Target) {
				if id, ok := pyast.NameID(el); ok {
					part := fmt.Sprintf("%s[%d]", capture, i)
					renames = append(renames, g.st.rename(id, part))
					g.st.declare(id, &varInfo{typ: tupleElem(elem, i)})
				}
			}
		}
		for _, cond := range gen.Ifs {
			c := g.cond(cond)
			g.b.Lines(g.takePre())
			g.b.Linef("if (!(%s)) continue;", c)
		}
	}
	elemType = g.infer(elt)
	if elemType.IsUnknown() {
		elemType = types.Simple(types.Int)
	}
	v := g.expr(elt)
	g.b.Lines(g.takePre())
	alloc := g.allocExpr()
	switch kind {
	case "dict":
		valueType = g.infer(value)
		if valueType.IsUnknown() {
			valueType = types.Simple(types.Int)
		}
		val := g.expr(value)
		g.b.Lines(g.takePre())
		g.b.Linef("%s;", g.try(fmt.Sprintf("%s.put(%s, %s, %s)", result, alloc, v, val)))
	case "set":
		g.b.Linef("%s;", g.try(fmt.Sprintf("%s.add(%s, %s)", result, alloc, v)))
	default:
		g.b.Linef("%s;", g.try(fmt.Sprintf("%s.append(%s, %s)", result, alloc, v)))
	}
	for ; depth > 0; depth-- {
		g.b.Close("")
	}
	g.st.restoreRenames(renames)
	g.st.popScope()

	var decl string
	switch kind {
	case "dict":
		decl = fmt.Sprintf("var %s = runtime.Dict(%s, %s).init(%s);", result, g.zigType(elemType), g.zigType(valueType), alloc)
	case "set":
		decl = fmt.Sprintf("var %s = runtime.Set(%s).init(%s);", result, g.zigType(elemType), alloc)
	default:
		decl = fmt.Sprintf("var %s = runtime.List(%s).init(%s);", result, g.zigType(elemType), alloc)
	}
	body := g.b.LinesOut(0)
	g.b = saved
	g.pre = append(pre, decl)
	g.pre = append(g.pre, body...)
	return result
}

// tupleElem returns member i of a tuple type, or int when unknown.
func tupleElem(t types.Type, i int) types.Type {
	if t.Kind == types.Tuple && i < len(t.Elems) && !t.Elems[i].IsUnknown() {
		return t.Elems[i]
	}
	return types.Simple(types.Int)
}
