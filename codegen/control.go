package codegen

import (
	"fmt"
	"strings"

	"github.com/chazu/metal0/analysis"
	"github.com/chazu/metal0/pyast"
	"github.com/chazu/metal0/types"
)

// ---------------------------------------------------------------------------
// if / while
// ---------------------------------------------------------------------------

func (g *Generator) genIf(x *pyast.If) {
	c := g.cond(x.Test)
	if g.failed() {
		return
	}
	g.flushPre()
	g.b.Openf("if (%s)", c)
	g.genScopedBlock(x.Body)
	g.genElse(x.OrElse)
	g.b.Close("")
}

// genElse continues an open if block with its elif chain and else body.
func (g *Generator) genElse(orelse []pyast.Stmt) {
	if len(orelse) == 0 {
		return
	}
	if elif, ok := orelse[0].(*pyast.If); ok && len(orelse) == 1 {
		c := g.cond(elif.Test)
		if g.failed() {
			return
		}
		if pre := g.takePre(); len(pre) > 0 {
			// The condition needs statements of its own, so the chain
			// nests instead of continuing.
			g.b.Reopen("else")
			g.b.Lines(pre)
			g.b.Openf("if (%s)", c)
			g.genScopedBlock(elif.Body)
			g.genElse(elif.OrElse)
			g.b.Close("")
			return
		}
		g.b.Reopenf("else if (%s)", c)
		g.genScopedBlock(elif.Body)
		g.genElse(elif.OrElse)
		return
	}
	g.b.Reopen("else")
	g.genScopedBlock(orelse)
}

func (g *Generator) genWhile(x *pyast.While) {
	c := g.cond(x.Test)
	if g.failed() {
		return
	}
	pre := g.takePre()
	if len(pre) == 0 {
		g.b.Openf("while (%s)", c)
		g.genScopedBlock(x.Body)
		if len(x.OrElse) > 0 {
			g.b.Reopen("else")
			g.genScopedBlock(x.OrElse)
		}
		g.b.Close("")
		return
	}
	g.b.Open("while (true)")
	g.b.Lines(pre)
	g.b.Openf("if (!(%s))", c)
	if len(x.OrElse) > 0 {
		g.genScopedBlock(x.OrElse)
	}
	g.b.Line("break;")
	g.b.Close("")
	g.genScopedBlock(x.Body)
	g.b.Close("")
}

// ---------------------------------------------------------------------------
// for
// ---------------------------------------------------------------------------

func (g *Generator) genFor(x *pyast.For) {
	if c, ok := x.Iter.(*pyast.Call); ok && len(c.Keywords) == 0 {
		switch id, _ := pyast.NameID(c.Func); {
		case id == "range" && len(c.Args) >= 1 && len(c.Args) <= 3:
			g.genForRange(x, c.Args)
			return
		case id == "enumerate" && len(c.Args) == 1:
			if tgt, ok := x.Target.(*pyast.Tuple); ok && len(tgt.Elts) == 2 && g.infer(c.Args[0]).Kind == types.List {
				g.genForEnumerate(x, tgt, c.Args[0])
				return
			}
		}
	}

	it := g.infer(x.Iter)
	elem := g.iterElem(x.Iter)
	src := g.expr(x.Iter)
	if g.failed() {
		return
	}
	g.flushPre()

	switch it.Kind {
	case types.List:
		g.st.pushScope(false)
		capture, bind := g.loopTarget(x.Target, x.Body, elem)
		g.b.Openf("for (%s.items) |%s|", src, capture)
		g.genLoopBody(x, bind)
	case types.String:
		k := g.st.synth("__k")
		s := g.st.synth("__s")
		g.b.Linef("const %s = %s;", s, src)
		g.st.pushScope(false)
		capture, bind := g.loopTarget(x.Target, x.Body, elem)
		g.b.Openf("for (0..%s.len) |%s|", s, k)
		if capture != "_" {
			g.b.Linef("const %s = %s[%s .. %s + 1];", capture, s, k, k)
		}
		g.genLoopBody(x, bind)
	default:
		iter := g.st.synth("__it")
		g.b.Linef("var %s = runtime.iter(%s);", iter, src)
		g.st.pushScope(false)
		capture, bind := g.loopTarget(x.Target, x.Body, elem)
		g.b.Openf("while (%s.next()) |%s|", iter, capture)
		g.genLoopBody(x, bind)
	}
}

// genForRange lowers `for i in range(...)` to a counted while loop.
func (g *Generator) genForRange(x *pyast.For, args []pyast.Expr) {
	start, stop, step := "0", "", "1"
	var parts []string
	for _, a := range args {
		parts = append(parts, g.exprAs(a, types.Simple(types.Int)))
	}
	if g.failed() {
		return
	}
	switch len(parts) {
	case 1:
		stop = parts[0]
	case 2:
		start, stop = parts[0], parts[1]
	case 3:
		start, stop, step = parts[0], parts[1], parts[2]
	}
	cmp := "<"
	if len(args) == 3 {
		if u, ok := args[2].(*pyast.UnaryOp); ok && u.Op == pyast.USub {
			cmp = ">"
		}
	}
	g.flushPre()
	counter := g.st.synth("__i")
	g.b.Linef("var %s: i64 = %s;", counter, start)
	g.st.pushScope(false)
	capture, bind := g.loopTarget(x.Target, x.Body, types.Simple(types.Int))
	g.b.Openf("while (%s %s %s) : (%s += %s)", counter, cmp, stop, counter, step)
	if capture != "_" {
		bind = append([]string{fmt.Sprintf("const %s: i64 = %s;", capture, counter)}, bind...)
	}
	g.genLoopBody(x, bind)
}

// genForEnumerate lowers `for i, v in enumerate(xs)` over a list.
func (g *Generator) genForEnumerate(x *pyast.For, tgt *pyast.Tuple, seq pyast.Expr) {
	src := g.expr(seq)
	if g.failed() {
		return
	}
	g.flushPre()
	elem := g.infer(seq).ElemOr()
	g.st.pushScope(false)
	idxCapture, idxBind := g.loopTarget(tgt.Elts[0], x.Body, types.Simple(types.Int))
	valCapture, valBind := g.loopTarget(tgt.Elts[1], x.Body, elem)
	idx := "_"
	var bind []string
	if idxCapture != "_" {
		idx = g.st.synth("__idx")
		bind = append(bind, fmt.Sprintf("const %s: i64 = @intCast(%s);", idxCapture, idx))
	}
	bind = append(bind, idxBind...)
	bind = append(bind, valBind...)
	g.b.Openf("for (%s.items, 0..) |%s, %s|", src, valCapture, idx)
	g.genLoopBody(x, bind)
}

// loopTarget declares a loop target in the loop's scope and returns the
// capture name plus any statements that must open the body. Callers push
// the loop scope first and genLoopBody pops it.
func (g *Generator) loopTarget(target pyast.Expr, body []pyast.Stmt, elem types.Type) (string, []string) {
	if elem.IsUnknown() {
		elem = types.Simple(types.Int)
	}
	name, ok := pyast.NameID(target)
	if !ok {
		// Tuple targets unpack from the captured element.
		tmp := g.st.synth("__v")
		g.st.declare(tmp, &varInfo{typ: elem})
		saved := g.b
		g.b = NewBuilder(0)
		g.assignUnpack(tupleElts(target), &pyast.Name{ID: tmp}, target)
		lines := g.b.LinesOut(0)
		g.b = saved
		return tmp, lines
	}
	if _, hoisted := g.st.lookupLocal(name); hoisted {
		tmp := g.st.synth("__v")
		return tmp, []string{fmt.Sprintf("%s = %s;", g.st.resolve(name), tmp)}
	}
	if !analysis.IsNameUsed(body, name) {
		return "_", nil
	}
	emitted := g.bindLocal(name)
	if analysis.MutatedNames(body)[name] || mutatedInPlace(body)[name] {
		tmp := g.st.synth("__v")
		g.st.declare(name, &varInfo{typ: elem, mutable: true})
		return tmp, []string{fmt.Sprintf("var %s = %s;", emitted, tmp)}
	}
	g.st.declare(name, &varInfo{typ: elem})
	return emitted, nil
}

func tupleElts(e pyast.Expr) []pyast.Expr {
	switch x := e.(type) {
	case *pyast.Tuple:
		return x.Elts
	case *pyast.List:
		return x.Elts
	}
	return []pyast.Expr{e}
}

// genLoopBody finishes a loop opened by the caller: bindings, body, else
// clause and the closing brace.
func (g *Generator) genLoopBody(x *pyast.For, bind []string) {
	g.b.Lines(bind)
	g.genBlock(x.Body)
	g.st.popScope()
	if len(x.OrElse) > 0 {
		g.b.Reopen("else")
		g.genScopedBlock(x.OrElse)
	}
	g.b.Close("")
}

// ---------------------------------------------------------------------------
// try / except / else / finally
// ---------------------------------------------------------------------------

// tryCtx is an enclosing try body. Fallible calls inside it store the
// error and leave the labelled block instead of returning.
type tryCtx struct {
	label  string
	excVar string
	used   bool
}

func (g *Generator) currentTry() *tryCtx {
	if g.fc == nil || len(g.fc.tries) == 0 {
		return nil
	}
	return g.fc.tries[len(g.fc.tries)-1]
}

func (g *Generator) currentHandlerErr() string {
	if g.fc == nil || len(g.fc.handlerErrs) == 0 {
		return ""
	}
	return g.fc.handlerErrs[len(g.fc.handlerErrs)-1]
}

// try wraps a fallible call. Inside a try body the error is captured;
// elsewhere it propagates.
func (g *Generator) try(expr string) string {
	if tc := g.currentTry(); tc != nil {
		tc.used = true
		n := g.st.next()
		return fmt.Sprintf("(%s catch |__err_%d| { %s = __err_%d; break :%s; })", expr, n, tc.excVar, n, tc.label)
	}
	g.markFallible()
	return "try " + expr
}

// propagate returns the statement that re-raises errExpr from the current
// point.
func (g *Generator) propagate(errExpr string) string {
	if tc := g.currentTry(); tc != nil {
		tc.used = true
		return fmt.Sprintf("%s = %s; break :%s;", tc.excVar, errExpr, tc.label)
	}
	g.markFallible()
	return "return " + errExpr + ";"
}

func (g *Generator) genTry(x *pyast.Try) {
	n := g.st.next()
	tc := &tryCtx{label: fmt.Sprintf("__try_%d", n), excVar: fmt.Sprintf("__exc_%d", n)}

	finally := g.finallyBlock(x.FinalBody)
	if g.failed() {
		return
	}
	if finally.deferred {
		g.b.Open("")
		g.b.Open("defer")
		g.b.Raw(finally.text)
		g.b.Close("")
	}

	body := NewBuilder(g.b.Indent() + 1)
	saved := g.b
	g.b = body
	if len(x.Handlers) > 0 {
		g.fc.tries = append(g.fc.tries, tc)
	}
	g.genScopedBlock(x.Body)
	if len(x.Handlers) > 0 {
		g.fc.tries = g.fc.tries[:len(g.fc.tries)-1]
	}
	g.b = saved
	if g.failed() {
		return
	}

	if !tc.used {
		// Nothing in the body can fail; handlers are dead code.
		g.b.Open("")
		g.b.Raw(body.String())
		g.b.Close("")
		if len(x.OrElse) > 0 {
			g.b.Open("")
			g.genScopedBlock(x.OrElse)
			g.b.Close("")
		}
	} else {
		g.b.Linef("var %s: ?anyerror = null;", tc.excVar)
		g.b.Openf("%s:", tc.label)
		g.b.Raw(body.String())
		g.b.Close("")
		g.genHandlers(x, tc)
	}

	if finally.deferred {
		g.b.Close("")
	} else if len(x.FinalBody) > 0 {
		g.b.Open("")
		g.genScopedBlock(x.FinalBody)
		g.b.Close("")
	}
}

type finallyText struct {
	text     string
	deferred bool
}

// finallyBlock renders a finally body as a defer when it cannot fail.
// A fallible finally body runs inline after the handlers instead, since
// the target forbids error propagation out of a defer.
func (g *Generator) finallyBlock(body []pyast.Stmt) finallyText {
	if len(body) == 0 {
		return finallyText{}
	}
	for _, st := range body {
		if _, ok := st.(*pyast.Return); ok {
			return finallyText{}
		}
	}
	tmp := NewBuilder(g.b.Indent() + 2)
	saved := g.b
	savedTry := g.fc.emittedTry
	g.fc.emittedTry = false
	g.b = tmp
	tries := g.fc.tries
	g.fc.tries = nil
	g.genScopedBlock(body)
	g.fc.tries = tries
	g.b = saved
	fallible := g.fc.emittedTry
	g.fc.emittedTry = savedTry || fallible
	if fallible || strings.Contains(tmp.String(), "break :") {
		return finallyText{}
	}
	return finallyText{text: tmp.String(), deferred: true}
}

func (g *Generator) genHandlers(x *pyast.Try, tc *tryCtx) {
	catchAll := analysis.HasCatchAll(x.Handlers)
	needCapture := !catchAll
	for _, h := range x.Handlers {
		if h.Name != "" || !isCatchAll(h) || reraises(h.Body) {
			needCapture = true
		}
	}
	errName := "_"
	if needCapture {
		errName = g.st.synth("__e")
	}

	g.b.Openf("if (%s) |%s|", tc.excVar, errName)
	opened, caught := false, false
	for _, h := range x.Handlers {
		if isCatchAll(h) {
			if opened {
				g.b.Reopen("else")
				g.genHandlerBody(h, errName)
				g.b.Close("")
			} else {
				g.genHandlerBody(h, errName)
			}
			caught = true
			break
		}
		if opened {
			g.b.Reopenf("else if (%s)", errorMatch(errName, h.Type))
		} else {
			g.b.Openf("if (%s)", errorMatch(errName, h.Type))
			opened = true
		}
		g.genHandlerBody(h, errName)
	}
	switch {
	case caught:
	case opened:
		g.b.Reopen("else")
		g.b.Linef("%s", g.propagate(errName))
		g.b.Close("")
	default:
		g.b.Linef("%s", g.propagate(errName))
	}
	if len(x.OrElse) > 0 {
		g.b.Reopen("else")
		g.genScopedBlock(x.OrElse)
	}
	g.b.Close("")
}

func (g *Generator) genHandlerBody(h *pyast.ExceptHandler, errName string) {
	g.st.pushScope(false)
	if h.Name != "" {
		if _, hoisted := g.st.lookupLocal(h.Name); hoisted {
			g.b.Linef("%s = %s;", g.st.resolve(h.Name), errName)
		} else if g.fc.loaded[h.Name] {
			emitted := g.bindLocal(h.Name)
			g.st.declare(h.Name, &varInfo{typ: types.Simple(types.Error)})
			g.b.Linef("const %s: anyerror = %s;", emitted, errName)
		}
	}
	g.fc.handlerErrs = append(g.fc.handlerErrs, errName)
	g.genBlock(h.Body)
	g.fc.handlerErrs = g.fc.handlerErrs[:len(g.fc.handlerErrs)-1]
	g.st.popScope()
}

// reraises reports whether body contains a bare raise outside nested
// functions.
func reraises(body []pyast.Stmt) bool {
	found := false
	pyast.InspectStmts(body, func(n pyast.Node) bool {
		switch x := n.(type) {
		case *pyast.Raise:
			if x.Exc == nil {
				found = true
			}
		case *pyast.FunctionDef, *pyast.ClassDef, *pyast.Lambda:
			return false
		}
		return !found
	})
	return found
}

func isCatchAll(h *pyast.ExceptHandler) bool {
	return analysis.HasCatchAll([]*pyast.ExceptHandler{h})
}

// errorMatch renders the test for an except clause's exception types.
func errorMatch(errName string, typ pyast.Expr) string {
	var names []pyast.Expr
	if tup, ok := typ.(*pyast.Tuple); ok {
		names = tup.Elts
	} else {
		names = []pyast.Expr{typ}
	}
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s == error.%s", errName, errorName(n))
	}
	return strings.Join(parts, " or ")
}

// ---------------------------------------------------------------------------
// with
// ---------------------------------------------------------------------------

func (g *Generator) genWith(x *pyast.With) {
	g.b.Open("")
	g.st.pushScope(false)
	for _, item := range x.Items {
		v := g.expr(item.ContextExpr)
		if g.failed() {
			return
		}
		g.flushPre()
		name := ""
		if id, ok := pyast.NameID(item.OptionalVars); ok {
			if _, hoisted := g.st.lookupLocal(id); hoisted {
				name = g.st.resolve(id)
				g.b.Linef("%s = %s;", name, v)
			} else {
				name = g.bindLocal(id)
				g.st.declare(id, &varInfo{typ: g.infer(item.ContextExpr), mutable: true})
				g.b.Linef("var %s = %s;", name, v)
			}
		} else {
			name = g.st.synth("__ctx")
			g.b.Linef("var %s = %s;", name, v)
		}
		g.b.Linef("defer runtime.exitContext(&%s);", name)
	}
	g.genBlock(x.Body)
	g.st.popScope()
	g.b.Close("")
}
