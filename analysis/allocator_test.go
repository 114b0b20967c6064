package analysis

import (
	"testing"

	"github.com/chazu/metal0/pyast"
	pt "github.com/chazu/metal0/pyast/pyasttest"
)

func mathContext() *Context {
	ctx := NewContext()
	ctx.Modules["math"] = "math"
	ctx.Modules["os"] = "os"
	return ctx
}

func TestIntegerAdditionNeedsNoAllocator(t *testing.T) {
	fn := pt.Def("add", pt.Params("a", "b"), pt.Ret(pt.Bin(pt.N("a"), pyast.Add, pt.N("b"))))
	ctx := NewContext()

	if FunctionNeedsAllocator(fn, ctx) {
		t.Errorf("FunctionNeedsAllocator(add) = true, want false")
	}
	if FunctionActuallyUsesAllocatorParam(fn, ctx) {
		t.Errorf("FunctionActuallyUsesAllocatorParam(add) = true, want false")
	}
}

func TestAllocatorPredicates(t *testing.T) {
	tests := []struct {
		name  string
		fn    *pyast.FunctionDef
		needs bool
		uses  bool
	}{
		{
			name:  "string concat",
			fn:    pt.Def("greet", []pyast.Param{pt.PT("name", "str")}, pt.Ret(pt.Bin(pt.Str("hi "), pyast.Add, pt.N("name")))),
			needs: true,
			uses:  true,
		},
		{
			name: "string local concat",
			fn: pt.Def("f", nil,
				pt.Assign("s", pt.Str("a")),
				pt.Ret(pt.Bin(pt.N("s"), pyast.Add, pt.Str("b")))),
			needs: true,
			uses:  true,
		},
		{
			name:  "floor division",
			fn:    pt.Def("f", pt.Params("a", "b"), pt.Ret(pt.Bin(pt.N("a"), pyast.FloorDiv, pt.N("b")))),
			needs: true,
		},
		{
			name:  "modulo",
			fn:    pt.Def("f", pt.Params("a", "b"), pt.Ret(pt.Bin(pt.N("a"), pyast.Mod, pt.N("b")))),
			needs: true,
		},
		{
			name:  "fstring uses global allocator",
			fn:    pt.Def("f", pt.Params("a"), pt.Ret(&pyast.FString{Values: []pyast.Expr{pt.Str("v="), &pyast.FormattedValue{Value: pt.N("a")}}})),
			needs: true,
		},
		{
			name:  "dict literal uses global allocator",
			fn:    pt.Def("f", nil, pt.Ret(&pyast.Dict{Keys: []pyast.Expr{pt.Str("a")}, Values: []pyast.Expr{pt.Int(1)}})),
			needs: true,
		},
		{
			name:  "str builtin",
			fn:    pt.Def("f", pt.Params("a"), pt.Ret(pt.CallN("str", pt.N("a")))),
			needs: true,
		},
		{
			name:  "list builtin",
			fn:    pt.Def("f", pt.Params("a"), pt.Ret(pt.CallN("list", pt.N("a")))),
			needs: true,
			uses:  true,
		},
		{
			name:  "allocator method",
			fn:    pt.Def("f", pt.Params("s"), pt.Ret(pt.Method(pt.N("s"), "upper"))),
			needs: true,
			uses:  true,
		},
		{
			name:  "list comprehension",
			fn:    pt.Def("f", pt.Params("xs"), pt.Ret(&pyast.ListComp{Elt: pt.N("x"), Generators: []pyast.Comprehension{{Target: pt.N("x"), Iter: pt.N("xs")}}})),
			needs: true,
			uses:  true,
		},
		{
			name:  "inline math call",
			fn:    pt.Def("f", pt.Params("x"), pt.Ret(pt.Method(pt.N("math"), "sqrt", pt.N("x")))),
			needs: false,
		},
		{
			name:  "module call",
			fn:    pt.Def("f", nil, pt.Ret(pt.Method(pt.N("os"), "getcwd"))),
			needs: true,
			uses:  true,
		},
		{
			name:  "self method",
			fn:    pt.Def("m", pt.Params("self"), pt.Ret(pt.Method(pt.N("self"), "other"))),
			needs: true,
		},
		{
			name:  "raise",
			fn:    pt.Def("f", nil, pt.Raise("ValueError")),
			needs: true,
		},
		{
			name: "nested in branches",
			fn: pt.Def("f", pt.Params("c", "xs"),
				pt.If(pt.N("c"), pt.Body(pt.For("x", pt.N("xs"), pt.Expr(pt.CallN("str", pt.N("x"))))))),
			needs: true,
		},
		{
			name: "comparison only",
			fn: pt.Def("f", pt.Params("a", "b"),
				pt.If(pt.Cmp(pt.N("a"), pyast.Lt, pt.N("b")), pt.Body(pt.Ret(pt.N("a")))),
				pt.Ret(pt.N("b"))),
			needs: false,
		},
		{
			name: "catch-all try does not propagate",
			fn: pt.Def("f", pt.Params("a"),
				pt.Try(pt.Body(pt.Expr(pt.N("a"))), pt.Except("", "", &pyast.Pass{}))),
			needs: false,
		},
		{
			name: "typed try re-raises unmatched errors",
			fn: pt.Def("f", pt.Params("a"),
				pt.Try(pt.Body(pt.Expr(pt.N("a"))), pt.Except("KeyError", "", &pyast.Pass{}))),
			needs: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := mathContext()
			if got := FunctionNeedsAllocator(tt.fn, ctx); got != tt.needs {
				t.Errorf("FunctionNeedsAllocator = %v, want %v", got, tt.needs)
			}
			if got := FunctionActuallyUsesAllocatorParam(tt.fn, ctx); got != tt.uses {
				t.Errorf("FunctionActuallyUsesAllocatorParam = %v, want %v", got, tt.uses)
			}
		})
	}
}

func TestFallibilityPropagatesThroughCalls(t *testing.T) {
	// c calls a calls b; b is fallible. Definitions are in caller-first
	// order so the result must not depend on iteration order.
	mod := pt.Module(
		pt.Def("c", pt.Params("x"), pt.Ret(pt.CallN("a", pt.N("x")))),
		pt.Def("a", pt.Params("x"), pt.Ret(pt.CallN("b", pt.N("x")))),
		pt.Def("b", pt.Params("x"), pt.Ret(pt.CallN("list", pt.N("x")))),
		pt.Def("pure", pt.Params("x"), pt.Ret(pt.Bin(pt.N("x"), pyast.Add, pt.Int(1)))),
		pt.Def("callsPure", pt.Params("x"), pt.Ret(pt.CallN("pure", pt.N("x")))),
	)
	ctx := NewContext()
	ComputeFallibility(mod, ctx)

	for _, name := range []string{"a", "b", "c"} {
		f := ctx.Functions[name]
		if !f.Fallible {
			t.Errorf("%s: Fallible = false, want true", name)
		}
		if !f.AllocParam {
			t.Errorf("%s: AllocParam = false, want true", name)
		}
	}
	for _, name := range []string{"pure", "callsPure"} {
		if f := ctx.Functions[name]; f.Fallible || f.AllocParam {
			t.Errorf("%s: flags = %+v, want zero", name, f)
		}
	}
}

func TestFallibilityMonotonicity(t *testing.T) {
	// Whenever a callee needs an allocator, the caller does too.
	callees := []pyast.Stmt{
		pt.Ret(pt.CallN("str", pt.N("x"))),
		pt.Ret(pt.Bin(pt.N("x"), pyast.Div, pt.Int(2))),
		pt.Raise("ValueError"),
		pt.Ret(pt.Method(pt.N("x"), "split")),
	}
	for i, body := range callees {
		mod := pt.Module(
			pt.Def("caller", pt.Params("x"), pt.Expr(pt.CallN("callee", pt.N("x"))), pt.Ret(pt.Int(0))),
			pt.Def("callee", pt.Params("x"), body),
		)
		ctx := NewContext()
		ComputeFallibility(mod, ctx)
		if !ctx.Functions["callee"].Fallible {
			t.Fatalf("case %d: callee not fallible", i)
		}
		if !ctx.Functions["caller"].Fallible {
			t.Errorf("case %d: caller of fallible callee is not fallible", i)
		}
	}
}

func TestModuleModeGivesEveryFunctionAnAllocator(t *testing.T) {
	mod := pt.Module(pt.Def("add", pt.Params("a", "b"), pt.Ret(pt.Bin(pt.N("a"), pyast.Add, pt.N("b")))))
	ctx := NewContext()
	ctx.ModuleMode = true
	ComputeFallibility(mod, ctx)

	if f := ctx.Functions["add"]; !f.AllocParam {
		t.Errorf("module mode: AllocParam = false, want true")
	}
}

func TestMethodFlags(t *testing.T) {
	mod := pt.Module(
		pt.Class("Counter", "",
			pt.Def("__init__", pt.Params("self"), pt.AssignTo(pt.Self("n"), pt.Int(0))),
			pt.Def("inc", pt.Params("self"), &pyast.AugAssign{Target: pt.Self("n"), Op: pyast.Add, Value: pt.Int(1)}),
			pt.Def("label", pt.Params("self"), pt.Ret(pt.Method(pt.Str("n"), "upper"))),
			pt.Def("show", pt.Params("self"), pt.Ret(pt.Method(pt.N("self"), "label"))),
		),
	)
	ctx := NewContext()
	ComputeFallibility(mod, ctx)

	if f := ctx.Methods["Counter.__init__"]; !f.Fallible || !f.AllocParam {
		t.Errorf("__init__ flags = %+v, want fallible with allocator", f)
	}
	if f := ctx.Methods["Counter.inc"]; f.Fallible {
		t.Errorf("inc flags = %+v, want infallible", f)
	}
	if f := ctx.Methods["Counter.show"]; !f.Fallible || !f.AllocParam {
		t.Errorf("show flags = %+v, want fallible with allocator (label threads it)", f)
	}
}

func TestClassifyCall(t *testing.T) {
	ctx := mathContext()
	ctx.Classes["Point"] = true
	ctx.Functions["helper"] = FuncFlags{}
	locals := map[string]bool{"inner": true}

	tests := []struct {
		call *pyast.Call
		want CallKind
	}{
		{pt.CallN("print", pt.Int(1)), CallBuiltin},
		{pt.CallN("list"), CallAllocBuiltin},
		{pt.CallN("str", pt.Int(1)), CallGlobalAllocBuiltin},
		{pt.CallN("Point"), CallConstructor},
		{pt.CallN("helper"), CallUser},
		{pt.CallN("inner"), CallLocal},
		{pt.Method(pt.N("self"), "assertEqual", pt.Int(1), pt.Int(1)), CallTestAssertion},
		{pt.Method(pt.N("self"), "go"), CallSelfMethod},
		{pt.Super("__init__"), CallSuper},
		{pt.Method(pt.N("math"), "sqrt", pt.Int(4)), CallInlineModule},
		{pt.Method(pt.N("os"), "getcwd"), CallModule},
		{pt.Method(pt.N("s"), "join", pt.N("xs")), CallAllocMethod},
		{pt.Method(pt.N("obj"), "frob"), CallMethod},
		{pt.CallN("mystery"), CallUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyCall(tt.call, ctx, locals); got != tt.want {
			name, _ := pyast.DottedName(tt.call.Func)
			t.Errorf("ClassifyCall(%s) = %v, want %v", name, got, tt.want)
		}
	}
}

func TestCallsLocalConstructor(t *testing.T) {
	local := pt.Def("make", nil,
		pt.Class("Inner", "", &pyast.Pass{}),
		pt.Ret(pt.CallN("Inner")))
	if !CallsLocalConstructor(local, "", nil) {
		t.Errorf("constructing a function-local class: got false")
	}

	selfCtor := pt.Def("clone", pt.Params("self"), pt.Ret(pt.CallN("Node")))
	if !CallsLocalConstructor(selfCtor, "Node", nil) {
		t.Errorf("constructing the containing class: got false")
	}

	nested := pt.Def("make", pt.Params("self"), pt.Ret(pt.CallN("Leaf")))
	if !CallsLocalConstructor(nested, "Tree", map[string]bool{"Leaf": true}) {
		t.Errorf("constructing a class nested in the containing class: got false")
	}

	plain := pt.Def("f", nil, pt.Ret(pt.CallN("Other")))
	if CallsLocalConstructor(plain, "Node", nil) {
		t.Errorf("constructing an unrelated name: got true")
	}
}

func TestCollectNestedClassNames(t *testing.T) {
	body := pt.Body(
		pt.Class("A", "", pt.Class("B", "", &pyast.Pass{})),
		pt.If(pt.N("c"), pt.Body(pt.Class("C", "", &pyast.Pass{}))),
		pt.Def("f", nil, pt.Class("Hidden", "", &pyast.Pass{})),
	)
	got := CollectNestedClassNames(body)
	for _, name := range []string{"A", "B", "C"} {
		if !got[name] {
			t.Errorf("missing %s in %v", name, got)
		}
	}
	if got["Hidden"] {
		t.Errorf("class inside nested function should not be collected")
	}
}
