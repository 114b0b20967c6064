package codegen

import (
	"regexp"
	"strings"
	"testing"

	"github.com/chazu/metal0/pyast"
	pt "github.com/chazu/metal0/pyast/pyasttest"
)

func returning(fn *pyast.FunctionDef, ann string) *pyast.FunctionDef {
	fn.Returns = pt.N(ann)
	return fn
}

type loweringCase struct {
	name     string
	body     []pyast.Stmt
	contains []string
	patterns []string
	absent   []string
	// before lists pairs whose first element must appear before the second.
	before [][2]string
}

func runLowering(t *testing.T, cases []loweringCase) {
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _ := generate(t, DefaultOptions(), tc.body...)
			for _, want := range tc.contains {
				if !strings.Contains(code, want) {
					t.Errorf("Missing %q", want)
				}
			}
			for _, pat := range tc.patterns {
				if !regexp.MustCompile(pat).MatchString(code) {
					t.Errorf("No match for %s", pat)
				}
			}
			for _, bad := range tc.absent {
				if strings.Contains(code, bad) {
					t.Errorf("Unexpected %q", bad)
				}
			}
			for _, pair := range tc.before {
				i, j := strings.Index(code, pair[0]), strings.Index(code, pair[1])
				if i < 0 || j < 0 || i > j {
					t.Errorf("%q should appear before %q", pair[0], pair[1])
				}
			}
		})
	}
}

func TestHoistedDeclarations(t *testing.T) {
	runLowering(t, []loweringCase{
		{
			name: "if",
			body: pt.Body(returning(pt.Def("pick", []pyast.Param{pt.PT("c", "bool")},
				pt.If(pt.N("c"), pt.Body(pt.Assign("y", pt.Int(1))), pt.Assign("y", pt.Int(2))),
				pt.Ret(pt.N("y")),
			), "int")),
			contains: []string{"var y: i64 = undefined;", "y = 1;", "y = 2;", "return y;"},
			absent:   []string{"const y"},
			before:   [][2]string{{"var y: i64 = undefined;", "if (c)"}},
		},
		{
			name: "for",
			body: pt.Body(returning(pt.Def("last", nil,
				pt.For("i", pt.CallN("range", pt.Int(3)), pt.Assign("v", pt.N("i"))),
				pt.Ret(pt.N("v")),
			), "int")),
			contains: []string{"var v: i64 = undefined;", "return v;"},
			absent:   []string{"const v"},
			before:   [][2]string{{"var v: i64 = undefined;", "v = "}},
		},
		{
			name: "with",
			body: pt.Body(returning(pt.Def("hold", []pyast.Param{pt.PT("res", "int")},
				pt.With(pt.N("res"), "", pt.Assign("n", pt.Int(5))),
				pt.Ret(pt.N("n")),
			), "int")),
			contains: []string{"var n: i64 = undefined;", "n = 5;"},
			before: [][2]string{
				{"var n: i64 = undefined;", "defer runtime.exitContext(&__ctx_"},
				{"defer runtime.exitContext(&__ctx_", "n = 5;"},
			},
		},
		{
			name: "try",
			body: pt.Body(returning(pt.Def("safe", []pyast.Param{pt.PT("a", "int"), pt.PT("b", "int")},
				pt.Try(pt.Body(pt.Assign("r", pt.Bin(pt.N("a"), pyast.FloorDiv, pt.N("b")))),
					pt.Except("ZeroDivisionError", "", pt.Assign("r", pt.Int(0)))),
				pt.Ret(pt.N("r")),
			), "int")),
			contains: []string{"var r: i64 = undefined;", "r = 0;"},
			before:   [][2]string{{"var r: i64 = undefined;", "?anyerror = null;"}},
		},
	})
}

func TestTryLowering(t *testing.T) {
	runLowering(t, []loweringCase{
		{
			name: "fallible call is caught into the handler",
			body: pt.Body(returning(pt.Def("safe", []pyast.Param{pt.PT("a", "int"), pt.PT("b", "int")},
				pt.Try(pt.Body(pt.Ret(pt.Bin(pt.N("a"), pyast.FloorDiv, pt.N("b")))),
					pt.Except("ZeroDivisionError", "", pt.Ret(pt.Int(0)))),
			), "int")),
			contains: []string{"?anyerror = null;", "runtime.floorDiv(a, b)"},
			patterns: []string{
				`var __exc_\d+: \?anyerror = null;`,
				`__try_\d+: \{`,
				`catch \|__err_\d+\| \{ __exc_\d+ = __err_\d+; break :__try_\d+; \}`,
				`if \(__exc_\d+\) \|__e_\d+\| \{`,
				`__e_\d+ == error\.ZeroDivisionError`,
				// Unmatched errors propagate.
				`\} else \{\n\s+return __e_\d+;`,
			},
			absent: []string{"try runtime.floorDiv"},
		},
		{
			name: "raise inside the body jumps to the handler",
			body: pt.Body(returning(pt.Def("check", []pyast.Param{pt.PT("n", "int")},
				pt.Try(pt.Body(
					pt.If(pt.Cmp(pt.N("n"), pyast.Lt, pt.Int(0)), pt.Body(pt.Raise("ValueError"))),
					pt.Ret(pt.N("n")),
				), pt.Except("ValueError", "", pt.Ret(pt.Int(0)))),
			), "int")),
			patterns: []string{
				`__exc_\d+ = error\.ValueError;\n\s+break :__try_\d+;`,
				`__e_\d+ == error\.ValueError`,
			},
			absent: []string{"return error.ValueError;"},
		},
		{
			name: "bare raise in a catch-all handler re-raises the caught error",
			body: pt.Body(returning(pt.Def("checked", []pyast.Param{pt.PT("a", "int"), pt.PT("b", "int")},
				pt.Try(pt.Body(pt.Ret(pt.Bin(pt.N("a"), pyast.FloorDiv, pt.N("b")))),
					pt.Except("Exception", "", &pyast.Raise{})),
			), "int")),
			patterns: []string{`if \(__exc_\d+\) \|__e_\d+\| \{\n\s+return __e_\d+;`},
			absent:   []string{"return _;", "|_|"},
		},
		{
			name: "handler binding is visible in the handler body",
			body: pt.Body(returning(pt.Def("describe", []pyast.Param{pt.PT("a", "int"), pt.PT("b", "int")},
				pt.Try(pt.Body(pt.Ret(pt.Bin(pt.N("a"), pyast.FloorDiv, pt.N("b")))),
					pt.Except("ZeroDivisionError", "e", pt.Expr(pt.CallN("print", pt.N("e"))), pt.Ret(pt.Int(0)))),
			), "int")),
			patterns: []string{`const e: anyerror = __e_\d+;`},
		},
	})
}

func TestWithLowering(t *testing.T) {
	runLowering(t, []loweringCase{
		{
			name: "named context",
			body: pt.Body(returning(pt.Def("use", []pyast.Param{pt.PT("res", "int")},
				pt.With(pt.N("res"), "r", pt.Ret(pt.N("r"))),
			), "int")),
			contains: []string{"var r = res;", "defer runtime.exitContext(&r);", "return r;"},
			before:   [][2]string{{"defer runtime.exitContext(&r);", "return r;"}},
		},
		{
			name: "anonymous context",
			body: pt.Body(pt.Def("touch", []pyast.Param{pt.PT("res", "int")},
				pt.With(pt.N("res"), "", pt.Expr(pt.CallN("print", pt.Str("in")))),
			)),
			patterns: []string{`var (__ctx_\d+) = res;\n\s+defer runtime\.exitContext\(&__ctx_\d+\);`},
		},
	})
}

// A decorator that returns its argument is typed by that argument, under
// the name the parameter has in the signature.
func TestDecoratorReturnsParameterType(t *testing.T) {
	cases := []struct {
		name  string
		param string
		body  []pyast.Stmt
	}{
		{"shadows module function", "f", pt.Body(
			pt.Def("f", nil, pt.Ret(pt.Int(1))),
			pt.Def("deco", pt.Params("f"), pt.Ret(pt.N("f"))),
		)},
		{"keyword", "fn", pt.Body(
			pt.Def("deco", pt.Params("fn"), pt.Ret(pt.N("fn"))),
		)},
		{"plain", "func", pt.Body(
			pt.Def("deco", pt.Params("func"), pt.Ret(pt.N("func"))),
		)},
	}
	sig := regexp.MustCompile(`fn deco\((\w+): anytype\) @TypeOf\(([^)]*)\)`)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _ := generate(t, DefaultOptions(), tc.body...)
			m := sig.FindStringSubmatch(code)
			if m == nil {
				t.Fatal("Missing decorator signature typed by its parameter")
			}
			if m[1] != m[2] {
				t.Errorf("return type names %s, parameter is %s", m[2], m[1])
			}
			if !strings.HasPrefix(m[1], SanitizeName(tc.param)) {
				t.Errorf("parameter %s should derive from %s", m[1], tc.param)
			}
		})
	}
}

func TestFallibleResultAsOperand(t *testing.T) {
	dog := pt.Class("Dog", "",
		&pyast.FunctionDef{Name: "__init__", Params: []pyast.Param{pt.P("self"), pt.PT("n", "int")},
			Body: pt.Body(pt.AssignTo(pt.Self("n"), pt.N("n")))},
		&pyast.FunctionDef{Name: "legs", Params: pt.Params("self"), Returns: pt.N("int"),
			Body: pt.Body(pt.Ret(pt.Self("n")))},
	)
	code, _ := generate(t, DefaultOptions(),
		dog,
		pt.Expr(pt.CallN("print", pt.Method(pt.CallN("Dog", pt.Int(4)), "legs"))),
		pt.Expr(pt.CallN("print", pt.Attr(pt.CallN("Dog", pt.Int(5)), "n"))),
	)

	if !strings.Contains(code, "(try Dog.init(allocator, 4)).legs()") {
		t.Error("Method call on a fallible result should unwrap it first")
	}
	if !strings.Contains(code, "(try Dog.init(allocator, 5)).n") {
		t.Error("Field access on a fallible result should unwrap it first")
	}
	if strings.Contains(code, "try Dog.init(allocator, 4).legs()") {
		t.Error("try applied to the method call instead of the constructor")
	}
}

// A method that never touches its receiver names it _.
func TestUnusedReceiverIsDiscarded(t *testing.T) {
	greeter := pt.Class("Greeter", "",
		&pyast.FunctionDef{Name: "hello", Params: pt.Params("self"), Returns: pt.N("int"),
			Body: pt.Body(pt.Ret(pt.Int(1)))},
		&pyast.FunctionDef{Name: "twice", Params: []pyast.Param{pt.P("self"), pt.PT("x", "int")}, Returns: pt.N("int"),
			Body: pt.Body(pt.Ret(pt.Bin(pt.N("x"), pyast.Add, pt.N("x"))))},
	)
	code, _ := generate(t, DefaultOptions(), greeter)

	if !strings.Contains(code, "pub fn hello(_: *const Greeter)") {
		t.Error("Unused receiver should be discarded")
	}
	if !strings.Contains(code, "pub fn twice(_: *const Greeter, x: i64)") {
		t.Error("Unused receiver should be discarded before other parameters")
	}
}

// A discarded parameter is named _ and its source name never reaches
// the output.
func TestUnusedParameterNeverAppears(t *testing.T) {
	fn := returning(pt.Def("first", []pyast.Param{pt.PT("a", "int"), pt.PT("ignored", "int")},
		pt.Ret(pt.N("a")),
	), "int")
	code, rep := generate(t, DefaultOptions(), fn)

	if !strings.Contains(code, "fn first(a: i64, _: i64) i64") {
		t.Error("Unused parameter should be discarded in the signature")
	}
	if strings.Contains(code, "ignored") {
		t.Error("Discarded parameter name leaked into the output")
	}
	if len(rep.Functions) == 0 || rep.Functions[0].Total != 2 {
		t.Error("Discarded parameters still count toward the calling convention")
	}
}
