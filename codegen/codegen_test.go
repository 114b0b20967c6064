package codegen

import (
	"regexp"
	"strings"
	"testing"

	"github.com/chazu/metal0/pyast"
	pt "github.com/chazu/metal0/pyast/pyasttest"
)

func generate(t *testing.T, opts Options, body ...pyast.Stmt) (string, *Report) {
	t.Helper()
	res, err := Generate(pt.Module(body...), opts)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	code := string(res.Zig)
	t.Logf("Generated code:\n%s", code)
	return code, res.Report
}

func TestGenerateHeaderAndMain(t *testing.T) {
	code, rep := generate(t, DefaultOptions(),
		pt.Expr(pt.CallN("print", pt.Str("hi"))),
	)

	if !strings.Contains(code, `const std = @import("std");`) {
		t.Error("Missing std import")
	}
	if !strings.Contains(code, `const runtime = @import("runtime");`) {
		t.Error("Missing runtime import")
	}
	if !strings.Contains(code, "pub fn main() !void") {
		t.Error("Missing main entry point")
	}
	if !strings.Contains(code, "runtime.print(") {
		t.Error("Missing print call")
	}
	if rep.Mode != "script" {
		t.Errorf("Mode = %q, want script", rep.Mode)
	}
	if rep.BuildID == "" {
		t.Error("Missing build id")
	}
}

func TestGenerateModuleMode(t *testing.T) {
	opts := DefaultOptions()
	opts.ModuleMode = true
	code, rep := generate(t, opts,
		pt.Def("answer", nil, pt.Ret(pt.Int(42))),
	)

	if !strings.Contains(code, "pub fn answer(") {
		t.Error("Module functions should be public")
	}
	if strings.Contains(code, "pub fn main()") {
		t.Error("Module mode should not emit main")
	}
	if rep.Mode != "module" {
		t.Errorf("Mode = %q, want module", rep.Mode)
	}
	if _, ok := rep.Function("answer"); !ok {
		t.Error("answer missing from report")
	}
}

func TestGenerateModuleConstant(t *testing.T) {
	code, _ := generate(t, DefaultOptions(),
		pt.Assign("LIMIT", pt.Int(10)),
		pt.Expr(pt.CallN("print", pt.N("LIMIT"))),
	)
	if !strings.Contains(code, "const LIMIT: i64 = 10;") {
		t.Error("Missing container-level constant")
	}
}

// def outer():
//     def double(x):
//         return x * 2
//     return double(5)
func TestZeroClosure(t *testing.T) {
	double := pt.Def("double", pt.Params("x"), pt.Ret(pt.Bin(pt.N("x"), pyast.Mult, pt.Int(2))))
	outer := pt.Def("outer", nil, double, pt.Ret(pt.CallN("double", pt.Int(5))))
	code, _ := generate(t, DefaultOptions(), outer)

	if !strings.Contains(code, "runtime.ZeroClosure(") {
		t.Error("Missing ZeroClosure adapter")
	}
	if !strings.Contains(code, "const __closure_") {
		t.Error("Missing closure struct")
	}
	if !strings.Contains(code, "fn __impl(") {
		t.Error("Missing closure implementation function")
	}
	if !strings.Contains(code, "double.call(5)") {
		t.Error("Closure call should go through .call")
	}
	if strings.Contains(code, "__Capture_") {
		t.Error("Capture-free closure should not declare a capture struct")
	}
}

// def make(n: int):
//     def add(x: int):
//         return x + n
//     return add(1)
func TestSimpleClosure(t *testing.T) {
	add := pt.Def("add", []pyast.Param{pt.PT("x", "int")}, pt.Ret(pt.Bin(pt.N("x"), pyast.Add, pt.N("n"))))
	mk := pt.Def("make", []pyast.Param{pt.PT("n", "int")}, add, pt.Ret(pt.CallN("add", pt.Int(1))))
	code, _ := generate(t, DefaultOptions(), mk)

	if !strings.Contains(code, "struct { n: i64 }") {
		t.Error("Missing typed capture struct")
	}
	if !strings.Contains(code, "runtime.Closure1(__Capture_") {
		t.Error("Missing Closure1 adapter")
	}
	if !strings.Contains(code, ".captures = .{ .n = n }") {
		t.Error("Missing capture initializer")
	}
	if !strings.Contains(code, "__cap_") {
		t.Error("Captured name should read from the capture parameter")
	}
	if !strings.Contains(code, "add.call(1)") {
		t.Error("Closure call should go through .call")
	}
}

// def outer(n: int):
//     base = 1
//     def fact(k: int):
//         if k <= base:
//             return base
//         return k * fact(k - 1)
//     return fact(n)
func TestRecursiveClosure(t *testing.T) {
	fact := pt.Def("fact", []pyast.Param{pt.PT("k", "int")},
		pt.If(pt.Cmp(pt.N("k"), pyast.LtE, pt.N("base")), pt.Body(pt.Ret(pt.N("base")))),
		pt.Ret(pt.Bin(pt.N("k"), pyast.Mult, pt.CallN("fact", pt.Bin(pt.N("k"), pyast.Sub, pt.Int(1))))),
	)
	outer := pt.Def("outer", []pyast.Param{pt.PT("n", "int")},
		pt.Assign("base", pt.Int(1)),
		fact,
		pt.Ret(pt.CallN("fact", pt.N("n"))),
	)
	code, _ := generate(t, DefaultOptions(), outer)

	if !strings.Contains(code, "fn call(") {
		t.Error("Recursive closure should be named call")
	}
	if !strings.Contains(code, "var base_cap_") {
		t.Error("Missing static capture field")
	}
	if !strings.Contains(code, ".base_cap_") {
		t.Error("Missing static capture initialization")
	}
	if !strings.Contains(code, ".call(n)") {
		t.Error("Outer call should target the closure struct")
	}
	if strings.Contains(code, "runtime.Closure") || strings.Contains(code, "runtime.ZeroClosure") {
		t.Error("Recursive closure should not use an adapter value")
	}
}

// A closure with more than one argument and no captures takes a tuple.
func TestZeroClosureTupleArgs(t *testing.T) {
	add := pt.Def("add", []pyast.Param{pt.PT("a", "int"), pt.PT("b", "int")}, pt.Ret(pt.Bin(pt.N("a"), pyast.Add, pt.N("b"))))
	outer := pt.Def("outer", nil, add, pt.Ret(pt.CallN("add", pt.Int(1), pt.Int(2))))
	code, _ := generate(t, DefaultOptions(), outer)

	if !strings.Contains(code, "runtime.ZeroClosure(struct { i64, i64 }") {
		t.Error("Missing tuple argument type")
	}
	if !strings.Contains(code, "add.call(.{ 1, 2 })") {
		t.Error("Arguments should be packed into a tuple")
	}
	// Closure parameters always get synthetic names.
	if !regexp.MustCompile(`const a_\d+ = __args_\d+\[0\];`).MatchString(code) {
		t.Error("Missing tuple unpacking prologue")
	}
	if !regexp.MustCompile(`const b_\d+ = __args_\d+\[1\];`).MatchString(code) {
		t.Error("Missing second tuple element")
	}
}

func TestUnusedClosureIsDiscarded(t *testing.T) {
	helper := pt.Def("helper", nil, pt.Ret(pt.Int(1)))
	outer := pt.Def("outer", nil, helper, pt.Ret(pt.Int(0)))
	code, _ := generate(t, DefaultOptions(), outer)

	if !strings.Contains(code, "_ = helper;") {
		t.Error("Unused closure value should be discarded")
	}
}

func TestSyntheticNamesAreUnique(t *testing.T) {
	mkLambda := func() pyast.Expr {
		return pt.Lambda(pt.Params("x"), pt.Bin(pt.N("x"), pyast.Add, pt.Int(1)))
	}
	outer := pt.Def("outer", nil,
		pt.Assign("f", mkLambda()),
		pt.Assign("g", mkLambda()),
		pt.Ret(pt.Bin(pt.CallN("f", pt.Int(1)), pyast.Add, pt.CallN("g", pt.Int(2)))),
	)
	code, _ := generate(t, DefaultOptions(), outer)

	seen := make(map[string]bool)
	for _, line := range strings.Split(code, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "const __closure_") {
			continue
		}
		name := strings.Fields(line)[1]
		if seen[name] {
			t.Errorf("Duplicate synthetic name %s", name)
		}
		seen[name] = true
	}
	if len(seen) != 2 {
		t.Errorf("Got %d closure structs, want 2", len(seen))
	}
}

// class Animal:
//     def __init__(self, name: str):
//         self.name = name
//     def speak(self) -> str:
//         return self.name
// class Dog(Animal):
//     def bark(self) -> str:
//         return "woof"
func TestInheritanceDuplicatesParentMethods(t *testing.T) {
	animal := pt.Class("Animal", "",
		pt.Def("__init__", []pyast.Param{pt.P("self"), pt.PT("name", "str")},
			pt.AssignTo(pt.Self("name"), pt.N("name"))),
		&pyast.FunctionDef{Name: "speak", Params: pt.Params("self"), Returns: pt.N("str"),
			Body: pt.Body(pt.Ret(pt.Self("name")))},
	)
	dog := pt.Class("Dog", "Animal",
		&pyast.FunctionDef{Name: "bark", Params: pt.Params("self"), Returns: pt.N("str"),
			Body: pt.Body(pt.Ret(pt.Str("woof")))},
	)
	code, _ := generate(t, DefaultOptions(), animal, dog)

	if !strings.Contains(code, "const Animal = struct") || !strings.Contains(code, "const Dog = struct") {
		t.Fatal("Missing class structs")
	}
	dogBody := code[strings.Index(code, "const Dog = struct"):]
	if !strings.Contains(dogBody, "name: []const u8") {
		t.Error("Child should carry the parent's fields")
	}
	if !strings.Contains(dogBody, "pub fn speak(") {
		t.Error("Parent method should be duplicated into the child")
	}
	if !strings.Contains(dogBody, "pub fn bark(") {
		t.Error("Missing child method")
	}
	if !strings.Contains(dogBody, "Animal.initInto(") {
		t.Error("Inherited constructor should delegate to the parent")
	}
	if !strings.Contains(code, "self: *const Animal") {
		t.Error("Non-mutating method should take a const receiver")
	}
}

// class Counter:
//     def __init__(self):
//         self.n = 0
//     def bump(self):
//         self.n += 1
func TestMutatingMethodTakesPointer(t *testing.T) {
	counter := pt.Class("Counter", "",
		pt.Def("__init__", pt.Params("self"), pt.AssignTo(pt.Self("n"), pt.Int(0))),
		pt.Def("bump", pt.Params("self"),
			&pyast.AugAssign{Target: pt.Self("n"), Op: pyast.Add, Value: pt.Int(1)}),
	)
	code, _ := generate(t, DefaultOptions(), counter)

	if !strings.Contains(code, "pub fn bump(self: *Counter)") {
		t.Error("Mutating method should take a mutable receiver")
	}
	if !strings.Contains(code, "pub fn init(allocator: std.mem.Allocator) !Counter") {
		t.Error("Missing constructor")
	}
	if !strings.Contains(code, "pub fn initInto(") {
		t.Error("Missing in-place constructor")
	}
}

// class Meters(float):
//     pass
func TestBuiltinBaseClass(t *testing.T) {
	m := pt.Class("Meters", "float", &pyast.Pass{})
	code, _ := generate(t, DefaultOptions(), m)

	if !strings.Contains(code, "__base_value: f64") {
		t.Error("Missing builtin value field")
	}
	if !strings.Contains(code, "arg0: f64) !Meters") {
		t.Error("Constructor should take the builtin value")
	}
	if !strings.Contains(code, ".__base_value = value;") {
		t.Error("Constructor should store the builtin value")
	}
}

// class Stack(list):
//     def push(self, v):
//         self.append(v)
func TestComplexParentBackingField(t *testing.T) {
	stack := pt.Class("Stack", "list",
		pt.Def("push", pt.Params("self", "v"), pt.Expr(pt.Method(pt.N("self"), "append", pt.N("v")))),
	)
	code, _ := generate(t, DefaultOptions(), stack)

	if !strings.Contains(code, "items: runtime.List(i64)") {
		t.Error("Missing list backing field")
	}
	if !strings.Contains(code, "runtime.List(i64).init(allocator)") {
		t.Error("Constructor should initialize the backing list")
	}
	if !strings.Contains(code, ".items.append(") {
		t.Error("append should expand through the list template")
	}
}

func TestUnittestCatalogue(t *testing.T) {
	skip := pt.Def("test_slow", pt.Params("self"), &pyast.Pass{})
	skip.Decorators = []pyast.Expr{pt.Call(pt.Attr(pt.N("unittest"), "skip"), pt.Str("too slow"))}
	patched := pt.Def("test_env", pt.Params("self", "mock_getenv"), &pyast.Pass{})
	patched.Decorators = []pyast.Expr{pt.Call(pt.Attr(pt.N("mock"), "patch"), pt.Str("os.getenv"))}

	tc := &pyast.ClassDef{
		Name:  "TestMath",
		Bases: []pyast.Expr{pt.Attr(pt.N("unittest"), "TestCase")},
		Body: pt.Body(
			pt.Def("setUp", pt.Params("self"), pt.AssignTo(pt.Self("x"), pt.Int(2))),
			pt.Def("test_add", pt.Params("self"),
				pt.Expr(pt.Method(pt.N("self"), "assertEqual", pt.Bin(pt.Int(1), pyast.Add, pt.Int(1)), pt.Int(2)))),
			skip,
			patched,
			pt.Def("helper", pt.Params("self"), pt.Ret(pt.Int(1))),
		),
	}
	code, rep := generate(t, DefaultOptions(), pt.Import("unittest", ""), tc)

	if !strings.Contains(code, "runtime.unittest.assertEqual(") {
		t.Error("Assertion should call the runtime")
	}
	if len(rep.TestClasses) != 1 {
		t.Fatalf("TestClasses = %d, want 1", len(rep.TestClasses))
	}
	got := rep.TestClasses[0]
	if got.Name != "TestMath" || !got.HasSetUp || got.HasTearDown {
		t.Errorf("unexpected class entry: %+v", got)
	}
	methods := make(map[string]TestMethod)
	for _, m := range got.Methods {
		methods[m.Name] = m
	}
	if len(methods) != 3 {
		t.Errorf("got %d test methods, want 3: %+v", len(methods), got.Methods)
	}
	if !methods["test_add"].Fallible {
		t.Error("test_add calls an assertion and should be fallible")
	}
	if r := methods["test_slow"].SkipReason; r != "too slow" {
		t.Errorf("test_slow skip reason = %q, want %q", r, "too slow")
	}
	if p := methods["test_env"].Patches; len(p) != 1 || p[0] != "os.getenv" {
		t.Errorf("test_env patches = %v, want [os.getenv]", p)
	}
}

func TestGenerateReportsFirstError(t *testing.T) {
	// super() in a plain function has no enclosing class.
	bad := pt.Def("f", nil, pt.Expr(pt.Super("go")))
	_, err := Generate(pt.Module(bad), DefaultOptions())
	if err == nil {
		t.Fatal("expected an error")
	}
	ge, ok := err.(*GenError)
	if !ok {
		t.Fatalf("error type = %T, want *GenError", err)
	}
	if ge.Func != "f" {
		t.Errorf("Func = %q, want f", ge.Func)
	}
	if !strings.Contains(ge.Error(), "super()") {
		t.Errorf("unexpected message %q", ge.Error())
	}
}
