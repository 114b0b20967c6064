package pyast

import (
	"reflect"
	"testing"
)

func name(id string) *Name { return &Name{ID: id} }

func TestInspectVisitsNestedNodes(t *testing.T) {
	// def f(a=d):
	//     return g(a, key=[b for b in c])
	comp := &ListComp{Elt: name("b"), Generators: []Comprehension{{Target: name("b"), Iter: name("c")}}}
	fn := &FunctionDef{
		Name:   "f",
		Params: []Param{{Name: "a", Default: name("d")}},
		Body: []Stmt{&Return{Value: &Call{
			Func:     name("g"),
			Args:     []Expr{name("a")},
			Keywords: []Keyword{{Arg: "key", Value: comp}},
		}}},
	}
	var ids []string
	Inspect(fn, func(n Node) bool {
		if x, ok := n.(*Name); ok {
			ids = append(ids, x.ID)
		}
		return true
	})
	want := []string{"d", "g", "a", "c", "b", "b"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("visited %v, want %v", ids, want)
	}
}

func TestInspectPrunes(t *testing.T) {
	inner := &FunctionDef{Name: "inner", Body: []Stmt{&ExprStmt{Value: name("hidden")}}}
	body := []Stmt{inner, &ExprStmt{Value: name("seen")}}
	var ids []string
	InspectStmts(body, func(n Node) bool {
		switch x := n.(type) {
		case *FunctionDef:
			return false
		case *Name:
			ids = append(ids, x.ID)
		}
		return true
	})
	if !reflect.DeepEqual(ids, []string{"seen"}) {
		t.Errorf("visited %v, want [seen]", ids)
	}
}

func TestDottedName(t *testing.T) {
	e := &Attribute{Value: &Attribute{Value: name("unittest"), Attr: "mock"}, Attr: "patch"}
	if got, ok := DottedName(e); !ok || got != "unittest.mock.patch" {
		t.Errorf("DottedName = %q, %v", got, ok)
	}
	call := &Attribute{Value: &Call{Func: name("f")}, Attr: "x"}
	if _, ok := DottedName(call); ok {
		t.Error("DottedName should reject a call receiver")
	}
}

func TestShapeHelpers(t *testing.T) {
	if !IsSuperCall(&Call{Func: name("super")}) {
		t.Error("super() not recognized")
	}
	if IsSuperCall(name("super")) {
		t.Error("bare super is not a call")
	}
	if _, ok := StringConst(&Constant{Kind: ConstInt, Value: int64(1)}); ok {
		t.Error("int constant is not a string")
	}
	if Line(nil) != 0 {
		t.Error("Line(nil) should be 0")
	}
	if _, ok := Docstring([]Stmt{&Pass{}}); ok {
		t.Error("pass is not a docstring")
	}
}
