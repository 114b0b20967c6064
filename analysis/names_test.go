package analysis

import (
	"reflect"
	"testing"

	"github.com/chazu/metal0/pyast"
	pt "github.com/chazu/metal0/pyast/pyasttest"
)

func TestIsNameUsed(t *testing.T) {
	comp := &pyast.ListComp{Elt: pt.N("v"), Generators: []pyast.Comprehension{{Target: pt.N("v"), Iter: pt.N("xs")}}}
	tests := []struct {
		name string
		body []pyast.Stmt
		id   string
		want bool
	}{
		{"plain read", pt.Body(pt.Ret(pt.N("a"))), "a", true},
		{"store only", pt.Body(pt.Assign("a", pt.Int(1))), "a", false},
		{"augmented", pt.Body(pt.AugAssign("a", pyast.Add, pt.Int(1))), "a", true},
		{"attribute base of store", pt.Body(pt.AssignTo(pt.Attr(pt.N("a"), "x"), pt.Int(1))), "a", true},
		{"comprehension target shadows", pt.Body(pt.Ret(comp)), "v", false},
		{"comprehension iterable", pt.Body(pt.Ret(comp)), "xs", true},
		{"nested function read", pt.Body(pt.Def("g", nil, pt.Ret(pt.N("a")))), "a", true},
		{"nested parameter shadows", pt.Body(pt.Def("g", pt.Params("a"), pt.Ret(pt.N("a")))), "a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNameUsed(tt.body, tt.id); got != tt.want {
				t.Errorf("IsNameUsed(%s) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestLocalAndMutatedNames(t *testing.T) {
	body := pt.Body(
		pt.Assign("a", pt.Int(1)),
		pt.Assign("b", pt.Int(2)),
		pt.If(pt.N("c"), pt.Body(pt.Assign("a", pt.Int(3)))),
		pt.For("i", pt.N("xs"), pt.AugAssign("b", pyast.Add, pt.N("i"))),
		pt.Def("helper", nil, pt.Assign("hidden", pt.Int(0))),
		pt.Import("math", ""),
	)

	want := []string{"a", "b", "i", "helper", "math"}
	if got := LocalNames(body); !reflect.DeepEqual(got, want) {
		t.Errorf("LocalNames = %v, want %v", got, want)
	}

	mutated := MutatedNames(body)
	for _, name := range []string{"a", "b", "i"} {
		if !mutated[name] {
			t.Errorf("%s should be mutable", name)
		}
	}
	if mutated["helper"] || mutated["hidden"] || mutated["math"] {
		t.Errorf("unexpected mutable names: %v", mutated)
	}
}
