package analysis

import (
	"testing"

	"github.com/chazu/metal0/pyast"
	pt "github.com/chazu/metal0/pyast/pyasttest"
)

func TestIsParameterUsedAsFunction(t *testing.T) {
	tests := []struct {
		name string
		body []pyast.Stmt
		want bool
	}{
		{"returned verbatim", pt.Body(pt.Ret(pt.N("f"))), true},
		{"called", pt.Body(pt.Expr(pt.CallN("f", pt.Int(1))), pt.Ret(pt.Int(0))), true},
		{"called in nested wrapper", pt.Body(
			pt.Def("wrapper", pt.Params("x"), pt.Ret(pt.CallN("f", pt.N("x")))),
			pt.Ret(pt.N("wrapper")),
		), true},
		{"passed along", pt.Body(pt.Ret(pt.CallN("g", pt.N("f")))), false},
		{"arithmetic", pt.Body(pt.Ret(pt.Bin(pt.N("f"), pyast.Add, pt.Int(1)))), false},
		{"shadowed by nested parameter", pt.Body(pt.Def("g", pt.Params("f"), pt.Ret(pt.CallN("f")))), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsParameterUsedAsFunction(tt.body, "f"); got != tt.want {
				t.Errorf("IsParameterUsedAsFunction = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsParameterUsedAsIterator(t *testing.T) {
	comp := &pyast.ListComp{Elt: pt.N("x"), Generators: []pyast.Comprehension{{Target: pt.N("x"), Iter: pt.N("xs")}}}
	tests := []struct {
		name string
		body []pyast.Stmt
		want bool
	}{
		{"for loop", pt.Body(pt.For("x", pt.N("xs"), &pyast.Pass{})), true},
		{"enumerate", pt.Body(pt.For("x", pt.CallN("enumerate", pt.N("xs")), &pyast.Pass{})), true},
		{"comprehension", pt.Body(pt.Ret(comp)), true},
		{"len only", pt.Body(pt.Ret(pt.CallN("len", pt.N("xs")))), false},
		{"range over len", pt.Body(pt.For("i", pt.CallN("range", pt.CallN("len", pt.N("xs"))), &pyast.Pass{})), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsParameterUsedAsIterator(tt.body, "xs"); got != tt.want {
				t.Errorf("IsParameterUsedAsIterator = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsParameterUsedInNestedFunction(t *testing.T) {
	uses := pt.Body(pt.Def("g", nil, pt.Ret(pt.N("n"))), pt.Ret(pt.CallN("g")))
	if !IsParameterUsedInNestedFunction(uses, "n") {
		t.Errorf("nested read of n: got false")
	}
	lambda := pt.Body(pt.Ret(pt.Lambda(pt.Params("y"), pt.Bin(pt.N("n"), pyast.Add, pt.N("y")))))
	if !IsParameterUsedInNestedFunction(lambda, "n") {
		t.Errorf("lambda read of n: got false")
	}
	direct := pt.Body(pt.Ret(pt.N("n")))
	if IsParameterUsedInNestedFunction(direct, "n") {
		t.Errorf("direct read of n counted as nested use")
	}
	shadow := pt.Body(pt.Def("g", pt.Params("n"), pt.Ret(pt.N("n"))))
	if IsParameterUsedInNestedFunction(shadow, "n") {
		t.Errorf("shadowing parameter counted as nested use")
	}
}

func TestUnusedAndReassignedParams(t *testing.T) {
	params := pt.Params("a", "b", "c")
	body := pt.Body(
		pt.AugAssign("a", pyast.Add, pt.Int(1)),
		pt.Ret(pt.N("a")),
	)
	unused := UnusedParams(params, body)
	if unused["a"] || !unused["b"] || !unused["c"] {
		t.Errorf("UnusedParams = %v, want b and c", unused)
	}
	reassigned := ReassignedParams(params, body)
	if !reassigned["a"] || reassigned["b"] {
		t.Errorf("ReassignedParams = %v, want only a", reassigned)
	}
}
