package analysis

import (
	"testing"

	"github.com/chazu/metal0/pyast"
	pt "github.com/chazu/metal0/pyast/pyasttest"
)

func escapedNames(vars []EscapedVar) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.Name
	}
	return out
}

func TestAnalyzeScopesIfAssignment(t *testing.T) {
	// x = 1
	// if cond:
	//     y = 2
	// return y
	body := pt.Body(
		pt.Assign("x", pt.Int(1)),
		pt.If(pt.N("cond"), pt.Body(pt.Assign("y", pt.Int(2)))),
		pt.Ret(pt.N("y")),
	)
	vars := AnalyzeScopes(body)
	if len(vars) != 1 || vars[0].Name != "y" {
		t.Fatalf("AnalyzeScopes = %v, want [y]", escapedNames(vars))
	}
	if vars[0].Source != EscapeIf {
		t.Errorf("source = %s, want %s", vars[0].Source, EscapeIf)
	}
	if c, ok := vars[0].Init.(*pyast.Constant); !ok || c.Value.(int64) != 2 {
		t.Errorf("init = %#v, want constant 2", vars[0].Init)
	}
	if IsEscapeHoisted(vars, "x") {
		t.Errorf("x was hoisted")
	}
}

func TestAnalyzeScopesSources(t *testing.T) {
	tests := []struct {
		name   string
		body   []pyast.Stmt
		want   string
		source EscapeSource
	}{
		{
			name: "for target",
			body: pt.Body(
				pt.For("item", pt.N("items"), &pyast.Pass{}),
				pt.Ret(pt.N("item")),
			),
			want:   "item",
			source: EscapeFor,
		},
		{
			name: "for body",
			body: pt.Body(
				pt.For("i", pt.CallN("range", pt.Int(3)), pt.Assign("last", pt.N("i"))),
				pt.Ret(pt.N("last")),
			),
			want:   "last",
			source: EscapeFor,
		},
		{
			name: "while body",
			body: pt.Body(
				pt.While(pt.N("go"), pt.Assign("seen", pt.Bool(true))),
				pt.Ret(pt.N("seen")),
			),
			want:   "seen",
			source: EscapeWhile,
		},
		{
			name: "with binding",
			body: pt.Body(
				pt.With(pt.CallN("open", pt.Str("p")), "f", &pyast.Pass{}),
				pt.Ret(pt.N("f")),
			),
			want:   "f",
			source: EscapeWith,
		},
		{
			name: "try body",
			body: pt.Body(
				pt.Try(pt.Body(pt.Assign("v", pt.CallN("int", pt.N("s")))), pt.Except("ValueError", "", pt.Assign("v", pt.Int(0)))),
				pt.Ret(pt.N("v")),
			),
			want:   "v",
			source: EscapeTry,
		},
		{
			name: "except binding",
			body: pt.Body(
				pt.Try(pt.Body(&pyast.Pass{}), pt.Except("ValueError", "err", &pyast.Pass{})),
				pt.Ret(pt.N("err")),
			),
			want:   "err",
			source: EscapeTry,
		},
		{
			name: "if nested in for uses innermost construct",
			body: pt.Body(
				pt.For("x", pt.N("xs"), pt.If(pt.N("x"), pt.Body(pt.Assign("hit", pt.N("x"))))),
				pt.Ret(pt.N("hit")),
			),
			want:   "hit",
			source: EscapeIf,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := AnalyzeScopes(tt.body)
			if len(vars) != 1 {
				t.Fatalf("AnalyzeScopes = %v, want [%s]", escapedNames(vars), tt.want)
			}
			if vars[0].Name != tt.want || vars[0].Source != tt.source {
				t.Errorf("got %s/%s, want %s/%s", vars[0].Name, vars[0].Source, tt.want, tt.source)
			}
		})
	}
}

func TestAnalyzeScopesNotHoisted(t *testing.T) {
	tests := []struct {
		name string
		body []pyast.Stmt
	}{
		{
			name: "used only inside block",
			body: pt.Body(
				pt.If(pt.N("c"), pt.Body(pt.Assign("y", pt.Int(1)), pt.Ret(pt.N("y")))),
				pt.Ret(pt.Int(0)),
			),
		},
		{
			name: "declared before block",
			body: pt.Body(
				pt.Assign("y", pt.Int(0)),
				pt.If(pt.N("c"), pt.Body(pt.Assign("y", pt.Int(1)))),
				pt.Ret(pt.N("y")),
			),
		},
		{
			name: "never read",
			body: pt.Body(
				pt.If(pt.N("c"), pt.Body(pt.Assign("y", pt.Int(1)))),
			),
		},
		{
			name: "read before block only",
			body: pt.Body(
				pt.Expr(pt.CallN("print", pt.N("y"))),
				pt.If(pt.N("c"), pt.Body(pt.Assign("y", pt.Int(1)))),
			),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if vars := AnalyzeScopes(tt.body); len(vars) != 0 {
				t.Errorf("AnalyzeScopes = %v, want none", escapedNames(vars))
			}
		})
	}
}

func TestAnalyzeScopesBothBranches(t *testing.T) {
	body := pt.Body(
		pt.If(pt.N("c"),
			pt.Body(pt.Assign("y", pt.Int(1))),
			pt.Assign("y", pt.Float(2.5)),
		),
		pt.If(pt.N("d"), pt.Body(pt.Assign("y", pt.Int(3)))),
		pt.Ret(pt.N("y")),
	)
	vars := AnalyzeScopes(body)
	if len(vars) != 1 {
		t.Fatalf("y must be hoisted exactly once, got %v", escapedNames(vars))
	}
	if c := vars[0].Init.(*pyast.Constant); c.Kind != pyast.ConstInt {
		t.Errorf("first declaration should win, got kind %v", c.Kind)
	}
	if len(vars[0].Alternatives) != 2 {
		t.Errorf("alternatives = %d, want 2", len(vars[0].Alternatives))
	}
}

func TestAnalyzeScopesLaterBlockUse(t *testing.T) {
	// A read inside a later block still happens after the declaring block
	// has closed.
	body := pt.Body(
		pt.If(pt.N("c"), pt.Body(pt.Assign("y", pt.Int(1)))),
		pt.For("i", pt.N("xs"), pt.Expr(pt.CallN("print", pt.N("y")))),
	)
	vars := AnalyzeScopes(body)
	if !IsEscapeHoisted(vars, "y") {
		t.Errorf("y read in a later loop was not hoisted: %v", escapedNames(vars))
	}
}

func TestAnalyzeScopesTupleTarget(t *testing.T) {
	body := pt.Body(
		pt.If(pt.N("c"), pt.Body(&pyast.Assign{
			Targets: []pyast.Expr{&pyast.Tuple{Elts: []pyast.Expr{pt.N("a"), pt.N("b")}}},
			Value:   pt.N("pair"),
		})),
		pt.Ret(pt.Bin(pt.N("a"), pyast.Add, pt.N("b"))),
	)
	vars := AnalyzeScopes(body)
	if len(vars) != 2 {
		t.Fatalf("AnalyzeScopes = %v, want [a b]", escapedNames(vars))
	}
	for _, v := range vars {
		if v.Init != nil {
			t.Errorf("%s: unpacked target should have no single initializer", v.Name)
		}
	}
}
