package codegen

import (
	"reflect"
	"testing"
)

func TestBuilderIndentation(t *testing.T) {
	b := NewBuilder(0)
	b.Open("fn f() void")
	b.Linef("const x = %d;", 1)
	b.Open("if (x > 0)")
	b.Line("return;")
	b.Reopen("else")
	b.Line("unreachable;")
	b.Close("")
	b.Close("")

	want := "fn f() void {\n" +
		"    const x = 1;\n" +
		"    if (x > 0) {\n" +
		"        return;\n" +
		"    } else {\n" +
		"        unreachable;\n" +
		"    }\n" +
		"}\n"
	if got := b.String(); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestBuilderLinesOut(t *testing.T) {
	b := NewBuilder(1)
	b.Line("a;")
	b.Open("b")
	b.Line("c;")
	b.Close(";")

	want := []string{"a;", "b {", "    c;", "};"}
	if got := b.LinesOut(1); !reflect.DeepEqual(got, want) {
		t.Errorf("LinesOut = %q, want %q", got, want)
	}
	if got := NewBuilder(0).LinesOut(0); got != nil {
		t.Errorf("empty builder LinesOut = %q, want nil", got)
	}
}

func TestBuilderLiteralPercent(t *testing.T) {
	b := NewBuilder(0)
	b.Line("x % y")
	if got := b.String(); got != "x % y\n" {
		t.Errorf("got %q", got)
	}
}

func TestIdent(t *testing.T) {
	cases := map[string]string{
		"count":  "count",
		"type":   `@"type"`,
		"error":  `@"error"`,
		"a-b":    "a_b",
		"1st":    "_1st",
		"__init": "__init",
	}
	for in, want := range cases {
		if got := Ident(in); got != want {
			t.Errorf("Ident(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStringLiteral(t *testing.T) {
	cases := map[string]string{
		"hi":       `"hi"`,
		`say "x"`:  `"say \"x\""`,
		"a\nb":     `"a\nb"`,
		`c:\dir`:   `"c:\\dir"`,
		"\x01":     `"\x01"`,
	}
	for in, want := range cases {
		if got := StringLiteral(in); got != want {
			t.Errorf("StringLiteral(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestFormatEscape(t *testing.T) {
	if got := formatEscape("{x}"); got != "{{x}}" {
		t.Errorf("formatEscape = %q", got)
	}
}
