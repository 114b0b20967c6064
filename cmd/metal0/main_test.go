package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/metal0/codegen"
)

// def greet(name: str) -> str:
//     def shout(s):
//         return s.upper()
//     return shout(name)
// print(greet("zig"))
const greetAST = `{
  "_type": "Module",
  "body": [
    {"_type": "FunctionDef", "name": "greet", "lineno": 1,
     "args": {"args": [{"arg": "name", "annotation": {"_type": "Name", "id": "str"}}], "defaults": []},
     "decorator_list": [],
     "returns": {"_type": "Name", "id": "str"},
     "body": [
       {"_type": "FunctionDef", "name": "shout", "lineno": 2,
        "args": {"args": [{"arg": "s", "annotation": {"_type": "Name", "id": "str"}}], "defaults": []},
        "decorator_list": [],
        "returns": {"_type": "Name", "id": "str"},
        "body": [{"_type": "Return", "lineno": 3, "value": {"_type": "Call",
          "func": {"_type": "Attribute", "value": {"_type": "Name", "id": "s"}, "attr": "upper"},
          "args": [], "keywords": []}}]},
       {"_type": "Return", "lineno": 4, "value": {"_type": "Call",
         "func": {"_type": "Name", "id": "shout"},
         "args": [{"_type": "Name", "id": "name"}], "keywords": []}}
     ]},
    {"_type": "Expr", "lineno": 5, "value": {"_type": "Call",
      "func": {"_type": "Name", "id": "print"},
      "args": [{"_type": "Call", "func": {"_type": "Name", "id": "greet"},
                "args": [{"_type": "Constant", "value": "zig"}], "keywords": []}],
      "keywords": []}}
  ]
}`

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", p, err)
	}
	return p
}

func TestRunWritesZigAndReport(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "greet.ast.json", greetAST)
	out := filepath.Join(dir, "out")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-o", out, "-report", input}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}

	zig, err := os.ReadFile(filepath.Join(out, "greet.zig"))
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !strings.Contains(string(zig), "fn greet(") {
		t.Errorf("missing greet in output:\n%s", zig)
	}
	if !strings.Contains(string(zig), "pub fn main() !void") {
		t.Errorf("missing entry point in output:\n%s", zig)
	}

	data, err := os.ReadFile(filepath.Join(out, "greet.report.cbor"))
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	rep, err := codegen.DecodeReport(data)
	if err != nil {
		t.Fatalf("DecodeReport: %v", err)
	}
	if rep.Module != "greet" {
		t.Errorf("report module = %q, want greet", rep.Module)
	}
	if _, ok := rep.Function("greet"); !ok {
		t.Error("greet missing from report")
	}
}

func TestRunUsesCache(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "greet.ast.json", greetAST)
	out := filepath.Join(dir, "out")

	for i := 0; i < 2; i++ {
		var stdout, stderr bytes.Buffer
		if code := run([]string{"-o", out, input}, &stdout, &stderr); code != 0 {
			t.Fatalf("run %d: exit code %d, stderr: %s", i, code, stderr.String())
		}
	}
	if _, err := os.Stat(filepath.Join(dir, ".metal0", "cache.db")); err != nil {
		t.Errorf("cache database not created: %v", err)
	}
}

func TestRunNoCache(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "greet.ast.json", greetAST)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-no-cache", "-o", filepath.Join(dir, "out"), input}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(dir, ".metal0")); !os.IsNotExist(err) {
		t.Error("-no-cache should not create the cache directory")
	}
}

func TestRunReadsManifest(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "metal0.toml", "[build]\nmode = \"module\"\noutput = \"gen\"\ncache = false\n")
	input := writeInput(t, dir, "greet.ast.json", greetAST)

	var stdout, stderr bytes.Buffer
	if code := run([]string{input}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	zig, err := os.ReadFile(filepath.Join(dir, "gen", "greet.zig"))
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !strings.Contains(string(zig), "pub fn greet(") {
		t.Errorf("module mode should export greet:\n%s", zig)
	}
	if !strings.Contains(string(zig), "pub fn __module_init(") {
		t.Errorf("module mode should emit an initializer:\n%s", zig)
	}
}

func TestRunDumpAnalysis(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "greet.ast.json", greetAST)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-dump-analysis", input}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	got := stdout.String()
	if !strings.Contains(got, "func greet ") {
		t.Errorf("missing greet entry:\n%s", got)
	}
	if !strings.Contains(got, "closure shout shape=zero") {
		t.Errorf("missing closure shape:\n%s", got)
	}
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	bad := writeInput(t, dir, "bad.ast.json", `{"_type": "Module", "body": [{"_type": "Match"}]}`)

	cases := map[string]struct {
		args []string
		code int
	}{
		"no input":      {nil, 2},
		"unknown flag":  {[]string{"-bogus", bad}, 2},
		"missing file":  {[]string{filepath.Join(dir, "nope.json")}, 1},
		"decode error":  {[]string{"-no-cache", bad}, 1},
		"bad mode flag": {[]string{"-no-cache", "-mode", "shared", bad}, 1},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tc.args, &stdout, &stderr); code != tc.code {
				t.Errorf("exit code %d, want %d (stderr: %s)", code, tc.code, stderr.String())
			}
		})
	}
}

func TestModuleName(t *testing.T) {
	cases := map[string]string{
		"src/app.ast.json": "app",
		"lib.json":         "lib",
		"my-mod.ast.json":  "my_mod",
	}
	for in, want := range cases {
		if got := moduleName(in); got != want {
			t.Errorf("moduleName(%q) = %q, want %q", in, got, want)
		}
	}
}
