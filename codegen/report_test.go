package codegen

import (
	"reflect"
	"testing"

	"github.com/chazu/metal0/pyast"
	pt "github.com/chazu/metal0/pyast/pyasttest"
)

func TestReportRoundTrip(t *testing.T) {
	r := &Report{
		BuildID: "0b1c6f7e-8d43-4f3a-9f0e-5c2d9a1b7e11",
		Module:  "main",
		Mode:    "script",
		Functions: []FunctionInfo{
			{Name: "Point.norm", Required: 0, Total: 0},
			{Name: "fetch", Required: 1, Total: 2, AllocParam: true, Fallible: true, VarArg: true},
		},
		Decorators: []DecoratorReg{{Function: "fetch", Decorator: "cache"}},
		TestClasses: []TestClass{{
			Name:     "TestFetch",
			HasSetUp: true,
			Methods: []TestMethod{
				{Name: "test_ok", Fallible: true},
				{Name: "test_env", SkipReason: "requires network", Patches: []string{"os.getenv"}},
			},
		}},
	}
	data, err := r.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeReport(data)
	if err != nil {
		t.Fatalf("DecodeReport: %v", err)
	}
	if !reflect.DeepEqual(got, r) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, r)
	}

	again, err := got.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(again) != string(data) {
		t.Error("canonical encoding is not stable")
	}
}

func TestDecodeReportRejectsGarbage(t *testing.T) {
	if _, err := DecodeReport([]byte{0xff, 0x00}); err == nil {
		t.Error("expected an error")
	}
}

func TestReportCallingConventions(t *testing.T) {
	fetch := pt.Def("fetch", []pyast.Param{pt.P("url"), pt.PD("retries", pt.Int(3)), {Name: "rest", Kind: pyast.ParamVarArg}},
		pt.Ret(pt.List(pt.N("url"))),
	)
	cls := pt.Class("Box", "",
		pt.Def("get", pt.Params("self", "key"), pt.Ret(pt.N("key"))),
	)
	_, rep := generate(t, DefaultOptions(), fetch, cls)

	f, ok := rep.Function("fetch")
	if !ok {
		t.Fatal("fetch missing from report")
	}
	if f.Required != 1 || f.Total != 2 || !f.VarArg {
		t.Errorf("fetch = %+v, want 1 required, 2 total, varargs", f)
	}
	if !f.AllocParam {
		t.Error("fetch builds a list and should take an allocator")
	}

	m, ok := rep.Function("Box.get")
	if !ok {
		t.Fatal("Box.get missing from report")
	}
	if m.Required != 1 || m.Total != 1 {
		t.Errorf("Box.get = %+v, the receiver should not count", m)
	}

	for i := 1; i < len(rep.Functions); i++ {
		if rep.Functions[i-1].Name > rep.Functions[i].Name {
			t.Errorf("functions not sorted: %v", rep.Functions)
		}
	}
}
