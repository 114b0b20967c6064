package codegen

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/metal0/analysis"
	"github.com/chazu/metal0/pyast"
)

// Report is the side output of one generation run: the calling convention
// of every emitted function, decorator registrations for entry-point
// synthesis, and the unittest catalogue for the test-harness driver.
type Report struct {
	BuildID     string         `cbor:"1,keyasint"`
	Module      string         `cbor:"2,keyasint"`
	Mode        string         `cbor:"3,keyasint"` // "script" or "module"
	Functions   []FunctionInfo `cbor:"4,keyasint,omitempty"`
	Decorators  []DecoratorReg `cbor:"5,keyasint,omitempty"`
	TestClasses []TestClass    `cbor:"6,keyasint,omitempty"`
}

// FunctionInfo is the calling convention of one function or method.
type FunctionInfo struct {
	Name       string `cbor:"1,keyasint"` // qualified: Class.method for methods
	Required   int    `cbor:"2,keyasint"`
	Total      int    `cbor:"3,keyasint"`
	AllocParam bool   `cbor:"4,keyasint,omitempty"`
	Fallible   bool   `cbor:"5,keyasint,omitempty"`
	Async      bool   `cbor:"6,keyasint,omitempty"`
	VarArg     bool   `cbor:"7,keyasint,omitempty"`
	KwArg      bool   `cbor:"8,keyasint,omitempty"`
}

// DecoratorReg records a decorator applied to a function or class.
type DecoratorReg struct {
	Function  string `cbor:"1,keyasint"`
	Decorator string `cbor:"2,keyasint"`
}

// TestClass catalogues one unittest.TestCase subclass.
type TestClass struct {
	Name             string       `cbor:"1,keyasint"`
	Methods          []TestMethod `cbor:"2,keyasint,omitempty"`
	HasSetUp         bool         `cbor:"3,keyasint,omitempty"`
	HasTearDown      bool         `cbor:"4,keyasint,omitempty"`
	HasSetUpClass    bool         `cbor:"5,keyasint,omitempty"`
	HasTearDownClass bool         `cbor:"6,keyasint,omitempty"`
}

// TestMethod is one test_* method. Patches lists the mock.patch targets,
// each adding one synthetic parameter at the call site.
type TestMethod struct {
	Name       string   `cbor:"1,keyasint"`
	Fallible   bool     `cbor:"2,keyasint,omitempty"`
	AllocParam bool     `cbor:"3,keyasint,omitempty"`
	SkipReason string   `cbor:"4,keyasint,omitempty"`
	Patches    []string `cbor:"5,keyasint,omitempty"`
}

var reportEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codegen: failed to create CBOR enc mode: %v", err))
	}
	reportEncMode = em
}

// Encode serializes the report to canonical CBOR.
func (r *Report) Encode() ([]byte, error) {
	return reportEncMode.Marshal(r)
}

// DecodeReport deserializes a report written by Encode.
func DecodeReport(data []byte) (*Report, error) {
	var r Report
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("codegen: unmarshal report: %w", err)
	}
	return &r, nil
}

// Function returns the entry for a qualified name.
func (r *Report) Function(name string) (FunctionInfo, bool) {
	for _, f := range r.Functions {
		if f.Name == name {
			return f, true
		}
	}
	return FunctionInfo{}, false
}

// addFunction records fn's calling convention under name.
func (r *Report) addFunction(name string, fn *pyast.FunctionDef, flags analysis.FuncFlags, st *State) {
	required, total := describeParams(fn.Params)
	if _, isMethod := st.classes[classPart(name)]; isMethod && len(fn.Params) > 0 && !isStatic(fn) {
		// The receiver is not passed positionally.
		required--
		total--
	}
	info := FunctionInfo{
		Name:       name,
		Required:   required,
		Total:      total,
		AllocParam: flags.AllocParam,
		Fallible:   flags.Fallible,
		Async:      fn.IsAsync,
	}
	for _, p := range fn.Params {
		switch p.Kind {
		case pyast.ParamVarArg:
			info.VarArg = true
		case pyast.ParamKwArg:
			info.KwArg = true
		}
	}
	r.Functions = append(r.Functions, info)
}

// sort orders every list by name so reports of equal inputs are equal.
func (r *Report) sort() {
	sort.SliceStable(r.Functions, func(i, j int) bool { return r.Functions[i].Name < r.Functions[j].Name })
	sort.SliceStable(r.TestClasses, func(i, j int) bool { return r.TestClasses[i].Name < r.TestClasses[j].Name })
}

func classPart(qualified string) string {
	for i := len(qualified) - 1; i >= 0; i-- {
		if qualified[i] == '.' {
			return qualified[:i]
		}
	}
	return ""
}
