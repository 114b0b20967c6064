package codegen

import (
	"strings"

	"github.com/chazu/metal0/pyast"
)

// envSkipDecorators mark tests that depend on the host environment. The
// harness skips them unconditionally.
var envSkipDecorators = map[string]string{
	"requires_network":    "requires network",
	"requires_subprocess": "requires subprocess",
	"requires_resource":   "requires resource",
	"requires_zlib":       "requires zlib",
	"requires_gzip":       "requires gzip",
	"requires_bz2":        "requires bz2",
	"requires_lzma":       "requires lzma",
	"cpython_only":        "CPython only",
	"skipIf":              "conditional skip",
	"skipUnless":          "conditional skip",
	"expectedFailure":     "expected failure",
}

// catalogueTests records the test methods and hooks of a TestCase class.
func (g *Generator) catalogueTests(ci *classInfo) {
	tc := TestClass{Name: ci.name}
	for _, name := range ci.methodOrder {
		m := ci.methods[name]
		switch name {
		case "setUp":
			tc.HasSetUp = true
			continue
		case "tearDown":
			tc.HasTearDown = true
			continue
		case "setUpClass":
			tc.HasSetUpClass = true
			continue
		case "tearDownClass":
			tc.HasTearDownClass = true
			continue
		}
		if !strings.HasPrefix(name, "test") {
			continue
		}
		flags, _, _ := g.ctx.LookupMethod(ci.name, name)
		tm := TestMethod{
			Name:       name,
			Fallible:   flags.Fallible,
			AllocParam: flags.AllocParam,
			SkipReason: skipReason(m),
		}
		for _, d := range m.Decorators {
			if target, ok := patchTarget(d); ok {
				tm.Patches = append(tm.Patches, target)
			}
		}
		tc.Methods = append(tc.Methods, tm)
	}
	g.report.TestClasses = append(g.report.TestClasses, tc)
	log.Debugf("test class %s: %d tests", ci.name, len(tc.Methods))
}

// skipReason derives a skip reason from decorators or from a docstring
// starting with "skip:".
func skipReason(m *pyast.FunctionDef) string {
	for _, d := range m.Decorators {
		callee := d
		var args []pyast.Expr
		if c, ok := d.(*pyast.Call); ok {
			callee, args = c.Func, c.Args
		}
		name, ok := pyast.DottedName(callee)
		if !ok {
			continue
		}
		short := name[strings.LastIndexByte(name, '.')+1:]
		if short == "skip" {
			if len(args) > 0 {
				if s, ok := pyast.StringConst(args[0]); ok {
					return s
				}
			}
			return "skipped"
		}
		if reason, ok := envSkipDecorators[short]; ok {
			return reason
		}
	}
	if doc, ok := pyast.Docstring(m.Body); ok {
		doc = strings.TrimSpace(doc)
		if strings.HasPrefix(strings.ToLower(doc), "skip:") {
			return strings.TrimSpace(doc[len("skip:"):])
		}
	}
	return ""
}

// patchTarget recognizes patch("a.b"), mock.patch(...) and
// patch.object(Obj, "attr").
func patchTarget(d pyast.Expr) (string, bool) {
	c, ok := d.(*pyast.Call)
	if !ok {
		return "", false
	}
	name, ok := pyast.DottedName(c.Func)
	if !ok {
		return "", false
	}
	switch {
	case name == "patch" || strings.HasSuffix(name, ".patch"):
		if len(c.Args) > 0 {
			if s, ok := pyast.StringConst(c.Args[0]); ok {
				return s, true
			}
		}
		return "", true
	case name == "patch.object" || strings.HasSuffix(name, ".patch.object"):
		if len(c.Args) == 2 {
			obj, _ := pyast.DottedName(c.Args[0])
			attr, _ := pyast.StringConst(c.Args[1])
			return obj + "." + attr, true
		}
		return "", true
	}
	return "", false
}
