package analysis

import "github.com/chazu/metal0/pyast"

// TestAssertionMethods are test-framework methods dispatched to the runtime
// test harness. Calling them through self does not use the receiver.
var TestAssertionMethods = map[string]bool{
	"assertEqual":          true,
	"assertNotEqual":       true,
	"assertTrue":           true,
	"assertFalse":          true,
	"assertIs":             true,
	"assertIsNot":          true,
	"assertIsNone":         true,
	"assertIsNotNone":      true,
	"assertIn":             true,
	"assertNotIn":          true,
	"assertIsInstance":     true,
	"assertNotIsInstance":  true,
	"assertRaises":         true,
	"assertRaisesRegex":    true,
	"assertAlmostEqual":    true,
	"assertNotAlmostEqual": true,
	"assertGreater":        true,
	"assertGreaterEqual":   true,
	"assertLess":           true,
	"assertLessEqual":      true,
	"assertRegex":          true,
	"assertNotRegex":       true,
	"assertCountEqual":     true,
	"assertListEqual":      true,
	"assertDictEqual":      true,
	"assertSetEqual":       true,
	"assertTupleEqual":     true,
	"assertSequenceEqual":  true,
	"assertMultiLineEqual": true,
	"subTest":              true,
	"fail":                 true,
	"skipTest":             true,
}

// UsesSelf reports whether body references the receiver. Test assertion
// calls through self do not count, though their arguments are scanned.
// super() counts because it lowers to Parent.method(self, ...). Nested
// functions and lambdas that capture self count.
func UsesSelf(body []pyast.Stmt) bool {
	return UsesName(body, "self")
}

// UsesName is UsesSelf for an arbitrary receiver name.
func UsesName(body []pyast.Stmt, name string) bool {
	used := false
	var visit func(n pyast.Node) bool
	visit = func(n pyast.Node) bool {
		if used {
			return false
		}
		switch x := n.(type) {
		case *pyast.Name:
			if x.ID == name {
				used = true
			}
		case *pyast.Call:
			if pyast.IsSuperCall(x) {
				used = true
				return false
			}
			if attr, ok := x.Func.(*pyast.Attribute); ok && pyast.IsName(attr.Value, name) && TestAssertionMethods[attr.Attr] {
				for _, a := range x.Args {
					pyast.Inspect(a, visit)
				}
				for _, kw := range x.Keywords {
					pyast.Inspect(kw.Value, visit)
				}
				return false
			}
		case *pyast.FunctionDef:
			if shadows(x.Params, name) {
				return false
			}
		case *pyast.Lambda:
			if shadows(x.Params, name) {
				return false
			}
		}
		return true
	}
	pyast.InspectStmts(body, visit)
	return used
}

func shadows(params []pyast.Param, name string) bool {
	for _, p := range params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// MutatesSelf reports whether body assigns to a receiver field, either
// directly (`self.x = ...`, `self.x += ...`) or through a subscript of a
// field (`self.items[i] = ...`).
func MutatesSelf(body []pyast.Stmt) bool {
	mutates := false
	pyast.InspectStmts(body, func(n pyast.Node) bool {
		if mutates {
			return false
		}
		switch x := n.(type) {
		case *pyast.Assign:
			for _, t := range x.Targets {
				if isSelfTarget(t) {
					mutates = true
				}
			}
		case *pyast.AugAssign:
			mutates = mutates || isSelfTarget(x.Target)
		case *pyast.AnnAssign:
			mutates = mutates || isSelfTarget(x.Target)
		case *pyast.Call:
			// Mutating container methods on a field.
			if attr, ok := x.Func.(*pyast.Attribute); ok && mutatingMethods[attr.Attr] {
				if inner, ok := attr.Value.(*pyast.Attribute); ok && pyast.IsName(inner.Value, "self") {
					mutates = true
				}
			}
		case *pyast.FunctionDef, *pyast.Lambda, *pyast.ClassDef:
			return false
		}
		return true
	})
	return mutates
}

var mutatingMethods = map[string]bool{
	"append": true, "extend": true, "pop": true, "insert": true,
	"remove": true, "clear": true, "add": true, "discard": true,
	"update": true, "setdefault": true, "sort": true, "reverse": true,
}

func isSelfTarget(t pyast.Expr) bool {
	switch x := t.(type) {
	case *pyast.Attribute:
		return pyast.IsName(x.Value, "self")
	case *pyast.Subscript:
		if attr, ok := x.Value.(*pyast.Attribute); ok {
			return pyast.IsName(attr.Value, "self")
		}
	case *pyast.Tuple:
		for _, el := range x.Elts {
			if isSelfTarget(el) {
				return true
			}
		}
	}
	return false
}

// SelfFields returns the `self.attr = value` assignments in a constructor
// body in source order, first assignment per attribute.
func SelfFields(body []pyast.Stmt) []SelfField {
	var out []SelfField
	seen := make(map[string]bool)
	add := func(t pyast.Expr, value pyast.Expr, ann pyast.Expr) {
		attr, ok := t.(*pyast.Attribute)
		if !ok || !pyast.IsName(attr.Value, "self") || seen[attr.Attr] {
			return
		}
		seen[attr.Attr] = true
		out = append(out, SelfField{Name: attr.Attr, Value: value, Annotation: ann})
	}
	pyast.InspectStmts(body, func(n pyast.Node) bool {
		switch x := n.(type) {
		case *pyast.Assign:
			for _, t := range x.Targets {
				add(t, x.Value, nil)
			}
		case *pyast.AnnAssign:
			add(x.Target, x.Value, x.Annotation)
		case *pyast.FunctionDef, *pyast.Lambda, *pyast.ClassDef:
			return false
		}
		return true
	})
	return out
}

// SelfField is one instance attribute found in a constructor.
type SelfField struct {
	Name       string
	Value      pyast.Expr
	Annotation pyast.Expr
}
