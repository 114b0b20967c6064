package codegen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/metal0/pyast"
)

// superPrefix names the copy of an overridden parent method that
// super().method() calls.
const superPrefix = "__super_"

// complexParent is a library base class backed by runtime containers.
// Instances carry the parent's fields and a fixed set of methods expand
// inline from templates instead of being dispatched.
type complexParent struct {
	fields    []complexField
	templates map[string]complexMethod
}

type complexField struct {
	name string
	zig  string
	init string // initializer; {alloc} is the constructor's allocator
}

// complexMethod is a substitution template: {self} is the receiver, {0}
// and up are the arguments, {alloc} is the visible allocator.
type complexMethod struct {
	text     string
	fallible bool
}

var complexParents = map[string]*complexParent{
	"list": {
		fields: []complexField{{name: "items", zig: "runtime.List(i64)", init: "runtime.List(i64).init({alloc})"}},
		templates: map[string]complexMethod{
			"__getitem__":  {text: "{self}.items.items[@intCast({0})]"},
			"__setitem__":  {text: "{self}.items.items[@intCast({0})] = {1}"},
			"__len__":      {text: "@as(i64, @intCast({self}.items.items.len))"},
			"__contains__": {text: "runtime.contains({self}.items, {0})"},
			"append":       {text: "{self}.items.append({alloc}, {0})", fallible: true},
			"extend":       {text: "{self}.items.extend({alloc}, {0})", fallible: true},
			"pop":          {text: "runtime.pop(&{self}.items)"},
		},
	},
	"dict": {
		fields: []complexField{{name: "entries", zig: "runtime.Dict([]const u8, i64)", init: "runtime.Dict([]const u8, i64).init({alloc})"}},
		templates: map[string]complexMethod{
			"__getitem__":  {text: "runtime.getItem({self}.entries, {0})"},
			"__setitem__":  {text: "{self}.entries.put({alloc}, {0}, {1})", fallible: true},
			"__len__":      {text: "runtime.len({self}.entries)"},
			"__contains__": {text: "runtime.contains({self}.entries, {0})"},
			"get":          {text: "runtime.get({self}.entries, {0})"},
			"keys":         {text: "runtime.keys({self}.entries)"},
		},
	},
}

// template is a bound substitution ready to apply.
type template struct {
	g      *Generator
	method complexMethod
}

// apply substitutes the receiver and arguments. Fallible templates
// propagate through the enclosing try context.
func (t template) apply(args ...string) string {
	var pairs []string
	if strings.Contains(t.method.text, "{alloc}") {
		pairs = append(pairs, "{alloc}", t.g.allocExpr())
	}
	if len(args) > 0 {
		pairs = append(pairs, "{self}", args[0])
		for i, a := range args[1:] {
			pairs = append(pairs, fmt.Sprintf("{%d}", i), a)
		}
	}
	text := strings.NewReplacer(pairs...).Replace(t.method.text)
	if t.method.fallible {
		return t.g.try(text)
	}
	return text
}

// complexMethod returns the template for method when the class inherits
// it from a complex parent and does not override it.
func (ci *classInfo) complexMethod(method string) (template, bool) {
	if ci == nil || ci.complex == nil || ci.methods[method] != nil {
		return template{}, false
	}
	m, ok := ci.complex.templates[method]
	return template{method: m}, ok
}

// complexTemplate resolves method on the class of recv. User-defined
// dunder methods of the class are called directly.
func (g *Generator) complexTemplate(recv pyast.Expr, method string) (template, bool) {
	ci := g.classOf(recv)
	if ci == nil {
		return template{}, false
	}
	if tpl, ok := ci.complexMethod(method); ok {
		tpl.g = g
		return tpl, true
	}
	if ci.methods[method] == nil || !strings.HasPrefix(method, "__") {
		return template{}, false
	}
	flags, _, _ := g.ctx.LookupMethod(ci.name, method)
	var text string
	switch method {
	case "__setitem__":
		text = "{self}.__setitem__(%s{0}, {1})"
	case "__len__":
		text = "{self}.__len__(%s)"
	default:
		text = "{self}." + method + "(%s{0})"
	}
	alloc := ""
	if flags.AllocParam {
		alloc = "{alloc}"
		if method != "__len__" {
			alloc += ", "
		}
	}
	return template{g: g, method: complexMethod{text: fmt.Sprintf(text, alloc), fallible: flags.Fallible}}, true
}

// genSuperMethods emits a copy of each overridden parent method reached
// through super(). Copies may reach further parent methods, so the set is
// drained until no new entry appears.
func (g *Generator) genSuperMethods(ci *classInfo) {
	done := make(map[string]bool)
	for {
		var pending []string
		for name := range ci.superCalls {
			if !done[name] {
				pending = append(pending, name)
			}
		}
		if len(pending) == 0 || g.failed() {
			return
		}
		sort.Strings(pending)
		for _, name := range pending {
			done[name] = true
			m := ci.parent.method(name)
			if m == nil {
				g.errorAt(ci.def, "super().%s: %s has no such method", name, ci.parent.name)
				return
			}
			g.b.Blank()
			g.genMethod(ci, m, superPrefix+name, ci.parent.owners[name])
		}
	}
}
