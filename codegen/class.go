package codegen

import (
	"fmt"
	"strings"

	"github.com/chazu/metal0/analysis"
	"github.com/chazu/metal0/pyast"
	"github.com/chazu/metal0/types"
)

// fieldInfo is one instance field of a generated struct.
type fieldInfo struct {
	name string
	typ  types.Type
	zig  string
	def  string // default value for class-level attributes
}

// classInfo is the registry entry of one user class. Entries are created
// for every class before any class body is generated.
type classInfo struct {
	def      *pyast.ClassDef
	name     string
	emitted  string // type expression naming the struct outside its body
	selfType string // type expression naming the struct inside its methods
	outer    string

	parentName  string
	parent      *classInfo
	builtinBase string
	complex     *complexParent
	isTest      bool

	fields     []*fieldInfo
	fieldIndex map[string]*fieldInfo

	// methods holds own and inherited methods; owners maps each to the
	// class that defines it.
	methods     map[string]*pyast.FunctionDef
	methodOrder []string
	owners      map[string]string
	own         map[string]bool
	properties  map[string]bool
	mutating    map[string]bool
	mutable     bool
	superCalls  map[string]bool
	nested      []*pyast.ClassDef

	resolving bool
	resolved  bool
}

func (ci *classInfo) field(name string) (*fieldInfo, bool) {
	f, ok := ci.fieldIndex[name]
	return f, ok
}

func (ci *classInfo) method(name string) *pyast.FunctionDef {
	if ci == nil {
		return nil
	}
	return ci.methods[name]
}

// overrides reports whether the class defines name itself.
func (ci *classInfo) overrides(name string) bool { return ci.own[name] }

// methodMutates reports whether calling name needs a mutable receiver.
func (ci *classInfo) methodMutates(name string) bool { return ci.mutating[name] }

// initParams returns the constructor parameters after the receiver.
func (ci *classInfo) initParams() []pyast.Param {
	if m := ci.methods["__init__"]; m != nil {
		if len(m.Params) > 0 {
			return m.Params[1:]
		}
		return nil
	}
	if b, ok := builtinBases[ci.builtinBase]; ok {
		return []pyast.Param{{Name: "value", Annotation: &pyast.Name{ID: ci.builtinBase}, Default: b.def}}
	}
	return nil
}

func (ci *classInfo) addField(f *fieldInfo) {
	if _, ok := ci.fieldIndex[f.name]; ok {
		return
	}
	ci.fields = append(ci.fields, f)
	ci.fieldIndex[f.name] = f
}

// builtinBase describes a primitive base class: the hidden value field
// type and the constructor default.
type builtinBaseInfo struct {
	zig string
	def pyast.Expr
}

var builtinBases = map[string]builtinBaseInfo{
	"int":   {zig: "i64", def: &pyast.Constant{Kind: pyast.ConstInt, Value: int64(0)}},
	"float": {zig: "f64", def: &pyast.Constant{Kind: pyast.ConstFloat, Value: float64(0)}},
	"str":   {zig: "[]const u8", def: &pyast.Constant{Kind: pyast.ConstStr, Value: ""}},
	"bool":  {zig: "bool", def: &pyast.Constant{Kind: pyast.ConstBool, Value: false}},
}

var testBases = map[string]bool{
	"unittest.TestCase": true,
	"TestCase":          true,
}

// registerClass adds x and the classes nested in its body to the registry.
func (g *Generator) registerClass(x *pyast.ClassDef, outer string) *classInfo {
	ci := &classInfo{
		def:        x,
		name:       x.Name,
		emitted:    Ident(x.Name),
		selfType:   Ident(x.Name),
		outer:      outer,
		fieldIndex: make(map[string]*fieldInfo),
		methods:    make(map[string]*pyast.FunctionDef),
		owners:     make(map[string]string),
		own:        make(map[string]bool),
		properties: make(map[string]bool),
		mutating:   make(map[string]bool),
		superCalls: make(map[string]bool),
	}
	if outer != "" {
		if oc, ok := g.st.classes[outer]; ok {
			ci.emitted = oc.emitted + "." + Ident(x.Name)
		}
	}
	if len(x.Bases) > 0 {
		ci.parentName, _ = pyast.DottedName(x.Bases[0])
	}
	for _, st := range x.Body {
		switch m := st.(type) {
		case *pyast.FunctionDef:
			if _, dup := ci.methods[m.Name]; !dup {
				ci.methodOrder = append(ci.methodOrder, m.Name)
			}
			ci.methods[m.Name] = m
			ci.owners[m.Name] = x.Name
			ci.own[m.Name] = true
			if hasDecorator(m, "property") {
				ci.properties[m.Name] = true
			}
			if m.Returns != nil {
				g.st.returnTypes[x.Name+"."+m.Name] = types.FromAnnotation(m.Returns, g.IsClass)
			}
		case *pyast.ClassDef:
			ci.nested = append(ci.nested, m)
		}
	}
	g.st.classes[x.Name] = ci
	for _, n := range ci.nested {
		g.registerClass(n, x.Name)
	}
	return ci
}

// resolveClass links ci to its base, inherits parent methods by
// duplication and extracts the instance fields. Parents resolve first.
func (g *Generator) resolveClass(ci *classInfo) {
	if ci.resolved || ci.resolving {
		return
	}
	ci.resolving = true
	defer func() { ci.resolving = false; ci.resolved = true }()

	switch base := ci.parentName; {
	case base == "":
	case testBases[base]:
		ci.isTest = true
	case g.st.classes[base] != nil && base != ci.name:
		ci.parent = g.st.classes[base]
		g.resolveClass(ci.parent)
	case builtinBases[base].zig != "":
		ci.builtinBase = base
	case complexParents[base] != nil:
		ci.complex = complexParents[base]
	}

	if p := ci.parent; p != nil {
		for _, f := range p.fields {
			cp := *f
			ci.addField(&cp)
		}
		for _, name := range p.methodOrder {
			if ci.own[name] {
				continue
			}
			ci.methods[name] = p.methods[name]
			ci.owners[name] = p.owners[name]
			ci.methodOrder = append(ci.methodOrder, name)
			if p.properties[name] {
				ci.properties[name] = true
			}
		}
		if ci.builtinBase == "" {
			ci.builtinBase = p.builtinBase
		}
		if ci.complex == nil {
			ci.complex = p.complex
		}
	}
	if ci.complex != nil {
		for _, f := range ci.complex.fields {
			ci.addField(&fieldInfo{name: f.name, zig: f.zig})
		}
	}
	if b, ok := builtinBases[ci.builtinBase]; ok {
		ci.addField(&fieldInfo{name: "__base_value", typ: g.infer(b.def), zig: b.zig})
	}

	// Class-level attributes become fields with defaults.
	for _, st := range ci.def.Body {
		switch x := st.(type) {
		case *pyast.AnnAssign:
			if name, ok := pyast.NameID(x.Target); ok {
				t := types.FromAnnotation(x.Annotation, g.IsClass)
				f := &fieldInfo{name: name, typ: t, zig: g.zigType(t)}
				if c, ok := x.Value.(*pyast.Constant); ok {
					f.def = g.genConstant(c)
				}
				ci.addField(f)
			}
		case *pyast.Assign:
			if len(x.Targets) != 1 {
				continue
			}
			name, ok := pyast.NameID(x.Targets[0])
			c, isConst := x.Value.(*pyast.Constant)
			if !ok || !isConst || c.Kind == pyast.ConstNone {
				continue
			}
			t := types.FromConstant(c)
			ci.addField(&fieldInfo{name: name, typ: t, zig: g.zigType(t), def: g.genConstant(c)})
		}
	}

	// Constructor fields first, then fields first assigned elsewhere.
	var initParams []pyast.Param
	if m := ci.methods["__init__"]; m != nil {
		initParams = m.Params
	}
	order := append([]string{"__init__"}, ci.methodOrder...)
	for _, name := range order {
		m := ci.methods[name]
		if m == nil || (name == "__init__" && ci.owners[name] != ci.name && ci.parent != nil) {
			continue
		}
		for _, sf := range analysis.SelfFields(m.Body) {
			t := g.fieldType(sf, initParams)
			ci.addField(&fieldInfo{name: sf.Name, typ: t, zig: g.zigType(t)})
		}
	}
	log.Debugf("class %s: base %q, %d fields, %d methods", ci.name, ci.parentName, len(ci.fields), len(ci.methods))
}

// fieldType types a `self.attr = value` field: a same-named constructor
// parameter's annotation, then the inferred value type, then the default.
func (g *Generator) fieldType(sf analysis.SelfField, params []pyast.Param) types.Type {
	if sf.Annotation != nil {
		return types.FromAnnotation(sf.Annotation, g.IsClass)
	}
	for _, p := range params {
		if p.Name != sf.Name {
			continue
		}
		if p.Annotation != nil {
			return types.FromAnnotation(p.Annotation, g.IsClass)
		}
		if p.Default != nil {
			if t := g.infer(p.Default); !t.IsUnknown() && t.Kind != types.None {
				return t
			}
		}
	}
	if id, ok := pyast.NameID(sf.Value); ok {
		for _, p := range params {
			if p.Name == id && p.Annotation != nil {
				return types.FromAnnotation(p.Annotation, g.IsClass)
			}
		}
	}
	t := g.infer(sf.Value)
	if t.Kind == types.None || (t.Kind == types.Optional && t.ElemOr().IsUnknown()) {
		return types.OptionalOf(types.Simple(types.Int))
	}
	if t.IsUnknown() {
		return types.Simple(types.Int)
	}
	return t
}

// computeClassMutability marks the methods that need a mutable receiver:
// those assigning instance state and those calling such a method on self.
func (g *Generator) computeClassMutability(ci *classInfo) {
	for name, m := range ci.methods {
		if name != "__init__" && analysis.MutatesSelf(m.Body) {
			ci.mutating[name] = true
		}
	}
	for changed := true; changed; {
		changed = false
		for name, m := range ci.methods {
			if ci.mutating[name] || name == "__init__" {
				continue
			}
			if callsSelfMethod(m.Body, ci.mutating) {
				ci.mutating[name] = true
				changed = true
			}
		}
	}
	ci.mutable = len(ci.mutating) > 0
}

func callsSelfMethod(body []pyast.Stmt, names map[string]bool) bool {
	found := false
	pyast.InspectStmts(body, func(n pyast.Node) bool {
		if c, ok := n.(*pyast.Call); ok {
			if attr, ok := c.Func.(*pyast.Attribute); ok && pyast.IsName(attr.Value, "self") && names[attr.Attr] {
				found = true
			}
		}
		return !found
	})
	return found
}

func callsAnySelfMethod(body []pyast.Stmt) bool {
	found := false
	pyast.InspectStmts(body, func(n pyast.Node) bool {
		if c, ok := n.(*pyast.Call); ok {
			if attr, ok := c.Func.(*pyast.Attribute); ok && (pyast.IsName(attr.Value, "self") || pyast.IsSuperCall(attr.Value)) {
				found = !analysis.TestAssertionMethods[attr.Attr]
			}
		}
		return !found
	})
	return found
}

// classOf returns the registry entry for the static type of e.
func (g *Generator) classOf(e pyast.Expr) *classInfo {
	if pyast.IsName(e, "self") && g.class != nil {
		return g.class
	}
	if t := g.infer(e); t.Kind == types.Class {
		return g.st.classes[t.Name]
	}
	return nil
}

// ---------------------------------------------------------------------------
// Generation
// ---------------------------------------------------------------------------

// genClassDef emits a struct for x with its constructor and methods.
// Classes declared inside function bodies are registered on first sight.
func (g *Generator) genClassDef(x *pyast.ClassDef) {
	ci, ok := g.st.classes[x.Name]
	if !ok || ci.def != x {
		ci = g.registerLocalClass(x)
	}
	g.flushPre()

	outerClass := g.class
	g.class = ci
	g.st.classNestingDepth++
	defer func() {
		g.class = outerClass
		g.st.classNestingDepth--
	}()

	decls := map[string]bool{"init": true, "initInto": true}
	for name := range ci.methods {
		decls[name] = true
	}
	for name := range ci.superCalls {
		decls[superPrefix+name] = true
	}
	for _, n := range ci.nested {
		decls[n.Name] = true
	}
	g.pushDecls(decls)
	defer g.popDecls()

	kw := "const"
	if g.opts.ModuleMode && g.fc == nil && ci.outer == "" {
		kw = "pub const"
	}
	g.b.Openf("%s %s = struct", kw, Ident(ci.name))
	for _, f := range ci.fields {
		if f.def != "" {
			g.b.Linef("%s: %s = %s,", Ident(f.name), f.zig, f.def)
		} else {
			g.b.Linef("%s: %s,", Ident(f.name), f.zig)
		}
	}
	for _, n := range ci.nested {
		g.b.Blank()
		g.genClassDef(n)
	}

	g.b.Blank()
	g.genInit(ci)
	for _, name := range ci.methodOrder {
		if g.failed() {
			return
		}
		if name == "__init__" {
			continue
		}
		g.b.Blank()
		g.genMethod(ci, ci.methods[name], name, ci.owners[name])
	}
	g.genSuperMethods(ci)
	g.b.Close(";")

	if ci.isTest {
		g.catalogueTests(ci)
	}
	for _, d := range x.Decorators {
		g.recordDecorator(ci.name, d)
	}
	switch {
	case ci.parent != nil:
		log.Debugf("class %s inherits %s by duplication (%d methods)", ci.name, ci.parent.name, len(ci.methods)-len(ci.own))
	case ci.builtinBase != "":
		log.Debugf("class %s wraps builtin %s", ci.name, ci.builtinBase)
	case ci.complex != nil:
		log.Debugf("class %s extends %s through templates", ci.name, ci.parentName)
	}
}

// registerLocalClass registers a class declared inside a function body and
// computes its methods' calling conventions.
func (g *Generator) registerLocalClass(x *pyast.ClassDef) *classInfo {
	ci := g.registerClass(x, "")
	ci.selfType = "@This()"
	g.ctx.Classes[x.Name] = true
	if ci.parentName != "" {
		g.ctx.Parents[x.Name] = ci.parentName
	}
	g.resolveClass(ci)
	g.computeClassMutability(ci)
	for name, m := range ci.methods {
		if ci.owners[name] != ci.name {
			continue
		}
		f := analysis.Flags(m, g.ctx.ForClass(ci.name))
		if name == "__init__" {
			f = analysis.FuncFlags{Fallible: true, AllocParam: true}
		}
		g.ctx.Methods[ci.name+"."+name] = f
	}
	if g.fc != nil {
		g.fc.renames = append(g.fc.renames, g.st.rename(x.Name, Ident(x.Name)))
	}
	return ci
}

// genInit emits init, which builds and returns a value, and initInto,
// which runs the constructor body on an existing value so subclasses can
// reuse it through super().__init__.
func (g *Generator) genInit(ci *classInfo) {
	m := ci.methods["__init__"]
	receiver := "self"
	var params []pyast.Param
	var body []pyast.Stmt
	switch {
	case m != nil && ci.owners["__init__"] != ci.name && ci.parent != nil:
		// An inherited constructor delegates to the parent's initInto.
		if len(m.Params) > 0 {
			receiver = m.Params[0].Name
			params = m.Params[1:]
		}
		call := &pyast.Call{Func: &pyast.Attribute{Value: &pyast.Call{Func: &pyast.Name{ID: "super"}}, Attr: "__init__"}}
		for _, p := range params {
			if p.Kind == pyast.ParamPositional {
				call.Args = append(call.Args, &pyast.Name{ID: p.Name})
			}
		}
		body = []pyast.Stmt{&pyast.ExprStmt{Value: call}}
	case m != nil:
		if len(m.Params) > 0 {
			receiver = m.Params[0].Name
			params = m.Params[1:]
		}
		body = stripDocstring(m.Body)
	}

	var prologue []string
	if ci.complex != nil {
		for _, f := range ci.complex.fields {
			prologue = append(prologue, fmt.Sprintf("%s.%s = %s;", Ident(receiver), f.name, strings.ReplaceAll(f.init, "{alloc}", "allocator")))
		}
	}

	fc := newFuncCtx("__init__", params, body)
	fc.class = ci.name
	fc.hasAllocParam = true
	fc.fallible = true
	fc.receiver = receiver
	fc.receiverType = "*" + ci.selfType

	var fd funcBody
	if m == nil {
		// Synthesized constructor: template fields and the builtin value.
		if b, ok := builtinBases[ci.builtinBase]; ok {
			prologue = append(prologue, fmt.Sprintf("%s.__base_value = value;", Ident(receiver)))
			fd.params = []string{"value: " + b.zig}
		}
		inner := NewBuilder(g.b.Indent() + 1)
		inner.Lines(prologue)
		fd.body = inner.String()
	} else {
		fd = g.genFuncBody(fc, params, body, prologue)
	}
	if g.failed() {
		return
	}
	allocName := "_"
	if fc.allocUsed || ci.complex != nil {
		allocName = "allocator"
	}
	selfName := "_"
	if len(prologue) > 0 || analysis.UsesSelf(body) {
		selfName = Ident(receiver)
	}

	argNames := make([]string, len(fd.params))
	initParams := []string{"allocator: std.mem.Allocator"}
	for i, pt := range paramTypes(fd.params) {
		argNames[i] = fmt.Sprintf("arg%d", i)
		initParams = append(initParams, fmt.Sprintf("%s: %s", argNames[i], pt))
	}

	g.b.Openf("pub fn init(%s) !%s", joinArgs(initParams), ci.selfType)
	g.b.Linef("var self: %s = undefined;", ci.selfType)
	g.b.Linef("try %s.initInto(%s);", ci.selfType, joinArgs(append([]string{"&self", "allocator"}, argNames...)))
	g.b.Line("return self;")
	g.b.Close("")
	g.b.Blank()

	sig := append([]string{selfName + ": anytype", allocName + ": std.mem.Allocator"}, fd.params...)
	g.b.Openf("pub fn initInto(%s) !void", joinArgs(sig))
	g.b.Raw(fd.body)
	g.b.Close("")

	if m != nil && ci.owners["__init__"] == ci.name {
		g.report.addFunction(qualify(ci.name, "__init__"), m, analysis.FuncFlags{Fallible: true, AllocParam: true}, g.st)
	}
}

// genMethod emits one method under emitName.
func (g *Generator) genMethod(ci *classInfo, m *pyast.FunctionDef, emitName, owner string) {
	if owner == "" {
		owner = ci.name
	}
	flags, _, ok := g.ctx.LookupMethod(owner, m.Name)
	if !ok {
		flags = analysis.Flags(m, g.ctx.ForClass(ci.name))
	}

	static := isStatic(m)
	classMethod := hasDecorator(m, "classmethod")
	params := m.Params
	fc := newFuncCtx(m.Name, m.Params, m.Body)
	fc.class = ci.name
	fc.hasAllocParam = flags.AllocParam
	fc.fallible = flags.Fallible
	if m.Returns != nil {
		fc.declaredRet = types.FromAnnotation(m.Returns, g.IsClass)
		fc.hasDeclared = true
	}
	receiverUsed := false
	switch {
	case static:
	case len(params) == 0:
		g.errorAt(m, "method %s has no receiver parameter", m.Name)
		return
	case classMethod:
		fc.clsParam = params[0].Name
		fc.renames = append(fc.renames, g.st.rename(params[0].Name, ci.selfType))
		params = params[1:]
	default:
		fc.receiver = params[0].Name
		fc.receiverType = "*const " + ci.selfType
		if ci.methodMutates(m.Name) {
			fc.receiverType = "*" + ci.selfType
		}
		receiverUsed = analysis.UsesSelf(m.Body)
		params = params[1:]
	}

	fd := g.genFuncBody(fc, params, m.Body, nil)
	if g.failed() {
		return
	}
	ret := g.returnType(fc, m.Body)
	g.st.returnTypes[ci.name+"."+emitName] = ret.typ
	if fc.emittedTry && !fc.fallible {
		log.Warningf("%s.%s propagates errors the allocator analysis did not predict; widening to an error union", ci.name, m.Name)
		fc.fallible = true
		flags.Fallible = true
		g.ctx.Methods[ci.name+"."+m.Name] = flags
	}

	errPrefix := ""
	if fc.fallible {
		errPrefix = "!"
		if callsAnySelfMethod(m.Body) || analysis.IsRecursive(m) {
			errPrefix = "anyerror!"
		}
	}
	sig := fd.params
	if fc.hasAllocParam {
		sig = append([]string{allocParam(fc)}, sig...)
	}
	if fc.receiver != "" {
		name := "_"
		if receiverUsed {
			name = Ident(fc.receiver)
		}
		sig = append([]string{name + ": " + fc.receiverType}, sig...)
	}
	g.b.Openf("pub fn %s(%s) %s%s", Ident(emitName), strings.Join(sig, ", "), errPrefix, ret.zig)
	g.b.Raw(fd.body)
	g.b.Close("")

	if emitName == m.Name && ci.owners[m.Name] == ci.name {
		g.report.addFunction(qualify(ci.name, m.Name), m, flags, g.st)
		for _, d := range m.Decorators {
			g.recordDecorator(qualify(ci.name, m.Name), d)
		}
	}
}

// propertyAccess renders obj.attr when attr is a property of obj's class.
func (g *Generator) propertyAccess(x *pyast.Attribute) (string, bool) {
	ci := g.classOf(x.Value)
	if ci == nil || !ci.properties[x.Attr] {
		return "", false
	}
	recv := g.operand(x.Value)
	if pyast.IsName(x.Value, "self") {
		recv = g.selfName()
	}
	flags, _, _ := g.ctx.LookupMethod(ci.name, x.Attr)
	args := ""
	if flags.AllocParam {
		args = g.allocExpr()
	}
	call := fmt.Sprintf("%s.%s(%s)", recv, Ident(x.Attr), args)
	if flags.Fallible {
		return g.try(call), true
	}
	return call, true
}
