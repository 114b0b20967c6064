// Package codegen lowers a metal0 syntax tree to Zig source. It owns the
// generation state, the statement and expression emitters, and the
// function, class and closure generators.
package codegen

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/metal0/analysis"
	"github.com/chazu/metal0/pyast"
	"github.com/chazu/metal0/types"
)

var log = commonlog.GetLogger("metal0.codegen")

// Options control code generation.
type Options struct {
	// ModuleMode gives every function an allocator parameter so call sites
	// in other modules can rely on one calling convention.
	ModuleMode bool
	// DefaultInt is the Zig type unknown values collapse to.
	DefaultInt string
	// RuntimeImport is the import path of the runtime package.
	RuntimeImport string
	// InlineModules restricts which modules have inline members. Nil keeps
	// the built-in list.
	InlineModules []string
}

// DefaultOptions returns script-mode options.
func DefaultOptions() Options {
	return Options{DefaultInt: "i64", RuntimeImport: "runtime"}
}

// Result is the output of one generation run.
type Result struct {
	Zig    []byte
	Report *Report
}

// Generator lowers one module. It is not safe for concurrent use; create
// one per module.
type Generator struct {
	opts Options
	mod  *pyast.Module
	st   *State
	ctx  *analysis.Context
	inf  *types.Inferrer

	b   *Builder
	pre []string // lines that must precede the statement being emitted

	fc    *funcCtx
	class *classInfo

	// decls are container-level names per nesting level; locals that
	// would shadow one are renamed.
	decls []map[string]bool

	imports   []importDecl
	constants map[string]bool
	report    *Report
	err       error
}

type importDecl struct {
	alias  string
	module string
	member string // set for `from module import member`
}

// New creates a Generator.
func New(opts Options) *Generator {
	if opts.DefaultInt == "" {
		opts.DefaultInt = "i64"
	}
	if opts.RuntimeImport == "" {
		opts.RuntimeImport = "runtime"
	}
	g := &Generator{
		opts:      opts,
		st:        newState(),
		ctx:       analysis.NewContext(),
		constants: make(map[string]bool),
	}
	g.ctx.ModuleMode = opts.ModuleMode
	if opts.InlineModules != nil {
		g.ctx.InlineModules = make(map[string]bool)
		for _, m := range opts.InlineModules {
			g.ctx.InlineModules[m] = true
		}
	}
	g.inf = types.NewInferrer(g)
	return g
}

// Generate lowers mod with the given options.
func Generate(mod *pyast.Module, opts Options) (*Result, error) {
	return New(opts).Generate(mod)
}

// Generate lowers mod to Zig. On error no output is returned.
func (g *Generator) Generate(mod *pyast.Module) (*Result, error) {
	g.mod = mod
	g.report = &Report{
		BuildID: uuid.NewString(),
		Module:  mod.Name,
		Mode:    g.mode(),
	}

	g.prepare(mod)
	if g.failed() {
		return nil, g.err
	}

	out := NewBuilder(0)
	g.b = out
	g.st.pushScope(false)
	g.decls = []map[string]bool{g.topLevelDecls(mod)}

	g.genHeader(mod)
	var entry []pyast.Stmt
	for _, st := range mod.Body {
		if g.failed() {
			break
		}
		switch x := st.(type) {
		case *pyast.FunctionDef:
			g.b.Blank()
			g.genFunctionDef(x)
		case *pyast.ClassDef:
			g.b.Blank()
			g.genClassDef(x)
		case *pyast.Import, *pyast.ImportFrom:
			// Emitted in the header.
		case *pyast.Assign:
			if !g.genModuleConstant(x) {
				entry = append(entry, st)
			}
		case *pyast.If:
			if isMainGuard(x) {
				entry = append(entry, x.Body...)
			} else {
				entry = append(entry, st)
			}
		case *pyast.ExprStmt:
			if _, doc := pyast.StringConst(x.Value); !doc {
				entry = append(entry, st)
			}
		default:
			entry = append(entry, st)
		}
	}
	if (len(entry) > 0 || !g.opts.ModuleMode) && !g.failed() {
		g.b.Blank()
		g.genEntry(entry)
	}
	g.st.popScope()

	if g.failed() {
		return nil, g.err
	}
	g.report.sort()
	log.Infof("generated %s: %d functions, %d test classes", mod.Name, len(g.report.Functions), len(g.report.TestClasses))
	return &Result{Zig: []byte(out.String()), Report: g.report}, nil
}

func (g *Generator) mode() string {
	if g.opts.ModuleMode {
		return "module"
	}
	return "script"
}

// ---------------------------------------------------------------------------
// Pre-pass
// ---------------------------------------------------------------------------

// prepare runs every whole-module analysis before any body is generated:
// class registration, capture annotation, import aliases, and the
// fallibility fixpoint.
func (g *Generator) prepare(mod *pyast.Module) {
	analysis.AnnotateCaptures(mod)

	g.collectImports(mod.Body)
	for _, imp := range g.imports {
		if imp.member == "" {
			g.ctx.Modules[imp.alias] = imp.module
		}
	}

	for _, st := range mod.Body {
		switch x := st.(type) {
		case *pyast.FunctionDef:
			g.st.funcs[x.Name] = x
			if x.Returns != nil {
				g.st.returnTypes[x.Name] = types.FromAnnotation(x.Returns, g.IsClass)
			}
		case *pyast.ClassDef:
			g.registerClass(x, "")
		}
	}

	analysis.ComputeFallibility(mod, g.ctx)
	for name, f := range g.ctx.Functions {
		if f.AllocParam {
			g.st.needsAllocator[name] = true
		}
	}
	for _, ci := range g.st.classes {
		g.resolveClass(ci)
	}
	for _, ci := range g.sortedClasses() {
		g.computeClassMutability(ci)
	}
}

func (g *Generator) collectImports(body []pyast.Stmt) {
	seen := make(map[string]bool)
	pyast.InspectStmts(body, func(n pyast.Node) bool {
		switch x := n.(type) {
		case *pyast.Import:
			for _, a := range x.Names {
				alias := a.AsName
				if alias == "" {
					alias = strings.SplitN(a.Name, ".", 2)[0]
				}
				if !seen[alias] {
					seen[alias] = true
					module := a.Name
					if a.AsName == "" {
						module = alias
					}
					g.imports = append(g.imports, importDecl{alias: alias, module: module})
				}
			}
		case *pyast.ImportFrom:
			for _, a := range x.Names {
				alias := a.AsName
				if alias == "" {
					alias = a.Name
				}
				if a.Name == "*" || seen[alias] {
					continue
				}
				seen[alias] = true
				g.imports = append(g.imports, importDecl{alias: alias, module: x.Module, member: a.Name})
			}
		}
		return true
	})
}

func (g *Generator) topLevelDecls(mod *pyast.Module) map[string]bool {
	decls := map[string]bool{"std": true, "runtime": true, "main": true}
	for _, imp := range g.imports {
		decls[imp.alias] = true
	}
	for _, st := range mod.Body {
		switch x := st.(type) {
		case *pyast.FunctionDef:
			decls[x.Name] = true
		case *pyast.ClassDef:
			decls[x.Name] = true
		}
	}
	return decls
}

func (g *Generator) sortedClasses() []*classInfo {
	out := make([]*classInfo, 0, len(g.st.classes))
	for _, ci := range g.st.classes {
		out = append(out, ci)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// ---------------------------------------------------------------------------
// Module layout
// ---------------------------------------------------------------------------

func (g *Generator) genHeader(mod *pyast.Module) {
	name := mod.Name
	if name == "" {
		name = "main"
	}
	g.b.Linef("// Code generated by metal0 from %s. DO NOT EDIT.", name)
	g.b.Blank()
	g.b.Line(`const std = @import("std");`)
	g.b.Linef(`const runtime = @import(%s);`, StringLiteral(g.opts.RuntimeImport))
	g.b.Line("const __global_allocator = runtime.global_allocator;")
	for _, imp := range g.imports {
		path := "runtime." + imp.module
		if imp.module == "" {
			path = "runtime"
		}
		if imp.member != "" {
			path += "." + Ident(imp.member)
		}
		g.b.Linef("const %s = %s;", Ident(imp.alias), path)
	}
}

// genModuleConstant emits a top-level `NAME = literal` as a container-level
// constant. It reports false when the assignment must run in the entry
// point instead.
func (g *Generator) genModuleConstant(a *pyast.Assign) bool {
	if len(a.Targets) != 1 {
		return false
	}
	name, ok := pyast.NameID(a.Targets[0])
	if !ok || g.decls[0][name] {
		return false
	}
	c, ok := a.Value.(*pyast.Constant)
	if !ok || c.Kind == pyast.ConstNone || c.Kind == pyast.ConstEllipsis {
		return false
	}
	if analysis.MutatedNames(g.mod.Body)[name] {
		return false
	}
	t := types.FromConstant(c)
	g.st.declare(name, &varInfo{typ: t})
	g.decls[0][name] = true
	g.constants[name] = true
	g.b.Linef("const %s: %s = %s;", Ident(name), t.Zig(g.opts.DefaultInt), g.genConstant(c))
	return true
}

func isMainGuard(x *pyast.If) bool {
	cmp, ok := x.Test.(*pyast.Compare)
	if !ok || len(cmp.Ops) != 1 || cmp.Ops[0] != pyast.Eq {
		return false
	}
	s, ok := pyast.StringConst(cmp.Comparators[0])
	return ok && s == "__main__" && pyast.IsName(cmp.Left, "__name__")
}

// genEntry emits the module's top-level statements. Scripts get `main`;
// modules get an initializer taking the caller's allocator.
func (g *Generator) genEntry(body []pyast.Stmt) {
	fc := &funcCtx{
		name:           "main",
		isEntry:        true,
		hasAllocParam:  true,
		fallible:       true,
		loaded:         analysis.LoadedNames(body, true),
		mutatedInPlace: mutatedInPlace(body),
	}
	saved := g.enterFunc(fc)
	g.st.pushScope(true)

	inner := NewBuilder(1)
	outer := g.b
	g.b = inner
	g.genBlock(body)
	g.b = outer

	g.st.popScope()
	g.leaveFunc(saved)

	if g.opts.ModuleMode {
		allocName := "_"
		if fc.allocUsed {
			allocName = "allocator"
		}
		g.b.Openf("pub fn __module_init(%s: std.mem.Allocator) !void", allocName)
	} else {
		g.b.Open("pub fn main() !void")
		if fc.allocUsed {
			g.b.Line("const allocator = __global_allocator;")
		}
	}
	g.b.Raw(inner.String())
	g.b.Close("")
}

// ---------------------------------------------------------------------------
// Declarations and shadowing
// ---------------------------------------------------------------------------

func (g *Generator) pushDecls(names map[string]bool) {
	g.decls = append(g.decls, names)
}

func (g *Generator) popDecls() {
	g.decls = g.decls[:len(g.decls)-1]
}

// shadowsDecl reports whether a local called name would shadow a
// container-level declaration, which the target rejects.
func (g *Generator) shadowsDecl(name string) bool {
	for _, d := range g.decls {
		if d[name] {
			return true
		}
	}
	return false
}

// bindLocal returns the emitted name for a new local or parameter,
// renaming it when it would shadow a declaration. The rename lives until
// the enclosing function ends.
func (g *Generator) bindLocal(name string) string {
	emitted := Ident(name)
	if g.shadowsDecl(name) || zigKeywords[name] || g.shadowsOuterLocal(name) {
		emitted = g.st.synth(SanitizeName(name))
	} else if _, renamed := g.st.renames[name]; !renamed {
		return emitted
	}
	if g.fc != nil {
		g.fc.renames = append(g.fc.renames, g.st.rename(name, emitted))
	} else {
		g.st.rename(name, emitted)
	}
	return emitted
}

// shadowsOuterLocal reports whether a local of a closure body would reuse
// the name of a binding in an enclosing function.
func (g *Generator) shadowsOuterLocal(name string) bool {
	if g.fc == nil || !g.fc.inClosure {
		return false
	}
	if _, ok := g.st.lookupLocal(name); ok {
		return false
	}
	_, ok := g.st.lookupOuter(name)
	return ok
}

// ---------------------------------------------------------------------------
// types.Env
// ---------------------------------------------------------------------------

// LookupVar implements types.Env.
func (g *Generator) LookupVar(name string) (types.Type, bool) {
	if strings.HasPrefix(name, "self.") && g.class != nil {
		field := strings.TrimPrefix(name, "self.")
		if f, ok := g.class.field(field); ok {
			return f.typ, true
		}
		return types.Type{}, false
	}
	if i := strings.IndexByte(name, '.'); i > 0 {
		if v, ok := g.st.lookup(name[:i]); ok && v.typ.Kind == types.Class {
			if ci, ok := g.st.classes[v.typ.Name]; ok {
				if f, ok := ci.field(name[i+1:]); ok {
					return f.typ, true
				}
			}
		}
		return types.Type{}, false
	}
	if v, ok := g.st.lookup(name); ok {
		return v.typ, true
	}
	return types.Type{}, false
}

// FunctionReturn implements types.Env.
func (g *Generator) FunctionReturn(name string) (types.Type, bool) {
	if i := strings.IndexByte(name, '.'); i > 0 {
		recv, method := name[:i], name[i+1:]
		class := ""
		switch {
		case recv == "self" && g.class != nil:
			class = g.class.name
		case g.IsClass(recv):
			class = recv
		default:
			if v, ok := g.st.lookup(recv); ok && v.typ.Kind == types.Class {
				class = v.typ.Name
			}
		}
		if class == "" {
			return types.Type{}, false
		}
		_, owner, ok := g.ctx.LookupMethod(class, method)
		if !ok {
			return types.Type{}, false
		}
		t, ok := g.st.returnTypes[owner+"."+method]
		return t, ok
	}
	if info, ok := g.st.closures[name]; ok {
		return info.retType, !info.retType.IsUnknown()
	}
	t, ok := g.st.returnTypes[name]
	return t, ok
}

// IsClass implements types.Env.
func (g *Generator) IsClass(name string) bool {
	_, ok := g.st.classes[name]
	return ok
}

func (g *Generator) infer(e pyast.Expr) types.Type {
	return g.inf.InferExpr(e)
}

// zigType renders t with the configured default for unknowns.
func (g *Generator) zigType(t types.Type) string {
	return t.Zig(g.opts.DefaultInt)
}
