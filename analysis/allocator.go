package analysis

import (
	"github.com/chazu/metal0/pyast"
)

// ---------------------------------------------------------------------------
// Allocator / fallibility analysis
//
// A function "needs an allocator" when its emitted body may fail or
// allocate, which forces an error-union return type. Separately, it "uses
// the allocator parameter" when the emitted body threads the allocator value
// to a callee; operations backed by the process-wide global allocator make a
// function fallible without requiring the parameter. Without a call graph
// every self or module boundary is assumed fallible.
// ---------------------------------------------------------------------------

// FuncFlags is the calling-convention summary of one user function.
type FuncFlags struct {
	Fallible   bool // return type is an error union
	AllocParam bool // signature takes `allocator: std.mem.Allocator`
}

// Context carries what the allocator analysis needs to know about the rest
// of the module.
type Context struct {
	// Modules maps import aliases to module names.
	Modules map[string]string
	// Classes holds every user class name visible in the module.
	Classes map[string]bool
	// Parents maps a class to its first user-class base.
	Parents map[string]string
	// Functions holds flags for module-level functions.
	Functions map[string]FuncFlags
	// Methods holds flags keyed by "Class.method".
	Methods map[string]FuncFlags
	// ContainingClass is the class whose method is being analysed, if any.
	ContainingClass string
	// ModuleMode gives every function an allocator parameter.
	ModuleMode bool
	// InlineModules limits which modules may contain inline members.
	// When nil, math, operator and binascii are allowed.
	InlineModules map[string]bool
}

// NewContext returns an empty Context.
func NewContext() *Context {
	return &Context{
		Modules:   make(map[string]string),
		Classes:   make(map[string]bool),
		Parents:   make(map[string]string),
		Functions: make(map[string]FuncFlags),
		Methods:   make(map[string]FuncFlags),
	}
}

// forClass returns a shallow copy of c scoped to a class's methods.
func (c *Context) forClass(name string) *Context {
	cp := *c
	cp.ContainingClass = name
	return &cp
}

// ForClass returns a copy of c for analysing the methods of class name.
func (c *Context) ForClass(name string) *Context { return c.forClass(name) }

// LookupMethod resolves a method on class or its user-class ancestors.
func (c *Context) LookupMethod(class, method string) (FuncFlags, string, bool) {
	seen := make(map[string]bool)
	for class != "" && !seen[class] {
		seen[class] = true
		if f, ok := c.Methods[class+"."+method]; ok {
			return f, class, true
		}
		class = c.Parents[class]
	}
	return FuncFlags{}, "", false
}

// anyMethod reports the union of flags for every class method named method.
func (c *Context) anyMethod(method string) (FuncFlags, bool) {
	var out FuncFlags
	found := false
	for key, f := range c.Methods {
		if len(key) > len(method) && key[len(key)-len(method)-1] == '.' && key[len(key)-len(method):] == method {
			out.Fallible = out.Fallible || f.Fallible
			out.AllocParam = out.AllocParam || f.AllocParam
			found = true
		}
	}
	return out, found
}

func (c *Context) moduleName(alias string) (string, bool) {
	if c.Modules == nil {
		return "", false
	}
	m, ok := c.Modules[alias]
	return m, ok
}

func (c *Context) inlineAllowed(module string) bool {
	if c.InlineModules == nil {
		return true
	}
	return c.InlineModules[module]
}

// ---------------------------------------------------------------------------
// Fixed tables
// ---------------------------------------------------------------------------

// allocBuiltins construct containers and take the allocator parameter.
var allocBuiltins = map[string]bool{
	"list":   true,
	"dict":   true,
	"set":    true,
	"tuple":  true,
	"sorted": true,
}

// globalAllocBuiltins are fallible but allocate from the global allocator.
var globalAllocBuiltins = map[string]bool{
	"str":   true,
	"repr":  true,
	"int":   true,
	"float": true,
	"open":  true,
	"input": true,
}

// AllocatorMethods are methods whose runtime implementation allocates.
var AllocatorMethods = map[string]bool{
	"upper":      true,
	"lower":      true,
	"split":      true,
	"splitlines": true,
	"join":       true,
	"replace":    true,
	"strip":      true,
	"lstrip":     true,
	"rstrip":     true,
	"format":     true,
	"capitalize": true,
	"title":      true,
	"encode":     true,
	"decode":     true,
	"write":      true,
	"getvalue":   true,
	"digest":     true,
	"hexdigest":  true,
	"copy":       true,
	"append":     true,
	"extend":     true,
	"insert":     true,
	"add":        true,
	"update":     true,
	"setdefault": true,
}

// InlineFunctions lists, per module, the members that compile to inline,
// non-fallible target code.
var InlineFunctions = map[string]map[string]bool{
	"math": {
		"sqrt": true, "sin": true, "cos": true, "tan": true, "asin": true,
		"acos": true, "atan": true, "atan2": true, "exp": true, "log": true,
		"log2": true, "log10": true, "pow": true, "fabs": true, "floor": true,
		"ceil": true, "trunc": true, "hypot": true, "isnan": true, "isinf": true,
		"gcd": true, "degrees": true, "radians": true, "copysign": true,
		"pi": true, "e": true, "tau": true, "inf": true, "nan": true,
	},
	"operator": {
		"add": true, "sub": true, "mul": true, "neg": true, "pos": true,
		"not_": true, "eq": true, "ne": true, "lt": true, "le": true,
		"gt": true, "ge": true, "and_": true, "or_": true, "xor": true,
		"abs": true, "invert": true, "lshift": true, "rshift": true,
	},
	"binascii": {
		"crc32": true, "crc_hqx": true,
	},
}

// CallKind classifies a call expression.
type CallKind int

const (
	CallUnknown           CallKind = iota
	CallBuiltin                    // pure builtin: len, print, abs, ...
	CallAllocBuiltin               // builtin threading the allocator parameter
	CallGlobalAllocBuiltin         // fallible builtin backed by the global allocator
	CallAllocMethod                // method in AllocatorMethods
	CallSelfMethod                 // self.m(...)
	CallSuper                      // super().m(...)
	CallTestAssertion              // self.assertEqual(...) and friends
	CallInlineModule               // math.sqrt(...)
	CallModule                     // any other module.function(...)
	CallUser                       // module-level user function
	CallConstructor                // user class constructor
	CallLocal                      // nested function or closure
	CallMethod                     // obj.m(...) on a non-module receiver
)

var pureBuiltins = map[string]bool{
	"print": true, "len": true, "abs": true, "min": true, "max": true,
	"sum": true, "range": true, "enumerate": true, "zip": true, "bool": true,
	"ord": true, "chr": true, "isinstance": true, "hash": true, "any": true,
	"all": true, "reversed": true, "round": true, "divmod": true, "id": true,
	"type": true, "callable": true, "iter": true, "next": true, "super": true,
}

// ClassifyCall returns the kind of call. locals names the nested functions
// visible at the call site.
func ClassifyCall(c *pyast.Call, ctx *Context, locals map[string]bool) CallKind {
	switch fn := c.Func.(type) {
	case *pyast.Name:
		switch {
		case locals[fn.ID]:
			return CallLocal
		case ctx.Classes[fn.ID]:
			return CallConstructor
		}
		if _, ok := ctx.Functions[fn.ID]; ok {
			return CallUser
		}
		switch {
		case allocBuiltins[fn.ID]:
			return CallAllocBuiltin
		case globalAllocBuiltins[fn.ID]:
			return CallGlobalAllocBuiltin
		case pureBuiltins[fn.ID]:
			return CallBuiltin
		}
		return CallUnknown
	case *pyast.Attribute:
		if pyast.IsSuperCall(fn.Value) {
			return CallSuper
		}
		if pyast.IsName(fn.Value, "self") {
			if TestAssertionMethods[fn.Attr] {
				return CallTestAssertion
			}
			return CallSelfMethod
		}
		if alias, ok := pyast.NameID(fn.Value); ok {
			if mod, ok := ctx.moduleName(alias); ok {
				if InlineFunctions[mod][fn.Attr] && ctx.inlineAllowed(mod) {
					return CallInlineModule
				}
				return CallModule
			}
			if ctx.Classes[alias] {
				// Class.method(...) static-style call.
				return CallSelfMethod
			}
		}
		if _, ok := ctx.anyMethod(fn.Attr); ok {
			return CallMethod
		}
		if AllocatorMethods[fn.Attr] {
			return CallAllocMethod
		}
		return CallMethod
	}
	return CallUnknown
}

// ---------------------------------------------------------------------------
// Scanner
// ---------------------------------------------------------------------------

type allocScan struct {
	ctx      *Context
	locals   map[string]FuncFlags // nested closures visible in this body
	classes  map[string]bool      // nested classes visible in this body
	strNames map[string]bool
	closure  bool // scanning a closure body, which has no allocator parameter

	needs bool
	uses  bool
}

func newAllocScan(ctx *Context, params []pyast.Param, body []pyast.Stmt, closure bool) *allocScan {
	s := &allocScan{
		ctx:      ctx,
		locals:   make(map[string]FuncFlags),
		classes:  CollectNestedClassNames(body),
		strNames: make(map[string]bool),
		closure:  closure,
	}
	for _, p := range params {
		if ann, ok := pyast.NameID(p.Annotation); ok && ann == "str" {
			s.strNames[p.Name] = true
		}
		if p.Default != nil && s.mayBeString(p.Default) {
			s.strNames[p.Name] = true
		}
	}
	s.collectStringLocals(body)
	s.collectClosures(body)
	return s
}

// collectStringLocals marks locals whose first assignment may be a string.
func (s *allocScan) collectStringLocals(body []pyast.Stmt) {
	pyast.InspectStmts(body, func(n pyast.Node) bool {
		switch x := n.(type) {
		case *pyast.FunctionDef, *pyast.ClassDef, *pyast.Lambda:
			return false
		case *pyast.Assign:
			if s.mayBeString(x.Value) {
				for _, t := range x.Targets {
					if id, ok := pyast.NameID(t); ok {
						s.strNames[id] = true
					}
				}
			}
		case *pyast.AnnAssign:
			if id, ok := pyast.NameID(x.Target); ok {
				if ann, ok := pyast.NameID(x.Annotation); ok && ann == "str" {
					s.strNames[id] = true
				} else if x.Value != nil && s.mayBeString(x.Value) {
					s.strNames[id] = true
				}
			}
		}
		return true
	})
}

// collectClosures computes flags for every nested function declared in body.
func (s *allocScan) collectClosures(body []pyast.Stmt) {
	pyast.InspectStmts(body, func(n pyast.Node) bool {
		switch x := n.(type) {
		case *pyast.FunctionDef:
			inner := newAllocScan(s.ctx, x.Params, x.Body, true)
			for name, f := range s.locals {
				inner.locals[name] = f
			}
			inner.scan(x.Body)
			s.locals[x.Name] = FuncFlags{Fallible: inner.needs}
			return false
		case *pyast.ClassDef, *pyast.Lambda:
			return false
		}
		return true
	})
}

func (s *allocScan) mayBeString(e pyast.Expr) bool {
	switch x := e.(type) {
	case *pyast.Constant:
		return x.Kind == pyast.ConstStr
	case *pyast.FString:
		return true
	case *pyast.Name:
		return s.strNames[x.ID]
	case *pyast.BinOp:
		if x.Op == pyast.Add || x.Op == pyast.Mult {
			return s.mayBeString(x.Left) || s.mayBeString(x.Right)
		}
		if x.Op == pyast.Mod {
			return s.mayBeString(x.Left)
		}
	case *pyast.Call:
		if id, ok := pyast.NameID(x.Func); ok {
			return id == "str" || id == "repr" || id == "chr" || id == "input"
		}
		if attr, ok := x.Func.(*pyast.Attribute); ok {
			switch attr.Attr {
			case "upper", "lower", "strip", "lstrip", "rstrip", "replace", "join",
				"format", "capitalize", "title", "getvalue", "hexdigest", "decode":
				return true
			}
		}
	case *pyast.Subscript:
		return s.mayBeString(x.Value)
	case *pyast.IfExp:
		return s.mayBeString(x.Body) || s.mayBeString(x.OrElse)
	}
	return false
}

func (s *allocScan) fallible() { s.needs = true }

func (s *allocScan) allocates() {
	s.needs = true
	if !s.closure {
		s.uses = true
	}
}

func (s *allocScan) scan(body []pyast.Stmt) {
	pyast.InspectStmts(body, s.visit)
}

func (s *allocScan) visit(n pyast.Node) bool {
	switch x := n.(type) {
	case *pyast.FunctionDef:
		// Decorators and defaults run in this scope; the body is the
		// closure's own business.
		for _, d := range x.Decorators {
			pyast.Inspect(d, s.visit)
		}
		for _, p := range x.Params {
			if p.Default != nil {
				pyast.Inspect(p.Default, s.visit)
			}
		}
		return false
	case *pyast.ClassDef:
		// Class-level statements are scanned; method bodies are not.
		for _, st := range x.Body {
			if _, isDef := st.(*pyast.FunctionDef); !isDef {
				pyast.Inspect(st, s.visit)
			}
		}
		return false
	case *pyast.Lambda:
		inner := newAllocScan(s.ctx, x.Params, nil, true)
		inner.locals = s.locals
		pyast.Inspect(x.Body, inner.visit)
		if inner.needs {
			s.fallible()
		}
		return false
	case *pyast.Raise:
		s.fallible()
	case *pyast.Assign:
		for _, t := range x.Targets {
			if _, ok := t.(*pyast.Subscript); ok {
				// Item stores may grow the container.
				s.allocates()
			}
		}
	case *pyast.Try:
		if !hasCatchAll(x.Handlers) && len(x.Handlers) > 0 {
			// Unmatched errors are re-raised.
			s.fallible()
		}
	case *pyast.BinOp:
		switch x.Op {
		case pyast.Add, pyast.Mult:
			if s.mayBeString(x.Left) || s.mayBeString(x.Right) {
				s.allocates()
			}
		case pyast.Div, pyast.FloorDiv, pyast.Mod:
			// Division by zero, or %-formatting on the global allocator.
			s.fallible()
		}
	case *pyast.AugAssign:
		switch x.Op {
		case pyast.Add, pyast.Mult:
			if s.mayBeString(x.Target) || s.mayBeString(x.Value) {
				s.allocates()
			}
		case pyast.Div, pyast.FloorDiv, pyast.Mod:
			s.fallible()
		}
	case *pyast.FString, *pyast.Dict:
		s.fallible()
	case *pyast.List, *pyast.Set, *pyast.ListComp, *pyast.SetComp, *pyast.DictComp, *pyast.GeneratorExp:
		s.allocates()
	case *pyast.Call:
		s.call(x)
	}
	return true
}

func (s *allocScan) call(c *pyast.Call) {
	locals := make(map[string]bool, len(s.locals))
	for name := range s.locals {
		locals[name] = true
	}
	ctx := s.ctx
	if id, ok := pyast.NameID(c.Func); ok && s.classes[id] && !ctx.Classes[id] {
		s.allocates()
		return
	}
	switch ClassifyCall(c, ctx, locals) {
	case CallAllocBuiltin, CallAllocMethod, CallModule, CallConstructor:
		s.allocates()
	case CallGlobalAllocBuiltin, CallTestAssertion:
		s.fallible()
	case CallSelfMethod:
		s.fallible()
		attr := c.Func.(*pyast.Attribute)
		class := ctx.ContainingClass
		if id, ok := pyast.NameID(attr.Value); ok && id != "self" {
			class = id
		}
		if f, _, ok := ctx.LookupMethod(class, attr.Attr); ok {
			if f.AllocParam && !s.closure {
				s.uses = true
			}
		}
	case CallSuper:
		s.fallible()
		attr := c.Func.(*pyast.Attribute)
		if attr.Attr == "__init__" {
			s.allocates()
			return
		}
		if parent := ctx.Parents[ctx.ContainingClass]; parent != "" {
			if f, _, ok := ctx.LookupMethod(parent, attr.Attr); ok && f.AllocParam && !s.closure {
				s.uses = true
			}
		}
	case CallUser:
		f := ctx.Functions[c.Func.(*pyast.Name).ID]
		if f.Fallible {
			s.fallible()
		}
		if f.AllocParam && !s.closure {
			s.uses = true
		}
	case CallLocal:
		if s.locals[c.Func.(*pyast.Name).ID].Fallible {
			s.fallible()
		}
	case CallMethod:
		attr := c.Func.(*pyast.Attribute)
		if f, ok := ctx.anyMethod(attr.Attr); ok {
			if f.Fallible {
				s.fallible()
			}
			if f.AllocParam && !s.closure {
				s.uses = true
			}
		}
	}
}

func hasCatchAll(handlers []*pyast.ExceptHandler) bool {
	for _, h := range handlers {
		if h.Type == nil {
			return true
		}
		if id, ok := pyast.NameID(h.Type); ok && (id == "Exception" || id == "BaseException") {
			return true
		}
	}
	return false
}

// HasCatchAll reports whether one of handlers catches every error.
func HasCatchAll(handlers []*pyast.ExceptHandler) bool { return hasCatchAll(handlers) }

// ---------------------------------------------------------------------------
// Public predicates
// ---------------------------------------------------------------------------

// FunctionNeedsAllocator reports whether fn must return an error union.
func FunctionNeedsAllocator(fn *pyast.FunctionDef, ctx *Context) bool {
	s := newAllocScan(ctx, fn.Params, fn.Body, false)
	s.scan(fn.Body)
	return s.needs
}

// FunctionActuallyUsesAllocatorParam reports whether fn's emitted body
// threads the allocator parameter to a callee.
func FunctionActuallyUsesAllocatorParam(fn *pyast.FunctionDef, ctx *Context) bool {
	s := newAllocScan(ctx, fn.Params, fn.Body, false)
	s.scan(fn.Body)
	return s.uses
}

// ClosureNeedsAllocator reports whether a nested function's body is
// fallible. Closure bodies reach the global allocator, never a parameter.
func ClosureNeedsAllocator(params []pyast.Param, body []pyast.Stmt, ctx *Context, outer map[string]FuncFlags) bool {
	s := newAllocScan(ctx, params, body, true)
	for name, f := range outer {
		if _, ok := s.locals[name]; !ok {
			s.locals[name] = f
		}
	}
	s.scan(body)
	return s.needs
}

// LambdaNeedsAllocator reports whether a lambda body is fallible.
func LambdaNeedsAllocator(l *pyast.Lambda, ctx *Context) bool {
	s := newAllocScan(ctx, l.Params, nil, true)
	pyast.Inspect(l.Body, s.visit)
	return s.needs
}

// Flags computes both predicates for fn in one pass. In module mode the
// allocator parameter is always present.
func Flags(fn *pyast.FunctionDef, ctx *Context) FuncFlags {
	s := newAllocScan(ctx, fn.Params, fn.Body, false)
	s.scan(fn.Body)
	return FuncFlags{Fallible: s.needs || (ctx.ModuleMode && s.uses), AllocParam: s.uses || ctx.ModuleMode}
}

// CallsLocalConstructor reports whether fn constructs a class defined in
// its own body, a class nested in its containing class, or the containing
// class itself.
func CallsLocalConstructor(fn *pyast.FunctionDef, containing string, nestedInClass map[string]bool) bool {
	local := CollectNestedClassNames(fn.Body)
	found := false
	pyast.InspectStmts(fn.Body, func(n pyast.Node) bool {
		if found {
			return false
		}
		if c, ok := n.(*pyast.Call); ok {
			if id, ok := pyast.NameID(c.Func); ok {
				if local[id] || nestedInClass[id] || (containing != "" && id == containing) {
					found = true
				}
			}
		}
		return true
	})
	return found
}

// CollectNestedClassNames returns the names of classes declared anywhere in
// body, including classes nested inside those classes.
func CollectNestedClassNames(body []pyast.Stmt) map[string]bool {
	out := make(map[string]bool)
	pyast.InspectStmts(body, func(n pyast.Node) bool {
		switch x := n.(type) {
		case *pyast.ClassDef:
			out[x.Name] = true
		case *pyast.FunctionDef, *pyast.Lambda:
			return false
		}
		return true
	})
	return out
}

// ---------------------------------------------------------------------------
// Module fixpoint
// ---------------------------------------------------------------------------

// ComputeFallibility fills ctx.Functions and ctx.Methods for every
// module-level function and class method, iterating until no flag changes
// so that fallibility flows from callees to callers.
func ComputeFallibility(mod *pyast.Module, ctx *Context) {
	funcs := make(map[string]*pyast.FunctionDef)
	methods := make(map[string]*pyast.FunctionDef)
	owners := make(map[string]string)

	for _, st := range mod.Body {
		switch x := st.(type) {
		case *pyast.FunctionDef:
			funcs[x.Name] = x
			ctx.Functions[x.Name] = FuncFlags{AllocParam: ctx.ModuleMode}
		case *pyast.ClassDef:
			collectClassMethods(x, methods, owners, ctx)
		}
	}

	for changed := true; changed; {
		changed = false
		for name, fn := range funcs {
			f := Flags(fn, ctx)
			if merged := merge(ctx.Functions[name], f); merged != ctx.Functions[name] {
				ctx.Functions[name] = merged
				changed = true
			}
		}
		for key, fn := range methods {
			f := Flags(fn, ctx.forClass(owners[key]))
			if fn.Name == "__init__" {
				// Constructors always take the allocator and may fail.
				f = FuncFlags{Fallible: true, AllocParam: true}
			}
			if merged := merge(ctx.Methods[key], f); merged != ctx.Methods[key] {
				ctx.Methods[key] = merged
				changed = true
			}
		}
	}
}

func collectClassMethods(c *pyast.ClassDef, methods map[string]*pyast.FunctionDef, owners map[string]string, ctx *Context) {
	ctx.Classes[c.Name] = true
	if len(c.Bases) > 0 {
		if base, ok := pyast.NameID(c.Bases[0]); ok {
			ctx.Parents[c.Name] = base
		}
	}
	for _, st := range c.Body {
		switch m := st.(type) {
		case *pyast.FunctionDef:
			key := c.Name + "." + m.Name
			methods[key] = m
			owners[key] = c.Name
			ctx.Methods[key] = FuncFlags{AllocParam: ctx.ModuleMode}
		case *pyast.ClassDef:
			collectClassMethods(m, methods, owners, ctx)
		}
	}
}

func merge(a, b FuncFlags) FuncFlags {
	return FuncFlags{Fallible: a.Fallible || b.Fallible, AllocParam: a.AllocParam || b.AllocParam}
}
