package codegen

import (
	"fmt"

	"github.com/chazu/metal0/pyast"
	"github.com/chazu/metal0/types"
)

// varInfo describes one declared binding.
type varInfo struct {
	typ     types.Type
	zigType string // explicit Zig type when it differs from typ.Zig
	mutable bool
}

// scope is one lexical scope of declared names.
type scope struct {
	vars map[string]*varInfo
	// boundary marks a function or closure entry; lookups for outer
	// function locals stop here.
	boundary bool
}

// closureInfo tells call sites how to invoke a nested function or a name
// bound to a lambda.
type closureInfo struct {
	emit      string // Zig expression naming the callee
	method    string // ".call" for adapter values, "" for direct calls
	tupleArgs bool   // arguments are packed into one tuple
	fallible  bool
	arity     int
	shape     string
	zigType   string // type expression of the adapter value, "" for types
	retType   types.Type
}

// State is the mutable bookkeeping of one module's generation run. Scope
// pushes and pops are strictly nested, and every rename or closure
// registration made for an inner scope is reverted before control returns
// to the enclosing one.
type State struct {
	scopes []*scope

	// renames redirects a source name to its emitted form: synthetic
	// parameter names, capture field accesses, hoisted copies.
	renames map[string]string

	// closures maps visible nested-function names to their call convention.
	closures map[string]*closureInfo

	// needsAllocator holds the functions taking an allocator parameter.
	needsAllocator map[string]bool
	isAsync        map[string]bool
	hasVarArg      map[string]bool
	hasKwArg       map[string]bool

	// classes is populated before any class body is generated.
	classes map[string]*classInfo
	// funcs holds module-level function definitions for call synthesis.
	funcs map[string]*pyast.FunctionDef
	// returnTypes holds decided return types by function or "Class.method".
	returnTypes map[string]types.Type

	lambdaCounter      int
	classNestingDepth  int
	methodNestingDepth int
}

func newState() *State {
	return &State{
		renames:        make(map[string]string),
		closures:       make(map[string]*closureInfo),
		needsAllocator: make(map[string]bool),
		isAsync:        make(map[string]bool),
		hasVarArg:      make(map[string]bool),
		hasKwArg:       make(map[string]bool),
		classes:        make(map[string]*classInfo),
		funcs:          make(map[string]*pyast.FunctionDef),
		returnTypes:    make(map[string]types.Type),
	}
}

// next returns a fresh counter value. Every synthetic identifier embeds
// one, so no two synthetic names in a module collide.
func (s *State) next() int {
	s.lambdaCounter++
	return s.lambdaCounter
}

// synth returns prefix_N for a fresh N.
func (s *State) synth(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, s.next())
}

func (s *State) pushScope(boundary bool) {
	s.scopes = append(s.scopes, &scope{vars: make(map[string]*varInfo), boundary: boundary})
}

func (s *State) popScope() {
	s.scopes = s.scopes[:len(s.scopes)-1]
}

func (s *State) declare(name string, v *varInfo) {
	s.scopes[len(s.scopes)-1].vars[name] = v
}

// lookupLocal searches the scopes of the current function, innermost first.
func (s *State) lookupLocal(name string) (*varInfo, bool) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if v, ok := s.scopes[i].vars[name]; ok {
			return v, true
		}
		if s.scopes[i].boundary {
			break
		}
	}
	return nil, false
}

// lookup is lookupLocal falling back to module-level constants.
func (s *State) lookup(name string) (*varInfo, bool) {
	if v, ok := s.lookupLocal(name); ok {
		return v, true
	}
	if len(s.scopes) > 0 {
		if v, ok := s.scopes[0].vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// lookupOuter searches every scope, crossing function boundaries. Capture
// types are resolved this way.
func (s *State) lookupOuter(name string) (*varInfo, bool) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if v, ok := s.scopes[i].vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// savedRename remembers a previous rename so it can be restored.
type savedRename struct {
	name  string
	prev  string
	had   bool
	cprev *closureInfo
	chad  bool
}

// rename installs name -> emitted and returns the prior state.
func (s *State) rename(name, emitted string) savedRename {
	prev, had := s.renames[name]
	s.renames[name] = emitted
	return savedRename{name: name, prev: prev, had: had}
}

// restoreRenames reverts renames in reverse order of installation.
func (s *State) restoreRenames(saved []savedRename) {
	for i := len(saved) - 1; i >= 0; i-- {
		r := saved[i]
		if r.had {
			s.renames[r.name] = r.prev
		} else {
			delete(s.renames, r.name)
		}
	}
}

// setClosure installs or clears (info == nil) a closure registration and
// returns the prior state.
func (s *State) setClosure(name string, info *closureInfo) savedRename {
	prev, had := s.closures[name]
	if info == nil {
		delete(s.closures, name)
	} else {
		s.closures[name] = info
	}
	return savedRename{name: name, cprev: prev, chad: had}
}

func (s *State) restoreClosures(saved []savedRename) {
	for i := len(saved) - 1; i >= 0; i-- {
		r := saved[i]
		if r.chad {
			s.closures[r.name] = r.cprev
		} else {
			delete(s.closures, r.name)
		}
	}
}

// resolve returns the emitted form of a source name.
func (s *State) resolve(name string) string {
	if r, ok := s.renames[name]; ok {
		return r
	}
	return Ident(name)
}

// closureNames returns the set of visible closure names.
func (s *State) closureNames() map[string]bool {
	out := make(map[string]bool, len(s.closures))
	for name := range s.closures {
		out[name] = true
	}
	return out
}
