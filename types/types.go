// Package types models the small type lattice metal0 infers for Python
// expressions and maps it onto Zig type syntax.
package types

import (
	"strings"

	"github.com/chazu/metal0/pyast"
)

// Kind is the tag of an inferred type.
type Kind int

const (
	Unknown Kind = iota
	Int
	Float
	Bool
	String
	Bytes
	None
	List
	Dict
	Set
	Tuple
	Optional
	Class
	Callable
	Error
)

var kindNames = [...]string{
	Unknown:  "unknown",
	Int:      "int",
	Float:    "float",
	Bool:     "bool",
	String:   "string",
	Bytes:    "bytes",
	None:     "none",
	List:     "list",
	Dict:     "dict",
	Set:      "set",
	Tuple:    "tuple",
	Optional: "optional",
	Class:    "class",
	Callable: "callable",
	Error:    "error",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Type is an inferred type. Elem is the element type of lists, sets and
// optionals and the value type of dicts; Key is the dict key type; Elems
// are tuple members; Name is the class name for Class.
type Type struct {
	Kind  Kind
	Elem  *Type
	Key   *Type
	Elems []Type
	Name  string
}

// Simple returns a Type with no parameters.
func Simple(k Kind) Type { return Type{Kind: k} }

// ListOf returns list[elem].
func ListOf(elem Type) Type { return Type{Kind: List, Elem: &elem} }

// SetOf returns set[elem].
func SetOf(elem Type) Type { return Type{Kind: Set, Elem: &elem} }

// DictOf returns dict[key, value].
func DictOf(key, value Type) Type { return Type{Kind: Dict, Key: &key, Elem: &value} }

// OptionalOf returns Optional[elem].
func OptionalOf(elem Type) Type { return Type{Kind: Optional, Elem: &elem} }

// TupleOf returns tuple[elems...].
func TupleOf(elems ...Type) Type { return Type{Kind: Tuple, Elems: elems} }

// ClassNamed returns the instance type of a user class.
func ClassNamed(name string) Type { return Type{Kind: Class, Name: name} }

// IsUnknown reports whether t carries no information.
func (t Type) IsUnknown() bool { return t.Kind == Unknown }

// ElemOr returns the element type, or Unknown when t has none.
func (t Type) ElemOr() Type {
	if t.Elem == nil {
		return Type{}
	}
	return *t.Elem
}

// Equal reports structural equality.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind || t.Name != o.Name || len(t.Elems) != len(o.Elems) {
		return false
	}
	if !ptrEqual(t.Elem, o.Elem) || !ptrEqual(t.Key, o.Key) {
		return false
	}
	for i := range t.Elems {
		if !t.Elems[i].Equal(o.Elems[i]) {
			return false
		}
	}
	return true
}

func ptrEqual(a, b *Type) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (t Type) String() string {
	switch t.Kind {
	case List, Set, Optional:
		return t.Kind.String() + "[" + t.ElemOr().String() + "]"
	case Dict:
		k := Type{}
		if t.Key != nil {
			k = *t.Key
		}
		return "dict[" + k.String() + ", " + t.ElemOr().String() + "]"
	case Tuple:
		parts := make([]string, len(t.Elems))
		for i, e := range t.Elems {
			parts[i] = e.String()
		}
		return "tuple[" + strings.Join(parts, ", ") + "]"
	case Class:
		return t.Name
	}
	return t.Kind.String()
}

// Unify widens two types observed for the same variable. Identical types
// are kept; int and float widen to float; None joins into an optional.
// The second result is false when the types cannot be reconciled, in which
// case the first type is returned unchanged.
func Unify(a, b Type) (Type, bool) {
	switch {
	case a.Equal(b):
		return a, true
	case b.IsUnknown():
		return a, true
	case a.IsUnknown():
		return b, true
	case (a.Kind == Int && b.Kind == Float) || (a.Kind == Float && b.Kind == Int):
		return Simple(Float), true
	case a.Kind == None && b.Kind == Optional, b.Kind == None && a.Kind == Optional:
		if a.Kind == Optional {
			return a, true
		}
		return b, true
	case a.Kind == None:
		return OptionalOf(b), true
	case b.Kind == None:
		return OptionalOf(a), true
	case a.Kind == Optional && a.ElemOr().Equal(b):
		return a, true
	case b.Kind == Optional && b.ElemOr().Equal(a):
		return b, true
	}
	return a, false
}

// ---------------------------------------------------------------------------
// Zig rendering
// ---------------------------------------------------------------------------

// Zig renders t as Zig type syntax. Unknown collapses to defaultInt.
func (t Type) Zig(defaultInt string) string {
	switch t.Kind {
	case Int:
		return "i64"
	case Float:
		return "f64"
	case Bool:
		return "bool"
	case String, Bytes:
		return "[]const u8"
	case None:
		return "void"
	case List:
		return "runtime.List(" + t.ElemOr().Zig(defaultInt) + ")"
	case Set:
		return "runtime.Set(" + t.ElemOr().Zig(defaultInt) + ")"
	case Dict:
		k := Simple(String)
		if t.Key != nil && !t.Key.IsUnknown() {
			k = *t.Key
		}
		return "runtime.Dict(" + k.Zig(defaultInt) + ", " + t.ElemOr().Zig(defaultInt) + ")"
	case Tuple:
		parts := make([]string, len(t.Elems))
		for i, e := range t.Elems {
			parts[i] = e.Zig(defaultInt)
		}
		return "struct { " + strings.Join(parts, ", ") + " }"
	case Optional:
		return "?" + t.ElemOr().Zig(defaultInt)
	case Class:
		return t.Name
	case Callable:
		return "anytype"
	case Error:
		return "anyerror"
	}
	return defaultInt
}

// ---------------------------------------------------------------------------
// Annotations
// ---------------------------------------------------------------------------

var annotationNames = map[string]Kind{
	"int":      Int,
	"float":    Float,
	"bool":     Bool,
	"str":      String,
	"bytes":    Bytes,
	"None":     None,
	"list":     List,
	"List":     List,
	"dict":     Dict,
	"Dict":     Dict,
	"set":      Set,
	"Set":      Set,
	"tuple":    Tuple,
	"Tuple":    Tuple,
	"Optional": Optional,
	"Callable": Callable,
	"Any":      Unknown,
	"object":   Unknown,
}

// FromAnnotation converts a type annotation expression. isClass resolves
// user class names; it may be nil.
func FromAnnotation(e pyast.Expr, isClass func(string) bool) Type {
	switch a := e.(type) {
	case nil:
		return Type{}
	case *pyast.Constant:
		if a.Kind == pyast.ConstNone {
			return Simple(None)
		}
		if s, ok := pyast.StringConst(a); ok {
			// Forward reference.
			if isClass != nil && isClass(s) {
				return ClassNamed(s)
			}
		}
		return Type{}
	case *pyast.Name:
		if k, ok := annotationNames[a.ID]; ok {
			if k == List || k == Set {
				return Type{Kind: k, Elem: &Type{}}
			}
			return Simple(k)
		}
		if isClass != nil && isClass(a.ID) {
			return ClassNamed(a.ID)
		}
		return Type{}
	case *pyast.Attribute:
		// typing.List and friends.
		return FromAnnotation(&pyast.Name{ID: a.Attr}, isClass)
	case *pyast.BinOp:
		if a.Op == pyast.BitOr {
			l := FromAnnotation(a.Left, isClass)
			r := FromAnnotation(a.Right, isClass)
			u, _ := Unify(l, r)
			return u
		}
	case *pyast.Subscript:
		base := FromAnnotation(a.Value, isClass)
		var args []pyast.Expr
		if tup, ok := a.Index.(*pyast.Tuple); ok {
			args = tup.Elts
		} else {
			args = []pyast.Expr{a.Index}
		}
		switch base.Kind {
		case List:
			return ListOf(FromAnnotation(args[0], isClass))
		case Set:
			return SetOf(FromAnnotation(args[0], isClass))
		case Optional:
			return OptionalOf(FromAnnotation(args[0], isClass))
		case Dict:
			if len(args) == 2 {
				return DictOf(FromAnnotation(args[0], isClass), FromAnnotation(args[1], isClass))
			}
		case Tuple:
			elems := make([]Type, len(args))
			for i, arg := range args {
				elems[i] = FromAnnotation(arg, isClass)
			}
			return TupleOf(elems...)
		case Callable:
			return Simple(Callable)
		}
		return base
	}
	return Type{}
}
