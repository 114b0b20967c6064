package types

import "github.com/chazu/metal0/pyast"

// Env supplies the bindings the inferrer cannot see in the expression
// itself. Implementations answer from the code generator's scope stack.
type Env interface {
	// LookupVar returns the declared type of a local, parameter, or dotted
	// receiver field such as "self.count".
	LookupVar(name string) (Type, bool)
	// FunctionReturn returns the declared return type of a user function.
	FunctionReturn(name string) (Type, bool)
	// IsClass reports whether name is a user class.
	IsClass(name string) bool
}

// Inferrer performs best-effort local type inference. Anything it cannot
// decide is Unknown; callers pick their own default.
type Inferrer struct {
	env Env
}

// NewInferrer creates an Inferrer. env may be nil.
func NewInferrer(env Env) *Inferrer {
	return &Inferrer{env: env}
}

var builtinReturns = map[string]Type{
	"int":        Simple(Int),
	"float":      Simple(Float),
	"str":        Simple(String),
	"repr":       Simple(String),
	"bool":       Simple(Bool),
	"len":        Simple(Int),
	"ord":        Simple(Int),
	"chr":        Simple(String),
	"hash":       Simple(Int),
	"input":      Simple(String),
	"isinstance": Simple(Bool),
	"callable":   Simple(Bool),
	"any":        Simple(Bool),
	"all":        Simple(Bool),
	"range":      ListOf(Simple(Int)),
	"bytes":      Simple(Bytes),
}

var methodReturns = map[string]Type{
	"upper":      Simple(String),
	"lower":      Simple(String),
	"strip":      Simple(String),
	"lstrip":     Simple(String),
	"rstrip":     Simple(String),
	"replace":    Simple(String),
	"join":       Simple(String),
	"format":     Simple(String),
	"capitalize": Simple(String),
	"title":      Simple(String),
	"getvalue":   Simple(String),
	"hexdigest":  Simple(String),
	"digest":     Simple(Bytes),
	"encode":     Simple(Bytes),
	"decode":     Simple(String),
	"split":      ListOf(Simple(String)),
	"splitlines": ListOf(Simple(String)),
	"count":      Simple(Int),
	"find":       Simple(Int),
	"index":      Simple(Int),
	"startswith": Simple(Bool),
	"endswith":   Simple(Bool),
	"isdigit":    Simple(Bool),
	"isalpha":    Simple(Bool),
	"isspace":    Simple(Bool),
	"isupper":    Simple(Bool),
	"islower":    Simple(Bool),
}

var mathReturns = map[string]Type{
	"sqrt":  Simple(Float),
	"sin":   Simple(Float),
	"cos":   Simple(Float),
	"tan":   Simple(Float),
	"exp":   Simple(Float),
	"log":   Simple(Float),
	"log2":  Simple(Float),
	"log10": Simple(Float),
	"pow":   Simple(Float),
	"fabs":  Simple(Float),
	"floor": Simple(Int),
	"ceil":  Simple(Int),
	"trunc": Simple(Int),
	"gcd":   Simple(Int),
	"pi":    Simple(Float),
	"e":     Simple(Float),
	"tau":   Simple(Float),
	"inf":   Simple(Float),
}

// InferExpr returns the inferred type of e.
func (in *Inferrer) InferExpr(e pyast.Expr) Type {
	switch x := e.(type) {
	case nil:
		return Type{}
	case *pyast.Constant:
		return constType(x)
	case *pyast.FString:
		return Simple(String)
	case *pyast.Name:
		if in.env != nil {
			if t, ok := in.env.LookupVar(x.ID); ok {
				return t
			}
		}
	case *pyast.Attribute:
		if dotted, ok := pyast.DottedName(x); ok {
			if in.env != nil {
				if t, ok := in.env.LookupVar(dotted); ok {
					return t
				}
			}
			if pyast.IsName(x.Value, "math") {
				if t, ok := mathReturns[x.Attr]; ok {
					return t
				}
			}
		}
	case *pyast.BinOp:
		return in.binOp(x)
	case *pyast.UnaryOp:
		if x.Op == pyast.Not {
			return Simple(Bool)
		}
		return in.InferExpr(x.Operand)
	case *pyast.Compare:
		return Simple(Bool)
	case *pyast.BoolOp:
		var result Type
		for i, v := range x.Values {
			t := in.InferExpr(v)
			if i == 0 {
				result = t
				continue
			}
			if !t.Equal(result) {
				return Type{}
			}
		}
		return result
	case *pyast.IfExp:
		body := in.InferExpr(x.Body)
		if u, ok := Unify(body, in.InferExpr(x.OrElse)); ok {
			return u
		}
	case *pyast.Call:
		return in.call(x)
	case *pyast.List:
		if len(x.Elts) == 0 {
			return ListOf(Type{})
		}
		return ListOf(in.InferExpr(x.Elts[0]))
	case *pyast.Set:
		if len(x.Elts) == 0 {
			return SetOf(Type{})
		}
		return SetOf(in.InferExpr(x.Elts[0]))
	case *pyast.Tuple:
		elems := make([]Type, len(x.Elts))
		for i, el := range x.Elts {
			elems[i] = in.InferExpr(el)
		}
		return TupleOf(elems...)
	case *pyast.Dict:
		if len(x.Keys) == 0 || x.Keys[0] == nil {
			return DictOf(Type{}, Type{})
		}
		return DictOf(in.InferExpr(x.Keys[0]), in.InferExpr(x.Values[0]))
	case *pyast.ListComp, *pyast.GeneratorExp:
		return ListOf(Type{})
	case *pyast.SetComp:
		return SetOf(Type{})
	case *pyast.DictComp:
		return DictOf(Type{}, Type{})
	case *pyast.Subscript:
		return in.subscript(x)
	case *pyast.Lambda:
		return Simple(Callable)
	case *pyast.Await:
		return in.InferExpr(x.Value)
	}
	return Type{}
}

func constType(c *pyast.Constant) Type {
	switch c.Kind {
	case pyast.ConstBool:
		return Simple(Bool)
	case pyast.ConstInt:
		return Simple(Int)
	case pyast.ConstFloat:
		return Simple(Float)
	case pyast.ConstStr:
		return Simple(String)
	case pyast.ConstBytes:
		return Simple(Bytes)
	case pyast.ConstNone:
		return Simple(None)
	}
	return Type{}
}

func (in *Inferrer) binOp(b *pyast.BinOp) Type {
	l := in.InferExpr(b.Left)
	r := in.InferExpr(b.Right)
	switch b.Op {
	case pyast.Add:
		if l.Kind == String || r.Kind == String {
			return Simple(String)
		}
		if l.Kind == List {
			return l
		}
	case pyast.Mult:
		if l.Kind == String || r.Kind == String {
			return Simple(String)
		}
	case pyast.Mod:
		if l.Kind == String {
			return Simple(String)
		}
	case pyast.Div:
		return Simple(Float)
	}
	switch {
	case l.Kind == Float || r.Kind == Float:
		return Simple(Float)
	case l.Kind == Int && (r.Kind == Int || r.Kind == Bool):
		return Simple(Int)
	case l.Kind == Bool && r.Kind == Int:
		return Simple(Int)
	}
	return Type{}
}

func (in *Inferrer) call(c *pyast.Call) Type {
	switch fn := c.Func.(type) {
	case *pyast.Name:
		if t, ok := builtinReturns[fn.ID]; ok {
			return t
		}
		switch fn.ID {
		case "abs", "min", "max":
			if len(c.Args) == 1 {
				return in.InferExpr(c.Args[0]).ElemOr()
			}
			if len(c.Args) > 0 {
				return in.InferExpr(c.Args[0])
			}
		case "sum":
			if len(c.Args) > 0 {
				if el := in.InferExpr(c.Args[0]).ElemOr(); !el.IsUnknown() {
					return el
				}
			}
			return Simple(Int)
		case "sorted", "list", "reversed":
			if len(c.Args) > 0 {
				t := in.InferExpr(c.Args[0])
				if t.Kind == List {
					return t
				}
				return ListOf(t.ElemOr())
			}
			return ListOf(Type{})
		case "dict":
			return DictOf(Type{}, Type{})
		case "set":
			return SetOf(Type{})
		}
		if in.env != nil {
			if in.env.IsClass(fn.ID) {
				return ClassNamed(fn.ID)
			}
			if t, ok := in.env.FunctionReturn(fn.ID); ok {
				return t
			}
		}
	case *pyast.Attribute:
		if pyast.IsName(fn.Value, "math") {
			if t, ok := mathReturns[fn.Attr]; ok {
				return t
			}
		}
		if dotted, ok := pyast.DottedName(fn); ok && in.env != nil {
			if t, ok := in.env.FunctionReturn(dotted); ok {
				return t
			}
		}
		if t, ok := methodReturns[fn.Attr]; ok {
			return t
		}
	}
	return Type{}
}

func (in *Inferrer) subscript(s *pyast.Subscript) Type {
	base := in.InferExpr(s.Value)
	if _, isSlice := s.Index.(*pyast.Slice); isSlice {
		return base
	}
	switch base.Kind {
	case String:
		return Simple(String)
	case List, Dict:
		return base.ElemOr()
	case Tuple:
		if c, ok := s.Index.(*pyast.Constant); ok && c.Kind == pyast.ConstInt {
			i := int(c.Value.(int64))
			if i >= 0 && i < len(base.Elems) {
				return base.Elems[i]
			}
		}
	}
	return Type{}
}

// FromConstant returns the type of a literal.
func FromConstant(c *pyast.Constant) Type { return constType(c) }
