// Package pyast defines the Python syntax tree consumed by the metal0 code
// generator. Trees are produced by an external frontend (see DecodeJSON) and
// are treated as immutable once decoded; the only field written after
// decoding is CapturedVars, filled in by the upstream capture analysis.
package pyast

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Line   int // 1-based line number
	Column int // 0-based column, as reported by CPython
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

type stmtBase struct{ SpanVal Span }

func (b *stmtBase) Span() Span { return b.SpanVal }
func (b *stmtBase) node()      {}
func (b *stmtBase) stmt()      {}

type exprBase struct{ SpanVal Span }

func (b *exprBase) Span() Span { return b.SpanVal }
func (b *exprBase) node()      {}
func (b *exprBase) expr()      {}

// Module is the root of a decoded source file.
type Module struct {
	Name string
	Body []Stmt
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// Operator is a binary arithmetic operator. Values match CPython class names.
type Operator string

const (
	Add      Operator = "Add"
	Sub      Operator = "Sub"
	Mult     Operator = "Mult"
	MatMult  Operator = "MatMult"
	Div      Operator = "Div"
	FloorDiv Operator = "FloorDiv"
	Mod      Operator = "Mod"
	Pow      Operator = "Pow"
	LShift   Operator = "LShift"
	RShift   Operator = "RShift"
	BitOr    Operator = "BitOr"
	BitXor   Operator = "BitXor"
	BitAnd   Operator = "BitAnd"
)

// BoolOperator is `and` or `or`.
type BoolOperator string

const (
	And BoolOperator = "And"
	Or  BoolOperator = "Or"
)

// UnaryOperator is a prefix operator.
type UnaryOperator string

const (
	Not    UnaryOperator = "Not"
	USub   UnaryOperator = "USub"
	UAdd   UnaryOperator = "UAdd"
	Invert UnaryOperator = "Invert"
)

// CmpOp is a comparison operator.
type CmpOp string

const (
	Eq    CmpOp = "Eq"
	NotEq CmpOp = "NotEq"
	Lt    CmpOp = "Lt"
	LtE   CmpOp = "LtE"
	Gt    CmpOp = "Gt"
	GtE   CmpOp = "GtE"
	Is    CmpOp = "Is"
	IsNot CmpOp = "IsNot"
	In    CmpOp = "In"
	NotIn CmpOp = "NotIn"
)

// ---------------------------------------------------------------------------
// Definitions
// ---------------------------------------------------------------------------

// ParamKind distinguishes ordinary parameters from *args / **kwargs.
type ParamKind int

const (
	ParamPositional ParamKind = iota
	ParamVarArg
	ParamKeywordOnly
	ParamKwArg
)

// Param is one formal parameter of a function or lambda.
type Param struct {
	Name       string
	Annotation Expr // nil when unannotated
	Default    Expr // nil when required
	Kind       ParamKind
}

// FunctionDef represents `def` and `async def`.
type FunctionDef struct {
	stmtBase
	Name       string
	Params     []Param
	Body       []Stmt
	Decorators []Expr
	Returns    Expr // return annotation, nil when absent
	IsAsync    bool

	// CapturedVars lists outer-scope names read by this function when it is
	// nested inside another function. Filled by analysis.AnnotateCaptures.
	CapturedVars []string
}

// ClassDef represents a class statement.
type ClassDef struct {
	stmtBase
	Name       string
	Bases      []Expr
	Body       []Stmt
	Decorators []Expr
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// Return represents `return [value]`.
type Return struct {
	stmtBase
	Value Expr
}

// Assign represents `t1 = t2 = value`.
type Assign struct {
	stmtBase
	Targets []Expr
	Value   Expr
}

// AugAssign represents `target op= value`.
type AugAssign struct {
	stmtBase
	Target Expr
	Op     Operator
	Value  Expr
}

// AnnAssign represents `target: annotation [= value]`.
type AnnAssign struct {
	stmtBase
	Target     Expr
	Annotation Expr
	Value      Expr
}

// For represents a for loop.
type For struct {
	stmtBase
	Target  Expr
	Iter    Expr
	Body    []Stmt
	OrElse  []Stmt
	IsAsync bool
}

// While represents a while loop.
type While struct {
	stmtBase
	Test   Expr
	Body   []Stmt
	OrElse []Stmt
}

// If represents if/elif/else. An elif is a nested If in OrElse.
type If struct {
	stmtBase
	Test   Expr
	Body   []Stmt
	OrElse []Stmt
}

// WithItem is one `expr [as target]` clause of a with statement.
type WithItem struct {
	ContextExpr  Expr
	OptionalVars Expr
}

// With represents a with statement.
type With struct {
	stmtBase
	Items   []WithItem
	Body    []Stmt
	IsAsync bool
}

// Raise represents `raise [exc [from cause]]`.
type Raise struct {
	stmtBase
	Exc   Expr
	Cause Expr
}

// ExceptHandler is one except clause.
type ExceptHandler struct {
	SpanVal Span
	Type    Expr   // nil for a bare except
	Name    string // "" when no `as` binding
	Body    []Stmt
}

func (h *ExceptHandler) Span() Span { return h.SpanVal }
func (h *ExceptHandler) node()      {}

// Try represents try/except/else/finally.
type Try struct {
	stmtBase
	Body      []Stmt
	Handlers  []*ExceptHandler
	OrElse    []Stmt
	FinalBody []Stmt
}

// Assert represents an assert statement.
type Assert struct {
	stmtBase
	Test Expr
	Msg  Expr
}

// Alias is one imported name.
type Alias struct {
	Name   string
	AsName string
}

// Import represents `import a.b as c`.
type Import struct {
	stmtBase
	Names []Alias
}

// ImportFrom represents `from m import a`.
type ImportFrom struct {
	stmtBase
	Module string
	Names  []Alias
	Level  int
}

// Global represents a global declaration.
type Global struct {
	stmtBase
	Names []string
}

// Nonlocal represents a nonlocal declaration.
type Nonlocal struct {
	stmtBase
	Names []string
}

// ExprStmt is an expression evaluated for its side effects.
type ExprStmt struct {
	stmtBase
	Value Expr
}

// Pass represents `pass`.
type Pass struct{ stmtBase }

// Break represents `break`.
type Break struct{ stmtBase }

// Continue represents `continue`.
type Continue struct{ stmtBase }

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// ConstKind tags the dynamic type of a Constant.
type ConstKind int

const (
	ConstNone ConstKind = iota
	ConstBool
	ConstInt
	ConstFloat
	ConstStr
	ConstBytes
	ConstEllipsis
)

// Constant is a literal. Value holds bool, int64, float64 or string
// depending on Kind, and nil for None and Ellipsis.
type Constant struct {
	exprBase
	Kind  ConstKind
	Value any
}

// Name is a bare identifier.
type Name struct {
	exprBase
	ID string
}

// Attribute represents `value.attr`.
type Attribute struct {
	exprBase
	Value Expr
	Attr  string
}

// Subscript represents `value[slice]`.
type Subscript struct {
	exprBase
	Value Expr
	Index Expr
}

// Slice represents `lower:upper:step` inside a subscript.
type Slice struct {
	exprBase
	Lower Expr
	Upper Expr
	Step  Expr
}

// Starred represents `*value` in calls and assignment targets.
type Starred struct {
	exprBase
	Value Expr
}

// BinOp represents `left op right`.
type BinOp struct {
	exprBase
	Left  Expr
	Op    Operator
	Right Expr
}

// BoolOp represents a chain of `and` or `or`.
type BoolOp struct {
	exprBase
	Op     BoolOperator
	Values []Expr
}

// UnaryOp represents a prefix operation.
type UnaryOp struct {
	exprBase
	Op      UnaryOperator
	Operand Expr
}

// Compare represents a possibly chained comparison.
type Compare struct {
	exprBase
	Left        Expr
	Ops         []CmpOp
	Comparators []Expr
}

// Keyword is a keyword argument. Arg is "" for `**mapping`.
type Keyword struct {
	Arg   string
	Value Expr
}

// Call represents a call expression.
type Call struct {
	exprBase
	Func     Expr
	Args     []Expr
	Keywords []Keyword
}

// IfExp represents `body if test else orelse`.
type IfExp struct {
	exprBase
	Test   Expr
	Body   Expr
	OrElse Expr
}

// Lambda represents an anonymous function.
type Lambda struct {
	exprBase
	Params       []Param
	Body         Expr
	CapturedVars []string
}

// List represents a list display.
type List struct {
	exprBase
	Elts []Expr
}

// Tuple represents a tuple display.
type Tuple struct {
	exprBase
	Elts []Expr
}

// Set represents a set display.
type Set struct {
	exprBase
	Elts []Expr
}

// Dict represents a dict display. A nil key marks `**mapping`.
type Dict struct {
	exprBase
	Keys   []Expr
	Values []Expr
}

// Comprehension is one `for target in iter if cond...` clause.
type Comprehension struct {
	Target  Expr
	Iter    Expr
	Ifs     []Expr
	IsAsync bool
}

// ListComp represents a list comprehension.
type ListComp struct {
	exprBase
	Elt        Expr
	Generators []Comprehension
}

// SetComp represents a set comprehension.
type SetComp struct {
	exprBase
	Elt        Expr
	Generators []Comprehension
}

// DictComp represents a dict comprehension.
type DictComp struct {
	exprBase
	Key        Expr
	Value      Expr
	Generators []Comprehension
}

// GeneratorExp represents a generator expression.
type GeneratorExp struct {
	exprBase
	Elt        Expr
	Generators []Comprehension
}

// Await represents `await value`.
type Await struct {
	exprBase
	Value Expr
}

// FormattedValue is a `{value!conv:spec}` part of an f-string.
type FormattedValue struct {
	exprBase
	Value      Expr
	Conversion int // -1 none, 's', 'r', 'a'
	FormatSpec Expr
}

// FString is an f-string (CPython JoinedStr). Values holds Constant string
// parts and FormattedValue parts in source order.
type FString struct {
	exprBase
	Values []Expr
}
