package pyast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Decoder for the external frontend's JSON form of CPython's `ast` module.
//
// Every node is an object carrying `_type` (the CPython class name), the
// CPython field names, and `lineno`/`col_offset`/`end_lineno`/
// `end_col_offset` where CPython provides them. Constants may carry an
// explicit `value_type` ("int", "float", "str", "bytes", "bool", "None",
// "Ellipsis") because JSON numbers do not preserve the int/float split.
// ---------------------------------------------------------------------------

// DecodeError reports a malformed node in the input.
type DecodeError struct {
	Type string
	Line int
	Msg  string
}

func (e *DecodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("pyast: line %d: %s: %s", e.Line, e.Type, e.Msg)
	}
	return fmt.Sprintf("pyast: %s: %s", e.Type, e.Msg)
}

type object = map[string]any

// DecodeJSON decodes a Module from the frontend's JSON output.
func DecodeJSON(data []byte) (*Module, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("pyast: invalid json: %w", err)
	}
	obj, ok := raw.(object)
	if !ok {
		return nil, &DecodeError{Type: "Module", Msg: "top level value is not an object"}
	}
	if t, _ := obj["_type"].(string); t != "Module" {
		return nil, &DecodeError{Type: t, Msg: "expected Module at top level"}
	}
	d := &decoder{}
	mod := &Module{Body: d.stmts(obj["body"])}
	if name, ok := obj["name"].(string); ok {
		mod.Name = name
	}
	if d.err != nil {
		return nil, d.err
	}
	return mod, nil
}

// DecodeExpr decodes a single expression node. It is mainly useful in tests.
func DecodeExpr(data []byte) (Expr, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("pyast: invalid json: %w", err)
	}
	d := &decoder{}
	e := d.expr(raw)
	if d.err != nil {
		return nil, d.err
	}
	return e, nil
}

type decoder struct {
	err error
}

func (d *decoder) fail(o object, format string, args ...any) {
	if d.err != nil {
		return
	}
	t, _ := o["_type"].(string)
	d.err = &DecodeError{Type: t, Line: intField(o, "lineno"), Msg: fmt.Sprintf(format, args...)}
}

func intField(o object, key string) int {
	switch v := o[key].(type) {
	case json.Number:
		n, err := v.Int64()
		if err == nil {
			return int(n)
		}
	case float64:
		return int(v)
	}
	return 0
}

func str(o object, key string) string {
	s, _ := o[key].(string)
	return s
}

func span(o object) Span {
	return Span{
		Start: Position{Line: intField(o, "lineno"), Column: intField(o, "col_offset")},
		End:   Position{Line: intField(o, "end_lineno"), Column: intField(o, "end_col_offset")},
	}
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

func opName(v any) string {
	if o, ok := v.(object); ok {
		return str(o, "_type")
	}
	s, _ := v.(string)
	return s
}

func (d *decoder) stmts(v any) []Stmt {
	var out []Stmt
	for _, raw := range asList(v) {
		if s := d.stmt(raw); s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (d *decoder) exprs(v any) []Expr {
	var out []Expr
	for _, raw := range asList(v) {
		out = append(out, d.expr(raw))
	}
	return out
}

func (d *decoder) stmt(v any) Stmt {
	o, ok := v.(object)
	if !ok {
		if d.err == nil {
			d.err = &DecodeError{Type: "stmt", Msg: "statement is not an object"}
		}
		return nil
	}
	sp := span(o)
	switch t := str(o, "_type"); t {
	case "FunctionDef", "AsyncFunctionDef":
		fn := &FunctionDef{
			Name:       str(o, "name"),
			Params:     d.params(o["args"]),
			Body:       d.stmts(o["body"]),
			Decorators: d.exprs(o["decorator_list"]),
			Returns:    d.expr(o["returns"]),
			IsAsync:    t == "AsyncFunctionDef",
		}
		for _, c := range asList(o["captured_vars"]) {
			if s, ok := c.(string); ok {
				fn.CapturedVars = append(fn.CapturedVars, s)
			}
		}
		fn.SpanVal = sp
		return fn
	case "ClassDef":
		c := &ClassDef{
			Name:       str(o, "name"),
			Bases:      d.exprs(o["bases"]),
			Body:       d.stmts(o["body"]),
			Decorators: d.exprs(o["decorator_list"]),
		}
		c.SpanVal = sp
		return c
	case "Return":
		r := &Return{Value: d.expr(o["value"])}
		r.SpanVal = sp
		return r
	case "Assign":
		a := &Assign{Targets: d.exprs(o["targets"]), Value: d.expr(o["value"])}
		a.SpanVal = sp
		return a
	case "AugAssign":
		a := &AugAssign{Target: d.expr(o["target"]), Op: Operator(opName(o["op"])), Value: d.expr(o["value"])}
		a.SpanVal = sp
		return a
	case "AnnAssign":
		a := &AnnAssign{Target: d.expr(o["target"]), Annotation: d.expr(o["annotation"]), Value: d.expr(o["value"])}
		a.SpanVal = sp
		return a
	case "For", "AsyncFor":
		f := &For{
			Target:  d.expr(o["target"]),
			Iter:    d.expr(o["iter"]),
			Body:    d.stmts(o["body"]),
			OrElse:  d.stmts(o["orelse"]),
			IsAsync: t == "AsyncFor",
		}
		f.SpanVal = sp
		return f
	case "While":
		w := &While{Test: d.expr(o["test"]), Body: d.stmts(o["body"]), OrElse: d.stmts(o["orelse"])}
		w.SpanVal = sp
		return w
	case "If":
		i := &If{Test: d.expr(o["test"]), Body: d.stmts(o["body"]), OrElse: d.stmts(o["orelse"])}
		i.SpanVal = sp
		return i
	case "With", "AsyncWith":
		w := &With{Body: d.stmts(o["body"]), IsAsync: t == "AsyncWith"}
		for _, raw := range asList(o["items"]) {
			item, _ := raw.(object)
			w.Items = append(w.Items, WithItem{
				ContextExpr:  d.expr(item["context_expr"]),
				OptionalVars: d.expr(item["optional_vars"]),
			})
		}
		w.SpanVal = sp
		return w
	case "Raise":
		r := &Raise{Exc: d.expr(o["exc"]), Cause: d.expr(o["cause"])}
		r.SpanVal = sp
		return r
	case "Try", "TryStar":
		tr := &Try{Body: d.stmts(o["body"]), OrElse: d.stmts(o["orelse"]), FinalBody: d.stmts(o["finalbody"])}
		for _, raw := range asList(o["handlers"]) {
			ho, _ := raw.(object)
			tr.Handlers = append(tr.Handlers, &ExceptHandler{
				SpanVal: span(ho),
				Type:    d.expr(ho["type"]),
				Name:    str(ho, "name"),
				Body:    d.stmts(ho["body"]),
			})
		}
		tr.SpanVal = sp
		return tr
	case "Assert":
		a := &Assert{Test: d.expr(o["test"]), Msg: d.expr(o["msg"])}
		a.SpanVal = sp
		return a
	case "Import":
		im := &Import{Names: aliases(o["names"])}
		im.SpanVal = sp
		return im
	case "ImportFrom":
		im := &ImportFrom{Module: str(o, "module"), Names: aliases(o["names"]), Level: intField(o, "level")}
		im.SpanVal = sp
		return im
	case "Global":
		g := &Global{Names: nameList(o["names"])}
		g.SpanVal = sp
		return g
	case "Nonlocal":
		n := &Nonlocal{Names: nameList(o["names"])}
		n.SpanVal = sp
		return n
	case "Expr":
		e := &ExprStmt{Value: d.expr(o["value"])}
		e.SpanVal = sp
		return e
	case "Pass":
		p := &Pass{}
		p.SpanVal = sp
		return p
	case "Break":
		b := &Break{}
		b.SpanVal = sp
		return b
	case "Continue":
		c := &Continue{}
		c.SpanVal = sp
		return c
	default:
		d.fail(o, "unsupported statement")
		return nil
	}
}

func aliases(v any) []Alias {
	var out []Alias
	for _, raw := range asList(v) {
		o, _ := raw.(object)
		out = append(out, Alias{Name: str(o, "name"), AsName: str(o, "asname")})
	}
	return out
}

func nameList(v any) []string {
	var out []string
	for _, raw := range asList(v) {
		if s, ok := raw.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// params flattens CPython's `arguments` node into an ordered Param list.
// Defaults align with the trailing positional parameters.
func (d *decoder) params(v any) []Param {
	o, ok := v.(object)
	if !ok {
		return nil
	}
	var out []Param
	positional := append(asList(o["posonlyargs"]), asList(o["args"])...)
	defaults := asList(o["defaults"])
	offset := len(positional) - len(defaults)
	for i, raw := range positional {
		p := d.param(raw, ParamPositional)
		if i >= offset && offset >= 0 {
			p.Default = d.expr(defaults[i-offset])
		}
		out = append(out, p)
	}
	if va, ok := o["vararg"].(object); ok {
		out = append(out, d.param(va, ParamVarArg))
	}
	kwDefaults := asList(o["kw_defaults"])
	for i, raw := range asList(o["kwonlyargs"]) {
		p := d.param(raw, ParamKeywordOnly)
		if i < len(kwDefaults) {
			p.Default = d.expr(kwDefaults[i])
		}
		out = append(out, p)
	}
	if kw, ok := o["kwarg"].(object); ok {
		out = append(out, d.param(kw, ParamKwArg))
	}
	return out
}

func (d *decoder) param(v any, kind ParamKind) Param {
	o, _ := v.(object)
	return Param{Name: str(o, "arg"), Annotation: d.expr(o["annotation"]), Kind: kind}
}

func (d *decoder) generators(v any) []Comprehension {
	var out []Comprehension
	for _, raw := range asList(v) {
		o, _ := raw.(object)
		out = append(out, Comprehension{
			Target:  d.expr(o["target"]),
			Iter:    d.expr(o["iter"]),
			Ifs:     d.exprs(o["ifs"]),
			IsAsync: intField(o, "is_async") != 0,
		})
	}
	return out
}

func (d *decoder) expr(v any) Expr {
	if v == nil {
		return nil
	}
	o, ok := v.(object)
	if !ok {
		if d.err == nil {
			d.err = &DecodeError{Type: "expr", Msg: fmt.Sprintf("expression is not an object: %v", v)}
		}
		return nil
	}
	sp := span(o)
	switch t := str(o, "_type"); t {
	case "Constant", "Num", "Str", "NameConstant", "Bytes", "Ellipsis":
		c := d.constant(o)
		c.SpanVal = sp
		return c
	case "Name":
		n := &Name{ID: str(o, "id")}
		n.SpanVal = sp
		return n
	case "Attribute":
		a := &Attribute{Value: d.expr(o["value"]), Attr: str(o, "attr")}
		a.SpanVal = sp
		return a
	case "Subscript":
		s := &Subscript{Value: d.expr(o["value"]), Index: d.expr(o["slice"])}
		s.SpanVal = sp
		return s
	case "Index":
		return d.expr(o["value"])
	case "Slice":
		s := &Slice{Lower: d.expr(o["lower"]), Upper: d.expr(o["upper"]), Step: d.expr(o["step"])}
		s.SpanVal = sp
		return s
	case "Starred":
		s := &Starred{Value: d.expr(o["value"])}
		s.SpanVal = sp
		return s
	case "BinOp":
		b := &BinOp{Left: d.expr(o["left"]), Op: Operator(opName(o["op"])), Right: d.expr(o["right"])}
		b.SpanVal = sp
		return b
	case "BoolOp":
		b := &BoolOp{Op: BoolOperator(opName(o["op"])), Values: d.exprs(o["values"])}
		b.SpanVal = sp
		return b
	case "UnaryOp":
		u := &UnaryOp{Op: UnaryOperator(opName(o["op"])), Operand: d.expr(o["operand"])}
		u.SpanVal = sp
		return u
	case "Compare":
		c := &Compare{Left: d.expr(o["left"]), Comparators: d.exprs(o["comparators"])}
		for _, op := range asList(o["ops"]) {
			c.Ops = append(c.Ops, CmpOp(opName(op)))
		}
		c.SpanVal = sp
		return c
	case "Call":
		c := &Call{Func: d.expr(o["func"]), Args: d.exprs(o["args"])}
		for _, raw := range asList(o["keywords"]) {
			ko, _ := raw.(object)
			c.Keywords = append(c.Keywords, Keyword{Arg: str(ko, "arg"), Value: d.expr(ko["value"])})
		}
		c.SpanVal = sp
		return c
	case "IfExp":
		i := &IfExp{Test: d.expr(o["test"]), Body: d.expr(o["body"]), OrElse: d.expr(o["orelse"])}
		i.SpanVal = sp
		return i
	case "Lambda":
		l := &Lambda{Params: d.params(o["args"]), Body: d.expr(o["body"])}
		l.SpanVal = sp
		return l
	case "List":
		l := &List{Elts: d.exprs(o["elts"])}
		l.SpanVal = sp
		return l
	case "Tuple":
		tu := &Tuple{Elts: d.exprs(o["elts"])}
		tu.SpanVal = sp
		return tu
	case "Set":
		s := &Set{Elts: d.exprs(o["elts"])}
		s.SpanVal = sp
		return s
	case "Dict":
		dict := &Dict{Values: d.exprs(o["values"])}
		for _, k := range asList(o["keys"]) {
			dict.Keys = append(dict.Keys, d.expr(k))
		}
		dict.SpanVal = sp
		return dict
	case "ListComp":
		l := &ListComp{Elt: d.expr(o["elt"]), Generators: d.generators(o["generators"])}
		l.SpanVal = sp
		return l
	case "SetComp":
		s := &SetComp{Elt: d.expr(o["elt"]), Generators: d.generators(o["generators"])}
		s.SpanVal = sp
		return s
	case "GeneratorExp":
		g := &GeneratorExp{Elt: d.expr(o["elt"]), Generators: d.generators(o["generators"])}
		g.SpanVal = sp
		return g
	case "DictComp":
		dc := &DictComp{Key: d.expr(o["key"]), Value: d.expr(o["value"]), Generators: d.generators(o["generators"])}
		dc.SpanVal = sp
		return dc
	case "Await":
		a := &Await{Value: d.expr(o["value"])}
		a.SpanVal = sp
		return a
	case "FormattedValue":
		f := &FormattedValue{Value: d.expr(o["value"]), Conversion: intField(o, "conversion"), FormatSpec: d.expr(o["format_spec"])}
		if _, ok := o["conversion"]; !ok {
			f.Conversion = -1
		}
		f.SpanVal = sp
		return f
	case "JoinedStr":
		f := &FString{Values: d.exprs(o["values"])}
		f.SpanVal = sp
		return f
	default:
		d.fail(o, "unsupported expression")
		return nil
	}
}

func (d *decoder) constant(o object) *Constant {
	raw, present := o["value"]
	if !present {
		// Pre-3.8 node shapes.
		if n, ok := o["n"]; ok {
			raw = n
		} else if s, ok := o["s"]; ok {
			raw = s
		}
	}
	switch vt := str(o, "value_type"); vt {
	case "None":
		return &Constant{Kind: ConstNone}
	case "Ellipsis":
		return &Constant{Kind: ConstEllipsis}
	case "bytes":
		s, _ := raw.(string)
		return &Constant{Kind: ConstBytes, Value: s}
	case "float":
		return &Constant{Kind: ConstFloat, Value: floatValue(raw)}
	case "int":
		if num, ok := raw.(json.Number); ok {
			if n, err := num.Int64(); err == nil {
				return &Constant{Kind: ConstInt, Value: n}
			}
		}
		d.fail(o, "integer constant out of range")
		return &Constant{Kind: ConstInt, Value: int64(0)}
	}
	if str(o, "_type") == "Ellipsis" {
		return &Constant{Kind: ConstEllipsis}
	}
	switch v := raw.(type) {
	case nil:
		return &Constant{Kind: ConstNone}
	case bool:
		return &Constant{Kind: ConstBool, Value: v}
	case string:
		return &Constant{Kind: ConstStr, Value: v}
	case json.Number:
		s := v.String()
		if strings.ContainsAny(s, ".eE") {
			return &Constant{Kind: ConstFloat, Value: floatValue(v)}
		}
		n, err := v.Int64()
		if err != nil {
			d.fail(o, "integer constant out of range: %s", s)
			return &Constant{Kind: ConstInt, Value: int64(0)}
		}
		return &Constant{Kind: ConstInt, Value: n}
	}
	d.fail(o, "unsupported constant %v", raw)
	return &Constant{Kind: ConstNone}
}

func floatValue(raw any) float64 {
	switch v := raw.(type) {
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		switch v {
		case "inf", "Infinity":
			return math.Inf(1)
		case "-inf", "-Infinity":
			return math.Inf(-1)
		case "nan", "NaN":
			return math.NaN()
		}
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}
