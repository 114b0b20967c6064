package codegen

import (
	"fmt"
	"strings"

	"github.com/chazu/metal0/pyast"
)

// GenError identifies the AST node at which generation stopped.
type GenError struct {
	Func   string
	Class  string
	Line   int
	Column int
	Msg    string
}

func (e *GenError) Error() string {
	var sb strings.Builder
	sb.WriteString("codegen")
	if e.Line > 0 {
		fmt.Fprintf(&sb, ":%d:%d", e.Line, e.Column)
	}
	switch {
	case e.Class != "" && e.Func != "":
		fmt.Fprintf(&sb, ": in %s.%s", e.Class, e.Func)
	case e.Class != "":
		fmt.Fprintf(&sb, ": in class %s", e.Class)
	case e.Func != "":
		fmt.Fprintf(&sb, ": in %s", e.Func)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Msg)
	return sb.String()
}

// errorAt records the first generation error. Later errors are dropped so
// the caller sees the root cause.
func (g *Generator) errorAt(n pyast.Node, format string, args ...interface{}) {
	if g.err != nil {
		return
	}
	e := &GenError{Msg: fmt.Sprintf(format, args...)}
	if n != nil {
		sp := n.Span()
		e.Line, e.Column = sp.Start.Line, sp.Start.Column
	}
	if g.fc != nil {
		e.Func = g.fc.name
		e.Class = g.fc.class
	} else if g.class != nil {
		e.Class = g.class.name
	}
	g.err = e
	log.Errorf("%s", e)
}

// failed reports whether generation has already stopped.
func (g *Generator) failed() bool { return g.err != nil }
