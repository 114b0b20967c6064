package codegen

import (
	"fmt"
	"strings"
)

// Builder accumulates emitted Zig source with indentation tracking.
type Builder struct {
	sb     strings.Builder
	indent int
}

// NewBuilder creates a Builder starting at the given indentation depth.
func NewBuilder(indent int) *Builder {
	return &Builder{indent: indent}
}

// Indent returns the current indentation depth.
func (b *Builder) Indent() int { return b.indent }

// Line writes s as one line at the current indentation.
func (b *Builder) Line(s string) {
	if s == "" {
		b.sb.WriteString("\n")
		return
	}
	b.writeIndent()
	b.sb.WriteString(s)
	b.sb.WriteString("\n")
}

// Linef writes one formatted line at the current indentation.
func (b *Builder) Linef(format string, args ...interface{}) {
	b.Line(fmt.Sprintf(format, args...))
}

// Raw writes s unchanged.
func (b *Builder) Raw(s string) {
	b.sb.WriteString(s)
}

// Lines writes pre-rendered lines, each prefixed with the current
// indentation. Lines are expected to carry their own relative indentation.
func (b *Builder) Lines(lines []string) {
	for _, l := range lines {
		if l == "" {
			b.sb.WriteString("\n")
			continue
		}
		b.writeIndent()
		b.sb.WriteString(l)
		b.sb.WriteString("\n")
	}
}

// Open writes a line ending in an opening brace and indents. An empty
// head opens a bare block.
func (b *Builder) Open(head string) {
	if head == "" {
		b.Line("{")
	} else {
		b.Line(head + " {")
	}
	b.indent++
}

// Openf is Open with a formatted head.
func (b *Builder) Openf(format string, args ...interface{}) {
	b.Open(fmt.Sprintf(format, args...))
}

// Close dedents and writes a closing brace with an optional suffix such as
// ";" or " else {".
func (b *Builder) Close(suffix string) {
	b.indent--
	b.Line("}" + suffix)
}

// Reopen closes the current block and opens a continuation on the same
// line, as in `} else {`.
func (b *Builder) Reopen(head string) {
	b.indent--
	b.Line("} " + head + " {")
	b.indent++
}

// Reopenf is Reopen with a formatted head.
func (b *Builder) Reopenf(format string, args ...interface{}) {
	b.Reopen(fmt.Sprintf(format, args...))
}

// Blank writes an empty line.
func (b *Builder) Blank() { b.sb.WriteString("\n") }

// String returns the accumulated text.
func (b *Builder) String() string { return b.sb.String() }

// Len returns the number of bytes written so far.
func (b *Builder) Len() int { return b.sb.Len() }

// LinesOut returns the accumulated text split into lines with the builder's
// base indentation removed, for re-emission inside another builder.
func (b *Builder) LinesOut(base int) []string {
	text := strings.TrimRight(b.sb.String(), "\n")
	if text == "" {
		return nil
	}
	prefix := strings.Repeat(indentUnit, base)
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimPrefix(l, prefix)
	}
	return lines
}

const indentUnit = "    "

func (b *Builder) writeIndent() {
	for i := 0; i < b.indent; i++ {
		b.sb.WriteString(indentUnit)
	}
}

// ---------------------------------------------------------------------------
// Identifiers and literals
// ---------------------------------------------------------------------------

var zigKeywords = map[string]bool{
	"addrspace": true, "align": true, "allowzero": true, "and": true,
	"anyframe": true, "anytype": true, "asm": true, "async": true,
	"await": true, "break": true, "callconv": true, "catch": true,
	"comptime": true, "const": true, "continue": true, "defer": true,
	"else": true, "enum": true, "errdefer": true, "error": true,
	"export": true, "extern": true, "fn": true, "for": true, "if": true,
	"inline": true, "linksection": true, "noalias": true, "noinline": true,
	"nosuspend": true, "opaque": true, "or": true, "orelse": true,
	"packed": true, "pub": true, "resume": true, "return": true,
	"struct": true, "suspend": true, "switch": true, "test": true,
	"threadlocal": true, "try": true, "union": true, "unreachable": true,
	"usingnamespace": true, "var": true, "volatile": true, "while": true,
	// Primitive type names cannot be shadowed either.
	"type": true, "bool": true, "void": true, "u8": true, "i64": true,
	"f64": true, "usize": true, "isize": true, "i32": true, "u32": true,
	"f32": true, "anyerror": true, "noreturn": true, "null": true,
	"undefined": true, "true": true, "false": true,
}

// Ident returns name as a valid Zig identifier. Keywords and primitive
// type names are quoted with @"...".
func Ident(name string) string {
	if zigKeywords[name] {
		return `@"` + name + `"`
	}
	return SanitizeName(name)
}

// SanitizeName strips characters that cannot appear in a Zig identifier.
func SanitizeName(name string) string {
	result := strings.Builder{}
	for i, ch := range name {
		switch {
		case (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_':
			result.WriteRune(ch)
		case ch >= '0' && ch <= '9':
			if i == 0 {
				result.WriteString("_")
			}
			result.WriteRune(ch)
		default:
			result.WriteString("_")
		}
	}
	return result.String()
}

// StringLiteral renders s as a Zig string literal.
func StringLiteral(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if c < 0x20 || c == 0x7f {
				sb.WriteString(fmt.Sprintf(`\x%02x`, c))
			} else {
				sb.WriteByte(c)
			}
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// formatEscape doubles the braces Zig's std.fmt treats as placeholders.
func formatEscape(s string) string {
	return strings.NewReplacer("{", "{{", "}", "}}").Replace(s)
}
