package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/chazu/metal0/analysis"
	"github.com/chazu/metal0/pyast"
)

// dumpAnalysis prints the calling convention, hoisted variables and closure
// shapes of every function and method in mod.
func dumpAnalysis(w io.Writer, mod *pyast.Module, moduleMode bool) {
	ctx := analysis.NewContext()
	ctx.ModuleMode = moduleMode
	analysis.AnnotateCaptures(mod)
	analysis.ComputeFallibility(mod, ctx)

	for _, st := range mod.Body {
		switch x := st.(type) {
		case *pyast.FunctionDef:
			dumpFunction(w, x.Name, x, ctx.Functions[x.Name], "")
		case *pyast.ClassDef:
			dumpClass(w, x, ctx)
		}
	}
}

func dumpClass(w io.Writer, c *pyast.ClassDef, ctx *analysis.Context) {
	fmt.Fprintf(w, "class %s", c.Name)
	if parent, ok := ctx.Parents[c.Name]; ok {
		fmt.Fprintf(w, "(%s)", parent)
	}
	fmt.Fprintln(w)
	for _, st := range c.Body {
		switch m := st.(type) {
		case *pyast.FunctionDef:
			qualified := c.Name + "." + m.Name
			var extra []string
			if analysis.UsesSelf(m.Body) {
				extra = append(extra, "uses-self")
			}
			if analysis.MutatesSelf(m.Body) {
				extra = append(extra, "mutates-self")
			}
			dumpFunction(w, qualified, m, ctx.Methods[qualified], strings.Join(extra, " "))
		case *pyast.ClassDef:
			dumpClass(w, m, ctx)
		}
	}
}

func dumpFunction(w io.Writer, name string, fn *pyast.FunctionDef, flags analysis.FuncFlags, extra string) {
	fmt.Fprintf(w, "func %s alloc=%t fallible=%t recursive=%t", name, flags.AllocParam, flags.Fallible, analysis.IsRecursive(fn))
	if extra != "" {
		fmt.Fprintf(w, " %s", extra)
	}
	fmt.Fprintln(w)

	unused := analysis.UnusedParams(fn.Params, fn.Body)
	if len(unused) > 0 {
		fmt.Fprintf(w, "  unused params: %s\n", strings.Join(sortedKeys(unused), ", "))
	}
	for _, v := range analysis.AnalyzeScopes(fn.Body) {
		fmt.Fprintf(w, "  hoist %s (%s, line %d)\n", v.Name, v.Source, v.Line)
	}
	pyast.InspectStmts(fn.Body, func(n pyast.Node) bool {
		switch x := n.(type) {
		case *pyast.FunctionDef:
			fmt.Fprintf(w, "  closure %s shape=%s captures=[%s]\n", x.Name, analysis.SelectShape(x), strings.Join(x.CapturedVars, ", "))
			return false
		case *pyast.ClassDef, *pyast.Lambda:
			return false
		}
		return true
	})
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
