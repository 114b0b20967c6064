package manifest

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// schemaSource constrains metal0.toml after decoding. Empty strings are
// allowed for keys that applyDefaults fills in.
const schemaSource = `
#Ident: =~"^[A-Za-z_][A-Za-z0-9_]*$"

#Manifest: {
	project: {
		name:    string
		version: *"" | =~"^[0-9]+(\\.[0-9]+)*([-+].*)?$"
	}
	build: {
		mode:             *"" | "script" | "module"
		output:           string
		"runtime-import": string
		report:           bool
		cache?:           bool
	}
	codegen: {
		"default-int":    *"" | "i8" | "i16" | "i32" | "i64" | "i128" | "isize"
		"inline-modules": [...#Ident]
	}
}
`

// validate checks m against the manifest schema.
func (m *Manifest) validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("manifest schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Manifest")).Unify(ctx.Encode(m.document()))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid manifest: %s", cueerrors.Details(err, nil))
	}
	return nil
}

// document mirrors the TOML layout of m for schema validation.
func (m *Manifest) document() map[string]any {
	build := map[string]any{
		"mode":           m.Build.Mode,
		"output":         m.Build.Output,
		"runtime-import": m.Build.RuntimeImport,
		"report":         m.Build.Report,
	}
	if m.Build.Cache != nil {
		build["cache"] = *m.Build.Cache
	}
	inline := m.Codegen.InlineModules
	if inline == nil {
		inline = []string{}
	}
	return map[string]any{
		"project": map[string]any{
			"name":    m.Project.Name,
			"version": m.Project.Version,
		},
		"build": build,
		"codegen": map[string]any{
			"default-int":    m.Codegen.DefaultInt,
			"inline-modules": inline,
		},
	}
}
