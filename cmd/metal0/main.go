// metal0 CLI - lowers a decoded Python syntax tree to Zig source.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/metal0/cache"
	"github.com/chazu/metal0/codegen"
	"github.com/chazu/metal0/manifest"
	"github.com/chazu/metal0/pyast"
)

var log = commonlog.GetLogger("metal0.cli")

// verbosity is a repeatable -v flag.
type verbosity int

func (v *verbosity) String() string   { return strconv.Itoa(int(*v)) }
func (v *verbosity) IsBoolFlag() bool { return true }

func (v *verbosity) Set(s string) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if b {
		*v++
	}
	return nil
}

type options struct {
	output       string
	mode         string
	verbose      verbosity
	noCache      bool
	report       bool
	dumpAnalysis bool
	input        string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("metal0", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var o options
	fs.StringVar(&o.output, "o", "", "Output directory (default from metal0.toml, else zig-out/gen)")
	fs.StringVar(&o.mode, "mode", "", "Generation mode: script or module")
	fs.Var(&o.verbose, "v", "Verbose output (repeat for more)")
	fs.BoolVar(&o.noCache, "no-cache", false, "Do not read or write the build cache")
	fs.BoolVar(&o.report, "report", false, "Also write <name>.report.cbor")
	fs.BoolVar(&o.dumpAnalysis, "dump-analysis", false, "Print per-function analysis results and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: metal0 [options] input.ast.json\n\n")
		fmt.Fprintf(stderr, "Generates Zig from the JSON syntax tree written by scripts/pyast2json.py.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  metal0 app.ast.json                  # Write zig-out/gen/app.zig\n")
		fmt.Fprintf(stderr, "  metal0 -mode module -o gen lib.ast.json\n")
		fmt.Fprintf(stderr, "  metal0 -dump-analysis app.ast.json   # Inspect allocator and scope analysis\n")
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	o.input = fs.Arg(0)

	if err := build(o, stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func build(o options, stdout io.Writer) error {
	var logPath *string
	if p := manifest.LogPath(); p != "" {
		logPath = &p
	}
	commonlog.Configure(int(o.verbose), logPath)

	data, err := os.ReadFile(o.input)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	m, err := loadManifest(filepath.Dir(o.input))
	if err != nil {
		return err
	}
	if o.mode != "" {
		m.Build.Mode = o.mode
	}
	if o.output != "" {
		m.Build.Output = o.output
	}
	if o.report {
		m.Build.Report = true
	}
	if o.noCache {
		off := false
		m.Build.Cache = &off
	}
	if err := m.ApplyEnv(); err != nil {
		return err
	}
	// Flags win over the environment.
	if o.mode != "" {
		m.Build.Mode = o.mode
	}
	if o.output != "" {
		m.Build.Output = o.output
	}

	mod, err := pyast.DecodeJSON(data)
	if err != nil {
		return err
	}
	if mod.Name == "" {
		mod.Name = moduleName(o.input)
	}

	if o.dumpAnalysis {
		dumpAnalysis(stdout, mod, m.Build.Mode == "module")
		return nil
	}

	opts := m.CodegenOptions()
	zig, report, err := generate(m, data, mod, opts)
	if err != nil {
		return err
	}

	outDir := m.OutputDir()
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	zigPath := filepath.Join(outDir, mod.Name+".zig")
	if err := os.WriteFile(zigPath, zig, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", zigPath, err)
	}
	log.Infof("wrote %s", zigPath)

	if m.Build.Report && report != nil {
		reportPath := filepath.Join(outDir, mod.Name+".report.cbor")
		if err := os.WriteFile(reportPath, report, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", reportPath, err)
		}
		log.Infof("wrote %s", reportPath)
	}
	return nil
}

func loadManifest(dir string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		m = manifest.Default(abs)
	}
	return m, nil
}

// generate returns the Zig source and the encoded report for mod, from the
// cache when an entry for the same input and options exists.
func generate(m *manifest.Manifest, input []byte, mod *pyast.Module, opts codegen.Options) ([]byte, []byte, error) {
	if !m.CacheEnabled() {
		return generateFresh(mod, opts)
	}

	c, err := cache.Open(m.CachePath())
	if err != nil {
		log.Warningf("cache unavailable: %v", err)
		return generateFresh(mod, opts)
	}
	defer c.Close()

	key := cache.Key(append([]byte(mod.Name+"\x00"), input...), opts)
	if e, err := c.Get(key); err == nil {
		log.Infof("%s: up to date", mod.Name)
		return e.Zig, e.Report, nil
	} else if !errors.Is(err, cache.ErrNotFound) {
		log.Warningf("cache lookup failed: %v", err)
	}

	res, err := codegen.Generate(mod, opts)
	if err != nil {
		return nil, nil, err
	}
	e, err := c.Put(key, res.Zig, res.Report)
	if err != nil {
		log.Warningf("cache store failed: %v", err)
		report, err := res.Report.Encode()
		return res.Zig, report, err
	}
	return e.Zig, e.Report, nil
}

func generateFresh(mod *pyast.Module, opts codegen.Options) ([]byte, []byte, error) {
	res, err := codegen.Generate(mod, opts)
	if err != nil {
		return nil, nil, err
	}
	report, err := res.Report.Encode()
	if err != nil {
		return nil, nil, fmt.Errorf("encoding report: %w", err)
	}
	return res.Zig, report, nil
}

// moduleName derives a module name from an input path such as
// "src/app.ast.json".
func moduleName(path string) string {
	base := filepath.Base(path)
	for _, ext := range []string{".ast.json", ".json"} {
		if strings.HasSuffix(base, ext) {
			base = strings.TrimSuffix(base, ext)
			break
		}
	}
	return codegen.SanitizeName(base)
}
