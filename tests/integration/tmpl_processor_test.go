package integration_test

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/broiledmeat/pydgeot-go/internal/pathsvc"
	"github.com/broiledmeat/pydgeot-go/internal/processor"
)

// tmplProcessor is a small test double standing in for a real templating
// processor. Its source files are plain text with optional directive
// lines at the top:
//
//	depends: <path>       structural dependency on another source
//	publish: <name>=<val> publishes a context variable
//	demand: <name>        declares a context-variable dependency
//
// The remaining body is copied to a same-named ".out" file, with any
// "{{name}}" placeholder replaced by the first published value of name.
type tmplProcessor struct {
	processor.BaseProcessor
	paths *pathsvc.Service
}

func (p *tmplProcessor) Name() string            { return "tmpl" }
func (p *tmplProcessor) Priority() int           { return 50 }
func (p *tmplProcessor) CanProcess(path string) bool {
	return strings.HasSuffix(path, ".tmpl")
}

func parseTmpl(data string) (depends []string, publishes map[string]string, demands []string, body string) {
	publishes = map[string]string{}
	lines := strings.Split(data, "\n")
	i := 0
	for ; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "depends:"):
			depends = append(depends, strings.TrimSpace(strings.TrimPrefix(line, "depends:")))
		case strings.HasPrefix(line, "publish:"):
			kv := strings.SplitN(strings.TrimSpace(strings.TrimPrefix(line, "publish:")), "=", 2)
			if len(kv) == 2 {
				publishes[kv[0]] = kv[1]
			}
		case strings.HasPrefix(line, "demand:"):
			demands = append(demands, strings.TrimSpace(strings.TrimPrefix(line, "demand:")))
		default:
			body = strings.Join(lines[i:], "\n")
			return
		}
	}
	return
}

func (p *tmplProcessor) targetPath(path string) string {
	return strings.TrimSuffix(path, ".tmpl") + ".out"
}

func (p *tmplProcessor) Prepare(ctx *processor.Context) error {
	abs := filepath.Join(p.paths.SourceRoot, filepath.FromSlash(ctx.Path))
	data, err := os.ReadFile(abs)
	if err != nil {
		return err
	}
	depends, publishes, demands, _ := parseTmpl(string(data))

	if err := ctx.Catalog.SetTargets(ctx.Path, []string{p.targetPath(ctx.Path)}); err != nil {
		return err
	}
	if err := ctx.Catalog.SetDependencies(ctx.Path, depends); err != nil {
		return err
	}
	if err := ctx.Catalog.SetContextVarDependencies(ctx.Path, demands); err != nil {
		return err
	}
	for name, value := range publishes {
		if err := ctx.Catalog.SetContextVar(ctx.Path, name, value); err != nil {
			return err
		}
	}
	return nil
}

func (p *tmplProcessor) Generate(ctx *processor.Context) error {
	abs := filepath.Join(p.paths.SourceRoot, filepath.FromSlash(ctx.Path))
	data, err := os.ReadFile(abs)
	if err != nil {
		return err
	}
	_, _, demands, body := parseTmpl(string(data))

	for _, name := range demands {
		value, ok, err := ctx.Catalog.GetFirstContextVar(name, nil)
		if err != nil {
			return err
		}
		if ok {
			body = strings.ReplaceAll(body, "{{"+name+"}}", value)
		}
	}

	targets, err := ctx.Catalog.GetTargets(ctx.Path, false)
	if err != nil {
		return err
	}
	for _, t := range targets {
		dst := filepath.Join(p.paths.BuildRoot, filepath.FromSlash(t))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, []byte(body), 0644); err != nil {
			return err
		}
	}
	return nil
}
