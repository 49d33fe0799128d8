package builtins

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/broiledmeat/pydgeot-go/internal/processor"
)

func init() {
	Register("css", func(deps Deps) processor.Processor {
		return &CSSProcessor{deps: deps}
	})
}

// CSSProcessor minifies .css files with esbuild's CSS transform as they
// are copied into the build tree.
type CSSProcessor struct {
	processor.BaseProcessor
	deps Deps
}

func (p *CSSProcessor) Name() string  { return "css" }
func (p *CSSProcessor) Priority() int { return 60 }

func (p *CSSProcessor) CanProcess(path string) bool {
	return strings.HasSuffix(path, ".css")
}

func (p *CSSProcessor) Prepare(ctx *processor.Context) error {
	return ctx.Catalog.SetTargets(ctx.Path, []string{ctx.Path})
}

func (p *CSSProcessor) Generate(ctx *processor.Context) error {
	src := filepath.Join(p.deps.SourceRoot, filepath.FromSlash(ctx.Path))
	dst := filepath.Join(p.deps.BuildRoot, filepath.FromSlash(ctx.Path))

	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	result := api.Transform(string(data), api.TransformOptions{
		Loader:            api.LoaderCSS,
		MinifyWhitespace:  true,
		MinifySyntax:      true,
		MinifyIdentifiers: false,
	})
	if len(result.Errors) > 0 {
		return fmt.Errorf("css: %s: %s", ctx.Path, result.Errors[0].Text)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, result.Code, 0644)
}
