package builtins

import (
	"io"
	"os"
	"path/filepath"

	"github.com/broiledmeat/pydgeot-go/internal/processor"
)

func init() {
	Register("copyfallback", func(deps Deps) processor.Processor {
		return &CopyFallbackProcessor{deps: deps}
	})
}

// CopyFallbackProcessor handles any path no other processor wants,
// copying it byte-for-byte from source to build. It runs at the lowest
// priority and never insists during negotiation, so any more specific
// processor always wins a contested path.
type CopyFallbackProcessor struct {
	processor.BaseProcessor
	deps Deps
}

func (p *CopyFallbackProcessor) Name() string  { return "copyfallback" }
func (p *CopyFallbackProcessor) Priority() int  { return 0 }

func (p *CopyFallbackProcessor) CanProcess(path string) bool { return true }

// Negotiate always yields: this processor only runs when it is the last
// one standing.
func (p *CopyFallbackProcessor) Negotiate(path string, contenders []processor.Processor) bool {
	return false
}

func (p *CopyFallbackProcessor) Prepare(ctx *processor.Context) error {
	return ctx.Catalog.SetTargets(ctx.Path, []string{ctx.Path})
}

func (p *CopyFallbackProcessor) Generate(ctx *processor.Context) error {
	src := filepath.Join(p.deps.SourceRoot, filepath.FromSlash(ctx.Path))
	dst := filepath.Join(p.deps.BuildRoot, filepath.FromSlash(ctx.Path))

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
