package builtins

import (
	"os"
	"path/filepath"

	"github.com/broiledmeat/pydgeot-go/internal/processor"
)

func init() {
	Register("symlinkfallback", func(deps Deps) processor.Processor {
		return &SymlinkFallbackProcessor{deps: deps}
	})
}

// SymlinkFallbackProcessor is an alternative to CopyFallbackProcessor for
// large, rarely-changing assets (video, fonts) where symlinking into the
// build tree avoids duplicating the file on disk.
type SymlinkFallbackProcessor struct {
	processor.BaseProcessor
	deps Deps
}

func (p *SymlinkFallbackProcessor) Name() string { return "symlinkfallback" }
func (p *SymlinkFallbackProcessor) Priority() int { return 0 }

func (p *SymlinkFallbackProcessor) CanProcess(path string) bool { return true }

func (p *SymlinkFallbackProcessor) Negotiate(path string, contenders []processor.Processor) bool {
	return false
}

func (p *SymlinkFallbackProcessor) Prepare(ctx *processor.Context) error {
	return ctx.Catalog.SetTargets(ctx.Path, []string{ctx.Path})
}

func (p *SymlinkFallbackProcessor) Generate(ctx *processor.Context) error {
	src := filepath.Join(p.deps.SourceRoot, filepath.FromSlash(ctx.Path))
	dst := filepath.Join(p.deps.BuildRoot, filepath.FromSlash(ctx.Path))

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	os.Remove(dst) // symlink target may already exist from a prior build
	return os.Symlink(src, dst)
}
