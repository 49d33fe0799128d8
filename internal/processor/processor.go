// Package processor defines the contract every content transformer
// implements, and the registry that dispatches a source path to exactly
// one processor per build cycle.
package processor

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/broiledmeat/pydgeot-go/internal/catalog"
	"github.com/broiledmeat/pydgeot-go/internal/pathsvc"
)

// Context is handed to every processor method. It bundles the catalog
// transaction, path service, and source path for the current build cycle
// so processors never reach for globals.
type Context struct {
	Catalog *catalog.Tx
	Paths   *pathsvc.Service
	Path    string
}

// Processor transforms one kind of source file into build output. A
// Processor that embeds BaseProcessor only needs to implement Name,
// Priority, and CanProcess; the rest default to sensible no-ops.
type Processor interface {
	Name() string
	Priority() int

	// CanProcess reports whether this processor is willing to handle
	// path. A path may be claimed by more than one processor; Negotiate
	// resolves the tie.
	CanProcess(path string) bool

	// Negotiate is asked, once CanProcess found more than one willing
	// processor for path, whether this processor insists on handling it.
	// contenders is every processor (including this one) that returned
	// true from CanProcess. Returning false means "yield to another
	// contender if one insists"; if every contender yields, the
	// highest-priority contender is chosen, and if more than one insists,
	// dispatch fails with an error.
	Negotiate(path string, contenders []Processor) bool

	// Prepare is the metadata-only phase: it may set targets, structural
	// dependencies, and context variables through ctx.Catalog, but must
	// never write to disk.
	Prepare(ctx *Context) error

	// Generate writes build output for path. It runs only after every
	// processor's Prepare phase has completed for the current cycle.
	Generate(ctx *Context) error

	// Delete removes build output and catalog state for a path that no
	// longer exists or is no longer claimed by this processor.
	Delete(ctx *Context) error

	// GenerationComplete is called once per processor per build cycle,
	// after every path has been generated.
	GenerationComplete() error

	// Reset clears any processor-internal state, called when the whole
	// application is reset.
	Reset() error
}

// BaseProcessor supplies default implementations of every Processor
// method except Name, Priority, and CanProcess, which concrete
// processors must still provide by embedding BaseProcessor and
// overriding only what they need.
type BaseProcessor struct{}

// Negotiate defaults to never insisting: a processor that wants no part
// of a contested path should leave this default alone.
func (BaseProcessor) Negotiate(path string, contenders []Processor) bool { return false }

// Prepare defaults to a no-op.
func (BaseProcessor) Prepare(ctx *Context) error { return nil }

// Generate defaults to a no-op.
func (BaseProcessor) Generate(ctx *Context) error { return nil }

// Delete removes every target this source produced, the directory it
// lived in if that directory is now empty, and the source's catalog
// record (targets, dependencies, and context variables cascade with
// it). Targets are recorded in the catalog in relative form, so each is
// resolved against the build root through ctx.Paths before it is
// removed from disk.
func (BaseProcessor) Delete(ctx *Context) error {
	targets, err := ctx.Catalog.GetTargets(ctx.Path, false)
	if err != nil {
		return err
	}
	for _, target := range targets {
		if err := removeTargetFile(ctx.Paths.ToBuild(target)); err != nil {
			return err
		}
	}
	return ctx.Catalog.RemoveSource(ctx.Path)
}

// GenerationComplete defaults to a no-op.
func (BaseProcessor) GenerationComplete() error { return nil }

// Reset defaults to a no-op.
func (BaseProcessor) Reset() error { return nil }

func removeTargetFile(path string) error {
	if err := removeFileIfExists(path); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	removeDirIfEmpty(dir)
	return nil
}

// Registry holds every processor known to an application, sorted by
// descending priority, and implements the dispatch algorithm: find every
// willing processor, negotiate down to one if more than one is willing,
// and fail loudly if negotiation can't settle on exactly one.
type Registry struct {
	processors []Processor
}

// NewRegistry builds a Registry from procs, sorting them by descending
// priority. Ties keep their relative input order (a stable sort), so
// dispatch among equal-priority processors is deterministic given a
// deterministic registration order.
func NewRegistry(procs []Processor) *Registry {
	out := make([]Processor, len(procs))
	copy(out, procs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority() > out[j].Priority() })
	return &Registry{processors: out}
}

// All returns every registered processor, highest priority first.
func (r *Registry) All() []Processor {
	return r.processors
}

// Dispatch returns the single processor that should handle path.
func (r *Registry) Dispatch(path string) (Processor, error) {
	return r.DispatchAllowed(path, nil)
}

// DispatchAllowed is Dispatch restricted to the processors named in
// allowed. A nil allowed map places no restriction, matching Dispatch;
// it is used to honor a directory config's "processors" list, which
// scopes which processors may even be considered for paths under that
// directory.
func (r *Registry) DispatchAllowed(path string, allowed map[string]bool) (Processor, error) {
	var contenders []Processor
	for _, p := range r.processors {
		if allowed != nil && !allowed[p.Name()] {
			continue
		}
		if p.CanProcess(path) {
			contenders = append(contenders, p)
		}
	}

	switch len(contenders) {
	case 0:
		return nil, fmt.Errorf("processor: no processor can handle %s", path)
	case 1:
		return contenders[0], nil
	}

	var insisting []Processor
	for _, p := range contenders {
		if p.Negotiate(path, contenders) {
			insisting = append(insisting, p)
		}
	}

	switch len(insisting) {
	case 0:
		// Nobody insists; the highest-priority contender wins by default,
		// since r.processors (and therefore contenders) is already sorted.
		return contenders[0], nil
	case 1:
		return insisting[0], nil
	default:
		names := make([]string, len(insisting))
		for i, p := range insisting {
			names[i] = p.Name()
		}
		return nil, fmt.Errorf("processor: ambiguous dispatch for %s: %v all insist", path, names)
	}
}
