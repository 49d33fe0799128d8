// Package generator implements the incremental build pipeline: detecting
// which sources changed since the last build, and rebuilding exactly the
// set of sources that changed plus everything that transitively depends
// on them, through each processor's two-phase prepare/generate contract.
package generator

import (
	"fmt"
	"os"
	ppath "path"
	"path/filepath"
	"sort"
	"time"

	"github.com/broiledmeat/pydgeot-go/internal/catalog"
	"github.com/broiledmeat/pydgeot-go/internal/pathsvc"
	"github.com/broiledmeat/pydgeot-go/internal/processor"
)

// mtimeTolerance absorbs filesystem timestamp granularity: a source is
// only considered changed if its recorded modification time differs from
// disk by more than this much.
const mtimeTolerance = 1 * time.Second

// ChangeSet is the set of source paths to regenerate and to delete in a
// build cycle, as relative, '/'-separated paths.
type ChangeSet struct {
	Generate map[string]bool
	Delete   map[string]bool
}

func newChangeSet() ChangeSet {
	return ChangeSet{Generate: map[string]bool{}, Delete: map[string]bool{}}
}

// Merge folds other into cs.
func (cs ChangeSet) Merge(other ChangeSet) {
	for p := range other.Generate {
		cs.Generate[p] = true
	}
	for p := range other.Delete {
		cs.Delete[p] = true
	}
}

// IgnoreFunc reports whether a relative source path should be skipped
// entirely, driven by a directory's "ignore" glob configuration.
type IgnoreFunc func(relPath string) bool

// AllowedProcessorsFunc resolves the set of processor names enabled for
// a directory (relative to the source root), per the directory config's
// "processors" list. A nil return, or a nil AllowedProcessorsFunc,
// places no restriction on dispatch.
type AllowedProcessorsFunc func(relDir string) (map[string]bool, error)

// Generator drives one application's build cycles.
type Generator struct {
	Catalog    *catalog.Catalog
	Paths      *pathsvc.Service
	Registry   *processor.Registry
	Ignore     IgnoreFunc
	Processors AllowedProcessorsFunc
	Log        interface{ Info(string, ...any); Error(string, ...any) }
}

// dispatch resolves the processor that should handle path, honoring any
// directory-scoped processor allowlist.
func (g *Generator) dispatch(path string) (processor.Processor, error) {
	if g.Processors == nil {
		return g.Registry.Dispatch(path)
	}
	allowed, err := g.Processors(ppath.Dir(path))
	if err != nil {
		return nil, err
	}
	return g.Registry.DispatchAllowed(path, allowed)
}

// CollectChanges walks root (a directory under the source tree, or the
// source tree itself) and compares every file's size and modification
// time against the catalog, within the root's transaction. Files whose
// catalog record is missing or stale are added to Generate; catalog
// records under root with no file on disk are added to Delete.
func (g *Generator) CollectChanges(tx *catalog.Tx, root string) (ChangeSet, error) {
	cs := newChangeSet()
	onDisk := map[string]bool{}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel := g.Paths.ToRelative(path)
		if g.Ignore != nil && g.Ignore(rel) {
			return nil
		}
		onDisk[rel] = true

		info, err := d.Info()
		if err != nil {
			return nil
		}

		existing, ok, err := tx.GetSource(rel)
		if err != nil {
			return err
		}
		if !ok {
			cs.Generate[rel] = true
			return nil
		}

		sizeChanged := existing.Size != info.Size()
		mtimeChanged := absDuration(info.ModTime().Unix()-existing.Modified) > int64(mtimeTolerance/time.Second)
		if sizeChanged || mtimeChanged {
			cs.Generate[rel] = true
		}
		return nil
	})
	if err != nil {
		return cs, fmt.Errorf("generator: collect changes under %s: %w", root, err)
	}

	pathRegex, err := g.Paths.PathRegex(root, true)
	if err != nil {
		return cs, err
	}
	tracked, err := tx.GetSources(pathRegex.String(), true)
	if err != nil {
		return cs, err
	}
	for _, s := range tracked {
		if !onDisk[s.Path] {
			cs.Delete[s.Path] = true
		}
	}

	return cs, nil
}

func absDuration(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// ProcessChanges runs one full build cycle against cs: a delete pass, a
// prepare pass over cs.Generate (with a dependency-closure snapshot
// taken before and after, so newly- or no-longer-dependent sources are
// swept in), a second prepare pass over whatever the closure pulled in
// beyond cs.Generate, a generate pass over the combined set, and
// generation_complete for every processor — all within tx, which the
// caller commits on success. Every path in the combined set is prepared
// before any of it is generated.
func (g *Generator) ProcessChanges(tx *catalog.Tx, cs ChangeSet) error {
	if err := g.runDeletePass(tx, cs); err != nil {
		return err
	}

	preClosure := g.dependencyClosure(tx, cs.Generate)

	if err := g.runPreparePass(tx, cs.Generate); err != nil {
		return err
	}

	postClosure := g.dependencyClosure(tx, cs.Generate)

	depChanges := map[string]bool{}
	for p := range preClosure {
		depChanges[p] = true
	}
	for p := range postClosure {
		depChanges[p] = true
	}

	// Every path pulled in only through the closure still needs its own
	// Prepare before anything is generated: Prepare must finish on the
	// whole combined set before Generate runs on any of it.
	onlyInClosure := map[string]bool{}
	for p := range depChanges {
		if !cs.Generate[p] {
			onlyInClosure[p] = true
		}
	}
	if err := g.runPreparePass(tx, onlyInClosure); err != nil {
		return err
	}

	toGenerate := map[string]bool{}
	for p := range cs.Generate {
		toGenerate[p] = true
	}
	for p := range depChanges {
		toGenerate[p] = true
	}

	if err := g.runGeneratePass(tx, toGenerate); err != nil {
		return err
	}

	for _, p := range g.Registry.All() {
		if err := p.GenerationComplete(); err != nil {
			return &processorFailure{path: "", op: "generation_complete", processor: p.Name(), err: err}
		}
	}

	return nil
}

// dependencyClosure returns the reverse transitive closure (structural
// and context-variable) of every path in changed: everything that would
// need to be rebuilt if these paths' content or published context
// changed. Every context-variable consumer pulled in this way also
// contributes its own structural reverse closure, so a source that
// structurally depends on a context-var consumer is swept in too.
func (g *Generator) dependencyClosure(tx *catalog.Tx, changed map[string]bool) map[string]bool {
	out := map[string]bool{}
	for path := range changed {
		structural, err := tx.GetDependencies(path, true, true)
		if err == nil {
			for _, d := range structural {
				out[d] = true
			}
		}
		contextual, err := tx.GetContextVarDeps(path, true, true, true)
		if err == nil {
			for _, k := range contextual {
				out[k] = true
				fromK, err := tx.GetDependencies(k, true, true)
				if err == nil {
					for _, d := range fromK {
						out[d] = true
					}
				}
			}
		}
	}
	return out
}

// recoverPath logs a per-path failure and lets the cycle continue,
// unless the failure originated in the catalog's storage, in which case
// the whole cycle must abort without committing.
func (g *Generator) recoverPath(path, op, procName string, err error) error {
	if catalog.IsStoreError(err) {
		return err
	}
	failure := &processorFailure{path: path, op: op, processor: procName, err: err}
	if g.Log != nil {
		g.Log.Error(failure.Error())
	}
	return nil
}

func (g *Generator) runDeletePass(tx *catalog.Tx, cs ChangeSet) error {
	for _, path := range sortedKeys(cs.Delete) {
		p, err := g.dispatch(path)
		if err != nil {
			// No processor claims a path that no longer exists; fall back
			// to removing its catalog record directly.
			if err := tx.RemoveSource(path); err != nil {
				return err
			}
			continue
		}
		ctx := &processor.Context{Catalog: tx, Paths: g.Paths, Path: path}
		if err := p.Delete(ctx); err != nil {
			if aborted := g.recoverPath(path, "delete", p.Name(), err); aborted != nil {
				return aborted
			}
		}
	}
	return nil
}

func (g *Generator) runPreparePass(tx *catalog.Tx, generate map[string]bool) error {
	for _, path := range sortedKeys(generate) {
		p, err := g.dispatch(path)
		if err != nil {
			if aborted := g.recoverPath(path, "prepare", "", err); aborted != nil {
				return aborted
			}
			continue
		}
		ctx := &processor.Context{Catalog: tx, Paths: g.Paths, Path: path}
		if err := p.Prepare(ctx); err != nil {
			if aborted := g.recoverPath(path, "prepare", p.Name(), err); aborted != nil {
				return aborted
			}
		}
	}
	return nil
}

func (g *Generator) runGeneratePass(tx *catalog.Tx, toGenerate map[string]bool) error {
	for _, path := range sortedKeys(toGenerate) {
		p, err := g.dispatch(path)
		if err != nil {
			if aborted := g.recoverPath(path, "generate", "", err); aborted != nil {
				return aborted
			}
			continue
		}
		ctx := &processor.Context{Catalog: tx, Paths: g.Paths, Path: path}
		if err := p.Generate(ctx); err != nil {
			if aborted := g.recoverPath(path, "generate", p.Name(), err); aborted != nil {
				return aborted
			}
		}
	}
	return nil
}

// Reset wipes the build tree and the catalog entirely, so the next
// CollectChanges/ProcessChanges cycle treats every source as new.
func (g *Generator) Reset() error {
	if err := os.RemoveAll(g.Paths.BuildRoot); err != nil {
		return fmt.Errorf("generator: reset build tree: %w", err)
	}
	if err := os.MkdirAll(g.Paths.BuildRoot, 0755); err != nil {
		return fmt.Errorf("generator: recreate build root: %w", err)
	}
	return g.Catalog.Wipe()
}

// Clean synthesizes a delete event for every tracked source under each of
// dirs, without touching the source files on disk, then runs the delete
// pass and a catalog sweep so those paths are rebuilt fresh on the next
// cycle.
func (g *Generator) Clean(tx *catalog.Tx, dirs []string) error {
	cs := newChangeSet()
	var regexes []string
	for _, dir := range dirs {
		re, err := g.Paths.PathRegex(dir, true)
		if err != nil {
			return err
		}
		regexes = append(regexes, re.String())

		tracked, err := tx.GetSources(re.String(), true)
		if err != nil {
			return err
		}
		for _, s := range tracked {
			cs.Delete[s.Path] = true
		}
	}

	if err := g.runDeletePass(tx, cs); err != nil {
		return err
	}
	// Safety net: a path whose processor dispatch failed above may still
	// have a catalog row; sweep anything left under dirs directly.
	return tx.Clean(regexes)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// processorFailure is a locally-recoverable error: the dispatcher logs it
// and moves on to the next path rather than aborting the whole cycle.
// A GenerationComplete failure is instead returned from ProcessChanges
// as-is; it is not translated into a pydgeot.ProcessorError.
type processorFailure struct {
	path      string
	op        string
	processor string
	err       error
}

func (e *processorFailure) Error() string {
	return fmt.Sprintf("generator: %s failed during %s on %s: %v", e.processor, e.op, e.path, e.err)
}

func (e *processorFailure) Unwrap() error { return e.err }
