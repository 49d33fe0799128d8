package integration_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	pydgeot "github.com/broiledmeat/pydgeot-go"
	"github.com/broiledmeat/pydgeot-go/internal/processor"
)

// newAppWithTmplProcessor scaffolds an app and swaps its processor
// registry for one that also understands ".tmpl" sources, ahead of the
// built-in fallbacks loaded from config.
func newAppWithTmplProcessor(t *testing.T) *pydgeot.App {
	t.Helper()
	app := newApp(t)
	tp := &tmplProcessor{paths: app.Paths}
	procs := append([]processor.Processor{tp}, app.Registry.All()...)
	app.Registry = processor.NewRegistry(procs)
	app.Generator.Registry = app.Registry
	return app
}

// TestStructuralDependencyCascade is scenario S1: a source that depends
// on another is rebuilt when that dependency changes, even though the
// dependent source itself is unchanged on disk.
func TestStructuralDependencyCascade(t *testing.T) {
	app := newAppWithTmplProcessor(t)

	writeSource(t, app, "base.tmpl", "base content\n")
	writeSource(t, app, "a.tmpl", "depends: base.tmpl\nuses base\n")

	_, err := app.Build()
	require.NoError(t, err)
	require.Equal(t, "uses base\n", readBuilt(t, app, "a.out"))

	// Rewrite base.tmpl with different content (and so a different
	// size), simulating an edit without touching a.tmpl. a.out is removed
	// first so its reappearance shows a.tmpl was regenerated.
	writeSource(t, app, "base.tmpl", "base content, edited\n")
	require.NoError(t, os.Remove(filepath.Join(app.BuildRoot, "a.out")))

	cs, err := app.Build()
	require.NoError(t, err)
	// The returned ChangeSet lists only what changed on disk; a.tmpl is
	// swept in by the dependency closure inside ProcessChanges.
	require.Contains(t, cs.Generate, "base.tmpl")
	require.NotContains(t, cs.Generate, "a.tmpl")
	require.Equal(t, "uses base\n", readBuilt(t, app, "a.out"))
}

// TestContextVariableCascade is scenario S2: a source that demands a
// context variable is rebuilt when the source publishing it changes,
// even though the demanding source is unchanged on disk.
func TestContextVariableCascade(t *testing.T) {
	app := newAppWithTmplProcessor(t)

	writeSource(t, app, "x.tmpl", "publish: category=news\nx body\n")
	writeSource(t, app, "index.tmpl", "demand: category\ncategory is {{category}}\n")

	_, err := app.Build()
	require.NoError(t, err)
	require.Equal(t, "category is news\n", readBuilt(t, app, "index.out"))

	writeSource(t, app, "x.tmpl", "publish: category=blog\nx body, edited\n")

	cs, err := app.Build()
	require.NoError(t, err)
	// Only x.tmpl changed on disk; index.tmpl is regenerated through the
	// context-variable closure, not listed in the returned ChangeSet.
	require.Contains(t, cs.Generate, "x.tmpl")
	require.NotContains(t, cs.Generate, "index.tmpl")
	require.Equal(t, "category is blog\n", readBuilt(t, app, "index.out"))
}

// TestCopyFallbackDeleteRemovesTarget is scenario S3: a source handled
// only by the lowest-priority copy fallback is unlinked from the build
// tree, and forgotten by the catalog, once its source file is deleted.
func TestCopyFallbackDeleteRemovesTarget(t *testing.T) {
	app := newApp(t)
	writeSource(t, app, "copy_me.bin", "binary-ish content")

	cs, err := app.Build()
	require.NoError(t, err)
	require.Contains(t, cs.Generate, "copy_me.bin")
	require.True(t, builtExists(app, "copy_me.bin"))

	require.NoError(t, os.Remove(filepath.Join(app.SourceRoot, "copy_me.bin")))

	cs, err = app.Build()
	require.NoError(t, err)
	require.Contains(t, cs.Delete, "copy_me.bin")
	require.False(t, builtExists(app, "copy_me.bin"))
}

// TestIgnoreGlobExcludesDirectory is scenario S5: files under a
// directory matched by an "ignore" glob never appear in a ChangeSet.
func TestIgnoreGlobExcludesDirectory(t *testing.T) {
	app := newApp(t)
	writeSource(t, app, "pydgeot.conf", `{"ignore": ["drafts/**"]}`)
	writeSource(t, app, "drafts/wip.html", "not ready")
	writeSource(t, app, "published.html", "ready")

	cs, err := app.Build()
	require.NoError(t, err)
	require.Contains(t, cs.Generate, "published.html")
	require.NotContains(t, cs.Generate, "drafts/wip.html")
	require.False(t, builtExists(app, "drafts/wip.html"))
}

// insistingProcessor always claims a fixed priority and extension, and
// insists or yields during negotiation according to a flag, so tests can
// set up two contenders where exactly one insists.
type insistingProcessor struct {
	processor.BaseProcessor
	name     string
	priority int
	suffix   string
	insists  bool
}

func (p *insistingProcessor) Name() string  { return p.name }
func (p *insistingProcessor) Priority() int { return p.priority }
func (p *insistingProcessor) CanProcess(path string) bool {
	return len(path) >= len(p.suffix) && path[len(path)-len(p.suffix):] == p.suffix
}
func (p *insistingProcessor) Negotiate(path string, contenders []processor.Processor) bool {
	return p.insists
}

// TestNegotiationSelectsInsistingProcessor is scenario S4: two
// processors at equal priority both claim a path; the one that insists
// during negotiation wins dispatch deterministically.
func TestNegotiationSelectsInsistingProcessor(t *testing.T) {
	a := &insistingProcessor{name: "a", priority: 50, suffix: ".html", insists: true}
	b := &insistingProcessor{name: "b", priority: 50, suffix: ".html", insists: false}

	app := newApp(t)
	procs := append([]processor.Processor{a, b}, app.Registry.All()...)
	app.Registry = processor.NewRegistry(procs)
	app.Generator.Registry = app.Registry

	got, err := app.Registry.Dispatch("x.html")
	require.NoError(t, err)
	require.Equal(t, "a", got.Name())
}
