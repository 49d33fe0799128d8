// Package pydgeot is the application shell: it resolves an application's
// directory layout, loads its configuration and plugins, and wires the
// path service, catalog, processor registry, and generator together into
// the handful of operations the CLI drives (build, watch, reset, clean).
package pydgeot

import (
	"encoding/json"
	"fmt"
	"os"
	ppath "path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/broiledmeat/pydgeot-go/internal/builtins"
	"github.com/broiledmeat/pydgeot-go/internal/catalog"
	"github.com/broiledmeat/pydgeot-go/internal/dirconfig"
	"github.com/broiledmeat/pydgeot-go/internal/generator"
	"github.com/broiledmeat/pydgeot-go/internal/pathsvc"
	"github.com/broiledmeat/pydgeot-go/internal/processor"
	"github.com/broiledmeat/pydgeot-go/internal/watcher"
)

const (
	configFileName  = "pydgeot.json"
	catalogFileName = "catalog.db"
	logFileName     = "app.log"
	sourceDirName   = "source"
	buildDirName    = "build"
	storeDirName    = "store"
)

// configSchema validates the *shape* of pydgeot.json: a config with the
// wrong shape (e.g. "plugins" as a string instead of a list) surfaces as
// a ConfigError naming the offending pointer, rather than silently
// zero-valuing the field.
const configSchema = `{
	"type": "object",
	"properties": {
		"plugins": {
			"type": "array",
			"items": {"type": "string"}
		}
	}
}`

// Config is the decoded contents of an application's pydgeot.json.
type Config struct {
	// Plugins lists the processor plugins to load. Names prefixed with
	// "builtins." resolve against the internal builtins registry; any
	// other name is looked up there too, since this distribution links
	// every known processor in statically (see DESIGN.md).
	Plugins []string `json:"plugins"`
}

// App is one loaded pydgeot application: its resolved directory layout,
// its decoded config, and the services built from them.
type App struct {
	Root       string
	SourceRoot string
	BuildRoot  string
	StoreRoot  string
	LogRoot    string
	ConfigPath string

	Config    *Config
	Log       *Logger
	Catalog   *catalog.Catalog
	Paths     *pathsvc.Service
	Registry  *processor.Registry
	Generator *generator.Generator
}

// IsValidRoot reports whether root is an existing directory containing a
// pydgeot.json file, the minimum an application root must have.
func IsValidRoot(root string) bool {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return false
	}
	_, err = os.Stat(filepath.Join(root, configFileName))
	return err == nil
}

// Create scaffolds a new application at root: source/, build/, and
// store/log/ directories, and a default pydgeot.json enabling the
// builtin fallback and CSS processors.
func Create(root string) error {
	if err := os.MkdirAll(filepath.Join(root, sourceDirName), 0755); err != nil {
		return fmt.Errorf("pydgeot: create source dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, buildDirName), 0755); err != nil {
		return fmt.Errorf("pydgeot: create build dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, storeDirName, "log"), 0755); err != nil {
		return fmt.Errorf("pydgeot: create store dir: %w", err)
	}

	configPath := filepath.Join(root, configFileName)
	if _, err := os.Stat(configPath); err == nil {
		return nil // already initialized
	}
	defaultConfig := Config{Plugins: []string{"builtins.css", "builtins.copyfallback"}}
	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("pydgeot: encode default config: %w", err)
	}
	if err := os.WriteFile(configPath, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("pydgeot: write %s: %w", configFileName, err)
	}
	return nil
}

// Load resolves root's directory layout, loads pydgeot.json, opens the
// catalog, loads the configured plugins, and returns a ready-to-use App.
// root must satisfy IsValidRoot, or an *InvalidAppRootError is returned.
func Load(root string) (*App, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("pydgeot: resolve root: %w", err)
	}
	if !IsValidRoot(absRoot) {
		return nil, &InvalidAppRootError{Root: absRoot}
	}

	a := &App{
		Root:       absRoot,
		SourceRoot: filepath.Join(absRoot, sourceDirName),
		BuildRoot:  filepath.Join(absRoot, buildDirName),
		StoreRoot:  filepath.Join(absRoot, storeDirName),
		LogRoot:    filepath.Join(absRoot, storeDirName, "log"),
		ConfigPath: filepath.Join(absRoot, configFileName),
	}

	cfg, err := loadConfig(a.ConfigPath)
	if err != nil {
		return nil, err
	}
	a.Config = cfg

	if err := os.MkdirAll(a.SourceRoot, 0755); err != nil {
		return nil, fmt.Errorf("pydgeot: create source root: %w", err)
	}
	if err := os.MkdirAll(a.BuildRoot, 0755); err != nil {
		return nil, fmt.Errorf("pydgeot: create build root: %w", err)
	}
	if err := os.MkdirAll(a.LogRoot, 0755); err != nil {
		return nil, fmt.Errorf("pydgeot: create log root: %w", err)
	}

	log, err := NewFileLogger(filepath.Join(a.LogRoot, logFileName))
	if err != nil {
		return nil, fmt.Errorf("pydgeot: open log file: %w", err)
	}
	a.Log = log

	paths, err := pathsvc.New(a.SourceRoot, a.BuildRoot)
	if err != nil {
		return nil, err
	}
	a.Paths = paths

	cat, err := catalog.Open(filepath.Join(a.StoreRoot, catalogFileName), a.SourceRoot)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	a.Catalog = cat

	procs, err := loadPlugins(cfg.Plugins, builtins.Deps{SourceRoot: a.SourceRoot, BuildRoot: a.BuildRoot})
	if err != nil {
		cat.Close()
		return nil, err
	}
	a.Registry = processor.NewRegistry(procs)

	a.Generator = &generator.Generator{
		Catalog:    a.Catalog,
		Paths:      a.Paths,
		Registry:   a.Registry,
		Ignore:     a.isIgnored,
		Processors: a.allowedProcessors,
		Log:        a.Log,
	}

	return a, nil
}

// loadConfig decodes and schema-validates path.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	schemaLoader := gojsonschema.NewStringLoader(configSchema)
	docLoader := gojsonschema.NewBytesLoader(data)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	if !result.Valid() {
		msgs := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			msgs[i] = e.String()
		}
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("%s", strings.Join(msgs, "; "))}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return &cfg, nil
}

// loadPlugins resolves each configured plugin name to a builtin
// processor factory and constructs it. A "builtins." prefix is stripped
// before lookup; bare names are tried against the same registry, since
// this build links every known processor in statically rather than
// dynamically importing out-of-tree plugins (see DESIGN.md).
func loadPlugins(names []string, deps builtins.Deps) ([]processor.Processor, error) {
	var out []processor.Processor
	for _, name := range names {
		lookupName := strings.TrimPrefix(name, "builtins.")
		factory, ok := builtins.Get(lookupName)
		if !ok {
			return nil, &ConfigError{Path: "plugins", Err: fmt.Errorf("unknown processor plugin %q", name)}
		}
		out = append(out, factory(deps))
	}
	return out, nil
}

// Close releases the catalog's underlying database connection.
func (a *App) Close() error {
	if a.Catalog != nil {
		return a.Catalog.Close()
	}
	return nil
}

// Build runs exactly one CollectChanges/ProcessChanges cycle over the
// whole source tree, committing on success.
func (a *App) Build() (generator.ChangeSet, error) {
	tx, err := a.Catalog.Begin()
	if err != nil {
		return generator.ChangeSet{}, &StoreError{Op: "begin", Err: err}
	}
	cs, err := a.Generator.CollectChanges(tx, a.SourceRoot)
	if err != nil {
		tx.Rollback()
		return cs, err
	}
	if err := a.Generator.ProcessChanges(tx, cs); err != nil {
		tx.Rollback()
		return cs, err
	}
	if err := tx.Commit(); err != nil {
		return cs, err
	}
	return cs, nil
}

// Reset wipes the build tree and catalog, so the next Build rebuilds
// everything from scratch.
func (a *App) Reset() error {
	for _, p := range a.Registry.All() {
		if err := p.Reset(); err != nil {
			return &ProcessorError{Processor: p.Name(), Op: "reset", Err: err}
		}
	}
	return a.Generator.Reset()
}

// Clean synthesizes delete events for every tracked source under each of
// paths (accepted as source-, build-, or relative-form) without touching
// the source files on disk; their build outputs and catalog records are
// removed, so they are rebuilt fresh on the next Build.
func (a *App) Clean(paths []string) error {
	dirs := make([]string, len(paths))
	for i, p := range paths {
		dirs[i] = a.Paths.ToSource(p)
	}

	tx, err := a.Catalog.Begin()
	if err != nil {
		return &StoreError{Op: "begin", Err: err}
	}
	if err := a.Generator.Clean(tx, dirs); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Watch starts the filesystem observer over the source tree and runs a
// Build on each settled change, until the returned stop func is called.
// onCycle, if non-nil, is called after every cycle with the ChangeSet
// that was processed (or the error that aborted it).
func (a *App) Watch(eventTimeout, changedTimeout time.Duration, onCycle func(generator.ChangeSet, error)) (stop func(), err error) {
	obs := &watcher.Observer{
		Root:           a.SourceRoot,
		EventTimeout:   eventTimeout,
		ChangedTimeout: changedTimeout,
	}
	obs.OnSettled = func(string) {
		cs, buildErr := a.Build()
		if onCycle != nil {
			onCycle(cs, buildErr)
		}
	}
	if err := obs.Start(); err != nil {
		return nil, fmt.Errorf("pydgeot: start watcher: %w", err)
	}
	return obs.Stop, nil
}

// ProcessorNames returns every registered processor's name, highest
// priority first.
func (a *App) ProcessorNames() []string {
	procs := a.Registry.All()
	names := make([]string, len(procs))
	for i, p := range procs {
		names[i] = p.Name()
	}
	return names
}

// PluginNames returns every plugin name configured in pydgeot.json.
func (a *App) PluginNames() []string {
	out := make([]string, len(a.Config.Plugins))
	copy(out, a.Config.Plugins)
	sort.Strings(out)
	return out
}

// isIgnored reports whether relPath is excluded by its directory's
// "ignore" config.
func (a *App) isIgnored(relPath string) bool {
	cfg, err := a.dirConfig(ppath.Dir(relPath))
	if err != nil {
		return false
	}
	for _, g := range cfg.Ignore {
		if g.Match(relPath) {
			return true
		}
	}
	return false
}

// allowedProcessors resolves the "processors" list in effect for relDir,
// for the generator's directory-scoped dispatch.
func (a *App) allowedProcessors(relDir string) (map[string]bool, error) {
	cfg, err := a.dirConfig(relDir)
	if err != nil {
		return nil, err
	}
	if len(cfg.ProcessorNames) == 0 {
		return nil, nil
	}
	allowed := make(map[string]bool, len(cfg.ProcessorNames))
	for _, name := range cfg.ProcessorNames {
		allowed[name] = true
	}
	return allowed, nil
}

func (a *App) dirConfig(relDir string) (*dirconfig.Config, error) {
	if relDir == "." {
		relDir = ""
	}
	absDir := a.SourceRoot
	if relDir != "" {
		absDir = filepath.Join(a.SourceRoot, filepath.FromSlash(relDir))
	}
	lookup := func(name string) (int, bool) {
		for _, p := range a.Registry.All() {
			if p.Name() == name {
				return p.Priority(), true
			}
		}
		return 0, false
	}
	return dirconfig.Resolve(a.SourceRoot, absDir, lookup)
}
