// Package builtins is the static registry of processors shipped with
// pydgeot. Go has no runtime import-by-name, so every processor is
// registered here once at init time, and config only ever selects among
// these known names.
package builtins

import "github.com/broiledmeat/pydgeot-go/internal/processor"

// Factory constructs a fresh processor instance for one application.
type Factory func(deps Deps) processor.Processor

// Deps bundles the constructor-time dependencies a builtin processor
// needs, so Factory doesn't have to grow a parameter per processor.
type Deps struct {
	SourceRoot string
	BuildRoot  string
}

var available = map[string]Factory{}

// Register adds a processor factory under name. It is called from each
// builtin processor's own init function.
func Register(name string, factory Factory) {
	available[name] = factory
}

// Get returns the factory registered under name, and false if none is.
func Get(name string) (Factory, bool) {
	f, ok := available[name]
	return f, ok
}

// Names returns every registered processor name.
func Names() []string {
	out := make([]string, 0, len(available))
	for name := range available {
		out = append(out, name)
	}
	return out
}
