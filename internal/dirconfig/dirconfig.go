// Package dirconfig resolves the cascading per-directory configuration
// files an application uses to scope which processors apply where, and
// which paths are ignored entirely.
//
// Every directory between an app's source root and the directory being
// built may carry a ".pydgeot.conf" (or "pydgeot.conf" at the source
// root itself) JSON object. A child directory's config inherits from its
// parent: list-valued keys are replaced wholesale if the child defines
// the key at all, object-valued keys are deep-merged with the child's
// values winning on conflict, and any key name ending in "!" forces
// outright replacement even for an object value.
package dirconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/broiledmeat/pydgeot-go/internal/glob"
)

const (
	perDirConfigName = ".pydgeot.conf"
	rootConfigName   = "pydgeot.conf"
)

// ProcessorLookup resolves a processor name to its priority, used only to
// sort the "processors" key's contents the way the registry would; the
// actual processor instances are resolved by the caller.
type ProcessorLookup func(name string) (priority int, ok bool)

// Config is the resolved configuration in effect for one directory.
type Config struct {
	// ProcessorNames is the ordered list of processor names active in
	// this directory, descending by priority when Resolve is given a
	// lookup, and in config file order when it is not.
	ProcessorNames []string
	// Ignore is the set of glob patterns, already rewritten relative to
	// the app's source root, that exclude matching paths from
	// processing.
	Ignore []*glob.Glob
	// Extra holds every other config key, deep-merged from ancestor
	// directories.
	Extra map[string]any
}

// Resolve walks from the app's source root down to dir, applying each
// level's config file in turn, and returns the effective Config for dir.
func Resolve(sourceRoot, dir string, lookup ProcessorLookup) (*Config, error) {
	chain, err := configChain(sourceRoot, dir)
	if err != nil {
		return nil, err
	}

	cfg := &Config{Extra: map[string]any{}}
	for _, path := range chain {
		raw, ok, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		rel, _ := filepath.Rel(sourceRoot, filepath.Dir(path))
		rel = filepath.ToSlash(rel)
		if rel == "." {
			rel = ""
		}
		if err := applyLevel(cfg, raw, rel, lookup); err != nil {
			return nil, &ConfigError{Path: path, Err: err}
		}
	}
	return cfg, nil
}

// ConfigError wraps a malformed directory config file.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("dirconfig: %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// configChain returns the config file paths from sourceRoot down to dir,
// in application order (root first).
func configChain(sourceRoot, dir string) ([]string, error) {
	rel, err := filepath.Rel(sourceRoot, dir)
	if err != nil {
		return nil, fmt.Errorf("dirconfig: %s is not under %s: %w", dir, sourceRoot, err)
	}
	var levels []string
	if rel == "." {
		levels = nil
	} else {
		levels = strings.Split(filepath.ToSlash(rel), "/")
	}

	var chain []string
	chain = append(chain, filepath.Join(sourceRoot, rootConfigName))
	cur := sourceRoot
	for _, level := range levels {
		cur = filepath.Join(cur, level)
		chain = append(chain, filepath.Join(cur, perDirConfigName))
	}
	return chain, nil
}

func readConfigFile(path string) (map[string]any, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, &ConfigError{Path: path, Err: err}
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, &ConfigError{Path: path, Err: err}
	}
	return raw, true, nil
}

func applyLevel(cfg *Config, raw map[string]any, relDir string, lookup ProcessorLookup) error {
	if names, ok := raw["processors"]; ok {
		list, ok := names.([]any)
		if !ok {
			return fmt.Errorf("\"processors\" must be a list")
		}
		cfg.ProcessorNames = cfg.ProcessorNames[:0]
		for _, v := range list {
			name, ok := v.(string)
			if !ok {
				return fmt.Errorf("\"processors\" entries must be strings")
			}
			cfg.ProcessorNames = append(cfg.ProcessorNames, name)
		}
		if lookup != nil {
			sortByPriorityDescending(cfg.ProcessorNames, lookup)
		}
	}

	if rawIgnore, ok := raw["ignore"]; ok {
		list, ok := rawIgnore.([]any)
		if !ok {
			return fmt.Errorf("\"ignore\" must be a list")
		}
		cfg.Ignore = nil
		for _, v := range list {
			pattern, ok := v.(string)
			if !ok {
				return fmt.Errorf("\"ignore\" entries must be strings")
			}
			if relDir != "" {
				pattern = relDir + "/" + pattern
			}
			g, err := glob.Compile(pattern)
			if err != nil {
				return fmt.Errorf("\"ignore\": %w", err)
			}
			cfg.Ignore = append(cfg.Ignore, g)
		}
	}

	for key, value := range raw {
		if key == "processors" || key == "ignore" {
			continue
		}
		forceReplace := strings.HasSuffix(key, "!")
		name := strings.TrimSuffix(key, "!")
		if forceReplace {
			cfg.Extra[name] = value
			continue
		}
		cfg.Extra[name] = mergeValue(cfg.Extra[name], value)
	}
	return nil
}

// mergeValue combines an inherited value with a child-level override:
// lists are replaced wholesale, objects are deep-merged with child keys
// winning, and any other value type is replaced.
func mergeValue(existing, incoming any) any {
	existingMap, existingIsMap := existing.(map[string]any)
	incomingMap, incomingIsMap := incoming.(map[string]any)
	if existingIsMap && incomingIsMap {
		merged := make(map[string]any, len(existingMap)+len(incomingMap))
		for k, v := range existingMap {
			merged[k] = v
		}
		for k, v := range incomingMap {
			forceReplace := strings.HasSuffix(k, "!")
			name := strings.TrimSuffix(k, "!")
			if forceReplace {
				merged[name] = v
				continue
			}
			merged[name] = mergeValue(merged[name], v)
		}
		return merged
	}
	return incoming
}

func sortByPriorityDescending(names []string, lookup ProcessorLookup) {
	priority := make(map[string]int, len(names))
	for _, n := range names {
		p, _ := lookup(n)
		priority[n] = p
	}
	// Simple stable insertion sort: the lists here are short (a handful
	// of processor names per directory).
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && priority[names[j-1]] < priority[names[j]]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
}
