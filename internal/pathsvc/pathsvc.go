// Package pathsvc maps between an application's source tree and its build
// output tree, and builds the anchored regular expressions the catalog
// uses to scope queries to a directory.
package pathsvc

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Service maps paths between the source and build roots of a single
// application. Both roots are absolute and symlink-resolved at
// construction, so two different paths into the same tree (e.g. one
// through a symlinked mount) always normalize identically.
type Service struct {
	SourceRoot string
	BuildRoot  string
}

// New resolves sourceRoot and buildRoot to absolute, symlink-resolved
// paths and returns a Service bound to them.
func New(sourceRoot, buildRoot string) (*Service, error) {
	src, err := resolveRoot(sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("pathsvc: resolve source root: %w", err)
	}
	build, err := resolveRoot(buildRoot)
	if err != nil {
		return nil, fmt.Errorf("pathsvc: resolve build root: %w", err)
	}
	return &Service{SourceRoot: src, BuildRoot: build}, nil
}

func resolveRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// The root may not exist yet (e.g. build/ before the first build);
		// fall back to the absolute, non-symlink-resolved path.
		return abs, nil
	}
	return resolved, nil
}

// ToSource derives the absolute path under SourceRoot equivalent to
// path, accepted in any of its three forms: relative, source-absolute,
// or build-absolute.
func (s *Service) ToSource(path string) string {
	return s.rebase(path, s.BuildRoot, s.SourceRoot)
}

// ToBuild derives the absolute path under BuildRoot equivalent to path,
// accepted in any of its three forms: relative, source-absolute, or
// build-absolute.
func (s *Service) ToBuild(path string) string {
	return s.rebase(path, s.SourceRoot, s.BuildRoot)
}

// ToRelative strips SourceRoot (or BuildRoot, whichever matches) from
// path, returning a '/'-separated path relative to that root. If path is
// not under either root, it is returned unchanged.
func (s *Service) ToRelative(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	for _, root := range []string{s.SourceRoot, s.BuildRoot} {
		if rel, ok := stripRoot(abs, root); ok {
			return rel
		}
	}
	return filepath.ToSlash(path)
}

// rebase rewrites path, given in any of its three accepted forms, into
// the equivalent absolute path under toRoot. A path that isn't absolute
// is already in relative form (forward-slash, relative to whichever
// root it's scoped to) rather than relative to the process's working
// directory, so it's joined onto toRoot directly rather than run through
// filepath.Abs.
func (s *Service) rebase(path, fromRoot, toRoot string) string {
	if !filepath.IsAbs(path) {
		rel := strings.Trim(filepath.ToSlash(path), "/")
		if rel == "" {
			return toRoot
		}
		return filepath.Join(toRoot, filepath.FromSlash(rel))
	}
	rel, ok := stripRoot(path, fromRoot)
	if !ok {
		return path
	}
	if rel == "" {
		return toRoot
	}
	return filepath.Join(toRoot, filepath.FromSlash(rel))
}

func stripRoot(abs, root string) (string, bool) {
	if abs == root {
		return "", true
	}
	prefix := root + string(filepath.Separator)
	if strings.HasPrefix(abs, prefix) {
		return filepath.ToSlash(strings.TrimPrefix(abs, prefix)), true
	}
	return "", false
}

// PathRegex builds an anchored regular expression matching every path
// within dir (relative to SourceRoot). When recursive is true, the
// expression matches arbitrarily deep descendants; otherwise it matches
// only direct children.
func (s *Service) PathRegex(dir string, recursive bool) (*regexp.Regexp, error) {
	rel := s.ToRelative(dir)
	rel = strings.Trim(rel, "/")

	var match string
	if recursive {
		match = ".*"
	} else {
		match = "[^/]*"
	}

	var pattern string
	if rel == "" {
		pattern = fmt.Sprintf("^(%s)$", match)
	} else {
		pattern = fmt.Sprintf("^%s/(%s)$", regexp.QuoteMeta(rel), match)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("pathsvc: build path regex for %q: %w", dir, err)
	}
	return re, nil
}
