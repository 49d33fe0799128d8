package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
)

// Tx scopes catalog operations to a single build-cycle transaction.
// Obtain one from Catalog.Begin, perform a prepare/generate cycle's
// worth of calls against it, then Commit on success or Rollback on
// failure. A Tx that is never committed rolls back when Rollback is
// called or its underlying connection is closed.
type Tx struct {
	tx         *sqlx.Tx
	sourceRoot string
}

// resolveSourcePath returns the real filesystem location of a
// source-relative catalog path, so AddSource can stat the file it
// actually names rather than whatever the process's cwd happens to be.
// An already-absolute path (as the package's own tests pass directly) is
// used as-is.
func (t *Tx) resolveSourcePath(path string) string {
	if t.sourceRoot == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(t.sourceRoot, filepath.FromSlash(path))
}

// Commit finalizes every change made through this Tx.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return &storeErr{op: "commit", err: err}
	}
	return nil
}

// Rollback discards every change made through this Tx.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// storeErr is the sentinel returned for failures originating in the
// underlying store rather than caller error (e.g. a source not found).
// It reaches callers of App.Build and App.Clean as-is, not wrapped in a
// pydgeot.StoreError; IsStoreError recognizes it.
type storeErr struct {
	op  string
	err error
}

func (e *storeErr) Error() string { return fmt.Sprintf("catalog: %s: %v", e.op, e.err) }
func (e *storeErr) Unwrap() error { return e.err }

// IsStoreError reports whether err originated in the catalog's
// underlying storage, as opposed to caller/processor error. Callers
// driving a build cycle use this to decide whether an error should
// abort the whole cycle (a store error) or just the one path that
// produced it (anything else).
func IsStoreError(err error) bool {
	var se *storeErr
	return errors.As(err, &se)
}

// AddSource inserts path as a newly-seen source, or updates its size and
// modified time if it already exists and either has changed. It stats
// path (resolved against the catalog's source root, if path is given in
// source-relative form) on disk; a missing file is recorded with size 0
// and modified 0, matching a source that is about to be removed.
func (t *Tx) AddSource(path string) (int64, error) {
	size, modified := int64(0), int64(0)
	if info, err := os.Stat(t.resolveSourcePath(path)); err == nil {
		size = info.Size()
		modified = info.ModTime().Unix()
	}

	var existing Source
	err := t.tx.Get(&existing, `SELECT id, path, size, modified FROM sources WHERE path = ?`, path)
	switch {
	case err == nil:
		if existing.Size != size || existing.Modified != modified {
			_, err := t.tx.Exec(`UPDATE sources SET size = ?, modified = ? WHERE id = ?`, size, modified, existing.ID)
			if err != nil {
				return 0, &storeErr{"add_source:update", err}
			}
		}
		return existing.ID, nil
	case isNoRows(err):
		res, err := t.tx.Exec(`INSERT INTO sources (path, size, modified) VALUES (?, ?, ?)`, path, size, modified)
		if err != nil {
			return 0, &storeErr{"add_source:insert", err}
		}
		return res.LastInsertId()
	default:
		return 0, &storeErr{"add_source:select", err}
	}
}

// GetSource returns the catalog record for path, and false if it is not
// tracked.
func (t *Tx) GetSource(path string) (Source, bool, error) {
	var s Source
	err := t.tx.Get(&s, `SELECT id, path, size, modified FROM sources WHERE path = ?`, path)
	if isNoRows(err) {
		return Source{}, false, nil
	}
	if err != nil {
		return Source{}, false, &storeErr{"get_source", err}
	}
	return s, true, nil
}

// GetSources returns every tracked source whose path matches pathRegex
// (as built by pathsvc.Service.PathRegex), ordered by path. recursive is
// not consulted: whether descendants or only direct children are
// returned is decided by the regex itself.
func (t *Tx) GetSources(pathRegex string, recursive bool) ([]Source, error) {
	var out []Source
	err := t.tx.Select(&out,
		`SELECT id, path, size, modified FROM sources WHERE path REGEXP ? ORDER BY path`, pathRegex)
	if err != nil {
		return nil, &storeErr{"get_sources", err}
	}
	return out, nil
}

// RemoveSource deletes path and, by cascade, its targets, structural
// dependency edges, and context variables.
func (t *Tx) RemoveSource(path string) error {
	_, err := t.tx.Exec(`DELETE FROM sources WHERE path = ?`, path)
	if err != nil {
		return &storeErr{"remove_source", err}
	}
	return nil
}

// SetTargets replaces the full set of targets recorded for source.
// source is added as a tracked source if it is not already, the same as
// SetDependencies: a processor's Prepare is free to call SetTargets as
// its only catalog write for a brand-new file, and that alone must be
// enough to create the source's row.
func (t *Tx) SetTargets(source string, paths []string) error {
	id, err := t.AddSource(source)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(`DELETE FROM source_targets WHERE source_id = ?`, id); err != nil {
		return &storeErr{"set_targets:clear", err}
	}
	for _, p := range paths {
		if _, err := t.tx.Exec(`INSERT INTO source_targets (source_id, path) VALUES (?, ?)`, id, p); err != nil {
			return &storeErr{"set_targets:insert", err}
		}
	}
	return nil
}

// GetTargets returns the targets recorded for source. When reverse is
// true, source is instead treated as a target path, and the sources that
// produce it are returned.
func (t *Tx) GetTargets(source string, reverse bool) ([]string, error) {
	var out []string
	var err error
	if reverse {
		err = t.tx.Select(&out, `
			SELECT s.path FROM sources s
			INNER JOIN source_targets st ON st.source_id = s.id
			WHERE st.path = ? ORDER BY s.path`, source)
	} else {
		err = t.tx.Select(&out, `
			SELECT st.path FROM source_targets st
			INNER JOIN sources s ON s.id = st.source_id
			WHERE s.path = ? ORDER BY st.path`, source)
	}
	if err != nil {
		return nil, &storeErr{"get_targets", err}
	}
	return out, nil
}

// SetDependencies replaces the full set of structural dependencies
// recorded for source. Each dependency path is added as a source if it
// is not already tracked.
func (t *Tx) SetDependencies(source string, paths []string) error {
	id, err := t.AddSource(source)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(`DELETE FROM source_dependencies WHERE source_id = ?`, id); err != nil {
		return &storeErr{"set_dependencies:clear", err}
	}
	for _, p := range paths {
		depID, err := t.AddSource(p)
		if err != nil {
			return err
		}
		if _, err := t.tx.Exec(`INSERT INTO source_dependencies (source_id, dependency_id) VALUES (?, ?)`, id, depID); err != nil {
			return &storeErr{"set_dependencies:insert", err}
		}
	}
	return nil
}

// GetDependencies returns source's structural dependencies. When reverse
// is true, it returns the sources that depend on source instead. When
// recursive is true, the result is the full transitive closure,
// terminating safely on dependency cycles.
func (t *Tx) GetDependencies(source string, reverse, recursive bool) ([]string, error) {
	if !recursive {
		return t.directDependencies(source, reverse)
	}
	visited := map[string]bool{}
	t.collectDependenciesRecursive(source, reverse, visited)
	delete(visited, source)
	out := make([]string, 0, len(visited))
	for p := range visited {
		out = append(out, p)
	}
	return out, nil
}

func (t *Tx) directDependencies(source string, reverse bool) ([]string, error) {
	var out []string
	var err error
	if reverse {
		err = t.tx.Select(&out, `
			SELECT s.path FROM sources s
			INNER JOIN source_dependencies sd ON sd.source_id = s.id
			INNER JOIN sources d ON d.id = sd.dependency_id
			WHERE d.path = ? ORDER BY s.path`, source)
	} else {
		err = t.tx.Select(&out, `
			SELECT d.path FROM source_dependencies sd
			INNER JOIN sources s ON s.id = sd.source_id
			INNER JOIN sources d ON d.id = sd.dependency_id
			WHERE s.path = ? ORDER BY d.path`, source)
	}
	if err != nil {
		return nil, &storeErr{"get_dependencies", err}
	}
	return out, nil
}

func (t *Tx) collectDependenciesRecursive(source string, reverse bool, visited map[string]bool) {
	if visited[source] {
		return
	}
	visited[source] = true
	direct, err := t.directDependencies(source, reverse)
	if err != nil {
		return
	}
	for _, d := range direct {
		t.collectDependenciesRecursive(d, reverse, visited)
	}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
