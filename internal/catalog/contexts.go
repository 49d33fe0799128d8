package catalog

// SetContextVar replaces any existing value(s) of name published by
// source with a single new value — the "set" (replace) variant of
// publishing a context variable, as opposed to AddContextVar's "append"
// variant.
func (t *Tx) SetContextVar(source, name, value string) error {
	id, err := t.AddSource(source)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(`DELETE FROM context_vars WHERE source_id = ? AND name = ?`, id, name); err != nil {
		return &storeErr{"set_context_var:clear", err}
	}
	if _, err := t.tx.Exec(`INSERT INTO context_vars (name, value, source_id) VALUES (?, ?, ?)`, name, value, id); err != nil {
		return &storeErr{"set_context_var:insert", err}
	}
	return nil
}

// AddContextVar appends a value of name published by source, without
// disturbing any other values of the same name the source already
// publishes.
func (t *Tx) AddContextVar(source, name, value string) error {
	id, err := t.AddSource(source)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(`INSERT INTO context_vars (name, value, source_id) VALUES (?, ?, ?)`, name, value, id); err != nil {
		return &storeErr{"add_context_var", err}
	}
	return nil
}

// RemoveContextVar removes context variables matching source and/or
// name. At least one of the two must be non-nil.
func (t *Tx) RemoveContextVar(source, name *string) error {
	switch {
	case source != nil && name != nil:
		_, err := t.tx.Exec(`
			DELETE FROM context_vars WHERE name = ? AND source_id = (SELECT id FROM sources WHERE path = ?)`,
			*name, *source)
		if err != nil {
			return &storeErr{"remove_context_var", err}
		}
	case source != nil:
		_, err := t.tx.Exec(`
			DELETE FROM context_vars WHERE source_id = (SELECT id FROM sources WHERE path = ?)`, *source)
		if err != nil {
			return &storeErr{"remove_context_var", err}
		}
	case name != nil:
		_, err := t.tx.Exec(`DELETE FROM context_vars WHERE name = ?`, *name)
		if err != nil {
			return &storeErr{"remove_context_var", err}
		}
	default:
		return &storeErr{"remove_context_var", errMissingSelector}
	}
	return nil
}

// GetContextVar returns every value published under name, optionally
// scoped to a single publishing source.
func (t *Tx) GetContextVar(name string, source *string) ([]string, error) {
	var out []string
	var err error
	if source != nil {
		err = t.tx.Select(&out, `
			SELECT cv.value FROM context_vars cv
			INNER JOIN sources s ON s.id = cv.source_id
			WHERE cv.name = ? AND s.path = ? ORDER BY cv.id`, name, *source)
	} else {
		err = t.tx.Select(&out, `SELECT value FROM context_vars WHERE name = ? ORDER BY id`, name)
	}
	if err != nil {
		return nil, &storeErr{"get_context_var", err}
	}
	return out, nil
}

// GetFirstContextVar returns the first value published under name, or
// false if none exists.
func (t *Tx) GetFirstContextVar(name string, source *string) (string, bool, error) {
	values, err := t.GetContextVar(name, source)
	if err != nil {
		return "", false, err
	}
	if len(values) == 0 {
		return "", false, nil
	}
	return values[0], true, nil
}

// GetContextVarDeps resolves source's context-variable dependency edges.
//
// When asSources is true, the result is the set of *source paths*
// related to source's dependency edges: with reverse false, the sources
// that produce the names source depends on; with reverse true, the
// sources that depend on names source produces.
//
// When asSources is false, the result is the set of *names*: with
// reverse false, the names source depends on; with reverse true, the
// names source publishes.
//
// When recursive is true (asSources must also be true), the result is
// the transitive closure over producer/consumer source edges,
// terminating safely on cycles.
func (t *Tx) GetContextVarDeps(source string, reverse, asSources, recursive bool) ([]string, error) {
	if recursive {
		visited := map[string]bool{}
		t.collectContextVarDepsRecursive(source, reverse, visited)
		delete(visited, source)
		out := make([]string, 0, len(visited))
		for p := range visited {
			out = append(out, p)
		}
		return out, nil
	}
	return t.directContextVarDeps(source, reverse, asSources)
}

func (t *Tx) directContextVarDeps(source string, reverse, asSources bool) ([]string, error) {
	var out []string
	var err error

	switch {
	case !asSources && !reverse:
		// Names this source depends on.
		err = t.tx.Select(&out, `
			SELECT cvd.name FROM context_var_dependencies cvd
			INNER JOIN sources s ON s.id = cvd.dependency_id
			WHERE s.path = ? ORDER BY cvd.name`, source)

	case !asSources && reverse:
		// Names this source publishes.
		err = t.tx.Select(&out, `
			SELECT cv.name FROM context_vars cv
			INNER JOIN sources s ON s.id = cv.source_id
			WHERE s.path = ? ORDER BY cv.name`, source)

	case asSources && !reverse:
		// Sources that produce names this source depends on.
		err = t.tx.Select(&out, `
			SELECT DISTINCT ps.path FROM context_var_dependencies cvd
			INNER JOIN sources s ON s.id = cvd.dependency_id
			INNER JOIN context_vars cv ON cv.name = cvd.name
			INNER JOIN sources ps ON ps.id = cv.source_id
			WHERE s.path = ? ORDER BY ps.path`, source)

	default: // asSources && reverse
		// Sources that depend on names this source produces.
		err = t.tx.Select(&out, `
			SELECT DISTINCT cs.path FROM context_vars cv
			INNER JOIN sources s ON s.id = cv.source_id
			INNER JOIN context_var_dependencies cvd ON cvd.name = cv.name
			INNER JOIN sources cs ON cs.id = cvd.dependency_id
			WHERE s.path = ? ORDER BY cs.path`, source)
	}

	if err != nil {
		return nil, &storeErr{"get_context_var_deps", err}
	}
	return out, nil
}

func (t *Tx) collectContextVarDepsRecursive(source string, reverse bool, visited map[string]bool) {
	if visited[source] {
		return
	}
	visited[source] = true
	direct, err := t.directContextVarDeps(source, reverse, true)
	if err != nil {
		return
	}
	for _, d := range direct {
		t.collectContextVarDepsRecursive(d, reverse, visited)
	}
}

// SetContextVarDependencies replaces the full set of context-variable
// names source depends on. source is added as a tracked source if it is
// not already.
func (t *Tx) SetContextVarDependencies(source string, names []string) error {
	id, err := t.AddSource(source)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(`DELETE FROM context_var_dependencies WHERE dependency_id = ?`, id); err != nil {
		return &storeErr{"set_context_var_deps:clear", err}
	}
	for _, name := range names {
		if _, err := t.tx.Exec(`INSERT INTO context_var_dependencies (name, dependency_id) VALUES (?, ?)`, name, id); err != nil {
			return &storeErr{"set_context_var_deps:insert", err}
		}
	}
	return nil
}

var errMissingSelector = storeErrString("remove_context_var requires a source and/or a name")

type storeErrString string

func (e storeErrString) Error() string { return string(e) }
