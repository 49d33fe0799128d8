// Package catalog is the persistent store of everything the generator
// needs to decide what to rebuild: known sources with their size and
// modification time, the targets each source last produced, the
// structural dependencies between sources, and the context variables
// sources publish and depend on.
//
// It is backed by SQLite through database/sql and jmoiron/sqlx, with a
// case-insensitive REGEXP function registered on every connection so
// directory-scoped queries can be expressed as plain SQL.
package catalog

import (
	"database/sql"
	"fmt"
	"regexp"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	path     TEXT NOT NULL UNIQUE,
	size     INTEGER NOT NULL,
	modified INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS source_targets (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	path      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS source_dependencies (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id    INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	dependency_id INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS context_vars (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	name      TEXT NOT NULL,
	value     TEXT NOT NULL,
	source_id INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE
);

-- dependency rows reference the producer's NAME rather than a row id,
-- since the producer's context_vars row may not exist yet at the time
-- the dependency is recorded.
CREATE TABLE IF NOT EXISTS context_var_dependencies (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL,
	dependency_id INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_sources_path ON sources(path);
CREATE INDEX IF NOT EXISTS idx_source_targets_source ON source_targets(source_id);
CREATE INDEX IF NOT EXISTS idx_source_targets_path ON source_targets(path);
CREATE INDEX IF NOT EXISTS idx_source_deps_source ON source_dependencies(source_id);
CREATE INDEX IF NOT EXISTS idx_source_deps_dep ON source_dependencies(dependency_id);
CREATE INDEX IF NOT EXISTS idx_context_vars_source ON context_vars(source_id);
CREATE INDEX IF NOT EXISTS idx_context_vars_name ON context_vars(name);
CREATE INDEX IF NOT EXISTS idx_context_var_deps_dep ON context_var_dependencies(dependency_id);
`

var registerDriverOnce sync.Once

// driverName is the name under which the REGEXP-enabled sqlite3 driver is
// registered with database/sql. Registration must happen exactly once per
// process, since database/sql panics on a duplicate driver name.
const driverName = "pydgeot-sqlite3"

func registerDriver() {
	registerDriverOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("REGEXP", regexpFunc, true)
			},
		})
	})
}

// regexpFunc implements SQLite's REGEXP operator as a case-insensitive
// search, matching the catalog's directory-scope queries built by
// pathsvc.Service.PathRegex.
func regexpFunc(pattern, item string) (bool, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(item), nil
}

// Catalog is the persistent store, opened once per application and held
// open for its lifetime.
type Catalog struct {
	db         *sqlx.DB
	sourceRoot string
}

// Open creates (if needed) and opens the SQLite database at path,
// applying the schema and registering the REGEXP function. Foreign key
// enforcement is turned on via the DSN (SQLite defaults it off per
// connection) since the schema's cascading deletes depend on it.
//
// sourceRoot is the application's absolute source tree root. Every
// source path callers pass (to AddSource and everything that calls it,
// like SetDependencies and the context-var setters) is source-relative,
// per the catalog contract in §4.2; sourceRoot is how AddSource resolves
// that relative key to a real file to stat. Pass "" for catalogs whose
// callers only ever deal in already-absolute paths (as the package's own
// tests do).
func Open(path, sourceRoot string) (*Catalog, error) {
	registerDriver()
	db, err := sqlx.Open(driverName, path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: apply schema: %w", err)
	}
	return &Catalog{db: db, sourceRoot: sourceRoot}, nil
}

// Close closes the underlying database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Wipe drops and recreates every table, discarding all catalog state.
func (c *Catalog) Wipe() error {
	_, err := c.db.Exec(`
		DROP TABLE IF EXISTS context_var_dependencies;
		DROP TABLE IF EXISTS context_vars;
		DROP TABLE IF EXISTS source_dependencies;
		DROP TABLE IF EXISTS source_targets;
		DROP TABLE IF EXISTS sources;
	`)
	if err != nil {
		return fmt.Errorf("catalog: wipe: %w", err)
	}
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("catalog: reapply schema after wipe: %w", err)
	}
	return nil
}

// Begin starts a build-cycle transaction. Every method the Generator
// calls during one pass over the catalog should go through the returned
// Tx, which is committed exactly once on success.
func (c *Catalog) Begin() (*Tx, error) {
	tx, err := c.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("catalog: begin transaction: %w", err)
	}
	return &Tx{tx: tx, sourceRoot: c.sourceRoot}, nil
}

// queryer is the query surface shared by *sqlx.DB and *sqlx.Tx. The Tx
// methods in this package call their *sqlx.Tx directly rather than
// through it.
type queryer interface {
	sqlx.Queryer
	sqlx.Execer
	Get(dest any, query string, args ...any) error
	Select(dest any, query string, args ...any) error
}
