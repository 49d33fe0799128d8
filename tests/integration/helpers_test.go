// Package integration_test drives pydgeot.App end to end: a scaffolded
// application on disk, built and rebuilt through the same surface the
// CLI uses.
package integration_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	pydgeot "github.com/broiledmeat/pydgeot-go"
)

// newApp scaffolds a fresh application under a temp directory and loads
// it, closing the catalog when the test finishes.
func newApp(t *testing.T) *pydgeot.App {
	t.Helper()
	root := filepath.Join(t.TempDir(), "app")
	require.NoError(t, pydgeot.Create(root))
	app, err := pydgeot.Load(root)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

// writeSource writes a source file relative to app's source root,
// creating any parent directories.
func writeSource(t *testing.T, app *pydgeot.App, relPath, content string) {
	t.Helper()
	abs := filepath.Join(app.SourceRoot, filepath.FromSlash(relPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0644))
}

// readBuilt reads a file relative to app's build root.
func readBuilt(t *testing.T, app *pydgeot.App, relPath string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(app.BuildRoot, filepath.FromSlash(relPath)))
	require.NoError(t, err)
	return string(data)
}

// builtExists reports whether a file exists relative to app's build root.
func builtExists(app *pydgeot.App, relPath string) bool {
	_, err := os.Stat(filepath.Join(app.BuildRoot, filepath.FromSlash(relPath)))
	return err == nil
}
