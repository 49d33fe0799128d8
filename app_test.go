package pydgeot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsValidRootRequiresConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.False(t, IsValidRoot(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(`{}`), 0644))
	require.True(t, IsValidRoot(dir))
}

func TestIsValidRootRejectsMissingOrNonDir(t *testing.T) {
	require.False(t, IsValidRoot(filepath.Join(t.TempDir(), "missing")))

	dir := t.TempDir()
	file := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	require.False(t, IsValidRoot(file))
}

func TestCreateScaffoldsAppDirectories(t *testing.T) {
	root := filepath.Join(t.TempDir(), "app")
	require.NoError(t, Create(root))

	require.DirExists(t, filepath.Join(root, sourceDirName))
	require.DirExists(t, filepath.Join(root, buildDirName))
	require.DirExists(t, filepath.Join(root, storeDirName, "log"))
	require.FileExists(t, filepath.Join(root, configFileName))
	require.True(t, IsValidRoot(root))

	data, err := os.ReadFile(filepath.Join(root, configFileName))
	require.NoError(t, err)
	require.Contains(t, string(data), "builtins.css")
	require.Contains(t, string(data), "builtins.copyfallback")
}

func TestCreateIsIdempotent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "app")
	require.NoError(t, Create(root))

	custom := []byte(`{"plugins": ["builtins.copyfallback"]}`)
	require.NoError(t, os.WriteFile(filepath.Join(root, configFileName), custom, 0644))

	require.NoError(t, Create(root))

	data, err := os.ReadFile(filepath.Join(root, configFileName))
	require.NoError(t, err)
	require.Equal(t, custom, data)
}

func TestLoadRejectsInvalidRoot(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	var rootErr *InvalidAppRootError
	require.ErrorAs(t, err, &rootErr)
}

func TestLoadRejectsMalformedConfigShape(t *testing.T) {
	root := filepath.Join(t.TempDir(), "app")
	require.NoError(t, Create(root))
	// "plugins" must be an array of strings per the config schema.
	bad := []byte(`{"plugins": "builtins.css"}`)
	require.NoError(t, os.WriteFile(filepath.Join(root, configFileName), bad, 0644))

	_, err := Load(root)
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadRejectsUnknownPlugin(t *testing.T) {
	root := filepath.Join(t.TempDir(), "app")
	require.NoError(t, Create(root))
	cfg := []byte(`{"plugins": ["builtins.doesnotexist"]}`)
	require.NoError(t, os.WriteFile(filepath.Join(root, configFileName), cfg, 0644))

	_, err := Load(root)
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	root := filepath.Join(t.TempDir(), "app")
	require.NoError(t, Create(root))
	app, err := Load(root)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

func TestLoadWiresUpRegisteredProcessors(t *testing.T) {
	app := newTestApp(t)
	names := app.ProcessorNames()
	require.Contains(t, names, "css")
	require.Contains(t, names, "copyfallback")
}

func TestPluginNamesIsSortedCopy(t *testing.T) {
	app := newTestApp(t)
	names := app.PluginNames()
	require.Equal(t, []string{"builtins.copyfallback", "builtins.css"}, names)

	names[0] = "mutated"
	require.Equal(t, []string{"builtins.copyfallback", "builtins.css"}, app.PluginNames())
}

func TestBuildCopiesAndMinifiesSources(t *testing.T) {
	app := newTestApp(t)

	require.NoError(t, os.WriteFile(
		filepath.Join(app.SourceRoot, "style.css"),
		[]byte("body  {  color:   red;  }\n"),
		0644,
	))
	require.NoError(t, os.WriteFile(
		filepath.Join(app.SourceRoot, "page.html"),
		[]byte("<h1>hi</h1>\n"),
		0644,
	))

	cs, err := app.Build()
	require.NoError(t, err)
	require.Len(t, cs.Generate, 2)

	css, err := os.ReadFile(filepath.Join(app.BuildRoot, "style.css"))
	require.NoError(t, err)
	require.Equal(t, "body{color:red}\n", string(css))

	html, err := os.ReadFile(filepath.Join(app.BuildRoot, "page.html"))
	require.NoError(t, err)
	require.Equal(t, "<h1>hi</h1>\n", string(html))
}

func TestBuildIsIncremental(t *testing.T) {
	app := newTestApp(t)
	require.NoError(t, os.WriteFile(filepath.Join(app.SourceRoot, "a.html"), []byte("a"), 0644))

	cs, err := app.Build()
	require.NoError(t, err)
	require.Len(t, cs.Generate, 1)

	cs, err = app.Build()
	require.NoError(t, err)
	require.Empty(t, cs.Generate)
	require.Empty(t, cs.Delete)
}

func TestResetForcesFullRebuild(t *testing.T) {
	app := newTestApp(t)
	require.NoError(t, os.WriteFile(filepath.Join(app.SourceRoot, "a.html"), []byte("a"), 0644))

	_, err := app.Build()
	require.NoError(t, err)

	require.NoError(t, app.Reset())
	require.NoFileExists(t, filepath.Join(app.BuildRoot, "a.html"))

	cs, err := app.Build()
	require.NoError(t, err)
	require.Len(t, cs.Generate, 1)
}

func TestCleanForcesSubtreeRebuildWithoutTouchingSources(t *testing.T) {
	app := newTestApp(t)
	require.NoError(t, os.MkdirAll(filepath.Join(app.SourceRoot, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(app.SourceRoot, "sub", "a.html"), []byte("a"), 0644))

	_, err := app.Build()
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(app.BuildRoot, "sub", "a.html"))

	require.NoError(t, app.Clean([]string{filepath.Join(app.SourceRoot, "sub")}))

	// The source file is untouched; the next build still finds and
	// regenerates it, just no longer skipped as unchanged.
	require.FileExists(t, filepath.Join(app.SourceRoot, "sub", "a.html"))
	cs, err := app.Build()
	require.NoError(t, err)
	require.Contains(t, cs.Generate, "sub/a.html")
}

func TestIsIgnoredHonorsDirectoryConfig(t *testing.T) {
	app := newTestApp(t)
	require.NoError(t, os.WriteFile(
		filepath.Join(app.SourceRoot, "pydgeot.conf"),
		[]byte(`{"ignore": ["*.tmp"]}`),
		0644,
	))
	require.NoError(t, os.WriteFile(filepath.Join(app.SourceRoot, "keep.html"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(app.SourceRoot, "skip.tmp"), []byte("x"), 0644))

	cs, err := app.Build()
	require.NoError(t, err)
	require.Contains(t, cs.Generate, "keep.html")
	require.NotContains(t, cs.Generate, "skip.tmp")
}
