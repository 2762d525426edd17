package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLoader(t *testing.T, home, work string, env map[string]string) *Loader {
	t.Helper()
	l := NewLoader(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	l.homeDir = func() (string, error) { return home, nil }
	l.workDir = func() (string, error) { return work, nil }
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return l
}

func writeYAML(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoader_Precedence(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	work := filepath.Join(project, "nested", "deeper")
	require.NoError(t, os.MkdirAll(work, 0755))

	writeYAML(t, filepath.Join(home, UserConfigDir, UserConfigFile), `
paths:
  source_root: /user/source
  dest_root: /user/dest
pipeline:
  indent: 2
`)
	writeYAML(t, filepath.Join(project, ProjectConfigFile), `
paths:
  dest_root: /project/dest
`)
	explicit := filepath.Join(t.TempDir(), "explicit.yaml")
	writeYAML(t, explicit, `
ledger:
  path: /explicit/runs.db
`)

	cfg, err := testLoader(t, home, work, map[string]string{
		EnvMetricsTextfile: "/env/madcsync.prom",
	}).Load(explicit)
	require.NoError(t, err)

	assert.Equal(t, "/user/source", cfg.Paths.SourceRoot)
	assert.Equal(t, "/project/dest", cfg.Paths.DestRoot)
	assert.Equal(t, 2, cfg.Pipeline.Indent)
	assert.Equal(t, "/explicit/runs.db", cfg.Ledger.Path)
	assert.Equal(t, "/env/madcsync.prom", cfg.Metrics.Textfile)
	assert.Equal(t, "*Finale*", cfg.Layout.ResultFilePattern)
}

func TestLoader_EnvOverridesFiles(t *testing.T) {
	home := t.TempDir()
	writeYAML(t, filepath.Join(home, UserConfigDir, UserConfigFile), `
paths:
  source_root: /user/source
`)

	cfg, err := testLoader(t, home, t.TempDir(), map[string]string{
		EnvSourceRoot: "/env/source",
		EnvDestRoot:   "/env/dest",
		EnvLedger:     "",
	}).Load("")
	require.NoError(t, err)

	assert.Equal(t, "/env/source", cfg.Paths.SourceRoot)
	assert.Equal(t, "/env/dest", cfg.Paths.DestRoot)
	assert.Empty(t, cfg.Ledger.Path)
}

func TestLoader_MissingExplicitFileFails(t *testing.T) {
	_, err := testLoader(t, t.TempDir(), t.TempDir(), nil).Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoader_InvalidResultFails(t *testing.T) {
	explicit := filepath.Join(t.TempDir(), "bad.yaml")
	writeYAML(t, explicit, `
pipeline:
  on_record_error: ignore
`)

	_, err := testLoader(t, t.TempDir(), t.TempDir(), nil).Load(explicit)
	assert.Error(t, err)
}

func TestLoader_EnsureUserConfig(t *testing.T) {
	home := t.TempDir()
	l := testLoader(t, home, t.TempDir(), nil)

	path, err := l.EnsureUserConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, UserConfigDir, UserConfigFile), path)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Paths, cfg.Paths)

	// second call leaves the file alone
	require.NoError(t, os.WriteFile(path, []byte("paths:\n  source_root: /kept\n"), 0644))
	_, err = l.EnsureUserConfig()
	require.NoError(t, err)
	cfg, err = LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/kept", cfg.Paths.SourceRoot)
}

func TestLoader_Dotenv(t *testing.T) {
	work := t.TempDir()
	writeYAML(t, filepath.Join(work, DotenvFile), "MADCSYNC_SOURCE_ROOT=/dotenv/source\nMADCSYNC_DEST_ROOT=/dotenv/dest\n")

	cfg, err := testLoader(t, t.TempDir(), work, map[string]string{
		EnvDestRoot: "/env/dest",
	}).Load("")
	require.NoError(t, err)

	assert.Equal(t, "/dotenv/source", cfg.Paths.SourceRoot)
	assert.Equal(t, "/env/dest", cfg.Paths.DestRoot)
}
