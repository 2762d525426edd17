package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/madcsync/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// testConfig lays out a source root with one complete study.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Paths.SourceRoot = filepath.Join(base, "store")
	cfg.Paths.DestRoot = filepath.Join(base, "studies")
	cfg.Ledger.Path = filepath.Join(base, "ledger", "runs.db")

	study := filepath.Join(cfg.Paths.SourceRoot, "PRJNA1")
	writeFile(t, filepath.Join(study, "project_metadata", "metadata.json"),
		`{"Repertoire":[{"repertoire_id":"R1","data_processing":[{"software":["presto"]}]}]}`)
	rep := filepath.Join(study, "runs", "current", "annotated", "subj1", "sample1", "rep1")
	writeFile(t, filepath.Join(rep, "results", "rep1_Finale.tsv"), "sequence_id\n")
	writeFile(t, filepath.Join(rep, "results", "repertoire_id.json"), `{"repertoire_id":"R1","subject_id":"subj1","sample_id":"sample1"}`)
	writeFile(t, filepath.Join(rep, "meta_data", "annotation_metadata.json"), `{"sample":{"data_processing":{"software":["igblast"]}}}`)

	// a second repertoire without its identifier
	incomplete := filepath.Join(study, "runs", "current", "annotated", "subj1", "sample1", "rep2")
	writeFile(t, filepath.Join(incomplete, "results", "rep2_Finale.tsv"), "sequence_id\n")
	writeFile(t, filepath.Join(incomplete, "meta_data", "annotation_metadata.json"), `{"sample":{"data_processing":{}}}`)
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := NewApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestRunPrompt(t *testing.T) {
	cfg := testConfig(t)
	app := newTestApp(t, cfg)

	in := strings.NewReader("PRJ-unknown\nPRJNA1\nexit\nPRJNA1\n")
	var out bytes.Buffer
	require.NoError(t, app.RunPrompt(context.Background(), in, &out))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	rep2 := filepath.Join(cfg.Paths.SourceRoot, "PRJNA1", "runs", "current", "annotated", "subj1", "sample1", "rep2")
	assert.Equal(t, []string{
		promptText,
		studyMissingText,
		promptText,
		"repertoire_ids was not found in the " + rep2,
		"PRJNA1 as copied to madc",
		promptText,
	}, lines)

	_, err := os.Stat(filepath.Join(cfg.Paths.DestRoot, "PRJNA1", "rep1_Finale.tsv"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.Paths.DestRoot, "PRJNA1", "rep2_Finale.tsv"))
	assert.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(filepath.Join(cfg.Paths.DestRoot, "PRJNA1", "metadata.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"presto",`)
	assert.Contains(t, string(data), `"igblast"`)
}

func TestRunPrompt_EOFEnds(t *testing.T) {
	app := newTestApp(t, testConfig(t))

	var out bytes.Buffer
	require.NoError(t, app.RunPrompt(context.Background(), strings.NewReader(""), &out))
	assert.Equal(t, promptText+"\n", out.String())
}

func TestRunPrompt_FailureIsPrinted(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.Remove(filepath.Join(cfg.Paths.SourceRoot, "PRJNA1", "project_metadata", "metadata.json")))
	app := newTestApp(t, cfg)

	var out bytes.Buffer
	require.NoError(t, app.RunPrompt(context.Background(), strings.NewReader("PRJNA1\nexit\n"), &out))
	assert.Contains(t, out.String(), "failed to load project metadata")
	assert.NotContains(t, out.String(), "as copied to madc")
}

func TestRunPrompt_Commands(t *testing.T) {
	app := newTestApp(t, testConfig(t))

	var out bytes.Buffer
	input := "PRJNA1\n/studies\n/history\n/bogus\nexit\n"
	require.NoError(t, app.RunPrompt(context.Background(), strings.NewReader(input), &out))

	assert.Contains(t, out.String(), "\nPRJNA1\n")
	assert.Contains(t, out.String(), "succeeded")
	assert.Contains(t, out.String(), "Unknown command: /bogus")
}

func TestNewApp_WithoutLedger(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ledger.Path = ""
	app := newTestApp(t, cfg)

	var out bytes.Buffer
	err := app.printHistory(context.Background(), &out, "", 5)
	assert.ErrorIs(t, err, errNoLedger)
}
