package metadata

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/madcsync/jsontree"
)

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func fragment(t *testing.T, doc string) *jsontree.Object {
	t.Helper()
	v, err := jsontree.Parse([]byte(doc))
	require.NoError(t, err)
	return v.(*jsontree.Object)
}

func TestLoadDocument_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadDocument(filepath.Join(dir, "absent.json"))
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	assert.True(t, errors.Is(err, fs.ErrNotExist), "got %v", err)

	_, err = LoadDocument(writeDoc(t, dir, "broken.json", `{"a":`))
	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr), "got %v", err)
	assert.Equal(t, filepath.Join(dir, "broken.json"), parseErr.Path)

	_, err = LoadDocument(writeDoc(t, dir, "array.json", `[1,2]`))
	assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
}

func TestLoadIdentifier(t *testing.T) {
	dir := t.TempDir()

	id, err := LoadIdentifier(writeDoc(t, dir, "id.json",
		`{"repertoire_id":"R1","subject_id":"S1","sample_id":"SA1"}`))
	require.NoError(t, err)
	assert.Equal(t, Identifier{RepertoireID: "R1", SubjectID: "S1", SampleID: "SA1"}, id)

	_, err = LoadIdentifier(writeDoc(t, dir, "partial.json", `{"repertoire_id":"R1","subject_id":"S1"}`))
	assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
	assert.True(t, strings.Contains(err.Error(), KeySampleID))

	_, err = LoadIdentifier(writeDoc(t, dir, "numeric.json", `{"repertoire_id":7,"subject_id":"S1","sample_id":"SA1"}`))
	assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
}

func TestLoadFragment(t *testing.T) {
	dir := t.TempDir()

	frag, err := LoadFragment(writeDoc(t, dir, "ok.json",
		`{"sample":{"data_processing":{"software_versions":"igblast 1.19"}},"other":1}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"software_versions"}, frag.Keys())

	_, err = LoadFragment(writeDoc(t, dir, "missing.json", `{"sample":{}}`))
	assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)

	_, err = LoadFragment(writeDoc(t, dir, "list.json", `{"sample":{"data_processing":[]}}`))
	assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
}

func TestProject_ApplyReferenceExample(t *testing.T) {
	dir := t.TempDir()
	project, err := LoadProject(writeDoc(t, dir, "metadata.json",
		`{"Repertoire":[{"repertoire_id":"R1","data_processing":[{"a":1,"tags":["x"]}]}]}`))
	require.NoError(t, err)

	matched, err := project.Apply("R1", fragment(t, `{"a":2,"tags":["y"],"b":3}`))
	require.NoError(t, err)
	assert.Equal(t, 1, matched)

	target, ok := project.Document().Path(KeyRepertoire)
	require.True(t, ok)
	first := target.(*jsontree.Array).Items[0].(*jsontree.Object)
	dp, _ := first.GetArray(KeyDataProcessing)

	want := map[string]any{
		"a":    jsontree.ToNative(jsontree.Int(2)),
		"tags": []any{"x", "y"},
		"b":    jsontree.ToNative(jsontree.Int(3)),
	}
	if diff := cmp.Diff(want, jsontree.ToNative(dp.Items[0])); diff != "" {
		t.Errorf("data_processing[0] mismatch (-want +got):\n%s", diff)
	}
}

func TestProject_ApplyNoMatchIsSilentNoOp(t *testing.T) {
	doc := `{"Repertoire":[{"repertoire_id":"R1","data_processing":[{"a":1}]}]}`
	project := NewProject(fragment(t, doc))
	before, err := jsontree.Marshal(project.Document())
	require.NoError(t, err)

	matched, err := project.Apply("R9", fragment(t, `{"a":2}`))
	require.NoError(t, err)
	assert.Zero(t, matched)

	after, err := jsontree.Marshal(project.Document())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestProject_ApplyOnlyTouchesFirstDataProcessing(t *testing.T) {
	project := NewProject(fragment(t,
		`{"Repertoire":[{"repertoire_id":"R1","data_processing":[{"a":1},{"a":10}]},{"repertoire_id":"R2","data_processing":[{"a":5}]}]}`))

	_, err := project.Apply("R1", fragment(t, `{"a":2}`))
	require.NoError(t, err)

	out, err := jsontree.Marshal(project.Document())
	require.NoError(t, err)
	assert.Equal(t,
		`{"Repertoire":[{"repertoire_id":"R1","data_processing":[{"a":2},{"a":10}]},{"repertoire_id":"R2","data_processing":[{"a":5}]}]}`,
		string(out))
}

func TestProject_ApplyMalformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "no Repertoire", doc: `{}`},
		{name: "Repertoire not array", doc: `{"Repertoire":{}}`},
		{name: "no data_processing", doc: `{"Repertoire":[{"repertoire_id":"R1"}]}`},
		{name: "empty data_processing", doc: `{"Repertoire":[{"repertoire_id":"R1","data_processing":[]}]}`},
		{name: "scalar data_processing[0]", doc: `{"Repertoire":[{"repertoire_id":"R1","data_processing":[1]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProject(fragment(t, tt.doc)).Apply("R1", fragment(t, `{}`))
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

func TestProject_RepertoireIDs(t *testing.T) {
	project := NewProject(fragment(t,
		`{"Repertoire":[{"repertoire_id":"R1"},"junk",{"repertoire_id":2},{"repertoire_id":"R3"}]}`))
	assert.Equal(t, []string{"R1", "R3"}, project.RepertoireIDs())
}

func TestProject_WriteFile(t *testing.T) {
	dir := t.TempDir()
	project := NewProject(fragment(t, `{"Repertoire":[{"repertoire_id":"R1","data_processing":[{}]}]}`))

	out := filepath.Join(dir, "nested", "metadata.json")
	require.NoError(t, project.WriteFile(out, "    "))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{\n    \"Repertoire\": [\n        {\n"), "got %q", data)

	reloaded, err := LoadProject(out)
	require.NoError(t, err)
	assert.True(t, jsontree.Equal(project.Document(), reloaded.Document()))
}
