// Package metadata reads the JSON documents of a study and locates merge
// targets in the project master metadata.
package metadata

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/c360studio/madcsync/jsontree"
)

// Keys of the identifier document.
const (
	KeyRepertoireID = "repertoire_id"
	KeySubjectID    = "subject_id"
	KeySampleID     = "sample_id"
)

// Keys leading to the fragment inside a per-repertoire metadata document.
const (
	KeySample         = "sample"
	KeyDataProcessing = "data_processing"
)

// Identifier is the content of a repertoire_id.json document.
type Identifier struct {
	RepertoireID string
	SubjectID    string
	SampleID     string
}

// LoadDocument reads a JSON document whose top level is an object.
func LoadDocument(path string) (*jsontree.Object, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, fmt.Errorf("open metadata document: %w", err)
	}
	defer f.Close()

	v, err := jsontree.Decode(f)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	obj, ok := v.(*jsontree.Object)
	if !ok {
		return nil, fmt.Errorf("%w: %s: top level is %s, want object", ErrMalformed, path, v.Kind())
	}
	return obj, nil
}

// LoadIdentifier reads the repertoire, subject and sample IDs of a
// repertoire folder.
func LoadIdentifier(path string) (Identifier, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return Identifier{}, err
	}

	var id Identifier
	fields := []struct {
		key string
		dst *string
	}{
		{KeyRepertoireID, &id.RepertoireID},
		{KeySubjectID, &id.SubjectID},
		{KeySampleID, &id.SampleID},
	}
	for _, f := range fields {
		v, ok := doc.GetString(f.key)
		if !ok {
			return Identifier{}, fmt.Errorf("%w: %s: %q must be a string", ErrMalformed, path, f.key)
		}
		*f.dst = v
	}
	return id, nil
}

// LoadFragment reads a per-repertoire metadata document and returns its
// sample.data_processing object.
func LoadFragment(path string) (*jsontree.Object, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}

	v, ok := doc.Path(KeySample, KeyDataProcessing)
	if !ok {
		return nil, fmt.Errorf("%w: %s: missing %s.%s", ErrMalformed, path, KeySample, KeyDataProcessing)
	}
	fragment, ok := v.(*jsontree.Object)
	if !ok {
		return nil, fmt.Errorf("%w: %s: %s.%s is %s, want object", ErrMalformed, path, KeySample, KeyDataProcessing, v.Kind())
	}
	return fragment, nil
}
