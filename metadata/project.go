package metadata

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/c360studio/madcsync/jsontree"
	"github.com/c360studio/madcsync/merge"
)

// KeyRepertoire is the top-level array of the project master metadata.
const KeyRepertoire = "Repertoire"

// Project is the master metadata document of a study. It is loaded once,
// mutated by every fragment merge and written once.
type Project struct {
	doc *jsontree.Object
}

// NewProject wraps an already parsed master document.
func NewProject(doc *jsontree.Object) *Project {
	return &Project{doc: doc}
}

// LoadProject reads the master metadata document at path.
func LoadProject(path string) (*Project, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}
	return NewProject(doc), nil
}

// Document returns the underlying document.
func (p *Project) Document() *jsontree.Object {
	return p.doc
}

// RepertoireIDs returns the string repertoire IDs of the master document in
// order.
func (p *Project) RepertoireIDs() []string {
	reps, ok := p.doc.GetArray(KeyRepertoire)
	if !ok {
		return nil
	}
	var ids []string
	for _, item := range reps.Items {
		entry, ok := item.(*jsontree.Object)
		if !ok {
			continue
		}
		if id, ok := entry.GetString(KeyRepertoireID); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Apply merges fragment into data_processing[0] of every Repertoire entry
// whose repertoire_id equals repertoireID, scanning entries in order. It
// returns how many entries were updated. No match is not an error: the
// fragment is dropped and 0 is returned.
func (p *Project) Apply(repertoireID string, fragment *jsontree.Object) (int, error) {
	reps, ok := p.doc.GetArray(KeyRepertoire)
	if !ok {
		return 0, fmt.Errorf("%w: %q must be an array", ErrMalformed, KeyRepertoire)
	}

	matched := 0
	for i, item := range reps.Items {
		entry, ok := item.(*jsontree.Object)
		if !ok {
			continue
		}
		if id, ok := entry.GetString(KeyRepertoireID); !ok || id != repertoireID {
			continue
		}

		target, err := mergeTarget(entry)
		if err != nil {
			return matched, fmt.Errorf("repertoire %s (entry %d): %w", repertoireID, i, err)
		}
		merge.Into(target, fragment)
		matched++
	}
	return matched, nil
}

func mergeTarget(entry *jsontree.Object) (*jsontree.Object, error) {
	dp, ok := entry.GetArray(KeyDataProcessing)
	if !ok {
		return nil, fmt.Errorf("%w: %q must be an array", ErrMalformed, KeyDataProcessing)
	}
	first, ok := dp.At(0)
	if !ok {
		return nil, fmt.Errorf("%w: %q is empty", ErrMalformed, KeyDataProcessing)
	}
	target, ok := first.(*jsontree.Object)
	if !ok {
		return nil, fmt.Errorf("%w: %s[0] is %s, want object", ErrMalformed, KeyDataProcessing, first.Kind())
	}
	return target, nil
}

// WriteFile writes the document to path with the given indentation,
// replacing any existing file.
func (p *Project) WriteFile(path, indent string) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	if err := jsontree.Encode(f, p.doc, indent); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
