package scanner

import "fmt"

// Mode selects which result set a scan looks for.
type Mode string

// Scan modes.
const (
	ModeAnnotated    Mode = "annotated"
	ModePreProcessed Mode = "pre_processed"
)

// Field names reported in missing-field diagnostics.
const (
	FieldFilePath             = "file_path"
	FieldFileName             = "file_name"
	FieldRepertoireIDs        = "repertoire_ids"
	FieldAnnotationMetadata   = "annotation_metadata"
	FieldPreProcessedMetadata = "pre_processed_metadata"
)

var modeFields = map[Mode][]string{
	ModeAnnotated:    {FieldFilePath, FieldFileName, FieldRepertoireIDs, FieldAnnotationMetadata},
	ModePreProcessed: {FieldRepertoireIDs, FieldPreProcessedMetadata},
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	_, ok := modeFields[m]
	return ok
}

// Fields returns the fields a complete record of this mode carries, in
// diagnostic order.
func (m Mode) Fields() []string {
	return append([]string(nil), modeFields[m]...)
}

// Modes returns every scan mode in pipeline order.
func Modes() []Mode {
	return []Mode{ModeAnnotated, ModePreProcessed}
}

// Fields is the raw field map collected while inspecting one repertoire
// folder. An empty or missing value means the file was not found.
type Fields map[string]string

// Record is a complete repertoire found by a scan.
type Record struct {
	Mode   Mode
	Folder string

	// ResultPath and ResultName are only set in annotated mode.
	ResultPath string
	ResultName string

	IdentifierPath string
	FragmentPath   string
}

// Warning reports an expected file that is absent from a repertoire folder.
// It is not fatal: the record is discarded and the scan goes on.
type Warning struct {
	Mode   Mode
	Field  string
	Folder string
}

func (w Warning) Error() string {
	return fmt.Sprintf("%s was not found in the %s", w.Field, w.Folder)
}

// Build validates fields against the record shape of mode. It returns the
// record and true when every field is present, otherwise one warning per
// missing field and false.
func Build(mode Mode, folder string, fields Fields) (Record, []Warning, bool) {
	var warnings []Warning
	for _, name := range modeFields[mode] {
		if fields[name] == "" {
			warnings = append(warnings, Warning{Mode: mode, Field: name, Folder: folder})
		}
	}
	if len(warnings) > 0 || !mode.Valid() {
		return Record{}, warnings, false
	}

	rec := Record{
		Mode:           mode,
		Folder:         folder,
		IdentifierPath: fields[FieldRepertoireIDs],
	}
	switch mode {
	case ModeAnnotated:
		rec.ResultPath = fields[FieldFilePath]
		rec.ResultName = fields[FieldFileName]
		rec.FragmentPath = fields[FieldAnnotationMetadata]
	case ModePreProcessed:
		rec.FragmentPath = fields[FieldPreProcessedMetadata]
	}
	return rec, nil, true
}
