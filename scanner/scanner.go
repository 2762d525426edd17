// Package scanner discovers repertoire result folders in a study tree.
//
// A mode root (runs/current/annotated or runs/current/pre_processed) holds
// one directory per subject, one per sample below it and one per
// repertoire below that. Every repertoire directory is inspected for the
// files of the scan mode and turned into a Record when all of them are
// present.
package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// repertoirePattern selects <subject>/<sample>/<repertoire> below a mode root.
const repertoirePattern = "*/*/*"

var errStopWalk = errors.New("stop walk")

// Options names the files and folders a scan looks for.
type Options struct {
	// MetadataFolderPattern matches the name of a repertoire's metadata folder.
	MetadataFolderPattern string
	// ResultFilePattern matches the name of the annotated result file.
	ResultFilePattern string
	// IdentifierFile is the exact name of the identifier document.
	IdentifierFile string
	// AnnotationFragment is the metadata fragment of annotated mode.
	AnnotationFragment string
	// PreProcessedFragment is the metadata fragment of pre_processed mode.
	PreProcessedFragment string
}

// DefaultOptions returns the layout produced by the processing pipeline.
func DefaultOptions() Options {
	return Options{
		MetadataFolderPattern: "*meta_data*",
		ResultFilePattern:     "*Finale*",
		IdentifierFile:        "repertoire_id.json",
		AnnotationFragment:    "annotation_metadata.json",
		PreProcessedFragment:  "pre_processed_metadata.json",
	}
}

// Validate checks that patterns are well formed and names are set.
func (o Options) Validate() error {
	for name, pattern := range map[string]string{
		"metadata folder pattern": o.MetadataFolderPattern,
		"result file pattern":     o.ResultFilePattern,
	} {
		if pattern == "" {
			return fmt.Errorf("%s is required", name)
		}
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid %s %q", name, pattern)
		}
	}
	if o.IdentifierFile == "" {
		return fmt.Errorf("identifier file is required")
	}
	if o.AnnotationFragment == "" || o.PreProcessedFragment == "" {
		return fmt.Errorf("metadata fragment names are required")
	}
	return nil
}

func (o Options) fragment(mode Mode) (string, string) {
	if mode == ModePreProcessed {
		return FieldPreProcessedMetadata, o.PreProcessedFragment
	}
	return FieldAnnotationMetadata, o.AnnotationFragment
}

// Entry is the outcome of inspecting one repertoire folder.
type Entry struct {
	Folder   string
	Record   Record
	Warnings []Warning
	Complete bool
}

// Result collects the entries of one scan.
type Result struct {
	Mode     Mode
	Root     string
	Folders  int
	Records  []Record
	Warnings []Warning
}

// Scanner walks mode roots. It holds no state between scans.
type Scanner struct {
	opts   Options
	logger *slog.Logger
}

// New creates a scanner.
func New(opts Options, logger *slog.Logger) (*Scanner, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{opts: opts, logger: logger}, nil
}

// Scan inspects every repertoire folder below root and collects complete
// records and warnings. A listing failure aborts the scan and no partial
// result is returned.
func (s *Scanner) Scan(mode Mode, root string) (*Result, error) {
	res := &Result{Mode: mode, Root: root}
	for entry, err := range s.Entries(mode, root) {
		if err != nil {
			return nil, err
		}
		res.Folders++
		res.Warnings = append(res.Warnings, entry.Warnings...)
		if entry.Complete {
			res.Records = append(res.Records, entry.Record)
		}
	}

	s.logger.Debug("Scan finished",
		"mode", mode,
		"root", root,
		"folders", res.Folders,
		"records", len(res.Records),
		"warnings", len(res.Warnings))
	return res, nil
}

// Entries lazily yields one entry per repertoire folder below root, in
// lexical order. On failure a single error is yielded and iteration ends.
func (s *Scanner) Entries(mode Mode, root string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if !mode.Valid() {
			yield(Entry{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode))
			return
		}
		if _, err := os.Stat(root); err != nil {
			yield(Entry{}, &FilesystemError{Op: "stat", Path: root, Err: err})
			return
		}

		fsys := os.DirFS(root)
		err := doublestar.GlobWalk(fsys, repertoirePattern, func(p string, d fs.DirEntry) error {
			if !isDir(fsys, p, d) {
				s.logger.Debug("Skipping non-directory entry", "mode", mode, "path", p)
				return nil
			}

			folder := filepath.Join(root, filepath.FromSlash(p))
			fields, err := s.inspect(mode, folder)
			if err != nil {
				return err
			}

			rec, warnings, ok := Build(mode, folder, fields)
			if !yield(Entry{Folder: folder, Record: rec, Warnings: warnings, Complete: ok}, nil) {
				return errStopWalk
			}
			return nil
		}, doublestar.WithFailOnIOErrors())

		if err == nil || errors.Is(err, errStopWalk) {
			return
		}
		var fsErr *FilesystemError
		if !errors.As(err, &fsErr) {
			err = &FilesystemError{Op: "walk", Path: root, Err: err}
		}
		yield(Entry{}, err)
	}
}

// inspect collects the raw fields of one repertoire folder. When several
// files match a field, the last one in lexical order wins.
func (s *Scanner) inspect(mode Mode, folder string) (Fields, error) {
	subdirs, err := os.ReadDir(folder)
	if err != nil {
		return nil, &FilesystemError{Op: "read", Path: folder, Err: err}
	}

	fields := Fields{}
	fragmentField, fragmentName := s.opts.fragment(mode)

	for _, sub := range subdirs {
		subPath := filepath.Join(folder, sub.Name())
		if !isDirPath(subPath, sub) {
			continue
		}
		isMeta := s.match(s.opts.MetadataFolderPattern, sub.Name())
		if mode == ModePreProcessed && !isMeta {
			continue
		}

		files, err := listFiles(subPath)
		if err != nil {
			return nil, err
		}

		if mode == ModeAnnotated {
			for _, name := range files {
				if s.match(s.opts.ResultFilePattern, name) {
					fields[FieldFilePath] = filepath.Join(subPath, name)
					fields[FieldFileName] = name
				}
				if name == s.opts.IdentifierFile {
					fields[FieldRepertoireIDs] = filepath.Join(subPath, name)
				}
			}
		}

		if isMeta {
			if slices.Contains(files, fragmentName) {
				fields[fragmentField] = filepath.Join(subPath, fragmentName)
			}
			if mode == ModePreProcessed && slices.Contains(files, s.opts.IdentifierFile) {
				fields[FieldRepertoireIDs] = filepath.Join(subPath, s.opts.IdentifierFile)
			}
		}
	}
	return fields, nil
}

func (s *Scanner) match(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

// listFiles returns the names of the non-directory entries of dir.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &FilesystemError{Op: "read", Path: dir, Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if isDirPath(filepath.Join(dir, e.Name()), e) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func isDir(fsys fs.FS, p string, d fs.DirEntry) bool {
	if d != nil && d.Type()&fs.ModeSymlink == 0 {
		return d.IsDir()
	}
	info, err := fs.Stat(fsys, p)
	return err == nil && info.IsDir()
}

func isDirPath(p string, d fs.DirEntry) bool {
	if d.Type()&fs.ModeSymlink == 0 {
		return d.IsDir()
	}
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
