// Package pipeline moves one study from the sequence data store into the
// archive: it discovers the repertoire records, copies the annotated result
// files and writes the project metadata merged with every record's
// data_processing fragment.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/madcsync/config"
	"github.com/c360studio/madcsync/ledger"
	"github.com/c360studio/madcsync/metadata"
	"github.com/c360studio/madcsync/metrics"
	"github.com/c360studio/madcsync/scanner"
)

// RunRecorder stores finished runs. *ledger.Ledger implements it.
type RunRecorder interface {
	Record(ctx context.Context, run ledger.Run) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithLedger records every run.
func WithLedger(r RunRecorder) Option {
	return func(p *Pipeline) { p.ledger = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// Pipeline processes studies one at a time.
type Pipeline struct {
	cfg     *config.Config
	scanner *scanner.Scanner
	logger  *slog.Logger
	metrics *metrics.Metrics
	ledger  RunRecorder
	now     func() time.Time
}

// New creates a pipeline for a validated configuration.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	p := &Pipeline{
		cfg:     cfg,
		logger:  slog.Default(),
		metrics: metrics.New(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	s, err := scanner.New(scanner.Options{
		MetadataFolderPattern: cfg.Layout.MetadataFolderPattern,
		ResultFilePattern:     cfg.Layout.ResultFilePattern,
		IdentifierFile:        cfg.Layout.IdentifierFile,
		AnnotationFragment:    cfg.Layout.AnnotationFragment,
		PreProcessedFragment:  cfg.Layout.PreProcessedFragment,
	}, p.logger)
	if err != nil {
		return nil, err
	}
	p.scanner = s
	return p, nil
}

// Metrics returns the collectors the pipeline updates.
func (p *Pipeline) Metrics() *metrics.Metrics {
	return p.metrics
}

// StudyPath returns the study folder below the source root.
func (p *Pipeline) StudyPath(study string) string {
	return filepath.Join(p.cfg.Paths.SourceRoot, study)
}

// DestPath returns the study folder below the destination root.
func (p *Pipeline) DestPath(study string) string {
	return filepath.Join(p.cfg.Paths.DestRoot, study)
}

// ModeRoot returns the folder scanned for one mode of a study.
func (p *Pipeline) ModeRoot(study string, mode scanner.Mode) string {
	dir := p.cfg.Layout.AnnotatedDir
	if mode == scanner.ModePreProcessed {
		dir = p.cfg.Layout.PreProcessedDir
	}
	return filepath.Join(p.StudyPath(study), filepath.FromSlash(p.cfg.Layout.RunsDir), dir)
}

func validateStudy(study string) error {
	if study == "" || study == "." || study == ".." ||
		strings.ContainsAny(study, `/\`) || strings.ContainsRune(study, filepath.Separator) {
		return fmt.Errorf("%w: %q", ErrInvalidStudy, study)
	}
	return nil
}

// StudyExists reports whether the study folder exists below the source root.
func (p *Pipeline) StudyExists(study string) bool {
	if validateStudy(study) != nil {
		return false
	}
	info, err := os.Stat(p.StudyPath(study))
	return err == nil && info.IsDir()
}

func (p *Pipeline) checkStudy(study string) error {
	if err := validateStudy(study); err != nil {
		return err
	}
	if !p.StudyExists(study) {
		return fmt.Errorf("%w: %s", ErrStudyNotFound, study)
	}
	return nil
}

// Studies lists the study folders below the source root, sorted by name.
// Hidden folders are ignored.
func (p *Pipeline) Studies() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.Paths.SourceRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to list source root: %w", err)
	}
	var studies []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if p.StudyExists(e.Name()) {
			studies = append(studies, e.Name())
		}
	}
	return studies, nil
}

// Discovery holds the scan results of both modes of a study.
type Discovery struct {
	Study        string
	Annotated    *scanner.Result
	PreProcessed *scanner.Result
	// Errors holds the scan failure of a mode, whose result is then empty.
	Errors map[scanner.Mode]error
}

// Result returns the scan result of one mode.
func (d *Discovery) Result(mode scanner.Mode) *scanner.Result {
	if mode == scanner.ModePreProcessed {
		return d.PreProcessed
	}
	return d.Annotated
}

// Warnings returns the warnings of both modes, annotated first.
func (d *Discovery) Warnings() []scanner.Warning {
	out := make([]scanner.Warning, 0, len(d.Annotated.Warnings)+len(d.PreProcessed.Warnings))
	out = append(out, d.Annotated.Warnings...)
	return append(out, d.PreProcessed.Warnings...)
}

// Discover scans both modes of a study. A mode that cannot be scanned
// yields zero records; only a missing study is an error.
func (p *Pipeline) Discover(ctx context.Context, study string) (*Discovery, error) {
	if err := p.checkStudy(study); err != nil {
		return nil, err
	}
	return p.discover(ctx, study)
}

func (p *Pipeline) discover(ctx context.Context, study string) (*Discovery, error) {
	d := &Discovery{Study: study, Errors: make(map[scanner.Mode]error)}

	for _, mode := range scanner.Modes() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		root := p.ModeRoot(study, mode)
		res, err := p.scanMode(mode, root)
		if err != nil {
			d.Errors[mode] = err
			res = &scanner.Result{Mode: mode, Root: root}
		}
		if mode == scanner.ModePreProcessed {
			d.PreProcessed = res
		} else {
			d.Annotated = res
		}

		for _, w := range res.Warnings {
			p.logger.Warn("Required file not found",
				"study", study,
				"mode", w.Mode,
				"field", w.Field,
				"folder", w.Folder)
			p.metrics.MissingField(string(w.Mode), w.Field)
		}
		p.metrics.RecordsFound(string(mode), len(res.Records))
	}
	return d, nil
}

func (p *Pipeline) scanMode(mode scanner.Mode, root string) (*scanner.Result, error) {
	// The pre_processed stage is optional.
	if mode == scanner.ModePreProcessed {
		if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
			return &scanner.Result{Mode: mode, Root: root}, nil
		}
	}

	res, err := p.scanner.Scan(mode, root)
	if err != nil {
		p.logger.Error("Failed to scan mode root",
			"mode", mode,
			"root", root,
			"error", err)
		return nil, err
	}
	return res, nil
}

// Run processes one study. The returned report is never nil, also when the
// run fails.
func (p *Pipeline) Run(ctx context.Context, study string) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		Study:     study,
		StartedAt: p.now(),
	}

	err := p.run(ctx, study, report)
	report.FinishedAt = p.now()
	p.finish(ctx, report, err)
	return report, err
}

func (p *Pipeline) run(ctx context.Context, study string, report *Report) error {
	if err := p.checkStudy(study); err != nil {
		return err
	}

	dest := p.DestPath(study)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	d, err := p.discover(ctx, study)
	if err != nil {
		return err
	}
	report.Warnings = d.Warnings()
	for _, mode := range scanner.Modes() {
		res := d.Result(mode)
		stats := report.Mode(mode)
		stats.Root = res.Root
		stats.Folders = res.Folders
		stats.Records = len(res.Records)
		stats.Warnings = len(res.Warnings)
		stats.ScanError = d.Errors[mode]
	}

	if err := p.copyResults(ctx, d.Annotated.Records, dest, report); err != nil {
		return err
	}

	projectPath := filepath.Join(p.StudyPath(study), filepath.FromSlash(p.cfg.Layout.ProjectMetadata))
	project, err := metadata.LoadProject(projectPath)
	if err != nil {
		return fmt.Errorf("failed to load project metadata: %w", err)
	}

	for _, mode := range scanner.Modes() {
		if err := p.mergeRecords(ctx, project, d.Result(mode).Records, report.Mode(mode)); err != nil {
			return err
		}
	}

	output := filepath.Join(dest, p.cfg.Layout.OutputMetadata)
	if err := project.WriteFile(output, p.cfg.IndentString()); err != nil {
		return err
	}
	report.Output = output
	return nil
}

// copyResults copies every annotated result file into dest. Existing files
// are never overwritten.
func (p *Pipeline) copyResults(ctx context.Context, records []scanner.Record, dest string, report *Report) error {
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}

		target := filepath.Join(dest, rec.ResultName)
		copied, err := copyFile(rec.ResultPath, target)
		if err != nil {
			p.metrics.ResultFile(metrics.ActionFailed)
			return fmt.Errorf("failed to copy result file: %w", err)
		}
		if copied {
			report.Copied++
			p.metrics.ResultFile(metrics.ActionCopied)
			p.logger.Debug("Copied result file", "src", rec.ResultPath, "dst", target)
		} else {
			report.Skipped++
			p.metrics.ResultFile(metrics.ActionSkipped)
			p.logger.Debug("Result file already present", "dst", target)
		}
	}
	return nil
}

// mergeRecords merges the fragment of every record into the project
// document, in scan order.
func (p *Pipeline) mergeRecords(ctx context.Context, project *metadata.Project, records []scanner.Record, stats *ModeStats) error {
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}

		matched, err := applyRecord(project, rec)
		if err != nil {
			recErr := &RecordError{Mode: rec.Mode, Folder: rec.Folder, Err: err}
			if p.cfg.Pipeline.OnRecordError != config.OnRecordErrorSkip {
				return recErr
			}
			stats.Failed++
			p.logger.Warn("Skipping unreadable record", "error", recErr)
			continue
		}

		if matched == 0 {
			stats.Dropped++
			p.metrics.FragmentDropped(string(rec.Mode))
			p.logger.Debug("No repertoire matches fragment", "mode", rec.Mode, "folder", rec.Folder)
			continue
		}
		stats.Merged++
		p.metrics.FragmentMerged(string(rec.Mode))
	}
	return nil
}

func applyRecord(project *metadata.Project, rec scanner.Record) (int, error) {
	id, err := metadata.LoadIdentifier(rec.IdentifierPath)
	if err != nil {
		return 0, err
	}
	fragment, err := metadata.LoadFragment(rec.FragmentPath)
	if err != nil {
		return 0, err
	}
	return project.Apply(id.RepertoireID, fragment)
}

// finish updates metrics and the ledger once a run has ended.
func (p *Pipeline) finish(ctx context.Context, report *Report, runErr error) {
	result := outcome(runErr)
	p.metrics.StudyFinished(result, report.Duration())

	if path := p.cfg.Metrics.Textfile; path != "" {
		if err := p.metrics.WriteTextfile(path); err != nil {
			p.logger.Warn("Failed to write metrics", "path", path, "error", err)
		}
	}

	if runErr != nil {
		p.logger.Error("Study failed",
			"study", report.Study,
			"run_id", report.RunID,
			"error", runErr)
	} else {
		p.logger.Info("Study processed",
			"study", report.Study,
			"run_id", report.RunID,
			"copied", report.Copied,
			"skipped", report.Skipped,
			"merged", report.Merged(),
			"dropped", report.Dropped(),
			"warnings", len(report.Warnings),
			"duration", report.Duration())
	}

	// unknown studies are not worth a history row
	if p.ledger == nil || result == metrics.OutcomeNotFound {
		return
	}
	if err := p.ledger.Record(context.WithoutCancel(ctx), report.ledgerRun(runErr)); err != nil {
		p.logger.Warn("Failed to record run", "run_id", report.RunID, "error", err)
	}
}
