package pipeline

import (
	"errors"
	"time"

	"github.com/c360studio/madcsync/ledger"
	"github.com/c360studio/madcsync/metrics"
	"github.com/c360studio/madcsync/scanner"
)

// ModeStats counts what happened to the records of one scan mode.
type ModeStats struct {
	Root     string
	Folders  int
	Records  int
	Warnings int
	// Merged fragments matched at least one Repertoire entry.
	Merged int
	// Dropped fragments matched no Repertoire entry.
	Dropped int
	// Failed records could not be read (skip policy only).
	Failed int
	// ScanError is set when the mode root could not be scanned.
	ScanError error
}

// Report summarizes one study run.
type Report struct {
	RunID      string
	Study      string
	StartedAt  time.Time
	FinishedAt time.Time

	Annotated    ModeStats
	PreProcessed ModeStats

	// Copied and Skipped count annotated result files.
	Copied  int
	Skipped int

	Warnings []scanner.Warning
	// Output is the merged document, empty if the run failed before writing it.
	Output string
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Mode returns the stats of one scan mode.
func (r *Report) Mode(mode scanner.Mode) *ModeStats {
	if mode == scanner.ModePreProcessed {
		return &r.PreProcessed
	}
	return &r.Annotated
}

// Merged is the number of fragments merged over both modes.
func (r *Report) Merged() int { return r.Annotated.Merged + r.PreProcessed.Merged }

// Dropped is the number of fragments dropped over both modes.
func (r *Report) Dropped() int { return r.Annotated.Dropped + r.PreProcessed.Dropped }

// Failed is the number of unreadable records over both modes.
func (r *Report) Failed() int { return r.Annotated.Failed + r.PreProcessed.Failed }

// ledgerRun converts the report into a ledger row.
func (r *Report) ledgerRun(runErr error) ledger.Run {
	run := ledger.Run{
		ID:           r.RunID,
		Study:        r.Study,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		Status:       ledger.StatusSucceeded,
		Annotated:    r.Annotated.Records,
		PreProcessed: r.PreProcessed.Records,
		Warnings:     len(r.Warnings),
		Merged:       r.Merged(),
		Dropped:      r.Dropped(),
		Failed:       r.Failed(),
		Copied:       r.Copied,
		Skipped:      r.Skipped,
	}
	if runErr != nil {
		run.Status = ledger.StatusFailed
		run.Error = runErr.Error()
	}
	return run
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSucceeded
	case errors.Is(err, ErrStudyNotFound), errors.Is(err, ErrInvalidStudy):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeFailed
	}
}
