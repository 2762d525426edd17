package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/c360studio/madcsync/config"
	"github.com/c360studio/madcsync/ledger"
	"github.com/c360studio/madcsync/pipeline"
)

const (
	promptText       = "Please enter study name, or exit to finish"
	studyMissingText = "study not exist try again."
)

// App wires the configuration, the pipeline and the run ledger.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	pipeline *pipeline.Pipeline

	// nil when no ledger path is configured
	ledger *ledger.Ledger
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{cfg: cfg, logger: logger}

	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if cfg.Ledger.Path != "" {
		l, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		app.ledger = l
		opts = append(opts, pipeline.WithLedger(l))
	}

	p, err := pipeline.New(cfg, opts...)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.pipeline = p
	return app, nil
}

// Close releases the ledger.
func (a *App) Close() error {
	if a.ledger == nil {
		return nil
	}
	return a.ledger.Close()
}

// RunPrompt asks for study names until "exit" or end of input and
// processes each one.
func (a *App) RunPrompt(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprintln(out, promptText)

		if !scanner.Scan() {
			// EOF (Ctrl+D)
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "exit":
			return nil
		case strings.HasPrefix(input, "/"):
			a.handleCommand(ctx, input, out)
			continue
		}

		a.processStudy(ctx, input, out)
	}
}

// processStudy runs one study and reports the outcome with the prompt's
// messages.
func (a *App) processStudy(ctx context.Context, study string, out io.Writer) {
	if !a.pipeline.StudyExists(study) {
		fmt.Fprintln(out, studyMissingText)
		return
	}

	report, err := a.pipeline.Run(ctx, study)
	for _, w := range report.Warnings {
		fmt.Fprintln(out, w.Error())
	}
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	fmt.Fprintf(out, "%s as copied to madc\n", study)
}

func (a *App) handleCommand(ctx context.Context, input string, out io.Writer) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return
	}

	cmd := parts[0]
	switch cmd {
	case "/help":
		fmt.Fprintln(out, "Available commands:")
		fmt.Fprintln(out, "  /help     - Show this help")
		fmt.Fprintln(out, "  /studies  - List studies in the source root")
		fmt.Fprintln(out, "  /history  - Show recent runs")
		fmt.Fprintln(out, "  /config   - Show current configuration")
		fmt.Fprintln(out, "  exit      - Exit")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Or type a study name to copy it to madc.")

	case "/studies":
		studies, err := a.pipeline.Studies()
		if err != nil {
			fmt.Fprintln(out, err)
			return
		}
		for _, s := range studies {
			fmt.Fprintln(out, s)
		}

	case "/history":
		if err := a.printHistory(ctx, out, "", 10); err != nil {
			fmt.Fprintln(out, err)
		}

	case "/config":
		fmt.Fprintf(out, "Source root: %s\n", a.cfg.Paths.SourceRoot)
		fmt.Fprintf(out, "Dest root:   %s\n", a.cfg.Paths.DestRoot)
		fmt.Fprintf(out, "On record error: %s\n", a.cfg.Pipeline.OnRecordError)
		if a.ledger != nil {
			fmt.Fprintf(out, "Ledger: %s\n", a.cfg.Ledger.Path)
		} else {
			fmt.Fprintln(out, "Ledger: disabled")
		}

	default:
		fmt.Fprintf(out, "Unknown command: %s\n", cmd)
		fmt.Fprintln(out, "Type /help for available commands.")
	}
}

var errNoLedger = errors.New("run history is disabled (set ledger.path)")

func (a *App) printHistory(ctx context.Context, out io.Writer, study string, limit int) error {
	if a.ledger == nil {
		return errNoLedger
	}

	var (
		runs []ledger.Run
		err  error
	)
	if study != "" {
		runs, err = a.ledger.ForStudy(ctx, study, limit)
	} else {
		runs, err = a.ledger.Recent(ctx, limit)
	}
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}
	fmt.Fprintln(out, historyTable(runs))
	return nil
}
