package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/madcsync/config"
	"github.com/c360studio/madcsync/ledger"
	"github.com/c360studio/madcsync/scanner"
	"github.com/c360studio/madcsync/watcher"
)

func runCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <study>...",
		Short: "Copy one or more studies to madc",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.newApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			failed := 0
			for _, study := range args {
				report, err := app.pipeline.Run(cmd.Context(), study)
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s: %v\n", study, err)
					continue
				}
				fmt.Fprintf(out, "%s: copied %d, skipped %d, merged %d, dropped %d, warnings %d (%s)\n",
					study, report.Copied, report.Skipped, report.Merged(), report.Dropped(),
					len(report.Warnings), report.Duration().Round(time.Millisecond))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d studies failed", failed, len(args))
			}
			return nil
		},
	}
}

func scanCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <study>",
		Short: "List the repertoire records of a study without copying anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.newApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()

			d, err := app.pipeline.Discover(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			t := newTable("MODE", "REPERTOIRE FOLDER", "RESULT FILE")
			records := 0
			for _, mode := range scanner.Modes() {
				res := d.Result(mode)
				for _, rec := range res.Records {
					rel, err := filepath.Rel(res.Root, rec.Folder)
					if err != nil {
						rel = rec.Folder
					}
					t.Row(string(mode), rel, rec.ResultName)
					records++
				}
			}
			if records > 0 {
				fmt.Fprintln(out, t)
			}
			for _, mode := range scanner.Modes() {
				if scanErr, ok := d.Errors[mode]; ok {
					fmt.Fprintf(out, "%s: %v\n", mode, scanErr)
				}
			}
			for _, w := range d.Warnings() {
				fmt.Fprintln(out, w.Error())
			}
			fmt.Fprintf(out, "%d records, %d warnings\n", records, len(d.Warnings()))
			return nil
		},
	}
}

func studiesCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "studies",
		Short: "List the studies in the source root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.newApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()

			studies, err := app.pipeline.Studies()
			if err != nil {
				return err
			}
			for _, s := range studies {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
}

func watchCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Copy studies again whenever their files change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.newApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()

			w, err := watcher.New(watcher.Config{
				DebounceDelay: app.cfg.Watch.DebounceDelay,
				ExcludeDirs:   app.cfg.Watch.ExcludeDirs,
			}, app.cfg.Paths.SourceRoot, app.logger)
			if err != nil {
				return fmt.Errorf("create watcher: %w", err)
			}

			ctx := cmd.Context()
			if err := w.Start(ctx); err != nil {
				w.Stop()
				return fmt.Errorf("start watcher: %w", err)
			}
			defer w.Stop()

			for event := range w.Events() {
				if !app.pipeline.StudyExists(event.Study) {
					app.logger.Debug("Ignoring change outside a study", "study", event.Study)
					continue
				}
				// failures are logged by the pipeline
				_, _ = app.pipeline.Run(ctx, event.Study)
			}
			app.logger.Info("Watcher stopped")
			return nil
		},
	}
}

func historyCmd(opts *globalOptions) *cobra.Command {
	var (
		limit int
		study string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.newApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()
			return app.printHistory(cmd.Context(), cmd.OutOrStdout(), study, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().StringVar(&study, "study", "", "Only show runs of this study")
	return cmd
}

func configCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default user config if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.NewLoader(newLogger(opts.logLevel, cmd.ErrOrStderr())).EnsureUserConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(newLogger(opts.logLevel, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})
	return cmd
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...)
}

func historyTable(runs []ledger.Run) *table.Table {
	t := newTable("STARTED", "STUDY", "STATUS", "RECORDS", "MERGED", "DROPPED", "COPIED", "SKIPPED", "DURATION", "ERROR")
	for _, r := range runs {
		t.Row(
			r.StartedAt.Local().Format(time.DateTime),
			r.Study,
			r.Status,
			strconv.Itoa(r.Annotated+r.PreProcessed),
			strconv.Itoa(r.Merged),
			strconv.Itoa(r.Dropped),
			strconv.Itoa(r.Copied),
			strconv.Itoa(r.Skipped),
			r.Duration().Round(time.Millisecond).String(),
			r.Error,
		)
	}
	return t
}
