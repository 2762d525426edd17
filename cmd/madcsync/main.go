// Package main provides the madcsync binary entry point.
// Madcsync copies processed immune repertoire studies from the sequence
// data store into the mADC archive and merges their processing metadata.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/madcsync/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "madcsync"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	sourceRoot string
	destRoot   string
	logLevel   string
}

func rootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Copy processed studies into the mADC archive",
		Long: `Madcsync takes a study from the sequence data store, copies its
annotated result files into the mADC study folder and writes the study's
project metadata merged with the data_processing metadata of every
repertoire.

Without a subcommand it asks for study names until "exit" is entered.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.newApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()
			return app.RunPrompt(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	flags.StringVar(&opts.sourceRoot, "source-root", "", "Sequence data store holding one folder per study")
	flags.StringVar(&opts.destRoot, "dest-root", "", "mADC studies folder")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		runCmd(opts),
		scanCmd(opts),
		studiesCmd(opts),
		watchCmd(opts),
		historyCmd(opts),
		configCmd(opts),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	}
}

// newLogger builds the text logger used by every command.
func newLogger(logLevel string, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig resolves the layered configuration and applies flag overrides.
func (o *globalOptions) loadConfig(logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.NewLoader(logger).Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.sourceRoot != "" {
		cfg.Paths.SourceRoot = o.sourceRoot
	}
	if o.destRoot != "" {
		cfg.Paths.DestRoot = o.destRoot
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o *globalOptions) newApp(logOut io.Writer) (*App, error) {
	logger := newLogger(o.logLevel, logOut)
	slog.SetDefault(logger)

	cfg, err := o.loadConfig(logger)
	if err != nil {
		return nil, err
	}
	return NewApp(cfg, logger)
}
