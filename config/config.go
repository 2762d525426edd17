// Package config provides configuration loading and management for madcsync.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Record error policies.
const (
	// OnRecordErrorAbort fails the whole study on the first unreadable record.
	OnRecordErrorAbort = "abort"
	// OnRecordErrorSkip logs the record and continues with the next one.
	OnRecordErrorSkip = "skip"
)

// Config represents the complete madcsync configuration
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Layout   LayoutConfig   `yaml:"layout"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Watch    WatchConfig    `yaml:"watch"`
}

// PathsConfig locates the staging area and the archive
type PathsConfig struct {
	// SourceRoot holds one folder per study to pick up
	SourceRoot string `yaml:"source_root"`
	// DestRoot receives one folder per processed study
	DestRoot string `yaml:"dest_root"`
}

// LayoutConfig names the folders and files inside a study
type LayoutConfig struct {
	// RunsDir is the slash-separated path of the current run below a study
	RunsDir         string `yaml:"runs_dir"`
	AnnotatedDir    string `yaml:"annotated_dir"`
	PreProcessedDir string `yaml:"pre_processed_dir"`
	// ProjectMetadata is the slash-separated path of the master document below a study
	ProjectMetadata string `yaml:"project_metadata"`
	// OutputMetadata is the merged document's name in the destination study folder
	OutputMetadata string `yaml:"output_metadata"`

	// MetadataFolderPattern and ResultFilePattern are doublestar globs
	// matched against a single folder or file name
	MetadataFolderPattern string `yaml:"metadata_folder_pattern"`
	ResultFilePattern     string `yaml:"result_file_pattern"`
	IdentifierFile        string `yaml:"identifier_file"`
	AnnotationFragment    string `yaml:"annotation_fragment"`
	PreProcessedFragment  string `yaml:"pre_processed_fragment"`
}

// PipelineConfig tunes the merge run
type PipelineConfig struct {
	// OnRecordError is "abort" (default) or "skip"
	OnRecordError string `yaml:"on_record_error"`
	// Indent is the number of spaces used to indent the merged document
	Indent int `yaml:"indent"`
}

// LedgerConfig configures the run history database
type LedgerConfig struct {
	// Path of the SQLite database (empty = disabled)
	Path string `yaml:"path"`
}

// MetricsConfig configures metrics export
type MetricsConfig struct {
	// Textfile receives the metrics after every run (empty = disabled)
	Textfile string `yaml:"textfile"`
}

// WatchConfig configures watch mode
type WatchConfig struct {
	// DebounceDelay is the quiet period before a changed study is processed
	DebounceDelay time.Duration `yaml:"debounce_delay"`
	// ExcludeDirs lists directory names that are never watched
	ExcludeDirs []string `yaml:"exclude_dirs"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			SourceRoot: "/work/sequence_data_store/",
			DestRoot:   "/work/mADC/studies/",
		},
		Layout: LayoutConfig{
			RunsDir:               "runs/current",
			AnnotatedDir:          "annotated",
			PreProcessedDir:       "pre_processed",
			ProjectMetadata:       "project_metadata/metadata.json",
			OutputMetadata:        "metadata.json",
			MetadataFolderPattern: "*meta_data*",
			ResultFilePattern:     "*Finale*",
			IdentifierFile:        "repertoire_id.json",
			AnnotationFragment:    "annotation_metadata.json",
			PreProcessedFragment:  "pre_processed_metadata.json",
		},
		Pipeline: PipelineConfig{
			OnRecordError: OnRecordErrorAbort,
			Indent:        4,
		},
		Watch: WatchConfig{
			DebounceDelay: 2 * time.Second,
			ExcludeDirs:   []string{".git", ".snapshot"},
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Paths.SourceRoot == "" {
		return fmt.Errorf("paths.source_root is required")
	}
	if c.Paths.DestRoot == "" {
		return fmt.Errorf("paths.dest_root is required")
	}

	required := map[string]string{
		"layout.runs_dir":               c.Layout.RunsDir,
		"layout.annotated_dir":          c.Layout.AnnotatedDir,
		"layout.pre_processed_dir":      c.Layout.PreProcessedDir,
		"layout.project_metadata":       c.Layout.ProjectMetadata,
		"layout.output_metadata":        c.Layout.OutputMetadata,
		"layout.identifier_file":        c.Layout.IdentifierFile,
		"layout.annotation_fragment":    c.Layout.AnnotationFragment,
		"layout.pre_processed_fragment": c.Layout.PreProcessedFragment,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if !doublestar.ValidatePattern(c.Layout.MetadataFolderPattern) || c.Layout.MetadataFolderPattern == "" {
		return fmt.Errorf("layout.metadata_folder_pattern is not a valid glob: %q", c.Layout.MetadataFolderPattern)
	}
	if !doublestar.ValidatePattern(c.Layout.ResultFilePattern) || c.Layout.ResultFilePattern == "" {
		return fmt.Errorf("layout.result_file_pattern is not a valid glob: %q", c.Layout.ResultFilePattern)
	}

	switch c.Pipeline.OnRecordError {
	case OnRecordErrorAbort, OnRecordErrorSkip:
	default:
		return fmt.Errorf("pipeline.on_record_error must be %q or %q", OnRecordErrorAbort, OnRecordErrorSkip)
	}
	if c.Pipeline.Indent < 0 || c.Pipeline.Indent > 8 {
		return fmt.Errorf("pipeline.indent must be between 0 and 8")
	}

	if c.Watch.DebounceDelay < 0 {
		return fmt.Errorf("watch.debounce_delay must not be negative")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(path string) (*Config, error) {
	layer, err := readLayer(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	config.Merge(layer)
	return config, nil
}

// readLayer decodes a YAML file without applying defaults, so that only the
// keys it sets take part in a merge.
func readLayer(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Paths
	mergeString(&c.Paths.SourceRoot, other.Paths.SourceRoot)
	mergeString(&c.Paths.DestRoot, other.Paths.DestRoot)

	// Layout
	mergeString(&c.Layout.RunsDir, other.Layout.RunsDir)
	mergeString(&c.Layout.AnnotatedDir, other.Layout.AnnotatedDir)
	mergeString(&c.Layout.PreProcessedDir, other.Layout.PreProcessedDir)
	mergeString(&c.Layout.ProjectMetadata, other.Layout.ProjectMetadata)
	mergeString(&c.Layout.OutputMetadata, other.Layout.OutputMetadata)
	mergeString(&c.Layout.MetadataFolderPattern, other.Layout.MetadataFolderPattern)
	mergeString(&c.Layout.ResultFilePattern, other.Layout.ResultFilePattern)
	mergeString(&c.Layout.IdentifierFile, other.Layout.IdentifierFile)
	mergeString(&c.Layout.AnnotationFragment, other.Layout.AnnotationFragment)
	mergeString(&c.Layout.PreProcessedFragment, other.Layout.PreProcessedFragment)

	// Pipeline
	mergeString(&c.Pipeline.OnRecordError, other.Pipeline.OnRecordError)
	if other.Pipeline.Indent != 0 {
		c.Pipeline.Indent = other.Pipeline.Indent
	}

	// Ledger and metrics
	mergeString(&c.Ledger.Path, other.Ledger.Path)
	mergeString(&c.Metrics.Textfile, other.Metrics.Textfile)

	// Watch
	if other.Watch.DebounceDelay != 0 {
		c.Watch.DebounceDelay = other.Watch.DebounceDelay
	}
	if len(other.Watch.ExcludeDirs) > 0 {
		c.Watch.ExcludeDirs = other.Watch.ExcludeDirs
	}
}

func mergeString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// IndentString returns the indentation unit of the merged document.
func (c *Config) IndentString() string {
	return fmt.Sprintf("%*s", c.Pipeline.Indent, "")
}
