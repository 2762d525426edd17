package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "madcsync.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/madcsync"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
	// DotenvFile holds environment overrides next to the working directory
	DotenvFile = ".env"
)

// Environment variables overriding file configuration.
const (
	EnvSourceRoot      = "MADCSYNC_SOURCE_ROOT"
	EnvDestRoot        = "MADCSYNC_DEST_ROOT"
	EnvLedger          = "MADCSYNC_LEDGER"
	EnvMetricsTextfile = "MADCSYNC_METRICS_TEXTFILE"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger    *slog.Logger
	lookupEnv func(string) (string, bool)
	workDir   func() (string, error)
	homeDir   func() (string, error)
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		logger:    logger,
		lookupEnv: os.LookupEnv,
		workDir:   os.Getwd,
		homeDir:   os.UserHomeDir,
	}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/madcsync/config.yaml)
// 3. Project config (madcsync.yaml in current or parent directories)
// 4. Explicit config file (explicitPath, if not empty)
// 5. Environment variables, then a .env file in the working directory
func (l *Loader) Load(explicitPath string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Load user config
	if userConfigPath := l.userConfigPath(); userConfigPath != "" {
		if userConfig, err := readLayer(userConfigPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
			config.Merge(userConfig)
		} else if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
		}
	}

	// Load project config
	projectConfigPath := l.findProjectConfig()
	if projectConfigPath != "" {
		if projectConfig, err := readLayer(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	// Explicit config must load
	if explicitPath != "" {
		explicit, err := readLayer(explicitPath)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded config file", slog.String("path", explicitPath))
		config.Merge(explicit)
	}

	l.applyEnv(config)

	// Validate final config
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnv overrides paths from the environment. Variables set in the
// process environment win over the .env file.
func (l *Loader) applyEnv(config *Config) {
	dotenv := l.readDotenv()
	overrides := []struct {
		name string
		dst  *string
	}{
		{EnvSourceRoot, &config.Paths.SourceRoot},
		{EnvDestRoot, &config.Paths.DestRoot},
		{EnvLedger, &config.Ledger.Path},
		{EnvMetricsTextfile, &config.Metrics.Textfile},
	}
	for _, o := range overrides {
		if value, ok := l.lookupEnv(o.name); ok && value != "" {
			*o.dst = value
			l.logger.Debug("Config overridden from environment", slog.String("env", o.name))
		} else if value := dotenv[o.name]; value != "" {
			*o.dst = value
			l.logger.Debug("Config overridden from .env", slog.String("env", o.name))
		}
	}
}

// readDotenv parses the .env file of the working directory, if any.
func (l *Loader) readDotenv() map[string]string {
	cwd, err := l.workDir()
	if err != nil {
		return nil
	}
	path := filepath.Join(cwd, DotenvFile)
	values, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("Failed to read .env file", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil
	}
	return values
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() (string, error) {
	userConfigPath := l.userConfigPath()
	if userConfigPath == "" {
		return "", errors.New("cannot determine home directory")
	}

	// Check if it already exists
	if _, err := os.Stat(userConfigPath); err == nil {
		return userConfigPath, nil // Already exists
	}

	// Create default config
	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return "", err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return userConfigPath, nil
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	home, err := l.homeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for madcsync.yaml in current and parent directories
func (l *Loader) findProjectConfig() string {
	cwd, err := l.workDir()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			break
		}
		dir = parent
	}

	return ""
}
