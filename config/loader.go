package config

import (
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the name of the project-level manifest file
	ProjectConfigFile = "semgen.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/semgen"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Loader handles manifest loading with layered precedence
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new manifest loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads the manifest with layered precedence:
// 1. Default config
// 2. User config (~/.config/semgen/config.yaml)
// 3. Project manifest (semgen.yaml in current or parent directories)
// The project manifest's directory becomes the workspace root unless
// the manifest sets one explicitly.
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	userConfigPath := l.userConfigPath()
	if userConfig, err := LoadFromFile(userConfigPath); err == nil {
		l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
		config.Merge(userConfig)
	} else if !os.IsNotExist(err) {
		l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
	}

	projectConfigPath := l.findProjectConfig()
	if projectConfigPath != "" {
		projectConfig, err := LoadFromFile(projectConfigPath)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded project manifest", slog.String("path", projectConfigPath))
		config.Merge(projectConfig)
		if config.Workspace.Root == "" {
			config.Workspace.Root = filepath.Dir(projectConfigPath)
		}
	} else {
		l.logger.Debug("No project manifest found")
	}

	if config.Workspace.Root == "" {
		if cwd, err := os.Getwd(); err == nil {
			config.Workspace.Root = cwd
			l.logger.Debug("Using current directory as workspace root", slog.String("path", cwd))
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadManifest loads and validates one explicit manifest file. The
// manifest's directory becomes the workspace root unless set.
func (l *Loader) LoadManifest(path string) (*Config, error) {
	config := DefaultConfig()
	manifest, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	config.Merge(manifest)

	if config.Workspace.Root == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		config.Workspace.Root = filepath.Dir(abs)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()

	if _, err := os.Stat(userConfigPath); err == nil {
		return nil // Already exists
	}

	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for semgen.yaml in current and parent directories
func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
