package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "autobrancher.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/autobrancher"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger     *slog.Logger
	homeDir    string
	configFile string
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	home, _ := os.UserHomeDir()
	return &Loader{logger: logger, homeDir: home}
}

// WithHomeDir overrides the directory the user config is looked up in.
func (l *Loader) WithHomeDir(dir string) *Loader {
	l.homeDir = dir
	return l
}

// WithConfigFile adds an explicit config file applied after every other layer.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Load loads configuration for the document tree at root with layered precedence:
// 1. Default config
// 2. User config (~/.config/autobrancher/config.yaml)
// 3. Project config (autobrancher.yaml in root or its parent directories)
// 4. Explicit config file, when set
//
// Store.Root falls back to root when no layer sets it.
func (l *Loader) Load(root string) (*Config, error) {
	config := DefaultConfig()

	// Load user config
	if userConfigPath := l.userConfigPath(); userConfigPath != "" {
		if userConfig, err := loadOverlay(userConfigPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
			config.Merge(userConfig)
		} else if !os.IsNotExist(err) {
			l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
		}
	}

	// Load project config
	projectConfigPath := l.findProjectConfig(root)
	if projectConfigPath != "" {
		if projectConfig, err := loadOverlay(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found", slog.String("root", root))
	}

	if l.configFile != "" {
		explicit, err := loadOverlay(l.configFile)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", l.configFile, err)
		}
		l.logger.Debug("Loaded config file", slog.String("path", l.configFile))
		config.Merge(explicit)
	}

	if config.Store.Root == "" {
		config.Store.Root = root
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()
	if userConfigPath == "" {
		return fmt.Errorf("no home directory for user config")
	}

	if _, err := os.Stat(userConfigPath); err == nil {
		return nil
	}

	if err := DefaultConfig().SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

// EnsureProjectConfig writes the defaults to <root>/autobrancher.yaml unless
// the file already exists. It returns the file path.
func (l *Loader) EnsureProjectConfig(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("project root is required")
	}
	path := filepath.Join(root, ProjectConfigFile)
	if _, err := os.Stat(path); err == nil {
		l.logger.Debug("Project config already exists", slog.String("path", path))
		return path, nil
	}

	if err := DefaultConfig().SaveToFile(path); err != nil {
		return "", err
	}

	l.logger.Info("Created default project config", slog.String("path", path))
	return path, nil
}

// loadOverlay reads a config file without defaults so that Merge only applies
// the values the file actually sets.
func loadOverlay(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &overlay, nil
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	if l.homeDir == "" {
		return ""
	}
	return filepath.Join(l.homeDir, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for autobrancher.yaml in root and its parent directories
func (l *Loader) findProjectConfig(root string) string {
	if root == "" {
		return ""
	}
	dir, err := filepath.Abs(root)
	if err != nil {
		return ""
	}

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
