package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/larder/internal/paths"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// Config keys in config.yaml. Each can be overridden by a LARDER_-prefixed
// environment variable, and data_dir and classes by their flags.
const (
	cfgKeyBackend  = "backend"
	cfgKeyDataDir  = "data_dir"
	cfgKeyClasses  = "classes"
	cfgKeyLogLevel = "log_level"

	envPrefix       = "LARDER"
	defaultLogLevel = "info"
)

// defaultConfigYAML is written to config.yaml by init.
const defaultConfigYAML = `# larder configuration

# Storage backend: sqlite or memory.
backend: sqlite

# Data directory for the sqlite backend (default: platform data directory).
# data_dir:

# Class definition file or directory, relative to this directory.
# classes: classes

# Log level: debug, info, warn, error.
log_level: info
`

// settings is the merged view of flags, environment, and config.yaml.
type settings struct {
	configDir string
	backend   string
	dataDir   string
	classes   string
	logLevel  string
	jsonMode  bool
	verbose   bool
}

// loadSettings resolves the configuration directory and reads config.yaml
// from it. Flags win over environment variables, which win over the file.
// A missing config.yaml is not an error.
func loadSettings(cmd *cobra.Command, flags *rootFlags) (*settings, error) {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}

	v := viper.New()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetDefault(cfgKeyLogLevel, defaultLogLevel)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetConfigName(strings.TrimSuffix(paths.ConfigFileName, filepath.Ext(paths.ConfigFileName)))
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	pf := cmd.Root().PersistentFlags()
	if err := v.BindPFlag(cfgKeyDataDir, pf.Lookup("data-dir")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag(cfgKeyClasses, pf.Lookup("classes")); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return &settings{
		configDir: configDir,
		backend:   v.GetString(cfgKeyBackend),
		dataDir:   v.GetString(cfgKeyDataDir),
		classes:   v.GetString(cfgKeyClasses),
		logLevel:  v.GetString(cfgKeyLogLevel),
		jsonMode:  flags.jsonMode,
		verbose:   flags.verbose,
	}, nil
}

// storeConfig returns the backend configuration the settings select.
func (s *settings) storeConfig() (types.Config, error) {
	cfg := types.Config{Backend: s.backend}
	if s.backend == types.BackendSQLite {
		dir, err := paths.ResolveDataDir(s.dataDir)
		if err != nil {
			return cfg, fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.DataDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("backend %q: %w", s.backend, err)
	}
	return cfg, nil
}

// classesPath returns the class definition file or directory.
func (s *settings) classesPath() string {
	return paths.ResolveClassesPath(s.classes, s.configDir)
}

// logger returns a text logger on w at the configured level; --verbose
// forces debug.
func (s *settings) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.logLevel)); err != nil {
		return nil, usageErrorf("log_level %q: %v", s.logLevel, err)
	}
	if s.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// writeConfigIfMissing creates config.yaml with the default content if the
// file does not exist.
func writeConfigIfMissing(configDir string) (bool, error) {
	path := filepath.Join(configDir, paths.ConfigFileName)
	_, err := os.Stat(path)
	if err == nil {
		return false, nil
	}
	if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat config file: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return false, err
	}
	return true, nil
}
