// Package paths resolves the configuration, data, and class definition
// locations the larder command uses.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName names the per-user directories.
const AppName = "larder"

// Names inside the configuration directory.
const (
	ConfigFileName = "config.yaml"
	ClassesDirName = "classes"
)

// EnvConfigDir overrides the configuration directory. The data directory
// and the other settings are overridden through the configuration layer,
// which reads LARDER_-prefixed variables.
const EnvConfigDir = "LARDER_CONFIG_DIR"

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	goos          string
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	goos:          runtime.GOOS,
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// xdgDir returns $env/larder, falling back to ~/fallback/larder.
func xdgDir(env string, fallback ...string) (string, error) {
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append(append([]string{home}, fallback...), AppName)...), nil
}

// DefaultConfigDir returns the platform-specific default configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/larder (fallback ~/.config/larder)
// macOS:   ~/Library/Application Support/larder
// Windows: %APPDATA%/larder
func DefaultConfigDir() (string, error) {
	if platformDir.goos == "linux" {
		return xdgDir("XDG_CONFIG_HOME", ".config")
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName), nil
}

// DefaultDataDir returns the platform-specific default data directory.
//
// Linux:   $XDG_DATA_HOME/larder (fallback ~/.local/share/larder)
// Others:  <user config dir>/larder/data
func DefaultDataDir() (string, error) {
	if platformDir.goos == "linux" {
		return xdgDir("XDG_DATA_HOME", ".local", "share")
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName, "data"), nil
}

// ResolveConfigDir returns the configuration directory: flag, then
// LARDER_CONFIG_DIR, then DefaultConfigDir. The result is absolute.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDataDir returns value as an absolute path, or DefaultDataDir when
// value is empty. value is the data_dir setting after flags, environment,
// and config file have been merged.
func ResolveDataDir(value string) (string, error) {
	if value != "" {
		return filepath.Abs(value)
	}
	return DefaultDataDir()
}

// ResolveClassesPath returns the class definition file or directory. A
// relative value is taken relative to configDir; an empty value means the
// classes directory inside configDir.
func ResolveClassesPath(value, configDir string) string {
	switch {
	case value == "":
		return filepath.Join(configDir, ClassesDirName)
	case filepath.IsAbs(value):
		return value
	}
	return filepath.Join(configDir, value)
}
