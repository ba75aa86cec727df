package paths

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlatform swaps the platform hooks for the duration of a test.
func fakePlatform(t *testing.T, goos, home, configDir string) {
	t.Helper()
	saved := platformDir
	t.Cleanup(func() { platformDir = saved })
	platformDir.goos = goos
	platformDir.homeDir = func() (string, error) { return home, nil }
	platformDir.userConfigDir = func() (string, error) { return configDir, nil }
}

func TestDefaultDirs(t *testing.T) {
	tests := []struct {
		name       string
		goos       string
		xdgConfig  string
		xdgData    string
		wantConfig string
		wantData   string
	}{
		{
			name:       "linux with XDG",
			goos:       "linux",
			xdgConfig:  "/xdg/config",
			xdgData:    "/xdg/data",
			wantConfig: "/xdg/config/larder",
			wantData:   "/xdg/data/larder",
		},
		{
			name:       "linux without XDG",
			goos:       "linux",
			wantConfig: "/home/u/.config/larder",
			wantData:   "/home/u/.local/share/larder",
		},
		{
			name:       "darwin",
			goos:       "darwin",
			xdgConfig:  "/ignored",
			wantConfig: "/Users/u/Library/Application Support/larder",
			wantData:   "/Users/u/Library/Application Support/larder/data",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := "/home/u"
			if tt.goos == "darwin" {
				home = "/Users/u"
			}
			fakePlatform(t, tt.goos, home, filepath.Join(home, "Library", "Application Support"))
			t.Setenv("XDG_CONFIG_HOME", tt.xdgConfig)
			t.Setenv("XDG_DATA_HOME", tt.xdgData)

			got, err := DefaultConfigDir()
			require.NoError(t, err)
			assert.Equal(t, tt.wantConfig, got)

			got, err = DefaultDataDir()
			require.NoError(t, err)
			assert.Equal(t, tt.wantData, got)
		})
	}
}

func TestDefaultDirHomeError(t *testing.T) {
	fakePlatform(t, "linux", "", "")
	platformDir.homeDir = func() (string, error) { return "", errors.New("no home") }
	t.Setenv("XDG_CONFIG_HOME", "")

	_, err := DefaultConfigDir()
	assert.EqualError(t, err, "no home")
}

func TestResolveConfigDir(t *testing.T) {
	fakePlatform(t, "linux", "/home/u", "")
	t.Setenv("XDG_CONFIG_HOME", "")

	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{name: "flag wins over env", flag: "/explicit", env: "/env", want: "/explicit"},
		{name: "env when flag empty", env: "/env", want: "/env"},
		{name: "platform default", want: "/home/u/.config/larder"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvConfigDir, tt.env)
			got, err := ResolveConfigDir(tt.flag)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("relative flag becomes absolute", func(t *testing.T) {
		got, err := ResolveConfigDir("relative/path")
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(got), "expected absolute path, got %s", got)
	})
}

func TestResolveDataDir(t *testing.T) {
	fakePlatform(t, "linux", "/home/u", "")
	t.Setenv("XDG_DATA_HOME", "")

	got, err := ResolveDataDir("/data")
	require.NoError(t, err)
	assert.Equal(t, "/data", got)

	got, err = ResolveDataDir("")
	require.NoError(t, err)
	assert.Equal(t, "/home/u/.local/share/larder", got)

	got, err = ResolveDataDir("rel")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
}

func TestResolveClassesPath(t *testing.T) {
	assert.Equal(t, "/cfg/classes", ResolveClassesPath("", "/cfg"))
	assert.Equal(t, "/cfg/shop.yaml", ResolveClassesPath("shop.yaml", "/cfg"))
	assert.Equal(t, "/defs", ResolveClassesPath("/defs", "/cfg"))
}
