package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, "https://labs.google/fx/flow", config.Automation.BaseURL)
	assert.Equal(t, "300s", config.Automation.Timeouts.VideoGeneration)
	assert.Equal(t, []string{"google.com", "youtube.com"}, config.Cookies.AuthDomains)
	assert.Equal(t, 1920, config.Browser.ViewportWidth)
	assert.Equal(t, 1080, config.Browser.ViewportHeight)
	assert.Equal(t, "llama3.2", config.Chat.Model)
	assert.Len(t, config.Automation.Selectors.SignedIn, 4)
	require.NoError(t, config.Validate())
}

func TestLoadFromFiles_LaterFileWins(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	override := filepath.Join(dir, "override.toml")

	require.NoError(t, os.WriteFile(base, []byte(`
[server]
port = 9000

[automation.timeouts]
video_generation = "120s"
`), 0644))
	require.NoError(t, os.WriteFile(override, []byte(`
[server]
port = 9001
`), 0644))

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, 9001, config.Server.Port)
	assert.Equal(t, "120s", config.Automation.Timeouts.VideoGeneration)
	// Untouched keys keep their defaults
	assert.Equal(t, "10s", config.Automation.Timeouts.ElementVisible)
}

func TestLoadFromFiles_EnvOverrides(t *testing.T) {
	t.Setenv("FLOWQUEUE_SERVER_PORT", "7070")
	t.Setenv("FLOWQUEUE_COOKIES_AUTH_DOMAINS", "example.com, test.org")
	t.Setenv("MODEL", "mistral")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 7070, config.Server.Port)
	assert.Equal(t, []string{"example.com", "test.org"}, config.Cookies.AuthDomains)
	assert.Equal(t, "mistral", config.Chat.Model)
}

func TestLoadFromFiles_RejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")

	require.NoError(t, os.WriteFile(path, []byte(`
[automation.timeouts]
page_load = "soon"
`), 0644))
	_, err := LoadFromFiles(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
[queue]
auto_start_schedule = "not a cron"
`), 0644))
	_, err = LoadFromFiles(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
[browser]
mode = "remote"
`), 0644))
	_, err = LoadFromFiles(path)
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, ParseDuration("5s", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("bogus", time.Minute))
	assert.Equal(t, time.Duration(0), ParseDuration("0", time.Minute))
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 8085, config.Server.Port)

	ApplyFlagOverrides(config, 9999, "0.0.0.0")
	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
}
