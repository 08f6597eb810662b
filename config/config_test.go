package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://crm.example.test/
  timeout: 45s
  headers:
    ngrok-skip-browser-warning: "69420"
audio:
  device: USB Mic
log:
  level: debug
ui:
  beep: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://crm.example.test", cfg.API.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.API.Timeout)
	assert.Equal(t, "69420", cfg.API.Headers["ngrok-skip-browser-warning"])
	assert.Equal(t, "USB Mic", cfg.Audio.Device)
	assert.Equal(t, DefaultMaxBytes, cfg.Audio.MaxBytes)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.BeepEnabled())
	assert.Equal(t, DefaultSnippetWidth, cfg.UI.SnippetWidth)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, DefaultTimeout, cfg.API.Timeout)
	assert.True(t, cfg.BeepEnabled())
}

func TestLoadInvalidURL(t *testing.T) {
	_, err := Load(writeConfig(t, "api:\n  base_url: not-a-url\n"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "api: [unterminated\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg, err := LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestResolvePath(t *testing.T) {
	path, explicit := ResolvePath("/etc/voicecrm.yaml")
	assert.Equal(t, "/etc/voicecrm.yaml", path)
	assert.True(t, explicit)

	t.Setenv("VOICECRM_CONFIG", "/tmp/env.yaml")
	path, explicit = ResolvePath("")
	assert.Equal(t, "/tmp/env.yaml", path)
	assert.True(t, explicit)

	t.Setenv("VOICECRM_CONFIG", "")
	_, explicit = ResolvePath("")
	assert.False(t, explicit)
}

func TestWithAPI(t *testing.T) {
	cfg, err := Default().WithAPI("https://tunnel.example.test/")
	require.NoError(t, err)
	assert.Equal(t, "https://tunnel.example.test", cfg.API.BaseURL)

	unchanged, err := Default().WithAPI("")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, unchanged.API.BaseURL)

	_, err = Default().WithAPI("ftp://files.example.test")
	assert.Error(t, err)
}
