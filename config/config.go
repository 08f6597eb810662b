package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL      = "http://localhost:8000"
	DefaultTimeout      = 2 * time.Minute
	DefaultMaxBytes     = 32 << 20
	DefaultSnippetWidth = 40
)

type Config struct {
	API   APIConfig   `yaml:"api"`
	Audio AudioConfig `yaml:"audio"`
	Log   LogConfig   `yaml:"log"`
	UI    UIConfig    `yaml:"ui"`
}

type APIConfig struct {
	BaseURL string            `yaml:"base_url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

type AudioConfig struct {
	Device   string `yaml:"device"`    // empty = system default
	MaxBytes int    `yaml:"max_bytes"` // capture buffer bound per recording
}

type LogConfig struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

type UIConfig struct {
	Beep         *bool `yaml:"beep"`
	SnippetWidth int   `yaml:"snippet_width"`
}

func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML file and fills unset fields with defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOptional behaves like Load but returns defaults when the file does not
// exist. Used for the implicit per-user config path.
func LoadOptional(path string) (Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// ResolvePath picks the config file: -config flag, then VOICECRM_CONFIG,
// then the OS config dir. explicit reports whether the file must exist.
func ResolvePath(flagPath string) (path string, explicit bool) {
	if flagPath != "" {
		return flagPath, true
	}
	if env := os.Getenv("VOICECRM_CONFIG"); env != "" {
		return env, true
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(dir, "voicecrm", "config.yaml"), false
}

func (c *Config) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultTimeout
	}
	if c.Audio.MaxBytes == 0 {
		c.Audio.MaxBytes = DefaultMaxBytes
	}
	if c.UI.Beep == nil {
		on := true
		c.UI.Beep = &on
	}
	if c.UI.SnippetWidth == 0 {
		c.UI.SnippetWidth = DefaultSnippetWidth
	}
}

func (c Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url %q: must be an absolute http(s) URL", c.API.BaseURL)
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("api.timeout must not be negative")
	}
	if c.Audio.MaxBytes < 0 {
		return fmt.Errorf("audio.max_bytes must not be negative")
	}
	return nil
}

func (c Config) BeepEnabled() bool {
	return c.UI.Beep == nil || *c.UI.Beep
}

// WithAPI returns a copy with the base URL replaced and re-validated.
func (c Config) WithAPI(baseURL string) (Config, error) {
	if baseURL == "" {
		return c, nil
	}
	c.API.BaseURL = strings.TrimRight(baseURL, "/")
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
