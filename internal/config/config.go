// Package config loads autodocstr settings from .autodocstr.yaml or the
// [tool.autodocstr] table of pyproject.toml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// FileName is the project-level configuration file.
const FileName = ".autodocstr.yaml"

// Backends accepted by Config.Backend.
const (
	BackendOpenAI = "openai"
	BackendStub   = "stub"
)

// Config holds every setting that affects a run.
type Config struct {
	Backend            string   `yaml:"backend" toml:"backend"`
	Model              string   `yaml:"model" toml:"model"`
	BaseURL            string   `yaml:"base_url" toml:"base_url"`
	APIKeyEnv          string   `yaml:"api_key_env" toml:"api_key_env"`
	Jobs               int      `yaml:"jobs" toml:"jobs"`               // files in flight; 0 means GOMAXPROCS
	Concurrency        int      `yaml:"concurrency" toml:"concurrency"` // generation calls in flight per file
	RequestsPerMinute  int      `yaml:"requests_per_minute" toml:"requests_per_minute"`
	MaxRetries         int      `yaml:"max_retries" toml:"max_retries"`
	MaxBodyTokens      int      `yaml:"max_body_tokens" toml:"max_body_tokens"`
	MaxFileSize        int      `yaml:"max_file_size" toml:"max_file_size"`
	Cache              string   `yaml:"cache" toml:"cache"` // relative to the project root; empty disables
	Exclude            []string `yaml:"exclude" toml:"exclude"`
	SkipTests          bool     `yaml:"skip_tests" toml:"skip_tests"` // leave test files alone
	KeepPlaceholder    bool     `yaml:"keep_placeholder" toml:"keep_placeholder"`
	CommentCountsAsDoc bool     `yaml:"comment_counts_as_doc" toml:"comment_counts_as_doc"`
	StubText           string   `yaml:"stub_text" toml:"stub_text"`

	// Source is the file the settings were read from, empty for defaults.
	Source string `yaml:"-" toml:"-"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Backend:           BackendOpenAI,
		Model:             "gpt-4o-mini",
		APIKeyEnv:         "OPENAI_API_KEY",
		Concurrency:       4,
		RequestsPerMinute: 20,
		MaxRetries:        2,
		MaxBodyTokens:     2000,
		MaxFileSize:       1_000_000,
		Cache:             ".autodocstr-cache.json",
		Exclude:           []string{},
		StubText:          "Describe what this function does.",
	}
}

// Load returns the configuration for the project at root. When explicit is
// non-empty that file is read and must exist. Otherwise root/.autodocstr.yaml
// is used if present, then [tool.autodocstr] in root/pyproject.toml, then
// the defaults. Keys missing from a file keep their default values.
func Load(root, explicit string) (Config, error) {
	cfg := Default()

	if explicit != "" {
		if err := loadFile(&cfg, explicit); err != nil {
			return Config{}, err
		}
		return cfg, cfg.Validate()
	}

	path := filepath.Join(root, FileName)
	if _, err := os.Stat(path); err == nil {
		if err := loadFile(&cfg, path); err != nil {
			return Config{}, err
		}
		return cfg, cfg.Validate()
	}

	pyproject := filepath.Join(root, "pyproject.toml")
	data, err := os.ReadFile(pyproject)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return cfg, cfg.Validate()
	case err != nil:
		return Config{}, fmt.Errorf("reading %s: %w", pyproject, err)
	}
	found, err := decodePyproject(&cfg, data)
	if err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", pyproject, err)
	}
	if found {
		cfg.Source = pyproject
	}
	return cfg, cfg.Validate()
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	if filepath.Ext(path) == ".toml" {
		found, err := decodePyproject(cfg, data)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		if !found {
			return fmt.Errorf("%s: no [tool.autodocstr] table", path)
		}
	} else if err := decodeYAML(cfg, data); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.Source = path
	return nil
}

// decodeYAML overlays data onto cfg. Unknown keys are an error so typos do
// not silently fall back to defaults.
func decodeYAML(cfg *Config, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// decodePyproject overlays the [tool.autodocstr] table onto cfg and reports
// whether the table exists.
func decodePyproject(cfg *Config, data []byte) (bool, error) {
	var raw struct {
		Tool struct {
			Autodocstr map[string]any `toml:"autodocstr"`
		} `toml:"tool"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return false, err
	}
	if raw.Tool.Autodocstr == nil {
		return false, nil
	}

	// Round-trip the table so only present keys override defaults.
	table, err := toml.Marshal(raw.Tool.Autodocstr)
	if err != nil {
		return false, err
	}
	dec := toml.NewDecoder(bytes.NewReader(table))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return false, err
	}
	return true, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendOpenAI:
		if c.APIKeyEnv == "" {
			return errors.New("config: api_key_env must be set for the openai backend")
		}
	case BackendStub:
		if c.StubText == "" {
			return errors.New("config: stub_text must be set for the stub backend")
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Jobs < 0 {
		return fmt.Errorf("config: jobs must be >= 0, got %d", c.Jobs)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.RequestsPerMinute < 0 {
		return fmt.Errorf("config: requests_per_minute must be >= 0, got %d", c.RequestsPerMinute)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.MaxBodyTokens < 0 {
		return fmt.Errorf("config: max_body_tokens must be >= 0, got %d", c.MaxBodyTokens)
	}
	if c.MaxFileSize < 1 {
		return fmt.Errorf("config: max_file_size must be >= 1, got %d", c.MaxFileSize)
	}
	return nil
}

// Marshal renders c as the contents of an .autodocstr.yaml file.
func Marshal(c Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
