package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	cfg, err := Load(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("got %+v, want defaults", cfg)
	}
	if cfg.Source != "" {
		t.Errorf("Source = %q, want empty", cfg.Source)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, FileName, `
model: gpt-4.1
concurrency: 8
keep_placeholder: true
skip_tests: true
exclude:
  - migrations/
`)

	cfg, err := Load(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "gpt-4.1" || cfg.Concurrency != 8 || !cfg.KeepPlaceholder || !cfg.SkipTests {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if len(cfg.Exclude) != 1 || cfg.Exclude[0] != "migrations/" {
		t.Errorf("Exclude = %v", cfg.Exclude)
	}
	// Untouched keys keep their defaults.
	if cfg.RequestsPerMinute != 20 || cfg.APIKeyEnv != "OPENAI_API_KEY" {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if cfg.Source != path {
		t.Errorf("Source = %q, want %q", cfg.Source, path)
	}
}

func TestLoadYAMLEmptyFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, FileName, "")

	cfg, err := Load(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != Default().Model {
		t.Errorf("Model = %q", cfg.Model)
	}
}

func TestLoadYAMLUnknownKey(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, FileName, "modle: gpt-4.1\n")

	if _, err := Load(dir, ""); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadPyproject(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "pyproject.toml", `
[project]
name = "demo"

[tool.black]
line-length = 100

[tool.autodocstr]
backend = "stub"
stub_text = "Doc."
comment_counts_as_doc = true
requests_per_minute = 0
`)

	cfg, err := Load(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != BackendStub || cfg.StubText != "Doc." || !cfg.CommentCountsAsDoc {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.RequestsPerMinute != 0 {
		t.Errorf("RequestsPerMinute = %d, want 0", cfg.RequestsPerMinute)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want default 4", cfg.Concurrency)
	}
	if cfg.Source != path {
		t.Errorf("Source = %q, want %q", cfg.Source, path)
	}
}

func TestLoadPyprojectWithoutTable(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "pyproject.toml", "[project]\nname = \"demo\"\n")

	cfg, err := Load(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Source != "" {
		t.Errorf("Source = %q, want empty", cfg.Source)
	}
}

func TestLoadPyprojectUnknownKey(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "pyproject.toml", "[tool.autodocstr]\nbakend = \"stub\"\n")

	if _, err := Load(dir, ""); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadYAMLWinsOverPyproject(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, FileName, "model: from-yaml\n")
	writeFile(t, dir, "pyproject.toml", "[tool.autodocstr]\nmodel = \"from-toml\"\n")

	cfg, err := Load(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "from-yaml" {
		t.Errorf("Model = %q, want from-yaml", cfg.Model)
	}
}

func TestLoadExplicit(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, FileName, "model: project\n")
	other := writeFile(t, t.TempDir(), "custom.yaml", "model: explicit\n")

	cfg, err := Load(dir, other)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "explicit" {
		t.Errorf("Model = %q, want explicit", cfg.Model)
	}

	if _, err := Load(dir, filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Backend = "llama" }, "unknown backend"},
		{"stub without text", func(c *Config) { c.Backend = BackendStub; c.StubText = "" }, "stub_text"},
		{"openai without env", func(c *Config) { c.APIKeyEnv = "" }, "api_key_env"},
		{"negative jobs", func(c *Config) { c.Jobs = -1 }, "jobs"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"negative rate", func(c *Config) { c.RequestsPerMinute = -1 }, "requests_per_minute"},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "max_retries"},
		{"negative tokens", func(c *Config) { c.MaxBodyTokens = -5 }, "max_body_tokens"},
		{"zero file size", func(c *Config) { c.MaxFileSize = 0 }, "max_file_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	data, err := Marshal(Default())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "source") {
		t.Errorf("Source must not be written:\n%s", data)
	}
	writeFile(t, dir, FileName, string(data))

	cfg, err := Load(dir, "")
	if err != nil {
		t.Fatalf("Load of marshaled defaults: %v\n%s", err, data)
	}
	cfg.Source = ""
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("round trip changed config:\n got %+v\nwant %+v", cfg, Default())
	}
}
