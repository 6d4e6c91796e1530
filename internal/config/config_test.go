package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"optibatch/internal/config"
)

func TestLoadDefaultConfigUsesEnvAndExpandsPaths(t *testing.T) {
	t.Setenv("OPTIBATCH_REMOTE_URL", "https://cms.example.com/api/")
	t.Setenv("OPTIBATCH_REMOTE_TOKEN", "secret")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "optibatch")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Remote.BaseURL != "https://cms.example.com/api" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Remote.BaseURL)
	}
	if cfg.Remote.Token != "secret" {
		t.Fatalf("expected token from env, got %q", cfg.Remote.Token)
	}
	if cfg.Optimize.Quality != 82 || !cfg.Optimize.Resize || cfg.Optimize.MaxWidth != 2048 {
		t.Fatalf("unexpected optimize defaults: %+v", cfg.Optimize)
	}
	if cfg.LedgerPath() != filepath.Join(wantState, "ledger.db") {
		t.Fatalf("unexpected ledger path %q", cfg.LedgerPath())
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "optibatch.toml")
	contents := `
[paths]
state_dir = "` + filepath.ToSlash(filepath.Join(dir, "state")) + `"

[remote]
base_url = "http://localhost:8080"

[optimize]
quality = 60
resize = false
skip_small = false
format = "JPG"

[workflow]
sync_batch_size = 0
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected explicit path to resolve, got %q exists=%v", resolved, exists)
	}
	settings := cfg.Settings()
	if settings.Quality != 60 || settings.Resize || settings.SkipSmall {
		t.Fatalf("unexpected settings: %+v", settings)
	}
	if settings.Format != "jpeg" {
		t.Fatalf("expected jpg alias normalized to jpeg, got %q", settings.Format)
	}
	if cfg.Workflow.SyncBatchSize != 5 {
		t.Fatalf("expected batch size default restored, got %d", cfg.Workflow.SyncBatchSize)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"missing base url", func(c *config.Config) { c.Remote.BaseURL = "" }, "remote.base_url is required"},
		{"relative base url", func(c *config.Config) { c.Remote.BaseURL = "/api" }, "absolute"},
		{"bad scheme", func(c *config.Config) { c.Remote.BaseURL = "ftp://host" }, "scheme"},
		{"quality high", func(c *config.Config) { c.Optimize.Quality = 101 }, "optimize.quality"},
		{"max width", func(c *config.Config) { c.Optimize.MaxWidth = 0 }, "optimize.max_width"},
		{"min size", func(c *config.Config) { c.Optimize.MinSizeKB = 0 }, "optimize.min_size_kb"},
		{"format", func(c *config.Config) { c.Optimize.Format = "avif" }, "optimize.format"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Remote.BaseURL = "https://cms.example.com"
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %q", tc.want, err.Error())
			}
		})
	}
}

func TestSampleConfigParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var cfg config.Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if cfg.Optimize.Quality != 82 {
		t.Fatalf("unexpected sample quality %d", cfg.Optimize.Quality)
	}
	if cfg.Remote.BaseURL == "" {
		t.Fatal("sample config should carry a placeholder base url")
	}
}
