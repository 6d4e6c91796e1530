package testsupport

import (
	"path/filepath"
	"testing"

	"optibatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Remote.BaseURL = "http://127.0.0.1:1"
	cfgVal.Remote.Token = "test-token"
	cfgVal.Workflow.YieldIntervalMS = 1
	cfgVal.Workflow.BackgroundYieldIntervalMS = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithRemoteURL points the config at a test server.
func WithRemoteURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Remote.BaseURL = url
	}
}

// WithOptimize mutates the [optimize] section.
func WithOptimize(fn func(*config.Optimize)) ConfigOption {
	return func(b *configBuilder) {
		fn(&b.cfg.Optimize)
	}
}

// WithWorkflow mutates the [workflow] section.
func WithWorkflow(fn func(*config.Workflow)) ConfigOption {
	return func(b *configBuilder) {
		fn(&b.cfg.Workflow)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
