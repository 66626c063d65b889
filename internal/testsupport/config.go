package testsupport

import (
	"path/filepath"
	"testing"

	"vellum/internal/config"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// Options apply after the defaults; the directories are created so checks
// against them pass.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.RuntimeDir = filepath.Join(base, "run")
	cfg.Journal.Path = filepath.Join(base, "journal", "vellum.db")
	cfg.UI.Width = 80
	cfg.UI.Height = 24

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return cfg
}

// WithEngineBinary points the config at an engine executable.
func WithEngineBinary(path string, args ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Engine.Binary = path
		cfg.Engine.Args = args
	}
}

// WithEngineEnv sets extra environment entries for spawned engines.
func WithEngineEnv(env ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Engine.Env = env
	}
}

// WithEngineSocket switches the config to connect mode.
func WithEngineSocket(path string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Engine.Socket = path
	}
}

// WithJournalDisabled turns the traffic journal off.
func WithJournalDisabled() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Journal.Enabled = false
	}
}

// WithUISize overrides the default grid dimensions.
func WithUISize(width, height int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.UI.Width = width
		cfg.UI.Height = height
	}
}
