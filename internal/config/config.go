package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Config is the full vellum configuration tree.
type Config struct {
	Paths   PathsConfig   `toml:"paths"`
	Engine  EngineConfig  `toml:"engine"`
	UI      UIConfig      `toml:"ui"`
	Journal JournalConfig `toml:"journal"`
	Logging LoggingConfig `toml:"logging"`
}

// PathsConfig names the directories the host writes into.
type PathsConfig struct {
	LogDir     string `toml:"log_dir"`
	RuntimeDir string `toml:"runtime_dir"`
}

// EngineConfig describes how to reach the editor engine. When Socket is set
// the host connects to a running engine; otherwise it spawns Binary with Args.
type EngineConfig struct {
	Binary string   `toml:"binary"`
	Args   []string `toml:"args"`
	Env    []string `toml:"env"`
	Socket string   `toml:"socket"`
}

// UIConfig carries the default geometry and capability options used when
// attaching a UI to the engine.
type UIConfig struct {
	Width   int             `toml:"width"`
	Height  int             `toml:"height"`
	Options map[string]bool `toml:"options"`
}

// JournalConfig controls the sqlite traffic journal.
type JournalConfig struct {
	Enabled       bool   `toml:"enabled"`
	Path          string `toml:"path"`
	RetentionDays int    `toml:"retention_days"`
}

// LoggingConfig mirrors logging.Options for the host process.
type LoggingConfig struct {
	Level         string `toml:"level"`
	Format        string `toml:"format"`
	RetentionDays int    `toml:"retention_days"`
}

// Load reads configuration from explicitPath when given, otherwise from the
// first default location that exists, otherwise returns defaults. The second
// return value is the path actually used ("" when running on defaults).
func Load(explicitPath string) (*Config, string, error) {
	path, err := resolveConfigPath(explicitPath)
	if err != nil {
		return nil, "", err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, path, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, path, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, path, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// resolveConfigPath picks the config file: the explicit path when provided,
// then ~/.config/vellum/config.toml, then ./vellum.toml.
func resolveConfigPath(explicitPath string) (string, error) {
	if strings.TrimSpace(explicitPath) != "" {
		path, err := ExpandPath(explicitPath)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file %s: %w", path, err)
		}
		return path, nil
	}

	if path, err := DefaultConfigPath(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return path, nil
		}
	}

	local := "vellum.toml"
	if _, err := os.Stat(local); err == nil {
		abs, err := filepath.Abs(local)
		if err != nil {
			return local, nil
		}
		return abs, nil
	}

	return "", nil
}

// DefaultConfigPath returns ~/.config/vellum/config.toml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "vellum", "config.toml"), nil
}

// ControlSocketPath is where the host listens for CLI connections.
func (c *Config) ControlSocketPath() string {
	return filepath.Join(c.Paths.RuntimeDir, "vellum.sock")
}

// PIDFilePath records the running host's pid.
func (c *Config) PIDFilePath() string {
	return filepath.Join(c.Paths.RuntimeDir, "vellum.pid")
}

// LockFilePath is the flock target guarding single-instance startup.
func (c *Config) LockFilePath() string {
	return filepath.Join(c.Paths.RuntimeDir, "vellum.lock")
}

// EnsureDirectories creates every directory the host writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.LogDir, c.Paths.RuntimeDir}
	if c.Journal.Enabled && c.Journal.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Journal.Path))
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// CreateSample writes the annotated sample config to path. Existing files are
// preserved unless overwrite is set.
func CreateSample(path string, overwrite bool) error {
	path, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Sample returns the embedded annotated sample configuration.
func Sample() string {
	return sampleConfig
}

// Render serializes the configuration as TOML.
func (c *Config) Render() (string, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(data), nil
}
