package config

import (
	"os"
	"path/filepath"
)

const (
	// DefaultEngineBinary is the editor engine launched when no socket is
	// configured.
	DefaultEngineBinary = "nvim"

	// DefaultUIWidth and DefaultUIHeight size the attached grid.
	DefaultUIWidth  = 120
	DefaultUIHeight = 40

	// DefaultJournalRetentionDays bounds how long journal rows are kept.
	DefaultJournalRetentionDays = 14

	// DefaultLogLevel and DefaultLogFormat configure the host logger.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	// DefaultLogRetentionDays bounds how long per-run log files are kept.
	DefaultLogRetentionDays = 60

	stateSubdir = "vellum"
)

// DefaultEngineArgs puts the engine into embedded msgpack-RPC mode on
// stdin/stdout.
var DefaultEngineArgs = []string{"--embed"}

// defaultUIOptions is the baseline capability set requested at attach time.
func defaultUIOptions() map[string]bool {
	return map[string]bool{"ext_linegrid": true}
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	stateDir := defaultStateDir()
	return &Config{
		Paths: PathsConfig{
			LogDir:     filepath.Join(stateDir, "logs"),
			RuntimeDir: stateDir,
		},
		Engine: EngineConfig{
			Binary: DefaultEngineBinary,
			Args:   append([]string(nil), DefaultEngineArgs...),
		},
		UI: UIConfig{
			Width:   DefaultUIWidth,
			Height:  DefaultUIHeight,
			Options: defaultUIOptions(),
		},
		Journal: JournalConfig{
			Enabled:       true,
			RetentionDays: DefaultJournalRetentionDays,
		},
		Logging: LoggingConfig{
			Level:         DefaultLogLevel,
			Format:        DefaultLogFormat,
			RetentionDays: DefaultLogRetentionDays,
		},
	}
}

func defaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, stateSubdir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), stateSubdir)
	}
	return filepath.Join(home, ".local", "state", stateSubdir)
}
