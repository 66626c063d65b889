package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the normalized configuration for values the host cannot
// start with. All problems are reported at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Paths.LogDir == "" {
		problems = append(problems, "paths.log_dir must be set")
	}
	if c.Paths.RuntimeDir == "" {
		problems = append(problems, "paths.runtime_dir must be set")
	}

	if c.Engine.Socket == "" && c.Engine.Binary == "" {
		problems = append(problems, "engine.binary must be set when engine.socket is empty")
	}

	if c.UI.Width <= 0 {
		problems = append(problems, fmt.Sprintf("ui.width must be positive, got %d", c.UI.Width))
	}
	if c.UI.Height <= 0 {
		problems = append(problems, fmt.Sprintf("ui.height must be positive, got %d", c.UI.Height))
	}

	if c.Journal.RetentionDays < 0 {
		problems = append(problems, fmt.Sprintf("journal.retention_days must not be negative, got %d", c.Journal.RetentionDays))
	}
	if c.Logging.RetentionDays < 0 {
		problems = append(problems, fmt.Sprintf("logging.retention_days must not be negative, got %d", c.Logging.RetentionDays))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not one of console, json", c.Logging.Format))
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration:\n  - " + strings.Join(problems, "\n  - "))
}
