package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// normalize expands paths, trims strings, and fills derived defaults so the
// rest of the program never re-checks them.
func (c *Config) normalize() error {
	var err error
	if c.Paths.LogDir, err = ExpandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("log_dir: %w", err)
	}
	if c.Paths.RuntimeDir, err = ExpandPath(c.Paths.RuntimeDir); err != nil {
		return fmt.Errorf("runtime_dir: %w", err)
	}

	c.Engine.Binary = strings.TrimSpace(c.Engine.Binary)
	c.Engine.Socket = strings.TrimSpace(c.Engine.Socket)
	if c.Engine.Socket != "" {
		if c.Engine.Socket, err = ExpandPath(c.Engine.Socket); err != nil {
			return fmt.Errorf("engine socket: %w", err)
		}
	}
	if len(c.Engine.Args) == 0 && c.Engine.Socket == "" {
		c.Engine.Args = append([]string(nil), DefaultEngineArgs...)
	}

	if c.UI.Options == nil {
		c.UI.Options = defaultUIOptions()
	}

	c.Journal.Path = strings.TrimSpace(c.Journal.Path)
	if c.Journal.Path == "" {
		c.Journal.Path = filepath.Join(c.Paths.RuntimeDir, "vellum.db")
	} else if c.Journal.Path, err = ExpandPath(c.Journal.Path); err != nil {
		return fmt.Errorf("journal path: %w", err)
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	return nil
}

// ExpandPath resolves a leading ~ against the current home directory and
// makes the result absolute.
func ExpandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, path[2:])
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", path, err)
	}
	return abs, nil
}
