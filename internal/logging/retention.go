package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RetentionTarget names a directory glob subject to age-based cleanup.
type RetentionTarget struct {
	Dir     string
	Pattern string
	Exclude []string
}

// CleanupOldLogs removes regular files matching each target that are older
// than maxAge, returning the number removed. Failures are logged and skipped.
func CleanupOldLogs(targets []RetentionTarget, maxAge time.Duration, logger *slog.Logger) int {
	if maxAge <= 0 {
		return 0
	}
	if logger == nil {
		logger = NewNop()
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, target := range targets {
		if target.Dir == "" || target.Pattern == "" {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(target.Dir, target.Pattern))
		if err != nil {
			logger.Warn("log retention glob failed",
				String("pattern", target.Pattern),
				Error(err))
			continue
		}
		for _, path := range matches {
			if retentionExcluded(target.Exclude, path) {
				continue
			}
			info, err := os.Lstat(path)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(path); err != nil {
				logger.Warn("log retention remove failed",
					String("path", path),
					Error(err))
				continue
			}
			removed++
		}
	}
	return removed
}

func retentionExcluded(exclude []string, path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	for _, candidate := range exclude {
		if candidate == path || candidate == abs {
			return true
		}
		if candidateAbs, err := filepath.Abs(candidate); err == nil && candidateAbs == abs {
			return true
		}
	}
	return false
}
