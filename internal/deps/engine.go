package deps

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ResolveEngineBinary returns the engine command to launch, defaulting to
// "nvim" when the configured value is blank.
func ResolveEngineBinary(configured string) string {
	binary := strings.TrimSpace(configured)
	if binary == "" {
		return "nvim"
	}
	return binary
}

// CheckEngine reports whether the configured engine binary can be executed.
//
// A value containing a path separator is checked in place; a bare name is
// resolved through PATH, matching what Spawn will do at session start.
func CheckEngine(configured string) Status {
	result := Status{
		Name:        "Engine",
		Description: "Editor engine launched for embedded sessions",
	}

	binary := ResolveEngineBinary(configured)
	result.Command = binary

	if strings.ContainsRune(binary, os.PathSeparator) {
		info, err := os.Stat(binary)
		if err != nil {
			result.Detail = fmt.Sprintf("binary %q not found", binary)
			return result
		}
		if !isExecutable(info) {
			result.Detail = fmt.Sprintf("%q is not executable", binary)
			return result
		}
		result.Available = true
		return result
	}

	resolved, err := exec.LookPath(binary)
	if err != nil {
		result.Detail = fmt.Sprintf("binary %q not found", binary)
		return result
	}
	result.Command = resolved
	result.Available = true
	return result
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
