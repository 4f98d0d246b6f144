//go:build !windows

package installation

import (
	"os"
	"path/filepath"
)

const (
	DefaultMarker          = "service.sh"
	DefaultScriptExtension = ".sh"
)

// DefaultCandidates returns the search order: /opt, /usr/local, the user data dir, working directory
func DefaultCandidates() []string {
	candidates := []string{
		filepath.Join("/opt", DirName),
		filepath.Join("/usr/local", DirName),
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dataHome = filepath.Join(home, ".local", "share")
		}
	}
	if dataHome != "" {
		candidates = append(candidates, filepath.Join(dataHome, DirName))
	}

	if cwd := currentDirectory(); cwd != "" {
		candidates = append(candidates, cwd)
	}
	return candidates
}
