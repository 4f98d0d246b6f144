//go:build windows

package installation

import (
	"os"
	"path/filepath"
)

const (
	DefaultMarker          = "service.bat"
	DefaultScriptExtension = ".bat"
)

// DefaultCandidates returns the search order: C:\zapret, Program Files, LocalAppData, working directory
func DefaultCandidates() []string {
	programFiles := os.Getenv("ProgramFiles")
	if programFiles == "" {
		programFiles = `C:\Program Files`
	}

	localAppData := os.Getenv("LOCALAPPDATA")
	if localAppData == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			localAppData = dir
		}
	}

	candidates := []string{
		`C:\` + DirName,
		filepath.Join(programFiles, DirName),
	}
	if localAppData != "" {
		candidates = append(candidates, filepath.Join(localAppData, DirName))
	}
	if cwd := currentDirectory(); cwd != "" {
		candidates = append(candidates, cwd)
	}
	return candidates
}
