package installation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-zapret-go/pkg/errors"
	"github.com/core-tools/hsu-zapret-go/pkg/logging"
)

// DirName is the folder name the bypass service is installed under
const DirName = "zapret"

// Installation is the discovered directory holding the service's entry points
type Installation struct {
	dir string
}

// New wraps an already known installation directory
func New(dir string) Installation {
	return Installation{dir: dir}
}

func (i Installation) Dir() string {
	return i.dir
}

// Join resolves a name inside the installation directory
func (i Installation) Join(name string) string {
	return filepath.Join(i.dir, name)
}

func (i Installation) IsZero() bool {
	return i.dir == ""
}

func (i Installation) String() string {
	return i.dir
}

// NotFoundError is returned when no candidate directory carries the marker file
type NotFoundError struct {
	Marker     string
	Candidates []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("installation not found: no directory contains %s, searched: %s",
		e.Marker, strings.Join(e.Candidates, ", "))
}

func (e *NotFoundError) ErrorType() errors.ErrorType {
	return errors.ErrorTypeNotFound
}

type Locator struct {
	candidates []string
	marker     string
	logger     logging.Logger
}

// NewLocator builds a locator over an ordered candidate list.
// Empty candidates are dropped; an empty marker means DefaultMarker.
func NewLocator(candidates []string, marker string, logger logging.Logger) *Locator {
	if marker == "" {
		marker = DefaultMarker
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}

	cleaned := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if strings.TrimSpace(c) == "" {
			continue
		}
		cleaned = append(cleaned, filepath.Clean(c))
	}

	return &Locator{
		candidates: cleaned,
		marker:     marker,
		logger:     logger,
	}
}

// NewDefaultLocator uses DefaultCandidates and DefaultMarker
func NewDefaultLocator(logger logging.Logger) *Locator {
	return NewLocator(DefaultCandidates(), DefaultMarker, logger)
}

func (l *Locator) Candidates() []string {
	out := make([]string, len(l.candidates))
	copy(out, l.candidates)
	return out
}

func (l *Locator) Marker() string {
	return l.marker
}

// Locate returns the first candidate that is a directory containing the marker file
func (l *Locator) Locate() (Installation, error) {
	for _, dir := range l.candidates {
		if l.matches(dir) {
			abs, err := filepath.Abs(dir)
			if err != nil {
				abs = dir
			}
			l.logger.Infof("Installation found, dir: %s, marker: %s", abs, l.marker)
			return Installation{dir: abs}, nil
		}
		l.logger.Debugf("Installation candidate rejected, dir: %s", dir)
	}

	return Installation{}, &NotFoundError{
		Marker:     l.marker,
		Candidates: l.Candidates(),
	}
}

func (l *Locator) matches(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	marker, err := os.Stat(filepath.Join(dir, l.marker))
	if err != nil {
		return false
	}
	return marker.Mode().IsRegular()
}

func currentDirectory() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return cwd
}
