package installation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/core-tools/hsu-zapret-go/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeCandidates creates four candidate roots under a temp dir; none has the marker yet
func makeCandidates(t *testing.T) []string {
	root := t.TempDir()
	var dirs []string
	for _, name := range []string{"system", "programfiles", "localappdata", "cwd"} {
		dir := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		dirs = append(dirs, dir)
	}
	return dirs
}

func writeMarker(t *testing.T, dir string) {
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultMarker), []byte("@echo off\n"), 0o755))
}

func TestLocator_EachCandidateAlone(t *testing.T) {
	for i := 0; i < 4; i++ {
		candidates := makeCandidates(t)
		writeMarker(t, candidates[i])

		inst, err := NewLocator(candidates, "", nil).Locate()

		require.NoError(t, err, "candidate %d", i)
		assert.Equal(t, candidates[i], inst.Dir())
		assert.Equal(t, filepath.Join(candidates[i], "general"+DefaultScriptExtension), inst.Join("general"+DefaultScriptExtension))
	}
}

func TestLocator_PriorityOrder(t *testing.T) {
	candidates := makeCandidates(t)
	writeMarker(t, candidates[1])
	writeMarker(t, candidates[3])

	inst, err := NewLocator(candidates, DefaultMarker, nil).Locate()

	require.NoError(t, err)
	assert.Equal(t, candidates[1], inst.Dir())
}

func TestLocator_NoneFound(t *testing.T) {
	candidates := makeCandidates(t)

	inst, err := NewLocator(candidates, DefaultMarker, nil).Locate()

	require.Error(t, err)
	assert.True(t, inst.IsZero())

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, candidates, notFound.Candidates)
	assert.Equal(t, DefaultMarker, notFound.Marker)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	for _, c := range candidates {
		assert.Contains(t, err.Error(), c)
	}
}

func TestLocator_MarkerMustBeFile(t *testing.T) {
	candidates := makeCandidates(t)
	require.NoError(t, os.MkdirAll(filepath.Join(candidates[0], DefaultMarker), 0o755))
	writeMarker(t, candidates[2])

	inst, err := NewLocator(candidates, DefaultMarker, nil).Locate()

	require.NoError(t, err)
	assert.Equal(t, candidates[2], inst.Dir())
}

func TestLocator_MissingDirectoriesSkipped(t *testing.T) {
	candidates := makeCandidates(t)
	writeMarker(t, candidates[3])
	missing := filepath.Join(t.TempDir(), "does-not-exist")

	inst, err := NewLocator([]string{missing, "", candidates[3]}, DefaultMarker, nil).Locate()

	require.NoError(t, err)
	assert.Equal(t, candidates[3], inst.Dir())
}

func TestDefaultCandidates(t *testing.T) {
	candidates := DefaultCandidates()

	require.GreaterOrEqual(t, len(candidates), 3)
	assert.Equal(t, DirName, filepath.Base(candidates[0]))
	assert.Equal(t, DirName, filepath.Base(candidates[1]))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, cwd, candidates[len(candidates)-1])
}
