package subaru

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResumeStateRoundTrip(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, saveResumeState(dir, ResumeState{Phase: "compile", Index: 0}))
	data, err := os.ReadFile(filepath.Join(dir, resumeFileName))
	require.NoError(t, err)
	assert.Equal(t, "compile\n0\n", string(data))

	st := loadResumeState(dir)
	require.NotNil(t, st)
	assert.Equal(t, "compile", st.Phase)
	assert.Equal(t, 0, st.Index)

	clearResumeState(dir)
	assert.Nil(t, loadResumeState(dir))
	// Clearing twice must not blow up.
	clearResumeState(dir)
}

func TestLoadResumeStateRejectsGarbage(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"one line", "compile\n"},
		{"unknown phase", "assembl\n0\n"},
		{"non-numeric index", "verify\nabc\n"},
		{"negative index", "verify\n-1\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, resumeFileName), []byte(tc.content), 0o644))
			assert.Nil(t, loadResumeState(dir))
		})
	}
}

func TestLoadResumeStateMissingFile(t *testing.T) {
	assert.Nil(t, loadResumeState(t.TempDir()))
}

func TestLoadResumeStateAcceptsAllPhases(t *testing.T) {
	for _, phase := range []string{"prepare", "compile", "verify", "assemble"} {
		dir := t.TempDir()
		require.NoError(t, saveResumeState(dir, ResumeState{Phase: phase, Index: 2}))
		st := loadResumeState(dir)
		require.NotNil(t, st, phase)
		assert.Equal(t, phase, st.Phase)
		assert.Equal(t, 2, st.Index)
	}
}
