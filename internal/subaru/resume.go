package subaru

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ResumeState marks how far a previous run got. Phase is one of prepare,
// compile, verify or assemble; Index is the package index and only
// meaningful for assemble.
type ResumeState struct {
	Phase string
	Index int
}

var knownPhases = map[string]bool{
	"prepare":  true,
	"compile":  true,
	"verify":   true,
	"assemble": true,
}

func resumePath(recipeDir string) string {
	return filepath.Join(recipeDir, resumeFileName)
}

// loadResumeState reads the marker left by an interrupted run. A missing or
// unparseable file means start fresh.
func loadResumeState(recipeDir string) *ResumeState {
	data, err := os.ReadFile(resumePath(recipeDir))
	if err != nil {
		return nil
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		return nil
	}
	phase := strings.TrimSpace(lines[0])
	if !knownPhases[phase] {
		return nil
	}
	index, err := strconv.Atoi(strings.TrimSpace(lines[1]))
	if err != nil || index < 0 {
		return nil
	}
	return &ResumeState{Phase: phase, Index: index}
}

// saveResumeState persists the marker beside the recipe. Failing to write it
// only costs resumability, so the error is reported as a warning by callers.
func saveResumeState(recipeDir string, st ResumeState) error {
	content := fmt.Sprintf("%s\n%d\n", st.Phase, st.Index)
	if err := os.WriteFile(resumePath(recipeDir), []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing resume state: %w", err)
	}
	return nil
}

// clearResumeState removes the marker once the global phases are done.
func clearResumeState(recipeDir string) {
	if err := os.Remove(resumePath(recipeDir)); err != nil && !os.IsNotExist(err) {
		debugf("could not remove resume file: %v", err)
	}
}
