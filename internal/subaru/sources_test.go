package subaru

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver(t *testing.T) *sourceResolver {
	t.Helper()
	return newSourceResolver(context.Background(), &Config{Values: map[string]string{}}, t.TempDir())
}

func TestResolveLocalFilePresent(t *testing.T) {
	r := testResolver(t)
	require.NoError(t, os.WriteFile(filepath.Join(r.recipeDir, "seed.txt"), []byte("data"), 0o644))

	require.NoError(t, r.resolve("seed.txt"))
	assert.Equal(t, []string{"seed.txt"}, r.intermediates)
}

func TestResolveLocalFileFromSubdir(t *testing.T) {
	r := testResolver(t)
	sub := filepath.Join(r.recipeDir, "patches")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "fix.diff"), []byte("--- a\n+++ b\n"), 0o644))

	require.NoError(t, r.resolve("patches/fix.diff"))
	assert.Equal(t, []string{"fix.diff"}, r.intermediates)

	data, err := os.ReadFile(filepath.Join(r.recipeDir, "fix.diff"))
	require.NoError(t, err)
	assert.Equal(t, "--- a\n+++ b\n", string(data))
}

func TestResolveLocalFileMissing(t *testing.T) {
	r := testResolver(t)
	err := r.resolve("nope.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local source file does not exist")
	assert.Empty(t, r.intermediates)
}

func TestResolveCustomNameRequiresScheme(t *testing.T) {
	r := testResolver(t)
	err := r.resolve("renamed.tar.gz::example.com/no-scheme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid custom URL syntax")
}

// A :: declaration with an empty half is not custom syntax; it falls through
// to the plain classification rules.
func TestResolveCustomNameEmptyHalfFallsThrough(t *testing.T) {
	r := testResolver(t)
	err := r.resolve("::something")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local source file does not exist")
}

func TestResolveGitSkipsExistingClone(t *testing.T) {
	r := testResolver(t)
	repoDir := filepath.Join(r.recipeDir, "project")
	require.NoError(t, os.MkdirAll(repoDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, ".keep"), nil, 0o644))

	require.NoError(t, r.resolve("git+https://example.com/ns/project.git"))
	assert.Equal(t, []string{"project"}, r.intermediates)
}

// The ref fragment is cut before the destination name is derived.
func TestResolveGitRefFragmentName(t *testing.T) {
	r := testResolver(t)
	repoDir := filepath.Join(r.recipeDir, "proj")
	require.NoError(t, os.MkdirAll(repoDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, ".keep"), nil, 0o644))

	require.NoError(t, r.resolve("git+https://example.com/x/proj.git#v1.2"))
	assert.Equal(t, []string{"proj"}, r.intermediates)
}

func TestResolveExtractsLocalArchive(t *testing.T) {
	r := testResolver(t)
	archive := filepath.Join(r.recipeDir, "bundle.tar.gz")
	writeTarArchive(t, archive, "gz", []tarSpec{
		{name: "bundle/inner.txt", typeflag: tar.TypeReg, mode: 0o600, content: "inside"},
	})

	require.NoError(t, r.resolve("bundle.tar.gz"))
	assert.Equal(t, []string{"bundle.tar.gz"}, r.intermediates)

	data, err := os.ReadFile(filepath.Join(r.recipeDir, "bundle", "inner.txt"))
	require.NoError(t, err)
	assert.Equal(t, "inside", string(data))
}

func TestResolveAllStopsAtFirstFailure(t *testing.T) {
	r := testResolver(t)
	require.NoError(t, os.WriteFile(filepath.Join(r.recipeDir, "ok.txt"), []byte("x"), 0o644))

	err := r.resolveAll([]string{"ok.txt", "missing.txt", "never-reached.txt"})
	require.Error(t, err)
	assert.Equal(t, []string{"ok.txt"}, r.intermediates)
}
