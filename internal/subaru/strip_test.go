package subaru

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveByExt(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "usr", "lib"), 0o755))
	la := filepath.Join(root, "usr", "lib", "libfoo.la")
	ar := filepath.Join(root, "usr", "lib", "libfoo.a")
	keep := filepath.Join(root, "usr", "lib", "libfoo.so")
	require.NoError(t, os.WriteFile(la, []byte("libtool"), 0o644))
	require.NoError(t, os.WriteFile(ar, []byte("archive"), 0o644))
	require.NoError(t, os.WriteFile(keep, []byte("elf"), 0o755))
	// A symlink with the extension must survive; only regular files go.
	link := filepath.Join(root, "usr", "lib", "liblink.la")
	require.NoError(t, os.Symlink("libfoo.so", link))

	removeByExt(root, ".la")
	assert.NoFileExists(t, la)
	assert.FileExists(t, ar)
	assert.FileExists(t, keep)
	_, err := os.Lstat(link)
	assert.NoError(t, err)

	removeByExt(root, ".a")
	assert.NoFileExists(t, ar)
	assert.FileExists(t, keep)
}

func TestRemoveByExtEmptyTree(t *testing.T) {
	// Nothing to remove is a quiet success.
	removeByExt(t.TempDir(), ".la")
}

// no-strip short-circuits the whole post-processing step, including the
// .la/.a sweeps.
func TestPostProcessFilesNoStrip(t *testing.T) {
	root := t.TempDir()
	la := filepath.Join(root, "libfoo.la")
	require.NoError(t, os.WriteFile(la, []byte("libtool"), 0o644))

	postProcessFiles(root, true)
	assert.FileExists(t, la)
}
