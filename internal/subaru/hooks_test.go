package subaru

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHookFixtures(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"), 0o755))
	}
}

func TestInstallHooksSinglePackage(t *testing.T) {
	recipeDir := t.TempDir()
	stagedRoot := filepath.Join(t.TempDir(), "files")
	writeHookFixtures(t, recipeDir,
		"mypkg-install.hook", // prefixed, goes to hooks/install.hook
		"remove.hook",        // bare, allowed for single-package recipes
		"10-cache.hook",      // numeric prefix, universal
		"notes.txt",          // not a hook
	)

	require.NoError(t, installHooks(recipeDir, stagedRoot, "mypkg", true))

	hooksDir := filepath.Join(stagedRoot, hooksDirName)
	assert.FileExists(t, filepath.Join(hooksDir, "install.hook"))
	assert.FileExists(t, filepath.Join(hooksDir, "remove.hook"))

	universalDir := filepath.Join(stagedRoot, filepath.FromSlash(universalHooksRel))
	assert.FileExists(t, filepath.Join(universalDir, "10-cache.hook"))

	entries, err := os.ReadDir(hooksDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestInstallHooksMultiPackage(t *testing.T) {
	recipeDir := t.TempDir()
	stagedRoot := filepath.Join(t.TempDir(), "files")
	writeHookFixtures(t, recipeDir,
		"mypkg-install.hook",
		"MYPKG-upgrade.hook", // prefix matching is case-insensitive
		"remove.hook",        // bare names need the package prefix here
		"otherpkg-install.hook",
	)

	require.NoError(t, installHooks(recipeDir, stagedRoot, "mypkg", false))

	hooksDir := filepath.Join(stagedRoot, hooksDirName)
	assert.FileExists(t, filepath.Join(hooksDir, "install.hook"))
	assert.FileExists(t, filepath.Join(hooksDir, "upgrade.hook"))
	assert.NoFileExists(t, filepath.Join(hooksDir, "remove.hook"))

	entries, err := os.ReadDir(hooksDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// Both hook directories exist after the call even when nothing matched.
func TestInstallHooksCreatesDirectories(t *testing.T) {
	recipeDir := t.TempDir()
	stagedRoot := filepath.Join(t.TempDir(), "files")

	require.NoError(t, installHooks(recipeDir, stagedRoot, "empty", true))
	assert.DirExists(t, filepath.Join(stagedRoot, hooksDirName))
	assert.DirExists(t, filepath.Join(stagedRoot, filepath.FromSlash(universalHooksRel)))
}

func TestInstallHooksIgnoresDirectories(t *testing.T) {
	recipeDir := t.TempDir()
	stagedRoot := filepath.Join(t.TempDir(), "files")
	require.NoError(t, os.MkdirAll(filepath.Join(recipeDir, "mypkg-dir.hook"), 0o755))

	require.NoError(t, installHooks(recipeDir, stagedRoot, "mypkg", true))
	assert.NoFileExists(t, filepath.Join(stagedRoot, hooksDirName, "dir.hook"))
}

// Package names holding regex metacharacters are matched literally.
func TestInstallHooksQuotesPackageName(t *testing.T) {
	recipeDir := t.TempDir()
	stagedRoot := filepath.Join(t.TempDir(), "files")
	writeHookFixtures(t, recipeDir, "g++-install.hook", "gcc-install.hook")

	require.NoError(t, installHooks(recipeDir, stagedRoot, "g++", false))

	hooksDir := filepath.Join(stagedRoot, hooksDirName)
	assert.FileExists(t, filepath.Join(hooksDir, "install.hook"))
	entries, err := os.ReadDir(hooksDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
