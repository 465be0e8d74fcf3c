package subaru

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func needBash(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("/bin/bash not available")
	}
}

func TestComposeScript(t *testing.T) {
	assert.Equal(t, "body", composeScript(nil, "body"))
	assert.Equal(t, "", composeScript(nil, ""))

	helpers := []string{"one() {\n  true\n}\n", "two() {\n  false\n}\n"}
	got := composeScript(helpers, "one\ntwo\n")
	assert.Equal(t, "one() {\n  true\n}\ntwo() {\n  false\n}\none\ntwo\n", got)

	// Helpers alone still produce a runnable script.
	assert.NotEmpty(t, composeScript(helpers, ""))
}

func TestEscapeSingleQuotes(t *testing.T) {
	assert.Equal(t, `it'\''s`, escapeSingleQuotes("it's"))
	assert.Equal(t, "no quotes", escapeSingleQuotes("no quotes"))
	assert.Equal(t, `'\'''\''`, escapeSingleQuotes("''"))
}

func TestPhaseCommand(t *testing.T) {
	env := phaseEnv{
		PkgDir:         "/stage/pkg",
		SrcDir:         "/work/src",
		PackageName:    "foo",
		PackageVersion: "1.0",
	}

	got := phaseCommand(env, "make install", false)
	want := `/bin/bash -c 'export pkgdir="/stage/pkg" && ` +
		`export packagedir="/stage/pkg" && ` +
		`export srcdir="/work/src" && ` +
		`export package_name="foo" && ` +
		`export package_version="1.0" && make install'`
	assert.Equal(t, want, got)

	assert.Equal(t, "fakeroot "+want, phaseCommand(env, "make install", true))

	quoted := phaseCommand(env, "echo 'hi'", false)
	assert.Contains(t, quoted, `echo '\''hi'\''`)
}

func TestRunPhaseEmptyScriptIsNoop(t *testing.T) {
	e := &Executor{Context: context.Background()}
	require.NoError(t, e.RunPhase(phaseEnv{}, ""))
}

func TestRunPhaseExportsEnvironment(t *testing.T) {
	needBash(t)
	dir := t.TempDir()
	e := &Executor{Context: context.Background()}
	env := phaseEnv{
		PkgDir:         filepath.Join(dir, "pkg"),
		SrcDir:         dir,
		PackageName:    "probe",
		PackageVersion: "0.1",
	}

	script := `printf '%s|%s|%s|%s|%s' "$pkgdir" "$packagedir" "$srcdir" "$package_name" "$package_version" > "$srcdir/envdump"`
	require.NoError(t, e.RunPhase(env, script))

	data, err := os.ReadFile(filepath.Join(dir, "envdump"))
	require.NoError(t, err)
	parts := strings.Split(string(data), "|")
	require.Len(t, parts, 5)
	assert.Equal(t, env.PkgDir, parts[0])
	assert.Equal(t, env.PkgDir, parts[1])
	assert.Equal(t, env.SrcDir, parts[2])
	assert.Equal(t, "probe", parts[3])
	assert.Equal(t, "0.1", parts[4])
}

// Single quotes in a phase body must survive the double shell embedding.
func TestRunPhaseSingleQuoteSurvival(t *testing.T) {
	needBash(t)
	dir := t.TempDir()
	e := &Executor{Context: context.Background()}
	env := phaseEnv{PkgDir: dir, SrcDir: dir, PackageName: "q", PackageVersion: "1"}

	require.NoError(t, e.RunPhase(env, `echo 'a b' > "$srcdir/quoted"`))
	data, err := os.ReadFile(filepath.Join(dir, "quoted"))
	require.NoError(t, err)
	assert.Equal(t, "a b\n", string(data))
}

func TestRunPhaseReportsFailure(t *testing.T) {
	needBash(t)
	e := &Executor{Context: context.Background()}
	err := e.RunPhase(phaseEnv{PkgDir: "/", SrcDir: "/", PackageName: "x", PackageVersion: "1"}, "exit 3")
	assert.Error(t, err)
}

func TestRunPhaseCancellation(t *testing.T) {
	needBash(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	e := &Executor{Context: ctx}
	start := time.Now()
	err := e.RunPhase(phaseEnv{PkgDir: "/", SrcDir: "/", PackageName: "x", PackageVersion: "1"}, "sleep 30")
	require.Error(t, err)
	assert.EqualError(t, err, "command aborted")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunPhaseHelpersRunBeforeBody(t *testing.T) {
	needBash(t)
	dir := t.TempDir()
	e := &Executor{Context: context.Background()}
	env := phaseEnv{PkgDir: dir, SrcDir: dir, PackageName: "h", PackageVersion: "1"}

	helpers := []string{"emit() {\n  printf 'helped' > \"$srcdir/helped\"\n}\n"}
	require.NoError(t, e.RunPhase(env, composeScript(helpers, "emit\n")))

	data, err := os.ReadFile(filepath.Join(dir, "helped"))
	require.NoError(t, err)
	assert.Equal(t, "helped", string(data))
}
