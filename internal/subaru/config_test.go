package subaru

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subaru.conf")
	content := `# a comment
KEY1=plain
KEY2="quoted"
KEY3 = spaced
KEY4='single'

not a key value pair
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "plain", cfg.Values["KEY1"])
	assert.Equal(t, "quoted", cfg.Values["KEY2"])
	assert.Equal(t, "spaced", cfg.Values["KEY3"])
	assert.Equal(t, "single", cfg.Values["KEY4"])
	assert.NotContains(t, cfg.Values, "not a key value pair")
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.conf"))
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.NotNil(t, cfg.Values)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subaru.conf")
	require.NoError(t, os.WriteFile(path, []byte("SUBARU_TEST_PROBE=from-file\n"), 0o644))
	t.Setenv("SUBARU_TEST_PROBE", "from-env")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Values["SUBARU_TEST_PROBE"])
}

func TestInitConfig(t *testing.T) {
	oldDebug := Debug
	defer func() { Debug = oldDebug }()

	cfg := &Config{Values: map[string]string{}}
	initConfig(cfg)
	assert.False(t, Debug)
	assert.True(t, cfg.DefaultStrip)

	cfg = &Config{Values: map[string]string{
		"SUBARU_DEBUG":    "1",
		"SUBARU_STRIP":    "0",
		"SUBARU_FAKEROOT": "0",
	}}
	initConfig(cfg)
	assert.True(t, Debug)
	assert.False(t, cfg.DefaultStrip)
	assert.False(t, cfg.DefaultFakeroot)
}
