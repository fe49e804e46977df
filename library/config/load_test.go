package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandEnvList(t *testing.T) {
	t.Setenv("ENRICH_TEST_KEY", "sk-1")

	got := ExpandEnvList([]string{"${ENRICH_TEST_KEY}", " ", "${ENRICH_MISSING_KEY}", "literal"})
	require.Equal(t, []string{"sk-1", "literal"}, got)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("ENRICH_DOTENV_VALUE=from-file\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("ENRICH_DOTENV_VALUE") })

	require.NoError(t, LoadEnvFile(path, false))
	require.Equal(t, "from-file", os.Getenv("ENRICH_DOTENV_VALUE"))
}

func TestLoadEnvFileMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.env")

	require.NoError(t, LoadEnvFile(missing, true))
	require.Error(t, LoadEnvFile(missing, false))
	require.NoError(t, LoadEnvFile("", false))
}
