package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDotEnvMissingFileIsIgnored(t *testing.T) {
	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestLoadDotEnvSetsVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("WAGW_TEST_DOTENV=from-file\n"), 0644))
	t.Setenv("WAGW_TEST_DOTENV", "")
	os.Unsetenv("WAGW_TEST_DOTENV")

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("WAGW_TEST_DOTENV"))
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("whatsapp:\n  send_timeout: -1s\n"), 0644))

	err := run(path, filepath.Join(t.TempDir(), ".env"), 0)
	assert.Error(t, err)
}
