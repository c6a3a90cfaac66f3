package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvStrict(t *testing.T) {
	t.Setenv("REG_UTIL_SET", "on")
	os.Unsetenv("REG_UTIL_UNSET")

	out, err := ExpandEnvStrict("a=${REG_UTIL_SET} b=${REG_UTIL_UNSET:off} c=${REG_UTIL_UNSET:}")
	require.NoError(t, err)
	assert.Equal(t, "a=on b=off c=", out)

	_, err = ExpandEnvStrict("x=${REG_UTIL_UNSET}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REG_UTIL_UNSET")
}

func TestLoadAndExpandYaml(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("REG_UTIL_PORT", "1234")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "application.yml"), []byte("port: ${REG_UTIL_PORT}\n"), 0o600))

	out, err := LoadAndExpandYaml(dir, "application")
	require.NoError(t, err)
	assert.Equal(t, "port: 1234\n", out)

	_, err = LoadAndExpandYaml(dir, "application-x")
	assert.Error(t, err)
}
