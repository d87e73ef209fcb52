package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor-token")

	tok, err := NewMonitorToken(path)
	require.NoError(t, err)
	assert.Len(t, tok.Value(), tokenBytes*2)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, tok.Value(), string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	assert.True(t, tok.Validate(tok.Value()))
	assert.False(t, tok.Validate(""))
	assert.False(t, tok.Validate("nope"))

	tok.Cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestMonitorTokenInMemory(t *testing.T) {
	a, err := NewMonitorToken("")
	require.NoError(t, err)
	b, err := NewMonitorToken("")
	require.NoError(t, err)

	assert.NotEqual(t, a.Value(), b.Value())
	a.Cleanup()
}
