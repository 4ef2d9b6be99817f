package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "127.0.0.1", cfg.ServerIP)
	assert.Equal(t, 8888, cfg.ServerPort)
	assert.Equal(t, "127.0.0.1:8888", cfg.Addr())
}

func TestConfig_LoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.ini"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.ini")

	in := Config{
		ServerIP:   "192.168.1.50",
		ServerPort: 9999,
		Nickname:   "Alice",
	}
	require.NoError(t, in.Save(path))

	out, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.ini")
	require.NoError(t, os.WriteFile(path, []byte("[user]\nnickname = Bob\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "Bob", cfg.Nickname)
	assert.Equal(t, "127.0.0.1", cfg.ServerIP)
	assert.Equal(t, 8888, cfg.ServerPort)
}
