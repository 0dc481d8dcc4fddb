package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDerivesSocketURL(t *testing.T) {
	t.Setenv("DEVICE_SECRET", "s3cret")
	t.Setenv("SERVER_URL", "http://chat.example.com:3000")
	t.Setenv("SOCKET_URL", "")
	t.Setenv("CREDENTIAL_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ws://chat.example.com:3000/ws", cfg.SocketURL)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
}

func TestLoadKeepsExplicitSocketURL(t *testing.T) {
	t.Setenv("DEVICE_SECRET", "s3cret")
	t.Setenv("SERVER_URL", "https://chat.example.com")
	t.Setenv("SOCKET_URL", "wss://rt.example.com/socket")
	t.Setenv("CREDENTIAL_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "wss://rt.example.com/socket", cfg.SocketURL)
}

func TestDeriveSocketURLSchemes(t *testing.T) {
	got, err := DeriveSocketURL("https://api.example.com")
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/ws", got)

	got, err = DeriveSocketURL("http://10.0.0.58:3000")
	require.NoError(t, err)
	assert.Equal(t, "ws://10.0.0.58:3000/ws", got)

	_, err = DeriveSocketURL("ftp://api.example.com")
	assert.Error(t, err)
}
