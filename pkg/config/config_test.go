package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	cfg := DefaultProfile("dev")
	cfg.Transport.Kind = TransportWebSocket
	cfg.Transport.URL = "ws://127.0.0.1:7070/rpc"
	require.NoError(t, Save(path, cfg))

	loaded, err := LoadProfile(dir)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestValidateDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	data := `
profileName = "p"

[transport]
socketPath = "x.sock"

[storage]
dbPath = "w.db"

[engine]
backend = "memory"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, TransportBridge, cfg.Transport.Kind)
	require.Equal(t, BackendSQLite, cfg.Storage.Backend)
	require.Equal(t, 50, cfg.Storage.MaxWallets)
	require.Equal(t, 64, cfg.RPC.OutboxSize)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*ProfileConfig){
		"missing name":      func(c *ProfileConfig) { c.ProfileName = "" },
		"unknown transport": func(c *ProfileConfig) { c.Transport.Kind = "carrier-pigeon" },
		"spawn no command":  func(c *ProfileConfig) { c.Transport.Kind = TransportSpawn },
		"ws no url":         func(c *ProfileConfig) { c.Transport.Kind = TransportWebSocket },
		"bolt no path": func(c *ProfileConfig) {
			c.Storage.Backend = BackendBolt
			c.Storage.DBPath = ""
		},
		"unknown engine": func(c *ProfileConfig) { c.Engine.Backend = "redis" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultProfile("p")
			mutate(cfg)
			require.Error(t, cfg.validate())
		})
	}
}

func TestResolvePath(t *testing.T) {
	require.Equal(t, "", ResolvePath("/p", ""))
	require.Equal(t, "/abs/x.db", ResolvePath("/p", "/abs/x.db"))
	require.Equal(t, filepath.Join("/p", "x.db"), ResolvePath("/p", "x.db"))
}
