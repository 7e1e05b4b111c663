package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rexliu/fedwallet/pkg/config"
	"github.com/rexliu/fedwallet/pkg/transport/transporttest"
)

func run(t *testing.T, dir string, args ...string) error {
	t.Helper()
	return newApp().Run(append([]string{"fedwallet", "--profile", dir}, args...))
}

func TestCommandsAgainstEmbeddedEngine(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profile")
	require.NoError(t, run(t, dir, "init", "--name", "test"))
	require.Error(t, run(t, dir, "init"), "second init needs --force")

	cfg, err := config.LoadProfile(dir)
	require.NoError(t, err)
	require.Equal(t, config.TransportWorker, cfg.Transport.Kind)

	require.Error(t, run(t, dir, "balance"), "no wallet yet")
	require.NoError(t, run(t, dir, "join", transporttest.Invite))
	require.NoError(t, run(t, dir, "list"))
	require.NoError(t, run(t, dir, "info"))
	require.NoError(t, run(t, dir, "balance"))
	require.NoError(t, run(t, dir, "gateways", "--refresh"))
	require.NoError(t, run(t, dir, "parse-invite", transporttest.Invite))
	require.NoError(t, run(t, dir, "mnemonic", "generate"))
	require.NoError(t, run(t, dir, "mnemonic", "show"))
	require.NoError(t, run(t, dir, "--loglevel", "debug", "diag"))

	// Spending from an empty wallet is refused by the engine.
	require.Error(t, run(t, dir, "spend", "1000"))
	require.Error(t, run(t, dir, "spend", "lots"))

	blob := filepath.Join(t.TempDir(), "wallets.json")
	require.NoError(t, run(t, dir, "export", "--file", blob))
	require.Error(t, run(t, dir, "clear"))
	require.NoError(t, run(t, dir, "clear", "--yes"))
	require.NoError(t, run(t, dir, "import", blob))

	data, err := os.ReadFile(blob)
	require.NoError(t, err)
	require.Contains(t, string(data), `"version":1`)
}

func TestParseMsats(t *testing.T) {
	v, err := parseMsats("2500")
	require.NoError(t, err)
	require.EqualValues(t, 2500, v)

	for _, bad := range []string{"", "0", "-1", "1.5", "ten"} {
		_, err := parseMsats(bad)
		require.Error(t, err, bad)
	}
}
