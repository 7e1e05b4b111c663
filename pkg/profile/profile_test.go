package profile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/fedwallet/pkg/config"
	"github.com/rexliu/fedwallet/pkg/storage"
	"github.com/rexliu/fedwallet/pkg/transport/transporttest"
)

func writeProfile(t *testing.T, edit func(*config.ProfileConfig)) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultProfile("test")
	cfg.Transport.Kind = config.TransportWorker
	cfg.Logging.FilePath = ""
	if edit != nil {
		edit(cfg)
	}
	require.NoError(t, config.Save(filepath.Join(dir, config.FileName), cfg))
	return dir
}

func TestOpenStoreBackends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, backend := range []string{config.BackendMemory, config.BackendBolt, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			kv, err := OpenStore(ctx, dir, backend, "data/"+backend+".db", storage.Quota{})
			require.NoError(t, err)
			defer kv.Close()
			require.NoError(t, kv.Put(ctx, "k", []byte("v")))
			got, err := kv.Get(ctx, "k")
			require.NoError(t, err)
			require.Equal(t, []byte("v"), got)
		})
	}
	_, err := OpenStore(ctx, dir, "tape", "x", storage.Quota{})
	require.Error(t, err)
}

func TestSessionSurvivesRestart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	dir := writeProfile(t, func(cfg *config.ProfileConfig) {
		cfg.Storage.Backend = config.BackendBolt
		cfg.Storage.DBPath = "wallets.bolt"
	})

	s, err := Open(ctx, dir, WithQuietConsole(), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	w, err := s.Director.JoinFederation(ctx, transporttest.Invite, "")
	require.NoError(t, err)
	id := w.ClientName()
	require.NoError(t, s.Close(ctx))

	s, err = Open(ctx, dir, WithQuietConsole())
	require.NoError(t, err)
	defer s.Close(ctx)

	list, err := s.Director.ListClients(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, id, list[0].ID)

	reopened, err := s.Director.OpenWallet(ctx, id)
	require.NoError(t, err)
	require.True(t, reopened.IsOpen())
	require.NoError(t, s.Director.SetLogLevel("debug"))
}

func TestOpenRejectsMissingProfile(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir())
	require.Error(t, err)
}
