package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/fedwallet/pkg/config"
)

func TestSetLevelAppliesToAllSubsystems(t *testing.T) {
	root := New()
	root.Quiet()
	a := root.Logger("AAAA")
	require.Same(t, a, root.Logger("AAAA"))

	require.NoError(t, root.SetLevel("debug"))
	b := root.Logger("BBBB")
	require.Equal(t, btclog.LevelDebug, a.Level())
	require.Equal(t, btclog.LevelDebug, b.Level())
	require.Equal(t, []string{"AAAA", "BBBB"}, root.Subsystems())

	require.Error(t, root.SetLevel("loud"))
	require.Equal(t, btclog.LevelDebug, a.Level())
}

func TestConfigureWritesLogFile(t *testing.T) {
	dir := t.TempDir()
	root := New()
	root.Quiet()
	err := root.Configure(dir, config.LoggingConfig{
		Level:    "info",
		FilePath: "logs/test.log",
	})
	require.NoError(t, err)

	root.Logger("TEST").Infof("hello %s", "file")
	require.NoError(t, root.Close())

	path := filepath.Join(dir, "logs", "test.log")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && strings.Contains(string(data), "hello file")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWireRegistersLibrarySubsystems(t *testing.T) {
	root := New()
	root.Quiet()
	root.Wire()
	t.Cleanup(func() {
		for _, s := range subsystems {
			s.use(btclog.Disabled)
		}
	})

	require.Equal(t, []string{"MENG", "RPCC", "WDIR", "WLLT", "WMGR"}, root.Subsystems())
	require.NoError(t, root.SetLevel("trace"))
	require.Equal(t, btclog.LevelTrace, root.Logger("WLLT").Level())
}
