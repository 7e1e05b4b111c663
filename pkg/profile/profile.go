// Package profile turns a profile directory into running components: the
// stores, the engine transport and a director over them.
package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rexliu/fedwallet/pkg/config"
	"github.com/rexliu/fedwallet/pkg/director"
	"github.com/rexliu/fedwallet/pkg/engine"
	"github.com/rexliu/fedwallet/pkg/engine/memengine"
	"github.com/rexliu/fedwallet/pkg/logging"
	"github.com/rexliu/fedwallet/pkg/manager"
	"github.com/rexliu/fedwallet/pkg/rpc"
	"github.com/rexliu/fedwallet/pkg/storage"
	"github.com/rexliu/fedwallet/pkg/storage/bolt"
	"github.com/rexliu/fedwallet/pkg/storage/sqlite"
	"github.com/rexliu/fedwallet/pkg/transport"
	"github.com/rexliu/fedwallet/pkg/transport/bridge"
	"github.com/rexliu/fedwallet/pkg/transport/inproc"
	"github.com/rexliu/fedwallet/pkg/transport/worker"
	"github.com/rexliu/fedwallet/pkg/transport/ws"
)

// OpenStore opens the KV backend named by backend. dbPath is resolved
// against dir.
func OpenStore(ctx context.Context, dir, backend, dbPath string, quota storage.Quota) (storage.KV, error) {
	path := config.ResolvePath(dir, dbPath)
	switch backend {
	case config.BackendMemory:
		return storage.NewMemory(quota), nil
	case config.BackendBolt:
		if err := mkdirFor(path); err != nil {
			return nil, err
		}
		return bolt.Open(path, quota)
	case config.BackendSQLite, "":
		if err := mkdirFor(path); err != nil {
			return nil, err
		}
		return sqlite.Open(ctx, path, quota)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func mkdirFor(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	return nil
}

// EngineFactory opens the reference engine over the profile's engine store.
// The returned store must be closed after the engine.
func EngineFactory(ctx context.Context, dir string, cfg *config.ProfileConfig) (engine.Factory, storage.KV, error) {
	kv, err := OpenStore(ctx, dir, cfg.Engine.Backend, cfg.Engine.DBPath, storage.Quota{})
	if err != nil {
		return nil, nil, fmt.Errorf("open engine store: %w", err)
	}
	return memengine.NewFactory(kv), kv, nil
}

// Session is an opened profile.
type Session struct {
	Dir      string
	Config   *config.ProfileConfig
	Logs     *logging.Root
	Pointers *manager.Manager
	Director *director.Director

	closers []func() error
}

// Option configures Open.
type Option func(*options)

type options struct {
	reg   prometheus.Registerer
	logs  *logging.Root
	quiet bool
}

// WithRegisterer exports client metrics to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// WithLogs reuses an existing log root instead of creating one.
func WithLogs(root *logging.Root) Option {
	return func(o *options) { o.logs = root }
}

// WithQuietConsole keeps log output off the terminal.
func WithQuietConsole() Option {
	return func(o *options) { o.quiet = true }
}

// Open loads the profile in dir and wires a director over it. The director
// is not initialized yet.
func Open(ctx context.Context, dir string, opts ...Option) (*Session, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfg, err := config.LoadProfile(dir)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	s := &Session{Dir: dir, Config: cfg, Logs: o.logs}
	if s.Logs == nil {
		s.Logs = logging.New()
		if o.quiet {
			s.Logs.Quiet()
		}
		if err := s.Logs.Configure(dir, cfg.Logging); err != nil {
			return nil, err
		}
		s.Logs.Wire()
		s.closers = append(s.closers, s.Logs.Close)
	}

	if err := s.wire(ctx, o); err != nil {
		s.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Session) wire(ctx context.Context, o options) error {
	cfg := s.Config
	quota := storage.Quota{MaxKeys: cfg.Storage.QuotaKeys}
	kv, err := OpenStore(ctx, s.Dir, cfg.Storage.Backend, cfg.Storage.DBPath, quota)
	if err != nil {
		return fmt.Errorf("open pointer store: %w", err)
	}
	s.closers = append(s.closers, kv.Close)

	s.Pointers, err = manager.New(ctx, kv, manager.WithKeep(cfg.Storage.MaxWallets))
	if err != nil {
		return err
	}

	tr, err := s.dial(ctx)
	if err != nil {
		return err
	}

	client := rpc.NewClient(tr,
		rpc.WithOutboxSize(cfg.RPC.OutboxSize),
		rpc.WithMetrics(rpc.NewMetrics(o.reg)),
	)
	s.Director = director.New(client, s.Pointers, director.WithLevelSetter(s.Logs))
	return nil
}

// dial builds the transport named in the profile.
func (s *Session) dial(ctx context.Context) (transport.Transport, error) {
	tc := s.Config.Transport
	switch tc.Kind {
	case config.TransportWorker, config.TransportInproc:
		factory, kv, err := EngineFactory(ctx, s.Dir, s.Config)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, kv.Close)
		if tc.Kind == config.TransportInproc {
			return inproc.New(factory), nil
		}
		return worker.New(factory), nil
	case config.TransportBridge:
		return bridge.Dial(ctx, "unix", config.ResolvePath(s.Dir, tc.SocketPath))
	case config.TransportSpawn:
		return bridge.Spawn(context.Background(), tc.Command, tc.Args...)
	case config.TransportWebSocket:
		return ws.Dial(ctx, tc.URL)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", tc.Kind)
	}
}

// Close shuts the director down and releases the stores in reverse order of
// opening.
func (s *Session) Close(ctx context.Context) error {
	var errs []error
	if s.Director != nil {
		if err := s.Director.Cleanup(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
