package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the profile configuration file inside a profile directory.
const FileName = "config.toml"

// Transport kinds.
const (
	TransportWorker    = "worker"
	TransportInproc    = "inproc"
	TransportBridge    = "bridge"
	TransportSpawn     = "spawn"
	TransportWebSocket = "websocket"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// TransportConfig selects how the client reaches the engine.
type TransportConfig struct {
	Kind       string   `toml:"kind"`
	SocketPath string   `toml:"socketPath"`
	URL        string   `toml:"url"`
	Command    string   `toml:"command"`
	Args       []string `toml:"args"`
}

// RPCConfig tunes the client's send path.
type RPCConfig struct {
	OutboxSize int `toml:"outboxSize"`
}

// StorageConfig defines where wallet pointers are persisted.
type StorageConfig struct {
	Backend    string `toml:"backend"`
	DBPath     string `toml:"dbPath"`
	MaxWallets int    `toml:"maxWallets"`
	QuotaKeys  int    `toml:"quotaKeys"`
}

// EngineConfig defines where an embedded or hosted engine keeps its state.
type EngineConfig struct {
	Backend string `toml:"backend"`
	DBPath  string `toml:"dbPath"`
}

// DaemonConfig defines the listeners of walletd.
type DaemonConfig struct {
	SocketPath  string `toml:"socketPath"`
	WSAddr      string `toml:"wsAddr"`
	MetricsAddr string `toml:"metricsAddr"`
}

// LoggingConfig defines basic logging knobs.
type LoggingConfig struct {
	Level       string `toml:"level"`
	FilePath    string `toml:"filePath"`
	FileMaxSize int    `toml:"fileMaxSizeMB"`
	FileBackups int    `toml:"fileMaxBackups"`
}

// ProfileConfig aggregates client and daemon configuration for a profile.
type ProfileConfig struct {
	ProfileName string          `toml:"profileName"`
	Transport   TransportConfig `toml:"transport"`
	RPC         RPCConfig       `toml:"rpc"`
	Storage     StorageConfig   `toml:"storage"`
	Engine      EngineConfig    `toml:"engine"`
	Daemon      DaemonConfig    `toml:"daemon"`
	Logging     LoggingConfig   `toml:"logging"`
}

// DefaultProfile returns a profile with every path relative to the profile
// directory.
func DefaultProfile(name string) *ProfileConfig {
	return &ProfileConfig{
		ProfileName: name,
		Transport: TransportConfig{
			Kind:       TransportBridge,
			SocketPath: "walletd.sock",
		},
		RPC: RPCConfig{OutboxSize: 64},
		Storage: StorageConfig{
			Backend:    BackendSQLite,
			DBPath:     "wallets.db",
			MaxWallets: 50,
		},
		Engine: EngineConfig{
			Backend: BackendSQLite,
			DBPath:  "engine.db",
		},
		Daemon: DaemonConfig{
			SocketPath: "walletd.sock",
		},
		Logging: LoggingConfig{
			Level:       "info",
			FilePath:    "logs/fedwallet.log",
			FileMaxSize: 10,
			FileBackups: 3,
		},
	}
}

// Load reads config.toml from the provided path.
func Load(path string) (*ProfileConfig, error) {
	var cfg ProfileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadProfile reads the config file of a profile directory.
func LoadProfile(profileDir string) (*ProfileConfig, error) {
	return Load(filepath.Join(profileDir, FileName))
}

// Save writes cfg as TOML, creating the parent directory if needed.
func Save(path string, cfg *ProfileConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// ResolvePath interprets p relative to the profile directory unless it is
// already absolute. Empty stays empty.
func ResolvePath(profileDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(profileDir, p)
}

func (cfg *ProfileConfig) validate() error {
	if cfg.ProfileName == "" {
		return fmt.Errorf("profileName required")
	}
	switch cfg.Transport.Kind {
	case "":
		cfg.Transport.Kind = TransportBridge
		fallthrough
	case TransportBridge:
		if cfg.Transport.SocketPath == "" {
			return fmt.Errorf("transport.socketPath required for %s transport", TransportBridge)
		}
	case TransportSpawn:
		if cfg.Transport.Command == "" {
			return fmt.Errorf("transport.command required for %s transport", TransportSpawn)
		}
	case TransportWebSocket:
		if cfg.Transport.URL == "" {
			return fmt.Errorf("transport.url required for %s transport", TransportWebSocket)
		}
	case TransportWorker, TransportInproc:
	default:
		return fmt.Errorf("unknown transport.kind %q", cfg.Transport.Kind)
	}
	if cfg.RPC.OutboxSize <= 0 {
		cfg.RPC.OutboxSize = 64
	}
	if err := validateBackend("storage", &cfg.Storage.Backend, cfg.Storage.DBPath); err != nil {
		return err
	}
	if cfg.Storage.MaxWallets <= 0 {
		cfg.Storage.MaxWallets = 50
	}
	if cfg.Storage.QuotaKeys < 0 {
		return fmt.Errorf("storage.quotaKeys must not be negative")
	}
	if err := validateBackend("engine", &cfg.Engine.Backend, cfg.Engine.DBPath); err != nil {
		return err
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return nil
}

func validateBackend(section string, backend *string, dbPath string) error {
	switch *backend {
	case "":
		*backend = BackendSQLite
		fallthrough
	case BackendSQLite, BackendBolt:
		if dbPath == "" {
			return fmt.Errorf("%s.dbPath required", section)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown %s.backend %q", section, *backend)
	}
	return nil
}
