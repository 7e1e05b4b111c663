package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/rexliu/fedwallet/pkg/config"
)

// Root owns the shared log backend. Every subsystem logger handed out by a
// Root writes through the same sink and follows the same level.
type Root struct {
	mu      sync.Mutex
	out     *writer
	backend *btclog.Backend
	level   btclog.Level
	subs    map[string]btclog.Logger
}

// New returns a root writing to stdout at info level until Configure runs.
func New() *Root {
	w := &writer{console: os.Stdout}
	return &Root{
		out:     w,
		backend: btclog.NewBackend(w),
		level:   btclog.LevelInfo,
		subs:    make(map[string]btclog.Logger),
	}
}

// Logger returns the logger for a subsystem tag, creating it on first use.
func (r *Root) Logger(tag string) btclog.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.subs[tag]; ok {
		return l
	}
	l := r.backend.Logger(tag)
	l.SetLevel(r.level)
	r.subs[tag] = l
	return l
}

// Subsystems lists the tags handed out so far.
func (r *Root) Subsystems() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tags := make([]string, 0, len(r.subs))
	for tag := range r.subs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// SetLevel applies level to every subsystem, present and future.
func (r *Root) SetLevel(level string) error {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("unknown log level %q", level)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.level = lvl
	for _, l := range r.subs {
		l.SetLevel(lvl)
	}
	return nil
}

// Configure applies logging settings from config. Relative file paths are
// resolved against profileDir.
func (r *Root) Configure(profileDir string, cfg config.LoggingConfig) error {
	if cfg.Level != "" {
		if err := r.SetLevel(cfg.Level); err != nil {
			return err
		}
	}
	if cfg.FilePath == "" {
		return nil
	}
	path := config.ResolvePath(profileDir, cfg.FilePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	maxMB := cfg.FileMaxSize
	if maxMB <= 0 {
		maxMB = 10
	}
	backups := cfg.FileBackups
	if backups <= 0 {
		backups = 3
	}
	rot, err := rotator.New(path, int64(maxMB*1024), false, backups)
	if err != nil {
		return fmt.Errorf("create file rotator: %w", err)
	}
	pr, pw := io.Pipe()
	go func() {
		if err := rot.Run(pr); err != nil {
			fmt.Fprintf(os.Stderr, "log rotator: %v\n", err)
		}
	}()
	r.out.setFile(pw, rot)
	return nil
}

// Close flushes and releases the rotating file, if any.
func (r *Root) Close() error {
	return r.out.close()
}

// Quiet stops console output. File output, if configured, continues.
func (r *Root) Quiet() {
	r.out.mu.Lock()
	r.out.console = nil
	r.out.mu.Unlock()
}

type writer struct {
	mu      sync.Mutex
	console io.Writer
	pipe    *io.PipeWriter
	rot     *rotator.Rotator
}

func (w *writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.console != nil {
		w.console.Write(p)
	}
	if w.pipe != nil {
		w.pipe.Write(p)
	}
	return len(p), nil
}

func (w *writer) setFile(pipe *io.PipeWriter, rot *rotator.Rotator) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pipe != nil {
		w.pipe.Close()
	}
	w.pipe, w.rot = pipe, rot
}

func (w *writer) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pipe == nil {
		return nil
	}
	err := w.pipe.Close()
	w.pipe, w.rot = nil, nil
	return err
}
