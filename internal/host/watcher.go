package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/caffeineduck/goplug/plugin"
)

// DefaultDebounceInterval is the quiet period before a reload is attempted.
const DefaultDebounceInterval = 100 * time.Millisecond

// WatcherConfig selects the directories to watch.
type WatcherConfig struct {
	// Dirs are watched non-recursively. The entry module's directory is
	// usually the only one.
	Dirs []string

	// DebounceInterval defaults to DefaultDebounceInterval.
	DebounceInterval time.Duration

	// OnReload runs after every reload attempt triggered by the watcher,
	// with the reload error, if any.
	OnReload func(err error)
}

// Watcher reloads the entry module when a script file changes. The bridge's
// mtime rule still decides whether anything is re-executed.
type Watcher struct {
	runner   *Runner
	cfg      WatcherConfig
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	debounce *Debouncer

	mu      sync.Mutex
	running bool
}

// NewWatcher creates a watcher for the runner's module.
func NewWatcher(runner *Runner, cfg WatcherConfig, logger *slog.Logger) (*Watcher, error) {
	if len(cfg.Dirs) == 0 {
		return nil, errors.New("watcher: no directories to watch")
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = DefaultDebounceInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	for _, dir := range cfg.Dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
		}
	}

	return &Watcher{
		runner:   runner,
		cfg:      cfg,
		logger:   logger.With("component", "host.watcher"),
		watcher:  fw,
		debounce: NewDebouncer(cfg.DebounceInterval),
	}, nil
}

// Run processes filesystem events until ctx is cancelled. It closes the
// underlying fsnotify watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.debounce.Stop()
		w.watcher.Close()
	}()

	w.logger.Info("watching module sources",
		"dirs", w.cfg.Dirs,
		"debounce_ms", w.cfg.DebounceInterval.Milliseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if !relevant(event) {
				continue
			}
			w.logger.Debug("source changed", "path", event.Name, "op", event.Op.String())
			w.debounce.Trigger(func() { w.reload(ctx, event.Name) })

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context, path string) {
	err := w.runner.Reload(ctx)
	if err != nil {
		w.logger.Error("reload failed", "path", path, "error", err)
	}
	if w.cfg.OnReload != nil {
		w.cfg.OnReload(err)
	}
}

// relevant accepts writes, creates and renames of visible .star files.
// Editors that save by rename produce Create on the new name.
func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), plugin.ModuleExt)
}
