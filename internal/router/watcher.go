package router

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/conductor/internal/logging"
)

// reloadDebounce collapses the burst of events editors emit for one save.
const reloadDebounce = 100 * time.Millisecond

// ReloadFunc is called after every reload attempt. On error the router
// keeps its previous tables.
type ReloadFunc func(tables Tables, err error)

// TableWatcher reloads a router's keyword tables when the file changes.
type TableWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	router   *Router
	onReload ReloadFunc
	logger   *logging.Logger
	done     chan struct{}
}

// WatchTables loads path into r and keeps it in sync until ctx is done or
// Close is called. The parent directory is watched so atomic
// write-and-rename saves are picked up.
func WatchTables(ctx context.Context, path string, r *Router, logger *logging.Logger, onReload ReloadFunc) (*TableWatcher, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve keyword table path: %w", err)
	}

	tables, err := LoadTables(abs)
	if err != nil {
		return nil, err
	}
	if err := r.SetTables(tables); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &TableWatcher{
		watcher:  fw,
		path:     abs,
		router:   r,
		onReload: onReload,
		logger:   logger.WithPhase("routing"),
		done:     make(chan struct{}),
	}
	go w.watchLoop(ctx)
	return w, nil
}

// Close stops watching. It is safe to call more than once.
func (w *TableWatcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *TableWatcher) watchLoop(ctx context.Context) {
	defer close(w.done)

	debounce := time.NewTimer(0)
	<-debounce.C
	pending := false

	for {
		select {
		case <-ctx.Done():
			_ = w.watcher.Close()
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending = true
			debounce.Reset(reloadDebounce)

		case <-debounce.C:
			if !pending {
				continue
			}
			pending = false
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("keyword table watcher error", "error", err)
		}
	}
}

func (w *TableWatcher) reload() {
	tables, err := LoadTables(w.path)
	if err == nil {
		err = w.router.SetTables(tables)
	}
	if err != nil {
		w.logger.Warn("keyword table reload failed, keeping previous tables", "path", w.path, "error", err)
	} else {
		w.logger.Info("keyword tables reloaded", "path", w.path, "workers", len(tables.Workers))
	}
	if w.onReload != nil {
		w.onReload(tables, err)
	}
}
