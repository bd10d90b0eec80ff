package config

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/framecore/engine/core"
)

// Watcher re-reads the settings file whenever it changes on disk. Only the
// hot-reloadable fields of an update are meant to be applied by the receiver;
// updates touching fixed fields are dropped here.
type Watcher struct {
	path    string
	current *Settings

	mutex    sync.Mutex
	fsnotify *fsnotify.Watcher
	updates  chan *Settings
	isClosed bool
}

func NewWatcher(path string, current *Settings) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors often replace the file, so watch the directory and filter by name.
	if err := fsWatch.Add(filepath.Dir(path)); err != nil {
		fsWatch.Close()
		return nil, err
	}
	return &Watcher{
		path:     filepath.Clean(path),
		current:  current.Clone(),
		fsnotify: fsWatch,
		updates:  make(chan *Settings, 1),
	}, nil
}

// Updates delivers accepted settings. It is closed when Run returns.
func (w *Watcher) Updates() <-chan *Settings {
	return w.updates
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(e.Name) != w.path {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.reload(ctx)
			}
		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return nil
			}
			core.LogError("settings watcher: %s", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	next, err := Load(w.path)
	if err != nil {
		core.LogWarn("ignoring settings change: %s", err)
		return
	}
	if !w.current.FixedFieldsEqual(next) {
		core.LogWarn("settings change touches frame slots, backend, heaps or buffer caps; restart to apply")
		return
	}
	w.current = next.Clone()
	select {
	case w.updates <- next:
	case <-ctx.Done():
	}
}

func (w *Watcher) close() {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.isClosed {
		return
	}
	w.isClosed = true
	if err := w.fsnotify.Close(); err != nil && !errors.Is(err, fsnotify.ErrClosed) {
		core.LogWarn("closing settings watcher: %s", err)
	}
	close(w.updates)
}

// ApplyHotReload copies the fields that may change at runtime from next into
// live and pushes the diagnostics into the core package.
func ApplyHotReload(live, next *Settings) {
	live.Diagnostics.LogLevel = next.Diagnostics.LogLevel
	live.Graphics.VSync = next.Graphics.VSync
	core.SetLogLevel(live.Diagnostics.LogLevel)
	core.LogInfo("settings reloaded: log_level=%s vsync=%t", live.Diagnostics.LogLevel, live.Graphics.VSync)
}
