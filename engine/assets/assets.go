package assets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/framecore/engine/core"
)

type AssetInfo struct {
	Path       string
	LastLoaded time.Time
}

// AssetManager indexes the compiled shaders under one directory and keeps
// the index current while Run is active. Shaders are named by their path
// relative to the directory without the loader extension, so
// "shaders/history.comp.spv" is "history.comp".
type AssetManager struct {
	dir     string
	assets  map[string]AssetInfo
	cache   map[string][]byte
	loaders map[string]Loader

	mutex sync.RWMutex

	fsnotify *fsnotify.Watcher
	isClosed bool
	changes  chan string
}

func NewAssetManager(dir string) (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	am := &AssetManager{
		dir:      filepath.Clean(dir),
		assets:   make(map[string]AssetInfo),
		cache:    make(map[string][]byte),
		loaders:  make(map[string]Loader),
		fsnotify: fsWatch,
		changes:  make(chan string, 16),
	}
	am.registerLoader(".spv", &SPIRVLoader{})

	if err := am.watchRecursive(am.dir); err != nil {
		am.close()
		return nil, err
	}
	core.LogDebug("indexed %d shaders under `%s`", len(am.assets), am.dir)
	return am, nil
}

// Register loaders for each file extension
func (am *AssetManager) registerLoader(ext string, loader Loader) {
	am.loaders[ext] = loader
}

func (am *AssetManager) nameFor(path string) (string, Loader, bool) {
	ext := filepath.Ext(path)
	loader, ok := am.loaders[ext]
	if !ok {
		return "", nil, false
	}
	rel, err := filepath.Rel(am.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", nil, false
	}
	return filepath.ToSlash(strings.TrimSuffix(rel, ext)), loader, true
}

// Load returns the bytecode of the named shader, reading it on first use.
func (am *AssetManager) Load(name string) ([]byte, error) {
	am.mutex.RLock()
	data, cached := am.cache[name]
	asset, exists := am.assets[name]
	am.mutex.RUnlock()
	if cached {
		return data, nil
	}
	if !exists {
		return nil, fmt.Errorf("shader `%s`: %w", name, core.ErrNotFound)
	}

	_, loader, _ := am.nameFor(asset.Path)
	data, err := loader.Load(asset.Path)
	if err != nil {
		return nil, err
	}

	am.mutex.Lock()
	asset.LastLoaded = time.Now()
	am.assets[name] = asset
	am.cache[name] = data
	am.mutex.Unlock()
	return data, nil
}

// Names lists the indexed shaders in lexical order.
func (am *AssetManager) Names() []string {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	names := make([]string, 0, len(am.assets))
	for name := range am.assets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Changes delivers the name of every shader written or created while Run is
// active. It is closed when Run returns.
func (am *AssetManager) Changes() <-chan string {
	return am.changes
}

// Run blocks until ctx is cancelled.
func (am *AssetManager) Run(ctx context.Context) error {
	defer am.close()
	for {
		select {
		case <-ctx.Done():
			return nil

		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return nil
			}
			s, err := os.Stat(e.Name)
			if err == nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := am.watchRecursive(e.Name); err != nil {
						core.LogWarn("watching `%s`: %s", e.Name, err)
					}
				}
				continue
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if name, ok := am.handleFileEvent(e.Name); ok {
					am.notify(name)
				}
			}
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				am.removeAsset(e.Name)
			}

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return nil
			}
			core.LogError("shader watcher: %s", err)
		}
	}
}

func (am *AssetManager) notify(name string) {
	select {
	case am.changes <- name:
	default:
		core.LogDebug("shader change `%s` dropped, receiver is behind", name)
	}
}

// watchRecursive adds path and every directory below it to the watch list
// and indexes the files it finds.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return am.fsnotify.Add(walkPath)
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}

// Handle the creation or modification of a file
func (am *AssetManager) handleFileEvent(path string) (string, bool) {
	name, _, ok := am.nameFor(filepath.Clean(path))
	if !ok {
		return "", false
	}
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.assets[name] = AssetInfo{Path: filepath.Clean(path)}
	delete(am.cache, name)
	return name, true
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	name, _, ok := am.nameFor(filepath.Clean(path))
	if !ok {
		return
	}
	am.mutex.Lock()
	defer am.mutex.Unlock()
	delete(am.assets, name)
	delete(am.cache, name)
}

func (am *AssetManager) close() {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	if am.isClosed {
		return
	}
	am.isClosed = true
	if err := am.fsnotify.Close(); err != nil && !errors.Is(err, fsnotify.ErrClosed) {
		core.LogWarn("closing shader watcher: %s", err)
	}
	close(am.changes)
}

// Close stops watching. Use it when Run was never started.
func (am *AssetManager) Close() {
	am.close()
}
