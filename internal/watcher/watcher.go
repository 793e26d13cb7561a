// Package watcher monitors local workspace directories and reports changes as
// workspace-relative paths via callbacks.
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/CageChen/entrytree/internal/logging"
)

// EventType represents the type of file system event
type EventType int

// File system event types.
const (
	EventCreate EventType = iota
	EventWrite
	EventRemove
	EventRename
)

func (t EventType) String() string {
	switch t {
	case EventCreate:
		return "create"
	case EventWrite:
		return "write"
	case EventRemove:
		return "remove"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Event represents a change inside a workspace
type Event struct {
	Workspace string
	Type      EventType
	Path      string // workspace-relative, "/"-separated and absolute
}

// Callback is a function called when file changes occur
type Callback func(Event)

// Root is a watched workspace directory.
type Root struct {
	Workspace string
	Dir       string
}

type watchedRoot struct {
	Root
	dir string // cleaned absolute directory
}

// Watcher monitors file system changes in local workspaces
type Watcher struct {
	watcher   *fsnotify.Watcher
	roots     []watchedRoot
	callbacks []Callback
	mu        sync.RWMutex
	done      chan struct{}
}

// New creates a watcher over the given roots. Every directory below a root is
// watched, confined ones included, since their files still count in a tree.
func New(roots []Root) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	watched := make([]watchedRoot, 0, len(roots))
	for _, r := range roots {
		dir, err := filepath.Abs(r.Dir)
		if err != nil {
			dir = filepath.Clean(r.Dir)
		}
		watched = append(watched, watchedRoot{Root: r, dir: dir})
	}

	return &Watcher{
		watcher: w,
		roots:   watched,
		done:    make(chan struct{}),
	}, nil
}

// OnChange registers a callback for change events
func (w *Watcher) OnChange(cb Callback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start begins watching every directory below the roots
func (w *Watcher) Start() error {
	for _, root := range w.roots {
		w.addTree(root.dir)
	}
	go w.eventLoop()
	return nil
}

func (w *Watcher) addTree(dir string) {
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			logging.L().Warn("cannot watch directory", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		logging.L().Warn("failed to walk directory", zap.String("path", dir), zap.Error(err))
	}
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.L().Error("watcher error", zap.Error(err))
		}
	}
}

// resolve maps an OS path to the workspace containing it.
func (w *Watcher) resolve(osPath string) (watchedRoot, string, bool) {
	for _, root := range w.roots {
		rel, err := filepath.Rel(root.dir, osPath)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if rel == "." {
			return root, "/", true
		}
		return root, "/" + filepath.ToSlash(rel), true
	}
	return watchedRoot{}, "", false
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	root, rel, ok := w.resolve(event.Name)
	if !ok {
		return
	}

	var eventType EventType
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = EventCreate
		// If a new directory is created, watch it and its contents
		if isDir(event.Name) {
			w.addTree(event.Name)
		}
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventWrite
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventRemove
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventRename
	default:
		return
	}

	w.emit(Event{Workspace: root.Workspace, Type: eventType, Path: rel})
}

func (w *Watcher) emit(e Event) {
	w.mu.RLock()
	callbacks := make([]Callback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		cb(e)
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
