package fs

import (
	"context"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"devstash/internal/core"
)

type watchArgs struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive,omitempty"`
}

type unwatchArgs struct {
	ID string `json:"id"`
}

// Change полезная нагрузка события fs://change.
type Change struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Op   string `json:"op"`
}

type watch struct {
	id        string
	recursive bool
	fsw       *fsnotify.Watcher
	done      chan struct{}
}

func (w *watch) close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

func (m *Module) watch(ctx context.Context, a watchArgs) (string, error) {
	abs, _, err := m.scope.Resolve("path", a.Path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", opError("watch", a.Path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return "", fmt.Errorf("create watcher: %w", err)
	}
	w := &watch{id: uuid.NewString(), recursive: a.Recursive && info.IsDir(), fsw: fsw, done: make(chan struct{})}
	if err := m.addWatchPaths(w, abs); err != nil {
		_ = fsw.Close()
		return "", opError("watch", a.Path, err)
	}

	m.mu.Lock()
	m.watches[w.id] = w
	m.mu.Unlock()

	go m.forward(w)
	return w.id, nil
}

func (m *Module) unwatch(ctx context.Context, a unwatchArgs) (bool, error) {
	m.mu.Lock()
	w, ok := m.watches[a.ID]
	delete(m.watches, a.ID)
	m.mu.Unlock()
	if !ok {
		return false, core.InvalidArgs("id", fmt.Sprintf("unknown watch %q", a.ID))
	}
	if err := w.close(); err != nil {
		return false, fmt.Errorf("close watcher: %w", err)
	}
	return true, nil
}

func (m *Module) addWatchPaths(w *watch, root string) error {
	if !w.recursive {
		return w.fsw.Add(root)
	}
	return filepath.WalkDir(root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if !m.scope.Allowed(m.scope.Rel(p)) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

func (m *Module) forward(w *watch) {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			rel := m.scope.Rel(ev.Name)
			if !m.scope.Allowed(rel) {
				continue
			}
			if w.recursive && ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = m.addWatchPaths(w, ev.Name)
				}
			}
			m.app.Emit(ChangeEvent, Change{ID: w.id, Path: rel, Op: ev.Op.String()})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			m.app.Logger().Warn("fs watch error", "watch_id", w.id, "err", err)
		}
	}
}
