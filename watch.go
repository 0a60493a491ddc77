package xref

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jward/xref/internal/runtime"
)

// DefaultDebounce is the quiet period Watch waits for before updating.
const DefaultDebounce = 250 * time.Millisecond

// rootPollInterval is how often Watch checks whether the Manager moved to
// another root while no events arrived.
const rootPollInterval = time.Second

// Watch keeps the graph for the current root up to date. File system
// events are debounced and then fed through EnsureGraphForPath, so updates
// get the same change detection as explicit calls. When the Manager is
// moved to another root, Watch follows it and never rebuilds the old one.
// Watch blocks until ctx is done or the Manager is shut down.
func (m *Manager) Watch(ctx context.Context, debounce time.Duration) error {
	root := m.Root()
	if root == "" {
		return ErrNotInitialized
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	for {
		next, err := m.watchRoot(ctx, root, debounce)
		if err != nil || next == "" {
			return err
		}
		m.logger.Info("root changed, moving watcher", "from", root, "to", next)
		root = next
	}
}

// watchRoot watches one root. It returns the Manager's new root when that
// differs from root, and "" when watching should stop.
func (m *Manager) watchRoot(ctx context.Context, root string, debounce time.Duration) (string, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return "", ioError("watch", root, err)
	}
	defer w.Close()

	if err := addWatchDirs(w, root); err != nil {
		return "", ioError("watch", root, err)
	}
	m.logger.Info("watching for changes", "root", root, "debounce", debounce)

	poll := time.NewTicker(rootPollInterval)
	defer poll.Stop()
	timer := time.NewTimer(debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-m.done:
			return "", nil
		case ev, ok := <-w.Events:
			if !ok {
				return "", nil
			}
			if !relevantEvent(ev) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !skipDir(filepath.Base(ev.Name)) {
					if err := addWatchDirs(w, ev.Name); err != nil {
						m.logger.Warn("watch new directory", "path", ev.Name, "error", err)
					}
				}
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return "", nil
			}
			m.logger.Warn("watcher error", "error", err)
		case <-poll.C:
			if current := m.Root(); current != root {
				return current, nil
			}
		case <-timer.C:
			if current := m.Root(); current != root {
				return current, nil
			}
			if err := m.updateRoot(ctx, root); err != nil {
				if errors.Is(err, ErrNotInitialized) {
					return "", nil
				}
				if errors.Is(err, errRootMoved) {
					return m.Root(), nil
				}
				m.logger.Warn("update after change failed", "root", root, "error", err)
				continue
			}
			if c := m.LastChanges(); !c.Empty() {
				m.logger.Info("graph updated", "added", len(c.Added),
					"modified", len(c.Modified), "deleted", len(c.Deleted))
			}
		}
	}
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || skipDirs[name]
}

// addWatchDirs watches dir and every subdirectory outside the skip set.
func addWatchDirs(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}

// relevantEvent filters out chmod-only events and files no grammar handles.
// Directory events always count, since a removed directory removes files.
func relevantEvent(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	if _, ok := runtime.LanguageForFile(ev.Name); ok {
		return true
	}
	return ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Create)
}
