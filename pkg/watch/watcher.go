package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/platinummonkey/pluginhost/pkg/observability"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is how long the watcher waits for changes to settle before rescanning
const DefaultDebounce = 500 * time.Millisecond

// RescanFunc re-runs plugin discovery
type RescanFunc func(ctx context.Context)

// Watcher re-runs discovery when plugin roots change on disk
type Watcher struct {
	roots    []string
	manifest string
	debounce time.Duration
	rescan   RescanFunc
	log      logrus.FieldLogger

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	watched map[string]struct{}
	// missing roots, keyed by root, valued by the existing ancestor watched for them
	missing map[string]string
	anchors map[string]struct{}
}

// NewWatcher watches roots recursively. A root that does not exist yet is picked up
// once it is created, by watching its nearest existing parent until then.
// Changes to files named manifest, and directory creation or removal, trigger rescan.
func NewWatcher(roots []string, manifest string, debounce time.Duration, rescan RescanFunc, log logrus.FieldLogger) (*Watcher, error) {
	if rescan == nil {
		return nil, errors.New("rescan function is required")
	}
	if log == nil {
		log = logrus.New()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		roots:    roots,
		manifest: manifest,
		debounce: debounce,
		rescan:   rescan,
		log:      log.WithField("component", "watcher"),
		watcher:  fsw,
		watched:  make(map[string]struct{}),
		missing:  make(map[string]string),
		anchors:  make(map[string]struct{}),
	}

	for _, root := range roots {
		if root == "" {
			continue
		}
		root = filepath.Clean(root)
		if _, err := os.Stat(root); err != nil {
			w.log.WithError(err).Debugf("Plugin directory %s does not exist yet", root)
			w.await(root)
			continue
		}
		if err := w.addTree(root); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", root, err)
		}
	}

	return w, nil
}

// Watched returns the plugin directories currently watched
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	dirs := make([]string, 0, len(w.watched))
	for dir := range w.watched {
		dirs = append(dirs, dir)
	}
	return dirs
}

// addTree recursively adds all directories under root to the watcher
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			w.log.WithError(err).Warnf("Not watching unreadable path %s", path)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.add(path)
	})
}

func (w *Watcher) add(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.watched[dir]; ok {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.watched[dir] = struct{}{}
	return nil
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.watched, path)
	delete(w.anchors, path)
}

// Missing returns the roots waiting to be created
func (w *Watcher) Missing() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	roots := make([]string, 0, len(w.missing))
	for root := range w.missing {
		roots = append(roots, root)
	}
	return roots
}

// await watches the nearest existing ancestor of root so its creation is seen
func (w *Watcher) await(root string) {
	anchor := root
	for {
		parent := filepath.Dir(anchor)
		if parent == anchor {
			w.log.Warnf("No existing parent to watch for plugin directory %s", root)
			return
		}
		anchor = parent
		if isDir(anchor) {
			break
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.missing[root] = anchor
	if _, ok := w.watched[anchor]; ok {
		return
	}
	if _, ok := w.anchors[anchor]; ok {
		return
	}
	if err := w.watcher.Add(anchor); err != nil {
		w.log.WithError(err).Warnf("Not watching for plugin directory %s", root)
		return
	}
	w.anchors[anchor] = struct{}{}
}

// pendingRoot returns the missing root that path is, or leads to
func (w *Watcher) pendingRoot(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for root := range w.missing {
		if path == root || strings.HasPrefix(root, path+string(filepath.Separator)) {
			return root, true
		}
	}
	return "", false
}

func (w *Watcher) isRoot(path string) bool {
	for _, root := range w.roots {
		if root != "" && filepath.Clean(root) == path {
			return true
		}
	}
	return false
}

func (w *Watcher) isAnchorOnly(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.watched[dir]; ok {
		return false
	}
	_, ok := w.anchors[dir]
	return ok
}

// arrived starts watching a root that now exists, reporting whether it does
func (w *Watcher) arrived(root string, log logrus.FieldLogger) bool {
	if !isDir(root) {
		// only an ancestor appeared; move the watch closer
		w.await(root)
		if !isDir(root) {
			return false
		}
	}

	w.mu.Lock()
	delete(w.missing, root)
	w.mu.Unlock()

	log.Infof("Plugin directory %s created", root)
	if err := w.addTree(root); err != nil {
		log.WithError(err).Warn("Error watching new plugin directory")
	}
	return true
}

func (w *Watcher) runRescan(ctx context.Context) {
	defer observability.RecoverPanic(w.log, "plugin rescan")

	w.log.Debug("Plugin directories changed, rescanning")
	w.rescan(ctx)
}

// Run processes filesystem events until ctx is cancelled, then closes the watcher
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	w.log.Infof("Watching %d plugin directories", len(w.Watched()))

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.handle(event) {
				pending = time.After(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("Watcher error")
		case <-pending:
			pending = nil
			w.runRescan(ctx)
		}
	}
}

// handle updates the watch list and reports whether event should trigger a rescan
func (w *Watcher) handle(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}

	log := w.log.WithFields(logrus.Fields{
		"path": event.Name,
		"op":   event.Op.String(),
	})

	if event.Op&fsnotify.Create != 0 {
		if root, ok := w.pendingRoot(event.Name); ok {
			return w.arrived(root, log)
		}
	}

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && w.isRoot(event.Name) {
		w.forget(event.Name)
		w.await(event.Name)
		log.Debug("Plugin directory removed")
		return true
	}

	if w.isAnchorOnly(filepath.Dir(event.Name)) {
		return false
	}

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.forget(event.Name)
		log.Debug("Plugin path removed")
		return true
	}

	if filepath.Base(event.Name) == w.manifest {
		log.Debug("Plugin manifest changed")
		return true
	}

	// Also watch new directories
	if event.Op&fsnotify.Create != 0 {
		fi, err := os.Stat(event.Name)
		if err == nil && fi.IsDir() && !strings.HasPrefix(fi.Name(), ".") {
			log.Debug("New plugin directory")
			if err := w.addTree(event.Name); err != nil {
				log.WithError(err).Warn("Error watching new directory")
			}
			return true
		}
	}

	return false
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
