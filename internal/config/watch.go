package config

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces a burst of filesystem events (an editor's
// write-then-rename save sequence) into a single reload signal.
const reloadDebounce = 200 * time.Millisecond

// WorkflowWatcher watches a single workflows directory (non-recursive,
// matching LoadWorkflowDir) and emits a debounced reload signal on
// Reload whenever a manifest file is created, written, removed, or
// renamed. The watch is a single flat directory plus a plain
// notification channel; there is no server process to restart.
type WorkflowWatcher struct {
	Reload <-chan struct{}

	watcher *fsnotify.Watcher
	reload  chan struct{}
}

// NewWorkflowWatcher starts watching dir. Callers should defer Close.
func NewWorkflowWatcher(dir string) (*WorkflowWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	w := &WorkflowWatcher{
		watcher: fsw,
		reload:  make(chan struct{}, 1),
	}
	w.Reload = w.reload
	return w, nil
}

// Run blocks, debouncing manifest events into Reload signals, until ctx
// is cancelled or the underlying watcher closes.
func (w *WorkflowWatcher) Run(ctx context.Context) {
	var timer *time.Timer
	pending := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isManifestFile(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case <-pending:
			select {
			case w.reload <- struct{}{}:
			default:
			}
		case <-w.watcher.Errors:
			// Surfaced to callers only via the reload channel going
			// quiet; nothing actionable to do per-error here.
		}
	}
}

// Close stops the underlying filesystem watch.
func (w *WorkflowWatcher) Close() error {
	return w.watcher.Close()
}

func isManifestFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml" || ext == ".json"
}
