// Package observer watches the corpus for document changes, backing the
// index --watch mode that re-reports corpus statistics as files arrive.
package observer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeCallback receives the batch of changed files after the debounce
// window closes.
type ChangeCallback func(changedFiles []string)

// CorpusWatcher monitors a corpus root for matching document changes.
// Rapid bursts (an rsync of the corpus, an editor's save dance) are folded
// into one callback per debounce window.
type CorpusWatcher struct {
	watcher  *fsnotify.Watcher
	root     string
	pattern  string
	callback ChangeCallback
	debounce time.Duration

	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	cancel context.CancelFunc
}

// NewCorpusWatcher creates a watcher over root for files matching pattern.
func NewCorpusWatcher(root, pattern string, callback ChangeCallback) (*CorpusWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	cw := &CorpusWatcher{
		watcher:  watcher,
		root:     root,
		pattern:  pattern,
		callback: callback,
		debounce: 500 * time.Millisecond,
		pending:  make(map[string]struct{}),
	}

	// fsnotify watches are per-directory, so pick up the whole tree.
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return cw.watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return nil, err
	}
	return cw, nil
}

// Start begins delivering change callbacks until ctx is canceled or Stop is
// called.
func (cw *CorpusWatcher) Start(ctx context.Context) {
	ctx, cw.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-cw.watcher.Events:
				if !ok {
					return
				}
				cw.handleEvent(event)
			case _, ok := <-cw.watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Stop stops watching.
func (cw *CorpusWatcher) Stop() {
	if cw.cancel != nil {
		cw.cancel()
	}
	cw.watcher.Close()
}

func (cw *CorpusWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()

	// A new subdirectory must be watched too; its files matter later.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			cw.watcher.Add(event.Name)
			return
		}
	}

	if ok, err := filepath.Match(cw.pattern, filepath.Base(event.Name)); err != nil || !ok {
		return
	}
	if strings.HasSuffix(event.Name, ".tmp") {
		return
	}

	cw.pending[event.Name] = struct{}{}
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(cw.debounce, cw.flush)
}

func (cw *CorpusWatcher) flush() {
	cw.mu.Lock()
	pending := cw.pending
	cw.pending = make(map[string]struct{})
	cw.mu.Unlock()

	if cw.callback == nil || len(pending) == 0 {
		return
	}
	files := make([]string, 0, len(pending))
	for f := range pending {
		files = append(files, f)
	}
	cw.callback(files)
}

// SetDebounce overrides the debounce window, mainly for tests.
func (cw *CorpusWatcher) SetDebounce(d time.Duration) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.debounce = d
}
