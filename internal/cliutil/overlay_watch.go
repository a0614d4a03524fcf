package cliutil

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// overlayDebounce coalesces rapid writes to the overlay file (e.g. an editor
// save that truncates then rewrites) into a single reload signal.
const overlayDebounce = 300 * time.Millisecond

// OverlayWatcher watches a team's foreman.toml policy overlay for changes
// and signals on Changed whenever it is created, written, or removed. The
// overlay file need not exist when the watcher starts — LoadOverlay already
// treats a missing file as a zero-value overlay, so watching the containing
// directory catches the file appearing later.
type OverlayWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	Changed chan struct{}

	mu       sync.Mutex
	debounce *time.Timer
	done     chan struct{}
}

// WatchOverlay starts watching path's containing directory for changes to
// path. Returns an error only if the underlying fsnotify watcher cannot be
// created; callers should treat that as non-fatal and proceed without live
// reload.
func WatchOverlay(path string) (*OverlayWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}

	ow := &OverlayWatcher{
		path:    path,
		watcher: w,
		Changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go ow.run()
	return ow, nil
}

func (ow *OverlayWatcher) run() {
	for {
		select {
		case <-ow.done:
			return
		case event, ok := <-ow.watcher.Events:
			if !ok {
				return
			}
			if event.Name != ow.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				ow.mu.Lock()
				if ow.debounce != nil {
					ow.debounce.Stop()
				}
				ow.debounce = time.AfterFunc(overlayDebounce, ow.signal)
				ow.mu.Unlock()
			}
		case _, ok := <-ow.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (ow *OverlayWatcher) signal() {
	select {
	case ow.Changed <- struct{}{}:
	default:
	}
}

// changedOrNil returns ow's Changed channel, or nil if ow is nil. A nil
// channel blocks forever in a select, so callers that failed to set up a
// watcher simply never take that case.
func (ow *OverlayWatcher) changedOrNil() <-chan struct{} {
	if ow == nil {
		return nil
	}
	return ow.Changed
}

// Close stops the watcher goroutine and releases the underlying fsnotify
// watcher.
func (ow *OverlayWatcher) Close() {
	close(ow.done)
	ow.mu.Lock()
	if ow.debounce != nil {
		ow.debounce.Stop()
	}
	ow.mu.Unlock()
	ow.watcher.Close()
}
