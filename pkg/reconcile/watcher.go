package reconcile

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// RefWatcher watches the repository's notes refs for writes by other
// processes and marks the index dirty when they change. Staleness is always
// resolvable by re-running sync; the watcher just notices it sooner.
type RefWatcher struct {
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	debounce time.Duration

	mu    sync.Mutex
	dirty bool
	timer *time.Timer

	stopCh chan struct{}
}

// NewRefWatcher watches refs/notes under the repository's git directory.
// The directory may not exist until the first capture; it is created and
// watched eagerly.
func NewRefWatcher(repoPath string, logger zerolog.Logger) (*RefWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &RefWatcher{
		watcher:  watcher,
		logger:   logger,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}

	notesDir := filepath.Join(repoPath, ".git", "refs", "notes")
	if err := os.MkdirAll(notesDir, 0o755); err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(notesDir); err != nil {
		watcher.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

// Dirty reports whether the notes refs changed since the last ClearDirty.
func (w *RefWatcher) Dirty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirty
}

// ClearDirty resets the flag, typically after a sync run.
func (w *RefWatcher) ClearDirty() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dirty = false
}

// Stop shuts the watcher down.
func (w *RefWatcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *RefWatcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				w.logger.Debug().
					Str("ref", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Notes ref changed")
				w.scheduleMarkDirty()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Ref watcher error")

		case <-w.stopCh:
			return
		}
	}
}

// scheduleMarkDirty debounces bursts of ref updates into one dirty flip.
func (w *RefWatcher) scheduleMarkDirty() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.dirty = true
		w.mu.Unlock()
	})
}
