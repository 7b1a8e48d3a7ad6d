package supervisor

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/qscaler/internal/errors"
	"github.com/Iron-Ham/qscaler/internal/logging"
)

const defaultDebounce = 100 * time.Millisecond

// ExpectedFunc returns the count the control loop last persisted. ok is
// false until the loop has read or written a count.
type ExpectedFunc func() (count int, ok bool)

// DriftFunc is called when the file on disk holds a count other than the
// expected one.
type DriftFunc func(persisted, expected int)

// WatcherOption configures a DriftWatcher.
type WatcherOption func(*DriftWatcher)

// WithDebounce sets how long the watcher waits for writes to settle.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *DriftWatcher) { w.debounce = d }
}

// WithDriftCallback registers a callback for detected drift.
func WithDriftCallback(fn DriftFunc) WatcherOption {
	return func(w *DriftWatcher) { w.onDrift = fn }
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *logging.Logger) WatcherOption {
	return func(w *DriftWatcher) { w.logger = l }
}

// DriftWatcher notices edits to the program configuration made behind the
// loop's back. It only reads the file and reports; the next tick decides
// what to do.
type DriftWatcher struct {
	file     *ConfigFile
	expected ExpectedFunc
	onDrift  DriftFunc
	logger   *logging.Logger
	debounce time.Duration

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDriftWatcher creates a watcher for file. The file must be on the OS
// filesystem.
func NewDriftWatcher(file *ConfigFile, expected ExpectedFunc, opts ...WatcherOption) (*DriftWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewStoreError("watch", file.Path(), err)
	}

	w := &DriftWatcher{
		file:     file,
		expected: expected,
		logger:   logging.NopLogger(),
		debounce: defaultDebounce,
		watcher:  fw,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.WithComponent("drift-watcher")
	return w, nil
}

// Start watches the file's directory, so atomic replacements by rename are
// seen as well as in-place writes. It returns once the watch is registered.
func (w *DriftWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.file.Path())
	if err := w.watcher.Add(dir); err != nil {
		return errors.NewStoreError("watch", dir, err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.watchLoop(ctx)
	}()
	return nil
}

// Stop ends the watch and waits for the event loop to exit.
func (w *DriftWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *DriftWatcher) watchLoop(ctx context.Context) {
	target := filepath.Clean(w.file.Path())

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			w.check(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watch error", "error", err)
		}
	}
}

// check re-reads the file and reports drift from the expected count.
func (w *DriftWatcher) check(ctx context.Context) {
	expected, ok := w.expected()
	if !ok {
		return
	}

	persisted, err := w.file.ReadCount(ctx)
	if err != nil {
		w.logger.Warn("re-reading changed config failed", "path", w.file.Path(), "error", err)
		return
	}
	if persisted == expected {
		return
	}

	w.logger.Warn("worker count changed outside qscaler",
		"path", w.file.Path(),
		"persisted", persisted,
		"expected", expected,
	)
	if w.onDrift != nil {
		w.onDrift(persisted, expected)
	}
}
