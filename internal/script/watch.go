package script

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before a rerun.
const DefaultDebounce = 200 * time.Millisecond

// RunFunc runs the watched script once.
type RunFunc func(ctx context.Context) error

type watchConfig struct {
	debounce time.Duration
	logger   Logger
}

// WatchOption configures Watch.
type WatchOption func(*watchConfig)

// WithDebounce sets the quiet period before a rerun.
func WithDebounce(d time.Duration) WatchOption {
	return func(c *watchConfig) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithWatchLogger sets the logger used for run failures.
func WithWatchLogger(l Logger) WatchOption {
	return func(c *watchConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Watch runs run once, then again every time the file at path is written
// or replaced, until ctx is done. Run failures are logged and do not stop
// the watch.
//
// The parent directory is watched rather than the file so that editors
// which save by rename keep triggering reruns.
func Watch(ctx context.Context, path string, run RunFunc, opts ...WatchOption) error {
	cfg := watchConfig{debounce: DefaultDebounce, logger: nopLogger{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	runOnce := func() {
		if err := run(ctx); err != nil && ctx.Err() == nil {
			cfg.logger.Warn("script %s: %v", abs, err)
		}
	}
	runOnce()

	timer := time.NewTimer(cfg.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			cfg.logger.Debug("script %s changed (%s)", abs, ev.Op)
			timer.Reset(cfg.debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				cfg.logger.Warn("watch %s: %v", abs, err)
				timer.Reset(cfg.debounce)
				continue
			}
			return err

		case <-timer.C:
			runOnce()
		}
	}
}
