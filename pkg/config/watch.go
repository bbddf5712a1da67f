package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceInterval collapses bursts of writes (editors often truncate, write
// and rename) into a single change notification.
const DebounceInterval = 200 * time.Millisecond

// Watch calls onChange after filename is written, created or replaced, until
// ctx is cancelled. The parent directory is watched so that atomic renames
// over the file are seen.
func Watch(ctx context.Context, filename string, logger *slog.Logger, onChange func()) error {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(filename)
	if err != nil {
		return fmt.Errorf("config: watch %s: %w", filename, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch %s: %w", filename, err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filename, err)
	}
	logger.Info("config watcher: started", slog.String("path", abs))

	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			logger.Info("config watcher: stopped")
			return nil

		case <-fire:
			fire = nil
			logger.Info("config watcher: file changed", slog.String("path", abs))
			onChange()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(DebounceInterval)
			} else {
				debounce.Reset(DebounceInterval)
			}
			fire = debounce.C

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
