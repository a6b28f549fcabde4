// Package stopfile turns the appearance of a file into a stop request, for
// operators who cannot signal the process directly.
package stopfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls onStop once when path exists, then returns. A file already
// present at start counts. The file is removed once acted on so the next run
// is not stopped by it. Watch returns nil when ctx is done first.
func Watch(ctx context.Context, path string, logger *slog.Logger, onStop func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("stopfile: resolve %s: %w", path, err)
	}
	dir := filepath.Dir(abs)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("stopfile: watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("stopfile: watch %s: %w", dir, err)
	}

	trigger := func(reason string) {
		logger.Info("stop file detected, stopping import", slog.String("path", abs), slog.String("trigger", reason))
		if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("stop file removal failed", slog.String("path", abs), slog.String("error", err.Error()))
		}
		onStop()
	}

	// Checked after Add so a file created in between is not missed.
	if _, err := os.Stat(abs); err == nil {
		trigger("present at start")
		return nil
	}

	logger.Debug("stopfile: watching", slog.String("path", abs))
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
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if _, err := os.Stat(abs); err != nil {
				continue
			}
			trigger("created")
			return nil

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("stopfile: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}
