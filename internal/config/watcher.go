package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events editors produce on save.
const reloadDebounce = 200 * time.Millisecond

// Watch reloads path whenever it changes and passes each valid result to
// onChange. Invalid files are logged and skipped; the previous
// configuration stays in force. Blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file so that editors
// which save by rename are followed.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logger.Warn("config: failed to close watcher", "error", err)
		}
	}()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Debug("config: watching for changes", "path", abs)

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			reload = timer.C

		case <-reload:
			reload = nil
			cfg, err := Load(abs)
			if err != nil {
				logger.Warn("config: reload rejected, keeping previous configuration", "error", err)
				continue
			}
			logger.Info("config: reloaded", "path", abs, "vehicles", len(cfg.Vehicles))
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config: watcher error", "error", err)
		}
	}
}
