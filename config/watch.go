package config

import (
	"context"

	"github.com/deepnoodle-ai/wireflow/slogger"
	"github.com/fsnotify/fsnotify"
)

// Watch re-reads the config file whenever it changes and invokes onChange
// with the freshly loaded configuration. Only runtime-adjustable settings
// (log level) should be acted on; structural settings need a restart.
// Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, logger slogger.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				logger.Warn("config reload failed", "path", path, "error", err)
				continue
			}
			logger.Info("config reloaded", "path", path)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}
