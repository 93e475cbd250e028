package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config whenever its file changes on disk and swaps the
// channel table in place. The Agent edits the config file directly (it has
// filesystem tools and CONFIG_PATH in its system prompt), so this is the
// path by which "reconfigure yourself" requests take effect.
//
// Editors and the Agent alike write via rename, so the watcher observes the
// parent directory rather than the file inode. Events are debounced because
// a single save produces several of them.
func (c *Config) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.path)
	base := filepath.Base(c.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		reload := func() {
			fresh, err := Load(c.path)
			if err != nil {
				slog.Warn("config reload failed, keeping previous config", "error", err)
				return
			}
			c.ReplaceFrom(fresh)
			slog.Info("config reloaded", "channels", len(fresh.Channels))
		}

		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(250*time.Millisecond, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			}
		}
	}()

	return nil
}
