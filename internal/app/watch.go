package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const DefaultDebounceDelay = 500 * time.Millisecond

// WatchFile calls onChange after path is written, created or replaced.
// Events are coalesced: onChange runs once per quiet period of delay. The
// parent directory is watched so that editors which rename over the file are
// still seen. WatchFile blocks until ctx is done.
func WatchFile(ctx context.Context, path string, delay time.Duration, onChange func()) error {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	timer := time.NewTimer(delay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(delay)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("path", target).Msg("File watcher error")
		case <-timer.C:
			log.Debug().Str("path", target).Msg("Watched file changed")
			onChange()
		}
	}
}
