package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDelay debounces bursts of file events into one reload.
const DefaultReloadDelay = 500 * time.Millisecond

// Watcher reloads a configuration file when it changes and hands every
// valid result to a callback. Invalid edits are logged and skipped.
type Watcher struct {
	path     string
	loader   *Loader
	onChange func(*Config)
	logger   zerolog.Logger
	delay    time.Duration
	watcher  *fsnotify.Watcher
}

// NewWatcher starts watching path. The directory is watched rather than the
// file so that editors replacing the file by rename are seen.
func NewWatcher(path string, loader *Loader, logger zerolog.Logger, onChange func(*Config)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		loader:   loader,
		onChange: onChange,
		logger:   logger.With().Str("component", "config-watcher").Logger(),
		delay:    DefaultReloadDelay,
		watcher:  fw,
	}, nil
}

// SetDelay changes the debounce delay. Call before Run.
func (w *Watcher) SetDelay(d time.Duration) {
	if d > 0 {
		w.delay = d
	}
}

// Run processes file events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	timer := time.NewTimer(w.delay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	w.logger.Info().Str("path", w.path).Msg("Watching configuration for changes")

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Configuration file changed")
			timer.Reset(w.delay)

		case <-timer.C:
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).Msg("Ignoring invalid configuration change")
		return
	}
	w.logger.Info().Str("path", w.path).Msg("Configuration reloaded")
	w.onChange(cfg)
}
