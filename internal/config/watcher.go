// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/parley/internal/logging"
)

// =============================================================================
// CONFIG WATCHER
// =============================================================================

// Watcher reloads the config file when it changes on disk and hands
// the result to a callback. Editors often write configs as a
// remove+rename pair, so events are debounced before reloading.
type Watcher struct {
	path     string
	onReload func(*Config)
	debounce time.Duration

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc

	mu      sync.Mutex
	pending bool
}

// NewWatcher creates a watcher for the given config path. onReload is
// called with every successfully reloaded config; invalid configs are
// logged and skipped, keeping the previous one in effect.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     path,
		onReload: onReload,
		debounce: 250 * time.Millisecond,
		watcher:  fsw,
	}, nil
}

// Watch starts watching. The parent directory is watched rather than
// the file itself so rename-based saves keep working.
func (w *Watcher) Watch() error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.processEvents(ctx)
	return nil
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	base := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.WithError(err).Warn("config watcher error")
		}
	}
}

// scheduleReload coalesces bursts of events into a single reload.
func (w *Watcher) scheduleReload(ctx context.Context) {
	w.mu.Lock()
	if w.pending {
		w.mu.Unlock()
		return
	}
	w.pending = true
	w.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.debounce):
		}

		w.mu.Lock()
		w.pending = false
		w.mu.Unlock()

		cfg, err := LoadFromPath(w.path)
		if err != nil {
			logging.WithError(err).Warn("config reload skipped, file invalid")
			return
		}
		logging.WithField("path", w.path).Info("config reloaded")
		w.onReload(cfg)
	}()
}
