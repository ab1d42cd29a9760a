package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PolicyWatcher monitors the policy document and invokes the supplied
// callback with a freshly loaded Settings snapshot whenever it changes.
// Stop must be called to release filesystem resources.
type PolicyWatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *PolicyWatcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// WatchPolicy wires fsnotify around the loader's policy file and reloads the
// settings snapshot on any relevant change. Editors that replace files via
// rename are handled by watching the parent directory.
func (l *Loader) WatchPolicy(ctx context.Context, onChange func(Settings), onError func(error)) (*PolicyWatcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("config: watch policy requires a change callback")
	}
	target := ""
	for _, f := range l.files {
		if f != "" {
			target = f
		}
	}
	if target == "" {
		return nil, fmt.Errorf("config: no policy file configured for watching")
	}
	if abs, err := filepath.Abs(target); err == nil {
		target = abs
	}
	target = filepath.Clean(target)

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("config: watch policy: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		cancel()
		return nil, fmt.Errorf("config: watch add %s: %w", filepath.Dir(target), err)
	}

	done := make(chan struct{})
	pw := &PolicyWatcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("config: watch policy close: %w", err))
			}
		}()

		reload := func() {
			cfg, err := l.Load(watchCtx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				if onError != nil {
					onError(err)
				}
				return
			}
			onChange(cfg)
		}

		const debounce = 25 * time.Millisecond
		var timer *time.Timer
		var pending <-chan time.Time
		schedule := func() {
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
			pending = timer.C
		}

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-pending:
				pending = nil
				reload()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) != 0 {
					schedule()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("config: watch error: %w", err))
				}
			}
		}
	}()

	return pw, nil
}
