package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ambiyansyah-risyal/marquee"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// RewatchDelay is how long the watcher waits for a removed or renamed file
// to reappear before watching it again.
const RewatchDelay = 100 * time.Millisecond

// Watcher reloads a configuration file when it changes and hands each valid
// reload to the registered callbacks. Invalid files are logged and ignored;
// the last good configuration stays current.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   marquee.Logger
	watcher  *fsnotify.Watcher

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
	timer     *time.Timer
	rewatch   *time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher loads path and starts watching it. debounce <= 0 selects
// DefaultDebounce.
func NewWatcher(path string, debounce time.Duration, logger marquee.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = marquee.NopLogger()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}

	w := &Watcher{
		path:     path,
		debounce: debounce,
		logger:   logger,
		watcher:  fw,
		config:   cfg,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// OnReload registers a callback run after every successful reload.
func (w *Watcher) OnReload(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.schedule()
			}
			// Editors that save by rename drop the watch; re-add once the
			// file is back.
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.scheduleRewatch()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watch error", "error", err.Error())
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) scheduleRewatch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rewatch != nil {
		w.rewatch.Stop()
	}
	w.rewatch = time.AfterFunc(RewatchDelay, w.readd)
}

func (w *Watcher) readd() {
	select {
	case <-w.done:
		return
	default:
	}

	if _, err := os.Stat(w.path); err != nil {
		w.logger.Warn("Config file gone, not re-watching", "path", w.path, "error", err.Error())
		return
	}
	if err := w.watcher.Add(w.path); err != nil {
		w.logger.Error("Failed to re-watch config file", "path", w.path, "error", err.Error())
		return
	}
	w.logger.Info("Re-watching config file", "path", w.path)
	w.schedule()
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("Config reload failed, keeping previous config", "path", w.path, "error", err.Error())
		return
	}

	w.mu.Lock()
	old := w.config
	w.config = cfg
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logChanges(old, cfg)
	for _, callback := range callbacks {
		callback(cfg)
	}
}

func (w *Watcher) logChanges(old, cfg *Config) {
	if old.API.BaseURL != cfg.API.BaseURL {
		w.logger.Warn("Base URL changed; restart to apply", "old", old.API.BaseURL, "new", cfg.API.BaseURL)
	}
	if old.Retry.MaxCalls != cfg.Retry.MaxCalls {
		w.logger.Info("Max calls changed", "old", old.Retry.MaxCalls, "new", cfg.Retry.MaxCalls)
	}
	if len(old.Retry.Rules) != len(cfg.Retry.Rules) {
		w.logger.Info("Retry rules changed", "old", len(old.Retry.Rules), "new", len(cfg.Retry.Rules))
	}
	w.logger.Info("Config reloaded", "path", w.path)
}

// Close stops watching. Pending reloads are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	if w.rewatch != nil {
		w.rewatch.Stop()
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

// WatchPolicy keeps p's retry policy in sync with the watched file.
func WatchPolicy(w *Watcher, p *marquee.Pipeline, logger marquee.Logger) {
	if logger == nil {
		logger = marquee.NopLogger()
	}
	w.OnReload(func(cfg *Config) {
		policy, err := cfg.Retry.Policy()
		if err == nil {
			err = p.UpdatePolicy(policy)
		}
		if err != nil {
			logger.Error("Retry policy not applied", "error", err.Error())
		}
	})
}
