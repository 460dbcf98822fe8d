// Copyright 2025 Certen Protocol
//
// Hot-reload configuration watcher, grounded directly on
// crates/config/src/watcher.rs: watch a RouterConfig file and swap in a
// freshly parsed config on every modify event, keeping the old config if
// the new one fails to parse or validate.

package config

import (
	"fmt"
	"log"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher holds the current RouterConfig and reloads it whenever the
// watched file is modified.
type Watcher struct {
	mu     sync.RWMutex
	config *RouterConfig
	path   string
	logger *log.Logger

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
}

// NewWatcher loads the initial configuration from path and returns a
// Watcher that has not yet started watching; call Start to begin.
func NewWatcher(path string, logger *log.Logger) (*Watcher, error) {
	cfg, err := LoadRouterConfig(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{config: cfg, path: path, logger: logger}, nil
}

// Config returns a copy of the currently loaded configuration.
func (w *Watcher) Config() RouterConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return *w.config
}

// Start begins watching the config file for modifications. The returned
// stop function shuts the watcher down; Start must not be called twice.
func (w *Watcher) Start() (stop func(), err error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create file watcher: %w", err)
	}
	if err := fsWatcher.Add(w.path); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", w.path, err)
	}

	w.fsWatcher = fsWatcher
	w.done = make(chan struct{})
	go w.loop()

	w.logger.Printf("config: watching %s for changes", w.path)
	return w.stop, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("config: watch error: %v", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadRouterConfig(w.path)
	if err != nil {
		w.logger.Printf("config: failed to reload %s: %v (keeping old config)", w.path, err)
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Printf("config: reloaded config failed validation: %v (keeping old config)", err)
		return
	}
	w.mu.Lock()
	w.config = cfg
	w.mu.Unlock()
	w.logger.Printf("config: reloaded %s successfully", w.path)
}

func (w *Watcher) stop() {
	close(w.done)
	w.fsWatcher.Close()
}
