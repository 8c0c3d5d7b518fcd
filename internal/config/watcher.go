package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Dynamic is the part of the configuration applied without a restart.
type Dynamic struct {
	LogLevel  string
	StaleTime time.Duration
}

// DynamicOf extracts the hot reloadable settings of cfg.
func DynamicOf(cfg *Config) Dynamic {
	return Dynamic{LogLevel: cfg.Logging.Level, StaleTime: cfg.Cache.StaleTime}
}

// Watcher reloads the configuration when a file in the loader's directory
// changes and hands the dynamic settings to the registered callbacks. Only
// development environments watch; elsewhere the watcher is inert.
type Watcher struct {
	loader   *Loader
	logger   *zap.Logger
	debounce time.Duration

	mu        sync.RWMutex
	current   *Config
	callbacks []func(Dynamic)

	fs     *fsnotify.Watcher
	stopCh chan struct{}
	done   chan struct{}
}

// NewWatcher starts watching when initial is a development configuration.
func NewWatcher(loader *Loader, initial *Config, logger *zap.Logger) (*Watcher, error) {
	return newWatcher(loader, initial, logger, 500*time.Millisecond)
}

func newWatcher(loader *Loader, initial *Config, logger *zap.Logger, debounce time.Duration) (*Watcher, error) {
	w := &Watcher{
		loader:   loader,
		logger:   logger.Named("config"),
		debounce: debounce,
		current:  initial,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	if !initial.IsDevelopment() {
		close(w.done)
		w.logger.Info("configuration hot reloading disabled",
			zap.String("environment", string(initial.Environment)))
		return w, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(loader.Dir()); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config dir %s: %w", loader.Dir(), err)
	}
	w.fs = fsw
	go w.watchLoop()

	w.logger.Info("configuration hot reloading enabled", zap.String("dir", loader.Dir()))
	return w, nil
}

// OnChange registers fn to receive the dynamic settings after each reload
// that changed them.
func (w *Watcher) OnChange(fn func(Dynamic)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Config returns the latest valid configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Stop ends watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.done
}

func (w *Watcher) watchLoop() {
	defer close(w.done)
	defer w.fs.Close()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !isConfigFile(event.Name) {
				continue
			}
			w.logger.Debug("configuration file changed",
				zap.String("file", event.Name),
				zap.String("operation", event.Op.String()))
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", zap.Error(err))

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	next, err := w.loader.Load()
	if err != nil {
		w.logger.Error("invalid configuration after reload, keeping previous", zap.Error(err))
		return
	}

	w.mu.Lock()
	prev := DynamicOf(w.current)
	w.current = next
	callbacks := append([]func(Dynamic){}, w.callbacks...)
	w.mu.Unlock()

	dyn := DynamicOf(next)
	if dyn == prev {
		w.logger.Debug("dynamic configuration unchanged after reload")
		return
	}
	w.logger.Info("configuration reloaded",
		zap.String("logLevel", dyn.LogLevel),
		zap.Duration("staleTime", dyn.StaleTime))

	for i, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("configuration callback panicked",
						zap.Int("callback", i), zap.Any("panic", r))
				}
			}()
			cb(dyn)
		}()
	}
}

func isConfigFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}
