package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Change describes one successful hot-reload: the configs before and
// after, plus which top-level sections materially differ. Callbacks use
// Sections to react selectively (the daemon re-applies the log level
// only when "server" changed, warns about "cache" changes needing a
// restart) instead of re-applying everything on every editor save.
type Change struct {
	Old      *Config
	New      *Config
	Sections []string
}

// Changed reports whether section is among the sections this reload
// touched.
func (c Change) Changed(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// OnReload is called after a hot-reload that changed at least one
// section. Rewrites of the file that decode to an identical Config do
// not fire callbacks.
type OnReload func(Change)

// Watcher monitors the config file for changes and reloads automatically.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	filePath  string
	callbacks []OnReload
	mu        sync.Mutex
	done      chan struct{}
}

// Watch starts watching the given config file for changes. When the file
// is modified, the config is re-loaded, validated, and stored in the
// global atomic pointer; registered callbacks are then invoked with a
// Change describing which sections differ.
func Watch(filePath string) (*Watcher, error) {
	if filePath == "" {
		return nil, fmt.Errorf("config watcher: file path must not be empty")
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("config watcher: resolving path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: creating fsnotify watcher: %w", err)
	}

	// Watch the directory containing the config file rather than the file
	// itself. Many editors perform atomic saves (write tmp + rename) which
	// causes the inode to change; watching the directory catches renames.
	dir := filepath.Dir(absPath)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config watcher: watching directory %s: %w", dir, err)
	}

	w := &Watcher{
		fsWatcher: fsw,
		filePath:  absPath,
		done:      make(chan struct{}),
	}

	go w.loop()

	return w, nil
}

// OnChange registers a callback that will be invoked after each
// effective config reload. It is safe to call from multiple goroutines.
func (w *Watcher) OnChange(fn OnReload) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsWatcher.Close()
}

// loop is the main event loop that processes fsnotify events.
func (w *Watcher) loop() {
	// Debounce: editors may fire multiple events in rapid succession for a
	// single save operation. Wait a short interval after the last event
	// before performing the reload.
	const debounce = 100 * time.Millisecond
	var timer *time.Timer

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.filePath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, w.reload)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config watcher: fsnotify error")
		}
	}
}

// reload re-loads the file, diffs it against the running config, and
// notifies callbacks of any sections that changed.
func (w *Watcher) reload() {
	old := Get()

	newCfg, err := Load(w.filePath)
	if err != nil {
		log.Warn().Err(err).Str("file", w.filePath).
			Msg("config watcher: reload failed, keeping previous config")
		return
	}

	sections := diffSections(old, newCfg)
	if len(sections) == 0 {
		log.Debug().Str("file", w.filePath).
			Msg("config watcher: file rewritten with no effective changes")
		return
	}

	log.Info().Strs("sections", sections).Str("file", w.filePath).
		Msg("config watcher: config reloaded")

	w.mu.Lock()
	cbs := make([]OnReload, len(w.callbacks))
	copy(cbs, w.callbacks)
	w.mu.Unlock()

	ch := Change{Old: old, New: newCfg, Sections: sections}
	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("config watcher: callback panicked")
				}
			}()
			cb(ch)
		}()
	}
}

// diffSections returns the names of the top-level config sections whose
// values differ between old and new, in declaration order.
func diffSections(old, new *Config) []string {
	var out []string
	add := func(name string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			out = append(out, name)
		}
	}
	add("server", old.Server, new.Server)
	add("auth", old.Auth, new.Auth)
	add("model", old.Model, new.Model)
	add("generation", old.Generation, new.Generation)
	add("cache", old.Cache, new.Cache)
	add("rate_limit", old.RateLimit, new.RateLimit)
	add("tracing", old.Tracing, new.Tracing)
	add("metrics", old.Metrics, new.Metrics)
	return out
}
