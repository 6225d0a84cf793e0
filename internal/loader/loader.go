package loader

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/classify"
)

// rawSource is the on-disk shape of one config_<name>.json file: a
// production dict and an optional self-test overlay, the JSON stand-in
// for the original's two-callable Python module (§4.6, §6).
type rawSource struct {
	Production map[string]any `json:"production"`
	SelfTest   map[string]any `json:"self_test"`
}

type entry struct {
	cfg     *Config
	version int
	modTime time.Time
	path    string
}

// Loader implements C6: it locates, caches, macro-expands, and
// hot-reloads config modules. Non-reloadable modules (anything owning
// process-global state — C2/C3 construction, shared.Registry) should
// simply call Get once at startup and never call it again; Loader does
// not distinguish reloadable/non-reloadable itself, matching §4.6's
// note that this is a property of the *caller*, not the loader.
type Loader struct {
	locator       *Locator
	macros        Macros
	cacheTimeout  time.Duration
	settleTimeout time.Duration

	mu      sync.RWMutex
	entries map[string]*entry

	watcher       *fsnotify.Watcher
	debounceMu    sync.Mutex
	debounceTimer map[string]*time.Timer
	pollStop      chan struct{}
	pollDone      chan struct{}
}

// New builds a Loader. macros is the merged config_config dict plus
// Environment.Builtins(), resolved once by the caller before any
// resource/interface config is loaded (config_config itself must not
// depend on other configs' macros, avoiding a cycle).
func New(locator *Locator, macros Macros, cacheTimeout, settleTimeout time.Duration) (*Loader, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	l := &Loader{
		locator:       locator,
		macros:        macros,
		cacheTimeout:  cacheTimeout,
		settleTimeout: settleTimeout,
		entries:       make(map[string]*entry),
		watcher:       w,
		debounceTimer: make(map[string]*time.Timer),
		pollStop:      make(chan struct{}),
		pollDone:      make(chan struct{}),
	}
	go l.watchLoop()
	if cacheTimeout > 0 {
		go l.pollLoop()
	}
	return l, nil
}

// LoadFlat reads a config JSON file's production dict verbatim, with
// no macro expansion, for the one caller that needs that: resolving
// config_config's own dict into the macro table every other config
// expands against (§4.6) — config_config cannot depend on the macro
// set it is itself building.
func LoadFlat(path string) (Macros, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, classify.Config(path, err)
	}
	var raw rawSource
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, classify.Config(path, err)
	}
	out := make(Macros, len(raw.Production))
	for k, v := range raw.Production {
		out[k] = v
	}
	return out, nil
}

// Get returns the cached Config for name, loading and watching it on
// first use.
func (l *Loader) Get(name string) (*Config, error) {
	l.mu.RLock()
	e, ok := l.entries[name]
	l.mu.RUnlock()
	if ok {
		return e.cfg, nil
	}
	return l.load(name)
}

// Version reports the reload generation for name, consulted by the
// lifecycle orchestrator (C8) to detect whether a running interface's
// config file has changed since it was started (§4.8).
func (l *Loader) Version(name string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if e, ok := l.entries[name]; ok {
		return e.version
	}
	return 0
}

func (l *Loader) load(name string) (*Config, error) {
	path, err := l.locator.Locate(name)
	if err != nil {
		return nil, classify.Config(name, err)
	}
	cfg, modTime, err := l.readAndExpand(path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	prev, existed := l.entries[name]
	version := 1
	if existed {
		version = prev.version + 1
	}
	l.entries[name] = &entry{cfg: cfg, version: version, modTime: modTime, path: path}
	l.mu.Unlock()

	if !existed {
		_ = l.watcher.Add(path)
	}
	return cfg, nil
}

func (l *Loader) readAndExpand(path string) (*Config, time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, classify.Config(path, err)
	}
	var raw rawSource
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, time.Time{}, classify.Config(path, err)
	}
	stat, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, classify.Config(path, err)
	}
	cfg, err := NewConfig(raw.Production, raw.SelfTest, l.macros)
	if err != nil {
		return nil, time.Time{}, err
	}
	return cfg, stat.ModTime(), nil
}

// nameForPath finds the registered module name owning path, used when
// an fsnotify/poll event only carries the path.
func (l *Loader) nameForPath(path string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for name, e := range l.entries {
		if e.path == path {
			return name, true
		}
	}
	return "", false
}

// watchLoop drains fsnotify events and debounces each changed path by
// settleTimeout before reloading it, guarding against reads of a
// half-written file via a per-path debounce-timer map (testable
// property 7).
func (l *Loader) watchLoop() {
	for {
		select {
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			l.scheduleReload(ev.Name)
		case _, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (l *Loader) scheduleReload(path string) {
	l.debounceMu.Lock()
	defer l.debounceMu.Unlock()
	if t, exists := l.debounceTimer[path]; exists {
		t.Stop()
	}
	l.debounceTimer[path] = time.AfterFunc(l.settleTimeout, func() {
		l.debounceMu.Lock()
		delete(l.debounceTimer, path)
		l.debounceMu.Unlock()
		l.reloadPath(path)
	})
}

func (l *Loader) reloadPath(path string) {
	name, ok := l.nameForPath(path)
	if !ok {
		return
	}
	cfg, modTime, err := l.readAndExpand(path)
	if err != nil {
		return // not logged; the previous entry stays in place
	}
	l.mu.Lock()
	prev := l.entries[name]
	l.entries[name] = &entry{cfg: cfg, version: prev.version + 1, modTime: modTime, path: path}
	l.mu.Unlock()
}

// pollLoop is the cache_timeout stat-based fallback for filesystems
// without inotify support, matching the original's polling lookup
// cache. It only re-stats; fsnotify remains the primary change signal.
func (l *Loader) pollLoop() {
	defer close(l.pollDone)
	ticker := time.NewTicker(l.cacheTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-l.pollStop:
			return
		case <-ticker.C:
			l.mu.RLock()
			paths := make(map[string]time.Time, len(l.entries))
			for _, e := range l.entries {
				paths[e.path] = e.modTime
			}
			l.mu.RUnlock()
			for path, known := range paths {
				stat, err := os.Stat(path)
				if err != nil {
					continue
				}
				if stat.ModTime().After(known) {
					l.scheduleReload(path)
				}
			}
		}
	}
}

// Close stops the watcher and the poll fallback.
func (l *Loader) Close() error {
	if l.cacheTimeout > 0 {
		close(l.pollStop)
		<-l.pollDone
	}
	return l.watcher.Close()
}
