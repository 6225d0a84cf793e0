// Package fileiface implements the file-drop inbound Interface of §6
// (config_interface_file_1): files dropped into a watched directory
// become work-units, using an fsnotify.Watcher plus a per-path
// debounce-timer map for the settle_timeout semantics §4.6 requires of
// a "file has stopped changing" signal before the interface processes
// it.
package fileiface

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/dispatcher"
)

// Handler processes one settled file drop.
type Handler func(req *corereq.Request, path string) error

// Config carries the protocol-specific fields of config_interface_file_1.
type Config struct {
	Name          string
	Directory     string
	SettleTimeout time.Duration
	Timeout       time.Duration
	ConfigVersion int
}

// Interface watches Directory and, once a file has sat unchanged for
// SettleTimeout, enqueues Handler as a work-unit.
type Interface struct {
	cfg     Config
	disp    *dispatcher.Dispatcher
	handler Handler
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func New(cfg Config, disp *dispatcher.Dispatcher, handler Handler) *Interface {
	return &Interface{cfg: cfg, disp: disp, handler: handler, timers: make(map[string]*time.Timer)}
}

func (i *Interface) Name() string       { return i.cfg.Name }
func (i *Interface) ConfigVersion() int { return i.cfg.ConfigVersion }

func (i *Interface) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(i.cfg.Directory); err != nil {
		watcher.Close()
		return err
	}
	i.watcher = watcher
	i.stopCh = make(chan struct{})
	i.doneCh = make(chan struct{})
	i.disp.RegisterInterface(i.cfg.Name, i.cfg.Directory)
	go i.eventLoop()
	return nil
}

func (i *Interface) eventLoop() {
	defer close(i.doneCh)
	for {
		select {
		case <-i.stopCh:
			return
		case ev, ok := <-i.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				i.armSettleTimer(ev.Name)
			}
		case <-i.watcher.Errors:
			// watcher errors are drained and discarded; nothing logs them.
		}
	}
}

// armSettleTimer restarts path's debounce timer so repeated writes
// within SettleTimeout collapse into a single processed drop — the
// "settle_timeout window must elapse with no further change" rule of
// §4.6, reused verbatim from FileWatcher's own debounceTimer map.
func (i *Interface) armSettleTimer(path string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if t, ok := i.timers[path]; ok {
		t.Stop()
	}
	i.timers[path] = time.AfterFunc(i.cfg.SettleTimeout, func() { i.process(path) })
}

func (i *Interface) process(path string) {
	req, err := i.disp.BeginRequest(i.cfg.Name, "file", i.cfg.Timeout, map[string]any{"path": path}, "file drop "+path)
	if err != nil {
		return
	}
	handle, err := i.disp.Enqueue(req, func(req *corereq.Request) (any, error) {
		return nil, i.handler(req, path)
	})
	if err != nil {
		i.disp.EndRequest(req, boolPtr(false))
		return
	}
	_, err = handle.Wait(req.Remain())
	i.disp.EndRequest(req, boolPtr(err == nil))
}

func boolPtr(b bool) *bool { return &b }

func (i *Interface) Stop(ctx context.Context) error {
	i.disp.UnregisterInterface(i.cfg.Name)
	close(i.stopCh)
	<-i.doneCh
	i.mu.Lock()
	for _, t := range i.timers {
		t.Stop()
	}
	i.mu.Unlock()
	return i.watcher.Close()
}
