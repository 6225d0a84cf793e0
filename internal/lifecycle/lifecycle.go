// Package lifecycle implements the lifecycle orchestrator (C8): the
// interfaces start after the components registered before them and
// stop before them, plus the periodic interface-reload maintenance
// loop of §4.8. It has no health-monitor step. It is built on
// go.uber.org/fx, promoted to
// a direct, exercised dependency, because fx.Lifecycle's OnStart/OnStop
// hook list already gives exactly the ordered-start/reverse-order-stop
// contract this component needs — no custom ordering code on top of it.
package lifecycle

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/corelog"
)

// Interface is the minimal handle C8 needs from a running protocol
// listener: a name, a config version it was started with (compared
// against the loader's current version to detect staleness), and a
// way to stop it.
type Interface interface {
	Name() string
	ConfigVersion() int
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ReloadSource supplies the current desired set of interfaces and their
// current config versions; ReloadSource abstracts over the config
// loader so this package does not import internal/loader directly.
type ReloadSource interface {
	// Desired returns the interface names that should be running, in
	// config-declared order (§4.8 step v: "in the order listed in config").
	Desired() []string
	// Build constructs a fresh Interface for name at its current config
	// version, called both for new interfaces and for restarts.
	Build(name string) (Interface, error)
	// Version reports name's current config generation, used to detect
	// a config change against a running Interface.ConfigVersion().
	Version(name string) int
}

// Orchestrator drives interface start/stop/reload and is itself started
// and stopped as one fx.Lifecycle hook, keeping the ordering guarantee
// (§4.8) entirely inside fx's own hook list rather than hand-rolled
// sequencing code.
type Orchestrator struct {
	log          *corelog.Logger
	source       ReloadSource
	reloadPeriod time.Duration

	running  map[string]Interface
	stopPoll chan struct{}
	pollDone chan struct{}
}

// New builds an Orchestrator that starts the interfaces source names
// and re-checks them every reloadPeriod. It starts no health monitor.
func New(log *corelog.Logger, source ReloadSource, reloadPeriod time.Duration) *Orchestrator {
	return &Orchestrator{
		log:          log,
		source:       source,
		reloadPeriod: reloadPeriod,
		running:      make(map[string]Interface),
		stopPoll:     make(chan struct{}),
		pollDone:     make(chan struct{}),
	}
}

// Register wires the Orchestrator's Start/Stop into fx's hook list at
// the point the caller calls it — callers register pools, telemetry,
// and the worker pool as their own, earlier, fx.Lifecycle hooks so
// fx's natural ordering (hooks run in registration order on start,
// reverse order on stop) reproduces §4.8's sequence without this
// package needing to know about the earlier components at all.
func (o *Orchestrator) Register(lc fx.Lifecycle) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return o.start(ctx) },
		OnStop:  func(ctx context.Context) error { return o.stop(ctx) },
	})
}

func (o *Orchestrator) start(ctx context.Context) error {
	if err := o.reload(ctx); err != nil {
		return err
	}
	go o.pollLoop()
	return nil
}

func (o *Orchestrator) stop(ctx context.Context) error {
	close(o.stopPoll)
	<-o.pollDone
	for name, iface := range o.running {
		if err := iface.Stop(ctx); err != nil {
			o.log.Wrn("interface %s: stop failed: %v", name, err)
		}
	}
	o.running = nil
	return nil
}

func (o *Orchestrator) pollLoop() {
	defer close(o.pollDone)
	ticker := time.NewTicker(o.reloadPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopPoll:
			return
		case <-ticker.C:
			// §4.8: "errors in maintenance are logged and never propagate."
			if err := o.reload(context.Background()); err != nil {
				o.log.Wrn("interface reload: %v", err)
			}
		}
	}
}

// reload implements §4.8's maintenance step: re-read the desired
// interface set, stop those missing, start those new, and restart any
// already-running interface whose config version has advanced.
func (o *Orchestrator) reload(ctx context.Context) error {
	desired := o.source.Desired()
	wanted := make(map[string]bool, len(desired))
	for _, name := range desired {
		wanted[name] = true
	}

	for name, iface := range o.running {
		if !wanted[name] {
			if err := iface.Stop(ctx); err != nil {
				o.log.Wrn("interface %s: stop failed: %v", name, err)
			}
			delete(o.running, name)
		}
	}

	for _, name := range desired {
		if iface, ok := o.running[name]; ok {
			if o.source.Version(name) == iface.ConfigVersion() {
				continue
			}
			if err := iface.Stop(ctx); err != nil {
				o.log.Wrn("interface %s: stop before restart failed: %v", name, err)
			}
			delete(o.running, name)
		}
		fresh, err := o.source.Build(name)
		if err != nil {
			o.log.Wrn("interface %s: build failed: %v", name, err)
			continue
		}
		if err := fresh.Start(ctx); err != nil {
			o.log.Wrn("interface %s: start failed: %v", name, err)
			continue
		}
		o.running[name] = fresh
	}
	return nil
}
