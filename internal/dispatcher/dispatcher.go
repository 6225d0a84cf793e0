// Package dispatcher implements the interface dispatcher (C5): the
// adapter between protocol listeners and the worker pool (C2). It owns
// request creation/accounting and end-of-request telemetry sampling,
// generalizing pythomnic3k's `pmnc.interfaces` request bookkeeping.
//
// Per §9's redesign note on global mutable singletons, the
// `_interfaces`/`_request_factory` module-level dictionaries of the
// original become fields of an explicit Dispatcher value instead of
// package state, so a process can run more than one cage in-process
// (as the lifecycle orchestrator's tests do).
package dispatcher

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/classify"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/telemetry"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/workerpool"
)

// Interface is the minimal handle a protocol listener registers so RPC
// peers can discover its advertised address via GetInterface (§4.5).
type Interface struct {
	Name    string
	Address string
}

// Dispatcher is the InterlockedFactory of §4.5: it counts live
// Requests, refuses new ones once shutting down, and waits up to one
// request_timeout for outstanding work to finish before the pool is
// forced down.
type Dispatcher struct {
	pool           *workerpool.Pool
	taps           *telemetry.Taps
	requestTimeout time.Duration

	mu         sync.Mutex
	interfaces map[string]*Interface

	live         atomic.Int64
	shuttingDown atomic.Bool
	drained      chan struct{}
}

// New builds a dispatcher fronting pool, sampling into taps (nil is
// valid — telemetry is optional), using requestTimeout as the default
// passed to corereq.Create when a listener supplies none.
func New(pool *workerpool.Pool, taps *telemetry.Taps, requestTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		pool:           pool,
		taps:           taps,
		requestTimeout: requestTimeout,
		interfaces:     make(map[string]*Interface),
		drained:        make(chan struct{}),
	}
}

// RegisterInterface advertises name/address for GetInterface lookups,
// called by C8 when it starts an interface.
func (d *Dispatcher) RegisterInterface(name, address string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interfaces[name] = &Interface{Name: name, Address: address}
}

// UnregisterInterface removes name, called by C8 when stopping it.
func (d *Dispatcher) UnregisterInterface(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.interfaces, name)
}

// GetInterface looks up a previously registered interface by name.
func (d *Dispatcher) GetInterface(name string) (*Interface, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	iface, ok := d.interfaces[name]
	return iface, ok
}

// BeginRequest creates a Request and counts it as live. It fails with a
// factory_shutdown error once the dispatcher has begun shutting down.
func (d *Dispatcher) BeginRequest(iface, protocol string, timeout time.Duration, parameters map[string]any, description string) (*corereq.Request, error) {
	if d.shuttingDown.Load() {
		return nil, classify.FactoryShutdown("begin_request")
	}
	if timeout <= 0 {
		timeout = d.requestTimeout
	}
	d.live.Add(1)
	return corereq.Create(iface, protocol, timeout, parameters, description), nil
}

// Enqueue schedules fn bound to req on the worker pool and samples the
// busy/queued gauges immediately after, matching §4.5's "enqueue" step.
func (d *Dispatcher) Enqueue(req *corereq.Request, fn workerpool.Func) (*workerpool.Handle, error) {
	h, err := d.pool.Enqueue(req, fn)
	if d.taps != nil {
		stats := d.pool.Stats()
		d.taps.SampleWorkerPool(stats.Busy.Load(), stats.Queued.Load(), 0)
	}
	return h, err
}

// EndRequest closes out req's accounting and records telemetry.
// success is a three-valued outcome per §4.5: true (normal completion),
// false (handler failure), nil (abandoned — no histogram entry, §7).
func (d *Dispatcher) EndRequest(req *corereq.Request, success *bool) {
	remaining := d.live.Add(-1)
	if d.taps != nil && success != nil {
		outcome := telemetry.OutcomeSuccess
		if !*success {
			outcome = telemetry.OutcomeFailure
		}
		d.taps.ObserveRequest(req.Interface, outcome, req.Elapsed().Seconds())
	}
	if d.shuttingDown.Load() && remaining == 0 {
		select {
		case <-d.drained:
		default:
			close(d.drained)
		}
	}
}

// Shutdown refuses further BeginRequest calls and waits up to one
// request_timeout for the live-request count to reach zero before
// returning, per §4.5. It does not itself stop the worker pool — the
// worker process's fx OnStop hook does that after Shutdown returns.
func (d *Dispatcher) Shutdown() {
	d.shuttingDown.Store(true)
	if d.live.Load() == 0 {
		return
	}
	select {
	case <-d.drained:
	case <-time.After(d.requestTimeout):
	}
}

// Live reports the current live-request count, for tests/telemetry.
func (d *Dispatcher) Live() int64 { return d.live.Load() }
