// Package respool implements the resource-pool manager (C3): per-name
// pools of pooled resources with idle timeout, max-age, an optional
// result cache, and a single periodic sweeper, generalizing
// pythomnic3k's pmnc.resource_pool.
package respool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/classify"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corelog"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
)

// Manager owns every named pool for the process lifetime (§3: "Pool ...
// created on first lookup by name, lives for process lifetime, drained
// on shutdown").
type Manager struct {
	log   *corelog.Logger
	mu    sync.RWMutex
	pools map[string]*Pool

	shuttingDown atomic.Bool
	sweepPeriod  time.Duration
	stopSweep    chan struct{}
	sweepDone    chan struct{}
}

// NewManager starts a manager whose background sweeper runs every
// sweepPeriod, logging through log as lifecycle.Orchestrator does.
func NewManager(log *corelog.Logger, sweepPeriod time.Duration) *Manager {
	m := &Manager{
		log:         log,
		pools:       make(map[string]*Pool),
		sweepPeriod: sweepPeriod,
		stopSweep:   make(chan struct{}),
		sweepDone:   make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Register creates the named pool from cfg if it does not already
// exist; a second call for the same name is a no-op (configuration is
// expected to be re-applied idempotently by the hot-reload path).
func (m *Manager) Register(name string, cfg Config) *Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[name]; ok {
		return p
	}
	p := newPool(name, cfg, m.log)
	m.pools[name] = p
	return p
}

// Pool returns the named pool, or nil if it was never registered.
func (m *Manager) Pool(name string) *Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pools[name]
}

// Checkout is a convenience wrapper around Pool(name).Checkout that
// also enforces step 1 of §4.3 (reject if shutting down) uniformly. A
// name that was never Registered surfaces a classified `config`
// failure instead of panicking on a nil pool (§3, §7).
func (m *Manager) Checkout(req *corereq.Request, name string) (*Instance, error) {
	p := m.Pool(name)
	if p == nil {
		return nil, classify.Config(name, fmt.Errorf("no pool registered for resource %q", name))
	}
	return p.Checkout(req, m.shuttingDown.Load)
}

// Return returns inst to its owning pool.
func (m *Manager) Return(inst *Instance, terminal bool) {
	m.mu.RLock()
	p := m.pools[inst.Name]
	m.mu.RUnlock()
	if p != nil {
		p.Return(inst, terminal)
	}
}

func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)
	if m.sweepPeriod <= 0 {
		return
	}
	ticker := time.NewTicker(m.sweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopSweep:
			return
		case now := <-ticker.C:
			if m.shuttingDown.Load() {
				return
			}
			m.mu.RLock()
			pools := make([]*Pool, 0, len(m.pools))
			for _, p := range m.pools {
				pools = append(pools, p)
			}
			m.mu.RUnlock()
			for _, p := range pools {
				p.sweep(now)
			}
		}
	}
}

// Shutdown stops accepting new checkouts, stops the sweeper, and drains
// every idle instance. In-flight checked-out instances are left for
// their owning transaction to return; callers should quiesce
// transactions before calling Shutdown.
func (m *Manager) Shutdown() {
	m.shuttingDown.Store(true)
	close(m.stopSweep)
	<-m.sweepDone

	m.mu.RLock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()
	for _, p := range pools {
		p.drain()
	}
}
