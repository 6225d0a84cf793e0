package respool

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/classify"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corelog"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/respool/cache"
)

// Config configures one named pool, mirroring the pool__* meta-fields
// read out of config_resource_<name> in §4.3.
type Config struct {
	Size           int
	StandbyTimeout time.Duration
	IdleTimeout    time.Duration
	MaxAge         time.Duration
	Constructor    Constructor
	Cache          *cache.Config // nil means no result cache for this pool
}

// Pool is a bounded multiset of idle + checked-out Resource instances
// for one name (§3). Checkout/Return implement the algorithm of §4.3.
type Pool struct {
	name   string
	cfg    Config
	cache  *cache.Cache
	log    *corelog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	idle   []*Instance
	inUse  int
}

func newPool(name string, cfg Config, log *corelog.Logger) *Pool {
	p := &Pool{name: name, cfg: cfg, log: log}
	p.cond = sync.NewCond(&p.mu)
	if cfg.Cache != nil {
		p.cache = cache.New(*cfg.Cache)
	}
	return p
}

// Cache exposes the pool's optional result cache to the transaction
// coordinator (C4), which is the only caller that consults it.
func (p *Pool) Cache() *cache.Cache { return p.cache }

// Size reports configured hard cap, for telemetry/tests.
func (p *Pool) Size() int { return p.cfg.Size }

// Stats returns the current idle/in-use counts under the pool's lock.
func (p *Pool) Stats() (idle, inUse int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle), p.inUse
}

// Checkout implements §4.3's algorithm: reuse an idle, live instance;
// else construct a new one if there is room; else wait on the pool's
// condition up to min(request.Remain(), standby_timeout). shuttingDown
// is consulted first, per step 1.
func (p *Pool) Checkout(req *corereq.Request, shuttingDown func() bool) (*Instance, error) {
	if shuttingDown() {
		return nil, classify.FactoryShutdown("checkout " + p.name)
	}

	for {
		remain := req.Remain()
		if remain <= 0 {
			return nil, classify.Deadline("resource checkout ("+p.name+")", false)
		}

		p.mu.Lock()
		if len(p.idle) > 0 {
			inst := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			p.mu.Unlock()

			if inst.Expired() || !p.pingAlive(req, inst) {
				p.discard(inst)
				continue
			}
			p.mu.Lock()
			p.inUse++
			p.mu.Unlock()
			return inst, nil
		}

		if p.inUse+len(p.idle) < p.cfg.Size {
			// Reserve the slot before releasing the lock: two concurrent
			// checkouts racing on an empty pool must not both observe
			// room and both construct (violates in_use+idle <= size).
			p.inUse++
			p.mu.Unlock()
			inst, err := p.construct(req)
			if err != nil {
				p.mu.Lock()
				p.inUse--
				p.mu.Unlock()
				p.cond.Broadcast()
				return nil, err
			}
			return inst, nil
		}

		wait := p.cfg.StandbyTimeout
		if wait <= 0 || remain < wait {
			wait = remain
		}
		// sync.Cond has no native deadline: a watchdog timer broadcasts
		// after `wait` so this goroutine's Wait() always returns, then
		// the loop re-checks the deadline/availability itself.
		timer := time.AfterFunc(wait, p.cond.Broadcast)
		p.cond.Wait()
		timer.Stop()
		p.mu.Unlock()
	}
}

// pingAlive performs the lightweight liveness hook of §4.3 step 2a by
// calling the resource's Ping. Resources that don't implement LivenessChecker are
// assumed alive until proven otherwise by a real execute failure.
func (p *Pool) pingAlive(req *corereq.Request, inst *Instance) bool {
	if lc, ok := inst.Resource.(LivenessChecker); ok {
		return lc.Ping(req) == nil
	}
	return true
}

// construct builds, connects, and registers a new instance, retrying
// the connect step with a bounded exponential backoff (per §11's domain
// stack: cenkalti/backoff) while the request still has time to spare.
func (p *Pool) construct(req *corereq.Request) (*Instance, error) {
	r := p.cfg.Constructor()
	inst := newInstance(p.name, r, p.cfg.MaxAge)
	inst.resetIdleClock(p.cfg.IdleTimeout)

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	var lastErr error
	for {
		if req.Expired() {
			return nil, classify.Deadline("resource connect ("+p.name+")", false)
		}
		lastErr = r.Connect(req)
		if lastErr == nil {
			return inst, nil
		}
		next := b.NextBackOff()
		if next == backoff.Stop {
			break
		}
		if d := req.Remain(); d < next {
			break
		}
		time.Sleep(next)
	}
	return nil, classify.ResourceError("", "", "connect failed", true, true, lastErr)
}

// discard disconnects an instance outside the pool lock (best effort,
// logged) without returning it to idle or decrementing in-use, because
// it was popped off idle and never counted against in-use.
func (p *Pool) discard(inst *Instance) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.Wrn("respool: panic disconnecting %s: %v", inst.InstanceID(), r)
			}
		}()
		inst.Resource.Disconnect()
	}()
}

// Return implements the §4.3 return algorithm: terminal, expired, or
// past-max-age instances are disconnected and dropped; otherwise the
// instance's idle clock restarts and it goes back into the idle bag.
func (p *Pool) Return(inst *Instance, terminal bool) {
	if terminal || inst.Expired() {
		p.discard(inst)
		p.mu.Lock()
		p.inUse--
		p.mu.Unlock()
		p.cond.Broadcast()
		return
	}

	inst.resetIdleClock(p.cfg.IdleTimeout)
	p.mu.Lock()
	p.inUse--
	p.idle = append(p.idle, inst)
	p.mu.Unlock()
	p.cond.Broadcast()
}

// sweep disconnects idle instances past their idle timeout or max age,
// and runs one bounded cache-eviction pass. Invoked by the Manager's
// single background sweeper (§4.3).
func (p *Pool) sweep(now time.Time) {
	p.mu.Lock()
	keep := p.idle[:0:0]
	var toDiscard []*Instance
	for _, inst := range p.idle {
		if inst.Expired() || inst.pastIdleTimeout(p.cfg.IdleTimeout) {
			toDiscard = append(toDiscard, inst)
		} else {
			keep = append(keep, inst)
		}
	}
	p.idle = keep
	p.mu.Unlock()

	for _, inst := range toDiscard {
		p.discard(inst)
	}
	if p.cache != nil {
		p.cache.EvictExpired(now)
	}
}

// drain disconnects every idle instance, used by Manager.Shutdown.
func (p *Pool) drain() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, inst := range idle {
		p.discard(inst)
	}
}
