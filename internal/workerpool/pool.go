// Package workerpool implements the bounded, aging worker pool (C2)
// that every interface dispatcher (C5) and transaction coordinator (C4)
// schedules work onto. It generalizes pythomnic3k's pmnc.interfaces'
// thread pool: a fixed set of long-lived workers draining a FIFO queue,
// each replaced after a configured age to bound native-driver memory
// fragmentation.
package workerpool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/classify"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
)

// Func is the work-unit body bound to a Request.
type Func func(req *corereq.Request) (any, error)

// workUnit is the atomic unit of scheduling: a function bound to a
// Request plus a single-shot result slot consumable by one waiter.
type workUnit struct {
	req    *corereq.Request
	fn     Func
	result chan outcome
}

type outcome struct {
	value any
	err   error
}

// Handle lets the enqueuer wait for, or cancel, a scheduled work-unit.
type Handle struct {
	unit      *workUnit
	cancelled atomic.Bool
}

// Wait blocks until the work-unit completes or the given timeout (zero
// means wait forever) elapses first, returning a classified timeout
// failure in the latter case.
func (h *Handle) Wait(timeout time.Duration) (any, error) {
	if timeout <= 0 {
		o := <-h.unit.result
		return o.value, o.err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case o := <-h.unit.result:
		return o.value, o.err
	case <-timer.C:
		return nil, classify.Deadline("work-unit result", false)
	}
}

// Cancel marks the handle as cancelled. Workers do not consult the
// mark: a queued unit still runs and a running unit is not aborted;
// the request deadline is the only thing that drops a unit (§5:
// non-cooperative native calls cannot be cleanly interrupted).
func (h *Handle) Cancel() {
	h.cancelled.Store(true)
}

// Counters are the C9 taps consulted by C5 (busy/queued/rate).
type Counters struct {
	Busy   atomic.Int64
	Queued atomic.Int64
	done   atomic.Int64
}

// Rate returns the number of work-units completed since the pool
// started, a cheap proxy the caller can sample over an interval to
// derive a rate.
func (c *Counters) Rate() int64 { return c.done.Load() }

// Pool is a fixed-size set of workers draining one FIFO queue.
type Pool struct {
	queue     chan *workUnit
	counters  Counters
	wg        sync.WaitGroup
	maxAge    time.Duration
	stopCh    chan struct{}
	stopped   atomic.Bool
	mu        sync.Mutex
	workerIDs int
}

// New starts a pool of threadCount workers, each replaced after maxAge
// once it becomes idle (zero disables aging). queueDepth bounds how
// many pending work-units may wait before Enqueue blocks.
func New(threadCount, queueDepth int, maxAge time.Duration) *Pool {
	if threadCount < 1 {
		threadCount = 1
	}
	if queueDepth < 1 {
		queueDepth = threadCount
	}
	p := &Pool{
		queue:  make(chan *workUnit, queueDepth),
		maxAge: maxAge,
		stopCh: make(chan struct{}),
	}
	for i := 0; i < threadCount; i++ {
		p.startWorker()
	}
	return p
}

func (p *Pool) startWorker() {
	p.mu.Lock()
	p.workerIDs++
	p.mu.Unlock()
	p.wg.Add(1)
	go p.runWorker()
}

// runWorker drains the queue until told to stop or, if aging is
// enabled, until it has been idle past its max age — at which point it
// exits and a replacement takes over, bounding native driver state
// accumulated inside long user handlers.
func (p *Pool) runWorker() {
	defer p.wg.Done()
	var ageTimer <-chan time.Time
	var timer *time.Timer
	if p.maxAge > 0 {
		timer = time.NewTimer(p.maxAge)
		ageTimer = timer.C
		defer timer.Stop()
	}
	for {
		select {
		case <-p.stopCh:
			return
		case unit, ok := <-p.queue:
			if !ok {
				return
			}
			p.counters.Queued.Add(-1)
			p.execute(unit)
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(p.maxAge)
			}
		case <-ageTimer:
			if p.stopped.Load() {
				return
			}
			// replace this worker: spin up a successor, then retire.
			p.startWorker()
			return
		}
	}
}

func (p *Pool) execute(unit *workUnit) {
	if unit.req.Expired() {
		unit.result <- outcome{nil, classify.Deadline("work-unit dequeue", false)}
		return
	}
	p.counters.Busy.Add(1)
	defer p.counters.Busy.Add(-1)
	value, err := unit.fn(unit.req)
	p.counters.done.Add(1)
	unit.result <- outcome{value, err}
}

// Enqueue schedules fn bound to req, blocking up to req.Remain() if the
// queue is full. It returns a *classify.Failure(deadline) if the
// request's deadline is reached before a slot opens, and a
// *classify.Failure(factory_shutdown) if the pool has ceased accepting
// work.
func (p *Pool) Enqueue(req *corereq.Request, fn Func) (*Handle, error) {
	if p.stopped.Load() {
		return nil, classify.FactoryShutdown("enqueue")
	}
	unit := &workUnit{req: req, fn: fn, result: make(chan outcome, 1)}
	timeout := req.Remain()
	if timeout <= 0 {
		return nil, classify.Deadline("enqueue", false)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p.queue <- unit:
		p.counters.Queued.Add(1)
		return &Handle{unit: unit}, nil
	case <-timer.C:
		return nil, classify.Deadline("enqueue", false)
	}
}

// Stats exposes the C9 taps for C5 to sample.
func (p *Pool) Stats() *Counters { return &p.counters }

// Cease stops accepting new work-units; in-flight units continue to
// completion. Mirrors §4.2's shutdown contract.
func (p *Pool) Cease() {
	p.stopped.Store(true)
}

// Stop waits up to gracePeriod for in-flight work to drain, then forces
// every worker down unconditionally. Work-units still queued at that
// point are never run and their handles never receive a result.
func (p *Pool) Stop(gracePeriod time.Duration) {
	p.Cease()
	done := make(chan struct{})
	go func() {
		deadline := time.Now().Add(gracePeriod)
		for p.Stats().Busy.Load() > 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		close(done)
	}()
	<-done
	close(p.stopCh)
	p.wg.Wait()
}
