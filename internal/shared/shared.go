// Package shared implements C10: deadline-aware locks plus named shared
// queues/locks, generalizing pythomnic3k's `pmnc.shared_locks` and
// `pmnc.shared_queues` global dictionaries (§4.9). First `Queue(name)`/
// `Lock(name)` creates; subsequent calls return the same instance.
package shared

import (
	"sync"
	"time"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
)

// Lock is a deadline-aware mutex: Acquire blocks up to the request's
// remain and returns a Token that releases on Release(), matching
// corereq.Request.Acquire's contract against a plain sync.Mutex.
type Lock struct {
	mu sync.Mutex
}

func (l *Lock) TryLock() bool { return l.mu.TryLock() }
func (l *Lock) Unlock()       { l.mu.Unlock() }

// Acquire blocks up to req.Remain(), returning a releasable token or a
// *corereq.DeadlineError.
func (l *Lock) Acquire(req *corereq.Request) (*corereq.Token, error) {
	return req.Acquire(l)
}

// Queue is a named, unbounded FIFO shared across every caller that
// looks it up by the same name, used by resources/interfaces that need
// process-wide coordination outside the request/transaction path
// (e.g. a rate-limited outbound queue).
type Queue struct {
	mu    sync.Mutex
	items []any
	cond  *sync.Cond
}

func newQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item and wakes one waiter.
func (q *Queue) Push(item any) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until an item is available or req's deadline elapses.
func (q *Queue) Pop(req *corereq.Request) (any, error) {
	q.mu.Lock()
	for len(q.items) == 0 {
		remain := req.Remain()
		if remain <= 0 {
			q.mu.Unlock()
			return nil, &corereq.DeadlineError{Op: "shared queue pop"}
		}
		// Same pattern as respool.Pool.Checkout: sync.Cond has no native
		// deadline, so a watchdog timer broadcasts after remain and this
		// goroutine re-checks the deadline itself on wake.
		timer := time.AfterFunc(remain, q.cond.Broadcast)
		q.cond.Wait()
		timer.Stop()
	}
	item := q.items[0]
	q.items = q.items[1:]
	q.mu.Unlock()
	return item, nil
}

// Len reports the current queue depth, for tests/telemetry.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Registry is the process-wide manager lock guarding the two named
// dictionaries of shared locks and shared queues (§4.9).
type Registry struct {
	mu     sync.Mutex
	locks  map[string]*Lock
	queues map[string]*Queue
}

// NewRegistry constructs an empty registry; every caller that shares
// locks and queues by name uses the same instance.
func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*Lock), queues: make(map[string]*Queue)}
}

// Lock returns the named lock, creating it on first lookup.
func (r *Registry) Lock(name string) *Lock {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.locks[name]; ok {
		return l
	}
	l := &Lock{}
	r.locks[name] = l
	return l
}

// Queue returns the named queue, creating it on first lookup.
func (r *Registry) Queue(name string) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[name]; ok {
		return q
	}
	q := newQueue()
	r.queues[name] = q
	return q
}
