// Package transaction implements the multi-resource transaction
// coordinator (C4): it fans a user-level call out across one or more
// resources, obeying the request's deadline, with an optional
// per-resource result cache, and a deterministic best-effort
// rollback/commit ordering (§4.4).
package transaction

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/classify"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corelog"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/respool"
)

var nextXID uint64

func newXID() string {
	return fmt.Sprintf("xid-%d-%d", time.Now().UnixNano(), atomic.AddUint64(&nextXID, 1))
}

// Participant describes one resource invocation added to a Transaction,
// the builder surface that replaces pythomnic3k's duck-typed
// `xa.some_name.some_verb(...)` call recording (§9).
type Participant struct {
	PoolName       string
	ResourceArgs   []any
	ResourceKwargs map[string]any
	ExecuteArgs    []any
	ExecuteKwargs  map[string]any

	// CacheKey, if non-empty, is used verbatim as the result cache key.
	// Left empty, the key is derived from ExecuteArgs/ExecuteKwargs.
	CacheKey    string
	CacheTTL    time.Duration
	CacheWeight int
}

// Transaction collects participants and drives them concurrently
// through begin/execute/commit or rollback.
type Transaction struct {
	xid          string
	options      map[string]any
	participants []Participant
	mgr          *respool.Manager
	log          *corelog.Logger
}

// New starts building a transaction against mgr's pools, logging
// through log as lifecycle.Orchestrator does.
func New(log *corelog.Logger, mgr *respool.Manager, options map[string]any) *Transaction {
	return &Transaction{xid: newXID(), options: options, mgr: mgr, log: log}
}

// XID returns this transaction's opaque, unique-per-run identifier.
func (t *Transaction) XID() string { return t.xid }

// AddParticipant appends one resource invocation to the transaction.
func (t *Transaction) AddParticipant(p Participant) {
	t.participants = append(t.participants, p)
}

type participantOutcome struct {
	index     int
	value     any
	err       classify.Classified
	fromCache bool
}

// decision is broadcast to every participant goroutine once the
// coordinator reaches the intermediate barrier's verdict.
type decision struct {
	ready  chan struct{}
	commit atomic.Bool
}

func newDecision() *decision { return &decision{ready: make(chan struct{})} }

func (d *decision) resolve(commit bool) {
	d.commit.Store(commit)
	close(d.ready)
}

// Execute runs every participant concurrently under req's deadline and
// returns their results in participant insertion order, or the first
// (by index) classified failure encountered. It implements §4.4 steps
// 1-5.
func (t *Transaction) Execute(req *corereq.Request) ([]any, error) {
	n := len(t.participants)
	if n == 0 {
		return nil, nil
	}

	resultsCh := make(chan participantOutcome, n)
	dec := newDecision()
	var wg sync.WaitGroup
	wg.Add(n)

	for i, p := range t.participants {
		go t.runParticipant(req, i, p, resultsCh, dec, &wg)
	}

	outcomes := make(map[int]participantOutcome, n)
	remaining := n
	var failure classify.Classified

	timer := time.NewTimer(req.Remain())
	defer timer.Stop()

waitLoop:
	for remaining > 0 {
		select {
		case o := <-resultsCh:
			remaining--
			outcomes[o.index] = o
			if o.err != nil {
				failure = drainFailures(resultsCh, outcomes, &remaining, o.err)
				break waitLoop
			}
		case <-timer.C:
			failure = classify.TransactionExecution("request deadline waiting for intermediate result")
			break waitLoop
		}
	}

	if failure != nil {
		dec.resolve(false)
		// Per §4.4/§9: rollback may proceed asynchronously after the
		// classified error has already been returned to the caller.
		return nil, failure
	}

	dec.resolve(true)
	wg.Wait() // commit must be observable before Execute returns (E2).

	var merr *multierror.Error
	for i := 0; i < n; i++ {
		o := outcomes[i]
		if o.err != nil {
			merr = multierror.Append(merr, fmt.Errorf("participant %d (%s): %w", i, t.participants[i].PoolName, o.err))
		}
	}
	if merr != nil {
		t.log.Wrn("transaction %s: commit-phase errors: %v", t.xid, merr)
	}

	results := make([]any, n)
	for i := 0; i < n; i++ {
		results[i] = outcomes[i].value
	}
	return results, nil
}

// drainFailures non-blockingly collects any other outcomes already
// buffered in resultsCh so that a burst of simultaneous failures is
// resolved deterministically: the lowest participant index wins,
// matching §4.4's "errors surface in participant-index order".
func drainFailures(resultsCh chan participantOutcome, outcomes map[int]participantOutcome, remaining *int, first classify.Classified) classify.Classified {
	for {
		select {
		case o := <-resultsCh:
			*remaining--
			outcomes[o.index] = o
		default:
			indices := make([]int, 0, len(outcomes))
			for idx, o := range outcomes {
				if o.err != nil {
					indices = append(indices, idx)
				}
			}
			if len(indices) == 0 {
				return first
			}
			sort.Ints(indices)
			return outcomes[indices[0]].err
		}
	}
}

// runParticipant executes one participant's lifecycle: checkout ->
// (cache check) -> begin/execute -> report to barrier -> wait for the
// coordinator's decision -> commit|rollback -> disconnect-if-terminal
// -> release. Per-participant operation order is always this fixed
// sequence (§4.4 "tie-breaks and ordering").
func (t *Transaction) runParticipant(req *corereq.Request, index int, p Participant, resultsCh chan participantOutcome, dec *decision, wg *sync.WaitGroup) {
	defer wg.Done()

	childReq := req.Clone()
	inst, err := t.mgr.Checkout(childReq, p.PoolName)
	if err != nil {
		resultsCh <- participantOutcome{index: index, err: classify.As(err)}
		return
	}

	terminal := false
	defer func() { t.mgr.Return(inst, terminal) }()

	pool := t.mgr.Pool(p.PoolName)
	cacheKey := p.CacheKey
	if cacheKey == "" {
		cacheKey = deriveCacheKey(p.ExecuteArgs, p.ExecuteKwargs)
	}

	var value any
	fromCache := false
	if pool != nil && pool.Cache() != nil {
		if v, ok := pool.Cache().Get(cacheKey); ok {
			value = v
			fromCache = true
		}
	}

	if !fromCache {
		tx, transactional := inst.Resource.(respool.Transactional)
		if transactional {
			if err := tx.BeginTransaction(childReq, t.xid, t.options, p.ResourceArgs, p.ResourceKwargs); err != nil {
				c := classify.As(err)
				terminal = c.Terminal()
				resultsCh <- participantOutcome{index: index, err: c}
				return
			}
		}

		v, execErr := inst.Resource.Execute(childReq, p.ExecuteArgs, p.ExecuteKwargs)
		if execErr != nil {
			c := classify.As(execErr)
			terminal = c.Terminal()
			if transactional {
				safeRollback(t.log, childReq, tx)
			}
			resultsCh <- participantOutcome{index: index, err: c}
			return
		}
		value = v

		if pool != nil && pool.Cache() != nil {
			safeCachePut(t.log, pool, cacheKey, value, p.CacheTTL, p.CacheWeight)
		}
	}

	resultsCh <- participantOutcome{index: index, value: value, fromCache: fromCache}

	<-dec.ready

	if fromCache {
		return // only a return-to-pool happens for cache hits, per §4.3.
	}

	tx, transactional := inst.Resource.(respool.Transactional)
	if !transactional {
		return
	}
	if dec.commit.Load() {
		if err := tx.Commit(childReq); err != nil {
			terminal = true
			t.log.Wrn("transaction %s participant %d: commit failed: %v", t.xid, index, err)
		}
	} else {
		terminal = true
		safeRollback(t.log, childReq, tx)
	}
}

func safeRollback(log *corelog.Logger, req *corereq.Request, tx respool.Transactional) {
	defer func() {
		if r := recover(); r != nil {
			log.Wrn("transaction: panic during rollback: %v", r)
		}
	}()
	if err := tx.Rollback(req); err != nil {
		log.Wrn("transaction: rollback failed: %v", err)
	}
}

// safeCachePut swallows cache.Put failures: the real execute path
// already happened and its value must still reach the caller (testable
// property 5). cache.Put itself never panics in this implementation,
// but adapter-supplied caches might; guard defensively.
func safeCachePut(log *corelog.Logger, pool *respool.Pool, key string, value any, ttl time.Duration, weight int) {
	defer func() {
		if r := recover(); r != nil {
			log.Wrn("transaction: cache put failed: %v", r)
		}
	}()
	pool.Cache().Put(key, value, ttl, weight)
}

// deriveCacheKey implements §4.3's default key derivation: a
// deterministic rendering of ("execute", args, kwargs). Flagged in §9
// as not including the pool name, matching the original's behaviour.
func deriveCacheKey(args []any, kwargs map[string]any) string {
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := fmt.Sprintf("execute|%v|", args)
	for _, k := range keys {
		s += fmt.Sprintf("%s=%v;", k, kwargs[k])
	}
	return s
}
