package transaction

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/classify"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corelog"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/respool"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/respool/cache"
)

func testLogger() *corelog.Logger { return corelog.StdoutLogger("test") }

type fakeTxResource struct {
	mu         sync.Mutex
	began      bool
	committed  bool
	rolledBack bool
	execDelay  time.Duration
	execErr    error
	beginErr   error

	executed int32
}

func (f *fakeTxResource) Connect(_ *corereq.Request) error { return nil }

func (f *fakeTxResource) BeginTransaction(_ *corereq.Request, _ string, _ map[string]any, _ []any, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beginErr != nil {
		return f.beginErr
	}
	f.began = true
	return nil
}

func (f *fakeTxResource) Execute(_ *corereq.Request, args []any, _ map[string]any) (any, error) {
	atomic.AddInt32(&f.executed, 1)
	if f.execDelay > 0 {
		time.Sleep(f.execDelay)
	}
	if f.execErr != nil {
		return nil, f.execErr
	}
	return args, nil
}

func (f *fakeTxResource) Commit(_ *corereq.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = true
	return nil
}

func (f *fakeTxResource) Rollback(_ *corereq.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rolledBack = true
	return nil
}

func (f *fakeTxResource) Disconnect() {}

func newManagerWithPools(t *testing.T, pools map[string]*fakeTxResource, withCache bool) *respool.Manager {
	t.Helper()
	mgr := respool.NewManager(testLogger(), 0)
	for name, res := range pools {
		r := res
		cfg := respool.Config{
			Size:           2,
			StandbyTimeout: time.Second,
			Constructor:    func() respool.Resource { return r },
		}
		if withCache {
			cfg.Cache = &cache.Config{Capacity: 8, Policy: cache.PolicyLRU}
		}
		mgr.Register(name, cfg)
	}
	return mgr
}

func TestTransactionCommitsAllOnSuccess(t *testing.T) {
	a := &fakeTxResource{}
	b := &fakeTxResource{}
	mgr := newManagerWithPools(t, map[string]*fakeTxResource{"a": a, "b": b}, false)
	defer mgr.Shutdown()

	req := corereq.Create("x", "x", time.Second, nil, "")
	tx := New(testLogger(), mgr, nil)
	tx.AddParticipant(Participant{PoolName: "a", ExecuteArgs: []any{1}})
	tx.AddParticipant(Participant{PoolName: "b", ExecuteArgs: []any{2}})

	results, err := tx.Execute(req)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, a.began)
	assert.True(t, a.committed)
	assert.False(t, a.rolledBack)
	assert.True(t, b.began)
	assert.True(t, b.committed)
	assert.False(t, b.rolledBack)
}

// TestTransactionRollsBackOnParticipantFailure covers the §4.4 failure
// path: one participant fails execute, the other (still inside its own
// execute when the failure lands) must be rolled back rather than
// committed.
func TestTransactionRollsBackOnParticipantFailure(t *testing.T) {
	ok := &fakeTxResource{execDelay: 30 * time.Millisecond}
	bad := &fakeTxResource{execErr: errors.New("boom")}
	mgr := newManagerWithPools(t, map[string]*fakeTxResource{"ok": ok, "bad": bad}, false)
	defer mgr.Shutdown()

	req := corereq.Create("x", "x", time.Second, nil, "")
	tx := New(testLogger(), mgr, nil)
	tx.AddParticipant(Participant{PoolName: "ok", ExecuteArgs: []any{1}})
	tx.AddParticipant(Participant{PoolName: "bad", ExecuteArgs: []any{2}})

	_, err := tx.Execute(req)
	require.Error(t, err)

	// Give the async rollback goroutine a moment to land (failure path
	// does not block Execute's return on it).
	require.Eventually(t, func() bool {
		ok.mu.Lock()
		defer ok.mu.Unlock()
		return ok.rolledBack
	}, time.Second, 5*time.Millisecond)

	assert.False(t, ok.committed)
	assert.False(t, bad.committed)
}

// TestTransactionDeadlineTriggersRollback is scenario-class E-series:
// the intermediate barrier times out before a slow participant reports,
// and the whole transaction must fail and roll back.
func TestTransactionDeadlineTriggersRollback(t *testing.T) {
	slow := &fakeTxResource{execDelay: 200 * time.Millisecond}
	mgr := newManagerWithPools(t, map[string]*fakeTxResource{"slow": slow}, false)
	defer mgr.Shutdown()

	req := corereq.Create("x", "x", 30*time.Millisecond, nil, "")
	tx := New(testLogger(), mgr, nil)
	tx.AddParticipant(Participant{PoolName: "slow", ExecuteArgs: []any{1}})

	_, err := tx.Execute(req)
	require.Error(t, err)
	c := classify.As(err)
	assert.Equal(t, classify.KindTransactionExecute, c.Kind())

	// The slow participant finishes its execute after the barrier has
	// already failed, and then rolls back instead of committing.
	require.Eventually(t, func() bool {
		slow.mu.Lock()
		defer slow.mu.Unlock()
		return slow.rolledBack
	}, time.Second, 5*time.Millisecond)
	slow.mu.Lock()
	assert.False(t, slow.committed)
	slow.mu.Unlock()
}

// TestTransactionCacheHitSkipsExecute is testable property 4 (cache
// coherence): a second transaction using the same derived key must not
// re-invoke Execute on the resource.
func TestTransactionCacheHitSkipsExecute(t *testing.T) {
	res := &fakeTxResource{}
	mgr := newManagerWithPools(t, map[string]*fakeTxResource{"a": res}, true)
	defer mgr.Shutdown()

	run := func() {
		req := corereq.Create("x", "x", time.Second, nil, "")
		tx := New(testLogger(), mgr, nil)
		tx.AddParticipant(Participant{PoolName: "a", ExecuteArgs: []any{"same"}})
		_, err := tx.Execute(req)
		require.NoError(t, err)
	}

	run()
	run()

	assert.Equal(t, int32(1), atomic.LoadInt32(&res.executed))
}

// TestTransactionErrorsSurfaceInParticipantOrder is property 6's
// analogue for transactions: when multiple participants fail near-
// simultaneously, the lowest-index participant's error wins.
func TestTransactionErrorsSurfaceInParticipantOrder(t *testing.T) {
	first := &fakeTxResource{execErr: errors.New("first failed")}
	second := &fakeTxResource{execErr: errors.New("second failed"), execDelay: 40 * time.Millisecond}
	mgr := newManagerWithPools(t, map[string]*fakeTxResource{"first": first, "second": second}, false)
	defer mgr.Shutdown()

	req := corereq.Create("x", "x", time.Second, nil, "")
	tx := New(testLogger(), mgr, nil)
	tx.AddParticipant(Participant{PoolName: "first", ExecuteArgs: []any{1}})
	tx.AddParticipant(Participant{PoolName: "second", ExecuteArgs: []any{2}})

	_, err := tx.Execute(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first failed")
}

func TestTransactionEmptyParticipantsReturnsNil(t *testing.T) {
	mgr := respool.NewManager(testLogger(), 0)
	defer mgr.Shutdown()
	tx := New(testLogger(), mgr, nil)
	req := corereq.Create("x", "x", time.Second, nil, "")
	results, err := tx.Execute(req)
	assert.NoError(t, err)
	assert.Nil(t, results)
}
