package corereq

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDefaultsTimeout(t *testing.T) {
	r := Create("http_1", "http", 0, nil, "")
	assert.WithinDuration(t, time.Now().Add(DefaultTimeout), r.Deadline(), 100*time.Millisecond)
	assert.False(t, r.Expired())
}

func TestRemainAndExpired(t *testing.T) {
	r := Create("http_1", "http", 50*time.Millisecond, nil, "")
	assert.False(t, r.Expired())
	assert.Greater(t, r.Remain(), time.Duration(0))
	time.Sleep(70 * time.Millisecond)
	assert.True(t, r.Expired())
	assert.Equal(t, time.Duration(0), r.Remain())
}

func TestCloneSharesDeadlineAndIdentity(t *testing.T) {
	r := Create("rpc_1", "rpc", time.Second, map[string]any{"auth_tokens": "x"}, "m.foo")
	c := r.Clone()
	assert.Equal(t, r.ID(), c.ID())
	assert.Equal(t, r.Deadline(), c.Deadline())
	assert.Equal(t, "m.foo", c.Description())
}

func TestDescribeLateBinds(t *testing.T) {
	r := Create("rpc_1", "rpc", time.Second, nil, "")
	assert.Equal(t, "", r.Description())
	r.Describe("module.method")
	assert.Equal(t, "module.method", r.Description())
}

func TestBoundTruncatesToRemain(t *testing.T) {
	r := Create("x", "x", 100*time.Millisecond, nil, "")
	// Bound reads the clock again, so it can trail the earlier Remain()
	// by the time elapsed between the two calls.
	assert.InDelta(t, float64(r.Remain()), float64(r.Bound(10*time.Second)), float64(time.Millisecond))
	assert.LessOrEqual(t, r.Bound(time.Millisecond), time.Millisecond)
}

type fakeLock struct {
	mu sync.Mutex
}

func (f *fakeLock) TryLock() bool { return f.mu.TryLock() }
func (f *fakeLock) Unlock()       { f.mu.Unlock() }

func TestAcquireSucceedsWhenFree(t *testing.T) {
	r := Create("x", "x", time.Second, nil, "")
	lock := &fakeLock{}
	tok, err := r.Acquire(lock)
	require.NoError(t, err)
	tok.Release()
}

func TestAcquireFailsWithDeadline(t *testing.T) {
	r := Create("x", "x", 30*time.Millisecond, nil, "")
	lock := &fakeLock{}
	lock.mu.Lock() // held by someone else forever
	_, err := r.Acquire(lock)
	require.Error(t, err)
	var derr *DeadlineError
	require.ErrorAs(t, err, &derr)
	assert.True(t, derr.Recoverable())
}

func TestUniqueIDsPerProcessRun(t *testing.T) {
	a := Create("x", "x", time.Second, nil, "")
	b := Create("x", "x", time.Second, nil, "")
	assert.NotEqual(t, a.ID(), b.ID())
}
