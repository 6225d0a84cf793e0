package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
)

func TestRegistryReturnsSameInstanceByName(t *testing.T) {
	r := NewRegistry()
	assert.Same(t, r.Lock("a"), r.Lock("a"))
	assert.Same(t, r.Queue("a"), r.Queue("a"))
	assert.NotSame(t, r.Lock("a"), r.Lock("b"))
}

func TestQueuePushPop(t *testing.T) {
	q := newQueue()
	req := corereq.Create("x", "x", time.Second, nil, "")
	q.Push("one")
	v, err := q.Pop(req)
	require.NoError(t, err)
	assert.Equal(t, "one", v)
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := newQueue()
	req := corereq.Create("x", "x", time.Second, nil, "")
	go func() {
		time.Sleep(30 * time.Millisecond)
		q.Push("late")
	}()
	v, err := q.Pop(req)
	require.NoError(t, err)
	assert.Equal(t, "late", v)
}

func TestQueuePopFailsOnDeadline(t *testing.T) {
	q := newQueue()
	req := corereq.Create("x", "x", 20*time.Millisecond, nil, "")
	_, err := q.Pop(req)
	require.Error(t, err)
}

func TestLockAcquire(t *testing.T) {
	l := &Lock{}
	req := corereq.Create("x", "x", time.Second, nil, "")
	tok, err := l.Acquire(req)
	require.NoError(t, err)
	assert.False(t, l.TryLock())
	tok.Release()
	assert.True(t, l.TryLock())
	l.Unlock()
}
