package workerpool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/classify"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
)

// TestFIFODispatch is testable property 6: a pool of size 1 executes k
// enqueued identity work-units in enqueue order.
func TestFIFODispatch(t *testing.T) {
	p := New(1, 16, 0)
	defer p.Stop(time.Second)

	var mu sync.Mutex
	var order []int
	req := corereq.Create("x", "x", 5*time.Second, nil, "")

	handles := make([]*Handle, 0, 10)
	for i := 0; i < 10; i++ {
		i := i
		h, err := p.Enqueue(req, func(_ *corereq.Request) (any, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		_, err := h.Wait(time.Second)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i := range order {
		assert.Equal(t, i, order[i])
	}
}

// TestDeadlineOnQueue is scenario E1: pool size 1; A sleeps long; B
// under a short-timeout request must fail with a deadline while A
// completes normally and the pool quiesces.
func TestDeadlineOnQueue(t *testing.T) {
	p := New(1, 4, 0)
	defer p.Stop(time.Second)

	reqA := corereq.Create("x", "x", 5*time.Second, nil, "")
	hA, err := p.Enqueue(reqA, func(_ *corereq.Request) (any, error) {
		time.Sleep(300 * time.Millisecond)
		return "A", nil
	})
	require.NoError(t, err)

	reqB := corereq.Create("x", "x", 50*time.Millisecond, nil, "")
	hB, err := p.Enqueue(reqB, func(_ *corereq.Request) (any, error) {
		return "B", nil
	})
	require.NoError(t, err)

	_, errB := hB.Wait(500 * time.Millisecond)
	require.Error(t, errB)
	var c classify.Classified
	require.ErrorAs(t, errB, &c)
	assert.Equal(t, classify.KindDeadline, c.Kind())

	valA, errA := hA.Wait(2 * time.Second)
	require.NoError(t, errA)
	assert.Equal(t, "A", valA)

	assert.Eventually(t, func() bool {
		return p.Stats().Busy.Load() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestEnqueueAfterCeaseFails(t *testing.T) {
	p := New(1, 1, 0)
	p.Cease()
	req := corereq.Create("x", "x", time.Second, nil, "")
	_, err := p.Enqueue(req, func(_ *corereq.Request) (any, error) { return nil, nil })
	require.Error(t, err)
	var c classify.Classified
	require.ErrorAs(t, err, &c)
	assert.Equal(t, classify.KindFactoryShutdown, c.Kind())
	p.Stop(time.Second)
}

func TestExpiredRequestDroppedBeforeExecute(t *testing.T) {
	p := New(1, 4, 0)
	defer p.Stop(time.Second)

	// Occupy the only worker so the second unit's request expires while
	// it is still queued (Enqueue itself refuses an already-expired one).
	blocker := corereq.Create("x", "x", time.Second, nil, "")
	_, err := p.Enqueue(blocker, func(_ *corereq.Request) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return nil, nil
	})
	require.NoError(t, err)

	req := corereq.Create("x", "x", 10*time.Millisecond, nil, "")
	ran := false
	h, err := p.Enqueue(req, func(_ *corereq.Request) (any, error) {
		ran = true
		return nil, nil
	})
	require.NoError(t, err)
	_, err = h.Wait(time.Second)
	require.Error(t, err)
	assert.False(t, ran)
}
