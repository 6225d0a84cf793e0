package dispatcher

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/telemetry"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/workerpool"
)

func newTestDispatcher() *Dispatcher {
	pool := workerpool.New(2, 4, 0)
	taps := telemetry.New(prometheus.NewRegistry())
	return New(pool, taps, time.Second)
}

func TestBeginEndRequestAccounting(t *testing.T) {
	d := newTestDispatcher()
	req, err := d.BeginRequest("http", "http", 0, nil, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Live())

	ok := true
	d.EndRequest(req, &ok)
	assert.Equal(t, int64(0), d.Live())
}

func TestBeginRequestRefusedAfterShutdown(t *testing.T) {
	d := newTestDispatcher()
	d.Shutdown()
	_, err := d.BeginRequest("http", "http", 0, nil, "")
	require.Error(t, err)
}

func TestGetInterfaceRoundtrip(t *testing.T) {
	d := newTestDispatcher()
	d.RegisterInterface("http_1", "127.0.0.1:8080")
	iface, ok := d.GetInterface("http_1")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:8080", iface.Address)

	d.UnregisterInterface("http_1")
	_, ok = d.GetInterface("http_1")
	assert.False(t, ok)
}

func TestShutdownWaitsForLiveRequests(t *testing.T) {
	d := newTestDispatcher()
	req, err := d.BeginRequest("http", "http", 0, nil, "")
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		ok := true
		d.EndRequest(req, &ok)
	}()

	start := time.Now()
	d.Shutdown()
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, int64(0), d.Live())
}
