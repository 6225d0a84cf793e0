package respool

import (
	"fmt"
	"sync/atomic"
	"time"
)

var nextInstanceSeq uint64

// Instance wraps a user Resource with the pool-accounting metadata of
// §3: instance_id, ttl (idle-eviction deadline), max_age (absolute
// expiry), and the expired flag.
type Instance struct {
	Resource   Resource
	Name       string
	instanceID string
	maxAge     time.Time
	ttl        time.Time
	expired    atomic.Bool
}

func newInstance(name string, r Resource, maxAge time.Duration) *Instance {
	seq := atomic.AddUint64(&nextInstanceSeq, 1)
	inst := &Instance{
		Resource:   r,
		Name:       name,
		instanceID: fmt.Sprintf("%s-%d", name, seq),
	}
	if maxAge > 0 {
		inst.maxAge = time.Now().Add(maxAge)
	}
	return inst
}

// InstanceID returns the unique id assigned at construction, used by
// tests to verify terminal discard (testable property 3).
func (i *Instance) InstanceID() string { return i.instanceID }

// Expire marks the instance for discard on its next Return, regardless
// of classification. Matches the Resource.expire capability of §3.
func (i *Instance) Expire() { i.expired.Store(true) }

// Expired reports whether the instance was explicitly expired or has
// outlived its configured max age.
func (i *Instance) Expired() bool {
	if i.expired.Load() {
		return true
	}
	return !i.maxAge.IsZero() && time.Now().After(i.maxAge)
}

// pastIdleTimeout reports whether the instance has sat idle longer than
// idleTimeout since it was last returned to the pool.
func (i *Instance) pastIdleTimeout(idleTimeout time.Duration) bool {
	if idleTimeout <= 0 || i.ttl.IsZero() {
		return false
	}
	return time.Now().After(i.ttl)
}

func (i *Instance) resetIdleClock(idleTimeout time.Duration) {
	if idleTimeout > 0 {
		i.ttl = time.Now().Add(idleTimeout)
	} else {
		i.ttl = time.Time{}
	}
}
