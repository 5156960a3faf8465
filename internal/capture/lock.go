package capture

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DeviceLock guards the single audio device shared by every recorder in the
// process.
type DeviceLock struct {
	sem     *semaphore.Weighted
	claimed atomic.Bool
}

// NewDeviceLock creates an unclaimed lock.
func NewDeviceLock() *DeviceLock {
	return &DeviceLock{sem: semaphore.NewWeighted(1)}
}

// TryClaim takes the device without blocking. It fails with
// ErrDeviceUnavailable when another claim is held.
func (l *DeviceLock) TryClaim() (*Claim, error) {
	if !l.sem.TryAcquire(1) {
		return nil, ErrDeviceUnavailable
	}
	l.claimed.Store(true)
	return &Claim{lock: l}, nil
}

// Claimed reports whether a claim is currently held.
func (l *DeviceLock) Claimed() bool {
	return l.claimed.Load()
}

// Claim is an owned handle on the device.
type Claim struct {
	lock *DeviceLock
	once sync.Once
}

// Release returns the device. Safe to call more than once.
func (c *Claim) Release() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		c.lock.claimed.Store(false)
		c.lock.sem.Release(1)
	})
}
