// Package clock provides a cached wall-clock source for hot paths that
// stamp many events per second and can tolerate coarse timestamps.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultResolution bounds how stale a cached reading may be.
const DefaultResolution = 100 * time.Microsecond

// Cached serves nanosecond timestamps from an atomically updated cache,
// refreshed by a background goroutine. Reads never make a syscall.
type Cached struct {
	now        atomic.Int64
	resolution time.Duration

	stopOnce sync.Once
	done     chan struct{}
}

// NewCached starts a cache refreshing every resolution. A zero or negative
// resolution falls back to DefaultResolution.
func NewCached(resolution time.Duration) *Cached {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	c := &Cached{
		resolution: resolution,
		done:       make(chan struct{}),
	}
	c.now.Store(time.Now().UnixNano())
	go c.refresh()
	return c
}

func (c *Cached) refresh() {
	ticker := time.NewTicker(c.resolution)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.now.Store(time.Now().UnixNano())
		case <-c.done:
			return
		}
	}
}

// Now returns the cached wall-clock time in nanoseconds. Values may repeat
// across calls inside one refresh interval.
func (c *Cached) Now() int64 {
	return c.now.Load()
}

// Precise bypasses the cache.
func (c *Cached) Precise() int64 {
	return time.Now().UnixNano()
}

// Stop terminates the refresh goroutine. Now keeps returning the last
// cached value afterwards.
func (c *Cached) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}
