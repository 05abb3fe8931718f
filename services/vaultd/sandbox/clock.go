package sandbox

import (
	"sync"
	"time"
)

// Clock is the sandbox block clock. It only moves when advanced.
type Clock struct {
	mu           sync.Mutex
	now          time.Time
	block        uint64
	blockSeconds uint64
}

func newClock(start time.Time, block, blockSeconds uint64) *Clock {
	if blockSeconds == 0 {
		blockSeconds = 1
	}
	return &Clock{now: start, block: block, blockSeconds: blockSeconds}
}

// Now implements vault.Clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// BlockNumber implements vault.Clock.
func (c *Clock) BlockNumber() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

func (c *Clock) advance(d time.Duration, blocks uint64) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.block += blocks
	return c.now
}
