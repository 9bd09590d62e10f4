package vfs

import (
	"sync"
	"time"
)

// clock hands out strictly non-decreasing nanosecond timestamps, satisfying
// the "change timestamps are monotonic within a single process" invariant
// even across rapid successive writes where time.Now() might
// otherwise repeat or (on some platforms) briefly regress.
type clock struct {
	mu   sync.Mutex
	last int64
}

func (c *clock) now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := time.Now().UnixNano()
	if n <= c.last {
		n = c.last + 1
	}
	c.last = n
	return n
}
