package processor

import (
	"context"
	"sync"
)

// ConcLimiter bounds the number of ingests in flight. Callers pair every
// successful IncreaseContext with a Decrease.
type ConcLimiter struct {
	*sync.WaitGroup
	Pool chan struct{}
}

// IncreaseContext waits for a free slot until ctx is done.
func (c *ConcLimiter) IncreaseContext(ctx context.Context) error {
	select {
	case c.Pool <- struct{}{}:
		c.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ConcLimiter) Decrease() {
	select {
	case <-c.Pool:
		c.Done()
	default:
	}
}

func (c *ConcLimiter) Running() int {
	return len(c.Pool)
}

func NewConcLimiter(cLevel int) *ConcLimiter {
	if cLevel < 1 {
		cLevel = 1
	}
	var wg sync.WaitGroup
	return &ConcLimiter{&wg, make(chan struct{}, cLevel)}
}
