package worker

import (
	"context"
	"time"
)

// Queue is the Redis list a worker consumes. Satisfied by *cache.RedisCache.
type Queue interface {
	Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
	TryPop(ctx context.Context, queue string) ([]byte, error)
	Requeue(ctx context.Context, queue string, raw []byte) error
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
