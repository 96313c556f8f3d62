package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	pool := New(2)
	var concurrent int32
	var maxConcurrent int32

	for i := 0; i < 10; i++ {
		pool.Submit(context.Background(), func(ctx context.Context) error {
			n := atomic.AddInt32(&concurrent, 1)
			for {
				old := atomic.LoadInt32(&maxConcurrent)
				if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&concurrent, -1)
			return nil
		})
	}
	pool.Wait()

	assert.LessOrEqual(t, maxConcurrent, int32(2))
}

func TestPool_TrySubmitRejectsWhenFull(t *testing.T) {
	pool := New(1)
	release := make(chan struct{})

	ok := pool.TrySubmit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	})
	assert.True(t, ok)

	// the single slot is occupied; a second TrySubmit must be rejected.
	assert.Eventually(t, func() bool {
		return pool.InFlight() == 1
	}, time.Second, time.Millisecond)

	rejected := pool.TrySubmit(context.Background(), func(ctx context.Context) error { return nil })
	assert.False(t, rejected)

	close(release)
	pool.Wait()
}

func TestPool_CollectsErrors(t *testing.T) {
	pool := New(4)
	boom := errors.New("boom")
	pool.Submit(context.Background(), func(ctx context.Context) error { return boom })
	errs := pool.Wait()
	assert.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}
