package afio

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// syncExecutor runs fn on a freshly spawned, unbounded goroutine. Unlike
// PoolExecutor it has no concurrency limit, which keeps dispatcher tests
// free of scheduling artifacts; it still honors the Executor contract of
// never running fn on the calling goroutine (chainOpLocked calls Enqueue
// while holding the operation table lock, and fn may need that same lock
// to call completeOp).
type syncExecutor struct{}

func (syncExecutor) Enqueue(fn func() (Handle, error)) *Future[Handle] {
	promise := NewPromise[Handle]()

	go func() {
		h, err := fn()
		promise.Fulfill(h, err)
	}()

	return promise.Future()
}

func Test_PoolExecutor_Enqueue_Does_Not_Block_Caller(t *testing.T) {
	t.Parallel()

	exec := NewPoolExecutor(1)
	defer exec.Close()

	block := make(chan struct{})

	done := make(chan struct{})
	go func() {
		exec.Enqueue(func() (Handle, error) {
			<-block
			return nil, nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked the calling goroutine")
	}

	close(block)
}

func Test_PoolExecutor_Bounds_Concurrency(t *testing.T) {
	t.Parallel()

	const limit = 3

	exec := NewPoolExecutor(limit)
	defer exec.Close()

	var running, maxObserved atomic.Int64

	release := make(chan struct{})

	futures := make([]*Future[Handle], 0, limit*3)
	for range limit * 3 {
		futures = append(futures, exec.Enqueue(func() (Handle, error) {
			n := running.Add(1)
			for {
				m := maxObserved.Load()
				if n <= m || maxObserved.CompareAndSwap(m, n) {
					break
				}
			}

			<-release
			running.Add(-1)

			return nil, nil
		}))
	}

	time.Sleep(50 * time.Millisecond)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, fut := range futures {
		_, err := fut.Wait(ctx)
		assert.NoError(t, err)
	}

	assert.LessOrEqual(t, maxObserved.Load(), int64(limit))
}
