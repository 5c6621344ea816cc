package afio

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Executor is the dispatcher's sole external collaborator: an opaque
// worker pool exposing enqueue(task) -> future<result>. The concrete
// worker pool is deliberately out of the dispatcher's scope. The
// dispatcher never inspects how Enqueue schedules fn; it only relies on
// Enqueue never blocking and on the returned future eventually resolving.
type Executor interface {
	// Enqueue schedules fn for execution and returns a future resolving to
	// its return value. Must not block the calling goroutine, and must not
	// run fn on the calling goroutine either: Dispatcher calls Enqueue
	// while holding its operation table lock, and fn may itself need that
	// lock (to report completion). Running fn synchronously deadlocks.
	Enqueue(fn func() (Handle, error)) *Future[Handle]
}

// PoolExecutor is a reference [Executor] bounding concurrency with a
// weighted semaphore rather than a fixed worker-goroutine pool: Enqueue
// spawns a goroutine per task (cheap, never blocks) that then waits on the
// semaphore before running fn, capping how many run at once. This keeps
// Enqueue non-blocking without needing a bounded channel (whose send could
// block while the dispatcher holds the operation table lock).
type PoolExecutor struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoolExecutor returns a PoolExecutor allowing up to concurrency tasks
// to run at once. concurrency <= 0 uses GOMAXPROCS.
func NewPoolExecutor(concurrency int) *PoolExecutor {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &PoolExecutor{
		sem:    semaphore.NewWeighted(int64(concurrency)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue implements Executor.
func (p *PoolExecutor) Enqueue(fn func() (Handle, error)) *Future[Handle] {
	promise := NewPromise[Handle]()

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			promise.Fulfill(nil, err)
			return
		}
		defer p.sem.Release(1)

		h, err := fn()
		promise.Fulfill(h, err)
	}()

	return promise.Future()
}

// Close stops accepting new work from running (in-flight Acquire calls
// return context.Canceled) and waits for every spawned goroutine to exit. It
// does not cancel work that already acquired the semaphore and is running
// fn; those tasks run to completion.
func (p *PoolExecutor) Close() {
	p.cancel()
	p.wg.Wait()
}
