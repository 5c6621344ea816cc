package afio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	d, err := NewDispatcher(syncExecutor{}, 0, 0)
	assert.NoError(t, err)

	return d
}

func Test_ChainOp_With_No_Precondition_Runs_Immediately(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t)

	handle := &fakeHandle{handleBase: handleBase{path: "root"}}

	d.table.mu.Lock()
	op := d.chainOpLocked(KindDirCreate, Op{}, func(OpID) opTask {
		return func(incoming Handle) (bool, Handle, error) {
			assert.Nil(t, incoming)
			return true, handle, nil
		}
	})
	d.table.mu.Unlock()

	v, err := op.Future.Get()
	assert.NoError(t, err)
	assert.Same(t, Handle(handle), v)
	assert.Equal(t, 0, d.WaitQueueDepth())
}

func Test_ChainOp_Deferred_Kind_Gets_Detached_Promise(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t)

	d.table.mu.Lock()
	op := d.chainOpLocked(KindRead, Op{}, func(id OpID) opTask {
		return func(incoming Handle) (bool, Handle, error) { return false, nil, nil }
	})
	d.table.mu.Unlock()

	assert.False(t, op.Future.Ready())
	assert.Equal(t, 1, d.WaitQueueDepth())

	d.completeOp(op.ID, &fakeHandle{}, nil)

	assert.True(t, op.Future.Ready())
	assert.Equal(t, 0, d.WaitQueueDepth())
}

func Test_ChainOp_Onto_InFlight_Precondition_Fans_Out_On_Completion(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t)

	preHandle := &fakeHandle{handleBase: handleBase{path: "pre"}}
	postHandle := &fakeHandle{handleBase: handleBase{path: "post"}}

	d.table.mu.Lock()
	pre := d.chainOpLocked(KindRead, Op{}, func(id OpID) opTask {
		return func(incoming Handle) (bool, Handle, error) { return false, nil, nil }
	})
	d.table.mu.Unlock()

	var sawPrecondition Handle

	d.table.mu.Lock()
	dependent := d.chainOpLocked(KindDirCreate, pre, func(id OpID) opTask {
		return func(incoming Handle) (bool, Handle, error) {
			sawPrecondition = incoming
			return true, postHandle, nil
		}
	})
	d.table.mu.Unlock()

	assert.False(t, dependent.Future.Ready(), "dependent must not run before its precondition completes")

	d.completeOp(pre.ID, preHandle, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v, err := dependent.Future.Wait(ctx)
	assert.NoError(t, err)
	assert.Same(t, Handle(postHandle), v)
	assert.Same(t, Handle(preHandle), sawPrecondition)
}

func Test_ChainOp_Onto_Already_Complete_Precondition_Does_Not_Block(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t)

	preHandle := &fakeHandle{handleBase: handleBase{path: "pre"}}

	d.table.mu.Lock()
	pre := d.chainOpLocked(KindDirCreate, Op{}, func(id OpID) opTask {
		return func(incoming Handle) (bool, Handle, error) { return true, preHandle, nil }
	})
	d.table.mu.Unlock()

	// Block until pre's async task has actually run and its completion has
	// erased it from the table, so the next chainOpLocked call genuinely
	// exercises the "precondition already gone" branch rather than racing
	// pre's own executor goroutine.
	_, err := pre.Future.Get()
	assert.NoError(t, err)

	var sawPrecondition Handle

	d.table.mu.Lock()
	dependent := d.chainOpLocked(KindDirCreate, pre, func(id OpID) opTask {
		return func(incoming Handle) (bool, Handle, error) {
			sawPrecondition = incoming
			return true, incoming, nil
		}
	})
	d.table.mu.Unlock()

	_, err = dependent.Future.Get()
	assert.NoError(t, err)
	assert.Same(t, Handle(preHandle), sawPrecondition)
}

func Test_CompleteOp_Unknown_Id_Panics_With_TableInvariantError(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t)

	defer func() {
		r := recover()
		assert.NotNil(t, r)

		var tie *TableInvariantError
		assert.True(t, errors.As(asError(r), &tie))
	}()

	d.completeOp(OpID(999), nil, nil)
}

func asError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}

	return nil
}

func Test_Sync_Then_Close_Preconditions_Order_Against_Same_Handle(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t)

	handle := &fakeHandle{handleBase: handleBase{path: "f"}}

	d.table.mu.Lock()
	fileOp := d.chainOpLocked(KindFileOpen, Op{}, func(id OpID) opTask {
		return func(incoming Handle) (bool, Handle, error) { return true, handle, nil }
	})
	d.table.mu.Unlock()

	var order []string

	d.table.mu.Lock()
	syncOp := d.chainOpLocked(KindSync, fileOp, func(id OpID) opTask {
		return func(incoming Handle) (bool, Handle, error) {
			order = append(order, "sync")
			return true, incoming, nil
		}
	})
	d.table.mu.Unlock()

	d.table.mu.Lock()
	closeOp := d.chainOpLocked(KindClose, syncOp, func(id OpID) opTask {
		return func(incoming Handle) (bool, Handle, error) {
			order = append(order, "close")
			return true, incoming, nil
		}
	})
	d.table.mu.Unlock()

	_, err := closeOp.Future.Get()
	assert.NoError(t, err)
	assert.Equal(t, []string{"sync", "close"}, order)
}
