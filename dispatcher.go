package afio

import (
	"log/slog"
	"sync"
)

// Dispatcher is the top-level facade: it owns the operation table, the
// handle registry, and the injected executor, and exposes the batch
// submission methods. A Dispatcher never blocks the
// calling goroutine; it only mutates the operation table and hands work to
// its Executor.
type Dispatcher struct {
	executor Executor
	table    *operationTable
	registry *HandleRegistry
	logger   *slog.Logger

	flagsForce Flags
	flagsMask  Flags

	// platform holds the OS-specific extras (an io_uring loop on Linux
	// when enabled, an IOCP handle set on Windows). Its concrete type is
	// decided by the build-tagged newPlatformState in this OS's backend
	// file; nothing outside that file ever needs to know its shape.
	platform any
}

// NewDispatcher wires an Executor and returns a ready Dispatcher.
// forceFlags and maskFlags feed FileFlags, letting an administrator force
// or forbid specific open flags across every request. Options configure
// logging and backend selection.
func NewDispatcher(executor Executor, forceFlags, maskFlags Flags, opts ...Option) (*Dispatcher, error) {
	cfg := defaultDispatcherOptions()
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &Dispatcher{
		executor:   executor,
		table:      newOperationTable(),
		registry:   NewHandleRegistry(),
		logger:     cfg.logger,
		flagsForce: forceFlags,
		flagsMask:  maskFlags,
	}

	platform, err := newPlatformState(d, cfg)
	if err != nil {
		return nil, &OpError{Op: "dispatcher-init", Err: err}
	}
	d.platform = platform

	return d, nil
}

// Shutdown releases any OS-level resources the dispatcher itself owns (an
// io_uring ring, an IOCP port). It does not close any outstanding Handle;
// callers are responsible for draining in-flight operations first. Named
// distinctly from the batch Close operation below, which submits file/dir
// close requests rather than tearing down the dispatcher itself.
func (d *Dispatcher) Shutdown() error {
	return shutdownPlatform(d)
}

// WaitQueueDepth returns the number of in-flight (not yet completed)
// operations.
func (d *Dispatcher) WaitQueueDepth() int {
	d.table.mu.Lock()
	defer d.table.mu.Unlock()

	return d.table.depth()
}

// Count returns the number of Handles currently registered and still
// live.
func (d *Dispatcher) Count() int {
	return d.registry.Count()
}

// runTask executes task on the executor, wiring completeOp into its
// continuation when the task reports it is done. Returns the future the
// executor produced (the raw result of running task, not necessarily the
// Operation's own exposed future -- see chainOpLocked).
func (d *Dispatcher) runTask(id OpID, task opTask, incoming Handle) *Future[Handle] {
	return d.executor.Enqueue(func() (Handle, error) {
		completeNow, outgoing, err := task(incoming)
		if completeNow {
			d.completeOp(id, outgoing, err)
		}

		return outgoing, err
	})
}

// chainOpLocked assigns an id, resolves the precondition (none, in-flight,
// or already complete), and either runs the request immediately or queues
// it as a continuation. buildTask receives the id assigned to this
// operation so it can
// bind it into async completion callbacks (io_uring, IOCP). Caller must
// hold d.table.mu for the whole batch this call is part of.
func (d *Dispatcher) chainOpLocked(kind OpKind, precondition Op, buildTask func(OpID) opTask) Op {
	id := d.table.nextID()
	task := buildTask(id)

	op := &operation{kind: kind}

	deferred := deferredKind(kind)
	if deferred {
		promise := NewPromise[Handle]()
		op.promise = promise
		op.future = promise.Future()
	}

	switch {
	case precondition.ID == 0:
		fut := d.runTask(id, task, nil)
		if !deferred {
			op.future = fut
		}

	default:
		if pre, inFlight := d.table.ops[precondition.ID]; inFlight {
			pre.continuations = append(pre.continuations, continuation{id: id, task: task})

			if !deferred {
				relay := NewPromise[Handle]()
				op.future = relay.Future()
				op.relay = relay
			}
		} else {
			// Precondition already completed; its own descriptor future
			// is ready, so extracting the yielded handle does not block
			// in practice.
			incoming, _ := precondition.Future.Get()

			fut := d.runTask(id, task, incoming)
			if !deferred {
				op.future = fut
			}
		}
	}

	d.table.ops[id] = op

	return Op{Dispatcher: d, ID: id, Future: op.future}
}

// completeOp locates the operation, detaches and fans out its
// continuations, fulfills its own detached promise or relay (if any), and
// erases it from the table.
//
// The relay fulfillment happens right here, synchronously, in the same
// critical section as the delete below -- not in a goroutine spawned to
// wait on some other future. That guarantees an op whose public Future is
// a promise or relay is already resolved by the moment chainOpLocked can
// observe the op as gone from the table. An op whose public Future is the
// executor's own is resolved by the executor just after its task (and so
// this call) returns, so the "precondition already completed" branch there
// waits at most for that final step, never for work still in flight.
func (d *Dispatcher) completeOp(id OpID, h Handle, err error) {
	d.table.mu.Lock()

	op, ok := d.table.ops[id]
	if !ok {
		live := d.table.liveIDs()
		d.table.mu.Unlock()
		d.raiseInvariantViolation("completion for unknown operation id", id, live)

		return
	}

	if deferredKind(op.kind) && op.promise == nil {
		live := d.table.liveIDs()
		d.table.mu.Unlock()
		d.raiseInvariantViolation("deferred-completion operation has no detached promise", id, live)

		return
	}

	continuations := op.continuations
	op.continuations = nil

	for _, c := range continuations {
		if _, ok := d.table.ops[c.id]; !ok {
			live := d.table.liveIDs()
			d.table.mu.Unlock()
			d.raiseInvariantViolation("continuation references unknown dependent operation id", c.id, live)

			return
		}

		// The dependent's own future (promise or relay) resolves when
		// this task runs to completion -- for a non-deferred kind that's
		// this same nested completeOp call, for a deferred kind it's a
		// later native/user callback.
		d.runTask(c.id, c.task, h)
	}

	if op.promise != nil {
		op.promise.Fulfill(h, err)
	}

	if op.relay != nil {
		op.relay.Fulfill(h, err)
	}

	delete(d.table.ops, id)
	d.table.mu.Unlock()
}

// raiseInvariantViolation logs and panics on a broken operation-table
// invariant: a completion callback firing for an id the table no longer
// knows about, a deferred-completion operation without a detached promise,
// or a continuation pointing at a dependent that vanished.
// The original engine calls std::terminate() here; panic is the closest Go
// equivalent for a defect that leaves shared state untrustworthy.
func (d *Dispatcher) raiseInvariantViolation(reason string, id OpID, live []OpID) {
	tie := &TableInvariantError{Reason: reason, OpID: id, LiveIDs: live}
	d.logger.Error("afio: operation table invariant violated", "err", tie)
	panic(tie)
}

// submitBatch runs every request in reqs through chainOpLocked under a
// single table-lock acquisition, so an entire batch is chained atomically
// with respect to other submissions and completions.
func submitBatch[R any](d *Dispatcher, kind OpKind, reqs []R, precondOf func(R) Op, buildTask func(OpID, R) opTask) []Op {
	d.table.mu.Lock()
	defer d.table.mu.Unlock()

	ops := make([]Op, len(reqs))

	for i, req := range reqs {
		req := req
		ops[i] = d.chainOpLocked(kind, precondOf(req), func(id OpID) opTask { return buildTask(id, req) })
	}

	return ops
}

// pathOpTask wraps a backend path operation with the NUL-byte check every
// path-accepting request shares, so a malformed path is rejected uniformly
// with ErrContainsNUL instead of an opaque platform errno.
func pathOpTask(opName string, r PathRequest, backend func(incoming Handle) (bool, Handle, error)) opTask {
	return func(incoming Handle) (bool, Handle, error) {
		if err := validatePath(r.Path); err != nil {
			return true, nil, &OpError{Op: opName, Path: r.Path, Err: err}
		}

		return backend(incoming)
	}
}

// Dir submits one dir-create request per element of reqs.
func (d *Dispatcher) Dir(reqs []PathRequest) []Op {
	return submitBatch(d, KindDirCreate, reqs, pathPrecondition, func(id OpID, r PathRequest) opTask {
		return pathOpTask("dir-create", r, func(incoming Handle) (bool, Handle, error) { return backendDirCreate(d, id, incoming, r) })
	})
}

// RmDir submits one dir-remove request per element of reqs.
func (d *Dispatcher) RmDir(reqs []PathRequest) []Op {
	return submitBatch(d, KindDirRemove, reqs, pathPrecondition, func(id OpID, r PathRequest) opTask {
		return pathOpTask("dir-remove", r, func(incoming Handle) (bool, Handle, error) { return backendDirRemove(d, id, incoming, r) })
	})
}

// File submits one file-open request per element of reqs.
func (d *Dispatcher) File(reqs []PathRequest) []Op {
	return submitBatch(d, KindFileOpen, reqs, pathPrecondition, func(id OpID, r PathRequest) opTask {
		return pathOpTask("file-open", r, func(incoming Handle) (bool, Handle, error) { return backendFileOpen(d, id, incoming, r) })
	})
}

// RmFile submits one file-remove request per element of reqs.
func (d *Dispatcher) RmFile(reqs []PathRequest) []Op {
	return submitBatch(d, KindFileRemove, reqs, pathPrecondition, func(id OpID, r PathRequest) opTask {
		return pathOpTask("file-remove", r, func(incoming Handle) (bool, Handle, error) { return backendFileRemove(d, id, incoming, r) })
	})
}

// Sync submits a sync request for each Op in ops. Each element serves as
// both precondition and target: the handle it yields is the one flushed.
func (d *Dispatcher) Sync(ops []Op) []Op {
	return submitBatch(d, KindSync, ops, identityPrecondition, func(id OpID, pre Op) opTask {
		return func(incoming Handle) (bool, Handle, error) { return backendSync(d, id, incoming) }
	})
}

// Close submits a close request for each Op in ops. On Linux, a handle
// that was ever fsynced transparently grows an appended open-dir/sync/close
// chain against its containing directory. Every returned Op is a deferred
// user-completion operation chained onto the raw file close (see
// maybeChainDirectorySync): its Future resolves with the final directory
// close's outcome when such a chain was grown, and with the raw file
// close's outcome otherwise.
func (d *Dispatcher) Close(ops []Op) []Op {
	raw := d.rawClose(ops)

	out := make([]Op, len(raw))
	for i := range raw {
		out[i] = maybeChainDirectorySync(d, ops[i], raw[i])
	}

	return out
}

// rawClose submits a close request with no directory-sync chaining
// appended. Used both by Close and, internally, by maybeChainDirectorySync
// to close the appended directory handle without recursing.
func (d *Dispatcher) rawClose(ops []Op) []Op {
	return submitBatch(d, KindClose, ops, identityPrecondition, func(id OpID, pre Op) opTask {
		return func(incoming Handle) (bool, Handle, error) { return backendClose(d, id, incoming) }
	})
}

// Read submits one positional read per element of reqs. Reads always get
// a detached promise: on backends with a genuine async completion path
// (io_uring, IOCP) the promise is fulfilled by that path; otherwise the
// synchronous backend call completes it immediately from the executor
// goroutine.
func (d *Dispatcher) Read(reqs []DataRequest) []Op {
	return submitBatch(d, KindRead, reqs, dataPrecondition, func(id OpID, r DataRequest) opTask {
		return func(incoming Handle) (bool, Handle, error) { return backendRead(d, id, incoming, r) }
	})
}

// Write submits one positional write per element of reqs.
func (d *Dispatcher) Write(reqs []DataRequest) []Op {
	return submitBatch(d, KindWrite, reqs, dataPrecondition, func(id OpID, r DataRequest) opTask {
		return func(incoming Handle) (bool, Handle, error) { return backendWrite(d, id, incoming, r) }
	})
}

// Completion chains an arbitrary user callback into the operation graph.
// A request with Deferred set completes only when its Fn calls the
// DeferredCompleter handed to it, letting the callback hand off to work
// that finishes asynchronously elsewhere.
func (d *Dispatcher) Completion(reqs []CompletionRequest) []Op {
	return submitBatch(d, KindUserCompletion, reqs, completionPrecondition, func(id OpID, r CompletionRequest) opTask {
		return func(incoming Handle) (bool, Handle, error) {
			if r.Deferred {
				var once sync.Once
				h, err := r.Fn(incoming, func(h Handle, err error) {
					once.Do(func() { d.completeOp(id, h, err) })
				})

				return false, h, err
			}

			h, err := r.Fn(incoming, nil)
			return true, h, err
		}
	})
}

func pathPrecondition(r PathRequest) Op             { return r.Precondition }
func dataPrecondition(r DataRequest) Op             { return r.Precondition }
func completionPrecondition(r CompletionRequest) Op { return r.Precondition }
func identityPrecondition(op Op) Op                 { return op }
