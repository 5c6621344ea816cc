//go:build linux

package afio

import (
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/aethne0/giouring"
	"golang.org/x/sys/unix"
)

// uringLoop owns a single io_uring instance and its dedicated
// submission/completion goroutine (the "ringlord" pattern). Submissions
// are handed over on a channel rather than made directly against the ring,
// since GetSQE/Submit are not safe to call concurrently from multiple
// goroutines.
type uringLoop struct {
	d       *Dispatcher
	ring    *giouring.Ring
	submits chan *uringOp
	closed  atomic.Bool
	done    chan struct{}

	// pending keeps every in-flight *uringOp reachable between submission
	// and completion, keyed by the token stashed in the SQE's UserData.
	// Without this, the only reference to op would be the raw uintptr
	// round-tripped through UserData, which the garbage collector doesn't
	// know is really a pointer -- op could be collected (or its memory
	// reused) before the matching CQE arrives. windowsPlatform.pending
	// solves the identical problem for the IOCP path.
	pendingMu sync.Mutex
	pending   map[uint64]*uringOp
	nextToken uint64
}

type uringOpcode uint8

const (
	uringOpRead uringOpcode = iota
	uringOpWrite
)

// uringOp is one submitted read/write. It is kept in uringLoop.pending
// under a token stashed in the SQE's UserData and recovered from the
// matching CQE.
type uringOp struct {
	id     OpID
	handle *posixHandle
	opcode uringOpcode
	buf    []byte
	offset int64
}

func newURingLoop(d *Dispatcher, entries uint32) (*uringLoop, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, err
	}

	l := &uringLoop{
		d:       d,
		ring:    ring,
		submits: make(chan *uringOp, entries),
		done:    make(chan struct{}),
		pending: make(map[uint64]*uringOp),
	}

	go l.run()

	return l, nil
}

// submitRead hands off a read to the ring. Returns false (caller should
// fall back to a synchronous preadv) if the loop has already been closed
// or its submission channel is full.
func (l *uringLoop) submitRead(id OpID, h *posixHandle, buf []byte, offset int64) bool {
	return l.submit(&uringOp{id: id, handle: h, opcode: uringOpRead, buf: buf, offset: offset})
}

func (l *uringLoop) submitWrite(id OpID, h *posixHandle, buf []byte, offset int64) bool {
	return l.submit(&uringOp{id: id, handle: h, opcode: uringOpWrite, buf: buf, offset: offset})
}

func (l *uringLoop) submit(op *uringOp) bool {
	if l.closed.Load() || len(op.buf) == 0 {
		return false
	}

	select {
	case l.submits <- op:
		return true
	default:
		return false
	}
}

func (l *uringLoop) close() error {
	l.closed.Store(true)
	close(l.done)
	l.ring.QueueExit()

	return nil
}

func (l *uringLoop) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	stime := syscall.Timespec{Sec: 0, Nsec: 1_000_000}
	var sigset unix.Sigset_t

	for {
		select {
		case <-l.done:
			return
		default:
		}

	drain:
		for {
			select {
			case op := <-l.submits:
				l.prepareSQE(op)
			default:
				break drain
			}
		}

		_, err := l.ring.SubmitAndWaitTimeout(1, &stime, &sigset)
		if err != nil && err != unix.ETIME && err != unix.EINTR {
			continue
		}

		for {
			cqe, err := l.ring.PeekCQE()
			if err != nil || cqe == nil {
				break
			}

			token := cqe.UserData
			res := cqe.Res
			l.ring.CQESeen(cqe)

			op, ok := l.resolve(token)
			if !ok {
				continue
			}

			go l.complete(op, res)
		}
	}
}

func (l *uringLoop) prepareSQE(op *uringOp) {
	sqe := l.ring.GetSQE()
	if sqe == nil {
		go l.complete(op, -int32(unix.EBUSY))
		return
	}

	buf := uintptr(unsafe.Pointer(&op.buf[0]))
	length := uint32(len(op.buf))
	offset := uint64(op.offset)

	switch op.opcode {
	case uringOpWrite:
		sqe.PrepareWrite(op.handle.fd, buf, length, offset)
	default:
		sqe.PrepareRead(op.handle.fd, buf, length, offset)
	}

	sqe.UserData = l.track(op)
}

// track stashes op under a fresh token, keeping it reachable until the
// matching CQE arrives and resolve is called.
func (l *uringLoop) track(op *uringOp) uint64 {
	l.pendingMu.Lock()
	defer l.pendingMu.Unlock()

	l.nextToken++
	token := l.nextToken
	l.pending[token] = op

	return token
}

// resolve looks up and removes the *uringOp tracked under token, called
// once per completion.
func (l *uringLoop) resolve(token uint64) (*uringOp, bool) {
	l.pendingMu.Lock()
	defer l.pendingMu.Unlock()

	op, ok := l.pending[token]
	if ok {
		delete(l.pending, token)
	}

	return op, ok
}

func (l *uringLoop) complete(op *uringOp, res int32) {
	var err error

	switch {
	case res < 0:
		err = unix.Errno(-res)
	case op.opcode == uringOpWrite:
		op.handle.recordWrite(int(res))
	}

	if err != nil {
		errOp := op.opcode == uringOpWrite
		opName := "read"
		if errOp {
			opName = "write"
		}

		err = &OpError{Op: opName, Path: op.handle.Path(), Err: err}
	}

	l.d.completeOp(op.id, op.handle, err)
}
