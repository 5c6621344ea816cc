package afio

import (
	"runtime"
	"testing"
	"time"
	"weak"

	"github.com/stretchr/testify/assert"
)

type fakeHandle struct {
	handleBase
	native uintptr
}

func (h *fakeHandle) Native() uintptr    { return h.native }
func (h *fakeHandle) closeNative() error { return nil }
func (h *fakeHandle) syncNative() error  { return nil }

func (h *fakeHandle) newWeakRef() weakRef {
	return fakeWeakRef{wp: weak.Make(h)}
}

type fakeWeakRef struct {
	wp weak.Pointer[fakeHandle]
}

func (w fakeWeakRef) get() Handle {
	p := w.wp.Value()
	if p == nil {
		return nil
	}

	return p
}

var _ Handle = (*fakeHandle)(nil)
var _ weakRef = fakeWeakRef{}

func Test_HandleRegistry_Lookup_Returns_Registered_Handle(t *testing.T) {
	t.Parallel()

	r := NewHandleRegistry()
	h := &fakeHandle{handleBase: handleBase{path: "/tmp/x"}, native: 7}

	r.Register(h)

	got := r.Lookup(7)
	assert.Same(t, Handle(h), got)
	assert.Equal(t, 1, r.Count())
}

func Test_HandleRegistry_Ignores_Synthetic_Zero_Native_Handles(t *testing.T) {
	t.Parallel()

	r := NewHandleRegistry()
	h := &fakeHandle{handleBase: handleBase{path: "/tmp/dir"}, native: 0}

	r.Register(h)

	assert.Equal(t, 0, r.Count())
	assert.Nil(t, r.Lookup(0))
}

func Test_HandleRegistry_Unregister_Removes_Entry(t *testing.T) {
	t.Parallel()

	r := NewHandleRegistry()
	h := &fakeHandle{handleBase: handleBase{path: "/tmp/x"}, native: 3}

	r.Register(h)
	r.Unregister(3)

	assert.Nil(t, r.Lookup(3))
	assert.Equal(t, 0, r.Count())
}

func Test_HandleRegistry_Does_Not_Extend_Handle_Lifetime(t *testing.T) {
	// Registering a handle must not keep it alive: once every strong
	// reference is dropped, Lookup should observe it gone rather than
	// resurrecting it.
	r := NewHandleRegistry()

	native := uintptr(99)

	func() {
		h := &fakeHandle{handleBase: handleBase{path: "/tmp/weak"}, native: native}
		r.Register(h)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runtime.GC()

		if r.Lookup(native) == nil {
			return
		}
	}

	t.Fatal("handle was still reachable through the registry after its owner was dropped")
}
