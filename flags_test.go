package afio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Flags_Has_Requires_All_Bits(t *testing.T) {
	t.Parallel()

	f := Read | Write

	assert.True(t, f.Has(Read))
	assert.True(t, f.Has(Read|Write))
	assert.False(t, f.Has(Append))
}

func Test_Dispatcher_FileFlags_Applies_Force_And_Mask(t *testing.T) {
	t.Parallel()

	d := &Dispatcher{flagsForce: OSSync, flagsMask: OSDirect}

	got := d.FileFlags(Read | OSDirect)

	assert.True(t, got.Has(Read), "unrelated flags pass through")
	assert.False(t, got.Has(OSDirect), "masked flags are cleared")
	assert.True(t, got.Has(OSSync), "forced flags are always set")
}
