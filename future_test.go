package afio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_Promise_Fulfill_Resolves_Future(t *testing.T) {
	t.Parallel()

	p := NewPromise[int]()
	fut := p.Future()

	assert.False(t, fut.Ready())

	p.Fulfill(42, nil)

	assert.True(t, fut.Ready())

	v, err := fut.Get()
	assert.NoError(t, err)
	assert.Equal(t, 42, v)
}

func Test_Promise_Fulfill_Is_Idempotent(t *testing.T) {
	t.Parallel()

	p := NewPromise[int]()
	p.Fulfill(1, nil)
	p.Fulfill(2, errors.New("ignored"))

	v, err := p.Future().Get()
	assert.NoError(t, err)
	assert.Equal(t, 1, v)
}

func Test_Future_Wait_Times_Out_Before_Fulfillment(t *testing.T) {
	t.Parallel()

	p := NewPromise[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Future().Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func Test_ResolvedFuture_Is_Ready_Immediately(t *testing.T) {
	t.Parallel()

	fut := ResolvedFuture(7, nil)

	assert.True(t, fut.Ready())

	v, err := fut.Get()
	assert.NoError(t, err)
	assert.Equal(t, 7, v)
}

func Test_Future_Get_Observed_By_Multiple_Goroutines(t *testing.T) {
	t.Parallel()

	p := NewPromise[string]()

	results := make(chan string, 4)
	for range 4 {
		go func() {
			v, _ := p.Future().Get()
			results <- v
		}()
	}

	p.Fulfill("shared", nil)

	for range 4 {
		assert.Equal(t, "shared", <-results)
	}
}
