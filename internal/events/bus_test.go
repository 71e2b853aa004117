package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	b := NewBus()

	a, cancelA := b.Subscribe()
	defer cancelA()
	c, cancelC := b.Subscribe()
	defer cancelC()
	assert.Equal(t, 2, b.Len())

	want := Change{Reason: ReasonPayment, Amount: 500}
	b.Emit(want)

	for _, ch := range []<-chan Change{a, c} {
		select {
		case got := <-ch:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("subscriber never received the change")
		}
	}
}

func TestCancelClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe()

	cancel()
	cancel() // idempotent
	assert.Zero(t, b.Len())

	_, open := <-ch
	assert.False(t, open)

	// emitting after cancel must not panic or deliver
	b.Emit(Change{Reason: ReasonManual})
}

// A subscriber that stops draining loses changes instead of stalling the
// emitter.
func TestEmitNeverBlocks(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Emit(Change{Reason: ReasonPayment, Amount: int64(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on a full subscriber")
	}

	// buffer holds the earliest changes; the rest were dropped
	require.NotEmpty(t, ch)
	first := <-ch
	assert.Equal(t, int64(0), first.Amount)
}
