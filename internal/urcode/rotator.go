package urcode

import (
	"sync"
	"time"
)

// Rotator drives an Encoder on a fixed interval, pushing each fragment to
// one consumer. Replacing the payload swaps the encoder and its timer as
// one step; the previous driver is stopped before the new one starts, so
// two never run at once.
type Rotator struct {
	onPart func(string)

	mu      sync.Mutex
	enc     *Encoder
	stop    chan struct{}
	current string
}

func NewRotator(onPart func(string)) *Rotator {
	if onPart == nil {
		onPart = func(string) {}
	}
	return &Rotator{onPart: onPart}
}

// Replace installs a new payload and rotation interval, emitting the
// first fragment immediately.
func (r *Rotator) Replace(payload []byte, maxFragmentLen int, interval time.Duration) error {
	enc, err := NewEncoder(payload, maxFragmentLen)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.stop != nil {
		close(r.stop)
	}
	stop := make(chan struct{})
	r.enc = enc
	r.stop = stop
	r.current = enc.CurrentPart()
	r.mu.Unlock()

	r.onPart(enc.CurrentPart())
	go r.run(enc, stop, interval)
	return nil
}

// Stop halts rotation. Safe to call repeatedly.
func (r *Rotator) Stop() {
	r.mu.Lock()
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
	r.mu.Unlock()
}

// Current returns the fragment most recently emitted.
func (r *Rotator) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Rotator) run(enc *Encoder, stop chan struct{}, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}

		r.mu.Lock()
		if r.stop != stop {
			// replaced while we were ticking
			r.mu.Unlock()
			return
		}
		part := enc.NextPart()
		r.current = part
		r.mu.Unlock()

		r.onPart(part)
	}
}
