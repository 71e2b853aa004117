package events

import "sync"

// Reason tags why the ledger changed.
type Reason string

const (
	ReasonPayment    Reason = "payment"
	ReasonWithdrawal Reason = "withdrawal"
	ReasonManual     Reason = "manual"
)

// Change announces that the proof ledger changed.
type Change struct {
	Reason Reason `json:"reason"`
	Amount int64  `json:"amount,omitempty"`
}

// Bus fans ledger-change notifications out to subscribers. Emit never
// blocks: a subscriber that stops draining misses changes rather than
// stalling the payment path.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Change
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Change)}
}

// Subscribe returns a change channel and a cancel func. Cancelling closes
// the channel.
func (b *Bus) Subscribe() (<-chan Change, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Change, 16)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Bus) Emit(c Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- c:
		default:
			// drop for slow subscribers
		}
	}
}

// Len reports the current subscriber count.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
