package mint

import (
	"context"

	"peanutpal/internal/ledger"
)

// Quote is a pending payment request issued by a mint.
type Quote struct {
	ID      string `json:"quote"`
	Request string `json:"request"` // bolt11 invoice to present to the payer
	Amount  int64  `json:"amount"`
	State   string `json:"state"`
	Expiry  int64  `json:"expiry"`
}

// Quote states as reported by the mint.
const (
	StateUnpaid = "UNPAID"
	StatePaid   = "PAID"
	StateIssued = "ISSUED"
)

// Client is the narrow capability surface we need from a mint. The real
// protocol behind it is opaque; tests swap in a fake.
type Client interface {
	// CreateQuote asks the mint for a payment quote over amount.
	CreateQuote(ctx context.Context, amount int64) (Quote, error)

	// MintProofs redeems a paid quote into proofs.
	MintProofs(ctx context.Context, amount int64, quoteID string) ([]ledger.Proof, error)

	// OnQuotePaid watches one quote and calls exactly one of onPaid or
	// onFailed, then stops. Cancelling ctx stops the watch without a
	// callback.
	OnQuotePaid(ctx context.Context, quoteID string, onPaid func(Quote), onFailed func(error))
}
