package proto

import "encoding/json"

// EnvelopeKind identifies gift-wrapped payment envelopes on the relay
// network. Relays index events by kind and recipient tag.
const EnvelopeKind = 1059

// Envelope is the relay-visible unit: an opaque sealed payload addressed
// to a recipient public key. The sender key inside the seal is single-use,
// so relays learn nothing about who sent it.
type Envelope struct {
	ID        string `json:"id"`
	Kind      int    `json:"kind"`
	Recipient string `json:"recipient"` // hex X25519 public key
	Sealed    []byte `json:"sealed"`    // noise X message, base64 in JSON
	CreatedAt int64  `json:"created_at"`
}

// QuoteDescriptor is the decrypted payload of a payment envelope: the
// mint quote a remote cashier has collected payment for. Extra fields
// from the mint pass through Raw untouched.
type QuoteDescriptor struct {
	Quote   string `json:"quote"`
	Amount  int64  `json:"amount"`
	Request string `json:"request"`
	MintURL string `json:"mint_url,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// DecodeQuoteDescriptor parses a decrypted envelope payload, keeping the
// original bytes for pass-through.
func DecodeQuoteDescriptor(b []byte) (QuoteDescriptor, error) {
	var q QuoteDescriptor
	if err := json.Unmarshal(b, &q); err != nil {
		return QuoteDescriptor{}, err
	}
	q.Raw = append(json.RawMessage(nil), b...)
	return q, nil
}

// Filter selects envelopes on a relay subscription.
type Filter struct {
	Kinds      []int    `json:"kinds"`
	Recipients []string `json:"#p"`
}
