package ledger

// Proof is an unspent value fragment issued by a mint. Secret is globally
// unique and is the storage key; only IsSpent ever changes after insert.
type Proof struct {
	Secret    string `json:"secret"`
	Amount    int64  `json:"amount"`
	ID        string `json:"id"` // keyset id, opaque to us
	C         string `json:"C"`  // mint signature, opaque to us
	MintURL   string `json:"mint_url"`
	CreatedAt int64  `json:"created_at"` // unix millis
	IsSpent   bool   `json:"is_spent"`
}

// EventType classifies history entries.
type EventType string

const (
	EventDirectPayment EventType = "direct-payment"
	EventRemotePayment EventType = "remote-payment"
	EventWithdrawal    EventType = "withdrawal"
)

// HistoryEvent is an append-only record of a wallet-level action.
type HistoryEvent struct {
	ID        uint64    `json:"id"`
	CreatedAt int64     `json:"created_at"` // unix millis
	Amount    int64     `json:"amount"`
	Type      EventType `json:"type"`
	MintURL   string    `json:"mint_url,omitempty"`
	QuoteID   string    `json:"quote_id,omitempty"`
	Metadata  string    `json:"metadata,omitempty"`
}

// Stats is a derived, read-only snapshot of the proof ledger.
type Stats struct {
	TotalProofs   int   `json:"total_proofs"`
	UnspentProofs int   `json:"unspent_proofs"`
	SpentProofs   int   `json:"spent_proofs"`
	TotalBalance  int64 `json:"total_balance"`
	TotalSpent    int64 `json:"total_spent"`
}

// Page is one page of history, newest first.
type Page struct {
	Events   []HistoryEvent `json:"events"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// Store is the durable proof ledger plus the history log. Implementations
// must commit each mutation in its own transaction: readers always see a
// fully applied batch, never a partial one.
type Store interface {
	// StoreProofs upserts the batch by secret under mintURL, atomically.
	// Re-storing a known secret updates metadata only; it never duplicates
	// and never resurrects a spent proof.
	StoreProofs(proofs []Proof, mintURL string) error

	ProofBySecret(secret string) (*Proof, bool, error)
	UnspentProofs() ([]Proof, error)
	AllProofs() ([]Proof, error)
	ProofsByMint(mintURL string) ([]Proof, error)
	TotalBalance() (int64, error)

	// MarkSpent flips IsSpent for the listed secrets. Unknown secrets are
	// ignored, not an error.
	MarkSpent(secrets []string) error

	DeleteProofs(secrets []string) error
	Stats() (Stats, error)

	// PurgeAll destroys every proof. Explicit user action only.
	PurgeAll() error

	// AddEvent appends to the history log, assigning ID and CreatedAt if
	// unset.
	AddEvent(ev HistoryEvent) error
	HistoryPage(page, size int) (Page, error)
}

// SumUnspent is the balance definition: the sum over unspent proofs.
func SumUnspent(proofs []Proof) int64 {
	var total int64
	for _, p := range proofs {
		if !p.IsSpent {
			total += p.Amount
		}
	}
	return total
}
