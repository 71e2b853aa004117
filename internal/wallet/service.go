package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"peanutpal/internal/dedup"
	"peanutpal/internal/events"
	"peanutpal/internal/ledger"
	"peanutpal/internal/mint"
	"peanutpal/internal/proto"
	"peanutpal/internal/relay"
)

// PaymentResult is the caller-facing outcome of processing one quote.
// Skipped and failed are distinct: a skip means the quote was already
// applied, a failure means nothing was applied.
type PaymentResult struct {
	Success bool           `json:"success"`
	Skipped bool           `json:"skipped,omitempty"`
	Balance int64          `json:"balance"`
	Proofs  []ledger.Proof `json:"proofs,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Subscriber is the intake slice of the relay messenger.
type Subscriber interface {
	Subscribe(pub string, onPayload func([]byte)) *relay.Subscription
}

// Sender is the outbound slice of the relay messenger.
type Sender interface {
	Send(ctx context.Context, payload []byte, recipientPub string) (relay.Report, error)
}

// Service glues dedup, mint access, the proof ledger and the event bus
// into the receive-and-commit flow, and backs the UI-facing queries.
type Service struct {
	log      zerolog.Logger
	ledger   ledger.Store
	dedup    dedup.Store
	router   *mint.Router
	settings *Settings
	bus      *events.Bus

	retention time.Duration
}

type ServiceConfig struct {
	Logger   zerolog.Logger
	Ledger   ledger.Store
	Dedup    dedup.Store
	Router   *mint.Router
	Settings *Settings
	Bus      *events.Bus

	// Retention bounds processed-quote markers; zero means the default.
	Retention time.Duration
}

func NewService(cfg ServiceConfig) *Service {
	retention := cfg.Retention
	if retention == 0 {
		retention = dedup.DefaultRetention
	}
	return &Service{
		log:       cfg.Logger.With().Str("component", "wallet").Logger(),
		ledger:    cfg.Ledger,
		dedup:     cfg.Dedup,
		router:    cfg.Router,
		settings:  cfg.Settings,
		bus:       cfg.Bus,
		retention: retention,
	}
}

func (s *Service) Settings() *Settings { return s.settings }
func (s *Service) Bus() *events.Bus    { return s.bus }

// CreateQuote asks the configured mint for a payment quote and starts a
// watch that completes the payment locally once the mint reports it paid.
// watchCtx bounds the watch, not the quote creation.
func (s *Service) CreateQuote(ctx, watchCtx context.Context, amount int64) (mint.Quote, error) {
	client, mintURL, err := s.currentClient()
	if err != nil {
		return mint.Quote{}, err
	}
	q, err := client.CreateQuote(ctx, amount)
	if err != nil {
		return mint.Quote{}, err
	}
	s.log.Info().Str("quote", q.ID).Int64("amount", amount).Str("mint", mintURL).Msg("quote created")

	client.OnQuotePaid(watchCtx, q.ID, func(paid mint.Quote) {
		res := s.ProcessPaidQuote(watchCtx, proto.QuoteDescriptor{
			Quote:   q.ID,
			Amount:  amount,
			Request: q.Request,
		})
		if !res.Success {
			s.log.Error().Str("quote", q.ID).Str("err", res.Error).Msg("direct payment failed to commit")
		}
	}, func(err error) {
		s.log.Warn().Str("quote", q.ID).Err(err).Msg("quote did not complete")
	})
	return q, nil
}

// ChargeRemote is the point-of-sale flow: create a quote at the
// configured mint and, once the mint reports it paid, forward the paid
// descriptor to the recipient wallet over the relay network. The local
// ledger is untouched; the recipient mints the value on their side.
func (s *Service) ChargeRemote(ctx, watchCtx context.Context, sender Sender, recipientPub string, amount int64) (mint.Quote, error) {
	if recipientPub == "" {
		return mint.Quote{}, fmt.Errorf("empty recipient key")
	}
	client, mintURL, err := s.currentClient()
	if err != nil {
		return mint.Quote{}, err
	}
	q, err := client.CreateQuote(ctx, amount)
	if err != nil {
		return mint.Quote{}, err
	}
	s.log.Info().Str("quote", q.ID).Int64("amount", amount).Str("recipient", recipientPub).Msg("remote charge created")

	client.OnQuotePaid(watchCtx, q.ID, func(paid mint.Quote) {
		payload := proto.MustMarshal(proto.QuoteDescriptor{
			Quote:   q.ID,
			Amount:  amount,
			Request: q.Request,
			MintURL: mintURL,
		})
		rep, err := sender.Send(watchCtx, payload, recipientPub)
		if err != nil {
			s.log.Error().Str("quote", q.ID).Err(err).Msg("paid quote could not be forwarded")
			return
		}
		s.log.Info().Str("quote", q.ID).Int("relays", rep.Accepted()).Msg("paid quote forwarded")
	}, func(err error) {
		s.log.Warn().Str("quote", q.ID).Err(err).Msg("remote charge did not complete")
	})
	return q, nil
}

// ProcessPaidQuote completes a locally observed payment: mint, commit,
// notify. No dedup check; a direct quote is created and watched here, not
// replayed by the network.
func (s *Service) ProcessPaidQuote(ctx context.Context, q proto.QuoteDescriptor) PaymentResult {
	return s.mintAndCommit(ctx, q, ledger.EventDirectPayment)
}

// HandleRemotePayload is the relay subscription sink: a decrypted
// envelope payload that should contain a paid quote descriptor.
func (s *Service) HandleRemotePayload(ctx context.Context, payload []byte) {
	q, err := proto.DecodeQuoteDescriptor(payload)
	if err != nil {
		s.log.Warn().Err(err).Msg("malformed remote payload dropped")
		return
	}
	s.ProcessRemoteQuote(ctx, q)
}

// ProcessRemoteQuote runs the remote intake state machine for one quote:
// dedup check, mark, mint, commit, notify. Duplicate deliveries are a
// silent skip, not an error.
func (s *Service) ProcessRemoteQuote(ctx context.Context, q proto.QuoteDescriptor) PaymentResult {
	if q.Quote == "" || q.Amount <= 0 {
		return s.fail(fmt.Sprintf("invalid quote descriptor (id=%q amount=%d)", q.Quote, q.Amount))
	}

	processed, err := s.dedup.IsProcessed(q.Quote)
	if err != nil {
		return s.fail(fmt.Sprintf("dedup check: %v", err))
	}
	if processed {
		s.log.Debug().Str("quote", q.Quote).Msg("quote already processed, skipping")
		return s.skip()
	}

	// Mark before minting: a replayed delivery becomes a safe no-op. The
	// cost is that a mint failure below leaves the quote marked with no
	// automatic retry; it is logged for manual reconciliation.
	inserted, err := s.dedup.MarkProcessed(q.Quote, q.Amount)
	if err != nil {
		return s.fail(fmt.Sprintf("dedup mark: %v", err))
	}
	if !inserted {
		// lost the race against a concurrent delivery
		s.log.Debug().Str("quote", q.Quote).Msg("concurrent delivery already marked, skipping")
		return s.skip()
	}

	res := s.mintAndCommit(ctx, q, ledger.EventRemotePayment)
	if !res.Success {
		s.log.Error().Str("quote", q.Quote).Int64("amount", q.Amount).Str("err", res.Error).
			Msg("payment stranded: quote marked processed but not committed")
	}
	return res
}

// mintAndCommit is the shared tail of both payment paths.
func (s *Service) mintAndCommit(ctx context.Context, q proto.QuoteDescriptor, typ ledger.EventType) PaymentResult {
	client, mintURL, err := s.currentClient()
	if err != nil {
		return s.fail(fmt.Sprintf("mint client: %v", err))
	}

	proofs, err := client.MintProofs(ctx, q.Amount, q.Quote)
	if err != nil {
		return s.fail(fmt.Sprintf("mint proofs: %v", err))
	}

	if err := s.ledger.StoreProofs(proofs, mintURL); err != nil {
		return s.fail(fmt.Sprintf("store proofs: %v", err))
	}
	if err := s.ledger.AddEvent(ledger.HistoryEvent{
		Amount:  q.Amount,
		Type:    typ,
		MintURL: mintURL,
		QuoteID: q.Quote,
	}); err != nil {
		return s.fail(fmt.Sprintf("record history: %v", err))
	}

	s.bus.Emit(events.Change{Reason: events.ReasonPayment, Amount: q.Amount})
	s.log.Info().Str("quote", q.Quote).Int64("amount", q.Amount).Str("type", string(typ)).Msg("payment committed")

	return PaymentResult{
		Success: true,
		Balance: s.Balance(),
		Proofs:  proofs,
	}
}

// Withdraw marks the listed proofs spent and records a withdrawal.
func (s *Service) Withdraw(secrets []string, metadata string) (int64, error) {
	var amount int64
	for _, secret := range secrets {
		p, ok, err := s.ledger.ProofBySecret(secret)
		if err != nil {
			return 0, err
		}
		if ok && !p.IsSpent {
			amount += p.Amount
		}
	}
	if err := s.ledger.MarkSpent(secrets); err != nil {
		return 0, err
	}
	if err := s.ledger.AddEvent(ledger.HistoryEvent{
		Amount:   amount,
		Type:     ledger.EventWithdrawal,
		Metadata: metadata,
	}); err != nil {
		return 0, err
	}
	s.bus.Emit(events.Change{Reason: events.ReasonWithdrawal, Amount: amount})
	return amount, nil
}

// Balance returns the spendable total; read failures degrade to zero
// rather than surfacing a crash to observers.
func (s *Service) Balance() int64 {
	bal, err := s.ledger.TotalBalance()
	if err != nil {
		s.log.Error().Err(err).Msg("balance read failed")
		return 0
	}
	return bal
}

func (s *Service) Stats() ledger.Stats {
	st, err := s.ledger.Stats()
	if err != nil {
		s.log.Error().Err(err).Msg("stats read failed")
		return ledger.Stats{}
	}
	return st
}

func (s *Service) History(page, size int) (ledger.Page, error) {
	return s.ledger.HistoryPage(page, size)
}

func (s *Service) UnspentProofs() ([]ledger.Proof, error) {
	return s.ledger.UnspentProofs()
}

// Purge wipes the proof ledger. Explicit user action only.
func (s *Service) Purge() error {
	if err := s.ledger.PurgeAll(); err != nil {
		return err
	}
	s.bus.Emit(events.Change{Reason: events.ReasonManual})
	return nil
}

// StartIntake subscribes to the relay network for envelopes addressed to
// pub. Returned subscription stops the intake when cancelled.
func (s *Service) StartIntake(ctx context.Context, sub Subscriber, pub string) *relay.Subscription {
	s.log.Info().Str("pub", pub).Msg("starting remote payment intake")
	return sub.Subscribe(pub, func(payload []byte) {
		s.HandleRemotePayload(ctx, payload)
	})
}

// Maintenance garbage-collects processed-quote markers past retention.
func (s *Service) Maintenance() {
	cutoff := time.Now().Add(-s.retention).UnixMilli()
	n, err := s.dedup.SweepBefore(cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("quote sweep failed")
		return
	}
	if n > 0 {
		s.log.Info().Int("removed", n).Msg("swept old processed quotes")
	}
}

func (s *Service) currentClient() (mint.Client, string, error) {
	mintURL, err := s.settings.MintURL()
	if err != nil {
		return nil, "", err
	}
	client, err := s.router.Client(mintURL)
	if err != nil {
		return nil, "", err
	}
	return client, mintURL, nil
}

func (s *Service) fail(msg string) PaymentResult {
	return PaymentResult{Success: false, Balance: s.Balance(), Error: msg}
}

func (s *Service) skip() PaymentResult {
	return PaymentResult{Success: true, Skipped: true, Balance: s.Balance()}
}
