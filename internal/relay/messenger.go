package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"peanutpal/internal/giftwrap"
	"peanutpal/internal/proto"
)

const (
	publishTimeout = 10 * time.Second
	dedupeTTL      = 10 * time.Minute

	// reconnect backoff bounds for subscriptions
	backoffMin = time.Second
	backoffMax = time.Minute
)

// ErrAllRelaysFailed means not a single relay accepted a publish.
var ErrAllRelaysFailed = errors.New("all relays failed")

// PublishResult is the outcome of one relay's publish attempt.
type PublishResult struct {
	Relay string
	Err   error
}

// Report aggregates the fan-out of a single Send.
type Report struct {
	EventID string
	Results []PublishResult
}

// Accepted counts relays that took the event.
func (r Report) Accepted() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Messenger publishes sealed envelopes to a fixed set of relays and runs
// filtered subscriptions over them. Delivery across relays is redundant
// and unordered; success of Send means relays accepted the publish, not
// that the recipient saw it.
type Messenger struct {
	relays []string
	secret [32]byte
	dialer *websocket.Dialer
	log    zerolog.Logger
}

func NewMessenger(relayURLs []string, secret [32]byte, log zerolog.Logger) (*Messenger, error) {
	if len(relayURLs) == 0 {
		return nil, errors.New("no relays configured")
	}
	return &Messenger{
		relays: append([]string(nil), relayURLs...),
		secret: secret,
		dialer: &websocket.Dialer{HandshakeTimeout: publishTimeout},
		log:    log.With().Str("component", "relay").Logger(),
	}, nil
}

// Send seals payload for recipientPub with a fresh single-use sender key
// and publishes the envelope to every relay concurrently. Each relay gets
// an independent attempt; failures are reported per destination, never
// retried here.
func (m *Messenger) Send(ctx context.Context, payload []byte, recipientPub string) (Report, error) {
	sealed, err := giftwrap.Seal(payload, recipientPub)
	if err != nil {
		return Report{}, fmt.Errorf("seal envelope: %w", err)
	}
	env := proto.Envelope{
		ID:        uuid.NewString(),
		Kind:      proto.EnvelopeKind,
		Recipient: recipientPub,
		Sealed:    sealed,
		CreatedAt: time.Now().Unix(),
	}

	results := make([]PublishResult, len(m.relays))
	var wg sync.WaitGroup
	for i, url := range m.relays {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			results[i] = PublishResult{Relay: url, Err: m.publish(ctx, url, env)}
		}(i, url)
	}
	wg.Wait()

	rep := Report{EventID: env.ID, Results: results}
	if rep.Accepted() == 0 {
		for _, res := range results {
			m.log.Warn().Str("relay", res.Relay).Err(res.Err).Msg("publish rejected")
		}
		return rep, ErrAllRelaysFailed
	}
	return rep, nil
}

func (m *Messenger) publish(ctx context.Context, url string, env proto.Envelope) error {
	conn, _, err := m.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(publishTimeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, eventFrame(env)); err != nil {
		return fmt.Errorf("write to %s: %w", url, err)
	}

	// Wait for the relay's verdict on our event id.
	_ = conn.SetReadDeadline(deadline)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await ok from %s: %w", url, err)
		}
		f, err := parseFrame(raw)
		if err != nil || f.kind != "OK" || f.eventID != env.ID {
			continue
		}
		if !f.accepted {
			return fmt.Errorf("%s rejected event: %s", url, f.reason)
		}
		return nil
	}
}

// Subscription is a handle on a running filtered subscription.
type Subscription struct {
	cancel context.CancelFunc
	done   sync.WaitGroup
}

// Cancel stops future callback invocations. In-flight callbacks finish.
func (s *Subscription) Cancel() {
	s.cancel()
}

// Subscribe opens a long-lived subscription on every relay for envelopes
// addressed to pub, decrypts each one and hands the plaintext to
// onPayload. A payload that fails to decrypt or parse is logged and
// dropped; the subscription itself keeps running. Each relay connection
// re-dials with backoff until the subscription is cancelled.
func (m *Messenger) Subscribe(pub string, onPayload func([]byte)) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{cancel: cancel}

	seen := newSeenCache(dedupeTTL)
	filter := proto.Filter{Kinds: []int{proto.EnvelopeKind}, Recipients: []string{pub}}

	for _, url := range m.relays {
		sub.done.Add(1)
		go func(url string) {
			defer sub.done.Done()
			m.subscribeLoop(ctx, url, filter, seen, onPayload)
		}(url)
	}
	return sub
}

func (m *Messenger) subscribeLoop(ctx context.Context, url string, filter proto.Filter, seen *seenCache, onPayload func([]byte)) {
	backoff := backoffMin
	for ctx.Err() == nil {
		err := m.runSubscription(ctx, url, filter, seen, onPayload)
		if ctx.Err() != nil {
			return
		}
		m.log.Warn().Str("relay", url).Err(err).Dur("retry_in", backoff).Msg("subscription dropped")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

func (m *Messenger) runSubscription(ctx context.Context, url string, filter proto.Filter, seen *seenCache, onPayload func([]byte)) error {
	conn, _, err := m.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock ReadMessage when the subscription is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	subID := uuid.NewString()
	if err := conn.WriteMessage(websocket.TextMessage, reqFrame(subID, filter)); err != nil {
		return err
	}
	defer func() {
		_ = conn.WriteMessage(websocket.TextMessage, closeFrame(subID))
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f, err := parseFrame(raw)
		if err != nil {
			m.log.Warn().Str("relay", url).Err(err).Msg("unparseable frame dropped")
			continue
		}
		if f.kind != "EVENT" || f.subID != subID {
			continue
		}
		if seen.Seen(f.env.ID) {
			continue
		}

		plaintext, err := giftwrap.Open(f.env.Sealed, m.secret)
		if err != nil {
			m.log.Warn().Str("relay", url).Str("event_id", f.env.ID).Err(err).Msg("undecryptable envelope dropped")
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Each event is processed independently: a slow handler must not
		// hold up delivery of the next one.
		go onPayload(plaintext)
	}
}
