package mint

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/hkdf"

	"peanutpal/internal/ledger"
)

const (
	quotePath = "/v1/mint/quote/bolt11"
	mintPath  = "/v1/mint/bolt11"

	defaultPollInterval = 2 * time.Second
)

// Counter hands out monotonically increasing values for a named counter.
// A durable implementation keeps the secret stream collision-free across
// restarts.
type Counter interface {
	NextCounter(key string) (uint64, error)
}

// HTTPClient speaks the mint's REST protocol. Proof secrets are derived
// from the wallet seed and a monotonic counter, so two clients built from
// the same seed produce the same secret stream.
type HTTPClient struct {
	base string
	http *http.Client
	seed []byte

	counter Counter
	memCtr  atomic.Uint64 // fallback when no durable counter is wired

	pollInterval time.Duration
}

func NewHTTPClient(mintURL string, seed []byte) (Client, error) {
	return newHTTPClient(mintURL, seed, nil)
}

// HTTPFactory returns a Factory whose clients persist their secret
// counters through ctr.
func HTTPFactory(ctr Counter) Factory {
	return func(mintURL string, seed []byte) (Client, error) {
		return newHTTPClient(mintURL, seed, ctr)
	}
}

func newHTTPClient(mintURL string, seed []byte, ctr Counter) (Client, error) {
	if !strings.HasPrefix(mintURL, "http://") && !strings.HasPrefix(mintURL, "https://") {
		return nil, fmt.Errorf("mint url %q is not http(s)", mintURL)
	}
	return &HTTPClient{
		base:         strings.TrimRight(mintURL, "/"),
		http:         &http.Client{Timeout: 30 * time.Second},
		seed:         append([]byte(nil), seed...),
		counter:      ctr,
		pollInterval: defaultPollInterval,
	}, nil
}

var _ Factory = NewHTTPClient

func (c *HTTPClient) CreateQuote(ctx context.Context, amount int64) (Quote, error) {
	if amount <= 0 {
		return Quote{}, fmt.Errorf("invalid amount %d", amount)
	}
	var q Quote
	err := c.post(ctx, quotePath, map[string]any{"amount": amount, "unit": "sat"}, &q)
	if err != nil {
		return Quote{}, fmt.Errorf("create quote: %w", err)
	}
	q.Amount = amount
	return q, nil
}

type mintRequest struct {
	Quote   string       `json:"quote"`
	Outputs []mintOutput `json:"outputs"`
}

type mintOutput struct {
	Amount int64  `json:"amount"`
	B      string `json:"B_"`
}

type mintResponse struct {
	Signatures []struct {
		ID     string `json:"id"`
		Amount int64  `json:"amount"`
		C      string `json:"C_"`
	} `json:"signatures"`
}

func (c *HTTPClient) MintProofs(ctx context.Context, amount int64, quoteID string) ([]ledger.Proof, error) {
	amounts := splitAmount(amount)
	secrets := make([]string, len(amounts))
	outputs := make([]mintOutput, len(amounts))
	for i, a := range amounts {
		secrets[i] = c.nextSecret()
		outputs[i] = mintOutput{Amount: a, B: blind(secrets[i])}
	}

	var resp mintResponse
	if err := c.post(ctx, mintPath, mintRequest{Quote: quoteID, Outputs: outputs}, &resp); err != nil {
		return nil, fmt.Errorf("mint proofs for quote %s: %w", quoteID, err)
	}
	if len(resp.Signatures) != len(outputs) {
		return nil, fmt.Errorf("mint returned %d signatures for %d outputs", len(resp.Signatures), len(outputs))
	}

	proofs := make([]ledger.Proof, len(resp.Signatures))
	for i, sig := range resp.Signatures {
		proofs[i] = ledger.Proof{
			Secret: secrets[i],
			Amount: sig.Amount,
			ID:     sig.ID,
			C:      sig.C,
		}
	}
	return proofs, nil
}

// OnQuotePaid polls the quote state until it settles one way or the other.
func (c *HTTPClient) OnQuotePaid(ctx context.Context, quoteID string, onPaid func(Quote), onFailed func(error)) {
	go func() {
		t := time.NewTicker(c.pollInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}

			var q Quote
			if err := c.get(ctx, quotePath+"/"+quoteID, &q); err != nil {
				if ctx.Err() != nil {
					return
				}
				// transient: keep polling
				continue
			}
			switch q.State {
			case StatePaid, StateIssued:
				onPaid(q)
				return
			case StateUnpaid:
				if q.Expiry != 0 && time.Now().Unix() > q.Expiry {
					onFailed(fmt.Errorf("quote %s expired unpaid", quoteID))
					return
				}
			default:
				onFailed(fmt.Errorf("quote %s in state %q", quoteID, q.State))
				return
			}
		}
	}()
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mint replied %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

// nextSecret derives the next deterministic proof secret.
func (c *HTTPClient) nextSecret() string {
	var n uint64
	if c.counter != nil {
		v, err := c.counter.NextCounter("mint-secret/" + c.base)
		if err == nil {
			n = v
		}
	}
	if n == 0 {
		n = c.memCtr.Add(1)
	}
	info := fmt.Sprintf("peanutpal/secret/%s/%d", c.base, n)
	r := hkdf.New(sha256.New, c.seed, nil, []byte(info))
	b := make([]byte, 32)
	_, _ = io.ReadFull(r, b)
	return hex.EncodeToString(b)
}

// blind commits to a secret in the output the mint signs.
func blind(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// splitAmount decomposes amount into power-of-two denominations, largest
// first.
func splitAmount(amount int64) []int64 {
	var out []int64
	for bit := 62; bit >= 0; bit-- {
		d := int64(1) << bit
		if amount >= d {
			out = append(out, d)
			amount -= d
		}
	}
	return out
}
