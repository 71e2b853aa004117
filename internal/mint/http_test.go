package mint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peanutpal/internal/ledger"
)

func TestHTTPClientRejectsBadURL(t *testing.T) {
	_, err := NewHTTPClient("ftp://mint.example", nil)
	assert.Error(t, err)
	_, err = NewHTTPClient("mint.example", nil)
	assert.Error(t, err)
}

func TestCreateQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, quotePath, r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 500, body["amount"])
		assert.Equal(t, "sat", body["unit"])

		json.NewEncoder(w).Encode(map[string]any{
			"quote":   "q-123",
			"request": "lnbc500n1...",
			"state":   StateUnpaid,
		})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, []byte("seed"))
	require.NoError(t, err)

	q, err := c.CreateQuote(context.Background(), 500)
	require.NoError(t, err)
	assert.Equal(t, "q-123", q.ID)
	assert.Equal(t, "lnbc500n1...", q.Request)
	assert.Equal(t, int64(500), q.Amount)
	assert.Equal(t, StateUnpaid, q.State)
}

func TestCreateQuoteRejectsNonPositiveAmount(t *testing.T) {
	c, err := NewHTTPClient("https://mint.example", nil)
	require.NoError(t, err)
	_, err = c.CreateQuote(context.Background(), 0)
	assert.Error(t, err)
}

func TestMintProofs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, mintPath, r.URL.Path)

		var req mintRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "q-123", req.Quote)

		// 500 = 256 + 128 + 64 + 32 + 16 + 4
		var sum int64
		sigs := make([]map[string]any, len(req.Outputs))
		for i, out := range req.Outputs {
			sum += out.Amount
			assert.NotEmpty(t, out.B)
			sigs[i] = map[string]any{"id": "keyset-1", "amount": out.Amount, "C_": fmt.Sprintf("sig-%d", i)}
		}
		assert.Equal(t, int64(500), sum)

		json.NewEncoder(w).Encode(map[string]any{"signatures": sigs})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, []byte("seed"))
	require.NoError(t, err)

	proofs, err := c.MintProofs(context.Background(), 500, "q-123")
	require.NoError(t, err)
	assert.Equal(t, int64(500), ledger.SumUnspent(proofs))
	for _, p := range proofs {
		assert.NotEmpty(t, p.Secret)
		assert.Equal(t, "keyset-1", p.ID)
	}
}

func TestMintProofsSignatureCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"signatures": []any{}})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, []byte("seed"))
	require.NoError(t, err)

	_, err = c.MintProofs(context.Background(), 500, "q-123")
	assert.Error(t, err)
}

func TestMintError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"quote not paid"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, []byte("seed"))
	require.NoError(t, err)

	_, err = c.MintProofs(context.Background(), 100, "q-123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

// Two clients from the same seed and counter state derive the same secret
// stream, so a restored wallet regenerates the proofs it would have made.
func TestSecretDerivationDeterministic(t *testing.T) {
	a, err := newHTTPClient("https://mint.example", []byte("seed"), nil)
	require.NoError(t, err)
	b, err := newHTTPClient("https://mint.example", []byte("seed"), nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.Equal(t, a.(*HTTPClient).nextSecret(), b.(*HTTPClient).nextSecret())
	}

	other, err := newHTTPClient("https://mint.example", []byte("other-seed"), nil)
	require.NoError(t, err)
	a2, err := newHTTPClient("https://mint.example", []byte("seed"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a2.(*HTTPClient).nextSecret(), other.(*HTTPClient).nextSecret())
}

func TestOnQuotePaid(t *testing.T) {
	var polls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, quotePath+"/q-123", r.URL.Path)
		state := StateUnpaid
		if polls.Add(1) >= 2 {
			state = StatePaid
		}
		json.NewEncoder(w).Encode(map[string]any{"quote": "q-123", "state": state})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, nil)
	require.NoError(t, err)
	c.(*HTTPClient).pollInterval = 5 * time.Millisecond

	paid := make(chan Quote, 1)
	c.OnQuotePaid(context.Background(), "q-123",
		func(q Quote) { paid <- q },
		func(err error) { t.Errorf("unexpected failure: %v", err) })

	select {
	case q := <-paid:
		assert.Equal(t, StatePaid, q.State)
		assert.GreaterOrEqual(t, polls.Load(), int64(2))
	case <-time.After(2 * time.Second):
		t.Fatal("quote never reported paid")
	}
}

func TestOnQuotePaidExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"quote":  "q-123",
			"state":  StateUnpaid,
			"expiry": time.Now().Add(-time.Minute).Unix(),
		})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, nil)
	require.NoError(t, err)
	c.(*HTTPClient).pollInterval = 5 * time.Millisecond

	failed := make(chan error, 1)
	c.OnQuotePaid(context.Background(), "q-123",
		func(q Quote) { t.Errorf("unexpected paid callback: %+v", q) },
		func(err error) { failed <- err })

	select {
	case err := <-failed:
		assert.Contains(t, err.Error(), "expired")
	case <-time.After(2 * time.Second):
		t.Fatal("expiry never reported")
	}
}

func TestOnQuotePaidCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"quote": "q-123", "state": StateUnpaid})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, nil)
	require.NoError(t, err)
	c.(*HTTPClient).pollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	var fired atomic.Bool
	c.OnQuotePaid(ctx, "q-123",
		func(Quote) { fired.Store(true) },
		func(error) { fired.Store(true) })

	cancel()
	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}
