package mint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peanutpal/internal/ledger"
)

type stubClient struct {
	url string
}

func (s *stubClient) CreateQuote(context.Context, int64) (Quote, error) { return Quote{}, nil }
func (s *stubClient) MintProofs(context.Context, int64, string) ([]ledger.Proof, error) {
	return nil, nil
}
func (s *stubClient) OnQuotePaid(context.Context, string, func(Quote), func(error)) {}

func TestRouterCachesPerURL(t *testing.T) {
	var built atomic.Int64
	r := NewRouter([]byte("seed"), func(url string, _ []byte) (Client, error) {
		built.Add(1)
		return &stubClient{url: url}, nil
	})

	a1, err := r.Client("https://a.example")
	require.NoError(t, err)
	b, err := r.Client("https://b.example")
	require.NoError(t, err)
	a2, err := r.Client("https://a.example")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
	assert.Equal(t, int64(2), built.Load())
	assert.ElementsMatch(t, []string{"https://a.example", "https://b.example"}, r.Known())
}

// Switching the configured mint away and back must return the original
// binding; the cache only grows.
func TestRouterCacheSurvivesSwitching(t *testing.T) {
	var built atomic.Int64
	r := NewRouter(nil, func(url string, _ []byte) (Client, error) {
		built.Add(1)
		return &stubClient{url: url}, nil
	})

	first, err := r.Client("https://a.example")
	require.NoError(t, err)
	_, err = r.Client("https://b.example")
	require.NoError(t, err)
	again, err := r.Client("https://a.example")
	require.NoError(t, err)

	assert.Same(t, first, again)
	assert.Equal(t, int64(2), built.Load())
}

func TestRouterSingleFlight(t *testing.T) {
	var built atomic.Int64
	r := NewRouter(nil, func(url string, _ []byte) (Client, error) {
		built.Add(1)
		return &stubClient{url: url}, nil
	})

	var wg sync.WaitGroup
	clients := make([]Client, 16)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.Client("https://a.example")
			if err != nil {
				t.Errorf("client: %v", err)
				return
			}
			clients[i] = c
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), built.Load())
	for _, c := range clients[1:] {
		assert.Same(t, clients[0], c)
	}
}

func TestRouterFactoryErrorNotCached(t *testing.T) {
	calls := 0
	r := NewRouter(nil, func(url string, _ []byte) (Client, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("boom")
		}
		return &stubClient{url: url}, nil
	})

	_, err := r.Client("https://a.example")
	require.Error(t, err)

	c, err := r.Client("https://a.example")
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, 2, calls)
}

func TestRouterRejectsEmptyURL(t *testing.T) {
	r := NewRouter(nil, func(url string, _ []byte) (Client, error) {
		return nil, fmt.Errorf("should not be called for %q", url)
	})
	_, err := r.Client("")
	assert.Error(t, err)
}
