package mint

import (
	"errors"
	"sync"
)

// Factory builds a client binding for a mint endpoint, using the wallet's
// deterministic seed for secret derivation.
type Factory func(mintURL string, seed []byte) (Client, error)

// Router hands out one client binding per mint URL. The cache only grows:
// switching the configured mint away and back returns the original
// binding. Construction is single-flight per key.
type Router struct {
	seed    []byte
	factory Factory

	mu      sync.Mutex
	clients map[string]Client
}

func NewRouter(seed []byte, factory Factory) *Router {
	return &Router{
		seed:    append([]byte(nil), seed...),
		factory: factory,
		clients: make(map[string]Client),
	}
}

// Client returns the cached binding for mintURL, constructing it on first
// use. Concurrent first-time callers for the same URL get the same
// binding; the lock is held across construction to guarantee it.
func (r *Router) Client(mintURL string) (Client, error) {
	if mintURL == "" {
		return nil, errors.New("empty mint url")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[mintURL]; ok {
		return c, nil
	}
	c, err := r.factory(mintURL, r.seed)
	if err != nil {
		return nil, err
	}
	r.clients[mintURL] = c
	return c, nil
}

// Known returns the currently cached mint URLs.
func (r *Router) Known() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.clients))
	for u := range r.clients {
		out = append(out, u)
	}
	return out
}
