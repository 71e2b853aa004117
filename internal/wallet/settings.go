package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Config keys in the durable settings store.
const (
	keyMintURL   = "MINT_URL"
	keyRelays    = "RELAYS"
	keyOnboarded = "ONBOARDING_COMPLETE"
)

// Defaults applied on first read, matching a fresh install.
const DefaultMintURL = "https://nofees.testnut.cashu.space"

var DefaultRelays = []string{"wss://relay.damus.io"}

// ConfigStore is the generic durable key-value settings table.
type ConfigStore interface {
	GetConfig(key string) (string, bool, error)
	SetConfig(key, value string) error
	DeleteConfig(key string) error
	NextCounter(key string) (uint64, error)
}

// Settings wraps the config store with typed accessors for the known
// keys.
type Settings struct {
	store ConfigStore
}

func NewSettings(store ConfigStore) *Settings {
	return &Settings{store: store}
}

// MintURL returns the configured mint, writing the default on first read
// so later reads are stable.
func (s *Settings) MintURL() (string, error) {
	v, ok, err := s.store.GetConfig(keyMintURL)
	if err != nil {
		return "", err
	}
	if ok && v != "" {
		return v, nil
	}
	if err := s.store.SetConfig(keyMintURL, DefaultMintURL); err != nil {
		return "", err
	}
	return DefaultMintURL, nil
}

func (s *Settings) SetMintURL(url string) error {
	if url == "" {
		return errors.New("empty mint url")
	}
	return s.store.SetConfig(keyMintURL, url)
}

// Relays returns the configured relay list, defaulting on first read.
func (s *Settings) Relays() ([]string, error) {
	v, ok, err := s.store.GetConfig(keyRelays)
	if err != nil {
		return nil, err
	}
	if !ok || v == "" {
		return append([]string(nil), DefaultRelays...), nil
	}
	var relays []string
	if err := json.Unmarshal([]byte(v), &relays); err != nil {
		return nil, fmt.Errorf("relay list corrupt: %w", err)
	}
	if len(relays) == 0 {
		return append([]string(nil), DefaultRelays...), nil
	}
	return relays, nil
}

func (s *Settings) SetRelays(relays []string) error {
	if len(relays) == 0 {
		return errors.New("at least one relay required")
	}
	b, err := json.Marshal(relays)
	if err != nil {
		return err
	}
	return s.store.SetConfig(keyRelays, string(b))
}

func (s *Settings) Onboarded() bool {
	v, ok, err := s.store.GetConfig(keyOnboarded)
	return err == nil && ok && v == "true"
}

func (s *Settings) SetOnboarded(done bool) error {
	if !done {
		return s.store.DeleteConfig(keyOnboarded)
	}
	return s.store.SetConfig(keyOnboarded, "true")
}

// NextCounter exposes the transactional counter for callers that need a
// monotonic sequence tied to the settings store.
func (s *Settings) NextCounter(key string) (uint64, error) {
	return s.store.NextCounter(key)
}
