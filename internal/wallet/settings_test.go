package wallet

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peanutpal/internal/storage/walletbolt"
)

func newTestSettings(t *testing.T) *Settings {
	t.Helper()
	store, err := walletbolt.Open(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewSettings(store)
}

func TestMintURLDefaultPersists(t *testing.T) {
	s := newTestSettings(t)

	url, err := s.MintURL()
	require.NoError(t, err)
	assert.Equal(t, DefaultMintURL, url)

	require.NoError(t, s.SetMintURL("https://other.example"))
	url, err = s.MintURL()
	require.NoError(t, err)
	assert.Equal(t, "https://other.example", url)

	assert.Error(t, s.SetMintURL(""))
}

func TestRelays(t *testing.T) {
	s := newTestSettings(t)

	relays, err := s.Relays()
	require.NoError(t, err)
	assert.Equal(t, DefaultRelays, relays)

	want := []string{"wss://a.example", "wss://b.example"}
	require.NoError(t, s.SetRelays(want))
	relays, err = s.Relays()
	require.NoError(t, err)
	assert.Equal(t, want, relays)

	assert.Error(t, s.SetRelays(nil))
}

func TestOnboarded(t *testing.T) {
	s := newTestSettings(t)

	assert.False(t, s.Onboarded())
	require.NoError(t, s.SetOnboarded(true))
	assert.True(t, s.Onboarded())
	require.NoError(t, s.SetOnboarded(false))
	assert.False(t, s.Onboarded())
}
