package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// hkdf info string; bumping it would derive a different identity from the
// same phrase, so it is part of the storage format.
const identityInfo = "peanutpal/identity/v1"

// Identity is the wallet's long-lived X25519 keypair plus the seed that
// mint clients derive their secrets from. Exactly one per installation.
type Identity struct {
	Secret [32]byte
	Public string // hex-encoded public key
	Seed   []byte // 64-byte deterministic seed
}

// PublicKeyBytes returns the decoded public key.
func (id Identity) PublicKeyBytes() []byte {
	b, _ := hex.DecodeString(id.Public)
	return b
}

// Record is the persisted form of an identity.
type Record struct {
	Secret []byte `json:"secret"`
	Seed   []byte `json:"seed"`
	Phrase string `json:"phrase,omitempty"`
}

// Store persists the single identity record.
type Store interface {
	LoadIdentity() (*Record, error)
	SaveIdentity(Record) error
}

// Manager derives and persists the wallet identity.
type Manager struct {
	store Store
}

func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// NewPhrase generates a fresh 12-word recovery phrase.
func NewPhrase() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// GetOrCreate returns the persisted identity, creating one from a fresh
// recovery phrase if none exists yet.
func (m *Manager) GetOrCreate() (Identity, error) {
	rec, err := m.store.LoadIdentity()
	if err != nil {
		return Identity{}, fmt.Errorf("load identity: %w", err)
	}
	if rec != nil {
		return identityFromRecord(*rec)
	}

	phrase, err := NewPhrase()
	if err != nil {
		return Identity{}, fmt.Errorf("generate phrase: %w", err)
	}
	return m.CreateFromPhrase(phrase)
}

// CreateFromPhrase derives an identity from a recovery phrase and persists
// it, overwriting any existing record. Same phrase, same identity.
func (m *Manager) CreateFromPhrase(phrase string) (Identity, error) {
	if !bip39.IsMnemonicValid(phrase) {
		return Identity{}, errors.New("invalid recovery phrase")
	}
	seed := bip39.NewSeed(phrase, "")

	id, err := Derive(seed)
	if err != nil {
		return Identity{}, err
	}
	rec := Record{Secret: id.Secret[:], Seed: seed, Phrase: phrase}
	if err := m.store.SaveIdentity(rec); err != nil {
		return Identity{}, fmt.Errorf("save identity: %w", err)
	}
	return id, nil
}

// Derive expands a seed into the identity keypair. Deterministic.
func Derive(seed []byte) (Identity, error) {
	r := hkdf.New(sha256.New, seed, nil, []byte(identityInfo))
	var sk [32]byte
	if _, err := io.ReadFull(r, sk[:]); err != nil {
		return Identity{}, err
	}
	clamp(&sk)

	pub, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		Secret: sk,
		Public: hex.EncodeToString(pub),
		Seed:   append([]byte(nil), seed...),
	}, nil
}

func identityFromRecord(rec Record) (Identity, error) {
	if len(rec.Secret) != 32 {
		return Identity{}, fmt.Errorf("stored secret is %d bytes, want 32", len(rec.Secret))
	}
	var sk [32]byte
	copy(sk[:], rec.Secret)
	pub, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		Secret: sk,
		Public: hex.EncodeToString(pub),
		Seed:   append([]byte(nil), rec.Seed...),
	}, nil
}

// clamp applies the standard X25519 scalar clamping.
func clamp(sk *[32]byte) {
	sk[0] &= 248
	sk[31] &= 127
	sk[31] |= 64
}
