package giftwrap

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/flynn/noise"
	"golang.org/x/crypto/curve25519"
)

// cipherSuite matches what relays and remote cashiers expect. Changing it
// breaks every envelope in flight.
var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// Seal wraps plaintext for the recipient using a one-way Noise X message.
// The sender static key is generated fresh per call and discarded, so
// neither the relay nor the recipient can link envelopes to a sender.
func Seal(plaintext []byte, recipientPubHex string) ([]byte, error) {
	peer, err := hex.DecodeString(recipientPubHex)
	if err != nil || len(peer) != 32 {
		return nil, fmt.Errorf("bad recipient key %q", recipientPubHex)
	}

	// single-use sender key
	sender, err := cipherSuite.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, err
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeX,
		Initiator:     true,
		StaticKeypair: sender,
		PeerStatic:    peer,
	})
	if err != nil {
		return nil, err
	}

	// -> e, es, s, ss + payload
	sealed, _, _, err := hs.WriteMessage(nil, plaintext)
	if err != nil {
		return nil, err
	}
	return sealed, nil
}

// Open decrypts a sealed envelope with the recipient's secret key.
func Open(sealed []byte, secret [32]byte) ([]byte, error) {
	pub, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeX,
		Initiator:   false,
		StaticKeypair: noise.DHKey{
			Private: secret[:],
			Public:  pub,
		},
	})
	if err != nil {
		return nil, err
	}

	plaintext, _, _, err := hs.ReadMessage(nil, sealed)
	if err != nil {
		return nil, fmt.Errorf("open envelope: %w", err)
	}
	return plaintext, nil
}
