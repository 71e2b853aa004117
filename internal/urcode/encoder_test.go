package urcode

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoderSinglePart(t *testing.T) {
	e, err := NewEncoder([]byte("hello"), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Len())

	part := e.CurrentPart()
	assert.True(t, strings.HasPrefix(part, "ur:bytes/1-1/"))
	assert.Equal(t, part, strings.ToLower(part))

	// a single part wraps onto itself
	assert.Equal(t, part, e.NextPart())
}

func TestEncoderRejectsBadInput(t *testing.T) {
	_, err := NewEncoder(nil, 10)
	assert.Error(t, err)
	_, err = NewEncoder([]byte("x"), 0)
	assert.Error(t, err)
}

func TestEncoderFragmentCount(t *testing.T) {
	payload := make([]byte, 250)
	e, err := NewEncoder(payload, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, e.Len())

	for i := 0; i < e.Len(); i++ {
		assert.True(t, strings.HasPrefix(e.CurrentPart(), fmt.Sprintf("ur:bytes/%d-3/", i+1)))
		e.NextPart()
	}
	// back at the start after one full cycle
	assert.True(t, strings.HasPrefix(e.CurrentPart(), "ur:bytes/1-3/"))
}

// One full cycle of fragments, in any order, reassembles the payload.
func TestRoundTripAnyOrder(t *testing.T) {
	payload := make([]byte, 1000)
	rng := rand.New(rand.NewSource(1))
	rng.Read(payload)

	e, err := NewEncoder(payload, 137)
	require.NoError(t, err)

	parts := make([]string, 0, e.Len())
	parts = append(parts, e.CurrentPart())
	for i := 1; i < e.Len(); i++ {
		parts = append(parts, e.NextPart())
	}

	rng.Shuffle(len(parts), func(i, j int) { parts[i], parts[j] = parts[j], parts[i] })

	got, err := Decode(parts)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDecodeToleratesDuplicates(t *testing.T) {
	e, err := NewEncoder([]byte("some longer payload split in pieces"), 10)
	require.NoError(t, err)

	var parts []string
	// two full cycles
	parts = append(parts, e.CurrentPart())
	for i := 1; i < 2*e.Len(); i++ {
		parts = append(parts, e.NextPart())
	}

	got, err := Decode(parts)
	require.NoError(t, err)
	assert.Equal(t, []byte("some longer payload split in pieces"), got)
}

func TestDecodeMissingFragment(t *testing.T) {
	e, err := NewEncoder(make([]byte, 300), 100)
	require.NoError(t, err)

	parts := []string{e.CurrentPart(), e.NextPart()} // 2 of 3
	_, err = Decode(parts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing fragment")
}

func TestDecodeMalformed(t *testing.T) {
	for _, part := range []string{
		"",
		"not-a-ur-part",
		"ur:bytes/nope",
		"ur:bytes/x-2/aaaa",
		"ur:bytes/0-2/aaaa",
		"ur:bytes/3-2/aaaa",
		"ur:bytes/1-1/!!!not-base32!!!",
	} {
		_, err := Decode([]string{part})
		assert.Error(t, err, "part %q", part)
	}
}

func TestDecodeMismatchedTotals(t *testing.T) {
	a, err := NewEncoder(make([]byte, 200), 100) // 1-2, 2-2
	require.NoError(t, err)
	b, err := NewEncoder(make([]byte, 300), 100) // 1-3...
	require.NoError(t, err)

	_, err = Decode([]string{a.CurrentPart(), b.CurrentPart()})
	assert.Error(t, err)
}
