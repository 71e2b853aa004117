package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPhrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

type memIdentityStore struct {
	rec *Record
}

func (m *memIdentityStore) LoadIdentity() (*Record, error) { return m.rec, nil }
func (m *memIdentityStore) SaveIdentity(r Record) error    { m.rec = &r; return nil }

func TestCreateFromPhraseDeterministic(t *testing.T) {
	m1 := NewManager(&memIdentityStore{})
	m2 := NewManager(&memIdentityStore{})

	id1, err := m1.CreateFromPhrase(testPhrase)
	require.NoError(t, err)
	id2, err := m2.CreateFromPhrase(testPhrase)
	require.NoError(t, err)

	assert.Equal(t, id1.Secret, id2.Secret)
	assert.Equal(t, id1.Public, id2.Public)
	assert.Equal(t, id1.Seed, id2.Seed)
	assert.Len(t, id1.Seed, 64)
	assert.Len(t, id1.Public, 64) // 32 bytes hex
}

func TestCreateFromPhraseRejectsGarbage(t *testing.T) {
	m := NewManager(&memIdentityStore{})
	_, err := m.CreateFromPhrase("not a real recovery phrase at all")
	require.Error(t, err)
}

func TestGetOrCreatePersists(t *testing.T) {
	store := &memIdentityStore{}
	m := NewManager(store)

	id1, err := m.GetOrCreate()
	require.NoError(t, err)
	require.NotNil(t, store.rec)

	id2, err := m.GetOrCreate()
	require.NoError(t, err)
	assert.Equal(t, id1.Public, id2.Public)
	assert.Equal(t, id1.Secret, id2.Secret)
}

func TestGetOrCreateDistinctInstalls(t *testing.T) {
	id1, err := NewManager(&memIdentityStore{}).GetOrCreate()
	require.NoError(t, err)
	id2, err := NewManager(&memIdentityStore{}).GetOrCreate()
	require.NoError(t, err)
	assert.NotEqual(t, id1.Public, id2.Public)
}

func TestRestoreOverwrites(t *testing.T) {
	store := &memIdentityStore{}
	m := NewManager(store)

	first, err := m.GetOrCreate()
	require.NoError(t, err)

	restored, err := m.CreateFromPhrase(testPhrase)
	require.NoError(t, err)
	assert.NotEqual(t, first.Public, restored.Public)

	again, err := m.GetOrCreate()
	require.NoError(t, err)
	assert.Equal(t, restored.Public, again.Public)
}

func TestNewPhrase(t *testing.T) {
	p1, err := NewPhrase()
	require.NoError(t, err)
	p2, err := NewPhrase()
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)

	// a generated phrase must round-trip through restore
	id, err := NewManager(&memIdentityStore{}).CreateFromPhrase(p1)
	require.NoError(t, err)
	assert.NotEmpty(t, id.Public)
}
