package walletbolt

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"peanutpal/internal/dedup"
	"peanutpal/internal/keys"
	"peanutpal/internal/ledger"
)

const (
	bProofs   = "proofs"
	bProofsTS = "proofs_by_ts"
	bQuotes   = "processed_quotes"
	bQuotesTS = "quotes_by_ts"
	bConfig   = "config"
	bHistory  = "history"
	bIdentity = "identity"

	kIdentity = "identity"

	defaultTO = 2 * time.Second
)

var buckets = []string{bProofs, bProofsTS, bQuotes, bQuotesTS, bConfig, bHistory, bIdentity}

// Store is the single BoltDB file backing every persisted table: proofs,
// processed quotes, config, history and the identity record.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the wallet database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultTO})
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// --- proofs ---

func (s *Store) StoreProofs(proofs []ledger.Proof, mintURL string) error {
	now := time.Now().UnixMilli()

	return s.db.Update(func(tx *bolt.Tx) error {
		bp := tx.Bucket([]byte(bProofs))
		bts := tx.Bucket([]byte(bProofsTS))

		for _, p := range proofs {
			if p.Secret == "" {
				return errors.New("proof with empty secret")
			}
			key := []byte(p.Secret)

			if raw := bp.Get(key); raw != nil {
				// Known secret: refresh metadata, keep identity fields and
				// spent state. Never duplicate.
				var old ledger.Proof
				if err := json.Unmarshal(raw, &old); err == nil {
					p.CreatedAt = old.CreatedAt
					p.IsSpent = old.IsSpent
					p.MintURL = mintURL
					val, err := json.Marshal(p)
					if err != nil {
						return err
					}
					if err := bp.Put(key, val); err != nil {
						return err
					}
					continue
				}
			}

			p.MintURL = mintURL
			p.CreatedAt = now
			p.IsSpent = false
			val, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if err := bp.Put(key, val); err != nil {
				return err
			}
			if err := bts.Put(tsKey(now, p.Secret), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ProofBySecret(secret string) (*ledger.Proof, bool, error) {
	var p ledger.Proof
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bProofs)).Get([]byte(secret))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return nil, false, err
	}
	return &p, true, nil
}

func (s *Store) UnspentProofs() ([]ledger.Proof, error) {
	return s.selectProofs(func(p ledger.Proof) bool { return !p.IsSpent })
}

func (s *Store) ProofsByMint(mintURL string) ([]ledger.Proof, error) {
	return s.selectProofs(func(p ledger.Proof) bool { return p.MintURL == mintURL })
}

// AllProofs returns every proof, newest first.
func (s *Store) AllProofs() ([]ledger.Proof, error) {
	var out []ledger.Proof
	err := s.db.View(func(tx *bolt.Tx) error {
		bp := tx.Bucket([]byte(bProofs))
		bts := tx.Bucket([]byte(bProofsTS))
		c := bts.Cursor()
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			_, secret := splitTSKey(k)
			if secret == "" {
				continue
			}
			raw := bp.Get([]byte(secret))
			if raw == nil {
				continue
			}
			var p ledger.Proof
			if err := json.Unmarshal(raw, &p); err != nil {
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

func (s *Store) selectProofs(keep func(ledger.Proof) bool) ([]ledger.Proof, error) {
	var out []ledger.Proof
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bProofs)).ForEach(func(_, raw []byte) error {
			var p ledger.Proof
			if err := json.Unmarshal(raw, &p); err != nil {
				// Corruption: keep going, don't brick the wallet.
				return nil
			}
			if keep(p) {
				out = append(out, p)
			}
			return nil
		})
	})
	return out, err
}

func (s *Store) TotalBalance() (int64, error) {
	var total int64
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bProofs)).ForEach(func(_, raw []byte) error {
			var p ledger.Proof
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil
			}
			if !p.IsSpent {
				total += p.Amount
			}
			return nil
		})
	})
	return total, err
}

func (s *Store) MarkSpent(secrets []string) error {
	if len(secrets) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bp := tx.Bucket([]byte(bProofs))
		for _, secret := range secrets {
			key := []byte(secret)
			raw := bp.Get(key)
			if raw == nil {
				continue // unknown secrets are ignored
			}
			var p ledger.Proof
			if err := json.Unmarshal(raw, &p); err != nil {
				continue
			}
			if p.IsSpent {
				continue
			}
			p.IsSpent = true
			val, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if err := bp.Put(key, val); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DeleteProofs(secrets []string) error {
	if len(secrets) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bp := tx.Bucket([]byte(bProofs))
		bts := tx.Bucket([]byte(bProofsTS))
		for _, secret := range secrets {
			raw := bp.Get([]byte(secret))
			if raw == nil {
				continue
			}
			var p ledger.Proof
			if err := json.Unmarshal(raw, &p); err == nil {
				_ = bts.Delete(tsKey(p.CreatedAt, p.Secret))
			}
			if err := bp.Delete([]byte(secret)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Stats() (ledger.Stats, error) {
	var st ledger.Stats
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bProofs)).ForEach(func(_, raw []byte) error {
			var p ledger.Proof
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil
			}
			st.TotalProofs++
			if p.IsSpent {
				st.SpentProofs++
				st.TotalSpent += p.Amount
			} else {
				st.UnspentProofs++
				st.TotalBalance += p.Amount
			}
			return nil
		})
	})
	return st, err
}

// PurgeAll drops every proof and its index. Never called from the payment
// path.
func (s *Store) PurgeAll() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range []string{bProofs, bProofsTS} {
			if err := tx.DeleteBucket([]byte(b)); err != nil {
				return err
			}
			if _, err := tx.CreateBucket([]byte(b)); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- processed quotes ---

type storedQuote struct {
	QuoteID     string `json:"quote_id"`
	ProcessedAt int64  `json:"processed_at"`
	Amount      int64  `json:"amount"`
}

func (s *Store) IsProcessed(quoteID string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket([]byte(bQuotes)).Get([]byte(quoteID)) != nil
		return nil
	})
	return ok, err
}

// MarkProcessed records the marker if absent. Returns true when this call
// inserted it; concurrent deliveries of the same quote serialize here.
func (s *Store) MarkProcessed(quoteID string, amount int64) (bool, error) {
	if quoteID == "" {
		return false, errors.New("empty quote id")
	}
	now := time.Now().UnixMilli()
	var inserted bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		bq := tx.Bucket([]byte(bQuotes))
		if bq.Get([]byte(quoteID)) != nil {
			return nil
		}
		val, err := json.Marshal(storedQuote{QuoteID: quoteID, ProcessedAt: now, Amount: amount})
		if err != nil {
			return err
		}
		if err := bq.Put([]byte(quoteID), val); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(bQuotesTS)).Put(tsKey(now, quoteID), nil); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

func (s *Store) SweepBefore(cutoff int64) (int, error) {
	n := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bq := tx.Bucket([]byte(bQuotes))
		bts := tx.Bucket([]byte(bQuotesTS))
		c := bts.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			ts, id := splitTSKey(k)
			if ts >= cutoff {
				break
			}
			if err := bq.Delete([]byte(id)); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// --- config ---

type storedConfig struct {
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updated_at"`
}

func (s *Store) GetConfig(key string) (string, bool, error) {
	var val string
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bConfig)).Get([]byte(key))
		if raw == nil {
			return nil
		}
		var sc storedConfig
		if err := json.Unmarshal(raw, &sc); err != nil {
			return err
		}
		val, ok = sc.Value, true
		return nil
	})
	return val, ok, err
}

func (s *Store) SetConfig(key, value string) error {
	val, err := json.Marshal(storedConfig{Value: value, UpdatedAt: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bConfig)).Put([]byte(key), val)
	})
}

func (s *Store) DeleteConfig(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bConfig)).Delete([]byte(key))
	})
}

// NextCounter increments the named counter and returns the new value, in
// one transaction.
func (s *Store) NextCounter(key string) (uint64, error) {
	var next uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		bc := tx.Bucket([]byte(bConfig))
		ck := []byte("counter/" + key)
		next = decodeU64(bc.Get(ck)) + 1
		return bc.Put(ck, encodeU64(next))
	})
	return next, err
}

// --- history ---

func (s *Store) AddEvent(ev ledger.HistoryEvent) error {
	if ev.CreatedAt == 0 {
		ev.CreatedAt = time.Now().UnixMilli()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bh := tx.Bucket([]byte(bHistory))
		seq, err := bh.NextSequence()
		if err != nil {
			return err
		}
		ev.ID = seq
		val, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return bh.Put(encodeU64(seq), val)
	})
}

// HistoryPage returns page (1-based) of size entries, newest first.
func (s *Store) HistoryPage(page, size int) (ledger.Page, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	out := ledger.Page{Page: page, PageSize: size, Events: []ledger.HistoryEvent{}}

	err := s.db.View(func(tx *bolt.Tx) error {
		bh := tx.Bucket([]byte(bHistory))
		out.Total = bh.Stats().KeyN

		skip := (page - 1) * size
		c := bh.Cursor()
		for k, v := c.Last(); k != nil && len(out.Events) < size; k, v = c.Prev() {
			if skip > 0 {
				skip--
				continue
			}
			var ev ledger.HistoryEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				continue
			}
			out.Events = append(out.Events, ev)
		}
		return nil
	})
	return out, err
}

// --- identity ---

func (s *Store) LoadIdentity() (*keys.Record, error) {
	var rec *keys.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bIdentity)).Get([]byte(kIdentity))
		if raw == nil {
			return nil
		}
		var r keys.Record
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		rec = &r
		return nil
	})
	return rec, err
}

func (s *Store) SaveIdentity(rec keys.Record) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bIdentity)).Put([]byte(kIdentity), val)
	})
}

// --- key packing ---

func tsKey(ts int64, id string) []byte {
	// big-endian timestamp for correct ordering; 0x00 separator so Seek
	// works on the prefix.
	b := make([]byte, 8+1+len(id))
	binary.BigEndian.PutUint64(b[:8], uint64(ts))
	b[8] = 0
	copy(b[9:], id)
	return b
}

func splitTSKey(k []byte) (int64, string) {
	if len(k) < 9 {
		return 0, ""
	}
	return int64(binary.BigEndian.Uint64(k[:8])), string(k[9:])
}

func encodeU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeU64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Compile-time checks that Store satisfies its consumers' interfaces.
var _ ledger.Store = (*Store)(nil)
var _ keys.Store = (*Store)(nil)
var _ dedup.Store = (*Store)(nil)
