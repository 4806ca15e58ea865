package resolver

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/kswhitlock9493-jpg/brh/pkg/federation"
	bolt "go.etcd.io/bbolt"
)

var historyBucket = []byte("consensus_history")

// History persists the append-only consensus record log in a bbolt file.
// Entries are keyed by a monotonically increasing sequence number; bounded
// retention trims the oldest entries once the bucket exceeds the limit, so
// the file cannot grow without bound.
type History struct {
	db     *bolt.DB
	retain int
}

// OpenHistory opens (or creates) the consensus history at path.
func OpenHistory(path string, retain int) (*History, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open consensus history: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(historyBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history bucket: %w", err)
	}

	return &History{db: db, retain: retain}, nil
}

// Append writes one consensus record and trims past the retention bound.
func (h *History) Append(rec federation.ConsensusRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode consensus record: %w", err)
	}

	return h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(historyBucket)
		before := b.Stats().KeyN

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := b.Put(key, payload); err != nil {
			return err
		}

		// Trim oldest entries beyond the retention bound
		excess := before + 1 - h.retain
		if excess <= 0 {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil && excess > 0; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
			excess--
		}
		return nil
	})
}

// Recent returns up to n records, newest first.
func (h *History) Recent(n int) ([]federation.ConsensusRecord, error) {
	records := make([]federation.ConsensusRecord, 0, n)

	err := h.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(historyBucket).Cursor()
		for k, v := c.Last(); k != nil && len(records) < n; k, v = c.Prev() {
			var rec federation.ConsensusRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt consensus record: %w", err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Len returns the number of retained records.
func (h *History) Len() (int, error) {
	var n int
	err := h.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(historyBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Close releases the underlying database file.
func (h *History) Close() error {
	return h.db.Close()
}
