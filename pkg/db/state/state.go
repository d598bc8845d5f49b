// Package state implements the selection-set store: one row per State, each
// carrying the package selection set active as of that transaction
// (spec.md §4.C). Grounded on the teacher's bucket-per-entity bbolt
// convention (pkg/storage/boltdb.go), with a monotonic integer id sequence
// standing in for the logical schema's AUTOINCREMENT primary key.
package state

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/moss/pkg/metrics"
	"github.com/cuemby/moss/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketStates = []byte("states")

// DB is the state store.
type DB struct {
	bolt *bolt.DB
}

// Open opens (creating if necessary) the state database at path.
func Open(path string, readOnly bool) (*DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", path, err)
	}
	if !readOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketStates)
			return err
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("state: create bucket: %w", err)
		}
	}
	return &DB{bolt: db}, nil
}

// Close closes the underlying database file.
func (d *DB) Close() error { return d.bolt.Close() }

func idKey(id types.StateID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id)) // big-endian keys sort numerically under bbolt's byte-order cursor
	return b[:]
}

// ErrNotFound is returned by Get when the id isn't present.
type ErrNotFound struct{ ID types.StateID }

func (e ErrNotFound) Error() string { return fmt.Sprintf("state: not found: %d", e.ID) }

// Get fetches one state by id.
func (d *DB) Get(id types.StateID) (types.State, error) {
	var s types.State
	err := d.bolt.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketStates).Get(idKey(id))
		if data == nil {
			return ErrNotFound{ID: id}
		}
		return json.Unmarshal(data, &s)
	})
	return s, err
}

// ListIDs returns every stored state id, strictly increasing.
func (d *DB) ListIDs() ([]types.StateID, error) {
	var ids []types.StateID
	err := d.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketStates).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			ids = append(ids, types.StateID(binary.BigEndian.Uint64(k)))
		}
		return nil
	})
	return ids, err
}

// Add inserts a new state with the next available id and the given
// selections/summary/description in a single bolt transaction, and returns
// the state exactly as it was written.
func (d *DB) Add(kind types.StateKind, selections []types.Selection, summary, description string) (types.State, error) {
	var s types.State
	timer := metrics.NewTimer()
	err := d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStates)
		next, err := b.NextSequence()
		if err != nil {
			return err
		}
		s = types.State{
			ID:          types.StateID(next),
			Created:     time.Now().UTC(),
			Kind:        kind,
			Summary:     summary,
			Description: description,
			Selections:  selections,
		}
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		return b.Put(idKey(s.ID), data)
	})
	timer.ObserveDurationVec(metrics.DBWriteDuration, "state")
	if err != nil {
		return types.State{}, fmt.Errorf("state: add: %w", err)
	}
	return s, nil
}

// BatchRemove deletes many states in one transaction.
func (d *DB) BatchRemove(ids []types.StateID) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStates)
		for _, id := range ids {
			if err := b.Delete(idKey(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// All returns every stored state, ascending by id.
func (d *DB) All() ([]types.State, error) {
	var out []types.State
	err := d.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketStates).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var s types.State
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			out = append(out, s)
		}
		return nil
	})
	return out, err
}
