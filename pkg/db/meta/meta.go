// Package meta implements the package-metadata store: one bbolt-backed
// database mapping a package id to its full Meta record (spec.md §4.C).
//
// The logical schema in spec.md normalises licenses/dependencies/providers/
// conflicts into side tables with cascade delete. bbolt has no relational
// layer, so — following the teacher's JSON-blob-per-bucket-key convention
// (pkg/storage/boltdb.go) — each package's full Meta, side tables included,
// is stored as one JSON value keyed by its id; "cascade delete" falls out
// for free because there is nothing left to orphan.
package meta

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/moss/pkg/log"
	"github.com/cuemby/moss/pkg/metrics"
	"github.com/cuemby/moss/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketMeta = []byte("meta")

// batchChunkSize bounds how many rows are written in a single bbolt
// transaction. bbolt has no bind-count ceiling the way the reference
// SQLite backend does, but spec.md's chunking budget (1,000 rows) is kept
// so a single oversized transaction never holds the writer lock for an
// unbounded stretch.
const batchChunkSize = 1000

// DB is the package-metadata store.
type DB struct {
	bolt *bolt.DB
}

// Open opens (creating if necessary) the meta database at path.
func Open(path string, readOnly bool) (*DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("meta: open %s: %w", path, err)
	}
	if !readOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketMeta)
			return err
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("meta: create bucket: %w", err)
		}
	}
	return &DB{bolt: db}, nil
}

// Close closes the underlying database file.
func (d *DB) Close() error { return d.bolt.Close() }

// Put upserts a single package's metadata.
func (d *DB) Put(m types.Meta) error {
	timer := metrics.NewTimer()
	err := d.bolt.Update(func(tx *bolt.Tx) error {
		return putMeta(tx.Bucket(bucketMeta), m)
	})
	timer.ObserveDurationVec(metrics.DBWriteDuration, "meta")
	return err
}

// PutBatch upserts many packages' metadata, chunked into transactions of at
// most batchChunkSize rows each.
func (d *DB) PutBatch(metas []types.Meta) error {
	for start := 0; start < len(metas); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(metas) {
			end = len(metas)
		}
		chunk := metas[start:end]

		timer := metrics.NewTimer()
		err := d.bolt.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketMeta)
			for _, m := range chunk {
				if err := putMeta(b, m); err != nil {
					return err
				}
			}
			return nil
		})
		timer.ObserveDurationVec(metrics.DBWriteDuration, "meta")
		if err != nil {
			return fmt.Errorf("meta: put batch [%d:%d]: %w", start, end, err)
		}
	}
	log.WithComponent("meta").Debug().Int("rows", len(metas)).Msg("batch put complete")
	return nil
}

func putMeta(b *bolt.Bucket, m types.Meta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal meta %s: %w", m.ID, err)
	}
	return b.Put([]byte(m.ID), data)
}

// ErrNotFound is returned by Get when the id isn't present.
type ErrNotFound struct{ ID types.PackageID }

func (e ErrNotFound) Error() string { return fmt.Sprintf("meta: package not found: %s", e.ID) }

// Get fetches one package's metadata by id.
func (d *DB) Get(id types.PackageID) (types.Meta, error) {
	var m types.Meta
	err := d.bolt.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get([]byte(id))
		if data == nil {
			return ErrNotFound{ID: id}
		}
		return json.Unmarshal(data, &m)
	})
	return m, err
}

// Remove deletes one package's metadata row.
func (d *DB) Remove(id types.PackageID) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Delete([]byte(id))
	})
}

// BatchRemove deletes many rows in one transaction.
func (d *DB) BatchRemove(ids []types.PackageID) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// FilterKind discriminates the four Query predicates spec.md names.
type FilterKind int

const (
	FilterNone FilterKind = iota
	FilterProvider
	FilterDependency
	FilterName
	FilterKeyword
)

// Filter selects a Query predicate, picked by Kind: FilterProvider and
// FilterDependency read Provider, FilterName reads Name, FilterKeyword
// reads Keyword.
type Filter struct {
	Kind     FilterKind
	Provider types.Provider
	Name     string
	Keyword  string
}

func matchesFilter(m types.Meta, f Filter) bool {
	switch f.Kind {
	case FilterNone:
		return true
	case FilterProvider:
		for _, p := range m.Providers {
			if p == f.Provider {
				return true
			}
		}
		return false
	case FilterDependency:
		want := f.Provider.String()
		for _, dep := range m.Dependencies {
			if dep.String() == want {
				return true
			}
		}
		return false
	case FilterName:
		return string(m.Name) == f.Name
	case FilterKeyword:
		k := strings.ToLower(f.Keyword)
		return strings.Contains(strings.ToLower(m.Name), k) ||
			strings.Contains(strings.ToLower(m.Summary), k)
	default:
		return false
	}
}

// Query scans every row matching f, returned newest-first by source release
// then ascending by name (spec.md §4.D's default package ordering).
func (d *DB) Query(f Filter) ([]types.Meta, error) {
	var out []types.Meta
	err := d.bolt.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).ForEach(func(_, v []byte) error {
			var m types.Meta
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if matchesFilter(m, f) {
				out = append(out, m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SourceRelease != out[j].SourceRelease {
			return out[i].SourceRelease > out[j].SourceRelease
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// FileHashes returns the set of every hex-encoded download hash referenced
// by stored metadata, used by prune to reconcile the download cache.
func (d *DB) FileHashes() (map[string]struct{}, error) {
	hashes := make(map[string]struct{})
	err := d.bolt.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).ForEach(func(_, v []byte) error {
			var m types.Meta
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.HasHash && m.Hash != "" {
				hashes[m.Hash] = struct{}{}
			}
			return nil
		})
	})
	return hashes, err
}

// ListIDs returns every stored package id.
func (d *DB) ListIDs() ([]types.PackageID, error) {
	var ids []types.PackageID
	err := d.bolt.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).ForEach(func(k, _ []byte) error {
			ids = append(ids, types.PackageID(k))
			return nil
		})
	})
	return ids, err
}
