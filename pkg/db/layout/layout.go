// Package layout implements the per-package inode store: every filesystem
// entry a package ships, keyed so it can be queried back out per package or
// across the whole installation (spec.md §4.C).
package layout

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/moss/pkg/metrics"
	"github.com/cuemby/moss/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketLayouts = []byte("layouts")

const batchChunkSize = 1000

// DB is the layout store. Each bucket value is the full JSON-encoded slice
// of types.Layout entries owned by one package, keyed by package id — the
// natural query shape (spec.md's layout.query(packages)) is "fetch by
// owning package", so it is also the storage key, rather than one row per
// inode as the logical SQL schema has it.
type DB struct {
	bolt *bolt.DB
}

// Open opens (creating if necessary) the layout database at path.
func Open(path string, readOnly bool) (*DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("layout: open %s: %w", path, err)
	}
	if !readOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketLayouts)
			return err
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("layout: create bucket: %w", err)
		}
	}
	return &DB{bolt: db}, nil
}

// Close closes the underlying database file.
func (d *DB) Close() error { return d.bolt.Close() }

// BatchAdd writes the layout entries for one package.
func (d *DB) BatchAdd(pkg types.PackageID, entries []types.Layout) error {
	timer := metrics.NewTimer()
	err := d.bolt.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(entries)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketLayouts).Put([]byte(pkg), data)
	})
	timer.ObserveDurationVec(metrics.DBWriteDuration, "layout")
	return err
}

// BatchRemove deletes the layout rows for a set of packages.
func (d *DB) BatchRemove(pkgs []types.PackageID) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLayouts)
		for _, pkg := range pkgs {
			if err := b.Delete([]byte(pkg)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Query returns the layout entries owned by each of pkgs, in the order
// given. A package with no stored layout is silently skipped.
func (d *DB) Query(pkgs []types.PackageID) ([]types.Layout, error) {
	var out []types.Layout
	err := d.bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLayouts)
		for _, pkg := range pkgs {
			data := b.Get([]byte(pkg))
			if data == nil {
				continue
			}
			var entries []types.Layout
			if err := json.Unmarshal(data, &entries); err != nil {
				return err
			}
			out = append(out, entries...)
		}
		return nil
	})
	return out, err
}

// All returns every layout entry across every package.
func (d *DB) All() ([]types.Layout, error) {
	var out []types.Layout
	err := d.bolt.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLayouts).ForEach(func(_, v []byte) error {
			var entries []types.Layout
			if err := json.Unmarshal(v, &entries); err != nil {
				return err
			}
			out = append(out, entries...)
			return nil
		})
	})
	return out, err
}

// FileHashes returns the set of distinct regular-file content hashes
// referenced across every stored layout, used by prune/verify.
func (d *DB) FileHashes() (map[types.Hash128]struct{}, error) {
	hashes := make(map[types.Hash128]struct{})
	entries, err := d.All()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Entry.Kind == types.EntryRegular {
			hashes[e.Entry.Hash] = struct{}{}
		}
	}
	return hashes, nil
}
