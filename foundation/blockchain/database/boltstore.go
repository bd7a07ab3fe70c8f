package database

import (
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var blocksBucket = []byte("blocks")

// BoltStore is the on-disk Serializer, an embedded key/value store keyed by
// big-endian 8-byte block heights so that bbolt's natural key ordering is
// also height ordering (§6).
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (creating if necessary) a bbolt database at path and
// ensures the blocks bucket exists.
func OpenBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("boltstore: create data dir %s: %w", dir, err)
		}
	}

	db, err := bbolt.Open(path, 0644, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blocksBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltstore: create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Write stores raw under height, overwriting any prior value.
func (bs *BoltStore) Write(height uint64, raw []byte) error {
	return bs.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(blocksBucket)
		buf := make([]byte, len(raw))
		copy(buf, raw)
		return b.Put(heightKey(height), buf)
	})
}

// Read returns the raw bytes stored at height, or ErrNotFound.
func (bs *BoltStore) Read(height uint64) ([]byte, error) {
	var out []byte
	err := bs.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(blocksBucket)
		v := b.Get(heightKey(height))
		if v == nil {
			return ErrNotFound
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ForEach visits every stored block in ascending height order.
func (bs *BoltStore) ForEach(fn func(height uint64, raw []byte) error) error {
	return bs.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(blocksBucket)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			height := decodeHeightKey(k)
			buf := make([]byte, len(v))
			copy(buf, v)
			if err := fn(height, buf); err != nil {
				return err
			}
		}
		return nil
	})
}

// Tip returns the highest height stored, following bbolt's ordered cursor
// straight to the last key.
func (bs *BoltStore) Tip() (uint64, bool, error) {
	var height uint64
	var found bool
	err := bs.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(blocksBucket)
		k, _ := b.Cursor().Last()
		if k == nil {
			return nil
		}
		height = decodeHeightKey(k)
		found = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return height, found, nil
}

// Close closes the underlying bbolt database file.
func (bs *BoltStore) Close() error {
	return bs.db.Close()
}

func decodeHeightKey(k []byte) uint64 {
	var height uint64
	for _, c := range k {
		height = height<<8 | uint64(c)
	}
	return height
}
