// Package store is the persistent key-value layer backing this
// module's persistent keys: serverList, shardMapping, healthyZone,
// dataDistributionMode, perpetualStorageWiggle, wigglingStorage (read
// and written by internal/collection's adapters). Built on badger,
// following a key-prefixing
// convention so several regions' keys can share one database.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/ristretto/v2"
)

// ErrNotFound is the shared not-found sentinel for this package.
var ErrNotFound = errors.New("not found")

// Store is the badger-backed key-value layer. One Store per region,
// namespaced by key prefix (see KeyFor). A ristretto cache sits in front
// of badger's reads: the hot keys this module re-reads constantly
// (serverList rows, the wiggling-process key, the per-region mode key)
// are read far more often than they're written.
type Store struct {
	db    *badger.DB
	cache *ristretto.Cache[string, []byte]
}

// Open returns a Store rooted at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil
	opts = opts.WithValueLogFileSize(1 << 20)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 1e6,
		MaxCost:     1 << 26, // 64MiB of cached values
		BufferItems: 64,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, cache: cache}, nil
}

func (s *Store) Close() error {
	s.cache.Close()
	return s.db.Close()
}

// KeyFor namespaces a key by region, using a "<prefix>/<region>/<key>"
// layout.
func KeyFor(prefix, region, key string) []byte {
	return []byte(prefix + "/" + region + "/" + key)
}

// Put JSON-encodes v and writes it under key.
func (s *Store) Put(ctx context.Context, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return err
	}
	s.cache.Del(string(key))
	return nil
}

// Get JSON-decodes the value stored at key into out, or returns
// ErrNotFound.
func (s *Store) Get(ctx context.Context, key []byte, out interface{}) error {
	raw, err := s.getBytes(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// PutString writes a raw string value (used for the "0"|"1" enable keys
// and the bare process-ID keys).
func (s *Store) PutString(ctx context.Context, key []byte, v string) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, []byte(v))
	}); err != nil {
		return err
	}
	s.cache.Del(string(key))
	return nil
}

// GetString reads a raw string value, or ErrNotFound.
func (s *Store) GetString(ctx context.Context, key []byte) (string, error) {
	raw, err := s.getBytes(key)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// getBytes serves key out of the ristretto cache when present, falling
// back to badger and populating the cache on a miss.
func (s *Store) getBytes(key []byte) ([]byte, error) {
	k := string(key)
	if v, ok := s.cache.Get(k); ok {
		return v, nil
	}

	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			out = append([]byte{}, v...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.cache.Set(k, out, int64(len(out)))
	return out, nil
}

// Delete removes key, if present.
func (s *Store) Delete(ctx context.Context, key []byte) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}); err != nil {
		return err
	}
	s.cache.Del(string(key))
	return nil
}

// ScanPrefix invokes fn for every key-value pair whose key starts with
// prefix, in key order. The bootstrap reads in internal/collection use
// single-key Get/GetString rather than ScanPrefix.
func (s *Store) ScanPrefix(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := append([]byte{}, item.Key()...)
			if err := item.Value(func(v []byte) error {
				return fn(key, append([]byte{}, v...))
			}); err != nil {
				return err
			}
		}
		return nil
	})
}
