package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is a Store backed by an embedded Badger database.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a Badger database at dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Put writes the field map under key as a JSON value.
func (s *BadgerStore) Put(ctx context.Context, key string, fields map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode record %q: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// Get reads the field map stored under key.
func (s *BadgerStore) Get(ctx context.Context, key string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var fields map[string]string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("record %q not found", key)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &fields)
		})
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
