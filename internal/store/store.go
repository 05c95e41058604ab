// Package store defines the auxiliary key/value store the hub appends
// chat and response records to. The store is an audit side-channel: the
// routing path never reads it back, and its failures must never surface
// to clients.
package store

import (
	"context"
	"fmt"
	"sync"
)

// Store persists audit records keyed by opaque strings.
type Store interface {
	// Put writes the field map under key, replacing any previous value.
	Put(ctx context.Context, key string, fields map[string]string) error

	// Get reads the field map stored under key. Missing keys return an error.
	Get(ctx context.Context, key string) (map[string]string, error)

	// Close releases backend resources.
	Close() error
}

// MemoryStore is an in-memory Store for tests and single-run deployments.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]string)}
}

// Put writes the field map under key.
func (s *MemoryStore) Put(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	s.records[key] = cp
	return nil
}

// Get reads the field map stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("record %q not found", key)
	}
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return cp, nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
