package storage

import (
	"context"
	"sort"
	"sync"
)

// MemDB is an in-memory DB, used for testing and for running the server
// without persistence. A single RWMutex stands in for the transaction
// isolation a real store would provide.
type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemDB creates new MemDB.
func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

func (db *MemDB) Get(ctx context.Context, key string) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte{}, value...), nil
}

func (db *MemDB) Scan(ctx context.Context, start string) ([]Entry, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	keys := make([]string, 0, len(db.data))
	for k := range db.data {
		if k >= start {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, Entry{Key: k, Value: append([]byte{}, db.data[k]...)})
	}
	return entries, nil
}

func (db *MemDB) Insert(ctx context.Context, key string, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.data[key]; ok {
		return ErrKeyExists
	}
	db.data[key] = append([]byte{}, value...)
	return nil
}

func (db *MemDB) Update(ctx context.Context, key string, fn UpdateFunc) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	current, exists := db.data[key]
	replacement, err := fn(append([]byte{}, current...), exists)
	if err != nil {
		return err
	}
	db.data[key] = append([]byte{}, replacement...)
	return nil
}

func (db *MemDB) Delete(ctx context.Context, key string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, key)
	return nil
}

func (db *MemDB) Close() error {
	return nil
}
