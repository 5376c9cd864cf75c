package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"
	log "github.com/sirupsen/logrus"
)

// PebbleDB implements the DB interface using Pebble.
// Pebble has no interactive transactions, so the driver serializes all
// writers through a single commit lock; that lock is this store's
// transaction mechanism as far as the layers above are concerned.
type PebbleDB struct {
	pdb *pebble.DB

	writeLock sync.Mutex
}

// NewPebbleDB creates new Pebble DB connection.
func NewPebbleDB(dir string) (*PebbleDB, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleDB{pdb: db}, nil
}

func (db *PebbleDB) Get(ctx context.Context, key string) ([]byte, error) {
	value, closer, err := db.pdb.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	valCopy := append([]byte{}, value...)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return valCopy, nil
}

func (db *PebbleDB) Scan(ctx context.Context, start string) ([]Entry, error) {
	iter := db.pdb.NewIter(&pebble.IterOptions{
		LowerBound: []byte(start),
	})

	var entries []Entry
	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		v, err := iter.ValueAndErr()
		if err != nil {
			iter.Close()
			log.Errorf("unable to scan from %s: %v", start, err)
			return nil, err
		}
		entries = append(entries, Entry{Key: key, Value: append([]byte{}, v...)})
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (db *PebbleDB) Insert(ctx context.Context, key string, value []byte) error {
	db.writeLock.Lock()
	defer db.writeLock.Unlock()

	_, closer, err := db.pdb.Get([]byte(key))
	if err == nil {
		closer.Close()
		return ErrKeyExists
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}
	return db.pdb.Set([]byte(key), value, pebble.Sync)
}

func (db *PebbleDB) Update(ctx context.Context, key string, fn UpdateFunc) error {
	db.writeLock.Lock()
	defer db.writeLock.Unlock()

	var current []byte
	exists := true
	value, closer, err := db.pdb.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		exists = false
	} else if err != nil {
		return err
	} else {
		current = append([]byte{}, value...)
		if err := closer.Close(); err != nil {
			return err
		}
	}

	replacement, err := fn(current, exists)
	if err != nil {
		return err
	}
	return db.pdb.Set([]byte(key), replacement, pebble.Sync)
}

// Delete key from store. No-op if key is absent.
func (db *PebbleDB) Delete(ctx context.Context, key string) error {
	db.writeLock.Lock()
	defer db.writeLock.Unlock()
	return db.pdb.Delete([]byte(key), pebble.Sync)
}

func (db *PebbleDB) Close() error {
	return db.pdb.Close()
}
