package storage

import (
	"context"
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v3"
	log "github.com/sirupsen/logrus"
)

// BadgerDB implements the DB interface using BadgerDB.
// Badger gives us real transactions, so Insert and Update map straight onto
// badger.Txn with no driver-side locking.
type BadgerDB struct {
	bdb *badger.DB
}

// NewBadgerDB creates new BadgerDB DB connection.
func NewBadgerDB(dir string) (*BadgerDB, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	dbs := BadgerDB{bdb: db}
	go dbs.startGC()
	return &dbs, nil
}

func (db *BadgerDB) startGC() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
	again:
		err := db.bdb.RunValueLogGC(0.7)
		if err == nil {
			goto again
		}
		if !errors.Is(err, badger.ErrNoRewrite) {
			log.Debugf("value log GC: %v", err)
		}
	}
}

func (db *BadgerDB) Get(ctx context.Context, key string) ([]byte, error) {
	var valCopy []byte
	err := db.bdb.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		valCopy, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return valCopy, nil
}

func (db *BadgerDB) Scan(ctx context.Context, start string) ([]Entry, error) {
	var entries []Entry
	err := db.bdb.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte(start)); it.Valid(); it.Next() {
			item := it.Item()
			valCopy, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entries = append(entries, Entry{Key: string(item.Key()), Value: valCopy})
		}
		return nil
	})
	if err != nil {
		log.Errorf("unable to scan from %s: %v", start, err)
		return nil, err
	}
	return entries, nil
}

func (db *BadgerDB) Insert(ctx context.Context, key string, value []byte) error {
	err := db.runTxn(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return ErrKeyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set([]byte(key), value)
	})
	if err != nil && !errors.Is(err, ErrKeyExists) {
		log.Errorf("unable to insert %s: %v", key, err)
	}
	return err
}

func (db *BadgerDB) Update(ctx context.Context, key string, fn UpdateFunc) error {
	return db.runTxn(func(txn *badger.Txn) error {
		var current []byte
		exists := true
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			exists = false
		} else if err != nil {
			return err
		} else {
			current, err = item.ValueCopy(nil)
			if err != nil {
				return err
			}
		}
		replacement, err := fn(current, exists)
		if err != nil {
			return err
		}
		return txn.Set([]byte(key), replacement)
	})
}

// runTxn wraps badger.DB.Update with a conflict retry loop. A conflict means
// another transaction committed on an overlapping key; the body is re-run
// against the new state, so any check inside it gets a fresh look.
func (db *BadgerDB) runTxn(body func(txn *badger.Txn) error) error {
	for {
		err := db.bdb.Update(body)
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return err
	}
}

// Delete key from store. No-op if key is absent.
func (db *BadgerDB) Delete(ctx context.Context, key string) error {
	err := db.runTxn(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		log.Errorf("unable to delete %s: %v", key, err)
	}
	return err
}

func (db *BadgerDB) Close() error {
	return db.bdb.Close()
}
