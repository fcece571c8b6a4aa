// Package kvstore is the pluggable persistent backend described in spec.md
// §1 and §6: every stored kind exposes fetch/insert/delete/exist plus batch
// variants. This package owns only the generic byte-level backend; the
// typed views used by each core component live in typed.go.
package kvstore

import (
	"time"

	"github.com/dgraph-io/badger"

	"github.com/tangleproto/tanglenode/internal/log"
)

var logger = log.New("kvstore")

// Backend is the byte-level persistent store every core component is
// written against, grounded on the teacher's storage/database.DBManager
// interface shape (fetch/insert/delete/batch) but narrowed to the generic
// key-value operations spec.md §6 actually names.
type Backend interface {
	Fetch(key []byte) (value []byte, found bool, err error)
	Insert(key, value []byte) error
	Delete(key []byte) error
	Exists(key []byte) (bool, error)
	FetchPrefix(prefix []byte) (map[string][]byte, error)
	InsertBatch(items map[string][]byte) error
	Close() error
}

// badgerBackend implements Backend on top of dgraph-io/badger, mirroring
// the teacher's storage/database/badger_database.go (embedded KV engine,
// periodic value-log GC).
type badgerBackend struct {
	db       *badger.DB
	gcTicker *time.Ticker
	stop     chan struct{}
}

// NewBadgerBackend opens (creating if absent) a badger database at dir.
func NewBadgerBackend(dir string) (Backend, error) {
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	b := &badgerBackend{db: db, gcTicker: time.NewTicker(time.Minute), stop: make(chan struct{})}
	go b.runGC()
	return b, nil
}

func (b *badgerBackend) runGC() {
	for {
		select {
		case <-b.stop:
			return
		case <-b.gcTicker.C:
		again:
			if err := b.db.RunValueLogGC(0.5); err == nil {
				goto again
			}
		}
	}
}

func (b *badgerBackend) Fetch(key []byte) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	return value, value != nil, err
}

func (b *badgerBackend) Insert(key, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (b *badgerBackend) Delete(key []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (b *badgerBackend) Exists(key []byte) (bool, error) {
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (b *badgerBackend) FetchPrefix(prefix []byte) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[string(item.KeyCopy(nil))] = v
		}
		return nil
	})
	return out, err
}

func (b *badgerBackend) InsertBatch(items map[string][]byte) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for k, v := range items {
		if err := wb.Set([]byte(k), v); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (b *badgerBackend) Close() error {
	close(b.stop)
	b.gcTicker.Stop()
	return b.db.Close()
}
