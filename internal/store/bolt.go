package store

import (
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketSymbols = []byte("symbols")

// BoltCold is a ColdStore backed by a single bbolt bucket.
type BoltCold struct {
	db *bbolt.DB
}

// NewBoltCold opens (or creates) a bbolt file at path.
func NewBoltCold(path string) (*BoltCold, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSymbols); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketSymbols, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltCold{db: db}, nil
}

func (b *BoltCold) Put(key string, value []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSymbols).Put([]byte(key), value)
	})
}

func (b *BoltCold) PutMany(entries map[string][]byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketSymbols)
		for k, v := range entries {
			if err := bkt.Put([]byte(k), v); err != nil {
				return fmt.Errorf("put %q: %w", k, err)
			}
		}
		return nil
	})
}

func (b *BoltCold) Get(key string) ([]byte, bool, error) {
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketSymbols).Get([]byte(key))
		if v != nil {
			// Values are only valid for the life of the transaction.
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (b *BoltCold) Delete(key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSymbols).Delete([]byte(key))
	})
}

func (b *BoltCold) Len() (int, error) {
	n := 0
	err := b.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketSymbols).Stats().KeyN
		return nil
	})
	return n, err
}

func (b *BoltCold) Close() error {
	return b.db.Close()
}
