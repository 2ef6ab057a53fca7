package wallet

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	indexBucket = []byte("wallet-indexes")
	receiveKey  = []byte("receive")
	changeKey   = []byte("change")
)

// BoltIndexStore keeps the address indexes in a bbolt database.
type BoltIndexStore struct {
	db *bbolt.DB
}

// A compile time check to ensure BoltIndexStore implements the IndexStore
// interface.
var _ IndexStore = (*BoltIndexStore)(nil)

// NewIndexStore creates the index bucket in the given database if it doesn't
// exist yet.
func NewIndexStore(db *bbolt.DB) (*BoltIndexStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(indexBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create index bucket: %w", err)
	}

	return &BoltIndexStore{db: db}, nil
}

// FetchIndexes returns the stored indexes, zero if none were stored yet.
func (s *BoltIndexStore) FetchIndexes() (uint32, uint32, error) {
	var receive, change uint32
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(indexBucket)

		if v := bucket.Get(receiveKey); len(v) == 4 {
			receive = binary.BigEndian.Uint32(v)
		}
		if v := bucket.Get(changeKey); len(v) == 4 {
			change = binary.BigEndian.Uint32(v)
		}

		return nil
	})

	return receive, change, err
}

// PutIndexes stores both indexes.
func (s *BoltIndexStore) PutIndexes(receive, change uint32) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(indexBucket)

		var r, c [4]byte
		binary.BigEndian.PutUint32(r[:], receive)
		binary.BigEndian.PutUint32(c[:], change)

		if err := bucket.Put(receiveKey, r[:]); err != nil {
			return err
		}
		return bucket.Put(changeKey, c[:])
	})
}
