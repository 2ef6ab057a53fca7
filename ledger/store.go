package ledger

import (
	"bytes"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/tlv"
	"go.etcd.io/bbolt"
)

const (
	typeStatus   tlv.Type = 0
	typePreimage tlv.Type = 1
	typeSecret   tlv.Type = 2
	typeAmount   tlv.Type = 3
)

var (
	inboundBucket  = []byte("inbound-payments")
	outboundBucket = []byte("outbound-payments")
)

func bucketName(d Direction) []byte {
	if d == Inbound {
		return inboundBucket
	}

	return outboundBucket
}

// Store persists payment records in a bbolt database, one bucket per
// direction keyed by payment hash.
type Store struct {
	db *bbolt.DB
}

// NewStore creates the payment buckets in the given database if they don't
// exist yet. The caller owns the database and closes it.
func NewStore(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{inboundBucket, outboundBucket} {
			_, err := tx.CreateBucketIfNotExists(name)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create payment buckets: %w",
			err)
	}

	return &Store{db: db}, nil
}

// Put writes a single record.
func (s *Store) Put(d Direction, hash lntypes.Hash, info PaymentInfo) error {
	var b bytes.Buffer
	if err := encodePayment(&b, info); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName(d)).Put(hash[:], b.Bytes())
	})
}

// FetchAll reads all records of one direction.
func (s *Store) FetchAll(d Direction) (map[lntypes.Hash]PaymentInfo, error) {
	payments := make(map[lntypes.Hash]PaymentInfo)
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName(d))
		return bucket.ForEach(func(k, v []byte) error {
			hash, err := lntypes.MakeHash(k)
			if err != nil {
				return err
			}

			info, err := decodePayment(bytes.NewReader(v))
			if err != nil {
				return fmt.Errorf("payment %v: %w", hash, err)
			}
			payments[hash] = info

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return payments, nil
}

func encodePayment(b *bytes.Buffer, info PaymentInfo) error {
	status := uint8(info.Status)
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeStatus, &status),
	}

	// Records must be added in ascending type order.
	var preimage, secret [32]byte
	info.Preimage.WhenSome(func(p lntypes.Preimage) {
		preimage = p
		records = append(records, tlv.MakePrimitiveRecord(
			typePreimage, &preimage,
		))
	})
	info.Secret.WhenSome(func(s [32]byte) {
		secret = s
		records = append(records, tlv.MakePrimitiveRecord(
			typeSecret, &secret,
		))
	})

	var amount uint64
	info.Amount.WhenSome(func(a lnwire.MilliSatoshi) {
		amount = uint64(a)
		records = append(records, tlv.MakePrimitiveRecord(
			typeAmount, &amount,
		))
	})

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Encode(b)
}

func decodePayment(r *bytes.Reader) (PaymentInfo, error) {
	var (
		status           uint8
		preimage, secret [32]byte
		amount           uint64
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeStatus, &status),
		tlv.MakePrimitiveRecord(typePreimage, &preimage),
		tlv.MakePrimitiveRecord(typeSecret, &secret),
		tlv.MakePrimitiveRecord(typeAmount, &amount),
	)
	if err != nil {
		return PaymentInfo{}, err
	}

	parsed, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return PaymentInfo{}, err
	}

	info := PaymentInfo{
		Status:   HTLCStatus(status),
		Preimage: fn.None[lntypes.Preimage](),
		Secret:   fn.None[[32]byte](),
		Amount:   fn.None[lnwire.MilliSatoshi](),
	}
	if _, ok := parsed[typePreimage]; ok {
		info.Preimage = fn.Some(lntypes.Preimage(preimage))
	}
	if _, ok := parsed[typeSecret]; ok {
		info.Secret = fn.Some(secret)
	}
	if _, ok := parsed[typeAmount]; ok {
		info.Amount = fn.Some(lnwire.MilliSatoshi(amount))
	}

	return info, nil
}
