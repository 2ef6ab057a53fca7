package ledger

import (
	"path/filepath"
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func TestStorePersistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "payments.db")

	db, err := bbolt.Open(dbPath, 0600, nil)
	require.NoError(t, err)
	store, err := NewStore(db)
	require.NoError(t, err)

	svc, err := NewService(store)
	require.NoError(t, err)

	err = svc.InboundLedger().UpsertClaimed(
		testHash, fn.Some(testPreimage), fn.Some(testSecret),
		fn.Some(lnwire.MilliSatoshi(5000)),
	)
	require.NoError(t, err)

	outHash := lntypes.Hash{0x42}
	err = svc.OutboundLedger().AddPending(
		outHash, fn.None[lnwire.MilliSatoshi](),
	)
	require.NoError(t, err)
	_, err = svc.OutboundLedger().UpdateIfPresent(
		outHash, func(info *PaymentInfo) {
			info.Status = StatusFailed
		},
	)
	require.NoError(t, err)

	svc.Stop()
	require.NoError(t, db.Close())

	db, err = bbolt.Open(dbPath, 0600, nil)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, db.Close())
	}()

	store, err = NewStore(db)
	require.NoError(t, err)

	svc, err = NewService(store)
	require.NoError(t, err)
	defer svc.Stop()

	info, ok := svc.InboundLedger().Lookup(testHash)
	require.True(t, ok)
	require.Equal(t, PaymentInfo{
		Preimage: fn.Some(testPreimage),
		Secret:   fn.Some(testSecret),
		Status:   StatusSucceeded,
		Amount:   fn.Some(lnwire.MilliSatoshi(5000)),
	}, info)

	info, ok = svc.OutboundLedger().Lookup(outHash)
	require.True(t, ok)
	require.Equal(t, StatusFailed, info.Status)
	require.True(t, info.Preimage.IsNone())
	require.True(t, info.Secret.IsNone())
	require.True(t, info.Amount.IsNone())

	_, ok = svc.InboundLedger().Lookup(outHash)
	require.False(t, ok)
}
