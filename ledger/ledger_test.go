package ledger

import (
	"errors"
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/stretchr/testify/require"
)

var (
	testHash     = lntypes.Hash{0x01}
	testPreimage = lntypes.Preimage{0x02}
	testSecret   = [32]byte{0x03}
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	svc, err := NewService(nil)
	require.NoError(t, err)
	t.Cleanup(svc.Stop)

	return svc
}

func TestUpsertClaimedNew(t *testing.T) {
	l := newTestService(t).InboundLedger()

	err := l.UpsertClaimed(
		testHash, fn.Some(testPreimage), fn.Some(testSecret),
		fn.Some(lnwire.MilliSatoshi(5000)),
	)
	require.NoError(t, err)

	info, ok := l.Lookup(testHash)
	require.True(t, ok)
	require.Equal(t, StatusSucceeded, info.Status)
	require.Equal(t, fn.Some(testPreimage), info.Preimage)
	require.Equal(t, fn.Some(testSecret), info.Secret)
	require.Equal(t, fn.Some(lnwire.MilliSatoshi(5000)), info.Amount)
	require.Equal(t, 1, l.Len())
}

func TestUpsertClaimedIdempotent(t *testing.T) {
	l := newTestService(t).InboundLedger()

	for i := 0; i < 2; i++ {
		err := l.UpsertClaimed(
			testHash, fn.Some(testPreimage), fn.Some(testSecret),
			fn.None[lnwire.MilliSatoshi](),
		)
		require.NoError(t, err)
	}

	info, ok := l.Lookup(testHash)
	require.True(t, ok)
	require.Equal(t, StatusSucceeded, info.Status)
	require.True(t, info.Amount.IsNone())
	require.Equal(t, 1, l.Len())
}

func TestUpsertClaimedPending(t *testing.T) {
	l := newTestService(t).OutboundLedger()

	amt := fn.Some(lnwire.MilliSatoshi(1000))
	require.NoError(t, l.AddPending(testHash, amt))

	err := l.UpsertClaimed(
		testHash, fn.Some(testPreimage), fn.None[[32]byte](),
		fn.None[lnwire.MilliSatoshi](),
	)
	require.NoError(t, err)

	info, _ := l.Lookup(testHash)
	require.Equal(t, StatusSucceeded, info.Status)
	require.Equal(t, amt, info.Amount)
}

func TestStatusIsTerminal(t *testing.T) {
	l := newTestService(t).OutboundLedger()
	noAmount := fn.None[lnwire.MilliSatoshi]()
	require.NoError(t, l.AddPending(testHash, noAmount))

	found, err := l.UpdateIfPresent(testHash, func(info *PaymentInfo) {
		info.Status = StatusSucceeded
		info.Preimage = fn.Some(testPreimage)
	})
	require.True(t, found)
	require.NoError(t, err)

	for _, status := range []HTLCStatus{StatusPending, StatusFailed} {
		found, err = l.UpdateIfPresent(testHash, func(info *PaymentInfo) {
			info.Status = status
		})
		require.True(t, found)
		require.True(t, errors.Is(err, ErrStatusRegression))
	}

	info, _ := l.Lookup(testHash)
	require.Equal(t, StatusSucceeded, info.Status)
	require.Equal(t, fn.Some(testPreimage), info.Preimage)

	// Failed is just as final.
	other := lntypes.Hash{0x09}
	require.NoError(t, l.AddPending(other, fn.None[lnwire.MilliSatoshi]()))
	_, err = l.UpdateIfPresent(other, func(info *PaymentInfo) {
		info.Status = StatusFailed
	})
	require.NoError(t, err)

	err = l.UpsertClaimed(
		other, fn.Some(testPreimage), fn.None[[32]byte](),
		fn.None[lnwire.MilliSatoshi](),
	)
	require.ErrorIs(t, err, ErrStatusRegression)
}

func TestUpdateIfPresentMissing(t *testing.T) {
	l := newTestService(t).OutboundLedger()

	called := false
	found, err := l.UpdateIfPresent(testHash, func(*PaymentInfo) {
		called = true
	})
	require.NoError(t, err)
	require.False(t, found)
	require.False(t, called)
	require.Zero(t, l.Len())
}

func TestAddPendingExists(t *testing.T) {
	l := newTestService(t).OutboundLedger()

	noAmount := fn.None[lnwire.MilliSatoshi]()
	require.NoError(t, l.AddPending(testHash, noAmount))
	err := l.AddPending(testHash, fn.None[lnwire.MilliSatoshi]())
	require.ErrorIs(t, err, ErrPaymentExists)
}

func TestSnapshotIsCopy(t *testing.T) {
	l := newTestService(t).OutboundLedger()
	noAmount := fn.None[lnwire.MilliSatoshi]()
	require.NoError(t, l.AddPending(testHash, noAmount))

	snapshot := l.Snapshot()
	snapshot[lntypes.Hash{0xff}] = PaymentInfo{}
	require.Equal(t, 1, l.Len())

	var seen int
	require.NoError(t, l.ForEach(func(lntypes.Hash, PaymentInfo) error {
		seen++
		return nil
	}))
	require.Equal(t, 1, seen)

	stop := errors.New("stop")
	err := l.ForEach(func(lntypes.Hash, PaymentInfo) error {
		return stop
	})
	require.ErrorIs(t, err, stop)
}
