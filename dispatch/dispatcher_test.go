package dispatch

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/lnreactor/chain"
	"github.com/lightninglabs/lnreactor/event"
	"github.com/lightninglabs/lnreactor/funding"
	"github.com/lightninglabs/lnreactor/keys"
	"github.com/lightninglabs/lnreactor/ledger"
	"github.com/lightninglabs/lnreactor/wallet"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	testStartTime = time.Unix(1700000000, 0)
	testPeer      = route.Vertex{0x02, 0xaa}
	testChanID    = lnwire.ChannelID{0x01}
)

type mockWallet struct {
	mock.Mock
}

func (m *mockWallet) NewAddress() (btcutil.Address, error) {
	args := m.Called()
	addr, _ := args.Get(0).(btcutil.Address)
	return addr, args.Error(1)
}

func (m *mockWallet) BuildFundingTransaction(outputScript []byte,
	value btcutil.Amount, feeRate wallet.FeeRate) (*wire.MsgTx, error) {

	args := m.Called(outputScript, value, feeRate)
	tx, _ := args.Get(0).(*wire.MsgTx)
	return tx, args.Error(1)
}

type mockSigner struct {
	mock.Mock
}

func (m *mockSigner) SpendOutputs(descs []keys.OutputDescriptor,
	extra []*wire.TxOut, destScript []byte,
	feeRate chainfee.SatPerKWeight) (*wire.MsgTx, error) {

	args := m.Called(descs, extra, destScript, feeRate)
	tx, _ := args.Get(0).(*wire.MsgTx)
	return tx, args.Error(1)
}

type testContext struct {
	d        *Dispatcher
	engine   *MockEngine
	graph    *MockGraph
	wallet   *mockWallet
	signer   *mockSigner
	chain    *chain.MockClient
	requests *funding.Requests
	payments *ledger.Service
	clock    *clock.TestClock
	ticks    chan time.Duration
}

func newTestContext(t *testing.T) *testContext {
	t.Helper()

	payments, err := ledger.NewService(nil)
	require.NoError(t, err)
	t.Cleanup(payments.Stop)

	ticks := make(chan time.Duration, 1)
	ctx := &testContext{
		engine:   &MockEngine{},
		graph:    &MockGraph{Aliases: make(map[route.Vertex]string)},
		wallet:   &mockWallet{},
		signer:   &mockSigner{},
		chain:    &chain.MockClient{},
		requests: funding.NewRequests(),
		payments: payments,
		ticks:    ticks,
	}
	ctx.clock = clock.NewTestClockWithTickSignal(testStartTime, ticks)
	ctx.d = New(&Config{
		Engine:   ctx.engine,
		Graph:    ctx.graph,
		Wallet:   ctx.wallet,
		Signer:   ctx.signer,
		Chain:    ctx.chain,
		Requests: ctx.requests,
		Payments: payments,
		Clock:    ctx.clock,
		Jitter: func(n int64) int64 {
			return n - 1
		},
	})
	t.Cleanup(ctx.d.Stop)

	return ctx
}

func (c *testContext) assertExpectations(t *testing.T) {
	t.Helper()

	c.engine.AssertExpectations(t)
	c.wallet.AssertExpectations(t)
	c.signer.AssertExpectations(t)
	c.chain.AssertExpectations(t)
}

// resultRecorder returns a funding callback that stores its results.
func resultRecorder() (funding.Callback, *[]fn.Result[*wire.MsgTx]) {
	var results []fn.Result[*wire.MsgTx]
	return func(r fn.Result[*wire.MsgTx]) {
		results = append(results, r)
	}, &results
}

func fundingEvent(openID uint64) *event.FundingGenerationReady {
	return &event.FundingGenerationReady{
		TempChannelID:      testChanID,
		CounterpartyNodeID: testPeer,
		ChannelValue:       1_000_000,
		OutputScript:       []byte{0x00, 0x20, 0x01},
		UserChannelID:      openID,
	}
}

// TestAllKindsHandled makes sure every event variant has a handler.
func TestAllKindsHandled(t *testing.T) {
	c := newTestContext(t)

	forwarded := make(chan struct{})
	c.engine.On("ListChannels").Return(nil)
	c.engine.On("ProcessPendingHTLCForwards").Return().Run(
		func(mock.Arguments) {
			close(forwarded)
		},
	)

	for _, ev := range event.Kinds() {
		err := c.d.HandleEvent(context.Background(), ev)
		require.NoError(t, err, ev.Kind())
	}

	select {
	case <-forwarded:
	case <-time.After(time.Second):
		t.Fatal("pending forwards not processed")
	}

	stats := c.d.Stats()
	require.Len(t, stats, len(event.Kinds()))
	for _, ev := range event.Kinds() {
		require.EqualValues(t, 1, stats[ev.Kind()], ev.Kind())
	}

	// A zero value funding event must not have reached the wallet.
	c.wallet.AssertNotCalled(
		t, "BuildFundingTransaction", mock.Anything, mock.Anything,
		mock.Anything,
	)
}

func TestUnhandledEvent(t *testing.T) {
	c := newTestContext(t)

	err := c.d.HandleEvent(context.Background(), nil)
	require.ErrorIs(t, err, ErrUnhandledEvent)
	require.Empty(t, c.d.Stats())
}

// TestFundingSuccess opens a channel and checks the caller receives the
// funding transaction the engine accepted.
func TestFundingSuccess(t *testing.T) {
	c := newTestContext(t)

	cb, results := resultRecorder()
	require.NoError(t, c.requests.Put(7, 4, cb))

	ev := fundingEvent(7)
	fundingTx := wire.NewMsgTx(2)
	c.wallet.On(
		"BuildFundingTransaction", ev.OutputScript, ev.ChannelValue,
		wallet.FeeRate(4),
	).Return(fundingTx, nil).Once()
	c.engine.On(
		"FundingTransactionGenerated", testChanID, testPeer, fundingTx,
	).Return(nil).Once()

	c.d.Handle(ev)

	require.Len(t, *results, 1)
	tx, err := (*results)[0].Unpack()
	require.NoError(t, err)
	require.Same(t, fundingTx, tx)
	require.Zero(t, c.requests.Len())
	c.assertExpectations(t)

	// A second event for the same id finds nothing and builds nothing.
	c.d.Handle(ev)
	require.Len(t, *results, 1)
	c.assertExpectations(t)
}

func TestFundingUnknownRequest(t *testing.T) {
	c := newTestContext(t)

	c.d.Handle(fundingEvent(99))

	c.wallet.AssertNotCalled(
		t, "BuildFundingTransaction", mock.Anything, mock.Anything,
		mock.Anything,
	)
	c.engine.AssertNotCalled(
		t, "FundingTransactionGenerated", mock.Anything,
		mock.Anything, mock.Anything,
	)
}

func TestFundingEngineRejects(t *testing.T) {
	c := newTestContext(t)

	cb, results := resultRecorder()
	require.NoError(t, c.requests.Put(7, 4, cb))

	rejected := errors.New("funding output not found")
	fundingTx := wire.NewMsgTx(2)
	c.wallet.On(
		"BuildFundingTransaction", mock.Anything, mock.Anything,
		mock.Anything,
	).Return(fundingTx, nil).Once()
	c.engine.On(
		"FundingTransactionGenerated", testChanID, testPeer, fundingTx,
	).Return(rejected).Once()

	c.d.Handle(fundingEvent(7))

	require.Len(t, *results, 1)
	_, err := (*results)[0].Unpack()
	require.ErrorIs(t, err, rejected)
	require.Zero(t, c.requests.Len())

	// Nothing may be broadcast for a rejected funding transaction.
	c.chain.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything)
	c.assertExpectations(t)
}

func TestFundingWalletError(t *testing.T) {
	c := newTestContext(t)

	cb, results := resultRecorder()
	require.NoError(t, c.requests.Put(7, 4, cb))

	c.wallet.On(
		"BuildFundingTransaction", mock.Anything, mock.Anything,
		mock.Anything,
	).Return(nil, wallet.ErrWalletBusy).Once()

	c.d.Handle(fundingEvent(7))

	require.Len(t, *results, 1)
	_, err := (*results)[0].Unpack()
	require.ErrorIs(t, err, wallet.ErrWalletBusy)
	require.Zero(t, c.requests.Len())
	c.engine.AssertNotCalled(
		t, "FundingTransactionGenerated", mock.Anything,
		mock.Anything, mock.Anything,
	)
}

func TestChannelClosedResolvesPending(t *testing.T) {
	c := newTestContext(t)

	cb, results := resultRecorder()
	require.NoError(t, c.requests.Put(7, 4, cb))

	c.d.Handle(&event.ChannelClosed{
		ChannelID:     testChanID,
		UserChannelID: 7,
		Reason: event.ClosureReason{
			Code: event.ClosureCounterpartyForceClosed,
		},
	})

	require.Len(t, *results, 1)
	_, err := (*results)[0].Unpack()
	require.ErrorIs(t, err, funding.ErrChannelClosed)
	require.Zero(t, c.requests.Len())

	// Closing a channel that was funded long ago touches nothing.
	c.d.Handle(&event.ChannelClosed{UserChannelID: 7})
	require.Len(t, *results, 1)
}

func TestPaymentClaimable(t *testing.T) {
	c := newTestContext(t)

	preimage := lntypes.Preimage{0x11}
	c.engine.On("ClaimFunds", preimage).Return().Once()

	c.d.Handle(&event.PaymentClaimable{
		PaymentHash: preimage.Hash(),
		Purpose: &event.InvoicePayment{
			PaymentPreimage: fn.Some(preimage),
		},
		Amount: 10_000,
	})
	c.engine.AssertExpectations(t)

	// Without a preimage there is nothing to claim with.
	c.d.Handle(&event.PaymentClaimable{
		Purpose: &event.InvoicePayment{
			PaymentPreimage: fn.None[lntypes.Preimage](),
		},
	})
	c.engine.AssertNumberOfCalls(t, "ClaimFunds", 1)

	spontaneous := lntypes.Preimage{0x22}
	c.engine.On("ClaimFunds", spontaneous).Return().Once()
	c.d.Handle(&event.PaymentClaimable{
		Purpose: &event.SpontaneousPayment{
			PaymentPreimage: spontaneous,
		},
	})
	c.engine.AssertExpectations(t)
}

// TestPaymentClaimed records a new inbound payment in the ledger.
func TestPaymentClaimed(t *testing.T) {
	c := newTestContext(t)

	preimage := lntypes.Preimage{0x11}
	secret := [32]byte{0x33}
	c.d.Handle(&event.PaymentClaimed{
		PaymentHash: preimage.Hash(),
		Purpose: &event.InvoicePayment{
			PaymentPreimage: fn.Some(preimage),
			PaymentSecret:   secret,
		},
		Amount: 10_000,
	})

	info, ok := c.payments.Reader().Inbound().Lookup(preimage.Hash())
	require.True(t, ok)
	require.Equal(t, ledger.StatusSucceeded, info.Status)
	require.Equal(t, fn.Some(preimage), info.Preimage)
	require.Equal(t, fn.Some(secret), info.Secret)
	require.Equal(t, fn.Some(lnwire.MilliSatoshi(10_000)), info.Amount)

	// Claiming again keeps a single record.
	c.d.Handle(&event.PaymentClaimed{
		PaymentHash: preimage.Hash(),
		Purpose: &event.SpontaneousPayment{
			PaymentPreimage: preimage,
		},
		Amount: 10_000,
	})
	require.Equal(t, 1, c.payments.Reader().Inbound().Len())
}

// TestPaymentSent moves a tracked outbound payment to succeeded.
func TestPaymentSent(t *testing.T) {
	c := newTestContext(t)

	preimage := lntypes.Preimage{0x44}
	hash := preimage.Hash()
	require.NoError(t, c.payments.OutboundLedger().AddPending(
		hash, fn.Some(lnwire.MilliSatoshi(5_000)),
	))

	c.d.Handle(&event.PaymentSent{
		PaymentPreimage: preimage,
		PaymentHash:     hash,
		FeePaid:         fn.Some(lnwire.MilliSatoshi(12)),
	})

	info, ok := c.payments.Reader().Outbound().Lookup(hash)
	require.True(t, ok)
	require.Equal(t, ledger.StatusSucceeded, info.Status)
	require.Equal(t, fn.Some(preimage), info.Preimage)

	// An untracked payment is not added.
	other := lntypes.Preimage{0x45}
	c.d.Handle(&event.PaymentSent{
		PaymentPreimage: other,
		PaymentHash:     other.Hash(),
	})
	_, ok = c.payments.Reader().Outbound().Lookup(other.Hash())
	require.False(t, ok)
	require.Equal(t, 1, c.payments.Reader().Outbound().Len())
}

func TestPaymentFailed(t *testing.T) {
	c := newTestContext(t)

	preimage := lntypes.Preimage{0x55}
	hash := preimage.Hash()
	require.NoError(t, c.payments.OutboundLedger().AddPending(
		hash, fn.None[lnwire.MilliSatoshi](),
	))

	c.d.Handle(&event.PaymentFailed{PaymentHash: hash})

	info, ok := c.payments.Reader().Outbound().Lookup(hash)
	require.True(t, ok)
	require.Equal(t, ledger.StatusFailed, info.Status)

	// A late success can't revive a failed payment.
	c.d.Handle(&event.PaymentSent{
		PaymentPreimage: preimage,
		PaymentHash:     hash,
	})
	info, _ = c.payments.Reader().Outbound().Lookup(hash)
	require.Equal(t, ledger.StatusFailed, info.Status)
	require.True(t, info.Preimage.IsNone())

	// Failing an untracked payment is a no-op.
	c.d.Handle(&event.PaymentFailed{PaymentHash: lntypes.Hash{0x01}})
	require.Equal(t, 1, c.payments.Reader().Outbound().Len())
}

// TestSpendableOutputs sweeps outputs to a fresh address at the normal fee
// target.
func TestSpendableOutputs(t *testing.T) {
	c := newTestContext(t)

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	outputs := []keys.OutputDescriptor{&keys.StaticOutput{
		OutPoint: wire.OutPoint{Index: 1},
		Output:   wire.NewTxOut(50_000, []byte{0x00, 0x14}),
	}}
	sweepTx := wire.NewMsgTx(2)

	c.wallet.On("NewAddress").Return(addr, nil).Once()
	c.chain.On(
		"EstimateFeePerKW", mock.Anything, chain.ConfNormal,
	).Return(chainfee.SatPerKWeight(1000), nil).Once()
	c.signer.On(
		"SpendOutputs", outputs, []*wire.TxOut(nil), mock.Anything,
		chainfee.SatPerKWeight(1000),
	).Return(sweepTx, nil).Once()
	c.chain.On("Broadcast", mock.Anything, sweepTx).Return(nil).Once()

	c.d.Handle(&event.SpendableOutputs{Outputs: outputs})
	c.assertExpectations(t)

	destScript := c.signer.Calls[0].Arguments.Get(2).([]byte)
	require.Len(t, destScript, 22)
}

func TestSpendableOutputsSignFailure(t *testing.T) {
	c := newTestContext(t)

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	c.wallet.On("NewAddress").Return(addr, nil).Once()
	c.chain.On(
		"EstimateFeePerKW", mock.Anything, chain.ConfNormal,
	).Return(chainfee.SatPerKWeight(1000), nil).Once()
	c.signer.On(
		"SpendOutputs", mock.Anything, mock.Anything, mock.Anything,
		mock.Anything,
	).Return(nil, keys.ErrDustOutput).Once()

	c.d.Handle(&event.SpendableOutputs{
		Outputs: []keys.OutputDescriptor{&keys.StaticOutput{}},
	})

	c.assertExpectations(t)
	c.chain.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything)
}

func TestSpendableOutputsNoAddress(t *testing.T) {
	c := newTestContext(t)

	c.wallet.On("NewAddress").Return(nil, errors.New("db closed")).Once()

	c.d.Handle(&event.SpendableOutputs{
		Outputs: []keys.OutputDescriptor{&keys.StaticOutput{}},
	})

	c.assertExpectations(t)
	c.chain.AssertNotCalled(
		t, "EstimateFeePerKW", mock.Anything, mock.Anything,
	)
}

// TestForwardDelay checks pending forwards are only processed once the
// randomized delay passed.
func TestForwardDelay(t *testing.T) {
	c := newTestContext(t)

	forwarded := make(chan struct{})
	c.engine.On("ProcessPendingHTLCForwards").Return().Run(
		func(mock.Arguments) {
			close(forwarded)
		},
	).Once()

	minDelay := 100 * time.Millisecond
	c.d.Handle(&event.PendingHTLCsForwardable{TimeForwardable: minDelay})

	// The jitter always picks the largest delay.
	var delay time.Duration
	select {
	case delay = <-c.ticks:
	case <-time.After(time.Second):
		t.Fatal("forward timer not started")
	}
	require.Equal(t, 5*minDelay-1, delay)

	c.clock.SetTime(testStartTime.Add(delay - 1))
	select {
	case <-forwarded:
		t.Fatal("forwarded too early")
	case <-time.After(50 * time.Millisecond):
	}

	c.clock.SetTime(testStartTime.Add(delay))
	select {
	case <-forwarded:
	case <-time.After(time.Second):
		t.Fatal("pending forwards not processed")
	}
}

func TestForwardDelayRange(t *testing.T) {
	d := New(&Config{})

	require.Zero(t, d.forwardDelay(0))

	minDelay := 2 * time.Second
	for i := 0; i < 100; i++ {
		delay := d.forwardDelay(minDelay)
		require.GreaterOrEqual(t, delay, minDelay)
		require.Less(t, delay, 5*minDelay)
	}

	// Huge delays are capped instead of overflowing the jitter range.
	for _, minDelay := range []time.Duration{
		maxForwardDelay, maxForwardDelay + 1, math.MaxInt64,
	} {
		delay := d.forwardDelay(minDelay)
		require.GreaterOrEqual(t, delay, maxForwardDelay)
		require.Less(t, delay, 5*maxForwardDelay)
	}
}

func TestDescribeForward(t *testing.T) {
	c := newTestContext(t)

	var (
		announced   = route.Vertex{0x01}
		unannounced = route.Vertex{0x02}
		private     = route.Vertex{0x03}
	)
	c.graph.Aliases[announced] = "alice"
	c.graph.Aliases[unannounced] = ""

	channels := []ChannelDetails{
		{
			ChannelID:          lnwire.ChannelID{0x01},
			CounterpartyNodeID: announced,
		},
		{
			ChannelID:          lnwire.ChannelID{0x02},
			CounterpartyNodeID: unannounced,
		},
		{
			ChannelID:          lnwire.ChannelID{0x03},
			CounterpartyNodeID: private,
		},
	}
	c.engine.On("ListChannels").Return(channels)

	desc := c.d.describeForward(&event.PaymentForwarded{
		PrevChannelID:           fn.Some(lnwire.ChannelID{0x01}),
		NextChannelID:           fn.Some(lnwire.ChannelID{0x03}),
		FeeEarned:               fn.Some(lnwire.MilliSatoshi(1_000)),
		OutboundAmountForwarded: fn.Some(lnwire.MilliSatoshi(50_000)),
	})
	require.Contains(t, desc, "from node alice with channel")
	require.Contains(t, desc, "to private node with channel")
	require.Contains(t, desc, "of amount 50000 mSAT")
	require.Contains(t, desc, "earning 1000 mSAT")
	require.Contains(t, desc, "from HTLC fulfill message")

	desc = c.d.describeForward(&event.PaymentForwarded{
		PrevChannelID:      fn.Some(lnwire.ChannelID{0x02}),
		NextChannelID:      fn.None[lnwire.ChannelID](),
		ClaimFromOnchainTx: true,
	})
	require.Contains(t, desc, "from unnamed node with channel")
	require.Contains(t, desc, "to unknown channel")
	require.Contains(t, desc, "of unknown amount")
	require.Contains(t, desc, "claimed onchain")
	require.Contains(t, desc, "from onchain downstream claim")
}
