package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/lnreactor/chain"
	"github.com/lightninglabs/lnreactor/dispatch"
	"github.com/lightninglabs/lnreactor/event"
	"github.com/lightninglabs/lnreactor/ledger"
	"github.com/lightninglabs/lnreactor/wallet"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	testParams = &chaincfg.RegressionNetParams
	testSeed   = [32]byte{0x07, 0x07, 0x07}
	testPeer   = route.Vertex{0x03, 0x01}
)

type testNode struct {
	*Node

	engine *dispatch.MockEngine
	chain  *chain.MockClient
}

func newTestNode(t *testing.T, dataDir string) *testNode {
	t.Helper()

	rootKey, err := hdkeychain.NewMaster(testSeed[:], testParams)
	require.NoError(t, err)

	tn := &testNode{
		engine: &dispatch.MockEngine{},
		chain:  &chain.MockClient{},
	}
	tn.Node, err = New(&Config{
		RootKey:     rootKey,
		ChainParams: testParams,
		Chain:       tn.chain,
		DataDir:     dataDir,
		Engine:      tn.engine,
		Graph:       &dispatch.MockGraph{},
		Clock:       clock.NewTestClock(time.Unix(1700000000, 0)),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, tn.Stop())
	})

	return tn
}

// fund syncs the wallet with a single confirmed coin on a fresh address.
func (tn *testNode) fund(t *testing.T, value btcutil.Amount) {
	t.Helper()

	addr, err := tn.NewAddress()
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	tn.chain.On("WalletScanStatus", mock.Anything).Return(
		chain.ScanStatus{}, nil,
	).Once()
	tn.chain.On("ListUnspent", mock.Anything, mock.Anything).Return(
		[]chain.Utxo{{
			OutPoint: wire.OutPoint{Hash: chainhash.Hash{0x01}},
			Value:    value,
			PkScript: script,
			Height:   100,
		}}, nil,
	).Once()

	require.NoError(t, tn.SyncWallet(context.Background()))
	require.Equal(t, value, tn.Balance().Confirmed)
}

func TestEngineAndGraphTogether(t *testing.T) {
	rootKey, err := hdkeychain.NewMaster(testSeed[:], testParams)
	require.NoError(t, err)

	_, err = New(&Config{
		RootKey:     rootKey,
		ChainParams: testParams,
		Chain:       &chain.MockClient{},
		Engine:      &dispatch.MockEngine{},
	})
	require.ErrorIs(t, err, ErrNoEngine)

	// A node without an engine drops events instead of failing.
	n, err := New(&Config{
		RootKey:     rootKey,
		ChainParams: testParams,
		Chain:       &chain.MockClient{},
	})
	require.NoError(t, err)
	n.HandleEvent(&event.PaymentFailed{})
	require.Empty(t, n.DispatchStats())
	require.NoError(t, n.Stop())
}

// TestFundingFlow registers a channel open and delivers the funding event
// through the node.
func TestFundingFlow(t *testing.T) {
	tn := newTestNode(t, "")
	tn.fund(t, 2_000_000)

	results := make(chan fn.Result[*wire.MsgTx], 1)
	err := tn.RegisterPendingFunding(
		1, 2, func(r fn.Result[*wire.MsgTx]) {
			results <- r
		},
	)
	require.NoError(t, err)
	require.Error(t, tn.RegisterPendingFunding(1, 2, nil))

	fundingScript := append([]byte{0x00, 0x20}, make([]byte, 32)...)
	tn.engine.On(
		"FundingTransactionGenerated", lnwire.ChannelID{0x09},
		testPeer, mock.Anything,
	).Return(nil).Once()

	tn.HandleEvent(&event.FundingGenerationReady{
		TempChannelID:      lnwire.ChannelID{0x09},
		CounterpartyNodeID: testPeer,
		ChannelValue:       1_000_000,
		OutputScript:       fundingScript,
		UserChannelID:      1,
	})

	var result fn.Result[*wire.MsgTx]
	select {
	case result = <-results:
	default:
		t.Fatal("funding callback not invoked")
	}
	tx, err := result.Unpack()
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), tx.TxOut[0].Value)
	require.Equal(t, fundingScript, tx.TxOut[0].PkScript)
	tn.engine.AssertExpectations(t)

	require.EqualValues(
		t, 1, tn.DispatchStats()["FundingGenerationReady"],
	)
}

func TestAwaitFundingCancel(t *testing.T) {
	tn := newTestNode(t, "")

	ctx, cancel := context.WithTimeout(
		context.Background(), 10*time.Millisecond,
	)
	defer cancel()

	_, err := tn.AwaitFunding(ctx, 5, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The late event finds nothing and never reaches the wallet.
	tn.HandleEvent(&event.FundingGenerationReady{UserChannelID: 5})
	tn.engine.AssertNotCalled(
		t, "FundingTransactionGenerated", mock.Anything,
		mock.Anything, mock.Anything,
	)
}

func TestWithdraw(t *testing.T) {
	tn := newTestNode(t, "")
	tn.fund(t, 500_000)

	dest, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), testParams,
	)
	require.NoError(t, err)

	tn.chain.On("BestHeight", mock.Anything).Return(uint32(200), nil)
	tn.chain.On("Broadcast", mock.Anything, mock.Anything).Return(
		errors.New("min relay fee not met"),
	).Once()

	_, err = tn.Withdraw(
		context.Background(), dest, 100_000,
		fn.Some(wallet.FeeRate(2)), fn.None[uint32](), nil,
	)
	require.ErrorContains(t, err, "min relay fee not met")

	// The failed attempt leased the coin.
	_, err = tn.Withdraw(
		context.Background(), dest, 100_000,
		fn.Some(wallet.FeeRate(2)), fn.None[uint32](), nil,
	)
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)
}

func TestWithdrawBroadcasts(t *testing.T) {
	tn := newTestNode(t, "")
	tn.fund(t, 500_000)

	dest, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), testParams,
	)
	require.NoError(t, err)

	tn.chain.On("BestHeight", mock.Anything).Return(uint32(200), nil)
	tn.chain.On("Broadcast", mock.Anything, mock.Anything).Return(
		nil,
	).Once()

	tx, err := tn.Withdraw(
		context.Background(), dest, wallet.DrainAll,
		fn.Some(wallet.FeeRate(2)), fn.None[uint32](), nil,
	)
	require.NoError(t, err)
	require.Len(t, tx.TxOut, 1)
	require.Same(t, tx, tn.chain.Calls[len(tn.chain.Calls)-1].
		Arguments.Get(1))
}

func TestEstimateFeeRate(t *testing.T) {
	tn := newTestNode(t, "")

	tn.chain.On(
		"EstimateFeePerKW", mock.Anything, chain.ConfHighPriority,
	).Return(chainfee.SatPerKWeight(2500), nil).Once()

	rate, err := tn.EstimateFeeRate(
		context.Background(), chain.ConfHighPriority,
	)
	require.NoError(t, err)
	require.InDelta(t, 10.0, float64(rate), 0.001)
}

// TestPaymentsPersisted checks ledger records survive a restart.
func TestPaymentsPersisted(t *testing.T) {
	dataDir := t.TempDir()

	rootKey, err := hdkeychain.NewMaster(testSeed[:], testParams)
	require.NoError(t, err)

	cfg := func() *Config {
		return &Config{
			RootKey:     rootKey,
			ChainParams: testParams,
			Chain:       &chain.MockClient{},
			DataDir:     dataDir,
			Engine:      &dispatch.MockEngine{},
			Graph:       &dispatch.MockGraph{},
		}
	}

	n, err := New(cfg())
	require.NoError(t, err)

	preimage := lntypes.Preimage{0x42}
	require.NoError(t, n.TrackOutboundPayment(
		preimage.Hash(), fn.Some(lnwire.MilliSatoshi(21_000)),
	))
	require.Error(t, n.TrackOutboundPayment(
		preimage.Hash(), fn.None[lnwire.MilliSatoshi](),
	))

	sub := n.Payments().Subscribe()
	n.HandleEvent(&event.PaymentSent{
		PaymentPreimage: preimage,
		PaymentHash:     preimage.Hash(),
	})

	select {
	case update := <-sub.Updates():
		require.Equal(t, ledger.Outbound, update.Direction)
		require.Equal(t, ledger.StatusSucceeded, update.Info.Status)
	case <-time.After(time.Second):
		t.Fatal("no ledger update")
	}
	sub.Cancel()
	require.NoError(t, n.Stop())

	n, err = New(cfg())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, n.Stop())
	}()

	info, ok := n.Payments().Outbound().Lookup(preimage.Hash())
	require.True(t, ok)
	require.Equal(t, ledger.StatusSucceeded, info.Status)
	require.Equal(t, fn.Some(preimage), info.Preimage)
	require.Equal(t, fn.Some(lnwire.MilliSatoshi(21_000)), info.Amount)
}

func TestStartStop(t *testing.T) {
	tn := newTestNode(t, t.TempDir())

	scanned := make(chan struct{}, 1)
	tn.chain.On("WalletScanStatus", mock.Anything).Return(
		chain.ScanStatus{Scanning: true, Progress: 0.5}, nil,
	).Run(func(mock.Arguments) {
		select {
		case scanned <- struct{}{}:
		default:
		}
	})

	require.NoError(t, tn.Start())

	select {
	case <-scanned:
	case <-time.After(time.Second):
		t.Fatal("wallet never synced")
	}

	// Nothing was listed while the backend scans.
	tn.chain.AssertNotCalled(
		t, "ListUnspent", mock.Anything, mock.Anything,
	)
}
