package dispatch

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/lnreactor/chain"
	"github.com/lightninglabs/lnreactor/keys"
	"github.com/lightninglabs/lnreactor/wallet"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
)

// ChannelDetails is the part of the engine's channel list we need to describe
// forwards.
type ChannelDetails struct {
	ChannelID          lnwire.ChannelID
	ShortChannelID     fn.Option[lnwire.ShortChannelID]
	CounterpartyNodeID route.Vertex
	UserChannelID      uint64
	Capacity           btcutil.Amount
	IsUsable           bool
}

// Engine is the Lightning protocol engine that emits the events.
type Engine interface {
	// FundingTransactionGenerated hands the signed funding transaction of
	// an outbound channel to the engine.
	FundingTransactionGenerated(tempChanID lnwire.ChannelID,
		counterparty route.Vertex, tx *wire.MsgTx) error

	// ClaimFunds claims all HTLCs of an inbound payment.
	ClaimFunds(preimage lntypes.Preimage)

	// ProcessPendingHTLCForwards forwards all HTLCs that are ready.
	ProcessPendingHTLCForwards()

	// ListChannels returns all open channels.
	ListChannels() []ChannelDetails
}

// Graph is a read-only view of the network graph.
type Graph interface {
	// NodeAnnouncement returns the alias of a node. known is false if the
	// node isn't in the graph, announced is false if we never received a
	// node announcement for it.
	NodeAnnouncement(node route.Vertex) (alias string, known,
		announced bool)
}

// Wallet is the part of the on-chain wallet the dispatcher uses.
type Wallet interface {
	NewAddress() (btcutil.Address, error)

	BuildFundingTransaction(outputScript []byte, value btcutil.Amount,
		feeRate wallet.FeeRate) (*wire.MsgTx, error)
}

// Signer signs sweeps of outputs handed to us by the engine.
type Signer interface {
	SpendOutputs(descs []keys.OutputDescriptor, extra []*wire.TxOut,
		destScript []byte, feeRate chainfee.SatPerKWeight) (*wire.MsgTx,
		error)
}

// Chain is the part of the chain backend the dispatcher uses.
type Chain interface {
	EstimateFeePerKW(ctx context.Context,
		target chain.ConfTarget) (chainfee.SatPerKWeight, error)

	Broadcast(ctx context.Context, tx *wire.MsgTx) error
}

// A compile time check to ensure the concrete types satisfy the interfaces.
var (
	_ Wallet = (*wallet.Wallet)(nil)
	_ Signer = (*keys.Manager)(nil)
	_ Chain  = (chain.Client)(nil)
)
