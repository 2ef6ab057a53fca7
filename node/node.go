// Package node assembles the reactive core of the node: the event
// dispatcher together with the wallet, the signer, the funding request table
// and the payment ledgers it drives. It also offers the calls the request
// routing layer needs on top of them.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/lnreactor/chain"
	"github.com/lightninglabs/lnreactor/dispatch"
	"github.com/lightninglabs/lnreactor/event"
	"github.com/lightninglabs/lnreactor/funding"
	"github.com/lightninglabs/lnreactor/keys"
	"github.com/lightninglabs/lnreactor/ledger"
	"github.com/lightninglabs/lnreactor/wallet"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/ticker"
	"go.etcd.io/bbolt"
)

// ErrNoEngine is returned by New if only one of the engine and the graph is
// configured.
var ErrNoEngine = errors.New("engine and graph must be set together")

// Config holds everything needed to assemble a node.
type Config struct {
	// RootKey is the BIP32 master key of the node.
	RootKey *hdkeychain.ExtendedKey

	// ChainParams selects the network.
	ChainParams *chaincfg.Params

	// Chain is the chain backend.
	Chain chain.Client

	// DataDir holds the node database. Without it nothing is persisted.
	DataDir string

	// SyncInterval is how often the wallet syncs. Defaults to
	// wallet.DefaultSyncInterval.
	SyncInterval time.Duration

	// Engine and Graph are the protocol engine that delivers events to
	// HandleEvent and its network graph. They may both be nil for a node
	// that only serves wallet and ledger queries.
	Engine dispatch.Engine
	Graph  dispatch.Graph

	// Clock defaults to the system clock.
	Clock clock.Clock
}

// Node owns the subsystems of the reactive core.
type Node struct {
	cfg *Config

	db *bbolt.DB

	wallet     *wallet.Wallet
	keys       *keys.Manager
	requests   *funding.Requests
	payments   *ledger.Service
	dispatcher *dispatch.Dispatcher

	stopOnce sync.Once
}

// New assembles a node. Start must be called before the wallet syncs.
func New(cfg *Config) (*Node, error) {
	if (cfg.Engine == nil) != (cfg.Graph == nil) {
		return nil, ErrNoEngine
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = wallet.DefaultSyncInterval
	}

	n := &Node{
		cfg:      cfg,
		keys:     keys.NewManager(cfg.RootKey, cfg.ChainParams),
		requests: funding.NewRequests(),
	}

	var (
		paymentStore *ledger.Store
		indexStore   wallet.IndexStore
		err          error
	)
	if cfg.DataDir != "" {
		n.db, err = openDB(cfg.DataDir)
		if err != nil {
			return nil, err
		}

		paymentStore, err = ledger.NewStore(n.db)
		if err != nil {
			_ = n.closeDB()
			return nil, err
		}

		indexStore, err = wallet.NewIndexStore(n.db)
		if err != nil {
			_ = n.closeDB()
			return nil, err
		}
	}

	n.payments, err = ledger.NewService(paymentStore)
	if err != nil {
		_ = n.closeDB()
		return nil, err
	}

	n.wallet, err = wallet.New(&wallet.Config{
		RootKey:     cfg.RootKey,
		ChainParams: cfg.ChainParams,
		Chain:       cfg.Chain,
		Clock:       cfg.Clock,
		SyncTicker:  ticker.New(cfg.SyncInterval),
		Store:       indexStore,
	})
	if err != nil {
		n.payments.Stop()
		_ = n.closeDB()
		return nil, err
	}

	n.dispatcher = dispatch.New(&dispatch.Config{
		Engine:   cfg.Engine,
		Graph:    cfg.Graph,
		Wallet:   n.wallet,
		Signer:   n.keys,
		Chain:    cfg.Chain,
		Requests: n.requests,
		Payments: n.payments,
		Clock:    cfg.Clock,
	})

	return n, nil
}

// Start starts the wallet sync loop.
func (n *Node) Start() error {
	log.Infof("Starting node on %v", n.cfg.ChainParams.Name)

	return n.wallet.Start()
}

// Stop shuts down all subsystems and closes the database.
func (n *Node) Stop() error {
	var err error
	n.stopOnce.Do(func() {
		log.Infof("Stopping node")

		n.wallet.Stop()
		n.dispatcher.Stop()
		n.payments.Stop()
		err = n.closeDB()
	})

	return err
}

func (n *Node) closeDB() error {
	if n.db == nil {
		return nil
	}

	if err := n.db.Close(); err != nil {
		return fmt.Errorf("unable to close database: %w", err)
	}
	return nil
}

// HandleEvent is the event callback handed to the protocol engine.
func (n *Node) HandleEvent(ev event.Event) {
	if n.cfg.Engine == nil {
		log.Errorf("Dropping %v event, no engine configured", ev.Kind())
		return
	}

	n.dispatcher.Handle(ev)
}

// DispatchStats returns how many events of each kind were handled.
func (n *Node) DispatchStats() map[string]uint64 {
	return n.dispatcher.Stats()
}

// KeyManager returns the signer the protocol engine derives its channel keys
// from.
func (n *Node) KeyManager() *keys.Manager {
	return n.keys
}

// Payments returns read access to the payment ledgers.
func (n *Node) Payments() ledger.Reader {
	return n.payments.Reader()
}

// TrackOutboundPayment starts tracking an outbound payment before it is
// handed to the protocol engine, so that its outcome events are recorded.
func (n *Node) TrackOutboundPayment(hash lntypes.Hash,
	amount fn.Option[lnwire.MilliSatoshi]) error {

	return n.payments.OutboundLedger().AddPending(hash, amount)
}

// RegisterPendingFunding registers the channel open with the given user
// channel id. cb is called once with the funding transaction or the reason
// funding failed.
func (n *Node) RegisterPendingFunding(openID uint64, feeRate wallet.FeeRate,
	cb funding.Callback) error {

	if err := n.requests.Put(openID, feeRate, cb); err != nil {
		log.Errorf("Unable to register channel open %d: %v", openID,
			err)
		return err
	}

	return nil
}

// AwaitFunding registers the channel open with the given user channel id and
// waits for its funding transaction.
func (n *Node) AwaitFunding(ctx context.Context, openID uint64,
	feeRate wallet.FeeRate) (*wire.MsgTx, error) {

	return n.requests.Await(ctx, openID, feeRate)
}

// Balance returns the wallet balance. It is zero while the wallet syncs.
func (n *Node) Balance() wallet.Balance {
	return n.wallet.Balance()
}

// NewAddress returns a receive address of the wallet.
func (n *Node) NewAddress() (btcutil.Address, error) {
	return n.wallet.NewAddress()
}

// Descriptors returns the receive and change descriptors of the wallet.
func (n *Node) Descriptors() (string, string, error) {
	return n.wallet.Descriptors()
}

// SyncWallet runs a single wallet sync pass.
func (n *Node) SyncWallet(ctx context.Context) error {
	return n.wallet.Sync(ctx)
}

// EstimateFeeRate returns the chain backend's fee estimate for target.
func (n *Node) EstimateFeeRate(ctx context.Context,
	target chain.ConfTarget) (wallet.FeeRate, error) {

	feePerKW, err := n.cfg.Chain.EstimateFeePerKW(ctx, target)
	if err != nil {
		return 0, err
	}

	return wallet.FeeRateFromKW(feePerKW), nil
}

// Withdraw sends amount, or everything for wallet.DrainAll, to dest and
// broadcasts the transaction.
func (n *Node) Withdraw(ctx context.Context, dest btcutil.Address,
	amount btcutil.Amount, feeRate fn.Option[wallet.FeeRate],
	minConf fn.Option[uint32], utxos []wire.OutPoint) (*wire.MsgTx,
	error) {

	tx, err := n.wallet.Transfer(
		ctx, dest, amount, feeRate, minConf, utxos,
	)
	if err != nil {
		return nil, err
	}

	if err := n.cfg.Chain.Broadcast(ctx, tx); err != nil {
		return nil, fmt.Errorf("unable to broadcast withdrawal %v: %w",
			tx.TxHash(), err)
	}

	log.Infof("Broadcast withdrawal %v to %v", tx.TxHash(), dest)

	return tx, nil
}
