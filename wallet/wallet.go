// Package wallet is the on-chain wallet of the node. It keeps a view of the
// unspent outputs of its BIP84 descriptors, builds and signs transactions and
// synchronizes with the chain backend in the background.
//
// All access to the unspent output view goes through a single gate that is
// only ever try-acquired. Callers that find it taken get ErrWalletBusy and
// are expected to retry themselves.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/lnreactor/chain"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultSyncInterval is how often the wallet synchronizes with the
	// chain backend.
	DefaultSyncInterval = time.Minute

	// lookahead is the number of addresses past the last revealed one
	// that are watched on each branch.
	lookahead = 20

	// DrainAll can be passed to Transfer as the amount to spend the
	// whole balance.
	DrainAll = btcutil.Amount(math.MaxInt64)
)

var (
	// ErrWalletBusy is returned if the wallet gate is held by another
	// operation, usually a sync pass.
	ErrWalletBusy = errors.New("wallet is busy syncing with the chain")

	// ErrInsufficientFunds is returned if the selected coins can't pay
	// for the outputs and the fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNoUtxos is returned when draining a wallet without eligible
	// coins.
	ErrNoUtxos = errors.New("no spendable outputs")

	// ErrUnknownUtxo is returned if a transfer names an outpoint that is
	// not in the wallet.
	ErrUnknownUtxo = errors.New("unknown outpoint")

	// ErrDustAmount is returned if a transfer amount is below the dust
	// limit of its output.
	ErrDustAmount = errors.New("amount is dust")

	// ErrChainScanning is returned by Sync if the chain backend is still
	// rescanning.
	ErrChainScanning = errors.New("chain backend is rescanning")
)

// IndexStore persists how many addresses were handed out per branch.
type IndexStore interface {
	// FetchIndexes returns the number of revealed receive and change
	// addresses.
	FetchIndexes() (uint32, uint32, error)

	// PutIndexes stores the number of revealed receive and change
	// addresses.
	PutIndexes(receive, change uint32) error
}

// Config holds the dependencies of the wallet.
type Config struct {
	// RootKey is the BIP32 master key the descriptors derive from.
	RootKey *hdkeychain.ExtendedKey

	// ChainParams selects the network.
	ChainParams *chaincfg.Params

	// Chain is the chain backend.
	Chain chain.Client

	// Clock is used for input leases.
	Clock clock.Clock

	// SyncTicker drives the background sync loop.
	SyncTicker ticker.Ticker

	// Store persists the address indexes. It is optional.
	Store IndexStore
}

// Balance is the wallet balance.
type Balance struct {
	Confirmed   btcutil.Amount
	Unconfirmed btcutil.Amount
	Total       btcutil.Amount
}

// scriptIndex locates a watched script.
type scriptIndex struct {
	branch uint32
	index  uint32
}

// Wallet is the on-chain wallet.
type Wallet struct {
	cfg *Config

	receive *descriptor
	change  *descriptor

	// descMu guards the address index state below. It is never held
	// while waiting on the gate.
	descMu   sync.Mutex
	revealed [2]uint32
	used     [2]map[uint32]struct{}
	scripts  map[string]scriptIndex
	derived  [2]uint32

	// gate guards the unspent output view and leases. It is only ever
	// used with TryLock.
	gate   sync.Mutex
	utxos  map[wire.OutPoint]*ownedUtxo
	leases map[wire.OutPoint]time.Time

	started sync.Once
	stopped sync.Once
	quit    chan struct{}
	wg      sync.WaitGroup
}

// New creates a wallet. Start must be called to begin syncing.
func New(cfg *Config) (*Wallet, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.SyncTicker == nil {
		cfg.SyncTicker = ticker.New(DefaultSyncInterval)
	}

	receive, err := newDescriptor(
		cfg.RootKey, branchReceive, cfg.ChainParams,
	)
	if err != nil {
		return nil, err
	}
	change, err := newDescriptor(
		cfg.RootKey, branchChange, cfg.ChainParams,
	)
	if err != nil {
		return nil, err
	}

	w := &Wallet{
		cfg:     cfg,
		receive: receive,
		change:  change,
		used: [2]map[uint32]struct{}{
			make(map[uint32]struct{}), make(map[uint32]struct{}),
		},
		scripts: make(map[string]scriptIndex),
		utxos:   make(map[wire.OutPoint]*ownedUtxo),
		leases:  make(map[wire.OutPoint]time.Time),
		quit:    make(chan struct{}),
	}

	if cfg.Store != nil {
		w.revealed[branchReceive], w.revealed[branchChange], err =
			cfg.Store.FetchIndexes()
		if err != nil {
			return nil, fmt.Errorf("unable to load address "+
				"indexes: %w", err)
		}
	}

	return w, nil
}

func (w *Wallet) descriptorFor(branch uint32) *descriptor {
	if branch == branchChange {
		return w.change
	}

	return w.receive
}

// NewAddress returns the last revealed receive address if it never received
// funds, otherwise it reveals the next one. It does not touch the wallet
// gate.
func (w *Wallet) NewAddress() (btcutil.Address, error) {
	w.descMu.Lock()
	defer w.descMu.Unlock()

	revealed := w.revealed[branchReceive]
	if revealed > 0 {
		last := revealed - 1
		if _, used := w.used[branchReceive][last]; !used {
			return w.receive.address(last)
		}
	}

	addr, err := w.receive.address(revealed)
	if err != nil {
		return nil, err
	}

	w.revealed[branchReceive]++
	if err := w.persistIndexes(); err != nil {
		w.revealed[branchReceive]--
		return nil, err
	}

	log.Debugf("Revealed receive address %d: %v", revealed, addr)

	return addr, nil
}

// persistIndexes writes the revealed counts. The caller must hold descMu.
func (w *Wallet) persistIndexes() error {
	if w.cfg.Store == nil {
		return nil
	}

	err := w.cfg.Store.PutIndexes(
		w.revealed[branchReceive], w.revealed[branchChange],
	)
	if err != nil {
		return fmt.Errorf("unable to persist address indexes: %w", err)
	}

	return nil
}

// Descriptors returns the public output descriptors of the receive and the
// change branch, suitable for importing into a watch-only wallet.
func (w *Wallet) Descriptors() (string, string, error) {
	receive, err := w.receive.String()
	if err != nil {
		return "", "", err
	}
	change, err := w.change.String()
	if err != nil {
		return "", "", err
	}

	return receive, change, nil
}

// BuildFundingTransaction builds and signs a transaction paying exactly value
// to outputScript. The transaction signals replaceability. It fails with
// ErrWalletBusy without waiting if the wallet gate is taken.
func (w *Wallet) BuildFundingTransaction(outputScript []byte,
	value btcutil.Amount, feeRate FeeRate) (*wire.MsgTx, error) {

	if !w.gate.TryLock() {
		return nil, ErrWalletBusy
	}
	defer w.gate.Unlock()

	coins := w.eligible(coinFilter{now: w.cfg.Clock.Now()})
	outputs := []*wire.TxOut{{
		Value:    int64(value),
		PkScript: outputScript,
	}}

	sel, err := selectLargestFirst(
		coins, outputs, feeRate.FeePerKWeight(),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to fund %v at %v: %w", value,
			feeRate, err)
	}

	tx, err := w.assemble(sel, outputs)
	if err != nil {
		return nil, err
	}

	log.Infof("Built funding transaction %v paying %v with fee %v",
		tx.TxHash(), value, sel.fee)

	return tx, nil
}

// Transfer builds and signs a transaction paying amount, or everything if
// amount is DrainAll, to dest. Without a fee rate the chain backend's normal
// estimate is used. With minConf only outputs confirmed at least minConf
// blocks below the tip are spent. A non empty utxos list restricts the coins
// that may be spent. The transaction is not broadcast.
func (w *Wallet) Transfer(ctx context.Context, dest btcutil.Address,
	amount btcutil.Amount, feeRate fn.Option[FeeRate],
	minConf fn.Option[uint32], utxos []wire.OutPoint) (*wire.MsgTx,
	error) {

	height, err := w.cfg.Chain.BestHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to get chain height: %w", err)
	}

	rate, err := w.resolveFeeRate(ctx, feeRate)
	if err != nil {
		return nil, err
	}

	destScript, err := txscript.PayToAddrScript(dest)
	if err != nil {
		return nil, err
	}

	if !w.gate.TryLock() {
		return nil, ErrWalletBusy
	}
	defer w.gate.Unlock()

	filter := coinFilter{
		now:          w.cfg.Clock.Now(),
		heightCutoff: fn.None[uint32](),
	}
	minConf.WhenSome(func(conf uint32) {
		// A coin mined at the tip has one confirmation.
		cutoff := uint32(0)
		if height+1 > conf {
			cutoff = height + 1 - conf
		}
		filter.heightCutoff = fn.Some(cutoff)
	})

	if len(utxos) > 0 {
		filter.allowed = make(map[wire.OutPoint]struct{}, len(utxos))
		for _, op := range utxos {
			if _, ok := w.utxos[op]; !ok {
				return nil, fmt.Errorf("%v: %w", op,
					ErrUnknownUtxo)
			}
			filter.allowed[op] = struct{}{}
		}
	}

	coins := w.eligible(filter)
	feePerKW := rate.FeePerKWeight()

	var (
		sel     *coinSelection
		outputs []*wire.TxOut
	)
	if amount == DrainAll {
		var drained btcutil.Amount
		sel, drained, err = selectAll(coins, destScript, feePerKW)
		if err != nil {
			return nil, fmt.Errorf("unable to drain wallet: %w",
				err)
		}

		outputs = []*wire.TxOut{{
			Value:    int64(drained),
			PkScript: destScript,
		}}
	} else {
		if isDust(amount, destScript) {
			return nil, fmt.Errorf("%v: %w", amount, ErrDustAmount)
		}

		outputs = []*wire.TxOut{{
			Value:    int64(amount),
			PkScript: destScript,
		}}
		sel, err = selectLargestFirst(coins, outputs, feePerKW)
		if err != nil {
			return nil, fmt.Errorf("unable to send %v at %v: %w",
				amount, rate, err)
		}
	}

	tx, err := w.assemble(sel, outputs)
	if err != nil {
		return nil, err
	}

	log.Infof("Built transfer %v to %v spending %d inputs with fee %v",
		tx.TxHash(), dest, len(sel.inputs), sel.fee)

	return tx, nil
}

func (w *Wallet) resolveFeeRate(ctx context.Context,
	feeRate fn.Option[FeeRate]) (FeeRate, error) {

	if feeRate.IsSome() {
		return feeRate.UnwrapOr(0), nil
	}

	feePerKW, err := w.cfg.Chain.EstimateFeePerKW(ctx, chain.ConfNormal)
	if err != nil {
		return 0, fmt.Errorf("unable to estimate fee: %w", err)
	}

	return FeeRateFromKW(feePerKW), nil
}

// Balance returns the balance of all outputs not leased by a transaction we
// built. If the gate is taken it returns an all zero balance rather than
// waiting.
func (w *Wallet) Balance() Balance {
	if !w.gate.TryLock() {
		log.Debugf("Wallet busy, reporting zero balance")
		return Balance{}
	}
	defer w.gate.Unlock()

	now := w.cfg.Clock.Now()

	var balance Balance
	for op, utxo := range w.utxos {
		if expiry, ok := w.leases[op]; ok && now.Before(expiry) {
			continue
		}

		if utxo.Confirmed() {
			balance.Confirmed += utxo.Value
		} else {
			balance.Unconfirmed += utxo.Value
		}
	}
	balance.Total = balance.Confirmed + balance.Unconfirmed

	return balance
}
