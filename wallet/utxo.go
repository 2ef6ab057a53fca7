package wallet

import (
	"bytes"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/lightninglabs/lnreactor/chain"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

const (
	// leaseDuration is how long the inputs of a transaction we built are
	// kept out of coin selection.
	leaseDuration = 10 * time.Minute
)

// ownedUtxo is an unspent output paying to one of our descriptors.
type ownedUtxo struct {
	chain.Utxo

	branch uint32
	index  uint32
}

func (u *ownedUtxo) txOut() *wire.TxOut {
	return &wire.TxOut{
		Value:    int64(u.Value),
		PkScript: u.PkScript,
	}
}

// coinFilter decides which outputs of the view may be spent.
type coinFilter struct {
	now time.Time

	// heightCutoff, if set, only allows outputs confirmed at or below
	// the given height.
	heightCutoff fn.Option[uint32]

	// allowed, if not empty, restricts selection to these outpoints.
	allowed map[wire.OutPoint]struct{}
}

// eligible returns the spendable outputs of the view, largest first. The
// caller must hold the wallet gate.
func (w *Wallet) eligible(filter coinFilter) []*ownedUtxo {
	var coins []*ownedUtxo
	for op, utxo := range w.utxos {
		if expiry, ok := w.leases[op]; ok && filter.now.Before(expiry) {
			continue
		}

		if len(filter.allowed) > 0 {
			if _, ok := filter.allowed[op]; !ok {
				continue
			}
		}

		tooRecent := false
		filter.heightCutoff.WhenSome(func(cutoff uint32) {
			tooRecent = !utxo.Confirmed() || utxo.Height > cutoff
		})
		if tooRecent {
			continue
		}

		coins = append(coins, utxo)
	}

	sort.Slice(coins, func(i, j int) bool {
		if coins[i].Value != coins[j].Value {
			return coins[i].Value > coins[j].Value
		}

		a, b := coins[i].OutPoint.Hash, coins[j].OutPoint.Hash
		if c := bytes.Compare(a[:], b[:]); c != 0 {
			return c < 0
		}
		return coins[i].OutPoint.Index < coins[j].OutPoint.Index
	})

	return coins
}

// coinSelection is the result of coin selection.
type coinSelection struct {
	inputs []*ownedUtxo
	fee    btcutil.Amount

	// change is zero if the transaction has no change output.
	change btcutil.Amount
}

func (s *coinSelection) total() btcutil.Amount {
	var total btcutil.Amount
	for _, in := range s.inputs {
		total += in.Value
	}

	return total
}

func estimateFee(numInputs int, outputs []*wire.TxOut, withChange bool,
	feeRate chainfee.SatPerKWeight) btcutil.Amount {

	var estimator input.TxWeightEstimator
	for i := 0; i < numInputs; i++ {
		estimator.AddP2WKHInput()
	}
	for _, out := range outputs {
		estimator.AddOutput(out.PkScript)
	}
	if withChange {
		estimator.AddP2WKHOutput()
	}

	return feeRate.FeeForWeight(estimator.Weight())
}

// changeTemplate stands in for the change script during selection, the real
// script is only derived once the selection is final.
var changeTemplate = append(
	[]byte{txscript.OP_0, txscript.OP_DATA_20},
	make([]byte, input.P2WPKHSize-2)...,
)

func isDust(amount btcutil.Amount, pkScript []byte) bool {
	return txrules.IsDustOutput(
		wire.NewTxOut(int64(amount), pkScript),
		txrules.DefaultRelayFeePerKb,
	)
}

func isDustChange(change btcutil.Amount) bool {
	return isDust(change, changeTemplate)
}

// selectLargestFirst adds the largest coins until the outputs and the fee
// are covered. Change that would be dust is left to the miners.
func selectLargestFirst(coins []*ownedUtxo, outputs []*wire.TxOut,
	feeRate chainfee.SatPerKWeight) (*coinSelection, error) {

	var target btcutil.Amount
	for _, out := range outputs {
		target += btcutil.Amount(out.Value)
	}

	sel := &coinSelection{}
	for _, coin := range coins {
		sel.inputs = append(sel.inputs, coin)
		total := sel.total()

		feeWithChange := estimateFee(
			len(sel.inputs), outputs, true, feeRate,
		)
		if total >= target+feeWithChange {
			change := total - target - feeWithChange
			if !isDustChange(change) {
				sel.fee = feeWithChange
				sel.change = change

				return sel, nil
			}
		}

		feeNoChange := estimateFee(
			len(sel.inputs), outputs, false, feeRate,
		)
		if total >= target+feeNoChange {
			sel.fee = total - target
			return sel, nil
		}
	}

	return nil, ErrInsufficientFunds
}

// selectAll spends every coin to a single output that receives the total
// minus the fee.
func selectAll(coins []*ownedUtxo, destScript []byte,
	feeRate chainfee.SatPerKWeight) (*coinSelection, btcutil.Amount,
	error) {

	if len(coins) == 0 {
		return nil, 0, ErrNoUtxos
	}

	sel := &coinSelection{inputs: coins}
	sel.fee = estimateFee(
		len(coins), []*wire.TxOut{{PkScript: destScript}}, false,
		feeRate,
	)

	total := sel.total()
	if total <= sel.fee {
		return nil, 0, ErrInsufficientFunds
	}

	amount := total - sel.fee
	if isDust(amount, destScript) {
		return nil, 0, ErrInsufficientFunds
	}

	return sel, amount, nil
}
