package wallet

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// assemble turns a coin selection into a signed transaction and leases its
// inputs. The caller must hold the gate.
func (w *Wallet) assemble(sel *coinSelection,
	outputs []*wire.TxOut) (*wire.MsgTx, error) {

	tx := wire.NewMsgTx(2)
	for _, in := range sel.inputs {
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: in.OutPoint,
			Sequence:         mempool.MaxRBFSequence,
		})
	}
	for _, out := range outputs {
		tx.AddTxOut(out)
	}

	var (
		changeIndex  uint32
		changeScript []byte
	)
	if sel.change > 0 {
		var err error
		changeIndex, changeScript, err = w.nextChange()
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(&wire.TxOut{
			Value:    int64(sel.change),
			PkScript: changeScript,
		})
	}

	signed, err := w.sign(tx, sel.inputs)
	if err != nil {
		return nil, err
	}

	if changeScript != nil {
		err := w.commitChange(changeIndex, changeScript)
		if err != nil {
			return nil, err
		}
	}

	expiry := w.cfg.Clock.Now().Add(leaseDuration)
	for _, in := range sel.inputs {
		w.leases[in.OutPoint] = expiry
	}

	return signed, nil
}

// nextChange returns the next unrevealed change script without revealing
// it.
func (w *Wallet) nextChange() (uint32, []byte, error) {
	w.descMu.Lock()
	defer w.descMu.Unlock()

	index := w.revealed[branchChange]
	_, script, err := w.change.derive(index)
	if err != nil {
		return 0, nil, err
	}

	return index, script, nil
}

// commitChange reveals the change address used by a built transaction so it
// is watched by the next sync pass.
func (w *Wallet) commitChange(index uint32, script []byte) error {
	w.descMu.Lock()
	defer w.descMu.Unlock()

	if index >= w.revealed[branchChange] {
		w.revealed[branchChange] = index + 1
	}
	w.scripts[string(script)] = scriptIndex{
		branch: branchChange,
		index:  index,
	}

	return w.persistIndexes()
}

// sign signs every input of tx through a PSBT and returns the final
// transaction.
func (w *Wallet) sign(tx *wire.MsgTx, inputs []*ownedUtxo) (*wire.MsgTx,
	error) {

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, fmt.Errorf("error creating PSBT: %w", err)
	}

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, fmt.Errorf("error creating PSBT updater: %w", err)
	}

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(inputs))
	for idx, in := range inputs {
		prevOuts[in.OutPoint] = in.txOut()
		err := updater.AddInWitnessUtxo(in.txOut(), idx)
		if err != nil {
			return nil, fmt.Errorf("error adding witness utxo: %w",
				err)
		}
	}

	prevOutFetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, prevOutFetcher)

	for idx, in := range inputs {
		privKey, script, err := w.descriptorFor(in.branch).derive(
			in.index,
		)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(script, in.PkScript) {
			return nil, fmt.Errorf("key at %d/%d doesn't match "+
				"output %v", in.branch, in.index, in.OutPoint)
		}

		sig, err := txscript.RawTxInWitnessSignature(
			packet.UnsignedTx, sigHashes, idx, int64(in.Value),
			in.PkScript, txscript.SigHashAll, privKey,
		)
		if err != nil {
			return nil, fmt.Errorf("error signing input %d: %w",
				idx, err)
		}

		status, err := updater.Sign(
			idx, sig, privKey.PubKey().SerializeCompressed(), nil,
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("error adding signature to "+
				"PSBT: %w", err)
		}
		if status != psbt.SignSuccesful {
			return nil, fmt.Errorf("unexpected status for "+
				"signature update, got %d wanted %d", status,
				psbt.SignSuccesful)
		}
	}

	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return nil, fmt.Errorf("error finalizing PSBT: %w", err)
	}

	return psbt.Extract(packet)
}
