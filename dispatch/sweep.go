package dispatch

import (
	"context"

	"github.com/btcsuite/btcd/txscript"
	"github.com/lightninglabs/lnreactor/chain"
	"github.com/lightninglabs/lnreactor/event"
)

// sweepFeeTarget is the confirmation target we sweep spendable outputs at.
const sweepFeeTarget = chain.ConfNormal

// sweepOutputs sends outputs handed to us by the engine to a fresh wallet
// address. Every failure is logged and the sweep dropped, the engine hands
// the outputs out again later.
func (d *Dispatcher) sweepOutputs(ctx context.Context,
	e *event.SpendableOutputs) {

	if len(e.Outputs) == 0 {
		return
	}

	addr, err := d.cfg.Wallet.NewAddress()
	if err != nil {
		log.Errorf("EVENT: Unable to get sweep address: %v", err)
		return
	}
	destScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		log.Errorf("EVENT: Unable to create sweep script for %v: %v",
			addr, err)
		return
	}

	feeRate, err := d.cfg.Chain.EstimateFeePerKW(ctx, sweepFeeTarget)
	if err != nil {
		log.Errorf("EVENT: Unable to estimate sweep fee: %v", err)
		return
	}

	sweepTx, err := d.cfg.Signer.SpendOutputs(
		e.Outputs, nil, destScript, feeRate,
	)
	if err != nil {
		log.Errorf("EVENT: Unable to sweep %d spendable outputs: %v",
			len(e.Outputs), err)
		return
	}

	if err := d.cfg.Chain.Broadcast(ctx, sweepTx); err != nil {
		log.Errorf("EVENT: Unable to broadcast sweep %v: %v",
			sweepTx.TxHash(), err)
		return
	}

	log.Infof("EVENT: Swept %d spendable outputs to %v in %v",
		len(e.Outputs), addr, sweepTx.TxHash())
}
