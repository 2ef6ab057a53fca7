package dispatch

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/lnreactor/event"
	"github.com/lightninglabs/lnreactor/funding"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// handleFundingGenerationReady builds the funding transaction of a channel
// open we initiated. The pending request is removed before anything else
// happens, so a failure can only ever be reported once.
func (d *Dispatcher) handleFundingGenerationReady(
	e *event.FundingGenerationReady) {

	req, ok := d.cfg.Requests.Take(e.UserChannelID)
	if !ok {
		log.Errorf("EVENT: No pending channel open with id %d for "+
			"funding of %v, ignoring", e.UserChannelID,
			e.TempChannelID)
		return
	}

	tx, err := d.cfg.Wallet.BuildFundingTransaction(
		e.OutputScript, e.ChannelValue, req.FeeRate,
	)
	if err != nil {
		log.Errorf("EVENT: Unable to build funding transaction for "+
			"channel %v: %v", e.TempChannelID, err)
		respond(req, fn.Err[*wire.MsgTx](err))
		return
	}

	err = d.cfg.Engine.FundingTransactionGenerated(
		e.TempChannelID, e.CounterpartyNodeID, tx,
	)
	if err != nil {
		log.Errorf("EVENT: Engine refused funding transaction %v for "+
			"channel %v: %v", tx.TxHash(), e.TempChannelID, err)
		respond(req, fn.Err[*wire.MsgTx](err))
		return
	}

	log.Infof("EVENT: Funding transaction %v generated for channel %v "+
		"with peer %v", tx.TxHash(), e.TempChannelID,
		e.CounterpartyNodeID)

	respond(req, fn.Ok(tx))
}

// handleChannelClosed fails a channel open that never got its funding
// transaction.
func (d *Dispatcher) handleChannelClosed(e *event.ChannelClosed) {
	log.Infof("EVENT: Channel %v closed due to: %v", e.ChannelID,
		e.Reason)

	err := fmt.Errorf("%w: %v", funding.ErrChannelClosed, e.Reason)
	if d.cfg.Requests.Resolve(e.UserChannelID, fn.Err[*wire.MsgTx](err)) {
		log.Infof("EVENT: Failed pending channel open %d",
			e.UserChannelID)
	}
}

func respond(req funding.Request, result fn.Result[*wire.MsgTx]) {
	if req.Respond != nil {
		req.Respond(result)
	}
}
