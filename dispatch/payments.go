package dispatch

import (
	"github.com/lightninglabs/lnreactor/event"
	"github.com/lightninglabs/lnreactor/ledger"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

// handlePaymentClaimable claims an inbound payment if we know its preimage.
func (d *Dispatcher) handlePaymentClaimable(e *event.PaymentClaimable) {
	log.Infof("EVENT: Received payment from payment hash %v of %v",
		e.PaymentHash, e.Amount)

	if e.Purpose == nil {
		return
	}
	e.Purpose.Preimage().WhenSome(func(preimage lntypes.Preimage) {
		d.cfg.Engine.ClaimFunds(preimage)
	})
}

// handlePaymentClaimed records a received payment in the inbound ledger.
func (d *Dispatcher) handlePaymentClaimed(e *event.PaymentClaimed) {
	log.Infof("EVENT: Claimed payment from payment hash %v of %v",
		e.PaymentHash, e.Amount)

	var (
		preimage fn.Option[lntypes.Preimage]
		secret   fn.Option[[32]byte]
	)
	if e.Purpose != nil {
		preimage = e.Purpose.Preimage()
		secret = e.Purpose.Secret()
	}

	err := d.cfg.Payments.InboundLedger().UpsertClaimed(
		e.PaymentHash, preimage, secret, fn.Some(e.Amount),
	)
	if err != nil {
		log.Errorf("EVENT: Unable to record claimed payment %v: %v",
			e.PaymentHash, err)
	}
}

// handlePaymentSent marks a tracked outbound payment as succeeded.
func (d *Dispatcher) handlePaymentSent(e *event.PaymentSent) {
	var amount fn.Option[lnwire.MilliSatoshi]
	found, err := d.cfg.Payments.OutboundLedger().UpdateIfPresent(
		e.PaymentHash, func(info *ledger.PaymentInfo) {
			info.Preimage = fn.Some(e.PaymentPreimage)
			info.Status = ledger.StatusSucceeded
			amount = info.Amount
		},
	)
	switch {
	case err != nil:
		log.Errorf("EVENT: Unable to record sent payment %v: %v",
			e.PaymentHash, err)

	case !found:
		log.Warnf("EVENT: Payment with hash %v sent, but it isn't "+
			"tracked", e.PaymentHash)

	default:
		log.Infof("EVENT: Successfully sent payment of %v (with %v "+
			"fee) from payment hash %v with preimage %v",
			optString(amount, "unknown amount"),
			optString(e.FeePaid, "unknown"), e.PaymentHash,
			e.PaymentPreimage)
	}
}

// handlePaymentFailed marks a tracked outbound payment as failed.
func (d *Dispatcher) handlePaymentFailed(e *event.PaymentFailed) {
	found, err := d.cfg.Payments.OutboundLedger().UpdateIfPresent(
		e.PaymentHash, func(info *ledger.PaymentInfo) {
			info.Status = ledger.StatusFailed
		},
	)
	switch {
	case err != nil:
		log.Errorf("EVENT: Unable to record failed payment %v: %v",
			e.PaymentHash, err)

	case found:
		log.Infof("EVENT: Failed to send payment to payment hash %v: "+
			"exhausted payment retry attempts", e.PaymentHash)
	}
}

func optString(o fn.Option[lnwire.MilliSatoshi], none string) string {
	s := none
	o.WhenSome(func(amt lnwire.MilliSatoshi) {
		s = amt.String()
	})
	return s
}
