package event

import (
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
)

// PaymentPurpose describes what an inbound payment was for.
//
//sumtype:decl PaymentPurpose
type PaymentPurpose interface {
	// Preimage returns the preimage that can be used to claim the payment,
	// if it is known to us.
	Preimage() fn.Option[lntypes.Preimage]

	// Secret returns the payment secret, if there is one.
	Secret() fn.Option[[32]byte]

	isPaymentPurpose()
}

// InvoicePayment is a payment to one of our own invoices. The preimage is
// absent for invoices created with a caller provided payment hash.
type InvoicePayment struct {
	PaymentPreimage fn.Option[lntypes.Preimage]
	PaymentSecret   [32]byte
}

// Preimage returns the invoice preimage if we know it.
func (p *InvoicePayment) Preimage() fn.Option[lntypes.Preimage] {
	return p.PaymentPreimage
}

// Secret returns the invoice payment secret.
func (p *InvoicePayment) Secret() fn.Option[[32]byte] {
	return fn.Some(p.PaymentSecret)
}

func (*InvoicePayment) isPaymentPurpose() {}

// SpontaneousPayment is a keysend payment that carries its own preimage.
type SpontaneousPayment struct {
	PaymentPreimage lntypes.Preimage
}

// Preimage returns the preimage sent along with the payment.
func (p *SpontaneousPayment) Preimage() fn.Option[lntypes.Preimage] {
	return fn.Some(p.PaymentPreimage)
}

// Secret always returns None, keysend payments have no payment secret.
func (*SpontaneousPayment) Secret() fn.Option[[32]byte] {
	return fn.None[[32]byte]()
}

func (*SpontaneousPayment) isPaymentPurpose() {}
