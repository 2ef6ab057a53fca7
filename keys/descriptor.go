package keys

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/keychain"
)

// OutputDescriptor describes an on-chain output the protocol engine handed
// back to us because it became spendable, for example after a channel close.
//
//sumtype:decl OutputDescriptor
type OutputDescriptor interface {
	// Outpoint is the location of the output on chain.
	Outpoint() wire.OutPoint

	// TxOut is the output itself.
	TxOut() *wire.TxOut

	isOutputDescriptor()
}

// StaticOutput is a P2WKH output paying to one of our own keys, for example a
// cooperative close output sent to the shutdown script.
type StaticOutput struct {
	OutPoint wire.OutPoint
	Output   *wire.TxOut
	KeyLoc   keychain.KeyLocator
}

func (s *StaticOutput) Outpoint() wire.OutPoint { return s.OutPoint }
func (s *StaticOutput) TxOut() *wire.TxOut      { return s.Output }
func (s *StaticOutput) isOutputDescriptor()     {}

// StaticPaymentOutput is the to_remote output of a counterparty's commitment
// transaction, paying directly to our static payment basepoint.
type StaticPaymentOutput struct {
	OutPoint wire.OutPoint
	Output   *wire.TxOut
	KeyLoc   keychain.KeyLocator
}

func (s *StaticPaymentOutput) Outpoint() wire.OutPoint { return s.OutPoint }
func (s *StaticPaymentOutput) TxOut() *wire.TxOut      { return s.Output }
func (s *StaticPaymentOutput) isOutputDescriptor()     {}

// DelayedPaymentOutput is the to_local output of our own commitment
// transaction. It can only be spent by us after ToSelfDelay blocks.
type DelayedPaymentOutput struct {
	OutPoint wire.OutPoint
	Output   *wire.TxOut

	// KeyLoc locates our delayed payment basepoint.
	KeyLoc keychain.KeyLocator

	PerCommitmentPoint *btcec.PublicKey
	ToSelfDelay        uint16
	RevocationPubKey   *btcec.PublicKey
}

func (d *DelayedPaymentOutput) Outpoint() wire.OutPoint { return d.OutPoint }
func (d *DelayedPaymentOutput) TxOut() *wire.TxOut      { return d.Output }
func (d *DelayedPaymentOutput) isOutputDescriptor()     {}
