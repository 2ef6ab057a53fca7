package ledger

import (
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

// HTLCStatus is the settlement state of a payment.
type HTLCStatus uint8

const (
	// StatusPending is the initial state of an outbound payment that was
	// registered before it was sent.
	StatusPending HTLCStatus = iota

	// StatusSucceeded means the payment settled.
	StatusSucceeded

	// StatusFailed means the payment failed for good.
	StatusFailed
)

// String returns the status name.
func (s HTLCStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"

	case StatusSucceeded:
		return "succeeded"

	case StatusFailed:
		return "failed"

	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// IsTerminal returns true if no further status change is allowed.
func (s HTLCStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// canTransition reports whether a record in status s may move to next.
// Terminal states only allow staying where they are.
func (s HTLCStatus) canTransition(next HTLCStatus) bool {
	if s == next {
		return true
	}

	return !s.IsTerminal()
}

// PaymentInfo is what we know about a single payment.
type PaymentInfo struct {
	Preimage fn.Option[lntypes.Preimage]
	Secret   fn.Option[[32]byte]
	Status   HTLCStatus

	// Amount is None if the amount is unknown, which is a valid state.
	Amount fn.Option[lnwire.MilliSatoshi]
}

// Direction tells the two ledgers apart.
type Direction uint8

const (
	// Inbound payments are the ones we received.
	Inbound Direction = iota

	// Outbound payments are the ones we sent.
	Outbound
)

// String returns the direction name.
func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}

	return "outbound"
}

// PaymentUpdate is delivered to subscribers after every ledger mutation.
type PaymentUpdate struct {
	Direction Direction
	Hash      lntypes.Hash
	Info      PaymentInfo
}
