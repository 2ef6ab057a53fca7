// Package event defines the notifications the Lightning protocol engine
// delivers to the node. The set of events is closed: every consumer is
// expected to handle each variant.
package event

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/lnreactor/keys"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
)

// Event is a single notification from the protocol engine.
//
//sumtype:decl Event
type Event interface {
	// Kind returns a short, stable name of the event variant.
	Kind() string

	isEvent()
}

// FundingGenerationReady asks us to produce the funding transaction for an
// outbound channel we initiated with the given user channel id.
type FundingGenerationReady struct {
	TempChannelID      lnwire.ChannelID
	CounterpartyNodeID route.Vertex
	ChannelValue       btcutil.Amount
	OutputScript       []byte
	UserChannelID      uint64
}

// ChannelPending is emitted once the funding transaction was broadcast.
type ChannelPending struct {
	ChannelID           lnwire.ChannelID
	UserChannelID       uint64
	FormerTempChannelID lnwire.ChannelID
	CounterpartyNodeID  route.Vertex
	FundingTxo          wire.OutPoint
}

// ChannelReady is emitted once a channel can be used for payments.
type ChannelReady struct {
	ChannelID          lnwire.ChannelID
	UserChannelID      uint64
	CounterpartyNodeID route.Vertex
}

// ChannelClosed is emitted when a channel is closed, including channels that
// never finished funding.
type ChannelClosed struct {
	ChannelID     lnwire.ChannelID
	UserChannelID uint64
	Reason        ClosureReason
}

// DiscardFunding tells us a funding transaction will never be broadcast.
type DiscardFunding struct {
	ChannelID   lnwire.ChannelID
	Transaction *wire.MsgTx
}

// OpenChannelRequest is only emitted if inbound channels must be accepted
// manually, which this node never configures.
type OpenChannelRequest struct {
	TempChannelID      lnwire.ChannelID
	CounterpartyNodeID route.Vertex
	FundingAmount      btcutil.Amount
	PushAmount         lnwire.MilliSatoshi
}

// PaymentClaimable is emitted when an inbound payment arrived and can be
// claimed with its preimage.
type PaymentClaimable struct {
	PaymentHash   lntypes.Hash
	Purpose       PaymentPurpose
	Amount        lnwire.MilliSatoshi
	ViaChannelID  fn.Option[lnwire.ChannelID]
	ClaimDeadline fn.Option[uint32]
}

// PaymentClaimed is emitted once an inbound payment was claimed.
type PaymentClaimed struct {
	PaymentHash lntypes.Hash
	Purpose     PaymentPurpose
	Amount      lnwire.MilliSatoshi
}

// PaymentSent is emitted when an outbound payment succeeded.
type PaymentSent struct {
	PaymentPreimage lntypes.Preimage
	PaymentHash     lntypes.Hash
	FeePaid         fn.Option[lnwire.MilliSatoshi]
}

// PaymentPathSuccessful is emitted for every successful path of a payment.
type PaymentPathSuccessful struct {
	PaymentHash lntypes.Hash
}

// PaymentPathFailed is emitted for every failed path of a payment.
type PaymentPathFailed struct {
	PaymentHash              lntypes.Hash
	PaymentFailedPermanently bool
}

// ProbeSuccessful is emitted when a probe reached its destination.
type ProbeSuccessful struct {
	PaymentHash lntypes.Hash
}

// ProbeFailed is emitted when a probe could not reach its destination.
type ProbeFailed struct {
	PaymentHash lntypes.Hash
}

// PaymentFailed is emitted once all attempts of an outbound payment failed.
type PaymentFailed struct {
	PaymentHash lntypes.Hash
}

// PaymentForwarded is emitted when we earned a fee forwarding an HTLC.
type PaymentForwarded struct {
	PrevChannelID           fn.Option[lnwire.ChannelID]
	NextChannelID           fn.Option[lnwire.ChannelID]
	FeeEarned               fn.Option[lnwire.MilliSatoshi]
	ClaimFromOnchainTx      bool
	OutboundAmountForwarded fn.Option[lnwire.MilliSatoshi]
}

// HTLCHandlingFailed is emitted when an incoming HTLC had to be failed back.
type HTLCHandlingFailed struct {
	PrevChannelID         lnwire.ChannelID
	FailedNextDestination HTLCDestination
}

// PendingHTLCsForwardable asks us to process pending forwards after at least
// TimeForwardable has passed.
type PendingHTLCsForwardable struct {
	TimeForwardable time.Duration
}

// SpendableOutputs hands us outputs that now belong to the on-chain wallet.
type SpendableOutputs struct {
	Outputs []keys.OutputDescriptor
}

// HTLCIntercepted is only emitted if HTLC interception is enabled.
type HTLCIntercepted struct {
	InterceptID            [32]byte
	RequestedNextHopScid   lnwire.ShortChannelID
	PaymentHash            lntypes.Hash
	InboundAmount          lnwire.MilliSatoshi
	ExpectedOutboundAmount lnwire.MilliSatoshi
}

func (*FundingGenerationReady) Kind() string  { return "FundingGenerationReady" }
func (*ChannelPending) Kind() string          { return "ChannelPending" }
func (*ChannelReady) Kind() string            { return "ChannelReady" }
func (*ChannelClosed) Kind() string           { return "ChannelClosed" }
func (*DiscardFunding) Kind() string          { return "DiscardFunding" }
func (*OpenChannelRequest) Kind() string      { return "OpenChannelRequest" }
func (*PaymentClaimable) Kind() string        { return "PaymentClaimable" }
func (*PaymentClaimed) Kind() string          { return "PaymentClaimed" }
func (*PaymentSent) Kind() string             { return "PaymentSent" }
func (*PaymentPathSuccessful) Kind() string   { return "PaymentPathSuccessful" }
func (*PaymentPathFailed) Kind() string       { return "PaymentPathFailed" }
func (*ProbeSuccessful) Kind() string         { return "ProbeSuccessful" }
func (*ProbeFailed) Kind() string             { return "ProbeFailed" }
func (*PaymentFailed) Kind() string           { return "PaymentFailed" }
func (*PaymentForwarded) Kind() string        { return "PaymentForwarded" }
func (*HTLCHandlingFailed) Kind() string      { return "HTLCHandlingFailed" }
func (*PendingHTLCsForwardable) Kind() string { return "PendingHTLCsForwardable" }
func (*SpendableOutputs) Kind() string        { return "SpendableOutputs" }
func (*HTLCIntercepted) Kind() string         { return "HTLCIntercepted" }

func (*FundingGenerationReady) isEvent()  {}
func (*ChannelPending) isEvent()          {}
func (*ChannelReady) isEvent()            {}
func (*ChannelClosed) isEvent()           {}
func (*DiscardFunding) isEvent()          {}
func (*OpenChannelRequest) isEvent()      {}
func (*PaymentClaimable) isEvent()        {}
func (*PaymentClaimed) isEvent()          {}
func (*PaymentSent) isEvent()             {}
func (*PaymentPathSuccessful) isEvent()   {}
func (*PaymentPathFailed) isEvent()       {}
func (*ProbeSuccessful) isEvent()         {}
func (*ProbeFailed) isEvent()             {}
func (*PaymentFailed) isEvent()           {}
func (*PaymentForwarded) isEvent()        {}
func (*HTLCHandlingFailed) isEvent()      {}
func (*PendingHTLCsForwardable) isEvent() {}
func (*SpendableOutputs) isEvent()        {}
func (*HTLCIntercepted) isEvent()         {}

// Kinds returns a zero value of every event variant. Consumers use it in
// tests to make sure no variant is left unhandled.
func Kinds() []Event {
	return []Event{
		&FundingGenerationReady{},
		&ChannelPending{},
		&ChannelReady{},
		&ChannelClosed{},
		&DiscardFunding{},
		&OpenChannelRequest{},
		&PaymentClaimable{},
		&PaymentClaimed{},
		&PaymentSent{},
		&PaymentPathSuccessful{},
		&PaymentPathFailed{},
		&ProbeSuccessful{},
		&ProbeFailed{},
		&PaymentFailed{},
		&PaymentForwarded{},
		&HTLCHandlingFailed{},
		&PendingHTLCsForwardable{},
		&SpendableOutputs{},
		&HTLCIntercepted{},
	}
}

// ClosureReason describes why a channel was closed.
type ClosureReason struct {
	Code    ClosureCode
	Message string
}

// ClosureCode enumerates the known closure reasons.
type ClosureCode uint8

const (
	ClosureCounterpartyForceClosed ClosureCode = iota
	ClosureHolderForceClosed
	ClosureCooperativeClosure
	ClosureCommitmentTxConfirmed
	ClosureFundingTimedOut
	ClosureProcessingError
	ClosureDisconnectedPeer
	ClosureOutdatedChannelManager
)

// String returns a human readable closure reason.
func (r ClosureReason) String() string {
	var s string
	switch r.Code {
	case ClosureCounterpartyForceClosed:
		s = "counterparty force-closed"
	case ClosureHolderForceClosed:
		s = "user manually force-closed the channel"
	case ClosureCooperativeClosure:
		s = "the channel was cooperatively closed"
	case ClosureCommitmentTxConfirmed:
		s = "commitment or closing transaction was confirmed on chain"
	case ClosureFundingTimedOut:
		s = "funding transaction failed to confirm in a timely manner"
	case ClosureProcessingError:
		s = "of an exception"
	case ClosureDisconnectedPeer:
		s = "the peer disconnected prior to the channel being " +
			"confirmed"
	case ClosureOutdatedChannelManager:
		s = "the channel manager read from disk was stale"
	default:
		s = fmt.Sprintf("unknown reason %d", r.Code)
	}

	if r.Message != "" {
		return fmt.Sprintf("%s: %s", s, r.Message)
	}
	return s
}

// HTLCDestination describes where a failed HTLC was supposed to go.
type HTLCDestination struct {
	NextHopNodeID fn.Option[route.Vertex]
	NextChannelID fn.Option[lnwire.ChannelID]
	PaymentHash   fn.Option[lntypes.Hash]
}

// String returns a description of the destination for logging.
func (d HTLCDestination) String() string {
	switch {
	case d.NextChannelID.IsSome():
		return fmt.Sprintf("next hop %v over channel %v",
			d.NextHopNodeID.UnwrapOr(route.Vertex{}),
			d.NextChannelID.UnwrapOr(lnwire.ChannelID{}))

	case d.PaymentHash.IsSome():
		return fmt.Sprintf("failed payment %v",
			d.PaymentHash.UnwrapOr(lntypes.Hash{}))

	default:
		return "unknown next hop"
	}
}
