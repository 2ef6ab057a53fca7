package dispatch

import (
	"fmt"

	"github.com/lightninglabs/lnreactor/event"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lnwire"
)

// describeForward renders a forwarded payment for the log. Counterparties
// the graph knows nothing about are described by placeholders.
func (d *Dispatcher) describeForward(e *event.PaymentForwarded) string {
	channels := d.cfg.Engine.ListChannels()

	hop := func(chanID fn.Option[lnwire.ChannelID]) string {
		s := "unknown channel"
		chanID.WhenSome(func(id lnwire.ChannelID) {
			s = fmt.Sprintf("channel %v", id)
			if node := d.describeNode(channels, id); node != "" {
				s = node + " with " + s
			}
		})
		return s
	}

	amount := "of unknown amount"
	e.OutboundAmountForwarded.WhenSome(func(amt lnwire.MilliSatoshi) {
		amount = fmt.Sprintf("of amount %v", amt)
	})

	fee := "claimed onchain"
	e.FeeEarned.WhenSome(func(amt lnwire.MilliSatoshi) {
		fee = fmt.Sprintf("earning %v", amt)
	})

	origin := "from HTLC fulfill message"
	if e.ClaimFromOnchainTx {
		origin = "from onchain downstream claim"
	}

	return fmt.Sprintf("Forwarded payment from %v to %v %v, %v %v",
		hop(e.PrevChannelID), hop(e.NextChannelID), amount, fee,
		origin)
}

// describeNode names the counterparty of a channel. It returns an empty
// string if the channel is unknown.
func (d *Dispatcher) describeNode(channels []ChannelDetails,
	id lnwire.ChannelID) string {

	for _, channel := range channels {
		if channel.ChannelID != id {
			continue
		}

		alias, known, announced := d.cfg.Graph.NodeAnnouncement(
			channel.CounterpartyNodeID,
		)
		switch {
		case !known:
			return "private node"

		case !announced:
			return "unnamed node"

		default:
			return fmt.Sprintf("node %v", alias)
		}
	}

	return ""
}
