package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lightninglabs/lnreactor/ledger"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/spf13/cobra"
)

type paymentsCommand struct {
	Direction string

	cmd *cobra.Command
}

// jsonPayment is a single ledger record as printed by the payments command.
type jsonPayment struct {
	PaymentHash string `json:"payment_hash"`
	Status      string `json:"status"`
	AmountMsat  *int64 `json:"amount_msat,omitempty"`
	Preimage    string `json:"preimage,omitempty"`
	Secret      string `json:"secret,omitempty"`
}

func newPaymentsCommand() *cobra.Command {
	cc := &paymentsCommand{}
	cc.cmd = &cobra.Command{
		Use:   "payments",
		Short: "List the payments recorded in the payment ledger",
		Long: `Lists the inbound or outbound payments the node recorded,
sorted by payment hash.`,
		Example: `lnreactor payments --direction outbound`,
		RunE:    cc.Execute,
	}
	cc.cmd.Flags().StringVar(
		&cc.Direction, "direction", "inbound", "which ledger to list "+
			"(inbound/outbound)",
	)

	return cc.cmd
}

func (c *paymentsCommand) Execute(_ *cobra.Command, _ []string) error {
	n, cleanup, err := openNode()
	if err != nil {
		return err
	}
	defer cleanup()

	var view ledger.View
	switch c.Direction {
	case "inbound":
		view = n.Payments().Inbound()

	case "outbound":
		view = n.Payments().Outbound()

	default:
		return fmt.Errorf("unknown direction %q", c.Direction)
	}

	content, err := json.MarshalIndent(paymentsToJSON(view), "", "  ")
	if err != nil {
		return fmt.Errorf("unable to encode payments: %w", err)
	}

	fmt.Println(string(content))

	return nil
}

func paymentsToJSON(view ledger.View) []*jsonPayment {
	payments := make([]*jsonPayment, 0, view.Len())
	_ = view.ForEach(func(hash lntypes.Hash,
		info ledger.PaymentInfo) error {

		p := &jsonPayment{
			PaymentHash: hash.String(),
			Status:      info.Status.String(),
		}
		info.Amount.WhenSome(func(amt lnwire.MilliSatoshi) {
			msat := int64(amt)
			p.AmountMsat = &msat
		})
		info.Preimage.WhenSome(func(preimage lntypes.Preimage) {
			p.Preimage = preimage.String()
		})
		info.Secret.WhenSome(func(secret [32]byte) {
			p.Secret = hex.EncodeToString(secret[:])
		})
		payments = append(payments, p)

		return nil
	})

	sort.Slice(payments, func(i, j int) bool {
		return payments[i].PaymentHash < payments[j].PaymentHash
	})

	return payments
}
