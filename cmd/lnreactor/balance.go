package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const balanceFormat = `
Confirmed:	%v
Unconfirmed:	%v
Total:		%v
`

type balanceCommand struct {
	cmd *cobra.Command
}

func newBalanceCommand() *cobra.Command {
	cc := &balanceCommand{}
	cc.cmd = &cobra.Command{
		Use:   "balance",
		Short: "Sync the wallet and show its balance",
		Long: `Runs a wallet sync pass and shows the confirmed and
unconfirmed balance of the wallet.`,
		Example: `lnreactor balance --seed <hex seed>`,
		RunE:    cc.Execute,
	}

	return cc.cmd
}

func (c *balanceCommand) Execute(_ *cobra.Command, _ []string) error {
	n, cleanup, err := openNode()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := syncWallet(n); err != nil {
		return err
	}

	balance := n.Balance()
	fmt.Printf(
		balanceFormat, balance.Confirmed, balance.Unconfirmed,
		balance.Total,
	)

	return nil
}
