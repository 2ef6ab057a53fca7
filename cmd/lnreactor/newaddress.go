package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type newAddressCommand struct {
	cmd *cobra.Command
}

func newNewAddressCommand() *cobra.Command {
	cc := &newAddressCommand{}
	cc.cmd = &cobra.Command{
		Use:   "newaddress",
		Short: "Show a receive address of the wallet",
		Long: `Shows the last unused native SegWit receive address of the
wallet. A new address is only revealed once the previous one received
funds.`,
		Example: `lnreactor newaddress --seed <hex seed>`,
		RunE:    cc.Execute,
	}

	return cc.cmd
}

func (c *newAddressCommand) Execute(_ *cobra.Command, _ []string) error {
	n, cleanup, err := openNode()
	if err != nil {
		return err
	}
	defer cleanup()

	addr, err := n.NewAddress()
	if err != nil {
		return fmt.Errorf("unable to get address: %w", err)
	}

	fmt.Println(addr.String())

	return nil
}
