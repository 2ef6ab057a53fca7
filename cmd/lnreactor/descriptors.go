package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const descriptorsFormat = `
Receive descriptor:	%s
Change descriptor:	%s
`

type descriptorsCommand struct {
	cmd *cobra.Command
}

func newDescriptorsCommand() *cobra.Command {
	cc := &descriptorsCommand{}
	cc.cmd = &cobra.Command{
		Use:   "descriptors",
		Short: "Show the output descriptors of the wallet",
		Long: `Shows the public BIP84 output descriptors of the wallet
including their checksum. They can be imported into a watch-only wallet.`,
		Example: `lnreactor descriptors --rootkey tprv...`,
		RunE:    cc.Execute,
	}

	return cc.cmd
}

func (c *descriptorsCommand) Execute(_ *cobra.Command, _ []string) error {
	n, cleanup, err := openNode()
	if err != nil {
		return err
	}
	defer cleanup()

	receive, change, err := n.Descriptors()
	if err != nil {
		return fmt.Errorf("unable to get descriptors: %w", err)
	}

	fmt.Printf(descriptorsFormat, receive, change)

	return nil
}
