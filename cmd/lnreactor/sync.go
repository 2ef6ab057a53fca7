package main

import (
	"fmt"

	"github.com/lightninglabs/lnreactor/node"
	"github.com/spf13/cobra"
)

type syncCommand struct {
	cmd *cobra.Command
}

func newSyncCommand() *cobra.Command {
	cc := &syncCommand{}
	cc.cmd = &cobra.Command{
		Use:   "sync",
		Short: "Run a single wallet sync pass",
		Long: `Asks the chain backend for the unspent outputs of all
wallet addresses and advances the address indexes past used addresses.`,
		Example: `lnreactor sync --chain.backend esplora \
	--seed <hex seed>`,
		RunE:    cc.Execute,
	}

	return cc.cmd
}

func (c *syncCommand) Execute(_ *cobra.Command, _ []string) error {
	n, cleanup, err := openNode()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := syncWallet(n); err != nil {
		return err
	}

	fmt.Println("Wallet is synchronised to blockchain")

	return nil
}

func syncWallet(n *node.Node) error {
	ctx, cancel := commandContext()
	defer cancel()

	if err := n.SyncWallet(ctx); err != nil {
		return fmt.Errorf("wallet sync failed: %w", err)
	}

	return nil
}
