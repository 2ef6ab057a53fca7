package main

import (
	"fmt"

	"github.com/lightninglabs/lnreactor/chain"
	"github.com/spf13/cobra"
)

type feeRateCommand struct {
	Target string

	cmd *cobra.Command
}

func newFeeRateCommand() *cobra.Command {
	cc := &feeRateCommand{}
	cc.cmd = &cobra.Command{
		Use:   "feerate",
		Short: "Show the fee estimate of the chain backend",
		Long: `Asks the chain backend for a fee estimate for one of the
confirmation targets the node uses.`,
		Example: `lnreactor feerate --target high`,
		RunE:    cc.Execute,
	}
	cc.cmd.Flags().StringVar(
		&cc.Target, "target", "normal", "confirmation target "+
			"(background/normal/high)",
	)

	return cc.cmd
}

func (c *feeRateCommand) Execute(_ *cobra.Command, _ []string) error {
	target, err := parseConfTarget(c.Target)
	if err != nil {
		return err
	}

	n, cleanup, err := openNode()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := commandContext()
	defer cancel()

	feeRate, err := n.EstimateFeeRate(ctx, target)
	if err != nil {
		return fmt.Errorf("unable to estimate fee: %w", err)
	}

	fmt.Printf("%v for %v (%v)\n", feeRate, target,
		feeRate.FeePerKWeight())

	return nil
}

func parseConfTarget(target string) (chain.ConfTarget, error) {
	switch target {
	case "background":
		return chain.ConfBackground, nil

	case "normal":
		return chain.ConfNormal, nil

	case "high":
		return chain.ConfHighPriority, nil

	default:
		return 0, fmt.Errorf("unknown confirmation target %q", target)
	}
}
