package main

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/lnreactor/wallet"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/spf13/cobra"
)

type withdrawCommand struct {
	Address string
	Amount  uint64
	All     bool
	FeeRate float64
	MinConf uint32
	Utxos   []string

	cmd *cobra.Command
}

func newWithdrawCommand() *cobra.Command {
	cc := &withdrawCommand{}
	cc.cmd = &cobra.Command{
		Use:   "withdraw",
		Short: "Send on-chain funds of the wallet to an address",
		Long: `Syncs the wallet, then builds and signs a transaction
paying the given amount (or everything with --all) to the address and
publishes it through the chain backend.`,
		Example: `lnreactor withdraw --address bc1q... --amount 50000 \
	--feerate 4

lnreactor withdraw --address bc1q... --all --minconf 6`,
		RunE: cc.Execute,
	}
	cc.cmd.Flags().StringVar(
		&cc.Address, "address", "", "address to send the funds to",
	)
	cc.cmd.Flags().Uint64Var(
		&cc.Amount, "amount", 0, "amount in satoshis to send",
	)
	cc.cmd.Flags().BoolVar(
		&cc.All, "all", false, "send the whole wallet balance",
	)
	cc.cmd.Flags().Float64Var(
		&cc.FeeRate, "feerate", 0, "fee rate in sat/vByte; the "+
			"backend's estimate is used if not set",
	)
	cc.cmd.Flags().Uint32Var(
		&cc.MinConf, "minconf", 0, "only spend outputs with at least "+
			"this many confirmations",
	)
	cc.cmd.Flags().StringSliceVar(
		&cc.Utxos, "utxo", nil, "only spend the given outpoints "+
			"(txid:index); can be specified multiple times",
	)

	return cc.cmd
}

func (c *withdrawCommand) Execute(_ *cobra.Command, _ []string) error {
	dest, err := btcutil.DecodeAddress(c.Address, chainParams)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}

	amount := btcutil.Amount(c.Amount)
	switch {
	case c.All && c.Amount != 0:
		return errors.New("--amount and --all are mutually exclusive")

	case c.All:
		amount = wallet.DrainAll

	case c.Amount == 0:
		return errors.New("either --amount or --all must be set")
	}

	utxos := make([]wire.OutPoint, 0, len(c.Utxos))
	for _, utxo := range c.Utxos {
		op, err := wire.NewOutPointFromString(utxo)
		if err != nil {
			return fmt.Errorf("invalid outpoint %s: %w", utxo, err)
		}
		utxos = append(utxos, *op)
	}

	feeRate := fn.None[wallet.FeeRate]()
	if c.FeeRate > 0 {
		feeRate = fn.Some(wallet.FeeRate(c.FeeRate))
	}
	minConf := fn.None[uint32]()
	if c.MinConf > 0 {
		minConf = fn.Some(c.MinConf)
	}

	n, cleanup, err := openNode()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := syncWallet(n); err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	tx, err := n.Withdraw(ctx, dest, amount, feeRate, minConf, utxos)
	if err != nil {
		return fmt.Errorf("withdrawal failed: %w", err)
	}

	fmt.Printf("Published transaction %v\n", tx.TxHash())

	return nil
}
