// Package chain talks to the blockchain backend: fee estimation, broadcast,
// chain height, wallet scan status and UTXO lookups.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

var (
	// ErrFeeEstimateUnavailable is returned if the backend has no fee
	// estimate for the requested confirmation target.
	ErrFeeEstimateUnavailable = errors.New("fee estimate unavailable")

	// ErrTxNotFound is returned if the backend doesn't know a
	// transaction.
	ErrTxNotFound = errors.New("transaction not found")
)

// ConfTarget is a confirmation target in blocks.
type ConfTarget uint32

const (
	// ConfBackground is used for transactions that are not urgent at all.
	ConfBackground ConfTarget = 144

	// ConfNormal is used for funding and sweep transactions.
	ConfNormal ConfTarget = 18

	// ConfHighPriority is used when a transaction must confirm soon.
	ConfHighPriority ConfTarget = 6
)

// String returns the target in a human readable form.
func (c ConfTarget) String() string {
	return fmt.Sprintf("%d blocks", uint32(c))
}

// ScanStatus describes a rescan the backend wallet is running.
type ScanStatus struct {
	Scanning bool
	Duration time.Duration
	Progress float64
}

// Utxo is an unspent output known to the backend.
type Utxo struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
	PkScript []byte

	// Height is the confirmation height, zero for unconfirmed outputs.
	Height uint32
}

// Confirmed returns true if the output is in a block.
func (u Utxo) Confirmed() bool {
	return u.Height > 0
}

// Client is the interface to the chain backend.
type Client interface {
	// EstimateFeePerKW returns the fee rate for confirmation within the
	// given target. The result is never below the minimum relay fee.
	EstimateFeePerKW(ctx context.Context,
		target ConfTarget) (chainfee.SatPerKWeight, error)

	// Broadcast publishes a transaction.
	Broadcast(ctx context.Context, tx *wire.MsgTx) error

	// BestHeight returns the height of the chain tip.
	BestHeight(ctx context.Context) (uint32, error)

	// WalletScanStatus reports whether the backend is rescanning.
	WalletScanStatus(ctx context.Context) (ScanStatus, error)

	// ListUnspent returns all unspent outputs paying to one of the given
	// output scripts.
	ListUnspent(ctx context.Context, scripts [][]byte) ([]Utxo, error)
}

// clampFee makes sure a fee rate is at least the minimum relay fee.
func clampFee(fee chainfee.SatPerKWeight) chainfee.SatPerKWeight {
	if fee < chainfee.FeePerKwFloor {
		return chainfee.FeePerKwFloor
	}

	return fee
}
