package wallet

import (
	"fmt"

	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

// FeeRate is a fee rate in satoshis per virtual byte.
type FeeRate float64

// FeeRateFromKW converts a fee rate reported by the chain backend. The
// minimum relay fee of 253 sat/kw maps to exactly 1 sat/vByte, every other
// value is divided by 250.
func FeeRateFromKW(fee chainfee.SatPerKWeight) FeeRate {
	if fee == chainfee.FeePerKwFloor {
		return 1.0
	}

	return FeeRate(float64(fee) / 250)
}

// FeePerKWeight returns the fee rate in sat/kw, never below the minimum
// relay fee.
func (r FeeRate) FeePerKWeight() chainfee.SatPerKWeight {
	fee := chainfee.SatPerKVByte(float64(r) * 1000).FeePerKWeight()
	if fee < chainfee.FeePerKwFloor {
		return chainfee.FeePerKwFloor
	}

	return fee
}

// String returns the fee rate with its unit.
func (r FeeRate) String() string {
	return fmt.Sprintf("%.2f sat/vB", float64(r))
}
