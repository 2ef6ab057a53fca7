package chain

import (
	"context"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/stretchr/testify/mock"
)

// MockClient is a mock implementation of the Client interface used in unit
// tests of the packages that talk to the chain.
type MockClient struct {
	mock.Mock
}

// A compile time check to ensure MockClient implements the Client interface.
var _ Client = (*MockClient)(nil)

// EstimateFeePerKW returns the mocked fee rate.
func (m *MockClient) EstimateFeePerKW(ctx context.Context,
	target ConfTarget) (chainfee.SatPerKWeight, error) {

	args := m.Called(ctx, target)
	return args.Get(0).(chainfee.SatPerKWeight), args.Error(1)
}

// Broadcast records the broadcast transaction.
func (m *MockClient) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

// BestHeight returns the mocked height.
func (m *MockClient) BestHeight(ctx context.Context) (uint32, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint32), args.Error(1)
}

// WalletScanStatus returns the mocked scan status.
func (m *MockClient) WalletScanStatus(ctx context.Context) (ScanStatus,
	error) {

	args := m.Called(ctx)
	return args.Get(0).(ScanStatus), args.Error(1)
}

// ListUnspent returns the mocked unspent outputs.
func (m *MockClient) ListUnspent(ctx context.Context,
	scripts [][]byte) ([]Utxo, error) {

	args := m.Called(ctx, scripts)
	utxos, _ := args.Get(0).([]Utxo)
	return utxos, args.Error(1)
}
