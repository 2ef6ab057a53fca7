package dispatch

import (
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/stretchr/testify/mock"
)

// MockEngine is a mock implementation of the Engine interface used in unit
// tests without a running protocol engine.
type MockEngine struct {
	mock.Mock
}

// A compile time check to ensure MockEngine implements the Engine interface.
var _ Engine = (*MockEngine)(nil)

// FundingTransactionGenerated records the funding transaction.
func (m *MockEngine) FundingTransactionGenerated(tempChanID lnwire.ChannelID,
	counterparty route.Vertex, tx *wire.MsgTx) error {

	args := m.Called(tempChanID, counterparty, tx)
	return args.Error(0)
}

// ClaimFunds records the claimed preimage.
func (m *MockEngine) ClaimFunds(preimage lntypes.Preimage) {
	m.Called(preimage)
}

// ProcessPendingHTLCForwards records the call.
func (m *MockEngine) ProcessPendingHTLCForwards() {
	m.Called()
}

// ListChannels returns the mocked channel list.
func (m *MockEngine) ListChannels() []ChannelDetails {
	args := m.Called()
	channels, _ := args.Get(0).([]ChannelDetails)
	return channels
}

// MockGraph is a static Graph. Nodes missing from Aliases are unknown, nodes
// mapped to an empty alias never announced themselves.
type MockGraph struct {
	Aliases map[route.Vertex]string
}

// A compile time check to ensure MockGraph implements the Graph interface.
var _ Graph = (*MockGraph)(nil)

// NodeAnnouncement looks up the node in the static alias map.
func (m *MockGraph) NodeAnnouncement(node route.Vertex) (string, bool, bool) {
	alias, ok := m.Aliases[node]
	if !ok {
		return "", false, false
	}
	return alias, true, alias != ""
}
