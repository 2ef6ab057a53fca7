package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

const (
	// maxConfirmations is passed to listunspent as the upper bound.
	maxConfirmations = 9999999
)

// BitcoindConfig holds the RPC connection details of a bitcoind node.
type BitcoindConfig struct {
	Host string
	User string
	Pass string
}

// Bitcoind is a chain client backed by the JSON-RPC interface of a bitcoind
// node with a watch-only wallet loaded.
type Bitcoind struct {
	client *rpcclient.Client
	params *chaincfg.Params

	importMu sync.Mutex
	imported map[string]struct{}
}

// A compile time check to ensure Bitcoind implements the Client interface.
var _ Client = (*Bitcoind)(nil)

// NewBitcoind creates a new bitcoind RPC client. No connection is made until
// the first call.
func NewBitcoind(cfg *BitcoindConfig,
	params *chaincfg.Params) (*Bitcoind, error) {

	rpcCfg := rpcclient.ConnConfig{
		Host:                 cfg.Host,
		User:                 cfg.User,
		Pass:                 cfg.Pass,
		DisableConnectOnNew:  true,
		DisableAutoReconnect: false,
		DisableTLS:           true,
		HTTPPostMode:         true,
	}

	client, err := rpcclient.New(&rpcCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create bitcoind client: %w",
			err)
	}

	return &Bitcoind{
		client:   client,
		params:   params,
		imported: make(map[string]struct{}),
	}, nil
}

// Stop shuts down the RPC client.
func (b *Bitcoind) Stop() {
	b.client.Shutdown()
}

// EstimateFeePerKW calls estimatesmartfee in conservative mode.
func (b *Bitcoind) EstimateFeePerKW(ctx context.Context,
	target ConfTarget) (chainfee.SatPerKWeight, error) {

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	mode := btcjson.EstimateModeConservative
	resp, err := b.client.EstimateSmartFee(int64(target), &mode)
	if err != nil {
		return 0, fmt.Errorf("estimatesmartfee: %w", err)
	}

	if resp.FeeRate == nil {
		return 0, fmt.Errorf("target %v: %v: %w", target, resp.Errors,
			ErrFeeEstimateUnavailable)
	}

	fee, err := btcPerKVByteToFeePerKW(*resp.FeeRate)
	if err != nil {
		return 0, err
	}

	log.Debugf("Bitcoind fee estimate for %v: %v", target, fee)

	return clampFee(fee), nil
}

// btcPerKVByteToFeePerKW converts a bitcoind fee rate in BTC/kvB.
func btcPerKVByteToFeePerKW(btcPerKVByte float64) (chainfee.SatPerKWeight,
	error) {

	satPerKVByte, err := btcutil.NewAmount(btcPerKVByte)
	if err != nil {
		return 0, fmt.Errorf("invalid fee rate %v: %w", btcPerKVByte,
			err)
	}

	return chainfee.SatPerKVByte(satPerKVByte).FeePerKWeight(), nil
}

// Broadcast calls sendrawtransaction.
func (b *Bitcoind) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	txid, err := b.client.SendRawTransaction(tx, false)
	if err != nil {
		return fmt.Errorf("sendrawtransaction: %w", err)
	}

	log.Infof("Published transaction %v", txid)

	return nil
}

// BestHeight calls getblockcount.
func (b *Bitcoind) BestHeight(ctx context.Context) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	height, err := b.client.GetBlockCount()
	if err != nil {
		return 0, fmt.Errorf("getblockcount: %w", err)
	}

	return uint32(height), nil
}

// WalletScanStatus reads the scanning field of getwalletinfo.
func (b *Bitcoind) WalletScanStatus(ctx context.Context) (ScanStatus, error) {
	if err := ctx.Err(); err != nil {
		return ScanStatus{}, err
	}

	raw, err := b.client.RawRequest("getwalletinfo", nil)
	if err != nil {
		return ScanStatus{}, fmt.Errorf("getwalletinfo: %w", err)
	}

	return parseScanStatus(raw)
}

// parseScanStatus parses a getwalletinfo response. The scanning field is
// either false or an object with the scan duration and progress.
func parseScanStatus(raw json.RawMessage) (ScanStatus, error) {
	var info struct {
		Scanning json.RawMessage `json:"scanning"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return ScanStatus{}, fmt.Errorf("invalid wallet info: %w", err)
	}

	if len(info.Scanning) == 0 {
		return ScanStatus{}, nil
	}

	var scanning bool
	if err := json.Unmarshal(info.Scanning, &scanning); err == nil {
		return ScanStatus{Scanning: scanning}, nil
	}

	var details struct {
		Duration int64   `json:"duration"`
		Progress float64 `json:"progress"`
	}
	if err := json.Unmarshal(info.Scanning, &details); err != nil {
		return ScanStatus{}, fmt.Errorf("invalid scanning field: %w",
			err)
	}

	return ScanStatus{
		Scanning: true,
		Duration: time.Duration(details.Duration) * time.Second,
		Progress: details.Progress,
	}, nil
}

// ListUnspent imports every address not seen before as watch-only and then
// calls listunspent for all of them.
func (b *Bitcoind) ListUnspent(ctx context.Context,
	scripts [][]byte) ([]Utxo, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addrs := make([]btcutil.Address, 0, len(scripts))
	scriptByAddr := make(map[string][]byte, len(scripts))
	for _, script := range scripts {
		_, extracted, _, err := txscript.ExtractPkScriptAddrs(
			script, b.params,
		)
		if err != nil || len(extracted) != 1 {
			return nil, fmt.Errorf("unable to extract address "+
				"from script %x", script)
		}

		addr := extracted[0]
		if err := b.importAddress(addr); err != nil {
			return nil, err
		}

		addrs = append(addrs, addr)
		scriptByAddr[addr.EncodeAddress()] = script
	}

	height, err := b.BestHeight(ctx)
	if err != nil {
		return nil, err
	}

	unspent, err := b.client.ListUnspentMinMaxAddresses(
		0, maxConfirmations, addrs,
	)
	if err != nil {
		return nil, fmt.Errorf("listunspent: %w", err)
	}

	result := make([]Utxo, 0, len(unspent))
	for _, u := range unspent {
		utxo, err := utxoFromListUnspent(u, height, scriptByAddr)
		if err != nil {
			return nil, err
		}

		result = append(result, utxo)
	}

	return result, nil
}

func (b *Bitcoind) importAddress(addr btcutil.Address) error {
	b.importMu.Lock()
	defer b.importMu.Unlock()

	encoded := addr.EncodeAddress()
	if _, ok := b.imported[encoded]; ok {
		return nil
	}

	if err := b.client.ImportAddressRescan(encoded, "", false); err != nil {
		return fmt.Errorf("importaddress %s: %w", encoded, err)
	}
	b.imported[encoded] = struct{}{}

	log.Debugf("Imported watch-only address %s", encoded)

	return nil
}

func utxoFromListUnspent(u btcjson.ListUnspentResult, tipHeight uint32,
	scriptByAddr map[string][]byte) (Utxo, error) {

	hash, err := chainhash.NewHashFromStr(u.TxID)
	if err != nil {
		return Utxo{}, fmt.Errorf("invalid txid %s: %w", u.TxID, err)
	}

	value, err := btcutil.NewAmount(u.Amount)
	if err != nil {
		return Utxo{}, fmt.Errorf("invalid amount %v: %w", u.Amount,
			err)
	}

	script, ok := scriptByAddr[u.Address]
	if !ok {
		return Utxo{}, fmt.Errorf("unexpected address %s", u.Address)
	}

	utxo := Utxo{
		OutPoint: wire.OutPoint{
			Hash:  *hash,
			Index: u.Vout,
		},
		Value:    value,
		PkScript: script,
	}
	if u.Confirmations > 0 && uint32(u.Confirmations) <= tipHeight+1 {
		utxo.Height = tipHeight - uint32(u.Confirmations) + 1
	}

	return utxo, nil
}
