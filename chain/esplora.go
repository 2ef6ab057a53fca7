package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

const (
	defaultHTTPTimeout = 30 * time.Second
)

// Esplora is a chain client backed by the REST API of an esplora block
// explorer. Esplora has no wallet, so it never reports a rescan.
type Esplora struct {
	BaseURL string

	params *chaincfg.Params
	client *http.Client
}

// A compile time check to ensure Esplora implements the Client interface.
var _ Client = (*Esplora)(nil)

// NewEsplora creates a client for the esplora API at the given base URL.
func NewEsplora(baseURL string, params *chaincfg.Params) *Esplora {
	return &Esplora{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		params:  params,
		client: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
	}
}

// Status is the confirmation status of a transaction.
type Status struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int    `json:"block_height"`
	BlockHash   string `json:"block_hash"`
}

type esploraUtxo struct {
	Txid   string  `json:"txid"`
	Vout   uint32  `json:"vout"`
	Value  int64   `json:"value"`
	Status *Status `json:"status"`
}

// EstimateFeePerKW returns the estimate for the largest target esplora
// reports that is not above the requested one.
func (e *Esplora) EstimateFeePerKW(ctx context.Context,
	target ConfTarget) (chainfee.SatPerKWeight, error) {

	var estimates map[string]float64
	err := e.fetchJSON(ctx, e.BaseURL+"/fee-estimates", &estimates)
	if err != nil {
		return 0, err
	}

	satPerVByte, err := pickEstimate(estimates, target)
	if err != nil {
		return 0, err
	}

	fee := chainfee.SatPerKVByte(satPerVByte * 1000).FeePerKWeight()
	log.Debugf("Esplora fee estimate for %v: %v", target, fee)

	return clampFee(fee), nil
}

// pickEstimate selects the sat/vByte estimate of the largest target not
// above the requested one.
func pickEstimate(estimates map[string]float64,
	target ConfTarget) (float64, error) {

	targets := make([]int, 0, len(estimates))
	for key := range estimates {
		blocks, err := strconv.Atoi(key)
		if err != nil {
			return 0, fmt.Errorf("invalid fee target %q: %w", key,
				err)
		}
		targets = append(targets, blocks)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(targets)))

	for _, blocks := range targets {
		if blocks <= int(target) {
			return estimates[strconv.Itoa(blocks)], nil
		}
	}

	return 0, fmt.Errorf("target %v: %w", target,
		ErrFeeEstimateUnavailable)
}

// Broadcast publishes the transaction.
func (e *Esplora) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return err
	}

	txid, err := e.PublishTx(ctx, hex.EncodeToString(buf.Bytes()))
	if err != nil {
		return err
	}

	log.Infof("Published transaction %s", txid)

	return nil
}

// PublishTx posts a hex encoded transaction and returns the txid the
// explorer responds with.
func (e *Esplora) PublishTx(ctx context.Context,
	rawTxHex string) (string, error) {

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, e.BaseURL+"/tx",
		strings.NewReader(rawTxHex),
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("error publishing transaction: %s",
			strings.TrimSpace(string(body)))
	}

	return string(body), nil
}

// BestHeight returns the height of the chain tip.
func (e *Esplora) BestHeight(ctx context.Context) (uint32, error) {
	body, err := e.fetch(ctx, e.BaseURL+"/blocks/tip/height")
	if err != nil {
		return 0, err
	}

	heightStr := strings.TrimSpace(string(body))
	height, err := strconv.ParseUint(heightStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid tip height: %w", err)
	}

	return uint32(height), nil
}

// WalletScanStatus always reports that no scan is running.
func (e *Esplora) WalletScanStatus(context.Context) (ScanStatus, error) {
	return ScanStatus{}, nil
}

// ListUnspent queries the unspent outputs of every script's address.
func (e *Esplora) ListUnspent(ctx context.Context,
	scripts [][]byte) ([]Utxo, error) {

	var result []Utxo
	for _, script := range scripts {
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(
			script, e.params,
		)
		if err != nil || len(addrs) != 1 {
			return nil, fmt.Errorf("unable to extract address "+
				"from script %x", script)
		}

		var utxos []esploraUtxo
		url := fmt.Sprintf("%s/address/%s/utxo", e.BaseURL,
			addrs[0].EncodeAddress())
		if err := e.fetchJSON(ctx, url, &utxos); err != nil {
			return nil, err
		}

		for _, u := range utxos {
			hash, err := chainhash.NewHashFromStr(u.Txid)
			if err != nil {
				return nil, fmt.Errorf("invalid txid %s: %w",
					u.Txid, err)
			}

			utxo := Utxo{
				OutPoint: wire.OutPoint{
					Hash:  *hash,
					Index: u.Vout,
				},
				Value:    btcutil.Amount(u.Value),
				PkScript: script,
			}
			if u.Status != nil && u.Status.Confirmed {
				utxo.Height = uint32(u.Status.BlockHeight)
			}

			result = append(result, utxo)
		}
	}

	return result, nil
}

func (e *Esplora) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil

	case strings.TrimSpace(string(body)) == "Transaction not found":
		return nil, ErrTxNotFound

	default:
		return nil, fmt.Errorf("request to %s failed with status %d: "+
			"%s", url, resp.StatusCode, body)
	}
}

func (e *Esplora) fetchJSON(ctx context.Context, url string,
	target interface{}) error {

	body, err := e.fetch(ctx, url)
	if err != nil {
		return err
	}

	return json.Unmarshal(body, target)
}
