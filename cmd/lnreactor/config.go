package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/lnreactor/chain"
	"github.com/lightninglabs/lnreactor/node"
	"github.com/spf13/viper"
)

const seedLen = 32

var errNoRootKey = errors.New("either --rootkey or --seed must be set")

// readRootKey returns the root key from either the rootkey or the seed
// setting.
func readRootKey() (*hdkeychain.ExtendedKey, error) {
	switch {
	case viper.GetString("rootkey") != "":
		extendedKey, err := hdkeychain.NewKeyFromString(
			viper.GetString("rootkey"),
		)
		if err != nil {
			return nil, fmt.Errorf("invalid root key: %w", err)
		}
		if !extendedKey.IsForNet(chainParams) {
			return nil, fmt.Errorf("root key is not for %s",
				chainParams.Name)
		}
		if !extendedKey.IsPrivate() {
			return nil, errors.New("root key must be private")
		}

		return extendedKey, nil

	case viper.GetString("seed") != "":
		seed, err := hex.DecodeString(viper.GetString("seed"))
		if err != nil {
			return nil, fmt.Errorf("invalid seed: %w", err)
		}
		if len(seed) != seedLen {
			return nil, fmt.Errorf("seed must be %d bytes, got %d",
				seedLen, len(seed))
		}

		return hdkeychain.NewMaster(seed, chainParams)

	default:
		return nil, errNoRootKey
	}
}

// esploraURL returns the configured esplora URL, switching the default to
// the selected network.
func esploraURL() string {
	apiURL := viper.GetString("esplora.url")
	if apiURL != defaultEsploraURL {
		return apiURL
	}

	switch chainParams.Name {
	case chaincfg.TestNet3Params.Name:
		return defaultTestnetEsploraURL

	case chaincfg.SigNetParams.Name:
		return defaultSignetEsploraURL

	case chaincfg.RegressionNetParams.Name:
		return defaultRegtestEsploraURL

	default:
		return apiURL
	}
}

// newChainClient connects to the configured chain backend.
func newChainClient() (chain.Client, func(), error) {
	switch backend := viper.GetString("chain.backend"); backend {
	case "bitcoind":
		client, err := chain.NewBitcoind(&chain.BitcoindConfig{
			Host: viper.GetString("bitcoind.host"),
			User: viper.GetString("bitcoind.user"),
			Pass: viper.GetString("bitcoind.pass"),
		}, chainParams)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to connect to "+
				"bitcoind: %w", err)
		}

		return client, client.Stop, nil

	case "esplora":
		return chain.NewEsplora(esploraURL(), chainParams), func() {},
			nil

	default:
		return nil, nil, fmt.Errorf("unknown chain backend %q",
			backend)
	}
}

// openNode assembles a node without a protocol engine from the flags. The
// returned cleanup stops the node and disconnects from the backend.
func openNode() (*node.Node, func(), error) {
	rootKey, err := readRootKey()
	if err != nil {
		return nil, nil, err
	}

	chainClient, disconnect, err := newChainClient()
	if err != nil {
		return nil, nil, err
	}

	n, err := node.New(&node.Config{
		RootKey:      rootKey,
		ChainParams:  chainParams,
		Chain:        chainClient,
		DataDir:      viper.GetString("db.path"),
		SyncInterval: viper.GetDuration("wallet.syncinterval"),
	})
	if err != nil {
		disconnect()
		return nil, nil, fmt.Errorf("unable to open node: %w", err)
	}

	cleanup := func() {
		if err := n.Stop(); err != nil {
			log.Errorf("Error stopping node: %v", err)
		}
		disconnect()
	}

	return n, cleanup, nil
}

// commandContext returns a context bounded by the timeout setting.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(
		context.Background(), viper.GetDuration("timeout"),
	)
}
