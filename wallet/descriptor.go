package wallet

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcwallet/waddrmgr"
	"github.com/lightninglabs/lnreactor/keys"
)

const (
	// branchReceive is the external branch of the BIP84 account.
	branchReceive uint32 = 0

	// branchChange is the internal branch of the BIP84 account.
	branchChange uint32 = 1
)

// descriptor derives the native segwit keys of one branch of the BIP84
// account, m/84'/coin'/0'/branch/index.
type descriptor struct {
	branch      uint32
	fingerprint [4]byte
	account     *hdkeychain.ExtendedKey
	branchKey   *hdkeychain.ExtendedKey
	params      *chaincfg.Params
}

func newDescriptor(rootKey *hdkeychain.ExtendedKey, branch uint32,
	params *chaincfg.Params) (*descriptor, error) {

	scope := waddrmgr.KeyScopeBIP0084
	account, err := keys.DeriveChildren(rootKey, []uint32{
		keys.HardenedKeyStart + scope.Purpose,
		keys.HardenedKeyStart + params.HDCoinType,
		keys.HardenedKeyStart + 0,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to derive account key: %w", err)
	}

	branchKey, err := keys.DeriveChildren(account, []uint32{branch})
	if err != nil {
		return nil, fmt.Errorf("unable to derive branch key: %w", err)
	}

	rootPubKey, err := rootKey.ECPubKey()
	if err != nil {
		return nil, err
	}
	d := &descriptor{
		branch:    branch,
		account:   account,
		branchKey: branchKey,
		params:    params,
	}
	copy(d.fingerprint[:], btcutil.Hash160(
		rootPubKey.SerializeCompressed(),
	))

	return d, nil
}

// derive returns the private key and the P2WKH output script at index.
func (d *descriptor) derive(index uint32) (*btcec.PrivateKey, []byte,
	error) {

	child, err := keys.DeriveChildren(d.branchKey, []uint32{index})
	if err != nil {
		return nil, nil, fmt.Errorf("unable to derive index %d: %w",
			index, err)
	}

	privKey, err := child.ECPrivKey()
	if err != nil {
		return nil, nil, err
	}

	script, err := keys.P2WKHScript(privKey.PubKey(), d.params)
	if err != nil {
		return nil, nil, err
	}

	return privKey, script, nil
}

// address returns the address at index.
func (d *descriptor) address(index uint32) (btcutil.Address, error) {
	_, script, err := d.derive(index)
	if err != nil {
		return nil, err
	}

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, d.params)
	if err != nil {
		return nil, err
	}
	if len(addrs) != 1 {
		return nil, fmt.Errorf("unexpected script %x", script)
	}

	return addrs[0], nil
}

// String returns the public output descriptor of the branch, including key
// origin and checksum, e.g. wpkh([fp/84h/1h/0h]tpub.../0/*)#checksum.
func (d *descriptor) String() (string, error) {
	accountPub, err := d.account.Neuter()
	if err != nil {
		return "", err
	}

	desc := fmt.Sprintf("wpkh([%s/%dh/%dh/0h]%s/%d/*)",
		hex.EncodeToString(d.fingerprint[:]),
		waddrmgr.KeyScopeBIP0084.Purpose, d.params.HDCoinType,
		accountPub.String(), d.branch)

	return addDescriptorChecksum(desc)
}
