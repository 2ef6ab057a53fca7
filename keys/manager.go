package keys

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/keychain"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

const (
	// sweepDustLimit is the smallest output value we are willing to create
	// when sweeping.
	sweepDustLimit = 600
)

var (
	// ErrDustOutput is returned if the swept value doesn't cover the fee
	// with enough left over to create a non-dust output.
	ErrDustOutput = errors.New("sweep output would be dust")

	// ErrUnknownDescriptor is returned for descriptor kinds we can't sign.
	ErrUnknownDescriptor = errors.New("unknown output descriptor")

	// ErrKeyMismatch is returned if the key derived for a descriptor does
	// not match the script of the output it describes.
	ErrKeyMismatch = errors.New("derived key does not match output script")

	// ErrNoOutputs is returned if SpendOutputs is called without any
	// descriptors.
	ErrNoOutputs = errors.New("no outputs to spend")
)

// Manager is the signing subsystem. It holds the root key of the node and
// signs spends of outputs the protocol engine reports as spendable.
type Manager struct {
	ring *KeyRing
}

// NewManager creates a key manager for the given BIP32 root key.
func NewManager(rootKey *hdkeychain.ExtendedKey,
	params *chaincfg.Params) *Manager {

	return &Manager{
		ring: &KeyRing{
			ExtendedKey: rootKey,
			ChainParams: params,
		},
	}
}

// KeyRing exposes the key ring so the protocol engine can derive its channel
// keys from the same root.
func (m *Manager) KeyRing() *KeyRing {
	return m.ring
}

// signInput is a prepared spend of a single descriptor.
type signInput struct {
	desc     OutputDescriptor
	privKey  *btcec.PrivateKey
	script   []byte
	sequence uint32
	delayed  bool
}

// SpendOutputs builds and signs a single transaction spending all given
// descriptors. The extra outputs are added as-is and whatever is left after
// paying them and the fee goes to destScript.
func (m *Manager) SpendOutputs(descs []OutputDescriptor, extra []*wire.TxOut,
	destScript []byte, feeRate chainfee.SatPerKWeight) (*wire.MsgTx,
	error) {

	if len(descs) == 0 {
		return nil, ErrNoOutputs
	}

	var (
		estimator  input.TxWeightEstimator
		inputs     = make([]*signInput, 0, len(descs))
		prevOuts   = make(map[wire.OutPoint]*wire.TxOut, len(descs))
		totalInput btcutil.Amount
	)
	for _, desc := range descs {
		in, err := m.prepareInput(desc)
		if err != nil {
			return nil, err
		}

		if in.delayed {
			estimator.AddWitnessInput(
				input.ToLocalTimeoutWitnessSize,
			)
		} else {
			estimator.AddP2WKHInput()
		}

		inputs = append(inputs, in)
		prevOuts[desc.Outpoint()] = desc.TxOut()
		totalInput += btcutil.Amount(desc.TxOut().Value)
	}

	sweepTx := wire.NewMsgTx(2)
	for _, in := range inputs {
		sweepTx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: in.desc.Outpoint(),
			Sequence:         in.sequence,
		})
	}

	var extraValue btcutil.Amount
	for _, txOut := range extra {
		estimator.AddTxOutput(txOut)
		sweepTx.AddTxOut(txOut)
		extraValue += btcutil.Amount(txOut.Value)
	}
	estimator.AddOutput(destScript)

	totalFee := feeRate.FeeForWeight(estimator.Weight())
	sweepValue := totalInput - extraValue - totalFee
	if sweepValue < sweepDustLimit {
		return nil, fmt.Errorf("%w: %d sats in, %d extra out, %d fee",
			ErrDustOutput, totalInput, extraValue, totalFee)
	}
	sweepTx.AddTxOut(wire.NewTxOut(int64(sweepValue), destScript))

	log.Debugf("Sweeping %d outputs worth %v, fee %v (estimated weight "+
		"%d)", len(inputs), totalInput, totalFee, estimator.Weight())

	prevOutFetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(sweepTx, prevOutFetcher)
	for idx, in := range inputs {
		witness, err := in.witness(sweepTx, sigHashes, idx)
		if err != nil {
			return nil, fmt.Errorf("error signing input %v: %w",
				in.desc.Outpoint(), err)
		}
		sweepTx.TxIn[idx].Witness = witness
	}

	return sweepTx, nil
}

func (m *Manager) prepareInput(desc OutputDescriptor) (*signInput, error) {
	switch d := desc.(type) {
	case *StaticOutput:
		return m.prepareP2WKH(d, d.KeyLoc)

	case *StaticPaymentOutput:
		return m.prepareP2WKH(d, d.KeyLoc)

	case *DelayedPaymentOutput:
		basePriv, err := m.ring.PrivKey(d.KeyLoc)
		if err != nil {
			return nil, err
		}

		singleTweak := input.SingleTweakBytes(
			d.PerCommitmentPoint, basePriv.PubKey(),
		)
		delayPriv := input.TweakPrivKey(basePriv, singleTweak)

		script, err := input.CommitScriptToSelf(
			uint32(d.ToSelfDelay), delayPriv.PubKey(),
			d.RevocationPubKey,
		)
		if err != nil {
			return nil, fmt.Errorf("error creating script: %w", err)
		}
		scriptHash, err := input.WitnessScriptHash(script)
		if err != nil {
			return nil, fmt.Errorf("error hashing script: %w", err)
		}
		if !bytes.Equal(scriptHash, d.Output.PkScript) {
			return nil, fmt.Errorf("%w: to_local output %v",
				ErrKeyMismatch, d.OutPoint)
		}

		return &signInput{
			desc:    d,
			privKey: delayPriv,
			script:  script,
			sequence: input.LockTimeToSequence(
				false, uint32(d.ToSelfDelay),
			),
			delayed: true,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownDescriptor, desc)
	}
}

func (m *Manager) prepareP2WKH(desc OutputDescriptor,
	keyLoc keychain.KeyLocator) (*signInput, error) {

	privKey, err := m.ring.PrivKey(keyLoc)
	if err != nil {
		return nil, err
	}

	pkScript, err := P2WKHScript(privKey.PubKey(), m.ring.ChainParams)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(pkScript, desc.TxOut().PkScript) {
		return nil, fmt.Errorf("%w: output %v", ErrKeyMismatch,
			desc.Outpoint())
	}

	return &signInput{
		desc:     desc,
		privKey:  privKey,
		script:   pkScript,
		sequence: wire.MaxTxInSequenceNum,
	}, nil
}

func (in *signInput) witness(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes,
	idx int) (wire.TxWitness, error) {

	value := in.desc.TxOut().Value
	if !in.delayed {
		return txscript.WitnessSignature(
			tx, sigHashes, idx, value, in.script,
			txscript.SigHashAll, in.privKey, true,
		)
	}

	sig, err := txscript.RawTxInWitnessSignature(
		tx, sigHashes, idx, value, in.script, txscript.SigHashAll,
		in.privKey,
	)
	if err != nil {
		return nil, err
	}

	// The empty second element selects the delayed branch of the to_local
	// script.
	return wire.TxWitness{sig, nil, in.script}, nil
}

// P2WKHScript returns the P2WKH output script of the given public key.
func P2WKHScript(pubKey *btcec.PublicKey, params *chaincfg.Params) ([]byte,
	error) {

	hash160 := btcutil.Hash160(pubKey.SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(hash160, params)
	if err != nil {
		return nil, fmt.Errorf("could not create address: %w", err)
	}
	return txscript.PayToAddrScript(addr)
}
