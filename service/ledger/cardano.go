package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"

	"github.com/echovl/cardano-go"
	"github.com/echovl/cardano-go/crypto"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"
)

// signatureSize is the byte length of an ed25519 signature. Placeholder
// witnesses are zero-filled to this length so the draft serializes to the
// same size as the signed transaction.
const signatureSize = 64

// CardanoCodec implements Codec on top of the cardano-go transaction types.
type CardanoCodec struct{}

// NewCardanoCodec returns the production codec.
func NewCardanoCodec() *CardanoCodec {
	return &CardanoCodec{}
}

// Assemble builds, optionally signs, and serializes a transaction from the
// structured request. With Placeholder set, every witness carries a
// zero-filled signature of the correct length.
func (c *CardanoCodec) Assemble(_ context.Context, req BuildRequest) (*BuiltTx, error) {
	inputs, err := buildInputs(req.Inputs)
	if err != nil {
		return nil, err
	}
	outputs, err := buildOutputs(req.Outputs)
	if err != nil {
		return nil, err
	}

	body := cardano.TxBody{
		Inputs:  inputs,
		Outputs: outputs,
		Fee:     cardano.Coin(req.Fee),
	}
	if req.TTL > 0 {
		body.TTL = cardano.NewUint64(req.TTL)
	}

	scripts, err := buildMint(&body, req.Mints, req.Policies)
	if err != nil {
		return nil, err
	}

	var aux *cardano.AuxiliaryData
	if len(req.Metadata) > 0 {
		aux, err = buildAuxiliaryData(&body, req.Metadata)
		if err != nil {
			return nil, err
		}
	}

	witnesses, err := buildWitnesses(&body, req.Signers, req.Placeholder)
	if err != nil {
		return nil, err
	}

	tx := cardano.Tx{
		Body: body,
		WitnessSet: cardano.WitnessSet{
			VKeyWitnessSet: witnesses,
			NativeScripts:  scripts,
		},
		IsValid:       true,
		AuxiliaryData: aux,
	}

	raw, err := tx.Bytes()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash transaction: %w", err)
	}
	return &BuiltTx{Bytes: raw, Hash: hash.String()}, nil
}

func buildInputs(ins []UnspentOutput) ([]*cardano.TxInput, error) {
	out := make([]*cardano.TxInput, 0, len(ins))
	for _, in := range ins {
		hash, err := cardano.NewHash32(in.TxHash)
		if err != nil {
			return nil, fmt.Errorf("parse input tx hash %s: %w", in.TxHash, err)
		}
		amount, err := toCardanoValue(in.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, cardano.NewTxInput(hash, uint(in.Index), amount))
	}
	return out, nil
}

func buildOutputs(outs []Output) ([]*cardano.TxOutput, error) {
	result := make([]*cardano.TxOutput, 0, len(outs))
	for _, o := range outs {
		addr, err := cardano.NewAddress(o.Address)
		if err != nil {
			return nil, fmt.Errorf("parse output address %s: %w", o.Address, err)
		}
		amount, err := toCardanoValue(o.Value)
		if err != nil {
			return nil, err
		}
		txOut := cardano.NewTxOutput(addr, amount)
		if len(o.Datum) > 0 {
			// The payload itself is opaque to the chain; the output
			// commits to it by hash.
			dh := blake2b.Sum256(o.Datum)
			hash, err := cardano.NewHash32(hex.EncodeToString(dh[:]))
			if err != nil {
				return nil, fmt.Errorf("build datum hash: %w", err)
			}
			txOut.DatumHash = &hash
		}
		result = append(result, txOut)
	}
	return result, nil
}

// buildMint attaches mint declarations grouped by policy to the body and
// returns the native scripts that must witness them.
func buildMint(body *cardano.TxBody, mints []Mint, policies map[string]Policy) ([]cardano.NativeScript, error) {
	if len(mints) == 0 {
		return nil, nil
	}

	byPolicy := map[string][]Mint{}
	for _, m := range mints {
		byPolicy[m.PolicyID] = append(byPolicy[m.PolicyID], m)
	}
	policyIDs := make([]string, 0, len(byPolicy))
	for id := range byPolicy {
		policyIDs = append(policyIDs, id)
	}
	sort.Strings(policyIDs)

	mint := cardano.NewMint()
	scripts := make([]cardano.NativeScript, 0, len(policyIDs))
	for _, id := range policyIDs {
		policy, ok := policies[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, id)
		}
		script, err := NativeScriptForPolicy(policy)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, script)

		hash, err := cardano.NewHash28(id)
		if err != nil {
			return nil, fmt.Errorf("parse policy id %s: %w", id, err)
		}
		assets := cardano.NewMintAssets()
		for _, m := range byPolicy[id] {
			assets.Set(cardano.NewAssetName(m.AssetName), big.NewInt(m.Quantity))
		}
		mint.Set(cardano.NewPolicyIDFromHash(hash), assets)
	}
	body.Mint = mint
	return scripts, nil
}

// NativeScriptForPolicy reconstructs a policy's native minting script from
// its key hash and optional time lock. The script hash must reproduce the
// stored policy id; callers verify that at policy creation time.
func NativeScriptForPolicy(policy Policy) (cardano.NativeScript, error) {
	if len(policy.KeyHash) == 0 {
		return cardano.NativeScript{}, fmt.Errorf("policy %s has no key hash", policy.ID)
	}
	keyHash, err := cardano.NewHash28(hex.EncodeToString(policy.KeyHash))
	if err != nil {
		return cardano.NativeScript{}, fmt.Errorf("parse policy key hash: %w", err)
	}
	scripts := []cardano.NativeScript{
		{Type: cardano.ScriptPubKey, KeyHash: keyHash},
	}
	if policy.LockingSlot != nil {
		scripts = append(scripts, cardano.NativeScript{
			Type:          cardano.ScriptInvalidAfter,
			IntervalValue: cardano.NewUint64(*policy.LockingSlot),
		})
	}
	return cardano.NativeScript{Type: cardano.ScriptAll, Scripts: scripts}, nil
}

func buildAuxiliaryData(body *cardano.TxBody, metadata map[uint64]any) (*cardano.AuxiliaryData, error) {
	md := cardano.Metadata{}
	for label, value := range metadata {
		md[uint(label)] = value
	}
	aux := &cardano.AuxiliaryData{Metadata: md}

	raw, err := cbor.Marshal(aux)
	if err != nil {
		return nil, fmt.Errorf("serialize auxiliary data: %w", err)
	}
	sum := blake2b.Sum256(raw)
	hash, err := cardano.NewHash32(hex.EncodeToString(sum[:]))
	if err != nil {
		return nil, fmt.Errorf("build auxiliary data hash: %w", err)
	}
	body.AuxiliaryDataHash = &hash
	return aux, nil
}

func buildWitnesses(body *cardano.TxBody, signers []Signer, placeholder bool) ([]cardano.VKeyWitness, error) {
	if len(signers) == 0 {
		return nil, fmt.Errorf("transaction requires at least one signer")
	}
	witnesses := make([]cardano.VKeyWitness, 0, len(signers))
	if placeholder {
		for _, s := range signers {
			witnesses = append(witnesses, cardano.VKeyWitness{
				VKey:      crypto.PubKey(s.PublicKey()),
				Signature: make([]byte, signatureSize),
			})
		}
		return witnesses, nil
	}

	bodyHash, err := body.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash transaction body: %w", err)
	}
	for _, s := range signers {
		sig, err := s.Sign(bodyHash[:])
		if err != nil {
			return nil, fmt.Errorf("sign transaction: %w", err)
		}
		if len(sig) != signatureSize {
			return nil, fmt.Errorf("signer produced %d-byte signature, want %d", len(sig), signatureSize)
		}
		witnesses = append(witnesses, cardano.VKeyWitness{
			VKey:      crypto.PubKey(s.PublicKey()),
			Signature: sig,
		})
	}
	return witnesses, nil
}

func toCardanoValue(v Value) (*cardano.Value, error) {
	coin := cardano.Coin(v.Coin())
	if !v.HasAssets() {
		return cardano.NewValue(coin), nil
	}

	byPolicy := map[string]*cardano.Assets{}
	for _, unit := range v.Units() {
		if unit.IsCoin() {
			continue
		}
		policyID, assetNameHex, err := unit.Split()
		if err != nil {
			return nil, err
		}
		name, err := hex.DecodeString(assetNameHex)
		if err != nil {
			return nil, fmt.Errorf("decode asset name %q: %w", assetNameHex, err)
		}
		assets, ok := byPolicy[policyID]
		if !ok {
			assets = cardano.NewAssets()
			byPolicy[policyID] = assets
		}
		assets.Set(cardano.NewAssetName(string(name)), cardano.BigNum(v[unit]))
	}

	multi := cardano.NewMultiAsset()
	policyIDs := make([]string, 0, len(byPolicy))
	for id := range byPolicy {
		policyIDs = append(policyIDs, id)
	}
	sort.Strings(policyIDs)
	for _, id := range policyIDs {
		hash, err := cardano.NewHash28(id)
		if err != nil {
			return nil, fmt.Errorf("parse policy id %s: %w", id, err)
		}
		multi.Set(cardano.NewPolicyIDFromHash(hash), byPolicy[id])
	}
	return cardano.NewValueWithAssets(coin, multi), nil
}
