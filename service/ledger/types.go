package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Unit identifies a fungible unit on the ledger. The native coin uses the
// Lovelace sentinel; every other unit is the hex concatenation of a minting
// policy id (56 hex chars) and an asset name.
type Unit string

// Lovelace is the unit of the ledger's native coin.
const Lovelace Unit = "lovelace"

// PolicyIDHexLen is the length of a hex-encoded minting policy id.
const PolicyIDHexLen = 56

// IsCoin reports whether the unit is the native coin.
func (u Unit) IsCoin() bool {
	return u == Lovelace
}

// Split returns the policy id and asset name components of an asset unit.
// It returns an error for the native coin or for malformed units.
func (u Unit) Split() (policyID, assetName string, err error) {
	if u.IsCoin() {
		return "", "", fmt.Errorf("unit %q is the native coin, not an asset", u)
	}
	if len(u) < PolicyIDHexLen {
		return "", "", fmt.Errorf("malformed asset unit %q", u)
	}
	return string(u[:PolicyIDHexLen]), string(u[PolicyIDHexLen:]), nil
}

// AssetUnit builds the unit string for a policy id and hex asset name.
func AssetUnit(policyID, assetNameHex string) Unit {
	return Unit(policyID + assetNameHex)
}

// Value is a bundle of quantities keyed by unit. A missing key means zero.
type Value map[Unit]uint64

// NewValue returns a Value holding only coin.
func NewValue(coin uint64) Value {
	v := Value{}
	if coin > 0 {
		v[Lovelace] = coin
	}
	return v
}

// Coin returns the native coin quantity of the value.
func (v Value) Coin() uint64 {
	return v[Lovelace]
}

// Get returns the quantity for a unit (zero if absent).
func (v Value) Get(u Unit) uint64 {
	return v[u]
}

// Add increases the quantity for a unit in place.
func (v Value) Add(u Unit, qty uint64) {
	if qty == 0 {
		return
	}
	v[u] += qty
}

// Clone returns a deep copy of the value.
func (v Value) Clone() Value {
	out := make(Value, len(v))
	for u, q := range v {
		out[u] = q
	}
	return out
}

// HasAssets reports whether the value carries any non-coin unit.
func (v Value) HasAssets() bool {
	for u, q := range v {
		if !u.IsCoin() && q > 0 {
			return true
		}
	}
	return false
}

// Units returns the units present in the value in stable order.
func (v Value) Units() []Unit {
	units := make([]Unit, 0, len(v))
	for u := range v {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i] < units[j] })
	return units
}

// UnspentOutput is a spendable output sitting at an address. It is the unit
// of coin selection: consumed whole or not at all.
type UnspentOutput struct {
	TxHash string `json:"tx_hash"`
	Index  uint32 `json:"index"`
	Value  Value  `json:"value"`
}

// Ref returns the canonical "txhash#index" identifier of the output.
func (u UnspentOutput) Ref() string {
	return fmt.Sprintf("%s#%d", u.TxHash, u.Index)
}

// Output is a requested transaction output: a destination, a value bundle
// and an optional inline datum payload.
type Output struct {
	Address string          `json:"address"`
	Value   Value           `json:"value"`
	Datum   json.RawMessage `json:"datum,omitempty"`
}

// Mint declares a quantity of an asset to be minted (positive) or burned
// (negative) under a policy.
type Mint struct {
	PolicyID  string `json:"policy_id"`
	AssetName string `json:"asset_name"`
	Quantity  int64  `json:"quantity"`
}

// Unit returns the ledger unit the mint declaration produces. The asset name
// is carried as given by the caller; hex encoding happens at the codec
// boundary.
func (m Mint) Unit() Unit {
	return AssetUnit(m.PolicyID, fmt.Sprintf("%x", []byte(m.AssetName)))
}

// Policy describes a native minting script: a required key hash plus an
// optional invalid-hereafter slot. The policy id is the script hash and is
// immutable once computed.
type Policy struct {
	ID          string
	KeyHash     []byte
	LockingSlot *uint64
}

// Signer is a signing capability handed out by the key-management
// collaborator. Implementations never expose raw key material.
type Signer interface {
	// Sign produces a signature over the message.
	Sign(message []byte) ([]byte, error)
	// PublicKey returns the verification key bytes.
	PublicKey() []byte
	// VerificationKeyHash returns the blake2b-224 hash of the
	// verification key.
	VerificationKeyHash() []byte
}
