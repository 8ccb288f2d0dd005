package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	policyHex = "d6cfdbedd242056674c0e51ead01785497e3a48afbbb146dc72ee1e2"
	tokenUnit = Unit(policyHex + "746f6b656e")
)

func TestUnitSplit(t *testing.T) {
	policy, name, err := tokenUnit.Split()
	require.NoError(t, err)
	assert.Equal(t, policyHex, policy)
	assert.Equal(t, "746f6b656e", name)

	// The nameless unit of a policy is valid (empty asset name).
	policy, name, err = Unit(policyHex).Split()
	require.NoError(t, err)
	assert.Equal(t, policyHex, policy)
	assert.Empty(t, name)

	_, _, err = Lovelace.Split()
	assert.Error(t, err)

	_, _, err = Unit("tooshort").Split()
	assert.Error(t, err)
}

func TestValueAccounting(t *testing.T) {
	v := NewValue(5_000_000)
	assert.Equal(t, uint64(5_000_000), v.Coin())
	assert.False(t, v.HasAssets())

	v.Add(tokenUnit, 3)
	v.Add(tokenUnit, 2)
	assert.Equal(t, uint64(5), v.Get(tokenUnit))
	assert.True(t, v.HasAssets())

	clone := v.Clone()
	clone.Add(Lovelace, 1)
	assert.Equal(t, uint64(5_000_000), v.Coin(), "clone must not alias the original")
}

func TestValueUnitsSorted(t *testing.T) {
	v := NewValue(1)
	v.Add(tokenUnit, 1)
	v.Add(AssetUnit(policyHex, "61"), 1)

	units := v.Units()
	require.Len(t, units, 3)
	for i := 1; i < len(units); i++ {
		assert.Less(t, string(units[i-1]), string(units[i]))
	}
}

func TestUnspentOutputRef(t *testing.T) {
	out := UnspentOutput{TxHash: "abc123", Index: 7}
	assert.Equal(t, "abc123#7", out.Ref())
}

func TestMintUnit(t *testing.T) {
	m := Mint{PolicyID: policyHex, AssetName: "token", Quantity: 2}
	assert.Equal(t, tokenUnit, m.Unit())
}
