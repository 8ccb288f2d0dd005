package keys

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEncryptionKey = "unit-test-encryption-key"

func TestNewKeyringRejectsShortKey(t *testing.T) {
	_, err := NewKeyring("short", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 16 bytes")
}

func TestNewWallet(t *testing.T) {
	kr, err := NewKeyring(testEncryptionKey, false)
	require.NoError(t, err)

	material, err := kr.NewWallet()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(material.Address, "addr_test1"),
		"testnet enterprise address, got %s", material.Address)
	assert.Len(t, strings.Fields(material.Mnemonic), 24)
	assert.NotContains(t, material.EncryptedRootKey, material.Mnemonic)

	// The stored root key must round-trip into a working signer.
	signer, err := kr.WalletSigner(material.EncryptedRootKey)
	require.NoError(t, err)

	sig, err := signer.Sign([]byte("payload"))
	require.NoError(t, err)
	assert.Len(t, sig, 64)
	assert.Len(t, signer.PublicKey(), 32)
	assert.Len(t, signer.VerificationKeyHash(), 28)
}

func TestNewWalletMainnetAddress(t *testing.T) {
	kr, err := NewKeyring(testEncryptionKey, true)
	require.NoError(t, err)

	material, err := kr.NewWallet()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(material.Address, "addr1"),
		"mainnet enterprise address, got %s", material.Address)
}

func TestWalletSignerWrongEncryptionKey(t *testing.T) {
	kr, err := NewKeyring(testEncryptionKey, false)
	require.NoError(t, err)
	material, err := kr.NewWallet()
	require.NoError(t, err)

	other, err := NewKeyring("a-different-key-entirely", false)
	require.NoError(t, err)
	_, err = other.WalletSigner(material.EncryptedRootKey)
	assert.Error(t, err)
}

func TestWalletSignerGarbageMaterial(t *testing.T) {
	kr, err := NewKeyring(testEncryptionKey, false)
	require.NoError(t, err)

	_, err = kr.WalletSigner("not base64 at all!!!")
	assert.Error(t, err)
}

func TestNewPolicy(t *testing.T) {
	kr, err := NewKeyring(testEncryptionKey, false)
	require.NoError(t, err)

	material, err := kr.NewPolicy(nil)
	require.NoError(t, err)

	assert.Len(t, material.PolicyID, 56)
	_, err = hex.DecodeString(material.PolicyID)
	assert.NoError(t, err, "policy id must be hex")
	assert.Len(t, material.KeyHash, 28)
	assert.Nil(t, material.LockingSlot)

	// The stored policy key must reproduce the same key hash the script
	// was built from.
	signer, err := kr.PolicySigner(material.EncryptedKey)
	require.NoError(t, err)
	assert.Equal(t, material.KeyHash, signer.VerificationKeyHash())

	sig, err := signer.Sign([]byte("mint"))
	require.NoError(t, err)
	assert.Len(t, sig, 64)
}

func TestNewPolicyLockingSlotChangesID(t *testing.T) {
	kr, err := NewKeyring(testEncryptionKey, false)
	require.NoError(t, err)

	slot := uint64(123_456_789)
	locked, err := kr.NewPolicy(&slot)
	require.NoError(t, err)
	require.NotNil(t, locked.LockingSlot)
	assert.Equal(t, slot, *locked.LockingSlot)
	assert.Len(t, locked.PolicyID, 56)

	open, err := kr.NewPolicy(nil)
	require.NoError(t, err)
	assert.NotEqual(t, locked.PolicyID, open.PolicyID)
}

func TestPoliciesAreDistinct(t *testing.T) {
	kr, err := NewKeyring(testEncryptionKey, false)
	require.NoError(t, err)

	first, err := kr.NewPolicy(nil)
	require.NoError(t, err)
	second, err := kr.NewPolicy(nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.PolicyID, second.PolicyID)
	assert.NotEqual(t, first.KeyHash, second.KeyHash)
}
