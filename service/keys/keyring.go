// Package keys is the key-management collaborator: it generates, encrypts
// and decrypts signing material and hands out opaque signing capabilities.
// Cleartext key material never leaves this package.
package keys

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/echovl/cardano-go"
	"github.com/echovl/cardano-go/crypto"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/blake2b"

	"github.com/heronlabs/heron/service/ledger"
)

// hardened is the BIP-32 hardened derivation offset.
const hardened = 0x80000000

// CIP-1852 purpose/coin-type constants for the payment key path
// m/1852'/1815'/0'/0/0.
const (
	purposeShelley = 1852
	coinTypeADA    = 1815
)

// Keyring encrypts signing material at rest and derives signing
// capabilities for wallets and minting policies.
type Keyring struct {
	password []byte
	network  cardano.Network
}

// NewKeyring builds a keyring from the service's encryption key. The key
// protects every stored root key and policy key; losing it strands all
// custodial funds, so startup fails loudly on an empty value.
func NewKeyring(encryptionKey string, mainnet bool) (*Keyring, error) {
	if len(encryptionKey) < 16 {
		return nil, fmt.Errorf("wallet encryption key must be at least 16 bytes")
	}
	network := cardano.Testnet
	if mainnet {
		network = cardano.Mainnet
	}
	return &Keyring{password: []byte(encryptionKey), network: network}, nil
}

// WalletMaterial is the result of onboarding a new wallet: the bech32
// payment address and the encrypted root key to persist. The mnemonic is
// returned exactly once for operator backup and is never stored.
type WalletMaterial struct {
	Mnemonic         string
	Address          string
	EncryptedRootKey string
}

// NewWallet generates a fresh mnemonic, derives the payment address on the
// CIP-1852 path, and encrypts the mnemonic for storage.
func (k *Keyring) NewWallet() (*WalletMaterial, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("generate mnemonic: %w", err)
	}

	prv, err := paymentKeyFromMnemonic(mnemonic)
	if err != nil {
		return nil, err
	}
	addr, err := k.enterpriseAddress(prv)
	if err != nil {
		return nil, err
	}

	sealed, err := encrypt([]byte(mnemonic), k.password, defaultParams())
	if err != nil {
		return nil, fmt.Errorf("encrypt root key: %w", err)
	}

	return &WalletMaterial{
		Mnemonic:         mnemonic,
		Address:          addr,
		EncryptedRootKey: base64.StdEncoding.EncodeToString(sealed),
	}, nil
}

// WalletSigner returns the signing capability for a wallet's payment key.
func (k *Keyring) WalletSigner(encryptedRootKey string) (ledger.Signer, error) {
	mnemonic, err := k.open(encryptedRootKey)
	if err != nil {
		return nil, fmt.Errorf("open wallet root key: %w", err)
	}
	prv, err := paymentKeyFromMnemonic(string(mnemonic))
	if err != nil {
		return nil, err
	}
	return &xprvSigner{prv: prv}, nil
}

// PolicyMaterial is the result of creating a minting policy: the policy id
// (the script hash), the verification key hash the script commits to, and
// the encrypted policy key.
type PolicyMaterial struct {
	PolicyID     string
	KeyHash      []byte
	EncryptedKey string
	LockingSlot  *uint64
}

// NewPolicy generates a policy signing key and computes the policy id from
// the native script (pubkey requirement plus optional invalid-hereafter
// lock). The policy id is a deterministic hash of the script and never
// changes afterwards.
func (k *Keyring) NewPolicy(lockingSlot *uint64) (*PolicyMaterial, error) {
	entropy := make([]byte, 32)
	if _, err := rand.Read(entropy); err != nil {
		return nil, fmt.Errorf("generate policy entropy: %w", err)
	}
	prv := crypto.NewXPrvKeyFromEntropy(entropy, "")

	keyHash, err := verificationKeyHash(prv)
	if err != nil {
		return nil, err
	}
	script, err := ledger.NativeScriptForPolicy(ledger.Policy{
		ID:          "pending",
		KeyHash:     keyHash,
		LockingSlot: lockingSlot,
	})
	if err != nil {
		return nil, err
	}
	scriptHash, err := script.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash policy script: %w", err)
	}

	sealed, err := encrypt(entropy, k.password, defaultParams())
	if err != nil {
		return nil, fmt.Errorf("encrypt policy key: %w", err)
	}

	return &PolicyMaterial{
		PolicyID:     scriptHash.String(),
		KeyHash:      keyHash,
		EncryptedKey: base64.StdEncoding.EncodeToString(sealed),
		LockingSlot:  lockingSlot,
	}, nil
}

// PolicySigner returns the signing capability for a minting policy's key.
func (k *Keyring) PolicySigner(encryptedKey string) (ledger.Signer, error) {
	entropy, err := k.open(encryptedKey)
	if err != nil {
		return nil, fmt.Errorf("open policy key: %w", err)
	}
	return &xprvSigner{prv: crypto.NewXPrvKeyFromEntropy(entropy, "")}, nil
}

func (k *Keyring) open(sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("decode sealed material: %w", err)
	}
	return decrypt(raw, k.password)
}

func (k *Keyring) enterpriseAddress(prv crypto.XPrvKey) (string, error) {
	payment, err := cardano.NewKeyCredential(prv.PubKey())
	if err != nil {
		return "", fmt.Errorf("build payment credential: %w", err)
	}
	addr, err := cardano.NewEnterpriseAddress(k.network, payment)
	if err != nil {
		return "", fmt.Errorf("build enterprise address: %w", err)
	}
	return addr.Bech32(), nil
}

// paymentKeyFromMnemonic derives the payment key on m/1852'/1815'/0'/0/0.
func paymentKeyFromMnemonic(mnemonic string) (crypto.XPrvKey, error) {
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("recover entropy from mnemonic: %w", err)
	}
	root := crypto.NewXPrvKeyFromEntropy(entropy, "")
	return root.
		Derive(hardened + purposeShelley).
		Derive(hardened + coinTypeADA).
		Derive(hardened).
		Derive(0).
		Derive(0), nil
}

func verificationKeyHash(prv crypto.XPrvKey) ([]byte, error) {
	hasher, err := blake2b.New(28, nil)
	if err != nil {
		return nil, fmt.Errorf("create blake2b hasher: %w", err)
	}
	hasher.Write(prv.PubKey())
	return hasher.Sum(nil), nil
}

// xprvSigner wraps an extended private key as an opaque signing capability.
type xprvSigner struct {
	prv crypto.XPrvKey
}

func (s *xprvSigner) Sign(message []byte) ([]byte, error) {
	return s.prv.Sign(message), nil
}

func (s *xprvSigner) PublicKey() []byte {
	return s.prv.PubKey()
}

func (s *xprvSigner) VerificationKeyHash() []byte {
	hash, err := verificationKeyHash(s.prv)
	if err != nil {
		return nil
	}
	return hash
}
