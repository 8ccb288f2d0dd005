package keys

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Encryption constants.
const (
	saltSize = 32
	// Encrypted format: [salt(32)][memory(4)][iterations(4)][parallelism(1)][nonce(24)][ciphertext...]
	headerSize = saltSize + 4 + 4 + 1
)

// encryptionParams holds Argon2id parameters. They are stored in the header
// so stored material survives parameter changes.
type encryptionParams struct {
	memory      uint32 // in KiB
	iterations  uint32
	parallelism uint8
}

func defaultParams() encryptionParams {
	return encryptionParams{
		memory:      64 * 1024, // 64 MB
		iterations:  3,
		parallelism: 4,
	}
}

func deriveKey(password, salt []byte, params encryptionParams) []byte {
	return argon2.IDKey(
		password,
		salt,
		params.iterations,
		params.memory,
		params.parallelism,
		chacha20poly1305.KeySize,
	)
}

// encrypt seals data with the password using Argon2id + XChaCha20-Poly1305.
//
// Output format: salt(32) | memory(4) | iterations(4) | parallelism(1) | nonce(24) | ciphertext
func encrypt(data, password []byte, params encryptionParams) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(password, salt, params)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, data, nil)

	out := make([]byte, 0, headerSize+len(nonce)+len(ciphertext))
	out = append(out, salt...)
	out = binary.LittleEndian.AppendUint32(out, params.memory)
	out = binary.LittleEndian.AppendUint32(out, params.iterations)
	out = append(out, params.parallelism)
	out = append(out, nonce...)
	out = append(out, ciphertext...)

	for i := range key {
		key[i] = 0
	}

	return out, nil
}

// decrypt opens data produced by encrypt with the given password.
func decrypt(encrypted, password []byte) ([]byte, error) {
	nonceSize := chacha20poly1305.NonceSizeX
	minSize := headerSize + nonceSize + chacha20poly1305.Overhead
	if len(encrypted) < minSize {
		return nil, fmt.Errorf("encrypted data too short: %d bytes, need at least %d", len(encrypted), minSize)
	}

	salt := encrypted[:saltSize]
	params := encryptionParams{
		memory:      binary.LittleEndian.Uint32(encrypted[saltSize:]),
		iterations:  binary.LittleEndian.Uint32(encrypted[saltSize+4:]),
		parallelism: encrypted[saltSize+8],
	}

	nonce := encrypted[headerSize : headerSize+nonceSize]
	ciphertext := encrypted[headerSize+nonceSize:]

	key := deriveKey(password, salt, params)
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
