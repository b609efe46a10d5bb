// Package sealing encrypts evidence bundles before they leave the
// service. The key is derived from the wallet address with a fixed salt
// and iteration count, so the same wallet always derives the same key.
// Known weakness, kept on purpose: the wallet address is public, so the
// derived key offers no confidentiality against anyone who knows the
// address. Changing the derivation would break the retrievability
// contract of already published bundles.
package sealing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySalt       = "im-human-seal-salt"
	keyIterations = 100000
	keyLength     = 32
	nonceLength   = 12

	// defaultKeyInput is used when no wallet address is supplied.
	defaultKeyInput = "default-seal-key"
)

// DeriveKey derives the AES-256 key for a wallet address.
func DeriveKey(walletAddress string) []byte {
	input := walletAddress
	if input == "" {
		input = defaultKeyInput
	}
	return pbkdf2.Key([]byte(input), []byte(keySalt), keyIterations, keyLength, sha256.New)
}

// Encrypt serializes the bundle to JSON and seals it under the wallet's
// derived key. Output layout: nonce || ciphertext+tag.
func Encrypt(bundle any, walletAddress string) ([]byte, error) {
	plaintext, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize bundle: %w", err)
	}

	aead, err := newAEAD(walletAddress)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt is the mirror of Encrypt: the first 12 bytes are the nonce,
// the rest is ciphertext+tag. A wrong wallet address fails on the
// authentication tag, it never yields garbage.
func Decrypt(data []byte, walletAddress string) ([]byte, error) {
	if len(data) <= nonceLength {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(data))
	}

	aead, err := newAEAD(walletAddress)
	if err != nil {
		return nil, err
	}

	nonce, ciphertext := data[:nonceLength], data[nonceLength:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt data: %w", err)
	}
	return plaintext, nil
}

// DecryptInto decrypts and unmarshals the bundle in one step.
func DecryptInto(data []byte, walletAddress string, out any) error {
	plaintext, err := Decrypt(data, walletAddress)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("failed to parse decrypted bundle: %w", err)
	}
	return nil
}

func newAEAD(walletAddress string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(DeriveKey(walletAddress))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}
