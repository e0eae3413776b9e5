// Package filecrypt implements the whole-file AEAD cipher of spec.md
// §4.2: AES-256-GCM on the Go standard library (the canonical AEAD
// idiom — no pack dependency reimplements it) and ChaCha20-Poly1305 on
// golang.org/x/crypto/chacha20poly1305, already a direct dependency of
// the teacher repo.
package filecrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"lukechampine.com/frand"

	"go.decentralis.dev/core/internal/derrors"
)

// Algorithm names one of the two supported AEAD constructions.
type Algorithm string

const (
	AES256GCM       Algorithm = "AES-256"
	ChaCha20Poly1305 Algorithm = "ChaCha20"

	KeySize   = 32
	NonceSize = 12
)

func newAEAD(algo Algorithm, key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be 32 bytes", derrors.ErrInvalidKeyOrCipher)
	}
	switch algo {
	case AES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", derrors.ErrInvalidKeyOrCipher, err)
		}
		return cipher.NewGCM(block)
	case ChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm: %s", derrors.ErrInvalidKeyOrCipher, algo)
	}
}

// Encrypt encrypts plaintext under key using algo, returning
// nonce || ciphertext_and_tag per spec.md §4.2. A fresh random nonce
// is generated for every call using lukechampine.com/frand.
func Encrypt(algo Algorithm, key, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(algo, key)
	if err != nil {
		return nil, err
	}
	nonce := frand.Bytes(NonceSize)
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Decrypt splits the first NonceSize bytes of blob as a nonce and
// authenticates/decrypts the remainder. Any authentication failure
// returns derrors.ErrInvalidKeyOrCipher and never yields partial
// plaintext, per spec.md §4.2.
func Decrypt(algo Algorithm, key, blob []byte) ([]byte, error) {
	aead, err := newAEAD(algo, key)
	if err != nil {
		return nil, err
	}
	if len(blob) < NonceSize {
		return nil, fmt.Errorf("%w: ciphertext shorter than nonce", derrors.ErrInvalidKeyOrCipher)
	}
	nonce, ciphertext := blob[:NonceSize], blob[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", derrors.ErrInvalidKeyOrCipher, err)
	}
	return plaintext, nil
}
