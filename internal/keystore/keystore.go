// Package keystore implements the passphrase-derived key retention
// scheme of spec.md §3/§4.3: a PBKDF2-HMAC-SHA256 key derivation and an
// on-disk retention file that proves a passphrase without ever storing
// it. The atomic write discipline (write to a temp file, fsync,
// rename) is the same one the teacher's internal/renter/renter.go used
// for contracts.json.
package keystore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gitlab.com/NebulousLabs/entropy-mnemonics"
	"golang.org/x/crypto/pbkdf2"
	"lukechampine.com/frand"

	"go.decentralis.dev/core/internal/derrors"
	"go.decentralis.dev/core/internal/filecrypt"
)

const (
	saltSize = 16

	// DefaultIterations is the PBKDF2 iteration count used unless a
	// caller requests more; spec.md §4.3 requires >= 100,000.
	DefaultIterations = 200_000
	minIterations     = 100_000

	verifyPlaintext = "decentralis-verification"
)

// RetentionRecord is the on-disk structure of data/key.json, per
// spec.md §3.
type RetentionRecord struct {
	Version    int                 `json:"version"`
	KDF        string              `json:"kdf"`
	Salt       []byte              `json:"salt"`
	Iterations int                 `json:"iterations"`
	Algorithm  filecrypt.Algorithm `json:"algorithm"`
	Verify     []byte              `json:"verify"`
}

// DeriveKey derives a 32-byte AEAD key from passphrase and salt using
// PBKDF2-HMAC-SHA256, per spec.md §4.3.
func DeriveKey(passphrase string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, filecrypt.KeySize, sha256.New)
}

// GenerateRetention creates a fresh retention file at path: a random
// 16-byte salt, a key derived from passphrase, and an AEAD-encrypted
// verify blob. iterations must be >= 100,000; 0 selects
// DefaultIterations.
func GenerateRetention(path, passphrase string, iterations int, algo filecrypt.Algorithm) ([]byte, error) {
	if iterations == 0 {
		iterations = DefaultIterations
	}
	if iterations < minIterations {
		return nil, fmt.Errorf("%w: pbkdf2 iterations below minimum of 100000", derrors.ErrConfiguration)
	}

	salt := frand.Bytes(saltSize)
	key := DeriveKey(passphrase, salt, iterations)

	verify, err := filecrypt.Encrypt(algo, key, []byte(verifyPlaintext))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", derrors.ErrConfiguration, err)
	}

	record := RetentionRecord{
		Version:    1,
		KDF:        "pbkdf2",
		Salt:       salt,
		Iterations: iterations,
		Algorithm:  algo,
		Verify:     verify,
	}
	if err := save(path, record); err != nil {
		return nil, err
	}
	return key, nil
}

// VerifyPassphrase re-derives the key from the retention file at path
// and attempts to decrypt its verify blob. On success it returns the
// key's hex encoding (64 characters for a 32-byte key); on failure it
// returns derrors.ErrWrongPassphrase. The retention file is never
// modified by this call.
func VerifyPassphrase(path, passphrase string) (string, error) {
	record, err := load(path)
	if err != nil {
		return "", err
	}
	key := DeriveKey(passphrase, record.Salt, record.Iterations)
	if _, err := filecrypt.Decrypt(record.Algorithm, key, record.Verify); err != nil {
		return "", derrors.ErrWrongPassphrase
	}
	return hex.EncodeToString(key), nil
}

// GeneratePassphrase renders 128 bits of frand entropy as a
// human-memorable mnemonic word list, for callers (e.g. the
// `decentralisd init --generate-passphrase` CLI) that want to offer a
// user a ready-made, recoverable passphrase instead of requiring them
// to invent one.
func GeneratePassphrase() (string, error) {
	var entropy [16]byte
	copy(entropy[:], frand.Bytes(16))
	phrase, err := mnemonics.ToPhrase(entropy[:], mnemonics.English)
	if err != nil {
		return "", fmt.Errorf("%w: %v", derrors.ErrConfiguration, err)
	}
	return phrase.String(), nil
}

func save(path string, record RetentionRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("%w: %v", derrors.ErrConfiguration, err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("%w: %v", derrors.ErrConfiguration, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		return fmt.Errorf("%w: %v", derrors.ErrConfiguration, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: %v", derrors.ErrConfiguration, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", derrors.ErrConfiguration, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: %v", derrors.ErrConfiguration, err)
	}
	return nil
}

func load(path string) (RetentionRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return RetentionRecord{}, fmt.Errorf("%w: %v", derrors.ErrConfiguration, err)
	}
	defer f.Close()
	var record RetentionRecord
	if err := json.NewDecoder(f).Decode(&record); err != nil {
		return RetentionRecord{}, fmt.Errorf("%w: %v", derrors.ErrConfiguration, err)
	}
	return record, nil
}
