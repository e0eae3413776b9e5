package keystore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"go.decentralis.dev/core/internal/derrors"
	"go.decentralis.dev/core/internal/filecrypt"
)

func TestGenerateAndVerifyPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")

	key, err := GenerateRetention(path, "alpha", minIterations, filecrypt.AES256GCM)
	require.NoError(t, err)
	require.Len(t, key, filecrypt.KeySize)

	hexKey, err := VerifyPassphrase(path, "alpha")
	require.NoError(t, err)
	require.Len(t, hexKey, 64)
}

func TestWrongPassphraseFailsAndLeavesFileUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	_, err := GenerateRetention(path, "alpha", minIterations, filecrypt.ChaCha20Poly1305)
	require.NoError(t, err)

	before, err := load(path)
	require.NoError(t, err)

	_, err = VerifyPassphrase(path, "beta")
	require.ErrorIs(t, err, derrors.ErrWrongPassphrase)

	after, err := load(path)
	require.NoError(t, err)
	require.Equal(t, before, after)

	hexKey, err := VerifyPassphrase(path, "alpha")
	require.NoError(t, err)
	require.Len(t, hexKey, 64)
}

func TestIterationsBelowMinimumRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	_, err := GenerateRetention(path, "alpha", 10, filecrypt.AES256GCM)
	require.ErrorIs(t, err, derrors.ErrConfiguration)
}

func TestGeneratePassphraseProducesWords(t *testing.T) {
	phrase, err := GeneratePassphrase()
	require.NoError(t, err)
	require.NotEmpty(t, phrase)
}
