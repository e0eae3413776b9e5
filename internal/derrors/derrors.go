// Package derrors defines the sentinel error taxonomy shared by every
// decentralis component (spec.md §7). Call sites wrap a sentinel with
// context using fmt.Errorf("...: %w", ...) and test with errors.Is.
//
// Where more than one independent failure needs to be reported at once
// (the failed remote fetches chunking.Manager.ReconstructFile logs when
// reconstruction falls short) gitlab.com/NebulousLabs/errors.Compose is
// used instead, since stdlib errors has no multi-cause aggregation and
// NebulousLabs/errors is already part of the teacher's own dependency
// graph. A distribute_chunks partial-success report carries its
// failures per chunk index in chunking.DistributionReport.Failures.
package derrors

import "errors"

var (
	// ErrChunkEncoding is returned when the erasure codec cannot encode
	// an input buffer (e.g. k+m exceeds the GF(2^8) limit).
	ErrChunkEncoding = errors.New("chunk encoding failed")
	// ErrChunkDecoding is returned when the erasure codec produces a
	// result that fails its content-hash check.
	ErrChunkDecoding = errors.New("chunk decoding failed")
	// ErrInsufficientChunks is returned when fewer than k usable shards
	// are available and no LRC shortcut applies.
	ErrInsufficientChunks = errors.New("insufficient chunks to reconstruct file")

	// ErrChunkNotFound is returned when a requested chunk does not
	// exist in the local store.
	ErrChunkNotFound = errors.New("chunk not found")
	// ErrChunkValidation is returned when a stored chunk's bytes no
	// longer hash to its recorded sha256.
	ErrChunkValidation = errors.New("chunk failed validation")
	// ErrChunkStorage is returned for on-disk I/O failures in the chunk
	// store.
	ErrChunkStorage = errors.New("chunk storage error")
	// ErrChunkDatabase is returned for chunk metadata database failures.
	ErrChunkDatabase = errors.New("chunk database error")

	// ErrPeerCommunication is returned when an RPC call fails to
	// complete (dial error, timeout, framing/JSON error).
	ErrPeerCommunication = errors.New("peer communication error")
	// ErrReplication is returned when a replication task exhausts its
	// retries without successfully relocating a chunk.
	ErrReplication = errors.New("replication failed")

	// ErrWrongPassphrase is returned when a retention file's verify
	// blob fails to decrypt under a candidate passphrase-derived key.
	ErrWrongPassphrase = errors.New("wrong passphrase")
	// ErrInvalidKeyOrCipher is returned when AEAD authentication fails
	// during file decryption.
	ErrInvalidKeyOrCipher = errors.New("invalid key or corrupt ciphertext")

	// ErrConfiguration is returned for fatal startup misconfiguration.
	ErrConfiguration = errors.New("configuration error")
	// ErrNoPeersAvailable names the no-eligible-peer condition. It is a
	// partial-success condition, not an exception: DistributeChunks does
	// not return it, and instead returns a nil error with every chunk
	// counted in DistributionReport.LeftLocal.
	ErrNoPeersAvailable = errors.New("no peers available")
)
