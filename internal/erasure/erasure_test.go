package erasure

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"
)

func testParams() Params {
	return Params{K: 6, M: 4, LRCGroupSize: 2}
}

func encodeRandom(t *testing.T, n int, p Params) ([]byte, []Chunk, int) {
	t.Helper()
	data := frand.Bytes(n)
	chunks, chunkSize, err := Encode(data, p)
	require.NoError(t, err)
	require.Len(t, chunks, p.TotalChunks())
	return data, chunks, chunkSize
}

func asMap(chunks []Chunk, keep ...int) map[int]Chunk {
	keepSet := make(map[int]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}
	out := make(map[int]Chunk)
	for _, c := range chunks {
		if keepSet[c.Index] {
			out[c.Index] = c
		}
	}
	return out
}

func TestRoundTripAllChunks(t *testing.T) {
	p := testParams()
	data, chunks, chunkSize := encodeRandom(t, 25*1024, p)

	have := make(map[int]Chunk, len(chunks))
	for _, c := range chunks {
		have[c.Index] = c
	}

	reconstructed, err := Reconstruct(have, p, chunkSize)
	require.NoError(t, err)

	hash := sha256.Sum256(data)
	out, err := StripAndVerify(reconstructed, int64(len(data)), hash)
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestRSRecoveryFromExactlyKShards(t *testing.T) {
	p := testParams()
	data, chunks, chunkSize := encodeRandom(t, 131072, p)

	// keep exactly k shards among data+parity, no LRC symbols at all.
	keep := []int{0, 1, 2, p.K, p.K + 1, p.K + 2}
	require.Len(t, keep, p.K)
	have := asMap(chunks, keep...)

	ok, viaLRC := CanReconstruct(indexSet(have), p)
	require.True(t, ok)
	require.False(t, viaLRC)

	reconstructed, err := Reconstruct(have, p, chunkSize)
	require.NoError(t, err)

	hash := sha256.Sum256(data)
	out, err := StripAndVerify(reconstructed, int64(len(data)), hash)
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestLRCShortcutRecoversSingleMissingDataChunk(t *testing.T) {
	p := testParams()
	data, chunks, chunkSize := encodeRandom(t, 65536, p)

	// group 0 = data indices {0,1}; its lrc index is k+m+0.
	lrcIdx := p.lrcIndexForGroup(0)
	// CanReconstruct and Reconstruct both judge the whole file, so the
	// other groups' data shards are supplied too: every data shard
	// except #1, plus group 0's LRC symbol, and no RS parity at all.
	keep := []int{0, 2, 3, 4, 5, lrcIdx} // chunk #1 deliberately withheld
	have := asMap(chunks, keep...)

	haveIdx := indexSet(have)
	ok, viaLRC := CanReconstruct(haveIdx, p)
	require.True(t, ok)
	require.True(t, viaLRC, "expected the LRC shortcut, not RS, to resolve a single missing data chunk")

	reconstructed, err := Reconstruct(have, p, chunkSize)
	require.NoError(t, err)

	hash := sha256.Sum256(data)
	out, err := StripAndVerify(reconstructed, int64(len(data)), hash)
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestInsufficientChunksFails(t *testing.T) {
	p := testParams()
	_, chunks, chunkSize := encodeRandom(t, 4096, p)

	have := asMap(chunks, 0, 1, 2) // only 3 of 10, no LRC symbols
	_, err := Reconstruct(have, p, chunkSize)
	require.Error(t, err)
}

func TestCorruptChunkTreatedAsMissing(t *testing.T) {
	p := testParams()
	data, chunks, chunkSize := encodeRandom(t, 65536, p)

	have := asMap(chunks, 0, 1, 2, p.K, p.K+1, p.K+2)
	corrupt := have[0]
	corrupt.Data = append([]byte{}, corrupt.Data...)
	corrupt.Data[0] ^= 0xFF
	have[0] = corrupt

	// only k-1 valid shards remain among {1,2,k,k+1,k+2}; the
	// corrupted #0 must be discarded, not counted, so this fails.
	_, err := Reconstruct(have, p, chunkSize)
	require.Error(t, err)

	// add one more valid shard to make k genuinely-valid shards available.
	have[p.K+3] = chunks[p.K+3]
	reconstructed, err := Reconstruct(have, p, chunkSize)
	require.NoError(t, err)
	hash := sha256.Sum256(data)
	out, err := StripAndVerify(reconstructed, int64(len(data)), hash)
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestReconstructShardReturnsHeldChunkDirectly(t *testing.T) {
	p := testParams()
	_, chunks, chunkSize := encodeRandom(t, 4096, p)
	have := asMap(chunks, 0, 1, 2)

	got, err := ReconstructShard(have, p, chunkSize, 1)
	require.NoError(t, err)
	require.Equal(t, chunks[1].Data, got)
}

func TestReconstructShardRecoversDataShardViaRS(t *testing.T) {
	p := testParams()
	_, chunks, chunkSize := encodeRandom(t, 131072, p)

	// keep exactly k shards, none of them index 0.
	have := asMap(chunks, 1, 2, 3, p.K, p.K+1, p.K+2)

	got, err := ReconstructShard(have, p, chunkSize, 0)
	require.NoError(t, err)
	require.Equal(t, chunks[0].Data, got)
}

func TestReconstructShardRecomputesMissingLRCSymbol(t *testing.T) {
	p := testParams()
	_, chunks, chunkSize := encodeRandom(t, 65536, p)

	// group 0 = data indices {0,1}; withhold its LRC symbol but keep
	// both data members, so the symbol can be recomputed by XOR alone.
	have := asMap(chunks, 0, 1)
	lrcIdx := p.lrcIndexForGroup(0)

	got, err := ReconstructShard(have, p, chunkSize, lrcIdx)
	require.NoError(t, err)
	require.Equal(t, chunks[lrcIdx].Data, got)
}

func TestReconstructShardFailsWhenGroupIncomplete(t *testing.T) {
	p := testParams()
	_, chunks, chunkSize := encodeRandom(t, 65536, p)

	// only one of group 0's two data members present, and no other
	// recovery path available for the LRC symbol itself.
	have := asMap(chunks, 0)
	lrcIdx := p.lrcIndexForGroup(0)

	_, err := ReconstructShard(have, p, chunkSize, lrcIdx)
	require.Error(t, err)
}

func indexSet(have map[int]Chunk) map[int]bool {
	out := make(map[int]bool, len(have))
	for idx := range have {
		out[idx] = true
	}
	return out
}
