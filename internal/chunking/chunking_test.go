package chunking

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.decentralis.dev/core/internal/chunkdb"
	"go.decentralis.dev/core/internal/chunkstore"
	"go.decentralis.dev/core/internal/clock"
	"go.decentralis.dev/core/internal/peerset"
	"go.decentralis.dev/core/internal/rpcpeer"
)

func newTestManager(t *testing.T) (*Manager, clock.Clock) {
	t.Helper()
	dir := t.TempDir()
	db, err := chunkdb.Open(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := chunkstore.New(dir)
	require.NoError(t, err)

	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	noPeers := func() []peerset.Snapshot { return nil }

	mgr := New(DefaultConfig(), db, store, rpcpeer.NewClient(), noPeers, clk, nil, "owner-self")
	return mgr, clk
}

func writeSourceFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func TestChunkFileThenReconstructRoundTrip(t *testing.T) {
	mgr, _ := newTestManager(t)
	srcDir := t.TempDir()
	path := writeSourceFile(t, srcDir, "note.txt", 10247)

	fileUUID, err := mgr.ChunkFile(path, "owner-self")
	require.NoError(t, err)
	require.NotEmpty(t, fileUUID)

	outPath := filepath.Join(srcDir, "restored.txt")
	err = mgr.ReconstructFile(fileUUID, "owner-self", outPath)
	require.NoError(t, err)

	original, err := os.ReadFile(path)
	require.NoError(t, err)
	restored, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, original, restored)
}

func TestChunkFileIsIdempotentByName(t *testing.T) {
	mgr, _ := newTestManager(t)
	srcDir := t.TempDir()
	path := writeSourceFile(t, srcDir, "dup.txt", 4096)

	first, err := mgr.ChunkFile(path, "owner-self")
	require.NoError(t, err)

	second, err := mgr.ChunkFile(path, "owner-self")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	_, err = mgr.DB.GetFileMetadata("owner-self", first)
	require.Error(t, err)

	meta, err := mgr.DB.GetFileMetadata("owner-self", second)
	require.NoError(t, err)
	require.Equal(t, "dup.txt", meta.OriginalName)
}

func TestDistributeChunksLeavesLocalWhenNoPeersEligible(t *testing.T) {
	mgr, _ := newTestManager(t)
	srcDir := t.TempDir()
	path := writeSourceFile(t, srcDir, "solo.txt", 2048)

	fileUUID, err := mgr.ChunkFile(path, "owner-self")
	require.NoError(t, err)

	report, err := mgr.DistributeChunks(fileUUID, "owner-self")
	require.NoError(t, err)
	require.Equal(t, report.TotalChunks, report.LeftLocal)
	require.Zero(t, report.Distributed)
}

func TestGetFileStatusReportsReconstructableWhenAllLocal(t *testing.T) {
	mgr, _ := newTestManager(t)
	srcDir := t.TempDir()
	path := writeSourceFile(t, srcDir, "status.txt", 512)

	fileUUID, err := mgr.ChunkFile(path, "owner-self")
	require.NoError(t, err)

	status, err := mgr.GetFileStatus(fileUUID, "owner-self")
	require.NoError(t, err)
	require.True(t, status.Reconstructable)
	require.False(t, status.Degraded)
	require.Equal(t, status.Required, status.AvailableLocal)
}

// fakeChunkPeer emulates one remote peer's rpcpeer handlers backed by its
// own chunkstore, just enough to exercise DistributeChunks/ReconstructFile
// against a real network round trip.
type fakeChunkPeer struct {
	store *chunkstore.Store
	addr  string
}

func startFakeChunkPeer(t *testing.T) *fakeChunkPeer {
	t.Helper()
	dir := t.TempDir()
	store, err := chunkstore.New(dir)
	require.NoError(t, err)

	srv := rpcpeer.NewServer("127.0.0.1:0", nil)
	fp := &fakeChunkPeer{store: store}

	srv.Register("store_chunk", func(ctx context.Context, req rpcpeer.Request) (interface{}, *rpcpeer.RPCError) {
		var params struct {
			Owner    string `json:"owner"`
			FileUUID string `json:"file_uuid"`
			Idx      int    `json:"idx"`
			DataB64  string `json:"data_b64"`
		}
		if err := decodeParams(req, &params); err != nil {
			return nil, &rpcpeer.RPCError{Code: rpcpeer.CodeMalformed, Message: err.Error()}
		}
		data, err := base64.StdEncoding.DecodeString(params.DataB64)
		if err != nil {
			return nil, &rpcpeer.RPCError{Code: rpcpeer.CodeMalformed, Message: err.Error()}
		}
		if err := fp.store.WriteChunk(params.Owner, params.FileUUID, params.Idx, data); err != nil {
			return nil, &rpcpeer.RPCError{Code: rpcpeer.CodeStorageFull, Message: err.Error()}
		}
		return map[string]bool{"ok": true}, nil
	})

	srv.Register("get_chunk", func(ctx context.Context, req rpcpeer.Request) (interface{}, *rpcpeer.RPCError) {
		var params struct {
			Owner    string `json:"owner"`
			FileUUID string `json:"file_uuid"`
			Idx      int    `json:"idx"`
		}
		if err := decodeParams(req, &params); err != nil {
			return nil, &rpcpeer.RPCError{Code: rpcpeer.CodeMalformed, Message: err.Error()}
		}
		data, err := fp.store.ReadChunk(params.Owner, params.FileUUID, params.Idx)
		if err != nil {
			return nil, &rpcpeer.RPCError{Code: rpcpeer.CodeChunkNotFound, Message: err.Error()}
		}
		sum := sha256.Sum256(data)
		return map[string]string{
			"data_b64": base64.StdEncoding.EncodeToString(data),
			"sha256":   hex.EncodeToString(sum[:]),
		}, nil
	})

	srv.Register("delete_chunk", func(ctx context.Context, req rpcpeer.Request) (interface{}, *rpcpeer.RPCError) {
		var params struct {
			Owner    string `json:"owner"`
			FileUUID string `json:"file_uuid"`
			Idx      int    `json:"idx"`
		}
		decodeParams(req, &params)
		fp.store.DeleteChunk(params.Owner, params.FileUUID, params.Idx)
		return map[string]bool{"ok": true}, nil
	})

	addr, err := srv.Listen()
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })

	fp.addr = addr.String()
	return fp
}

func decodeParams(req rpcpeer.Request, out interface{}) error {
	return json.Unmarshal(req.Params, out)
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestDistributeChunksPushesToRemotePeerAndReconstructsFromIt(t *testing.T) {
	mgr, _ := newTestManager(t)
	peer := startFakeChunkPeer(t)

	host, port := splitHostPort(t, peer.addr)
	mgr.Peers = func() []peerset.Snapshot {
		return []peerset.Snapshot{{
			UUID:         "peer-a",
			IP:           host,
			Port:         port,
			SuccessCount: 2,
			FailureCount: 1,
			LastSeen:     time.Now(),
		}}
	}

	srcDir := t.TempDir()
	path := writeSourceFile(t, srcDir, "remote.txt", 8192)
	fileUUID, err := mgr.ChunkFile(path, "owner-self")
	require.NoError(t, err)

	report, err := mgr.DistributeChunks(fileUUID, "owner-self")
	require.NoError(t, err)
	require.Zero(t, report.LeftLocal)
	require.Equal(t, report.TotalChunks, report.Distributed)

	remaining, err := mgr.Store.ListChunkIndices("owner-self", fileUUID)
	require.NoError(t, err)
	require.Empty(t, remaining)

	outPath := filepath.Join(srcDir, "remote-restored.txt")
	err = mgr.ReconstructFile(fileUUID, "owner-self", outPath)
	require.NoError(t, err)

	original, err := os.ReadFile(path)
	require.NoError(t, err)
	restored, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, original, restored)
}

func TestSyncContainerSkipsUnchangedHash(t *testing.T) {
	mgr, _ := newTestManager(t)
	srcDir := t.TempDir()
	containerPath := writeSourceFile(t, srcDir, "container.dat", 4096)

	require.NoError(t, mgr.SyncContainer(containerPath))
	first := mgr.lastContainerHash

	require.NoError(t, mgr.SyncContainer(containerPath))
	require.Equal(t, first, mgr.lastContainerHash)
}
