// Package chunking implements the orchestrator of spec.md §4.8: the
// chunk / distribute / reconstruct operations and the background
// tasks (replication sweep, expiry sweep, peer-set refresh, container
// auto-sync) that run on top of them. Writing encoded chunks to the
// chunk store runs on a small worker pool sized runtime.NumCPU(),
// generalizing the teacher's downloadWorker/recoverSector pattern in
// cmd/skyrecover/recovery.go from "download workers" pulling sectors
// off a work channel to workers pulling encoded chunks off one. Erasure
// encoding and decoding, hashing, and the remote chunk fetches of
// ReconstructFile run sequentially on the calling goroutine.
package chunking

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gitlab.com/NebulousLabs/errors"
	"gitlab.com/NebulousLabs/threadgroup"

	"go.decentralis.dev/core/internal/chunkdb"
	"go.decentralis.dev/core/internal/chunkstore"
	"go.decentralis.dev/core/internal/clock"
	"go.decentralis.dev/core/internal/derrors"
	"go.decentralis.dev/core/internal/erasure"
	"go.decentralis.dev/core/internal/peerset"
	"go.decentralis.dev/core/internal/rpcpeer"
)

// Config fixes the RS parameters and retention policy new files are
// chunked with, per spec.md §4.8/§6's env-var-overridable defaults.
type Config struct {
	K             int
	M             int
	ChunkSizeMB   int
	LRCGroupSize  int
	RetentionDays int
}

// DefaultConfig matches spec.md §4.8: K=6, M=4, chunk_size=10 MiB.
func DefaultConfig() Config {
	return Config{K: 6, M: 4, ChunkSizeMB: 10, LRCGroupSize: 2, RetentionDays: 30}
}

func (c Config) params() erasure.Params {
	return erasure.Params{K: c.K, M: c.M, LRCGroupSize: c.LRCGroupSize}
}

// Status is the result of GetFileStatus, a pure read with no side
// effects.
type Status struct {
	FileUUID         string
	Required         int
	AvailableLocal   int
	AvailableRemote  int
	Reachable        int
	Reconstructable  bool
	Degraded         bool
}

// DistributionReport is the partial-success result of DistributeChunks
// — it is returned, never raised, per spec.md §4.8/§7.
type DistributionReport struct {
	TotalChunks int
	Distributed int
	LeftLocal   int
	Failures    map[int]error
}

// PeerLister returns the current eligible peer set, used instead of a
// direct dependency on peerset.Set so the manager's injected
// collaborator set matches spec.md §9's "accessor function for the
// current peer set" design note.
type PeerLister func() []peerset.Snapshot

// Manager is the chunking orchestrator. All fields are injected
// explicitly (spec.md §9: "no back-pointer to the orchestrator").
type Manager struct {
	Config Config
	DB     *chunkdb.DB
	Store  *chunkstore.Store
	RPC    *rpcpeer.Client
	Peers  PeerLister
	Clock  clock.Clock
	Log    *logrus.Entry
	Self   string // this node's owner_uuid

	workers int
	threads threadgroup.ThreadGroup

	lastContainerHash [32]byte
	containerMu       sync.Mutex
}

// New returns a Manager using runtime.NumCPU() codec workers.
func New(cfg Config, db *chunkdb.DB, store *chunkstore.Store, rpc *rpcpeer.Client, peers PeerLister, clk clock.Clock, log *logrus.Entry, self string) *Manager {
	return &Manager{
		Config:  cfg,
		DB:      db,
		Store:   store,
		RPC:     rpc,
		Peers:   peers,
		Clock:   clk,
		Log:     log,
		Self:    self,
		workers: runtime.NumCPU(),
	}
}

// codecWork/codecResult generalize the teacher's work/result pair from
// cmd/skyrecover/recovery.go to per-chunk store writes.
type codecWork struct {
	chunk erasure.Chunk
}

type codecResult struct {
	chunk erasure.Chunk
	err   error
}

// persistChunks writes every encoded chunk to the chunk store and the
// chunks table in parallel across the worker pool, mirroring
// recoverSector's workChan/resultsChan fan-out.
func (m *Manager) persistChunks(ownerUUID, fileUUID string, chunks []erasure.Chunk) error {
	workCh := make(chan codecWork, len(chunks))
	resultCh := make(chan codecResult, len(chunks))

	var wg sync.WaitGroup
	wg.Add(m.workers)
	for i := 0; i < m.workers; i++ {
		go func() {
			defer wg.Done()
			for w := range workCh {
				err := m.Store.WriteChunk(ownerUUID, fileUUID, w.chunk.Index, w.chunk.Data)
				resultCh <- codecResult{chunk: w.chunk, err: err}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	for _, c := range chunks {
		workCh <- codecWork{chunk: c}
	}
	close(workCh)

	var firstErr error
	for res := range resultCh {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		role := string(res.chunk.Role)
		if err := m.DB.PutChunk(chunkdb.Chunk{
			OwnerUUID: ownerUUID,
			FileUUID:  fileUUID,
			Index:     res.chunk.Index,
			Role:      role,
			SizeBytes: len(res.chunk.Data),
			SHA256:    hashHex(res.chunk.SHA256),
			StoredAt:  m.Clock.Now(),
		}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func hashHex(h [32]byte) string {
	return fmt.Sprintf("%x", h)
}

// ChunkFile implements spec.md §4.8's chunk_file(path, owner) →
// file_uuid. It is idempotent by (owner, original_name): an existing
// record for the same name is fully removed first, which is how
// container auto-sync (§4.10) re-chunks container.dat on every write.
func (m *Manager) ChunkFile(path, ownerUUID string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", derrors.ErrChunkStorage, path, err)
	}
	name := filepath.Base(path)

	if existing, err := m.DB.GetFileMetadataByName(ownerUUID, name); err == nil {
		if err := m.removeFile(existing.OwnerUUID, existing.FileUUID); err != nil {
			return "", err
		}
	}

	contentHash := sha256.Sum256(data)
	params := m.Config.params()
	chunks, chunkSize, err := erasure.Encode(data, params)
	if err != nil {
		return "", err
	}

	fileUUID := uuid.New().String()
	if err := m.persistChunks(ownerUUID, fileUUID, chunks); err != nil {
		return "", err
	}

	now := m.Clock.Now()
	meta := chunkdb.FileMetadata{
		FileUUID:       fileUUID,
		OwnerUUID:      ownerUUID,
		OriginalName:   name,
		OriginalSize:   int64(len(data)),
		OriginalSHA256: hashHex(contentHash),
		K:              params.K,
		M:              params.M,
		ChunkSize:      chunkSize,
		TotalChunks:    params.TotalChunks(),
		LRCGroupSize:   params.LRCGroupSize,
		LRCGroups:      params.Groups(),
		CreatedAt:      now,
		ExpiresAt:      now.AddDate(0, 0, m.Config.RetentionDays),
		ContentHash:    hashHex(contentHash),
	}
	if err := m.DB.PutFileMetadata(meta); err != nil {
		return "", err
	}
	if err := m.Store.WriteMetadata(ownerUUID, fileUUID, meta); err != nil {
		return "", err
	}
	return fileUUID, nil
}

func (m *Manager) removeFile(ownerUUID, fileUUID string) error {
	if err := m.Store.DeleteFileChunks(ownerUUID, fileUUID); err != nil {
		return err
	}
	if err := m.DB.DeleteFileMetadata(ownerUUID, fileUUID); err != nil {
		return err
	}
	chunks, err := m.DB.GetChunksByFile(ownerUUID, fileUUID)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		m.DB.DeleteChunk(ownerUUID, fileUUID, c.Index)
	}
	return nil
}

// DistributeChunks implements spec.md §4.8's distribute_chunks. It
// never fails the whole operation on a partial-success condition (the
// Open Question resolved in DESIGN.md): if the eligible peer set is
// empty, every chunk is simply left local and reported as such.
func (m *Manager) DistributeChunks(fileUUID, ownerUUID string) (DistributionReport, error) {
	meta, err := m.DB.GetFileMetadata(ownerUUID, fileUUID)
	if err != nil {
		return DistributionReport{}, err
	}
	indices, err := m.Store.ListChunkIndices(ownerUUID, fileUUID)
	if err != nil {
		return DistributionReport{}, err
	}

	eligible := m.Peers()
	report := DistributionReport{TotalChunks: meta.TotalChunks, Failures: make(map[int]error)}

	if len(eligible) == 0 {
		report.LeftLocal = len(indices)
		return report, nil
	}

	// Spread before duplicating: only skip a peer that already holds
	// another index of this file once the eligible count exceeds
	// total_chunks, per spec.md §4.8.
	spreadOnly := len(eligible) > meta.TotalChunks
	holds := make(map[string]bool)

	peerIdx := 0
	for _, idx := range sortedInts(indices) {
		chunk, err := m.Store.ReadChunk(ownerUUID, fileUUID, idx)
		if err != nil {
			report.Failures[idx] = err
			report.LeftLocal++
			continue
		}
		dbChunk, err := findChunkRow(m.DB, ownerUUID, fileUUID, idx)
		if err != nil {
			report.Failures[idx] = err
			report.LeftLocal++
			continue
		}

		var target *peerset.Snapshot
		attempts := 0
		for attempts < len(eligible) {
			candidate := eligible[peerIdx%len(eligible)]
			peerIdx++
			attempts++
			if spreadOnly && holds[candidate.UUID] {
				continue
			}
			target = &candidate
			break
		}
		if target == nil {
			target = &eligible[peerIdx%len(eligible)]
			peerIdx++
		}

		if err := m.assignChunk(fileUUID, ownerUUID, idx, chunk, dbChunk, *target); err != nil {
			report.Failures[idx] = err
			report.LeftLocal++
			continue
		}
		holds[target.UUID] = true
		report.Distributed++
	}
	return report, nil
}

func findChunkRow(db *chunkdb.DB, ownerUUID, fileUUID string, idx int) (chunkdb.Chunk, error) {
	chunks, err := db.GetChunksByFile(ownerUUID, fileUUID)
	if err != nil {
		return chunkdb.Chunk{}, err
	}
	for _, c := range chunks {
		if c.Index == idx {
			return c, nil
		}
	}
	return chunkdb.Chunk{}, derrors.ErrChunkNotFound
}

// assignChunk pushes one chunk to target, retrying up to 3 times with
// exponential backoff per spec.md §4.8/§7. On success it upserts a
// confirmed location and deletes the local copy — the owner does not
// keep redundant copies once a peer holds the chunk.
func (m *Manager) assignChunk(fileUUID, ownerUUID string, idx int, data []byte, row chunkdb.Chunk, target peerset.Snapshot) error {
	addr := fmt.Sprintf("%s:%d", target.IP, target.Port)
	req := map[string]interface{}{
		"owner":    ownerUUID,
		"file_uuid": fileUUID,
		"idx":      idx,
		"role":     row.Role,
		"sha256":   row.SHA256,
		"data_b64": encodeBase64(data),
	}

	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), rpcpeer.DefaultTimeout)
		var result struct {
			OK bool `json:"ok"`
		}
		err := m.RPC.Call(ctx, addr, "store_chunk", req, &result)
		cancel()
		if err == nil && result.OK {
			lastErr = nil
			break
		}
		lastErr = err
		if lastErr == nil {
			lastErr = fmt.Errorf("%w: store_chunk did not confirm", derrors.ErrPeerCommunication)
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	if lastErr != nil {
		return fmt.Errorf("%w: %v", derrors.ErrReplication, lastErr)
	}

	if err := m.DB.PutLocation(chunkdb.Location{
		FileUUID:   fileUUID,
		Index:      idx,
		PeerUUID:   target.UUID,
		AssignedAt: m.Clock.Now(),
		Confirmed:  true,
		LastSeenAt: m.Clock.Now(),
	}); err != nil {
		return err
	}
	return m.removeLocalChunkAfterDistribution(ownerUUID, fileUUID, idx)
}

func (m *Manager) removeLocalChunkAfterDistribution(ownerUUID, fileUUID string, idx int) error {
	if err := m.Store.DeleteChunk(ownerUUID, fileUUID, idx); err != nil {
		return err
	}
	return m.DB.DeleteChunk(ownerUUID, fileUUID, idx)
}

// ReconstructFile implements spec.md §4.8's
// reconstruct_file(file_uuid, owner, output_path).
func (m *Manager) ReconstructFile(fileUUID, ownerUUID, outputPath string) error {
	meta, err := m.DB.GetFileMetadata(ownerUUID, fileUUID)
	if err != nil {
		return err
	}
	params := erasure.Params{K: meta.K, M: meta.M, LRCGroupSize: meta.LRCGroupSize}

	have := make(map[int]erasure.Chunk)
	localIndices, err := m.Store.ListChunkIndices(ownerUUID, fileUUID)
	if err != nil {
		return err
	}
	for _, idx := range localIndices {
		data, err := m.Store.ReadChunk(ownerUUID, fileUUID, idx)
		if err != nil {
			continue
		}
		have[idx] = erasure.Chunk{Index: idx, Data: data, SHA256: sha256.Sum256(data)}
	}

	haveIdx := make(map[int]bool, len(have))
	for idx := range have {
		haveIdx[idx] = true
	}

	if ok, _ := erasure.CanReconstruct(haveIdx, params); !ok {
		locs, err := m.DB.GetLocationsByFile(fileUUID)
		if err != nil {
			return err
		}
		locsByIdx := make(map[int][]chunkdb.Location)
		for _, l := range locs {
			locsByIdx[l.Index] = append(locsByIdx[l.Index], l)
		}

		eligibleByUUID := make(map[string]peerset.Snapshot)
		for _, p := range m.Peers() {
			eligibleByUUID[p.UUID] = p
		}

		var fetchErrs []error
		for idx, candidates := range locsByIdx {
			if haveIdx[idx] {
				continue
			}
			orderedByReliability(candidates, eligibleByUUID)
			for _, loc := range candidates {
				peer, ok := eligibleByUUID[loc.PeerUUID]
				if !ok {
					continue
				}
				chunk, err := m.fetchChunk(peer, ownerUUID, fileUUID, idx)
				if err != nil {
					fetchErrs = append(fetchErrs, fmt.Errorf("chunk %d from %s: %w", idx, loc.PeerUUID, err))
					continue
				}
				have[idx] = chunk
				haveIdx[idx] = true
				break
			}
			if ok, _ := erasure.CanReconstruct(haveIdx, params); ok {
				break
			}
		}
		if ok, _ := erasure.CanReconstruct(haveIdx, params); !ok && len(fetchErrs) > 0 && m.Log != nil {
			m.Log.WithError(errors.Compose(fetchErrs...)).WithField("file_uuid", fileUUID).Debug("remote chunk fetch failures during reconstruct")
		}
	}

	if ok, _ := erasure.CanReconstruct(haveIdx, params); !ok {
		return derrors.ErrInsufficientChunks
	}

	reconstructed, err := erasure.Reconstruct(have, params, meta.ChunkSize)
	if err != nil {
		return err
	}
	hashBytes, err := hex.DecodeString(meta.ContentHash)
	if err != nil || len(hashBytes) != sha256.Size {
		return fmt.Errorf("%w: stored content hash is malformed", derrors.ErrChunkDatabase)
	}
	var contentHash [32]byte
	copy(contentHash[:], hashBytes)
	out, err := erasure.StripAndVerify(reconstructed, meta.OriginalSize, contentHash)
	if err != nil {
		return err
	}

	tmp := outputPath + ".tmp"
	if err := os.WriteFile(tmp, out, 0600); err != nil {
		return fmt.Errorf("%w: %v", derrors.ErrChunkStorage, err)
	}
	if err := os.Rename(tmp, outputPath); err != nil {
		return fmt.Errorf("%w: %v", derrors.ErrChunkStorage, err)
	}
	return nil
}

func orderedByReliability(locs []chunkdb.Location, byUUID map[string]peerset.Snapshot) {
	for i := 1; i < len(locs); i++ {
		for j := i; j > 0; j-- {
			a, b := byUUID[locs[j-1].PeerUUID], byUUID[locs[j].PeerUUID]
			if a.Reliability() >= b.Reliability() {
				break
			}
			locs[j-1], locs[j] = locs[j], locs[j-1]
		}
	}
}

func (m *Manager) fetchChunk(peer peerset.Snapshot, ownerUUID, fileUUID string, idx int) (erasure.Chunk, error) {
	addr := fmt.Sprintf("%s:%d", peer.IP, peer.Port)
	req := map[string]interface{}{"owner": ownerUUID, "file_uuid": fileUUID, "idx": idx}
	var result struct {
		DataB64 string `json:"data_b64"`
		SHA256  string `json:"sha256"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), rpcpeer.DefaultTimeout)
	defer cancel()
	if err := m.RPC.Call(ctx, addr, "get_chunk", req, &result); err != nil {
		return erasure.Chunk{}, err
	}
	data, err := decodeBase64(result.DataB64)
	if err != nil {
		return erasure.Chunk{}, fmt.Errorf("%w: %v", derrors.ErrPeerCommunication, err)
	}
	h := sha256.Sum256(data)
	if hashHex(h) != result.SHA256 {
		return erasure.Chunk{}, derrors.ErrChunkValidation
	}
	return erasure.Chunk{Index: idx, Data: data, SHA256: h}, nil
}

// GetFileStatus implements spec.md §4.8's get_file_status; a pure
// read with no side effects.
func (m *Manager) GetFileStatus(fileUUID, ownerUUID string) (Status, error) {
	meta, err := m.DB.GetFileMetadata(ownerUUID, fileUUID)
	if err != nil {
		return Status{}, err
	}
	params := erasure.Params{K: meta.K, M: meta.M, LRCGroupSize: meta.LRCGroupSize}

	localIndices, err := m.Store.ListChunkIndices(ownerUUID, fileUUID)
	if err != nil {
		return Status{}, err
	}
	locs, err := m.DB.GetLocationsByFile(fileUUID)
	if err != nil {
		return Status{}, err
	}

	haveIdx := make(map[int]bool)
	for _, idx := range localIndices {
		haveIdx[idx] = true
	}
	eligibleByUUID := make(map[string]peerset.Snapshot)
	for _, p := range m.Peers() {
		eligibleByUUID[p.UUID] = p
	}
	reachable := 0
	for _, l := range locs {
		if _, ok := eligibleByUUID[l.PeerUUID]; ok {
			haveIdx[l.Index] = true
			reachable++
		}
	}

	ok, _ := erasure.CanReconstruct(haveIdx, params)
	return Status{
		FileUUID:        fileUUID,
		Required:        meta.TotalChunks,
		AvailableLocal:  len(localIndices),
		AvailableRemote: len(locs),
		Reachable:       reachable,
		Reconstructable: ok,
		Degraded:        !ok,
	}, nil
}

// StartBackgroundTasks launches the periodic sweeps described in
// spec.md §4.8: replication (handled by the replication manager,
// wired by the caller), expiry (60 min default), and container
// auto-sync via an fsnotify watch on the storage directory.
func (m *Manager) StartBackgroundTasks(ctx context.Context, containerPath string, expirySweep func()) error {
	if err := m.threads.Add(); err != nil {
		return err
	}
	go func() {
		defer m.threads.Done()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-m.threads.StopChan():
				return
			case <-ticker.C:
				if expirySweep != nil {
					expirySweep()
				}
			}
		}
	}()

	if containerPath != "" {
		if err := m.watchContainer(containerPath); err != nil && m.Log != nil {
			m.Log.WithError(err).Warn("container auto-sync watch failed to start")
		}
	}
	return nil
}

// watchContainer implements spec.md §4.10's event-driven trigger,
// supplementing a polling-based save hook with fsnotify.
func (m *Manager) watchContainer(containerPath string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", derrors.ErrConfiguration, err)
	}
	if err := watcher.Add(filepath.Dir(containerPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("%w: %v", derrors.ErrConfiguration, err)
	}

	if err := m.threads.Add(); err != nil {
		watcher.Close()
		return err
	}
	go func() {
		defer m.threads.Done()
		defer watcher.Close()
		for {
			select {
			case <-m.threads.StopChan():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name == containerPath && (event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create) {
					m.SyncContainer(containerPath)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if m.Log != nil {
					m.Log.WithError(err).Warn("container watcher error")
				}
			}
		}
	}()
	return nil
}

// SyncContainer implements spec.md §4.10's container auto-sync
// sequence: hash, remove-prior, chunk, distribute.
func (m *Manager) SyncContainer(containerPath string) error {
	m.containerMu.Lock()
	defer m.containerMu.Unlock()

	data, err := os.ReadFile(containerPath)
	if err != nil {
		return fmt.Errorf("%w: %v", derrors.ErrChunkStorage, err)
	}
	newHash := sha256.Sum256(data)
	if newHash == m.lastContainerHash {
		return nil
	}

	name := filepath.Base(containerPath)
	if existing, err := m.DB.GetFileMetadataByName(m.Self, name); err == nil {
		m.purgeRemoteCopies(existing.FileUUID)
		m.removeFile(m.Self, existing.FileUUID)
	}

	fileUUID, err := m.ChunkFile(containerPath, m.Self)
	if err != nil {
		return err
	}
	if _, err := m.DistributeChunks(fileUUID, m.Self); err != nil {
		return err
	}
	m.lastContainerHash = newHash
	return nil
}

// purgeRemoteCopies best-effort deletes every confirmed remote copy of
// a file before it is re-chunked, per spec.md §4.10.
func (m *Manager) purgeRemoteCopies(fileUUID string) {
	locs, err := m.DB.GetLocationsByFile(fileUUID)
	if err != nil {
		return
	}
	eligibleByUUID := make(map[string]peerset.Snapshot)
	for _, p := range m.Peers() {
		eligibleByUUID[p.UUID] = p
	}
	for _, loc := range locs {
		peer, ok := eligibleByUUID[loc.PeerUUID]
		if !ok {
			continue
		}
		addr := fmt.Sprintf("%s:%d", peer.IP, peer.Port)
		req := map[string]interface{}{"owner": m.Self, "file_uuid": fileUUID, "idx": loc.Index}
		ctx, cancel := context.WithTimeout(context.Background(), rpcpeer.DefaultTimeout)
		m.RPC.Call(ctx, addr, "delete_chunk", req, nil)
		cancel()
	}
}

// RestoreContainerOnStart implements spec.md §4.10's startup recovery:
// if containerPath is absent locally but metadata for it exists,
// reconstruct it asynchronously.
func (m *Manager) RestoreContainerOnStart(containerPath string) {
	name := filepath.Base(containerPath)
	if _, err := os.Stat(containerPath); err == nil {
		return
	}
	meta, err := m.DB.GetFileMetadataByName(m.Self, name)
	if err != nil {
		return
	}
	go func() {
		if err := m.ReconstructFile(meta.FileUUID, m.Self, containerPath); err != nil && m.Log != nil {
			m.Log.WithError(err).Error("failed to restore container on startup")
		}
	}()
}

// Shutdown implements spec.md §4.8's shutdown(): it signals background
// tasks to stop and waits up to 5s for them to return; after 5s it
// returns nil without waiting further, and tasks still running are not
// cancelled.
func (m *Manager) Shutdown() error {
	done := make(chan error, 1)
	go func() { done <- m.threads.Stop() }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return nil
	}
}

func encodeBase64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func decodeBase64(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

func sortedInts(in []int) []int {
	out := append([]int(nil), in...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
