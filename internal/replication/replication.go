// Package replication implements the replication manager of spec.md
// §4.9: it reacts to peer loss, relocates the chunks a lost peer was
// holding, cleans up expired chunks, and flags files it cannot fully
// recover as degraded. It holds no reference to the chunking
// orchestrator — only to the chunk db, chunk store, RPC client, and an
// accessor function for the live peer set, per spec.md §9's explicit
// injection design note.
package replication

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"go.decentralis.dev/core/internal/chunkdb"
	"go.decentralis.dev/core/internal/chunkstore"
	"go.decentralis.dev/core/internal/clock"
	"go.decentralis.dev/core/internal/derrors"
	"go.decentralis.dev/core/internal/erasure"
	"go.decentralis.dev/core/internal/peerset"
	"go.decentralis.dev/core/internal/rpcpeer"
)

// TaskState is the lifecycle state of a relocation task.
type TaskState string

const (
	TaskPending TaskState = "pending"
	TaskDone    TaskState = "done"
	TaskFailed  TaskState = "failed"
)

// Task mirrors spec.md §3's ReplicationTask entity.
type Task struct {
	FileUUID string
	Index    int
	FromPeer string
	State    TaskState
}

func taskKey(fileUUID string, idx int) string {
	return fmt.Sprintf("%s/%d", fileUUID, idx)
}

// PeerLister returns the current eligible peer set.
type PeerLister func() []peerset.Snapshot

// Manager is the replication manager.
type Manager struct {
	DB    *chunkdb.DB
	Store *chunkstore.Store
	RPC   *rpcpeer.Client
	Peers PeerLister
	Clock clock.Clock
	Log   *logrus.Entry
	Self  string

	mu       sync.Mutex
	pending  map[string]*Task
	degraded map[string]bool
}

// New returns a Manager with empty task and degraded-file sets.
func New(db *chunkdb.DB, store *chunkstore.Store, rpc *rpcpeer.Client, peers PeerLister, clk clock.Clock, log *logrus.Entry, self string) *Manager {
	return &Manager{
		DB:       db,
		Store:    store,
		RPC:      rpc,
		Peers:    peers,
		Clock:    clk,
		Log:      log,
		Self:     self,
		pending:  make(map[string]*Task),
		degraded: make(map[string]bool),
	}
}

// IsDegraded reports whether a relocation attempt for fileUUID has
// failed since its last successful relocation. chunking.Manager's
// GetFileStatus does not consult it: its Degraded field is computed
// from chunk availability alone.
func (m *Manager) IsDegraded(fileUUID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded[fileUUID]
}

func (m *Manager) clearDegraded(fileUUID string) {
	m.mu.Lock()
	delete(m.degraded, fileUUID)
	m.mu.Unlock()
}

func (m *Manager) markDegraded(fileUUID string) {
	m.mu.Lock()
	m.degraded[fileUUID] = true
	m.mu.Unlock()
}

// OnPeerDisconnected implements spec.md §4.9's on_peer_disconnected:
// every confirmed location the lost peer held becomes a pending
// relocation task, and the now-unreachable location row is removed so
// get_file_status and distribute_chunks never treat it as live.
func (m *Manager) OnPeerDisconnected(peerUUID string) error {
	locs, err := m.DB.GetLocationsByPeer(peerUUID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, loc := range locs {
		if !loc.Confirmed {
			continue
		}
		if err := m.DB.DeleteLocation(loc.FileUUID, loc.Index, peerUUID); err != nil && m.Log != nil {
			m.Log.WithError(err).Warn("failed to remove stale chunk location")
		}
		key := taskKey(loc.FileUUID, loc.Index)
		m.pending[key] = &Task{FileUUID: loc.FileUUID, Index: loc.Index, FromPeer: peerUUID, State: TaskPending}
	}
	return nil
}

// ProcessPendingRelocations implements spec.md §4.9's
// process_pending_relocations, run by the replication sweep that
// StartSweeps launches.
func (m *Manager) ProcessPendingRelocations() {
	m.mu.Lock()
	tasks := make([]*Task, 0, len(m.pending))
	for _, t := range m.pending {
		if t.State == TaskPending {
			tasks = append(tasks, t)
		}
	}
	m.mu.Unlock()

	for _, task := range tasks {
		m.relocate(task)
	}
}

func (m *Manager) relocate(task *Task) {
	locs, err := m.DB.GetLocationsByFile(task.FileUUID)
	if err != nil {
		if m.Log != nil {
			m.Log.WithError(err).Warn("replication: failed to list locations")
		}
		return
	}

	holders := make(map[string]bool)
	var candidates []chunkdb.Location
	for _, loc := range locs {
		if loc.Index == task.Index {
			holders[loc.PeerUUID] = true
			candidates = append(candidates, loc)
		}
	}

	eligibleByUUID := make(map[string]peerset.Snapshot)
	var eligible []peerset.Snapshot
	for _, p := range m.Peers() {
		eligibleByUUID[p.UUID] = p
		if !holders[p.UUID] {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		m.fail(task, "no eligible replacement peer")
		return
	}
	target := eligible[0] // peerset.Eligible/callers already sort by descending reliability

	data, sourcePeer, err := m.fetchFromHolder(candidates, eligibleByUUID, task)
	if err != nil {
		data, err = m.reconstructShard(task)
		sourcePeer = m.Self
		if err != nil {
			m.fail(task, err.Error())
			return
		}
	}

	role, sha := m.lookupChunkRowMeta(task)
	if err := m.pushChunk(target, task, role, sha, data); err != nil {
		m.fail(task, err.Error())
		return
	}

	if err := m.DB.PutLocation(chunkdb.Location{
		FileUUID:   task.FileUUID,
		Index:      task.Index,
		PeerUUID:   target.UUID,
		AssignedAt: m.Clock.Now(),
		Confirmed:  true,
		LastSeenAt: m.Clock.Now(),
	}); err != nil {
		m.fail(task, err.Error())
		return
	}

	m.DB.AppendReplicationHistory(chunkdb.ReplicationEvent{
		FileUUID:  task.FileUUID,
		Index:     task.Index,
		FromPeer:  sourcePeer,
		ToPeer:    target.UUID,
		Timestamp: m.Clock.Now(),
		Success:   true,
	})

	m.mu.Lock()
	task.State = TaskDone
	delete(m.pending, taskKey(task.FileUUID, task.Index))
	m.mu.Unlock()
	m.clearDegraded(task.FileUUID)
}

func (m *Manager) fail(task *Task, reason string) {
	if m.Log != nil {
		m.Log.WithFields(logrus.Fields{"file_uuid": task.FileUUID, "idx": task.Index}).
			WithError(fmt.Errorf("%w: %s", derrors.ErrReplication, reason)).
			Warn("replication task failed")
	}
	m.DB.AppendReplicationHistory(chunkdb.ReplicationEvent{
		FileUUID:  task.FileUUID,
		Index:     task.Index,
		FromPeer:  task.FromPeer,
		Timestamp: m.Clock.Now(),
		Success:   false,
	})
	m.mu.Lock()
	task.State = TaskFailed
	m.mu.Unlock()
	m.markDegraded(task.FileUUID)
}

// fetchFromHolder tries every remaining confirmed holder of the chunk,
// preferring the highest-reliability one, per spec.md §4.9.
func (m *Manager) fetchFromHolder(candidates []chunkdb.Location, eligibleByUUID map[string]peerset.Snapshot, task *Task) ([]byte, string, error) {
	var holders []peerset.Snapshot
	for _, loc := range candidates {
		if loc.PeerUUID == task.FromPeer {
			continue
		}
		if peer, ok := eligibleByUUID[loc.PeerUUID]; ok {
			holders = append(holders, peer)
		}
	}
	orderByReliabilityDesc(holders)

	for _, peer := range holders {
		data, err := m.fetchChunk(peer, task)
		if err == nil {
			return data, peer.UUID, nil
		}
	}
	return nil, "", fmt.Errorf("%w: no reachable holder for %s/%d", derrors.ErrReplication, task.FileUUID, task.Index)
}

func orderByReliabilityDesc(peers []peerset.Snapshot) {
	for i := 1; i < len(peers); i++ {
		for j := i; j > 0 && peers[j-1].Reliability() < peers[j].Reliability(); j-- {
			peers[j-1], peers[j] = peers[j], peers[j-1]
		}
	}
}

func (m *Manager) fetchChunk(peer peerset.Snapshot, task *Task) ([]byte, error) {
	addr := fmt.Sprintf("%s:%d", peer.IP, peer.Port)
	req := map[string]interface{}{"owner": m.Self, "file_uuid": task.FileUUID, "idx": task.Index}
	var result struct {
		DataB64 string `json:"data_b64"`
		SHA256  string `json:"sha256"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), rpcpeer.DefaultTimeout)
	defer cancel()
	if err := m.RPC.Call(ctx, addr, "get_chunk", req, &result); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(result.DataB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", derrors.ErrPeerCommunication, err)
	}
	sum := sha256.Sum256(data)
	if fmt.Sprintf("%x", sum) != result.SHA256 {
		return nil, derrors.ErrChunkValidation
	}
	return data, nil
}

// reconstructShard implements spec.md §4.9's fallback: when no peer
// can serve a valid copy of the lost chunk, it is re-derived locally
// via the erasure codec from whatever other shards of the file are
// reachable.
func (m *Manager) reconstructShard(task *Task) ([]byte, error) {
	meta, err := m.DB.GetFileMetadataByUUID(task.FileUUID)
	if err != nil {
		return nil, err
	}
	params := erasure.Params{K: meta.K, M: meta.M, LRCGroupSize: meta.LRCGroupSize}

	have := make(map[int]erasure.Chunk)
	if localIdx, err := m.Store.ListChunkIndices(meta.OwnerUUID, task.FileUUID); err == nil {
		for _, idx := range localIdx {
			if idx == task.Index {
				continue
			}
			data, err := m.Store.ReadChunk(meta.OwnerUUID, task.FileUUID, idx)
			if err != nil {
				continue
			}
			have[idx] = erasure.Chunk{Index: idx, Data: data, SHA256: sha256.Sum256(data)}
		}
	}

	locs, err := m.DB.GetLocationsByFile(task.FileUUID)
	if err != nil {
		return nil, err
	}
	eligibleByUUID := make(map[string]peerset.Snapshot)
	for _, p := range m.Peers() {
		eligibleByUUID[p.UUID] = p
	}
	for _, loc := range locs {
		if loc.Index == task.Index {
			continue
		}
		if _, ok := have[loc.Index]; ok {
			continue
		}
		peer, ok := eligibleByUUID[loc.PeerUUID]
		if !ok {
			continue
		}
		fakeTask := &Task{FileUUID: task.FileUUID, Index: loc.Index}
		data, err := m.fetchChunk(peer, fakeTask)
		if err != nil {
			continue
		}
		have[loc.Index] = erasure.Chunk{Index: loc.Index, Data: data, SHA256: sha256.Sum256(data)}
	}

	return erasure.ReconstructShard(have, params, meta.ChunkSize, task.Index)
}

func (m *Manager) lookupChunkRowMeta(task *Task) (role, sha string) {
	meta, err := m.DB.GetFileMetadataByUUID(task.FileUUID)
	if err != nil {
		return "", ""
	}
	chunks, err := m.DB.GetChunksByFile(meta.OwnerUUID, task.FileUUID)
	if err != nil {
		return "", ""
	}
	for _, c := range chunks {
		if c.Index == task.Index {
			return c.Role, c.SHA256
		}
	}
	return "", ""
}

func (m *Manager) pushChunk(target peerset.Snapshot, task *Task, role, sha string, data []byte) error {
	addr := fmt.Sprintf("%s:%d", target.IP, target.Port)
	req := map[string]interface{}{
		"owner":     m.Self,
		"file_uuid": task.FileUUID,
		"idx":       task.Index,
		"role":      role,
		"sha256":    sha,
		"data_b64":  base64.StdEncoding.EncodeToString(data),
	}
	ctx, cancel := context.WithTimeout(context.Background(), rpcpeer.DefaultTimeout)
	defer cancel()
	var result struct {
		OK bool `json:"ok"`
	}
	if err := m.RPC.Call(ctx, addr, "store_chunk", req, &result); err != nil {
		return fmt.Errorf("%w: %v", derrors.ErrReplication, err)
	}
	if !result.OK {
		return fmt.Errorf("%w: store_chunk did not confirm", derrors.ErrReplication)
	}
	return nil
}

// CleanupExpiredChunks implements spec.md §4.9's
// cleanup_expired_chunks: every file whose expires_at has passed is
// removed locally, and a best-effort delete_chunk is sent to every
// peer that confirmedly held one of its chunks.
func (m *Manager) CleanupExpiredChunks() error {
	files, err := m.DB.ListFileMetadata()
	if err != nil {
		return err
	}
	now := m.Clock.Now()

	eligibleByUUID := make(map[string]peerset.Snapshot)
	for _, p := range m.Peers() {
		eligibleByUUID[p.UUID] = p
	}

	for _, meta := range files {
		if now.Before(meta.ExpiresAt) {
			continue
		}
		locs, err := m.DB.GetLocationsByFile(meta.FileUUID)
		if err == nil {
			for _, loc := range locs {
				peer, ok := eligibleByUUID[loc.PeerUUID]
				if !ok {
					continue
				}
				m.deleteRemoteChunk(peer, meta.FileUUID, loc.Index)
				m.DB.DeleteLocation(meta.FileUUID, loc.Index, loc.PeerUUID)
			}
		}

		if err := m.Store.DeleteFileChunks(meta.OwnerUUID, meta.FileUUID); err != nil && m.Log != nil {
			m.Log.WithError(err).Warn("failed to delete expired chunk directory")
		}
		chunks, err := m.DB.GetChunksByFile(meta.OwnerUUID, meta.FileUUID)
		if err == nil {
			for _, c := range chunks {
				m.DB.DeleteChunk(meta.OwnerUUID, meta.FileUUID, c.Index)
			}
		}
		if err := m.DB.DeleteFileMetadata(meta.OwnerUUID, meta.FileUUID); err != nil && m.Log != nil {
			m.Log.WithError(err).Warn("failed to delete expired file metadata")
		}

		m.mu.Lock()
		delete(m.degraded, meta.FileUUID)
		m.mu.Unlock()
	}
	return nil
}

func (m *Manager) deleteRemoteChunk(peer peerset.Snapshot, fileUUID string, idx int) {
	addr := fmt.Sprintf("%s:%d", peer.IP, peer.Port)
	req := map[string]interface{}{"owner": m.Self, "file_uuid": fileUUID, "idx": idx}
	ctx, cancel := context.WithTimeout(context.Background(), rpcpeer.DefaultTimeout)
	defer cancel()
	m.RPC.Call(ctx, addr, "delete_chunk", req, nil)
}

// StartSweeps launches the replication and expiry background sweeps on
// the given intervals (the daemon passes 60s and 3600s), stopping when
// ctx is cancelled. The expiry sweep runs CleanupExpiredChunks, which
// also purges remote copies. chunking.Manager.StartBackgroundTasks
// takes its own optional expiry callback; the daemon passes nil there,
// so expired files are swept only here.
func (m *Manager) StartSweeps(ctx context.Context, replicationInterval, expiryInterval time.Duration) {
	go m.runSweep(ctx, replicationInterval, m.ProcessPendingRelocations)
	go m.runSweep(ctx, expiryInterval, func() {
		if err := m.CleanupExpiredChunks(); err != nil && m.Log != nil {
			m.Log.WithError(err).Warn("expiry sweep failed")
		}
	})
}

func (m *Manager) runSweep(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
