// Package chunkdb implements the embedded metadata store of spec.md
// §4.5 on top of gitlab.com/NebulousLabs/bolt, the same fork the
// teacher's own dependency graph carries (indirectly, via siad).
// Bolt's single-writer/MVCC-reader transaction model is itself the
// "single writer discipline" §4.5/§5 call for; no extra locking layer
// sits on top of it.
package chunkdb

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"gitlab.com/NebulousLabs/bolt"

	"go.decentralis.dev/core/internal/derrors"
)

var (
	bucketFileMetadata      = []byte("file_metadata")
	bucketChunks            = []byte("chunks")
	bucketChunkLocations    = []byte("chunk_locations")
	bucketChunkAssignments  = []byte("chunk_assignments")
	bucketReplicationHist   = []byte("replication_history")
	bucketPeers             = []byte("peers")
	bucketSchema            = []byte("schema")

	keySchemaVersion = []byte("version")

	schemaVersion = 1
)

// FileMetadata mirrors spec.md §3's FileMetadata entity.
type FileMetadata struct {
	FileUUID       string    `json:"file_uuid"`
	OwnerUUID      string    `json:"owner_uuid"`
	OriginalName   string    `json:"original_name"`
	OriginalSize   int64     `json:"original_size"`
	OriginalSHA256 string    `json:"original_sha256"`
	K              int       `json:"k"`
	M              int       `json:"m"`
	ChunkSize      int       `json:"chunk_size"`
	TotalChunks    int       `json:"total_chunks"`
	LRCGroupSize   int       `json:"lrc_group_size"`
	LRCGroups      [][]int   `json:"lrc_groups"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	ContentHash    string    `json:"content_hash"`
}

// Chunk mirrors spec.md §3's StoredChunk entity, keyed by
// (owner_uuid, file_uuid, idx).
type Chunk struct {
	OwnerUUID string    `json:"owner_uuid"`
	FileUUID  string    `json:"file_uuid"`
	Index     int       `json:"idx"`
	Role      string    `json:"role"`
	SizeBytes int       `json:"size_bytes"`
	SHA256    string    `json:"sha256"`
	StoredAt  time.Time `json:"stored_at"`
}

// Location mirrors spec.md §3's ChunkLocation / ChunkAssignment entity;
// Confirmed distinguishes a confirmed location from a pending
// assignment, but the two are stored in separate buckets (confirmed in
// chunk_locations, pending in chunk_assignments) so that a scan of one
// bucket never needs to filter on Confirmed.
type Location struct {
	FileUUID   string    `json:"file_uuid"`
	Index      int       `json:"idx"`
	PeerUUID   string    `json:"peer_uuid"`
	AssignedAt time.Time `json:"assigned_at"`
	Confirmed  bool      `json:"confirmed"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// ReplicationEvent mirrors a replication_history row.
type ReplicationEvent struct {
	ID        uint64    `json:"id"`
	FileUUID  string    `json:"file_uuid"`
	Index     int       `json:"idx"`
	FromPeer  string    `json:"from_peer"`
	ToPeer    string    `json:"to_peer"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
}

// Peer mirrors spec.md §3's PeerInfo entity (bolt storage only; the
// live, atomic-counter copy callers interact with lives in
// internal/peerset — this struct is the row shape persisted between
// restarts).
type Peer struct {
	PeerUUID     string    `json:"peer_uuid"`
	IP           string    `json:"ip"`
	Port         int       `json:"port"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
}

// LocalStats is the result of GetLocalStats.
type LocalStats struct {
	FileCount        int
	LocalChunkCount  int
	ForeignChunkCount int
}

// DB wraps a bolt database handle opened on the schema of spec.md §4.5.
type DB struct {
	bolt *bolt.DB
}

// Open opens (creating if absent) the database at path, ensures every
// top-level bucket exists, and applies forward schema migrations. Bolt
// itself enforces the single-writer discipline; Open does not need to
// take any additional lock.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", derrors.ErrChunkDatabase, err)
	}
	db := &DB{bolt: bdb}
	if err := db.migrate(); err != nil {
		bdb.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrate() error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketFileMetadata, bucketChunks, bucketChunkLocations,
			bucketChunkAssignments, bucketReplicationHist, bucketPeers,
			bucketSchema,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("%w: creating bucket %s: %v", derrors.ErrChunkDatabase, name, err)
			}
		}
		schema := tx.Bucket(bucketSchema)
		if schema.Get(keySchemaVersion) == nil {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(schemaVersion))
			return schema.Put(keySchemaVersion, buf)
		}
		// No migrations beyond version 1 exist yet; a later version bump
		// would read the stored value here and apply forward steps.
		return nil
	})
}

// Close flushes and closes the underlying database file.
func (db *DB) Close() error {
	return db.bolt.Close()
}

func fileKey(ownerUUID, fileUUID string) []byte {
	return []byte(ownerUUID + "/" + fileUUID)
}

func chunkKey(ownerUUID, fileUUID string, idx int) []byte {
	return []byte(fmt.Sprintf("%s/%s/%08d", ownerUUID, fileUUID, idx))
}

func locationKey(fileUUID string, idx int, peerUUID string) []byte {
	return []byte(fmt.Sprintf("%s/%08d/%s", fileUUID, idx, peerUUID))
}

// PutFileMetadata inserts or replaces a file_metadata row.
func (db *DB) PutFileMetadata(meta FileMetadata) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		b, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("%w: %v", derrors.ErrChunkDatabase, err)
		}
		return tx.Bucket(bucketFileMetadata).Put(fileKey(meta.OwnerUUID, meta.FileUUID), b)
	})
}

// GetFileMetadata fetches a file_metadata row, returning
// derrors.ErrChunkNotFound if absent.
func (db *DB) GetFileMetadata(ownerUUID, fileUUID string) (FileMetadata, error) {
	var meta FileMetadata
	err := db.bolt.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketFileMetadata).Get(fileKey(ownerUUID, fileUUID))
		if raw == nil {
			return derrors.ErrChunkNotFound
		}
		return json.Unmarshal(raw, &meta)
	})
	return meta, err
}

// GetFileMetadataByName implements spec.md §4.5's
// get_file_metadata_by_name(owner, name) query.
func (db *DB) GetFileMetadataByName(ownerUUID, name string) (FileMetadata, error) {
	var found FileMetadata
	err := db.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketFileMetadata).Cursor()
		prefix := []byte(ownerUUID + "/")
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var meta FileMetadata
			if err := json.Unmarshal(v, &meta); err != nil {
				return fmt.Errorf("%w: %v", derrors.ErrChunkDatabase, err)
			}
			if meta.OriginalName == name {
				found = meta
				return nil
			}
		}
		return derrors.ErrChunkNotFound
	})
	return found, err
}

// GetFileMetadataByUUID finds a file_metadata row by file_uuid alone,
// regardless of owner. Used by the replication manager, which learns
// about a file only via its chunk_locations rows (file_uuid + idx, no
// owner). This is an O(n) scan of the bucket; it is only ever called
// from the infrequent replication sweep, never a hot path.
func (db *DB) GetFileMetadataByUUID(fileUUID string) (FileMetadata, error) {
	var found FileMetadata
	err := db.bolt.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFileMetadata).ForEach(func(_, v []byte) error {
			var meta FileMetadata
			if err := json.Unmarshal(v, &meta); err != nil {
				return fmt.Errorf("%w: %v", derrors.ErrChunkDatabase, err)
			}
			if meta.FileUUID == fileUUID {
				found = meta
			}
			return nil
		})
	})
	if err != nil {
		return FileMetadata{}, err
	}
	if found.FileUUID == "" {
		return FileMetadata{}, derrors.ErrChunkNotFound
	}
	return found, nil
}

// DeleteFileMetadata removes a file_metadata row.
func (db *DB) DeleteFileMetadata(ownerUUID, fileUUID string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFileMetadata).Delete(fileKey(ownerUUID, fileUUID))
	})
}

// ListFileMetadata returns every file_metadata row, used by the expiry
// and degraded-file sweeps.
func (db *DB) ListFileMetadata() ([]FileMetadata, error) {
	var out []FileMetadata
	err := db.bolt.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFileMetadata).ForEach(func(_, v []byte) error {
			var meta FileMetadata
			if err := json.Unmarshal(v, &meta); err != nil {
				return fmt.Errorf("%w: %v", derrors.ErrChunkDatabase, err)
			}
			out = append(out, meta)
			return nil
		})
	})
	return out, err
}

// PutChunk inserts or replaces a chunks row.
func (db *DB) PutChunk(c Chunk) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("%w: %v", derrors.ErrChunkDatabase, err)
		}
		return tx.Bucket(bucketChunks).Put(chunkKey(c.OwnerUUID, c.FileUUID, c.Index), b)
	})
}

// DeleteChunk removes a chunks row. Deleting an absent row is a no-op,
// matching spec.md §7's idempotent-delete policy.
func (db *DB) DeleteChunk(ownerUUID, fileUUID string, idx int) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChunks).Delete(chunkKey(ownerUUID, fileUUID, idx))
	})
}

// GetChunksByFile implements spec.md §4.5's get_chunks_by_file query.
func (db *DB) GetChunksByFile(ownerUUID, fileUUID string) ([]Chunk, error) {
	var out []Chunk
	err := db.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketChunks).Cursor()
		prefix := []byte(ownerUUID + "/" + fileUUID + "/")
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var chunk Chunk
			if err := json.Unmarshal(v, &chunk); err != nil {
				return fmt.Errorf("%w: %v", derrors.ErrChunkDatabase, err)
			}
			out = append(out, chunk)
		}
		return nil
	})
	return out, err
}

// PutLocation upserts a confirmed chunk_locations row.
func (db *DB) PutLocation(loc Location) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		b, err := json.Marshal(loc)
		if err != nil {
			return fmt.Errorf("%w: %v", derrors.ErrChunkDatabase, err)
		}
		return tx.Bucket(bucketChunkLocations).Put(locationKey(loc.FileUUID, loc.Index, loc.PeerUUID), b)
	})
}

// DeleteLocation removes a confirmed chunk_locations row.
func (db *DB) DeleteLocation(fileUUID string, idx int, peerUUID string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChunkLocations).Delete(locationKey(fileUUID, idx, peerUUID))
	})
}

// GetLocationsByFile returns every confirmed location for a file.
func (db *DB) GetLocationsByFile(fileUUID string) ([]Location, error) {
	var out []Location
	err := db.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketChunkLocations).Cursor()
		prefix := []byte(fileUUID + "/")
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var loc Location
			if err := json.Unmarshal(v, &loc); err != nil {
				return fmt.Errorf("%w: %v", derrors.ErrChunkDatabase, err)
			}
			out = append(out, loc)
		}
		return nil
	})
	return out, err
}

// GetLocationsByPeer implements spec.md §4.5's
// get_locations_by_peer(peer_uuid) query, scanning both confirmed
// locations and pending assignments.
func (db *DB) GetLocationsByPeer(peerUUID string) ([]Location, error) {
	var out []Location
	err := db.bolt.View(func(tx *bolt.Tx) error {
		for _, bucket := range []*bolt.Bucket{tx.Bucket(bucketChunkLocations), tx.Bucket(bucketChunkAssignments)} {
			err := bucket.ForEach(func(_, v []byte) error {
				var loc Location
				if err := json.Unmarshal(v, &loc); err != nil {
					return fmt.Errorf("%w: %v", derrors.ErrChunkDatabase, err)
				}
				if loc.PeerUUID == peerUUID {
					out = append(out, loc)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// PutAssignment upserts a pending chunk_assignments row.
func (db *DB) PutAssignment(loc Location) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		b, err := json.Marshal(loc)
		if err != nil {
			return fmt.Errorf("%w: %v", derrors.ErrChunkDatabase, err)
		}
		return tx.Bucket(bucketChunkAssignments).Put(locationKey(loc.FileUUID, loc.Index, loc.PeerUUID), b)
	})
}

// DeleteAssignment removes a pending chunk_assignments row, typically
// once it has been confirmed and promoted to chunk_locations.
func (db *DB) DeleteAssignment(fileUUID string, idx int, peerUUID string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChunkAssignments).Delete(locationKey(fileUUID, idx, peerUUID))
	})
}

// AppendReplicationHistory records a replication_history row, assigning
// it the next monotonic ID within the bucket.
func (db *DB) AppendReplicationHistory(ev ReplicationEvent) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketReplicationHist)
		id, _ := bucket.NextSequence()
		ev.ID = id
		b, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("%w: %v", derrors.ErrChunkDatabase, err)
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, id)
		return bucket.Put(key, b)
	})
}

// PutPeer upserts a peers row.
func (db *DB) PutPeer(p Peer) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("%w: %v", derrors.ErrChunkDatabase, err)
		}
		return tx.Bucket(bucketPeers).Put([]byte(p.PeerUUID), b)
	})
}

// GetPeer fetches a peers row, returning derrors.ErrChunkNotFound if
// the peer has never been observed.
func (db *DB) GetPeer(peerUUID string) (Peer, error) {
	var p Peer
	err := db.bolt.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketPeers).Get([]byte(peerUUID))
		if raw == nil {
			return derrors.ErrChunkNotFound
		}
		return json.Unmarshal(raw, &p)
	})
	return p, err
}

// ListPeers returns every known peer; entries are never hard-deleted
// per spec.md §3, only marked stale by their LastSeen field.
func (db *DB) ListPeers() ([]Peer, error) {
	var out []Peer
	err := db.bolt.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPeers).ForEach(func(_, v []byte) error {
			var p Peer
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("%w: %v", derrors.ErrChunkDatabase, err)
			}
			out = append(out, p)
			return nil
		})
	})
	return out, err
}

// GetLocalStats implements spec.md §4.5's get_local_stats query.
// selfUUID distinguishes chunks this node owns (LocalChunkCount) from
// chunks it merely hosts on behalf of other peers (ForeignChunkCount).
func (db *DB) GetLocalStats(selfUUID string) (LocalStats, error) {
	var stats LocalStats
	err := db.bolt.View(func(tx *bolt.Tx) error {
		files := make(map[string]struct{})
		if err := tx.Bucket(bucketChunks).ForEach(func(k, v []byte) error {
			var c Chunk
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("%w: %v", derrors.ErrChunkDatabase, err)
			}
			if c.OwnerUUID == selfUUID {
				files[c.OwnerUUID+"/"+c.FileUUID] = struct{}{}
				stats.LocalChunkCount++
			} else {
				stats.ForeignChunkCount++
			}
			return nil
		}); err != nil {
			return err
		}
		stats.FileCount = len(files)
		return nil
	})
	return stats, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
