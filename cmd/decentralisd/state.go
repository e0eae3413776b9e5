package main

import (
	"github.com/sirupsen/logrus"

	"go.decentralis.dev/core/internal/chunkdb"
	"go.decentralis.dev/core/internal/chunking"
	"go.decentralis.dev/core/internal/chunkstore"
	"go.decentralis.dev/core/internal/clock"
	"go.decentralis.dev/core/internal/peerset"
	"go.decentralis.dev/core/internal/rpcpeer"
)

// state bundles the collaborators every CLI subcommand needs: the
// metadata db, chunk store, chunking manager, and this node's own
// identity. One-shot commands build a manager around the peer list
// last persisted by the daemon (chunkdb's peers bucket) rather than a
// live peerset.Set, since they do not run a tracker keepalive loop
// themselves.
type state struct {
	cfg     config
	db      *chunkdb.DB
	store   *chunkstore.Store
	mgr     *chunking.Manager
	selfID  string
}

func openState(cfg config) (*state, error) {
	db, err := chunkdb.Open(cfg.dbPath())
	if err != nil {
		return nil, err
	}
	store, err := chunkstore.New(cfg.dataDir)
	if err != nil {
		db.Close()
		return nil, err
	}
	selfID, err := loadOrCreateSelfUUID(cfg.dataDir)
	if err != nil {
		db.Close()
		return nil, err
	}

	mgr := chunking.New(cfg.chunkingConfig(), db, store, rpcpeer.NewClient(), dbBackedPeerLister(db), clock.Wall{}, nil, selfID)
	return &state{cfg: cfg, db: db, store: store, mgr: mgr, selfID: selfID}, nil
}

func (s *state) Close() {
	s.db.Close()
}

// dbBackedPeerLister reconstructs peerset.Snapshots from the peers
// bucket the daemon persists, so one-shot CLI commands (chunk, status,
// reconstruct) get a peer list without running their own tracker
// keepalive loop. It returns every persisted peer; it applies no
// reliability or last-seen filter and no reliability ordering.
func dbBackedPeerLister(db *chunkdb.DB) func() []peerset.Snapshot {
	return func() []peerset.Snapshot {
		peers, err := db.ListPeers()
		if err != nil {
			return nil
		}
		out := make([]peerset.Snapshot, 0, len(peers))
		for _, p := range peers {
			out = append(out, peerset.Snapshot{
				UUID:         p.PeerUUID,
				IP:           p.IP,
				Port:         p.Port,
				FirstSeen:    p.FirstSeen,
				LastSeen:     p.LastSeen,
				SuccessCount: int64(p.SuccessCount),
				FailureCount: int64(p.FailureCount),
			})
		}
		return out
	}
}

func newLogger(debug bool) *logrus.Entry {
	log := logrus.New()
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}
	return logrus.NewEntry(log)
}
