// Package peerset tracks the live, in-memory view of known peers
// described in spec.md §3/§5: atomic reliability counters per peer and
// a read-copy-update snapshot that the chunking manager subscribes to.
// The RCU discipline mirrors the teacher's download-worker "available
// hosts" snapshot in cmd/skyrecover/recovery.go, generalized from a
// one-shot slice to a continuously republished atomic.Value.
package peerset

import (
	"sort"
	"sync/atomic"
	"time"

	"go.decentralis.dev/core/internal/clock"
)

// Peer is the live view of one known peer. SuccessCount/FailureCount
// are accessed only through atomic operations so RPC goroutines can
// update them without a lock.
type Peer struct {
	UUID      string
	IP        string
	Port      int
	FirstSeen time.Time

	lastSeen     int64 // unix nanos, atomic
	successCount int64 // atomic, starts at 1 (Laplace smoothing)
	failureCount int64 // atomic, starts at 1 (Laplace smoothing)
}

// Snapshot is an immutable point-in-time view of a Peer, safe to read
// without synchronization.
type Snapshot struct {
	UUID         string
	IP           string
	Port         int
	FirstSeen    time.Time
	LastSeen     time.Time
	SuccessCount int64
	FailureCount int64
}

// Reliability computes successes / (successes + failures) with
// Laplace smoothing, per spec.md §3.
func (s Snapshot) Reliability() float64 {
	return float64(s.SuccessCount) / float64(s.SuccessCount+s.FailureCount)
}

// Set.Eligible takes the keepalive window (how long after LastSeen a
// peer remains eligible) as an already-resolved duration; callers
// express it as a multiple of the tracker client's keepalive interval.

// newPeer starts a peer's counters at 1/1 (Laplace smoothing), so a
// brand-new peer with no history has reliability exactly 0.5.
func newPeer(uuid, ip string, port int, now time.Time) *Peer {
	return &Peer{
		UUID:         uuid,
		IP:           ip,
		Port:         port,
		FirstSeen:    now,
		lastSeen:     now.UnixNano(),
		successCount: 1,
		failureCount: 1,
	}
}

func (p *Peer) snapshot() Snapshot {
	return Snapshot{
		UUID:         p.UUID,
		IP:           p.IP,
		Port:         p.Port,
		FirstSeen:    p.FirstSeen,
		LastSeen:     time.Unix(0, atomic.LoadInt64(&p.lastSeen)),
		SuccessCount: atomic.LoadInt64(&p.successCount),
		FailureCount: atomic.LoadInt64(&p.failureCount),
	}
}

// RecordSuccess increments the success counter and refreshes LastSeen.
// A successful RPC never decreases reliability (spec.md §8 invariant 9).
func (p *Peer) RecordSuccess(now time.Time) {
	atomic.AddInt64(&p.successCount, 1)
	atomic.StoreInt64(&p.lastSeen, now.UnixNano())
}

// RecordFailure increments the failure counter. A failed RPC never
// increases reliability.
func (p *Peer) RecordFailure() {
	atomic.AddInt64(&p.failureCount, 1)
}

// Touch refreshes LastSeen without affecting reliability, used when a
// peer reappears in a tracker getpeers response.
func (p *Peer) Touch(now time.Time) {
	atomic.StoreInt64(&p.lastSeen, now.UnixNano())
}

// Set is the read-copy-update peer registry: writers (tracker-client
// callbacks, RPC result handlers) call Upsert/RecordSuccess/
// RecordFailure; readers call All or Eligible for an immutable view, per
// spec.md §5 ("writers publish a new immutable snapshot; readers see
// either the old or the new list, never a partial one").
type Set struct {
	clock clock.Clock
	live  map[string]*Peer // never read concurrently with snapshot publication; guarded by snapshot republish below
	view  atomic.Value     // []Snapshot
}

// New returns an empty peer set using clk for all "now" calculations.
func New(clk clock.Clock) *Set {
	s := &Set{clock: clk, live: make(map[string]*Peer)}
	s.view.Store([]Snapshot{})
	return s
}

// Upsert registers a newly observed peer (first_seen = now) or
// refreshes last_seen for an already-known one, then republishes the
// snapshot. This is the single mutation path invoked by tracker-client
// getpeers callbacks.
func (s *Set) Upsert(uuid, ip string, port int) {
	now := s.clock.Now()
	p, ok := s.live[uuid]
	if !ok {
		p = newPeer(uuid, ip, port, now)
		s.live[uuid] = p
	} else {
		p.IP, p.Port = ip, port
		p.Touch(now)
	}
	s.republish()
}

// Get returns the live *Peer for mutation by RPC result handlers
// (RecordSuccess/RecordFailure), or nil if unknown.
func (s *Set) Get(uuid string) *Peer {
	return s.live[uuid]
}

// republish rebuilds the public snapshot slice. Called only from
// Upsert, which is itself only ever invoked from the single
// tracker-client callback goroutine, so no additional locking is
// needed around the map mutation.
func (s *Set) republish() {
	snaps := make([]Snapshot, 0, len(s.live))
	for _, p := range s.live {
		snaps = append(snaps, p.snapshot())
	}
	s.view.Store(snaps)
}

// All returns the current immutable snapshot of every known peer.
func (s *Set) All() []Snapshot {
	return s.view.Load().([]Snapshot)
}

// Eligible returns every known peer with reliability >= 0.5 and
// LastSeen within keepaliveWindow of now, per spec.md §3's
// "eligible for placement" definition, ordered by descending
// reliability (the order reconstruct_file retrieval and
// distribute_chunks round-robin both want).
func (s *Set) Eligible(now time.Time, keepaliveWindow time.Duration) []Snapshot {
	all := s.All()
	out := make([]Snapshot, 0, len(all))
	for _, snap := range all {
		if snap.Reliability() >= 0.5 && now.Sub(snap.LastSeen) <= keepaliveWindow {
			out = append(out, snap)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Reliability() > out[j].Reliability()
	})
	return out
}
