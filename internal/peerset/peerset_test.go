package peerset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.decentralis.dev/core/internal/clock"
)

func TestNewPeerStartsAtReliabilityOneHalf(t *testing.T) {
	clk := clock.NewFrozen(time.Unix(1000, 0))
	set := New(clk)
	set.Upsert("peer-a", "127.0.0.1", 9981)

	all := set.All()
	require.Len(t, all, 1)
	require.Equal(t, 0.5, all[0].Reliability())
}

func TestReliabilityMonotonicity(t *testing.T) {
	clk := clock.NewFrozen(time.Unix(1000, 0))
	set := New(clk)
	set.Upsert("peer-a", "127.0.0.1", 9981)

	p := set.Get("peer-a")
	before := set.All()[0].Reliability()

	p.RecordSuccess(clk.Now())
	after := set.All()
	require.GreaterOrEqual(t, after[0].Reliability(), before)

	before = after[0].Reliability()
	p.RecordFailure()
	after = set.All()
	require.LessOrEqual(t, after[0].Reliability(), before)
}

func TestEligibleFiltersByReliabilityAndFreshness(t *testing.T) {
	clk := clock.NewFrozen(time.Unix(1000, 0))
	set := New(clk)
	set.Upsert("reliable", "10.0.0.1", 1)
	set.Upsert("unreliable", "10.0.0.2", 2)
	set.Upsert("stale", "10.0.0.3", 3)

	set.Get("reliable").RecordSuccess(clk.Now())
	for i := 0; i < 5; i++ {
		set.Get("unreliable").RecordFailure()
	}
	set.Get("stale").Touch(clk.Now().Add(-time.Hour))

	window := 15 * time.Second
	eligible := set.Eligible(clk.Now(), window)

	var uuids []string
	for _, s := range eligible {
		uuids = append(uuids, s.UUID)
	}
	require.Contains(t, uuids, "reliable")
	require.NotContains(t, uuids, "unreliable")
	require.NotContains(t, uuids, "stale")
}

func TestEligibleOrderedByDescendingReliability(t *testing.T) {
	clk := clock.NewFrozen(time.Unix(1000, 0))
	set := New(clk)
	set.Upsert("a", "1.1.1.1", 1)
	set.Upsert("b", "2.2.2.2", 2)

	set.Get("a").RecordSuccess(clk.Now())
	for i := 0; i < 3; i++ {
		set.Get("b").RecordSuccess(clk.Now())
	}

	eligible := set.Eligible(clk.Now(), time.Minute)
	require.Len(t, eligible, 2)
	require.GreaterOrEqual(t, eligible[0].Reliability(), eligible[1].Reliability())
}
