package shard_test

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/zynqcloud/vaultnode/internal/shard"
)

func hexCID(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

func TestShardKeyInRange(t *testing.T) {
	ns := []int{1, 2, 3, 7, 16, 257, 1 << 20}
	for i := 0; i < 50; i++ {
		cid := hexCID(fmt.Sprintf("seed-%d", i))
		for _, n := range ns {
			k := shard.ShardKey(cid, n)
			if k < 0 || k >= n {
				t.Fatalf("ShardKey(%q, %d) = %d, out of [0, %d)", cid, n, k, n)
			}
		}
	}
}

func TestShardKeyDeterministic(t *testing.T) {
	cid := hexCID("deterministic")
	a := shard.ShardKey(cid, 64)
	b := shard.ShardKey(cid, 64)
	if a != b {
		t.Fatalf("ShardKey not deterministic: %d != %d", a, b)
	}
}

func TestShardKeyNonHexFallsBackToSHA256(t *testing.T) {
	// Not valid hex, and too short to even try.
	k1 := shard.ShardKey("not-a-cid", 16)
	k2 := shard.ShardKey("not-a-cid", 16)
	if k1 != k2 {
		t.Fatalf("fallback path not deterministic: %d != %d", k1, k2)
	}
	if k1 < 0 || k1 >= 16 {
		t.Fatalf("fallback ShardKey out of range: %d", k1)
	}
}

func TestShardKeyZeroOrNegativeN(t *testing.T) {
	cid := hexCID("edge")
	if got := shard.ShardKey(cid, 0); got != 0 {
		t.Errorf("ShardKey(cid, 0) = %d, want 0", got)
	}
}

func TestResponsibleExplicitShards(t *testing.T) {
	a := shard.Assignment{Shards: []int{2, 5, 9}}
	for _, s := range []int{2, 5, 9} {
		if !shard.Responsible(s, a) {
			t.Errorf("Responsible(%d) = false, want true", s)
		}
	}
	for _, s := range []int{0, 1, 3, 10} {
		if shard.Responsible(s, a) {
			t.Errorf("Responsible(%d) = true, want false", s)
		}
	}
}

func TestResponsibleRanges(t *testing.T) {
	a := shard.Assignment{Ranges: [][2]int{{10, 20}, {100, 100}}}
	if !shard.Responsible(10, a) || !shard.Responsible(20, a) || !shard.Responsible(15, a) {
		t.Error("expected range bounds and midpoint to be covered")
	}
	if !shard.Responsible(100, a) {
		t.Error("expected single-value range to be covered")
	}
	if shard.Responsible(9, a) || shard.Responsible(21, a) || shard.Responsible(101, a) {
		t.Error("expected values outside the ranges to be excluded")
	}
}

func TestResponsibleEmptyAssignment(t *testing.T) {
	if shard.Responsible(0, shard.Assignment{}) {
		t.Error("an assignment with no shards and no ranges should own nothing")
	}
}

func TestShouldStore(t *testing.T) {
	cid := hexCID("should-store")
	key := shard.ShardKey(cid, 16)
	local := shard.Assignment{Shards: []int{key}}
	if !shard.ShouldStore(cid, 16, local) {
		t.Error("expected ShouldStore = true when the assignment covers the CID's shard")
	}
	other := shard.Assignment{Shards: []int{(key + 1) % 16}}
	if shard.ShouldStore(cid, 16, other) {
		t.Error("expected ShouldStore = false when the assignment doesn't cover the CID's shard")
	}
}

func TestComputeStatsCoverage(t *testing.T) {
	assignments := map[string]shard.Assignment{
		"n1": {Shards: []int{0, 1}},
		"n2": {Shards: []int{1, 2}},
	}
	st := shard.ComputeStats(4, assignments)
	if st.TotalShards != 4 {
		t.Errorf("TotalShards = %d, want 4", st.TotalShards)
	}
	if st.CoveredShards != 3 {
		t.Errorf("CoveredShards = %d, want 3 (shard 3 is uncovered)", st.CoveredShards)
	}
	if st.MaxNodesPerShard != 2 {
		t.Errorf("MaxNodesPerShard = %d, want 2 (shard 1)", st.MaxNodesPerShard)
	}
	if st.MinNodesPerShard != 0 {
		t.Errorf("MinNodesPerShard = %d, want 0 (shard 3)", st.MinNodesPerShard)
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	st := shard.ComputeStats(0, nil)
	if st.TotalShards != 0 || st.CoveredShards != 0 {
		t.Errorf("expected zero-value stats for n=0, got %+v", st)
	}
}

func TestSortedShardIDsExpandsRangesAndDedupes(t *testing.T) {
	a := shard.Assignment{Shards: []int{5, 1}, Ranges: [][2]int{{1, 3}}}
	got := shard.SortedShardIDs(a, 10)
	want := []int{1, 2, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("SortedShardIDs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortedShardIDs = %v, want %v", got, want)
		}
	}
}
