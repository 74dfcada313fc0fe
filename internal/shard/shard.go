// Package shard implements the deterministic CID→shard mapping and the
// node-responsibility test used for placement decisions.
//
// Grounded on johnjansen-torua's internal/coordinator/shard_registry.go for
// the assignment bookkeeping shape (copy-out accessors), generalized from FNV-over-arbitrary-keys to the spec's
// sha256-prefix scheme over CIDs.
package shard

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
)

// Assignment is either an explicit set of shard ids or a list of
// inclusive ranges. An Assignment with both nil fields is
// responsible for no shards.
type Assignment struct {
	Shards []int        // explicit shard ids, or nil
	Ranges [][2]int     // inclusive [start, end] ranges, or nil
}

// ShardKey maps a CID to a shard id in [0, n). When cid isn't valid hex,
// it falls back to SHA-256 of the CID string, per spec §4.2.
func ShardKey(cid string, n int) int {
	if n <= 0 {
		return 0
	}
	prefix, ok := first6Bytes(cid)
	if !ok {
		sum := sha256.Sum256([]byte(cid))
		prefix = sum[:6]
	}
	var buf [8]byte
	copy(buf[2:], prefix)
	v := binary.BigEndian.Uint64(buf[:])
	return int(v % uint64(n))
}

// first6Bytes decodes cid as hex and returns its first 6 bytes, or false
// if cid is not valid hex of sufficient length.
func first6Bytes(cid string) ([]byte, bool) {
	if len(cid) < 12 {
		return nil, false
	}
	b, err := hex.DecodeString(cid[:12])
	if err != nil {
		return nil, false
	}
	return b, true
}

// Responsible reports whether shardKey is covered by assignment.
func Responsible(shardKey int, assignment Assignment) bool {
	for _, s := range assignment.Shards {
		if s == shardKey {
			return true
		}
	}
	for _, r := range assignment.Ranges {
		if shardKey >= r[0] && shardKey <= r[1] {
			return true
		}
	}
	return false
}

// ShouldStore reports whether a node with the given shard count and local
// assignment is responsible for storing cid.
func ShouldStore(cid string, shardCount int, local Assignment) bool {
	return Responsible(ShardKey(cid, shardCount), local)
}

// Stats summarizes shard coverage across the union of all known
// assignments in a cluster.
type Stats struct {
	TotalShards   int
	CoveredShards int
	AvgNodesPerShard float64
	MinNodesPerShard int
	MaxNodesPerShard int
}

// ComputeStats walks n shards and the given per-node assignments and
// reports distribution statistics over the union.
func ComputeStats(n int, assignments map[string]Assignment) Stats {
	counts := make([]int, n)
	for _, a := range assignments {
		for s := 0; s < n; s++ {
			if Responsible(s, a) {
				counts[s]++
			}
		}
	}

	st := Stats{TotalShards: n}
	if n == 0 {
		return st
	}
	total := 0
	st.MinNodesPerShard = counts[0]
	for _, c := range counts {
		if c > 0 {
			st.CoveredShards++
		}
		total += c
		if c < st.MinNodesPerShard {
			st.MinNodesPerShard = c
		}
		if c > st.MaxNodesPerShard {
			st.MaxNodesPerShard = c
		}
	}
	st.AvgNodesPerShard = float64(total) / float64(n)
	return st
}

// SortedShardIDs returns the explicit shard ids covered by an assignment,
// expanding ranges, in ascending order. Useful for diagnostics/CLI output.
func SortedShardIDs(a Assignment, n int) []int {
	seen := make(map[int]bool)
	for _, s := range a.Shards {
		if s >= 0 && s < n {
			seen[s] = true
		}
	}
	for _, r := range a.Ranges {
		for s := r[0]; s <= r[1] && s < n; s++ {
			if s >= 0 {
				seen[s] = true
			}
		}
	}
	out := make([]int, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}
