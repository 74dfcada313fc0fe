// Package selector implements deterministic replica selection: given a
// CID and a candidate node set, pick k nodes via a CID-keyed sort so that
// selection is reproducible and uniform over random CIDs without any
// coordination between nodes.
//
// Grounded on johnjansen-torua's shard_registry.go for the
// "copy out, never leak internal slices" accessor discipline.
package selector

import (
	"crypto/sha256"
	"sort"

	"github.com/zynqcloud/vaultnode/internal/shard"
)

// MinReputationScore is the floor below which a candidate is excluded
// from selection.
const MinReputationScore = 200

// DefaultReputationScore is used by RankByReputation when a candidate
// carries no known score.
const DefaultReputationScore = 500

// Candidate is a selectable node.
type Candidate struct {
	NodeID string
	URL    string
	Score  int // reputation score; see reputation package
	Shards shard.Assignment
}

// Exclusion records why a candidate was not selected.
type Exclusion struct {
	NodeID string
	Reason string
}

// Result is the outcome of a selection round.
type Result struct {
	Selected []Candidate
	Excluded []Exclusion
}

// Select deterministically picks up to k candidates for cid.
//
// Filtering order: excluded set, minimum-reputation floor, then
// (if shardAware) shard responsibility. Survivors are sorted ascending by
// SHA-256(cid ":" nodeId) and the first k are returned.
func Select(cid string, candidates []Candidate, k int, excluded map[string]bool, shardAware bool, shardCount int) Result {
	var survivors []Candidate
	var res Result

	for _, c := range candidates {
		if excluded[c.NodeID] {
			res.Excluded = append(res.Excluded, Exclusion{c.NodeID, "excluded"})
			continue
		}
		if c.Score < MinReputationScore {
			res.Excluded = append(res.Excluded, Exclusion{c.NodeID, "low_reputation"})
			continue
		}
		if shardAware && !shard.Responsible(shard.ShardKey(cid, shardCount), c.Shards) {
			res.Excluded = append(res.Excluded, Exclusion{c.NodeID, "not_responsible_for_shard"})
			continue
		}
		survivors = append(survivors, c)
	}

	sort.Slice(survivors, func(i, j int) bool {
		return selectionKey(cid, survivors[i].NodeID) < selectionKey(cid, survivors[j].NodeID)
	})

	if k < 0 {
		k = 0
	}
	if k > len(survivors) {
		k = len(survivors)
	}
	res.Selected = append([]Candidate(nil), survivors[:k]...)
	for _, c := range survivors[k:] {
		res.Excluded = append(res.Excluded, Exclusion{c.NodeID, "not_ranked_within_k"})
	}
	return res
}

// selectionKey computes SHA-256(cid ":" nodeId) as a comparable string.
func selectionKey(cid, nodeID string) string {
	sum := sha256.Sum256([]byte(cid + ":" + nodeID))
	return string(sum[:])
}

// SelectReplacements runs Select with current ∪ failed added to the
// exclusion set — the same algorithm used for replacement selection
// after a replication attempt fails persistently.
func SelectReplacements(cid string, candidates []Candidate, k int, current, failed []string, shardAware bool, shardCount int) Result {
	excluded := make(map[string]bool, len(current)+len(failed))
	for _, n := range current {
		excluded[n] = true
	}
	for _, n := range failed {
		excluded[n] = true
	}
	return Select(cid, candidates, k, excluded, shardAware, shardCount)
}

// RankByReputation sorts candidates descending by score (unset/zero
// treated as DefaultReputationScore) and returns a new, copied slice.
func RankByReputation(candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].Score, out[j].Score
		if si == 0 {
			si = DefaultReputationScore
		}
		if sj == 0 {
			sj = DefaultReputationScore
		}
		return si > sj
	})
	return out
}
