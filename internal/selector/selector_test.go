package selector_test

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/zynqcloud/vaultnode/internal/selector"
	"github.com/zynqcloud/vaultnode/internal/shard"
)

func hexCID(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

func fiveEqualCandidates() []selector.Candidate {
	return []selector.Candidate{
		{NodeID: "N1", Score: 800},
		{NodeID: "N2", Score: 800},
		{NodeID: "N3", Score: 800},
		{NodeID: "N4", Score: 800},
		{NodeID: "N5", Score: 800},
	}
}

// S3 from the spec: selection is deterministic and stable across repeated
// calls for the same CID.
func TestSelectDeterministic(t *testing.T) {
	cid := hexCID("placement")
	candidates := fiveEqualCandidates()

	r1 := selector.Select(cid, candidates, 3, nil, false, 0)
	r2 := selector.Select(cid, candidates, 3, nil, false, 0)

	if len(r1.Selected) != 3 || len(r2.Selected) != 3 {
		t.Fatalf("expected 3 selected nodes, got %d and %d", len(r1.Selected), len(r2.Selected))
	}
	for i := range r1.Selected {
		if r1.Selected[i].NodeID != r2.Selected[i].NodeID {
			t.Fatalf("selection order differs between calls: %v vs %v", r1.Selected, r2.Selected)
		}
	}
}

func TestSelectExcludesLowReputation(t *testing.T) {
	cid := hexCID("low-rep")
	candidates := append(fiveEqualCandidates(),
		selector.Candidate{NodeID: "Low1", Score: 150},
		selector.Candidate{NodeID: "Low2", Score: 150},
	)

	r := selector.Select(cid, candidates, 3, nil, false, 0)
	for _, c := range r.Selected {
		if c.NodeID == "Low1" || c.NodeID == "Low2" {
			t.Fatalf("low-reputation candidate %q was selected", c.NodeID)
		}
	}

	found := map[string]bool{}
	for _, e := range r.Excluded {
		found[e.NodeID] = true
		if (e.NodeID == "Low1" || e.NodeID == "Low2") && e.Reason != "low_reputation" {
			t.Errorf("exclusion reason for %q = %q, want low_reputation", e.NodeID, e.Reason)
		}
	}
	if !found["Low1"] || !found["Low2"] {
		t.Error("expected both low-reputation candidates to appear in Excluded")
	}
}

func TestSelectRespectsExcludedSet(t *testing.T) {
	cid := hexCID("excluded")
	candidates := fiveEqualCandidates()
	excluded := map[string]bool{"N1": true}

	r := selector.Select(cid, candidates, 3, excluded, false, 0)
	for _, c := range r.Selected {
		if c.NodeID == "N1" {
			t.Fatal("explicitly excluded candidate was selected")
		}
	}
}

func TestSelectShardAware(t *testing.T) {
	cid := hexCID("shard-aware")
	key := shard.ShardKey(cid, 16)

	responsible := selector.Candidate{NodeID: "R1", Score: 800, Shards: shard.Assignment{Shards: []int{key}}}
	notResponsible := selector.Candidate{NodeID: "R2", Score: 800, Shards: shard.Assignment{Shards: []int{(key + 1) % 16}}}

	r := selector.Select(cid, []selector.Candidate{responsible, notResponsible}, 2, nil, true, 16)
	if len(r.Selected) != 1 || r.Selected[0].NodeID != "R1" {
		t.Fatalf("shard-aware selection = %v, want only R1", r.Selected)
	}
	var reason string
	for _, e := range r.Excluded {
		if e.NodeID == "R2" {
			reason = e.Reason
		}
	}
	if reason != "not_responsible_for_shard" {
		t.Errorf("exclusion reason for R2 = %q, want not_responsible_for_shard", reason)
	}
}

func TestSelectKGreaterThanSurvivors(t *testing.T) {
	cid := hexCID("small-pool")
	candidates := []selector.Candidate{{NodeID: "A", Score: 800}, {NodeID: "B", Score: 800}}
	r := selector.Select(cid, candidates, 5, nil, false, 0)
	if len(r.Selected) != 2 {
		t.Fatalf("Selected = %d, want 2 (all survivors)", len(r.Selected))
	}
}

func TestSelectNegativeKSelectsNone(t *testing.T) {
	cid := hexCID("negative-k")
	r := selector.Select(cid, fiveEqualCandidates(), -1, nil, false, 0)
	if len(r.Selected) != 0 {
		t.Fatalf("Selected = %d, want 0 for negative k", len(r.Selected))
	}
}

func TestSelectReplacementsExcludesCurrentAndFailed(t *testing.T) {
	cid := hexCID("replacement")
	candidates := fiveEqualCandidates()

	r := selector.SelectReplacements(cid, candidates, 2, []string{"N1"}, []string{"N2"}, false, 0)
	for _, c := range r.Selected {
		if c.NodeID == "N1" || c.NodeID == "N2" {
			t.Fatalf("replacement selection included excluded node %q", c.NodeID)
		}
	}
}

func TestRankByReputationDescendingWithDefault(t *testing.T) {
	candidates := []selector.Candidate{
		{NodeID: "low", Score: 100},
		{NodeID: "unset", Score: 0},
		{NodeID: "high", Score: 900},
	}
	ranked := selector.RankByReputation(candidates)
	if ranked[0].NodeID != "high" {
		t.Fatalf("first ranked = %q, want high", ranked[0].NodeID)
	}
	if ranked[len(ranked)-1].NodeID != "low" {
		t.Fatalf("last ranked = %q, want low (unset defaults to %d)", ranked[len(ranked)-1].NodeID, selector.DefaultReputationScore)
	}

	// RankByReputation must not mutate its input.
	if candidates[1].Score != 0 {
		t.Error("RankByReputation mutated the input slice")
	}
}
