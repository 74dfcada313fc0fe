package reputation_test

import (
	"math"
	"testing"
	"time"

	"github.com/zynqcloud/vaultnode/internal/reputation"
)

func TestNewNodeStartsAtBaseline(t *testing.T) {
	tr := reputation.New(nil)
	if got := tr.Score("node-a"); got != reputation.BaselineScore {
		t.Errorf("Score = %d, want baseline %d", got, reputation.BaselineScore)
	}
}

func TestPenaltyLowersScore(t *testing.T) {
	tr := reputation.New(nil)
	tr.ApplyPenalty("node-a", reputation.EventProofFailure, "cid1")
	if got := tr.Score("node-a"); got >= reputation.BaselineScore {
		t.Errorf("Score = %d, want below baseline after a penalty", got)
	}
}

func TestRewardRaisesScore(t *testing.T) {
	tr := reputation.New(nil)
	tr.ApplyReward("node-a", reputation.EventReplicationSuccess, "cid1")
	if got := tr.Score("node-a"); got <= reputation.BaselineScore {
		t.Errorf("Score = %d, want above baseline after a reward", got)
	}
}

func TestScoreClampsToBounds(t *testing.T) {
	tr := reputation.New(nil)
	for i := 0; i < 50; i++ {
		tr.ApplyPenalty("node-a", reputation.EventFeedViolation, "cid1")
	}
	if got := tr.Score("node-a"); got != reputation.MinScore {
		t.Errorf("Score = %d, want clamped to MinScore %d", got, reputation.MinScore)
	}
}

func TestDecayPullsScoreBackTowardBaseline(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := reputation.New(func() time.Time { return clock })

	tr.ApplyPenalty("node-a", reputation.EventFeedViolation, "cid1")
	scoreAfterPenalty := tr.Score("node-a")

	clock = clock.Add(14 * 24 * time.Hour)
	scoreAfterTau := tr.Score("node-a")

	if scoreAfterTau <= scoreAfterPenalty {
		t.Fatalf("expected decay to raise score back toward baseline: before=%d after=%d", scoreAfterPenalty, scoreAfterTau)
	}

	// After one decay constant τ, e^-1 of the offset from baseline remains.
	want := int(math.Round(reputation.BaselineScore + float64(scoreAfterPenalty-reputation.BaselineScore)*math.Exp(-1)))
	if diff := scoreAfterTau - want; diff > 1 || diff < -1 {
		t.Errorf("after one decay constant, score %d should be near %d (baseline plus e^-1 of the penalty offset)", scoreAfterTau, want)
	}
}

func TestGetSnapshotTracksEventCount(t *testing.T) {
	tr := reputation.New(nil)
	tr.ApplyReward("node-a", reputation.EventUptimeCheck, "")
	tr.ApplyReward("node-a", reputation.EventUptimeCheck, "")
	snap := tr.GetSnapshot("node-a")
	if snap.EventCount != 2 {
		t.Errorf("EventCount = %d, want 2", snap.EventCount)
	}
}

func TestHistoryReturnsIndependentCopy(t *testing.T) {
	tr := reputation.New(nil)
	tr.ApplyReward("node-a", reputation.EventUptimeCheck, "cidX")
	hist := tr.History("node-a")
	if len(hist) != 1 {
		t.Fatalf("History length = %d, want 1", len(hist))
	}
	hist[0].CID = "mutated"
	if tr.History("node-a")[0].CID != "cidX" {
		t.Error("History should return a copy, not a shared slice")
	}
}

func TestUnknownNodeHasEmptyHistory(t *testing.T) {
	tr := reputation.New(nil)
	if hist := tr.History("nobody"); hist != nil {
		t.Errorf("History for unknown node = %v, want nil", hist)
	}
}
