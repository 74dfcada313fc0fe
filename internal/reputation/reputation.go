// Package reputation tracks a per-node trust score derived from recent
// behavior, decaying exponentially toward a neutral baseline over time so
// that old events stop dominating a node's standing.
package reputation

import (
	"math"
	"sync"
	"time"
)

// EventKind enumerates the scored events a node can be credited or
// penalized for.
type EventKind string

const (
	EventProofSuccess       EventKind = "proof_success"
	EventProofFailure       EventKind = "proof_failure"
	EventReplicationSuccess EventKind = "replication_success"
	EventReplicationFailure EventKind = "replication_failure"
	EventFeedViolation      EventKind = "feed_violation"
	EventUptimeCheck        EventKind = "uptime_check"
)

// weights maps each event kind to its score delta before decay.
var weights = map[EventKind]float64{
	EventProofSuccess:       2,
	EventProofFailure:       -25,
	EventReplicationSuccess: 5,
	EventReplicationFailure: -15,
	EventFeedViolation:      -100,
	EventUptimeCheck:        1,
}

const (
	// BaselineScore is the score a node decays toward absent further events.
	BaselineScore = 500
	// MinScore and MaxScore bound the reported score.
	MinScore = 0
	MaxScore = 1000
	// halfLife is the exponential decay time constant, tau ~= 14 days.
	halfLife = 14 * 24 * time.Hour
)

// Event is one recorded scoring event, kept for auditing/diagnostics.
type Event struct {
	Kind EventKind
	CID  string
	At   time.Time
	Delta float64
}

// record is the decaying internal state kept per node.
type record struct {
	score     float64
	updatedAt time.Time
	history   []Event
}

// Tracker holds reputation state for a set of nodes, guarded by a single
// mutex since updates are infrequent relative to reads.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*record
	now     func() time.Time
}

// New creates an empty Tracker. nowFn defaults to time.Now when nil; tests
// may substitute a deterministic clock.
func New(nowFn func() time.Time) *Tracker {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Tracker{records: make(map[string]*record), now: nowFn}
}

// Snapshot is a point-in-time view of a node's decayed score.
type Snapshot struct {
	NodeID       string
	Score        int
	LastEventAt  time.Time
	EventCount   int
}

// decayed returns r's score decayed to asOf, without mutating r.
func decayed(r *record, asOf time.Time) float64 {
	if r == nil {
		return BaselineScore
	}
	elapsed := asOf.Sub(r.updatedAt)
	if elapsed <= 0 {
		return r.score
	}
	factor := math.Exp(-float64(elapsed) / float64(halfLife))
	return BaselineScore + (r.score-BaselineScore)*factor
}

func clamp(v float64) int {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return int(math.Round(v))
}

// apply folds an event's weight into nodeID's decayed score.
func (t *Tracker) apply(nodeID string, kind EventKind, cid string, sign float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	r, ok := t.records[nodeID]
	if !ok {
		r = &record{score: BaselineScore, updatedAt: now}
		t.records[nodeID] = r
	}

	r.score = decayed(r, now)
	r.score += sign * weights[kind]
	r.updatedAt = now
	r.history = append(r.history, Event{Kind: kind, CID: cid, At: now, Delta: sign * weights[kind]})
	if len(r.history) > 200 {
		r.history = r.history[len(r.history)-200:]
	}
}

// ApplyReward credits nodeID for a positive event.
func (t *Tracker) ApplyReward(nodeID string, kind EventKind, cid string) {
	t.apply(nodeID, kind, cid, 1)
}

// ApplyPenalty debits nodeID for a negative event. The event's configured
// weight is already negative for punitive kinds; sign is always +1 here so
// callers don't have to remember which kinds are penalties.
func (t *Tracker) ApplyPenalty(nodeID string, kind EventKind, cid string) {
	t.apply(nodeID, kind, cid, 1)
}

// Score returns nodeID's current decayed score, defaulting new nodes to
// BaselineScore.
func (t *Tracker) Score(nodeID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[nodeID]
	if !ok {
		return BaselineScore
	}
	return clamp(decayed(r, t.now()))
}

// GetSnapshot returns a full snapshot for nodeID.
func (t *Tracker) GetSnapshot(nodeID string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[nodeID]
	if !ok {
		return Snapshot{NodeID: nodeID, Score: BaselineScore}
	}
	return Snapshot{
		NodeID:      nodeID,
		Score:       clamp(decayed(r, t.now())),
		LastEventAt: r.updatedAt,
		EventCount:  len(r.history),
	}
}

// All returns snapshots for every tracked node.
func (t *Tracker) All() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Snapshot, 0, len(t.records))
	for id, r := range t.records {
		out = append(out, Snapshot{
			NodeID:      id,
			Score:       clamp(decayed(r, t.now())),
			LastEventAt: r.updatedAt,
			EventCount:  len(r.history),
		})
	}
	return out
}

// Summary is the cluster-wide rollup accompanying a snapshot listing.
type Summary struct {
	TotalEvents int
	UniqueNodes int
	AvgScore    float64
}

// ClusterSummary aggregates event counts and scores across every tracked
// node.
func (t *Tracker) ClusterSummary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sum Summary
	var scoreTotal float64
	for _, r := range t.records {
		sum.UniqueNodes++
		sum.TotalEvents += len(r.history)
		scoreTotal += float64(clamp(decayed(r, t.now())))
	}
	if sum.UniqueNodes > 0 {
		sum.AvgScore = scoreTotal / float64(sum.UniqueNodes)
	}
	return sum
}

// History returns a copy of the recent scoring events for nodeID.
func (t *Tracker) History(nodeID string) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[nodeID]
	if !ok {
		return nil
	}
	out := make([]Event, len(r.history))
	copy(out, r.history)
	return out
}
