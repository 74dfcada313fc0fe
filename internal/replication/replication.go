// Package replication coordinates pushing a newly-stored blob out to a
// replicationFactor-sized set of peers, tracking confirmed acceptances,
// retrying transient failures with backoff, and re-selecting replacements
// when a peer fails persistently.
package replication

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/zynqcloud/vaultnode/internal/cidcodec"
	"github.com/zynqcloud/vaultnode/internal/metrics"
	"github.com/zynqcloud/vaultnode/internal/proof"
	"github.com/zynqcloud/vaultnode/internal/registry"
	"github.com/zynqcloud/vaultnode/internal/reputation"
	"github.com/zynqcloud/vaultnode/internal/selector"
	"github.com/zynqcloud/vaultnode/internal/vaulterr"
)

// Peer is the substitutable transport capability a selected node is
// replicated through; the transport is whatever the implementation uses.
type Peer interface {
	NodeID() string
	URL() string
	// SupportsP2P reports whether the peer has a P2P capability. The
	// Coordinator does not consult it.
	SupportsP2P() bool
	Replicate(ctx context.Context, req ReplicateRequest) error
	FetchBlob(ctx context.Context, cid string) ([]byte, error)
	// FetchProof asks the peer to generate a fresh storage proof for
	// cid, used by the GC's replication-safety check to confirm a
	// replica is actually provable, not merely reachable.
	FetchProof(ctx context.Context, cid string) (proof.StorageProof, error)
	Health(ctx context.Context) error
	Info(ctx context.Context) (map[string]string, error)
}

// ReplicateRequest is the payload sent to a peer to push a blob.
type ReplicateRequest struct {
	CID         string
	Ciphertext  []byte
	MimeType    string
	FromPeer    string
	ContentType string
	GuildID     string
}

// State is the in-memory, HMAC-tamper-evident replication record for one
// CID. The coordinator is its sole owner.
type State struct {
	CID               string
	ReplicationFactor int
	ConfirmedNodes    []string
	Complete          bool
	IntegrityHash     string
}

func (s *State) refreshHash() {
	s.Complete = len(s.ConfirmedNodes) >= s.ReplicationFactor
	s.IntegrityHash = cidcodec.ReplicationStateHash(s.CID, s.ReplicationFactor, s.ConfirmedNodes)
}

// Verify reports whether s's integrity hash still matches its fields.
func (s *State) Verify() bool {
	want := cidcodec.ReplicationStateHash(s.CID, s.ReplicationFactor, s.ConfirmedNodes)
	return want == s.IntegrityHash
}

// BlobMarkReplicatedFunc persists a confirmed replica set onto the
// blob's metadata; wired to blobstore.Store.SetReplicatedTo.
type BlobMarkReplicatedFunc func(cid string, nodes []string, fromPeer string, replicatedAt int64) error

// Config configures a Coordinator.
type Config struct {
	ReplicationFactor int
	ShardAware        bool
	ShardCount        int
	Timeout           time.Duration // per-peer RPC timeout
	MaxRetries        int
	Registry          registry.Registry
	Reputation        *reputation.Tracker
	MarkReplicated    BlobMarkReplicatedFunc
	Metrics           *metrics.Metrics
	Logger            *slog.Logger
}

// Coordinator owns in-memory ReplicationState for every CID it has
// pushed or verified, and runs the replicate pipeline for both outbound
// pushes and the periodic under-replication sweep.
type Coordinator struct {
	cfg   Config
	mu    sync.Mutex
	state map[string]*State
}

// New builds a Coordinator from cfg.
func New(cfg Config) *Coordinator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Coordinator{cfg: cfg, state: make(map[string]*State)}
}

// CandidatesFunc supplies the live peer set at call time, since it
// changes as nodes join/leave.
type CandidatesFunc func() []selector.Candidate

// PeerResolver resolves a selector.Candidate to a dialable Peer.
type PeerResolver func(selector.Candidate) Peer

// Replicate runs the full outbound pipeline for a freshly stored blob:
// select k peers, push to each through its Peer.Replicate (no separate
// P2P-then-HTTP fallback is tried) with exponential backoff, record
// confirmations, and replace peers that fail
// persistently. It respects ctx's deadline — callers should bound it to
// the 2s best-effort wall clock the store-request handler allows, since
// the coordinator itself keeps working in the background past that via
// a detached context if the caller chooses to launch this in a goroutine.
func (c *Coordinator) Replicate(ctx context.Context, cid string, ciphertext []byte, mimeType string, candidates CandidatesFunc, resolve PeerResolver) {
	c.mu.Lock()
	st, ok := c.state[cid]
	if !ok {
		st = &State{CID: cid, ReplicationFactor: c.cfg.ReplicationFactor, ConfirmedNodes: []string{}}
		st.refreshHash()
		c.state[cid] = st
	}
	c.mu.Unlock()

	excluded := map[string]bool{}
	remaining := c.cfg.ReplicationFactor - len(st.ConfirmedNodes)
	if remaining <= 0 {
		return
	}

	sel := selector.Select(cid, candidates(), remaining, excluded, c.cfg.ShardAware, c.cfg.ShardCount)
	c.pushToAll(ctx, cid, ciphertext, mimeType, sel.Selected, resolve, candidates, excluded)
}

func (c *Coordinator) pushToAll(ctx context.Context, cid string, ciphertext []byte, mimeType string, picks []selector.Candidate, resolve PeerResolver, candidates CandidatesFunc, excluded map[string]bool) {
	var failed []string
	for _, cand := range picks {
		peer := resolve(cand)
		if peer == nil {
			failed = append(failed, cand.NodeID)
			continue
		}
		if c.pushWithBackoff(ctx, peer, cid, ciphertext, mimeType) {
			c.confirm(cid, cand.NodeID)
			if c.cfg.Reputation != nil {
				c.cfg.Reputation.ApplyReward(cand.NodeID, reputation.EventReplicationSuccess, cid)
			}
		} else {
			failed = append(failed, cand.NodeID)
			if c.cfg.Reputation != nil {
				c.cfg.Reputation.ApplyPenalty(cand.NodeID, reputation.EventReplicationFailure, cid)
			}
		}
	}

	if len(failed) == 0 {
		return
	}

	c.mu.Lock()
	st := c.state[cid]
	current := append([]string(nil), st.ConfirmedNodes...)
	c.mu.Unlock()

	need := c.cfg.ReplicationFactor - len(current)
	if need <= 0 {
		return
	}
	for _, n := range failed {
		excluded[n] = true
	}
	repl := selector.SelectReplacements(cid, candidates(), need, current, failed, c.cfg.ShardAware, c.cfg.ShardCount)
	if len(repl.Selected) == 0 {
		return
	}
	c.pushToAll(ctx, cid, ciphertext, mimeType, repl.Selected, resolve, candidates, excluded)
}

// pushWithBackoff attempts Replicate against peer, retrying transient
// failures with 1s, 2s, 4s, 8s... backoff for up to cfg.MaxRetries
// retries (cfg.MaxRetries+1 attempts in all).
func (c *Coordinator) pushWithBackoff(ctx context.Context, peer Peer, cid string, ciphertext []byte, mimeType string) bool {
	req := ReplicateRequest{CID: cid, Ciphertext: ciphertext, MimeType: mimeType}
	backoff := time.Second

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ReplicationAttemptsTotal.Inc()
		}
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		err := peer.Replicate(callCtx, req)
		cancel()
		if err == nil {
			return true
		}
		if attempt == c.cfg.MaxRetries {
			c.cfg.Logger.Warn("replication: giving up on peer after retry budget",
				"cid", cid, "node", peer.NodeID(), "attempts", attempt+1, "err", err)
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.ReplicationFailureTotal.Inc()
			}
			return false
		}
		c.cfg.Logger.Warn("replication: transient failure, retrying",
			"cid", cid, "node", peer.NodeID(), "attempt", attempt+1, "backoff", backoff, "err", err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}
		backoff *= 2
	}
	return false
}

// confirm records a peer's acceptance into the in-memory state and
// persists it onto the blob's metadata.
func (c *Coordinator) confirm(cid, nodeID string) {
	c.mu.Lock()
	st := c.state[cid]
	already := false
	for _, n := range st.ConfirmedNodes {
		if n == nodeID {
			already = true
			break
		}
	}
	if !already {
		st.ConfirmedNodes = append(st.ConfirmedNodes, nodeID)
		st.refreshHash()
	}
	nodes := append([]string(nil), st.ConfirmedNodes...)
	c.mu.Unlock()

	if c.cfg.Metrics != nil && !already {
		c.cfg.Metrics.ReplicationSuccessTotal.Inc()
		c.cfg.Metrics.ReplicationConfirmedGauge.Set(float64(len(nodes)))
	}

	if c.cfg.MarkReplicated != nil {
		if err := c.cfg.MarkReplicated(cid, nodes, "", time.Now().UnixMilli()); err != nil {
			c.cfg.Logger.Warn("replication: failed to persist replicatedTo", "cid", cid, "err", err)
		}
	}
}

// State returns a copy of cid's in-memory replication state.
func (c *Coordinator) State(cid string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state[cid]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// AcceptInbound validates and records a peer-initiated replication push.
// It verifies the CID against the ciphertext, rejects duplicates
// idempotently, and (when registration enforcement is on) confirms the
// sender is a registered active node.
func (c *Coordinator) AcceptInbound(ctx context.Context, req ReplicateRequest, requireRegistration bool, storeIfAbsent func(cid string, ct []byte, mime string) (alreadyStored bool, err error)) (alreadyStored bool, err error) {
	if !cidcodec.VerifyCID(req.CID, req.Ciphertext) {
		return false, vaulterr.New(vaulterr.KindCIDMismatch, "recomputed CID does not match declared CID")
	}

	if requireRegistration && c.cfg.Registry != nil && req.FromPeer != "" {
		active, regErr := c.cfg.Registry.IsNodeActive(ctx, req.FromPeer)
		if regErr != nil {
			return false, vaulterr.Wrap(vaulterr.KindRegistrationCheckFailed, "registry check failed", regErr)
		}
		if !active {
			return false, vaulterr.New(vaulterr.KindNodeNotRegistered, "sender is not a registered active node")
		}
	}

	return storeIfAbsent(req.CID, req.Ciphertext, req.MimeType)
}

// Resweep finds CIDs whose replication state is below factor and
// re-runs Replicate for each. provideBlob supplies the ciphertext for a
// CID lazily so the caller can skip loading bytes for blobs that turn
// out to already be fully replicated.
func (c *Coordinator) Resweep(ctx context.Context, underReplicated []string, provideBlob func(cid string) ([]byte, string, error), candidates CandidatesFunc, resolve PeerResolver) {
	for _, cid := range underReplicated {
		ct, mime, err := provideBlob(cid)
		if err != nil {
			c.cfg.Logger.Warn("replication: resweep could not load blob", "cid", cid, "err", err)
			continue
		}
		c.Replicate(ctx, cid, ct, mime, candidates, resolve)
	}
}

// EncodeCiphertext is a small convenience matching the §6 replicate
// payload's base64 ciphertext field, used by HTTP Peer implementations.
func EncodeCiphertext(ciphertext []byte) string {
	return base64.StdEncoding.EncodeToString(ciphertext)
}
