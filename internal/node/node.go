// Package node wires every per-node singleton — blob store, proof
// service, replication coordinator, garbage collector, feed log,
// indexer, reputation tracker, and registry adapter — into the single
// entry point the HTTP handlers call into. Handlers stay stateless; all
// mutable state lives here, created once at process start.
package node

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/zynqcloud/vaultnode/internal/blobstore"
	"github.com/zynqcloud/vaultnode/internal/cidcodec"
	"github.com/zynqcloud/vaultnode/internal/config"
	"github.com/zynqcloud/vaultnode/internal/feed"
	"github.com/zynqcloud/vaultnode/internal/gc"
	"github.com/zynqcloud/vaultnode/internal/indexer"
	"github.com/zynqcloud/vaultnode/internal/metrics"
	"github.com/zynqcloud/vaultnode/internal/proof"
	"github.com/zynqcloud/vaultnode/internal/registry"
	"github.com/zynqcloud/vaultnode/internal/replication"
	"github.com/zynqcloud/vaultnode/internal/reputation"
	"github.com/zynqcloud/vaultnode/internal/selector"
	"github.com/zynqcloud/vaultnode/internal/shard"
	"github.com/zynqcloud/vaultnode/internal/vaulterr"
)

// Node is the per-process vault node: every singleton a handler needs,
// constructed once and injected everywhere.
type Node struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	Blobs       *blobstore.Store
	Proof       *proof.Service
	Reputation  *reputation.Tracker
	Replication *replication.Coordinator
	GC          *gc.Collector
	Feed        *feed.Log
	Indexer     *indexer.Indexer
	Registry    registry.Registry

	bans   *banList
	peers  *peerDirectory
	client *http.Client
}

// New constructs every singleton from cfg and wires them together.
func New(cfg *config.Config, reg registry.Registry, m *metrics.Metrics, logger *slog.Logger) (*Node, error) {
	store, err := blobstore.New(blobstore.Config{
		DataDir:            cfg.DataDir,
		MaxStorageBytes:    cfg.MaxStorageBytes(),
		MaxBlobSizeBytes:   cfg.MaxBlobSizeBytes(),
		MinFreeDiskBytes:   cfg.GCMinFreeDiskBytes(),
		CacheBytes:         cfg.CacheSizeBytes(),
		CompressionEnabled: cfg.CompressionEnabled,
		Environment:        cfg.Environment,
		NodeID:             cfg.NodeID,
		Metrics:            m,
	}, logger)
	if err != nil {
		return nil, err
	}

	rep := reputation.New(nil)

	client := &http.Client{Timeout: 10 * time.Second}

	n := &Node{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		Blobs:      store,
		Reputation: rep,
		Feed:       feed.New(),
		Indexer:    indexer.New(),
		Registry:   reg,
		peers:      newPeerDirectory(),
		client:     client,
	}

	n.Proof, err = proof.New(cfg.DataDir, store.Exists, rep, logger)
	if err != nil {
		return nil, err
	}

	n.bans, err = newBanList(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	n.Replication = replication.New(replication.Config{
		ReplicationFactor: cfg.ReplicationFactor,
		ShardAware:        len(cfg.NodeShards) > 0,
		ShardCount:        cfg.ShardCount,
		Timeout:           time.Duration(cfg.ReplicationTimeoutMs) * time.Millisecond,
		Registry:          reg,
		Reputation:        rep,
		MarkReplicated:    store.SetReplicatedTo,
		Metrics:           m,
		Logger:            logger,
	})

	n.GC = gc.New(store, gc.Config{
		Mode:                   gc.Mode(cfg.GCRetentionMode),
		MaxStorageBytes:        cfg.GCMaxStorageBytes(),
		MaxBlobAgeMs:           cfg.GCMaxBlobAgeMs(),
		MinFreeDiskBytes:       cfg.GCMinFreeDiskBytes(),
		ReservedForPinnedBytes: cfg.GCReservedForPinnedBytes(),
		RequiredReplicas:       1,
		CheckReplica:           n.checkReplicaActive,
		Metrics:                m,
		Logger:                 logger,
	})

	for _, url := range append(append([]string{}, cfg.P2PBootstrapPeers...), cfg.P2PRelayPeers...) {
		n.bootstrapPeer(url)
	}

	return n, nil
}

// ID returns this node's opaque identity, derived from its Ed25519
// public key.
func (n *Node) ID() string { return n.Proof.NodeID() }

// bootstrapPeer best-effort registers a configured bootstrap/relay peer
// by URL, querying its /node/info for identity. Failures are logged and
// otherwise ignored — peer discovery degrades gracefully, matching the
// P2P transport's external-collaborator framing.
func (n *Node) bootstrapPeer(url string) {
	peer := replication.NewHTTPPeer(url, url, n.client)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	info, err := peer.Info(ctx)
	if err != nil {
		n.logger.Warn("node: failed to bootstrap peer", "url", url, "err", err)
		return
	}
	nodeID := info["nodeId"]
	if nodeID == "" {
		nodeID = url
	}
	n.peers.Upsert(PeerInfo{NodeID: nodeID, URL: url})
}

// RegisterPeer adds or updates a peer in the local directory.
// bootstrapPeer writes to the directory directly, and serving /node/info
// does not register the caller.
func (n *Node) RegisterPeer(p PeerInfo) { n.peers.Upsert(p) }

// candidates builds the live selector.Candidate set from the peer
// directory and current reputation scores.
func (n *Node) candidates() []selector.Candidate {
	peers := n.peers.All()
	out := make([]selector.Candidate, 0, len(peers))
	for _, p := range peers {
		out = append(out, selector.Candidate{
			NodeID: p.NodeID,
			URL:    p.URL,
			Score:  n.Reputation.Score(p.NodeID),
			Shards: p.Shards,
		})
	}
	return out
}

// resolvePeer maps a selected candidate to a dialable replication.Peer.
func (n *Node) resolvePeer(c selector.Candidate) replication.Peer {
	return replication.NewHTTPPeer(c.NodeID, c.URL, n.client)
}

// checkReplicaActive reports whether nodeID is an active replica of cid:
// online, and able to produce a storage proof that verifies against its
// own public key. Per §4.9 step 3, health alone is not enough — a
// reachable peer that can't prove it holds the blob doesn't count.
func (n *Node) checkReplicaActive(ctx context.Context, nodeID, cid string) bool {
	for _, p := range n.peers.All() {
		if p.NodeID != nodeID {
			continue
		}
		peer := replication.NewHTTPPeer(p.NodeID, p.URL, n.client)
		if peer.Health(ctx) != nil {
			return false
		}
		sp, err := peer.FetchProof(ctx, cid)
		if err != nil {
			return false
		}
		valid, _ := proof.Verify(sp, p.NodeID, time.Now())
		return valid
	}
	return false
}

// StoreOptions carries the caller-supplied fields accompanying a store
// request beyond the raw ciphertext and MIME type.
type StoreOptions struct {
	AppID       string
	Sender      string
	ContentType string
	GuildID     string
	ThreadID    string
	ParentCID   string
	IndexType   indexer.EntryType
	Pin         bool
	Compress    bool
}

// StoreResult is what a successful admitted store reports back.
type StoreResult struct {
	CID                  string
	ReplicationSuggested []string
	StoredAt             int64
}

// Admit runs the §4.11 admission policy for a store request.
// AcceptReplicate does not call it; inbound pushes are checked in
// replication.AcceptInbound.
func (n *Node) Admit(ctx context.Context, opts StoreOptions) error {
	outcome := registry.CheckAdmission(ctx, n.Registry, n.cfg.PublicKey != "", n.ID(), opts.AppID, opts.Sender, n.cfg.RequireAppRegistry)
	switch outcome {
	case registry.AdmissionNodeNotConfigured:
		return vaulterr.New(vaulterr.KindNodeNotConfigured, "node has no publicKey configured")
	case registry.AdmissionNodeNotRegistered:
		return vaulterr.New(vaulterr.KindNodeNotRegistered, "node is not a registered active node")
	case registry.AdmissionRegistrationCheckFailed:
		return vaulterr.New(vaulterr.KindRegistrationCheckFailed, "registry check failed")
	case registry.AdmissionForbidden:
		return vaulterr.New(vaulterr.KindForbidden, "sender is not authorized for this app")
	}

	if len(n.cfg.ContentFilter.Types) > 0 && opts.ContentType != "" {
		allowed := false
		for _, t := range n.cfg.ContentFilter.Types {
			if t == opts.ContentType {
				allowed = true
				break
			}
		}
		if !allowed {
			return vaulterr.New(vaulterr.KindContentTypeRejected, "content type not accepted by this node")
		}
	}

	if opts.GuildID != "" {
		for _, g := range n.cfg.ContentFilter.BlockedGuilds {
			if g == opts.GuildID {
				return vaulterr.New(vaulterr.KindGuildBlocked, "guild is blocked on this node")
			}
		}
		if len(n.cfg.ContentFilter.AllowedGuilds) > 0 {
			allowed := false
			for _, g := range n.cfg.ContentFilter.AllowedGuilds {
				if g == opts.GuildID {
					allowed = true
					break
				}
			}
			if !allowed {
				return vaulterr.New(vaulterr.KindGuildBlocked, "guild is not on this node's allow list")
			}
		}
	}
	return nil
}

// Store admits, computes the CID, persists the blob, updates the
// indexer, and kicks off best-effort replication in the background. When
// ReplicationEnabled is set it returns once the replication phase either
// finishes or a 2s wall clock elapses; otherwise it returns without waiting.
func (n *Node) Store(ctx context.Context, ciphertext []byte, mimeType string, opts StoreOptions) (StoreResult, error) {
	if err := n.Admit(ctx, opts); err != nil {
		return StoreResult{}, err
	}

	cid := cidcodec.CID(ciphertext)
	now := time.Now().UnixMilli()

	meta, err := n.storeBlob(cid, ciphertext, mimeType, opts, now)
	if err != nil {
		kind, _ := vaulterr.As(err)
		n.metrics.StoreRejections.WithLabelValues(kind.String()).Inc()
		return StoreResult{}, err
	}
	n.metrics.StoresTotal.Inc()

	if opts.IndexType != "" {
		n.Indexer.Add(indexer.Entry{
			CID:       cid,
			Type:      opts.IndexType,
			ThreadID:  opts.ThreadID,
			GuildID:   opts.GuildID,
			ParentCID: opts.ParentCID,
			Timestamp: now,
			Size:      meta.Size,
		})
	}

	suggested := n.suggestedReplicas(cid)

	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Replication.Replicate(context.Background(), cid, ciphertext, mimeType, n.candidates, n.resolvePeer)
	}()
	if n.cfg.ReplicationEnabled {
		timer := time.NewTimer(2 * time.Second)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
		}
	}

	return StoreResult{CID: cid, ReplicationSuggested: suggested, StoredAt: now}, nil
}

// storeBlob is a thin seam so Store's blob write can be unit-tested
// independent of replication timing.
func (n *Node) storeBlob(cid string, ciphertext []byte, mimeType string, opts StoreOptions, now int64) (blobstore.Metadata, error) {
	meta, err := n.Blobs.StoreBlob(cid, ciphertext, mimeType, blobstore.StoreOptions{
		AppID:       opts.AppID,
		ContentType: opts.ContentType,
		Sender:      opts.Sender,
		Timestamp:   now,
		Compress:    opts.Compress,
	})
	if err != nil {
		return blobstore.Metadata{}, err
	}
	if opts.Pin {
		meta, err = n.Blobs.Pin(cid)
	}
	return meta, err
}

// suggestedReplicas reports the peers the selector would currently pick
// for cid, for inclusion in the store response, without waiting on the
// actual (possibly backgrounded) replication attempt.
func (n *Node) suggestedReplicas(cid string) []string {
	if n.cfg.ReplicationFactor <= 0 {
		return nil
	}
	res := selector.Select(cid, n.candidates(), n.cfg.ReplicationFactor, nil, len(n.cfg.NodeShards) > 0, n.cfg.ShardCount)
	urls := make([]string, 0, len(res.Selected))
	for _, c := range res.Selected {
		urls = append(urls, c.URL)
	}
	return urls
}

// Retrieve returns a blob's ciphertext and metadata, honoring the ban list.
func (n *Node) Retrieve(cid string) ([]byte, blobstore.Metadata, error) {
	if n.bans.IsBanned(cid) {
		return nil, blobstore.Metadata{}, vaulterr.New(vaulterr.KindBlobBanned, "blob has been banned from retrieval")
	}
	return n.Blobs.GetBlob(cid)
}

// ShouldStore reports whether this node is shard-responsible for cid.
func (n *Node) ShouldStore(cid string) bool {
	return shard.ShouldStore(cid, n.cfg.ShardCount, shard.Assignment{Shards: n.cfg.NodeShards})
}

// AcceptReplicate handles a peer-initiated replication push.
func (n *Node) AcceptReplicate(ctx context.Context, req replication.ReplicateRequest) (alreadyStored bool, err error) {
	return n.Replication.AcceptInbound(ctx, req, n.cfg.RequireAppRegistry, func(cid string, ct []byte, mime string) (bool, error) {
		if n.Blobs.Exists(cid) {
			return true, nil
		}
		_, err := n.Blobs.StoreBlob(cid, ct, mime, blobstore.StoreOptions{
			ContentType: req.ContentType,
			Timestamp:   time.Now().UnixMilli(),
		})
		if err != nil {
			return false, err
		}
		return false, nil
	})
}

// Ban/Unban expose the moderation override to admin tooling (vaultctl).
func (n *Node) Ban(cid string) error   { return n.bans.Ban(cid) }
func (n *Node) Unban(cid string) error { return n.bans.Unban(cid) }

// GenerateProof produces a fresh storage proof for cid.
func (n *Node) GenerateProof(cid string) (proof.StorageProof, error) {
	sp, err := n.Proof.Generate(cid)
	if err == nil {
		n.metrics.ProofsGeneratedTotal.Inc()
	}
	return sp, err
}

// VerifyProof checks sp's signature and freshness against publicKey.
func (n *Node) VerifyProof(sp proof.StorageProof, publicKey string) (bool, string) {
	valid, reason := proof.Verify(sp, publicKey, time.Now())
	label := "valid"
	if !valid {
		label = "invalid"
	}
	n.metrics.ProofsVerifiedTotal.WithLabelValues(label).Inc()
	return valid, reason
}

// Resweep re-pushes every locally stored blob that has fewer confirmed
// replicas than the configured factor, driving the replication
// coordinator's periodic under-replication check.
func (n *Node) Resweep(ctx context.Context) {
	if n.cfg.ReplicationFactor <= 0 {
		return
	}
	all, err := n.Blobs.ListAll()
	if err != nil {
		n.logger.Warn("node: resweep could not list blobs", "err", err)
		return
	}

	var underReplicated []string
	for _, m := range all {
		if len(m.Replication.ReplicatedTo) < n.cfg.ReplicationFactor {
			underReplicated = append(underReplicated, m.CID)
		}
	}
	if len(underReplicated) == 0 {
		return
	}

	n.Replication.Resweep(ctx, underReplicated, func(cid string) ([]byte, string, error) {
		ct, meta, err := n.Blobs.GetBlob(cid)
		return ct, meta.MimeType, err
	}, n.candidates, n.resolvePeer)
}

// ShardStats reports shard coverage across this node and every known peer.
func (n *Node) ShardStats() shard.Stats {
	assignments := map[string]shard.Assignment{
		n.ID(): {Shards: n.cfg.NodeShards},
	}
	for _, p := range n.peers.All() {
		assignments[p.NodeID] = p.Shards
	}
	return shard.ComputeStats(n.cfg.ShardCount, assignments)
}

// Info reports this node's identity document for /node/info.
func (n *Node) Info(ctx context.Context) map[string]string {
	minVersion, _ := n.Registry.MinVersion(ctx)
	return map[string]string{
		"nodeId":    n.ID(),
		"publicKey": n.Proof.PublicKey(),
		"nodeUrl":   n.cfg.NodeURL,
		"minVersion": minVersion,
	}
}
