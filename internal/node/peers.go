package node

import (
	"sync"

	"github.com/zynqcloud/vaultnode/internal/shard"
)

// PeerInfo is what the node directory tracks about a candidate replica:
// enough to build a selector.Candidate and to dial it over HTTP.
type PeerInfo struct {
	NodeID string
	URL    string
	Shards shard.Assignment
}

// peerDirectory is the in-memory set of known peer nodes this node may
// select as replicas. The real P2P transport/membership protocol is an
// external collaborator (§1/§9); this directory is seeded from the
// configured bootstrap/relay peer lists and otherwise changes only through
// Node.RegisterPeer, mirroring johnjansen-torua's shard_registry.go
// copy-out-never-leak accessor discipline.
type peerDirectory struct {
	mu    sync.RWMutex
	peers map[string]PeerInfo
}

func newPeerDirectory() *peerDirectory {
	return &peerDirectory{peers: make(map[string]PeerInfo)}
}

// Upsert registers or updates a peer.
func (d *peerDirectory) Upsert(p PeerInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[p.NodeID] = p
}

// Remove drops a peer from the directory.
func (d *peerDirectory) Remove(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, nodeID)
}

// All returns a copy of every known peer.
func (d *peerDirectory) All() []PeerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]PeerInfo, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, p)
	}
	return out
}
