package node

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// banList is the node's moderation override: CIDs an operator has banned
// from retrieval even though the blob is still held (e.g. pending legal
// takedown) without invoking the garbage collector. Persisted as a flat
// JSON array, same "small flat file under dataDir" shape as every other
// piece of this node's on-disk state.
type banList struct {
	mu   sync.RWMutex
	path string
	set  map[string]bool
}

func newBanList(dataDir string) (*banList, error) {
	b := &banList{path: filepath.Join(dataDir, "banned.json"), set: make(map[string]bool)}
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, err
	}
	var cids []string
	if err := json.Unmarshal(data, &cids); err != nil {
		return nil, err
	}
	for _, c := range cids {
		b.set[c] = true
	}
	return b, nil
}

func (b *banList) persist() error {
	cids := make([]string, 0, len(b.set))
	for c := range b.set {
		cids = append(cids, c)
	}
	data, err := json.Marshal(cids)
	if err != nil {
		return err
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, b.path)
}

// Ban marks cid as banned from retrieval.
func (b *banList) Ban(cid string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set[cid] = true
	return b.persist()
}

// Unban clears a ban.
func (b *banList) Unban(cid string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.set, cid)
	return b.persist()
}

// IsBanned reports whether cid is currently banned.
func (b *banList) IsBanned(cid string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.set[cid]
}
