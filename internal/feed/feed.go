// Package feed implements an append-only, signed, multi-writer log: a
// DAG of entries linked by parentCid, admitted one at a time under
// signature and authorization checks, with deterministic fork
// resolution when the DAG branches.
package feed

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"

	"github.com/zynqcloud/vaultnode/internal/vaulterr"
)

// Type enumerates the kinds of feed this log can hold.
type Type string

const (
	TypeDM       Type = "dm"
	TypePost     Type = "post"
	TypeListing  Type = "listing"
	TypeActivity Type = "activity"
)

// Entry is one signed, appended fact in a feed.
type Entry struct {
	FeedID    string `json:"feedId"`
	CID       string `json:"cid"`
	ParentCID string `json:"parentCid,omitempty"`
	AuthorKey string `json:"authorKey"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
	EventType string `json:"eventType,omitempty"`
}

// signedFields is the exact field set and order the signature covers:
// canonical_json({feedId,cid,parentCid,timestamp,authorKey}).
type signedFields struct {
	FeedID    string `json:"feedId"`
	CID       string `json:"cid"`
	ParentCID string `json:"parentCid"`
	Timestamp int64  `json:"timestamp"`
	AuthorKey string `json:"authorKey"`
}

// canonicalBytes returns the exact bytes verifySignature covers. Go's
// encoding/json marshals struct fields in declaration order, so a fixed
// struct shape is sufficient to make this deterministic without a
// general-purpose canonicalizer.
func canonicalBytes(e Entry) ([]byte, error) {
	return json.Marshal(signedFields{
		FeedID:    e.FeedID,
		CID:       e.CID,
		ParentCID: e.ParentCID,
		Timestamp: e.Timestamp,
		AuthorKey: e.AuthorKey,
	})
}

// Metadata is the per-feed header.
type Metadata struct {
	FeedID        string
	FeedType      Type
	Writers       []string
	RootCID       string
	EntryCount    int
	CreatedAt     int64
	LastUpdatedAt int64
}

type feedState struct {
	meta    Metadata
	entries []Entry // append order, oldest first
}

// Cursor pages getFeedEvents; it is opaque to callers.
type Cursor struct {
	Index int
}

// EventsPage is the result of getFeedEvents.
type EventsPage struct {
	Events  []Entry
	HasMore bool
	Cursor  *Cursor
}

// ValidationResult is the outcome of re-verifying a feed end to end.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// ForkResolution is the outcome of resolveForks.
type ForkResolution struct {
	WinningChain []string // CIDs, root to tip
	Reason       string
}

// BlobExistsFunc reports whether cid is held locally.
type BlobExistsFunc func(cid string) bool

// Log holds every known feed. One process-wide Log is expected; callers
// serialize access to a given feedId through the embedded mutex.
type Log struct {
	mu    sync.RWMutex
	feeds map[string]*feedState
}

// New returns an empty feed log.
func New() *Log {
	return &Log{feeds: make(map[string]*feedState)}
}

// CreateFeed registers a new feed. writers must be non-empty.
func (l *Log) CreateFeed(feedID string, feedType Type, writers []string, now int64) error {
	if len(writers) == 0 {
		return vaulterr.New(vaulterr.KindInvalidRequest, "feed must have at least one writer")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.feeds[feedID]; exists {
		return vaulterr.New(vaulterr.KindFeedExists, "feed already exists: "+feedID)
	}
	l.feeds[feedID] = &feedState{
		meta: Metadata{
			FeedID:        feedID,
			FeedType:      feedType,
			Writers:       append([]string(nil), writers...),
			CreatedAt:     now,
			LastUpdatedAt: now,
		},
	}
	return nil
}

// AddEntry admits event into feedId's log after verifying the referenced
// blob exists locally, the author is a registered writer, and the
// signature is valid.
func (l *Log) AddEntry(event Entry, blobExists BlobExistsFunc) error {
	if blobExists == nil || !blobExists(event.CID) {
		return vaulterr.New(vaulterr.KindBlobNotFound, "feed entry references an unknown blob: "+event.CID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fs, ok := l.feeds[event.FeedID]
	if !ok {
		return vaulterr.New(vaulterr.KindFeedNotFound, "feed does not exist: "+event.FeedID)
	}

	authorized := false
	for _, w := range fs.meta.Writers {
		if w == event.AuthorKey {
			authorized = true
			break
		}
	}
	if !authorized {
		return vaulterr.New(vaulterr.KindFeedUnauthorized, "author is not a writer on this feed")
	}

	if err := verifyEntrySignature(event); err != nil {
		return err
	}

	if fs.meta.RootCID == "" {
		fs.meta.RootCID = event.CID
	}
	fs.entries = append(fs.entries, event)
	fs.meta.EntryCount++
	fs.meta.LastUpdatedAt = event.Timestamp
	return nil
}

// verifyEntrySignature checks event.Signature over the canonical signed
// fields using event.AuthorKey as a hex-encoded Ed25519 public key.
func verifyEntrySignature(event Entry) error {
	pubBytes, err := hex.DecodeString(event.AuthorKey)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return vaulterr.New(vaulterr.KindInvalidSignature, "malformed author key")
	}
	sigBytes, err := hex.DecodeString(event.Signature)
	if err != nil {
		return vaulterr.New(vaulterr.KindInvalidSignature, "malformed signature encoding")
	}
	data, err := canonicalBytes(event)
	if err != nil {
		return vaulterr.Wrap(vaulterr.KindInvalidSignature, "failed to canonicalize entry", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pubBytes), data, sigBytes) {
		return vaulterr.New(vaulterr.KindInvalidSignature, "signature does not verify")
	}
	return nil
}

// GetFeedEvents returns a newest-first page of feedId's entries.
func (l *Log) GetFeedEvents(feedID string, limit int, cursor *Cursor) (EventsPage, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	fs, ok := l.feeds[feedID]
	if !ok {
		return EventsPage{}, vaulterr.New(vaulterr.KindFeedNotFound, "feed does not exist: "+feedID)
	}
	if limit <= 0 {
		limit = 50
	}

	n := len(fs.entries)
	start := n
	if cursor != nil {
		start = cursor.Index
	}
	if start > n {
		start = n
	}
	end := start - limit
	if end < 0 {
		end = 0
	}

	var out []Entry
	for i := start - 1; i >= end; i-- {
		out = append(out, fs.entries[i])
	}

	page := EventsPage{Events: out, HasMore: end > 0}
	if page.HasMore {
		page.Cursor = &Cursor{Index: end}
	}
	return page, nil
}

// GetFeedBlobs returns every CID referenced by feedId, in append order.
func (l *Log) GetFeedBlobs(feedID string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fs, ok := l.feeds[feedID]
	if !ok {
		return nil, vaulterr.New(vaulterr.KindFeedNotFound, "feed does not exist: "+feedID)
	}
	out := make([]string, len(fs.entries))
	for i, e := range fs.entries {
		out[i] = e.CID
	}
	return out, nil
}

// ValidateFeed re-verifies every entry's signature and the parentCid
// chain from scratch.
func (l *Log) ValidateFeed(feedID string) (ValidationResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	fs, ok := l.feeds[feedID]
	if !ok {
		return ValidationResult{}, vaulterr.New(vaulterr.KindFeedNotFound, "feed does not exist: "+feedID)
	}

	var res ValidationResult
	known := make(map[string]bool, len(fs.entries))
	for _, e := range fs.entries {
		if err := verifyEntrySignature(e); err != nil {
			res.Errors = append(res.Errors, "invalid signature on entry "+e.CID)
		}
		if e.ParentCID != "" && !known[e.ParentCID] {
			res.Warnings = append(res.Warnings, "entry "+e.CID+" references parent not seen before it: "+e.ParentCID)
		}
		known[e.CID] = true
	}
	return res, nil
}

// branches builds the DAG by parentCid and returns every maximal leaf-to-root
// branch as a root-to-tip CID slice.
func branches(entries []Entry) [][]string {
	byCID := make(map[string]Entry, len(entries))
	children := make(map[string][]string) // parentCid (or "" for root) -> child cids
	for _, e := range entries {
		byCID[e.CID] = e
		children[e.ParentCID] = append(children[e.ParentCID], e.CID)
	}

	var leaves []string
	for _, e := range entries {
		if len(children[e.CID]) == 0 {
			leaves = append(leaves, e.CID)
		}
	}
	sort.Strings(leaves)

	var out [][]string
	for _, leaf := range leaves {
		var chain []string
		cur := leaf
		for {
			chain = append([]string{cur}, chain...)
			e, ok := byCID[cur]
			if !ok || e.ParentCID == "" {
				break
			}
			cur = e.ParentCID
		}
		out = append(out, chain)
	}
	return out
}

// ResolveForks builds the entry DAG by parentCid and picks the branch
// with the most entries, breaking ties by oldest earliest-timestamp then
// lexicographically smallest CID.
func (l *Log) ResolveForks(feedID string) (ForkResolution, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	fs, ok := l.feeds[feedID]
	if !ok {
		return ForkResolution{}, vaulterr.New(vaulterr.KindFeedNotFound, "feed does not exist: "+feedID)
	}
	if len(fs.entries) == 0 {
		return ForkResolution{WinningChain: []string{}, Reason: "empty feed"}, nil
	}

	byCID := make(map[string]Entry, len(fs.entries))
	for _, e := range fs.entries {
		byCID[e.CID] = e
	}

	chains := branches(fs.entries)
	if len(chains) == 1 {
		return ForkResolution{WinningChain: chains[0], Reason: "no fork"}, nil
	}

	best := chains[0]
	for _, c := range chains[1:] {
		if better(c, best, byCID) {
			best = c
		}
	}
	return ForkResolution{WinningChain: best, Reason: "longest chain, tie-broken by earliest timestamp then cid"}, nil
}

// better reports whether chain a should win over chain b: more entries;
// tie broken by older earliest timestamp; tie broken by lexicographically
// smaller root CID.
func better(a, b []string, byCID map[string]Entry) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	aTs, bTs := byCID[a[0]].Timestamp, byCID[b[0]].Timestamp
	if aTs != bTs {
		return aTs < bTs
	}
	return a[0] < b[0]
}

// Metadata returns a copy of feedId's header.
func (l *Log) Metadata(feedID string) (Metadata, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fs, ok := l.feeds[feedID]
	if !ok {
		return Metadata{}, false
	}
	m := fs.meta
	m.Writers = append([]string(nil), fs.meta.Writers...)
	return m, true
}
