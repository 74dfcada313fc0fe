// Package indexer maintains in-memory, time-sorted views over stored
// blobs' metadata for cheap discovery queries. It never sees plaintext:
// threadId is a caller-supplied opaque hash and entries carry only CIDs
// and sizes.
package indexer

import (
	"sort"
	"sync"
)

// EntryType enumerates the kinds of content an IndexEntry can describe.
type EntryType string

const (
	TypeMessage    EntryType = "message"
	TypePost       EntryType = "post"
	TypeComment    EntryType = "comment"
	TypeAttachment EntryType = "attachment"
)

// Entry is one indexed fact about a stored blob.
type Entry struct {
	CID       string
	Type      EntryType
	ThreadID  string
	GuildID   string
	ParentCID string
	Timestamp int64
	Size      int64
}

// Cursor is an opaque pagination token: a (timestamp, cid) pair is
// sufficient to resume a strictly-newest-first scan.
type Cursor struct {
	Timestamp int64
	CID       string
}

// Page is the result of a windowed query.
type Page struct {
	Entries []Entry
	HasMore bool
	Cursor  *Cursor
}

// ThreadDelta answers "what changed in this thread since sinceTimestamp".
type ThreadDelta struct {
	NewEntries       []Entry
	Count            int
	SinceTimestamp   int64
	CurrentTimestamp int64
}

// Indexer holds five time-sorted views over the same entries: latest
// (every entry), by type, by thread, by guild, and by parent CID. Add and
// Remove update every view under one lock. Deleting a blob does not call
// Remove, so a deleted blob's entries stay in the views.
type Indexer struct {
	mu       sync.RWMutex
	byType   map[EntryType][]Entry
	byThread map[string][]Entry
	byGuild  map[string][]Entry
	byParent map[string][]Entry
	latest   []Entry
}

// New returns an empty Indexer.
func New() *Indexer {
	return &Indexer{
		byType:   make(map[EntryType][]Entry),
		byThread: make(map[string][]Entry),
		byGuild:  make(map[string][]Entry),
		byParent: make(map[string][]Entry),
	}
}

// insertSorted inserts e into a slice kept descending by (Timestamp, CID)
// — newest first, ties broken by CID so ordering stays deterministic.
func insertSorted(list []Entry, e Entry) []Entry {
	i := sort.Search(len(list), func(i int) bool {
		return !less(list[i], e)
	})
	list = append(list, Entry{})
	copy(list[i+1:], list[i:])
	list[i] = e
	return list
}

// less reports whether a sorts strictly before b in the descending order.
func less(a, b Entry) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.CID < b.CID
}

// Add inserts an entry into every applicable view. It is not idempotent:
// adding the same CID twice inserts it twice, and the indexer does not
// detect this.
func (ix *Indexer) Add(e Entry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.latest = insertSorted(ix.latest, e)
	ix.byType[e.Type] = insertSorted(ix.byType[e.Type], e)
	if e.ThreadID != "" {
		ix.byThread[e.ThreadID] = insertSorted(ix.byThread[e.ThreadID], e)
	}
	if e.GuildID != "" {
		ix.byGuild[e.GuildID] = insertSorted(ix.byGuild[e.GuildID], e)
	}
	if e.ParentCID != "" {
		ix.byParent[e.ParentCID] = insertSorted(ix.byParent[e.ParentCID], e)
	}
}

// Remove deletes the entry for cid from every view it appears in.
func (ix *Indexer) Remove(cid string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.latest = removeCID(ix.latest, cid)
	for k, v := range ix.byType {
		ix.byType[k] = removeCID(v, cid)
	}
	for k, v := range ix.byThread {
		ix.byThread[k] = removeCID(v, cid)
	}
	for k, v := range ix.byGuild {
		ix.byGuild[k] = removeCID(v, cid)
	}
	for k, v := range ix.byParent {
		ix.byParent[k] = removeCID(v, cid)
	}
}

func removeCID(list []Entry, cid string) []Entry {
	out := list[:0]
	for _, e := range list {
		if e.CID != cid {
			out = append(out, e)
		}
	}
	return out
}

// page slices a descending-sorted view starting strictly after cursor,
// up to limit entries, reporting whether more remain.
func page(list []Entry, limit int, cursor *Cursor) Page {
	start := 0
	if cursor != nil {
		target := Entry{Timestamp: cursor.Timestamp, CID: cursor.CID}
		start = sort.Search(len(list), func(i int) bool {
			return less(target, list[i])
		})
	}
	if limit <= 0 {
		limit = 50
	}
	end := start + limit
	hasMore := end < len(list)
	if end > len(list) {
		end = len(list)
	}
	out := append([]Entry(nil), list[start:end]...)

	var next *Cursor
	if hasMore && len(out) > 0 {
		last := out[len(out)-1]
		next = &Cursor{Timestamp: last.Timestamp, CID: last.CID}
	}
	return Page{Entries: out, HasMore: hasMore, Cursor: next}
}

// QueryLatest returns the newest-first global feed, optionally filtered
// by type.
func (ix *Indexer) QueryLatest(entryType EntryType, limit int, cursor *Cursor) Page {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if entryType == "" {
		return page(ix.latest, limit, cursor)
	}
	return page(ix.byType[entryType], limit, cursor)
}

// QueryThread returns a thread's entries, newest first.
func (ix *Indexer) QueryThread(threadID string, limit int, cursor *Cursor) Page {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return page(ix.byThread[threadID], limit, cursor)
}

// QueryGuild returns a guild's entries, newest first.
func (ix *Indexer) QueryGuild(guildID string, limit int, cursor *Cursor) Page {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return page(ix.byGuild[guildID], limit, cursor)
}

// QueryGuildPosts returns a guild's post-type entries only.
func (ix *Indexer) QueryGuildPosts(guildID string, limit int, cursor *Cursor) Page {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var posts []Entry
	for _, e := range ix.byGuild[guildID] {
		if e.Type == TypePost {
			posts = append(posts, e)
		}
	}
	return page(posts, limit, cursor)
}

// QueryComments returns comment-type entries attached to parentCid within
// guildID.
func (ix *Indexer) QueryComments(guildID, parentCID string, limit int, cursor *Cursor) Page {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var comments []Entry
	for _, e := range ix.byParent[parentCID] {
		if e.Type == TypeComment && (guildID == "" || e.GuildID == guildID) {
			comments = append(comments, e)
		}
	}
	return page(comments, limit, cursor)
}

// QueryThreadDelta reports entries added to threadID strictly after
// sinceTimestamp.
func (ix *Indexer) QueryThreadDelta(threadID string, sinceTimestamp, currentTimestamp int64) ThreadDelta {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var fresh []Entry
	for _, e := range ix.byThread[threadID] {
		if e.Timestamp > sinceTimestamp {
			fresh = append(fresh, e)
		}
	}
	return ThreadDelta{
		NewEntries:       fresh,
		Count:            len(fresh),
		SinceTimestamp:   sinceTimestamp,
		CurrentTimestamp: currentTimestamp,
	}
}
