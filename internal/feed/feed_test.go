package feed_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/zynqcloud/vaultnode/internal/feed"
)

func alwaysExists(string) bool { return true }

type writer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newWriter(t *testing.T) writer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return writer{pub: pub, priv: priv}
}

func (w writer) authorKey() string { return hex.EncodeToString(w.pub) }

func (w writer) sign(t *testing.T, feedID, cid, parentCID string, ts int64) feed.Entry {
	t.Helper()
	e := feed.Entry{
		FeedID:    feedID,
		CID:       cid,
		ParentCID: parentCID,
		AuthorKey: w.authorKey(),
		Timestamp: ts,
	}
	data, err := feedTestCanonicalBytes(e)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	e.Signature = hex.EncodeToString(ed25519.Sign(w.priv, data))
	return e
}

// feedTestCanonicalBytes mirrors the package's private canonical encoding
// so tests can produce valid signatures without exporting internals.
func feedTestCanonicalBytes(e feed.Entry) ([]byte, error) {
	type signedFields struct {
		FeedID    string `json:"feedId"`
		CID       string `json:"cid"`
		ParentCID string `json:"parentCid"`
		Timestamp int64  `json:"timestamp"`
		AuthorKey string `json:"authorKey"`
	}
	return json.Marshal(signedFields{e.FeedID, e.CID, e.ParentCID, e.Timestamp, e.AuthorKey})
}

func TestCreateFeedRejectsEmptyWriters(t *testing.T) {
	l := feed.New()
	if err := l.CreateFeed("f1", feed.TypePost, nil, 0); err == nil {
		t.Fatal("expected an error for a feed with no writers")
	}
}

func TestCreateFeedRejectsDuplicate(t *testing.T) {
	l := feed.New()
	w := newWriter(t)
	if err := l.CreateFeed("f1", feed.TypePost, []string{w.authorKey()}, 0); err != nil {
		t.Fatalf("CreateFeed: %v", err)
	}
	if err := l.CreateFeed("f1", feed.TypePost, []string{w.authorKey()}, 0); err == nil {
		t.Fatal("expected FeedExists on duplicate create")
	}
}

func TestAddEntryRequiresLocalBlob(t *testing.T) {
	l := feed.New()
	w := newWriter(t)
	l.CreateFeed("f1", feed.TypePost, []string{w.authorKey()}, 0)
	e := w.sign(t, "f1", "cid1", "", 1)
	if err := l.AddEntry(e, func(string) bool { return false }); err == nil {
		t.Fatal("expected BlobNotFound when the referenced blob is absent")
	}
}

func TestAddEntryRejectsUnauthorizedAuthor(t *testing.T) {
	l := feed.New()
	owner := newWriter(t)
	intruder := newWriter(t)
	l.CreateFeed("f1", feed.TypePost, []string{owner.authorKey()}, 0)
	e := intruder.sign(t, "f1", "cid1", "", 1)
	if err := l.AddEntry(e, alwaysExists); err == nil {
		t.Fatal("expected Unauthorized for a non-writer author")
	}
}

func TestAddEntryRejectsBadSignature(t *testing.T) {
	l := feed.New()
	w := newWriter(t)
	l.CreateFeed("f1", feed.TypePost, []string{w.authorKey()}, 0)
	e := w.sign(t, "f1", "cid1", "", 1)
	e.Signature = e.Signature[:len(e.Signature)-2] + "00"
	if err := l.AddEntry(e, alwaysExists); err == nil {
		t.Fatal("expected InvalidSignature for a tampered signature")
	}
}

func TestAddEntrySetsRootCIDOnce(t *testing.T) {
	l := feed.New()
	w := newWriter(t)
	l.CreateFeed("f1", feed.TypePost, []string{w.authorKey()}, 0)

	e1 := w.sign(t, "f1", "cid1", "", 1)
	if err := l.AddEntry(e1, alwaysExists); err != nil {
		t.Fatalf("AddEntry 1: %v", err)
	}
	e2 := w.sign(t, "f1", "cid2", "cid1", 2)
	if err := l.AddEntry(e2, alwaysExists); err != nil {
		t.Fatalf("AddEntry 2: %v", err)
	}

	meta, ok := l.Metadata("f1")
	if !ok {
		t.Fatal("expected feed metadata to exist")
	}
	if meta.RootCID != "cid1" {
		t.Errorf("RootCID = %q, want cid1", meta.RootCID)
	}
	if meta.EntryCount != 2 {
		t.Errorf("EntryCount = %d, want 2", meta.EntryCount)
	}
}

func TestGetFeedEventsNewestFirst(t *testing.T) {
	l := feed.New()
	w := newWriter(t)
	l.CreateFeed("f1", feed.TypePost, []string{w.authorKey()}, 0)
	l.AddEntry(w.sign(t, "f1", "cid1", "", 1), alwaysExists)
	l.AddEntry(w.sign(t, "f1", "cid2", "cid1", 2), alwaysExists)

	page, err := l.GetFeedEvents("f1", 10, nil)
	if err != nil {
		t.Fatalf("GetFeedEvents: %v", err)
	}
	if len(page.Events) != 2 || page.Events[0].CID != "cid2" {
		t.Errorf("events = %+v, want cid2 first", page.Events)
	}
	if page.HasMore {
		t.Error("expected no more pages")
	}
}

func TestResolveForksEmptyFeed(t *testing.T) {
	l := feed.New()
	w := newWriter(t)
	l.CreateFeed("f1", feed.TypePost, []string{w.authorKey()}, 0)
	res, err := l.ResolveForks("f1")
	if err != nil {
		t.Fatalf("ResolveForks: %v", err)
	}
	if len(res.WinningChain) != 0 {
		t.Errorf("WinningChain = %v, want empty", res.WinningChain)
	}
}

func TestResolveForksPicksLongestBranch(t *testing.T) {
	l := feed.New()
	w := newWriter(t)
	l.CreateFeed("f1", feed.TypePost, []string{w.authorKey()}, 0)
	l.AddEntry(w.sign(t, "f1", "root", "", 1), alwaysExists)
	// branch A: root -> a1
	l.AddEntry(w.sign(t, "f1", "a1", "root", 2), alwaysExists)
	// branch B: root -> b1 -> b2 (longer)
	l.AddEntry(w.sign(t, "f1", "b1", "root", 2), alwaysExists)
	l.AddEntry(w.sign(t, "f1", "b2", "b1", 3), alwaysExists)

	res, err := l.ResolveForks("f1")
	if err != nil {
		t.Fatalf("ResolveForks: %v", err)
	}
	want := []string{"root", "b1", "b2"}
	if !equalSlices(res.WinningChain, want) {
		t.Errorf("WinningChain = %v, want %v", res.WinningChain, want)
	}
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestValidateFeedReportsNoErrorsForValidFeed(t *testing.T) {
	l := feed.New()
	w := newWriter(t)
	l.CreateFeed("f1", feed.TypePost, []string{w.authorKey()}, 0)
	l.AddEntry(w.sign(t, "f1", "cid1", "", 1), alwaysExists)

	res, err := l.ValidateFeed("f1")
	if err != nil {
		t.Fatalf("ValidateFeed: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Errorf("expected no errors on a freshly-built valid feed, got %v", res.Errors)
	}
}

func TestGetFeedBlobsReturnsAllReferencedCIDs(t *testing.T) {
	l := feed.New()
	w := newWriter(t)
	l.CreateFeed("f1", feed.TypePost, []string{w.authorKey()}, 0)
	l.AddEntry(w.sign(t, "f1", "cid1", "", 1), alwaysExists)
	l.AddEntry(w.sign(t, "f1", "cid2", "cid1", 2), alwaysExists)

	blobs, err := l.GetFeedBlobs("f1")
	if err != nil {
		t.Fatalf("GetFeedBlobs: %v", err)
	}
	if !equalSlices(blobs, []string{"cid1", "cid2"}) {
		t.Errorf("blobs = %v, want [cid1 cid2]", blobs)
	}
}
