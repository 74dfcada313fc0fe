package indexer_test

import (
	"testing"

	"github.com/zynqcloud/vaultnode/internal/indexer"
)

func seed(ix *indexer.Indexer) {
	ix.Add(indexer.Entry{CID: "c1", Type: indexer.TypePost, ThreadID: "t1", GuildID: "g1", Timestamp: 100, Size: 10})
	ix.Add(indexer.Entry{CID: "c2", Type: indexer.TypeComment, ThreadID: "t1", GuildID: "g1", ParentCID: "c1", Timestamp: 200, Size: 5})
	ix.Add(indexer.Entry{CID: "c3", Type: indexer.TypeMessage, ThreadID: "t2", GuildID: "g2", Timestamp: 300, Size: 20})
}

func TestQueryLatestNewestFirst(t *testing.T) {
	ix := indexer.New()
	seed(ix)
	p := ix.QueryLatest("", 10, nil)
	if len(p.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(p.Entries))
	}
	if p.Entries[0].CID != "c3" || p.Entries[1].CID != "c2" || p.Entries[2].CID != "c1" {
		t.Errorf("order = %v, want c3,c2,c1", p.Entries)
	}
	if p.HasMore {
		t.Error("expected no more pages")
	}
}

func TestQueryLatestFiltersByType(t *testing.T) {
	ix := indexer.New()
	seed(ix)
	p := ix.QueryLatest(indexer.TypePost, 10, nil)
	if len(p.Entries) != 1 || p.Entries[0].CID != "c1" {
		t.Errorf("got %v, want only c1", p.Entries)
	}
}

func TestQueryThread(t *testing.T) {
	ix := indexer.New()
	seed(ix)
	p := ix.QueryThread("t1", 10, nil)
	if len(p.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(p.Entries))
	}
}

func TestQueryGuildPosts(t *testing.T) {
	ix := indexer.New()
	seed(ix)
	p := ix.QueryGuildPosts("g1", 10, nil)
	if len(p.Entries) != 1 || p.Entries[0].CID != "c1" {
		t.Errorf("got %v, want only c1", p.Entries)
	}
}

func TestQueryComments(t *testing.T) {
	ix := indexer.New()
	seed(ix)
	p := ix.QueryComments("g1", "c1", 10, nil)
	if len(p.Entries) != 1 || p.Entries[0].CID != "c2" {
		t.Errorf("got %v, want only c2", p.Entries)
	}
}

func TestPaginationRespectsLimitAndCursor(t *testing.T) {
	ix := indexer.New()
	seed(ix)
	p1 := ix.QueryLatest("", 2, nil)
	if len(p1.Entries) != 2 || !p1.HasMore {
		t.Fatalf("page 1 = %+v, want 2 entries with HasMore", p1)
	}
	p2 := ix.QueryLatest("", 2, p1.Cursor)
	if len(p2.Entries) != 1 || p2.HasMore {
		t.Fatalf("page 2 = %+v, want 1 entry, no more", p2)
	}
	if p2.Entries[0].CID != "c1" {
		t.Errorf("page 2 entry = %s, want c1", p2.Entries[0].CID)
	}
}

func TestRemoveDropsFromAllViews(t *testing.T) {
	ix := indexer.New()
	seed(ix)
	ix.Remove("c1")
	p := ix.QueryLatest("", 10, nil)
	for _, e := range p.Entries {
		if e.CID == "c1" {
			t.Fatal("expected c1 to be removed from the latest view")
		}
	}
	pt := ix.QueryThread("t1", 10, nil)
	for _, e := range pt.Entries {
		if e.CID == "c1" {
			t.Fatal("expected c1 to be removed from the thread view")
		}
	}
}

func TestQueryThreadDeltaReturnsOnlyNewerEntries(t *testing.T) {
	ix := indexer.New()
	seed(ix)
	d := ix.QueryThreadDelta("t1", 100, 1000)
	if d.Count != 1 || d.NewEntries[0].CID != "c2" {
		t.Errorf("delta = %+v, want only c2", d)
	}
	if d.SinceTimestamp != 100 || d.CurrentTimestamp != 1000 {
		t.Errorf("delta timestamps = %+v", d)
	}
}

func TestQueryUnknownThreadIsEmpty(t *testing.T) {
	ix := indexer.New()
	p := ix.QueryThread("nope", 10, nil)
	if len(p.Entries) != 0 || p.HasMore {
		t.Errorf("got %+v, want empty page", p)
	}
}
