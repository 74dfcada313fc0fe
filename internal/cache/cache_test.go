package cache_test

import (
	"bytes"
	"testing"

	"github.com/zynqcloud/vaultnode/internal/cache"
)

func TestGetMissOnEmptyCache(t *testing.T) {
	c := cache.New(1024)
	if _, ok := c.Get("missing"); ok {
		t.Error("expected a miss on an empty cache")
	}
}

func TestSetAndGetRoundTrip(t *testing.T) {
	c := cache.New(1024)
	want := []byte("blob-bytes")
	if !c.Set("k", want) {
		t.Fatal("Set returned false")
	}
	got, ok := c.Get("k")
	if !ok {
		t.Fatal("expected a hit")
	}
	if !bytes.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestZeroCapacityDisablesInserts(t *testing.T) {
	c := cache.New(0)
	if c.Set("k", []byte("x")) {
		t.Error("Set on a zero-capacity cache should fail")
	}
	if _, ok := c.Get("k"); ok {
		t.Error("Get on a zero-capacity cache should always miss")
	}
}

func TestRefusesItemOverTenPercentOfCapacity(t *testing.T) {
	c := cache.New(100)
	if c.Set("big", make([]byte, 11)) {
		t.Error("expected Set to refuse an item > 10% of capacity")
	}
	if c.Set("ok", make([]byte, 10)) {
		// exactly 10% is also over the "> 10%" bound only when size > max/10;
		// 10 is not > 10, so this must succeed.
	} else {
		t.Error("expected Set to accept an item at exactly 10% of capacity")
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := cache.New(30)
	c.Set("a", make([]byte, 10))
	c.Set("b", make([]byte, 10))
	c.Set("c", make([]byte, 10))
	// cache now full at 30/30. Touch "a" so "b" becomes the LRU entry.
	c.Get("a")
	c.Set("d", make([]byte, 10))

	if _, ok := c.Get("b"); ok {
		t.Error("expected \"b\" to have been evicted as least-recently-used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("expected \"a\" to survive eviction after being touched")
	}
	if _, ok := c.Get("d"); !ok {
		t.Error("expected \"d\" to be present after insert")
	}
}

func TestStatsNeverExceedMax(t *testing.T) {
	c := cache.New(50)
	for i := 0; i < 10; i++ {
		c.Set(string(rune('a'+i)), make([]byte, 10))
	}
	st := c.Stats()
	if st.UsedBytes > st.MaxBytes {
		t.Errorf("UsedBytes %d exceeds MaxBytes %d", st.UsedBytes, st.MaxBytes)
	}
}

func TestClear(t *testing.T) {
	c := cache.New(1024)
	c.Set("k", []byte("v"))
	c.Clear()
	if _, ok := c.Get("k"); ok {
		t.Error("expected cache to be empty after Clear")
	}
	if st := c.Stats(); st.UsedBytes != 0 || st.Entries != 0 {
		t.Errorf("Stats after Clear = %+v, want zero", st)
	}
}
