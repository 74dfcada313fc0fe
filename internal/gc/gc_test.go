package gc_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/zynqcloud/vaultnode/internal/blobstore"
	"github.com/zynqcloud/vaultnode/internal/cidcodec"
	"github.com/zynqcloud/vaultnode/internal/gc"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestStore(t *testing.T) *blobstore.Store {
	t.Helper()
	s, err := blobstore.New(blobstore.Config{DataDir: t.TempDir(), CacheBytes: 1 << 20}, discardLogger())
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	return s
}

func storeBlob(t *testing.T, s *blobstore.Store, content string) string {
	t.Helper()
	ct := []byte(content)
	cid := cidcodec.CID(ct)
	if _, err := s.StoreBlob(cid, ct, "text/plain", blobstore.StoreOptions{}); err != nil {
		t.Fatalf("StoreBlob: %v", err)
	}
	return cid
}

func TestRunGCSkipsPinnedBlobs(t *testing.T) {
	s := newTestStore(t)
	cid := storeBlob(t, s, "pin me please")
	if _, err := s.Pin(cid); err != nil {
		t.Fatalf("Pin: %v", err)
	}

	collector := gc.New(s, gc.Config{
		Mode:             gc.ModeSize,
		MaxStorageBytes:  1,
		RequiredReplicas: 1,
		Logger:           discardLogger(),
	})

	res, err := collector.RunGC(context.Background(), false)
	if err != nil {
		t.Fatalf("RunGC: %v", err)
	}
	if res.Deleted != 0 || res.SkippedPinned != 1 {
		t.Errorf("res = %+v, want 0 deleted and 1 skippedPinned", res)
	}
	if !s.Exists(cid) {
		t.Fatal("expected pinned blob to survive GC")
	}
}

func TestRunGCDeletesUnderStorageCapPressure(t *testing.T) {
	s := newTestStore(t)
	cid := storeBlob(t, s, "not pinned, evict me when over cap")

	collector := gc.New(s, gc.Config{
		Mode:             gc.ModeSize,
		MaxStorageBytes:  1,
		RequiredReplicas: 1,
		Logger:           discardLogger(),
	})

	res, err := collector.RunGC(context.Background(), false)
	if err != nil {
		t.Fatalf("RunGC: %v", err)
	}
	if res.Deleted != 1 {
		t.Fatalf("res = %+v, want 1 deleted", res)
	}
	if s.Exists(cid) {
		t.Fatal("expected blob to be deleted once over the storage cap")
	}
}

func TestRunGCSimulateDoesNotDelete(t *testing.T) {
	s := newTestStore(t)
	cid := storeBlob(t, s, "simulate only")

	collector := gc.New(s, gc.Config{
		Mode:            gc.ModeSize,
		MaxStorageBytes: 1,
		Logger:          discardLogger(),
	})

	res, err := collector.RunGC(context.Background(), true)
	if err != nil {
		t.Fatalf("RunGC: %v", err)
	}
	if res.Deleted != 1 || !res.Simulate {
		t.Errorf("res = %+v, want 1 simulated deletion", res)
	}
	if !s.Exists(cid) {
		t.Fatal("expected blob to survive a simulated pass")
	}
}

func TestRunGCRespectsReplicationSafety(t *testing.T) {
	s := newTestStore(t)
	cid := storeBlob(t, s, "needs replicas before deletion")
	if err := s.SetReplicatedTo(cid, []string{"peer-a"}, "", time.Now().UnixMilli()); err != nil {
		t.Fatalf("SetReplicatedTo: %v", err)
	}

	collector := gc.New(s, gc.Config{
		Mode:             gc.ModeSize,
		MaxStorageBytes:  1,
		RequiredReplicas: 2,
		CheckReplica: func(ctx context.Context, nodeID, c string) bool {
			return false // no active replicas
		},
		Logger: discardLogger(),
	})

	res, err := collector.RunGC(context.Background(), false)
	if err != nil {
		t.Fatalf("RunGC: %v", err)
	}
	if res.Deleted != 0 {
		t.Errorf("expected deletion to be blocked by insufficient active replicas, got %+v", res)
	}
	if !s.Exists(cid) {
		t.Fatal("expected blob to survive when replication safety check fails")
	}
}

func TestRunGCAllowsDeletionWithSufficientReplicas(t *testing.T) {
	s := newTestStore(t)
	cid := storeBlob(t, s, "has enough replicas")
	if err := s.SetReplicatedTo(cid, []string{"peer-a", "peer-b"}, "", time.Now().UnixMilli()); err != nil {
		t.Fatalf("SetReplicatedTo: %v", err)
	}

	collector := gc.New(s, gc.Config{
		Mode:             gc.ModeSize,
		MaxStorageBytes:  1,
		RequiredReplicas: 1,
		CheckReplica: func(ctx context.Context, nodeID, c string) bool {
			return nodeID == "peer-a"
		},
		Logger: discardLogger(),
	})

	res, err := collector.RunGC(context.Background(), false)
	if err != nil {
		t.Fatalf("RunGC: %v", err)
	}
	if res.Deleted != 1 {
		t.Errorf("expected deletion once a required replica is confirmed active, got %+v", res)
	}
}

func TestConcurrentRunGCRejectsReentry(t *testing.T) {
	s := newTestStore(t)
	storeBlob(t, s, "blob one")

	started := make(chan struct{})
	release := make(chan struct{})
	collector := gc.New(s, gc.Config{
		Mode: gc.ModeSize,
		CheckReplica: func(ctx context.Context, nodeID, c string) bool {
			close(started)
			<-release
			return true
		},
		RequiredReplicas: 1,
		MaxStorageBytes:  1,
		Logger:           discardLogger(),
	})
	// SetReplicatedTo is required so CheckReplica is actually invoked as
	// the blocking point for this test.
	all, _ := s.ListAll()
	for _, m := range all {
		s.SetReplicatedTo(m.CID, []string{"peer-a"}, "", time.Now().UnixMilli())
	}

	done := make(chan error, 1)
	go func() {
		_, err := collector.RunGC(context.Background(), false)
		done <- err
	}()
	<-started

	if _, err := collector.RunGC(context.Background(), false); err == nil {
		t.Fatal("expected re-entrant RunGC to fail with GcAlreadyRunning")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first RunGC: %v", err)
	}
}

func TestDeleteSingleBlobRespectsPin(t *testing.T) {
	s := newTestStore(t)
	cid := storeBlob(t, s, "pinned single delete")
	if _, err := s.Pin(cid); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	collector := gc.New(s, gc.Config{Logger: discardLogger()})
	if err := collector.DeleteSingleBlob(context.Background(), cid, true); err == nil {
		t.Fatal("expected DeleteSingleBlob to refuse a pinned blob even with force=true")
	}
}

func TestDeleteSingleBlobForceBypassesReplicationCheck(t *testing.T) {
	s := newTestStore(t)
	cid := storeBlob(t, s, "force delete me")
	collector := gc.New(s, gc.Config{
		RequiredReplicas: 5,
		CheckReplica:     func(ctx context.Context, nodeID, c string) bool { return false },
		Logger:           discardLogger(),
	})
	if err := collector.DeleteSingleBlob(context.Background(), cid, true); err != nil {
		t.Fatalf("DeleteSingleBlob with force: %v", err)
	}
	if s.Exists(cid) {
		t.Fatal("expected forced delete to remove the blob")
	}
}

func TestForcePurgeAllSkipsPinned(t *testing.T) {
	s := newTestStore(t)
	pinned := storeBlob(t, s, "stays pinned")
	unpinned := storeBlob(t, s, "goes away")
	if _, err := s.Pin(pinned); err != nil {
		t.Fatalf("Pin: %v", err)
	}

	collector := gc.New(s, gc.Config{Logger: discardLogger()})
	res, err := collector.ForcePurgeAll(context.Background())
	if err != nil {
		t.Fatalf("ForcePurgeAll: %v", err)
	}
	if res.Deleted != 1 || res.SkippedPinned != 1 {
		t.Errorf("res = %+v, want 1 deleted and 1 skipped", res)
	}
	if !s.Exists(pinned) {
		t.Fatal("expected pinned blob to survive ForcePurgeAll")
	}
	if s.Exists(unpinned) {
		t.Fatal("expected unpinned blob to be purged")
	}
}
