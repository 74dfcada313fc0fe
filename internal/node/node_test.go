package node_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/zynqcloud/vaultnode/internal/config"
	"github.com/zynqcloud/vaultnode/internal/metrics"
	"github.com/zynqcloud/vaultnode/internal/node"
	"github.com/zynqcloud/vaultnode/internal/registry"
	"github.com/zynqcloud/vaultnode/internal/replication"
	"github.com/zynqcloud/vaultnode/internal/vaulterr"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// baseConfig returns a config.Config ready for node.New in a temp
// directory, with replication disabled so tests don't wait on the 2s
// best-effort window.
func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("", discardLogger())
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.DataDir = t.TempDir()
	cfg.Environment = "test"
	cfg.PublicKey = "test-public-key"
	cfg.ReplicationEnabled = false
	cfg.ReplicationFactor = 0
	return cfg
}

func newTestNode(t *testing.T, cfg *config.Config, reg registry.Registry) *node.Node {
	t.Helper()
	n, err := node.New(cfg, reg, metrics.New(), discardLogger())
	if err != nil {
		t.Fatalf("node.New: %v", err)
	}
	return n
}

func TestAdmitNodeNotConfigured(t *testing.T) {
	reg := registry.NewStatic(nil, nil, "")
	cfg := baseConfig(t)
	cfg.PublicKey = ""
	n := newTestNode(t, cfg, reg)

	err := n.Admit(context.Background(), node.StoreOptions{})
	if kind, ok := vaulterr.As(err); !ok || kind != vaulterr.KindNodeNotConfigured {
		t.Fatalf("Admit with no publicKey = %v, want KindNodeNotConfigured", err)
	}
}

func TestAdmitNodeNotRegistered(t *testing.T) {
	reg := registry.NewStatic(nil, nil, "") // "test-public-key" is not active
	n := newTestNode(t, baseConfig(t), reg)

	err := n.Admit(context.Background(), node.StoreOptions{})
	if kind, ok := vaulterr.As(err); !ok || kind != vaulterr.KindNodeNotRegistered {
		t.Fatalf("Admit for an unregistered node = %v, want KindNodeNotRegistered", err)
	}
}

func TestAdmitForbiddenWhenAppRegistryRequired(t *testing.T) {
	reg := registry.NewStatic([]string{"test-public-key"}, nil, "")
	cfg := baseConfig(t)
	cfg.RequireAppRegistry = true
	n := newTestNode(t, cfg, reg)

	err := n.Admit(context.Background(), node.StoreOptions{AppID: "app1", Sender: "mallory"})
	if kind, ok := vaulterr.As(err); !ok || kind != vaulterr.KindForbidden {
		t.Fatalf("Admit with an unauthorized sender = %v, want KindForbidden", err)
	}

	reg.Authorize("app1", "alice", true)
	if err := n.Admit(context.Background(), node.StoreOptions{AppID: "app1", Sender: "alice"}); err != nil {
		t.Fatalf("Admit with an authorized sender = %v, want nil", err)
	}
}

func TestAdmitContentTypeAndGuildFilters(t *testing.T) {
	reg := registry.NewStatic([]string{"test-public-key"}, nil, "")
	cfg := baseConfig(t)
	cfg.ContentFilter.Types = []string{"message"}
	cfg.ContentFilter.BlockedGuilds = []string{"banned-guild"}
	cfg.ContentFilter.AllowedGuilds = []string{"ok-guild"}
	n := newTestNode(t, cfg, reg)

	if err := n.Admit(context.Background(), node.StoreOptions{ContentType: "attachment"}); err == nil {
		t.Fatal("expected a rejected content type to fail admission")
	} else if kind, _ := vaulterr.As(err); kind != vaulterr.KindContentTypeRejected {
		t.Fatalf("content-type rejection kind = %v, want ContentTypeRejected", kind)
	}

	if err := n.Admit(context.Background(), node.StoreOptions{ContentType: "message", GuildID: "banned-guild"}); err == nil {
		t.Fatal("expected a blocked guild to fail admission")
	} else if kind, _ := vaulterr.As(err); kind != vaulterr.KindGuildBlocked {
		t.Fatalf("blocked-guild kind = %v, want GuildBlocked", kind)
	}

	if err := n.Admit(context.Background(), node.StoreOptions{ContentType: "message", GuildID: "some-other-guild"}); err == nil {
		t.Fatal("expected a guild missing from the allow list to fail admission")
	} else if kind, _ := vaulterr.As(err); kind != vaulterr.KindGuildBlocked {
		t.Fatalf("not-allowed-guild kind = %v, want GuildBlocked", kind)
	}

	if err := n.Admit(context.Background(), node.StoreOptions{ContentType: "message", GuildID: "ok-guild"}); err != nil {
		t.Fatalf("Admit for an allowed guild/content-type = %v, want nil", err)
	}
}

func TestStoreAndRetrieveRoundTrip(t *testing.T) {
	reg := registry.NewStatic([]string{"test-public-key"}, nil, "")
	n := newTestNode(t, baseConfig(t), reg)

	ciphertext := []byte("Hello World")
	res, err := n.Store(context.Background(), ciphertext, "application/octet-stream", node.StoreOptions{})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, meta, err := n.Retrieve(res.CID)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if string(got) != string(ciphertext) {
		t.Errorf("Retrieve returned %q, want %q", got, ciphertext)
	}
	if meta.CID != res.CID {
		t.Errorf("metadata CID = %q, want %q", meta.CID, res.CID)
	}
}

func TestRetrieveBannedBlob(t *testing.T) {
	reg := registry.NewStatic([]string{"test-public-key"}, nil, "")
	n := newTestNode(t, baseConfig(t), reg)

	res, err := n.Store(context.Background(), []byte("secret"), "application/octet-stream", node.StoreOptions{})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := n.Ban(res.CID); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	if _, _, err := n.Retrieve(res.CID); err == nil {
		t.Fatal("expected Retrieve of a banned blob to fail")
	} else if kind, _ := vaulterr.As(err); kind != vaulterr.KindBlobBanned {
		t.Fatalf("banned-retrieve kind = %v, want KindBlobBanned", kind)
	}

	if err := n.Unban(res.CID); err != nil {
		t.Fatalf("Unban: %v", err)
	}
	if _, _, err := n.Retrieve(res.CID); err != nil {
		t.Fatalf("Retrieve after Unban = %v, want nil", err)
	}
}

func TestAcceptReplicateRejectsCIDMismatch(t *testing.T) {
	reg := registry.NewStatic([]string{"test-public-key"}, nil, "")
	n := newTestNode(t, baseConfig(t), reg)

	_, err := n.AcceptReplicate(context.Background(), replication.ReplicateRequest{
		CID:        "not-the-real-cid",
		Ciphertext: []byte("payload"),
		MimeType:   "application/octet-stream",
		FromPeer:   "http://peer",
	})
	if kind, ok := vaulterr.As(err); !ok || kind != vaulterr.KindCIDMismatch {
		t.Fatalf("AcceptReplicate with a mismatched CID = %v, want KindCIDMismatch", err)
	}
}

func TestAcceptReplicateIdempotent(t *testing.T) {
	reg := registry.NewStatic([]string{"test-public-key"}, nil, "")
	n := newTestNode(t, baseConfig(t), reg)

	ciphertext := []byte("replicated payload")
	res, err := n.Store(context.Background(), ciphertext, "application/octet-stream", node.StoreOptions{})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	alreadyStored, err := n.AcceptReplicate(context.Background(), replication.ReplicateRequest{
		CID:        res.CID,
		Ciphertext: ciphertext,
		MimeType:   "application/octet-stream",
		FromPeer:   "http://peer",
	})
	if err != nil {
		t.Fatalf("AcceptReplicate: %v", err)
	}
	if !alreadyStored {
		t.Error("expected alreadyStored = true for a CID already held locally")
	}
}
