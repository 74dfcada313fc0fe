// Package proof implements the Ed25519 storage-proof protocol: a node
// proves it holds a CID at a given hour by signing a challenge derived
// from the CID and the hour bucket.
package proof

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zynqcloud/vaultnode/internal/reputation"
	"github.com/zynqcloud/vaultnode/internal/vaulterr"
)

const (
	hourSeconds   = 3600
	maxAgeSeconds = 3600
	maxFuture     = 300
)

// StorageProof is the signed assertion that a node held cid at timestamp.
type StorageProof struct {
	CID       string `json:"cid"`
	NodeID    string `json:"nodeId"`
	Timestamp int64  `json:"timestamp"`
	Challenge string `json:"challenge"`
	Signature string `json:"signature"`
	PublicKey string `json:"publicKey"`
}

// keyFile is the on-disk representation of node-key.json.
type keyFile struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
	Generated  int64  `json:"generated"`
}

// BlobExistsFunc reports whether a CID is stored locally. Wired to the
// blob store; kept as a function value to avoid an import cycle.
type BlobExistsFunc func(cid string) bool

// Service generates and verifies storage proofs and persists proof
// snapshots to <dir>/proofs/. The keypair file is read once at init and
// treated as read-only thereafter.
type Service struct {
	dir        string
	nodeID     string
	pub        ed25519.PublicKey
	priv       ed25519.PrivateKey
	blobExists BlobExistsFunc
	reputation *reputation.Tracker
	logger     *slog.Logger
}

// New loads <dir>/node-key.json, generating a fresh Ed25519 keypair on
// first run, and returns a ready Service.
func New(dir string, blobExists BlobExistsFunc, rep *reputation.Tracker, logger *slog.Logger) (*Service, error) {
	if err := os.MkdirAll(filepath.Join(dir, "proofs"), 0o750); err != nil {
		return nil, fmt.Errorf("proof: mkdir proofs dir: %w", err)
	}

	keyPath := filepath.Join(dir, "node-key.json")
	data, err := os.ReadFile(keyPath)
	var kf keyFile
	if err == nil {
		if err := json.Unmarshal(data, &kf); err != nil {
			return nil, fmt.Errorf("proof: parse node-key.json: %w", err)
		}
	} else if os.IsNotExist(err) {
		pub, priv, genErr := ed25519.GenerateKey(rand.Reader)
		if genErr != nil {
			return nil, fmt.Errorf("proof: generate keypair: %w", genErr)
		}
		kf = keyFile{
			PublicKey:  hex.EncodeToString(pub),
			PrivateKey: hex.EncodeToString(priv),
			Generated:  time.Now().Unix(),
		}
		raw, marshalErr := json.MarshalIndent(kf, "", "  ")
		if marshalErr != nil {
			return nil, fmt.Errorf("proof: marshal node-key.json: %w", marshalErr)
		}
		if err := os.WriteFile(keyPath, raw, 0o600); err != nil {
			return nil, fmt.Errorf("proof: persist node-key.json: %w", err)
		}
		logger.Info("generated fresh node keypair", "path", keyPath)
	} else {
		return nil, fmt.Errorf("proof: read node-key.json: %w", err)
	}

	pub, err := hex.DecodeString(kf.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("proof: decode public key: %w", err)
	}
	priv, err := hex.DecodeString(kf.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("proof: decode private key: %w", err)
	}

	return &Service{
		dir:        dir,
		nodeID:     kf.PublicKey,
		pub:        ed25519.PublicKey(pub),
		priv:       ed25519.PrivateKey(priv),
		blobExists: blobExists,
		reputation: rep,
		logger:     logger,
	}, nil
}

// NodeID returns this node's opaque identity, derived from its public key.
func (s *Service) NodeID() string { return s.nodeID }

// PublicKey returns the hex-encoded Ed25519 public key.
func (s *Service) PublicKey() string { return hex.EncodeToString(s.pub) }

// Challenge derives the hourly challenge for cid at the given unix time.
// challenge = SHA256(cid_bytes || ascii(floor(ts/3600)*3600))
func Challenge(cid string, ts int64) string {
	hourTs := (ts / hourSeconds) * hourSeconds
	h := sha256.New()
	h.Write([]byte(cid))
	h.Write([]byte(strconv.FormatInt(hourTs, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// signingData builds the bytes that get signed: SHA256(cid || challenge || nodeId).
func signingData(cid, challenge, nodeID string) []byte {
	h := sha256.New()
	h.Write([]byte(cid))
	h.Write([]byte(challenge))
	h.Write([]byte(nodeID))
	return h.Sum(nil)
}

// Generate produces a StorageProof for cid, which must exist locally.
func (s *Service) Generate(cid string) (StorageProof, error) {
	if s.blobExists != nil && !s.blobExists(cid) {
		if s.reputation != nil {
			s.reputation.ApplyPenalty(s.nodeID, reputation.EventProofFailure, cid)
		}
		return StorageProof{}, vaulterr.New(vaulterr.KindBlobNotFound, "cannot prove a blob not held locally")
	}

	now := time.Now().Unix()
	challenge := Challenge(cid, now)
	sig := ed25519.Sign(s.priv, signingData(cid, challenge, s.nodeID))

	sp := StorageProof{
		CID:       cid,
		NodeID:    s.nodeID,
		Timestamp: now,
		Challenge: challenge,
		Signature: hex.EncodeToString(sig),
		PublicKey: s.PublicKey(),
	}

	if err := s.persist(sp); err != nil {
		s.logger.Warn("proof: failed to persist snapshot", "cid", cid, "err", err)
	}
	if s.reputation != nil {
		s.reputation.ApplyReward(s.nodeID, reputation.EventProofSuccess, cid)
	}
	return sp, nil
}

func (s *Service) persist(sp StorageProof) error {
	hourTs := (sp.Timestamp / hourSeconds) * hourSeconds
	path := filepath.Join(s.dir, "proofs", fmt.Sprintf("%s-%d.json", sp.CID, hourTs))
	raw, err := json.Marshal(sp)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o640)
}

// Verify checks a proof's signature and freshness against expectedPublicKey.
func Verify(sp StorageProof, expectedPublicKey string, now time.Time) (bool, string) {
	pubBytes, err := hex.DecodeString(expectedPublicKey)
	if err != nil {
		return false, "invalid public key encoding"
	}
	sigBytes, err := hex.DecodeString(sp.Signature)
	if err != nil {
		return false, "invalid signature encoding"
	}

	data := signingData(sp.CID, sp.Challenge, sp.NodeID)
	if !ed25519.Verify(ed25519.PublicKey(pubBytes), data, sigBytes) {
		return false, "Invalid signature"
	}

	nowUnix := now.Unix()
	if nowUnix-sp.Timestamp > maxAgeSeconds {
		return false, "too old"
	}
	if sp.Timestamp-nowUnix > maxFuture {
		return false, "future"
	}
	return true, ""
}

// IsFresh reports whether a proof timestamp falls within the freshness
// window relative to now: -300s <= now - timestamp <= 3600s.
func IsFresh(timestamp int64, now time.Time) bool {
	delta := now.Unix() - timestamp
	return delta >= -maxFuture && delta <= maxAgeSeconds
}

// CleanupOldProofs removes proof snapshot files whose embedded hour
// timestamp predates now - retentionHours*hour.
func (s *Service) CleanupOldProofs(retentionHours int) (removed int, err error) {
	dir := filepath.Join(s.dir, "proofs")
	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return 0, nil
		}
		return 0, readErr
	}

	cutoff := time.Now().Add(-time.Duration(retentionHours) * time.Hour).Unix()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ts, ok := parseHourTsFromProofFilename(e.Name())
		if !ok || ts >= cutoff {
			continue
		}
		if rmErr := os.Remove(filepath.Join(dir, e.Name())); rmErr == nil {
			removed++
		}
	}
	return removed, nil
}

// parseHourTsFromProofFilename extracts the hour timestamp embedded in a
// "<cid>-<hourTs>.json" proof filename.
func parseHourTsFromProofFilename(name string) (int64, bool) {
	name = strings.TrimSuffix(name, ".json")
	idx := strings.LastIndexByte(name, '-')
	if idx < 0 {
		return 0, false
	}
	ts, err := strconv.ParseInt(name[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
