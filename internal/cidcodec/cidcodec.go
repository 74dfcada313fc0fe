// Package cidcodec computes and verifies content identifiers and the
// HMAC integrity hashes that bind metadata to its blob.
//
// A CID is the lowercase hex SHA-256 of a ciphertext. Binding metadata to
// a CID with an HMAC keyed by the CID itself means copying tampered
// metadata from one CID onto another always fails verification.
package cidcodec

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/zynqcloud/vaultnode/internal/vaulterr"
)

const metaHashKeyPrefix = "vault-meta-"
const replHashKeyPrefix = "vault-repl-"

// CID returns the lowercase hex SHA-256 of ciphertext.
func CID(ciphertext []byte) string {
	sum := sha256.Sum256(ciphertext)
	return hex.EncodeToString(sum[:])
}

// VerifyCID reports whether cid is the content identifier of ciphertext.
// The comparison is case-insensitive.
func VerifyCID(cid string, ciphertext []byte) bool {
	return strings.EqualFold(cid, CID(ciphertext))
}

// DecodeCiphertext strictly decodes standard base64 input, rejecting any
// byte outside the base64 alphabet. This replaces the lenient decode the
// original implementation relied on (see SPEC_FULL.md Open Questions).
func DecodeCiphertext(b64 string) ([]byte, error) {
	// StdEncoding silently skips CR and LF, so reject them up front.
	if strings.ContainsAny(b64, "\r\n") {
		return nil, vaulterr.New(vaulterr.KindInvalidRequest, "invalid base64 ciphertext: contains line breaks")
	}
	b, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.KindInvalidRequest, "invalid base64 ciphertext", err)
	}
	return b, nil
}

// MetaHash computes the HMAC-SHA256 integrity hash for a blob's metadata.
// Key = "vault-meta-" + cid. Data = cid|size|mimeType|createdAt|pinned.
func MetaHash(cid string, size int64, mimeType string, createdAt int64, pinned bool) string {
	mac := hmac.New(sha256.New, []byte(metaHashKeyPrefix+cid))
	fmt.Fprintf(mac, "%s|%d|%s|%d|%t", cid, size, mimeType, createdAt, pinned)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyReason is the result of a metadata integrity check.
type VerifyReason string

const (
	ReasonOK           VerifyReason = "ok"
	ReasonLegacyNoHash VerifyReason = "legacy_no_hash"
	ReasonMismatch     VerifyReason = "hash_mismatch"
)

// VerifyMetaFields verifies the integrityHash over the fields that feed it.
func VerifyMetaFields(cid string, size int64, mimeType string, createdAt int64, pinned bool, integrityHash string) (bool, VerifyReason) {
	if integrityHash == "" {
		return false, ReasonLegacyNoHash
	}
	want := MetaHash(cid, size, mimeType, createdAt, pinned)
	if hmac.Equal([]byte(want), []byte(integrityHash)) {
		return true, ReasonOK
	}
	return false, ReasonMismatch
}

// ReplicationStateHash computes an HMAC over the sorted confirmedNodes set
// plus the other ReplicationState fields, so it is permutation-invariant
// over the node set. complete is derived here (never trusted from a
// caller) so the hash can never attest to an inconsistent state.
func ReplicationStateHash(cid string, replicationFactor int, confirmedNodes []string) string {
	sorted := append([]string(nil), confirmedNodes...)
	sort.Strings(sorted)
	complete := len(sorted) >= replicationFactor

	mac := hmac.New(sha256.New, []byte(replHashKeyPrefix+cid))
	fmt.Fprintf(mac, "%s|%d|%s|%t", cid, replicationFactor, strings.Join(sorted, ","), complete)
	return hex.EncodeToString(mac.Sum(nil))
}
